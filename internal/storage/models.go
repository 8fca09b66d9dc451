package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Chain names the asset an alert watches.
type Chain string

const (
	ChainETH   Chain = "eth"
	ChainMATIC Chain = "matic"
)

// Valid reports whether the chain is one of the supported assets.
func (c Chain) Valid() bool {
	return c == ChainETH || c == ChainMATIC
}

// PriceSample represents one persisted sampling cycle. Immutable once written.
type PriceSample struct {
	ID         int64
	Timestamp  time.Time
	ETHPrice   decimal.Decimal
	MATICPrice decimal.Decimal
	CreatedAt  time.Time
}

// PriceAlert captures a user's price target. IsTriggered flips false→true
// exactly once; rows are retained afterwards as an audit trail.
type PriceAlert struct {
	ID          int64
	Chain       Chain
	TargetPrice decimal.Decimal
	Email       string
	IsTriggered bool
	CreatedAt   time.Time
	TriggeredAt *time.Time
}
