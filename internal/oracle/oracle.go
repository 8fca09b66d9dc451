package oracle

import (
	"context"

	"github.com/shopspring/decimal"
)

// Asset names a tracked cryptocurrency.
type Asset string

const (
	AssetETH   Asset = "eth"
	AssetMATIC Asset = "matic"
	AssetBTC   Asset = "btc"
)

// PriceFetcher retrieves the current USD spot price for an asset.
type PriceFetcher interface {
	FetchUSDPrice(ctx context.Context, asset Asset) (decimal.Decimal, error)
}
