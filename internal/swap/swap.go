// Package swap derives BTC-denominated quotes for ETH amounts. Pure
// computation, no I/O.
package swap

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput marks a non-positive amount or price.
var ErrInvalidInput = errors.New("swap: amount and prices must be positive")

// feeRate is the ETH-denominated fee charged on a swap.
var feeRate = decimal.NewFromFloat(0.03)

// Output rounding is part of the wire contract and must not change.
const (
	btcPlaces    = 8
	feeEthPlaces = 18
	feeUsdPlaces = 2
)

// Quote is a derived conversion of an ETH amount, with fee. Never persisted.
type Quote struct {
	BTCAmount decimal.Decimal
	FeeETH    decimal.Decimal
	FeeUSD    decimal.Decimal
}

// Calculate converts an ETH amount into a BTC quote at the given USD prices.
func Calculate(ethAmount, ethPriceUSD, btcPriceUSD decimal.Decimal) (Quote, error) {
	if ethAmount.Sign() <= 0 || ethPriceUSD.Sign() <= 0 || btcPriceUSD.Sign() <= 0 {
		return Quote{}, ErrInvalidInput
	}

	ethValueUSD := ethAmount.Mul(ethPriceUSD)
	btcAmount := ethValueUSD.Div(btcPriceUSD)
	feeEth := ethAmount.Mul(feeRate)
	feeUsd := feeEth.Mul(ethPriceUSD)

	return Quote{
		BTCAmount: btcAmount.Round(btcPlaces),
		FeeETH:    feeEth.Round(feeEthPlaces),
		FeeUSD:    feeUsd.Round(feeUsdPlaces),
	}, nil
}
