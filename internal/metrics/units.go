package metrics

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const gweiDecimals = 9

// WeiToGwei converts a wei amount to gwei for display.
func WeiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	return decimal.NewFromBigInt(wei, -gweiDecimals).InexactFloat64()
}

// roundTo rounds v to places decimal places, half away from zero.
func roundTo(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
