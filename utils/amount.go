package utils

import (
	"fmt"
	"math/big"
)

// onChainScale converts 6-decimal on-chain units to 2-decimal cents.
var onChainScale = big.NewInt(10_000)

// ToCents converts a 6-decimal fixed-point on-chain amount to USDT cents,
// rounding down. Amounts beyond int64 cents are clamped to the maximum; the
// contract caps wagers far below that.
func ToCents(raw *big.Int) int64 {
	if raw == nil || raw.Sign() <= 0 {
		return 0
	}

	cents := new(big.Int).Quo(raw, onChainScale)
	if !cents.IsInt64() {
		return 1<<63 - 1
	}
	return cents.Int64()
}

// FormatCents renders cents as a plain decimal string, e.g. 12345 -> "123.45".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
