package httpapi

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// parseRawAmount parses a base-10 integer in the token's smallest unit.
// Values must be positive and fit in a uint256.
func parseRawAmount(s string) (*big.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return nil, badRequest(fmt.Sprintf("sellAmount must be a base-10 uint256: %v", err))
	}
	if v.IsZero() {
		return nil, badRequest("sellAmount must be greater than zero")
	}
	return v.ToBig(), nil
}

// parseHumanAmount converts a decimal amount like "1.5" to smallest units
func parseHumanAmount(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, badRequest(fmt.Sprintf("amount must be a decimal number: %v", err))
	}
	if !d.IsPositive() {
		return nil, badRequest("amount must be greater than zero")
	}

	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, badRequest(fmt.Sprintf("amount has more than %d decimal places", decimals))
	}
	raw := scaled.BigInt()
	if _, overflow := uint256.FromBig(raw); overflow {
		return nil, badRequest("amount is too large")
	}
	return raw, nil
}

// formatAmount renders smallest units as a decimal string with trailing
// zeros trimmed
func formatAmount(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}
