// Package money converts between decimal major-unit amounts and the integer
// minor units (cents) that wallets and transactions are stored in.
package money

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is the single settlement currency every wallet is held in.
const Currency = "KES"

const centsPerUnit = 100

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidRate   = errors.New("invalid exchange rate")

	// ErrAmountOutOfRange is returned when a cent value does not fit in int64.
	ErrAmountOutOfRange = errors.New("amount out of range")
)

var (
	hundred  = decimal.NewFromInt(centsPerUnit)
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// ParseAmount parses a positive major-unit amount such as "100" or "99.95".
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseRate parses a positive exchange rate.
func ParseRate(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !d.IsPositive() {
		return decimal.Zero, ErrInvalidRate
	}
	return d, nil
}

// ToCents rounds a major-unit amount to the nearest cent. Amounts whose cent
// value cannot be held in an int64 return ErrAmountOutOfRange.
func ToCents(major decimal.Decimal) (int64, error) {
	cents := major.Mul(hundred).Round(0)
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return 0, ErrAmountOutOfRange
	}
	return cents.IntPart(), nil
}

// FromCents returns the major-unit value of a cent amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Convert returns the settlement-currency cents for sourceAmount at rate.
// 100 USD at 130.25 converts to 1302500 cents (13025 KES).
func Convert(sourceAmount, rate decimal.Decimal) (int64, error) {
	return ToCents(sourceAmount.Mul(rate))
}

// Margin returns the cents the platform keeps when it sells at appliedRate
// and its own cost is costRate. Non-positive spreads yield zero.
func Margin(sourceAmount, appliedRate, costRate decimal.Decimal) (int64, error) {
	spread := costRate.Sub(appliedRate)
	if !spread.IsPositive() {
		return 0, nil
	}
	return ToCents(sourceAmount.Mul(spread))
}

// FeeCents applies rate to a cent amount and rounds half-up to whole
// currency units, so a fee never carries a fractional shilling.
func FeeCents(amountCents int64, rate decimal.Decimal) int64 {
	if amountCents <= 0 || !rate.IsPositive() {
		return 0
	}
	units := FromCents(amountCents).Mul(rate).Round(0)
	return units.Mul(hundred).IntPart()
}

// IsWholeUnits reports whether cents carries no fractional currency unit.
func IsWholeUnits(cents int64) bool {
	return cents%centsPerUnit == 0
}

// WholeUnits returns the whole-unit part of a cent amount.
func WholeUnits(cents int64) int64 {
	return cents / centsPerUnit
}

// Format renders cents as a fixed two-decimal string, e.g. "13025.00".
func Format(cents int64) string {
	return FromCents(cents).StringFixed(2)
}
