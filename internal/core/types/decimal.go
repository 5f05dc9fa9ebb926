// Package types provides common numeric type aliases and utilities.
package types

import (
	"github.com/shopspring/decimal"
)

// Money represents a monetary value with full precision.
// Uses decimal.Decimal to avoid floating-point errors.
type Money = decimal.Decimal

// Quantity represents a stock quantity. Quantities share the same
// fixed-precision representation as monetary values so that quantity*cost
// arithmetic never leaves the decimal domain.
type Quantity = decimal.Decimal

// NewMoneyFromString creates a Money value from a string.
// This is the preferred method for monetary values.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants and tests.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// NewQuantityFromString creates a Quantity from a string.
func NewQuantityFromString(s string) (Quantity, error) {
	return decimal.NewFromString(s)
}

// MustQuantity creates a Quantity from a string, panics on error.
// Use only for constants and tests.
func MustQuantity(s string) Quantity {
	return MustMoney(s)
}

// NewFromInt creates a decimal from an integer. Convenient for
// integer-friendly quantities in tests and fixtures.
func NewFromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// Zero returns zero decimal value.
func Zero() decimal.Decimal {
	return decimal.Zero
}
