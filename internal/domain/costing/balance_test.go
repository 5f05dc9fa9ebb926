package costing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"costledger/internal/core/id"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	w := dec(want)
	assert.True(t, got.Equal(w), "want %s, got %s", w, got)
}

func TestBalance_ReceiptRecomputesAverage(t *testing.T) {
	prec := DefaultPrecision()
	b := NewBalance(id.New(), id.New())

	b.ApplyReceipt(dec("100"), dec("10.00"), prec)
	assertDec(t, "10", b.AvgCost)
	assertDec(t, "1000", b.TotalValue)

	b.ApplyReceipt(dec("50"), dec("12.00"), prec)
	assertDec(t, "10.6667", b.AvgCost)
	assertDec(t, "1600", b.TotalValue)
	assertDec(t, "150", b.Quantity)
}

func TestBalance_IssueNeverMovesAverage(t *testing.T) {
	prec := DefaultPrecision()
	b := NewBalance(id.New(), id.New())
	b.ApplyReceipt(dec("100"), dec("10.00"), prec)
	b.ApplyReceipt(dec("50"), dec("12.00"), prec)

	cogs := b.ApplyIssue(dec("120"), prec)

	assertDec(t, "1280.00", cogs)
	assertDec(t, "10.6667", b.AvgCost)
	assertDec(t, "30", b.Quantity)
	assertDec(t, "320", b.TotalValue)
}

func TestBalance_ReceiptAfterIssueBlendsIncrementalValue(t *testing.T) {
	prec := DefaultPrecision()
	b := NewBalance(id.New(), id.New())
	b.ApplyReceipt(dec("100"), dec("10.00"), prec)
	b.ApplyReceipt(dec("50"), dec("12.00"), prec)
	b.ApplyIssue(dec("120"), prec)

	b.ApplyReceipt(dec("80"), dec("11.50"), prec)

	assertDec(t, "11.2727", b.AvgCost)
	assertDec(t, "110", b.Quantity)
	assertDec(t, "1240", b.TotalValue)
}

func TestBalance_ZeroQuantityDefinesAverageAsIncomingCost(t *testing.T) {
	prec := DefaultPrecision()
	b := NewBalance(id.New(), id.New())
	b.ApplyReceipt(dec("10"), dec("5.00"), prec)
	b.ApplyIssue(dec("20"), prec) // negative stock, quantity -10

	// Receipt that lands exactly on zero: average is the incoming cost.
	b.ApplyReceipt(dec("10"), dec("7.00"), prec)
	assertDec(t, "0", b.Quantity)
	assertDec(t, "7", b.AvgCost)
}

func TestBalance_NegativeStockKeepsAverageOnIssue(t *testing.T) {
	prec := DefaultPrecision()
	b := NewBalance(id.New(), id.New())
	b.ApplyReceipt(dec("10"), dec("4.00"), prec)

	b.ApplyIssue(dec("25"), prec)

	assertDec(t, "-15", b.Quantity)
	assertDec(t, "4", b.AvgCost)
	assertDec(t, "-60", b.TotalValue)

	// A receipt lifting the balance above zero reapplies the formula with
	// the negative quantity as qty_old.
	b.ApplyReceipt(dec("20"), dec("6.00"), prec)
	assertDec(t, "5", b.Quantity)
	assertDec(t, "12", b.AvgCost) // (-60 + 120) / 5
}
