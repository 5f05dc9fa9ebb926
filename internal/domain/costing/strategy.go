package costing

import (
	"github.com/shopspring/decimal"

	"costledger/internal/core/id"
)

// Precision bounds rounding drift for stored costs and values.
type Precision struct {
	// CostScale is the number of fractional digits kept for average and
	// derived unit costs.
	CostScale int32

	// ValueScale is the number of fractional digits for monetary totals,
	// matching the currency's natural precision.
	ValueScale int32
}

// DefaultPrecision returns the standard scales: four fractional digits for
// unit costs, two for currency totals.
func DefaultPrecision() Precision {
	return Precision{CostScale: 4, ValueScale: 2}
}

// State is the strategy-owned state for one (product, warehouse) pair:
// the FIFO lot ledger and the weighted-average balance. Each strategy
// mutates only its own half; carrying both lets replay re-apply history
// recorded under either method, including across a method switch.
type State struct {
	ProductID   id.ID
	WarehouseID id.ID
	Ledger      LotLedger
	Balance     Balance
}

// NewState creates empty state for a pair.
func NewState(productID, warehouseID id.ID) *State {
	return &State{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Ledger:      NewLotLedger(),
		Balance:     NewBalance(productID, warehouseID),
	}
}

// Strategy applies movements to pair state under one costing policy.
// Exactly two implementations exist: FIFO and weighted average. Apply fills
// the transaction's computed cost fields and mutates the state; the same
// code path serves live operations and recalculation replay.
type Strategy interface {
	Method() Method

	// Apply executes the transaction against the state. The transaction
	// carries its identity, type, quantity and (for receipts) input cost;
	// Apply resolves UnitCost/TotalCost/Consumptions and the created lot.
	Apply(st *State, txn *Transaction, allowNegative bool) error

	// Valuation returns the pair's total inventory value.
	Valuation(st *State) decimal.Decimal

	// OnHand returns the pair's quantity on hand.
	OnHand(st *State) decimal.Decimal
}

// strategyFor returns the strategy implementing the method. The method set
// is closed: anything unrecognized is a configuration conflict upstream.
func strategyFor(m Method, prec Precision) Strategy {
	switch m {
	case MethodFIFO:
		return &fifoStrategy{prec: prec}
	case MethodWeightedAverage:
		return &averageStrategy{prec: prec}
	default:
		return nil
	}
}
