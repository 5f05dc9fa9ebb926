package costing

import (
	"github.com/shopspring/decimal"

	"costledger/internal/core/apperror"
)

// averageStrategy implements weighted-average costing over the pair's
// balance. O(1) per operation: only quantity, average cost and total value
// are held.
type averageStrategy struct {
	prec Precision
}

func (s *averageStrategy) Method() Method {
	return MethodWeightedAverage
}

func (s *averageStrategy) Apply(st *State, txn *Transaction, allowNegative bool) error {
	switch txn.RecordType {
	case RecordTypeReceipt:
		if txn.CostDerived {
			txn.UnitCost = st.Balance.AvgCost
		}
		txn.TotalCost = st.Balance.ApplyReceipt(txn.Quantity, txn.UnitCost, s.prec)
		return nil

	case RecordTypeExpense:
		if !allowNegative && st.Balance.Quantity.LessThan(txn.Quantity) {
			return apperror.NewInsufficientStock(
				st.ProductID.String(),
				txn.Quantity.String(),
				st.Balance.Quantity.String(),
			)
		}
		// Issues never move the average; negative stock keeps it as well.
		txn.UnitCost = st.Balance.AvgCost
		txn.TotalCost = st.Balance.ApplyIssue(txn.Quantity, s.prec)
		return nil

	default:
		return apperror.NewValidation("unknown record type").WithDetail("record_type", string(txn.RecordType))
	}
}

// Valuation returns the stored total value. O(1), not recomputed by
// multiplication.
func (s *averageStrategy) Valuation(st *State) decimal.Decimal {
	return st.Balance.TotalValue
}

func (s *averageStrategy) OnHand(st *State) decimal.Decimal {
	return st.Balance.Quantity
}
