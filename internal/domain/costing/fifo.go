package costing

import (
	"time"

	"github.com/shopspring/decimal"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
)

// fifoStrategy implements first-in-first-out lot consumption over the pair's
// lot ledger.
type fifoStrategy struct {
	prec Precision
}

func (s *fifoStrategy) Method() Method {
	return MethodFIFO
}

func (s *fifoStrategy) Apply(st *State, txn *Transaction, allowNegative bool) error {
	switch txn.RecordType {
	case RecordTypeReceipt:
		return s.applyReceipt(st, txn)
	case RecordTypeExpense:
		return s.applyExpense(st, txn, allowNegative)
	default:
		return apperror.NewValidation("unknown record type").WithDetail("record_type", string(txn.RecordType))
	}
}

// applyReceipt creates a new lot at the transaction's cost. When the ledger
// carries a deficit from negative-stock issues, the incoming lot retires it
// before adding available inventory.
func (s *fifoStrategy) applyReceipt(st *State, txn *Transaction) error {
	if txn.CostDerived {
		txn.UnitCost = st.Ledger.LastKnownCost()
	}

	if txn.LotID == nil {
		lotID := id.New()
		txn.LotID = &lotID
	}

	createdAt := txn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	lot := &Lot{
		ID:           *txn.LotID,
		ProductID:    st.ProductID,
		WarehouseID:  st.WarehouseID,
		PurchasedAt:  txn.OccurredAt,
		ReceivedQty:  txn.Quantity,
		RemainingQty: txn.Quantity,
		UnitCost:     txn.UnitCost,
		Seq:          txn.Seq,
		CreatedAt:    createdAt,
	}
	st.Ledger.Add(lot)

	txn.TotalCost = txn.Quantity.Mul(txn.UnitCost).Round(s.prec.ValueScale)

	if st.Ledger.Deficit.IsPositive() {
		take := decimal.Min(st.Ledger.Deficit, lot.RemainingQty)
		lot.RemainingQty = lot.RemainingQty.Sub(take)
		st.Ledger.Deficit = st.Ledger.Deficit.Sub(take)
		st.Ledger.DeficitValue = st.Ledger.DeficitValue.Sub(take.Mul(lot.UnitCost).Round(s.prec.ValueScale))
	}

	return nil
}

// applyExpense consumes lots strictly oldest-first. Any shortfall beyond
// available lots is only allowed under negative stock; it is priced at the
// newest known lot cost and tracked as a ledger deficit.
func (s *fifoStrategy) applyExpense(st *State, txn *Transaction, allowNegative bool) error {
	if !allowNegative && st.Ledger.OnHand().LessThan(txn.Quantity) {
		return apperror.NewInsufficientStock(
			st.ProductID.String(),
			txn.Quantity.String(),
			st.Ledger.OnHand().String(),
		)
	}

	consumptions, total, shortfall := st.Ledger.Consume(txn.Quantity)

	if shortfall.IsPositive() {
		cost := st.Ledger.LastKnownCost()
		shortCost := shortfall.Mul(cost).Round(s.prec.ValueScale)
		consumptions = append(consumptions, LotConsumption{
			LotID:    id.Nil(),
			Quantity: shortfall,
			UnitCost: cost,
		})
		st.Ledger.Deficit = st.Ledger.Deficit.Add(shortfall)
		st.Ledger.DeficitValue = st.Ledger.DeficitValue.Add(shortCost)
		total = total.Add(shortfall.Mul(cost))
	}

	txn.Consumptions = consumptions
	txn.TotalCost = total.Round(s.prec.ValueScale)
	if txn.Quantity.IsPositive() {
		txn.UnitCost = total.Div(txn.Quantity).Round(s.prec.CostScale)
	}

	return nil
}

func (s *fifoStrategy) Valuation(st *State) decimal.Decimal {
	return st.Ledger.Valuation()
}

func (s *fifoStrategy) OnHand(st *State) decimal.Decimal {
	return st.Ledger.OnHand()
}
