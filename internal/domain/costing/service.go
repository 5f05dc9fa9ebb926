// Package costing provides the inventory costing engine: FIFO lot
// consumption and weighted-average balance tracking, the transaction log,
// and recalculation replay after historical corrections.
package costing

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
	"costledger/internal/core/tx"
	"costledger/pkg/logger"
)

// Service is the costing engine facade. It resolves the active strategy per
// product on every call, serializes mutations per (product, warehouse) pair,
// and records every movement in the transaction log atomically with its
// state effect.
type Service struct {
	store    Store
	txm      tx.ReplayManager
	resolver Resolver
	prec     Precision

	mu    sync.Mutex
	locks map[pairKey]*sync.RWMutex
}

// NewService creates a costing service with default precision.
func NewService(store Store, txm tx.ReplayManager, resolver Resolver) *Service {
	return NewServiceWithPrecision(store, txm, resolver, DefaultPrecision())
}

// NewServiceWithPrecision creates a costing service with explicit rounding
// scales.
func NewServiceWithPrecision(store Store, txm tx.ReplayManager, resolver Resolver, prec Precision) *Service {
	return &Service{
		store:    store,
		txm:      txm,
		resolver: resolver,
		prec:     prec,
		locks:    make(map[pairKey]*sync.RWMutex),
	}
}

// pairLock returns the mutex guarding one (product, warehouse) pair.
// Unrelated pairs proceed independently.
func (s *Service) pairLock(productID, warehouseID id.ID) *sync.RWMutex {
	key := pairKey{productID, warehouseID}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[key]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[key] = l
	}
	return l
}

// resolveStrategy resolves the product's active method and returns its
// strategy. Resolution happens once per operation and is never cached.
func (s *Service) resolveStrategy(ctx context.Context, productID id.ID) (Strategy, error) {
	method, err := s.resolver.ResolveMethod(ctx, productID)
	if err != nil {
		return nil, err
	}
	strat := strategyFor(method, s.prec)
	if strat == nil {
		return nil, apperror.NewConfigurationConflict(productID.String(), string(method))
	}
	return strat, nil
}

// Receive records an incoming movement. Always succeeds when quantity is
// positive and unit cost non-negative.
func (s *Service) Receive(ctx context.Context, m Movement) (*Transaction, error) {
	if !m.Quantity.IsPositive() {
		return nil, apperror.NewInvalidQuantity("receive", m.Quantity.String())
	}
	if m.UnitCost.IsNegative() {
		return nil, apperror.NewValidation("unit cost must not be negative").
			WithDetail("unit_cost", m.UnitCost.String())
	}

	strat, err := s.resolveStrategy(ctx, m.ProductID)
	if err != nil {
		return nil, err
	}

	txn, err := s.record(ctx, strat, movementTxn(m, TypeReceive, RecordTypeReceipt, strat.Method()), false)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "stock received",
		"product_id", m.ProductID,
		"warehouse_id", m.WarehouseID,
		"quantity", m.Quantity,
		"method", strat.Method(),
	)
	return txn, nil
}

// Issue records an outgoing movement and returns the consumed cost. Fails
// with InsufficientStock when available quantity is short and negative
// stock is not permitted.
func (s *Service) Issue(ctx context.Context, m Movement) (*Transaction, error) {
	if !m.Quantity.IsPositive() {
		return nil, apperror.NewInvalidQuantity("issue", m.Quantity.String())
	}

	strat, err := s.resolveStrategy(ctx, m.ProductID)
	if err != nil {
		return nil, err
	}
	allowNegative, err := s.resolver.AllowNegativeStock(ctx, m.ProductID, m.WarehouseID)
	if err != nil {
		return nil, err
	}

	txn, err := s.record(ctx, strat, movementTxn(m, TypeIssue, RecordTypeExpense, strat.Method()), allowNegative)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "stock issued",
		"product_id", m.ProductID,
		"warehouse_id", m.WarehouseID,
		"quantity", m.Quantity,
		"total_cost", txn.TotalCost,
		"method", strat.Method(),
	)
	return txn, nil
}

// Adjust records a signed stock correction. Positive adjustments behave
// like receipts; negative ones like issues, subject to the negative-stock
// policy.
func (s *Service) Adjust(ctx context.Context, a Adjustment) (*Transaction, error) {
	if a.Quantity.IsZero() {
		return nil, apperror.NewZeroQuantity("adjust")
	}
	if a.UnitCost != nil && a.UnitCost.IsNegative() {
		return nil, apperror.NewValidation("unit cost must not be negative").
			WithDetail("unit_cost", a.UnitCost.String())
	}

	strat, err := s.resolveStrategy(ctx, a.ProductID)
	if err != nil {
		return nil, err
	}
	allowNegative, err := s.resolver.AllowNegativeStock(ctx, a.ProductID, a.WarehouseID)
	if err != nil {
		return nil, err
	}

	recordType := RecordTypeReceipt
	if a.Quantity.IsNegative() {
		recordType = RecordTypeExpense
	}

	txn := &Transaction{
		ID:          id.New(),
		ProductID:   a.ProductID,
		WarehouseID: a.WarehouseID,
		Type:        TypeAdjust,
		RecordType:  recordType,
		Quantity:    a.Quantity.Abs(),
		Reference:   a.Reference,
		Method:      strat.Method(),
		OccurredAt:  a.OccurredAt,
	}
	if recordType == RecordTypeReceipt {
		if a.UnitCost != nil {
			txn.UnitCost = *a.UnitCost
		} else {
			txn.CostDerived = true
		}
	}

	txn, err = s.record(ctx, strat, txn, allowNegative)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "stock adjusted",
		"product_id", a.ProductID,
		"warehouse_id", a.WarehouseID,
		"quantity", a.Quantity,
		"method", strat.Method(),
	)
	return txn, nil
}

// Transfer moves quantity between warehouses as an issue at the source
// followed by a receipt at the destination priced at the weighted cost of
// the units actually consumed. Both records commit atomically.
func (s *Service) Transfer(ctx context.Context, t Transfer) (*Transaction, *Transaction, error) {
	if !t.Quantity.IsPositive() {
		return nil, nil, apperror.NewInvalidQuantity("transfer", t.Quantity.String())
	}
	if t.SrcWarehouseID == t.DstWarehouseID {
		return nil, nil, apperror.NewValidation("source and destination warehouses must differ")
	}

	strat, err := s.resolveStrategy(ctx, t.ProductID)
	if err != nil {
		return nil, nil, err
	}
	allowNegative, err := s.resolver.AllowNegativeStock(ctx, t.ProductID, t.SrcWarehouseID)
	if err != nil {
		return nil, nil, err
	}

	occurredAt := t.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	unlock := s.lockPairs(t.ProductID, t.SrcWarehouseID, t.DstWarehouseID)
	defer unlock()

	var out, in *Transaction
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		out = &Transaction{
			ID:          id.New(),
			ProductID:   t.ProductID,
			WarehouseID: t.SrcWarehouseID,
			Type:        TypeTransferOut,
			RecordType:  RecordTypeExpense,
			Quantity:    t.Quantity,
			Reference:   t.Reference,
			Method:      strat.Method(),
			OccurredAt:  occurredAt,
		}
		if err := s.applyLocked(ctx, strat, out, allowNegative); err != nil {
			return err
		}

		// Weighted cost of the consumed units; an issue may span lots.
		unitCost := out.TotalCost.Div(t.Quantity)

		in = &Transaction{
			ID:          id.New(),
			ProductID:   t.ProductID,
			WarehouseID: t.DstWarehouseID,
			Type:        TypeTransferIn,
			RecordType:  RecordTypeReceipt,
			Quantity:    t.Quantity,
			UnitCost:    unitCost,
			Reference:   t.Reference,
			Method:      strat.Method(),
			OccurredAt:  occurredAt,
		}
		return s.applyLocked(ctx, strat, in, false)
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info(ctx, "stock transferred",
		"product_id", t.ProductID,
		"src_warehouse_id", t.SrcWarehouseID,
		"dst_warehouse_id", t.DstWarehouseID,
		"quantity", t.Quantity,
		"total_cost", out.TotalCost,
	)
	return out, in, nil
}

// Valuation returns the pair's total inventory value. Read-only; runs
// concurrently with other valuations but never against a half-applied
// mutation.
func (s *Service) Valuation(ctx context.Context, productID, warehouseID id.ID) (decimal.Decimal, error) {
	strat, err := s.resolveStrategy(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}

	lock := s.pairLock(productID, warehouseID)
	lock.RLock()
	defer lock.RUnlock()

	st, err := s.loadStateReadOnly(ctx, productID, warehouseID)
	if err != nil {
		return decimal.Zero, err
	}
	return strat.Valuation(st).Round(s.prec.ValueScale), nil
}

// OnHand returns the pair's quantity on hand.
func (s *Service) OnHand(ctx context.Context, productID, warehouseID id.ID) (decimal.Decimal, error) {
	strat, err := s.resolveStrategy(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}

	lock := s.pairLock(productID, warehouseID)
	lock.RLock()
	defer lock.RUnlock()

	st, err := s.loadStateReadOnly(ctx, productID, warehouseID)
	if err != nil {
		return decimal.Zero, err
	}
	return strat.OnHand(st), nil
}

// loadStateReadOnly loads the pair's state in a read-only transaction, so
// the balance and lots come from one consistent view.
func (s *Service) loadStateReadOnly(ctx context.Context, productID, warehouseID id.ID) (*State, error) {
	var st *State
	err := s.txm.ReadOnly(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.store.LoadState(ctx, productID, warehouseID)
		return err
	})
	return st, err
}

// Transactions returns the pair's history in (OccurredAt, Seq) order.
func (s *Service) Transactions(ctx context.Context, productID, warehouseID id.ID) ([]*Transaction, error) {
	lock := s.pairLock(productID, warehouseID)
	lock.RLock()
	defer lock.RUnlock()

	return s.store.Transactions(ctx, productID, warehouseID)
}

// record executes one movement atomically: state mutation plus transaction
// append, under the pair's exclusive lock.
func (s *Service) record(ctx context.Context, strat Strategy, txn *Transaction, allowNegative bool) (*Transaction, error) {
	lock := s.pairLock(txn.ProductID, txn.WarehouseID)
	lock.Lock()
	defer lock.Unlock()

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.applyLocked(ctx, strat, txn, allowNegative)
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// applyLocked loads state, applies the transaction and persists both.
// Caller must hold the pair's write lock and an open store transaction.
func (s *Service) applyLocked(ctx context.Context, strat Strategy, txn *Transaction, allowNegative bool) error {
	st, err := s.store.LoadState(ctx, txn.ProductID, txn.WarehouseID)
	if err != nil {
		return err
	}

	seq, err := s.store.NextSeq(ctx)
	if err != nil {
		return err
	}
	txn.Seq = seq
	if txn.OccurredAt.IsZero() {
		txn.OccurredAt = time.Now().UTC()
	}
	txn.CreatedAt = time.Now().UTC()
	st.Balance.UpdatedAt = txn.CreatedAt

	if err := strat.Apply(st, txn, allowNegative); err != nil {
		return err
	}

	if err := s.store.SaveState(ctx, st); err != nil {
		return err
	}
	return s.store.AppendTransaction(ctx, txn)
}

// lockPairs acquires both pair locks in a stable order to avoid deadlock
// between concurrent opposite-direction transfers.
func (s *Service) lockPairs(productID, w1, w2 id.ID) func() {
	a := s.pairLock(productID, w1)
	b := s.pairLock(productID, w2)
	if bytes.Compare(w1[:], w2[:]) > 0 {
		a, b = b, a
	}
	a.Lock()
	b.Lock()
	return func() {
		b.Unlock()
		a.Unlock()
	}
}

// movementTxn builds a transaction skeleton from a movement request.
func movementTxn(m Movement, t TransactionType, rt RecordType, method Method) *Transaction {
	return &Transaction{
		ID:          id.New(),
		ProductID:   m.ProductID,
		WarehouseID: m.WarehouseID,
		Type:        t,
		RecordType:  rt,
		Quantity:    m.Quantity,
		UnitCost:    m.UnitCost,
		Reference:   m.Reference,
		Method:      method,
		OccurredAt:  m.OccurredAt,
	}
}
