package costing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
	"costledger/pkg/logger"
)

// Recalculate re-derives the pair's cost history after a back-dated
// correction. State is rebuilt deterministically from an empty ledger
// through the last transaction strictly before `from`, then every
// subsequent transaction is re-applied as originally typed with its
// corrected inputs; the recomputed cost fields overwrite the stored ones.
//
// The replay is atomic: either the rebuilt state and all rewritten costs
// commit together, or everything rolls back and ReplayDivergence is
// returned. The pair's lock is held for the whole duration, blocking new
// movements against the pair until the replay completes or aborts. The
// store transaction runs in replay mode: serializable, with a timeout
// sized for reading the full pair history.
func (s *Service) Recalculate(ctx context.Context, productID, warehouseID id.ID, from time.Time) error {
	lock := s.pairLock(productID, warehouseID)
	lock.Lock()
	defer lock.Unlock()

	err := s.txm.RunInReplayTransaction(ctx, func(ctx context.Context) error {
		return s.replayPair(ctx, productID, warehouseID, from)
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "cost history recalculated",
		"product_id", productID,
		"warehouse_id", warehouseID,
		"from", from,
	)
	return nil
}

// CorrectTransaction amends a historical transaction's quantity and/or unit
// cost input, then replays the pair from the transaction's timestamp. The
// amendment and the replay commit atomically.
func (s *Service) CorrectTransaction(ctx context.Context, txID id.ID, quantity, unitCost *decimal.Decimal) error {
	if quantity == nil && unitCost == nil {
		return apperror.NewValidation("nothing to correct")
	}
	if quantity != nil && !quantity.IsPositive() {
		return apperror.NewInvalidQuantity("correction", quantity.String())
	}
	if unitCost != nil && unitCost.IsNegative() {
		return apperror.NewValidation("unit cost must not be negative").
			WithDetail("unit_cost", unitCost.String())
	}

	txn, err := s.store.Transaction(ctx, txID)
	if err != nil {
		return err
	}
	if unitCost != nil && txn.RecordType != RecordTypeReceipt {
		return apperror.NewValidation("unit cost can only be corrected on receipt-like transactions").
			WithDetail("transaction_id", txID.String())
	}

	lock := s.pairLock(txn.ProductID, txn.WarehouseID)
	lock.Lock()
	defer lock.Unlock()

	err = s.txm.RunInReplayTransaction(ctx, func(ctx context.Context) error {
		if err := s.store.AmendTransactionInput(ctx, txID, quantity, unitCost); err != nil {
			return err
		}
		return s.replayPair(ctx, txn.ProductID, txn.WarehouseID, txn.OccurredAt)
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "transaction corrected",
		"transaction_id", txID,
		"product_id", txn.ProductID,
		"warehouse_id", txn.WarehouseID,
	)
	return nil
}

// replayPair rebuilds the pair's state from its full history and rewrites
// the cost fields of every transaction at or after `from`. Caller must hold
// the pair's write lock and an open store transaction.
//
// Each transaction is applied with the strategy for its recorded method, so
// history spanning an administrative method switch replays correctly.
func (s *Service) replayPair(ctx context.Context, productID, warehouseID id.ID, from time.Time) error {
	allowNegative, err := s.resolver.AllowNegativeStock(ctx, productID, warehouseID)
	if err != nil {
		return err
	}

	txns, err := s.store.Transactions(ctx, productID, warehouseID)
	if err != nil {
		return err
	}

	st := NewState(productID, warehouseID)
	var rewritten []*Transaction

	for _, txn := range txns {
		strat := strategyFor(txn.Method, s.prec)
		if strat == nil {
			return apperror.NewConfigurationConflict(productID.String(), string(txn.Method))
		}

		replayed := !txn.OccurredAt.Before(from)
		if replayed {
			txn.resetComputed()
		}

		if err := strat.Apply(st, txn, allowNegative); err != nil {
			return apperror.NewReplayDivergence(txn.ID.String(), err)
		}

		if replayed {
			rewritten = append(rewritten, txn)
		}
	}

	if err := s.store.ReplaceState(ctx, st); err != nil {
		return err
	}
	return s.store.RewriteTransactionCosts(ctx, rewritten)
}
