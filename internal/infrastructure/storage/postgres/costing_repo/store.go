// Package costing_repo provides the PostgreSQL implementation of the
// costing engine's persistence boundary.
package costing_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/shopspring/decimal"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
	"costledger/internal/domain/costing"
	"costledger/internal/infrastructure/storage/postgres"
)

const (
	lotsTable         = "cost_lots"
	balancesTable     = "cost_balances"
	transactionsTable = "cost_transactions"
	consumptionsTable = "cost_transaction_consumptions"

	txnSeqName = "cost_txn_seq"
)

// Store implements costing.Store on PostgreSQL. State is split across three
// tables: cost_lots (one row per lot, remaining quantity mutable),
// cost_balances (one row per pair: weighted-average state plus the FIFO
// deficit counters) and cost_transactions with their lot consumptions.
type Store struct {
	txm       *postgres.TxManager
	builder   squirrel.StatementBuilderType
	snapshots *SnapshotWriter
}

var _ costing.Store = (*Store)(nil)

// NewStore creates the PostgreSQL costing store.
func NewStore(txm *postgres.TxManager) (*Store, error) {
	snapshots, err := NewSnapshotWriter(txm)
	if err != nil {
		return nil, err
	}
	return &Store{
		txm:       txm,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		snapshots: snapshots,
	}, nil
}

// NextSeq allocates from a database sequence. Values are not reclaimed on
// rollback, which keeps the engine-wide ordering monotonic.
func (s *Store) NextSeq(ctx context.Context) (int64, error) {
	var seq int64
	row := s.txm.GetQuerier(ctx).QueryRow(ctx, "SELECT nextval($1)", txnSeqName)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return seq, nil
}

// balanceRow is the cost_balances row. It carries both halves of pair state
// that are not lot-shaped: the weighted-average balance and the FIFO deficit.
type balanceRow struct {
	ProductID    id.ID           `db:"product_id"`
	WarehouseID  id.ID           `db:"warehouse_id"`
	Quantity     decimal.Decimal `db:"quantity"`
	AvgCost      decimal.Decimal `db:"avg_cost"`
	TotalValue   decimal.Decimal `db:"total_value"`
	Deficit      decimal.Decimal `db:"deficit"`
	DeficitValue decimal.Decimal `db:"deficit_value"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

// LoadState implements costing.Store. A pair with no history yet yields
// empty state, not an error.
func (s *Store) LoadState(ctx context.Context, productID, warehouseID id.ID) (*costing.State, error) {
	querier := s.txm.GetQuerier(ctx)
	st := costing.NewState(productID, warehouseID)

	q := s.builder.Select(
		"product_id", "warehouse_id", "quantity", "avg_cost", "total_value",
		"deficit", "deficit_value", "updated_at",
	).From(balancesTable).
		Where(squirrel.Eq{"product_id": productID, "warehouse_id": warehouseID})

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build balance query: %w", err)
	}

	var row balanceRow
	err = pgxscan.Get(ctx, querier, &row, sql, args...)
	switch {
	case pgxscan.NotFound(err):
		return st, nil
	case err != nil:
		return nil, fmt.Errorf("select balance: %w", err)
	}

	st.Balance.Quantity = row.Quantity
	st.Balance.AvgCost = row.AvgCost
	st.Balance.TotalValue = row.TotalValue
	st.Balance.UpdatedAt = row.UpdatedAt
	st.Ledger.Deficit = row.Deficit
	st.Ledger.DeficitValue = row.DeficitValue

	q = s.builder.Select(
		"id", "product_id", "warehouse_id", "purchased_at",
		"received_qty", "remaining_qty", "unit_cost", "seq", "created_at",
	).From(lotsTable).
		Where(squirrel.Eq{"product_id": productID, "warehouse_id": warehouseID}).
		OrderBy("purchased_at", "seq")

	sql, args, err = q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lots query: %w", err)
	}
	if err := pgxscan.Select(ctx, querier, &st.Ledger.Lots, sql, args...); err != nil {
		return nil, fmt.Errorf("select lots: %w", err)
	}

	return st, nil
}

// SaveState upserts the pair's balance row and every lot. A single movement
// touches at most one new lot and the lots it consumed, so the upserts are
// grouped into one batch round-trip.
func (s *Store) SaveState(ctx context.Context, st *costing.State) error {
	if err := s.upsertBalance(ctx, st); err != nil {
		return err
	}
	if len(st.Ledger.Lots) == 0 {
		return nil
	}

	queries := make([]postgres.BatchQuery, 0, len(st.Ledger.Lots))
	for _, lot := range st.Ledger.Lots {
		queries = append(queries, postgres.BatchQuery{
			SQL: `
				INSERT INTO cost_lots (
					id, product_id, warehouse_id, purchased_at,
					received_qty, remaining_qty, unit_cost, seq, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (id) DO UPDATE SET remaining_qty = EXCLUDED.remaining_qty
			`,
			Args: []any{
				lot.ID, lot.ProductID, lot.WarehouseID, lot.PurchasedAt,
				lot.ReceivedQty, lot.RemainingQty, lot.UnitCost, lot.Seq, lot.CreatedAt,
			},
		})
	}

	executor := postgres.NewBatchExecutor(s.txm)
	if err := executor.ExecuteBatch(ctx, queries); err != nil {
		return fmt.Errorf("upsert lots: %w", err)
	}
	return nil
}

// ReplaceState rewrites the pair's state wholesale after a recalculation:
// lots are deleted and bulk-reinserted via COPY, and a compressed snapshot
// of the committed state is kept for audit.
func (s *Store) ReplaceState(ctx context.Context, st *costing.State) error {
	if err := s.upsertBalance(ctx, st); err != nil {
		return err
	}

	querier := s.txm.GetQuerier(ctx)
	sql, args, err := s.builder.Delete(lotsTable).
		Where(squirrel.Eq{"product_id": st.ProductID, "warehouse_id": st.WarehouseID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build lots delete: %w", err)
	}
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete lots: %w", err)
	}

	if len(st.Ledger.Lots) > 0 {
		inserter := postgres.NewBatchInserter(s.txm)
		columns := []string{
			"id", "product_id", "warehouse_id", "purchased_at",
			"received_qty", "remaining_qty", "unit_cost", "seq", "created_at",
		}
		rows := make([][]any, 0, len(st.Ledger.Lots))
		for _, lot := range st.Ledger.Lots {
			rows = append(rows, []any{
				lot.ID, lot.ProductID, lot.WarehouseID, lot.PurchasedAt,
				lot.ReceivedQty, lot.RemainingQty, lot.UnitCost, lot.Seq, lot.CreatedAt,
			})
		}
		if _, err := inserter.CopyFromSlice(ctx, lotsTable, columns, rows); err != nil {
			return fmt.Errorf("copy lots: %w", err)
		}
	}

	return s.snapshots.Write(ctx, st)
}

func (s *Store) upsertBalance(ctx context.Context, st *costing.State) error {
	q := s.builder.Insert(balancesTable).
		Columns(
			"product_id", "warehouse_id", "quantity", "avg_cost", "total_value",
			"deficit", "deficit_value", "updated_at",
		).
		Values(
			st.ProductID, st.WarehouseID,
			st.Balance.Quantity, st.Balance.AvgCost, st.Balance.TotalValue,
			st.Ledger.Deficit, st.Ledger.DeficitValue, st.Balance.UpdatedAt,
		).
		Suffix(`
			ON CONFLICT (product_id, warehouse_id) DO UPDATE SET
				quantity = EXCLUDED.quantity,
				avg_cost = EXCLUDED.avg_cost,
				total_value = EXCLUDED.total_value,
				deficit = EXCLUDED.deficit,
				deficit_value = EXCLUDED.deficit_value,
				updated_at = EXCLUDED.updated_at
		`)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build balance upsert: %w", err)
	}
	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}
	return nil
}

// AppendTransaction implements costing.Store.
func (s *Store) AppendTransaction(ctx context.Context, txn *costing.Transaction) error {
	q := s.builder.Insert(transactionsTable).
		Columns(
			"id", "seq", "product_id", "warehouse_id", "type", "record_type",
			"quantity", "unit_cost", "total_cost", "cost_derived",
			"reference", "method", "lot_id", "occurred_at", "created_at",
		).
		Values(
			txn.ID, txn.Seq, txn.ProductID, txn.WarehouseID, txn.Type, txn.RecordType,
			txn.Quantity, txn.UnitCost, txn.TotalCost, txn.CostDerived,
			txn.Reference, txn.Method, txn.LotID, txn.OccurredAt, txn.CreatedAt,
		)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build transaction insert: %w", err)
	}
	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	return s.insertConsumptions(ctx, txn)
}

func (s *Store) insertConsumptions(ctx context.Context, txn *costing.Transaction) error {
	if len(txn.Consumptions) == 0 {
		return nil
	}

	q := s.builder.Insert(consumptionsTable).
		Columns("transaction_id", "ord", "lot_id", "quantity", "unit_cost")
	for i, c := range txn.Consumptions {
		q = q.Values(txn.ID, i, c.LotID, c.Quantity, c.UnitCost)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build consumptions insert: %w", err)
	}
	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert consumptions: %w", err)
	}
	return nil
}

// Transaction implements costing.Store.
func (s *Store) Transaction(ctx context.Context, txID id.ID) (*costing.Transaction, error) {
	q := s.builder.Select(transactionColumns()...).
		From(transactionsTable).
		Where(squirrel.Eq{"id": txID})

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build transaction query: %w", err)
	}

	var txn costing.Transaction
	err = pgxscan.Get(ctx, s.txm.GetQuerier(ctx), &txn, sql, args...)
	switch {
	case pgxscan.NotFound(err):
		return nil, apperror.NewNotFound("transaction", txID.String())
	case err != nil:
		return nil, fmt.Errorf("select transaction: %w", err)
	}

	if err := s.attachConsumptions(ctx, []*costing.Transaction{&txn}); err != nil {
		return nil, err
	}
	return &txn, nil
}

// Transactions implements costing.Store.
func (s *Store) Transactions(ctx context.Context, productID, warehouseID id.ID) ([]*costing.Transaction, error) {
	q := s.builder.Select(transactionColumns()...).
		From(transactionsTable).
		Where(squirrel.Eq{"product_id": productID, "warehouse_id": warehouseID}).
		OrderBy("occurred_at", "seq")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build transactions query: %w", err)
	}

	var txns []*costing.Transaction
	if err := pgxscan.Select(ctx, s.txm.GetQuerier(ctx), &txns, sql, args...); err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}

	if err := s.attachConsumptions(ctx, txns); err != nil {
		return nil, err
	}
	return txns, nil
}

// consumptionRow is one cost_transaction_consumptions row.
type consumptionRow struct {
	TransactionID id.ID           `db:"transaction_id"`
	Ord           int             `db:"ord"`
	LotID         id.ID           `db:"lot_id"`
	Quantity      decimal.Decimal `db:"quantity"`
	UnitCost      decimal.Decimal `db:"unit_cost"`
}

func (s *Store) attachConsumptions(ctx context.Context, txns []*costing.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	ids := make([]id.ID, 0, len(txns))
	byID := make(map[id.ID]*costing.Transaction, len(txns))
	for _, txn := range txns {
		ids = append(ids, txn.ID)
		byID[txn.ID] = txn
	}

	q := s.builder.Select("transaction_id", "ord", "lot_id", "quantity", "unit_cost").
		From(consumptionsTable).
		Where(squirrel.Eq{"transaction_id": ids}).
		OrderBy("transaction_id", "ord")

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build consumptions query: %w", err)
	}

	var rows []consumptionRow
	if err := pgxscan.Select(ctx, s.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return fmt.Errorf("select consumptions: %w", err)
	}

	for _, row := range rows {
		txn := byID[row.TransactionID]
		if txn == nil {
			continue
		}
		txn.Consumptions = append(txn.Consumptions, costing.LotConsumption{
			LotID:    row.LotID,
			Quantity: row.Quantity,
			UnitCost: row.UnitCost,
		})
	}
	return nil
}

// AmendTransactionInput implements costing.Store. Setting an explicit unit
// cost clears the cost-derived flag so replay treats it as an input.
func (s *Store) AmendTransactionInput(ctx context.Context, txID id.ID, quantity, unitCost *decimal.Decimal) error {
	q := s.builder.Update(transactionsTable).Where(squirrel.Eq{"id": txID})
	if quantity != nil {
		q = q.Set("quantity", *quantity)
	}
	if unitCost != nil {
		q = q.Set("unit_cost", *unitCost).Set("cost_derived", false)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build amend update: %w", err)
	}

	tag, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("amend transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("transaction", txID.String())
	}
	return nil
}

// RewriteTransactionCosts implements costing.Store. Cost fields of replayed
// transactions are rewritten in one batch round-trip and their consumptions
// are replaced; quantity and reference are never altered here.
func (s *Store) RewriteTransactionCosts(ctx context.Context, txns []*costing.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	queries := make([]postgres.BatchQuery, 0, len(txns)*2)
	for _, txn := range txns {
		queries = append(queries, postgres.BatchQuery{
			SQL: `
				UPDATE cost_transactions
				SET unit_cost = $2, total_cost = $3, lot_id = $4
				WHERE id = $1
			`,
			Args: []any{txn.ID, txn.UnitCost, txn.TotalCost, txn.LotID},
		})
		queries = append(queries, postgres.BatchQuery{
			SQL:  "DELETE FROM cost_transaction_consumptions WHERE transaction_id = $1",
			Args: []any{txn.ID},
		})
	}

	executor := postgres.NewBatchExecutor(s.txm)
	if err := executor.ExecuteBatch(ctx, queries); err != nil {
		return fmt.Errorf("rewrite costs: %w", err)
	}

	inserter := postgres.NewBatchInserter(s.txm)
	columns := []string{"transaction_id", "ord", "lot_id", "quantity", "unit_cost"}
	var rows [][]any
	for _, txn := range txns {
		for i, c := range txn.Consumptions {
			rows = append(rows, []any{txn.ID, i, c.LotID, c.Quantity, c.UnitCost})
		}
	}
	if len(rows) > 0 {
		if _, err := inserter.CopyFromSlice(ctx, consumptionsTable, columns, rows); err != nil {
			return fmt.Errorf("copy consumptions: %w", err)
		}
	}
	return nil
}

func transactionColumns() []string {
	return []string{
		"id", "seq", "product_id", "warehouse_id", "type", "record_type",
		"quantity", "unit_cost", "total_cost", "cost_derived",
		"reference", "method", "lot_id", "occurred_at", "created_at",
	}
}
