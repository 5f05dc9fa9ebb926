package costing

import (
	"context"

	"github.com/shopspring/decimal"

	"costledger/internal/core/id"
)

// Store is the persistence boundary for lots, balances and transactions.
// Each public engine operation commits its state mutation and transaction
// record together or not at all; the service opens that boundary through
// tx.Manager and Store methods participate in the transaction carried by
// ctx.
//
// Implementations: the in-memory store in this package and the PostgreSQL
// store in infrastructure/storage/postgres/costing_repo.
type Store interface {
	// NextSeq allocates the next value of the engine-wide monotonic
	// sequence used for transaction and lot ordering.
	NextSeq(ctx context.Context) (int64, error)

	// LoadState returns the pair's lot ledger and balance, empty when the
	// pair has no history yet.
	LoadState(ctx context.Context, productID, warehouseID id.ID) (*State, error)

	// SaveState upserts the pair's lots and balance.
	SaveState(ctx context.Context, st *State) error

	// ReplaceState overwrites the pair's state wholesale. Used by
	// recalculation to commit the replayed state.
	ReplaceState(ctx context.Context, st *State) error

	// AppendTransaction appends an immutable transaction record.
	AppendTransaction(ctx context.Context, txn *Transaction) error

	// Transaction returns a single transaction by ID.
	Transaction(ctx context.Context, txID id.ID) (*Transaction, error)

	// Transactions returns the pair's full history in ascending
	// (OccurredAt, Seq) order.
	Transactions(ctx context.Context, productID, warehouseID id.ID) ([]*Transaction, error)

	// AmendTransactionInput corrects the quantity and/or unit cost input of
	// a historical transaction. Cost results are not touched here; the
	// caller must recalculate from the transaction's timestamp.
	AmendTransactionInput(ctx context.Context, txID id.ID, quantity, unitCost *decimal.Decimal) error

	// RewriteTransactionCosts overwrites the resolved cost fields of the
	// given transactions after a replay. Quantity and reference are never
	// altered.
	RewriteTransactionCosts(ctx context.Context, txns []*Transaction) error
}
