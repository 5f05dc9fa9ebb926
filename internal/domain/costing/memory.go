package costing

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
	"costledger/internal/core/tx"
)

// pairKey identifies a (product, warehouse) pair.
type pairKey struct {
	product   id.ID
	warehouse id.ID
}

// MemoryStore is an in-memory Store and transaction manager. It backs the
// engine's tests and serves as a reference implementation of the persistence
// contract: transactions are serialized and rolled back wholesale on error,
// like a database transaction would be.
type MemoryStore struct {
	txMu   sync.Mutex // serializes store transactions
	dataMu sync.RWMutex

	seq    int64
	states map[pairKey]*State
	log    []*Transaction
	byID   map[id.ID]*Transaction
}

type memTxKey struct{}

var (
	_ Store            = (*MemoryStore)(nil)
	_ tx.ReplayManager = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[pairKey]*State),
		byID:   make(map[id.ID]*Transaction),
	}
}

// RunInTransaction serializes transactions with a store-wide lock and
// restores the pre-transaction snapshot when fn fails. Nested calls join
// the enclosing transaction.
func (m *MemoryStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	snapshot := m.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

// RunInReplayTransaction is RunInTransaction; the memory store has a single
// isolation level.
func (m *MemoryStore) RunInReplayTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.RunInTransaction(ctx, fn)
}

// ReadOnly runs fn directly; every read is individually consistent under
// the data lock and state is loaded in one call.
func (m *MemoryStore) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// NextSeq allocates the next monotonic sequence value. Like a database
// sequence, values are not reclaimed on rollback.
func (m *MemoryStore) NextSeq(ctx context.Context) (int64, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.seq++
	return m.seq, nil
}

// LoadState returns a copy of the pair's state, lazily empty.
func (m *MemoryStore) LoadState(ctx context.Context, productID, warehouseID id.ID) (*State, error) {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()

	st, ok := m.states[pairKey{productID, warehouseID}]
	if !ok {
		return NewState(productID, warehouseID), nil
	}
	return cloneState(st), nil
}

// SaveState stores a copy of the pair's state.
func (m *MemoryStore) SaveState(ctx context.Context, st *State) error {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.states[pairKey{st.ProductID, st.WarehouseID}] = cloneState(st)
	return nil
}

// ReplaceState overwrites the pair's state. Identical to SaveState here
// since state is stored wholesale.
func (m *MemoryStore) ReplaceState(ctx context.Context, st *State) error {
	return m.SaveState(ctx, st)
}

// AppendTransaction appends a copy of the transaction to the log.
func (m *MemoryStore) AppendTransaction(ctx context.Context, txn *Transaction) error {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()

	if _, exists := m.byID[txn.ID]; exists {
		return apperror.NewConflict("transaction already recorded").WithDetail("id", txn.ID.String())
	}

	c := cloneTransaction(txn)
	m.log = append(m.log, c)
	m.byID[c.ID] = c
	return nil
}

// Transaction returns a copy of the transaction by ID.
func (m *MemoryStore) Transaction(ctx context.Context, txID id.ID) (*Transaction, error) {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()

	txn, ok := m.byID[txID]
	if !ok {
		return nil, apperror.NewNotFound("transaction", txID.String())
	}
	return cloneTransaction(txn), nil
}

// Transactions returns the pair's history in (OccurredAt, Seq) order.
func (m *MemoryStore) Transactions(ctx context.Context, productID, warehouseID id.ID) ([]*Transaction, error) {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()

	var out []*Transaction
	for _, txn := range m.log {
		if txn.ProductID == productID && txn.WarehouseID == warehouseID {
			out = append(out, cloneTransaction(txn))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].Seq < out[j].Seq
	})

	return out, nil
}

// AmendTransactionInput corrects quantity and/or unit cost inputs in place.
func (m *MemoryStore) AmendTransactionInput(ctx context.Context, txID id.ID, quantity, unitCost *decimal.Decimal) error {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()

	txn, ok := m.byID[txID]
	if !ok {
		return apperror.NewNotFound("transaction", txID.String())
	}
	if quantity != nil {
		txn.Quantity = *quantity
	}
	if unitCost != nil {
		txn.UnitCost = *unitCost
		txn.CostDerived = false
	}
	return nil
}

// RewriteTransactionCosts overwrites resolved cost fields from replayed
// transactions. Quantity and reference stay untouched.
func (m *MemoryStore) RewriteTransactionCosts(ctx context.Context, txns []*Transaction) error {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()

	for _, replayed := range txns {
		stored, ok := m.byID[replayed.ID]
		if !ok {
			return apperror.NewNotFound("transaction", replayed.ID.String())
		}
		stored.UnitCost = replayed.UnitCost
		stored.TotalCost = replayed.TotalCost
		stored.LotID = replayed.LotID
		stored.Consumptions = cloneConsumptions(replayed.Consumptions)
	}
	return nil
}

// snapshot deep-copies all mutable store data.
func (m *MemoryStore) snapshot() *MemoryStore {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()

	s := NewMemoryStore()
	for k, v := range m.states {
		s.states[k] = cloneState(v)
	}
	for _, txn := range m.log {
		c := cloneTransaction(txn)
		s.log = append(s.log, c)
		s.byID[c.ID] = c
	}
	return s
}

// restore swaps store data back to a snapshot.
func (m *MemoryStore) restore(s *MemoryStore) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.states = s.states
	m.log = s.log
	m.byID = s.byID
}

func cloneState(st *State) *State {
	c := &State{
		ProductID:   st.ProductID,
		WarehouseID: st.WarehouseID,
		Ledger: LotLedger{
			Deficit:      st.Ledger.Deficit,
			DeficitValue: st.Ledger.DeficitValue,
		},
		Balance: st.Balance,
	}
	for _, lot := range st.Ledger.Lots {
		l := *lot
		c.Ledger.Lots = append(c.Ledger.Lots, &l)
	}
	return c
}

func cloneTransaction(txn *Transaction) *Transaction {
	c := *txn
	if txn.LotID != nil {
		lotID := *txn.LotID
		c.LotID = &lotID
	}
	c.Consumptions = cloneConsumptions(txn.Consumptions)
	return &c
}

func cloneConsumptions(cs []LotConsumption) []LotConsumption {
	if cs == nil {
		return nil
	}
	out := make([]LotConsumption, len(cs))
	copy(out, cs)
	return out
}
