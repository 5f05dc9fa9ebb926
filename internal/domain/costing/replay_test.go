package costing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
)

func TestCorrectTransaction_FIFO_RipplesThroughHistory(t *testing.T) {
	f := newFixture(t, MethodFIFO)
	ctx := context.Background()

	t1 := f.receive(t, 1, "100", "10.00")
	f.issue(t, 2, "60")
	f.receive(t, 3, "50", "12.00")
	f.issue(t, 4, "50")

	cost := dec("11.00")
	require.NoError(t, f.svc.CorrectTransaction(ctx, t1.ID, nil, &cost))

	txns, err := f.svc.Transactions(ctx, f.product, f.wh)
	require.NoError(t, err)
	require.Len(t, txns, 4)

	assertDec(t, "11.00", txns[0].UnitCost)
	assertDec(t, "1100.00", txns[0].TotalCost)
	// First issue now consumes 60 @ 11.00.
	assertDec(t, "660.00", txns[1].TotalCost)
	// Untouched receipt keeps its input cost.
	assertDec(t, "600.00", txns[2].TotalCost)
	// Second issue spans the repriced lot and the later one: 40@11 + 10@12.
	assertDec(t, "560.00", txns[3].TotalCost)
	assert.Len(t, txns[3].Consumptions, 2)

	assertDec(t, "40", f.onHand(t))
	assertDec(t, "480.00", f.valuation(t))
}

func TestCorrectTransaction_WeightedAverage_RecomputesAverage(t *testing.T) {
	f := newFixture(t, MethodWeightedAverage)
	ctx := context.Background()

	f.receive(t, 1, "100", "10.00")
	t2 := f.receive(t, 2, "50", "12.00")
	f.issue(t, 3, "120")

	cost := dec("14.00")
	require.NoError(t, f.svc.CorrectTransaction(ctx, t2.ID, nil, &cost))

	txns, err := f.svc.Transactions(ctx, f.product, f.wh)
	require.NoError(t, err)
	require.Len(t, txns, 3)

	// avg = (1000 + 700) / 150 = 11.3333
	assertDec(t, "11.3333", txns[2].UnitCost)
	assertDec(t, "1360.00", txns[2].TotalCost)

	assertDec(t, "30", f.onHand(t))
	assertDec(t, "340.00", f.valuation(t))
}

func TestCorrectTransaction_QuantityAmendment(t *testing.T) {
	f := newFixture(t, MethodFIFO)
	ctx := context.Background()

	t1 := f.receive(t, 1, "100", "10.00")
	f.issue(t, 2, "60")

	qty := dec("80")
	require.NoError(t, f.svc.CorrectTransaction(ctx, t1.ID, &qty, nil))

	assertDec(t, "20", f.onHand(t))
	assertDec(t, "200.00", f.valuation(t))
}

func TestCorrectTransaction_DivergenceRollsBackEverything(t *testing.T) {
	f := newFixture(t, MethodFIFO)
	ctx := context.Background()

	t1 := f.receive(t, 1, "100", "10.00")
	f.issue(t, 2, "100")

	// Shrinking the receipt makes the later issue impossible to satisfy.
	qty := dec("50")
	err := f.svc.CorrectTransaction(ctx, t1.ID, &qty, nil)
	require.Error(t, err)
	assert.True(t, apperror.IsReplayDivergence(err))
	assert.Contains(t, err.Error(), apperror.CodeInsufficientStock)

	// The amendment and every rewrite rolled back with the replay.
	txns, lerr := f.svc.Transactions(ctx, f.product, f.wh)
	require.NoError(t, lerr)
	require.Len(t, txns, 2)
	assertDec(t, "100", txns[0].Quantity)
	assertDec(t, "1000.00", txns[0].TotalCost)
	assertDec(t, "1000.00", txns[1].TotalCost)

	assertDec(t, "0", f.onHand(t))
	assertDec(t, "0.00", f.valuation(t))
}

func TestCorrectTransaction_InputValidation(t *testing.T) {
	f := newFixture(t, MethodFIFO)
	ctx := context.Background()

	t1 := f.receive(t, 1, "10", "10.00")
	t2 := f.issue(t, 2, "5")

	err := f.svc.CorrectTransaction(ctx, t1.ID, nil, nil)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))

	zero := dec("0")
	err = f.svc.CorrectTransaction(ctx, t1.ID, &zero, nil)
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidQuantity))

	// Expenses have no cost input; their cost is always derived.
	cost := dec("9.00")
	err = f.svc.CorrectTransaction(ctx, t2.ID, nil, &cost)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestRecalculate_Idempotent(t *testing.T) {
	for _, method := range []Method{MethodFIFO, MethodWeightedAverage} {
		t.Run(string(method), func(t *testing.T) {
			f := newFixture(t, method)
			ctx := context.Background()

			f.receive(t, 1, "100", "10.00")
			f.receive(t, 2, "50", "12.00")
			f.issue(t, 3, "120")
			f.receive(t, 4, "80", "11.50")

			require.NoError(t, f.svc.Recalculate(ctx, f.product, f.wh, f.base))
			first, err := f.svc.Transactions(ctx, f.product, f.wh)
			require.NoError(t, err)
			val1 := f.valuation(t)

			require.NoError(t, f.svc.Recalculate(ctx, f.product, f.wh, f.base))
			second, err := f.svc.Transactions(ctx, f.product, f.wh)
			require.NoError(t, err)

			require.Len(t, second, len(first))
			for i := range first {
				assert.Equal(t, first[i].ID, second[i].ID)
				assert.Equal(t, first[i].Seq, second[i].Seq)
				assertDec(t, first[i].UnitCost.String(), second[i].UnitCost)
				assertDec(t, first[i].TotalCost.String(), second[i].TotalCost)
			}
			assertDec(t, val1.String(), f.valuation(t))
		})
	}
}

func TestRecalculate_MatchesLiveComputation(t *testing.T) {
	f := newFixture(t, MethodFIFO)
	ctx := context.Background()

	f.receive(t, 1, "100", "10.00")
	issue := f.issue(t, 2, "60")
	liveCost := issue.TotalCost
	liveVal := f.valuation(t)

	require.NoError(t, f.svc.Recalculate(ctx, f.product, f.wh, f.base))

	txns, err := f.svc.Transactions(ctx, f.product, f.wh)
	require.NoError(t, err)
	assertDec(t, liveCost.String(), txns[1].TotalCost)
	assertDec(t, liveVal.String(), f.valuation(t))
}

func TestRecalculate_MethodSwitchHistory(t *testing.T) {
	f := newFixture(t, MethodWeightedAverage)
	ctx := context.Background()

	f.receive(t, 1, "100", "10.00")
	f.receive(t, 2, "50", "12.00")
	f.issue(t, 3, "30")

	// Administrative switch mid-history: later movements are recorded under
	// FIFO, earlier ones keep weighted average.
	f.resolver.ProductMethods[f.product] = MethodFIFO
	f.receive(t, 4, "40", "11.00")
	f.issue(t, 5, "20")

	before, err := f.svc.Transactions(ctx, f.product, f.wh)
	require.NoError(t, err)
	require.Len(t, before, 5)
	assert.Equal(t, MethodWeightedAverage, before[2].Method)
	assert.Equal(t, MethodFIFO, before[4].Method)
	valBefore := f.valuation(t)

	require.NoError(t, f.svc.Recalculate(ctx, f.product, f.wh, f.base))

	// Each transaction replays under its recorded method, so the replay
	// reproduces the live costs exactly across the switch.
	after, err := f.svc.Transactions(ctx, f.product, f.wh)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Method, after[i].Method)
		assertDec(t, before[i].UnitCost.String(), after[i].UnitCost)
		assertDec(t, before[i].TotalCost.String(), after[i].TotalCost)
	}
	assertDec(t, valBefore.String(), f.valuation(t))
}

// replayTxRecorder counts which transaction mode the service opens.
type replayTxRecorder struct {
	*MemoryStore
	defaultCalls int
	replayCalls  int
}

func (r *replayTxRecorder) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	r.defaultCalls++
	return r.MemoryStore.RunInTransaction(ctx, fn)
}

func (r *replayTxRecorder) RunInReplayTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	r.replayCalls++
	return r.MemoryStore.RunInReplayTransaction(ctx, fn)
}

func TestRecalculate_RunsInReplayTransaction(t *testing.T) {
	store := NewMemoryStore()
	recorder := &replayTxRecorder{MemoryStore: store}
	svc := NewService(store, recorder, NewStaticResolver(MethodFIFO))
	ctx := context.Background()
	product, wh := id.New(), id.New()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	t1, err := svc.Receive(ctx, Movement{
		ProductID: product, WarehouseID: wh,
		Quantity: dec("100"), UnitCost: dec("10.00"),
		OccurredAt: base,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, recorder.defaultCalls)
	assert.Equal(t, 0, recorder.replayCalls)

	require.NoError(t, svc.Recalculate(ctx, product, wh, base))
	assert.Equal(t, 1, recorder.replayCalls)

	cost := dec("11.00")
	require.NoError(t, svc.CorrectTransaction(ctx, t1.ID, nil, &cost))
	assert.Equal(t, 2, recorder.replayCalls)
	assert.Equal(t, 1, recorder.defaultCalls)
}

func TestRecalculate_PreservesLotIdentity(t *testing.T) {
	f := newFixture(t, MethodFIFO)
	ctx := context.Background()

	t1 := f.receive(t, 1, "100", "10.00")
	require.NotNil(t, t1.LotID)

	require.NoError(t, f.svc.Recalculate(ctx, f.product, f.wh, f.base))

	st, err := f.store.LoadState(ctx, f.product, f.wh)
	require.NoError(t, err)
	require.Len(t, st.Ledger.Lots, 1)
	assert.Equal(t, *t1.LotID, st.Ledger.Lots[0].ID)
	assert.Equal(t, t1.Seq, st.Ledger.Lots[0].Seq)
}
