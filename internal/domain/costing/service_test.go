package costing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
)

type fixture struct {
	svc      *Service
	store    *MemoryStore
	resolver *StaticResolver
	product  id.ID
	wh       id.ID
	base     time.Time
}

func newFixture(t *testing.T, method Method) *fixture {
	t.Helper()
	store := NewMemoryStore()
	resolver := NewStaticResolver(method)
	return &fixture{
		svc:      NewService(store, store, resolver),
		store:    store,
		resolver: resolver,
		product:  id.New(),
		wh:       id.New(),
		base:     time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) receive(t *testing.T, hours int, qty, cost string) *Transaction {
	t.Helper()
	txn, err := f.svc.Receive(context.Background(), Movement{
		ProductID:   f.product,
		WarehouseID: f.wh,
		Quantity:    dec(qty),
		UnitCost:    dec(cost),
		Reference:   "PO-1",
		OccurredAt:  f.base.Add(time.Duration(hours) * time.Hour),
	})
	require.NoError(t, err)
	return txn
}

func (f *fixture) issue(t *testing.T, hours int, qty string) *Transaction {
	t.Helper()
	txn, err := f.svc.Issue(context.Background(), Movement{
		ProductID:   f.product,
		WarehouseID: f.wh,
		Quantity:    dec(qty),
		Reference:   "SO-1",
		OccurredAt:  f.base.Add(time.Duration(hours) * time.Hour),
	})
	require.NoError(t, err)
	return txn
}

func (f *fixture) valuation(t *testing.T) decimal.Decimal {
	t.Helper()
	v, err := f.svc.Valuation(context.Background(), f.product, f.wh)
	require.NoError(t, err)
	return v
}

func (f *fixture) onHand(t *testing.T) decimal.Decimal {
	t.Helper()
	q, err := f.svc.OnHand(context.Background(), f.product, f.wh)
	require.NoError(t, err)
	return q
}

func TestService_WorkedExample_FIFO(t *testing.T) {
	f := newFixture(t, MethodFIFO)

	f.receive(t, 1, "100", "10.00")
	f.receive(t, 2, "50", "12.00")

	issue := f.issue(t, 3, "120")
	assertDec(t, "1240.00", issue.TotalCost)
	assert.Len(t, issue.Consumptions, 2)
	assertDec(t, "360.00", f.valuation(t))
	assertDec(t, "30", f.onHand(t))

	f.receive(t, 4, "80", "11.50")
	assertDec(t, "1280.00", f.valuation(t))
	assertDec(t, "110", f.onHand(t))
}

func TestService_WorkedExample_WeightedAverage(t *testing.T) {
	f := newFixture(t, MethodWeightedAverage)

	f.receive(t, 1, "100", "10.00")
	f.receive(t, 2, "50", "12.00")

	issue := f.issue(t, 3, "120")
	assertDec(t, "1280.00", issue.TotalCost)
	assertDec(t, "10.6667", issue.UnitCost)
	assertDec(t, "320.00", f.valuation(t))
	assertDec(t, "30", f.onHand(t))

	f.receive(t, 4, "80", "11.50")
	assertDec(t, "1240.00", f.valuation(t))
	assertDec(t, "110", f.onHand(t))

	st, err := f.store.LoadState(context.Background(), f.product, f.wh)
	require.NoError(t, err)
	assertDec(t, "11.2727", st.Balance.AvgCost)
}

func TestService_Conservation(t *testing.T) {
	for _, method := range []Method{MethodFIFO, MethodWeightedAverage} {
		t.Run(string(method), func(t *testing.T) {
			f := newFixture(t, method)

			f.receive(t, 1, "30", "5.00")
			f.receive(t, 2, "20", "6.00")
			f.issue(t, 3, "25")
			f.receive(t, 4, "10", "5.50")
			f.issue(t, 5, "15")

			// 30 + 20 + 10 - 25 - 15 = 20
			assertDec(t, "20", f.onHand(t))
		})
	}
}

func TestService_InsufficientStockLeavesStateUnchanged(t *testing.T) {
	for _, method := range []Method{MethodFIFO, MethodWeightedAverage} {
		t.Run(string(method), func(t *testing.T) {
			f := newFixture(t, method)
			f.receive(t, 1, "10", "10.00")

			_, err := f.svc.Issue(context.Background(), Movement{
				ProductID:   f.product,
				WarehouseID: f.wh,
				Quantity:    dec("20"),
				OccurredAt:  f.base.Add(2 * time.Hour),
			})
			require.Error(t, err)
			assert.True(t, apperror.IsInsufficientStock(err))

			assertDec(t, "10", f.onHand(t))
			assertDec(t, "100.00", f.valuation(t))

			txns, err := f.svc.Transactions(context.Background(), f.product, f.wh)
			require.NoError(t, err)
			assert.Len(t, txns, 1)
		})
	}
}

func TestService_NegativeStockPermitted(t *testing.T) {
	f := newFixture(t, MethodWeightedAverage)
	f.resolver.NegativeStock = true

	f.receive(t, 1, "10", "4.00")
	issue := f.issue(t, 2, "25")

	assertDec(t, "100.00", issue.TotalCost)
	assertDec(t, "-15", f.onHand(t))
}

func TestService_AdjustBehavesLikeReceiptAndIssue(t *testing.T) {
	f := newFixture(t, MethodFIFO)
	f.receive(t, 1, "10", "10.00")

	cost := dec("8.00")
	up, err := f.svc.Adjust(context.Background(), Adjustment{
		ProductID:   f.product,
		WarehouseID: f.wh,
		Quantity:    dec("5"),
		UnitCost:    &cost,
		Reference:   "INV-1",
		OccurredAt:  f.base.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, RecordTypeReceipt, up.RecordType)
	assert.NotNil(t, up.LotID)
	assertDec(t, "140.00", f.valuation(t))

	// Negative adjustment consumes from the oldest lot first.
	down, err := f.svc.Adjust(context.Background(), Adjustment{
		ProductID:   f.product,
		WarehouseID: f.wh,
		Quantity:    dec("-8"),
		Reference:   "INV-1",
		OccurredAt:  f.base.Add(3 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, RecordTypeExpense, down.RecordType)
	assertDec(t, "80.00", down.TotalCost)
	assertDec(t, "7", f.onHand(t))
}

func TestService_AdjustWithoutCostDerivesFromState(t *testing.T) {
	f := newFixture(t, MethodWeightedAverage)
	f.receive(t, 1, "10", "4.00")

	up, err := f.svc.Adjust(context.Background(), Adjustment{
		ProductID:   f.product,
		WarehouseID: f.wh,
		Quantity:    dec("5"),
		Reference:   "INV-2",
		OccurredAt:  f.base.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, up.CostDerived)
	assertDec(t, "4", up.UnitCost)
	assertDec(t, "60.00", f.valuation(t))
}

func TestService_TransferPreservesTotalValue(t *testing.T) {
	for _, method := range []Method{MethodFIFO, MethodWeightedAverage} {
		t.Run(string(method), func(t *testing.T) {
			f := newFixture(t, method)
			dst := id.New()

			f.receive(t, 1, "100", "10.00")
			f.receive(t, 2, "50", "12.00")
			before := f.valuation(t)

			out, in, err := f.svc.Transfer(context.Background(), Transfer{
				ProductID:      f.product,
				SrcWarehouseID: f.wh,
				DstWarehouseID: dst,
				Quantity:       dec("120"),
				Reference:      "TR-1",
				OccurredAt:     f.base.Add(3 * time.Hour),
			})
			require.NoError(t, err)
			assert.Equal(t, TypeTransferOut, out.Type)
			assert.Equal(t, TypeTransferIn, in.Type)
			assertDec(t, out.TotalCost.String(), in.TotalCost)

			srcVal := f.valuation(t)
			dstVal, err := f.svc.Valuation(context.Background(), f.product, dst)
			require.NoError(t, err)

			assertDec(t, before.String(), srcVal.Add(dstVal))

			dstQty, err := f.svc.OnHand(context.Background(), f.product, dst)
			require.NoError(t, err)
			assertDec(t, "120", dstQty)
		})
	}
}

func TestService_TransferIntoSameWarehouseRejected(t *testing.T) {
	f := newFixture(t, MethodFIFO)
	_, _, err := f.svc.Transfer(context.Background(), Transfer{
		ProductID:      f.product,
		SrcWarehouseID: f.wh,
		DstWarehouseID: f.wh,
		Quantity:       dec("10"),
	})
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestService_InvalidQuantityRejected(t *testing.T) {
	f := newFixture(t, MethodFIFO)

	_, err := f.svc.Receive(context.Background(), Movement{
		ProductID: f.product, WarehouseID: f.wh, Quantity: dec("0"),
	})
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidQuantity))
	assert.Contains(t, err.Error(), "must be positive")

	_, err = f.svc.Issue(context.Background(), Movement{
		ProductID: f.product, WarehouseID: f.wh, Quantity: dec("-5"),
	})
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidQuantity))

	// Adjustments accept either sign; only zero is invalid, and the error
	// says so instead of demanding a positive quantity.
	_, err = f.svc.Adjust(context.Background(), Adjustment{
		ProductID: f.product, WarehouseID: f.wh, Quantity: dec("0"),
	})
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidQuantity))
	assert.Contains(t, err.Error(), "must be non-zero")
}

func TestService_UnresolvableMethodIsConfigurationConflict(t *testing.T) {
	f := newFixture(t, Method("standard_cost"))

	_, err := f.svc.Receive(context.Background(), Movement{
		ProductID: f.product, WarehouseID: f.wh, Quantity: dec("1"), UnitCost: dec("1"),
	})
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeConfigurationConflict))
}

func TestService_MethodResolvedPerCall(t *testing.T) {
	f := newFixture(t, MethodWeightedAverage)
	f.receive(t, 1, "10", "10.00")

	// Administrative switch at a period boundary: later movements use the
	// new method, prior transactions keep the one they were recorded under.
	f.resolver.ProductMethods[f.product] = MethodFIFO
	txn := f.receive(t, 2, "5", "12.00")

	assert.Equal(t, MethodFIFO, txn.Method)

	txns, err := f.svc.Transactions(context.Background(), f.product, f.wh)
	require.NoError(t, err)
	assert.Equal(t, MethodWeightedAverage, txns[0].Method)
	assert.Equal(t, MethodFIFO, txns[1].Method)
}

func TestService_ConcurrentMovementsConserveQuantity(t *testing.T) {
	f := newFixture(t, MethodFIFO)
	other := id.New()
	f.resolver.ProductMethods[other] = MethodWeightedAverage

	ctx := context.Background()
	const workers = 8
	const rounds = 20

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			product := f.product
			if worker%2 == 1 {
				product = other
			}
			for i := 0; i < rounds; i++ {
				_, err := f.svc.Receive(ctx, Movement{
					ProductID:   product,
					WarehouseID: f.wh,
					Quantity:    dec("2"),
					UnitCost:    dec("3.00"),
				})
				assert.NoError(t, err)
				_, err = f.svc.Issue(ctx, Movement{
					ProductID:   product,
					WarehouseID: f.wh,
					Quantity:    dec("1"),
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	// Half the workers per product: each did rounds*(2-1) net units.
	expected := decimal.NewFromInt(int64(workers / 2 * rounds))
	assertDec(t, expected.String(), f.onHand(t))

	otherQty, err := f.svc.OnHand(ctx, other, f.wh)
	require.NoError(t, err)
	assertDec(t, expected.String(), otherQty)
}
