package costing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"costledger/internal/core/id"
	"costledger/internal/core/types"
)

// Lot is a purchased batch tracked under FIFO costing. The unit cost is fixed
// at creation and never changes; consumption only reduces RemainingQty.
// Lots are never deleted: a fully consumed lot stays in the ledger with
// remaining quantity zero for audit and aging.
type Lot struct {
	ID           id.ID           `db:"id" json:"id"`
	ProductID    id.ID           `db:"product_id" json:"productId"`
	WarehouseID  id.ID           `db:"warehouse_id" json:"warehouseId"`
	PurchasedAt  time.Time      `db:"purchased_at" json:"purchasedAt"`
	ReceivedQty  types.Quantity `db:"received_qty" json:"receivedQty"`
	RemainingQty types.Quantity `db:"remaining_qty" json:"remainingQty"`
	UnitCost     types.Money    `db:"unit_cost" json:"unitCost"`

	// Seq is a monotonic creation sequence used to break ties when purchase
	// timestamps collide. It equals the Seq of the transaction that created
	// the lot, which keeps replay deterministic.
	Seq       int64     `db:"seq" json:"seq"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Value returns the remaining value held by the lot.
func (l *Lot) Value() decimal.Decimal {
	return l.RemainingQty.Mul(l.UnitCost)
}

// LotLedger is the ordered set of lots for one (product, warehouse) pair.
// Consumption order is (PurchasedAt, Seq) ascending.
//
// When negative stock is permitted, issues that exceed on-hand quantity are
// tracked as a deficit: the unbacked units and the value expensed for them.
// Subsequent receipts retire the deficit before adding available inventory.
type LotLedger struct {
	Lots         []*Lot         `json:"lots"`
	Deficit      types.Quantity `json:"deficit"`
	DeficitValue types.Money    `json:"deficitValue"`
}

// NewLotLedger creates an empty ledger.
func NewLotLedger() LotLedger {
	return LotLedger{
		Deficit:      decimal.Zero,
		DeficitValue: decimal.Zero,
	}
}

// Add inserts a lot preserving (PurchasedAt, Seq) order.
func (l *LotLedger) Add(lot *Lot) {
	idx := sort.Search(len(l.Lots), func(i int) bool {
		if !l.Lots[i].PurchasedAt.Equal(lot.PurchasedAt) {
			return l.Lots[i].PurchasedAt.After(lot.PurchasedAt)
		}
		return l.Lots[i].Seq > lot.Seq
	})
	l.Lots = append(l.Lots, nil)
	copy(l.Lots[idx+1:], l.Lots[idx:])
	l.Lots[idx] = lot
}

// OnHand returns total quantity on hand: remaining across lots minus deficit.
func (l *LotLedger) OnHand() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range l.Lots {
		total = total.Add(lot.RemainingQty)
	}
	return total.Sub(l.Deficit)
}

// Valuation returns the total remaining value across lots, net of any
// deficit value expensed for unbacked units.
func (l *LotLedger) Valuation() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range l.Lots {
		if lot.RemainingQty.IsPositive() {
			total = total.Add(lot.Value())
		}
	}
	return total.Sub(l.DeficitValue)
}

// Consume reduces lots oldest-first until quantity is satisfied or the ledger
// is exhausted. Returns the per-lot portions, the total cost of the consumed
// units, and any unsatisfied shortfall. The caller decides whether a shortfall
// is an error (negative stock disallowed) or becomes a deficit.
func (l *LotLedger) Consume(quantity decimal.Decimal) (consumptions []LotConsumption, total decimal.Decimal, shortfall decimal.Decimal) {
	needed := quantity
	total = decimal.Zero

	for _, lot := range l.Lots {
		if !needed.IsPositive() {
			break
		}
		if !lot.RemainingQty.IsPositive() {
			continue
		}

		take := decimal.Min(lot.RemainingQty, needed)
		lot.RemainingQty = lot.RemainingQty.Sub(take)
		needed = needed.Sub(take)
		total = total.Add(take.Mul(lot.UnitCost))

		consumptions = append(consumptions, LotConsumption{
			LotID:    lot.ID,
			Quantity: take,
			UnitCost: lot.UnitCost,
		})
	}

	return consumptions, total, needed
}

// LastKnownCost returns the unit cost of the newest lot ever received,
// regardless of remaining quantity. Zero when the ledger has no lots.
// Used to price deficit units when issuing into negative stock.
func (l *LotLedger) LastKnownCost() decimal.Decimal {
	if len(l.Lots) == 0 {
		return decimal.Zero
	}
	return l.Lots[len(l.Lots)-1].UnitCost
}
