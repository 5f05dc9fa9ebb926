package costing

import (
	"time"

	"github.com/shopspring/decimal"

	"costledger/internal/core/id"
	"costledger/internal/core/types"
)

// Balance is the sole mutable state for a (product, warehouse) pair under
// weighted-average costing. TotalValue is maintained incrementally by the
// same delta applied to quantity times the relevant cost; it is never
// re-derived by multiplying quantity by the rounded average, because that
// would compound rounding error across transactions.
type Balance struct {
	ProductID   id.ID          `db:"product_id" json:"productId"`
	WarehouseID id.ID          `db:"warehouse_id" json:"warehouseId"`
	Quantity    types.Quantity `db:"quantity" json:"quantity"`
	AvgCost     types.Money    `db:"avg_cost" json:"avgCost"`
	TotalValue  types.Money    `db:"total_value" json:"totalValue"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updatedAt"`
}

// NewBalance creates a zero balance for a pair. Balances are created lazily
// on the first movement and are never deleted.
func NewBalance(productID, warehouseID id.ID) Balance {
	return Balance{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    decimal.Zero,
		AvgCost:     decimal.Zero,
		TotalValue:  decimal.Zero,
	}
}

// ApplyReceipt blends an incoming quantity at unitCost into the balance and
// recomputes the average cost. When the resulting quantity is zero the
// average is defined as the incoming cost (division-by-zero policy).
//
// A receipt that lifts a negative balance back above zero reapplies the
// formula with the negative quantity as qty_old; the incremental TotalValue
// stands in for qty_old*avg_old.
func (b *Balance) ApplyReceipt(quantity, unitCost decimal.Decimal, prec Precision) (totalCost decimal.Decimal) {
	totalCost = quantity.Mul(unitCost).Round(prec.ValueScale)
	newQty := b.Quantity.Add(quantity)

	if newQty.IsZero() {
		b.AvgCost = unitCost.Round(prec.CostScale)
	} else {
		b.AvgCost = b.TotalValue.Add(totalCost).Div(newQty).Round(prec.CostScale)
	}

	b.Quantity = newQty
	b.TotalValue = b.TotalValue.Add(totalCost)
	return totalCost
}

// ApplyIssue removes quantity at the current average cost. The average cost
// is never changed by an issue; only quantity and total value decrease.
func (b *Balance) ApplyIssue(quantity decimal.Decimal, prec Precision) (totalCost decimal.Decimal) {
	totalCost = quantity.Mul(b.AvgCost).Round(prec.ValueScale)
	b.Quantity = b.Quantity.Sub(quantity)
	b.TotalValue = b.TotalValue.Sub(totalCost)
	return totalCost
}
