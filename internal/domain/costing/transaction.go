package costing

import (
	"time"

	"github.com/shopspring/decimal"

	"costledger/internal/core/id"
	"costledger/internal/core/types"
)

// TransactionType identifies the kind of inventory movement.
type TransactionType string

const (
	TypeReceive     TransactionType = "receive"
	TypeIssue       TransactionType = "issue"
	TypeAdjust      TransactionType = "adjust"
	TypeTransferIn  TransactionType = "transfer_in"
	TypeTransferOut TransactionType = "transfer_out"
)

// RecordType defines movement direction.
type RecordType string

const (
	// RecordTypeReceipt increases the balance
	RecordTypeReceipt RecordType = "receipt"
	// RecordTypeExpense decreases the balance
	RecordTypeExpense RecordType = "expense"
)

// LotConsumption is one (lot, quantity, unit cost) slice that satisfied part
// of a FIFO issue. A nil lot ID marks units issued into negative stock with
// no backing lot.
type LotConsumption struct {
	LotID    id.ID          `json:"lotId"`
	Quantity types.Quantity `json:"quantity"`
	UnitCost types.Money    `json:"unitCost"`
}

// Transaction is the immutable record of one inventory movement and its
// resolved cost. Quantity and Reference never change after the record is
// written; UnitCost, TotalCost and Consumptions may be rewritten, but only
// by a correction-triggered recalculation replaying from an earlier state.
type Transaction struct {
	ID  id.ID `db:"id" json:"id"`
	Seq int64 `db:"seq" json:"seq"`

	ProductID   id.ID `db:"product_id" json:"productId"`
	WarehouseID id.ID `db:"warehouse_id" json:"warehouseId"`

	Type       TransactionType `db:"type" json:"type"`
	RecordType RecordType      `db:"record_type" json:"recordType"`

	// Quantity is always positive; RecordType carries the direction.
	Quantity types.Quantity `db:"quantity" json:"quantity"`

	// UnitCost is an input on receipt-like movements and a computed result
	// on issues. CostDerived marks receipt costs that were derived from
	// ledger state (e.g. positive adjustment without an explicit cost) and
	// must therefore be re-derived during replay.
	UnitCost    types.Money `db:"unit_cost" json:"unitCost"`
	TotalCost   types.Money `db:"total_cost" json:"totalCost"`
	CostDerived bool        `db:"cost_derived" json:"costDerived"`

	Reference string `db:"reference" json:"reference"`
	Method    Method `db:"method" json:"method"`

	// LotID is the lot created by this movement under FIFO (receipts and
	// positive adjustments). Preserved across replay so recreated lots keep
	// their identity.
	LotID *id.ID `db:"lot_id" json:"lotId,omitempty"`

	// Consumptions lists the lot slices that satisfied a FIFO issue.
	Consumptions []LotConsumption `db:"-" json:"consumptions,omitempty"`

	// OccurredAt is the business timestamp; CreatedAt is wall-clock insert time.
	OccurredAt time.Time `db:"occurred_at" json:"occurredAt"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// SignedQuantity returns quantity with sign based on record type.
func (t *Transaction) SignedQuantity() decimal.Decimal {
	if t.RecordType == RecordTypeExpense {
		return t.Quantity.Neg()
	}
	return t.Quantity
}

// resetComputed clears the fields that replay recomputes.
func (t *Transaction) resetComputed() {
	if t.RecordType == RecordTypeExpense {
		t.UnitCost = decimal.Zero
	}
	t.TotalCost = decimal.Zero
	t.Consumptions = nil
}

// Movement is a receive or issue request. Quantity must be strictly
// positive; UnitCost applies to receipts only.
type Movement struct {
	ProductID   id.ID
	WarehouseID id.ID
	Quantity    types.Quantity
	UnitCost    types.Money
	Reference   string
	OccurredAt  time.Time
}

// Adjustment is a signed stock correction. A positive quantity behaves like
// a receipt, a negative one like an issue. UnitCost is optional: when nil,
// the cost is derived from current ledger state (newest lot cost under FIFO,
// current average under weighted average).
type Adjustment struct {
	ProductID   id.ID
	WarehouseID id.ID
	Quantity    types.Quantity
	UnitCost    *types.Money
	Reference   string
	OccurredAt  time.Time
}

// Transfer moves quantity between two warehouses of the same product. The
// destination receipt is priced at the weighted cost of the units actually
// consumed at the source, preserving cost continuity across the boundary.
type Transfer struct {
	ProductID      id.ID
	SrcWarehouseID id.ID
	DstWarehouseID id.ID
	Quantity       types.Quantity
	Reference      string
	OccurredAt     time.Time
}
