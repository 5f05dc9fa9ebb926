package dto

import (
	"time"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
	"costledger/internal/core/types"
	"costledger/internal/domain/costing"
)

// Quantities and costs travel as decimal strings, never floats: "120",
// "10.6667". Binary floating point cannot represent monetary values exactly.

// --- Request DTOs ---

// MovementRequest represents a receive or issue request.
type MovementRequest struct {
	ProductID   string     `json:"productId" binding:"required"`
	WarehouseID string     `json:"warehouseId" binding:"required"`
	Quantity    string     `json:"quantity" binding:"required"`
	UnitCost    string     `json:"unitCost,omitempty"`
	Reference   string     `json:"reference,omitempty"`
	OccurredAt  *time.Time `json:"occurredAt,omitempty"`
}

// ToMovement converts the request to a domain movement.
func (r *MovementRequest) ToMovement() (costing.Movement, error) {
	var m costing.Movement

	productID, err := id.Parse(r.ProductID)
	if err != nil {
		return m, apperror.NewValidation("invalid product id").WithDetail("product_id", r.ProductID)
	}
	warehouseID, err := id.Parse(r.WarehouseID)
	if err != nil {
		return m, apperror.NewValidation("invalid warehouse id").WithDetail("warehouse_id", r.WarehouseID)
	}
	quantity, err := types.NewQuantityFromString(r.Quantity)
	if err != nil {
		return m, apperror.NewValidation("invalid quantity").WithDetail("quantity", r.Quantity)
	}

	unitCost := types.Zero()
	if r.UnitCost != "" {
		unitCost, err = types.NewMoneyFromString(r.UnitCost)
		if err != nil {
			return m, apperror.NewValidation("invalid unit cost").WithDetail("unit_cost", r.UnitCost)
		}
	}

	m = costing.Movement{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    quantity,
		UnitCost:    unitCost,
		Reference:   r.Reference,
	}
	if r.OccurredAt != nil {
		m.OccurredAt = *r.OccurredAt
	}
	return m, nil
}

// AdjustmentRequest represents a signed stock correction. Quantity may be
// negative; unit cost is optional and only meaningful for positive
// adjustments.
type AdjustmentRequest struct {
	ProductID   string     `json:"productId" binding:"required"`
	WarehouseID string     `json:"warehouseId" binding:"required"`
	Quantity    string     `json:"quantity" binding:"required"`
	UnitCost    *string    `json:"unitCost,omitempty"`
	Reference   string     `json:"reference,omitempty"`
	OccurredAt  *time.Time `json:"occurredAt,omitempty"`
}

// ToAdjustment converts the request to a domain adjustment.
func (r *AdjustmentRequest) ToAdjustment() (costing.Adjustment, error) {
	var a costing.Adjustment

	productID, err := id.Parse(r.ProductID)
	if err != nil {
		return a, apperror.NewValidation("invalid product id").WithDetail("product_id", r.ProductID)
	}
	warehouseID, err := id.Parse(r.WarehouseID)
	if err != nil {
		return a, apperror.NewValidation("invalid warehouse id").WithDetail("warehouse_id", r.WarehouseID)
	}
	quantity, err := types.NewQuantityFromString(r.Quantity)
	if err != nil {
		return a, apperror.NewValidation("invalid quantity").WithDetail("quantity", r.Quantity)
	}

	a = costing.Adjustment{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    quantity,
		Reference:   r.Reference,
	}
	if r.UnitCost != nil {
		unitCost, err := types.NewMoneyFromString(*r.UnitCost)
		if err != nil {
			return a, apperror.NewValidation("invalid unit cost").WithDetail("unit_cost", *r.UnitCost)
		}
		a.UnitCost = &unitCost
	}
	if r.OccurredAt != nil {
		a.OccurredAt = *r.OccurredAt
	}
	return a, nil
}

// TransferRequest represents a warehouse-to-warehouse transfer.
type TransferRequest struct {
	ProductID      string     `json:"productId" binding:"required"`
	SrcWarehouseID string     `json:"srcWarehouseId" binding:"required"`
	DstWarehouseID string     `json:"dstWarehouseId" binding:"required"`
	Quantity       string     `json:"quantity" binding:"required"`
	Reference      string     `json:"reference,omitempty"`
	OccurredAt     *time.Time `json:"occurredAt,omitempty"`
}

// ToTransfer converts the request to a domain transfer.
func (r *TransferRequest) ToTransfer() (costing.Transfer, error) {
	var t costing.Transfer

	productID, err := id.Parse(r.ProductID)
	if err != nil {
		return t, apperror.NewValidation("invalid product id").WithDetail("product_id", r.ProductID)
	}
	srcID, err := id.Parse(r.SrcWarehouseID)
	if err != nil {
		return t, apperror.NewValidation("invalid source warehouse id").WithDetail("src_warehouse_id", r.SrcWarehouseID)
	}
	dstID, err := id.Parse(r.DstWarehouseID)
	if err != nil {
		return t, apperror.NewValidation("invalid destination warehouse id").WithDetail("dst_warehouse_id", r.DstWarehouseID)
	}
	quantity, err := types.NewQuantityFromString(r.Quantity)
	if err != nil {
		return t, apperror.NewValidation("invalid quantity").WithDetail("quantity", r.Quantity)
	}

	t = costing.Transfer{
		ProductID:      productID,
		SrcWarehouseID: srcID,
		DstWarehouseID: dstID,
		Quantity:       quantity,
		Reference:      r.Reference,
	}
	if r.OccurredAt != nil {
		t.OccurredAt = *r.OccurredAt
	}
	return t, nil
}

// RecalculateRequest triggers a cost replay for one pair from a timestamp.
type RecalculateRequest struct {
	ProductID   string    `json:"productId" binding:"required"`
	WarehouseID string    `json:"warehouseId" binding:"required"`
	From        time.Time `json:"from" binding:"required"`
}

// CorrectionRequest amends a historical transaction's inputs.
type CorrectionRequest struct {
	Quantity *string `json:"quantity,omitempty"`
	UnitCost *string `json:"unitCost,omitempty"`
}

// --- Response DTOs ---

// ConsumptionResponse is one lot slice of a FIFO issue.
type ConsumptionResponse struct {
	LotID    string `json:"lotId"`
	Quantity string `json:"quantity"`
	UnitCost string `json:"unitCost"`
}

// TransactionResponse represents a costing transaction in API responses.
type TransactionResponse struct {
	ID           string                `json:"id"`
	Seq          int64                 `json:"seq"`
	ProductID    string                `json:"productId"`
	WarehouseID  string                `json:"warehouseId"`
	Type         string                `json:"type"`
	RecordType   string                `json:"recordType"`
	Quantity     string                `json:"quantity"`
	UnitCost     string                `json:"unitCost"`
	TotalCost    string                `json:"totalCost"`
	CostDerived  bool                  `json:"costDerived"`
	Reference    string                `json:"reference,omitempty"`
	Method       string                `json:"method"`
	LotID        *string               `json:"lotId,omitempty"`
	Consumptions []ConsumptionResponse `json:"consumptions,omitempty"`
	OccurredAt   time.Time             `json:"occurredAt"`
	CreatedAt    time.Time             `json:"createdAt"`
}

// FromTransaction converts a domain transaction to a response DTO.
func FromTransaction(t *costing.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:          t.ID.String(),
		Seq:         t.Seq,
		ProductID:   t.ProductID.String(),
		WarehouseID: t.WarehouseID.String(),
		Type:        string(t.Type),
		RecordType:  string(t.RecordType),
		Quantity:    t.Quantity.String(),
		UnitCost:    t.UnitCost.String(),
		TotalCost:   t.TotalCost.String(),
		CostDerived: t.CostDerived,
		Reference:   t.Reference,
		Method:      string(t.Method),
		OccurredAt:  t.OccurredAt,
		CreatedAt:   t.CreatedAt,
	}
	if t.LotID != nil {
		s := t.LotID.String()
		resp.LotID = &s
	}
	for _, c := range t.Consumptions {
		resp.Consumptions = append(resp.Consumptions, ConsumptionResponse{
			LotID:    c.LotID.String(),
			Quantity: c.Quantity.String(),
			UnitCost: c.UnitCost.String(),
		})
	}
	return resp
}

// TransferResponse pairs the two records of a transfer.
type TransferResponse struct {
	Outbound TransactionResponse `json:"outbound"`
	Inbound  TransactionResponse `json:"inbound"`
}

// ValuationResponse reports a pair's on-hand quantity and inventory value.
type ValuationResponse struct {
	ProductID   string `json:"productId"`
	WarehouseID string `json:"warehouseId"`
	OnHand      string `json:"onHand"`
	Valuation   string `json:"valuation"`
}

// TransactionListResponse wraps a pair's transaction history.
type TransactionListResponse struct {
	Items []TransactionResponse `json:"items"`
	Total int                   `json:"total"`
}
