package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
	"costledger/internal/core/types"
	"costledger/internal/domain/costing"
	"costledger/internal/infrastructure/http/v1/dto"
)

// CostingHandler exposes the costing engine over HTTP.
type CostingHandler struct {
	*BaseHandler
	service *costing.Service
}

// NewCostingHandler creates a new costing handler.
func NewCostingHandler(base *BaseHandler, service *costing.Service) *CostingHandler {
	return &CostingHandler{
		BaseHandler: base,
		service:     service,
	}
}

// RegisterRoutes registers costing endpoints on the group.
func (h *CostingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/receive", h.Receive)
	rg.POST("/issue", h.Issue)
	rg.POST("/adjust", h.Adjust)
	rg.POST("/transfer", h.Transfer)
	rg.POST("/recalculate", h.Recalculate)
	rg.GET("/valuation", h.Valuation)
	rg.GET("/transactions", h.Transactions)
	rg.POST("/transactions/:id/correct", h.Correct)
}

// Receive handles POST /costing/receive
func (h *CostingHandler) Receive(c *gin.Context) {
	var req dto.MovementRequest
	if !h.BindJSON(c, &req) {
		return
	}

	m, err := req.ToMovement()
	if err != nil {
		h.Error(c, err)
		return
	}

	txn, err := h.service.Receive(c.Request.Context(), m)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromTransaction(txn))
}

// Issue handles POST /costing/issue
func (h *CostingHandler) Issue(c *gin.Context) {
	var req dto.MovementRequest
	if !h.BindJSON(c, &req) {
		return
	}

	m, err := req.ToMovement()
	if err != nil {
		h.Error(c, err)
		return
	}

	txn, err := h.service.Issue(c.Request.Context(), m)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromTransaction(txn))
}

// Adjust handles POST /costing/adjust
func (h *CostingHandler) Adjust(c *gin.Context) {
	var req dto.AdjustmentRequest
	if !h.BindJSON(c, &req) {
		return
	}

	a, err := req.ToAdjustment()
	if err != nil {
		h.Error(c, err)
		return
	}

	txn, err := h.service.Adjust(c.Request.Context(), a)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromTransaction(txn))
}

// Transfer handles POST /costing/transfer
func (h *CostingHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if !h.BindJSON(c, &req) {
		return
	}

	t, err := req.ToTransfer()
	if err != nil {
		h.Error(c, err)
		return
	}

	out, in, err := h.service.Transfer(c.Request.Context(), t)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.TransferResponse{
		Outbound: dto.FromTransaction(out),
		Inbound:  dto.FromTransaction(in),
	})
}

// Recalculate handles POST /costing/recalculate
func (h *CostingHandler) Recalculate(c *gin.Context) {
	var req dto.RecalculateRequest
	if !h.BindJSON(c, &req) {
		return
	}

	productID, err := id.Parse(req.ProductID)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid product id").WithDetail("product_id", req.ProductID))
		return
	}
	warehouseID, err := id.Parse(req.WarehouseID)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid warehouse id").WithDetail("warehouse_id", req.WarehouseID))
		return
	}

	if err := h.service.Recalculate(c.Request.Context(), productID, warehouseID, req.From); err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "recalculated")
}

// Correct handles POST /costing/transactions/:id/correct
func (h *CostingHandler) Correct(c *gin.Context) {
	txID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid transaction id").WithDetail("id", c.Param("id")))
		return
	}

	var req dto.CorrectionRequest
	if !h.BindJSON(c, &req) {
		return
	}

	var quantity, unitCost *decimal.Decimal
	if req.Quantity != nil {
		q, err := types.NewQuantityFromString(*req.Quantity)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid quantity").WithDetail("quantity", *req.Quantity))
			return
		}
		quantity = &q
	}
	if req.UnitCost != nil {
		uc, err := types.NewMoneyFromString(*req.UnitCost)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid unit cost").WithDetail("unit_cost", *req.UnitCost))
			return
		}
		unitCost = &uc
	}

	if err := h.service.CorrectTransaction(c.Request.Context(), txID, quantity, unitCost); err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "corrected")
}

// Valuation handles GET /costing/valuation?productId=...&warehouseId=...
func (h *CostingHandler) Valuation(c *gin.Context) {
	productID, warehouseID, ok := h.pairParams(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	value, err := h.service.Valuation(ctx, productID, warehouseID)
	if err != nil {
		h.Error(c, err)
		return
	}
	onHand, err := h.service.OnHand(ctx, productID, warehouseID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ValuationResponse{
		ProductID:   productID.String(),
		WarehouseID: warehouseID.String(),
		OnHand:      onHand.String(),
		Valuation:   value.String(),
	})
}

// Transactions handles GET /costing/transactions?productId=...&warehouseId=...
func (h *CostingHandler) Transactions(c *gin.Context) {
	productID, warehouseID, ok := h.pairParams(c)
	if !ok {
		return
	}

	txns, err := h.service.Transactions(c.Request.Context(), productID, warehouseID)
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(txns))
	for _, txn := range txns {
		items = append(items, dto.FromTransaction(txn))
	}
	h.OK(c, dto.TransactionListResponse{Items: items, Total: len(items)})
}

// pairParams parses the productId/warehouseId query pair.
func (h *CostingHandler) pairParams(c *gin.Context) (id.ID, id.ID, bool) {
	productID, err := id.Parse(c.Query("productId"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid product id").WithDetail("product_id", c.Query("productId")))
		return id.Nil(), id.Nil(), false
	}
	warehouseID, err := id.Parse(c.Query("warehouseId"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid warehouse id").WithDetail("warehouse_id", c.Query("warehouseId")))
		return id.Nil(), id.Nil(), false
	}
	return productID, warehouseID, true
}
