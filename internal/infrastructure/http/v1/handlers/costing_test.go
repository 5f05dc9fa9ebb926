package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costledger/internal/core/id"
	"costledger/internal/domain/costing"
	"costledger/internal/infrastructure/http/v1/dto"
	"costledger/internal/infrastructure/http/v1/middleware"
)

func newTestRouter(t *testing.T, method costing.Method) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := costing.NewMemoryStore()
	service := costing.NewService(store, store, costing.NewStaticResolver(method))

	router := gin.New()
	router.Use(middleware.ErrorHandler())

	handler := NewCostingHandler(NewBaseHandler(), service)
	handler.RegisterRoutes(router.Group("/api/v1/costing"))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, httpMethod, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(httpMethod, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCostingHandler_ReceiveIssueValuation(t *testing.T) {
	router := newTestRouter(t, costing.MethodFIFO)
	productID := id.New().String()
	warehouseID := id.New().String()

	w := doJSON(t, router, http.MethodPost, "/api/v1/costing/receive", dto.MovementRequest{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    "100",
		UnitCost:    "10.00",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/costing/receive", dto.MovementRequest{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    "50",
		UnitCost:    "12.00",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/costing/issue", dto.MovementRequest{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    "120",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var issued dto.TransactionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	assert.Equal(t, "1240", issued.TotalCost)
	assert.Len(t, issued.Consumptions, 2)

	w = doJSON(t, router, http.MethodGet,
		"/api/v1/costing/valuation?productId="+productID+"&warehouseId="+warehouseID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var valuation dto.ValuationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &valuation))
	assert.Equal(t, "360", valuation.Valuation)
	assert.Equal(t, "30", valuation.OnHand)
}

func TestCostingHandler_InsufficientStockResponse(t *testing.T) {
	router := newTestRouter(t, costing.MethodWeightedAverage)
	productID := id.New().String()
	warehouseID := id.New().String()

	w := doJSON(t, router, http.MethodPost, "/api/v1/costing/receive", dto.MovementRequest{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    "10",
		UnitCost:    "5.00",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/costing/issue", dto.MovementRequest{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    "20",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var errResp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "INSUFFICIENT_STOCK", errResp.Code)
	assert.Equal(t, "20", errResp.Details["requested"])
	assert.Equal(t, "10", errResp.Details["available"])
}

func TestCostingHandler_ValidationErrors(t *testing.T) {
	router := newTestRouter(t, costing.MethodFIFO)

	// Missing required fields
	w := doJSON(t, router, http.MethodPost, "/api/v1/costing/receive", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Malformed product id
	w = doJSON(t, router, http.MethodPost, "/api/v1/costing/issue", dto.MovementRequest{
		ProductID:   "not-a-uuid",
		WarehouseID: id.New().String(),
		Quantity:    "5",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Zero quantity
	w = doJSON(t, router, http.MethodPost, "/api/v1/costing/receive", dto.MovementRequest{
		ProductID:   id.New().String(),
		WarehouseID: id.New().String(),
		Quantity:    "0",
		UnitCost:    "1.00",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Malformed valuation query
	w = doJSON(t, router, http.MethodGet, "/api/v1/costing/valuation?productId=x&warehouseId=y", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCostingHandler_TransferAndHistory(t *testing.T) {
	router := newTestRouter(t, costing.MethodWeightedAverage)
	productID := id.New().String()
	src := id.New().String()
	dst := id.New().String()

	w := doJSON(t, router, http.MethodPost, "/api/v1/costing/receive", dto.MovementRequest{
		ProductID:   productID,
		WarehouseID: src,
		Quantity:    "40",
		UnitCost:    "2.50",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/costing/transfer", dto.TransferRequest{
		ProductID:      productID,
		SrcWarehouseID: src,
		DstWarehouseID: dst,
		Quantity:       "15",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var transfer dto.TransferResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &transfer))
	assert.Equal(t, "transfer_out", transfer.Outbound.Type)
	assert.Equal(t, "transfer_in", transfer.Inbound.Type)
	assert.Equal(t, transfer.Outbound.TotalCost, transfer.Inbound.TotalCost)

	w = doJSON(t, router, http.MethodGet,
		"/api/v1/costing/transactions?productId="+productID+"&warehouseId="+src, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list dto.TransactionListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Total)
}

func TestCostingHandler_CorrectTransaction(t *testing.T) {
	router := newTestRouter(t, costing.MethodFIFO)
	productID := id.New().String()
	warehouseID := id.New().String()

	w := doJSON(t, router, http.MethodPost, "/api/v1/costing/receive", dto.MovementRequest{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    "100",
		UnitCost:    "10.00",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var receipt dto.TransactionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))

	w = doJSON(t, router, http.MethodPost, "/api/v1/costing/issue", dto.MovementRequest{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    "60",
	})
	require.Equal(t, http.StatusOK, w.Code)

	newCost := "11.00"
	w = doJSON(t, router, http.MethodPost,
		"/api/v1/costing/transactions/"+receipt.ID+"/correct",
		dto.CorrectionRequest{UnitCost: &newCost})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet,
		"/api/v1/costing/valuation?productId="+productID+"&warehouseId="+warehouseID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var valuation dto.ValuationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &valuation))
	// 40 remaining at the corrected 11.00 cost.
	assert.Equal(t, "440", valuation.Valuation)
}
