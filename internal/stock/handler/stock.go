package handler

import (
	"context"
	"net/http"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/service"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/kitchenflow/kitchenflow-backend/pkg/httputil"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// StockHandler handles ingredient, batch and transaction endpoints
type StockHandler struct {
	service *service.StockService
	logger  *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(svc *service.StockService, log *logger.Logger) *StockHandler {
	return &StockHandler{
		service: svc,
		logger:  log,
	}
}

type deductRequest struct {
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
	OrderID  int64           `json:"order_id" validate:"gte=0"`
}

type wasteRequest struct {
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
	Notes    string          `json:"notes" validate:"max=500"`
}

type adjustRequest struct {
	NewQuantity *decimal.Decimal `json:"new_quantity"`
	Notes       string           `json:"notes" validate:"max=500"`
}

type consumeRequest struct {
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
}

func actor(r *http.Request) int64 {
	id, _ := httputil.GetActorID(r.Context())
	return id
}

// decode reads and validates a request body, writing the error response on failure
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httputil.DecodeJSON(r, v); err != nil {
		httputil.Error(w, err)
		return false
	}
	if err := httputil.Validate(v); err != nil {
		httputil.Error(w, err)
		return false
	}
	return true
}

// GetIngredient returns the current stock of an ingredient
func (h *StockHandler) GetIngredient(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	ing, err := h.service.GetIngredient(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, ing)
}

// Balance compares aggregate stock with the batch ledger
func (h *StockHandler) Balance(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	balance, err := h.service.LedgerBalance(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"balance":    balance,
		"in_balance": balance.InBalance(),
	})
}

// ListBatches lists every batch of an ingredient, oldest first
func (h *StockHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	h.listBatches(w, r, h.service.ListBatches)
}

// ListConsumableBatches lists batches with stock left, in consumption order
func (h *StockHandler) ListConsumableBatches(w http.ResponseWriter, r *http.Request) {
	h.listBatches(w, r, h.service.ListConsumableBatches)
}

func (h *StockHandler) listBatches(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, id int64) ([]*repository.IngredientBatch, error)) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	batches, err := list(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, batches, &httputil.Meta{Count: len(batches)})
}

// Deduct consumes stock for an order or ad-hoc use
func (h *StockHandler) Deduct(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req deductRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.Deduct(r.Context(), service.Deduction{
		IngredientID: id,
		Quantity:     req.Quantity,
		OrderID:      req.OrderID,
		ActorID:      actor(r),
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Waste records discarded stock
func (h *StockHandler) Waste(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req wasteRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.RecordWaste(r.Context(), service.Waste{
		IngredientID: id,
		Quantity:     req.Quantity,
		ActorID:      actor(r),
		Notes:        req.Notes,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Adjust sets stock to a counted quantity
func (h *StockHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req adjustRequest
	if !decode(w, r, &req) {
		return
	}
	if req.NewQuantity == nil {
		httputil.Error(w, errors.Validation(map[string]string{"new_quantity": "this field is required"}))
		return
	}

	result, err := h.service.Adjust(r.Context(), service.Adjustment{
		IngredientID: id,
		NewQuantity:  *req.NewQuantity,
		ActorID:      actor(r),
		Notes:        req.Notes,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// ConsumeBatch draws directly from one batch
func (h *StockHandler) ConsumeBatch(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req consumeRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.ConsumeFromBatch(r.Context(), id, req.Quantity, actor(r))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// ListTransactions lists the movement log, newest first
func (h *StockHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ingredientID, err := httputil.QueryInt64(r, "ingredient_id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	txType := r.URL.Query().Get("type")
	switch txType {
	case "", repository.TransactionIn, repository.TransactionOut, repository.TransactionAdjustment, repository.TransactionWaste:
	default:
		httputil.Error(w, errors.BadRequest("invalid type"))
		return
	}

	limit := httputil.QueryLimit(r, 50, 500)
	txns, err := h.service.ListTransactions(r.Context(), repository.TransactionFilter{
		IngredientID: ingredientID,
		Type:         txType,
		Limit:        limit,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, txns, &httputil.Meta{Count: len(txns), Limit: limit})
}
