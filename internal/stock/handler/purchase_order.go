package handler

import (
	"net/http"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/service"
	"github.com/kitchenflow/kitchenflow-backend/pkg/httputil"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// PurchaseOrderHandler handles receiving endpoints
type PurchaseOrderHandler struct {
	service *service.StockService
	logger  *logger.Logger
}

// NewPurchaseOrderHandler creates a new purchase order handler
func NewPurchaseOrderHandler(svc *service.StockService, log *logger.Logger) *PurchaseOrderHandler {
	return &PurchaseOrderHandler{
		service: svc,
		logger:  log,
	}
}

type receiveRequest struct {
	ReceivedDate *time.Time           `json:"received_date"`
	Lines        []receiveLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type receiveLineRequest struct {
	OrderItemID      int64           `json:"order_item_id" validate:"gt=0"`
	ReceivedQuantity decimal.Decimal `json:"received_quantity" validate:"gte=0"`
	BatchNumber      string          `json:"batch_number" validate:"max=100"`
	ExpiryDate       *time.Time      `json:"expiry_date"`
}

// Get returns a purchase order with its lines
func (h *PurchaseOrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	po, items, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"order": po,
		"items": items,
	})
}

// Receive books delivered goods into stock
func (h *PurchaseOrderHandler) Receive(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req receiveRequest
	if !decode(w, r, &req) {
		return
	}

	receipt := service.Receipt{
		PurchaseOrderID: id,
		ReceivedDate:    req.ReceivedDate,
		ActorID:         actor(r),
		Lines:           make([]service.ReceiptLine, len(req.Lines)),
	}
	for i, line := range req.Lines {
		receipt.Lines[i] = service.ReceiptLine{
			OrderItemID:      line.OrderItemID,
			ReceivedQuantity: line.ReceivedQuantity,
			BatchNumber:      line.BatchNumber,
			ExpiryDate:       line.ExpiryDate,
		}
	}

	result, err := h.service.Receive(r.Context(), receipt)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	h.logger.Info().
		Int64("purchase_order_id", id).
		Int("batches", len(result.Batches)).
		Msg("purchase order received")

	httputil.JSON(w, http.StatusOK, result)
}

// Cancel cancels an open purchase order
func (h *PurchaseOrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	po, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, po)
}
