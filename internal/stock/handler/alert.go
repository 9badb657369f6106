package handler

import (
	"net/http"
	"strconv"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/service"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/kitchenflow/kitchenflow-backend/pkg/httputil"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
)

// AlertHandler handles alert endpoints
type AlertHandler struct {
	service *service.StockService
	scanner *service.AlertScanner
	logger  *logger.Logger
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(svc *service.StockService, scanner *service.AlertScanner, log *logger.Logger) *AlertHandler {
	return &AlertHandler{
		service: svc,
		scanner: scanner,
		logger:  log,
	}
}

// List lists alerts, newest first
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	ingredientID, err := httputil.QueryInt64(r, "ingredient_id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	f := repository.AlertFilter{
		IngredientID: ingredientID,
		Type:         r.URL.Query().Get("type"),
		Limit:        httputil.QueryLimit(r, 50, 500),
	}
	switch f.Type {
	case "", repository.AlertLowStock, repository.AlertExpiringSoon, repository.AlertExpired:
	default:
		httputil.Error(w, errors.BadRequest("invalid type"))
		return
	}
	if raw := r.URL.Query().Get("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.Error(w, errors.BadRequest("invalid resolved"))
			return
		}
		f.Resolved = &resolved
	}

	alerts, err := h.service.ListAlerts(r.Context(), f)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, alerts, &httputil.Meta{Count: len(alerts), Limit: f.Limit})
}

// Resolve resolves one open alert
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	alert, err := h.service.ResolveAlert(r.Context(), id, actor(r))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alert)
}

// Scan runs every alert scan now instead of waiting for the scheduler
func (h *AlertHandler) Scan(w http.ResponseWriter, r *http.Request) {
	if err := h.scanner.ScanAll(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("manual alert scan finished with errors")
		httputil.Error(w, errors.Internal("alert scan finished with errors"))
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"status": "completed"})
}
