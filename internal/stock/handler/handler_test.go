package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/handler"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/service"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/store"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/metrics"
	"github.com/kitchenflow/kitchenflow-backend/pkg/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

type api struct {
	t        *testing.T
	router   http.Handler
	store    *store.Memory
	svc      *service.StockService
	fixtures *testutil.FixtureFactory
	registry *prometheus.Registry
}

func newAPI(t *testing.T) *api {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mem := store.NewMemory()

	svc := service.NewStockService(mem, nil, m, service.Options{LockTimeout: time.Second}, logger.Nop())
	scanner := service.NewAlertScanner(mem, nil, m, service.ScannerOptions{}, logger.Nop())

	return &api{
		t:     t,
		store: mem,
		svc:   svc,
		router: handler.NewRouter(svc, scanner, handler.RouterOptions{
			Metrics:     m,
			Gatherer:    reg,
			CORSOrigins: []string{"*"},
			Health: func(ctx context.Context) map[string]any {
				return map[string]any{"store": "memory"}
			},
		}, logger.Nop()),
		fixtures: testutil.NewFixtureFactory(),
		registry: reg,
	}
}

func (a *api) do(method, path string, body any) (int, envelope) {
	a.t.Helper()
	rr := testutil.ExecuteRequest(a.router, testutil.WithActor(testutil.NewHTTPRequest(method, path, body), 5))
	var env envelope
	testutil.ParseJSONBody(a.t, rr, &env)
	return rr.Code, env
}

func (a *api) ingredient(minimum, stock string) *repository.Ingredient {
	ing := a.fixtures.Ingredient(testutil.WithMinimumStock(minimum), testutil.WithCurrentStock(stock))
	a.store.AddIngredient(ing)
	if testutil.Dec(stock).IsPositive() {
		a.store.AddBatch(a.fixtures.Batch(ing.ID, stock, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	}
	return ing
}

func TestDeduct(t *testing.T) {
	a := newAPI(t)
	ing := a.ingredient("1", "10")

	code, env := a.do(http.MethodPost, fmt.Sprintf("/api/v1/stock/ingredients/%d/deduct", ing.ID),
		map[string]any{"quantity": "2.5", "order_id": 12})
	require.Equal(t, http.StatusOK, code)

	var result service.MovementResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	testutil.AssertDecimal(t, "7.5", result.Ingredient.CurrentStock)
	require.Len(t, result.Draws, 1)
	assert.Equal(t, int64(5), *result.Transaction.CreatedBy)
	assert.Equal(t, int64(12), *result.Transaction.ReferenceID)
}

func TestDeduct_Errors(t *testing.T) {
	a := newAPI(t)
	ing := a.ingredient("0", "3")
	path := fmt.Sprintf("/api/v1/stock/ingredients/%d/deduct", ing.ID)

	code, env := a.do(http.MethodPost, path, map[string]any{"quantity": "5"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INSUFFICIENT_STOCK", env.Error.Code)
	assert.Equal(t, "3", env.Error.Details["available"])

	code, env = a.do(http.MethodPost, path, map[string]any{"quantity": "0"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "must be greater than 0", env.Error.Details["quantity"])

	code, env = a.do(http.MethodPost, path, map[string]any{"quantity": "0.0004"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "must have at most 3 decimal places", env.Error.Details["quantity"])

	code, _ = a.do(http.MethodPost, "/api/v1/stock/ingredients/999/deduct", map[string]any{"quantity": "1"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = a.do(http.MethodPost, "/api/v1/stock/ingredients/abc/deduct", map[string]any{"quantity": "1"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestWasteAndAdjust(t *testing.T) {
	a := newAPI(t)
	ing := a.ingredient("0", "10")
	base := fmt.Sprintf("/api/v1/stock/ingredients/%d", ing.ID)

	code, _ := a.do(http.MethodPost, base+"/waste", map[string]any{"quantity": "1", "notes": "dropped"})
	require.Equal(t, http.StatusOK, code)

	code, env := a.do(http.MethodPost, base+"/adjust", map[string]any{"notes": "count"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "this field is required", env.Error.Details["new_quantity"])

	code, _ = a.do(http.MethodPost, base+"/adjust", map[string]any{"new_quantity": "12"})
	require.Equal(t, http.StatusOK, code)

	code, env = a.do(http.MethodPost, base+"/adjust", map[string]any{"new_quantity": "12"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "NO_OP_ADJUSTMENT", env.Error.Code)

	code, env = a.do(http.MethodGet, base+"/balance", nil)
	require.Equal(t, http.StatusOK, code)
	var balance struct {
		InBalance bool `json:"in_balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &balance))
	assert.False(t, balance.InBalance)

	code, env = a.do(http.MethodGet, fmt.Sprintf("/api/v1/stock/transactions?ingredient_id=%d&type=waste", ing.ID), nil)
	require.Equal(t, http.StatusOK, code)
	var txns []repository.StockTransaction
	require.NoError(t, json.Unmarshal(env.Data, &txns))
	require.Len(t, txns, 1)
	assert.Equal(t, "dropped", *txns[0].Notes)

	code, _ = a.do(http.MethodGet, "/api/v1/stock/transactions?type=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBatchesAndConsume(t *testing.T) {
	a := newAPI(t)
	ing := a.ingredient("0", "6")

	code, env := a.do(http.MethodGet, fmt.Sprintf("/api/v1/stock/ingredients/%d/batches/consumable", ing.ID), nil)
	require.Equal(t, http.StatusOK, code)
	var batches []repository.IngredientBatch
	require.NoError(t, json.Unmarshal(env.Data, &batches))
	require.Len(t, batches, 1)

	code, _ = a.do(http.MethodPost, fmt.Sprintf("/api/v1/stock/batches/%d/consume", batches[0].ID), map[string]any{"quantity": "6"})
	require.Equal(t, http.StatusOK, code)

	code, env = a.do(http.MethodGet, fmt.Sprintf("/api/v1/stock/ingredients/%d/batches/consumable", ing.ID), nil)
	require.Equal(t, http.StatusOK, code)
	batches = nil
	require.NoError(t, json.Unmarshal(env.Data, &batches))
	assert.Empty(t, batches)

	code, env = a.do(http.MethodGet, fmt.Sprintf("/api/v1/stock/ingredients/%d", ing.ID), nil)
	require.Equal(t, http.StatusOK, code)
	var got repository.Ingredient
	require.NoError(t, json.Unmarshal(env.Data, &got))
	testutil.AssertDecimal(t, "0", got.CurrentStock)
}

func TestReceiveAndCancel(t *testing.T) {
	a := newAPI(t)
	ing := a.ingredient("0", "0")
	item := a.fixtures.OrderItem(ing.ID, "8", "2")
	po := a.fixtures.PurchaseOrder()
	a.store.AddPurchaseOrder(po, []*repository.PurchaseOrderItem{item})
	path := fmt.Sprintf("/api/v1/stock/purchase-orders/%d", po.ID)

	code, env := a.do(http.MethodPost, path+"/receive", map[string]any{"lines": []any{}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, _ = a.do(http.MethodPost, path+"/receive", map[string]any{
		"lines": []map[string]any{{
			"order_item_id":     item.ID,
			"received_quantity": "8",
			"batch_number":      "LOT-1",
			"expiry_date":       "2024-04-01T00:00:00Z",
		}},
	})
	require.Equal(t, http.StatusOK, code)

	code, env = a.do(http.MethodPost, path+"/receive", map[string]any{
		"lines": []map[string]any{{"order_item_id": item.ID, "received_quantity": "8"}},
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_RECEIVED", env.Error.Code)

	code, env = a.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, code)
	var detail struct {
		Order repository.PurchaseOrder       `json:"order"`
		Items []repository.PurchaseOrderItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	assert.Equal(t, repository.OrderReceived, detail.Order.Status)
	testutil.AssertDecimal(t, "8", detail.Items[0].ReceivedQuantity)

	code, env = a.do(http.MethodPost, path+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_STATE", env.Error.Code)
}

func TestAlerts(t *testing.T) {
	a := newAPI(t)
	ing := a.ingredient("5", "2")

	code, _ := a.do(http.MethodPost, "/api/v1/stock/alerts/scan", nil)
	require.Equal(t, http.StatusOK, code)

	code, env := a.do(http.MethodGet, fmt.Sprintf("/api/v1/stock/alerts?resolved=false&ingredient_id=%d", ing.ID), nil)
	require.Equal(t, http.StatusOK, code)
	var alerts []repository.StockAlert
	require.NoError(t, json.Unmarshal(env.Data, &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, repository.AlertLowStock, alerts[0].AlertType)

	code, env = a.do(http.MethodPost, fmt.Sprintf("/api/v1/stock/alerts/%d/resolve", alerts[0].ID), nil)
	require.Equal(t, http.StatusOK, code)
	var resolved repository.StockAlert
	require.NoError(t, json.Unmarshal(env.Data, &resolved))
	assert.True(t, resolved.IsResolved)
	assert.Equal(t, int64(5), *resolved.ResolvedBy)

	code, _ = a.do(http.MethodPost, fmt.Sprintf("/api/v1/stock/alerts/%d/resolve", alerts[0].ID), nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = a.do(http.MethodGet, "/api/v1/stock/alerts?resolved=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t)
	ing := a.ingredient("0", "4")
	a.do(http.MethodPost, fmt.Sprintf("/api/v1/stock/ingredients/%d/deduct", ing.ID), map[string]any{"quantity": "1"})

	code, env := a.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"store":"memory"`)

	rr := testutil.ExecuteRequest(a.router, testutil.NewHTTPRequest(http.MethodGet, "/metrics", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.AssertBodyContains(t, rr, `stock_operations_total{operation="deduct",outcome="success"} 1`)
	testutil.AssertBodyContains(t, rr, `route="/api/v1/stock/ingredients/{id}/deduct"`)
}
