package consumers_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/consumers"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/service"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/store"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/messaging"
	"github.com/kitchenflow/kitchenflow-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *store.Memory
	svc      *service.StockService
	fixtures *testutil.FixtureFactory
}

func newFixture() *fixture {
	m := store.NewMemory()
	return &fixture{
		store:    m,
		svc:      service.NewStockService(m, nil, nil, service.Options{LockTimeout: time.Second}, logger.Nop()),
		fixtures: testutil.NewFixtureFactory(),
	}
}

func (f *fixture) ingredient(stock string) *repository.Ingredient {
	ing := f.fixtures.Ingredient(testutil.WithCurrentStock(stock))
	f.store.AddIngredient(ing)
	f.store.AddBatch(f.fixtures.Batch(ing.ID, stock, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	return ing
}

func (f *fixture) stock(t *testing.T, id int64) string {
	t.Helper()
	ing, err := f.svc.GetIngredient(context.Background(), id)
	require.NoError(t, err)
	return ing.CurrentStock.String()
}

func stockRequest(t *testing.T, orderID int64, lines ...messaging.OrderStockRequestLine) *messaging.Event {
	t.Helper()
	event, err := messaging.NewEvent(messaging.EventOrderStockRequested, "order-service", "corr-1",
		messaging.OrderStockRequestedEvent{OrderID: orderID, ActorID: 3, Lines: lines})
	require.NoError(t, err)
	return event
}

func line(ingredientID int64, quantity string) messaging.OrderStockRequestLine {
	return messaging.OrderStockRequestLine{IngredientID: ingredientID, Quantity: testutil.Dec(quantity)}
}

func TestHandleStockRequested_DeductsEveryLine(t *testing.T) {
	f := newFixture()
	flour := f.ingredient("10")
	sugar := f.ingredient("4")
	h := consumers.NewOrderStockHandler(f.svc, logger.Nop())

	err := h.HandleStockRequested(context.Background(), stockRequest(t, 77,
		line(flour.ID, "2"), line(sugar.ID, "1"), line(flour.ID, "0.5")))
	require.NoError(t, err)

	assert.Equal(t, "7.5", f.stock(t, flour.ID))
	assert.Equal(t, "3", f.stock(t, sugar.ID))

	txns, err := f.svc.ListTransactions(context.Background(), repository.TransactionFilter{IngredientID: &flour.ID})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "Deducted for order #77", *txns[0].Notes)
	assert.Equal(t, int64(3), *txns[0].CreatedBy)
}

func TestHandleStockRequested_RejectionsAreAcked(t *testing.T) {
	f := newFixture()
	flour := f.ingredient("1")
	sugar := f.ingredient("4")
	h := consumers.NewOrderStockHandler(f.svc, logger.Nop())

	err := h.HandleStockRequested(context.Background(), stockRequest(t, 78,
		line(flour.ID, "5"), line(404, "1"), line(sugar.ID, "1")))
	require.NoError(t, err)

	assert.Equal(t, "1", f.stock(t, flour.ID))
	assert.Equal(t, "3", f.stock(t, sugar.ID))
}

func TestHandleStockRequested_RedeliveryDoesNotDeductTwice(t *testing.T) {
	f := newFixture()
	flour := f.ingredient("10")
	h := consumers.NewOrderStockHandler(f.svc, logger.Nop())
	event := stockRequest(t, 79, line(flour.ID, "2"))

	require.NoError(t, h.HandleStockRequested(context.Background(), event))
	require.NoError(t, h.HandleStockRequested(context.Background(), event))

	assert.Equal(t, "8", f.stock(t, flour.ID))
}

func TestHandleStockRequested_ConcurrentDeliveriesDeductOnce(t *testing.T) {
	f := newFixture()
	flour := f.ingredient("10")
	sugar := f.ingredient("10")
	h := consumers.NewOrderStockHandler(f.svc, logger.Nop())
	event := stockRequest(t, 81, line(flour.ID, "2"), line(sugar.ID, "3"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.HandleStockRequested(context.Background(), event))
		}()
	}
	wg.Wait()

	assert.Equal(t, "8", f.stock(t, flour.ID))
	assert.Equal(t, "7", f.stock(t, sugar.ID))

	orderID := int64(81)
	txns, err := f.svc.ListTransactions(context.Background(), repository.TransactionFilter{ReferenceID: &orderID})
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestHandleStockRequested_MalformedPayloadIsDropped(t *testing.T) {
	h := consumers.NewOrderStockHandler(newFixture().svc, logger.Nop())
	event := &messaging.Event{ID: "e1", Type: messaging.EventOrderStockRequested, Data: []byte(`{"order_id": "x"}`)}

	assert.NoError(t, h.HandleStockRequested(context.Background(), event))
}

type failingLedger struct {
	calls int
}

func (l *failingLedger) Deduct(ctx context.Context, d service.Deduction) (*service.MovementResult, error) {
	l.calls++
	return nil, fmt.Errorf("connection reset")
}

func TestHandleStockRequested_InfrastructureErrorsAreReturned(t *testing.T) {
	ledger := &failingLedger{}
	h := consumers.NewOrderStockHandler(ledger, logger.Nop())

	err := h.HandleStockRequested(context.Background(), stockRequest(t, 80, line(1, "1"), line(2, "1")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order 80")
	assert.Equal(t, 1, ledger.calls)
}
