package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/events"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/service"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/store"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/testutil"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type ledger struct {
	t         *testing.T
	ctx       context.Context
	store     *store.Memory
	svc       *service.StockService
	scanner   *service.AlertScanner
	published *testutil.RecordingPublisher
	fixtures  *testutil.FixtureFactory
	clock     *clock
}

func newLedger(t *testing.T, opts ...func(*service.Options)) *ledger {
	t.Helper()

	l := &ledger{
		t:         t,
		ctx:       context.Background(),
		store:     store.NewMemory(),
		published: &testutil.RecordingPublisher{},
		fixtures:  testutil.NewFixtureFactory(),
		clock:     &clock{now: day0},
	}

	options := service.Options{Now: l.clock.Now, LockTimeout: 2 * time.Second}
	for _, opt := range opts {
		opt(&options)
	}

	publisher := events.NewStockEventPublisher(l.published, nil, logger.Nop())
	l.svc = service.NewStockService(l.store, publisher, nil, options, logger.Nop())
	l.scanner = service.NewAlertScanner(l.store, publisher, nil, service.ScannerOptions{Now: l.clock.Now}, logger.Nop())
	return l
}

func reconciling(o *service.Options) {
	o.ReconcileAdjustments = true
}

// ingredient registers an ingredient whose stock is backed by one batch per
// quantity, received a day apart starting on day0
func (l *ledger) ingredient(minimum string, batches ...string) *repository.Ingredient {
	l.t.Helper()

	total := testutil.Dec("0")
	for _, q := range batches {
		total = total.Add(testutil.Dec(q))
	}
	ing := l.fixtures.Ingredient(testutil.WithMinimumStock(minimum), testutil.WithCurrentStock(total.String()))
	l.store.AddIngredient(ing)

	for i, q := range batches {
		l.store.AddBatch(l.fixtures.Batch(ing.ID, q, day0.AddDate(0, 0, i)))
	}
	return ing
}

func (l *ledger) purchaseOrder(items ...*repository.PurchaseOrderItem) *repository.PurchaseOrder {
	po := l.fixtures.PurchaseOrder()
	l.store.AddPurchaseOrder(po, items)
	return po
}

func (l *ledger) stock(id int64) *repository.Ingredient {
	l.t.Helper()
	ing, err := l.svc.GetIngredient(l.ctx, id)
	require.NoError(l.t, err)
	return ing
}

func (l *ledger) batches(id int64) []*repository.IngredientBatch {
	l.t.Helper()
	batches, err := l.svc.ListBatches(l.ctx, id)
	require.NoError(l.t, err)
	return batches
}

func (l *ledger) transactions(id int64) []*repository.StockTransaction {
	l.t.Helper()
	txns, err := l.svc.ListTransactions(l.ctx, repository.TransactionFilter{IngredientID: &id})
	require.NoError(l.t, err)
	return txns
}

func (l *ledger) openAlerts(id int64, alertType string) []*repository.StockAlert {
	l.t.Helper()
	alerts, err := l.svc.ListAlerts(l.ctx, repository.AlertFilter{IngredientID: &id, Type: alertType, Resolved: testutil.PtrBool(false)})
	require.NoError(l.t, err)
	return alerts
}

func (l *ledger) requireBalanced(id int64) {
	l.t.Helper()
	balance, err := l.svc.LedgerBalance(l.ctx, id)
	require.NoError(l.t, err)
	require.True(l.t, balance.InBalance(), "current %s != batches %s", balance.CurrentStock, balance.BatchTotal)

	for _, b := range l.batches(id) {
		require.False(l.t, b.RemainingQuantity.IsNegative(), "batch %d below zero", b.ID)
		require.False(l.t, b.RemainingQuantity.GreaterThan(b.Quantity), "batch %d above its quantity", b.ID)
	}
}
