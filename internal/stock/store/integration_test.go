package store_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/service"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/store"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	code := m.Run()
	testutil.TerminateContainer(context.Background())
	os.Exit(code)
}

func TestPostgresLedger_DeductAndReceive(t *testing.T) {
	suite := testutil.RequireSuite(t)
	ctx := testutil.DefaultTestContext(t)
	stores := store.Bind(suite.DB.DB)

	ing := suite.Fixtures.Ingredient(testutil.WithMinimumStock("2"), testutil.WithCurrentStock("10"))
	require.NoError(t, repository.NewIngredientRepository(suite.DB.DB).Create(ctx, ing))
	first := suite.Fixtures.Batch(ing.ID, "5", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	second := suite.Fixtures.Batch(ing.ID, "5", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, stores.Batches.Create(ctx, first))
	require.NoError(t, stores.Batches.Create(ctx, second))

	svc := service.NewStockService(store.NewPostgres(suite.DB), nil, nil, service.Options{LockTimeout: 5 * time.Second}, logger.Nop())

	result, err := svc.Deduct(ctx, service.Deduction{IngredientID: ing.ID, Quantity: testutil.Dec("9"), OrderID: 42})
	require.NoError(t, err)
	require.Len(t, result.Draws, 2)
	testutil.AssertDecimal(t, "1", result.Ingredient.CurrentStock)

	alerts, err := svc.ListAlerts(ctx, repository.AlertFilter{IngredientID: &ing.ID})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.False(t, alerts[0].IsResolved)

	_, err = svc.Deduct(ctx, service.Deduction{IngredientID: ing.ID, Quantity: testutil.Dec("2")})
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	item := suite.Fixtures.OrderItem(ing.ID, "6", "1.25")
	po := suite.Fixtures.PurchaseOrder()
	require.NoError(t, repository.NewPurchaseOrderRepository(suite.DB.DB).Create(ctx, po, []*repository.PurchaseOrderItem{item}))

	_, err = svc.Receive(ctx, service.Receipt{
		PurchaseOrderID: po.ID,
		Lines:           []service.ReceiptLine{{OrderItemID: item.ID, ReceivedQuantity: testutil.Dec("6")}},
	})
	require.NoError(t, err)

	_, err = svc.Receive(ctx, service.Receipt{
		PurchaseOrderID: po.ID,
		Lines:           []service.ReceiptLine{{OrderItemID: item.ID, ReceivedQuantity: testutil.Dec("6")}},
	})
	assert.True(t, errors.Is(err, errors.ErrAlreadyReceived))

	balance, err := svc.LedgerBalance(ctx, ing.ID)
	require.NoError(t, err)
	testutil.AssertDecimal(t, "7", balance.CurrentStock)
	assert.True(t, balance.InBalance())

	open, err := svc.ListAlerts(ctx, repository.AlertFilter{IngredientID: &ing.ID, Resolved: testutil.PtrBool(false)})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPostgresLedger_ConcurrentDeductions(t *testing.T) {
	suite := testutil.RequireSuite(t)
	ctx := testutil.DefaultTestContext(t)
	stores := store.Bind(suite.DB.DB)

	ing := suite.Fixtures.Ingredient(testutil.WithCurrentStock("20"))
	require.NoError(t, repository.NewIngredientRepository(suite.DB.DB).Create(ctx, ing))
	require.NoError(t, stores.Batches.Create(ctx, suite.Fixtures.Batch(ing.ID, "20", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))))

	svc := service.NewStockService(store.NewPostgres(suite.DB), nil, nil, service.Options{LockTimeout: 10 * time.Second}, logger.Nop())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Deduct(ctx, service.Deduction{IngredientID: ing.ID, Quantity: testutil.Dec("1")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, errors.ErrInsufficientStock):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, ok)
	assert.Equal(t, 10, rejected)

	balance, err := svc.LedgerBalance(ctx, ing.ID)
	require.NoError(t, err)
	testutil.AssertDecimal(t, "0", balance.CurrentStock)
	assert.True(t, balance.InBalance())
}
