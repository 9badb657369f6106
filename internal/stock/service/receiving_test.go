package service_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/service"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/kitchenflow/kitchenflow-backend/pkg/messaging"
	"github.com/kitchenflow/kitchenflow-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceive_ResolvesOpenLowStockAlert(t *testing.T) {
	l := newLedger(t)
	ing := l.fixtures.Ingredient(testutil.WithMinimumStock("5"))
	l.store.AddIngredient(ing)
	require.NoError(t, l.scanner.ScanAll(l.ctx))
	require.Len(t, l.openAlerts(ing.ID, repository.AlertLowStock), 1)

	item := l.fixtures.OrderItem(ing.ID, "20", "1.50")
	po := l.purchaseOrder(item)

	result, err := l.svc.Receive(l.ctx, service.Receipt{
		PurchaseOrderID: po.ID,
		Lines:           []service.ReceiptLine{{OrderItemID: item.ID, ReceivedQuantity: testutil.Dec("20"), BatchNumber: "LOT-7"}},
		ActorID:         4,
	})
	require.NoError(t, err)

	testutil.AssertDecimal(t, "20", l.stock(ing.ID).CurrentStock)
	batches := l.batches(ing.ID)
	require.Len(t, batches, 1)
	testutil.AssertDecimal(t, "20", batches[0].RemainingQuantity)
	assert.Equal(t, "LOT-7", batches[0].BatchNumber)
	require.NotNil(t, batches[0].PurchaseOrderID)
	assert.Equal(t, po.ID, *batches[0].PurchaseOrderID)

	txns := l.transactions(ing.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, repository.TransactionIn, txns[0].TransactionType)
	assert.Equal(t, repository.ReferencePurchaseOrder, *txns[0].ReferenceType)
	assert.Equal(t, "Received from PO: "+po.OrderNumber, *txns[0].Notes)

	assert.Empty(t, l.openAlerts(ing.ID, repository.AlertLowStock))
	resolved, err := l.svc.ListAlerts(l.ctx, repository.AlertFilter{IngredientID: &ing.ID})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.True(t, resolved[0].IsResolved)
	assert.Equal(t, int64(4), *resolved[0].ResolvedBy)

	assert.Equal(t, repository.OrderReceived, result.Order.Status)
	order, items, err := l.svc.GetPurchaseOrder(l.ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.OrderReceived, order.Status)
	require.NotNil(t, order.ReceivedDate)
	testutil.AssertDecimal(t, "20", items[0].ReceivedQuantity)

	assert.Equal(t, []string{
		messaging.EventStockReceived,
		messaging.EventAlertResolved,
		messaging.EventPurchaseOrderReceived,
	}, l.published.Types()[1:])
	l.requireBalanced(ing.ID)
}

func TestReceive_MultipleLinesAndDates(t *testing.T) {
	l := newLedger(t)
	flour := l.ingredient("0", "2")
	salt := l.fixtures.Ingredient()
	l.store.AddIngredient(salt)

	flourItem := l.fixtures.OrderItem(flour.ID, "10", "0.80")
	saltItem := l.fixtures.OrderItem(salt.ID, "3", "0.20")
	skipped := l.fixtures.OrderItem(salt.ID, "1", "0.20")
	po := l.purchaseOrder(flourItem, saltItem, skipped)

	receivedOn := day0.AddDate(0, 0, 3)
	result, err := l.svc.Receive(l.ctx, service.Receipt{
		PurchaseOrderID: po.ID,
		ReceivedDate:    &receivedOn,
		Lines: []service.ReceiptLine{
			{OrderItemID: flourItem.ID, ReceivedQuantity: testutil.Dec("9.5"), ExpiryDate: testutil.PtrTime(day0.AddDate(0, 2, 0))},
			{OrderItemID: saltItem.ID, ReceivedQuantity: testutil.Dec("3")},
			{OrderItemID: skipped.ID, ReceivedQuantity: testutil.Dec("0")},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Batches, 2)
	require.Len(t, result.Transactions, 2)

	testutil.AssertDecimal(t, "11.5", l.stock(flour.ID).CurrentStock)
	testutil.AssertDecimal(t, "3", l.stock(salt.ID).CurrentStock)

	flourBatches := l.batches(flour.ID)
	require.Len(t, flourBatches, 2)
	received := flourBatches[1]
	assert.True(t, received.ReceivedDate.Equal(receivedOn))
	require.NotNil(t, received.ExpiryDate)
	assert.Equal(t, fmt.Sprintf("%s-%d", po.OrderNumber, flourItem.ID), received.BatchNumber)

	_, items, err := l.svc.GetPurchaseOrder(l.ctx, po.ID)
	require.NoError(t, err)
	testutil.AssertDecimal(t, "0", items[2].ReceivedQuantity)

	l.requireBalanced(flour.ID)
	l.requireBalanced(salt.ID)
}

func TestReceive_RejectsClosedOrders(t *testing.T) {
	l := newLedger(t)
	ing := l.ingredient("0")

	receivedItem := l.fixtures.OrderItem(ing.ID, "5", "1")
	received := l.fixtures.PurchaseOrder(testutil.WithOrderStatus(repository.OrderReceived))
	l.store.AddPurchaseOrder(received, []*repository.PurchaseOrderItem{receivedItem})

	cancelledItem := l.fixtures.OrderItem(ing.ID, "5", "1")
	cancelled := l.fixtures.PurchaseOrder(testutil.WithOrderStatus(repository.OrderCancelled))
	l.store.AddPurchaseOrder(cancelled, []*repository.PurchaseOrderItem{cancelledItem})

	_, err := l.svc.Receive(l.ctx, service.Receipt{
		PurchaseOrderID: received.ID,
		Lines:           []service.ReceiptLine{{OrderItemID: receivedItem.ID, ReceivedQuantity: testutil.Dec("5")}},
	})
	assert.True(t, errors.Is(err, errors.ErrAlreadyReceived))

	_, err = l.svc.Receive(l.ctx, service.Receipt{
		PurchaseOrderID: cancelled.ID,
		Lines:           []service.ReceiptLine{{OrderItemID: cancelledItem.ID, ReceivedQuantity: testutil.Dec("5")}},
	})
	assert.True(t, errors.Is(err, errors.ErrInvalidState))

	_, err = l.svc.Receive(l.ctx, service.Receipt{
		PurchaseOrderID: 999,
		Lines:           []service.ReceiptLine{{OrderItemID: 1, ReceivedQuantity: testutil.Dec("5")}},
	})
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	testutil.AssertDecimal(t, "0", l.stock(ing.ID).CurrentStock)
	assert.Empty(t, l.batches(ing.ID))
}

func TestReceive_ForeignLineAbortsWholeReceipt(t *testing.T) {
	l := newLedger(t)
	ing := l.ingredient("0")

	item := l.fixtures.OrderItem(ing.ID, "5", "1")
	po := l.purchaseOrder(item)
	otherItem := l.fixtures.OrderItem(ing.ID, "5", "1")
	l.purchaseOrder(otherItem)

	_, err := l.svc.Receive(l.ctx, service.Receipt{
		PurchaseOrderID: po.ID,
		Lines: []service.ReceiptLine{
			{OrderItemID: item.ID, ReceivedQuantity: testutil.Dec("5")},
			{OrderItemID: otherItem.ID, ReceivedQuantity: testutil.Dec("5")},
		},
	})
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	testutil.AssertDecimal(t, "0", l.stock(ing.ID).CurrentStock)
	assert.Empty(t, l.batches(ing.ID))
	assert.Empty(t, l.transactions(ing.ID))
	order, items, err := l.svc.GetPurchaseOrder(l.ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.OrderOrdered, order.Status)
	testutil.AssertDecimal(t, "0", items[0].ReceivedQuantity)
}

func TestReceive_Validation(t *testing.T) {
	l := newLedger(t)

	_, err := l.svc.Receive(l.ctx, service.Receipt{PurchaseOrderID: 1})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = l.svc.Receive(l.ctx, service.Receipt{
		PurchaseOrderID: 1,
		Lines:           []service.ReceiptLine{{OrderItemID: 1, ReceivedQuantity: testutil.Dec("-2")}},
	})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = l.svc.Receive(l.ctx, service.Receipt{
		PurchaseOrderID: 1,
		Lines:           []service.ReceiptLine{{OrderItemID: 1, ReceivedQuantity: testutil.Dec("2.5"), BatchNumber: "A"}, {OrderItemID: 2, ReceivedQuantity: testutil.Dec("1.0001")}},
	})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestCancel(t *testing.T) {
	l := newLedger(t)
	ing := l.ingredient("0")
	item := l.fixtures.OrderItem(ing.ID, "5", "1")
	po := l.purchaseOrder(item)

	cancelled, err := l.svc.Cancel(l.ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.OrderCancelled, cancelled.Status)

	_, err = l.svc.Cancel(l.ctx, po.ID)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))

	_, err = l.svc.Receive(l.ctx, service.Receipt{
		PurchaseOrderID: po.ID,
		Lines:           []service.ReceiptLine{{OrderItemID: item.ID, ReceivedQuantity: testutil.Dec("5")}},
	})
	assert.True(t, errors.Is(err, errors.ErrInvalidState))

	received := l.fixtures.PurchaseOrder(testutil.WithOrderStatus(repository.OrderReceived))
	l.store.AddPurchaseOrder(received, nil)
	_, err = l.svc.Cancel(l.ctx, received.ID)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestConcurrentReceiptsOfSameOrder(t *testing.T) {
	l := newLedger(t)
	ing := l.ingredient("0")
	item := l.fixtures.OrderItem(ing.ID, "5", "1")
	po := l.purchaseOrder(item)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := l.svc.Receive(l.ctx, service.Receipt{
				PurchaseOrderID: po.ID,
				Lines:           []service.ReceiptLine{{OrderItemID: item.ID, ReceivedQuantity: testutil.Dec("5")}},
			})
			results <- err
		}()
	}

	var ok, already int
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if err == nil {
				ok++
			} else if errors.Is(err, errors.ErrAlreadyReceived) {
				already++
			}
		case <-time.After(5 * time.Second):
			t.Fatal("receipt did not finish")
		}
	}

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, already)
	testutil.AssertDecimal(t, "5", l.stock(ing.ID).CurrentStock)
	assert.Len(t, l.batches(ing.ID), 1)
}
