package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// Receipt records goods delivered against a purchase order
type Receipt struct {
	PurchaseOrderID int64
	Lines           []ReceiptLine
	// ReceivedDate defaults to now
	ReceivedDate *time.Time
	ActorID      int64
}

// ReceiptLine is the delivered quantity of one order line
type ReceiptLine struct {
	OrderItemID      int64
	ReceivedQuantity decimal.Decimal
	BatchNumber      string
	ExpiryDate       *time.Time
}

// ReceiptResult is the outcome of a committed receipt
type ReceiptResult struct {
	Order        *repository.PurchaseOrder      `json:"order"`
	Batches      []*repository.IngredientBatch  `json:"batches"`
	Transactions []*repository.StockTransaction `json:"transactions"`
}

// Receive turns the delivered lines of a purchase order into batches and stock.
// The receipt is a single unit: any failing line leaves nothing behind.
func (s *StockService) Receive(ctx context.Context, r Receipt) (*ReceiptResult, error) {
	if len(r.Lines) == 0 {
		return nil, errors.Validation(map[string]string{"lines": "at least one line is required"})
	}
	for _, line := range r.Lines {
		if line.ReceivedQuantity.IsNegative() {
			return nil, errors.Validation(map[string]string{"received_quantity": "must be greater than or equal to 0"})
		}
		if err := requireScale("received_quantity", line.ReceivedQuantity); err != nil {
			return nil, err
		}
	}

	var result *ReceiptResult
	err := s.run(ctx, "receive", func(ctx context.Context, st Stores, fx *effects) error {
		var err error
		result, err = s.receive(ctx, st, fx, r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *StockService) receive(ctx context.Context, st Stores, fx *effects, r Receipt) (*ReceiptResult, error) {
	po, err := st.PurchaseOrders.GetForUpdate(ctx, r.PurchaseOrderID)
	if err != nil {
		return nil, err
	}
	switch po.Status {
	case repository.OrderReceived:
		return nil, errors.AlreadyReceived(po.OrderNumber)
	case repository.OrderCancelled:
		return nil, errors.InvalidState(fmt.Sprintf("purchase order %s is cancelled", po.OrderNumber))
	}

	items, err := st.PurchaseOrders.ListItems(ctx, po.ID)
	if err != nil {
		return nil, err
	}
	itemsByID := make(map[int64]*repository.PurchaseOrderItem, len(items))
	for _, item := range items {
		itemsByID[item.ID] = item
	}

	// Resolve every line before touching anything, then lock the affected
	// ingredients in ascending id order.
	var ingredientIDs []int64
	seen := make(map[int64]bool)
	for _, line := range r.Lines {
		item, ok := itemsByID[line.OrderItemID]
		if !ok {
			return nil, errors.NotFound("purchase order item")
		}
		if line.ReceivedQuantity.IsPositive() && !seen[item.IngredientID] {
			seen[item.IngredientID] = true
			ingredientIDs = append(ingredientIDs, item.IngredientID)
		}
	}
	sort.Slice(ingredientIDs, func(i, j int) bool { return ingredientIDs[i] < ingredientIDs[j] })

	ingredients := make(map[int64]*repository.Ingredient, len(ingredientIDs))
	for _, id := range ingredientIDs {
		ing, err := st.Ingredients.GetForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		ingredients[id] = ing
	}

	now := s.now()
	receivedAt := now
	if r.ReceivedDate != nil {
		receivedAt = r.ReceivedDate.UTC()
	}
	actor := actorRef(r.ActorID)
	result := &ReceiptResult{}

	for _, line := range r.Lines {
		item := itemsByID[line.OrderItemID]
		if err := st.PurchaseOrders.UpdateItemReceived(ctx, item.ID, line.ReceivedQuantity); err != nil {
			return nil, err
		}
		item.ReceivedQuantity = line.ReceivedQuantity
		if !line.ReceivedQuantity.IsPositive() {
			continue
		}

		ing := ingredients[item.IngredientID]
		batchNumber := line.BatchNumber
		if batchNumber == "" {
			batchNumber = fmt.Sprintf("%s-%d", po.OrderNumber, item.ID)
		}

		orderID := po.ID
		batch := &repository.IngredientBatch{
			IngredientID:      ing.ID,
			PurchaseOrderID:   &orderID,
			BatchNumber:       batchNumber,
			Quantity:          line.ReceivedQuantity,
			RemainingQuantity: line.ReceivedQuantity,
			Unit:              ing.Unit,
			UnitCost:          item.UnitPrice,
			ReceivedDate:      receivedAt,
			ExpiryDate:        line.ExpiryDate,
		}
		if err := st.Batches.Create(ctx, batch); err != nil {
			return nil, err
		}
		result.Batches = append(result.Batches, batch)

		ing.CurrentStock = ing.CurrentStock.Add(line.ReceivedQuantity)
		if err := st.Ingredients.UpdateStock(ctx, ing.ID, ing.CurrentStock); err != nil {
			return nil, err
		}

		refType := repository.ReferencePurchaseOrder
		txn := &repository.StockTransaction{
			IngredientID:    ing.ID,
			TransactionType: repository.TransactionIn,
			Quantity:        line.ReceivedQuantity,
			Unit:            ing.Unit,
			ReferenceType:   &refType,
			ReferenceID:     &orderID,
			Notes:           strPtr(fmt.Sprintf("Received from PO: %s", po.OrderNumber)),
			CreatedBy:       actor,
			CreatedAt:       now,
		}
		if err := st.Transactions.Create(ctx, txn); err != nil {
			return nil, err
		}
		result.Transactions = append(result.Transactions, txn)
		fx.move(ing, txn)

		if err := resolveIfRecovered(ctx, st, fx, ing, actor, now); err != nil {
			return nil, err
		}
	}

	if err := st.PurchaseOrders.MarkReceived(ctx, po.ID, receivedAt); err != nil {
		return nil, err
	}
	po.Status = repository.OrderReceived
	po.ReceivedDate = &receivedAt
	result.Order = po

	batchIDs := make([]int64, 0, len(result.Batches))
	for _, b := range result.Batches {
		batchIDs = append(batchIDs, b.ID)
	}
	fx.received = &receipt{order: po, batchIDs: batchIDs, actorID: r.ActorID}

	return result, nil
}

// Cancel cancels a purchase order that has not been received
func (s *StockService) Cancel(ctx context.Context, orderID int64) (*repository.PurchaseOrder, error) {
	var po *repository.PurchaseOrder
	err := s.run(ctx, "cancel", func(ctx context.Context, st Stores, fx *effects) error {
		var err error
		po, err = st.PurchaseOrders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		switch po.Status {
		case repository.OrderReceived:
			return errors.InvalidState(fmt.Sprintf("purchase order %s is already received", po.OrderNumber))
		case repository.OrderCancelled:
			return errors.InvalidState(fmt.Sprintf("purchase order %s is already cancelled", po.OrderNumber))
		}

		if err := st.PurchaseOrders.MarkCancelled(ctx, po.ID); err != nil {
			return err
		}
		po.Status = repository.OrderCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	return po, nil
}

// GetPurchaseOrder returns a purchase order with its lines
func (s *StockService) GetPurchaseOrder(ctx context.Context, orderID int64) (*repository.PurchaseOrder, []*repository.PurchaseOrderItem, error) {
	var (
		po    *repository.PurchaseOrder
		items []*repository.PurchaseOrderItem
	)
	err := s.read(ctx, func(ctx context.Context, st Stores) error {
		var err error
		if po, err = st.PurchaseOrders.GetByID(ctx, orderID); err != nil {
			return err
		}
		items, err = st.PurchaseOrders.ListItems(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return po, items, nil
}
