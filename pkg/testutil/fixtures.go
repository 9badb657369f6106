package testutil

import (
	"fmt"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/shopspring/decimal"
)

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Ingredient builds an active ingredient with no stock
func (f *FixtureFactory) Ingredient(opts ...func(*repository.Ingredient)) *repository.Ingredient {
	seq := f.nextSeq()
	ing := &repository.Ingredient{
		Code:         fmt.Sprintf("ING-%03d", seq),
		Name:         fmt.Sprintf("Ingredient %d", seq),
		Unit:         "kg",
		CurrentStock: decimal.Zero,
		MinimumStock: decimal.Zero,
		UnitCost:     decimal.NewFromInt(1),
		IsActive:     true,
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// WithIngredientName sets the ingredient name
func WithIngredientName(name string) func(*repository.Ingredient) {
	return func(i *repository.Ingredient) {
		i.Name = name
	}
}

// WithMinimumStock sets the low-stock threshold
func WithMinimumStock(min string) func(*repository.Ingredient) {
	return func(i *repository.Ingredient) {
		i.MinimumStock = Dec(min)
	}
}

// WithCurrentStock sets the aggregate stock. Pair it with batches summing to
// the same value unless the test is about untracked variance.
func WithCurrentStock(stock string) func(*repository.Ingredient) {
	return func(i *repository.Ingredient) {
		i.CurrentStock = Dec(stock)
	}
}

// Inactive marks the ingredient inactive
func Inactive() func(*repository.Ingredient) {
	return func(i *repository.Ingredient) {
		i.IsActive = false
	}
}

// Batch builds a full, unexpiring batch received at receivedDate
func (f *FixtureFactory) Batch(ingredientID int64, quantity string, receivedDate time.Time) *repository.IngredientBatch {
	seq := f.nextSeq()
	return &repository.IngredientBatch{
		IngredientID:      ingredientID,
		BatchNumber:       fmt.Sprintf("B%d", seq),
		Quantity:          Dec(quantity),
		RemainingQuantity: Dec(quantity),
		Unit:              "kg",
		UnitCost:          decimal.NewFromInt(1),
		ReceivedDate:      receivedDate,
	}
}

// PurchaseOrder builds an ordered purchase order
func (f *FixtureFactory) PurchaseOrder(opts ...func(*repository.PurchaseOrder)) *repository.PurchaseOrder {
	seq := f.nextSeq()
	po := &repository.PurchaseOrder{
		OrderNumber: fmt.Sprintf("PO-%04d", seq),
		SupplierID:  1,
		Status:      repository.OrderOrdered,
		OrderDate:   time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		TotalAmount: decimal.Zero,
	}
	for _, opt := range opts {
		opt(po)
	}
	return po
}

// WithOrderStatus sets the purchase order status
func WithOrderStatus(status string) func(*repository.PurchaseOrder) {
	return func(po *repository.PurchaseOrder) {
		po.Status = status
	}
}

// OrderItem builds a purchase order line
func (f *FixtureFactory) OrderItem(ingredientID int64, quantity, unitPrice string) *repository.PurchaseOrderItem {
	return &repository.PurchaseOrderItem{
		IngredientID:     ingredientID,
		Quantity:         Dec(quantity),
		Unit:             "kg",
		UnitPrice:        Dec(unitPrice),
		ReceivedQuantity: decimal.Zero,
	}
}
