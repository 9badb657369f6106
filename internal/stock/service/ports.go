package service

import (
	"context"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/shopspring/decimal"
)

// IngredientStore is the aggregate stock record of each ingredient
type IngredientStore interface {
	GetByID(ctx context.Context, id int64) (*repository.Ingredient, error)
	GetForUpdate(ctx context.Context, id int64) (*repository.Ingredient, error)
	UpdateStock(ctx context.Context, id int64, stock decimal.Decimal) error
	ListLowStock(ctx context.Context) ([]*repository.Ingredient, error)
}

// BatchStore is the batch ledger
type BatchStore interface {
	Create(ctx context.Context, batch *repository.IngredientBatch) error
	GetByID(ctx context.Context, id int64) (*repository.IngredientBatch, error)
	ListConsumable(ctx context.Context, ingredientID int64) ([]*repository.IngredientBatch, error)
	ListByIngredient(ctx context.Context, ingredientID int64) ([]*repository.IngredientBatch, error)
	Consume(ctx context.Context, id int64, amount decimal.Decimal) error
	ListExpiring(ctx context.Context, from, until time.Time) ([]*repository.IngredientBatch, error)
	ListExpired(ctx context.Context, now time.Time) ([]*repository.IngredientBatch, error)
	SumRemaining(ctx context.Context, ingredientID int64) (decimal.Decimal, error)
}

// TransactionStore is the append-only movement log
type TransactionStore interface {
	Create(ctx context.Context, txn *repository.StockTransaction) error
	List(ctx context.Context, f repository.TransactionFilter) ([]*repository.StockTransaction, error)
}

// AlertStore holds alert state. Create is create-if-absent and reports
// whether a new open alert was written.
type AlertStore interface {
	Create(ctx context.Context, alert *repository.StockAlert) (bool, error)
	FindOpen(ctx context.Context, ingredientID int64, alertType string, batchID *int64) (*repository.StockAlert, error)
	GetByID(ctx context.Context, id int64) (*repository.StockAlert, error)
	GetForUpdate(ctx context.Context, id int64) (*repository.StockAlert, error)
	Resolve(ctx context.Context, id int64, resolvedBy *int64, at time.Time) error
	ResolveOpen(ctx context.Context, ingredientID int64, alertType string, resolvedBy *int64, at time.Time) ([]*repository.StockAlert, error)
	ResolveOpenForBatch(ctx context.Context, batchID int64, alertType string, resolvedBy *int64, at time.Time) ([]*repository.StockAlert, error)
	List(ctx context.Context, f repository.AlertFilter) ([]*repository.StockAlert, error)
}

// PurchaseOrderStore exposes the parts of a purchase order that receiving mutates
type PurchaseOrderStore interface {
	GetByID(ctx context.Context, id int64) (*repository.PurchaseOrder, error)
	GetForUpdate(ctx context.Context, id int64) (*repository.PurchaseOrder, error)
	ListItems(ctx context.Context, orderID int64) ([]*repository.PurchaseOrderItem, error)
	UpdateItemReceived(ctx context.Context, itemID int64, received decimal.Decimal) error
	MarkReceived(ctx context.Context, id int64, at time.Time) error
	MarkCancelled(ctx context.Context, id int64) error
}

// Stores is the set of stores bound to one transaction
type Stores struct {
	Ingredients    IngredientStore
	Batches        BatchStore
	Transactions   TransactionStore
	Alerts         AlertStore
	PurchaseOrders PurchaseOrderStore
}

// TxRunner runs fn as one all-or-nothing unit. If fn returns an error, or ctx
// ends before commit, nothing fn wrote is kept.
//
// Rows read through a GetForUpdate method stay locked until the unit ends.
// Callers lock a purchase order before its ingredients, and ingredients in
// ascending id order.
type TxRunner interface {
	Run(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}
