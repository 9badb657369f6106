package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types
const (
	TransactionIn         = "in"
	TransactionOut        = "out"
	TransactionAdjustment = "adjustment"
	TransactionWaste      = "waste"
)

// Reference types recorded on stock transactions
const (
	ReferenceOrder         = "order"
	ReferencePurchaseOrder = "purchase_order"
	ReferenceAdjustment    = "adjustment"
	ReferenceWaste         = "waste"
)

// Alert types
const (
	AlertLowStock     = "low_stock"
	AlertExpiringSoon = "expiring_soon"
	AlertExpired      = "expired"
)

// Purchase order statuses
const (
	OrderPending   = "pending"
	OrderOrdered   = "ordered"
	OrderReceived  = "received"
	OrderCancelled = "cancelled"
)

// Ingredient is the aggregate stock record for one ingredient.
// CurrentStock is a projection of the batch remainders kept in the same transaction.
type Ingredient struct {
	ID           int64           `db:"id" json:"id"`
	Code         string          `db:"code" json:"code"`
	Name         string          `db:"name" json:"name"`
	Unit         string          `db:"unit" json:"unit"`
	CurrentStock decimal.Decimal `db:"current_stock" json:"current_stock"`
	MinimumStock decimal.Decimal `db:"minimum_stock" json:"minimum_stock"`
	UnitCost     decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	IsActive     bool            `db:"is_active" json:"is_active"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// IsLow reports whether the ingredient is at or below its minimum.
func (i *Ingredient) IsLow() bool {
	return i.CurrentStock.LessThanOrEqual(i.MinimumStock)
}

// IngredientBatch is one received lot of an ingredient
type IngredientBatch struct {
	ID                int64           `db:"id" json:"id"`
	IngredientID      int64           `db:"ingredient_id" json:"ingredient_id"`
	PurchaseOrderID   *int64          `db:"purchase_order_id" json:"purchase_order_id,omitempty"`
	BatchNumber       string          `db:"batch_number" json:"batch_number"`
	Quantity          decimal.Decimal `db:"quantity" json:"quantity"`
	RemainingQuantity decimal.Decimal `db:"remaining_quantity" json:"remaining_quantity"`
	Unit              string          `db:"unit" json:"unit"`
	UnitCost          decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	ReceivedDate      time.Time       `db:"received_date" json:"received_date"`
	ExpiryDate        *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// StockTransaction is an append-only record of one stock movement.
// Quantity is unsigned; the direction follows from TransactionType.
type StockTransaction struct {
	ID              int64           `db:"id" json:"id"`
	IngredientID    int64           `db:"ingredient_id" json:"ingredient_id"`
	TransactionType string          `db:"transaction_type" json:"transaction_type"`
	Quantity        decimal.Decimal `db:"quantity" json:"quantity"`
	Unit            string          `db:"unit" json:"unit"`
	ReferenceType   *string         `db:"reference_type" json:"reference_type,omitempty"`
	ReferenceID     *int64          `db:"reference_id" json:"reference_id,omitempty"`
	Notes           *string         `db:"notes" json:"notes,omitempty"`
	CreatedBy       *int64          `db:"created_by" json:"created_by,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// StockAlert is a low-stock, expiring or expired condition.
// BatchID is set for the batch-scoped types only.
type StockAlert struct {
	ID           int64      `db:"id" json:"id"`
	IngredientID int64      `db:"ingredient_id" json:"ingredient_id"`
	BatchID      *int64     `db:"batch_id" json:"batch_id,omitempty"`
	AlertType    string     `db:"alert_type" json:"alert_type"`
	Message      string     `db:"message" json:"message"`
	IsResolved   bool       `db:"is_resolved" json:"is_resolved"`
	ResolvedAt   *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy   *int64     `db:"resolved_by" json:"resolved_by,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// PurchaseOrder is supplied by the purchasing subsystem
type PurchaseOrder struct {
	ID           int64           `db:"id" json:"id"`
	OrderNumber  string          `db:"order_number" json:"order_number"`
	SupplierID   int64           `db:"supplier_id" json:"supplier_id"`
	Status       string          `db:"status" json:"status"`
	OrderDate    time.Time       `db:"order_date" json:"order_date"`
	ExpectedDate *time.Time      `db:"expected_date" json:"expected_date,omitempty"`
	ReceivedDate *time.Time      `db:"received_date" json:"received_date,omitempty"`
	TotalAmount  decimal.Decimal `db:"total_amount" json:"total_amount"`
	Notes        *string         `db:"notes" json:"notes,omitempty"`
	CreatedBy    *int64          `db:"created_by" json:"created_by,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// PurchaseOrderItem is one line of a purchase order
type PurchaseOrderItem struct {
	ID               int64           `db:"id" json:"id"`
	PurchaseOrderID  int64           `db:"purchase_order_id" json:"purchase_order_id"`
	IngredientID     int64           `db:"ingredient_id" json:"ingredient_id"`
	Quantity         decimal.Decimal `db:"quantity" json:"quantity"`
	Unit             string          `db:"unit" json:"unit"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unit_price"`
	ReceivedQuantity decimal.Decimal `db:"received_quantity" json:"received_quantity"`
}

// TransactionFilter narrows a transaction log query
type TransactionFilter struct {
	IngredientID  *int64
	Type          string
	ReferenceType string
	ReferenceID   *int64
	From          *time.Time
	To            *time.Time
	Limit         int
}

// AlertFilter narrows an alert query
type AlertFilter struct {
	IngredientID *int64
	Type         string
	Resolved     *bool
	Limit        int
}
