package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/pkg/database"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// PurchaseOrderRepository reads purchase orders and records receipts against them
type PurchaseOrderRepository struct {
	db database.Querier
}

// NewPurchaseOrderRepository creates a new purchase order repository
func NewPurchaseOrderRepository(db database.Querier) *PurchaseOrderRepository {
	return &PurchaseOrderRepository{db: db}
}

// Create inserts an order and its lines. Orders are owned by purchasing;
// this exists for seeding and tests.
func (r *PurchaseOrderRepository) Create(ctx context.Context, po *PurchaseOrder, items []*PurchaseOrderItem) error {
	if po.Status == "" {
		po.Status = OrderPending
	}

	query := `
		INSERT INTO purchase_orders (order_number, supplier_id, status, order_date, expected_date, total_amount, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		po.OrderNumber, po.SupplierID, po.Status, po.OrderDate, po.ExpectedDate,
		po.TotalAmount, po.Notes, po.CreatedBy,
	).Scan(&po.ID, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	itemQuery := `
		INSERT INTO purchase_order_items (purchase_order_id, ingredient_id, quantity, unit, unit_price, received_quantity)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	for _, item := range items {
		item.PurchaseOrderID = po.ID
		if err := r.db.QueryRowxContext(ctx, itemQuery,
			item.PurchaseOrderID, item.IngredientID, item.Quantity, item.Unit, item.UnitPrice, item.ReceivedQuantity,
		).Scan(&item.ID); err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}
	}

	return nil
}

// GetByID gets a purchase order by ID
func (r *PurchaseOrderRepository) GetByID(ctx context.Context, id int64) (*PurchaseOrder, error) {
	return r.get(ctx, `SELECT * FROM purchase_orders WHERE id = $1`, id)
}

// GetForUpdate reads a purchase order and row-locks it until the transaction ends
func (r *PurchaseOrderRepository) GetForUpdate(ctx context.Context, id int64) (*PurchaseOrder, error) {
	return r.get(ctx, `SELECT * FROM purchase_orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *PurchaseOrderRepository) get(ctx context.Context, query string, id int64) (*PurchaseOrder, error) {
	var po PurchaseOrder
	if err := r.db.GetContext(ctx, &po, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("purchase order")
		}
		return nil, err
	}
	return &po, nil
}

// ListItems lists the lines of an order
func (r *PurchaseOrderRepository) ListItems(ctx context.Context, orderID int64) ([]*PurchaseOrderItem, error) {
	var items []*PurchaseOrderItem
	query := `SELECT * FROM purchase_order_items WHERE purchase_order_id = $1 ORDER BY id`
	if err := r.db.SelectContext(ctx, &items, query, orderID); err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateItemReceived records the quantity received for one line
func (r *PurchaseOrderRepository) UpdateItemReceived(ctx context.Context, itemID int64, received decimal.Decimal) error {
	query := `UPDATE purchase_order_items SET received_quantity = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, itemID, received)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("purchase order item")
	}
	return nil
}

// MarkReceived moves an order to received
func (r *PurchaseOrderRepository) MarkReceived(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE purchase_orders SET status = $2, received_date = $3, updated_at = NOW() WHERE id = $1`
	return r.setStatus(ctx, query, id, OrderReceived, at)
}

// MarkCancelled moves an order to cancelled
func (r *PurchaseOrderRepository) MarkCancelled(ctx context.Context, id int64) error {
	query := `UPDATE purchase_orders SET status = $2, updated_at = NOW() WHERE id = $1`
	return r.setStatus(ctx, query, id, OrderCancelled)
}

func (r *PurchaseOrderRepository) setStatus(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("purchase order")
	}
	return nil
}
