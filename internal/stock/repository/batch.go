package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/pkg/database"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// BatchRepository handles the batch ledger
type BatchRepository struct {
	db database.Querier
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db database.Querier) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create appends a batch to the ledger
func (r *BatchRepository) Create(ctx context.Context, batch *IngredientBatch) error {
	query := `
		INSERT INTO ingredient_batches (
			ingredient_id, purchase_order_id, batch_number, quantity, remaining_quantity,
			unit, unit_cost, received_date, expiry_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		batch.IngredientID, batch.PurchaseOrderID, batch.BatchNumber, batch.Quantity,
		batch.RemainingQuantity, batch.Unit, batch.UnitCost, batch.ReceivedDate, batch.ExpiryDate,
	).Scan(&batch.ID, &batch.CreatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id int64) (*IngredientBatch, error) {
	var batch IngredientBatch
	query := `SELECT * FROM ingredient_batches WHERE id = $1`
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// ListConsumable lists batches that still hold stock, oldest received first.
// Ties on received_date fall back to creation order.
func (r *BatchRepository) ListConsumable(ctx context.Context, ingredientID int64) ([]*IngredientBatch, error) {
	var batches []*IngredientBatch
	query := `
		SELECT * FROM ingredient_batches
		WHERE ingredient_id = $1 AND remaining_quantity > 0
		ORDER BY received_date, id
	`
	if err := r.db.SelectContext(ctx, &batches, query, ingredientID); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListByIngredient lists every batch of an ingredient, depleted ones included
func (r *BatchRepository) ListByIngredient(ctx context.Context, ingredientID int64) ([]*IngredientBatch, error) {
	var batches []*IngredientBatch
	query := `
		SELECT * FROM ingredient_batches
		WHERE ingredient_id = $1
		ORDER BY received_date, id
	`
	if err := r.db.SelectContext(ctx, &batches, query, ingredientID); err != nil {
		return nil, err
	}
	return batches, nil
}

// Consume decrements a batch's remaining quantity. The guard in the WHERE
// clause keeps remaining_quantity from going below zero.
func (r *BatchRepository) Consume(ctx context.Context, id int64, amount decimal.Decimal) error {
	query := `
		UPDATE ingredient_batches
		SET remaining_quantity = remaining_quantity - $2
		WHERE id = $1 AND remaining_quantity >= $2
	`
	result, err := r.db.ExecContext(ctx, query, id, amount)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		return nil
	}

	batch, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return errors.InsufficientBatchQuantity(id, batch.RemainingQuantity.String(), amount.String())
}

// ListExpiring lists stocked batches with from <= expiry_date <= until
func (r *BatchRepository) ListExpiring(ctx context.Context, from, until time.Time) ([]*IngredientBatch, error) {
	var batches []*IngredientBatch
	query := `
		SELECT * FROM ingredient_batches
		WHERE remaining_quantity > 0 AND expiry_date IS NOT NULL
		AND expiry_date >= $1 AND expiry_date <= $2
		ORDER BY expiry_date, id
	`
	if err := r.db.SelectContext(ctx, &batches, query, from, until); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListExpired lists stocked batches whose expiry date is before now
func (r *BatchRepository) ListExpired(ctx context.Context, now time.Time) ([]*IngredientBatch, error) {
	var batches []*IngredientBatch
	query := `
		SELECT * FROM ingredient_batches
		WHERE remaining_quantity > 0 AND expiry_date IS NOT NULL AND expiry_date < $1
		ORDER BY expiry_date, id
	`
	if err := r.db.SelectContext(ctx, &batches, query, now); err != nil {
		return nil, err
	}
	return batches, nil
}

// SumRemaining returns the total remaining quantity across an ingredient's batches
func (r *BatchRepository) SumRemaining(ctx context.Context, ingredientID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `SELECT COALESCE(SUM(remaining_quantity), 0) FROM ingredient_batches WHERE ingredient_id = $1`
	if err := r.db.GetContext(ctx, &total, query, ingredientID); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}
