package repository

import (
	"context"
	"database/sql"

	"github.com/kitchenflow/kitchenflow-backend/pkg/database"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// IngredientRepository handles ingredient persistence
type IngredientRepository struct {
	db database.Querier
}

// NewIngredientRepository creates a new ingredient repository
func NewIngredientRepository(db database.Querier) *IngredientRepository {
	return &IngredientRepository{db: db}
}

// Create inserts an ingredient. Used by the admin side and fixtures.
func (r *IngredientRepository) Create(ctx context.Context, ing *Ingredient) error {
	query := `
		INSERT INTO ingredients (code, name, unit, current_stock, minimum_stock, unit_cost, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		ing.Code, ing.Name, ing.Unit, ing.CurrentStock, ing.MinimumStock, ing.UnitCost, ing.IsActive,
	).Scan(&ing.ID, &ing.CreatedAt, &ing.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets an ingredient by ID
func (r *IngredientRepository) GetByID(ctx context.Context, id int64) (*Ingredient, error) {
	return r.get(ctx, `SELECT * FROM ingredients WHERE id = $1`, id)
}

// GetForUpdate reads an ingredient and row-locks it until the transaction ends.
func (r *IngredientRepository) GetForUpdate(ctx context.Context, id int64) (*Ingredient, error) {
	return r.get(ctx, `SELECT * FROM ingredients WHERE id = $1 FOR UPDATE`, id)
}

func (r *IngredientRepository) get(ctx context.Context, query string, id int64) (*Ingredient, error) {
	var ing Ingredient
	if err := r.db.GetContext(ctx, &ing, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("ingredient")
		}
		return nil, err
	}
	return &ing, nil
}

// UpdateStock sets the aggregate stock of an ingredient
func (r *IngredientRepository) UpdateStock(ctx context.Context, id int64, stock decimal.Decimal) error {
	query := `UPDATE ingredients SET current_stock = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, stock)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("ingredient")
	}
	return nil
}

// ListLowStock lists active ingredients at or below their minimum stock
func (r *IngredientRepository) ListLowStock(ctx context.Context) ([]*Ingredient, error) {
	var ingredients []*Ingredient
	query := `
		SELECT * FROM ingredients
		WHERE is_active = TRUE AND current_stock <= minimum_stock
		ORDER BY id
	`
	if err := r.db.SelectContext(ctx, &ingredients, query); err != nil {
		return nil, err
	}
	return ingredients, nil
}
