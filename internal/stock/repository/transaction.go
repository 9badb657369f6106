package repository

import (
	"context"
	"fmt"

	"github.com/kitchenflow/kitchenflow-backend/pkg/database"
)

// TransactionRepository appends to and reads the stock transaction log.
// Records are never updated or deleted.
type TransactionRepository struct {
	db database.Querier
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db database.Querier) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create appends a transaction record
func (r *TransactionRepository) Create(ctx context.Context, t *StockTransaction) error {
	query := `
		INSERT INTO stock_transactions (
			ingredient_id, transaction_type, quantity, unit, reference_type,
			reference_id, notes, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := r.db.QueryRowxContext(ctx, query,
		t.IngredientID, t.TransactionType, t.Quantity, t.Unit, t.ReferenceType,
		t.ReferenceID, t.Notes, t.CreatedBy, t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// List returns transactions matching the filter, newest first
func (r *TransactionRepository) List(ctx context.Context, f TransactionFilter) ([]*StockTransaction, error) {
	query := `SELECT * FROM stock_transactions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.IngredientID != nil {
		query += fmt.Sprintf(` AND ingredient_id = $%d`, argIdx)
		args = append(args, *f.IngredientID)
		argIdx++
	}
	if f.Type != "" {
		query += fmt.Sprintf(` AND transaction_type = $%d`, argIdx)
		args = append(args, f.Type)
		argIdx++
	}
	if f.ReferenceType != "" {
		query += fmt.Sprintf(` AND reference_type = $%d`, argIdx)
		args = append(args, f.ReferenceType)
		argIdx++
	}
	if f.ReferenceID != nil {
		query += fmt.Sprintf(` AND reference_id = $%d`, argIdx)
		args = append(args, *f.ReferenceID)
		argIdx++
	}
	if f.From != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, *f.From)
		argIdx++
	}
	if f.To != nil {
		query += fmt.Sprintf(` AND created_at <= $%d`, argIdx)
		args = append(args, *f.To)
		argIdx++
	}

	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, f.Limit)
	}

	var txns []*StockTransaction
	if err := r.db.SelectContext(ctx, &txns, query, args...); err != nil {
		return nil, err
	}
	return txns, nil
}
