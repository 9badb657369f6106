package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/pkg/database"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
)

// AlertRepository handles stock alert persistence
type AlertRepository struct {
	db database.Querier
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db database.Querier) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts an open alert unless one already exists for the same
// (ingredient, type, batch). The partial unique index uq_stock_alerts_open
// makes the check atomic; created is false when the insert was suppressed.
func (r *AlertRepository) Create(ctx context.Context, alert *StockAlert) (bool, error) {
	query := `
		INSERT INTO stock_alerts (ingredient_id, batch_id, alert_type, message, is_resolved, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		ON CONFLICT DO NOTHING
		RETURNING id
	`
	err := r.db.QueryRowxContext(ctx, query,
		alert.IngredientID, alert.BatchID, alert.AlertType, alert.Message, alert.CreatedAt,
	).Scan(&alert.ID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return false, appErr
		}
		return false, err
	}
	alert.IsResolved = false
	return true, nil
}

// FindOpen returns the unresolved alert for a condition, or nil if there is none
func (r *AlertRepository) FindOpen(ctx context.Context, ingredientID int64, alertType string, batchID *int64) (*StockAlert, error) {
	var alert StockAlert
	query := `
		SELECT * FROM stock_alerts
		WHERE ingredient_id = $1 AND alert_type = $2
		AND COALESCE(batch_id, 0) = COALESCE($3::bigint, 0) AND NOT is_resolved
		LIMIT 1
	`
	if err := r.db.GetContext(ctx, &alert, query, ingredientID, alertType, batchID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &alert, nil
}

// GetByID gets an alert by ID
func (r *AlertRepository) GetByID(ctx context.Context, id int64) (*StockAlert, error) {
	return r.get(ctx, `SELECT * FROM stock_alerts WHERE id = $1`, id)
}

// GetForUpdate reads an alert and row-locks it until the transaction ends
func (r *AlertRepository) GetForUpdate(ctx context.Context, id int64) (*StockAlert, error) {
	return r.get(ctx, `SELECT * FROM stock_alerts WHERE id = $1 FOR UPDATE`, id)
}

func (r *AlertRepository) get(ctx context.Context, query string, id int64) (*StockAlert, error) {
	var alert StockAlert
	if err := r.db.GetContext(ctx, &alert, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("alert")
		}
		return nil, err
	}
	return &alert, nil
}

// Resolve marks one open alert resolved. resolvedBy is nil for system resolutions.
func (r *AlertRepository) Resolve(ctx context.Context, id int64, resolvedBy *int64, at time.Time) error {
	query := `
		UPDATE stock_alerts SET is_resolved = TRUE, resolved_at = $2, resolved_by = $3
		WHERE id = $1 AND NOT is_resolved
	`
	result, err := r.db.ExecContext(ctx, query, id, at, resolvedBy)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.InvalidState("alert is already resolved")
	}
	return nil
}

// ResolveOpen resolves every open alert of a type for an ingredient and returns them
func (r *AlertRepository) ResolveOpen(ctx context.Context, ingredientID int64, alertType string, resolvedBy *int64, at time.Time) ([]*StockAlert, error) {
	var alerts []*StockAlert
	query := `
		UPDATE stock_alerts SET is_resolved = TRUE, resolved_at = $3, resolved_by = $4
		WHERE ingredient_id = $1 AND alert_type = $2 AND NOT is_resolved
		RETURNING *
	`
	if err := r.db.SelectContext(ctx, &alerts, query, ingredientID, alertType, at, resolvedBy); err != nil {
		return nil, err
	}
	return alerts, nil
}

// ResolveOpenForBatch resolves the open alerts of a type raised for one batch
func (r *AlertRepository) ResolveOpenForBatch(ctx context.Context, batchID int64, alertType string, resolvedBy *int64, at time.Time) ([]*StockAlert, error) {
	var alerts []*StockAlert
	query := `
		UPDATE stock_alerts SET is_resolved = TRUE, resolved_at = $3, resolved_by = $4
		WHERE batch_id = $1 AND alert_type = $2 AND NOT is_resolved
		RETURNING *
	`
	if err := r.db.SelectContext(ctx, &alerts, query, batchID, alertType, at, resolvedBy); err != nil {
		return nil, err
	}
	return alerts, nil
}

// List returns alerts matching the filter, newest first
func (r *AlertRepository) List(ctx context.Context, f AlertFilter) ([]*StockAlert, error) {
	query := `SELECT * FROM stock_alerts WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.IngredientID != nil {
		query += fmt.Sprintf(` AND ingredient_id = $%d`, argIdx)
		args = append(args, *f.IngredientID)
		argIdx++
	}
	if f.Type != "" {
		query += fmt.Sprintf(` AND alert_type = $%d`, argIdx)
		args = append(args, f.Type)
		argIdx++
	}
	if f.Resolved != nil {
		query += fmt.Sprintf(` AND is_resolved = $%d`, argIdx)
		args = append(args, *f.Resolved)
		argIdx++
	}

	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, f.Limit)
	}

	var alerts []*StockAlert
	if err := r.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, err
	}
	return alerts, nil
}
