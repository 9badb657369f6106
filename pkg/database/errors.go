package database

import (
	stderrors "errors"
	"strings"

	"github.com/lib/pq"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.NotFound("referenced record")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// IsLockTimeout reports whether err is a lock_not_available, deadlock or
// query-cancel error, i.e. a transaction that gave up waiting for a row lock.
func IsLockTimeout(err error) bool {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "55P03", "40P01", "57014":
		return true
	}
	return false
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "stock_non_negative"):
		return errors.InvalidState("operation would drive stock negative")

	case strings.Contains(constraint, "remaining_bounds"):
		return errors.InvalidState("batch remaining quantity out of bounds")

	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "must be one of: pending, ordered, received, cancelled",
		})

	case strings.Contains(constraint, "type_valid"):
		return errors.Validation(map[string]string{
			"type": "unknown type",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "ingredients_code"):
		return "an ingredient with this code already exists"
	case strings.Contains(constraint, "order_number"):
		return "a purchase order with this number already exists"
	case strings.Contains(constraint, "stock_alerts_open"):
		return "an open alert already exists for this condition"
	default:
		return "a record with these values already exists"
	}
}
