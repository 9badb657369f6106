package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound                  = errors.New("resource not found")
	ErrBadRequest                = errors.New("bad request")
	ErrConflict                  = errors.New("resource conflict")
	ErrInternal                  = errors.New("internal server error")
	ErrValidation                = errors.New("validation error")
	ErrInvalidState              = errors.New("invalid state")
	ErrAlreadyReceived           = errors.New("purchase order already received")
	ErrInsufficientStock         = errors.New("insufficient stock")
	ErrInsufficientBatchQuantity = errors.New("insufficient batch quantity")
	ErrNoOpAdjustment            = errors.New("no adjustment needed")
	ErrLockTimeout               = errors.New("lock wait timed out")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// Stock ledger errors

// InvalidState is returned when an operation does not apply to the current state
// of a purchase order, alert or ingredient.
func InvalidState(message string) *AppError {
	return &AppError{
		Err:        ErrInvalidState,
		Code:       "INVALID_STATE",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func AlreadyReceived(orderNumber string) *AppError {
	return &AppError{
		Err:        ErrAlreadyReceived,
		Code:       "ALREADY_RECEIVED",
		Message:    fmt.Sprintf("purchase order %s already received", orderNumber),
		StatusCode: http.StatusConflict,
	}
}

// InsufficientStock reports that the aggregate stock of an ingredient cannot
// cover a deduction. Callers decide what to do; it is never retried.
func InsufficientStock(ingredient, available, required string) *AppError {
	return &AppError{
		Err:        ErrInsufficientStock,
		Code:       "INSUFFICIENT_STOCK",
		Message:    fmt.Sprintf("insufficient stock for %s. Available: %s, Required: %s", ingredient, available, required),
		StatusCode: http.StatusUnprocessableEntity,
		Details: map[string]string{
			"available": available,
			"required":  required,
		},
	}
}

func InsufficientBatchQuantity(batchID int64, remaining, requested string) *AppError {
	return &AppError{
		Err:        ErrInsufficientBatchQuantity,
		Code:       "INSUFFICIENT_BATCH_QUANTITY",
		Message:    fmt.Sprintf("batch %d has %s remaining, %s requested", batchID, remaining, requested),
		StatusCode: http.StatusConflict,
	}
}

func NoOpAdjustment() *AppError {
	return &AppError{
		Err:        ErrNoOpAdjustment,
		Code:       "NO_OP_ADJUSTMENT",
		Message:    "no adjustment needed - quantities are equal",
		StatusCode: http.StatusBadRequest,
	}
}

// LockTimeout is returned when a workflow could not take its row locks in time.
// The whole unit was rolled back and may be retried.
func LockTimeout(err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %v", ErrLockTimeout, err),
		Code:       "LOCK_TIMEOUT",
		Message:    "stock is busy, try again",
		StatusCode: http.StatusServiceUnavailable,
	}
}

// IsBusinessRejection reports whether err is an expected domain outcome
// (missing record, wrong state, not enough stock) rather than an infrastructure failure.
func IsBusinessRejection(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrInvalidState, ErrAlreadyReceived, ErrInsufficientStock,
		ErrInsufficientBatchQuantity, ErrNoOpAdjustment, ErrValidation, ErrBadRequest,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
