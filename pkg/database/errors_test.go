package database

import (
	"testing"

	"github.com/lib/pq"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPQError(t *testing.T) {
	t.Run("non pq error", func(t *testing.T) {
		assert.Nil(t, MapPQError(assert.AnError))
	})

	t.Run("negative stock check", func(t *testing.T) {
		appErr := MapPQError(&pq.Error{Code: "23514", Constraint: "chk_ingredients_stock_non_negative"})
		require.NotNil(t, appErr)
		assert.True(t, errors.Is(appErr, errors.ErrInvalidState))
	})

	t.Run("duplicate open alert", func(t *testing.T) {
		appErr := MapPQError(&pq.Error{Code: "23505", Constraint: "uq_stock_alerts_open"})
		require.NotNil(t, appErr)
		assert.Equal(t, "CONFLICT", appErr.Code)
		assert.Contains(t, appErr.Message, "open alert")
	})

	t.Run("foreign key", func(t *testing.T) {
		appErr := MapPQError(&pq.Error{Code: "23503"})
		require.NotNil(t, appErr)
		assert.True(t, errors.Is(appErr, errors.ErrNotFound))
	})

	t.Run("not null names the column", func(t *testing.T) {
		appErr := MapPQError(&pq.Error{Code: "23502", Column: "unit"})
		require.NotNil(t, appErr)
		assert.Equal(t, "must not be empty", appErr.Details["unit"])
	})

	t.Run("unmapped code", func(t *testing.T) {
		assert.Nil(t, MapPQError(&pq.Error{Code: "42P01"}))
	})
}

func TestIsLockTimeout(t *testing.T) {
	assert.True(t, IsLockTimeout(&pq.Error{Code: "55P03"}))
	assert.True(t, IsLockTimeout(&pq.Error{Code: "40P01"}))
	assert.False(t, IsLockTimeout(&pq.Error{Code: "23505"}))
	assert.False(t, IsLockTimeout(assert.AnError))
}
