package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
)

// reconcileLowStock brings the low_stock alert of an ingredient in line with
// its stock: open one if stock is at or below the minimum and none is open,
// otherwise resolve whatever is open. It runs inside the movement's unit, so
// a failure here aborts the movement.
func reconcileLowStock(ctx context.Context, st Stores, fx *effects, ing *repository.Ingredient, actor *int64, now time.Time) error {
	if ing.IsActive && ing.IsLow() {
		open, err := st.Alerts.FindOpen(ctx, ing.ID, repository.AlertLowStock, nil)
		if err != nil {
			return fmt.Errorf("low stock check: %w", err)
		}
		if open != nil {
			return nil
		}

		alert := &repository.StockAlert{
			IngredientID: ing.ID,
			AlertType:    repository.AlertLowStock,
			Message:      lowStockMessage(ing),
			CreatedAt:    now,
		}
		created, err := st.Alerts.Create(ctx, alert)
		if err != nil {
			return fmt.Errorf("low stock check: %w", err)
		}
		if created {
			fx.raised = append(fx.raised, alert)
		}
		return nil
	}

	return resolveLowStock(ctx, st, fx, ing, actor, now)
}

// resolveIfRecovered resolves any open low_stock alert once stock is back at
// or above the minimum. Used by receiving, which never opens alerts.
func resolveIfRecovered(ctx context.Context, st Stores, fx *effects, ing *repository.Ingredient, actor *int64, now time.Time) error {
	if ing.CurrentStock.LessThan(ing.MinimumStock) {
		return nil
	}
	return resolveLowStock(ctx, st, fx, ing, actor, now)
}

func resolveLowStock(ctx context.Context, st Stores, fx *effects, ing *repository.Ingredient, actor *int64, now time.Time) error {
	resolved, err := st.Alerts.ResolveOpen(ctx, ing.ID, repository.AlertLowStock, actor, now)
	if err != nil {
		return fmt.Errorf("low stock resolve: %w", err)
	}
	fx.resolved = append(fx.resolved, resolved...)
	return nil
}

func lowStockMessage(ing *repository.Ingredient) string {
	return fmt.Sprintf("Low stock for %s. Current: %s %s, Minimum: %s %s",
		ing.Name, ing.CurrentStock.String(), ing.Unit, ing.MinimumStock.String(), ing.Unit)
}

func expiringMessage(ing *repository.Ingredient, batch *repository.IngredientBatch, now time.Time) string {
	return fmt.Sprintf("Batch %s (#%d) of %s expires in %d days (%s)",
		batch.BatchNumber, batch.ID, ing.Name, daysUntil(now, *batch.ExpiryDate), batch.ExpiryDate.Format("2006-01-02"))
}

func expiredMessage(ing *repository.Ingredient, batch *repository.IngredientBatch) string {
	return fmt.Sprintf("Batch %s (#%d) of %s has expired!", batch.BatchNumber, batch.ID, ing.Name)
}

// daysUntil counts whole days from now to expiry, rounding up
func daysUntil(now, expiry time.Time) int {
	return int(math.Ceil(expiry.Sub(now).Hours() / 24))
}

// ResolveAlert resolves one open alert on behalf of actorID
func (s *StockService) ResolveAlert(ctx context.Context, alertID int64, actorID int64) (*repository.StockAlert, error) {
	var alert *repository.StockAlert
	err := s.run(ctx, "resolve_alert", func(ctx context.Context, st Stores, fx *effects) error {
		var err error
		alert, err = st.Alerts.GetForUpdate(ctx, alertID)
		if err != nil {
			return err
		}
		if alert.IsResolved {
			return errors.InvalidState("alert is already resolved")
		}

		now := s.now()
		resolvedBy := actorRef(actorID)
		if err := st.Alerts.Resolve(ctx, alert.ID, resolvedBy, now); err != nil {
			return err
		}

		alert.IsResolved = true
		alert.ResolvedAt = &now
		alert.ResolvedBy = resolvedBy
		fx.resolved = append(fx.resolved, alert)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// ListAlerts lists alerts, newest first
func (s *StockService) ListAlerts(ctx context.Context, f repository.AlertFilter) ([]*repository.StockAlert, error) {
	var alerts []*repository.StockAlert
	err := s.read(ctx, func(ctx context.Context, st Stores) error {
		var err error
		alerts, err = st.Alerts.List(ctx, f)
		return err
	})
	return alerts, err
}
