package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/events"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/metrics"
)

// DefaultExpiryHorizon is how far ahead the expiring_soon scan looks
const DefaultExpiryHorizon = 7 * 24 * time.Hour

// ScannerOptions tunes the alert scans
type ScannerOptions struct {
	ExpiryHorizon time.Duration
	LockTimeout   time.Duration
	Now           func() time.Time
}

// AlertScanner re-evaluates alert conditions across the whole ledger.
// Candidates are read first; every finding is then written in its own short
// unit so a scan never holds locks across ingredients.
type AlertScanner struct {
	tx        TxRunner
	publisher *events.StockEventPublisher
	metrics   *metrics.StockMetrics
	opts      ScannerOptions
	now       func() time.Time
	logger    *logger.Logger
}

// NewAlertScanner creates a new alert scanner
func NewAlertScanner(
	tx TxRunner,
	publisher *events.StockEventPublisher,
	m *metrics.StockMetrics,
	opts ScannerOptions,
	log *logger.Logger,
) *AlertScanner {
	if opts.ExpiryHorizon <= 0 {
		opts.ExpiryHorizon = DefaultExpiryHorizon
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &AlertScanner{
		tx:        tx,
		publisher: publisher,
		metrics:   m,
		opts:      opts,
		now:       func() time.Time { return now().UTC() },
		logger:    log.WithComponent("alert_scanner"),
	}
}

// ScanAll runs all alert scans. Logs errors but continues scanning.
func (s *AlertScanner) ScanAll(ctx context.Context) error {
	scanners := []struct {
		name string
		fn   func(context.Context) error
	}{
		{repository.AlertLowStock, s.scanLowStock},
		{repository.AlertExpiringSoon, s.scanExpiring},
		{repository.AlertExpired, s.scanExpired},
		{"resolve_cleared", s.resolveCleared},
	}

	var lastErr error
	for _, scanner := range scanners {
		start := time.Now()
		if err := scanner.fn(ctx); err != nil {
			s.logger.Error().Err(err).Str("scanner", scanner.name).Msg("alert scan failed")
			lastErr = err
		}
		s.metrics.ObserveScan(scanner.name, time.Since(start))
	}

	return lastErr
}

// unit writes one finding and publishes its effects after commit
func (s *AlertScanner) unit(ctx context.Context, fn func(ctx context.Context, st Stores, fx *effects) error) error {
	fx := &effects{}
	if err := runUnit(ctx, s.tx, s.opts.LockTimeout, func(ctx context.Context, st Stores) error {
		return fn(ctx, st, fx)
	}); err != nil {
		return err
	}
	publishEffects(ctx, s.publisher, s.metrics, fx)
	return nil
}

// scanLowStock visits every ingredient that is low or still has an open
// low_stock alert, so stale alerts get resolved as well as new ones opened.
func (s *AlertScanner) scanLowStock(ctx context.Context) error {
	var ids []int64
	err := runUnit(ctx, s.tx, s.opts.LockTimeout, func(ctx context.Context, st Stores) error {
		low, err := st.Ingredients.ListLowStock(ctx)
		if err != nil {
			return err
		}
		resolved := false
		open, err := st.Alerts.List(ctx, repository.AlertFilter{Type: repository.AlertLowStock, Resolved: &resolved})
		if err != nil {
			return err
		}

		seen := make(map[int64]bool)
		for _, ing := range low {
			seen[ing.ID] = true
		}
		for _, a := range open {
			seen[a.IngredientID] = true
		}
		for id := range seen {
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanLowStock: list candidates: %w", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var failed int
	for _, id := range ids {
		err := s.unit(ctx, func(ctx context.Context, st Stores, fx *effects) error {
			ing, err := st.Ingredients.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			return reconcileLowStock(ctx, st, fx, ing, nil, s.now())
		})
		if err != nil {
			failed++
			s.logger.Error().Err(err).Int64("ingredient_id", id).Msg("scanLowStock: failed to reconcile alert")
		}
	}

	if failed > 0 {
		return fmt.Errorf("scanLowStock: %d of %d ingredients failed", failed, len(ids))
	}
	return nil
}

// scanExpiring opens an expiring_soon alert for each stocked batch expiring
// between now and the horizon
func (s *AlertScanner) scanExpiring(ctx context.Context) error {
	now := s.now()

	var batches []*repository.IngredientBatch
	err := runUnit(ctx, s.tx, s.opts.LockTimeout, func(ctx context.Context, st Stores) error {
		var err error
		batches, err = st.Batches.ListExpiring(ctx, now, now.Add(s.opts.ExpiryHorizon))
		return err
	})
	if err != nil {
		return fmt.Errorf("scanExpiring: get expiring batches: %w", err)
	}

	return s.raiseForBatches(ctx, "scanExpiring", repository.AlertExpiringSoon, batches, func(ing *repository.Ingredient, b *repository.IngredientBatch) string {
		return expiringMessage(ing, b, now)
	})
}

// scanExpired opens an expired alert for each stocked batch past its expiry date
func (s *AlertScanner) scanExpired(ctx context.Context) error {
	now := s.now()

	var batches []*repository.IngredientBatch
	err := runUnit(ctx, s.tx, s.opts.LockTimeout, func(ctx context.Context, st Stores) error {
		var err error
		batches, err = st.Batches.ListExpired(ctx, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("scanExpired: get expired batches: %w", err)
	}

	return s.raiseForBatches(ctx, "scanExpired", repository.AlertExpired, batches, expiredMessage)
}

func (s *AlertScanner) raiseForBatches(
	ctx context.Context,
	scan, alertType string,
	batches []*repository.IngredientBatch,
	message func(*repository.Ingredient, *repository.IngredientBatch) string,
) error {
	var failed int
	for _, candidate := range batches {
		batchID := candidate.ID
		err := s.unit(ctx, func(ctx context.Context, st Stores, fx *effects) error {
			batch, err := st.Batches.GetByID(ctx, batchID)
			if err != nil {
				return err
			}
			// Consumed since the candidate list was read
			if !batch.RemainingQuantity.IsPositive() || batch.ExpiryDate == nil {
				return nil
			}
			ing, err := st.Ingredients.GetByID(ctx, batch.IngredientID)
			if err != nil {
				return err
			}

			alert := &repository.StockAlert{
				IngredientID: ing.ID,
				BatchID:      &batchID,
				AlertType:    alertType,
				Message:      message(ing, batch),
				CreatedAt:    s.now(),
			}
			created, err := st.Alerts.Create(ctx, alert)
			if err != nil {
				return err
			}
			if created {
				fx.raised = append(fx.raised, alert)
			}
			return nil
		})
		if err != nil {
			failed++
			s.logger.Error().Err(err).Int64("batch_id", batchID).Msgf("%s: failed to create alert", scan)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%s: %d of %d batches failed", scan, failed, len(batches))
	}
	return nil
}

// resolveCleared resolves batch alerts whose batch has been used up, and
// expiring_soon alerts whose batch has since expired
func (s *AlertScanner) resolveCleared(ctx context.Context) error {
	var open []*repository.StockAlert
	err := runUnit(ctx, s.tx, s.opts.LockTimeout, func(ctx context.Context, st Stores) error {
		resolved := false
		for _, alertType := range []string{repository.AlertExpiringSoon, repository.AlertExpired} {
			alerts, err := st.Alerts.List(ctx, repository.AlertFilter{Type: alertType, Resolved: &resolved})
			if err != nil {
				return err
			}
			open = append(open, alerts...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("resolveCleared: list open alerts: %w", err)
	}

	now := s.now()
	var failed int
	for _, alert := range open {
		if alert.BatchID == nil {
			continue
		}
		batchID, alertType := *alert.BatchID, alert.AlertType
		err := s.unit(ctx, func(ctx context.Context, st Stores, fx *effects) error {
			batch, err := st.Batches.GetByID(ctx, batchID)
			if err != nil {
				return err
			}

			depleted := !batch.RemainingQuantity.IsPositive()
			lapsed := alertType == repository.AlertExpiringSoon && batch.ExpiryDate != nil && batch.ExpiryDate.Before(now)
			if !depleted && !lapsed {
				return nil
			}

			resolved, err := st.Alerts.ResolveOpenForBatch(ctx, batchID, alertType, nil, s.now())
			if err != nil {
				return err
			}
			fx.resolved = append(fx.resolved, resolved...)
			return nil
		})
		if err != nil {
			failed++
			s.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("resolveCleared: failed to resolve alert")
		}
	}

	if failed > 0 {
		return fmt.Errorf("resolveCleared: %d of %d alerts failed", failed, len(open))
	}
	return nil
}
