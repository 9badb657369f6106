package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/events"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/kitchenflow/kitchenflow-backend/pkg/database"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/metrics"
)

// Options tunes the workflows
type Options struct {
	// ReconcileAdjustments keeps batch remainders in step with manual adjustments
	ReconcileAdjustments bool
	// LockTimeout bounds every workflow unit. Zero means no bound beyond ctx.
	LockTimeout time.Duration
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// StockService implements the consumption, adjustment, receiving and alert workflows
type StockService struct {
	tx        TxRunner
	publisher *events.StockEventPublisher
	metrics   *metrics.StockMetrics
	opts      Options
	now       func() time.Time
	logger    *logger.Logger
}

// NewStockService creates a new stock service
func NewStockService(
	tx TxRunner,
	publisher *events.StockEventPublisher,
	m *metrics.StockMetrics,
	opts Options,
	log *logger.Logger,
) *StockService {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &StockService{
		tx:        tx,
		publisher: publisher,
		metrics:   m,
		opts:      opts,
		now:       func() time.Time { return now().UTC() },
		logger:    log.WithComponent("stock_service"),
	}
}

// effects are gathered inside a unit and published once it has committed
type effects struct {
	moved    []movement
	raised   []*repository.StockAlert
	resolved []*repository.StockAlert
	received *receipt
}

type movement struct {
	ingredient repository.Ingredient
	txn        *repository.StockTransaction
}

type receipt struct {
	order    *repository.PurchaseOrder
	batchIDs []int64
	actorID  int64
}

func (fx *effects) move(ing *repository.Ingredient, txn *repository.StockTransaction) {
	fx.moved = append(fx.moved, movement{ingredient: *ing, txn: txn})
}

// run executes fn as one unit, records metrics for it and publishes its
// effects after commit.
func (s *StockService) run(ctx context.Context, operation string, fn func(ctx context.Context, st Stores, fx *effects) error) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation(operation, outcome(err), time.Since(start))
	}()

	fx := &effects{}
	if err := runUnit(ctx, s.tx, s.opts.LockTimeout, func(ctx context.Context, st Stores) error {
		return fn(ctx, st, fx)
	}); err != nil {
		return err
	}

	publishEffects(ctx, s.publisher, s.metrics, fx)
	return nil
}

// read runs fn as a unit without metrics or effects
func (s *StockService) read(ctx context.Context, fn func(ctx context.Context, st Stores) error) error {
	return runUnit(ctx, s.tx, s.opts.LockTimeout, fn)
}

func runUnit(ctx context.Context, tx TxRunner, timeout time.Duration, fn func(ctx context.Context, st Stores) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := tx.Run(ctx, fn)
	if err == nil {
		return nil
	}

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) || database.IsLockTimeout(err) {
		return errors.LockTimeout(err)
	}
	return err
}

func publishEffects(ctx context.Context, p *events.StockEventPublisher, m *metrics.StockMetrics, fx *effects) {
	for _, mv := range fx.moved {
		ing := mv.ingredient
		p.PublishStockMoved(ctx, &ing, mv.txn)
	}
	for _, a := range fx.raised {
		m.AlertRaised(a.AlertType)
		p.PublishAlertRaised(ctx, a)
	}
	for _, a := range fx.resolved {
		m.AlertResolved(a.AlertType)
		p.PublishAlertResolved(ctx, a)
	}
	if fx.received != nil {
		p.PublishOrderReceived(ctx, fx.received.order, fx.received.batchIDs, fx.received.actorID)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.IsBusinessRejection(err):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}

// actorRef turns an actor id into the nullable column value; 0 means system
func actorRef(actorID int64) *int64 {
	if actorID <= 0 {
		return nil
	}
	return &actorID
}

func strPtr(s string) *string {
	return &s
}
