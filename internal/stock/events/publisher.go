package events

import (
	"context"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/messaging"
	"github.com/kitchenflow/kitchenflow-backend/pkg/metrics"
)

// ServiceName is the event source of everything published here
const ServiceName = "stock-service"

// StockEventPublisher publishes stock ledger events. Callers publish only
// after the owning transaction has committed; a failed publish is logged and
// counted, never returned. A nil publisher drops everything.
type StockEventPublisher struct {
	publisher messaging.EventPublisher
	metrics   *metrics.StockMetrics
	logger    *logger.Logger
}

// NewStockEventPublisher wraps any event publisher
func NewStockEventPublisher(pub messaging.EventPublisher, m *metrics.StockMetrics, log *logger.Logger) *StockEventPublisher {
	return &StockEventPublisher{
		publisher: pub,
		metrics:   m,
		logger:    log,
	}
}

// NewRabbitPublisher creates a publisher on the stock.events exchange
func NewRabbitPublisher(rmq *messaging.RabbitMQ, m *metrics.StockMetrics, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, ServiceName, log)
	if err != nil {
		return nil, err
	}
	return NewStockEventPublisher(publisher, m, log), nil
}

// MovementEventType maps a transaction type to its event type
func MovementEventType(transactionType string) string {
	switch transactionType {
	case repository.TransactionIn:
		return messaging.EventStockReceived
	case repository.TransactionOut:
		return messaging.EventStockDeducted
	case repository.TransactionWaste:
		return messaging.EventStockWasted
	default:
		return messaging.EventStockAdjusted
	}
}

// PublishStockMoved publishes one committed movement. ing carries the stock level
// right after txn was applied.
func (p *StockEventPublisher) PublishStockMoved(ctx context.Context, ing *repository.Ingredient, txn *repository.StockTransaction) {
	if p == nil {
		return
	}

	data := messaging.StockMovedEvent{
		IngredientID:    ing.ID,
		IngredientName:  ing.Name,
		TransactionID:   txn.ID,
		TransactionType: txn.TransactionType,
		Quantity:        txn.Quantity,
		Unit:            txn.Unit,
		CurrentStock:    ing.CurrentStock,
		ReferenceID:     txn.ReferenceID,
	}
	if txn.ReferenceType != nil {
		data.ReferenceType = *txn.ReferenceType
	}
	if txn.CreatedBy != nil {
		data.ActorID = *txn.CreatedBy
	}

	p.publish(ctx, MovementEventType(txn.TransactionType), data)
}

// PublishAlertRaised publishes a newly opened alert
func (p *StockEventPublisher) PublishAlertRaised(ctx context.Context, alert *repository.StockAlert) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventAlertRaised, alertEvent(alert))
}

// PublishAlertResolved publishes a resolved alert
func (p *StockEventPublisher) PublishAlertResolved(ctx context.Context, alert *repository.StockAlert) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventAlertResolved, alertEvent(alert))
}

// PublishOrderReceived tells purchasing that a receipt committed
func (p *StockEventPublisher) PublishOrderReceived(ctx context.Context, po *repository.PurchaseOrder, batchIDs []int64, actorID int64) {
	if p == nil {
		return
	}

	data := messaging.PurchaseOrderReceivedEvent{
		PurchaseOrderID: po.ID,
		OrderNumber:     po.OrderNumber,
		Status:          po.Status,
		BatchIDs:        batchIDs,
		ActorID:         actorID,
	}
	if po.ReceivedDate != nil {
		data.ReceivedDate = *po.ReceivedDate
	}

	p.publish(ctx, messaging.EventPurchaseOrderReceived, data)
}

func alertEvent(alert *repository.StockAlert) messaging.AlertEvent {
	return messaging.AlertEvent{
		AlertID:      alert.ID,
		AlertType:    alert.AlertType,
		IngredientID: alert.IngredientID,
		BatchID:      alert.BatchID,
		Message:      alert.Message,
		ResolvedBy:   alert.ResolvedBy,
		ResolvedAt:   alert.ResolvedAt,
	}
}

func (p *StockEventPublisher) publish(ctx context.Context, eventType string, data any) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.metrics.PublishFailed()
		p.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to publish stock event")
	}
}
