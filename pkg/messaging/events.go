package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	// Stock movements
	EventStockReceived = "stock.received"
	EventStockDeducted = "stock.deducted"
	EventStockAdjusted = "stock.adjusted"
	EventStockWasted   = "stock.wasted"

	// Alert lifecycle
	EventAlertRaised   = "stock.alert.raised"
	EventAlertResolved = "stock.alert.resolved"

	// Purchasing
	EventPurchaseOrderReceived = "purchasing.order.received"

	// Inbound from order fulfillment
	EventOrderStockRequested = "order.stock.requested"
)

// Exchange names
const (
	ExchangeStockEvents = "stock.events"
	ExchangeOrderEvents = "order.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Stock Events

// StockMovedEvent is published for every committed stock movement
// (received, deducted, adjusted, wasted).
type StockMovedEvent struct {
	IngredientID    int64           `json:"ingredient_id"`
	IngredientName  string          `json:"ingredient_name"`
	TransactionID   int64           `json:"transaction_id"`
	TransactionType string          `json:"transaction_type"`
	Quantity        decimal.Decimal `json:"quantity"`
	Unit            string          `json:"unit"`
	CurrentStock    decimal.Decimal `json:"current_stock"`
	ReferenceType   string          `json:"reference_type,omitempty"`
	ReferenceID     *int64          `json:"reference_id,omitempty"`
	ActorID         int64           `json:"actor_id"`
}

// AlertEvent is published when a stock alert is raised or resolved
type AlertEvent struct {
	AlertID      int64      `json:"alert_id"`
	AlertType    string     `json:"alert_type"`
	IngredientID int64      `json:"ingredient_id"`
	BatchID      *int64     `json:"batch_id,omitempty"`
	Message      string     `json:"message"`
	ResolvedBy   *int64     `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// PurchaseOrderReceivedEvent is published once a receipt commits
type PurchaseOrderReceivedEvent struct {
	PurchaseOrderID int64     `json:"purchase_order_id"`
	OrderNumber     string    `json:"order_number"`
	Status          string    `json:"status"`
	ReceivedDate    time.Time `json:"received_date"`
	BatchIDs        []int64   `json:"batch_ids"`
	ActorID         int64     `json:"actor_id"`
}

// Order Events

// OrderStockRequestedEvent asks for stock to be deducted for a customer order
type OrderStockRequestedEvent struct {
	OrderID int64                   `json:"order_id"`
	ActorID int64                   `json:"actor_id"`
	Lines   []OrderStockRequestLine `json:"lines"`
}

// OrderStockRequestLine is one ingredient requirement of an order
type OrderStockRequestLine struct {
	IngredientID int64           `json:"ingredient_id"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.NewString()
}
