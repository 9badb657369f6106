package testutil

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/kitchenflow/kitchenflow-backend/pkg/database"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
)

// MockDB wraps sqlmock for easier testing
type MockDB struct {
	DB   *sqlx.DB
	Mock sqlmock.Sqlmock
}

// NewMockDB creates a new mock database for unit testing.
// Use this when you want to test repository logic without a real database.
//
// Usage:
//
//	mockDB := testutil.NewMockDB(t)
//	defer mockDB.Close()
//
//	mockDB.ExpectQuery("SELECT * FROM ingredients").WillReturnRows(...)
//
//	repo := repository.NewIngredientRepository(mockDB.DB)
func NewMockDB(t *testing.T) *MockDB {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	return &MockDB{
		DB:   sqlx.NewDb(db, "postgres"),
		Mock: mock,
	}
}

// Database wraps the mock connection as a *database.DB
func (m *MockDB) Database() *database.DB {
	return database.Wrap(m.DB, logger.Nop())
}

// Close closes the mock database connection
func (m *MockDB) Close() error {
	return m.DB.Close()
}

// ExpectQuery sets up an expected query; the fragment is matched literally
func (m *MockDB) ExpectQuery(query string) *sqlmock.ExpectedQuery {
	return m.Mock.ExpectQuery(regexp.QuoteMeta(query))
}

// ExpectExec sets up an expected exec; the fragment is matched literally
func (m *MockDB) ExpectExec(query string) *sqlmock.ExpectedExec {
	return m.Mock.ExpectExec(regexp.QuoteMeta(query))
}

// ExpectBegin sets up an expected transaction begin
func (m *MockDB) ExpectBegin() *sqlmock.ExpectedBegin {
	return m.Mock.ExpectBegin()
}

// ExpectCommit sets up an expected commit
func (m *MockDB) ExpectCommit() *sqlmock.ExpectedCommit {
	return m.Mock.ExpectCommit()
}

// ExpectRollback sets up an expected rollback
func (m *MockDB) ExpectRollback() *sqlmock.ExpectedRollback {
	return m.Mock.ExpectRollback()
}

// ExpectationsWereMet verifies all expectations were met
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	if err := m.Mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled mock expectations: %v", err)
	}
}

// MockRows creates a new mock rows object
func MockRows(columns ...string) *sqlmock.Rows {
	return sqlmock.NewRows(columns)
}

// Column sets for SELECT * against each table, in schema order
var (
	IngredientColumns = []string{"id", "code", "name", "unit", "current_stock", "minimum_stock", "unit_cost", "is_active", "created_at", "updated_at"}
	BatchColumns      = []string{"id", "ingredient_id", "purchase_order_id", "batch_number", "quantity", "remaining_quantity", "unit", "unit_cost", "received_date", "expiry_date", "created_at"}
	AlertColumns      = []string{"id", "ingredient_id", "batch_id", "alert_type", "message", "is_resolved", "resolved_at", "resolved_by", "created_at"}
	TxColumns         = []string{"id", "ingredient_id", "transaction_type", "quantity", "unit", "reference_type", "reference_id", "notes", "created_by", "created_at"}
	OrderColumns      = []string{"id", "order_number", "supplier_id", "status", "order_date", "expected_date", "received_date", "total_amount", "notes", "created_by", "created_at", "updated_at"}
	OrderItemColumns  = []string{"id", "purchase_order_id", "ingredient_id", "quantity", "unit", "unit_price", "received_quantity"}
)

// PublishedEvent is one event captured by RecordingPublisher
type PublishedEvent struct {
	EventType string
	Data      json.RawMessage
}

// RecordingPublisher captures published events. Set Err to make every publish fail.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
	Err    error
}

// Publish records the event
func (p *RecordingPublisher) Publish(ctx context.Context, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	p.events = append(p.events, PublishedEvent{EventType: eventType, Data: body})
	return nil
}

// Events returns a copy of everything published so far
func (p *RecordingPublisher) Events() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedEvent(nil), p.events...)
}

// Types returns the event types published so far, in order
func (p *RecordingPublisher) Types() []string {
	var types []string
	for _, e := range p.Events() {
		types = append(types, e.EventType)
	}
	return types
}
