package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/kitchenflow/kitchenflow-backend/pkg/database"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
)

var (
	// Shared across all integration tests of a package
	globalContainer *PostgresContainer
	globalDB        *database.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL.
// The schema comes from the same embedded goose migrations the service runs.
type IntegrationSuite struct {
	Container *PostgresContainer
	DB        *database.DB
	Fixtures  *FixtureFactory
	Logger    *logger.Logger
}

// NewIntegrationSuite starts (once) the shared container and migrates it.
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalDB, containerErr = database.NewWithDSN(globalContainer.DSN, logger.Nop())
		if containerErr != nil {
			return
		}
		containerErr = globalDB.Migrate()
	})
	if containerErr != nil {
		return nil, containerErr
	}

	return &IntegrationSuite{
		Container: globalContainer,
		DB:        globalDB,
		Fixtures:  NewFixtureFactory(),
		Logger:    logger.Nop(),
	}, nil
}

// RequireSuite returns the shared suite, skipping the test under -short or
// when no container runtime is available.
func RequireSuite(t *testing.T) *IntegrationSuite {
	t.Helper()
	SkipIfShort(t)

	suite, err := NewIntegrationSuite(context.Background())
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	suite.Reset(t)
	return suite
}

// Reset empties every stock table so each test starts from a clean ledger
func (s *IntegrationSuite) Reset(t *testing.T) {
	t.Helper()
	_, err := s.DB.ExecContext(context.Background(), `
		TRUNCATE stock_alerts, stock_transactions, ingredient_batches,
			purchase_order_items, purchase_orders, ingredients
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("failed to reset tables: %v", err)
	}
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalContainer != nil {
		globalContainer.Terminate(ctx)
	}
}
