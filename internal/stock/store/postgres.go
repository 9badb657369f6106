package store

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/service"
	"github.com/kitchenflow/kitchenflow-backend/pkg/database"
)

// Postgres runs each unit in one database transaction. Locks are row locks
// taken by SELECT ... FOR UPDATE and by the UPDATEs themselves, and are
// released on commit or rollback.
type Postgres struct {
	db *database.DB
}

// NewPostgres creates a transaction runner over db
func NewPostgres(db *database.DB) *Postgres {
	return &Postgres{db: db}
}

// Run implements service.TxRunner
func (p *Postgres) Run(ctx context.Context, fn func(ctx context.Context, s service.Stores) error) error {
	return p.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		return fn(ctx, Bind(tx))
	})
}

// Bind returns repositories that all run on q
func Bind(q database.Querier) service.Stores {
	return service.Stores{
		Ingredients:    repository.NewIngredientRepository(q),
		Batches:        repository.NewBatchRepository(q),
		Transactions:   repository.NewTransactionRepository(q),
		Alerts:         repository.NewAlertRepository(q),
		PurchaseOrders: repository.NewPurchaseOrderRepository(q),
	}
}
