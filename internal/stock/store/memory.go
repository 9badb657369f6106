package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/service"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// Memory is an in-process ledger for co-located deployments and tests.
//
// Each unit takes keyed locks (ingredient, purchase order, alert, open-alert
// key) that it holds until it ends; lock waits give up when ctx ends. Writes
// are staged inside the unit and applied together on commit, so other units
// never see part of one.
type Memory struct {
	mu           sync.RWMutex
	ingredients  map[int64]repository.Ingredient
	batches      map[int64]repository.IngredientBatch
	transactions map[int64]repository.StockTransaction
	alerts       map[int64]repository.StockAlert
	orders       map[int64]repository.PurchaseOrder
	items        map[int64]repository.PurchaseOrderItem

	ingredientSeq  atomic.Int64
	batchSeq       atomic.Int64
	transactionSeq atomic.Int64
	alertSeq       atomic.Int64
	orderSeq       atomic.Int64
	itemSeq        atomic.Int64

	locks *keyedLocks
	now   func() time.Time
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{
		ingredients:  make(map[int64]repository.Ingredient),
		batches:      make(map[int64]repository.IngredientBatch),
		transactions: make(map[int64]repository.StockTransaction),
		alerts:       make(map[int64]repository.StockAlert),
		orders:       make(map[int64]repository.PurchaseOrder),
		items:        make(map[int64]repository.PurchaseOrderItem),
		locks:        &keyedLocks{locks: make(map[string]chan struct{})},
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// AddIngredient registers an ingredient, as the admin side would
func (m *Memory) AddIngredient(ing *repository.Ingredient) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ing.ID = m.ingredientSeq.Add(1)
	ing.CreatedAt = m.now()
	ing.UpdatedAt = ing.CreatedAt
	m.ingredients[ing.ID] = *ing
}

// AddBatch writes a batch directly to the ledger. The caller keeps the
// ingredient's aggregate stock in step.
func (m *Memory) AddBatch(batch *repository.IngredientBatch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch.ID = m.batchSeq.Add(1)
	batch.CreatedAt = m.now()
	m.batches[batch.ID] = *batch
}

// AddPurchaseOrder registers a purchase order and its lines, as purchasing would
func (m *Memory) AddPurchaseOrder(po *repository.PurchaseOrder, items []*repository.PurchaseOrderItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if po.Status == "" {
		po.Status = repository.OrderPending
	}
	po.ID = m.orderSeq.Add(1)
	po.CreatedAt = m.now()
	po.UpdatedAt = po.CreatedAt
	m.orders[po.ID] = *po

	for _, item := range items {
		item.ID = m.itemSeq.Add(1)
		item.PurchaseOrderID = po.ID
		m.items[item.ID] = *item
	}
}

// Run implements service.TxRunner
func (m *Memory) Run(ctx context.Context, fn func(ctx context.Context, s service.Stores) error) error {
	tx := &memTx{
		m:            m,
		held:         make(map[string]bool),
		ingredients:  make(map[int64]repository.Ingredient),
		batches:      make(map[int64]repository.IngredientBatch),
		transactions: make(map[int64]repository.StockTransaction),
		alerts:       make(map[int64]repository.StockAlert),
		orders:       make(map[int64]repository.PurchaseOrder),
		items:        make(map[int64]repository.PurchaseOrderItem),
	}
	defer tx.releaseAll()

	if err := fn(ctx, tx.stores()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.commit()
	return nil
}

type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func (l *keyedLocks) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *keyedLocks) release(key string) {
	l.mu.Lock()
	ch := l.locks[key]
	l.mu.Unlock()
	<-ch
}

// memTx is one unit: the locks it holds and the rows it has written
type memTx struct {
	m    *Memory
	held map[string]bool

	ingredients  map[int64]repository.Ingredient
	batches      map[int64]repository.IngredientBatch
	transactions map[int64]repository.StockTransaction
	alerts       map[int64]repository.StockAlert
	orders       map[int64]repository.PurchaseOrder
	items        map[int64]repository.PurchaseOrderItem
}

func (tx *memTx) stores() service.Stores {
	return service.Stores{
		Ingredients:    memIngredients{tx},
		Batches:        memBatches{tx},
		Transactions:   memTransactions{tx},
		Alerts:         memAlerts{tx},
		PurchaseOrders: memOrders{tx},
	}
}

func (tx *memTx) lock(ctx context.Context, key string) error {
	if tx.held[key] {
		return nil
	}
	if err := tx.m.locks.acquire(ctx, key); err != nil {
		return err
	}
	tx.held[key] = true
	return nil
}

func (tx *memTx) releaseAll() {
	for key := range tx.held {
		tx.m.locks.release(key)
	}
	tx.held = nil
}

func (tx *memTx) commit() {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, v := range tx.ingredients {
		m.ingredients[id] = v
	}
	for id, v := range tx.batches {
		m.batches[id] = v
	}
	for id, v := range tx.transactions {
		m.transactions[id] = v
	}
	for id, v := range tx.alerts {
		m.alerts[id] = v
	}
	for id, v := range tx.orders {
		m.orders[id] = v
	}
	for id, v := range tx.items {
		m.items[id] = v
	}
}

// lookup returns the unit's own version of a row, else the committed one
func lookup[T any](staged map[int64]T, mu *sync.RWMutex, committed map[int64]T, id int64) (T, bool) {
	if v, ok := staged[id]; ok {
		return v, true
	}
	mu.RLock()
	defer mu.RUnlock()
	v, ok := committed[id]
	return v, ok
}

// merged returns every row as this unit sees it, ordered by id
func merged[T any](staged map[int64]T, mu *sync.RWMutex, committed map[int64]T) []T {
	mu.RLock()
	rows := make(map[int64]T, len(committed)+len(staged))
	for id, v := range committed {
		rows[id] = v
	}
	mu.RUnlock()
	for id, v := range staged {
		rows[id] = v
	}

	ids := make([]int64, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, rows[id])
	}
	return out
}

func ingredientKey(id int64) string { return fmt.Sprintf("ingredient:%d", id) }
func orderKey(id int64) string      { return fmt.Sprintf("order:%d", id) }
func alertKey(id int64) string      { return fmt.Sprintf("alert:%d", id) }

func openAlertKey(ingredientID int64, alertType string, batchID *int64) string {
	var b int64
	if batchID != nil {
		b = *batchID
	}
	return fmt.Sprintf("alert-open:%d:%s:%d", ingredientID, alertType, b)
}

func sameBatch(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Ingredients

type memIngredients struct{ tx *memTx }

func (s memIngredients) get(id int64) (repository.Ingredient, bool) {
	return lookup(s.tx.ingredients, &s.tx.m.mu, s.tx.m.ingredients, id)
}

func (s memIngredients) GetByID(ctx context.Context, id int64) (*repository.Ingredient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ing, ok := s.get(id)
	if !ok {
		return nil, errors.NotFound("ingredient")
	}
	return &ing, nil
}

func (s memIngredients) GetForUpdate(ctx context.Context, id int64) (*repository.Ingredient, error) {
	if err := s.tx.lock(ctx, ingredientKey(id)); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s memIngredients) UpdateStock(ctx context.Context, id int64, stock decimal.Decimal) error {
	if err := s.tx.lock(ctx, ingredientKey(id)); err != nil {
		return err
	}
	ing, ok := s.get(id)
	if !ok {
		return errors.NotFound("ingredient")
	}
	if stock.IsNegative() {
		return errors.InvalidState("stock cannot go below zero")
	}
	ing.CurrentStock = stock
	ing.UpdatedAt = s.tx.m.now()
	s.tx.ingredients[id] = ing
	return nil
}

func (s memIngredients) ListLowStock(ctx context.Context) ([]*repository.Ingredient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*repository.Ingredient
	for _, ing := range merged(s.tx.ingredients, &s.tx.m.mu, s.tx.m.ingredients) {
		if ing.IsActive && ing.IsLow() {
			out = append(out, &ing)
		}
	}
	return out, nil
}

// Batches

type memBatches struct{ tx *memTx }

func (s memBatches) get(id int64) (repository.IngredientBatch, bool) {
	return lookup(s.tx.batches, &s.tx.m.mu, s.tx.m.batches, id)
}

func (s memBatches) all() []repository.IngredientBatch {
	return merged(s.tx.batches, &s.tx.m.mu, s.tx.m.batches)
}

func (s memBatches) Create(ctx context.Context, batch *repository.IngredientBatch) error {
	if err := s.tx.lock(ctx, ingredientKey(batch.IngredientID)); err != nil {
		return err
	}
	if _, ok := (memIngredients{s.tx}).get(batch.IngredientID); !ok {
		return errors.NotFound("referenced record")
	}
	if batch.RemainingQuantity.IsNegative() || batch.RemainingQuantity.GreaterThan(batch.Quantity) {
		return errors.InvalidState("batch remaining quantity out of bounds")
	}

	batch.ID = s.tx.m.batchSeq.Add(1)
	batch.CreatedAt = s.tx.m.now()
	s.tx.batches[batch.ID] = *batch
	return nil
}

func (s memBatches) GetByID(ctx context.Context, id int64) (*repository.IngredientBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, ok := s.get(id)
	if !ok {
		return nil, errors.NotFound("batch")
	}
	return &b, nil
}

func (s memBatches) list(ctx context.Context, keep func(b repository.IngredientBatch) bool, less func(a, b repository.IngredientBatch) bool) ([]*repository.IngredientBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []repository.IngredientBatch
	for _, b := range s.all() {
		if keep(b) {
			rows = append(rows, b)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })

	out := make([]*repository.IngredientBatch, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

func byReceived(a, b repository.IngredientBatch) bool {
	if !a.ReceivedDate.Equal(b.ReceivedDate) {
		return a.ReceivedDate.Before(b.ReceivedDate)
	}
	return a.ID < b.ID
}

func byExpiry(a, b repository.IngredientBatch) bool {
	if !a.ExpiryDate.Equal(*b.ExpiryDate) {
		return a.ExpiryDate.Before(*b.ExpiryDate)
	}
	return a.ID < b.ID
}

func (s memBatches) ListConsumable(ctx context.Context, ingredientID int64) ([]*repository.IngredientBatch, error) {
	return s.list(ctx, func(b repository.IngredientBatch) bool {
		return b.IngredientID == ingredientID && b.RemainingQuantity.IsPositive()
	}, byReceived)
}

func (s memBatches) ListByIngredient(ctx context.Context, ingredientID int64) ([]*repository.IngredientBatch, error) {
	return s.list(ctx, func(b repository.IngredientBatch) bool {
		return b.IngredientID == ingredientID
	}, byReceived)
}

func (s memBatches) Consume(ctx context.Context, id int64, amount decimal.Decimal) error {
	b, ok := s.get(id)
	if !ok {
		return errors.NotFound("batch")
	}
	if err := s.tx.lock(ctx, ingredientKey(b.IngredientID)); err != nil {
		return err
	}
	// Re-read under the lock
	b, _ = s.get(id)
	if b.RemainingQuantity.LessThan(amount) {
		return errors.InsufficientBatchQuantity(id, b.RemainingQuantity.String(), amount.String())
	}
	b.RemainingQuantity = b.RemainingQuantity.Sub(amount)
	s.tx.batches[id] = b
	return nil
}

func (s memBatches) ListExpiring(ctx context.Context, from, until time.Time) ([]*repository.IngredientBatch, error) {
	return s.list(ctx, func(b repository.IngredientBatch) bool {
		return b.RemainingQuantity.IsPositive() && b.ExpiryDate != nil &&
			!b.ExpiryDate.Before(from) && !b.ExpiryDate.After(until)
	}, byExpiry)
}

func (s memBatches) ListExpired(ctx context.Context, now time.Time) ([]*repository.IngredientBatch, error) {
	return s.list(ctx, func(b repository.IngredientBatch) bool {
		return b.RemainingQuantity.IsPositive() && b.ExpiryDate != nil && b.ExpiryDate.Before(now)
	}, byExpiry)
}

func (s memBatches) SumRemaining(ctx context.Context, ingredientID int64) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, b := range s.all() {
		if b.IngredientID == ingredientID {
			total = total.Add(b.RemainingQuantity)
		}
	}
	return total, nil
}

// Transactions

type memTransactions struct{ tx *memTx }

func (s memTransactions) Create(ctx context.Context, t *repository.StockTransaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := (memIngredients{s.tx}).get(t.IngredientID); !ok {
		return errors.NotFound("referenced record")
	}
	if t.Quantity.IsNegative() {
		return errors.Validation(map[string]string{"quantity": "must be greater than or equal to 0"})
	}

	t.ID = s.tx.m.transactionSeq.Add(1)
	s.tx.transactions[t.ID] = *t
	return nil
}

func (s memTransactions) List(ctx context.Context, f repository.TransactionFilter) ([]*repository.StockTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []repository.StockTransaction
	for _, t := range merged(s.tx.transactions, &s.tx.m.mu, s.tx.m.transactions) {
		if f.IngredientID != nil && t.IngredientID != *f.IngredientID {
			continue
		}
		if f.Type != "" && t.TransactionType != f.Type {
			continue
		}
		if f.ReferenceType != "" && (t.ReferenceType == nil || *t.ReferenceType != f.ReferenceType) {
			continue
		}
		if f.ReferenceID != nil && (t.ReferenceID == nil || *t.ReferenceID != *f.ReferenceID) {
			continue
		}
		if f.From != nil && t.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && t.CreatedAt.After(*f.To) {
			continue
		}
		rows = append(rows, t)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].ID > rows[j].ID
	})
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}

	out := make([]*repository.StockTransaction, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// Alerts

type memAlerts struct{ tx *memTx }

func (s memAlerts) get(id int64) (repository.StockAlert, bool) {
	return lookup(s.tx.alerts, &s.tx.m.mu, s.tx.m.alerts, id)
}

func (s memAlerts) all() []repository.StockAlert {
	return merged(s.tx.alerts, &s.tx.m.mu, s.tx.m.alerts)
}

func (s memAlerts) findOpen(ingredientID int64, alertType string, batchID *int64) (repository.StockAlert, bool) {
	for _, a := range s.all() {
		if !a.IsResolved && a.IngredientID == ingredientID && a.AlertType == alertType && sameBatch(a.BatchID, batchID) {
			return a, true
		}
	}
	return repository.StockAlert{}, false
}

// Create holds the open-alert key until the unit ends, so a concurrent
// create for the same condition waits and then sees this one.
func (s memAlerts) Create(ctx context.Context, alert *repository.StockAlert) (bool, error) {
	if err := s.tx.lock(ctx, openAlertKey(alert.IngredientID, alert.AlertType, alert.BatchID)); err != nil {
		return false, err
	}
	if _, ok := (memIngredients{s.tx}).get(alert.IngredientID); !ok {
		return false, errors.NotFound("referenced record")
	}
	if _, exists := s.findOpen(alert.IngredientID, alert.AlertType, alert.BatchID); exists {
		return false, nil
	}

	alert.ID = s.tx.m.alertSeq.Add(1)
	alert.IsResolved = false
	s.tx.alerts[alert.ID] = *alert
	return true, nil
}

func (s memAlerts) FindOpen(ctx context.Context, ingredientID int64, alertType string, batchID *int64) (*repository.StockAlert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, ok := s.findOpen(ingredientID, alertType, batchID)
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s memAlerts) GetByID(ctx context.Context, id int64) (*repository.StockAlert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, ok := s.get(id)
	if !ok {
		return nil, errors.NotFound("alert")
	}
	return &a, nil
}

func (s memAlerts) GetForUpdate(ctx context.Context, id int64) (*repository.StockAlert, error) {
	if err := s.tx.lock(ctx, alertKey(id)); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s memAlerts) Resolve(ctx context.Context, id int64, resolvedBy *int64, at time.Time) error {
	if err := s.tx.lock(ctx, alertKey(id)); err != nil {
		return err
	}
	a, ok := s.get(id)
	if !ok || a.IsResolved {
		return errors.InvalidState("alert is already resolved")
	}
	s.resolve(a, resolvedBy, at)
	return nil
}

func (s memAlerts) resolve(a repository.StockAlert, resolvedBy *int64, at time.Time) repository.StockAlert {
	a.IsResolved = true
	a.ResolvedAt = &at
	a.ResolvedBy = resolvedBy
	s.tx.alerts[a.ID] = a
	return a
}

func (s memAlerts) resolveWhere(ctx context.Context, match func(a repository.StockAlert) bool, resolvedBy *int64, at time.Time) ([]*repository.StockAlert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*repository.StockAlert
	for _, candidate := range s.all() {
		if candidate.IsResolved || !match(candidate) {
			continue
		}
		if err := s.tx.lock(ctx, alertKey(candidate.ID)); err != nil {
			return nil, err
		}
		// Another unit may have resolved it while we waited
		a, _ := s.get(candidate.ID)
		if a.IsResolved {
			continue
		}
		resolved := s.resolve(a, resolvedBy, at)
		out = append(out, &resolved)
	}
	return out, nil
}

func (s memAlerts) ResolveOpen(ctx context.Context, ingredientID int64, alertType string, resolvedBy *int64, at time.Time) ([]*repository.StockAlert, error) {
	return s.resolveWhere(ctx, func(a repository.StockAlert) bool {
		return a.IngredientID == ingredientID && a.AlertType == alertType
	}, resolvedBy, at)
}

func (s memAlerts) ResolveOpenForBatch(ctx context.Context, batchID int64, alertType string, resolvedBy *int64, at time.Time) ([]*repository.StockAlert, error) {
	return s.resolveWhere(ctx, func(a repository.StockAlert) bool {
		return a.BatchID != nil && *a.BatchID == batchID && a.AlertType == alertType
	}, resolvedBy, at)
}

func (s memAlerts) List(ctx context.Context, f repository.AlertFilter) ([]*repository.StockAlert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []repository.StockAlert
	for _, a := range s.all() {
		if f.IngredientID != nil && a.IngredientID != *f.IngredientID {
			continue
		}
		if f.Type != "" && a.AlertType != f.Type {
			continue
		}
		if f.Resolved != nil && a.IsResolved != *f.Resolved {
			continue
		}
		rows = append(rows, a)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].ID > rows[j].ID
	})
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}

	out := make([]*repository.StockAlert, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// Purchase orders

type memOrders struct{ tx *memTx }

func (s memOrders) get(id int64) (repository.PurchaseOrder, bool) {
	return lookup(s.tx.orders, &s.tx.m.mu, s.tx.m.orders, id)
}

func (s memOrders) GetByID(ctx context.Context, id int64) (*repository.PurchaseOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	po, ok := s.get(id)
	if !ok {
		return nil, errors.NotFound("purchase order")
	}
	return &po, nil
}

func (s memOrders) GetForUpdate(ctx context.Context, id int64) (*repository.PurchaseOrder, error) {
	if err := s.tx.lock(ctx, orderKey(id)); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s memOrders) ListItems(ctx context.Context, orderID int64) ([]*repository.PurchaseOrderItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*repository.PurchaseOrderItem
	for _, item := range merged(s.tx.items, &s.tx.m.mu, s.tx.m.items) {
		if item.PurchaseOrderID == orderID {
			out = append(out, &item)
		}
	}
	return out, nil
}

func (s memOrders) UpdateItemReceived(ctx context.Context, itemID int64, received decimal.Decimal) error {
	item, ok := lookup(s.tx.items, &s.tx.m.mu, s.tx.m.items, itemID)
	if !ok {
		return errors.NotFound("purchase order item")
	}
	if err := s.tx.lock(ctx, orderKey(item.PurchaseOrderID)); err != nil {
		return err
	}
	item.ReceivedQuantity = received
	s.tx.items[itemID] = item
	return nil
}

func (s memOrders) setStatus(ctx context.Context, id int64, update func(po *repository.PurchaseOrder)) error {
	if err := s.tx.lock(ctx, orderKey(id)); err != nil {
		return err
	}
	po, ok := s.get(id)
	if !ok {
		return errors.NotFound("purchase order")
	}
	update(&po)
	po.UpdatedAt = s.tx.m.now()
	s.tx.orders[id] = po
	return nil
}

func (s memOrders) MarkReceived(ctx context.Context, id int64, at time.Time) error {
	return s.setStatus(ctx, id, func(po *repository.PurchaseOrder) {
		po.Status = repository.OrderReceived
		po.ReceivedDate = &at
	})
}

func (s memOrders) MarkCancelled(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, func(po *repository.PurchaseOrder) {
		po.Status = repository.OrderCancelled
	})
}
