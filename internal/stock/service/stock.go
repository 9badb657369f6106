package service

import (
	"context"
	"fmt"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// Deduction consumes stock for a customer order
type Deduction struct {
	IngredientID int64
	Quantity     decimal.Decimal
	OrderID      int64
	ActorID      int64
	// Once makes the call a no-op when the log already holds a deduction of
	// this ingredient for OrderID. The check runs under the ingredient lock.
	Once bool
}

// Waste records spoiled or discarded stock
type Waste struct {
	IngredientID int64
	Quantity     decimal.Decimal
	ActorID      int64
	Notes        string
}

// Adjustment sets the stock of an ingredient to a physically counted quantity
type Adjustment struct {
	IngredientID int64
	NewQuantity  decimal.Decimal
	ActorID      int64
	Notes        string
}

// MovementResult describes one committed stock movement
type MovementResult struct {
	Ingredient  *repository.Ingredient       `json:"ingredient"`
	Transaction *repository.StockTransaction `json:"transaction"`
	Draws       []Draw                       `json:"draws,omitempty"`
	// Untracked is the part of a decrease no batch could cover
	Untracked decimal.Decimal `json:"untracked"`
	// Batch is the reconciliation batch written by an upward adjustment
	Batch *repository.IngredientBatch `json:"batch,omitempty"`
	// Duplicate is set when a Once deduction found its earlier transaction
	// and changed nothing
	Duplicate bool `json:"duplicate,omitempty"`
}

// Balance compares the aggregate stock of an ingredient with its batch ledger
type Balance struct {
	IngredientID int64           `json:"ingredient_id"`
	Unit         string          `json:"unit"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	BatchTotal   decimal.Decimal `json:"batch_total"`
	Variance     decimal.Decimal `json:"variance"`
}

// InBalance reports whether aggregate stock equals the sum of batch remainders
func (b Balance) InBalance() bool {
	return b.Variance.IsZero()
}

// withdrawal is the shared shape of deductions and waste
type withdrawal struct {
	ingredientID    int64
	quantity        decimal.Decimal
	transactionType string
	referenceType   string
	referenceID     *int64
	notes           *string
	actorID         int64
	once            bool
}

// Deduct consumes quantity from the oldest batches first. The whole deduction
// is rejected with InsufficientStock when aggregate stock cannot cover it.
func (s *StockService) Deduct(ctx context.Context, d Deduction) (*MovementResult, error) {
	if err := requirePositive("quantity", d.Quantity); err != nil {
		return nil, err
	}

	w := withdrawal{
		ingredientID:    d.IngredientID,
		quantity:        d.Quantity,
		transactionType: repository.TransactionOut,
		referenceType:   repository.ReferenceOrder,
		actorID:         d.ActorID,
		once:            d.Once,
	}
	if d.OrderID > 0 {
		orderID := d.OrderID
		w.referenceID = &orderID
		w.notes = strPtr(fmt.Sprintf("Deducted for order #%d", d.OrderID))
	}

	var result *MovementResult
	err := s.run(ctx, "deduct", func(ctx context.Context, st Stores, fx *effects) error {
		var err error
		result, err = s.withdraw(ctx, st, fx, w)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordWaste removes spoiled stock in FIFO order
func (s *StockService) RecordWaste(ctx context.Context, w Waste) (*MovementResult, error) {
	if err := requirePositive("quantity", w.Quantity); err != nil {
		return nil, err
	}

	notes := w.Notes
	if notes == "" {
		notes = "Recorded waste"
	}

	var result *MovementResult
	err := s.run(ctx, "waste", func(ctx context.Context, st Stores, fx *effects) error {
		var err error
		result, err = s.withdraw(ctx, st, fx, withdrawal{
			ingredientID:    w.IngredientID,
			quantity:        w.Quantity,
			transactionType: repository.TransactionWaste,
			referenceType:   repository.ReferenceWaste,
			notes:           &notes,
			actorID:         w.ActorID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *StockService) withdraw(ctx context.Context, st Stores, fx *effects, w withdrawal) (*MovementResult, error) {
	ing, err := st.Ingredients.GetForUpdate(ctx, w.ingredientID)
	if err != nil {
		return nil, err
	}
	if w.once && w.referenceID != nil {
		prior, err := st.Transactions.List(ctx, repository.TransactionFilter{
			IngredientID:  &ing.ID,
			Type:          w.transactionType,
			ReferenceType: w.referenceType,
			ReferenceID:   w.referenceID,
			Limit:         1,
		})
		if err != nil {
			return nil, err
		}
		if len(prior) > 0 {
			return &MovementResult{Ingredient: ing, Transaction: prior[0], Untracked: decimal.Zero, Duplicate: true}, nil
		}
	}
	if !ing.IsActive {
		return nil, errors.InvalidState(fmt.Sprintf("ingredient %s is inactive", ing.Name))
	}
	if ing.CurrentStock.LessThan(w.quantity) {
		return nil, errors.InsufficientStock(ing.Name, ing.CurrentStock.String(), w.quantity.String())
	}

	plan, err := s.consumeFIFO(ctx, st, ing, w.quantity)
	if err != nil {
		return nil, err
	}

	ing.CurrentStock = ing.CurrentStock.Sub(w.quantity)
	if err := st.Ingredients.UpdateStock(ctx, ing.ID, ing.CurrentStock); err != nil {
		return nil, err
	}

	refType := w.referenceType
	txn := &repository.StockTransaction{
		IngredientID:    ing.ID,
		TransactionType: w.transactionType,
		Quantity:        w.quantity,
		Unit:            ing.Unit,
		ReferenceType:   &refType,
		ReferenceID:     w.referenceID,
		Notes:           w.notes,
		CreatedBy:       actorRef(w.actorID),
		CreatedAt:       s.now(),
	}
	if err := st.Transactions.Create(ctx, txn); err != nil {
		return nil, err
	}
	fx.move(ing, txn)

	if err := reconcileLowStock(ctx, st, fx, ing, actorRef(w.actorID), s.now()); err != nil {
		return nil, err
	}

	return &MovementResult{Ingredient: ing, Transaction: txn, Draws: plan.Draws, Untracked: plan.Shortfall}, nil
}

// consumeFIFO applies a FIFO plan for quantity to the ingredient's batches.
// The ingredient must already be locked by the caller.
func (s *StockService) consumeFIFO(ctx context.Context, st Stores, ing *repository.Ingredient, quantity decimal.Decimal) (FIFOPlan, error) {
	batches, err := st.Batches.ListConsumable(ctx, ing.ID)
	if err != nil {
		return FIFOPlan{}, err
	}

	plan := PlanFIFO(batches, quantity)
	for _, d := range plan.Draws {
		if err := st.Batches.Consume(ctx, d.BatchID, d.Amount); err != nil {
			return FIFOPlan{}, err
		}
	}

	if plan.Shortfall.IsPositive() {
		s.logger.WithIngredientID(ing.ID).Warn().
			Str("requested", quantity.String()).
			Str("untracked", plan.Shortfall.String()).
			Msg("batches do not cover the movement, drawing from untracked variance")
	}
	return plan, nil
}

// ConsumeFromBatch takes amount from one specific batch, bypassing FIFO order.
// Aggregate stock, the transaction log and alert state move with it.
func (s *StockService) ConsumeFromBatch(ctx context.Context, batchID int64, amount decimal.Decimal, actorID int64) (*MovementResult, error) {
	if err := requirePositive("amount", amount); err != nil {
		return nil, err
	}

	var result *MovementResult
	err := s.run(ctx, "consume_batch", func(ctx context.Context, st Stores, fx *effects) error {
		batch, err := st.Batches.GetByID(ctx, batchID)
		if err != nil {
			return err
		}
		ing, err := st.Ingredients.GetForUpdate(ctx, batch.IngredientID)
		if err != nil {
			return err
		}
		if !ing.IsActive {
			return errors.InvalidState(fmt.Sprintf("ingredient %s is inactive", ing.Name))
		}
		if ing.CurrentStock.LessThan(amount) {
			return errors.InsufficientStock(ing.Name, ing.CurrentStock.String(), amount.String())
		}
		if err := st.Batches.Consume(ctx, batchID, amount); err != nil {
			return err
		}
		// The first read happened before the ingredient lock
		batch, err = st.Batches.GetByID(ctx, batchID)
		if err != nil {
			return err
		}

		ing.CurrentStock = ing.CurrentStock.Sub(amount)
		if err := st.Ingredients.UpdateStock(ctx, ing.ID, ing.CurrentStock); err != nil {
			return err
		}

		txn := &repository.StockTransaction{
			IngredientID:    ing.ID,
			TransactionType: repository.TransactionOut,
			Quantity:        amount,
			Unit:            ing.Unit,
			Notes:           strPtr(fmt.Sprintf("Consumed from batch %s", batch.BatchNumber)),
			CreatedBy:       actorRef(actorID),
			CreatedAt:       s.now(),
		}
		if err := st.Transactions.Create(ctx, txn); err != nil {
			return err
		}
		fx.move(ing, txn)

		if err := reconcileLowStock(ctx, st, fx, ing, actorRef(actorID), s.now()); err != nil {
			return err
		}

		result = &MovementResult{
			Ingredient:  ing,
			Transaction: txn,
			Draws: []Draw{{
				BatchID:     batch.ID,
				BatchNumber: batch.BatchNumber,
				Amount:      amount,
				Remaining:   batch.RemainingQuantity,
			}},
			Untracked: decimal.Zero,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Adjust sets aggregate stock to a counted quantity and logs the signed delta.
// Unless ReconcileAdjustments is on, batch remainders are left as they are and
// the difference becomes untracked variance.
func (s *StockService) Adjust(ctx context.Context, a Adjustment) (*MovementResult, error) {
	if a.NewQuantity.IsNegative() {
		return nil, errors.Validation(map[string]string{"new_quantity": "must be greater than or equal to 0"})
	}
	if err := requireScale("new_quantity", a.NewQuantity); err != nil {
		return nil, err
	}

	var result *MovementResult
	err := s.run(ctx, "adjust", func(ctx context.Context, st Stores, fx *effects) error {
		ing, err := st.Ingredients.GetForUpdate(ctx, a.IngredientID)
		if err != nil {
			return err
		}

		diff := a.NewQuantity.Sub(ing.CurrentStock)
		if diff.IsZero() {
			return errors.NoOpAdjustment()
		}

		now := s.now()
		result = &MovementResult{Untracked: decimal.Zero}

		if s.opts.ReconcileAdjustments {
			if diff.IsPositive() {
				batch := &repository.IngredientBatch{
					IngredientID:      ing.ID,
					BatchNumber:       fmt.Sprintf("ADJ-%d-%s", ing.ID, now.Format("20060102150405")),
					Quantity:          diff,
					RemainingQuantity: diff,
					Unit:              ing.Unit,
					UnitCost:          ing.UnitCost,
					ReceivedDate:      now,
				}
				if err := st.Batches.Create(ctx, batch); err != nil {
					return err
				}
				result.Batch = batch
			} else {
				plan, err := s.consumeFIFO(ctx, st, ing, diff.Neg())
				if err != nil {
					return err
				}
				result.Draws = plan.Draws
				result.Untracked = plan.Shortfall
			}
		}

		ing.CurrentStock = a.NewQuantity
		if err := st.Ingredients.UpdateStock(ctx, ing.ID, ing.CurrentStock); err != nil {
			return err
		}

		refType := repository.ReferenceAdjustment
		txn := &repository.StockTransaction{
			IngredientID:    ing.ID,
			TransactionType: repository.TransactionAdjustment,
			Quantity:        diff.Abs(),
			Unit:            ing.Unit,
			ReferenceType:   &refType,
			Notes:           strPtr(adjustmentNotes(a.Notes, diff)),
			CreatedBy:       actorRef(a.ActorID),
			CreatedAt:       now,
		}
		if err := st.Transactions.Create(ctx, txn); err != nil {
			return err
		}
		fx.move(ing, txn)

		if err := reconcileLowStock(ctx, st, fx, ing, actorRef(a.ActorID), now); err != nil {
			return err
		}

		result.Ingredient = ing
		result.Transaction = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func adjustmentNotes(notes string, diff decimal.Decimal) string {
	signed := diff.String()
	if diff.IsPositive() {
		signed = "+" + signed
	}
	if notes != "" {
		return fmt.Sprintf("%s (Adjustment: %s)", notes, signed)
	}
	return fmt.Sprintf("Stock adjustment: %s", signed)
}

// GetIngredient returns the aggregate stock record of an ingredient
func (s *StockService) GetIngredient(ctx context.Context, id int64) (*repository.Ingredient, error) {
	var ing *repository.Ingredient
	err := s.read(ctx, func(ctx context.Context, st Stores) error {
		var err error
		ing, err = st.Ingredients.GetByID(ctx, id)
		return err
	})
	return ing, err
}

// ListBatches lists every batch of an ingredient in FIFO order, depleted ones included
func (s *StockService) ListBatches(ctx context.Context, ingredientID int64) ([]*repository.IngredientBatch, error) {
	var batches []*repository.IngredientBatch
	err := s.read(ctx, func(ctx context.Context, st Stores) error {
		if _, err := st.Ingredients.GetByID(ctx, ingredientID); err != nil {
			return err
		}
		var err error
		batches, err = st.Batches.ListByIngredient(ctx, ingredientID)
		return err
	})
	return batches, err
}

// ListConsumableBatches lists the batches a deduction would draw from, in draw order
func (s *StockService) ListConsumableBatches(ctx context.Context, ingredientID int64) ([]*repository.IngredientBatch, error) {
	var batches []*repository.IngredientBatch
	err := s.read(ctx, func(ctx context.Context, st Stores) error {
		if _, err := st.Ingredients.GetByID(ctx, ingredientID); err != nil {
			return err
		}
		var err error
		batches, err = st.Batches.ListConsumable(ctx, ingredientID)
		return err
	})
	return batches, err
}

// ListTransactions reads the movement log, newest first
func (s *StockService) ListTransactions(ctx context.Context, f repository.TransactionFilter) ([]*repository.StockTransaction, error) {
	var txns []*repository.StockTransaction
	err := s.read(ctx, func(ctx context.Context, st Stores) error {
		var err error
		txns, err = st.Transactions.List(ctx, f)
		return err
	})
	return txns, err
}

// LedgerBalance reports aggregate stock against the batch ledger. The
// ingredient is locked so both figures come from the same committed state.
func (s *StockService) LedgerBalance(ctx context.Context, ingredientID int64) (*Balance, error) {
	var balance *Balance
	err := s.read(ctx, func(ctx context.Context, st Stores) error {
		ing, err := st.Ingredients.GetForUpdate(ctx, ingredientID)
		if err != nil {
			return err
		}
		total, err := st.Batches.SumRemaining(ctx, ingredientID)
		if err != nil {
			return err
		}
		balance = &Balance{
			IngredientID: ing.ID,
			Unit:         ing.Unit,
			CurrentStock: ing.CurrentStock,
			BatchTotal:   total,
			Variance:     ing.CurrentStock.Sub(total),
		}
		return nil
	})
	return balance, err
}

// QuantityScale is the number of decimal places quantity columns store
const QuantityScale = 3

func requirePositive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return errors.Validation(map[string]string{field: "must be greater than 0"})
	}
	return requireScale(field, v)
}

// requireScale rejects quantities the store would have to round
func requireScale(field string, v decimal.Decimal) error {
	if !v.Equal(v.Round(QuantityScale)) {
		return errors.Validation(map[string]string{field: fmt.Sprintf("must have at most %d decimal places", QuantityScale)})
	}
	return nil
}
