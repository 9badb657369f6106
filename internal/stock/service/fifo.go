package service

import (
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/repository"
	"github.com/shopspring/decimal"
)

// Draw is the amount taken from one batch
type Draw struct {
	BatchID     int64           `json:"batch_id"`
	BatchNumber string          `json:"batch_number"`
	Amount      decimal.Decimal `json:"amount"`
	Remaining   decimal.Decimal `json:"remaining"`
}

// FIFOPlan is the result of planning a consumption
type FIFOPlan struct {
	Draws []Draw
	// Shortfall is the part of the quantity the batches could not cover.
	// It is non-zero only when aggregate stock has drifted from the ledger.
	Shortfall decimal.Decimal
}

// PlanFIFO walks batches in the order given, which must be oldest first, and
// takes min(remaining, still needed) from each until quantity is covered.
// Batches with nothing remaining are skipped. The input is not modified.
func PlanFIFO(batches []*repository.IngredientBatch, quantity decimal.Decimal) FIFOPlan {
	plan := FIFOPlan{Shortfall: decimal.Zero}
	needed := quantity

	for _, b := range batches {
		if !needed.IsPositive() {
			break
		}
		if !b.RemainingQuantity.IsPositive() {
			continue
		}

		take := decimal.Min(b.RemainingQuantity, needed)
		plan.Draws = append(plan.Draws, Draw{
			BatchID:     b.ID,
			BatchNumber: b.BatchNumber,
			Amount:      take,
			Remaining:   b.RemainingQuantity.Sub(take),
		})
		needed = needed.Sub(take)
	}

	if needed.IsPositive() {
		plan.Shortfall = needed
	}
	return plan
}

// Total is the amount drawn from batches
func (p FIFOPlan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, d := range p.Draws {
		total = total.Add(d.Amount)
	}
	return total
}
