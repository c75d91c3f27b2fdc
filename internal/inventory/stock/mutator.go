package stock

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	ledgershared "github.com/gearbox-erp/gearbox-erp/internal/ledger/shared"
)

// DefaultRetryAttempts bounds the optimistic-concurrency retry loop.
const DefaultRetryAttempts = 5

// Delta describes one stock mutation. A nil NewUnitCost keeps the moving
// average untouched (quantity-only adjustments, component issues).
type Delta struct {
	ItemID      int64
	QtyChange   decimal.Decimal
	NewUnitCost *int64
}

// Applied records a delta that hit storage, so a failed multi-item
// operation can be compensated.
type Applied struct {
	ItemID    int64
	QtyChange decimal.Decimal
	PrevCost  int64
	NewCost   int64
}

// Mutator runs read-compute-conditional-write cycles with bounded retries.
type Mutator struct {
	repo     Repository
	attempts int
}

// NewMutator builds a Mutator; attempts <= 0 uses the default budget.
func NewMutator(repo Repository, attempts int) *Mutator {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	return &Mutator{repo: repo, attempts: attempts}
}

// Apply mutates one item's stock. On version conflict it re-reads and
// retries; once the budget is spent it surfaces ConcurrentModification so
// the caller restarts the whole logical operation from fresh state.
func (m *Mutator) Apply(ctx context.Context, orgID int64, delta Delta, allowNegative bool) (Item, error) {
	_, updated, err := m.apply(ctx, orgID, delta, allowNegative)
	return updated, err
}

// apply also returns the item as read in the iteration whose write won, so
// callers get the exact pre-image the written row replaced.
func (m *Mutator) apply(ctx context.Context, orgID int64, delta Delta, allowNegative bool) (Item, Item, error) {
	var lastErr error
	for attempt := 0; attempt < m.attempts; attempt++ {
		before, err := m.repo.Get(ctx, orgID, delta.ItemID)
		if err != nil {
			return Item{}, Item{}, err
		}
		item := before
		newQty := item.Qty.Add(delta.QtyChange)
		if !allowNegative && newQty.IsNegative() {
			return Item{}, Item{}, ErrNegativeStock
		}
		item.Qty = newQty
		if delta.NewUnitCost != nil {
			item.UnitCost = *delta.NewUnitCost
		}
		updated, err := m.repo.UpdateStock(ctx, item)
		if err == nil {
			return before, updated, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Item{}, Item{}, err
		}
		lastErr = err
	}
	return Item{}, Item{}, errors.Join(ledgershared.ErrConcurrentModification, lastErr)
}

// ApplyAll mutates several items, compensating every already-applied delta
// when a later one fails, so the batch is all-or-nothing.
func (m *Mutator) ApplyAll(ctx context.Context, orgID int64, deltas []Delta, allowNegative bool) ([]Applied, error) {
	applied := make([]Applied, 0, len(deltas))
	for _, delta := range deltas {
		before, item, err := m.apply(ctx, orgID, delta, allowNegative)
		if err != nil {
			m.Compensate(ctx, orgID, applied)
			return nil, err
		}
		applied = append(applied, Applied{
			ItemID:    delta.ItemID,
			QtyChange: delta.QtyChange,
			PrevCost:  before.UnitCost,
			NewCost:   item.UnitCost,
		})
	}
	return applied, nil
}

// Compensate undoes applied deltas in reverse order. Negative stock is
// allowed during rollback: restoring the prior state always wins.
func (m *Mutator) Compensate(ctx context.Context, orgID int64, applied []Applied) {
	for i := len(applied) - 1; i >= 0; i-- {
		entry := applied[i]
		prev := entry.PrevCost
		_, _ = m.Apply(ctx, orgID, Delta{
			ItemID:      entry.ItemID,
			QtyChange:   entry.QtyChange.Neg(),
			NewUnitCost: &prev,
		}, true)
	}
}
