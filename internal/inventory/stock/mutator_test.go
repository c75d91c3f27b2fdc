package stock

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	ledgershared "github.com/gearbox-erp/gearbox-erp/internal/ledger/shared"
)

// contentiousRepo simulates a writer racing us: every UpdateStock bumps
// the stored version first for the first conflictCount calls. A non-nil
// conflictCost has the racing writer re-price the item too.
type contentiousRepo struct {
	items         map[int64]Item
	conflictCount int
	conflictCost  *int64
	updates       int
}

func newContentiousRepo(items ...Item) *contentiousRepo {
	r := &contentiousRepo{items: make(map[int64]Item)}
	for _, it := range items {
		r.items[it.ID] = it
	}
	return r
}

func (r *contentiousRepo) Get(ctx context.Context, orgID, itemID int64) (Item, error) {
	it, ok := r.items[itemID]
	if !ok || it.OrgID != orgID {
		return Item{}, ErrItemNotFound
	}
	return it, nil
}

func (r *contentiousRepo) List(ctx context.Context, orgID int64) ([]Item, error) {
	var out []Item
	for _, it := range r.items {
		if it.OrgID == orgID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *contentiousRepo) UpdateStock(ctx context.Context, item Item) (Item, error) {
	r.updates++
	current, ok := r.items[item.ID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	if r.conflictCount > 0 {
		r.conflictCount--
		current.Version++
		if r.conflictCost != nil {
			current.UnitCost = *r.conflictCost
		}
		r.items[item.ID] = current
		return Item{}, ErrVersionConflict
	}
	if current.Version != item.Version {
		return Item{}, ErrVersionConflict
	}
	item.Version++
	r.items[item.ID] = item
	return item, nil
}

func item(id int64, qty string, cost int64) Item {
	return Item{ID: id, OrgID: 1, SKU: "SKU", Qty: decimal.RequireFromString(qty), UnitCost: cost}
}

func TestApplyRetriesThroughConflicts(t *testing.T) {
	repo := newContentiousRepo(item(1, "10", 100))
	m := NewMutator(repo, 0)

	updated, err := m.Apply(context.Background(), 1, Delta{ItemID: 1, QtyChange: decimal.RequireFromString("-3")}, false)
	require.NoError(t, err)
	require.True(t, updated.Qty.Equal(decimal.RequireFromString("7")))

	repo.conflictCount = 2
	updated, err = m.Apply(context.Background(), 1, Delta{ItemID: 1, QtyChange: decimal.RequireFromString("-2")}, false)
	require.NoError(t, err)
	require.True(t, updated.Qty.Equal(decimal.RequireFromString("5")))
}

func TestApplyExhaustsRetryBudget(t *testing.T) {
	repo := newContentiousRepo(item(1, "10", 100))
	repo.conflictCount = DefaultRetryAttempts + 1
	m := NewMutator(repo, 0)

	_, err := m.Apply(context.Background(), 1, Delta{ItemID: 1, QtyChange: decimal.RequireFromString("-1")}, false)
	require.ErrorIs(t, err, ledgershared.ErrConcurrentModification)
}

func TestApplyRejectsNegativeStock(t *testing.T) {
	repo := newContentiousRepo(item(1, "2", 100))
	m := NewMutator(repo, 0)

	_, err := m.Apply(context.Background(), 1, Delta{ItemID: 1, QtyChange: decimal.RequireFromString("-5")}, false)
	require.ErrorIs(t, err, ErrNegativeStock)

	// Rollback paths may drive stock negative on purpose.
	updated, err := m.Apply(context.Background(), 1, Delta{ItemID: 1, QtyChange: decimal.RequireFromString("-5")}, true)
	require.NoError(t, err)
	require.True(t, updated.Qty.Equal(decimal.RequireFromString("-3")))
}

func TestApplyAllCompensatesOnFailure(t *testing.T) {
	repo := newContentiousRepo(item(1, "10", 100), item(2, "1", 50))
	m := NewMutator(repo, 0)

	_, err := m.ApplyAll(context.Background(), 1, []Delta{
		{ItemID: 1, QtyChange: decimal.RequireFromString("-4")},
		{ItemID: 2, QtyChange: decimal.RequireFromString("-3")},
	}, false)
	require.ErrorIs(t, err, ErrNegativeStock)

	first, err := repo.Get(context.Background(), 1, 1)
	require.NoError(t, err)
	require.True(t, first.Qty.Equal(decimal.RequireFromString("10")))
	second, err := repo.Get(context.Background(), 1, 2)
	require.NoError(t, err)
	require.True(t, second.Qty.Equal(decimal.RequireFromString("1")))
}

func TestApplyAllPrevCostTracksWinningRead(t *testing.T) {
	repriced := int64(130)
	newCost := int64(150)

	// A racing writer re-prices the item between our first read and our
	// winning retry. The pre-image must be the re-priced value.
	repo := newContentiousRepo(item(1, "10", 100))
	repo.conflictCount = 1
	repo.conflictCost = &repriced
	m := NewMutator(repo, 0)

	applied, err := m.ApplyAll(context.Background(), 1, []Delta{
		{ItemID: 1, QtyChange: decimal.Zero, NewUnitCost: &newCost},
	}, false)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	require.Equal(t, repriced, applied[0].PrevCost)
	require.Equal(t, newCost, applied[0].NewCost)

	// Same race with a failing second delta: compensation restores the
	// racing writer's price, not the stale first read.
	repo = newContentiousRepo(item(1, "10", 100), item(2, "1", 50))
	repo.conflictCount = 1
	repo.conflictCost = &repriced
	m = NewMutator(repo, 0)

	_, err = m.ApplyAll(context.Background(), 1, []Delta{
		{ItemID: 1, QtyChange: decimal.Zero, NewUnitCost: &newCost},
		{ItemID: 2, QtyChange: decimal.RequireFromString("-3")},
	}, false)
	require.ErrorIs(t, err, ErrNegativeStock)

	first, err := repo.Get(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Equal(t, repriced, first.UnitCost)
}

func TestApplyAllRestoresUnitCost(t *testing.T) {
	repo := newContentiousRepo(item(1, "10", 100), item(2, "1", 50))
	m := NewMutator(repo, 0)
	newCost := int64(140)

	_, err := m.ApplyAll(context.Background(), 1, []Delta{
		{ItemID: 1, QtyChange: decimal.Zero, NewUnitCost: &newCost},
		{ItemID: 2, QtyChange: decimal.RequireFromString("-3")},
	}, false)
	require.ErrorIs(t, err, ErrNegativeStock)

	first, err := repo.Get(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(100), first.UnitCost)
}
