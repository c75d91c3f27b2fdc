package adjustments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gearbox-erp/gearbox-erp/internal/inventory/stock"
	"github.com/gearbox-erp/gearbox-erp/internal/ledger/journals"
	ledgershared "github.com/gearbox-erp/gearbox-erp/internal/ledger/shared"
	internalShared "github.com/gearbox-erp/gearbox-erp/internal/shared"
)

type memRepo struct {
	records   map[int64]Adjustment
	reasons   map[string]bool
	movements []ValueMovement
	seq       int64
	nextID    int64
}

func newMemRepo(reasons ...string) *memRepo {
	r := &memRepo{records: make(map[int64]Adjustment), reasons: make(map[string]bool)}
	for _, reason := range reasons {
		r.reasons[reason] = true
	}
	return r
}

func (r *memRepo) Create(ctx context.Context, adj Adjustment) (Adjustment, error) {
	r.nextID++
	adj.ID = r.nextID
	for i := range adj.Lines {
		adj.Lines[i].ID = int64(i + 1)
		adj.Lines[i].AdjustmentID = adj.ID
	}
	r.records[adj.ID] = cloneAdjustment(adj)
	return adj, nil
}

func (r *memRepo) Get(ctx context.Context, orgID, id int64) (Adjustment, error) {
	adj, ok := r.records[id]
	if !ok || adj.OrgID != orgID {
		return Adjustment{}, ErrNotFound
	}
	return cloneAdjustment(adj), nil
}

func (r *memRepo) List(ctx context.Context, orgID int64) ([]Adjustment, error) {
	var out []Adjustment
	for _, adj := range r.records {
		if adj.OrgID == orgID {
			out = append(out, cloneAdjustment(adj))
		}
	}
	return out, nil
}

func (r *memRepo) Update(ctx context.Context, adj Adjustment) error {
	if _, ok := r.records[adj.ID]; !ok {
		return ErrNotFound
	}
	r.records[adj.ID] = cloneAdjustment(adj)
	return nil
}

func (r *memRepo) Delete(ctx context.Context, orgID, id int64) error {
	if _, ok := r.records[id]; !ok {
		return ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *memRepo) NextNumber(ctx context.Context, orgID int64) (int64, error) {
	r.seq++
	return r.seq, nil
}

func (r *memRepo) ListReasons(ctx context.Context, orgID int64) ([]string, error) {
	var out []string
	for reason := range r.reasons {
		out = append(out, reason)
	}
	return out, nil
}

func (r *memRepo) AddReason(ctx context.Context, orgID int64, reason string) error {
	r.reasons[reason] = true
	return nil
}

func (r *memRepo) ValueMovements(ctx context.Context, orgID int64, since time.Time) ([]ValueMovement, error) {
	out := make([]ValueMovement, len(r.movements))
	copy(out, r.movements)
	return out, nil
}

func cloneAdjustment(adj Adjustment) Adjustment {
	out := adj
	out.Lines = append([]Line(nil), adj.Lines...)
	out.Trail = append([]TrailEntry(nil), adj.Trail...)
	return out
}

type memStock struct {
	items map[int64]stock.Item
}

func newMemStock(items ...stock.Item) *memStock {
	m := &memStock{items: make(map[int64]stock.Item)}
	for _, it := range items {
		m.items[it.ID] = it
	}
	return m
}

func (m *memStock) Get(ctx context.Context, orgID, itemID int64) (stock.Item, error) {
	it, ok := m.items[itemID]
	if !ok || it.OrgID != orgID {
		return stock.Item{}, stock.ErrItemNotFound
	}
	return it, nil
}

func (m *memStock) List(ctx context.Context, orgID int64) ([]stock.Item, error) {
	var out []stock.Item
	for _, it := range m.items {
		if it.OrgID == orgID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memStock) UpdateStock(ctx context.Context, item stock.Item) (stock.Item, error) {
	current, ok := m.items[item.ID]
	if !ok {
		return stock.Item{}, stock.ErrItemNotFound
	}
	if current.Version != item.Version {
		return stock.Item{}, stock.ErrVersionConflict
	}
	item.Version++
	m.items[item.ID] = item
	return item, nil
}

type fakeLedger struct {
	nextID   int64
	entries  map[int64]journals.PostingInput
	order    []int64
	failPost bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[int64]journals.PostingInput)}
}

func (l *fakeLedger) Post(ctx context.Context, input journals.PostingInput) (journals.JournalEntry, error) {
	if l.failPost {
		return journals.JournalEntry{}, errors.New("ledger unavailable")
	}
	if err := input.Validate(); err != nil {
		return journals.JournalEntry{}, err
	}
	l.nextID++
	l.entries[l.nextID] = input
	l.order = append(l.order, l.nextID)
	return journals.JournalEntry{ID: l.nextID, OrgID: input.OrgID, Date: input.Date}, nil
}

func (l *fakeLedger) Reverse(ctx context.Context, input journals.ReverseInput) (journals.JournalEntry, error) {
	original, ok := l.entries[input.EntryID]
	if !ok {
		return journals.JournalEntry{}, ledgershared.ErrJournalNotFound
	}
	swapped := original
	swapped.Lines = nil
	for _, line := range original.Lines {
		swapped.Lines = append(swapped.Lines, journals.PostingLineInput{
			AccountID: line.AccountID, Debit: line.Credit, Credit: line.Debit, Memo: line.Memo,
		})
	}
	l.nextID++
	l.entries[l.nextID] = swapped
	l.order = append(l.order, l.nextID)
	return journals.JournalEntry{ID: l.nextID, OrgID: original.OrgID}, nil
}

type fakeGuard struct {
	locked bool
}

func (g *fakeGuard) AssertWritable(ctx context.Context, orgID int64, date time.Time) error {
	if g.locked {
		year, month := date.Year(), date.Month()
		return &ledgershared.PeriodLockedError{Year: year, Month: month, Status: "LOCKED"}
	}
	return nil
}

type mapResolver map[string]int64

func (m mapResolver) ResolveID(ctx context.Context, orgID int64, key string) (int64, error) {
	id, ok := m[key]
	if !ok {
		return 0, ledgershared.ErrAccountNotFound
	}
	return id, nil
}

func defaultResolver() mapResolver {
	return mapResolver{
		KeyInventoryAsset: 100,
		KeyAdjustmentLoss: 200,
		KeyAdjustmentGain: 300,
	}
}

func newTestService(repo *memRepo, items *memStock, ledger *fakeLedger, guard *fakeGuard) *Service {
	mutator := stock.NewMutator(items, 0)
	return NewService(repo, items, mutator, ledger, guard, defaultResolver(), nil, nil)
}

func testItem(id int64, qty string, unitCost int64) stock.Item {
	return stock.Item{ID: id, OrgID: 1, SKU: "SKU", Name: "Item", Qty: decimal.RequireFromString(qty), UnitCost: unitCost}
}

var actor = internalShared.Identity{UserID: 9, Role: internalShared.RoleAdmin}

func TestCreateDraftSnapshotsStock(t *testing.T) {
	repo := newMemRepo("Damaged")
	items := newMemStock(testItem(1, "10", 500))
	svc := newTestService(repo, items, newFakeLedger(), &fakeGuard{})
	ctx := context.Background()

	adj, err := svc.CreateDraft(ctx, CreateInput{
		OrgID: 1, Type: TypeQuantity, Reason: "Damaged", Actor: actor,
		Lines: []LineInput{{ItemID: 1, NewQty: decimal.RequireFromString("7")}},
	})
	require.NoError(t, err)
	require.Equal(t, "ADJ-000001", adj.Number)
	require.Equal(t, StatusDraft, adj.Status)
	require.Len(t, adj.Lines, 1)
	require.True(t, adj.Lines[0].QtyAvailable.Equal(decimal.RequireFromString("10")))
	require.True(t, adj.Lines[0].QtyDelta.Equal(decimal.RequireFromString("-3")))
	require.Equal(t, int64(-1500), adj.Lines[0].ValueDelta)

	// Drafts never touch stock.
	item, err := items.Get(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, item.Qty.Equal(decimal.RequireFromString("10")))
}

func TestCreateDraftUnknownReason(t *testing.T) {
	repo := newMemRepo("Damaged")
	svc := newTestService(repo, newMemStock(testItem(1, "10", 500)), newFakeLedger(), &fakeGuard{})

	_, err := svc.CreateDraft(context.Background(), CreateInput{
		OrgID: 1, Type: TypeQuantity, Reason: "Shrinkage", Actor: actor,
		Lines: []LineInput{{ItemID: 1, NewQty: decimal.RequireFromString("7")}},
	})
	require.ErrorIs(t, err, ErrUnknownReason)
}

func TestConvertQuantityAppliesStockAndPosts(t *testing.T) {
	repo := newMemRepo("Damaged")
	items := newMemStock(testItem(1, "10", 500))
	ledger := newFakeLedger()
	svc := newTestService(repo, items, ledger, &fakeGuard{})
	ctx := context.Background()

	adj, err := svc.CreateDraft(ctx, CreateInput{
		OrgID: 1, Type: TypeQuantity, Reason: "Damaged", Actor: actor,
		Lines: []LineInput{{ItemID: 1, NewQty: decimal.RequireFromString("7")}},
	})
	require.NoError(t, err)

	converted, err := svc.Convert(ctx, 1, adj.ID, actor)
	require.NoError(t, err)
	require.Equal(t, StatusAdjusted, converted.Status)
	require.NotNil(t, converted.JournalEntryID)

	item, err := items.Get(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, item.Qty.Equal(decimal.RequireFromString("7")))

	require.Len(t, ledger.order, 1)
	posted := ledger.entries[*converted.JournalEntryID]
	require.Equal(t, SourceModule, posted.SourceModule)
	var lossDebit, assetCredit int64
	for _, line := range posted.Lines {
		switch line.AccountID {
		case 200:
			lossDebit += line.Debit
		case 100:
			assetCredit += line.Credit
		}
	}
	require.Equal(t, int64(1500), lossDebit)
	require.Equal(t, int64(1500), assetCredit)

	// Retried conversion is a no-op: same record, no second entry.
	again, err := svc.Convert(ctx, 1, adj.ID, actor)
	require.NoError(t, err)
	require.Equal(t, converted.Status, again.Status)
	require.Len(t, ledger.order, 1)
	item, _ = items.Get(ctx, 1, 1)
	require.True(t, item.Qty.Equal(decimal.RequireFromString("7")))
}

func TestConvertCompensatesWhenPostingFails(t *testing.T) {
	repo := newMemRepo("Damaged")
	items := newMemStock(testItem(1, "10", 500))
	ledger := newFakeLedger()
	ledger.failPost = true
	svc := newTestService(repo, items, ledger, &fakeGuard{})
	ctx := context.Background()

	adj, err := svc.CreateDraft(ctx, CreateInput{
		OrgID: 1, Type: TypeQuantity, Reason: "Damaged", Actor: actor,
		Lines: []LineInput{{ItemID: 1, NewQty: decimal.RequireFromString("7")}},
	})
	require.NoError(t, err)

	_, err = svc.Convert(ctx, 1, adj.ID, actor)
	require.Error(t, err)

	// Stock rolled back, record still a draft.
	item, _ := items.Get(ctx, 1, 1)
	require.True(t, item.Qty.Equal(decimal.RequireFromString("10")))
	stored, err := repo.Get(ctx, 1, adj.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)
}

func TestConvertRejectedInLockedPeriod(t *testing.T) {
	repo := newMemRepo("Damaged")
	items := newMemStock(testItem(1, "10", 500))
	svc := newTestService(repo, items, newFakeLedger(), &fakeGuard{locked: true})
	ctx := context.Background()

	adj, err := svc.CreateDraft(ctx, CreateInput{
		OrgID: 1, Type: TypeQuantity, Reason: "Damaged", Actor: actor,
		Lines: []LineInput{{ItemID: 1, NewQty: decimal.RequireFromString("7")}},
	})
	require.NoError(t, err)

	_, err = svc.Convert(ctx, 1, adj.ID, actor)
	require.ErrorIs(t, err, ledgershared.ErrPeriodLocked)

	item, _ := items.Get(ctx, 1, 1)
	require.True(t, item.Qty.Equal(decimal.RequireFromString("10")))
}

func TestVoidRestoresStockAndReverses(t *testing.T) {
	repo := newMemRepo("Damaged")
	items := newMemStock(testItem(1, "10", 500))
	ledger := newFakeLedger()
	svc := newTestService(repo, items, ledger, &fakeGuard{})
	ctx := context.Background()

	adj, err := svc.CreateDraft(ctx, CreateInput{
		OrgID: 1, Type: TypeQuantity, Reason: "Damaged", Actor: actor,
		Lines: []LineInput{{ItemID: 1, NewQty: decimal.RequireFromString("7")}},
	})
	require.NoError(t, err)
	_, err = svc.Convert(ctx, 1, adj.ID, actor)
	require.NoError(t, err)

	voided, err := svc.Void(ctx, 1, adj.ID, actor, "counted wrong")
	require.NoError(t, err)
	require.Equal(t, StatusVoid, voided.Status)
	require.NotNil(t, voided.ReversalEntryID)

	// Net effect of convert plus void is zero.
	item, _ := items.Get(ctx, 1, 1)
	require.True(t, item.Qty.Equal(decimal.RequireFromString("10")))

	require.Len(t, ledger.order, 2)
	perAccount := map[int64]int64{}
	for _, id := range ledger.order {
		for _, line := range ledger.entries[id].Lines {
			perAccount[line.AccountID] += line.Debit - line.Credit
		}
	}
	for accountID, net := range perAccount {
		require.Zero(t, net, "account %d", accountID)
	}
}

func TestValueAdjustmentRevaluesUnitCost(t *testing.T) {
	repo := newMemRepo("Revaluation")
	items := newMemStock(testItem(1, "4", 250))
	ledger := newFakeLedger()
	svc := newTestService(repo, items, ledger, &fakeGuard{})
	ctx := context.Background()

	adj, err := svc.CreateDraft(ctx, CreateInput{
		OrgID: 1, Type: TypeValue, Reason: "Revaluation", Actor: actor,
		Lines: []LineInput{{ItemID: 1, NewValue: 1200}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(200), adj.Lines[0].ValueDelta)

	converted, err := svc.Convert(ctx, 1, adj.ID, actor)
	require.NoError(t, err)

	item, _ := items.Get(ctx, 1, 1)
	require.Equal(t, int64(300), item.UnitCost)
	require.True(t, item.Qty.Equal(decimal.RequireFromString("4")))

	posted := ledger.entries[*converted.JournalEntryID]
	var gainCredit, assetDebit int64
	for _, line := range posted.Lines {
		switch line.AccountID {
		case 300:
			gainCredit += line.Credit
		case 100:
			assetDebit += line.Debit
		}
	}
	require.Equal(t, int64(200), gainCredit)
	require.Equal(t, int64(200), assetDebit)

	_, err = svc.Void(ctx, 1, adj.ID, actor, "")
	require.NoError(t, err)
	item, _ = items.Get(ctx, 1, 1)
	require.Equal(t, int64(250), item.UnitCost)
}

func TestDeleteDraftRejectsConverted(t *testing.T) {
	repo := newMemRepo("Damaged")
	items := newMemStock(testItem(1, "10", 500))
	svc := newTestService(repo, items, newFakeLedger(), &fakeGuard{})
	ctx := context.Background()

	adj, err := svc.CreateDraft(ctx, CreateInput{
		OrgID: 1, Type: TypeQuantity, Reason: "Damaged", Actor: actor,
		Lines: []LineInput{{ItemID: 1, NewQty: decimal.RequireFromString("7")}},
	})
	require.NoError(t, err)
	_, err = svc.Convert(ctx, 1, adj.ID, actor)
	require.NoError(t, err)

	err = svc.DeleteDraft(ctx, 1, adj.ID, actor)
	require.ErrorIs(t, err, ledgershared.ErrInvalidTransition)
}
