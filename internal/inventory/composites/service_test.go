package composites

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
	composites map[int64]Composite
	builds     []BuildRecord
	nextID     int64
}

func newMemRepo() *memRepo {
	return &memRepo{composites: make(map[int64]Composite)}
}

func (r *memRepo) Create(ctx context.Context, comp Composite) (Composite, error) {
	r.nextID++
	comp.ID = r.nextID
	for i := range comp.Components {
		comp.Components[i].ID = int64(i + 1)
		comp.Components[i].CompositeID = comp.ID
	}
	r.composites[comp.ID] = comp
	return comp, nil
}

func (r *memRepo) Get(ctx context.Context, orgID, id int64) (Composite, error) {
	comp, ok := r.composites[id]
	if !ok || comp.OrgID != orgID {
		return Composite{}, ErrCompositeNotFound
	}
	out := comp
	out.Components = append([]Component(nil), comp.Components...)
	return out, nil
}

func (r *memRepo) List(ctx context.Context, orgID int64) ([]Composite, error) {
	var out []Composite
	for _, comp := range r.composites {
		if comp.OrgID == orgID {
			out = append(out, comp)
		}
	}
	return out, nil
}

func (r *memRepo) Update(ctx context.Context, comp Composite) error {
	if _, ok := r.composites[comp.ID]; !ok {
		return ErrCompositeNotFound
	}
	r.composites[comp.ID] = comp
	return nil
}

func (r *memRepo) Delete(ctx context.Context, orgID, id int64) error {
	if _, ok := r.composites[id]; !ok {
		return ErrCompositeNotFound
	}
	delete(r.composites, id)
	return nil
}

func (r *memRepo) CreateBuildRecord(ctx context.Context, record BuildRecord) (BuildRecord, error) {
	r.nextID++
	record.ID = r.nextID
	r.builds = append(r.builds, record)
	return record, nil
}

func (r *memRepo) ListBuildRecords(ctx context.Context, orgID, compositeID int64) ([]BuildRecord, error) {
	var out []BuildRecord
	for _, record := range r.builds {
		if record.OrgID == orgID && record.CompositeID == compositeID {
			out = append(out, record)
		}
	}
	return out, nil
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

func (m *memStock) qty(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	it, ok := m.items[id]
	require.True(t, ok)
	return it.Qty
}

type fakeLedger struct {
	nextID   int64
	entries  map[int64]journals.PostingInput
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
	return journals.JournalEntry{ID: l.nextID, OrgID: input.OrgID}, nil
}

func (l *fakeLedger) Reverse(ctx context.Context, input journals.ReverseInput) (journals.JournalEntry, error) {
	if _, ok := l.entries[input.EntryID]; !ok {
		return journals.JournalEntry{}, ledgershared.ErrJournalNotFound
	}
	l.nextID++
	return journals.JournalEntry{ID: l.nextID}, nil
}

type fakeGuard struct {
	locked bool
}

func (g *fakeGuard) AssertWritable(ctx context.Context, orgID int64, date time.Time) error {
	if g.locked {
		return &ledgershared.PeriodLockedError{Year: date.Year(), Month: date.Month(), Status: "LOCKED"}
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

func newTestService(repo *memRepo, items *memStock, ledger *fakeLedger, guard *fakeGuard) *Service {
	mutator := stock.NewMutator(items, 0)
	resolver := mapResolver{KeyInventoryAsset: 100, KeyCompositeAsset: 110}
	return NewService(repo, items, mutator, ledger, guard, resolver, nil, nil)
}

func testItem(id int64, qty string, unitCost int64) stock.Item {
	return stock.Item{ID: id, OrgID: 1, SKU: "SKU", Name: "Item", Qty: decimal.RequireFromString(qty), UnitCost: unitCost}
}

var actor = internalShared.Identity{UserID: 9, Role: internalShared.RoleStaff}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedComposite(t *testing.T, svc *Service, trackAccounting bool, components ...ComponentInput) Composite {
	t.Helper()
	comp, err := svc.Create(context.Background(), DefinitionInput{
		OrgID:           1,
		ItemID:          10,
		Name:            "Service Kit",
		Kind:            KindKit,
		PricingMode:     PricingMarkup,
		MarkupPct:       dec("20"),
		TrackAccounting: trackAccounting,
		Components:      components,
		Actor:           actor,
	})
	require.NoError(t, err)
	return comp
}

func TestAvailabilityFloorsMostConstrainedComponent(t *testing.T) {
	items := newMemStock(testItem(10, "0", 0), testItem(1, "5", 100))
	svc := newTestService(newMemRepo(), items, newFakeLedger(), &fakeGuard{})
	comp := seedComposite(t, svc, false, ComponentInput{ItemID: 1, QtyPerUnit: dec("2")})
	ctx := context.Background()

	avail, err := svc.CheckAvailability(ctx, 1, comp.ID, dec("2"))
	require.NoError(t, err)
	require.True(t, avail.MaxBuildable.Equal(dec("2")))
	require.True(t, avail.CanBuild)

	avail, err = svc.CheckAvailability(ctx, 1, comp.ID, dec("3"))
	require.NoError(t, err)
	require.False(t, avail.CanBuild)
	require.Len(t, avail.Components, 1)
	require.True(t, avail.Components[0].Short.Equal(dec("1")))
}

func TestBuildConsumesComponentsAndAddsUnits(t *testing.T) {
	items := newMemStock(testItem(10, "0", 0), testItem(1, "10", 100), testItem(2, "5", 50))
	ledger := newFakeLedger()
	svc := newTestService(newMemRepo(), items, ledger, &fakeGuard{})
	comp := seedComposite(t, svc, true,
		ComponentInput{ItemID: 1, QtyPerUnit: dec("2")},
		ComponentInput{ItemID: 2, QtyPerUnit: dec("1")},
	)
	ctx := context.Background()

	record, err := svc.Build(ctx, BuildInput{OrgID: 1, CompositeID: comp.ID, Qty: dec("3"), Actor: actor})
	require.NoError(t, err)
	require.Equal(t, BuildKindBuild, record.Kind)
	require.Equal(t, int64(250), record.UnitCost)
	require.Equal(t, int64(750), record.TotalValue)
	require.NotNil(t, record.JournalEntryID)

	require.True(t, items.qty(t, 1).Equal(dec("4")))
	require.True(t, items.qty(t, 2).Equal(dec("2")))
	require.True(t, items.qty(t, 10).Equal(dec("3")))
	require.Equal(t, int64(250), items.items[10].UnitCost)

	posted := ledger.entries[*record.JournalEntryID]
	var builtDebit, rawCredit int64
	for _, line := range posted.Lines {
		switch line.AccountID {
		case 110:
			builtDebit += line.Debit
		case 100:
			rawCredit += line.Credit
		}
	}
	require.Equal(t, int64(750), builtDebit)
	require.Equal(t, int64(750), rawCredit)
}

func TestBuildThenUnbuildRestoresComponents(t *testing.T) {
	items := newMemStock(testItem(10, "0", 0), testItem(1, "10", 100), testItem(2, "5", 50))
	svc := newTestService(newMemRepo(), items, newFakeLedger(), &fakeGuard{})
	comp := seedComposite(t, svc, false,
		ComponentInput{ItemID: 1, QtyPerUnit: dec("2")},
		ComponentInput{ItemID: 2, QtyPerUnit: dec("1")},
	)
	ctx := context.Background()

	_, err := svc.Build(ctx, BuildInput{OrgID: 1, CompositeID: comp.ID, Qty: dec("3"), Actor: actor})
	require.NoError(t, err)
	record, err := svc.Unbuild(ctx, BuildInput{OrgID: 1, CompositeID: comp.ID, Qty: dec("3"), Actor: actor})
	require.NoError(t, err)
	require.Equal(t, BuildKindUnbuild, record.Kind)

	require.True(t, items.qty(t, 1).Equal(dec("10")))
	require.True(t, items.qty(t, 2).Equal(dec("5")))
	require.True(t, items.qty(t, 10).Equal(dec("0")))
}

func TestBuildWasteIsNotRecovered(t *testing.T) {
	items := newMemStock(testItem(10, "0", 0), testItem(1, "10", 100))
	svc := newTestService(newMemRepo(), items, newFakeLedger(), &fakeGuard{})
	comp := seedComposite(t, svc, false,
		ComponentInput{ItemID: 1, QtyPerUnit: dec("1"), WastePct: dec("50")},
	)
	ctx := context.Background()

	// 2 units at 1 each plus 50% waste consumes 3.
	_, err := svc.Build(ctx, BuildInput{OrgID: 1, CompositeID: comp.ID, Qty: dec("2"), Actor: actor})
	require.NoError(t, err)
	require.True(t, items.qty(t, 1).Equal(dec("7")))

	// Unbuild returns the nominal 2; the waste stays consumed.
	_, err = svc.Unbuild(ctx, BuildInput{OrgID: 1, CompositeID: comp.ID, Qty: dec("2"), Actor: actor})
	require.NoError(t, err)
	require.True(t, items.qty(t, 1).Equal(dec("9")))
}

func TestBuildRejectsShortage(t *testing.T) {
	items := newMemStock(testItem(10, "0", 0), testItem(1, "5", 100))
	svc := newTestService(newMemRepo(), items, newFakeLedger(), &fakeGuard{})
	comp := seedComposite(t, svc, false, ComponentInput{ItemID: 1, QtyPerUnit: dec("2")})

	_, err := svc.Build(context.Background(), BuildInput{OrgID: 1, CompositeID: comp.ID, Qty: dec("3"), Actor: actor})
	require.ErrorIs(t, err, ErrInsufficientComponentStock)
	require.True(t, items.qty(t, 1).Equal(dec("5")))
}

func TestUnbuildRejectsInsufficientUnits(t *testing.T) {
	items := newMemStock(testItem(10, "1", 250), testItem(1, "10", 100))
	svc := newTestService(newMemRepo(), items, newFakeLedger(), &fakeGuard{})
	comp := seedComposite(t, svc, false, ComponentInput{ItemID: 1, QtyPerUnit: dec("2")})

	_, err := svc.Unbuild(context.Background(), BuildInput{OrgID: 1, CompositeID: comp.ID, Qty: dec("2"), Actor: actor})
	require.ErrorIs(t, err, ErrInsufficientCompositeStock)
}

func TestBuildBlockedByLockedPeriod(t *testing.T) {
	items := newMemStock(testItem(10, "0", 0), testItem(1, "10", 100))
	svc := newTestService(newMemRepo(), items, newFakeLedger(), &fakeGuard{locked: true})
	comp := seedComposite(t, svc, false, ComponentInput{ItemID: 1, QtyPerUnit: dec("1")})

	_, err := svc.Build(context.Background(), BuildInput{OrgID: 1, CompositeID: comp.ID, Qty: dec("1"), Actor: actor})
	require.ErrorIs(t, err, ledgershared.ErrPeriodLocked)
	require.True(t, items.qty(t, 1).Equal(dec("10")))
}

func TestBuildCompensatesWhenPostingFails(t *testing.T) {
	items := newMemStock(testItem(10, "0", 0), testItem(1, "10", 100))
	ledger := newFakeLedger()
	ledger.failPost = true
	svc := newTestService(newMemRepo(), items, ledger, &fakeGuard{})
	comp := seedComposite(t, svc, true, ComponentInput{ItemID: 1, QtyPerUnit: dec("2")})

	_, err := svc.Build(context.Background(), BuildInput{OrgID: 1, CompositeID: comp.ID, Qty: dec("2"), Actor: actor})
	require.Error(t, err)
	require.True(t, items.qty(t, 1).Equal(dec("10")))
	require.True(t, items.qty(t, 10).Equal(dec("0")))
}

func TestSelfReferenceRejected(t *testing.T) {
	items := newMemStock(testItem(10, "0", 0))
	svc := newTestService(newMemRepo(), items, newFakeLedger(), &fakeGuard{})

	_, err := svc.Create(context.Background(), DefinitionInput{
		OrgID: 1, ItemID: 10, Name: "Loop", Kind: KindKit, PricingMode: PricingFixed,
		Components: []ComponentInput{{ItemID: 10, QtyPerUnit: dec("1")}},
		Actor:      actor,
	})
	require.ErrorIs(t, err, ErrSelfReference)
}

func TestSellingPrice(t *testing.T) {
	fixed := Composite{PricingMode: PricingFixed, FixedPrice: 9900}
	require.Equal(t, int64(9900), SellingPrice(fixed, 1234))

	markup := Composite{PricingMode: PricingMarkup, MarkupPct: dec("20")}
	require.Equal(t, int64(300), SellingPrice(markup, 250))
}
