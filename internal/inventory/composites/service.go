package composites

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gearbox-erp/gearbox-erp/internal/inventory/stock"
	"github.com/gearbox-erp/gearbox-erp/internal/ledger/journals"
	internalShared "github.com/gearbox-erp/gearbox-erp/internal/shared"
)

// SourceModule tags journal entries produced by builds and unbuilds.
const SourceModule = "COMPOSITE_BUILD"

// Semantic account keys for build postings: component value moves out of
// raw stock into the built-goods asset.
const (
	KeyInventoryAsset = "inventory.asset"
	KeyCompositeAsset = "inventory.asset.composite"
)

// LedgerPort is the posting engine surface builds need.
type LedgerPort interface {
	Post(ctx context.Context, input journals.PostingInput) (journals.JournalEntry, error)
	Reverse(ctx context.Context, input journals.ReverseInput) (journals.JournalEntry, error)
}

// PeriodGuard rejects builds into locked periods before stock moves.
type PeriodGuard interface {
	AssertWritable(ctx context.Context, orgID int64, date time.Time) error
}

// AccountResolver maps semantic keys to provisioned accounts.
type AccountResolver interface {
	ResolveID(ctx context.Context, orgID int64, key string) (int64, error)
}

// AuditPort records build activity.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Service manages composite definitions and runs builds and unbuilds
// against component stock through the optimistic mutator.
type Service struct {
	repo     Repository
	stock    stock.Repository
	mutator  *stock.Mutator
	ledger   LedgerPort
	guard    PeriodGuard
	accounts AccountResolver
	audit    AuditPort
	mutex    *internalShared.ResourceMutex
	now      func() time.Time
}

func NewService(repo Repository, stockRepo stock.Repository, mutator *stock.Mutator,
	ledger LedgerPort, guard PeriodGuard, accounts AccountResolver,
	audit AuditPort, mutex *internalShared.ResourceMutex) *Service {
	return &Service{
		repo:     repo,
		stock:    stockRepo,
		mutator:  mutator,
		ledger:   ledger,
		guard:    guard,
		accounts: accounts,
		audit:    audit,
		mutex:    mutex,
		now:      time.Now,
	}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// DefinitionInput carries the editable fields of a composite.
type DefinitionInput struct {
	OrgID           int64
	ItemID          int64
	Name            string
	Kind            Kind
	PricingMode     PricingMode
	FixedPrice      int64
	MarkupPct       decimal.Decimal
	TrackAccounting bool
	AutoBuild       bool
	Components      []ComponentInput
	Actor           internalShared.Identity
}

// ComponentInput is one component line of a definition.
type ComponentInput struct {
	ItemID     int64
	QtyPerUnit decimal.Decimal
	WastePct   decimal.Decimal
}

func (in DefinitionInput) validate() error {
	if in.ItemID == 0 {
		return fmt.Errorf("inventory: composite item required")
	}
	switch in.Kind {
	case KindKit, KindAssembly, KindBundle:
	default:
		return fmt.Errorf("inventory: unknown composite kind %q", in.Kind)
	}
	switch in.PricingMode {
	case PricingFixed:
		if in.FixedPrice < 0 {
			return fmt.Errorf("inventory: fixed price negative")
		}
	case PricingMarkup:
		if in.MarkupPct.IsNegative() {
			return fmt.Errorf("inventory: markup negative")
		}
	default:
		return fmt.Errorf("inventory: unknown pricing mode %q", in.PricingMode)
	}
	if len(in.Components) == 0 {
		return ErrNoComponents
	}
	for _, c := range in.Components {
		if c.ItemID == 0 {
			return fmt.Errorf("inventory: component missing item")
		}
		if c.ItemID == in.ItemID {
			return ErrSelfReference
		}
		if !c.QtyPerUnit.IsPositive() {
			return fmt.Errorf("inventory: component %d quantity must be positive", c.ItemID)
		}
		if c.WastePct.IsNegative() {
			return fmt.Errorf("inventory: component %d waste negative", c.ItemID)
		}
	}
	return nil
}

// Create validates and stores a new composite definition.
func (s *Service) Create(ctx context.Context, input DefinitionInput) (Composite, error) {
	if err := input.validate(); err != nil {
		return Composite{}, err
	}
	if _, err := s.stock.Get(ctx, input.OrgID, input.ItemID); err != nil {
		return Composite{}, err
	}
	comp := compositeFromInput(input)
	created, err := s.repo.Create(ctx, comp)
	if err != nil {
		return Composite{}, err
	}
	s.recordAudit(ctx, created, input.Actor, "composite.create", nil)
	return created, nil
}

// Update replaces a composite's definition. Build history is untouched.
func (s *Service) Update(ctx context.Context, id int64, input DefinitionInput) (Composite, error) {
	if err := input.validate(); err != nil {
		return Composite{}, err
	}
	existing, err := s.repo.Get(ctx, input.OrgID, id)
	if err != nil {
		return Composite{}, err
	}
	comp := compositeFromInput(input)
	comp.ID = existing.ID
	comp.CreatedAt = existing.CreatedAt
	if err := s.repo.Update(ctx, comp); err != nil {
		return Composite{}, err
	}
	s.recordAudit(ctx, comp, input.Actor, "composite.update", nil)
	return comp, nil
}

// Delete removes a composite definition.
func (s *Service) Delete(ctx context.Context, orgID, id int64, actor internalShared.Identity) error {
	comp, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, orgID, id); err != nil {
		return err
	}
	s.recordAudit(ctx, comp, actor, "composite.delete", nil)
	return nil
}

// Get returns one composite with components.
func (s *Service) Get(ctx context.Context, orgID, id int64) (Composite, error) {
	return s.repo.Get(ctx, orgID, id)
}

// List returns the tenant's composites.
func (s *Service) List(ctx context.Context, orgID int64) ([]Composite, error) {
	return s.repo.List(ctx, orgID)
}

// BuildHistory returns the build and unbuild records for a composite.
func (s *Service) BuildHistory(ctx context.Context, orgID, id int64) ([]BuildRecord, error) {
	if _, err := s.repo.Get(ctx, orgID, id); err != nil {
		return nil, err
	}
	return s.repo.ListBuildRecords(ctx, orgID, id)
}

// ComponentAvailability is one component's share of an availability check.
type ComponentAvailability struct {
	ItemID    int64           `json:"itemId"`
	SKU       string          `json:"sku"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	Short     decimal.Decimal `json:"short"`
}

// Availability answers how many units can be built right now. MaxBuildable
// is the floor of the most constrained component's ratio.
type Availability struct {
	CompositeID        int64                   `json:"compositeId"`
	RequestedQty       decimal.Decimal         `json:"requestedQty"`
	MaxBuildable       decimal.Decimal         `json:"maxBuildable"`
	CanBuild           bool                    `json:"canBuild"`
	EstimatedUnitCost  int64                   `json:"estimatedUnitCost"`
	EstimatedTotalCost int64                   `json:"estimatedTotalCost"`
	Components         []ComponentAvailability `json:"components"`
}

// CheckAvailability computes buildable quantity, per-component shortages
// and the estimated build cost at current unit costs, waste included.
func (s *Service) CheckAvailability(ctx context.Context, orgID, id int64, qty decimal.Decimal) (Availability, error) {
	comp, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return Availability{}, err
	}
	return s.availability(ctx, comp, qty)
}

func (s *Service) availability(ctx context.Context, comp Composite, qty decimal.Decimal) (Availability, error) {
	one := decimal.NewFromInt(1)
	result := Availability{CompositeID: comp.ID, RequestedQty: qty}
	var maxBuildable decimal.Decimal
	for i, c := range comp.Components {
		item, err := s.stock.Get(ctx, comp.OrgID, c.ItemID)
		if err != nil {
			return Availability{}, err
		}
		perUnit := c.QtyNeeded(one)
		required := c.QtyNeeded(qty)
		short := decimal.Zero
		if item.Qty.LessThan(required) {
			short = required.Sub(item.Qty)
		}
		result.Components = append(result.Components, ComponentAvailability{
			ItemID:    c.ItemID,
			SKU:       item.SKU,
			Required:  required,
			Available: item.Qty,
			Short:     short,
		})
		buildable := item.Qty.Div(perUnit).Floor()
		if i == 0 || buildable.LessThan(maxBuildable) {
			maxBuildable = buildable
		}
		result.EstimatedUnitCost += internalShared.MulMinor(item.UnitCost, perUnit)
	}
	result.MaxBuildable = maxBuildable
	result.EstimatedTotalCost = internalShared.MulMinor(result.EstimatedUnitCost, qty)
	result.CanBuild = qty.IsPositive() && !qty.GreaterThan(maxBuildable)
	return result, nil
}

// SellingPrice derives the price for one built unit from the pricing mode.
func SellingPrice(comp Composite, unitCost int64) int64 {
	if comp.PricingMode == PricingFixed {
		return comp.FixedPrice
	}
	factor := decimal.NewFromInt(1).Add(comp.MarkupPct.Div(hundred))
	return internalShared.MulMinor(unitCost, factor)
}

// Price returns the current selling price using the estimated build cost.
func (s *Service) Price(ctx context.Context, orgID, id int64) (int64, error) {
	comp, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return 0, err
	}
	if comp.PricingMode == PricingFixed {
		return comp.FixedPrice, nil
	}
	avail, err := s.availability(ctx, comp, decimal.NewFromInt(1))
	if err != nil {
		return 0, err
	}
	return SellingPrice(comp, avail.EstimatedUnitCost), nil
}

// BuildInput requests a build or unbuild of whole units.
type BuildInput struct {
	OrgID       int64
	CompositeID int64
	Qty         decimal.Decimal
	Notes       string
	Actor       internalShared.Identity
}

func (in BuildInput) validate() error {
	if !in.Qty.IsPositive() || !in.Qty.Equal(in.Qty.Floor()) {
		return fmt.Errorf("inventory: build quantity must be a positive whole number")
	}
	return nil
}

// Build consumes component stock (waste included), adds built units at
// moving-average cost and, for accounting-tracked composites, posts the
// component value into the built-goods asset. Any failure after stock
// moved compensates every applied delta.
func (s *Service) Build(ctx context.Context, input BuildInput) (BuildRecord, error) {
	if err := input.validate(); err != nil {
		return BuildRecord{}, err
	}
	comp, err := s.repo.Get(ctx, input.OrgID, input.CompositeID)
	if err != nil {
		return BuildRecord{}, err
	}
	now := s.now()
	if err := s.guard.AssertWritable(ctx, input.OrgID, now); err != nil {
		return BuildRecord{}, err
	}
	release, err := s.mutex.Acquire(ctx, internalShared.CompositeLockKey(input.OrgID, comp.ID))
	if err != nil {
		return BuildRecord{}, err
	}
	defer release()

	avail, err := s.availability(ctx, comp, input.Qty)
	if err != nil {
		return BuildRecord{}, err
	}
	if !avail.CanBuild {
		return BuildRecord{}, fmt.Errorf("%w: max buildable %s", ErrInsufficientComponentStock, avail.MaxBuildable)
	}

	deltas := make([]stock.Delta, 0, len(comp.Components))
	for _, c := range comp.Components {
		deltas = append(deltas, stock.Delta{ItemID: c.ItemID, QtyChange: c.QtyNeeded(input.Qty).Neg()})
	}
	applied, err := s.mutator.ApplyAll(ctx, input.OrgID, deltas, false)
	if err != nil {
		return BuildRecord{}, err
	}

	// Cost the build from the unit costs the components were consumed at.
	var totalValue int64
	buildComponents := make([]BuildComponent, 0, len(applied))
	for i, entry := range applied {
		consumed := comp.Components[i].QtyNeeded(input.Qty)
		value := internalShared.MulMinor(entry.PrevCost, consumed)
		totalValue += value
		buildComponents = append(buildComponents, BuildComponent{
			ItemID:      entry.ItemID,
			QtyConsumed: consumed,
			UnitCost:    entry.PrevCost,
			Value:       value,
		})
	}
	unitCost := internalShared.MinorUnits(decimal.NewFromInt(totalValue).Div(input.Qty))

	compositeItem, err := s.stock.Get(ctx, input.OrgID, comp.ItemID)
	if err != nil {
		s.mutator.Compensate(ctx, input.OrgID, applied)
		return BuildRecord{}, err
	}
	newCost := movingAverage(compositeItem.Qty, compositeItem.UnitCost, input.Qty, totalValue)
	builtApplied, err := s.mutator.ApplyAll(ctx, input.OrgID, []stock.Delta{
		{ItemID: comp.ItemID, QtyChange: input.Qty, NewUnitCost: &newCost},
	}, false)
	if err != nil {
		s.mutator.Compensate(ctx, input.OrgID, applied)
		return BuildRecord{}, err
	}
	applied = append(applied, builtApplied...)

	var entryID *int64
	if comp.TrackAccounting && totalValue > 0 {
		entryID, err = s.postBuild(ctx, comp, input, totalValue, true, now)
		if err != nil {
			s.mutator.Compensate(ctx, input.OrgID, applied)
			return BuildRecord{}, err
		}
	}

	record, err := s.repo.CreateBuildRecord(ctx, BuildRecord{
		OrgID:          input.OrgID,
		CompositeID:    comp.ID,
		Kind:           BuildKindBuild,
		Qty:            input.Qty,
		UnitCost:       unitCost,
		TotalValue:     totalValue,
		JournalEntryID: entryID,
		Components:     buildComponents,
		Notes:          input.Notes,
		CreatedBy:      input.Actor.UserID,
	})
	if err != nil {
		if entryID != nil {
			_, _ = s.ledger.Reverse(ctx, journals.ReverseInput{
				OrgID: input.OrgID, EntryID: *entryID, ActorID: input.Actor.UserID,
				Memo: fmt.Sprintf("Rollback build of %s", comp.Name),
			})
		}
		s.mutator.Compensate(ctx, input.OrgID, applied)
		return BuildRecord{}, err
	}
	s.recordAudit(ctx, comp, input.Actor, "composite.build", map[string]any{
		"qty": input.Qty.String(), "total_value": totalValue,
	})
	return record, nil
}

// Unbuild disassembles built units back into components at their nominal
// quantities. Waste consumed during the build is not recovered.
func (s *Service) Unbuild(ctx context.Context, input BuildInput) (BuildRecord, error) {
	if err := input.validate(); err != nil {
		return BuildRecord{}, err
	}
	comp, err := s.repo.Get(ctx, input.OrgID, input.CompositeID)
	if err != nil {
		return BuildRecord{}, err
	}
	now := s.now()
	if err := s.guard.AssertWritable(ctx, input.OrgID, now); err != nil {
		return BuildRecord{}, err
	}
	release, err := s.mutex.Acquire(ctx, internalShared.CompositeLockKey(input.OrgID, comp.ID))
	if err != nil {
		return BuildRecord{}, err
	}
	defer release()

	compositeItem, err := s.stock.Get(ctx, input.OrgID, comp.ItemID)
	if err != nil {
		return BuildRecord{}, err
	}
	if compositeItem.Qty.LessThan(input.Qty) {
		return BuildRecord{}, fmt.Errorf("%w: %s on hand", ErrInsufficientCompositeStock, compositeItem.Qty)
	}
	totalValue := internalShared.MulMinor(compositeItem.UnitCost, input.Qty)

	deltas := []stock.Delta{{ItemID: comp.ItemID, QtyChange: input.Qty.Neg()}}
	buildComponents := make([]BuildComponent, 0, len(comp.Components))
	for _, c := range comp.Components {
		returned := c.QtyPerUnit.Mul(input.Qty)
		deltas = append(deltas, stock.Delta{ItemID: c.ItemID, QtyChange: returned})
		buildComponents = append(buildComponents, BuildComponent{
			ItemID:      c.ItemID,
			QtyConsumed: returned.Neg(),
		})
	}
	applied, err := s.mutator.ApplyAll(ctx, input.OrgID, deltas, false)
	if err != nil {
		return BuildRecord{}, err
	}

	var entryID *int64
	if comp.TrackAccounting && totalValue > 0 {
		entryID, err = s.postBuild(ctx, comp, input, totalValue, false, now)
		if err != nil {
			s.mutator.Compensate(ctx, input.OrgID, applied)
			return BuildRecord{}, err
		}
	}

	record, err := s.repo.CreateBuildRecord(ctx, BuildRecord{
		OrgID:          input.OrgID,
		CompositeID:    comp.ID,
		Kind:           BuildKindUnbuild,
		Qty:            input.Qty,
		UnitCost:       compositeItem.UnitCost,
		TotalValue:     totalValue,
		JournalEntryID: entryID,
		Components:     buildComponents,
		Notes:          input.Notes,
		CreatedBy:      input.Actor.UserID,
	})
	if err != nil {
		if entryID != nil {
			_, _ = s.ledger.Reverse(ctx, journals.ReverseInput{
				OrgID: input.OrgID, EntryID: *entryID, ActorID: input.Actor.UserID,
				Memo: fmt.Sprintf("Rollback unbuild of %s", comp.Name),
			})
		}
		s.mutator.Compensate(ctx, input.OrgID, applied)
		return BuildRecord{}, err
	}
	s.recordAudit(ctx, comp, input.Actor, "composite.unbuild", map[string]any{
		"qty": input.Qty.String(), "total_value": totalValue,
	})
	return record, nil
}

// postBuild posts the stock value movement: builds debit the built-goods
// asset and credit raw stock, unbuilds the other way round.
func (s *Service) postBuild(ctx context.Context, comp Composite, input BuildInput, totalValue int64, build bool, date time.Time) (*int64, error) {
	rawID, err := s.accounts.ResolveID(ctx, comp.OrgID, KeyInventoryAsset)
	if err != nil {
		return nil, err
	}
	builtID, err := s.accounts.ResolveID(ctx, comp.OrgID, KeyCompositeAsset)
	if err != nil {
		return nil, err
	}
	verb := "Build"
	lines := []journals.PostingLineInput{
		{AccountID: builtID, Debit: totalValue, Memo: comp.Name},
		{AccountID: rawID, Credit: totalValue, Memo: comp.Name},
	}
	if !build {
		verb = "Unbuild"
		lines = []journals.PostingLineInput{
			{AccountID: rawID, Debit: totalValue, Memo: comp.Name},
			{AccountID: builtID, Credit: totalValue, Memo: comp.Name},
		}
	}
	entry, err := s.ledger.Post(ctx, journals.PostingInput{
		OrgID:        comp.OrgID,
		Date:         date,
		SourceModule: SourceModule,
		SourceID:     uuid.New(),
		Memo:         fmt.Sprintf("%s %s x %s", verb, comp.Name, input.Qty),
		PostedBy:     input.Actor.UserID,
		Lines:        lines,
	})
	if err != nil {
		return nil, err
	}
	return &entry.ID, nil
}

// movingAverage folds the build value into the composite item's cost.
func movingAverage(oldQty decimal.Decimal, oldCost int64, addQty decimal.Decimal, addValue int64) int64 {
	newQty := oldQty.Add(addQty)
	if !newQty.IsPositive() {
		return oldCost
	}
	oldValue := decimal.NewFromInt(oldCost).Mul(oldQty)
	return internalShared.MinorUnits(oldValue.Add(decimal.NewFromInt(addValue)).Div(newQty))
}

func compositeFromInput(input DefinitionInput) Composite {
	comp := Composite{
		OrgID:           input.OrgID,
		ItemID:          input.ItemID,
		Name:            input.Name,
		Kind:            input.Kind,
		PricingMode:     input.PricingMode,
		FixedPrice:      input.FixedPrice,
		MarkupPct:       input.MarkupPct,
		TrackAccounting: input.TrackAccounting,
		AutoBuild:       input.AutoBuild,
	}
	for _, c := range input.Components {
		comp.Components = append(comp.Components, Component{
			ItemID:     c.ItemID,
			QtyPerUnit: c.QtyPerUnit,
			WastePct:   c.WastePct,
		})
	}
	return comp
}

func (s *Service) recordAudit(ctx context.Context, comp Composite, actor internalShared.Identity, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["name"] = comp.Name
	_ = s.audit.Record(ctx, internalShared.AuditLog{
		OrgID:    comp.OrgID,
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "composite_item",
		EntityID: fmt.Sprintf("%d", comp.ID),
		Meta:     meta,
		At:       s.now(),
	})
}
