package adjustments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gearbox-erp/gearbox-erp/internal/inventory/stock"
	"github.com/gearbox-erp/gearbox-erp/internal/ledger/journals"
	ledgershared "github.com/gearbox-erp/gearbox-erp/internal/ledger/shared"
	internalShared "github.com/gearbox-erp/gearbox-erp/internal/shared"
)

// SourceModule tags journal entries produced by adjustment conversions.
const SourceModule = "INVENTORY_ADJUSTMENT"

// Semantic account keys the conversion posts against. The loss key can be
// overridden per adjustment (write-off vs shrinkage accounts).
const (
	KeyInventoryAsset = "inventory.asset"
	KeyAdjustmentLoss = "inventory.adjustment.loss"
	KeyAdjustmentGain = "inventory.adjustment.gain"
)

// LedgerPort is the posting engine surface the conversion needs.
type LedgerPort interface {
	Post(ctx context.Context, input journals.PostingInput) (journals.JournalEntry, error)
	Reverse(ctx context.Context, input journals.ReverseInput) (journals.JournalEntry, error)
}

// PeriodGuard rejects conversions into locked periods before stock moves.
type PeriodGuard interface {
	AssertWritable(ctx context.Context, orgID int64, date time.Time) error
}

// AccountResolver maps semantic keys to provisioned accounts.
type AccountResolver interface {
	ResolveID(ctx context.Context, orgID int64, key string) (int64, error)
}

// AuditPort records adjustment lifecycle activity.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Service drives the adjustment lifecycle: draft editing, the
// stock-then-ledger conversion with compensation, and voiding.
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

// LineInput describes one draft line. NewQty carries the counted quantity
// for QUANTITY adjustments; NewValue the corrected stock value in minor
// units for VALUE adjustments.
type LineInput struct {
	ItemID   int64
	NewQty   decimal.Decimal
	NewValue int64
}

// CreateInput groups the fields for a new draft.
type CreateInput struct {
	OrgID      int64
	Type       Type
	Date       time.Time
	Reason     string
	AccountKey string
	TicketRef  string
	Actor      internalShared.Identity
	Lines      []LineInput
}

// UpdateInput edits an existing draft in place.
type UpdateInput struct {
	OrgID      int64
	ID         int64
	Date       time.Time
	Reason     string
	AccountKey string
	TicketRef  string
	Actor      internalShared.Identity
	Lines      []LineInput
}

// CreateDraft validates the reason against the tenant list, snapshots
// current stock per line and allocates the next ADJ number. Drafts have no
// stock or ledger effect.
func (s *Service) CreateDraft(ctx context.Context, input CreateInput) (Adjustment, error) {
	if input.Type != TypeQuantity && input.Type != TypeValue {
		return Adjustment{}, fmt.Errorf("inventory: unknown adjustment type %q", input.Type)
	}
	if len(input.Lines) == 0 {
		return Adjustment{}, ErrNoLines
	}
	if err := s.checkReason(ctx, input.OrgID, input.Reason); err != nil {
		return Adjustment{}, err
	}
	lines, err := s.snapshotLines(ctx, input.OrgID, input.Type, input.Lines)
	if err != nil {
		return Adjustment{}, err
	}
	seq, err := s.repo.NextNumber(ctx, input.OrgID)
	if err != nil {
		return Adjustment{}, err
	}
	date := input.Date
	if date.IsZero() {
		date = s.now()
	}
	adj := Adjustment{
		OrgID:      input.OrgID,
		Number:     fmt.Sprintf("ADJ-%06d", seq),
		Type:       input.Type,
		Date:       date,
		Reason:     input.Reason,
		AccountKey: input.AccountKey,
		Status:     StatusDraft,
		TicketRef:  input.TicketRef,
		Lines:      lines,
		Trail:      []TrailEntry{{Action: "created", ActorID: input.Actor.UserID, At: s.now()}},
		CreatedBy:  input.Actor.UserID,
	}
	created, err := s.repo.Create(ctx, adj)
	if err != nil {
		return Adjustment{}, err
	}
	s.recordAudit(ctx, created, input.Actor, "adjustment.create", nil)
	return created, nil
}

// UpdateDraft replaces the draft's header and lines, re-snapshotting stock.
func (s *Service) UpdateDraft(ctx context.Context, input UpdateInput) (Adjustment, error) {
	adj, err := s.repo.Get(ctx, input.OrgID, input.ID)
	if err != nil {
		return Adjustment{}, err
	}
	if adj.Status != StatusDraft {
		return Adjustment{}, &ledgershared.TransitionError{
			Entity: "adjustment", Current: string(adj.Status), Attempted: string(StatusDraft),
		}
	}
	if len(input.Lines) == 0 {
		return Adjustment{}, ErrNoLines
	}
	if err := s.checkReason(ctx, input.OrgID, input.Reason); err != nil {
		return Adjustment{}, err
	}
	lines, err := s.snapshotLines(ctx, input.OrgID, adj.Type, input.Lines)
	if err != nil {
		return Adjustment{}, err
	}
	if !input.Date.IsZero() {
		adj.Date = input.Date
	}
	adj.Reason = input.Reason
	adj.AccountKey = input.AccountKey
	adj.TicketRef = input.TicketRef
	adj.Lines = lines
	adj.Trail = append(adj.Trail, TrailEntry{Action: "updated", ActorID: input.Actor.UserID, At: s.now()})
	if err := s.repo.Update(ctx, adj); err != nil {
		return Adjustment{}, err
	}
	s.recordAudit(ctx, adj, input.Actor, "adjustment.update", nil)
	return adj, nil
}

// DeleteDraft removes a draft. Converted records are voided, never deleted.
func (s *Service) DeleteDraft(ctx context.Context, orgID, id int64, actor internalShared.Identity) error {
	adj, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if adj.Status != StatusDraft {
		return &ledgershared.TransitionError{
			Entity: "adjustment", Current: string(adj.Status), Attempted: "DELETED",
		}
	}
	if err := s.repo.Delete(ctx, orgID, id); err != nil {
		return err
	}
	s.recordAudit(ctx, adj, actor, "adjustment.delete", nil)
	return nil
}

// Convert makes the draft financially effective: period gate first, then
// stock deltas through the optimistic mutator, then one balanced journal
// entry. A posting failure compensates every applied stock delta, so the
// caller can retry from a clean state. Converting an already adjusted
// record is a no-op returning the record, which makes retries idempotent.
func (s *Service) Convert(ctx context.Context, orgID, id int64, actor internalShared.Identity) (Adjustment, error) {
	adj, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return Adjustment{}, err
	}
	switch adj.Status {
	case StatusDraft:
	case StatusAdjusted:
		return adj, nil
	default:
		return Adjustment{}, &ledgershared.TransitionError{
			Entity: "adjustment", Current: string(adj.Status), Attempted: string(StatusAdjusted),
		}
	}
	if err := s.guard.AssertWritable(ctx, orgID, adj.Date); err != nil {
		return Adjustment{}, err
	}
	release, err := s.mutex.Acquire(ctx, internalShared.AdjustmentLockKey(orgID, id))
	if err != nil {
		return Adjustment{}, err
	}
	defer release()

	deltas, err := s.buildDeltas(ctx, orgID, &adj)
	if err != nil {
		return Adjustment{}, err
	}
	applied, err := s.mutator.ApplyAll(ctx, orgID, deltas, false)
	if err != nil {
		return Adjustment{}, err
	}

	entryID, err := s.postConversion(ctx, adj, actor)
	if err != nil {
		s.mutator.Compensate(ctx, orgID, applied)
		return Adjustment{}, err
	}

	adj.Status = StatusAdjusted
	adj.JournalEntryID = entryID
	adj.Trail = append(adj.Trail, TrailEntry{Action: "converted", ActorID: actor.UserID, At: s.now()})
	if err := s.repo.Update(ctx, adj); err != nil {
		if entryID != nil {
			_, _ = s.ledger.Reverse(ctx, journals.ReverseInput{
				OrgID: orgID, EntryID: *entryID, ActorID: actor.UserID,
				Memo: fmt.Sprintf("Rollback of %s", adj.Number),
			})
		}
		s.mutator.Compensate(ctx, orgID, applied)
		return Adjustment{}, err
	}
	meta := map[string]any{"type": string(adj.Type), "lines": len(adj.Lines)}
	if entryID != nil {
		meta["journal_entry_id"] = *entryID
	}
	s.recordAudit(ctx, adj, actor, "adjustment.convert", meta)
	return adj, nil
}

// Void reverses an adjusted record: inverse stock deltas and a reversing
// journal entry dated now, both period gated.
func (s *Service) Void(ctx context.Context, orgID, id int64, actor internalShared.Identity, detail string) (Adjustment, error) {
	adj, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return Adjustment{}, err
	}
	if adj.Status != StatusAdjusted {
		return Adjustment{}, &ledgershared.TransitionError{
			Entity: "adjustment", Current: string(adj.Status), Attempted: string(StatusVoid),
		}
	}
	now := s.now()
	if err := s.guard.AssertWritable(ctx, orgID, now); err != nil {
		return Adjustment{}, err
	}
	release, err := s.mutex.Acquire(ctx, internalShared.AdjustmentLockKey(orgID, id))
	if err != nil {
		return Adjustment{}, err
	}
	defer release()

	applied, err := s.mutator.ApplyAll(ctx, orgID, inverseDeltas(adj), false)
	if err != nil {
		return Adjustment{}, err
	}
	if adj.JournalEntryID != nil {
		reversal, err := s.ledger.Reverse(ctx, journals.ReverseInput{
			OrgID:      orgID,
			EntryID:    *adj.JournalEntryID,
			ActorID:    actor.UserID,
			Memo:       fmt.Sprintf("Void of %s", adj.Number),
			TargetDate: &now,
		})
		if err != nil {
			s.mutator.Compensate(ctx, orgID, applied)
			return Adjustment{}, err
		}
		adj.ReversalEntryID = &reversal.ID
	}
	adj.Status = StatusVoid
	adj.Trail = append(adj.Trail, TrailEntry{Action: "voided", ActorID: actor.UserID, At: now, Detail: detail})
	if err := s.repo.Update(ctx, adj); err != nil {
		s.mutator.Compensate(ctx, orgID, applied)
		return Adjustment{}, err
	}
	s.recordAudit(ctx, adj, actor, "adjustment.void", map[string]any{"detail": detail})
	return adj, nil
}

// Get returns one adjustment with lines and trail.
func (s *Service) Get(ctx context.Context, orgID, id int64) (Adjustment, error) {
	return s.repo.Get(ctx, orgID, id)
}

// List returns the tenant's adjustments, newest first.
func (s *Service) List(ctx context.Context, orgID int64) ([]Adjustment, error) {
	return s.repo.List(ctx, orgID)
}

// Reasons returns the tenant's configured adjustment reasons.
func (s *Service) Reasons(ctx context.Context, orgID int64) ([]string, error) {
	return s.repo.ListReasons(ctx, orgID)
}

// AddReason registers a new adjustment reason for the tenant.
func (s *Service) AddReason(ctx context.Context, orgID int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("inventory: reason required")
	}
	return s.repo.AddReason(ctx, orgID, reason)
}

func (s *Service) checkReason(ctx context.Context, orgID int64, reason string) error {
	reasons, err := s.repo.ListReasons(ctx, orgID)
	if err != nil {
		return err
	}
	for _, r := range reasons {
		if r == reason {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownReason, reason)
}

// snapshotLines reads current stock per line and computes the delta the
// conversion will apply. QUANTITY deltas are counted minus snapshot;
// VALUE deltas are new value minus current value, quantity untouched.
func (s *Service) snapshotLines(ctx context.Context, orgID int64, typ Type, inputs []LineInput) ([]Line, error) {
	lines := make([]Line, 0, len(inputs))
	for _, in := range inputs {
		if in.ItemID == 0 {
			return nil, fmt.Errorf("inventory: line missing item")
		}
		item, err := s.stock.Get(ctx, orgID, in.ItemID)
		if err != nil {
			return nil, err
		}
		line := Line{
			ItemID:       in.ItemID,
			QtyAvailable: item.Qty,
			CurrentValue: item.Value(),
		}
		switch typ {
		case TypeQuantity:
			if in.NewQty.IsNegative() {
				return nil, fmt.Errorf("inventory: item %d counted quantity negative", in.ItemID)
			}
			line.NewQty = in.NewQty
			line.QtyDelta = in.NewQty.Sub(item.Qty)
			line.ValueDelta = internalShared.MulMinor(item.UnitCost, line.QtyDelta)
		case TypeValue:
			if in.NewValue < 0 {
				return nil, fmt.Errorf("inventory: item %d new value negative", in.ItemID)
			}
			line.NewQty = item.Qty
			line.NewValue = in.NewValue
			line.ValueDelta = in.NewValue - line.CurrentValue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// buildDeltas turns the draft's lines into stock mutations, refreshing the
// value side against current unit cost so the ledger amount matches what
// stock valuation actually moves by.
func (s *Service) buildDeltas(ctx context.Context, orgID int64, adj *Adjustment) ([]stock.Delta, error) {
	deltas := make([]stock.Delta, 0, len(adj.Lines))
	for i := range adj.Lines {
		line := &adj.Lines[i]
		switch adj.Type {
		case TypeQuantity:
			item, err := s.stock.Get(ctx, orgID, line.ItemID)
			if err != nil {
				return nil, err
			}
			line.ValueDelta = internalShared.MulMinor(item.UnitCost, line.QtyDelta)
			deltas = append(deltas, stock.Delta{ItemID: line.ItemID, QtyChange: line.QtyDelta})
		case TypeValue:
			item, err := s.stock.Get(ctx, orgID, line.ItemID)
			if err != nil {
				return nil, err
			}
			if item.Qty.IsZero() {
				return nil, fmt.Errorf("inventory: item %d has no stock to revalue", line.ItemID)
			}
			newCost := internalShared.MinorUnits(decimal.NewFromInt(item.Value() + line.ValueDelta).Div(item.Qty))
			deltas = append(deltas, stock.Delta{ItemID: line.ItemID, QtyChange: decimal.Zero, NewUnitCost: &newCost})
		}
	}
	return deltas, nil
}

// postConversion posts one balanced entry: each non-zero line hits the
// loss or gain account on its side, with matching inventory-asset lines.
// A fully zero-delta adjustment posts nothing.
func (s *Service) postConversion(ctx context.Context, adj Adjustment, actor internalShared.Identity) (*int64, error) {
	lossKey := adj.AccountKey
	if lossKey == "" {
		lossKey = KeyAdjustmentLoss
	}
	var postingLines []journals.PostingLineInput
	var assetDebit, assetCredit int64
	var lossID, gainID int64
	for _, line := range adj.Lines {
		switch {
		case line.ValueDelta < 0:
			if lossID == 0 {
				var err error
				if lossID, err = s.accounts.ResolveID(ctx, adj.OrgID, lossKey); err != nil {
					return nil, err
				}
			}
			amount := -line.ValueDelta
			postingLines = append(postingLines, journals.PostingLineInput{
				AccountID: lossID, Debit: amount,
				Memo: fmt.Sprintf("%s item %d", adj.Reason, line.ItemID),
			})
			assetCredit += amount
		case line.ValueDelta > 0:
			if gainID == 0 {
				var err error
				if gainID, err = s.accounts.ResolveID(ctx, adj.OrgID, KeyAdjustmentGain); err != nil {
					return nil, err
				}
			}
			postingLines = append(postingLines, journals.PostingLineInput{
				AccountID: gainID, Credit: line.ValueDelta,
				Memo: fmt.Sprintf("%s item %d", adj.Reason, line.ItemID),
			})
			assetDebit += line.ValueDelta
		}
	}
	if len(postingLines) == 0 {
		return nil, nil
	}
	assetID, err := s.accounts.ResolveID(ctx, adj.OrgID, KeyInventoryAsset)
	if err != nil {
		return nil, err
	}
	if assetDebit > 0 {
		postingLines = append(postingLines, journals.PostingLineInput{AccountID: assetID, Debit: assetDebit, Memo: adj.Number})
	}
	if assetCredit > 0 {
		postingLines = append(postingLines, journals.PostingLineInput{AccountID: assetID, Credit: assetCredit, Memo: adj.Number})
	}
	entry, err := s.ledger.Post(ctx, journals.PostingInput{
		OrgID:        adj.OrgID,
		Date:         adj.Date,
		SourceModule: SourceModule,
		SourceID:     sourceID(adj.OrgID, adj.ID),
		Memo:         fmt.Sprintf("%s %s", adj.Number, adj.Reason),
		PostedBy:     actor.UserID,
		Lines:        postingLines,
	})
	if err != nil {
		return nil, err
	}
	return &entry.ID, nil
}

// inverseDeltas negates quantity deltas and restores the pre-adjustment
// unit cost for value lines.
func inverseDeltas(adj Adjustment) []stock.Delta {
	deltas := make([]stock.Delta, 0, len(adj.Lines))
	for _, line := range adj.Lines {
		delta := stock.Delta{ItemID: line.ItemID, QtyChange: line.QtyDelta.Neg()}
		if adj.Type == TypeValue && !line.QtyAvailable.IsZero() {
			prevCost := internalShared.MinorUnits(decimal.NewFromInt(line.CurrentValue).Div(line.QtyAvailable))
			delta.NewUnitCost = &prevCost
		}
		deltas = append(deltas, delta)
	}
	return deltas
}

// sourceID derives a stable posting reference per adjustment so a retried
// conversion can never link a second journal entry.
func sourceID(orgID, adjustmentID int64) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("adjustment:%d:%d", orgID, adjustmentID)))
}

func (s *Service) recordAudit(ctx context.Context, adj Adjustment, actor internalShared.Identity, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = adj.Number
	_ = s.audit.Record(ctx, internalShared.AuditLog{
		OrgID:    adj.OrgID,
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "inventory_adjustment",
		EntityID: fmt.Sprintf("%d", adj.ID),
		Meta:     meta,
		At:       s.now(),
	})
}
