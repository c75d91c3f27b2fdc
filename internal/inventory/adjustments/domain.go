package adjustments

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Type enumerates adjustment kinds.
type Type string

const (
	// TypeQuantity corrects stock on hand.
	TypeQuantity Type = "QUANTITY"
	// TypeValue corrects stock value without moving quantity.
	TypeValue Type = "VALUE"
)

// Status enumerates the adjustment lifecycle.
type Status string

const (
	// StatusDraft has no stock or ledger effect and may be edited freely.
	StatusDraft Status = "DRAFT"
	// StatusAdjusted is the only financially effective state.
	StatusAdjusted Status = "ADJUSTED"
	// StatusVoid reversed a previously adjusted record.
	StatusVoid Status = "VOID"
)

// Line captures one item correction. QtyAvailable snapshots stock at
// creation time; deltas are computed against it on conversion.
type Line struct {
	ID           int64
	AdjustmentID int64
	ItemID       int64
	QtyAvailable decimal.Decimal
	NewQty       decimal.Decimal
	CurrentValue int64
	NewValue     int64
	QtyDelta     decimal.Decimal
	ValueDelta   int64
}

// TrailEntry is one audit-trail row retained on the adjustment.
type TrailEntry struct {
	Action  string
	ActorID int64
	At      time.Time
	Detail  string
}

// Adjustment is a stock quantity/value correction document.
type Adjustment struct {
	ID              int64
	OrgID           int64
	Number          string
	Type            Type
	Date            time.Time
	Reason          string
	AccountKey      string
	Status          Status
	TicketRef       string
	Lines           []Line
	Trail           []TrailEntry
	JournalEntryID  *int64
	ReversalEntryID *int64
	CreatedBy       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ErrNotFound indicates a missing adjustment for the tenant.
var ErrNotFound = errors.New("inventory: adjustment not found")

// ErrUnknownReason indicates the reason is not in the tenant's list.
var ErrUnknownReason = errors.New("inventory: adjustment reason not registered")

// ErrNoLines rejects drafts without at least one line.
var ErrNoLines = errors.New("inventory: adjustment requires at least one line")
