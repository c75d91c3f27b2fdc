package composites

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Kind enumerates composite item flavours. All three share the build
// mechanics; they differ in how the catalogue presents them.
type Kind string

const (
	KindKit      Kind = "KIT"
	KindAssembly Kind = "ASSEMBLY"
	KindBundle   Kind = "BUNDLE"
)

// PricingMode selects how the selling price is derived.
type PricingMode string

const (
	// PricingFixed uses the stored price as-is.
	PricingFixed PricingMode = "FIXED"
	// PricingMarkup derives the price from build cost plus a percentage.
	PricingMarkup PricingMode = "MARKUP"
)

// Component is one input line of a composite. WastePct inflates the
// consumed quantity to cover cutting loss and spillage; it is never
// recovered on unbuild.
type Component struct {
	ID          int64
	CompositeID int64
	ItemID      int64
	QtyPerUnit  decimal.Decimal
	WastePct    decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// QtyNeeded returns the stock consumed to build the given quantity,
// waste included.
func (c Component) QtyNeeded(buildQty decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(c.WastePct.Div(hundred))
	return c.QtyPerUnit.Mul(buildQty).Mul(factor)
}

// Composite is a sellable item assembled from component stock. ItemID
// points at the stock item that holds the built units.
type Composite struct {
	ID              int64
	OrgID           int64
	ItemID          int64
	Name            string
	Kind            Kind
	PricingMode     PricingMode
	FixedPrice      int64
	MarkupPct       decimal.Decimal
	TrackAccounting bool
	AutoBuild       bool
	Components      []Component
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BuildRecordKind distinguishes builds from unbuilds in history.
type BuildRecordKind string

const (
	BuildKindBuild   BuildRecordKind = "BUILD"
	BuildKindUnbuild BuildRecordKind = "UNBUILD"
)

// BuildComponent snapshots one component consumption inside a build.
type BuildComponent struct {
	ItemID      int64
	QtyConsumed decimal.Decimal
	UnitCost    int64
	Value       int64
}

// BuildRecord is the immutable history row for one build or unbuild.
type BuildRecord struct {
	ID             int64
	OrgID          int64
	CompositeID    int64
	Kind           BuildRecordKind
	Qty            decimal.Decimal
	UnitCost       int64
	TotalValue     int64
	JournalEntryID *int64
	Components     []BuildComponent
	Notes          string
	CreatedBy      int64
	CreatedAt      time.Time
}

// ErrCompositeNotFound indicates a missing composite for the tenant.
var ErrCompositeNotFound = errors.New("inventory: composite not found")

// ErrNoComponents rejects composites without at least one component.
var ErrNoComponents = errors.New("inventory: composite requires at least one component")

// ErrSelfReference rejects a composite consuming its own stock item.
var ErrSelfReference = errors.New("inventory: composite cannot contain its own item")

// ErrInsufficientComponentStock indicates a build exceeds what the
// component stock allows.
var ErrInsufficientComponentStock = errors.New("inventory: insufficient component stock")

// ErrInsufficientCompositeStock indicates an unbuild exceeds built units
// on hand.
var ErrInsufficientCompositeStock = errors.New("inventory: insufficient composite stock")
