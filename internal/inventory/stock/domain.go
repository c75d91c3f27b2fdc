package stock

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Item is the stock record for one tenant item. Qty is decimal (parts are
// sold in fractional units like litres of oil); UnitCost is a moving
// average in minor units. Version backs the conditional write.
type Item struct {
	ID        int64
	OrgID     int64
	SKU       string
	Name      string
	Qty       decimal.Decimal
	UnitCost  int64
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Value returns the stock value of the item in minor units.
func (i Item) Value() int64 {
	return decimal.NewFromInt(i.UnitCost).Mul(i.Qty).RoundBank(0).IntPart()
}

// ErrItemNotFound indicates a missing item for the tenant.
var ErrItemNotFound = errors.New("inventory: item not found")

// ErrVersionConflict indicates the conditional write lost a race; callers
// re-read and retry.
var ErrVersionConflict = errors.New("inventory: stock version conflict")

// ErrNegativeStock triggered when a movement would drive qty below zero.
var ErrNegativeStock = errors.New("inventory: negative stock not allowed")
