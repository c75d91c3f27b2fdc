package accounts

import "time"

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// NormalSide enumerates the side an account type naturally increases on.
type NormalSide string

const (
	NormalSideDebit  NormalSide = "DEBIT"
	NormalSideCredit NormalSide = "CREDIT"
)

// NormalSideFor returns the normal balance side for an account type.
func NormalSideFor(t AccountType) NormalSide {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return NormalSideDebit
	default:
		return NormalSideCredit
	}
}

// Account models a chart of accounts node, scoped to one tenant.
type Account struct {
	ID        int64
	OrgID     int64
	Code      string
	Name      string
	Type      AccountType
	ParentID  *int64
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalSide returns the side this account naturally increases on.
func (a Account) NormalSide() NormalSide {
	return NormalSideFor(a.Type)
}

// Mapping links a semantic posting key to a ledger account for one tenant.
// Engines never hardcode account ids; they resolve keys like
// "inventory.asset" or "inventory.adjustment.loss" through the registry.
type Mapping struct {
	OrgID     int64
	Key       string
	AccountID int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
