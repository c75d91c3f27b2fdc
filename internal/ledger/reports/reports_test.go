package reports

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// One consistent posting set: cash sale 10000, expense 4000 paid from
// cash, funded by 20000 equity.
func sampleBalances() []AccountBalance {
	return []AccountBalance{
		{Code: "10.100", Name: "Cash", Type: "ASSET", Opening: 0, Debit: 30000, Credit: 4000},
		{Code: "30.100", Name: "Share Capital", Type: "EQUITY", Opening: 0, Debit: 0, Credit: 20000},
		{Code: "40.100", Name: "Service Revenue", Type: "REVENUE", Opening: 0, Debit: 0, Credit: 10000},
		{Code: "50.100", Name: "Rent", Type: "EXPENSE", Opening: 0, Debit: 4000, Credit: 0},
	}
}

func TestTrialBalanceBalances(t *testing.T) {
	tb := BuildTrialBalance(sampleBalances())
	require.True(t, tb.IsBalanced)
	require.Equal(t, int64(34000), tb.TotalDebit)
	require.Equal(t, int64(34000), tb.TotalCredit)
	require.Zero(t, tb.TotalClosing)
}

func TestTrialBalanceDetectsImbalance(t *testing.T) {
	balances := sampleBalances()
	balances[0].Debit++
	tb := BuildTrialBalance(balances)
	require.False(t, tb.IsBalanced)
}

func TestTrialBalanceGroupsByCodePrefix(t *testing.T) {
	tb := BuildTrialBalance(sampleBalances())
	require.Len(t, tb.Groups, 4)
	require.Equal(t, "10", tb.Groups[0].Key)
	require.Equal(t, int64(26000), tb.Groups[0].Closing)
}

func TestProfitAndLoss(t *testing.T) {
	pl := BuildProfitAndLoss(sampleBalances())
	require.Equal(t, int64(10000), pl.Revenue.Total)
	require.Equal(t, int64(4000), pl.Expense.Total)
	require.Equal(t, int64(6000), pl.NetIncome)
	require.Len(t, pl.Revenue.Accounts, 1)
	require.Equal(t, int64(10000), pl.Revenue.Accounts[0].Amount)
}

func TestBalanceSheetPresentsCreditSidesPositive(t *testing.T) {
	bs := BuildBalanceSheet(sampleBalances())
	require.Equal(t, int64(26000), bs.Assets.Total)
	require.Equal(t, int64(20000), bs.Equity.Total)
	require.Zero(t, bs.Liabilities.Total)
	// Assets equal liabilities plus equity once retained earnings absorb
	// the period's net income.
	require.Equal(t, int64(20000), bs.TotalLiabilitiesAndEquity)
	require.Equal(t, bs.Assets.Total-6000, bs.TotalLiabilitiesAndEquity)
}

func TestBalanceSheetLiabilitySign(t *testing.T) {
	bs := BuildBalanceSheet([]AccountBalance{
		{Code: "10.100", Name: "Cash", Type: "ASSET", Debit: 5000},
		{Code: "20.100", Name: "Accounts Payable", Type: "LIABILITY", Credit: 5000},
	})
	require.Equal(t, int64(5000), bs.Assets.Total)
	require.Equal(t, int64(5000), bs.Liabilities.Total)
	require.Equal(t, bs.Assets.Total, bs.TotalLiabilitiesAndEquity)
}

func TestFormatMinor(t *testing.T) {
	require.Equal(t, "1,234,567", FormatMinor(1234567))
	require.Equal(t, "-500", FormatMinor(-500))
	require.Equal(t, "0", FormatMinor(0))
}
