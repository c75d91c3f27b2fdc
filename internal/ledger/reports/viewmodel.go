package reports

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPrinter = message.NewPrinter(language.English)

// FormatMinor renders a minor-unit amount with digit grouping and two
// decimals, e.g. 1234567 -> "12,345.67".
func FormatMinor(v int64) string {
	major := v / 100
	cents := v % 100
	if cents < 0 {
		cents = -cents
	}
	if v < 0 && major == 0 {
		return amountPrinter.Sprintf("-%d.%02d", major, cents)
	}
	return amountPrinter.Sprintf("%d.%02d", major, cents)
}

// TrialBalanceViewModel holds presentation data for the trial balance.
type TrialBalanceViewModel struct {
	OrgName          string
	AsOfLabel        string
	Report           TrialBalance
	TotalDebitLabel  string
	TotalCreditLabel string
}

// NewTrialBalanceViewModel builds the view model with formatted totals.
func NewTrialBalanceViewModel(orgName, asOfLabel string, report TrialBalance) TrialBalanceViewModel {
	return TrialBalanceViewModel{
		OrgName:          orgName,
		AsOfLabel:        asOfLabel,
		Report:           report,
		TotalDebitLabel:  FormatMinor(report.TotalDebit),
		TotalCreditLabel: FormatMinor(report.TotalCredit),
	}
}

// ProfitAndLossViewModel holds presentation data for profit & loss.
type ProfitAndLossViewModel struct {
	OrgName        string
	PeriodLabel    string
	Report         ProfitAndLoss
	NetIncomeLabel string
}

// BalanceSheetViewModel contains presentation data for the balance sheet.
type BalanceSheetViewModel struct {
	OrgName   string
	AsOfLabel string
	Report    BalanceSheet
}
