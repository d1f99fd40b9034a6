package processors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/ledgerlens/src/models"
)

func brokerageEntry(number string, positions ...models.Position) models.AccountEntry {
	return models.AccountEntry{
		AccountNumber: number,
		AccountType:   models.AccountTypeBrokerage,
		Institution:   "Schwab",
		Positions:     positions,
		Transactions:  []models.Transaction{},
		Balances:      []models.Balance{},
	}
}

func TestCompareIdenticalDocumentsFullAgreement(t *testing.T) {
	c := NewResultComparator()
	doc := &models.Document{
		Institution: "Schwab",
		Accounts: []models.AccountEntry{
			brokerageEntry("...5902",
				models.Position{Date: "2025-03-31", Symbol: "AAPL", Quantity: 10, MarketValue: f(2100)},
			),
		},
	}

	report := c.Compare(doc, doc)
	assert.Equal(t, models.AgreementFull, report.Agreement)
	assert.Empty(t, report.Items)
}

func TestCompareQuantityMismatchIsSignificant(t *testing.T) {
	c := NewResultComparator()
	a := &models.Document{Accounts: []models.AccountEntry{
		brokerageEntry("...5902", models.Position{Date: "2025-03-31", Symbol: "AAPL", Quantity: 10}),
	}}
	b := &models.Document{Accounts: []models.AccountEntry{
		brokerageEntry("...5902", models.Position{Date: "2025-03-31", Symbol: "AAPL", Quantity: 12}),
	}}

	report := c.Compare(a, b)
	require.Len(t, report.Items, 1)
	assert.Equal(t, "quantity", report.Items[0].Field)
	assert.Equal(t, models.SeverityError, report.Items[0].Severity)
	assert.Equal(t, models.AgreementSignificant, report.Agreement)
}

func TestCompareSmallMarketValueGapIsIgnorable(t *testing.T) {
	c := NewResultComparator()
	a := &models.Document{Accounts: []models.AccountEntry{
		brokerageEntry("...5902", models.Position{Date: "2025-03-31", Symbol: "AAPL", Quantity: 10, MarketValue: f(2100)}),
	}}
	b := &models.Document{Accounts: []models.AccountEntry{
		brokerageEntry("...5902", models.Position{Date: "2025-03-31", Symbol: "AAPL", Quantity: 10, MarketValue: f(2110)}),
	}}

	report := c.Compare(a, b)
	require.Len(t, report.Items, 1)
	assert.Equal(t, models.SeverityInfo, report.Items[0].Severity)
	assert.Equal(t, models.AgreementFull, report.Agreement)
}

func TestComparePositionPresence(t *testing.T) {
	c := NewResultComparator()
	a := &models.Document{Accounts: []models.AccountEntry{
		brokerageEntry("...5902",
			models.Position{Date: "2025-03-31", Symbol: "AAPL", Quantity: 10},
			models.Position{Date: "2025-03-31", Symbol: "MSFT", Quantity: 5},
		),
	}}
	b := &models.Document{Accounts: []models.AccountEntry{
		brokerageEntry("...5902",
			models.Position{Date: "2025-03-31", Symbol: "AAPL", Quantity: 10},
			models.Position{Date: "2025-03-31", Symbol: "NVDA", Quantity: 3},
		),
	}}

	report := c.Compare(a, b)
	require.Len(t, report.Items, 2)
	assert.Equal(t, models.AgreementMinor, report.Agreement)
	for _, item := range report.Items {
		assert.Equal(t, "presence", item.Field)
		assert.Equal(t, models.SeverityWarning, item.Severity)
	}
}

func TestCompareTransactionsLooseMatchFlagsAmount(t *testing.T) {
	c := NewResultComparator()
	a := &models.Document{Accounts: []models.AccountEntry{{
		AccountNumber: "...1234",
		AccountType:   models.AccountTypeBrokerage,
		Transactions: []models.Transaction{
			{Date: "2025-03-15", Symbol: "VTI", Action: models.ActionBuy, TotalAmount: -1000},
		},
	}}}
	b := &models.Document{Accounts: []models.AccountEntry{{
		AccountNumber: "...1234",
		AccountType:   models.AccountTypeBrokerage,
		Transactions: []models.Transaction{
			{Date: "2025-03-15", Symbol: "VTI", Action: models.ActionBuy, TotalAmount: -1100},
		},
	}}}

	report := c.Compare(a, b)
	require.Len(t, report.Items, 1)
	assert.Equal(t, "total_amount", report.Items[0].Field)
	assert.Equal(t, models.SeverityInfo, report.Items[0].Severity, "$100 gap is below the info dollar limit")
}

func TestCompareUnmatchedAccountsBothDirections(t *testing.T) {
	c := NewResultComparator()
	a := &models.Document{Accounts: []models.AccountEntry{
		{AccountNumber: "...1111", AccountType: models.AccountTypeBrokerage, Institution: "Schwab"},
	}}
	b := &models.Document{Accounts: []models.AccountEntry{
		{AccountNumber: "...2222", AccountType: models.AccountTypeBank, Institution: "Chase"},
	}}

	report := c.Compare(a, b)
	require.Len(t, report.Items, 2)
	assert.Equal(t, models.AgreementMinor, report.Agreement)
	assert.Contains(t, report.Items[0].Message, "only in first")
	assert.Contains(t, report.Items[1].Message, "only in second")
}

func TestCompareFuzzyMatchByNickname(t *testing.T) {
	c := NewResultComparator()
	a := &models.Document{Accounts: []models.AccountEntry{
		{Nickname: "Retirement Fund", AccountType: models.AccountTypeRetirement},
	}}
	b := &models.Document{Accounts: []models.AccountEntry{
		{Nickname: "retirement fund", AccountType: models.AccountTypeRetirement,
			Balances: []models.Balance{{Date: "2025-03-31", TotalValue: f(50000)}}},
	}}

	report := c.Compare(a, b)
	// Accounts matched; no balance comparison possible on one side only.
	assert.Equal(t, models.AgreementFull, report.Agreement)
}

func TestCompareBalances(t *testing.T) {
	c := NewResultComparator()
	a := &models.Document{Accounts: []models.AccountEntry{{
		AccountNumber: "...9999", AccountType: models.AccountTypeBrokerage,
		Balances: []models.Balance{{Date: "2025-03-31", TotalValue: f(100000), CashBalance: f(5000)}},
	}}}
	b := &models.Document{Accounts: []models.AccountEntry{{
		AccountNumber: "...9999", AccountType: models.AccountTypeBrokerage,
		Balances: []models.Balance{{Date: "2025-03-31", TotalValue: f(94000), CashBalance: f(5000)}},
	}}}

	report := c.Compare(a, b)
	require.Len(t, report.Items, 1)
	assert.Equal(t, "total_value", report.Items[0].Field)
	assert.Equal(t, models.SeverityError, report.Items[0].Severity, "$6000 gap exceeds the warning dollar limit")
	assert.Equal(t, models.AgreementSignificant, report.Agreement)
}
