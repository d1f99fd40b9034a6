package processors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/ledgerlens/src/models"
)

func f(v float64) *float64 { return &v }

func TestClassifyThresholds(t *testing.T) {
	testCases := []struct {
		name     string
		diff     float64
		base     float64
		expected models.Severity
	}{
		{"tiny absolute and pct", 100, 100000, models.SeverityInfo},
		{"under both limits", 400, 100000, models.SeverityInfo},
		{"dollar over info limit", 600, 1000000, models.SeverityWarning},
		{"pct over info limit", 30, 1000, models.SeverityWarning},
		{"dollar over warning limit", 6000, 10000000, models.SeverityError},
		{"pct over warning limit", 400, 1000, models.SeverityError},
		{"zero base large diff", 6000, 0, models.SeverityError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			severity, _ := classify(tc.diff, tc.base)
			assert.Equal(t, tc.expected, severity)
		})
	}
}

func TestCheckBalanceVsPositions(t *testing.T) {
	c := NewIntegrityChecker()
	doc := &models.Document{
		Accounts: []models.AccountEntry{{
			AccountNumber: "...1111",
			AccountType:   models.AccountTypeBrokerage,
			Positions: []models.Position{
				{Date: "2025-03-31", Symbol: "AAPL", Quantity: 10, MarketValue: f(9000)},
			},
			Balances: []models.Balance{
				{Date: "2025-03-31", TotalValue: f(10000), CashBalance: f(1000)},
			},
		}},
	}

	report := c.Check(doc)
	require.NotEmpty(t, report.Items)
	item := report.Items[0]
	assert.Equal(t, "account_balance_vs_positions", item.Rule)
	assert.Equal(t, "...1111", item.AccountRef)
	// 9000 positions + 1000 cash = 10000 stated: exact.
	assert.Equal(t, models.SeverityInfo, item.Severity)
	assert.True(t, report.Passed)
}

func TestCheckFlagsLargeDiscrepancyAsError(t *testing.T) {
	c := NewIntegrityChecker()
	doc := &models.Document{
		Accounts: []models.AccountEntry{{
			AccountType: models.AccountTypeBrokerage,
			Positions: []models.Position{
				{Date: "2025-03-31", Symbol: "AAPL", Quantity: 10, MarketValue: f(80000)},
			},
			Balances: []models.Balance{
				{Date: "2025-03-31", TotalValue: f(100000)},
			},
		}},
	}

	report := c.Check(doc)
	require.NotEmpty(t, report.Items)
	assert.Equal(t, models.SeverityError, report.Items[0].Severity)
	assert.False(t, report.Passed)
}

func TestCheckLiabilitySign(t *testing.T) {
	c := NewIntegrityChecker()
	doc := &models.Document{
		Accounts: []models.AccountEntry{{
			AccountType: models.AccountTypeCredit,
			Balances:    []models.Balance{{Date: "2025-03-31", TotalValue: f(2500)}},
		}},
	}

	report := c.Check(doc)
	require.Len(t, report.Items, 1)
	assert.Equal(t, "liability_sign", report.Items[0].Rule)
	assert.Equal(t, models.SeverityWarning, report.Items[0].Severity)
	assert.True(t, report.Passed, "warnings alone must not fail the advisory check")
}

func TestCheckGrandTotalVsAccounts(t *testing.T) {
	c := NewIntegrityChecker()
	doc := &models.Document{
		StatedTotalValue: f(30000),
		Accounts: []models.AccountEntry{
			{Balances: []models.Balance{{Date: "2025-03-31", TotalValue: f(10000)}}},
			{Balances: []models.Balance{{Date: "2025-03-31", TotalValue: f(20000)}}},
		},
	}

	report := c.Check(doc)
	require.Len(t, report.Items, 1)
	assert.Equal(t, "grand_total_vs_accounts", report.Items[0].Rule)
	assert.Equal(t, models.SeverityInfo, report.Items[0].Severity)
}

func TestHardCheckTotalWithinTolerance(t *testing.T) {
	c := NewIntegrityChecker()
	doc := &models.Document{
		StatedTotalValue: f(100000),
		Accounts: []models.AccountEntry{{
			Positions: []models.Position{{Date: "2025-03-31", Symbol: "VTI", Quantity: 100}},
		}},
	}

	// Within 5%: passes.
	result := c.HardCheck(doc, LedgerActuals{TotalValue: 96000, PositionCount: 1})
	assert.True(t, result.Passed)

	// Beyond 5%: hard failure.
	result = c.HardCheck(doc, LedgerActuals{TotalValue: 80000, PositionCount: 1})
	assert.False(t, result.Passed)
	require.NotEmpty(t, result.FailedHard())
	assert.Equal(t, "total_value", result.FailedHard()[0].Name)
}

func TestHardCheckPositionCountIsExact(t *testing.T) {
	c := NewIntegrityChecker()
	doc := &models.Document{
		StatedTotalValue: f(1000),
		Accounts: []models.AccountEntry{{
			Positions: []models.Position{
				{Date: "2025-03-31", Symbol: "AAPL", Quantity: 10},
				{Date: "2025-03-31", Symbol: "AAPL", Quantity: 5}, // duplicate, collapses
				{Date: "2025-03-31", Symbol: "MSFT", Quantity: 2},
			},
		}},
	}

	result := c.HardCheck(doc, LedgerActuals{TotalValue: 1000, PositionCount: 2})
	assert.True(t, result.Passed)

	result = c.HardCheck(doc, LedgerActuals{TotalValue: 1000, PositionCount: 3})
	assert.False(t, result.Passed)
}

func TestHardCheckTransactionCountIsSoft(t *testing.T) {
	c := NewIntegrityChecker()
	doc := &models.Document{
		StatedTotalValue: f(1000),
		Accounts: []models.AccountEntry{{
			Transactions: []models.Transaction{
				{Date: "2025-03-01", Action: models.ActionBuy, TotalAmount: -100},
			},
		}},
	}

	// Transaction count is off, but no hard check failed.
	result := c.HardCheck(doc, LedgerActuals{TotalValue: 1000, TransactionCount: 0})
	assert.True(t, result.Passed)
	var soft *models.HardCheck
	for i := range result.Checks {
		if result.Checks[i].Name == "transaction_count" {
			soft = &result.Checks[i]
		}
	}
	require.NotNil(t, soft)
	assert.False(t, soft.Passed)
	assert.False(t, soft.Hard)
}

func TestHardCheckFallsBackToAccountBalances(t *testing.T) {
	c := NewIntegrityChecker()
	doc := &models.Document{
		Accounts: []models.AccountEntry{
			{Balances: []models.Balance{{Date: "2025-03-31", TotalValue: f(40000)}}},
			{Balances: []models.Balance{{Date: "2025-03-31", TotalValue: f(60000)}}},
		},
	}

	result := c.HardCheck(doc, LedgerActuals{TotalValue: 99000})
	require.NotEmpty(t, result.Checks)
	assert.Equal(t, "total_value", result.Checks[0].Name)
	assert.Equal(t, 100000.0, result.Checks[0].Expected)
	assert.True(t, result.Checks[0].Passed)
}
