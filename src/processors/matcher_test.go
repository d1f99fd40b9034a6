package processors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/ledgerlens/src/models"
)

func docWithAccounts(institution string, entries ...models.AccountEntry) *models.Document {
	return &models.Document{
		Institution:          institution,
		Accounts:             entries,
		UnallocatedPositions: []models.Position{},
		Notes:                []string{},
	}
}

func TestMatchExactAccountNumber(t *testing.T) {
	m := NewAccountMatcher()
	existing := []models.Account{
		{ID: 1, Institution: "Charles Schwab", AccountType: models.AccountTypeBrokerage, AccountNumberMasked: "...5902"},
	}
	doc := docWithAccounts("Schwab", models.AccountEntry{
		AccountNumber: "5902",
		AccountType:   models.AccountTypeBrokerage,
	})

	mapping := m.Match(doc, existing)
	require.Len(t, mapping.Decisions, 1)
	d := mapping.Decisions[0]
	assert.Equal(t, models.MatchExisting, d.Action)
	assert.Equal(t, int64(1), d.AccountID)
	assert.Equal(t, models.ConfidenceHigh, d.Confidence)
}

func TestMatchFourDigitSuffix(t *testing.T) {
	m := NewAccountMatcher()
	existing := []models.Account{
		{ID: 7, Institution: "Fidelity", AccountType: models.AccountTypeRetirement, AccountNumberMasked: "****8841"},
	}
	doc := docWithAccounts("Fidelity", models.AccountEntry{
		AccountNumber: "Z09998841",
		AccountType:   models.AccountTypeRetirement,
	})

	mapping := m.Match(doc, existing)
	d := mapping.Decisions[0]
	assert.Equal(t, models.MatchExisting, d.Action)
	assert.Equal(t, int64(7), d.AccountID)
	assert.Equal(t, models.ConfidenceHigh, d.Confidence)
}

func TestMatchPrefersExactNumberOverEarlierSuffixCandidate(t *testing.T) {
	m := NewAccountMatcher()
	// The weaker suffix candidate lists first; the exact match must still win.
	existing := []models.Account{
		{ID: 1, Institution: "Fidelity", AccountType: models.AccountTypeBrokerage, AccountNumberMasked: "...902"},
		{ID: 2, Institution: "Charles Schwab", AccountType: models.AccountTypeBrokerage, AccountNumberMasked: "...5902"},
	}
	doc := docWithAccounts("Charles Schwab", models.AccountEntry{
		AccountNumber: "5902",
		AccountType:   models.AccountTypeBrokerage,
	})

	d := m.Match(doc, existing).Decisions[0]
	assert.Equal(t, models.MatchExisting, d.Action)
	assert.Equal(t, int64(2), d.AccountID)
	assert.Equal(t, models.ConfidenceHigh, d.Confidence)
	assert.Contains(t, d.Reason, "matches exactly")
}

func TestMatchPrefersFourDigitSuffixOverEarlierThreeDigit(t *testing.T) {
	m := NewAccountMatcher()
	existing := []models.Account{
		{ID: 1, Institution: "Charles Schwab", AccountType: models.AccountTypeBrokerage, AccountNumberMasked: "...902"},
		{ID: 2, Institution: "Charles Schwab", AccountType: models.AccountTypeBrokerage, AccountNumberMasked: "...5902"},
	}
	doc := docWithAccounts("Charles Schwab", models.AccountEntry{
		AccountNumber: "XX-885902",
		AccountType:   models.AccountTypeBrokerage,
	})

	d := m.Match(doc, existing).Decisions[0]
	assert.Equal(t, models.MatchExisting, d.Action)
	assert.Equal(t, int64(2), d.AccountID)
}

func TestMatchThreeDigitSuffixNeedsInstitutionForHighConfidence(t *testing.T) {
	m := NewAccountMatcher()
	existing := []models.Account{
		{ID: 3, Institution: "Charles Schwab", AccountType: models.AccountTypeBrokerage, AccountNumberMasked: "...902"},
	}

	// Same institution: high confidence.
	doc := docWithAccounts("Schwab", models.AccountEntry{
		AccountNumber: "xx902",
		AccountType:   models.AccountTypeBrokerage,
	})
	d := m.Match(doc, existing).Decisions[0]
	assert.Equal(t, models.MatchExisting, d.Action)
	assert.Equal(t, models.ConfidenceHigh, d.Confidence)

	// Different institution: still a match, but only medium.
	doc = docWithAccounts("Vanguard", models.AccountEntry{
		AccountNumber: "xx902",
		AccountType:   models.AccountTypeBrokerage,
	})
	d = m.Match(doc, existing).Decisions[0]
	assert.Equal(t, models.MatchExisting, d.Action)
	assert.Equal(t, models.ConfidenceMedium, d.Confidence)
}

func TestMatchInstitutionTypeRequiresUniqueCandidate(t *testing.T) {
	m := NewAccountMatcher()

	unique := []models.Account{
		{ID: 1, Institution: "Vanguard", AccountType: models.AccountTypeRetirement},
		{ID: 2, Institution: "Vanguard", AccountType: models.AccountTypeBrokerage},
	}
	doc := docWithAccounts("Vanguard", models.AccountEntry{AccountType: models.AccountTypeRetirement})
	d := m.Match(doc, unique).Decisions[0]
	assert.Equal(t, models.MatchExisting, d.Action)
	assert.Equal(t, int64(1), d.AccountID)
	assert.Equal(t, models.ConfidenceMedium, d.Confidence)

	// Two candidates of the same type: ambiguous, create new.
	ambiguous := []models.Account{
		{ID: 1, Institution: "Vanguard", AccountType: models.AccountTypeRetirement},
		{ID: 2, Institution: "Vanguard", AccountType: models.AccountTypeRetirement},
	}
	d = m.Match(doc, ambiguous).Decisions[0]
	assert.Equal(t, models.CreateNew, d.Action)
	assert.Equal(t, models.ConfidenceLow, d.Confidence)
}

func TestMatchByNickname(t *testing.T) {
	m := NewAccountMatcher()
	existing := []models.Account{
		{ID: 9, Institution: "Chase", AccountType: models.AccountTypeBank, Name: "Joint Checking"},
		{ID: 10, Institution: "Chase", AccountType: models.AccountTypeBank, Name: "Vacation Savings"},
	}
	doc := docWithAccounts("Chase", models.AccountEntry{
		AccountType: models.AccountTypeBank,
		Nickname:    "joint checking",
	})

	d := m.Match(doc, existing).Decisions[0]
	assert.Equal(t, models.MatchExisting, d.Action)
	assert.Equal(t, int64(9), d.AccountID)
	assert.Equal(t, models.ConfidenceMedium, d.Confidence)
}

func TestMatchClaimsEachAccountOnce(t *testing.T) {
	m := NewAccountMatcher()
	existing := []models.Account{
		{ID: 5, Institution: "Schwab", AccountType: models.AccountTypeBrokerage, AccountNumberMasked: "...1234"},
	}
	doc := docWithAccounts("Schwab",
		models.AccountEntry{AccountNumber: "...1234", AccountType: models.AccountTypeBrokerage},
		models.AccountEntry{AccountNumber: "...1234", AccountType: models.AccountTypeBrokerage},
	)

	mapping := m.Match(doc, existing)
	require.Len(t, mapping.Decisions, 2)
	assert.Equal(t, models.MatchExisting, mapping.Decisions[0].Action)
	assert.Equal(t, models.CreateNew, mapping.Decisions[1].Action)
}

func TestMatchIgnoresAggregateAccounts(t *testing.T) {
	m := NewAccountMatcher()
	existing := []models.Account{
		{ID: 1, Institution: "Schwab", AccountType: models.AccountTypeOther, IsAggregate: true},
		{ID: 2, Institution: "Schwab", AccountType: models.AccountTypeOther},
	}
	doc := docWithAccounts("Schwab", models.AccountEntry{AccountType: models.AccountTypeOther})

	d := m.Match(doc, existing).Decisions[0]
	assert.Equal(t, models.MatchExisting, d.Action)
	assert.Equal(t, int64(2), d.AccountID, "aggregate accounts must not intercept per-account matches")
}

func TestMatchAssignsAggregateForUnallocated(t *testing.T) {
	m := NewAccountMatcher()
	existing := []models.Account{
		{ID: 42, Institution: "Charles Schwab", IsAggregate: true},
	}
	doc := &models.Document{
		Institution:          "Schwab",
		Accounts:             []models.AccountEntry{},
		UnallocatedPositions: []models.Position{{Symbol: "AAPL", Quantity: 1, Date: "2025-01-01"}},
	}

	mapping := m.Match(doc, existing)
	assert.Equal(t, int64(42), mapping.AggregateAccountID)
}

func TestMatchEntryInstitutionFallsBackToDocument(t *testing.T) {
	m := NewAccountMatcher()
	existing := []models.Account{
		{ID: 11, Institution: "Vanguard", AccountType: models.AccountTypeBrokerage},
	}
	// Entry carries no institution of its own.
	doc := docWithAccounts("Vanguard Group", models.AccountEntry{AccountType: models.AccountTypeBrokerage})

	d := m.Match(doc, existing).Decisions[0]
	assert.Equal(t, models.MatchExisting, d.Action)
	assert.Equal(t, int64(11), d.AccountID)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "charles schwab", normalizeName("Charles Schwab & Co., Inc."))
	assert.Equal(t, "vanguard", normalizeName("The Vanguard Group")[4:])
	assert.Equal(t, "", normalizeName("  "))
}

func TestInstitutionsMatch(t *testing.T) {
	assert.True(t, institutionsMatch("Schwab", "Charles Schwab"))
	assert.True(t, institutionsMatch("Fidelity Investments", "Fidelity"))
	assert.False(t, institutionsMatch("Schwab", "Fidelity"))
	assert.False(t, institutionsMatch("", "Fidelity"))
}
