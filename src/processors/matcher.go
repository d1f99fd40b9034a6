// Package processors holds the pure pipeline stages: account matching,
// integrity checking and dual-result comparison. Nothing here performs I/O;
// each processor maps its inputs to a result the services layer acts on.
package processors

import (
	"fmt"
	"strings"

	"github.com/username/ledgerlens/src/models"
)

// AccountMatcher maps extracted accounts onto the existing ledger using
// tiered deterministic heuristics. It is pure: the existing-accounts list is
// its only view of the world.
type AccountMatcher struct{}

func NewAccountMatcher() *AccountMatcher { return &AccountMatcher{} }

// Match produces one decision per account entry, in entry order. Existing
// accounts are claimed at most once per document; aggregate-flagged accounts
// are excluded from the normal candidate pool so unallocated buckets never
// intercept a genuine per-account match.
func (m *AccountMatcher) Match(doc *models.Document, existing []models.Account) models.AccountMapping {
	mapping := models.AccountMapping{Decisions: make([]models.MatchDecision, 0, len(doc.Accounts))}

	var candidates []models.Account
	for _, acct := range existing {
		if !acct.IsAggregate {
			candidates = append(candidates, acct)
		}
	}

	claimed := make(map[int64]bool)

	for i, entry := range doc.Accounts {
		institution := entry.Institution
		if institution == "" {
			institution = doc.Institution
		}
		decision := m.matchEntry(i, entry, institution, candidates, claimed)
		if decision.Action == models.MatchExisting {
			claimed[decision.AccountID] = true
		}
		mapping.Decisions = append(mapping.Decisions, decision)
	}

	// Unallocated positions map to an existing aggregate account for the
	// document's institution when one exists; otherwise the writer creates
	// one lazily.
	if len(doc.UnallocatedPositions) > 0 {
		for _, acct := range existing {
			if acct.IsAggregate && institutionsMatch(doc.Institution, acct.Institution) {
				mapping.AggregateAccountID = acct.ID
				break
			}
		}
	}

	return mapping
}

func (m *AccountMatcher) matchEntry(index int, entry models.AccountEntry, institution string, candidates []models.Account, claimed map[int64]bool) models.MatchDecision {
	// Tier 1: account number.
	if decision, ok := m.matchByNumber(index, entry, institution, candidates, claimed); ok {
		return decision
	}

	// Tier 2: institution + type, requiring a unique candidate.
	if decision, ok := m.matchByInstitutionType(index, entry, institution, candidates, claimed); ok {
		return decision
	}

	// Tier 3: institution + nickname.
	if decision, ok := m.matchByNickname(index, entry, institution, candidates, claimed); ok {
		return decision
	}

	return models.MatchDecision{
		EntryIndex: index,
		Action:     models.CreateNew,
		Confidence: models.ConfidenceLow,
		Reason:     "no matching existing account found",
	}
}

func (m *AccountMatcher) matchByNumber(index int, entry models.AccountEntry, institution string, candidates []models.Account, claimed map[int64]bool) (models.MatchDecision, bool) {
	entryDigits := digitsOnly(entry.AccountNumber)
	if entryDigits == "" {
		return models.MatchDecision{}, false
	}

	// Stronger number rules are exhausted across all candidates before the
	// weaker ones run, so an exact match on a later candidate is never
	// preempted by a suffix match on an earlier one.
	for _, acct := range candidates {
		if claimed[acct.ID] {
			continue
		}
		if digitsOnly(acct.AccountNumberMasked) == entryDigits {
			return models.MatchDecision{
				EntryIndex: index,
				Action:     models.MatchExisting,
				AccountID:  acct.ID,
				Confidence: models.ConfidenceHigh,
				Reason:     fmt.Sprintf("account number %s matches exactly", entry.AccountNumber),
			}, true
		}
	}

	for _, acct := range candidates {
		if claimed[acct.ID] {
			continue
		}
		if suffixMatch(digitsOnly(acct.AccountNumberMasked), entryDigits, 4) {
			return models.MatchDecision{
				EntryIndex: index,
				Action:     models.MatchExisting,
				AccountID:  acct.ID,
				Confidence: models.ConfidenceHigh,
				Reason:     fmt.Sprintf("last 4 digits of account number match %s", acct.AccountNumberMasked),
			}, true
		}
	}

	for _, acct := range candidates {
		if claimed[acct.ID] {
			continue
		}
		if suffixMatch(digitsOnly(acct.AccountNumberMasked), entryDigits, 3) {
			confidence := models.ConfidenceMedium
			reason := fmt.Sprintf("last 3 digits of account number match %s", acct.AccountNumberMasked)
			if institutionsMatch(institution, acct.Institution) {
				confidence = models.ConfidenceHigh
				reason += " with matching institution"
			}
			return models.MatchDecision{
				EntryIndex: index,
				Action:     models.MatchExisting,
				AccountID:  acct.ID,
				Confidence: confidence,
				Reason:     reason,
			}, true
		}
	}

	return models.MatchDecision{}, false
}

func (m *AccountMatcher) matchByInstitutionType(index int, entry models.AccountEntry, institution string, candidates []models.Account, claimed map[int64]bool) (models.MatchDecision, bool) {
	if institution == "" {
		return models.MatchDecision{}, false
	}

	var matched []models.Account
	for _, acct := range candidates {
		if claimed[acct.ID] {
			continue
		}
		if institutionsMatch(institution, acct.Institution) && acct.AccountType == entry.AccountType {
			matched = append(matched, acct)
		}
	}

	// Only an unambiguous single candidate counts.
	if len(matched) != 1 {
		return models.MatchDecision{}, false
	}

	return models.MatchDecision{
		EntryIndex: index,
		Action:     models.MatchExisting,
		AccountID:  matched[0].ID,
		Confidence: models.ConfidenceMedium,
		Reason:     fmt.Sprintf("only %s account at %s", entry.AccountType, matched[0].Institution),
	}, true
}

func (m *AccountMatcher) matchByNickname(index int, entry models.AccountEntry, institution string, candidates []models.Account, claimed map[int64]bool) (models.MatchDecision, bool) {
	nickname := normalizeName(entry.Nickname)
	if nickname == "" || institution == "" {
		return models.MatchDecision{}, false
	}

	for _, acct := range candidates {
		if claimed[acct.ID] {
			continue
		}
		if !institutionsMatch(institution, acct.Institution) {
			continue
		}
		acctName := normalizeName(acct.Name)
		if acctName == "" {
			continue
		}
		if strings.Contains(acctName, nickname) || strings.Contains(nickname, acctName) {
			return models.MatchDecision{
				EntryIndex: index,
				Action:     models.MatchExisting,
				AccountID:  acct.ID,
				Confidence: models.ConfidenceMedium,
				Reason:     fmt.Sprintf("nickname %q matches account %q at %s", entry.Nickname, acct.Name, acct.Institution),
			}, true
		}
	}

	return models.MatchDecision{}, false
}

// digitsOnly strips mask characters and separators, leaving the digits.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// suffixMatch reports whether both digit strings share the same n-digit
// suffix. Both sides need at least n digits: comparing a 3-digit number
// against a 3-digit suffix of a longer one is fine, padding is not.
func suffixMatch(a, b string, n int) bool {
	if len(a) < n || len(b) < n {
		return false
	}
	return a[len(a)-n:] == b[len(b)-n:]
}

// corporateSuffixes are stripped before institutions are compared.
var corporateSuffixes = []string{"llc", "inc", "corp", "corporation", "incorporated", "co", "ltd", "company", "group", "holdings"}

// normalizeName lowercases, drops punctuation and corporate suffixes, and
// collapses whitespace.
func normalizeName(s string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	words := strings.Fields(b.String())
	var kept []string
	for _, w := range words {
		drop := false
		for _, suffix := range corporateSuffixes {
			if w == suffix {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// institutionsMatch applies substring-containment equivalence on normalized
// names: "Schwab" matches "Charles Schwab".
func institutionsMatch(a, b string) bool {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}
