package processors

import (
	"fmt"
	"math"
	"strings"

	"github.com/username/ledgerlens/src/models"
)

// quantityTolerance is the quantity gap beyond which two independently
// extracted positions disagree.
const quantityTolerance = 0.001

// ResultComparator fuzzy-matches two independent extractions of the same
// source document and reports their discrepancies. Advisory only: nothing in
// the pipeline gates on it.
type ResultComparator struct{}

func NewResultComparator() *ResultComparator { return &ResultComparator{} }

// Compare matches accounts, positions, transactions and balances across two
// documents and aggregates the worst severity into an agreement level.
func (c *ResultComparator) Compare(a, b *models.Document) models.ComparisonReport {
	report := models.ComparisonReport{Items: []models.ComparisonItem{}}

	matchedB := make(map[int]bool)
	for ia := range a.Accounts {
		ib, found := c.matchAccount(&a.Accounts[ia], b.Accounts, matchedB)
		if !found {
			report.Items = append(report.Items, models.ComparisonItem{
				Kind:       "account",
				AccountRef: accountRef(ia, a.Accounts[ia]),
				Field:      "presence",
				Severity:   models.SeverityWarning,
				ValueA:     accountRef(ia, a.Accounts[ia]),
				ValueB:     "",
				Message:    "account present only in first extraction",
			})
			continue
		}
		matchedB[ib] = true
		c.compareAccounts(&report, ia, &a.Accounts[ia], &b.Accounts[ib])
	}
	for ib := range b.Accounts {
		if !matchedB[ib] {
			report.Items = append(report.Items, models.ComparisonItem{
				Kind:       "account",
				AccountRef: accountRef(ib, b.Accounts[ib]),
				Field:      "presence",
				Severity:   models.SeverityWarning,
				ValueA:     "",
				ValueB:     accountRef(ib, b.Accounts[ib]),
				Message:    "account present only in second extraction",
			})
		}
	}

	worst := models.SeverityInfo
	hasItems := false
	for _, item := range report.Items {
		hasItems = true
		if item.Severity.Rank() > worst.Rank() {
			worst = item.Severity
		}
	}
	switch {
	case !hasItems || worst == models.SeverityInfo:
		report.Agreement = models.AgreementFull
	case worst == models.SeverityWarning:
		report.Agreement = models.AgreementMinor
	default:
		report.Agreement = models.AgreementSignificant
	}
	return report
}

// matchAccount tries the strict key first, then the fuzzy fallbacks.
func (c *ResultComparator) matchAccount(entry *models.AccountEntry, others []models.AccountEntry, taken map[int]bool) (int, bool) {
	key := strictKey(entry)
	for i := range others {
		if !taken[i] && strictKey(&others[i]) == key && key != "||" {
			return i, true
		}
	}
	for i := range others {
		if !taken[i] && fuzzyAccountMatch(entry, &others[i]) {
			return i, true
		}
	}
	return 0, false
}

// strictKey is normalized institution | type | last-4 digits.
func strictKey(entry *models.AccountEntry) string {
	digits := digitsOnly(entry.AccountNumber)
	last4 := ""
	if len(digits) >= 4 {
		last4 = digits[len(digits)-4:]
	}
	return normalizeName(entry.Institution) + "|" + string(entry.AccountType) + "|" + last4
}

func fuzzyAccountMatch(a, b *models.AccountEntry) bool {
	nickA, nickB := normalizeName(a.Nickname), normalizeName(b.Nickname)

	// Nickname equality.
	if nickA != "" && nickA == nickB {
		return true
	}
	// One nickname referencing the other's institution or type.
	if nickA != "" && (strings.Contains(nickA, normalizeName(b.Institution)) && normalizeName(b.Institution) != "" ||
		strings.Contains(nickA, string(b.AccountType))) {
		return true
	}
	if nickB != "" && (strings.Contains(nickB, normalizeName(a.Institution)) && normalizeName(a.Institution) != "" ||
		strings.Contains(nickB, string(a.AccountType))) {
		return true
	}
	// Number overlap plus type or institution corroboration.
	digitsA, digitsB := digitsOnly(a.AccountNumber), digitsOnly(b.AccountNumber)
	if digitsA != "" && digitsB != "" &&
		(strings.HasSuffix(digitsA, digitsB) || strings.HasSuffix(digitsB, digitsA)) {
		if a.AccountType == b.AccountType || institutionsMatch(a.Institution, b.Institution) {
			return true
		}
	}
	// Institution containment with equal type.
	if institutionsMatch(a.Institution, b.Institution) && a.AccountType == b.AccountType {
		return true
	}
	return false
}

func (c *ResultComparator) compareAccounts(report *models.ComparisonReport, index int, a, b *models.AccountEntry) {
	ref := accountRef(index, *a)
	c.comparePositions(report, ref, a.Positions, b.Positions)
	c.compareTransactions(report, ref, a.Transactions, b.Transactions)
	c.compareBalances(report, ref, a.Balances, b.Balances)
}

func (c *ResultComparator) comparePositions(report *models.ComparisonReport, ref string, a, b []models.Position) {
	indexB := make(map[string]*models.Position, len(b))
	for i := range b {
		indexB[b[i].Symbol+"|"+b[i].Date] = &b[i]
	}

	for i := range a {
		pa := &a[i]
		pb, found := indexB[pa.Symbol+"|"+pa.Date]
		if !found {
			report.Items = append(report.Items, models.ComparisonItem{
				Kind: "position", AccountRef: ref, Field: "presence",
				Severity: models.SeverityWarning,
				ValueA:   pa.Symbol, ValueB: "",
				Message: fmt.Sprintf("position %s on %s only in first extraction", pa.Symbol, pa.Date),
			})
			continue
		}
		delete(indexB, pa.Symbol+"|"+pa.Date)

		if math.Abs(pa.Quantity-pb.Quantity) > quantityTolerance {
			report.Items = append(report.Items, models.ComparisonItem{
				Kind: "position", AccountRef: ref, Field: "quantity",
				Severity: models.SeverityError,
				ValueA:   fmt.Sprintf("%.4f", pa.Quantity), ValueB: fmt.Sprintf("%.4f", pb.Quantity),
				Message: fmt.Sprintf("quantity for %s differs", pa.Symbol),
			})
		}
		if pa.MarketValue != nil && pb.MarketValue != nil {
			gap := math.Abs(*pa.MarketValue - *pb.MarketValue)
			if gap > 0 {
				report.Items = append(report.Items, models.ComparisonItem{
					Kind: "position", AccountRef: ref, Field: "market_value",
					Severity: dollarGapSeverity(gap),
					ValueA:   fmt.Sprintf("%.2f", *pa.MarketValue), ValueB: fmt.Sprintf("%.2f", *pb.MarketValue),
					Message: fmt.Sprintf("market value for %s differs by %.2f", pa.Symbol, gap),
				})
			}
		}
	}

	for _, pb := range b {
		if _, still := indexB[pb.Symbol+"|"+pb.Date]; still {
			report.Items = append(report.Items, models.ComparisonItem{
				Kind: "position", AccountRef: ref, Field: "presence",
				Severity: models.SeverityWarning,
				ValueA:   "", ValueB: pb.Symbol,
				Message: fmt.Sprintf("position %s on %s only in second extraction", pb.Symbol, pb.Date),
			})
		}
	}
}

func (c *ResultComparator) compareTransactions(report *models.ComparisonReport, ref string, a, b []models.Transaction) {
	used := make(map[int]bool)

	findExact := func(tx *models.Transaction) int {
		for i := range b {
			if used[i] {
				continue
			}
			if b[i].Date == tx.Date && b[i].Symbol == tx.Symbol && b[i].Action == tx.Action &&
				math.Abs(b[i].TotalAmount-tx.TotalAmount) < 0.01 {
				return i
			}
		}
		return -1
	}
	findLoose := func(tx *models.Transaction) int {
		for i := range b {
			if used[i] {
				continue
			}
			if b[i].Date == tx.Date && b[i].Symbol == tx.Symbol && b[i].Action == tx.Action {
				return i
			}
		}
		return -1
	}

	for i := range a {
		ta := &a[i]
		if j := findExact(ta); j >= 0 {
			used[j] = true
			continue
		}
		if j := findLoose(ta); j >= 0 {
			used[j] = true
			gap := math.Abs(b[j].TotalAmount - ta.TotalAmount)
			report.Items = append(report.Items, models.ComparisonItem{
				Kind: "transaction", AccountRef: ref, Field: "total_amount",
				Severity: dollarGapSeverity(gap),
				ValueA:   fmt.Sprintf("%.2f", ta.TotalAmount), ValueB: fmt.Sprintf("%.2f", b[j].TotalAmount),
				Message: fmt.Sprintf("%s %s on %s: amounts differ by %.2f", ta.Action, ta.Symbol, ta.Date, gap),
			})
			continue
		}
		report.Items = append(report.Items, models.ComparisonItem{
			Kind: "transaction", AccountRef: ref, Field: "presence",
			Severity: models.SeverityWarning,
			ValueA:   fmt.Sprintf("%s %s %s", ta.Date, ta.Action, ta.Symbol), ValueB: "",
			Message: "transaction only in first extraction",
		})
	}

	for i := range b {
		if !used[i] {
			report.Items = append(report.Items, models.ComparisonItem{
				Kind: "transaction", AccountRef: ref, Field: "presence",
				Severity: models.SeverityWarning,
				ValueA:   "", ValueB: fmt.Sprintf("%s %s %s", b[i].Date, b[i].Action, b[i].Symbol),
				Message: "transaction only in second extraction",
			})
		}
	}
}

func (c *ResultComparator) compareBalances(report *models.ComparisonReport, ref string, a, b []models.Balance) {
	indexB := make(map[string]*models.Balance, len(b))
	for i := range b {
		indexB[b[i].Date] = &b[i]
	}
	for i := range a {
		ba := &a[i]
		bb, found := indexB[ba.Date]
		if !found {
			continue
		}
		compareOptional(report, ref, "total_value", ba.Date, ba.TotalValue, bb.TotalValue)
		compareOptional(report, ref, "cash_balance", ba.Date, ba.CashBalance, bb.CashBalance)
	}
}

func compareOptional(report *models.ComparisonReport, ref, field, date string, va, vb *float64) {
	if va == nil || vb == nil {
		return
	}
	gap := math.Abs(*va - *vb)
	if gap < 0.01 {
		return
	}
	report.Items = append(report.Items, models.ComparisonItem{
		Kind: "balance", AccountRef: ref, Field: field,
		Severity: dollarGapSeverity(gap),
		ValueA:   fmt.Sprintf("%.2f", *va), ValueB: fmt.Sprintf("%.2f", *vb),
		Message:  fmt.Sprintf("%s on %s differs by %.2f", field, date, gap),
	})
}

// dollarGapSeverity scales severity by absolute dollar gap.
func dollarGapSeverity(gap float64) models.Severity {
	switch {
	case gap > warningDollarLimit:
		return models.SeverityError
	case gap > infoDollarLimit:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}
