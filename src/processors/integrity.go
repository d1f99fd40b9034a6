package processors

import (
	"fmt"
	"math"

	"github.com/username/ledgerlens/src/models"
)

// Severity thresholds for advisory integrity discrepancies: a difference is
// info within $500 and 1%, warning up to $5000 or 5%, error beyond either.
const (
	infoDollarLimit    = 500.0
	warningDollarLimit = 5000.0
	infoPctLimit       = 1.0
	warningPctLimit    = 5.0
)

// Hard-check tolerance: written ledger value must be within 5% of the
// document's expected total.
const hardTotalTolerancePct = 5.0

// IntegrityChecker computes numeric discrepancies inside a document and
// between a document and ledger-side actuals.
type IntegrityChecker struct{}

func NewIntegrityChecker() *IntegrityChecker { return &IntegrityChecker{} }

// classify maps a signed dollar difference and base to a severity.
func classify(diff, base float64) (models.Severity, float64) {
	absDiff := math.Abs(diff)
	pct := 0.0
	if base != 0 {
		pct = absDiff / math.Abs(base) * 100
	}
	switch {
	case absDiff > warningDollarLimit || pct > warningPctLimit:
		return models.SeverityError, pct
	case absDiff > infoDollarLimit || pct > infoPctLimit:
		return models.SeverityWarning, pct
	default:
		return models.SeverityInfo, pct
	}
}

// Check runs the document-internal comparisons: per-account stated balance vs
// computed value, cross-account grand total, stated day change, and sign
// sanity for liability accounts. Passed is true iff no error-severity item
// exists.
func (c *IntegrityChecker) Check(doc *models.Document) models.IntegrityReport {
	report := models.IntegrityReport{Items: []models.IntegrityItem{}}

	var statedSum float64
	var statedCount int

	for i, acct := range doc.Accounts {
		ref := accountRef(i, acct)
		stated := acct.StatedBalance()
		if stated != nil {
			statedSum += *stated
			statedCount++
		}

		// Stated balance vs sum of position market values + cash.
		if stated != nil && len(acct.Positions) > 0 {
			computed, haveValues := positionsValue(acct.Positions)
			if haveValues {
				if cash := latestCash(acct.Balances); cash != nil {
					computed += *cash
				}
				diff := computed - *stated
				severity, pct := classify(diff, *stated)
				report.Items = append(report.Items, models.IntegrityItem{
					Rule:       "account_balance_vs_positions",
					AccountRef: ref,
					Severity:   severity,
					Expected:   *stated,
					Actual:     computed,
					Diff:       diff,
					PctDiff:    pct,
					Message:    fmt.Sprintf("positions + cash sum to %.2f, statement says %.2f", computed, *stated),
				})
			}
		}

		// Liability accounts must not state positive balances.
		if acct.AccountType.IsLiability() && stated != nil && *stated > 0 {
			report.Items = append(report.Items, models.IntegrityItem{
				Rule:       "liability_sign",
				AccountRef: ref,
				Severity:   models.SeverityWarning,
				Expected:   -math.Abs(*stated),
				Actual:     *stated,
				Diff:       *stated - (-math.Abs(*stated)),
				PctDiff:    0,
				Message:    fmt.Sprintf("%s account states a positive balance %.2f", acct.AccountType, *stated),
			})
		}
	}

	// Document grand total vs sum of per-account stated balances.
	if doc.StatedTotalValue != nil && statedCount > 0 {
		diff := statedSum - *doc.StatedTotalValue
		severity, pct := classify(diff, *doc.StatedTotalValue)
		report.Items = append(report.Items, models.IntegrityItem{
			Rule:     "grand_total_vs_accounts",
			Severity: severity,
			Expected: *doc.StatedTotalValue,
			Actual:   statedSum,
			Diff:     diff,
			PctDiff:  pct,
			Message:  fmt.Sprintf("per-account balances sum to %.2f, document states %.2f", statedSum, *doc.StatedTotalValue),
		})
	}

	// Document day change vs sum of position-level day changes.
	if doc.StatedDayChange != nil {
		var dayChangeSum float64
		var haveAny bool
		for _, acct := range doc.Accounts {
			for _, pos := range acct.Positions {
				if pos.DayChange != nil {
					dayChangeSum += *pos.DayChange
					haveAny = true
				}
			}
		}
		if haveAny {
			diff := dayChangeSum - *doc.StatedDayChange
			severity, pct := classify(diff, *doc.StatedDayChange)
			report.Items = append(report.Items, models.IntegrityItem{
				Rule:     "day_change_vs_positions",
				Severity: severity,
				Expected: *doc.StatedDayChange,
				Actual:   dayChangeSum,
				Diff:     diff,
				PctDiff:  pct,
				Message:  fmt.Sprintf("position day changes sum to %.2f, document states %.2f", dayChangeSum, *doc.StatedDayChange),
			})
		}
	}

	report.Passed = true
	for _, item := range report.Items {
		if item.Severity == models.SeverityError {
			report.Passed = false
			break
		}
	}
	return report
}

// LedgerActuals is what is actually present in the ledger for one statement
// after writing, gathered by the caller.
type LedgerActuals struct {
	TotalValue       float64
	PositionCount    int
	TransactionCount int
}

// HardCheck is the pipeline-gating variant used by the self-healing loop:
// total value within 5% and position count exactly equal are hard;
// transaction count and the internal cash+equity sanity are soft.
func (c *IntegrityChecker) HardCheck(doc *models.Document, actuals LedgerActuals) models.HardCheckResult {
	result := models.HardCheckResult{Checks: []models.HardCheck{}}

	expectedTotal, haveTotal := expectedDocumentTotal(doc)
	if haveTotal {
		diffPct := 100.0
		if expectedTotal != 0 {
			diffPct = math.Abs(actuals.TotalValue-expectedTotal) / math.Abs(expectedTotal) * 100
		} else if actuals.TotalValue == 0 {
			diffPct = 0
		}
		result.Checks = append(result.Checks, models.HardCheck{
			Name:     "total_value",
			Hard:     true,
			Passed:   diffPct <= hardTotalTolerancePct,
			Expected: expectedTotal,
			Actual:   actuals.TotalValue,
			Message:  fmt.Sprintf("ledger total differs by %.1f%%", diffPct),
		})
	}

	expectedPositions := expectedPositionCount(doc)
	result.Checks = append(result.Checks, models.HardCheck{
		Name:     "position_count",
		Hard:     true,
		Passed:   actuals.PositionCount == expectedPositions,
		Expected: float64(expectedPositions),
		Actual:   float64(actuals.PositionCount),
		Message:  "distinct (account, symbol, date) positions written to the ledger",
	})

	expectedTxs, _, _ := doc.CountItems()
	result.Checks = append(result.Checks, models.HardCheck{
		Name:     "transaction_count",
		Hard:     false,
		Passed:   actuals.TransactionCount == expectedTxs,
		Expected: float64(expectedTxs),
		Actual:   float64(actuals.TransactionCount),
		Message:  "transactions written to the ledger (duplicates collapse)",
	})

	// Internal sanity: where an account states cash, equity and total, the
	// parts should roughly sum to the whole.
	for i, acct := range doc.Accounts {
		for _, bal := range acct.Balances {
			if bal.TotalValue == nil || bal.CashBalance == nil || bal.EquityValue == nil {
				continue
			}
			parts := *bal.CashBalance + *bal.EquityValue
			severityOK := math.Abs(parts-*bal.TotalValue) <= math.Max(infoDollarLimit, math.Abs(*bal.TotalValue)*infoPctLimit/100)
			result.Checks = append(result.Checks, models.HardCheck{
				Name:     fmt.Sprintf("cash_equity_sum[%s]", accountRef(i, acct)),
				Hard:     false,
				Passed:   severityOK,
				Expected: *bal.TotalValue,
				Actual:   parts,
				Message:  "cash + equity vs stated total",
			})
		}
	}

	result.Passed = true
	for _, check := range result.Checks {
		if check.Hard && !check.Passed {
			result.Passed = false
			break
		}
	}
	return result
}

// expectedDocumentTotal prefers the document's stated grand total and falls
// back to the sum of per-account stated balances.
func expectedDocumentTotal(doc *models.Document) (float64, bool) {
	if doc.StatedTotalValue != nil {
		return *doc.StatedTotalValue, true
	}
	var sum float64
	var have bool
	for _, acct := range doc.Accounts {
		if stated := acct.StatedBalance(); stated != nil {
			sum += *stated
			have = true
		}
	}
	return sum, have
}

// expectedPositionCount counts distinct (entry, symbol, date) positions the
// writer will persist, mirroring its dedup key.
func expectedPositionCount(doc *models.Document) int {
	count := 0
	for _, acct := range doc.Accounts {
		seen := make(map[string]bool)
		for _, pos := range acct.Positions {
			key := pos.Date + "|" + pos.Symbol
			if !seen[key] {
				seen[key] = true
				count++
			}
		}
	}
	seen := make(map[string]bool)
	for _, pos := range doc.UnallocatedPositions {
		key := pos.Date + "|" + pos.Symbol
		if !seen[key] {
			seen[key] = true
			count++
		}
	}
	return count
}

func positionsValue(positions []models.Position) (float64, bool) {
	var sum float64
	var have bool
	for _, pos := range positions {
		if pos.MarketValue != nil {
			sum += *pos.MarketValue
			have = true
		}
	}
	return sum, have
}

func latestCash(balances []models.Balance) *float64 {
	var best *models.Balance
	for i := range balances {
		b := &balances[i]
		if b.CashBalance == nil {
			continue
		}
		if best == nil || b.Date > best.Date {
			best = b
		}
	}
	if best == nil {
		return nil
	}
	return best.CashBalance
}

func accountRef(index int, acct models.AccountEntry) string {
	if acct.AccountNumber != "" {
		return acct.AccountNumber
	}
	if acct.Nickname != "" {
		return acct.Nickname
	}
	return fmt.Sprintf("accounts[%d]", index)
}
