package models

// AccountWriteResult is the per-account outcome of one writer run.
type AccountWriteResult struct {
	EntryIndex          int    `json:"entry_index"`
	AccountID           int64  `json:"account_id"`
	Created             bool   `json:"created"`
	HoldingsCreated     int    `json:"holdings_created"`
	HoldingsUpdated     int    `json:"holdings_updated"`
	HoldingsClosed      int    `json:"holdings_closed"`
	PositionsWritten    int    `json:"positions_written"`
	BalancesWritten     int    `json:"balances_written"`
	TransactionsWritten int    `json:"transactions_written"`
	Error               string `json:"error,omitempty"`
}

// WriteReport is the writer's sole return value, fully determined by the
// document, the mapping and prior ledger state.
type WriteReport struct {
	StatementID string               `json:"statement_id"`
	Accounts    []AccountWriteResult `json:"accounts"`

	AccountsMatched     int `json:"accounts_matched"`
	AccountsCreated     int `json:"accounts_created"`
	HoldingsCreated     int `json:"holdings_created"`
	HoldingsUpdated     int `json:"holdings_updated"`
	HoldingsClosed      int `json:"holdings_closed"`
	PositionsWritten    int `json:"positions_written"`
	BalancesWritten     int `json:"balances_written"`
	TransactionsWritten int `json:"transactions_written"`
	AccountsFailed      int `json:"accounts_failed"`
}

// AccountIDs returns all distinct account ids touched by the write, in
// result order.
func (r *WriteReport) AccountIDs() []int64 {
	seen := make(map[int64]bool, len(r.Accounts))
	var ids []int64
	for _, a := range r.Accounts {
		if a.AccountID != 0 && !seen[a.AccountID] {
			seen[a.AccountID] = true
			ids = append(ids, a.AccountID)
		}
	}
	return ids
}

// Severity classifies an integrity discrepancy.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Rank orders severities for worst-of aggregation.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// IntegrityItem is one numeric comparison result.
type IntegrityItem struct {
	Rule       string   `json:"rule"`
	AccountRef string   `json:"account_ref,omitempty"`
	Severity   Severity `json:"severity"`
	Expected   float64  `json:"expected"`
	Actual     float64  `json:"actual"`
	Diff       float64  `json:"diff"`
	PctDiff    float64  `json:"pct_diff"`
	Message    string   `json:"message"`
}

// IntegrityReport is the checker's advisory output. Passed is true iff no
// error-severity item exists.
type IntegrityReport struct {
	Items  []IntegrityItem `json:"items"`
	Passed bool            `json:"passed"`
}

// HardCheck is one rule of the pipeline-gating quality check. Hard rules fail
// the pipeline; soft rules only warn.
type HardCheck struct {
	Name     string  `json:"name"`
	Hard     bool    `json:"hard"`
	Passed   bool    `json:"passed"`
	Expected float64 `json:"expected"`
	Actual   float64 `json:"actual"`
	Message  string  `json:"message,omitempty"`
}

// HardCheckResult compares the document's expected totals against what is
// actually present in the ledger after writing.
type HardCheckResult struct {
	Checks []HardCheck `json:"checks"`
	Passed bool        `json:"passed"` // true iff all hard checks passed
}

// FailedHard returns the hard checks that failed.
func (r HardCheckResult) FailedHard() []HardCheck {
	var out []HardCheck
	for _, c := range r.Checks {
		if c.Hard && !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Quality-check terminal and transient statuses.
const (
	QualityStatusRunning    = "running"
	QualityStatusPassed     = "passed"
	QualityStatusFailed     = "failed"
	QualityStatusFixing     = "fixing"
	QualityStatusFixed      = "fixed"
	QualityStatusUnresolved = "unresolved"
)

// FixAttempt records one bounded re-extraction cycle.
type FixAttempt struct {
	Phase       string `json:"phase"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// QualityCheck is the persisted outcome of the orchestrator for one
// statement.
type QualityCheck struct {
	ID          int64           `json:"id"`
	StatementID string          `json:"statement_id"`
	Status      string          `json:"status"`
	Result      HardCheckResult `json:"result"`
	FixAttempts []FixAttempt    `json:"fix_attempts"`
}

// Comparator agreement levels.
const (
	AgreementFull        = "full"
	AgreementMinor       = "minor_differences"
	AgreementSignificant = "significant_differences"
)

// ComparisonItem is one discrepancy between two independent extractions.
type ComparisonItem struct {
	Kind       string   `json:"kind"` // account | position | transaction | balance
	AccountRef string   `json:"account_ref,omitempty"`
	Field      string   `json:"field"`
	Severity   Severity `json:"severity"`
	ValueA     string   `json:"value_a"`
	ValueB     string   `json:"value_b"`
	Message    string   `json:"message"`
}

// ComparisonReport summarizes agreement between two documents for the same
// source material.
type ComparisonReport struct {
	Items     []ComparisonItem `json:"items"`
	Agreement string           `json:"agreement"`
}
