package services

import (
	"context"
	"fmt"
	"time"

	"github.com/username/ledgerlens/src/extraction"
	"github.com/username/ledgerlens/src/logger"
	"github.com/username/ledgerlens/src/models"
	"github.com/username/ledgerlens/src/processors"
	"github.com/username/ledgerlens/src/utils"
)

// QualityService gates each write with the hard integrity check and runs a
// single self-healing re-extraction when the check fails. One attempt only:
// a second failure parks the statement as unresolved for manual review
// instead of looping on model calls.
type QualityService struct {
	store     LedgerStore
	checker   *processors.IntegrityChecker
	matcher   *processors.AccountMatcher
	writer    *WriterService
	extractor Extractor
}

func NewQualityService(store LedgerStore, checker *processors.IntegrityChecker, matcher *processors.AccountMatcher, writer *WriterService, extractor Extractor) *QualityService {
	return &QualityService{
		store:     store,
		checker:   checker,
		matcher:   matcher,
		writer:    writer,
		extractor: extractor,
	}
}

// Run checks a freshly written statement and, on hard failure, attempts one
// corrective re-extraction. The returned QualityCheck is already persisted.
func (s *QualityService) Run(ctx context.Context, userID int64, statementID string, doc *models.Document, report *models.WriteReport, src ExtractionRequest) (*models.QualityCheck, error) {
	qc := &models.QualityCheck{
		StatementID: statementID,
		Status:      models.QualityStatusRunning,
		FixAttempts: []models.FixAttempt{},
	}
	if err := s.store.SaveQualityCheck(ctx, qc); err != nil {
		return nil, fmt.Errorf("error recording quality check for statement %s: %w", statementID, err)
	}

	result, err := s.hardCheck(ctx, statementID, doc, report.AccountIDs())
	if err != nil {
		return nil, err
	}
	qc.Result = result

	if result.Passed {
		qc.Status = models.QualityStatusPassed
		if err := s.store.SaveQualityCheck(ctx, qc); err != nil {
			return nil, err
		}
		return qc, nil
	}

	logger.L.Warn("Hard integrity check failed, starting corrective re-extraction",
		"statementID", statementID, "failedChecks", len(result.FailedHard()))
	qc.Status = models.QualityStatusFailed
	if err := s.store.SaveQualityCheck(ctx, qc); err != nil {
		return nil, err
	}
	qc.Status = models.QualityStatusFixing
	if err := s.store.SaveQualityCheck(ctx, qc); err != nil {
		return nil, err
	}
	s.setStatementStatus(ctx, statementID, models.StatementStatusFixing)

	attempt := models.FixAttempt{
		Phase:     "re_extraction",
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		Status:    models.QualityStatusRunning,
	}
	fixedResult, fixReport, fixErr := s.runFix(ctx, userID, statementID, doc, result, src)
	attempt.CompletedAt = time.Now().UTC().Format(time.RFC3339)

	switch {
	case fixErr != nil:
		attempt.Status = models.QualityStatusUnresolved
		attempt.Error = fixErr.Error()
		qc.Status = models.QualityStatusUnresolved
		s.parkUnresolved(ctx, statementID, doc, report, fixReport)
		logger.L.Error("Corrective re-extraction failed", "statementID", statementID, "error", fixErr)
	case fixedResult.Passed:
		attempt.Status = models.QualityStatusFixed
		qc.Status = models.QualityStatusFixed
		qc.Result = *fixedResult
		s.setStatementStatus(ctx, statementID, models.StatementStatusProcessed)
		logger.L.Info("Corrective re-extraction resolved the hard check", "statementID", statementID)
	default:
		attempt.Status = models.QualityStatusUnresolved
		qc.Status = models.QualityStatusUnresolved
		qc.Result = *fixedResult
		s.parkUnresolved(ctx, statementID, doc, report, fixReport)
		logger.L.Warn("Corrective re-extraction did not resolve the hard check", "statementID", statementID)
	}

	qc.FixAttempts = append(qc.FixAttempts, attempt)
	if err := s.store.SaveQualityCheck(ctx, qc); err != nil {
		return nil, err
	}
	return qc, nil
}

func (s *QualityService) hardCheck(ctx context.Context, statementID string, doc *models.Document, accountIDs []int64) (models.HardCheckResult, error) {
	total, positions, transactions, err := s.store.StatementActuals(ctx, statementID, accountIDs)
	if err != nil {
		return models.HardCheckResult{}, fmt.Errorf("error gathering ledger actuals for statement %s: %w", statementID, err)
	}
	return s.checker.HardCheck(doc, processors.LedgerActuals{
		TotalValue:       total,
		PositionCount:    positions,
		TransactionCount: transactions,
	}), nil
}

// runFix performs the clear-and-rewrite cycle: re-extract with corrective
// feedback, validate, wipe the original rows, write the corrected document,
// re-check. Any panic out of the model client or writer is converted to an
// error so the statement lands in unresolved rather than crashing the
// request. fixReport is returned even when the re-check fails so the caller
// knows which accounts the rewrite touched.
func (s *QualityService) runFix(ctx context.Context, userID int64, statementID string, doc *models.Document, failed models.HardCheckResult, src ExtractionRequest) (result *models.HardCheckResult, fixReport *models.WriteReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fix cycle panicked: %v", r)
		}
	}()

	src.Feedback = extraction.CorrectiveFeedback(failed, doc)
	raw, err := s.extractor.Extract(ctx, src)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	vres := extraction.Validate(raw)
	if !vres.Valid {
		return nil, nil, fmt.Errorf("%w: %d errors", ErrDocumentInvalid, len(vres.Errors))
	}
	newDoc := vres.Document

	if err := s.store.ClearStatementData(ctx, statementID); err != nil {
		return nil, nil, err
	}

	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	mapping := s.matcher.Match(newDoc, accounts)

	fixReport, err = s.writer.Write(ctx, userID, statementID, newDoc, mapping)
	if err != nil {
		return nil, nil, err
	}
	s.updateStatementCounts(ctx, statementID, newDoc, fixReport)

	rechecked, err := s.hardCheck(ctx, statementID, newDoc, fixReport.AccountIDs())
	if err != nil {
		return nil, fixReport, err
	}
	return &rechecked, fixReport, nil
}

// parkUnresolved leaves an unresolved statement with no ledger footprint:
// whatever rows it currently holds are cleared, the summaries of every
// account either write touched are recomputed from what survives, and the
// statement record goes back to describing the original document so manual
// review starts from known-good metadata.
func (s *QualityService) parkUnresolved(ctx context.Context, statementID string, doc *models.Document, reports ...*models.WriteReport) {
	if err := s.store.ClearStatementData(ctx, statementID); err != nil {
		logger.L.Error("Failed to clear ledger rows for unresolved statement", "statementID", statementID, "error", err)
		return
	}
	seen := make(map[int64]bool)
	for _, report := range reports {
		if report == nil {
			continue
		}
		for _, accountID := range report.AccountIDs() {
			if seen[accountID] {
				continue
			}
			seen[accountID] = true
			s.recomputeSummary(ctx, accountID)
		}
	}
	s.restoreStatement(ctx, statementID, doc)
}

// recomputeSummary rebuilds an account's value from its surviving holdings,
// zeroing out what the cleared statement had contributed.
func (s *QualityService) recomputeSummary(ctx context.Context, accountID int64) {
	holdings, err := s.store.GetHoldings(ctx, accountID)
	if err != nil {
		logger.L.Error("Failed to load holdings for summary recompute", "accountID", accountID, "error", err)
		return
	}
	var total float64
	for _, h := range holdings {
		total += h.MarketValue
	}
	if err := s.store.UpdateAccountSummary(ctx, accountID, utils.RoundFloat(total, 2), 0, nil, ""); err != nil {
		logger.L.Error("Failed to recompute account summary", "accountID", accountID, "error", err)
	}
}

// restoreStatement puts the original document's metadata back on the
// statement and zeroes the written counts the fix cycle stamped over them.
func (s *QualityService) restoreStatement(ctx context.Context, statementID string, doc *models.Document) {
	st, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		logger.L.Error("Failed to load statement for restore", "statementID", statementID, "error", err)
		return
	}
	st.Institution = doc.Institution
	st.DocumentType = doc.DocumentType
	st.PeriodStart = doc.PeriodStart
	st.PeriodEnd = doc.PeriodEnd
	st.Status = models.StatementStatusUnresolved
	st.TransactionsWritten = 0
	st.PositionsWritten = 0
	st.BalancesWritten = 0
	if err := s.store.UpdateStatement(ctx, st); err != nil {
		logger.L.Error("Failed to restore statement metadata", "statementID", statementID, "error", err)
	}
}

func (s *QualityService) setStatementStatus(ctx context.Context, statementID, status string) {
	st, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		logger.L.Error("Failed to load statement for status update", "statementID", statementID, "error", err)
		return
	}
	st.Status = status
	if err := s.store.UpdateStatement(ctx, st); err != nil {
		logger.L.Error("Failed to update statement status", "statementID", statementID, "error", err)
	}
}

func (s *QualityService) updateStatementCounts(ctx context.Context, statementID string, doc *models.Document, report *models.WriteReport) {
	st, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		logger.L.Error("Failed to load statement for count update", "statementID", statementID, "error", err)
		return
	}
	st.Institution = doc.Institution
	st.DocumentType = doc.DocumentType
	st.PeriodStart = doc.PeriodStart
	st.PeriodEnd = doc.PeriodEnd
	st.AccountIDs = report.AccountIDs()
	st.AccountsMatched = report.AccountsMatched
	st.AccountsCreated = report.AccountsCreated
	st.TransactionsWritten = report.TransactionsWritten
	st.PositionsWritten = report.PositionsWritten
	st.BalancesWritten = report.BalancesWritten
	if err := s.store.UpdateStatement(ctx, st); err != nil {
		logger.L.Error("Failed to update statement counts", "statementID", statementID, "error", err)
	}
}
