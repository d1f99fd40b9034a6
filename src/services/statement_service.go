package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/username/ledgerlens/src/extraction"
	"github.com/username/ledgerlens/src/logger"
	"github.com/username/ledgerlens/src/models"
	"github.com/username/ledgerlens/src/processors"
)

// Cache key prefixes. Keys are suffixed with the user id.
const (
	ckAccounts     = "accounts_"
	ckLatestReport = "latest_report_"
)

// ProcessResult is everything one statement upload produced.
type ProcessResult struct {
	Statement  *models.Statement      `json:"statement"`
	Validation *extraction.Result     `json:"validation"`
	Mapping    models.AccountMapping  `json:"mapping"`
	Integrity  models.IntegrityReport `json:"integrity"`
	Write      *models.WriteReport    `json:"write"`
	Quality    *models.QualityCheck   `json:"quality"`
}

// StatementService runs the full pipeline for an uploaded statement and
// serves the read side.
type StatementService struct {
	store      LedgerStore
	extractor  Extractor
	matcher    *processors.AccountMatcher
	checker    *processors.IntegrityChecker
	comparator *processors.ResultComparator
	writer     *WriterService
	quality    *QualityService
	cache      *cache.Cache
}

func NewStatementService(store LedgerStore, extractor Extractor, writer *WriterService, quality *QualityService) *StatementService {
	return &StatementService{
		store:      store,
		extractor:  extractor,
		matcher:    processors.NewAccountMatcher(),
		checker:    processors.NewIntegrityChecker(),
		comparator: processors.NewResultComparator(),
		writer:     writer,
		quality:    quality,
		cache:      cache.New(5*time.Minute, 10*time.Minute),
	}
}

// Process runs extract, validate, match, write and quality-check for one
// uploaded statement. The statement record tracks progress throughout, so a
// mid-pipeline failure still leaves an inspectable row.
func (s *StatementService) Process(ctx context.Context, userID int64, filename, fileType, content string, fileSize int64) (*ProcessResult, error) {
	st := &models.Statement{
		ID:       uuid.New().String(),
		UserID:   userID,
		Filename: filename,
		FileType: fileType,
		FileSize: fileSize,
		Status:   models.StatementStatusPending,
	}
	if err := s.store.CreateStatement(ctx, st); err != nil {
		return nil, fmt.Errorf("error creating statement record: %w", err)
	}
	log := logger.FromContext(ctx).With("statementID", st.ID)
	log.Info("Processing statement", "filename", filename, "fileType", fileType)

	req := ExtractionRequest{FileType: fileType, Filename: filename, Content: content}
	raw, err := s.extractor.Extract(ctx, req)
	if err != nil {
		s.failStatement(ctx, st)
		return nil, err
	}

	vres := extraction.Validate(raw)
	result := &ProcessResult{Statement: st, Validation: vres}
	if !vres.Valid {
		log.Warn("Extracted document failed validation", "errors", len(vres.Errors), "warnings", len(vres.Warnings))
		s.failStatement(ctx, st)
		return result, fmt.Errorf("%w: %d errors", ErrDocumentInvalid, len(vres.Errors))
	}
	doc := vres.Document

	existing, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		s.failStatement(ctx, st)
		return result, fmt.Errorf("error listing accounts: %w", err)
	}
	result.Mapping = s.matcher.Match(doc, existing)
	result.Integrity = s.checker.Check(doc)

	report, err := s.writer.Write(ctx, userID, st.ID, doc, result.Mapping)
	if err != nil {
		s.failStatement(ctx, st)
		return result, err
	}
	result.Write = report

	st.Institution = doc.Institution
	st.DocumentType = doc.DocumentType
	st.PeriodStart = doc.PeriodStart
	st.PeriodEnd = doc.PeriodEnd
	st.Status = models.StatementStatusProcessed
	st.AccountIDs = report.AccountIDs()
	st.AccountsMatched = report.AccountsMatched
	st.AccountsCreated = report.AccountsCreated
	st.TransactionsWritten = report.TransactionsWritten
	st.PositionsWritten = report.PositionsWritten
	st.BalancesWritten = report.BalancesWritten
	if err := s.store.UpdateStatement(ctx, st); err != nil {
		return result, fmt.Errorf("error updating statement record: %w", err)
	}

	qc, err := s.quality.Run(ctx, userID, st.ID, doc, report, req)
	if err != nil {
		return result, err
	}
	result.Quality = qc

	// The quality service may have re-written the statement.
	if refreshed, err := s.store.GetStatement(ctx, st.ID); err == nil {
		result.Statement = refreshed
	}

	s.invalidateUserCaches(userID)
	s.cache.Set(fmt.Sprintf("%s%d", ckLatestReport, userID), result, cache.DefaultExpiration)
	return result, nil
}

func (s *StatementService) failStatement(ctx context.Context, st *models.Statement) {
	st.Status = models.StatementStatusFailed
	if err := s.store.UpdateStatement(ctx, st); err != nil {
		logger.L.Error("Failed to mark statement as failed", "statementID", st.ID, "error", err)
	}
}

// Compare validates two independently extracted results for the same source
// material and reports where they disagree.
func (s *StatementService) Compare(rawA, rawB string) (*models.ComparisonReport, *extraction.Result, *extraction.Result, error) {
	vresA := extraction.Validate(rawA)
	vresB := extraction.Validate(rawB)
	if !vresA.Valid || !vresB.Valid {
		return nil, vresA, vresB, fmt.Errorf("%w: both results must validate before comparison", ErrDocumentInvalid)
	}
	report := s.comparator.Compare(vresA.Document, vresB.Document)
	return &report, vresA, vresB, nil
}

// GetStatement returns one statement record.
func (s *StatementService) GetStatement(ctx context.Context, userID int64, id string) (*models.Statement, error) {
	st, err := s.store.GetStatement(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStatementNotFound
	}
	if err != nil {
		return nil, err
	}
	if st.UserID != userID {
		return nil, ErrStatementNotFound
	}
	return st, nil
}

// GetQuality returns the latest quality check for a statement.
func (s *StatementService) GetQuality(ctx context.Context, userID int64, statementID string) (*models.QualityCheck, error) {
	if _, err := s.GetStatement(ctx, userID, statementID); err != nil {
		return nil, err
	}
	qc, err := s.store.GetQualityCheck(ctx, statementID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoQualityCheck
	}
	return qc, err
}

// ListAccounts returns the user's accounts, cached briefly.
func (s *StatementService) ListAccounts(ctx context.Context, userID int64) ([]models.Account, error) {
	key := fmt.Sprintf("%s%d", ckAccounts, userID)
	if cached, found := s.cache.Get(key); found {
		return cached.([]models.Account), nil
	}
	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, accounts, cache.DefaultExpiration)
	return accounts, nil
}

// GetHoldings returns current holdings for one of the user's accounts.
func (s *StatementService) GetHoldings(ctx context.Context, userID, accountID int64) ([]models.Holding, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if acct.UserID != userID {
		return nil, ErrAccountNotFound
	}
	return s.store.GetHoldings(ctx, accountID)
}

// LatestReport returns the most recent pipeline result for the user, if one
// is still cached.
func (s *StatementService) LatestReport(userID int64) (*ProcessResult, bool) {
	cached, found := s.cache.Get(fmt.Sprintf("%s%d", ckLatestReport, userID))
	if !found {
		return nil, false
	}
	return cached.(*ProcessResult), true
}

func (s *StatementService) invalidateUserCaches(userID int64) {
	s.cache.Delete(fmt.Sprintf("%s%d", ckAccounts, userID))
	s.cache.Delete(fmt.Sprintf("%s%d", ckLatestReport, userID))
}
