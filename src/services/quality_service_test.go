package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/ledgerlens/src/models"
	"github.com/username/ledgerlens/src/processors"
)

type fakeExtractor struct {
	raw      string
	err      error
	calls    int
	feedback string
}

func (f *fakeExtractor) Extract(_ context.Context, req ExtractionRequest) (string, error) {
	f.calls++
	f.feedback = req.Feedback
	if f.err != nil {
		return "", f.err
	}
	return f.raw, nil
}

const correctedExtraction = `{
	"schema_version": 3,
	"institution": "Charles Schwab",
	"document_type": "statement",
	"period_start": "2025-03-01",
	"period_end": "2025-03-31",
	"confidence": "high",
	"accounts": [{
		"account_number": "Z09998841",
		"account_type": "brokerage",
		"transactions": [],
		"positions": [{"date": "2025-03-31", "symbol": "AAPL", "quantity": 10, "market_value": 99500}],
		"balances": [{"date": "2025-03-31", "total_value": 100000, "cash_balance": 500}]
	}]
}`

// Undervalued positions against a 100k stated balance: the write lands at 80k
// and the hard total check fails by 20%.
const understatedExtraction = `{
	"schema_version": 3,
	"institution": "Charles Schwab",
	"document_type": "statement",
	"confidence": "high",
	"accounts": [{
		"account_number": "Z09998841",
		"account_type": "brokerage",
		"transactions": [],
		"positions": [{"date": "2025-03-31", "symbol": "AAPL", "quantity": 10, "market_value": 80000}],
		"balances": [{"date": "2025-03-31", "total_value": 100000}]
	}]
}`

// seedFailingStatement writes a document whose ledger footprint misses the
// stated total by 20%, the state the self-healing loop starts from.
func seedFailingStatement(t *testing.T, store *fakeStore, writer *WriterService, statementID string) (*models.Document, *models.WriteReport) {
	t.Helper()

	require.NoError(t, store.CreateStatement(context.Background(), &models.Statement{
		ID:       statementID,
		UserID:   1,
		Filename: "statement.txt",
		FileType: "text/plain",
		Status:   models.StatementStatusProcessed,
	}))

	doc := brokerageDoc(models.AccountEntry{
		AccountNumber: "Z09998841",
		AccountType:   models.AccountTypeBrokerage,
		Positions: []models.Position{
			{Date: "2025-03-31", Symbol: "AAPL", Quantity: 10, MarketValue: fp(80000)},
		},
		Balances: []models.Balance{
			{Date: "2025-03-31", TotalValue: fp(100000)},
		},
	})
	report, err := writer.Write(context.Background(), 1, statementID, doc, createAllMapping(1))
	require.NoError(t, err)
	return doc, report
}

func newQualityService(store *fakeStore, writer *WriterService, extractor Extractor) *QualityService {
	return NewQualityService(store, processors.NewIntegrityChecker(), processors.NewAccountMatcher(), writer, extractor)
}

func TestQualityRunPassesConsistentWrite(t *testing.T) {
	store := newFakeStore()
	writer := NewWriterService(store, 1)
	extractor := &fakeExtractor{}
	quality := newQualityService(store, writer, extractor)

	require.NoError(t, store.CreateStatement(context.Background(), &models.Statement{
		ID: "st-ok", UserID: 1, Status: models.StatementStatusProcessed,
	}))
	doc := brokerageDoc(models.AccountEntry{
		AccountNumber: "Z09998841",
		AccountType:   models.AccountTypeBrokerage,
		Positions: []models.Position{
			{Date: "2025-03-31", Symbol: "AAPL", Quantity: 10, MarketValue: fp(99500)},
		},
		Balances: []models.Balance{
			{Date: "2025-03-31", TotalValue: fp(100000), CashBalance: fp(500)},
		},
	})
	report, err := writer.Write(context.Background(), 1, "st-ok", doc, createAllMapping(1))
	require.NoError(t, err)

	qc, err := quality.Run(context.Background(), 1, "st-ok", doc, report, ExtractionRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.QualityStatusPassed, qc.Status)
	assert.True(t, qc.Result.Passed)
	assert.Empty(t, qc.FixAttempts)
	assert.Equal(t, 0, extractor.calls, "no model call when the check passes")

	saved, err := store.GetQualityCheck(context.Background(), "st-ok")
	require.NoError(t, err)
	assert.Equal(t, models.QualityStatusPassed, saved.Status)

	st, err := store.GetStatement(context.Background(), "st-ok")
	require.NoError(t, err)
	assert.Equal(t, models.StatementStatusProcessed, st.Status)
}

func TestQualityRunSelfHealsFailedWrite(t *testing.T) {
	store := newFakeStore()
	writer := NewWriterService(store, 1)
	extractor := &fakeExtractor{raw: correctedExtraction}
	quality := newQualityService(store, writer, extractor)

	doc, report := seedFailingStatement(t, store, writer, "st-fix")

	qc, err := quality.Run(context.Background(), 1, "st-fix", doc, report, ExtractionRequest{
		FileType: "text/plain", Filename: "statement.txt", Content: "original text",
	})
	require.NoError(t, err)

	assert.Equal(t, models.QualityStatusFixed, qc.Status)
	assert.True(t, qc.Result.Passed, "result reflects the corrected write")
	require.Len(t, qc.FixAttempts, 1)
	attempt := qc.FixAttempts[0]
	assert.Equal(t, "re_extraction", attempt.Phase)
	assert.Equal(t, models.QualityStatusFixed, attempt.Status)
	assert.NotEmpty(t, attempt.StartedAt)
	assert.NotEmpty(t, attempt.CompletedAt)
	assert.Empty(t, attempt.Error)

	assert.Equal(t, 1, extractor.calls)
	assert.NotEmpty(t, extractor.feedback, "re-extraction carries corrective feedback")

	// The check walks the full state machine on its way to fixed.
	assert.Equal(t, []string{
		models.QualityStatusRunning,
		models.QualityStatusFailed,
		models.QualityStatusFixing,
		models.QualityStatusFixed,
	}, store.qualityStatuses)

	// The corrected document replaced the original rows.
	acct, err := store.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 100000.0, acct.TotalValue)
	assert.Len(t, store.positions, 1)

	st, err := store.GetStatement(context.Background(), "st-fix")
	require.NoError(t, err)
	assert.Equal(t, models.StatementStatusProcessed, st.Status)
	assert.Equal(t, "Charles Schwab", st.Institution)
	assert.Equal(t, 1, st.PositionsWritten)
}

func TestQualityRunUnresolvedWhenReExtractionErrors(t *testing.T) {
	store := newFakeStore()
	writer := NewWriterService(store, 1)
	extractor := &fakeExtractor{err: errors.New("model unavailable")}
	quality := newQualityService(store, writer, extractor)

	doc, report := seedFailingStatement(t, store, writer, "st-bad")

	qc, err := quality.Run(context.Background(), 1, "st-bad", doc, report, ExtractionRequest{})
	require.NoError(t, err, "a failed fix parks the statement, it does not error the caller")

	assert.Equal(t, models.QualityStatusUnresolved, qc.Status)
	require.Len(t, qc.FixAttempts, 1)
	assert.Equal(t, models.QualityStatusUnresolved, qc.FixAttempts[0].Status)
	assert.Contains(t, qc.FixAttempts[0].Error, "model unavailable")

	// The failing rows the original write left behind are gone too.
	assert.Empty(t, store.positions)
	assert.Empty(t, store.holdings[1])
	acct, err := store.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, acct.TotalValue)

	st, err := store.GetStatement(context.Background(), "st-bad")
	require.NoError(t, err)
	assert.Equal(t, models.StatementStatusUnresolved, st.Status)
}

func TestQualityRunUnresolvedWhenFixStillFails(t *testing.T) {
	store := newFakeStore()
	writer := NewWriterService(store, 1)
	extractor := &fakeExtractor{raw: understatedExtraction}
	quality := newQualityService(store, writer, extractor)

	doc, report := seedFailingStatement(t, store, writer, "st-stuck")

	qc, err := quality.Run(context.Background(), 1, "st-stuck", doc, report, ExtractionRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.QualityStatusUnresolved, qc.Status)
	assert.False(t, qc.Result.Passed)
	require.Len(t, qc.FixAttempts, 1)
	assert.Equal(t, models.QualityStatusUnresolved, qc.FixAttempts[0].Status)
	assert.Empty(t, qc.FixAttempts[0].Error, "the re-extraction itself succeeded")
	assert.Equal(t, 1, extractor.calls, "exactly one fix attempt, never a loop")

	// An unresolved statement has no ledger footprint: the still-failing
	// rewrite is wiped, holdings are gone and the account value recomputed.
	assert.Empty(t, store.positions)
	assert.Empty(t, store.transactions)
	assert.Empty(t, store.balances)
	assert.Empty(t, store.holdings[1])
	acct, err := store.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, acct.TotalValue)

	// The statement describes the original document again, with zeroed counts.
	st, err := store.GetStatement(context.Background(), "st-stuck")
	require.NoError(t, err)
	assert.Equal(t, models.StatementStatusUnresolved, st.Status)
	assert.Equal(t, "Charles Schwab", st.Institution)
	assert.Equal(t, 0, st.PositionsWritten)
	assert.Equal(t, 0, st.TransactionsWritten)
}

func TestQualityRunUnresolvedWhenReExtractionIsUnparseable(t *testing.T) {
	store := newFakeStore()
	writer := NewWriterService(store, 1)
	extractor := &fakeExtractor{raw: "I could not read the statement, sorry."}
	quality := newQualityService(store, writer, extractor)

	doc, report := seedFailingStatement(t, store, writer, "st-junk")

	qc, err := quality.Run(context.Background(), 1, "st-junk", doc, report, ExtractionRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.QualityStatusUnresolved, qc.Status)
	require.Len(t, qc.FixAttempts, 1)
	assert.NotEmpty(t, qc.FixAttempts[0].Error)

	// Even when validation rejects the fix before any rewrite, the original
	// failing rows do not stay behind.
	assert.Empty(t, store.positions)
	assert.Empty(t, store.holdings[1])
}
