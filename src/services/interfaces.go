package services

import (
	"context"
	"errors"

	"github.com/username/ledgerlens/src/models"
)

var (
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrDocumentInvalid   = errors.New("document failed validation")
	ErrStatementNotFound = errors.New("statement not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrNoQualityCheck    = errors.New("no quality check for statement")
)

// ExtractionRequest carries the raw statement text to the model, plus
// corrective feedback when a failed quality check triggers a re-extraction.
type ExtractionRequest struct {
	FileType string
	Filename string
	Content  string
	Feedback string
}

// Extractor produces the structured-document text for a statement.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (string, error)
}

// LedgerStore is the persistence surface the services write through. The
// sqlite store implements it; tests substitute fakes.
type LedgerStore interface {
	ListAccounts(ctx context.Context, userID int64) ([]models.Account, error)
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	CreateAccounts(ctx context.Context, accounts []models.Account) ([]models.Account, error)
	UpdateAccountSummary(ctx context.Context, accountID int64, totalValue, cashBalance float64, statedTotal *float64, lastStatementDate string) error

	GetHoldings(ctx context.Context, accountID int64) ([]models.Holding, error)
	UpsertHolding(ctx context.Context, h models.Holding) error
	CloseHolding(ctx context.Context, holdingID int64, statementID string) error

	BulkUpsertPositionSnapshots(ctx context.Context, rows []models.PositionSnapshot) (map[int64]int, error)
	BulkUpsertBalanceSnapshots(ctx context.Context, rows []models.BalanceSnapshot) (map[int64]int, error)
	BulkInsertTransactions(ctx context.Context, rows []models.LedgerTransaction) (map[int64]int, error)

	CreateStatement(ctx context.Context, st *models.Statement) error
	UpdateStatement(ctx context.Context, st *models.Statement) error
	GetStatement(ctx context.Context, id string) (*models.Statement, error)

	SaveQualityCheck(ctx context.Context, qc *models.QualityCheck) error
	GetQualityCheck(ctx context.Context, statementID string) (*models.QualityCheck, error)

	ClearStatementData(ctx context.Context, statementID string) error
	StatementActuals(ctx context.Context, statementID string, accountIDs []int64) (total float64, positions, transactions int, err error)
}
