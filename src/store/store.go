// Package store is the relational ledger store. It is handed its *sql.DB
// explicitly; nothing in it reaches for a global connection.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/username/ledgerlens/src/logger"
	"github.com/username/ledgerlens/src/models"
)

// Store persists accounts, holdings, snapshots, transactions and statement
// records in SQLite.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// --- Accounts ---

const accountColumns = `id, user_id, name, institution, account_type, account_number_masked,
	account_group, source, is_aggregate, total_value, cash_balance, stated_total_value,
	COALESCE(last_statement_date, '')`

func scanAccount(row interface{ Scan(...any) error }) (models.Account, error) {
	var acct models.Account
	var statedTotal sql.NullFloat64
	err := row.Scan(
		&acct.ID, &acct.UserID, &acct.Name, &acct.Institution, &acct.AccountType,
		&acct.AccountNumberMasked, &acct.Group, &acct.Source, &acct.IsAggregate,
		&acct.TotalValue, &acct.CashBalance, &statedTotal, &acct.LastStatementDate,
	)
	if err != nil {
		return acct, err
	}
	if statedTotal.Valid {
		acct.StatedTotalValue = &statedTotal.Float64
	}
	return acct, nil
}

// ListAccounts returns all of a user's accounts, aggregates included.
func (s *Store) ListAccounts(ctx context.Context, userID int64) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? ORDER BY id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying accounts for userID %d: %w", userID, err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning account row: %w", err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// GetAccount returns one account by id.
func (s *Store) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	acct, err := scanAccount(row)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (s *Store) insertAccount(ctx context.Context, acct models.Account) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, name, institution, account_type, account_number_masked,
			account_group, source, is_aggregate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		acct.UserID, acct.Name, acct.Institution, acct.AccountType, acct.AccountNumberMasked,
		acct.Group, acct.Source, acct.IsAggregate,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// lookupConflict finds the row that won a uniqueness race on
// (user_id, account_number_masked, source).
func (s *Store) lookupConflict(ctx context.Context, acct models.Account) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM accounts
		WHERE user_id = ? AND account_number_masked = ? AND source = ?`,
		acct.UserID, acct.AccountNumberMasked, acct.Source,
	).Scan(&id)
	return id, err
}

// CreateAccounts inserts the given accounts in one batch, falling back to
// per-row insert plus conflict lookup when the batch violates the uniqueness
// constraint. Two concurrent uploads describing the same account converge on
// a single row. The returned slice carries resolved IDs in input order.
func (s *Store) CreateAccounts(ctx context.Context, accounts []models.Account) ([]models.Account, error) {
	if len(accounts) == 0 {
		return nil, nil
	}

	query := `INSERT INTO accounts (user_id, name, institution, account_type, account_number_masked,
		account_group, source, is_aggregate) VALUES `
	vals := make([]any, 0, len(accounts)*8)
	for i, acct := range accounts {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?, ?)"
		vals = append(vals, acct.UserID, acct.Name, acct.Institution, acct.AccountType,
			acct.AccountNumberMasked, acct.Group, acct.Source, acct.IsAggregate)
	}

	res, err := s.db.ExecContext(ctx, query, vals...)
	if err == nil {
		// SQLite's LastInsertId after a multi-row insert is the final row;
		// the batch is contiguous because we hold the single connection.
		lastID, idErr := res.LastInsertId()
		if idErr != nil {
			return nil, idErr
		}
		firstID := lastID - int64(len(accounts)) + 1
		out := make([]models.Account, len(accounts))
		for i, acct := range accounts {
			acct.ID = firstID + int64(i)
			out[i] = acct
		}
		return out, nil
	}

	if !isUniqueConstraintErr(err) {
		return nil, fmt.Errorf("error batch-inserting accounts: %w", err)
	}

	logger.L.Debug("Account batch insert hit a uniqueness conflict, falling back to per-row insert")
	out := make([]models.Account, len(accounts))
	for i, acct := range accounts {
		id, insErr := s.insertAccount(ctx, acct)
		if isUniqueConstraintErr(insErr) {
			id, insErr = s.lookupConflict(ctx, acct)
		}
		if insErr != nil {
			return nil, fmt.Errorf("error inserting account %q: %w", acct.AccountNumberMasked, insErr)
		}
		acct.ID = id
		out[i] = acct
	}
	return out, nil
}

// UpdateAccountSummary recomputes nothing itself: the writer supplies the
// values derived from current holdings and the latest balance.
func (s *Store) UpdateAccountSummary(ctx context.Context, accountID int64, totalValue, cashBalance float64, statedTotal *float64, lastStatementDate string) error {
	var stated sql.NullFloat64
	if statedTotal != nil {
		stated = sql.NullFloat64{Float64: *statedTotal, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET total_value = ?, cash_balance = ?, stated_total_value = ?,
			last_statement_date = CASE WHEN ? != '' THEN ? ELSE last_statement_date END,
			updated_at = datetime('now')
		WHERE id = ?`,
		totalValue, cashBalance, stated, lastStatementDate, lastStatementDate, accountID,
	)
	if err != nil {
		return fmt.Errorf("error updating summary for account %d: %w", accountID, err)
	}
	return nil
}

// --- Holdings ---

// GetHoldings returns the current holdings for one account, closed rows
// included.
func (s *Store) GetHoldings(ctx context.Context, accountID int64) ([]models.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, symbol, quantity, market_value, cost_basis, last_price, COALESCE(statement_id, '')
		FROM holdings WHERE account_id = ? ORDER BY symbol ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("error querying holdings for account %d: %w", accountID, err)
	}
	defer rows.Close()

	var holdings []models.Holding
	for rows.Next() {
		var h models.Holding
		var costBasis, lastPrice sql.NullFloat64
		if err := rows.Scan(&h.ID, &h.AccountID, &h.Symbol, &h.Quantity, &h.MarketValue, &costBasis, &lastPrice, &h.StatementID); err != nil {
			return nil, fmt.Errorf("error scanning holding row: %w", err)
		}
		if costBasis.Valid {
			h.CostBasis = &costBasis.Float64
		}
		if lastPrice.Valid {
			h.LastPrice = &lastPrice.Float64
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// UpsertHolding opens or updates the (account, symbol) row.
func (s *Store) UpsertHolding(ctx context.Context, h models.Holding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holdings (account_id, symbol, quantity, market_value, cost_basis, last_price, statement_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (account_id, symbol) DO UPDATE SET
			quantity = excluded.quantity,
			market_value = excluded.market_value,
			cost_basis = excluded.cost_basis,
			last_price = excluded.last_price,
			statement_id = excluded.statement_id,
			updated_at = datetime('now')`,
		h.AccountID, h.Symbol, h.Quantity, h.MarketValue, nullFloat(h.CostBasis), nullFloat(h.LastPrice), h.StatementID,
	)
	if err != nil {
		return fmt.Errorf("error upserting holding %s for account %d: %w", h.Symbol, h.AccountID, err)
	}
	return nil
}

// CloseHolding zeroes out a holding no longer present on the latest
// statement. Rows are never deleted; history stays queryable.
func (s *Store) CloseHolding(ctx context.Context, holdingID int64, statementID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE holdings
		SET quantity = 0, market_value = 0, statement_id = ?, updated_at = datetime('now')
		WHERE id = ?`, statementID, holdingID)
	if err != nil {
		return fmt.Errorf("error closing holding %d: %w", holdingID, err)
	}
	return nil
}

// --- Statements ---

// CreateStatement records a new upload.
func (s *Store) CreateStatement(ctx context.Context, st *models.Statement) error {
	accountIDs, _ := json.Marshal(st.AccountIDs)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO statements (id, user_id, filename, file_type, file_size, institution, document_type,
			period_start, period_end, status, account_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.UserID, st.Filename, st.FileType, st.FileSize, st.Institution, st.DocumentType,
		nullString(st.PeriodStart), nullString(st.PeriodEnd), st.Status, string(accountIDs),
	)
	if err != nil {
		return fmt.Errorf("error inserting statement %s: %w", st.ID, err)
	}
	return nil
}

// UpdateStatement writes status, linkage and counts back onto the record.
func (s *Store) UpdateStatement(ctx context.Context, st *models.Statement) error {
	accountIDs, _ := json.Marshal(st.AccountIDs)
	_, err := s.db.ExecContext(ctx, `
		UPDATE statements
		SET institution = ?, document_type = ?, period_start = ?, period_end = ?,
			status = ?, account_ids = ?, accounts_matched = ?, accounts_created = ?,
			transactions_written = ?, positions_written = ?, balances_written = ?,
			updated_at = datetime('now')
		WHERE id = ?`,
		st.Institution, st.DocumentType, nullString(st.PeriodStart), nullString(st.PeriodEnd),
		st.Status, string(accountIDs), st.AccountsMatched, st.AccountsCreated,
		st.TransactionsWritten, st.PositionsWritten, st.BalancesWritten, st.ID,
	)
	if err != nil {
		return fmt.Errorf("error updating statement %s: %w", st.ID, err)
	}
	return nil
}

// GetStatement returns one statement record.
func (s *Store) GetStatement(ctx context.Context, id string) (*models.Statement, error) {
	var st models.Statement
	var accountIDs string
	var periodStart, periodEnd sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, filename, file_type, file_size, institution, document_type,
			period_start, period_end, status, account_ids, accounts_matched, accounts_created,
			transactions_written, positions_written, balances_written, created_at
		FROM statements WHERE id = ?`, id).Scan(
		&st.ID, &st.UserID, &st.Filename, &st.FileType, &st.FileSize, &st.Institution, &st.DocumentType,
		&periodStart, &periodEnd, &st.Status, &accountIDs, &st.AccountsMatched, &st.AccountsCreated,
		&st.TransactionsWritten, &st.PositionsWritten, &st.BalancesWritten, &st.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.PeriodStart = periodStart.String
	st.PeriodEnd = periodEnd.String
	if err := json.Unmarshal([]byte(accountIDs), &st.AccountIDs); err != nil {
		st.AccountIDs = nil
	}
	return &st, nil
}

// --- Quality checks ---

// SaveQualityCheck inserts or updates the orchestrator outcome for a
// statement.
func (s *Store) SaveQualityCheck(ctx context.Context, qc *models.QualityCheck) error {
	resultJSON, _ := json.Marshal(qc.Result)
	attemptsJSON, _ := json.Marshal(qc.FixAttempts)

	if qc.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO quality_checks (statement_id, status, result_json, fix_attempts_json)
			VALUES (?, ?, ?, ?)`,
			qc.StatementID, qc.Status, string(resultJSON), string(attemptsJSON),
		)
		if err != nil {
			return fmt.Errorf("error inserting quality check for statement %s: %w", qc.StatementID, err)
		}
		qc.ID, _ = res.LastInsertId()
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE quality_checks
		SET status = ?, result_json = ?, fix_attempts_json = ?, updated_at = datetime('now')
		WHERE id = ?`,
		qc.Status, string(resultJSON), string(attemptsJSON), qc.ID,
	)
	if err != nil {
		return fmt.Errorf("error updating quality check %d: %w", qc.ID, err)
	}
	return nil
}

// GetQualityCheck returns the latest quality check for a statement.
func (s *Store) GetQualityCheck(ctx context.Context, statementID string) (*models.QualityCheck, error) {
	var qc models.QualityCheck
	var resultJSON, attemptsJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, statement_id, status, result_json, fix_attempts_json
		FROM quality_checks WHERE statement_id = ?
		ORDER BY id DESC LIMIT 1`, statementID).Scan(
		&qc.ID, &qc.StatementID, &qc.Status, &resultJSON, &attemptsJSON,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(resultJSON), &qc.Result); err != nil {
		qc.Result = models.HardCheckResult{}
	}
	if err := json.Unmarshal([]byte(attemptsJSON), &qc.FixAttempts); err != nil {
		qc.FixAttempts = nil
	}
	return &qc, nil
}

// --- Statement-scoped cleanup and actuals ---

// ClearStatementData removes every row the given statement wrote: its
// transactions and snapshots, and the holdings it created or last touched.
// Used by the fix cycle so a failed re-extraction cannot leave mixed
// old/new rows.
func (s *Store) ClearStatementData(ctx context.Context, statementID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning clear transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM transactions WHERE statement_id = ?`,
		`DELETE FROM position_snapshots WHERE statement_id = ?`,
		`DELETE FROM balance_snapshots WHERE statement_id = ?`,
		`DELETE FROM holdings WHERE statement_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, statementID); err != nil {
			return fmt.Errorf("error clearing statement %s data: %w", statementID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing statement clear: %w", err)
	}
	logger.L.Info("Cleared ledger rows for statement", "statementID", statementID)
	return nil
}

// StatementActuals gathers what is actually present in the ledger for one
// statement after writing, for the hard-check comparison. Aggregate accounts
// echo the real accounts' stated balances, so their summaries are excluded
// from the total unless they are all the statement touched.
func (s *Store) StatementActuals(ctx context.Context, statementID string, accountIDs []int64) (total float64, positions, transactions int, err error) {
	if err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM position_snapshots WHERE statement_id = ?`, statementID).Scan(&positions); err != nil {
		return 0, 0, 0, fmt.Errorf("error counting position snapshots: %w", err)
	}
	if err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE statement_id = ?`, statementID).Scan(&transactions); err != nil {
		return 0, 0, 0, fmt.Errorf("error counting transactions: %w", err)
	}
	if len(accountIDs) == 0 {
		return 0, positions, transactions, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(accountIDs)), ",")
	args := make([]any, len(accountIDs))
	for i, id := range accountIDs {
		args[i] = id
	}

	query := `SELECT COALESCE(SUM(total_value), 0), COUNT(*) FROM accounts
		WHERE id IN (` + placeholders + `) AND is_aggregate = 0`
	var nonAggregate int
	if err = s.db.QueryRowContext(ctx, query, args...).Scan(&total, &nonAggregate); err != nil {
		return 0, 0, 0, fmt.Errorf("error summing account values: %w", err)
	}
	if nonAggregate == 0 {
		query = `SELECT COALESCE(SUM(total_value), 0) FROM accounts WHERE id IN (` + placeholders + `)`
		if err = s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
			return 0, 0, 0, fmt.Errorf("error summing aggregate account values: %w", err)
		}
	}
	return total, positions, transactions, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
