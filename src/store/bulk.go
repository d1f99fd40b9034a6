package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/username/ledgerlens/src/logger"
	"github.com/username/ledgerlens/src/models"
)

// SQLite caps bound parameters per statement, so bulk writes go in chunks.
const bulkChunkSize = 100

// bulkWrite runs one chunked multi-VALUES insert and counts, per account, the
// rows that actually landed. The statement must end in RETURNING account_id:
// under ON CONFLICT DO NOTHING a row comes back only when it was inserted.
func (s *Store) bulkWrite(ctx context.Context, n int, prefix, group, suffix string, render func(i int, args []any) []any) (map[int64]int, error) {
	written := make(map[int64]int)
	for start := 0; start < n; start += bulkChunkSize {
		end := start + bulkChunkSize
		if end > n {
			end = n
		}
		groups := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*8)
		for i := start; i < end; i++ {
			groups = append(groups, group)
			args = render(i, args)
		}
		rows, err := s.db.QueryContext(ctx, prefix+strings.Join(groups, ",")+suffix, args...)
		if err != nil {
			return written, err
		}
		for rows.Next() {
			var accountID int64
			if err := rows.Scan(&accountID); err != nil {
				rows.Close()
				return written, err
			}
			written[accountID]++
		}
		err = rows.Err()
		if closeErr := rows.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func countWritten(written map[int64]int) int {
	total := 0
	for _, n := range written {
		total += n
	}
	return total
}

// BulkUpsertPositionSnapshots writes position snapshots for any number of
// accounts in one statement-wide pass, silently skipping rows the ledger
// already holds for (account, date, symbol, asset type). The returned map
// counts the rows actually written per account.
func (s *Store) BulkUpsertPositionSnapshots(ctx context.Context, rows []models.PositionSnapshot) (map[int64]int, error) {
	if len(rows) == 0 {
		return map[int64]int{}, nil
	}
	written, err := s.bulkWrite(ctx, len(rows),
		`INSERT INTO position_snapshots (account_id, snapshot_date, symbol, asset_type, quantity,
			price, market_value, cost_basis, unrealized_pl, day_change, statement_id) VALUES `,
		"(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		` ON CONFLICT (account_id, snapshot_date, symbol, asset_type) DO NOTHING RETURNING account_id`,
		func(i int, args []any) []any {
			r := rows[i]
			return append(args, r.AccountID, r.SnapshotDate, r.Symbol, r.AssetType, r.Quantity,
				nullFloat(r.Price), nullFloat(r.MarketValue), nullFloat(r.CostBasis),
				nullFloat(r.UnrealizedPL), nullFloat(r.DayChange), r.StatementID)
		})
	if err != nil {
		return written, fmt.Errorf("error bulk-inserting position snapshots: %w", err)
	}
	if skipped := len(rows) - countWritten(written); skipped > 0 {
		logger.L.Debug("Skipped duplicate position snapshots", "skipped", skipped)
	}
	return written, nil
}

// BulkUpsertBalanceSnapshots writes balance snapshots, skipping duplicates on
// (account, date, type).
func (s *Store) BulkUpsertBalanceSnapshots(ctx context.Context, rows []models.BalanceSnapshot) (map[int64]int, error) {
	if len(rows) == 0 {
		return map[int64]int{}, nil
	}
	written, err := s.bulkWrite(ctx, len(rows),
		`INSERT INTO balance_snapshots (account_id, snapshot_date, snapshot_type, total_value,
			cash_balance, equity_value, buying_power, statement_id) VALUES `,
		"(?, ?, ?, ?, ?, ?, ?, ?)",
		` ON CONFLICT (account_id, snapshot_date, snapshot_type) DO NOTHING RETURNING account_id`,
		func(i int, args []any) []any {
			r := rows[i]
			return append(args, r.AccountID, r.SnapshotDate, r.SnapshotType, nullFloat(r.TotalValue),
				nullFloat(r.CashBalance), nullFloat(r.EquityValue), nullFloat(r.BuyingPower), r.StatementID)
		})
	if err != nil {
		return written, fmt.Errorf("error bulk-inserting balance snapshots: %w", err)
	}
	return written, nil
}

// BulkInsertTransactions writes transactions, skipping rows whose
// (account, external id) the ledger already holds. Re-uploading the same
// statement therefore writes nothing new.
func (s *Store) BulkInsertTransactions(ctx context.Context, rows []models.LedgerTransaction) (map[int64]int, error) {
	if len(rows) == 0 {
		return map[int64]int{}, nil
	}
	written, err := s.bulkWrite(ctx, len(rows),
		`INSERT INTO transactions (account_id, external_id, txn_date, settlement_date, symbol, cusip,
			asset_type, action, description, quantity, price, total_amount, fees, commission, statement_id) VALUES `,
		"(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		` ON CONFLICT (account_id, external_id) DO NOTHING RETURNING account_id`,
		func(i int, args []any) []any {
			r := rows[i]
			return append(args, r.AccountID, r.ExternalID, r.Date, nullString(r.SettlementDate),
				r.Symbol, r.CUSIP, r.AssetType, r.Action, r.Description,
				nullFloat(r.Quantity), nullFloat(r.Price), r.TotalAmount,
				nullFloat(r.Fees), nullFloat(r.Commission), r.StatementID)
		})
	if err != nil {
		return written, fmt.Errorf("error bulk-inserting transactions: %w", err)
	}
	if skipped := len(rows) - countWritten(written); skipped > 0 {
		logger.L.Debug("Skipped duplicate transactions", "skipped", skipped)
	}
	return written, nil
}
