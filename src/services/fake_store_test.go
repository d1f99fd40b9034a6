package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/username/ledgerlens/src/models"
)

// fakeStore is an in-memory LedgerStore with the same conflict semantics as
// the sqlite store: unique accounts on (user, masked number, source), skip on
// duplicate snapshot and transaction keys.
type fakeStore struct {
	mu sync.Mutex

	nextAccountID int64
	nextHoldingID int64

	accounts     map[int64]models.Account
	holdings     map[int64]map[string]models.Holding
	positions    map[string]models.PositionSnapshot
	balances     map[string]models.BalanceSnapshot
	transactions map[string]models.LedgerTransaction
	statements   map[string]models.Statement
	quality      map[string]models.QualityCheck

	failHoldingsFor int64 // account id whose holdings reads fail, 0 = none

	// bulk call counters, one increment per method invocation
	positionCalls    int
	balanceCalls     int
	transactionCalls int

	qualityStatuses []string // every status SaveQualityCheck persisted, in order
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:     make(map[int64]models.Account),
		holdings:     make(map[int64]map[string]models.Holding),
		positions:    make(map[string]models.PositionSnapshot),
		balances:     make(map[string]models.BalanceSnapshot),
		transactions: make(map[string]models.LedgerTransaction),
		statements:   make(map[string]models.Statement),
		quality:      make(map[string]models.QualityCheck),
	}
}

func (s *fakeStore) seedAccount(acct models.Account) models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAccountID++
	acct.ID = s.nextAccountID
	s.accounts[acct.ID] = acct
	return acct
}

func (s *fakeStore) ListAccounts(_ context.Context, userID int64) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Account
	for id := int64(1); id <= s.nextAccountID; id++ {
		if acct, ok := s.accounts[id]; ok && acct.UserID == userID {
			out = append(out, acct)
		}
	}
	return out, nil
}

func (s *fakeStore) GetAccount(_ context.Context, id int64) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &acct, nil
}

func (s *fakeStore) CreateAccounts(_ context.Context, accounts []models.Account) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Account, len(accounts))
	for i, acct := range accounts {
		conflictID := int64(0)
		for id, existing := range s.accounts {
			if existing.UserID == acct.UserID && existing.AccountNumberMasked == acct.AccountNumberMasked && existing.Source == acct.Source {
				conflictID = id
				break
			}
		}
		if conflictID != 0 {
			acct.ID = conflictID
		} else {
			s.nextAccountID++
			acct.ID = s.nextAccountID
			s.accounts[acct.ID] = acct
		}
		out[i] = acct
	}
	return out, nil
}

func (s *fakeStore) UpdateAccountSummary(_ context.Context, accountID int64, totalValue, cashBalance float64, statedTotal *float64, lastStatementDate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return sql.ErrNoRows
	}
	acct.TotalValue = totalValue
	acct.CashBalance = cashBalance
	acct.StatedTotalValue = statedTotal
	if lastStatementDate != "" {
		acct.LastStatementDate = lastStatementDate
	}
	s.accounts[accountID] = acct
	return nil
}

func (s *fakeStore) GetHoldings(_ context.Context, accountID int64) ([]models.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failHoldingsFor != 0 && s.failHoldingsFor == accountID {
		return nil, fmt.Errorf("simulated holdings read failure")
	}
	var out []models.Holding
	for _, h := range s.holdings[accountID] {
		out = append(out, h)
	}
	return out, nil
}

func (s *fakeStore) UpsertHolding(_ context.Context, h models.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holdings[h.AccountID] == nil {
		s.holdings[h.AccountID] = make(map[string]models.Holding)
	}
	if prior, ok := s.holdings[h.AccountID][h.Symbol]; ok {
		h.ID = prior.ID
	} else {
		s.nextHoldingID++
		h.ID = s.nextHoldingID
	}
	s.holdings[h.AccountID][h.Symbol] = h
	return nil
}

func (s *fakeStore) CloseHolding(_ context.Context, holdingID int64, statementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for accountID, bySymbol := range s.holdings {
		for symbol, h := range bySymbol {
			if h.ID == holdingID {
				h.Quantity = 0
				h.MarketValue = 0
				h.StatementID = statementID
				s.holdings[accountID][symbol] = h
				return nil
			}
		}
	}
	return sql.ErrNoRows
}

func (s *fakeStore) BulkUpsertPositionSnapshots(_ context.Context, rows []models.PositionSnapshot) (map[int64]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positionCalls++
	written := make(map[int64]int)
	for _, r := range rows {
		key := fmt.Sprintf("%d|%s|%s|%s", r.AccountID, r.SnapshotDate, r.Symbol, r.AssetType)
		if _, exists := s.positions[key]; exists {
			continue
		}
		s.positions[key] = r
		written[r.AccountID]++
	}
	return written, nil
}

func (s *fakeStore) BulkUpsertBalanceSnapshots(_ context.Context, rows []models.BalanceSnapshot) (map[int64]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balanceCalls++
	written := make(map[int64]int)
	for _, r := range rows {
		key := fmt.Sprintf("%d|%s|%s", r.AccountID, r.SnapshotDate, r.SnapshotType)
		if _, exists := s.balances[key]; exists {
			continue
		}
		s.balances[key] = r
		written[r.AccountID]++
	}
	return written, nil
}

func (s *fakeStore) BulkInsertTransactions(_ context.Context, rows []models.LedgerTransaction) (map[int64]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactionCalls++
	written := make(map[int64]int)
	for _, r := range rows {
		key := fmt.Sprintf("%d|%s", r.AccountID, r.ExternalID)
		if _, exists := s.transactions[key]; exists {
			continue
		}
		s.transactions[key] = r
		written[r.AccountID]++
	}
	return written, nil
}

func (s *fakeStore) CreateStatement(_ context.Context, st *models.Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements[st.ID] = *st
	return nil
}

func (s *fakeStore) UpdateStatement(_ context.Context, st *models.Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.statements[st.ID]; !ok {
		return sql.ErrNoRows
	}
	s.statements[st.ID] = *st
	return nil
}

func (s *fakeStore) GetStatement(_ context.Context, id string) (*models.Statement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statements[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &st, nil
}

func (s *fakeStore) SaveQualityCheck(_ context.Context, qc *models.QualityCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if qc.ID == 0 {
		qc.ID = int64(len(s.quality) + 1)
	}
	s.quality[qc.StatementID] = *qc
	s.qualityStatuses = append(s.qualityStatuses, qc.Status)
	return nil
}

func (s *fakeStore) GetQualityCheck(_ context.Context, statementID string) (*models.QualityCheck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qc, ok := s.quality[statementID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &qc, nil
}

func (s *fakeStore) ClearStatementData(_ context.Context, statementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, r := range s.positions {
		if r.StatementID == statementID {
			delete(s.positions, key)
		}
	}
	for key, r := range s.balances {
		if r.StatementID == statementID {
			delete(s.balances, key)
		}
	}
	for key, r := range s.transactions {
		if r.StatementID == statementID {
			delete(s.transactions, key)
		}
	}
	for accountID, bySymbol := range s.holdings {
		for symbol, h := range bySymbol {
			if h.StatementID == statementID {
				delete(s.holdings[accountID], symbol)
			}
		}
	}
	return nil
}

func (s *fakeStore) StatementActuals(_ context.Context, statementID string, accountIDs []int64) (float64, int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	positions, transactions := 0, 0
	for _, r := range s.positions {
		if r.StatementID == statementID {
			positions++
		}
	}
	for _, r := range s.transactions {
		if r.StatementID == statementID {
			transactions++
		}
	}
	var total float64
	nonAggregate := 0
	for _, id := range accountIDs {
		if acct, ok := s.accounts[id]; ok && !acct.IsAggregate {
			total += acct.TotalValue
			nonAggregate++
		}
	}
	if nonAggregate == 0 {
		for _, id := range accountIDs {
			if acct, ok := s.accounts[id]; ok {
				total += acct.TotalValue
			}
		}
	}
	return total, positions, transactions, nil
}

var _ LedgerStore = (*fakeStore)(nil)
