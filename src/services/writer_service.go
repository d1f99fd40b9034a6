package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/username/ledgerlens/src/logger"
	"github.com/username/ledgerlens/src/models"
	"github.com/username/ledgerlens/src/utils"
)

// WriterService reconciles a validated document into the ledger. Writes are
// idempotent: deterministic row identities plus conflict-skipping inserts
// mean re-writing the same statement changes nothing.
type WriterService struct {
	store       LedgerStore
	concurrency int
}

func NewWriterService(store LedgerStore, concurrency int) *WriterService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &WriterService{store: store, concurrency: concurrency}
}

// Write runs the reconciliation for one statement. Snapshot and transaction
// rows for every account travel in a single bulk insert per table; a failure
// on one account's holdings or summary does not abort the others.
func (s *WriterService) Write(ctx context.Context, userID int64, statementID string, doc *models.Document, mapping models.AccountMapping) (*models.WriteReport, error) {
	report := &models.WriteReport{StatementID: statementID}

	resolved, err := s.resolveAccounts(ctx, userID, doc, mapping, report)
	if err != nil {
		return nil, fmt.Errorf("error resolving accounts for statement %s: %w", statementID, err)
	}

	results := make([]models.AccountWriteResult, len(doc.Accounts))
	var works []accountWork
	var posRows []models.PositionSnapshot
	var balRows []models.BalanceSnapshot
	var txnRows []models.LedgerTransaction

	for i, entry := range doc.Accounts {
		res := resolved[i]
		if res.failed != nil {
			results[i] = models.AccountWriteResult{EntryIndex: i, Error: res.failed.Error()}
			continue
		}
		w := accountWork{
			entryIndex: i,
			account:    res.account,
			created:    res.created,
			entry:      entry,
			positions:  dedupPositions(entry.Positions),
		}
		posRows = append(posRows, positionRows(w.account.ID, statementID, w.positions)...)
		balRows = append(balRows, balanceRows(w.account.ID, statementID, dedupBalances(entry.Balances))...)
		txnRows = append(txnRows, transactionRows(w.account.ID, statementID, dedupTransactions(entry.Transactions))...)
		works = append(works, w)
	}

	var aggFailed *models.AccountWriteResult
	if len(doc.UnallocatedPositions) > 0 {
		agg, created, err := s.resolveAggregate(ctx, userID, doc, mapping)
		if err != nil {
			aggFailed = &models.AccountWriteResult{EntryIndex: -1, Error: err.Error()}
		} else {
			w := accountWork{
				entryIndex: -1,
				account:    *agg,
				created:    created,
				positions:  dedupPositions(doc.UnallocatedPositions),
				aggregate:  true,
				aggStated:  aggregateStated(doc),
			}
			posRows = append(posRows, positionRows(w.account.ID, statementID, w.positions)...)
			if w.aggStated != nil {
				// The aggregate has no extracted balances; synthesize one
				// snapshot carrying the stated sum.
				balRows = append(balRows, models.BalanceSnapshot{
					AccountID:    w.account.ID,
					SnapshotDate: latestDate(w.positions),
					SnapshotType: "aggregate",
					TotalValue:   w.aggStated,
					StatementID:  statementID,
				})
			}
			works = append(works, w)
		}
	}

	// One bulk insert per table for the whole statement.
	posWritten, err := s.store.BulkUpsertPositionSnapshots(ctx, posRows)
	if err != nil {
		return nil, fmt.Errorf("error writing position snapshots for statement %s: %w", statementID, err)
	}
	balWritten, err := s.store.BulkUpsertBalanceSnapshots(ctx, balRows)
	if err != nil {
		return nil, fmt.Errorf("error writing balance snapshots for statement %s: %w", statementID, err)
	}
	txnWritten, err := s.store.BulkInsertTransactions(ctx, txnRows)
	if err != nil {
		return nil, fmt.Errorf("error writing transactions for statement %s: %w", statementID, err)
	}
	for j := range works {
		id := works[j].account.ID
		works[j].posWritten = takeCount(posWritten, id)
		works[j].balWritten = takeCount(balWritten, id)
		works[j].txnWritten = takeCount(txnWritten, id)
	}

	// Holdings reconciliation and summary recomputes run per account.
	workResults := make([]models.AccountWriteResult, len(works))
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.concurrency)
	for j := range works {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			workResults[idx] = s.finishAccount(ctx, statementID, works[idx])
		}(j)
	}
	wg.Wait()

	for j, w := range works {
		if w.entryIndex >= 0 {
			results[w.entryIndex] = workResults[j]
		}
	}
	report.Accounts = results
	for j, w := range works {
		if w.entryIndex < 0 {
			report.Accounts = append(report.Accounts, workResults[j])
		}
	}
	if aggFailed != nil {
		report.Accounts = append(report.Accounts, *aggFailed)
	}

	for _, r := range report.Accounts {
		if r.Error != "" {
			report.AccountsFailed++
			continue
		}
		if r.Created {
			report.AccountsCreated++
		} else {
			report.AccountsMatched++
		}
		report.HoldingsCreated += r.HoldingsCreated
		report.HoldingsUpdated += r.HoldingsUpdated
		report.HoldingsClosed += r.HoldingsClosed
		report.PositionsWritten += r.PositionsWritten
		report.BalancesWritten += r.BalancesWritten
		report.TransactionsWritten += r.TransactionsWritten
	}

	logger.L.Info("Statement written to ledger",
		"statementID", statementID,
		"accountsMatched", report.AccountsMatched,
		"accountsCreated", report.AccountsCreated,
		"accountsFailed", report.AccountsFailed,
		"positions", report.PositionsWritten,
		"transactions", report.TransactionsWritten,
	)
	return report, nil
}

// resolvedAccount carries the ledger row an entry writes under.
type resolvedAccount struct {
	account models.Account
	created bool
	failed  error
}

// resolveAccounts turns mapping decisions into concrete account rows,
// batch-creating the ones the matcher could not place.
func (s *WriterService) resolveAccounts(ctx context.Context, userID int64, doc *models.Document, mapping models.AccountMapping, report *models.WriteReport) ([]resolvedAccount, error) {
	resolved := make([]resolvedAccount, len(doc.Accounts))

	var toCreate []models.Account
	var createIdx []int
	for i, entry := range doc.Accounts {
		decision := mapping.Decision(i)
		if decision.Action == models.MatchExisting {
			acct, err := s.store.GetAccount(ctx, decision.AccountID)
			if err != nil {
				resolved[i] = resolvedAccount{failed: fmt.Errorf("matched account %d not found: %w", decision.AccountID, err)}
				continue
			}
			resolved[i] = resolvedAccount{account: *acct}
			continue
		}
		toCreate = append(toCreate, newAccountFromEntry(userID, doc, entry))
		createIdx = append(createIdx, i)
	}

	if len(toCreate) > 0 {
		created, err := s.store.CreateAccounts(ctx, toCreate)
		if err != nil {
			return nil, err
		}
		for j, acct := range created {
			resolved[createIdx[j]] = resolvedAccount{account: acct, created: true}
		}
	}
	return resolved, nil
}

func newAccountFromEntry(userID int64, doc *models.Document, entry models.AccountEntry) models.Account {
	institution := entry.Institution
	if institution == "" {
		institution = doc.Institution
	}
	name := entry.Nickname
	if name == "" {
		name = fmt.Sprintf("%s %s", institution, entry.AccountType)
	}
	masked := maskAccountNumber(entry.AccountNumber)
	if masked == "" {
		// No number at all: give the uniqueness key something stable.
		masked = utils.HashID(institution, string(entry.AccountType), name)[:12]
	}
	return models.Account{
		UserID:              userID,
		Name:                name,
		Institution:         institution,
		AccountType:         entry.AccountType,
		AccountNumberMasked: masked,
		Group:               entry.Group,
		Source:              "statement",
	}
}

// maskAccountNumber keeps only the last four digits.
func maskAccountNumber(number string) string {
	var digits []rune
	for _, r := range number {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) == 0 {
		return ""
	}
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	return "..." + string(digits)
}

// accountWork is one account's share of a statement write: the rows it
// contributed to the bulk phase plus what the later phases still need.
type accountWork struct {
	entryIndex int
	account    models.Account
	created    bool
	entry      models.AccountEntry
	positions  []models.Position
	aggregate  bool
	aggStated  *float64
	posWritten int
	balWritten int
	txnWritten int
}

// takeCount consumes an account's slot so entries that converged onto the
// same ledger row cannot report the same written rows twice.
func takeCount(written map[int64]int, accountID int64) int {
	n := written[accountID]
	delete(written, accountID)
	return n
}

// finishAccount runs the phases that follow the bulk inserts: holdings
// reconciliation and the summary recompute.
func (s *WriterService) finishAccount(ctx context.Context, statementID string, w accountWork) models.AccountWriteResult {
	result := models.AccountWriteResult{
		EntryIndex:          w.entryIndex,
		AccountID:           w.account.ID,
		Created:             w.created,
		PositionsWritten:    w.posWritten,
		BalancesWritten:     w.balWritten,
		TransactionsWritten: w.txnWritten,
	}

	holdingsValue, err := s.reconcileHoldings(ctx, w.account.ID, statementID, w.positions, &result)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	if w.aggregate {
		err = s.updateAggregateSummary(ctx, w, holdingsValue)
	} else {
		err = s.updateSummary(ctx, w.account.ID, statementID, w.entry, w.positions, holdingsValue)
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// dedupPositions merges duplicate (date, symbol) lines. Quantities and
// monetary figures sum; price keeps the last stated value. Extractions often
// repeat a lot-level position as several lines of the same instrument.
func dedupPositions(positions []models.Position) []models.Position {
	type key struct{ date, symbol string }
	index := make(map[key]int)
	var out []models.Position
	for _, p := range positions {
		k := key{p.Date, p.Symbol}
		at, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, p)
			continue
		}
		merged := out[at]
		merged.Quantity += p.Quantity
		merged.MarketValue = sumOptional(merged.MarketValue, p.MarketValue)
		merged.CostBasis = sumOptional(merged.CostBasis, p.CostBasis)
		merged.UnrealizedPL = sumOptional(merged.UnrealizedPL, p.UnrealizedPL)
		merged.DayChange = sumOptional(merged.DayChange, p.DayChange)
		if p.Price != nil {
			merged.Price = p.Price
		}
		if merged.AssetType == "" {
			merged.AssetType = p.AssetType
		}
		out[at] = merged
	}
	return out
}

// dedupBalances merges duplicate dates by null-coalescing: the first stated
// value for each field wins.
func dedupBalances(balances []models.Balance) []models.Balance {
	index := make(map[string]int)
	var out []models.Balance
	for _, b := range balances {
		at, ok := index[b.Date]
		if !ok {
			index[b.Date] = len(out)
			out = append(out, b)
			continue
		}
		merged := out[at]
		merged.TotalValue = coalesce(merged.TotalValue, b.TotalValue)
		merged.CashBalance = coalesce(merged.CashBalance, b.CashBalance)
		merged.EquityValue = coalesce(merged.EquityValue, b.EquityValue)
		merged.BuyingPower = coalesce(merged.BuyingPower, b.BuyingPower)
		out[at] = merged
	}
	return out
}

// dedupTransactions drops exact repeats of (date, symbol, action, quantity,
// price, amount), keeping the first and backfilling fees or commission a
// later duplicate states.
func dedupTransactions(transactions []models.Transaction) []models.Transaction {
	type key struct {
		date, symbol    string
		action          models.TxnAction
		quantity, price string
		amount          float64
	}
	index := make(map[key]int)
	var out []models.Transaction
	for _, t := range transactions {
		k := key{t.Date, t.Symbol, t.Action, optKey(t.Quantity), optKey(t.Price), t.TotalAmount}
		at, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, t)
			continue
		}
		merged := out[at]
		merged.Fees = coalesce(merged.Fees, t.Fees)
		merged.Commission = coalesce(merged.Commission, t.Commission)
		out[at] = merged
	}
	return out
}

func positionRows(accountID int64, statementID string, positions []models.Position) []models.PositionSnapshot {
	rows := make([]models.PositionSnapshot, 0, len(positions))
	for _, p := range positions {
		rows = append(rows, models.PositionSnapshot{
			AccountID:    accountID,
			SnapshotDate: p.Date,
			Symbol:       p.Symbol,
			AssetType:    p.AssetType,
			Quantity:     p.Quantity,
			Price:        p.Price,
			MarketValue:  p.MarketValue,
			CostBasis:    p.CostBasis,
			UnrealizedPL: p.UnrealizedPL,
			DayChange:    p.DayChange,
			StatementID:  statementID,
		})
	}
	return rows
}

func balanceRows(accountID int64, statementID string, balances []models.Balance) []models.BalanceSnapshot {
	rows := make([]models.BalanceSnapshot, 0, len(balances))
	for _, b := range balances {
		rows = append(rows, models.BalanceSnapshot{
			AccountID:    accountID,
			SnapshotDate: b.Date,
			SnapshotType: "statement",
			TotalValue:   b.TotalValue,
			CashBalance:  b.CashBalance,
			EquityValue:  b.EquityValue,
			BuyingPower:  b.BuyingPower,
			StatementID:  statementID,
		})
	}
	return rows
}

// transactionRows assigns each deduplicated transaction its deterministic
// external id from (statement, account, line index).
func transactionRows(accountID int64, statementID string, transactions []models.Transaction) []models.LedgerTransaction {
	rows := make([]models.LedgerTransaction, 0, len(transactions))
	for i, t := range transactions {
		rows = append(rows, models.LedgerTransaction{
			AccountID:      accountID,
			ExternalID:     utils.HashID(statementID, strconv.FormatInt(accountID, 10), strconv.Itoa(i)),
			Date:           t.Date,
			SettlementDate: t.SettlementDate,
			Symbol:         t.Symbol,
			CUSIP:          t.CUSIP,
			AssetType:      t.AssetType,
			Action:         t.Action,
			Description:    t.Description,
			Quantity:       t.Quantity,
			Price:          t.Price,
			TotalAmount:    t.TotalAmount,
			Fees:           t.Fees,
			Commission:     t.Commission,
			StatementID:    statementID,
		})
	}
	return rows
}

// reconcileHoldings brings the current-state table in line with the latest
// positions: open what is new, update what changed, zero out what the
// statement no longer lists. A document with no positions leaves holdings
// untouched; a transactions-only statement is not evidence of liquidation.
func (s *WriterService) reconcileHoldings(ctx context.Context, accountID int64, statementID string, positions []models.Position, result *models.AccountWriteResult) (float64, error) {
	existing, err := s.store.GetHoldings(ctx, accountID)
	if err != nil {
		return 0, err
	}
	existingBySymbol := make(map[string]models.Holding, len(existing))
	for _, h := range existing {
		existingBySymbol[h.Symbol] = h
	}

	if len(positions) == 0 {
		var total float64
		for _, h := range existing {
			total += h.MarketValue
		}
		return total, nil
	}

	// Only the latest snapshot date determines current state.
	latest := latestPositions(positions)

	var total float64
	for _, p := range latest {
		h := models.Holding{
			AccountID:   accountID,
			Symbol:      p.Symbol,
			Quantity:    p.Quantity,
			CostBasis:   p.CostBasis,
			LastPrice:   p.Price,
			StatementID: statementID,
		}
		if p.MarketValue != nil {
			h.MarketValue = *p.MarketValue
		} else if p.Price != nil {
			h.MarketValue = p.Quantity * *p.Price
		}
		total += h.MarketValue

		prior, known := existingBySymbol[p.Symbol]
		if err := s.store.UpsertHolding(ctx, h); err != nil {
			return 0, err
		}
		if known && prior.Quantity != 0 {
			result.HoldingsUpdated++
		} else {
			result.HoldingsCreated++
		}
		delete(existingBySymbol, p.Symbol)
	}

	for _, h := range existingBySymbol {
		if h.Quantity == 0 {
			continue
		}
		if err := s.store.CloseHolding(ctx, h.ID, statementID); err != nil {
			return 0, err
		}
		result.HoldingsClosed++
	}
	return total, nil
}

// latestPositions filters to the most recent snapshot date.
func latestPositions(positions []models.Position) []models.Position {
	var maxDate string
	for _, p := range positions {
		if p.Date > maxDate {
			maxDate = p.Date
		}
	}
	var out []models.Position
	for _, p := range positions {
		if p.Date == maxDate {
			out = append(out, p)
		}
	}
	return out
}

func (s *WriterService) updateSummary(ctx context.Context, accountID int64, statementID string, entry models.AccountEntry, positions []models.Position, holdingsValue float64) error {
	var cash float64
	var lastDate string
	if b := latestBalance(entry.Balances); b != nil {
		if b.CashBalance != nil {
			cash = *b.CashBalance
		}
		lastDate = b.Date
	}
	for _, p := range positions {
		if p.Date > lastDate {
			lastDate = p.Date
		}
	}
	total := holdingsValue + cash
	if entry.AccountType.IsLiability() {
		// Liability accounts carry the stated balance as their value; there
		// are no holdings to sum.
		if stated := entry.StatedBalance(); stated != nil {
			total = *stated
			cash = 0
		}
	}
	return s.store.UpdateAccountSummary(ctx, accountID, utils.RoundFloat(total, 2), utils.RoundFloat(cash, 2), entry.StatedBalance(), lastDate)
}

func latestBalance(balances []models.Balance) *models.Balance {
	var best *models.Balance
	for i := range balances {
		if best == nil || balances[i].Date > best.Date {
			best = &balances[i]
		}
	}
	return best
}

// resolveAggregate finds or lazily creates the institution's aggregate bucket
// for positions that belong to no specific account.
func (s *WriterService) resolveAggregate(ctx context.Context, userID int64, doc *models.Document, mapping models.AccountMapping) (*models.Account, bool, error) {
	if mapping.AggregateAccountID != 0 {
		found, err := s.store.GetAccount(ctx, mapping.AggregateAccountID)
		if err != nil {
			return nil, false, fmt.Errorf("aggregate account %d not found: %w", mapping.AggregateAccountID, err)
		}
		return found, false, nil
	}
	created, err := s.store.CreateAccounts(ctx, []models.Account{{
		UserID:              userID,
		Name:                doc.Institution + " (aggregate)",
		Institution:         doc.Institution,
		AccountType:         models.AccountTypeOther,
		AccountNumberMasked: "aggregate:" + doc.Institution,
		Source:              "aggregate",
		IsAggregate:         true,
	}})
	if err != nil {
		return nil, false, err
	}
	return &created[0], true, nil
}

// aggregateStated synthesizes the aggregate's value: the sum of every real
// account's stated balance, falling back to the document's stated grand
// total. It is never recomputed from the aggregate's own holdings.
func aggregateStated(doc *models.Document) *float64 {
	var sum float64
	var have bool
	for _, entry := range doc.Accounts {
		if b := entry.StatedBalance(); b != nil {
			sum += *b
			have = true
		}
	}
	if have {
		return &sum
	}
	return doc.StatedTotalValue
}

func (s *WriterService) updateAggregateSummary(ctx context.Context, w accountWork, holdingsValue float64) error {
	total := holdingsValue
	if w.aggStated != nil {
		total = *w.aggStated
	}
	return s.store.UpdateAccountSummary(ctx, w.account.ID, utils.RoundFloat(total, 2), 0, w.aggStated, latestDate(w.positions))
}

func latestDate(positions []models.Position) string {
	var max string
	for _, p := range positions {
		if p.Date > max {
			max = p.Date
		}
	}
	return max
}

func sumOptional(a, b *float64) *float64 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	sum := *a + *b
	return &sum
}

func coalesce(a, b *float64) *float64 {
	if a != nil {
		return a
	}
	return b
}

func optKey(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}
