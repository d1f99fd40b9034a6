package models

// Account is one ledger-side account row.
type Account struct {
	ID                  int64       `json:"id"`
	UserID              int64       `json:"user_id"`
	Name                string      `json:"name"`
	Institution         string      `json:"institution"`
	AccountType         AccountType `json:"account_type"`
	AccountNumberMasked string      `json:"account_number_masked"`
	Group               string      `json:"group,omitempty"`
	Source              string      `json:"source"`
	IsAggregate         bool        `json:"is_aggregate"`
	TotalValue          float64     `json:"total_value"`
	CashBalance         float64     `json:"cash_balance"`
	StatedTotalValue    *float64    `json:"stated_total_value,omitempty"`
	LastStatementDate   string      `json:"last_statement_date,omitempty"`
}

// Holding is the current-state row for one (account, symbol) pair. It is
// mutated across statements; closed holdings are zeroed out, never deleted.
type Holding struct {
	ID          int64    `json:"id"`
	AccountID   int64    `json:"account_id"`
	Symbol      string   `json:"symbol"`
	Quantity    float64  `json:"quantity"`
	MarketValue float64  `json:"market_value"`
	CostBasis   *float64 `json:"cost_basis,omitempty"`
	LastPrice   *float64 `json:"last_price,omitempty"`
	StatementID string   `json:"statement_id,omitempty"`
}

// PositionSnapshot is an append-only historical fact, unique on
// (account, date, symbol, asset type).
type PositionSnapshot struct {
	AccountID    int64     `json:"account_id"`
	SnapshotDate string    `json:"snapshot_date"`
	Symbol       string    `json:"symbol"`
	AssetType    AssetType `json:"asset_type,omitempty"`
	Quantity     float64   `json:"quantity"`
	Price        *float64  `json:"price,omitempty"`
	MarketValue  *float64  `json:"market_value,omitempty"`
	CostBasis    *float64  `json:"cost_basis,omitempty"`
	UnrealizedPL *float64  `json:"unrealized_pl,omitempty"`
	DayChange    *float64  `json:"day_change,omitempty"`
	StatementID  string    `json:"statement_id,omitempty"`
}

// BalanceSnapshot is an append-only historical fact, unique on
// (account, date, type).
type BalanceSnapshot struct {
	AccountID    int64    `json:"account_id"`
	SnapshotDate string   `json:"snapshot_date"`
	SnapshotType string   `json:"snapshot_type"`
	TotalValue   *float64 `json:"total_value,omitempty"`
	CashBalance  *float64 `json:"cash_balance,omitempty"`
	EquityValue  *float64 `json:"equity_value,omitempty"`
	BuyingPower  *float64 `json:"buying_power,omitempty"`
	StatementID  string   `json:"statement_id,omitempty"`
}

// LedgerTransaction is the persisted form of an extracted transaction, unique
// on (account, external id). ExternalID is derived deterministically from
// (statement, account, line index) so re-writing a statement never
// double-inserts.
type LedgerTransaction struct {
	AccountID      int64     `json:"account_id"`
	ExternalID     string    `json:"external_id"`
	Date           string    `json:"date"`
	SettlementDate string    `json:"settlement_date,omitempty"`
	Symbol         string    `json:"symbol,omitempty"`
	CUSIP          string    `json:"cusip,omitempty"`
	AssetType      AssetType `json:"asset_type,omitempty"`
	Action         TxnAction `json:"action"`
	Description    string    `json:"description"`
	Quantity       *float64  `json:"quantity,omitempty"`
	Price          *float64  `json:"price,omitempty"`
	TotalAmount    float64   `json:"total_amount"`
	Fees           *float64  `json:"fees,omitempty"`
	Commission     *float64  `json:"commission,omitempty"`
	StatementID    string    `json:"statement_id,omitempty"`
}

// Statement statuses.
const (
	StatementStatusPending    = "pending"
	StatementStatusProcessed  = "processed"
	StatementStatusFixing     = "fixing"
	StatementStatusFailed     = "failed"
	StatementStatusUnresolved = "unresolved"
)

// Statement is the upload record the pipeline updates with status, linkage
// and counts.
type Statement struct {
	ID                  string  `json:"id"`
	UserID              int64   `json:"user_id"`
	Filename            string  `json:"filename"`
	FileType            string  `json:"file_type"`
	FileSize            int64   `json:"file_size"`
	Institution         string  `json:"institution"`
	DocumentType        string  `json:"document_type"`
	PeriodStart         string  `json:"period_start,omitempty"`
	PeriodEnd           string  `json:"period_end,omitempty"`
	Status              string  `json:"status"`
	AccountIDs          []int64 `json:"account_ids"`
	AccountsMatched     int     `json:"accounts_matched"`
	AccountsCreated     int     `json:"accounts_created"`
	TransactionsWritten int     `json:"transactions_written"`
	PositionsWritten    int     `json:"positions_written"`
	BalancesWritten     int     `json:"balances_written"`
	CreatedAt           string  `json:"created_at,omitempty"`
}
