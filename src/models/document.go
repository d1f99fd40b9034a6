package models

// SchemaVersion is the extraction document schema the prompt asks the model
// to produce. Validation accepts older versions and normalizes them.
const SchemaVersion = 3

// Confidence is the qualitative trust label used for both extraction quality
// and matching decisions.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// AccountType is the closed set of account categories the extractor may emit.
type AccountType string

const (
	AccountTypeBrokerage  AccountType = "brokerage"
	AccountTypeRetirement AccountType = "retirement"
	AccountTypeBank       AccountType = "bank"
	AccountTypeCredit     AccountType = "credit"
	AccountTypeLoan       AccountType = "loan"
	AccountTypeMortgage   AccountType = "mortgage"
	AccountTypeCrypto     AccountType = "crypto"
	AccountTypeOther      AccountType = "other"
)

// IsLiability reports whether balances for this account type are expected to
// be zero or negative.
func (t AccountType) IsLiability() bool {
	return t == AccountTypeCredit || t == AccountTypeLoan || t == AccountTypeMortgage
}

// AssetType classifies an instrument.
type AssetType string

const (
	AssetTypeStock  AssetType = "stock"
	AssetTypeETF    AssetType = "etf"
	AssetTypeFund   AssetType = "mutual_fund"
	AssetTypeBond   AssetType = "bond"
	AssetTypeOption AssetType = "option"
	AssetTypeCash   AssetType = "cash"
	AssetTypeCrypto AssetType = "crypto"
	AssetTypeOther  AssetType = "other"
)

// TxnAction is the closed set of transaction actions.
type TxnAction string

const (
	ActionBuy        TxnAction = "buy"
	ActionSell       TxnAction = "sell"
	ActionDividend   TxnAction = "dividend"
	ActionInterest   TxnAction = "interest"
	ActionFee        TxnAction = "fee"
	ActionTax        TxnAction = "tax"
	ActionDeposit    TxnAction = "deposit"
	ActionWithdrawal TxnAction = "withdrawal"
	ActionTransfer   TxnAction = "transfer"
	ActionSplit      TxnAction = "split"
	ActionReinvest   TxnAction = "reinvest"
	ActionOther      TxnAction = "other"
)

// Document is the validated, typed output of one extraction attempt.
// It is immutable once produced; a fix cycle supersedes it with a new one.
//
// Invariant: Accounts, UnallocatedPositions and Notes are never nil, and every
// AccountEntry carries non-nil (possibly empty) line-item slices.
type Document struct {
	SchemaVersion    int        `json:"schema_version"`
	Institution      string     `json:"institution"`
	DocumentType     string     `json:"document_type"`
	PeriodStart      string     `json:"period_start,omitempty"` // ISO calendar date
	PeriodEnd        string     `json:"period_end,omitempty"`
	StatedTotalValue *float64   `json:"stated_total_value,omitempty"`
	StatedDayChange  *float64   `json:"stated_day_change,omitempty"`
	Confidence       Confidence `json:"confidence"`

	Accounts             []AccountEntry `json:"accounts"`
	UnallocatedPositions []Position     `json:"unallocated_positions"`
	Notes                []string       `json:"notes"`
}

// AccountEntry is one account as stated by the document.
type AccountEntry struct {
	AccountNumber string      `json:"account_number,omitempty"` // possibly partial/masked
	AccountType   AccountType `json:"account_type"`
	Institution   string      `json:"institution,omitempty"`
	Nickname      string      `json:"nickname,omitempty"`
	Group         string      `json:"group,omitempty"`

	Transactions []Transaction `json:"transactions"`
	Positions    []Position    `json:"positions"`
	Balances     []Balance     `json:"balances"`
}

// StatedBalance returns the most recent non-nil total value among the entry's
// balances, or nil when none is stated.
func (e AccountEntry) StatedBalance() *float64 {
	var best *Balance
	for i := range e.Balances {
		b := &e.Balances[i]
		if b.TotalValue == nil {
			continue
		}
		if best == nil || b.Date > best.Date {
			best = b
		}
	}
	if best == nil {
		return nil
	}
	return best.TotalValue
}

// Transaction is one statement line. TotalAmount is never nil-equivalent in a
// valid document: the validator computes it from quantity and price when the
// model omits it, or defaults it to zero as a last resort.
// Sign convention: negative means money leaving the account.
type Transaction struct {
	Date           string    `json:"date"`
	SettlementDate string    `json:"settlement_date,omitempty"`
	Symbol         string    `json:"symbol,omitempty"`
	CUSIP          string    `json:"cusip,omitempty"`
	AssetType      AssetType `json:"asset_type,omitempty"`
	Description    string    `json:"description"`
	Action         TxnAction `json:"action"`
	Quantity       *float64  `json:"quantity,omitempty"`
	Price          *float64  `json:"price,omitempty"`
	TotalAmount    float64   `json:"total_amount"`
	Fees           *float64  `json:"fees,omitempty"`
	Commission     *float64  `json:"commission,omitempty"`
}

// Position is a point-in-time holding as stated by the document.
type Position struct {
	Date         string    `json:"date"`
	Symbol       string    `json:"symbol"`
	AssetType    AssetType `json:"asset_type,omitempty"`
	Quantity     float64   `json:"quantity"`
	Price        *float64  `json:"price,omitempty"`
	CostBasis    *float64  `json:"cost_basis,omitempty"`
	MarketValue  *float64  `json:"market_value,omitempty"`
	UnrealizedPL *float64  `json:"unrealized_pl,omitempty"`
	DayChange    *float64  `json:"day_change,omitempty"`
}

// Balance holds the stated figures for one account at one point in time.
type Balance struct {
	Date        string   `json:"date"`
	TotalValue  *float64 `json:"total_value,omitempty"`
	CashBalance *float64 `json:"cash_balance,omitempty"`
	EquityValue *float64 `json:"equity_value,omitempty"`
	BuyingPower *float64 `json:"buying_power,omitempty"`
}

// CountItems returns the total number of transactions, positions and balances
// across all account entries plus unallocated positions.
func (d *Document) CountItems() (txs, positions, balances int) {
	for _, acct := range d.Accounts {
		txs += len(acct.Transactions)
		positions += len(acct.Positions)
		balances += len(acct.Balances)
	}
	positions += len(d.UnallocatedPositions)
	return
}
