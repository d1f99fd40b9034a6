// Package extraction turns raw model output into a validated, typed
// extraction document. The model is adversarial by unreliability rather than
// malice: validation optimizes for maximal salvage of a partially-correct
// response over strict rejection. Structural failures (no parseable object)
// fail the attempt; a single malformed line item is dropped with a warning and
// never fails the whole document.
package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/username/ledgerlens/src/models"
	"github.com/username/ledgerlens/src/security/validation"
)

// Result is the validator's full output for one raw model response.
// When Valid is false, Document is nil and Errors explains why.
type Result struct {
	Valid     bool             `json:"valid"`
	Document  *models.Document `json:"document,omitempty"`
	Errors    []string         `json:"errors"`
	Warnings  []string         `json:"warnings"`
	Coercions []string         `json:"coercions"`
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) coercef(format string, args ...any) {
	r.Coercions = append(r.Coercions, fmt.Sprintf(format, args...))
}

// Validate parses raw model output into a Document, applying per-field
// coercions and dropping malformed line items.
func Validate(raw string) *Result {
	res := &Result{
		Errors:    []string{},
		Warnings:  []string{},
		Coercions: []string{},
	}

	text := stripCodeFences(raw)
	if strings.TrimSpace(text) == "" {
		res.errorf("response is empty")
		return res
	}

	if !strings.HasPrefix(strings.TrimSpace(text), "{") {
		extracted, ok := extractBalancedObject(text)
		if !ok {
			res.errorf("no JSON object found in response")
			return res
		}
		text = extracted
		res.coercef("extracted JSON object from surrounding text")
	}

	var root any
	if err := json.Unmarshal([]byte(text), &root); err != nil {
		// A truncated response is the common case; try to salvage the
		// outermost balanced object before giving up.
		if extracted, ok := extractBalancedObject(text); ok && extracted != text {
			if err2 := json.Unmarshal([]byte(extracted), &root); err2 == nil {
				res.coercef("re-extracted balanced object after initial parse failure")
			} else {
				res.errorf("response is not parseable JSON: %v", err)
				return res
			}
		} else {
			res.errorf("response is not parseable JSON: %v", err)
			return res
		}
	}

	obj, ok := root.(map[string]any)
	if !ok {
		res.errorf("response root is not a JSON object (got %T)", root)
		return res
	}

	doc := buildDocument(obj, res)

	// Document-level sanity: warn, never fail.
	if len(doc.Accounts) == 0 && len(doc.UnallocatedPositions) == 0 {
		res.warnf("document has no accounts and no unallocated positions")
	} else {
		txs, positions, balances := doc.CountItems()
		if txs == 0 && positions == 0 && balances == 0 {
			res.warnf("document has no transactions, positions or balances")
		}
	}

	res.Valid = true
	res.Document = doc
	return res
}

// stripCodeFences removes a markdown code fence wrapper if present.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	// Optional language tag on the fence line.
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(trimmed[:idx])
		if firstLine == "" || isFenceTag(firstLine) {
			trimmed = trimmed[idx+1:]
		}
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}

func isFenceTag(s string) bool {
	switch strings.ToLower(s) {
	case "json", "json5", "javascript", "js", "text":
		return true
	}
	return false
}

// extractBalancedObject locates the outermost object between the first '{'
// and its matching closing brace, tracking string literals so braces inside
// values do not break the scan. Falls back to first '{' .. last '}' when the
// object is truncated.
func extractBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	// Unbalanced: take everything from the first brace through the last one.
	if end := strings.LastIndexByte(s, '}'); end > start {
		return s[start : end+1], true
	}
	return "", false
}

// buildDocument maps the untyped root object into a Document, recording every
// substitution it makes.
func buildDocument(obj map[string]any, res *Result) *models.Document {
	doc := &models.Document{
		Accounts:             []models.AccountEntry{},
		UnallocatedPositions: []models.Position{},
		Notes:                []string{},
	}

	if v, found := obj["schema_version"]; found {
		if n, ok := coerceInt(v); ok {
			doc.SchemaVersion = n
		}
	}
	if doc.SchemaVersion == 0 {
		doc.SchemaVersion = models.SchemaVersion
		res.coercef("schema_version missing, assuming %d", models.SchemaVersion)
	}

	doc.Institution = cleanField(obj["institution"])
	doc.DocumentType = cleanField(obj["document_type"])
	doc.Confidence = coerceConfidence(obj["confidence"])

	if date, ok := coerceDate(obj["period_start"]); ok {
		doc.PeriodStart = date
	}
	if date, ok := coerceDate(obj["period_end"]); ok {
		doc.PeriodEnd = date
	} else if date, ok := coerceDate(obj["statement_date"]); ok {
		doc.PeriodEnd = date
		res.coercef("period_end taken from statement_date")
	}

	doc.StatedTotalValue = coerceNumber(firstPresent(obj, "stated_total_value", "total_value", "total_portfolio_value"))
	doc.StatedDayChange = coerceNumber(firstPresent(obj, "stated_day_change", "day_change"))

	if rawNotes, ok := obj["notes"].([]any); ok {
		for _, n := range rawNotes {
			if s := cleanField(n); s != "" {
				doc.Notes = append(doc.Notes, validation.SanitizeForFormulaInjection(s))
			}
		}
	} else if s := cleanField(obj["notes"]); s != "" {
		doc.Notes = append(doc.Notes, validation.SanitizeForFormulaInjection(s))
		res.coercef("notes given as a single string, wrapped into a list")
	}

	if rawAccounts, ok := obj["accounts"].([]any); ok {
		for i, rawAcct := range rawAccounts {
			acctObj, ok := rawAcct.(map[string]any)
			if !ok {
				res.warnf("accounts[%d] is not an object, dropped", i)
				continue
			}
			doc.Accounts = append(doc.Accounts, buildAccountEntry(acctObj, i, res))
		}
	} else if hasFlatLineItems(obj) {
		// Backward-compatible shape: flat top-level arrays, no per-account
		// structure. Wrap them into one synthetic account.
		entry := buildAccountEntry(obj, 0, res)
		entry.Institution = doc.Institution
		doc.Accounts = append(doc.Accounts, entry)
		res.coercef("no per-account structure present, wrapped flat line items into one account")
	}

	if rawUnalloc, ok := obj["unallocated_positions"].([]any); ok {
		for i, rawPos := range rawUnalloc {
			posObj, ok := rawPos.(map[string]any)
			if !ok {
				res.warnf("unallocated_positions[%d] is not an object, dropped", i)
				continue
			}
			if pos, ok := buildPosition(posObj, fmt.Sprintf("unallocated_positions[%d]", i), doc.PeriodEnd, res); ok {
				doc.UnallocatedPositions = append(doc.UnallocatedPositions, pos)
			}
		}
	}

	return doc
}

func hasFlatLineItems(obj map[string]any) bool {
	for _, key := range []string{"transactions", "positions", "balances"} {
		if arr, ok := obj[key].([]any); ok && len(arr) > 0 {
			return true
		}
	}
	return false
}

func firstPresent(obj map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, found := obj[key]; found && v != nil {
			return v
		}
	}
	return nil
}

func cleanField(v any) string {
	s, ok := coerceString(v)
	if !ok {
		return ""
	}
	return validation.CleanText(s)
}

// buildAccountEntry maps one account object. Line-item slices are always
// non-nil; malformed items are dropped with a warning.
func buildAccountEntry(obj map[string]any, index int, res *Result) models.AccountEntry {
	ref := fmt.Sprintf("accounts[%d]", index)

	entry := models.AccountEntry{
		AccountNumber: cleanField(firstPresent(obj, "account_number", "account_id", "number")),
		Institution:   cleanField(obj["institution"]),
		Nickname:      cleanField(firstPresent(obj, "nickname", "account_name", "name")),
		Group:         cleanField(firstPresent(obj, "group", "account_group")),
		Transactions:  []models.Transaction{},
		Positions:     []models.Position{},
		Balances:      []models.Balance{},
	}

	entryType, known := coerceAccountType(firstPresent(obj, "account_type", "type"))
	entry.AccountType = entryType
	if !known {
		if raw := cleanField(firstPresent(obj, "account_type", "type")); raw != "" {
			res.coercef("%s.account_type %q not recognized, using %q", ref, raw, entryType)
		}
	}

	// A statement date on the entry anchors undated line items.
	fallbackDate, _ := coerceDate(firstPresent(obj, "statement_date", "as_of_date", "date"))

	if rawTxs, ok := obj["transactions"].([]any); ok {
		for i, rawTx := range rawTxs {
			txObj, ok := rawTx.(map[string]any)
			if !ok {
				res.warnf("%s.transactions[%d] is not an object, dropped", ref, i)
				continue
			}
			if tx, ok := buildTransaction(txObj, fmt.Sprintf("%s.transactions[%d]", ref, i), res); ok {
				entry.Transactions = append(entry.Transactions, tx)
			}
		}
	}

	if rawPositions, ok := obj["positions"].([]any); ok {
		for i, rawPos := range rawPositions {
			posObj, ok := rawPos.(map[string]any)
			if !ok {
				res.warnf("%s.positions[%d] is not an object, dropped", ref, i)
				continue
			}
			if pos, ok := buildPosition(posObj, fmt.Sprintf("%s.positions[%d]", ref, i), fallbackDate, res); ok {
				entry.Positions = append(entry.Positions, pos)
			}
		}
	}

	if rawBalances, ok := obj["balances"].([]any); ok {
		for i, rawBal := range rawBalances {
			balObj, ok := rawBal.(map[string]any)
			if !ok {
				res.warnf("%s.balances[%d] is not an object, dropped", ref, i)
				continue
			}
			if bal, ok := buildBalance(balObj, fmt.Sprintf("%s.balances[%d]", ref, i), fallbackDate, res); ok {
				entry.Balances = append(entry.Balances, bal)
			}
		}
	} else if balObj, ok := obj["balance"].(map[string]any); ok {
		if bal, ok := buildBalance(balObj, ref+".balance", fallbackDate, res); ok {
			entry.Balances = append(entry.Balances, bal)
			res.coercef("%s balance given as a single object, wrapped into a list", ref)
		}
	}

	return entry
}

// buildTransaction maps one transaction line. Date is hard-required: without
// it the item is dropped. TotalAmount is back-filled from quantity and price,
// or zero as a last resort, with the substitution recorded.
func buildTransaction(obj map[string]any, ref string, res *Result) (models.Transaction, bool) {
	date, ok := coerceDate(firstPresent(obj, "date", "transaction_date", "trade_date"))
	if !ok {
		res.warnf("%s has no usable date, dropped", ref)
		return models.Transaction{}, false
	}

	tx := models.Transaction{
		Date:        date,
		Symbol:      strings.ToUpper(cleanField(firstPresent(obj, "symbol", "ticker"))),
		CUSIP:       cleanField(obj["cusip"]),
		AssetType:   coerceAssetType(firstPresent(obj, "asset_type", "security_type")),
		Description: validation.SanitizeForFormulaInjection(cleanField(obj["description"])),
		Quantity:    coerceNumber(firstPresent(obj, "quantity", "shares")),
		Price:       coerceNumber(obj["price"]),
		Fees:        coerceNumber(obj["fees"]),
		Commission:  coerceNumber(obj["commission"]),
	}

	if settlement, ok := coerceDate(obj["settlement_date"]); ok {
		tx.SettlementDate = settlement
	}

	action, known := coerceAction(firstPresent(obj, "action", "type", "transaction_type"))
	tx.Action = action
	if !known {
		if raw := cleanField(firstPresent(obj, "action", "type", "transaction_type")); raw != "" {
			res.coercef("%s.action %q not recognized, using %q", ref, raw, action)
		}
	}

	if tx.Description == "" {
		tx.Description = describeTransaction(tx)
		res.coercef("%s.description missing, synthesized %q", ref, tx.Description)
	}

	amount := coerceNumber(firstPresent(obj, "total_amount", "amount", "net_amount"))
	switch {
	case amount != nil:
		tx.TotalAmount = *amount
	case tx.Quantity != nil && tx.Price != nil:
		total := *tx.Quantity * *tx.Price
		// Sign convention: negative = money leaving the account.
		if tx.Action == models.ActionBuy || tx.Action == models.ActionReinvest {
			total = -total
		}
		tx.TotalAmount = total
		res.coercef("%s.total_amount computed from quantity*price = %.2f", ref, total)
	default:
		tx.TotalAmount = 0
		res.coercef("%s.total_amount missing and not computable, defaulted to 0", ref)
	}

	return tx, true
}

func describeTransaction(tx models.Transaction) string {
	if tx.Symbol != "" {
		return fmt.Sprintf("%s %s", tx.Action, tx.Symbol)
	}
	return string(tx.Action)
}

// buildPosition maps one position line. Symbol and quantity are
// hard-required; a missing snapshot date falls back to the supplied anchor
// date.
func buildPosition(obj map[string]any, ref, fallbackDate string, res *Result) (models.Position, bool) {
	symbol := strings.ToUpper(cleanField(firstPresent(obj, "symbol", "ticker")))
	quantity := coerceNumber(firstPresent(obj, "quantity", "shares", "units"))
	if symbol == "" || quantity == nil {
		res.warnf("%s missing symbol or quantity, dropped", ref)
		return models.Position{}, false
	}

	pos := models.Position{
		Symbol:       symbol,
		Quantity:     *quantity,
		AssetType:    coerceAssetType(firstPresent(obj, "asset_type", "security_type")),
		Price:        coerceNumber(firstPresent(obj, "price", "last_price")),
		CostBasis:    coerceNumber(firstPresent(obj, "cost_basis", "total_cost")),
		MarketValue:  coerceNumber(firstPresent(obj, "market_value", "value")),
		UnrealizedPL: coerceNumber(firstPresent(obj, "unrealized_pl", "unrealized_gain_loss", "gain_loss")),
		DayChange:    coerceNumber(firstPresent(obj, "day_change", "day_change_value")),
	}

	if date, ok := coerceDate(firstPresent(obj, "date", "snapshot_date", "as_of_date")); ok {
		pos.Date = date
	} else if fallbackDate != "" {
		pos.Date = fallbackDate
		res.coercef("%s.date missing, anchored to statement date %s", ref, fallbackDate)
	} else {
		res.warnf("%s has no usable date, dropped", ref)
		return models.Position{}, false
	}

	return pos, true
}

// buildBalance maps one balance line. A balance with no date or no figures at
// all is dropped.
func buildBalance(obj map[string]any, ref, fallbackDate string, res *Result) (models.Balance, bool) {
	bal := models.Balance{
		TotalValue:  coerceNumber(firstPresent(obj, "total_value", "total", "balance", "liquidation_value")),
		CashBalance: coerceNumber(firstPresent(obj, "cash_balance", "cash")),
		EquityValue: coerceNumber(firstPresent(obj, "equity_value", "equity")),
		BuyingPower: coerceNumber(obj["buying_power"]),
	}

	if bal.TotalValue == nil && bal.CashBalance == nil && bal.EquityValue == nil && bal.BuyingPower == nil {
		res.warnf("%s has no figures, dropped", ref)
		return models.Balance{}, false
	}

	if date, ok := coerceDate(firstPresent(obj, "date", "snapshot_date", "as_of_date")); ok {
		bal.Date = date
	} else if fallbackDate != "" {
		bal.Date = fallbackDate
		res.coercef("%s.date missing, anchored to statement date %s", ref, fallbackDate)
	} else {
		res.warnf("%s has no usable date, dropped", ref)
		return models.Balance{}, false
	}

	return bal, true
}
