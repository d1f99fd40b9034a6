package extraction

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/ledgerlens/src/models"
)

// dateLayouts are tried in order when normalizing a date to ISO-8601.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"02-Jan-2006",
	"2-Jan-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 02, 2006",
	"02 Jan 2006",
	"2006/01/02",
}

// coerceDate normalizes the many date shapes a model emits ("as of 3/31/2025",
// "31-Mar-2025", ISO timestamps) to an ISO-8601 calendar date. The second
// return reports whether a usable date was found.
func coerceDate(v any) (string, bool) {
	s, ok := coerceString(v)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	lower := strings.ToLower(s)
	for _, prefix := range []string{"as of ", "as-of ", "asof "} {
		if strings.HasPrefix(lower, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
			break
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// coerceString accepts strings and stringable scalars.
func coerceString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case nil:
		return "", false
	}
	return "", false
}

// coerceNumber accepts JSON numbers and the decorated numeric strings models
// produce: "$1,234.56", "1 234,56" is NOT supported (ambiguous), "(500.00)"
// accounting negatives, "12.5%". Returns nil when the value is absent or
// unparsable.
func coerceNumber(v any) *float64 {
	switch n := v.(type) {
	case float64:
		f := n
		return &f
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case string:
		s := strings.TrimSpace(n)
		if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") || s == "-" || s == "--" {
			return nil
		}
		negative := false
		if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
			negative = true
			s = s[1 : len(s)-1]
		}
		s = strings.TrimSuffix(s, "%")
		s = strings.ReplaceAll(s, "$", "")
		s = strings.ReplaceAll(s, "€", "")
		s = strings.ReplaceAll(s, "£", "")
		s = strings.ReplaceAll(s, ",", "")
		s = strings.TrimSpace(s)
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil
		}
		f, _ := d.Float64()
		if negative {
			f = -f
		}
		return &f
	}
	return nil
}

// coerceInt returns an integer value for schema versions and counts.
func coerceInt(v any) (int, bool) {
	if f := coerceNumber(v); f != nil {
		return int(*f), true
	}
	return 0, false
}

// actionAliases maps the verbs and broker codes models emit to the closed
// action enum. Matching is case-insensitive on the trimmed value.
var actionAliases = map[string]models.TxnAction{
	"buy":                 models.ActionBuy,
	"purchase":            models.ActionBuy,
	"purchased":           models.ActionBuy,
	"bought":              models.ActionBuy,
	"you bought":          models.ActionBuy,
	"reinvestment buy":    models.ActionBuy,
	"sell":                models.ActionSell,
	"sold":                models.ActionSell,
	"you sold":            models.ActionSell,
	"sale":                models.ActionSell,
	"redemption":          models.ActionSell,
	"dividend":            models.ActionDividend,
	"div":                 models.ActionDividend,
	"qualified dividend":  models.ActionDividend,
	"ordinary dividend":   models.ActionDividend,
	"cash dividend":       models.ActionDividend,
	"capital gain":        models.ActionDividend,
	"cap gain":            models.ActionDividend,
	"interest":            models.ActionInterest,
	"int":                 models.ActionInterest,
	"interest earned":     models.ActionInterest,
	"credit interest":     models.ActionInterest,
	"fee":                 models.ActionFee,
	"fees":                models.ActionFee,
	"service fee":         models.ActionFee,
	"advisory fee":        models.ActionFee,
	"management fee":      models.ActionFee,
	"commission":          models.ActionFee,
	"tax":                 models.ActionTax,
	"withholding":         models.ActionTax,
	"foreign tax paid":    models.ActionTax,
	"nra tax":             models.ActionTax,
	"deposit":             models.ActionDeposit,
	"contribution":        models.ActionDeposit,
	"ach deposit":         models.ActionDeposit,
	"direct deposit":      models.ActionDeposit,
	"wire in":             models.ActionDeposit,
	"withdrawal":          models.ActionWithdrawal,
	"distribution":        models.ActionWithdrawal,
	"ach withdrawal":      models.ActionWithdrawal,
	"wire out":            models.ActionWithdrawal,
	"transfer":            models.ActionTransfer,
	"journal":             models.ActionTransfer,
	"jnl":                 models.ActionTransfer,
	"acat":                models.ActionTransfer,
	"transfer in":         models.ActionTransfer,
	"transfer out":        models.ActionTransfer,
	"split":               models.ActionSplit,
	"stock split":         models.ActionSplit,
	"reinvest":            models.ActionReinvest,
	"reinvestment":        models.ActionReinvest,
	"dividend reinvested": models.ActionReinvest,
	"drip":                models.ActionReinvest,
	"other":               models.ActionOther,
}

// coerceAction maps a raw action to the closed enum, falling back to "other".
func coerceAction(v any) (models.TxnAction, bool) {
	s, ok := coerceString(v)
	if !ok {
		return models.ActionOther, false
	}
	key := strings.ToLower(strings.TrimSpace(s))
	if a, found := actionAliases[key]; found {
		return a, true
	}
	// Broker descriptions often embed the verb ("Buy 10 AAPL @ 150").
	for alias, action := range actionAliases {
		if len(alias) >= 4 && strings.Contains(key, alias) {
			return action, true
		}
	}
	return models.ActionOther, false
}

var accountTypeAliases = map[string]models.AccountType{
	"brokerage":       models.AccountTypeBrokerage,
	"individual":      models.AccountTypeBrokerage,
	"joint":           models.AccountTypeBrokerage,
	"taxable":         models.AccountTypeBrokerage,
	"investment":      models.AccountTypeBrokerage,
	"trust":           models.AccountTypeBrokerage,
	"retirement":      models.AccountTypeRetirement,
	"ira":             models.AccountTypeRetirement,
	"roth":            models.AccountTypeRetirement,
	"roth ira":        models.AccountTypeRetirement,
	"traditional ira": models.AccountTypeRetirement,
	"401k":            models.AccountTypeRetirement,
	"401(k)":          models.AccountTypeRetirement,
	"403b":            models.AccountTypeRetirement,
	"sep ira":         models.AccountTypeRetirement,
	"pension":         models.AccountTypeRetirement,
	"hsa":             models.AccountTypeRetirement,
	"bank":            models.AccountTypeBank,
	"checking":        models.AccountTypeBank,
	"savings":         models.AccountTypeBank,
	"money market":    models.AccountTypeBank,
	"cash management": models.AccountTypeBank,
	"cd":              models.AccountTypeBank,
	"credit":          models.AccountTypeCredit,
	"credit card":     models.AccountTypeCredit,
	"creditcard":      models.AccountTypeCredit,
	"loan":            models.AccountTypeLoan,
	"auto loan":       models.AccountTypeLoan,
	"student loan":    models.AccountTypeLoan,
	"line of credit":  models.AccountTypeLoan,
	"heloc":           models.AccountTypeLoan,
	"mortgage":        models.AccountTypeMortgage,
	"home loan":       models.AccountTypeMortgage,
	"crypto":          models.AccountTypeCrypto,
	"cryptocurrency":  models.AccountTypeCrypto,
	"other":           models.AccountTypeOther,
}

// coerceAccountType maps a raw account type to the closed enum.
func coerceAccountType(v any) (models.AccountType, bool) {
	s, ok := coerceString(v)
	if !ok {
		return models.AccountTypeOther, false
	}
	key := strings.ToLower(strings.TrimSpace(s))
	if t, found := accountTypeAliases[key]; found {
		return t, true
	}
	for alias, t := range accountTypeAliases {
		if len(alias) >= 4 && strings.Contains(key, alias) {
			return t, true
		}
	}
	return models.AccountTypeOther, false
}

var assetTypeAliases = map[string]models.AssetType{
	"stock":        models.AssetTypeStock,
	"equity":       models.AssetTypeStock,
	"common stock": models.AssetTypeStock,
	"adr":          models.AssetTypeStock,
	"etf":          models.AssetTypeETF,
	"etn":          models.AssetTypeETF,
	"fund":         models.AssetTypeFund,
	"mutual fund":  models.AssetTypeFund,
	"mutual_fund":  models.AssetTypeFund,
	"index fund":   models.AssetTypeFund,
	"bond":         models.AssetTypeBond,
	"treasury":     models.AssetTypeBond,
	"fixed income": models.AssetTypeBond,
	"municipal":    models.AssetTypeBond,
	"option":       models.AssetTypeOption,
	"call":         models.AssetTypeOption,
	"put":          models.AssetTypeOption,
	"cash":         models.AssetTypeCash,
	"money market": models.AssetTypeCash,
	"sweep":        models.AssetTypeCash,
	"crypto":       models.AssetTypeCrypto,
	"bitcoin":      models.AssetTypeCrypto,
	"other":        models.AssetTypeOther,
}

// coerceAssetType maps a raw asset type to the closed enum; absent or unknown
// values stay empty rather than degrading to "other", since asset type is
// optional.
func coerceAssetType(v any) models.AssetType {
	s, ok := coerceString(v)
	if !ok {
		return ""
	}
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return ""
	}
	if t, found := assetTypeAliases[key]; found {
		return t
	}
	return models.AssetTypeOther
}

// coerceConfidence defaults to medium when the model omits or invents a level.
func coerceConfidence(v any) models.Confidence {
	s, _ := coerceString(v)
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return models.ConfidenceHigh
	case "low":
		return models.ConfidenceLow
	case "medium", "moderate", "med":
		return models.ConfidenceMedium
	}
	return models.ConfidenceMedium
}
