package extraction

import (
	"fmt"
	"strings"

	"github.com/username/ledgerlens/src/models"
)

// ExtractionPrompt encodes the exact document shape the model must produce.
// The validator's coercions are a safety net, not the primary contract.
func ExtractionPrompt(fileType, filename string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are extracting a financial account statement into JSON.
The source is a %s file named %q.

Respond with a single JSON object and nothing else. No markdown fences, no
commentary. The object must follow this schema (version %d):

{
  "schema_version": %d,
  "institution": "string",
  "document_type": "statement|trade_confirmation|tax_form|other",
  "period_start": "YYYY-MM-DD or null",
  "period_end": "YYYY-MM-DD",
  "stated_total_value": number or null,
  "stated_day_change": number or null,
  "confidence": "high|medium|low",
  "notes": ["free-text caveats"],
  "accounts": [
    {
      "account_number": "string, may be masked like ****5902",
      "account_type": "brokerage|retirement|bank|credit|loan|mortgage|crypto|other",
      "institution": "string",
      "nickname": "string",
      "group": "string",
      "transactions": [
        {
          "date": "YYYY-MM-DD (required)",
          "settlement_date": "YYYY-MM-DD or null",
          "symbol": "string or null",
          "cusip": "string or null",
          "asset_type": "stock|etf|mutual_fund|bond|option|cash|crypto|other or null",
          "description": "string (required)",
          "action": "buy|sell|dividend|interest|fee|tax|deposit|withdrawal|transfer|split|reinvest|other",
          "quantity": number or null,
          "price": number or null,
          "total_amount": number (required; negative = money leaving the account),
          "fees": number or null,
          "commission": number or null
        }
      ],
      "positions": [
        {
          "date": "YYYY-MM-DD",
          "symbol": "string (required)",
          "quantity": number (required),
          "price": number or null,
          "cost_basis": number or null,
          "market_value": number or null,
          "unrealized_pl": number or null,
          "day_change": number or null
        }
      ],
      "balances": [
        {
          "date": "YYYY-MM-DD",
          "total_value": number or null,
          "cash_balance": number or null,
          "equity_value": number or null,
          "buying_power": number or null
        }
      ]
    }
  ],
  "unallocated_positions": [
    "positions from cross-account summary sections that cannot be attributed
     to a single account; same shape as positions above"
  ]
}

Rules:
- Every account must carry transactions, positions and balances arrays, even
  when empty. Never use null for a list.
- Use plain numbers, not formatted strings.
- Do not invent line items; put uncertainty in "notes" and lower "confidence".
`, fileType, filename, models.SchemaVersion, models.SchemaVersion)
	return b.String()
}

// CorrectiveFeedback builds the text block injected into the re-extraction
// payload after a hard-check failure. It lists which checks failed with
// expected vs actual numbers, plus a structural summary of the document the
// first attempt produced.
func CorrectiveFeedback(result models.HardCheckResult, doc *models.Document) string {
	var b strings.Builder
	b.WriteString("IMPORTANT: a previous extraction of this exact document failed verification.\n")
	b.WriteString("The following checks did not pass:\n")
	for _, c := range result.Checks {
		if c.Passed {
			continue
		}
		kind := "HARD"
		if !c.Hard {
			kind = "soft"
		}
		fmt.Fprintf(&b, "- [%s] %s: expected %.2f, got %.2f", kind, c.Name, c.Expected, c.Actual)
		if c.Message != "" {
			fmt.Fprintf(&b, " (%s)", c.Message)
		}
		b.WriteByte('\n')
	}

	if doc != nil {
		txs, positions, balances := doc.CountItems()
		fmt.Fprintf(&b, "\nThe previous attempt extracted %d account(s), %d transaction(s), %d position(s), %d balance(s).\n",
			len(doc.Accounts), txs, positions, balances)
		for i, acct := range doc.Accounts {
			fmt.Fprintf(&b, "- accounts[%d]: %s %s (%s), %d positions", i, acct.Institution, acct.AccountNumber, acct.AccountType, len(acct.Positions))
			if stated := acct.StatedBalance(); stated != nil {
				fmt.Fprintf(&b, ", stated balance %.2f", *stated)
			}
			b.WriteByte('\n')
		}
	}

	b.WriteString("\nRe-extract the document carefully. Make sure every position is captured,\n")
	b.WriteString("market values are read exactly as printed, and per-account balances sum to\n")
	b.WriteString("the stated total. Respond with the full corrected JSON object only.\n")
	return b.String()
}
