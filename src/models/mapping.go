package models

// MatchAction discriminates the two outcomes of matching one extracted
// account against the existing ledger.
type MatchAction string

const (
	MatchExisting MatchAction = "match_existing"
	CreateNew     MatchAction = "create_new"
)

// MatchDecision is the closed result variant for one account entry.
// AccountID is meaningful only when Action is MatchExisting.
type MatchDecision struct {
	EntryIndex int         `json:"entry_index"`
	Action     MatchAction `json:"action"`
	AccountID  int64       `json:"account_id,omitempty"`
	Confidence Confidence  `json:"confidence"`
	Reason     string      `json:"reason"`
}

// AccountMapping is the matcher's full output for one document, recomputed
// from current ledger state every time a document is written.
type AccountMapping struct {
	Decisions []MatchDecision `json:"decisions"`
	// AggregateAccountID is the existing aggregate account that should absorb
	// unallocated positions, or 0 when the writer must create one lazily.
	AggregateAccountID int64 `json:"aggregate_account_id,omitempty"`
}

// Decision returns the decision for an entry index, or a create_new fallback
// when the index is out of range.
func (m AccountMapping) Decision(entryIndex int) MatchDecision {
	for _, d := range m.Decisions {
		if d.EntryIndex == entryIndex {
			return d
		}
	}
	return MatchDecision{
		EntryIndex: entryIndex,
		Action:     CreateNew,
		Confidence: ConfidenceLow,
		Reason:     "no matching decision recorded",
	}
}
