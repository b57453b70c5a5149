package model

import "time"

// ActionKind identifies the type of ledgered event.
type ActionKind string

const (
	KindGateDecision   ActionKind = "gate_decision"
	KindPromotion      ActionKind = "promotion"
	KindDriftCorrected ActionKind = "drift_corrected"
)

// Outcome values used across ledger entries.
const (
	OutcomeGolden    = "golden"
	OutcomeRejected  = "rejected"
	OutcomeCorrected = "corrected"
)

// LedgerEntry is a single line in the ledger (JSONL format).
type LedgerEntry struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Actor      string         `json:"actor"`
	Kind       ActionKind     `json:"kind"`
	Outcome    string         `json:"outcome"`
	Subject    string         `json:"subject,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	PrevHash   HashValue      `json:"prev_hash"`
	RecordHash HashValue      `json:"record_hash"`
}
