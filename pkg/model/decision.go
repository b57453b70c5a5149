package model

// Verdict is the outcome of a policy evaluation.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictWarn  Verdict = "warn"
	VerdictBlock Verdict = "block"
)

// ExitCode maps a verdict to the process exit status the hook host obeys.
func (v Verdict) ExitCode() int {
	switch v {
	case VerdictWarn:
		return 1
	case VerdictBlock:
		return 2
	default:
		return 0
	}
}

// NoteScannerUnavailable marks a decision reached without secret scanning.
const NoteScannerUnavailable = "scanner_unavailable"

// Finding is a single secret-scanner hit.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description,omitempty"`
	File        string `json:"file,omitempty"`
	Line        int    `json:"line,omitempty"`
}

// Decision is the immutable result of evaluating one ToolInvocation.
type Decision struct {
	Verdict  Verdict   `json:"verdict"`
	Reason   string    `json:"reason"`
	RuleID   string    `json:"rule_id,omitempty"`
	Findings []Finding `json:"findings,omitempty"`
	Notes    []string  `json:"notes,omitempty"`
}

// HasNote reports whether note was attached to the decision.
func (d Decision) HasNote(note string) bool {
	for _, n := range d.Notes {
		if n == note {
			return true
		}
	}
	return false
}
