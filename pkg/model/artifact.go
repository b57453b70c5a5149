package model

import "time"

// ArtifactStatus is the lifecycle state of a generated test.
type ArtifactStatus string

const (
	StatusGenerated      ArtifactStatus = "generated"
	StatusValidating     ArtifactStatus = "validating"
	StatusAwaitingReview ArtifactStatus = "awaiting_review"
	StatusGolden         ArtifactStatus = "golden"
	StatusRejected       ArtifactStatus = "rejected"
)

// IsTerminal reports whether a promotion attempt ends in this status.
func (s ArtifactStatus) IsTerminal() bool {
	return s == StatusGolden || s == StatusRejected
}

// TestArtifact is a generated test file moving toward golden status.
type TestArtifact struct {
	ID          string         `json:"id"`
	SourcePath  string         `json:"source_path"`
	GoldenPath  string         `json:"golden_path"`
	ContentHash HashValue      `json:"content_hash"`
	Status      ArtifactStatus `json:"status"`
}

// Checklist field names, in the order they are evaluated.
const (
	ChecklistCriticalBehavior = "critical_behavior"
	ChecklistStability        = "stability"
	ChecklistClearAssertions  = "clear_assertions"
	ChecklistDocumented       = "documented"
)

// ChecklistFields lists the quality gate questions in evaluation order.
var ChecklistFields = []string{
	ChecklistCriticalBehavior,
	ChecklistStability,
	ChecklistClearAssertions,
	ChecklistDocumented,
}

// Checklist is the reviewer's answer to the quality gate.
type Checklist struct {
	CriticalBehavior bool `json:"critical_behavior" yaml:"critical_behavior"`
	Stability        bool `json:"stability" yaml:"stability"`
	ClearAssertions  bool `json:"clear_assertions" yaml:"clear_assertions"`
	Documented       bool `json:"documented" yaml:"documented"`
}

// Get returns the answer for a named field.
func (c Checklist) Get(field string) bool {
	switch field {
	case ChecklistCriticalBehavior:
		return c.CriticalBehavior
	case ChecklistStability:
		return c.Stability
	case ChecklistClearAssertions:
		return c.ClearAssertions
	case ChecklistDocumented:
		return c.Documented
	default:
		return false
	}
}

// Set stores the answer for a named field. Unknown names are ignored.
func (c *Checklist) Set(field string, v bool) {
	switch field {
	case ChecklistCriticalBehavior:
		c.CriticalBehavior = v
	case ChecklistStability:
		c.Stability = v
	case ChecklistClearAssertions:
		c.ClearAssertions = v
	case ChecklistDocumented:
		c.Documented = v
	}
}

// FirstFalse returns the first unanswered field in evaluation order,
// or "" when every field is true.
func (c Checklist) FirstFalse() string {
	for _, f := range ChecklistFields {
		if !c.Get(f) {
			return f
		}
	}
	return ""
}

// Rejection reasons recorded on PromotionRecord.Reason.
const (
	ReasonTestFailed = "test_failed"
)

// PromotionRecord is the immutable result of one promotion attempt.
type PromotionRecord struct {
	ArtifactID  string         `json:"artifact_id"`
	SourcePath  string         `json:"source_path"`
	GoldenPath  string         `json:"golden_path,omitempty"`
	Reviewer    string         `json:"reviewer"`
	Checklist   *Checklist     `json:"checklist,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	CommitRef   string         `json:"commit_ref,omitempty"`
	ContentHash HashValue      `json:"content_hash"`
	Status      ArtifactStatus `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	Supersedes  HashValue      `json:"supersedes,omitempty"`
}
