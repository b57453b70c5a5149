package model

import (
	"fmt"
	"strings"
	"time"
)

// Phase says whether a hook runs before or after the tool action.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// ParsePhase accepts "pre"/"post" and the hook host event names.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pre", "pretooluse":
		return PhasePre, nil
	case "post", "posttooluse":
		return PhasePost, nil
	default:
		return "", fmt.Errorf("unknown phase %q (want pre or post)", s)
	}
}

// ToolInvocation is one file-mutating action observed by a hook.
// It only lives for the duration of a single evaluation.
type ToolInvocation struct {
	Tool      string    `json:"tool"`
	Path      string    `json:"path"`
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
}
