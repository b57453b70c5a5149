// Package policy decides whether an agent's file action is allowed.
//
// Evaluation is deterministic and free of side effects: it never writes to
// the ledger or the filesystem. Mapping a Decision to an exit code happens
// at the process boundary.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jvs-project/goldgate/internal/scanner"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/model"
	"github.com/jvs-project/goldgate/pkg/pathutil"
)

// Gate evaluates ToolInvocations against an immutable rule set and an
// optional secret scanner.
type Gate struct {
	rules   []model.PolicyRule
	scanner scanner.Scanner
	root    string
}

// Option configures a Gate.
type Option func(*Gate)

// WithRoot sets the directory invocation paths are made relative to.
func WithRoot(root string) Option {
	return func(g *Gate) { g.root = root }
}

// NewGate builds a Gate. The rule slice is copied; a nil scanner behaves
// like one that is not installed.
func NewGate(rules []model.PolicyRule, s scanner.Scanner, opts ...Option) *Gate {
	if s == nil {
		s = scanner.Disabled{}
	}
	g := &Gate{
		rules:   append([]model.PolicyRule(nil), rules...),
		scanner: s,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Rules returns a copy of the rule set in evaluation order.
func (g *Gate) Rules() []model.PolicyRule {
	return append([]model.PolicyRule(nil), g.rules...)
}

// Evaluate decides one invocation.
//
// Pre: the first matching rule blocks; no match allows. The scanner is not
// consulted because the content may not exist yet.
// Post: a matching rule only warns. The file is scanned; findings warn, and
// an unavailable scanner degrades to Allow with a scanner_unavailable note.
func (g *Gate) Evaluate(ctx context.Context, inv model.ToolInvocation) model.Decision {
	rel, _ := pathutil.RelToRoot(g.root, inv.Path)
	rule, matched := FirstMatch(g.rules, inv.Tool, rel)

	if inv.Phase != model.PhasePost {
		if matched {
			return model.Decision{
				Verdict: model.VerdictBlock,
				Reason:  blockReason(rule, rel),
				RuleID:  rule.ID,
			}
		}
		return model.Decision{Verdict: model.VerdictAllow, Reason: "no policy rule matches " + rel}
	}

	var d model.Decision
	if matched {
		d = model.Decision{
			Verdict: model.VerdictWarn,
			Reason:  fmt.Sprintf("%s was modified despite rule %s (pattern %q): %s", rel, rule.ID, rule.Pattern, rule.Message),
			RuleID:  rule.ID,
		}
	}

	findings, err := g.scanner.Scan(ctx, inv.Path)
	switch {
	case err != nil:
		if !errors.Is(err, errclass.ErrScannerUnavailable) {
			err = errclass.ErrScannerUnavailable.WithMessage(err.Error())
		}
		d.Notes = append(d.Notes, model.NoteScannerUnavailable)
		if !matched {
			d.Verdict = model.VerdictAllow
			d.Reason = "secret scan skipped: " + err.Error()
		}
	case len(findings) > 0:
		d.Findings = findings
		scanReason := findingsReason(findings)
		if matched {
			d.Reason += "; " + scanReason
		} else {
			d.Verdict = model.VerdictWarn
			d.Reason = scanReason
			d.RuleID = findings[0].RuleID
		}
	default:
		if !matched {
			d.Verdict = model.VerdictAllow
			d.Reason = "no secrets found in " + rel
		}
	}
	return d
}

func blockReason(rule model.PolicyRule, rel string) string {
	return fmt.Sprintf("%s matches protected pattern %q (rule %s): %s", rel, rule.Pattern, rule.ID, rule.Message)
}

func findingsReason(findings []model.Finding) string {
	parts := make([]string, 0, len(findings))
	for _, f := range findings {
		loc := f.File
		if f.Line > 0 {
			loc = fmt.Sprintf("%s:%d", f.File, f.Line)
		}
		desc := f.RuleID
		if f.Description != "" {
			desc = f.Description
		}
		parts = append(parts, fmt.Sprintf("%s at %s", desc, loc))
	}
	return fmt.Sprintf("secret scanner reported %d finding(s): %s; remove the secret and rotate it", len(findings), strings.Join(parts, ", "))
}
