// Package scanner adapts an external secret scanner to a single Scan call.
// Any failure to get a verdict from the tool is reported as
// E_SCANNER_UNAVAILABLE so the gate can degrade to Allow.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jvs-project/goldgate/internal/execrun"
	"github.com/jvs-project/goldgate/pkg/config"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/logging"
	"github.com/jvs-project/goldgate/pkg/model"
	"github.com/jvs-project/goldgate/pkg/template"
)

// Scanner inspects one file for secrets.
type Scanner interface {
	Scan(ctx context.Context, path string) ([]model.Finding, error)
}

// Exit codes the gitleaks adapter understands.
const (
	exitClean    = 0
	exitFindings = 1
)

// Gitleaks runs a gitleaks-compatible binary that prints a JSON array of
// findings on stdout and exits 1 when it found something.
type Gitleaks struct {
	runner  execrun.Runner
	binary  string
	args    []string
	timeout time.Duration
	dir     string
}

// NewGitleaks builds the adapter from configuration. workDir is where the
// binary runs and relative paths are resolved.
func NewGitleaks(runner execrun.Runner, cfg config.ScannerConfig, workDir string) *Gitleaks {
	return &Gitleaks{
		runner:  runner,
		binary:  cfg.Binary,
		args:    cfg.Args,
		timeout: cfg.Timeout,
		dir:     workDir,
	}
}

// New returns the configured scanner, or a Disabled one when no binary is set.
func New(runner execrun.Runner, cfg config.ScannerConfig, workDir string) Scanner {
	if strings.TrimSpace(cfg.Binary) == "" {
		return Disabled{}
	}
	return NewGitleaks(runner, cfg, workDir)
}

// gitleaksFinding mirrors the fields of a gitleaks JSON report we keep.
// The matched secret itself is deliberately not decoded.
type gitleaksFinding struct {
	RuleID      string `json:"RuleID"`
	Description string `json:"Description"`
	File        string `json:"File"`
	StartLine   int    `json:"StartLine"`
}

// Scan runs the scanner over path. A path that does not exist yields no findings.
func (g *Gitleaks) Scan(ctx context.Context, path string) ([]model.Finding, error) {
	target := path
	if !filepath.IsAbs(target) && g.dir != "" {
		target = filepath.Join(g.dir, target)
	}
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, unavailable("stat %s: %v", path, err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cmd := execrun.Command{
		Name: g.binary,
		Args: template.ExpandArgs(g.args, template.PathVars(target)),
		Dir:  g.dir,
	}
	res, err := g.runner.Run(ctx, cmd)
	if err != nil {
		switch {
		case errors.Is(err, execrun.ErrNotInstalled):
			return nil, unavailable("%s not installed", g.binary)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, unavailable("%s timed out after %s", g.binary, g.timeout)
		default:
			return nil, unavailable("run %s: %v", g.binary, err)
		}
	}

	switch res.ExitCode {
	case exitClean:
		return nil, nil
	case exitFindings:
		findings, err := parseReport(res.Stdout, path)
		if err != nil {
			return nil, unavailable("parse %s report: %v", g.binary, err)
		}
		logging.Debug("secret scan found matches", map[string]any{"path": path, "count": len(findings)})
		return findings, nil
	default:
		return nil, unavailable("%s exited %d: %s", g.binary, res.ExitCode, firstLine(res.Stderr))
	}
}

func parseReport(stdout, path string) ([]model.Finding, error) {
	var raw []gitleaksFinding
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("exit code signalled findings but report is empty")
	}
	findings := make([]model.Finding, 0, len(raw))
	for _, r := range raw {
		file := r.File
		if file == "" {
			file = path
		}
		findings = append(findings, model.Finding{
			RuleID:      r.RuleID,
			Description: r.Description,
			File:        file,
			Line:        r.StartLine,
		})
	}
	return findings, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func unavailable(format string, args ...any) error {
	return errclass.ErrScannerUnavailable.WithMessagef(format, args...)
}

// Disabled is used when no scanner binary is configured.
type Disabled struct{}

// Scan always reports the scanner as unavailable.
func (Disabled) Scan(context.Context, string) ([]model.Finding, error) {
	return nil, unavailable("no scanner configured")
}
