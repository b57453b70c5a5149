package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvs-project/goldgate/internal/execrun"
	"github.com/jvs-project/goldgate/internal/policy"
	"github.com/jvs-project/goldgate/internal/repo"
	"github.com/jvs-project/goldgate/internal/scanner"
	"github.com/jvs-project/goldgate/pkg/color"
	"github.com/jvs-project/goldgate/pkg/config"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/logging"
	"github.com/jvs-project/goldgate/pkg/model"
	"github.com/jvs-project/goldgate/pkg/pathutil"
	"github.com/jvs-project/goldgate/pkg/webhook"
)

var (
	gateTool  string
	gatePath  string
	gatePhase string
	gateStdin bool
)

var gateCmd = &cobra.Command{
	Use:   "gate <command>",
	Short: "Policy gate for agent file actions",
}

var gateEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Decide whether a tool action on a path is allowed",
	Long: `Decide whether a tool action on a path is allowed.

Exit status is the contract with the hook host:
  0  allow
  1  warn  (post phase: a protected path changed or the secret scanner found something)
  2  block (pre phase: the path matches a protected pattern)

With --stdin the hook host's JSON payload is read from standard input:
  {"hook_event_name":"PreToolUse","tool_name":"Edit","tool_input":{"file_path":"..."}}
Flags override payload fields. Every decision is appended to the ledger.`,
	Example: `  goldgate gate evaluate --tool Edit --path .env --phase pre
  goldgate gate evaluate --path src/app.js --phase post
  goldgate gate evaluate --stdin < payload.json`,
	Args: cobra.NoArgs,
	RunE: runGateEvaluate,
}

func init() {
	gateEvaluateCmd.Flags().StringVar(&gateTool, "tool", "", "name of the tool performing the action")
	gateEvaluateCmd.Flags().StringVar(&gatePath, "path", "", "target path of the action")
	gateEvaluateCmd.Flags().StringVar(&gatePhase, "phase", "", "pre or post")
	gateEvaluateCmd.Flags().BoolVar(&gateStdin, "stdin", false, "read the hook host JSON payload from stdin")
	gateCmd.AddCommand(gateEvaluateCmd)
	rootCmd.AddCommand(gateCmd)
}

// hookPayload is the subset of the hook host payload the gate reads.
type hookPayload struct {
	HookEventName string `json:"hook_event_name"`
	ToolName      string `json:"tool_name"`
	Cwd           string `json:"cwd"`
	ToolInput     struct {
		FilePath     string `json:"file_path"`
		NotebookPath string `json:"notebook_path"`
		Path         string `json:"path"`
	} `json:"tool_input"`
}

func (p hookPayload) target() string {
	switch {
	case p.ToolInput.FilePath != "":
		return p.ToolInput.FilePath
	case p.ToolInput.NotebookPath != "":
		return p.ToolInput.NotebookPath
	default:
		return p.ToolInput.Path
	}
}

// gateOutput is the --json form of a decision.
type gateOutput struct {
	model.Decision
	Tool     string `json:"tool"`
	Path     string `json:"path"`
	Phase    string `json:"phase"`
	ExitCode int    `json:"exit_code"`
	Seq      uint64 `json:"ledger_seq,omitempty"`
}

func readHookPayload(r io.Reader) (hookPayload, error) {
	var p hookPayload
	data, err := io.ReadAll(r)
	if err != nil {
		return p, fmt.Errorf("read hook payload: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, errclass.ErrConfiguration.WithMessagef("hook payload is not valid JSON: %v", err)
	}
	return p, nil
}

func runGateEvaluate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	inv, cwd, err := gateInvocation(cmd.InOrStdin())
	if err != nil {
		// Without a phase the safe reading is pre: refuse.
		return withExit(model.VerdictBlock.ExitCode(), err)
	}

	// Unreadable configuration fails closed before the action and warns after it.
	failCode := model.VerdictBlock.ExitCode()
	if inv.Phase == model.PhasePost {
		failCode = model.VerdictWarn.ExitCode()
	}

	root, e, err := gateRepo(cwd)
	if err != nil {
		return withExit(failCode, err)
	}
	cfg := config.Default()
	if e != nil {
		defer e.Close()
		cfg = e.cfg
	}

	rules, source, err := policy.LoadOrDefault(config.Resolve(root, cfg.Paths.RulesFile), cfg.Paths.GoldenRoot)
	if err != nil {
		return withExit(failCode, err)
	}
	logging.Debug("rules loaded", map[string]any{"source": source, "count": len(rules)})

	gate := policy.NewGate(rules, scanner.New(execrun.NewOSRunner(), cfg.Scanner, root), policy.WithRoot(root))
	decision := gate.Evaluate(ctx, inv)
	rel, _ := pathutil.RelToRoot(root, inv.Path)
	code := decision.Verdict.ExitCode()

	var seq uint64
	if e != nil {
		seq, err = e.ledger.Append(ctx, decisionEntry(inv, rel, decision))
		if err != nil {
			if jsonOutput {
				outputJSON(gateOutput{Decision: decision, Tool: inv.Tool, Path: rel, Phase: string(inv.Phase), ExitCode: failCode})
			}
			return withExit(failCode, fmt.Errorf("decision could not be recorded: %w", err))
		}
		if decision.Verdict == model.VerdictBlock && e.webhooks != nil {
			e.webhooks.Send(webhook.Event{
				Event:     webhook.EventGateBlock,
				RepoRoot:  root,
				Path:      rel,
				Actor:     inv.Tool,
				Reason:    decision.Reason,
				LedgerSeq: seq,
				Metadata:  map[string]any{"rule_id": decision.RuleID, "phase": string(inv.Phase)},
			}, true)
		}
	}

	if jsonOutput {
		outputJSON(gateOutput{Decision: decision, Tool: inv.Tool, Path: rel, Phase: string(inv.Phase), ExitCode: code, Seq: seq})
	} else {
		printDecision(cmd.OutOrStdout(), decision)
	}
	if code != 0 {
		return withExit(code, nil)
	}
	return nil
}

// gateInvocation assembles the invocation from flags and, with --stdin, the
// hook payload. It returns the directory relative paths are resolved from.
func gateInvocation(stdin io.Reader) (model.ToolInvocation, string, error) {
	inv := model.ToolInvocation{Tool: gateTool, Timestamp: time.Now().UTC()}
	target := gatePath
	phase := gatePhase

	cwd, err := os.Getwd()
	if err != nil {
		return inv, "", fmt.Errorf("cannot get current directory: %w", err)
	}

	if gateStdin {
		p, err := readHookPayload(stdin)
		if err != nil {
			return inv, cwd, err
		}
		if inv.Tool == "" {
			inv.Tool = p.ToolName
		}
		if target == "" {
			target = p.target()
		}
		if phase == "" {
			phase = p.HookEventName
		}
		if p.Cwd != "" {
			cwd = p.Cwd
		}
	}

	if target == "" {
		return inv, cwd, errclass.ErrConfiguration.WithMessage("no target path (use --path or --stdin)")
	}
	if phase == "" {
		return inv, cwd, errclass.ErrConfiguration.WithMessage("no phase (use --phase pre|post)")
	}
	inv.Phase, err = model.ParsePhase(phase)
	if err != nil {
		return inv, cwd, errclass.ErrConfiguration.WithMessage(err.Error())
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(cwd, target)
	}
	inv.Path = filepath.Clean(target)
	return inv, cwd, nil
}

// gateRepo finds the governed repository. Outside one the gate still
// evaluates the built-in rules relative to cwd, but nothing is ledgered.
func gateRepo(cwd string) (string, *env, error) {
	r, err := repo.Discover(cwd)
	if err != nil {
		if errors.Is(err, errclass.ErrNotFound) {
			logging.Warn("not inside a goldgate repository; decision is not ledgered", map[string]any{"cwd": cwd})
			return cwd, nil, nil
		}
		return "", nil, err
	}
	e, err := openEnv(r)
	if err != nil {
		return "", nil, err
	}
	return r.Root, e, nil
}

func decisionEntry(inv model.ToolInvocation, rel string, d model.Decision) model.LedgerEntry {
	details := map[string]any{
		"tool":   inv.Tool,
		"phase":  string(inv.Phase),
		"reason": d.Reason,
	}
	if d.RuleID != "" {
		details["rule_id"] = d.RuleID
	}
	if len(d.Notes) > 0 {
		details["notes"] = d.Notes
	}
	if len(d.Findings) > 0 {
		findings := make([]map[string]any, 0, len(d.Findings))
		for _, f := range d.Findings {
			findings = append(findings, map[string]any{"rule_id": f.RuleID, "file": f.File, "line": f.Line})
		}
		details["findings"] = findings
	}
	actor := inv.Tool
	if actor == "" {
		actor = "agent"
	}
	return model.LedgerEntry{
		Timestamp: inv.Timestamp,
		Actor:     actor,
		Kind:      model.KindGateDecision,
		Outcome:   string(d.Verdict),
		Subject:   rel,
		Details:   details,
	}
}

func printDecision(w io.Writer, d model.Decision) {
	switch d.Verdict {
	case model.VerdictBlock:
		fmt.Fprintf(w, "%s %s\n", color.Error("BLOCK"), d.Reason)
	case model.VerdictWarn:
		fmt.Fprintf(w, "%s %s\n", color.Warning("WARN"), d.Reason)
	default:
		if d.HasNote(model.NoteScannerUnavailable) {
			fmt.Fprintf(w, "%s %s\n", color.Dim("ALLOW"), d.Reason)
		}
	}
}
