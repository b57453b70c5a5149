package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/goldgate/pkg/color"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/model"
)

var (
	ledgerKind    string
	ledgerSubject string
	ledgerLimit   int
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger <command>",
	Short: "Inspect the audit ledger",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show ledger entries, newest last",
	Example: `  goldgate ledger show --kind promotion
  goldgate ledger show --subject test_refund.py --limit 5`,
	Args: cobra.NoArgs,
	RunE: runLedgerShow,
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the ledger hash chain",
	Long: `Verify the ledger hash chain.

Checks that sequence numbers are contiguous, that every entry links to the
previous one, and that no entry was edited. Exits 1 when the chain is broken.`,
	Args: cobra.NoArgs,
	RunE: runLedgerVerify,
}

func init() {
	ledgerShowCmd.Flags().StringVar(&ledgerKind, "kind", "", "only entries of this kind (gate_decision, promotion, drift_corrected)")
	ledgerShowCmd.Flags().StringVar(&ledgerSubject, "subject", "", "only entries about this artifact or path")
	ledgerShowCmd.Flags().IntVarP(&ledgerLimit, "limit", "n", 0, "show at most the last N matching entries")
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerVerifyCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	entries, err := e.ledger.Replay(ctx)
	if err != nil {
		return err
	}
	entries = filterEntries(entries, model.ActionKind(ledgerKind), ledgerSubject, ledgerLimit)

	if jsonOutput {
		if entries == nil {
			entries = []model.LedgerEntry{}
		}
		return outputJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No ledger entries.")
		return nil
	}
	for _, en := range entries {
		fmt.Printf("%s  %s  %-15s %-9s %s %s\n",
			color.Dim(fmt.Sprintf("%6d", en.Seq)),
			en.Timestamp.Local().Format("2006-01-02 15:04:05"),
			en.Kind,
			outcomeLabel(en.Outcome),
			color.ArtifactID(en.Subject),
			color.Dim(en.Actor),
		)
	}
	return nil
}

func filterEntries(entries []model.LedgerEntry, kind model.ActionKind, subject string, limit int) []model.LedgerEntry {
	var out []model.LedgerEntry
	for _, en := range entries {
		if kind != "" && en.Kind != kind {
			continue
		}
		if subject != "" && en.Subject != subject {
			continue
		}
		out = append(out, en)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func outcomeLabel(outcome string) string {
	switch outcome {
	case string(model.VerdictBlock), model.OutcomeRejected:
		return color.Error(outcome)
	case string(model.VerdictWarn), model.OutcomeCorrected:
		return color.Warning(outcome)
	case model.OutcomeGolden:
		return color.Success(outcome)
	default:
		return outcome
	}
}

func runLedgerVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	report, err := e.ledger.Verify(ctx)
	if err != nil && !errors.Is(err, errclass.ErrLedgerChainBroken) {
		return err
	}

	if jsonOutput {
		outputJSON(report)
	} else if report.OK() {
		fmt.Printf("%s %d entries, last seq %d\n", color.Success("Ledger OK:"), report.Entries, report.LastSeq)
	} else {
		fmt.Printf("%s %d problem(s) in %d entries\n", color.Error("Ledger broken:"), len(report.Problems), report.Entries)
		for _, p := range report.Problems {
			fmt.Printf("  line %d: %s\n", p.Line, p.Message)
		}
	}
	if !report.OK() {
		return withExit(1, nil)
	}
	return nil
}
