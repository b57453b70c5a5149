package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jvs-project/goldgate/internal/execrun"
	"github.com/jvs-project/goldgate/internal/promotion"
	"github.com/jvs-project/goldgate/pkg/color"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/model"
)

// Exit codes of 'goldgate promote'.
const (
	exitPromoteRejected      = 1
	exitPromoteDenied        = 3
	exitPromoteLocked        = 4
	exitPromoteLedgerFailure = 5
)

var (
	promoteOverwrite   bool
	promoteReviewer    string
	promoteChecklist   string
	promoteInteractive bool
	promoteCritical    bool
	promoteStability   bool
	promoteAssertions  bool
	promoteDocumented  bool
)

var promoteCmd = &cobra.Command{
	Use:   "promote <generated-test>",
	Short: "Promote a generated test to an immutable golden test",
	Long: `Promote a generated test to an immutable golden test.

The test suite for the artifact runs first (promotion.test_command); any
failure rejects it. The reviewer then answers the quality checklist:
  critical_behavior, stability, clear_assertions, documented
All four must be true. On success the file is copied to the golden root,
made read-only, optionally committed, and recorded in the ledger.

Re-promoting unchanged content is a no-op. Replacing a golden test with
different content requires --overwrite.

Exit status: 0 golden or no-op, 1 rejected, 3 permission denied,
4 another promotion holds the artifact, 5 ledger write failure.`,
	Example: `  goldgate promote tests/generated/test_refund.py --interactive
  goldgate promote tests/generated/test_refund.py --checklist review.yaml
  goldgate promote tests/generated/test_refund.py --critical-behavior --stability --clear-assertions --documented`,
	Args: cobra.ExactArgs(1),
	RunE: runPromote,
}

func init() {
	promoteCmd.Flags().BoolVar(&promoteOverwrite, "overwrite", false, "elevated approval to replace an existing golden test")
	promoteCmd.Flags().StringVar(&promoteReviewer, "reviewer", "", "reviewer identity (default $GOLDGATE_REVIEWER or $USER)")
	promoteCmd.Flags().StringVar(&promoteChecklist, "checklist", "", "read checklist answers from a YAML or JSON file")
	promoteCmd.Flags().BoolVarP(&promoteInteractive, "interactive", "i", false, "ask the checklist questions on the terminal")
	promoteCmd.Flags().BoolVar(&promoteCritical, "critical-behavior", false, "checklist: covers critical behavior")
	promoteCmd.Flags().BoolVar(&promoteStability, "stability", false, "checklist: stable, not flaky")
	promoteCmd.Flags().BoolVar(&promoteAssertions, "clear-assertions", false, "checklist: assertions are clear")
	promoteCmd.Flags().BoolVar(&promoteDocumented, "documented", false, "checklist: intent is documented")
	promoteCmd.MarkFlagsMutuallyExclusive("checklist", "interactive")
	rootCmd.AddCommand(promoteCmd)
}

type promoteOutput struct {
	Artifact    *model.TestArtifact     `json:"artifact,omitempty"`
	Record      *model.PromotionRecord  `json:"record,omitempty"`
	Seq         uint64                  `json:"seq,omitempty"`
	NoOp        bool                    `json:"no_op"`
	Transitions []model.ArtifactStatus  `json:"transitions,omitempty"`
	Code        string                  `json:"code,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

func runPromote(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	source, err := checklistSource(cmd)
	if err != nil {
		return err
	}
	src, err := absFromCwd(args[0])
	if err != nil {
		return err
	}

	runner := execrun.NewOSRunner()
	opts := []promotion.Option{}
	if e.cfg.Promotion.Commit {
		opts = append(opts, promotion.WithCommitter(promotion.NewGitCommitter(runner, e.repo.Root)))
	}
	if n := e.notifier(); n != nil {
		opts = append(opts, promotion.WithNotifier(n))
	}
	wf := promotion.New(
		e.repo.Root,
		e.path(e.cfg.Paths.GeneratedRoot),
		e.path(e.cfg.Paths.GoldenRoot),
		e.ledger,
		e.locks(),
		promotion.NewCommandTestRunner(runner, e.cfg.Promotion.TestCommand, e.repo.Root, e.cfg.Promotion.TestTimeout),
		opts...,
	)

	res, err := wf.Promote(ctx, promotion.Request{
		SourcePath: src,
		Reviewer:   reviewerIdentity(),
		Checklist:  source,
		Overwrite:  promoteOverwrite,
	})

	if jsonOutput {
		out := promoteOutput{}
		if res != nil {
			out.Artifact = &res.Artifact
			out.Record = res.Record
			out.Seq = res.Seq
			out.NoOp = res.NoOp
			out.Transitions = res.Transitions
		}
		if err != nil {
			out.Code = errclass.Code(err)
			out.Error = err.Error()
		}
		outputJSON(out)
	} else if res != nil {
		printPromotion(res)
	}

	if err != nil {
		if errors.Is(err, errclass.ErrNotFound) && !jsonOutput {
			err = formatSourceNotFoundError(err, args[0], e.path(e.cfg.Paths.GeneratedRoot), e.cfg.Paths.GeneratedRoot)
		}
		return withExit(promoteExitCode(err), err)
	}
	return nil
}

func checklistSource(cmd *cobra.Command) (promotion.ChecklistSource, error) {
	switch {
	case promoteChecklist != "":
		return promotion.File{Path: promoteChecklist}, nil
	case promoteInteractive:
		return promotion.NewPrompter(cmd.InOrStdin(), cmd.ErrOrStderr()), nil
	}
	flags := []string{"critical-behavior", "stability", "clear-assertions", "documented"}
	for _, name := range flags {
		if cmd.Flags().Changed(name) {
			return promotion.Static{Checklist: model.Checklist{
				CriticalBehavior: promoteCritical,
				Stability:        promoteStability,
				ClearAssertions:  promoteAssertions,
				Documented:       promoteDocumented,
			}}, nil
		}
	}
	return nil, errclass.ErrConfiguration.WithMessage(
		"no checklist answers: use --interactive, --checklist FILE, or the --critical-behavior/--stability/--clear-assertions/--documented flags")
}

func reviewerIdentity() string {
	if promoteReviewer != "" {
		return promoteReviewer
	}
	if v := os.Getenv("GOLDGATE_REVIEWER"); v != "" {
		return v
	}
	return os.Getenv("USER")
}

func promoteExitCode(err error) int {
	switch {
	case errors.Is(err, errclass.ErrLedgerWriteFailure):
		return exitPromoteLedgerFailure
	case errors.Is(err, errclass.ErrLockContention):
		return exitPromoteLocked
	case errors.Is(err, errclass.ErrPermissionDenied):
		return exitPromoteDenied
	default:
		return exitPromoteRejected
	}
}

func printPromotion(res *promotion.Result) {
	rec := res.Record
	switch {
	case res.NoOp:
		fmt.Printf("%s is already golden with identical content (ledger seq %d)\n", color.ArtifactID(rec.ArtifactID), res.Seq)
	case rec.Status == model.StatusGolden:
		fmt.Printf("Promoted %s to golden: %s\n", color.ArtifactID(rec.ArtifactID), color.Success(rec.GoldenPath))
		fmt.Printf("  Reviewer:   %s\n", rec.Reviewer)
		fmt.Printf("  Ledger seq: %d\n", res.Seq)
		if rec.CommitRef != "" {
			fmt.Printf("  Commit:     %s\n", rec.CommitRef)
		}
		if rec.Supersedes != "" {
			fmt.Printf("  Supersedes: %s\n", color.Dim(rec.Supersedes.Short()))
		}
	default:
		fmt.Printf("%s %s: %s (ledger seq %d)\n", color.Error("Rejected"), color.ArtifactID(rec.ArtifactID), rec.Reason, res.Seq)
		if rec.Reason == model.ReasonTestFailed && res.TestOutput != "" {
			fmt.Println(color.Dim(res.TestOutput))
		}
	}
}
