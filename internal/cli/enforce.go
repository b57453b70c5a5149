package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/goldgate/internal/enforcer"
	"github.com/jvs-project/goldgate/pkg/color"
)

var enforceDryRun bool

var enforceCmd = &cobra.Command{
	Use:   "enforce-permissions",
	Short: "Restore read-only permissions on golden tests",
	Long: `Restore read-only permissions on golden tests.

Every artifact the ledger records as golden is checked. Writable files are
reset to 0444 and each reset is appended to the ledger as drift_corrected.
File contents are never touched. Artifacts with a promotion in progress are
skipped; missing files are reported.`,
	Args: cobra.NoArgs,
	RunE: runEnforce,
}

func init() {
	enforceCmd.Flags().BoolVar(&enforceDryRun, "dry-run", false, "report drift without changing anything")
	rootCmd.AddCommand(enforceCmd)
}

func runEnforce(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	opts := []enforcer.Option{enforcer.WithLocks(e.locks())}
	if n := e.notifier(); n != nil {
		opts = append(opts, enforcer.WithNotifier(n))
	}
	if enforceDryRun {
		opts = append(opts, enforcer.DryRun())
	}

	result, err := enforcer.New(e.repo.Root, e.ledger, opts...).Run(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(result)
	}

	verb := "Corrected"
	if result.DryRun {
		verb = "Would correct"
	}
	for _, c := range result.Corrections {
		fmt.Printf("%s %s (was %04o)\n", verb, color.ArtifactID(c.Path), c.PrevMode.Perm())
	}
	for _, id := range result.Skipped {
		fmt.Printf("%s %s: promotion in progress\n", color.Dim("Skipped"), id)
	}
	for _, p := range result.Problems {
		fmt.Printf("%s %s: %s\n", color.Warning("Problem"), p.Path, p.Message)
	}
	fmt.Printf("Checked %d golden test(s), %d drifted.\n", result.Checked, len(result.Corrections))
	return nil
}
