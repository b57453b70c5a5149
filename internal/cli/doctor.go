package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/goldgate/internal/doctor"
	"github.com/jvs-project/goldgate/pkg/color"
)

var (
	doctorStrict bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check repository health",
	Long: `Check repository health.

Runs diagnostic checks on the repository and reports any issues: format
version, rules file, secret scanner, ledger chain, golden permissions,
stale locks and leftover temp files. Use --strict to also compare golden
contents against the hashes recorded at promotion.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := doctor.NewDoctor(e.repo.Root, e.cfg).Check(ctx, doctorStrict)
		if err != nil {
			return fmt.Errorf("doctor: %w", err)
		}

		if jsonOutput {
			outputJSON(result)
		} else if len(result.Findings) == 0 {
			fmt.Println(color.Success("Repository is healthy."))
		} else {
			fmt.Printf("Findings (%d):\n", len(result.Findings))
			for _, f := range result.Findings {
				fmt.Printf("  [%s] %s: %s\n", severityLabel(f.Severity), f.Category, f.Description)
			}
		}

		if !result.Healthy {
			return withExit(1, nil)
		}
		return nil
	},
}

func severityLabel(s string) string {
	switch s {
	case "critical", "error":
		return color.Error(s)
	case "warning":
		return color.Warning(s)
	default:
		return color.Info(s)
	}
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorStrict, "strict", false, "include golden content verification")
	rootCmd.AddCommand(doctorCmd)
}
