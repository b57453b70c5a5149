package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jvs-project/goldgate/internal/policy"
	"github.com/jvs-project/goldgate/internal/repo"
	"github.com/jvs-project/goldgate/pkg/color"
	"github.com/jvs-project/goldgate/pkg/config"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Set up goldgate in a repository",
	Long: `Set up goldgate in a repository (default: the current directory).

This creates:
  - .goldgate/ with format_version, repo_id, config.yaml and locks/
  - .goldgate/rules.yaml with the built-in protected path rules
  - the generated and golden test roots

Running init again keeps existing configuration and rules.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "."
		if len(args) == 1 {
			target = args[0]
		}
		path, err := absFromCwd(target)
		if err != nil {
			return err
		}

		cfg := config.Default()
		r, err := repo.Init(path, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize repository: %w", err)
		}
		// An existing config wins over the defaults used above.
		if cfg, err = config.Load(r.Root); err != nil {
			return err
		}

		rulesPath := config.Resolve(r.Root, cfg.Paths.RulesFile)
		if _, err := os.Stat(rulesPath); os.IsNotExist(err) {
			if err := policy.WriteRules(rulesPath, policy.DefaultRules(cfg.Paths.GoldenRoot)); err != nil {
				return err
			}
		}

		if jsonOutput {
			return outputJSON(map[string]any{
				"repo_root":      r.Root,
				"format_version": r.FormatVersion,
				"repo_id":        r.RepoID,
				"rules_file":     rulesPath,
			})
		}
		fmt.Printf("Initialized goldgate in %s\n", color.Success(r.Root))
		fmt.Printf("  Generated tests: %s\n", cfg.Paths.GeneratedRoot)
		fmt.Printf("  Golden tests:    %s\n", cfg.Paths.GoldenRoot)
		fmt.Printf("  Rules:           %s\n", cfg.Paths.RulesFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
