package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jvs-project/goldgate/internal/policy"
	"github.com/jvs-project/goldgate/pkg/color"
	"github.com/jvs-project/goldgate/pkg/config"
	"github.com/jvs-project/goldgate/pkg/model"
)

var rulesCmd = &cobra.Command{
	Use:   "rules <command>",
	Short: "Inspect protected path rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the rules the gate evaluates, in order",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Validate a rules file",
	Long: `Validate a rules file.

Without an argument the repository's configured rules file is checked.
Exits 1 when the file is invalid.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRulesCheck,
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesCheckCmd)
	rootCmd.AddCommand(rulesCmd)
}

func runRulesList(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	rules, source, err := policy.LoadOrDefault(e.path(e.cfg.Paths.RulesFile), e.cfg.Paths.GoldenRoot)
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(map[string]any{"source": source, "rules": rules})
	}
	fmt.Println(color.Header(fmt.Sprintf("Rules from %s:", source)))
	for i, r := range rules {
		verdict := r.Verdict
		if verdict == "" {
			verdict = model.VerdictBlock
		}
		tools := "all tools"
		if len(r.Tools) > 0 {
			tools = strings.Join(r.Tools, ",")
		}
		fmt.Printf("%3d. %-20s %-30s %-5s %s\n", i+1, color.Code(r.ID), r.Pattern, verdict, color.Dim(tools))
	}
	return nil
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		p, err := absFromCwd(args[0])
		if err != nil {
			return err
		}
		path = p
	} else {
		r, err := requireRepo()
		if err != nil {
			return err
		}
		cfg, err := config.Load(r.Root)
		if err != nil {
			return err
		}
		path = config.Resolve(r.Root, cfg.Paths.RulesFile)
	}

	rules, err := policy.LoadRules(path)
	if err != nil {
		if jsonOutput {
			outputJSON(map[string]any{"file": path, "valid": false, "error": err.Error()})
		}
		return withExit(1, err)
	}
	if jsonOutput {
		return outputJSON(map[string]any{"file": path, "valid": true, "rules": len(rules)})
	}
	fmt.Printf("%s %s (%d rules)\n", color.Success("Valid:"), path, len(rules))
	return nil
}
