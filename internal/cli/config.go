package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jvs-project/goldgate/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config <command>",
	Short: "Inspect goldgate configuration",
	Long: `Inspect goldgate configuration stored in .goldgate/config.yaml.

Values are the file merged over the defaults, with GOLDGATE_* environment
overrides applied (for example GOLDGATE_SCANNER_TIMEOUT=30s).

Available commands:
  show       - Show the effective configuration
  get <key>  - Get one value by dotted key, e.g. promotion.lock_mode`,
	DisableFlagsInUseLine: true,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := requireRepo()
		if err != nil {
			return err
		}
		cfg, err := config.Load(r.Root)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(cfg)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Println("# goldgate configuration")
		fmt.Printf("# Location: %s\n\n", config.Path(r.Root))
		fmt.Print(string(data))
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Example: `  goldgate config get scanner.binary
  goldgate config get promotion.test_command`,
	Args: cobra.ExactArgs(1),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return config.Default().Keys(), cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := requireRepo()
		if err != nil {
			return err
		}
		cfg, err := config.Load(r.Root)
		if err != nil {
			return err
		}

		value, err := cfg.Get(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]any{args[0]: value})
		}

		switch v := value.(type) {
		case nil:
			fmt.Printf("%s (not set)\n", args[0])
		case []any, map[string]any:
			data, err := yaml.Marshal(v)
			if err != nil {
				return fmt.Errorf("marshal value: %w", err)
			}
			fmt.Println(strings.TrimRight(string(data), "\n"))
		default:
			fmt.Println(v)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	rootCmd.AddCommand(configCmd)
}
