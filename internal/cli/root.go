package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jvs-project/goldgate/pkg/color"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/logging"
)

var (
	jsonOutput bool
	debugLog   bool
	noColor    bool
	rootCmd    = &cobra.Command{
		Use:   "goldgate",
		Short: "goldgate - policy gate and golden-test promotion for coding agents",
		Long: `goldgate controls and audits what an autonomous coding agent may permanently
change. Hook hosts call 'goldgate gate evaluate' around every file mutation;
generated tests become immutable golden tests only through 'goldgate promote';
'goldgate enforce-permissions' keeps the golden store read-only. Every decision
and lifecycle transition is appended to a hash-chained ledger.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupOutput,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging on stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// exitError carries a process exit status to Execute. A nil err means the
// command already reported its outcome.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func withExit(code int, err error) error {
	return &exitError{code: code, err: err}
}

// Execute runs the root command.
func Execute() {
	os.Exit(exitCode(rootCmd.Execute()))
}

// exitCode reports err on stderr and maps it to a process status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			reportErr(ee.err)
		}
		return ee.code
	}
	reportErr(err)
	return 1
}

// reportErr prints err, plus a pointer to doctor for the classes that leave
// goldgate unable to record or evaluate anything.
func reportErr(err error) {
	fmtErr("%v", err)
	if errclass.Fatal(err) {
		fmtErr("%s is unrecoverable; run 'goldgate doctor' to diagnose", errclass.Code(err))
	}
}

func setupOutput(cmd *cobra.Command, args []string) error {
	color.Init(noColor)
	level := logging.LevelWarn
	if debugLog {
		level = logging.LevelDebug
	}
	logging.SetGlobal(logging.NewLogger(level))
	return nil
}

// applyLogging switches the global logger to the repository's settings.
// --debug always wins.
func applyLogging(levelName, formatName string) error {
	l := logging.Global()
	if !debugLog && levelName != "" {
		level, err := logging.ParseLevel(levelName)
		if err != nil {
			return errclass.ErrConfiguration.WithMessage(err.Error())
		}
		l.SetLevel(level)
	}
	if formatName != "" {
		format, err := logging.ParseFormat(formatName)
		if err != nil {
			return errclass.ErrConfiguration.WithMessage(err.Error())
		}
		l.SetFormat(format)
	}
	return nil
}

// outputJSON prints v as JSON if --json flag is set, otherwise does nothing.
func outputJSON(v any) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
