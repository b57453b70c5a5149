package promotion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jvs-project/goldgate/internal/execrun"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/logging"
	"github.com/jvs-project/goldgate/pkg/template"
)

// TestReport is the outcome of running the suite associated with an artifact.
type TestReport struct {
	Passed   bool
	ExitCode int
	Output   string
	Duration time.Duration
}

// TestRunner runs the test suite for one artifact.
// A returned error means the caller's context ended; every other failure
// to run the suite is reported as a failing TestReport.
type TestRunner interface {
	RunTests(ctx context.Context, path string) (TestReport, error)
}

// CommandTestRunner runs a configured command line, e.g. "pytest -q {path}".
type CommandTestRunner struct {
	runner  execrun.Runner
	command []string
	dir     string
	timeout time.Duration
}

// NewCommandTestRunner returns a runner executing command in dir.
// Placeholders {path}, {dir}, {name} and {stem} refer to the artifact.
func NewCommandTestRunner(runner execrun.Runner, command []string, dir string, timeout time.Duration) *CommandTestRunner {
	if runner == nil {
		runner = execrun.NewOSRunner()
	}
	return &CommandTestRunner{runner: runner, command: command, dir: dir, timeout: timeout}
}

func (r *CommandTestRunner) RunTests(ctx context.Context, path string) (TestReport, error) {
	if len(r.command) == 0 || strings.TrimSpace(r.command[0]) == "" {
		return TestReport{}, errclass.ErrConfiguration.WithMessage("promotion.test_command is empty")
	}
	args := template.ExpandArgs(r.command, template.PathVars(path))

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := execrun.Command{Name: args[0], Args: args[1:], Dir: r.dir}
	logging.Debug("running tests", map[string]any{"command": cmd.String()})
	res, err := r.runner.Run(runCtx, cmd)
	report := TestReport{
		ExitCode: res.ExitCode,
		Output:   strings.TrimSpace(res.Stdout + res.Stderr),
		Duration: res.Duration,
	}
	if err != nil {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			report.Output = fmt.Sprintf("test command timed out after %s", r.timeout)
		case errors.Is(err, execrun.ErrNotInstalled):
			report.Output = fmt.Sprintf("test command %q not found", args[0])
		default:
			report.Output = err.Error()
		}
		report.ExitCode = -1
		logging.Warn("test command failed to run", map[string]any{"command": cmd.String(), "error": report.Output})
		return report, nil
	}
	report.Passed = res.ExitCode == 0
	return report, nil
}
