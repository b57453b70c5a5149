// Package execrun runs external tools (secret scanner, test runner, git)
// behind an interface so callers can be tested without real binaries.
package execrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command describes one process invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   map[string]string
	Stdin []byte
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the captured output of a finished process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes commands. A non-zero exit is reported through
// Result.ExitCode; the error is reserved for "could not run at all".
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ErrNotInstalled wraps exec.ErrNotFound for a missing binary.
var ErrNotInstalled = exec.ErrNotFound

// OSRunner executes commands using os/exec.
type OSRunner struct{}

// NewOSRunner constructs a runner backed by os/exec.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// Run executes cmd. Context cancellation or deadline is returned as the
// context error even though the process was started.
func (OSRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Name == "" {
		return Result{}, fmt.Errorf("empty command")
	}
	executable := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	executable.Dir = cmd.Dir
	// Children that inherit the pipes must not hold Run open after a kill.
	executable.WaitDelay = 2 * time.Second

	if len(cmd.Env) > 0 {
		env := append([]string{}, os.Environ()...)
		for k, v := range cmd.Env {
			env = append(env, k+"="+v)
		}
		executable.Env = env
	}

	var stdout, stderr bytes.Buffer
	executable.Stdout = &stdout
	executable.Stderr = &stderr
	if len(cmd.Stdin) > 0 {
		executable.Stdin = bytes.NewReader(cmd.Stdin)
	}

	start := time.Now()
	runErr := executable.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", cmd.Name, ctxErr)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, runErr
	}
	return res, nil
}
