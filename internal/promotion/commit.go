package promotion

import (
	"context"
	"fmt"
	"strings"

	"github.com/jvs-project/goldgate/internal/execrun"
)

// Committer records a golden file in version control and returns the
// resulting commit reference.
type Committer interface {
	Commit(ctx context.Context, path, message string) (string, error)
}

// NopCommitter skips version control; records carry no commit reference.
type NopCommitter struct{}

func (NopCommitter) Commit(context.Context, string, string) (string, error) {
	return "", nil
}

// GitCommitter commits exactly one path with git.
type GitCommitter struct {
	runner execrun.Runner
	dir    string
}

// NewGitCommitter returns a committer operating on the worktree at dir.
func NewGitCommitter(runner execrun.Runner, dir string) *GitCommitter {
	if runner == nil {
		runner = execrun.NewOSRunner()
	}
	return &GitCommitter{runner: runner, dir: dir}
}

func (g *GitCommitter) Commit(ctx context.Context, path, message string) (string, error) {
	if _, err := g.git(ctx, "add", "--", path); err != nil {
		return "", err
	}
	if _, err := g.git(ctx, "commit", "--quiet", "-m", message, "--", path); err != nil {
		return "", err
	}
	ref, err := g.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (g *GitCommitter) git(ctx context.Context, args ...string) (string, error) {
	cmd := execrun.Command{Name: "git", Args: args, Dir: g.dir}
	res, err := g.runner.Run(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%s: exit %d: %s", cmd, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}
