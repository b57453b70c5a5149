package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jvs-project/goldgate/internal/audit"
	"github.com/jvs-project/goldgate/internal/lock"
	"github.com/jvs-project/goldgate/internal/repo"
	"github.com/jvs-project/goldgate/pkg/color"
	"github.com/jvs-project/goldgate/pkg/config"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/logging"
	"github.com/jvs-project/goldgate/pkg/webhook"
)

// requireRepo discovers the repo from CWD.
func requireRepo() (*repo.Repo, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("cannot get current directory: %w", err)
	}
	return repo.Discover(cwd)
}

// env bundles what most commands need: the repo, its config, the ledger and
// the optional notifier.
type env struct {
	repo     *repo.Repo
	cfg      *config.Config
	ledger   *audit.Ledger
	webhooks *webhook.Client
	closers  []func() error
}

// loadEnv discovers the repository and wires its ledger mirror and webhooks.
func loadEnv() (*env, error) {
	r, err := requireRepo()
	if err != nil {
		return nil, err
	}
	return openEnv(r)
}

func openEnv(r *repo.Repo) (*env, error) {
	cfg, err := config.Load(r.Root)
	if err != nil {
		return nil, err
	}
	if err := applyLogging(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, err
	}

	e := &env{repo: r, cfg: cfg}
	var ledgerOpts []audit.Option
	if cfg.Mirror.Enabled {
		mirror, err := audit.NewKafkaMirror(audit.KafkaMirrorConfig{
			Brokers: cfg.Mirror.Brokers,
			Topic:   cfg.Mirror.Topic,
		})
		if err != nil {
			return nil, errclass.ErrConfiguration.WithMessagef("ledger mirror: %v", err)
		}
		async := audit.NewAsyncMirror(mirror, 0, cfg.Mirror.DrainTimeout)
		ledgerOpts = append(ledgerOpts, audit.WithMirror(async))
		e.closers = append(e.closers, async.Close)
	}
	e.ledger = audit.NewLedger(e.path(cfg.Paths.LedgerFile), ledgerOpts...)

	if cfg.Webhooks.Enabled && len(cfg.Webhooks.Hooks) > 0 {
		e.webhooks = webhook.NewClient(&cfg.Webhooks)
		e.closers = append(e.closers, e.webhooks.Close)
	}
	return e, nil
}

// Close flushes queued webhooks and mirror entries, each bounded by its
// drain timeout.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			logging.Warn("shutdown", map[string]any{"error": err.Error()})
		}
	}
	e.closers = nil
}

// notifier returns nil (not a typed nil) when no webhooks are configured.
func (e *env) notifier() webhook.Notifier {
	if e.webhooks == nil {
		return nil
	}
	return e.webhooks
}

func (e *env) path(p string) string {
	return config.Resolve(e.repo.Root, p)
}

func (e *env) locks() *lock.Manager {
	return lock.NewManager(e.repo.LocksDir(), e.cfg.LockPolicy())
}

// absFromCwd turns a user-supplied path into an absolute one.
func absFromCwd(p string) (string, error) {
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	return filepath.Abs(p)
}

func fmtErr(format string, args ...any) {
	prefix := "goldgate: "
	if color.Enabled() {
		prefix = color.Error("goldgate:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}
