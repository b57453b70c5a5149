package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/jvs-project/goldgate/internal/audit"
	"github.com/jvs-project/goldgate/internal/enforcer"
	"github.com/jvs-project/goldgate/internal/integrity"
	"github.com/jvs-project/goldgate/internal/lock"
	"github.com/jvs-project/goldgate/internal/policy"
	"github.com/jvs-project/goldgate/internal/repo"
	"github.com/jvs-project/goldgate/pkg/config"
	"github.com/jvs-project/goldgate/pkg/fsutil"
)

// Finding represents a detected issue.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Path        string `json:"path,omitempty"`
}

// Result contains doctor check results.
type Result struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

func (r *Result) add(f Finding) {
	if f.Severity == "critical" || f.Severity == "error" {
		r.Healthy = false
	}
	r.Findings = append(r.Findings, f)
}

// Doctor performs repository health checks.
type Doctor struct {
	repoRoot string
	cfg      *config.Config
	lookPath func(string) (string, error)
}

// NewDoctor creates a new doctor.
func NewDoctor(repoRoot string, cfg *config.Config) *Doctor {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Doctor{repoRoot: repoRoot, cfg: cfg, lookPath: exec.LookPath}
}

// Check runs all diagnostic checks. Strict mode also re-hashes every
// golden file against its promotion record.
func (d *Doctor) Check(ctx context.Context, strict bool) (*Result, error) {
	result := &Result{Healthy: true, Findings: []Finding{}}
	ledger := audit.NewLedger(d.path(d.cfg.Paths.LedgerFile))

	d.checkFormatVersion(result)
	d.checkRules(result)
	d.checkScanner(result)
	d.checkLedger(ctx, ledger, result)
	d.checkDrift(ctx, ledger, result)
	if strict {
		d.checkGoldenContent(ctx, ledger, result)
	}
	d.checkExpiredLocks(result)
	d.checkOrphanTmp(result)

	return result, ctx.Err()
}

func (d *Doctor) checkFormatVersion(result *Result) {
	versionPath := filepath.Join(d.repoRoot, repo.StateDirName, repo.FormatVersionFile)
	data, err := os.ReadFile(versionPath)
	if err != nil {
		result.add(Finding{
			Category:    "format",
			Description: "format_version file missing or unreadable",
			Severity:    "critical",
			Path:        versionPath,
		})
		return
	}

	var version int
	fmt.Sscanf(string(data), "%d", &version)
	if version > repo.FormatVersion {
		result.add(Finding{
			Category:    "format",
			Description: fmt.Sprintf("format version %d > supported %d", version, repo.FormatVersion),
			Severity:    "critical",
		})
	}
}

func (d *Doctor) checkRules(result *Result) {
	rulesPath := d.path(d.cfg.Paths.RulesFile)
	_, source, err := policy.LoadOrDefault(rulesPath, d.cfg.Paths.GoldenRoot)
	if err != nil {
		result.add(Finding{
			Category:    "rules",
			Description: err.Error(),
			Severity:    "critical",
			Path:        rulesPath,
		})
		return
	}
	if source != rulesPath {
		result.add(Finding{
			Category:    "rules",
			Description: "no rules file; the built-in default rule set is in effect",
			Severity:    "info",
			Path:        rulesPath,
		})
	}
}

func (d *Doctor) checkScanner(result *Result) {
	bin := d.cfg.Scanner.Binary
	if bin == "" {
		result.add(Finding{
			Category:    "scanner",
			Description: "no secret scanner configured; post-phase checks only apply rules",
			Severity:    "warning",
		})
		return
	}
	if _, err := d.lookPath(bin); err != nil {
		result.add(Finding{
			Category:    "scanner",
			Description: fmt.Sprintf("secret scanner %q not found; post-phase scans degrade to allow", bin),
			Severity:    "warning",
		})
	}
}

func (d *Doctor) checkLedger(ctx context.Context, ledger *audit.Ledger, result *Result) {
	report, err := ledger.Verify(ctx)
	if report == nil {
		result.add(Finding{
			Category:    "ledger",
			Description: fmt.Sprintf("cannot read ledger: %v", err),
			Severity:    "critical",
			Path:        ledger.Path(),
		})
		return
	}
	for _, p := range report.Problems {
		result.add(Finding{
			Category:    "ledger",
			Description: fmt.Sprintf("line %d: %s", p.Line, p.Message),
			Severity:    "critical",
			Path:        ledger.Path(),
		})
	}
}

func (d *Doctor) checkDrift(ctx context.Context, ledger *audit.Ledger, result *Result) {
	lockMgr := lock.NewManager(d.path(filepath.Join(repo.StateDirName, repo.LocksDirName)), d.cfg.LockPolicy())
	sweep, err := enforcer.New(d.repoRoot, ledger, enforcer.DryRun(), enforcer.WithLocks(lockMgr)).Run(ctx)
	if err != nil {
		result.add(Finding{
			Category:    "golden",
			Description: fmt.Sprintf("cannot check golden store: %v", err),
			Severity:    "error",
		})
		return
	}
	for _, c := range sweep.Corrections {
		result.add(Finding{
			Category:    "golden",
			Description: fmt.Sprintf("golden test %s is writable (mode %04o); run 'goldgate enforce-permissions'", c.ArtifactID, uint32(c.PrevMode)),
			Severity:    "warning",
			Path:        c.Path,
		})
	}
	for _, p := range sweep.Problems {
		result.add(Finding{
			Category:    "golden",
			Description: fmt.Sprintf("golden test %s: %s", p.ArtifactID, p.Message),
			Severity:    "error",
			Path:        p.Path,
		})
	}
}

func (d *Doctor) checkGoldenContent(ctx context.Context, ledger *audit.Ledger, result *Result) {
	golden, err := enforcer.New(d.repoRoot, ledger).Golden(ctx)
	if err != nil {
		return
	}
	for _, art := range golden {
		hash, err := integrity.HashFile(d.path(art.GoldenPath))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // reported by checkDrift
			}
			result.add(Finding{
				Category:    "integrity",
				Description: fmt.Sprintf("cannot hash golden test %s: %v", art.ID, err),
				Severity:    "error",
				Path:        art.GoldenPath,
			})
			continue
		}
		if hash != art.ContentHash {
			result.add(Finding{
				Category:    "integrity",
				Description: fmt.Sprintf("golden test %s content differs from its promotion record (%s != %s)", art.ID, hash.Short(), art.ContentHash.Short()),
				Severity:    "critical",
				Path:        art.GoldenPath,
			})
		}
	}
}

func (d *Doctor) checkExpiredLocks(result *Result) {
	lockMgr := lock.NewManager(d.path(filepath.Join(repo.StateDirName, repo.LocksDirName)), d.cfg.LockPolicy())
	records, err := lockMgr.List()
	if err != nil {
		return
	}
	now := time.Now()
	for _, rec := range records {
		if rec.IsExpired(now) {
			result.add(Finding{
				Category:    "lock",
				Description: fmt.Sprintf("expired promotion lock on '%s' held by pid %d (since %s)", rec.ArtifactID, rec.PID, rec.ExpiresAt.Format(time.RFC3339)),
				Severity:    "info",
			})
		}
	}
}

func (d *Doctor) checkOrphanTmp(result *Result) {
	roots := []string{
		filepath.Join(d.repoRoot, repo.StateDirName),
		d.path(d.cfg.Paths.GoldenRoot),
	}
	for _, root := range roots {
		filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if fsutil.IsTempFile(info.Name()) {
				result.add(Finding{
					Category:    "tmp",
					Description: fmt.Sprintf("orphan temp file: %s", info.Name()),
					Severity:    "info",
					Path:        path,
				})
			}
			return nil
		})
	}
}

func (d *Doctor) path(p string) string {
	return config.Resolve(d.repoRoot, p)
}
