// Package enforcer restores read-only protection on golden tests.
package enforcer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/jvs-project/goldgate/internal/promotion"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/fsutil"
	"github.com/jvs-project/goldgate/pkg/logging"
	"github.com/jvs-project/goldgate/pkg/model"
	"github.com/jvs-project/goldgate/pkg/webhook"
)

// Actor is recorded on drift_corrected entries.
const Actor = "goldgate-enforcer"

// Ledger is the audit trail the enforcer appends to and derives the golden set from.
type Ledger interface {
	Append(ctx context.Context, entry model.LedgerEntry) (uint64, error)
	Replay(ctx context.Context) ([]model.LedgerEntry, error)
}

// LockChecker reports whether a promotion currently holds an artifact.
type LockChecker interface {
	IsHeld(artifactID string) bool
}

// Correction is one permission reset.
type Correction struct {
	ArtifactID string      `json:"artifact_id"`
	Path       string      `json:"path"`
	PrevMode   os.FileMode `json:"prev_mode"`
	Seq        uint64      `json:"seq,omitempty"`
}

// Problem is a golden artifact the enforcer could not check.
type Problem struct {
	ArtifactID string `json:"artifact_id"`
	Path       string `json:"path"`
	Message    string `json:"message"`
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Checked     int          `json:"checked"`
	Corrections []Correction `json:"corrections"`
	Skipped     []string     `json:"skipped,omitempty"`
	Problems    []Problem    `json:"problems,omitempty"`
	DryRun      bool         `json:"dry_run,omitempty"`
}

// Enforcer sweeps the golden store. It only ever changes permission bits.
type Enforcer struct {
	root     string
	ledger   Ledger
	locks    LockChecker
	notifier webhook.Notifier
	dryRun   bool
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithLocks skips artifacts whose promotion lock is held.
func WithLocks(l LockChecker) Option {
	return func(e *Enforcer) { e.locks = l }
}

// WithNotifier sends a drift.corrected webhook per correction.
func WithNotifier(n webhook.Notifier) Option {
	return func(e *Enforcer) { e.notifier = n }
}

// DryRun reports drift without correcting it or writing the ledger.
func DryRun() Option {
	return func(e *Enforcer) { e.dryRun = true }
}

// New creates an enforcer for the repository at root.
func New(root string, ledger Ledger, opts ...Option) *Enforcer {
	e := &Enforcer{root: root, ledger: ledger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Golden derives the current golden set from the ledger.
func (e *Enforcer) Golden(ctx context.Context) ([]model.TestArtifact, error) {
	entries, err := e.ledger.Replay(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay ledger: %w", err)
	}
	return promotion.GoldenSet(entries), nil
}

// Run sweeps the golden set recorded in the ledger.
func (e *Enforcer) Run(ctx context.Context) (*SweepResult, error) {
	golden, err := e.Golden(ctx)
	if err != nil {
		return nil, err
	}
	return e.Sweep(ctx, golden)
}

// Sweep resets every writable golden file to read-only and ledgers one
// drift_corrected entry per reset. Protected files produce no entry.
func (e *Enforcer) Sweep(ctx context.Context, golden []model.TestArtifact) (*SweepResult, error) {
	result := &SweepResult{Corrections: []Correction{}, DryRun: e.dryRun}
	seen := sets.New[string]()
	skipped := sets.New[string]()

	for _, art := range golden {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if seen.Has(art.ID) {
			continue
		}
		seen.Insert(art.ID)

		if e.locks != nil && e.locks.IsHeld(art.ID) {
			skipped.Insert(art.ID)
			logging.Debug("skipping artifact with active promotion", map[string]any{"artifact": art.ID})
			continue
		}
		result.Checked++

		path := e.resolve(art.GoldenPath)
		info, err := os.Lstat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				result.Problems = append(result.Problems, Problem{ArtifactID: art.ID, Path: art.GoldenPath, Message: "golden file is missing"})
				continue
			}
			return result, fmt.Errorf("stat %s: %w", art.GoldenPath, err)
		}
		if !info.Mode().IsRegular() {
			result.Problems = append(result.Problems, Problem{ArtifactID: art.ID, Path: art.GoldenPath, Message: "golden path is not a regular file"})
			continue
		}
		if !fsutil.IsWritable(info.Mode()) {
			continue
		}

		corr := Correction{ArtifactID: art.ID, Path: art.GoldenPath, PrevMode: info.Mode().Perm()}
		if !e.dryRun {
			seq, err := e.correct(ctx, path, corr)
			if err != nil {
				return result, err
			}
			corr.Seq = seq
		}
		result.Corrections = append(result.Corrections, corr)
	}

	result.Skipped = sets.List(skipped)
	sort.Slice(result.Problems, func(i, j int) bool { return result.Problems[i].ArtifactID < result.Problems[j].ArtifactID })
	return result, nil
}

// correct chmods first and ledgers second; a failed append puts the old
// mode back so no permission change goes unrecorded.
func (e *Enforcer) correct(ctx context.Context, path string, corr Correction) (uint64, error) {
	if _, err := fsutil.SetReadOnly(path); err != nil {
		return 0, fmt.Errorf("protect %s: %w", corr.Path, err)
	}
	seq, err := e.ledger.Append(ctx, model.LedgerEntry{
		Actor:   Actor,
		Kind:    model.KindDriftCorrected,
		Outcome: model.OutcomeCorrected,
		Subject: corr.ArtifactID,
		Details: map[string]any{
			"path":      corr.Path,
			"prev_mode": fmt.Sprintf("%04o", uint32(corr.PrevMode)),
			"mode":      fmt.Sprintf("%04o", uint32(fsutil.ReadOnlyPerm)),
		},
	})
	if err != nil {
		if chErr := os.Chmod(path, corr.PrevMode); chErr != nil {
			logging.ErrorErr("restore mode after ledger failure", chErr, map[string]any{"path": corr.Path})
		}
		if !errors.Is(err, errclass.ErrLedgerWriteFailure) {
			err = errclass.ErrLedgerWriteFailure.WithMessagef("append drift correction: %v", err)
		}
		return 0, err
	}

	logging.Info("drift corrected", map[string]any{"artifact": corr.ArtifactID, "prev_mode": fmt.Sprintf("%04o", uint32(corr.PrevMode)), "seq": seq})
	if e.notifier != nil {
		ev := webhook.Event{
			Event:      webhook.EventDriftCorrected,
			RepoRoot:   e.root,
			ArtifactID: corr.ArtifactID,
			Path:       corr.Path,
			LedgerSeq:  seq,
		}
		if err := e.notifier.Send(ev, true); err != nil {
			logging.Warn("webhook delivery failed", map[string]any{"event": string(ev.Event), "error": err.Error()})
		}
	}
	return seq, nil
}

func (e *Enforcer) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.root, filepath.FromSlash(p))
}
