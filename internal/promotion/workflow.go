// Package promotion moves a generated test through validation and review
// into the read-only golden store.
package promotion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jvs-project/goldgate/internal/integrity"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/fsutil"
	"github.com/jvs-project/goldgate/pkg/logging"
	"github.com/jvs-project/goldgate/pkg/model"
	"github.com/jvs-project/goldgate/pkg/pathutil"
	"github.com/jvs-project/goldgate/pkg/webhook"
)

// Ledger is the audit trail the workflow appends to and replays from.
type Ledger interface {
	Append(ctx context.Context, entry model.LedgerEntry) (uint64, error)
	Replay(ctx context.Context) ([]model.LedgerEntry, error)
}

// Locker provides scoped per-artifact mutual exclusion. With keeps the lease
// alive while fn runs; Confirm fences a write against a lost lease.
type Locker interface {
	With(ctx context.Context, artifactID, purpose string, fn func(context.Context, *model.LockRecord) error) error
	Confirm(artifactID, holderNonce string) error
}

// Request describes one promotion attempt.
type Request struct {
	// SourcePath is the generated test, absolute or relative to the repo root.
	SourcePath string
	Reviewer   string
	Checklist  ChecklistSource
	// Overwrite is the elevated approval needed to replace golden content.
	Overwrite bool
}

// Result is returned for every attempt that reached a terminal state,
// including rejections.
type Result struct {
	Artifact    model.TestArtifact
	Record      *model.PromotionRecord
	Seq         uint64
	NoOp        bool
	Transitions []model.ArtifactStatus
	TestOutput  string
}

// Workflow runs the Generated → Validating → AwaitingReview → Golden|Rejected
// state machine for one artifact at a time.
type Workflow struct {
	root          string
	generatedRoot string
	goldenRoot    string

	ledger    Ledger
	locks     Locker
	tests     TestRunner
	committer Committer
	notifier  webhook.Notifier
	now       func() time.Time
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithCommitter records each golden file in version control.
func WithCommitter(c Committer) Option {
	return func(w *Workflow) { w.committer = c }
}

// WithNotifier sends lifecycle webhooks after each ledgered outcome.
func WithNotifier(n webhook.Notifier) Option {
	return func(w *Workflow) { w.notifier = n }
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// New creates a workflow. All roots must be absolute.
func New(root, generatedRoot, goldenRoot string, ledger Ledger, locks Locker, tests TestRunner, opts ...Option) *Workflow {
	w := &Workflow{
		root:          filepath.Clean(root),
		generatedRoot: filepath.Clean(generatedRoot),
		goldenRoot:    filepath.Clean(goldenRoot),
		ledger:        ledger,
		locks:         locks,
		tests:         tests,
		committer:     NopCommitter{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Resolve maps a source path onto its artifact, without touching the store.
func (w *Workflow) Resolve(sourcePath string) (model.TestArtifact, error) {
	src := sourcePath
	if !filepath.IsAbs(src) {
		src = filepath.Join(w.root, src)
	}
	src = filepath.Clean(src)

	id, ok := pathutil.RelToRoot(w.generatedRoot, src)
	if !ok || id == "." {
		return model.TestArtifact{}, errclass.ErrPermissionDenied.WithMessagef(
			"%s is outside the generated tests root %s; re-submit through the generated-tests workflow",
			sourcePath, w.relToRepo(w.generatedRoot))
	}
	if err := pathutil.ValidatePathSafety(w.generatedRoot, src); err != nil {
		return model.TestArtifact{}, errclass.ErrPermissionDenied.WithMessagef("%s resolves outside the generated tests root", sourcePath)
	}
	if err := pathutil.ValidateArtifactID(id); err != nil {
		return model.TestArtifact{}, err
	}
	return model.TestArtifact{
		ID:         id,
		SourcePath: src,
		GoldenPath: filepath.Join(w.goldenRoot, filepath.FromSlash(id)),
		Status:     model.StatusGenerated,
	}, nil
}

// Promote runs one promotion attempt. Rejections return both a Result and an
// E_VALIDATION_FAILED or E_QUALITY_GATE_REJECTED error.
func (w *Workflow) Promote(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Reviewer) == "" {
		return nil, errclass.ErrNameInvalid.WithMessage("reviewer identity is required")
	}
	if req.Checklist == nil {
		return nil, errclass.ErrConfiguration.WithMessage("no checklist source configured")
	}
	artifact, err := w.Resolve(req.SourcePath)
	if err != nil {
		return nil, err
	}

	var res *Result
	err = w.locks.With(ctx, artifact.ID, "promote", func(ctx context.Context, lease *model.LockRecord) error {
		var promoteErr error
		res, promoteErr = w.promoteLocked(ctx, req, artifact, lease)
		return promoteErr
	})
	return res, err
}

func (w *Workflow) promoteLocked(ctx context.Context, req Request, artifact model.TestArtifact, lease *model.LockRecord) (*Result, error) {
	content, err := os.ReadFile(artifact.SourcePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errclass.ErrNotFound.WithMessagef("generated test %s does not exist", w.relToRepo(artifact.SourcePath))
		}
		return nil, fmt.Errorf("read generated test: %w", err)
	}
	artifact.ContentHash = integrity.HashBytes(content)

	entries, err := w.ledger.Replay(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay ledger: %w", err)
	}
	state := ReplayState(entries)[artifact.ID]

	var supersedes model.HashValue
	if state.IsGolden() {
		if state.Golden.ContentHash == artifact.ContentHash {
			artifact.Status = model.StatusGolden
			logging.Info("artifact already golden with identical content", map[string]any{
				"artifact": artifact.ID,
				"seq":      state.GoldenSeq,
			})
			return &Result{
				Artifact:    artifact,
				Record:      state.Golden,
				Seq:         state.GoldenSeq,
				NoOp:        true,
				Transitions: []model.ArtifactStatus{model.StatusGolden},
			}, nil
		}
		if !req.Overwrite {
			return nil, errclass.ErrPermissionDenied.WithMessagef(
				"golden test %s already exists with different content; overwriting requires elevated approval (--overwrite)",
				artifact.ID)
		}
		supersedes = state.GoldenHash
	}

	res := &Result{Artifact: artifact, Transitions: []model.ArtifactStatus{model.StatusGenerated}}
	rec := &model.PromotionRecord{
		ArtifactID:  artifact.ID,
		SourcePath:  w.relToRepo(artifact.SourcePath),
		Reviewer:    req.Reviewer,
		ContentHash: artifact.ContentHash,
		Supersedes:  supersedes,
	}

	res.advance(model.StatusValidating)
	report, err := w.tests.RunTests(ctx, rec.SourcePath)
	if err != nil {
		return nil, err
	}
	res.TestOutput = report.Output
	if !report.Passed {
		rec.Reason = model.ReasonTestFailed
		if err := w.confirmLease(ctx, lease); err != nil {
			return nil, err
		}
		if err := w.reject(ctx, res, rec); err != nil {
			return nil, err
		}
		return res, errclass.ErrValidationFailed.WithMessagef("tests for %s failed (exit %d)", artifact.ID, report.ExitCode)
	}

	res.advance(model.StatusAwaitingReview)
	checklist, err := req.Checklist.Collect(ctx, res.Artifact)
	if err != nil {
		return nil, err
	}
	rec.Checklist = &checklist
	if err := w.confirmLease(ctx, lease); err != nil {
		return nil, err
	}
	if field := checklist.FirstFalse(); field != "" {
		rec.Reason = field
		if err := w.reject(ctx, res, rec); err != nil {
			return nil, err
		}
		return res, errclass.ErrQualityGateRejected.WithMessagef("checklist item %s was not confirmed for %s", field, artifact.ID)
	}

	if err := w.install(ctx, res, rec, content); err != nil {
		return nil, err
	}
	return res, nil
}

// confirmLease fails with E_LOCK_CONTENTION when the promotion lock was lost
// while tests or review were running.
func (w *Workflow) confirmLease(ctx context.Context, lease *model.LockRecord) error {
	if cause := context.Cause(ctx); cause != nil {
		if errors.Is(cause, errclass.ErrLockContention) {
			return cause
		}
		return fmt.Errorf("promotion of %s interrupted: %w", lease.ArtifactID, cause)
	}
	return w.locks.Confirm(lease.ArtifactID, lease.HolderNonce)
}

func (r *Result) advance(s model.ArtifactStatus) {
	r.Artifact.Status = s
	r.Transitions = append(r.Transitions, s)
}

func (w *Workflow) reject(ctx context.Context, res *Result, rec *model.PromotionRecord) error {
	res.advance(model.StatusRejected)
	rec.Status = model.StatusRejected
	rec.Timestamp = w.timestamp()
	seq, err := w.appendRecord(ctx, rec, model.OutcomeRejected)
	if err != nil {
		return err
	}
	res.Record = rec
	res.Seq = seq
	logging.Info("promotion rejected", map[string]any{"artifact": rec.ArtifactID, "reason": rec.Reason, "seq": seq})
	w.notify(webhook.Event{
		Event:      webhook.EventPromotionRejected,
		ArtifactID: rec.ArtifactID,
		Actor:      rec.Reviewer,
		Reason:     rec.Reason,
		LedgerSeq:  seq,
	})
	return nil
}

// install enters Golden: content write, read-only bit, commit, ledger append.
// Any failure restores the golden path to what it was before.
func (w *Workflow) install(ctx context.Context, res *Result, rec *model.PromotionRecord, content []byte) error {
	goldenPath := res.Artifact.GoldenPath
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0755); err != nil {
		return fmt.Errorf("create golden dir: %w", err)
	}
	if err := pathutil.ValidatePathSafety(w.goldenRoot, goldenPath); err != nil {
		return err
	}
	restore, err := snapshotFile(goldenPath)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		if rbErr := restore(); rbErr != nil {
			logging.ErrorErr("golden rollback failed", rbErr, map[string]any{"path": goldenPath})
		}
		return err
	}

	if err := fsutil.AtomicWrite(goldenPath, content, fsutil.WritablePerm); err != nil {
		return fail(fmt.Errorf("write golden test: %w", err))
	}
	if _, err := fsutil.SetReadOnly(goldenPath); err != nil {
		return fail(fmt.Errorf("protect golden test: %w", err))
	}

	rec.GoldenPath = w.relToRepo(goldenPath)
	ref, err := w.committer.Commit(ctx, rec.GoldenPath, commitMessage(rec))
	if err != nil {
		return fail(fmt.Errorf("commit golden test: %w", err))
	}
	rec.CommitRef = ref
	rec.Status = model.StatusGolden
	rec.Timestamp = w.timestamp()

	seq, err := w.appendRecord(ctx, rec, model.OutcomeGolden)
	if err != nil {
		if ref != "" {
			logging.Error("commit has no ledger record; revert it manually", map[string]any{"commit": ref, "artifact": rec.ArtifactID})
		}
		return fail(err)
	}

	res.advance(model.StatusGolden)
	res.Record = rec
	res.Seq = seq
	logging.Info("promoted to golden", map[string]any{"artifact": rec.ArtifactID, "seq": seq, "commit": ref})
	w.notify(webhook.Event{
		Event:      webhook.EventPromotionGolden,
		ArtifactID: rec.ArtifactID,
		Path:       rec.GoldenPath,
		Actor:      rec.Reviewer,
		LedgerSeq:  seq,
	})
	return nil
}

func (w *Workflow) appendRecord(ctx context.Context, rec *model.PromotionRecord, outcome string) (uint64, error) {
	details, err := recordDetails(rec)
	if err != nil {
		return 0, errclass.ErrLedgerWriteFailure.WithMessagef("encode promotion record: %v", err)
	}
	seq, err := w.ledger.Append(ctx, model.LedgerEntry{
		Timestamp: rec.Timestamp,
		Actor:     rec.Reviewer,
		Kind:      model.KindPromotion,
		Outcome:   outcome,
		Subject:   rec.ArtifactID,
		Details:   details,
	})
	if err != nil {
		if errors.Is(err, errclass.ErrLedgerWriteFailure) {
			return 0, err
		}
		return 0, errclass.ErrLedgerWriteFailure.WithMessagef("append promotion record: %v", err)
	}
	return seq, nil
}

func (w *Workflow) notify(ev webhook.Event) {
	if w.notifier == nil {
		return
	}
	ev.RepoRoot = w.root
	if err := w.notifier.Send(ev, true); err != nil {
		logging.Warn("webhook delivery failed", map[string]any{"event": string(ev.Event), "error": err.Error()})
	}
}

// timestamp is UTC with no monotonic reading, so a record decoded from the
// ledger compares equal to the one that was written.
func (w *Workflow) timestamp() time.Time {
	return w.now().UTC().Round(0)
}

func (w *Workflow) relToRepo(p string) string {
	if rel, ok := pathutil.RelToRoot(w.root, p); ok {
		return rel
	}
	return filepath.ToSlash(p)
}

func commitMessage(rec *model.PromotionRecord) string {
	msg := fmt.Sprintf("goldgate: promote %s to golden\n\nReviewed-by: %s\nContent-Hash: %s", rec.ArtifactID, rec.Reviewer, rec.ContentHash)
	if rec.Supersedes != "" {
		msg += "\nSupersedes: " + string(rec.Supersedes)
	}
	return msg
}

// snapshotFile captures path so it can be put back after a failed install.
func snapshotFile(path string) (func() error, error) {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return func() error {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			return nil
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat golden test: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, errclass.ErrPermissionDenied.WithMessagef("golden path %s is not a regular file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read golden test: %w", err)
	}
	perm := info.Mode().Perm()
	return func() error {
		return fsutil.AtomicWrite(path, data, perm)
	}, nil
}
