// Package lock provides per-artifact lease locks so only one promotion
// runs against an artifact at a time, across processes.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/fsutil"
	"github.com/jvs-project/goldgate/pkg/logging"
	"github.com/jvs-project/goldgate/pkg/model"
)

const (
	lockSuffix     = ".lock"
	takeoverSuffix = ".takeover"
)

// Manager hands out exclusive leases keyed by artifact id.
type Manager struct {
	dir    string
	policy model.LockPolicy
	mu     sync.Mutex
	now    func() time.Time
}

// NewManager creates a lock manager storing lock files under dir.
func NewManager(dir string, policy model.LockPolicy) *Manager {
	def := model.DefaultLockPolicy()
	if policy.LeaseTTL <= 0 {
		policy.LeaseTTL = def.LeaseTTL
	}
	if policy.Mode == "" {
		policy.Mode = def.Mode
	}
	if policy.WaitTimeout <= 0 {
		policy.WaitTimeout = def.WaitTimeout
	}
	if policy.PollInterval <= 0 {
		policy.PollInterval = def.PollInterval
	}
	return &Manager{
		dir:    dir,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Key returns the lock file stem for an artifact id.
func Key(artifactID string) string {
	sum := sha256.Sum256([]byte(artifactID))
	return hex.EncodeToString(sum[:8])
}

// Acquire takes the lock for artifactID according to the policy mode:
// fail returns E_LOCK_CONTENTION at once, wait polls until WaitTimeout.
func (m *Manager) Acquire(ctx context.Context, artifactID, purpose string) (*model.LockRecord, error) {
	if m.policy.Mode != model.LockModeWait {
		return m.TryAcquire(artifactID, purpose)
	}

	var rec *model.LockRecord
	var attemptErr error
	err := wait.PollUntilContextTimeout(ctx, m.policy.PollInterval, m.policy.WaitTimeout, true,
		func(context.Context) (bool, error) {
			r, err := m.TryAcquire(artifactID, purpose)
			if errors.Is(err, errclass.ErrLockContention) {
				return false, nil
			}
			if err != nil {
				attemptErr = err
				return false, err
			}
			rec = r
			return true, nil
		})
	if attemptErr != nil {
		return nil, attemptErr
	}
	if err != nil {
		return nil, errclass.ErrLockContention.WithMessagef(
			"artifact %s still locked after waiting %s", artifactID, m.policy.WaitTimeout)
	}
	return rec, nil
}

// TryAcquire makes one attempt. An expired lease is taken over.
func (m *Manager) TryAcquire(artifactID, purpose string) (*model.LockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	lockPath := m.lockPath(artifactID)
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err == nil {
		defer file.Close()
		rec := m.newRecord(artifactID, purpose, 1)
		if err := writeLock(file, rec); err != nil {
			os.Remove(lockPath)
			return nil, err
		}
		return rec, nil
	}
	if !os.IsExist(err) {
		return nil, fmt.Errorf("create lock: %w", err)
	}

	existing, err := m.readLockOrStale(lockPath)
	if err != nil {
		return nil, err
	}
	if !existing.IsExpired(m.now()) {
		return nil, errclass.ErrLockContention.WithMessagef(
			"artifact %s is being promoted by pid %d since %s; retry later",
			artifactID, existing.PID, existing.AcquiredAt.Format(time.RFC3339))
	}
	return m.takeover(artifactID, purpose, existing)
}

// takeover replaces an expired lock. A guard file serializes competing
// takeovers; the winner re-checks the record before replacing it.
func (m *Manager) takeover(artifactID, purpose string, expired *model.LockRecord) (*model.LockRecord, error) {
	lockPath := m.lockPath(artifactID)
	guardPath := lockPath + takeoverSuffix

	guard, err := os.OpenFile(guardPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			m.clearStaleGuard(guardPath)
			return nil, errclass.ErrLockContention.WithMessagef("artifact %s lock is being taken over", artifactID)
		}
		return nil, fmt.Errorf("create takeover guard: %w", err)
	}
	guard.Close()
	defer os.Remove(guardPath)

	current, err := m.readLockOrStale(lockPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if current != nil && (current.HolderNonce != expired.HolderNonce || !current.IsExpired(m.now())) {
		return nil, errclass.ErrLockContention.WithMessagef("artifact %s was locked by another process", artifactID)
	}

	rec := m.newRecord(artifactID, purpose, expired.Generation+1)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}
	if err := fsutil.AtomicWrite(lockPath, data, 0644); err != nil {
		return nil, fmt.Errorf("take over lock: %w", err)
	}
	logging.Warn("took over expired promotion lock", map[string]any{
		"artifact_id": artifactID,
		"prev_pid":    expired.PID,
		"generation":  rec.Generation,
	})
	return rec, nil
}

func (m *Manager) clearStaleGuard(guardPath string) {
	info, err := os.Stat(guardPath)
	if err == nil && m.now().Sub(info.ModTime()) > m.policy.LeaseTTL {
		os.Remove(guardPath)
	}
}

// Release frees the lock if holderNonce still owns it.
func (m *Manager) Release(artifactID, holderNonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lockPath := m.lockPath(artifactID)
	rec, err := readLock(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read lock: %w", err)
	}
	if rec.HolderNonce != holderNonce {
		return errclass.ErrLockNotHeld.WithMessage("cannot release: nonce mismatch")
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}

// Renew extends the lease on a lock still owned by holderNonce.
func (m *Manager) Renew(artifactID, holderNonce string) (*model.LockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lockPath := m.lockPath(artifactID)
	rec, err := readLock(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errclass.ErrLockNotHeld.WithMessage("no lock held")
		}
		return nil, fmt.Errorf("read lock: %w", err)
	}
	if rec.HolderNonce != holderNonce {
		return nil, errclass.ErrLockNotHeld.WithMessage("nonce mismatch")
	}
	if rec.IsExpired(m.now()) {
		return nil, errclass.ErrLockNotHeld.WithMessage("lease has expired")
	}

	rec.ExpiresAt = m.now().Add(m.policy.LeaseTTL)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}
	if err := fsutil.AtomicWrite(lockPath, data, 0644); err != nil {
		return nil, fmt.Errorf("update lock: %w", err)
	}
	return rec, nil
}

// Confirm renews the lease and fails with E_LOCK_CONTENTION when holderNonce
// no longer owns it. Call it right before writing anything the lock guards.
func (m *Manager) Confirm(artifactID, holderNonce string) error {
	if _, err := m.Renew(artifactID, holderNonce); err != nil {
		if errors.Is(err, errclass.ErrLockNotHeld) {
			return errclass.ErrLockContention.WithMessagef(
				"promotion lock on %s was lost (%v); retry the promotion", artifactID, err)
		}
		return err
	}
	return nil
}

// With acquires the lock, runs fn, and releases on every exit path. The
// lease is renewed every LeaseTTL/3 while fn runs. If a renewal fails the
// context passed to fn is cancelled with an E_LOCK_CONTENTION cause.
func (m *Manager) With(ctx context.Context, artifactID, purpose string, fn func(context.Context, *model.LockRecord) error) error {
	rec, err := m.Acquire(ctx, artifactID, purpose)
	if err != nil {
		return err
	}

	leaseCtx, lose := context.WithCancelCause(ctx)
	renewCtx, stopRenew := context.WithCancel(leaseCtx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.keepAlive(renewCtx, rec, lose)
	}()

	defer func() {
		stopRenew()
		wg.Wait()
		lose(nil)
		if err := m.Release(artifactID, rec.HolderNonce); err != nil {
			logging.ErrorErr("release promotion lock", err, map[string]any{"artifact_id": artifactID})
		}
	}()
	return fn(leaseCtx, rec)
}

func (m *Manager) keepAlive(ctx context.Context, rec *model.LockRecord, lose context.CancelCauseFunc) {
	_ = wait.PollUntilContextCancel(ctx, m.renewInterval(), false, func(context.Context) (bool, error) {
		if _, err := m.Renew(rec.ArtifactID, rec.HolderNonce); err != nil {
			logging.ErrorErr("promotion lease lost", err, map[string]any{
				"artifact_id": rec.ArtifactID,
				"generation":  rec.Generation,
			})
			lose(errclass.ErrLockContention.WithMessagef("lease on %s lost: %v", rec.ArtifactID, err))
			return true, nil
		}
		return false, nil
	})
}

func (m *Manager) renewInterval() time.Duration {
	if d := m.policy.LeaseTTL / 3; d > time.Millisecond {
		return d
	}
	return time.Millisecond
}

// Status returns the current lock state.
func (m *Manager) Status(artifactID string) (model.LockState, *model.LockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.readLockOrStale(m.lockPath(artifactID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.LockStateFree, nil, nil
		}
		return model.LockStateFree, nil, err
	}
	if rec.IsExpired(m.now()) {
		return model.LockStateExpired, rec, nil
	}
	return model.LockStateHeld, rec, nil
}

// IsHeld reports whether artifactID currently has an unexpired lock.
func (m *Manager) IsHeld(artifactID string) bool {
	state, _, err := m.Status(artifactID)
	return err == nil && state == model.LockStateHeld
}

// List returns every lock record on disk, sorted by artifact id.
func (m *Manager) List() ([]model.LockRecord, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lock dir: %w", err)
	}

	var out []model.LockRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), lockSuffix) {
			continue
		}
		rec, err := m.readLockOrStale(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArtifactID < out[j].ArtifactID })
	return out, nil
}

func (m *Manager) newRecord(artifactID, purpose string, generation int64) *model.LockRecord {
	now := m.now()
	return &model.LockRecord{
		ArtifactID:  artifactID,
		HolderNonce: uuid.NewString(),
		PID:         os.Getpid(),
		AcquiredAt:  now,
		ExpiresAt:   now.Add(m.policy.LeaseTTL),
		Generation:  generation,
		Purpose:     purpose,
	}
}

func (m *Manager) lockPath(artifactID string) string {
	return filepath.Join(m.dir, Key(artifactID)+lockSuffix)
}

// readLockOrStale reads a lock record. A lock file that cannot be parsed
// (a crash between create and write) expires LeaseTTL after its mtime.
func (m *Manager) readLockOrStale(path string) (*model.LockRecord, error) {
	rec, err := readLock(path)
	if err == nil {
		return rec, nil
	}
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("read lock: %w", err)
	}
	info, statErr := os.Stat(path)
	if statErr != nil {
		return nil, fmt.Errorf("read lock: %w", statErr)
	}
	return &model.LockRecord{
		AcquiredAt: info.ModTime().UTC(),
		ExpiresAt:  info.ModTime().UTC().Add(m.policy.LeaseTTL),
	}, nil
}

func readLock(path string) (*model.LockRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec model.LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse lock: %w", err)
	}
	return &rec, nil
}

func writeLock(file *os.File, rec *model.LockRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}
	return file.Sync()
}
