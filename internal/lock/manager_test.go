package lock_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jvs-project/goldgate/internal/lock"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shortPolicy(mode model.LockMode) model.LockPolicy {
	return model.LockPolicy{
		LeaseTTL:     100 * time.Millisecond,
		Mode:         mode,
		WaitTimeout:  time.Second,
		PollInterval: 10 * time.Millisecond,
	}
}

func newManager(t *testing.T, policy model.LockPolicy) (*lock.Manager, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), ".goldgate", "locks")
	return lock.NewManager(dir, policy), dir
}

func TestManager_Acquire(t *testing.T) {
	mgr, dir := newManager(t, shortPolicy(model.LockModeFail))

	rec, err := mgr.Acquire(context.Background(), "test_x.py", "promote")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.HolderNonce)
	assert.Equal(t, "test_x.py", rec.ArtifactID)
	assert.Equal(t, os.Getpid(), rec.PID)
	assert.Equal(t, int64(1), rec.Generation)

	_, err = os.Stat(filepath.Join(dir, lock.Key("test_x.py")+".lock"))
	assert.NoError(t, err)
}

func TestManager_Acquire_ContentionFailsFast(t *testing.T) {
	mgr, _ := newManager(t, model.LockPolicy{LeaseTTL: time.Minute, Mode: model.LockModeFail})

	_, err := mgr.Acquire(context.Background(), "test_x.py", "first")
	require.NoError(t, err)

	start := time.Now()
	_, err = mgr.Acquire(context.Background(), "test_x.py", "second")
	assert.ErrorIs(t, err, errclass.ErrLockContention)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestManager_Acquire_DistinctArtifactsDoNotContend(t *testing.T) {
	mgr, _ := newManager(t, model.LockPolicy{LeaseTTL: time.Minute})

	_, err := mgr.Acquire(context.Background(), "a.py", "p")
	require.NoError(t, err)
	_, err = mgr.Acquire(context.Background(), "b.py", "p")
	assert.NoError(t, err)
}

func TestManager_Acquire_WaitModeGetsLockAfterRelease(t *testing.T) {
	policy := shortPolicy(model.LockModeWait)
	policy.LeaseTTL = time.Minute
	mgr, _ := newManager(t, policy)

	first, err := mgr.Acquire(context.Background(), "test_x.py", "first")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = mgr.Release("test_x.py", first.HolderNonce)
	}()

	second, err := mgr.Acquire(context.Background(), "test_x.py", "second")
	require.NoError(t, err)
	assert.NotEqual(t, first.HolderNonce, second.HolderNonce)
}

func TestManager_Acquire_WaitModeTimesOut(t *testing.T) {
	policy := shortPolicy(model.LockModeWait)
	policy.LeaseTTL = time.Minute
	policy.WaitTimeout = 60 * time.Millisecond
	mgr, _ := newManager(t, policy)

	_, err := mgr.Acquire(context.Background(), "test_x.py", "first")
	require.NoError(t, err)

	_, err = mgr.Acquire(context.Background(), "test_x.py", "second")
	assert.ErrorIs(t, err, errclass.ErrLockContention)
}

func TestManager_TakeOverExpiredLease(t *testing.T) {
	mgr, _ := newManager(t, shortPolicy(model.LockModeFail))

	first, err := mgr.TryAcquire("test_x.py", "crashed")
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	second, err := mgr.TryAcquire("test_x.py", "recovered")
	require.NoError(t, err)
	assert.Equal(t, first.Generation+1, second.Generation)
	assert.NotEqual(t, first.HolderNonce, second.HolderNonce)

	assert.ErrorIs(t, mgr.Release("test_x.py", first.HolderNonce), errclass.ErrLockNotHeld)
	assert.NoError(t, mgr.Release("test_x.py", second.HolderNonce))
}

func TestManager_CorruptLockExpiresByMtime(t *testing.T) {
	mgr, dir := newManager(t, shortPolicy(model.LockModeFail))
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, lock.Key("test_x.py")+".lock")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))

	_, err := mgr.TryAcquire("test_x.py", "p")
	assert.ErrorIs(t, err, errclass.ErrLockContention)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	_, err = mgr.TryAcquire("test_x.py", "p")
	assert.NoError(t, err)
}

func TestManager_Release(t *testing.T) {
	mgr, _ := newManager(t, shortPolicy(model.LockModeFail))

	rec, err := mgr.TryAcquire("test_x.py", "p")
	require.NoError(t, err)
	require.NoError(t, mgr.Release("test_x.py", rec.HolderNonce))

	state, _, err := mgr.Status("test_x.py")
	require.NoError(t, err)
	assert.Equal(t, model.LockStateFree, state)

	assert.NoError(t, mgr.Release("test_x.py", rec.HolderNonce), "double release is a no-op")
}

func TestManager_Renew(t *testing.T) {
	mgr, _ := newManager(t, model.LockPolicy{LeaseTTL: time.Minute})

	rec, err := mgr.TryAcquire("test_x.py", "p")
	require.NoError(t, err)

	renewed, err := mgr.Renew("test_x.py", rec.HolderNonce)
	require.NoError(t, err)
	assert.False(t, renewed.ExpiresAt.Before(rec.ExpiresAt))

	_, err = mgr.Renew("test_x.py", "wrong")
	assert.ErrorIs(t, err, errclass.ErrLockNotHeld)
}

func TestManager_StatusAndIsHeld(t *testing.T) {
	mgr, _ := newManager(t, shortPolicy(model.LockModeFail))

	assert.False(t, mgr.IsHeld("test_x.py"))

	_, err := mgr.TryAcquire("test_x.py", "p")
	require.NoError(t, err)
	assert.True(t, mgr.IsHeld("test_x.py"))

	time.Sleep(150 * time.Millisecond)
	state, rec, err := mgr.Status("test_x.py")
	require.NoError(t, err)
	assert.Equal(t, model.LockStateExpired, state)
	assert.Equal(t, "test_x.py", rec.ArtifactID)
	assert.False(t, mgr.IsHeld("test_x.py"))
}

func TestManager_With_ReleasesOnError(t *testing.T) {
	mgr, _ := newManager(t, model.LockPolicy{LeaseTTL: time.Minute})
	boom := errors.New("boom")

	err := mgr.With(context.Background(), "test_x.py", "p", func(_ context.Context, rec *model.LockRecord) error {
		assert.True(t, mgr.IsHeld("test_x.py"))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mgr.IsHeld("test_x.py"))
}

func TestManager_With_MutualExclusion(t *testing.T) {
	policy := shortPolicy(model.LockModeWait)
	policy.LeaseTTL = time.Minute
	policy.WaitTimeout = 5 * time.Second
	mgr, _ := newManager(t, policy)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := mgr.With(context.Background(), "test_x.py", "p", func(context.Context, *model.LockRecord) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestManager_With_RenewsLeaseWhileRunning(t *testing.T) {
	policy := shortPolicy(model.LockModeFail)
	policy.LeaseTTL = 300 * time.Millisecond
	mgr, dir := newManager(t, policy)
	other := lock.NewManager(dir, policy)

	err := mgr.With(context.Background(), "test_x.py", "p", func(ctx context.Context, rec *model.LockRecord) error {
		time.Sleep(3 * policy.LeaseTTL)

		_, err := other.TryAcquire("test_x.py", "second")
		assert.ErrorIs(t, err, errclass.ErrLockContention)
		assert.NoError(t, ctx.Err())
		assert.NoError(t, mgr.Confirm("test_x.py", rec.HolderNonce))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mgr.IsHeld("test_x.py"))
}

func TestManager_With_CancelsContextWhenLeaseLost(t *testing.T) {
	policy := shortPolicy(model.LockModeFail)
	policy.LeaseTTL = 300 * time.Millisecond
	mgr, dir := newManager(t, policy)
	other := lock.NewManager(dir, policy)

	err := mgr.With(context.Background(), "test_x.py", "p", func(ctx context.Context, rec *model.LockRecord) error {
		require.NoError(t, os.Remove(filepath.Join(dir, lock.Key("test_x.py")+".lock")))
		_, err := other.TryAcquire("test_x.py", "thief")
		require.NoError(t, err)

		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("context not cancelled after the lease was lost")
		}
		assert.ErrorIs(t, context.Cause(ctx), errclass.ErrLockContention)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, other.IsHeld("test_x.py"), "release must not remove the new holder's lock")
}

func TestManager_Confirm(t *testing.T) {
	mgr, dir := newManager(t, shortPolicy(model.LockModeFail))

	rec, err := mgr.TryAcquire("test_x.py", "p")
	require.NoError(t, err)
	assert.NoError(t, mgr.Confirm("test_x.py", rec.HolderNonce))

	time.Sleep(150 * time.Millisecond)
	taken, err := lock.NewManager(dir, shortPolicy(model.LockModeFail)).TryAcquire("test_x.py", "p")
	require.NoError(t, err)
	assert.Equal(t, int64(2), taken.Generation)

	err = mgr.Confirm("test_x.py", rec.HolderNonce)
	assert.ErrorIs(t, err, errclass.ErrLockContention)
}

func TestManager_List(t *testing.T) {
	mgr, _ := newManager(t, model.LockPolicy{LeaseTTL: time.Minute})

	recs, err := mgr.List()
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = mgr.TryAcquire("b.py", "p")
	require.NoError(t, err)
	_, err = mgr.TryAcquire("a.py", "p")
	require.NoError(t, err)

	recs, err = mgr.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a.py", recs[0].ArtifactID)
}
