package lock

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/specvault/internal/storage/apperr"
)

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	dir := filepath.Join(t.TempDir(), ".locks")
	m := New(dir, opts)
	require.NoError(t, m.Initialize())
	return m
}

func TestAcquireReleaseBasic(t *testing.T) {
	m := newTestManager(t, Options{})
	h, err := m.Acquire(context.Background(), "res-1")
	require.NoError(t, err)
	compromised, err := h.Release()
	require.NoError(t, err)
	assert.False(t, compromised)
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := newTestManager(t, Options{})
	h, err := m.Acquire(context.Background(), "res-1")
	require.NoError(t, err)

	_, err = h.Release()
	require.NoError(t, err)

	compromised, err := h.Release()
	require.NoError(t, err)
	assert.False(t, compromised)
}

func TestInProcessSerializesConcurrentAcquires(t *testing.T) {
	m := newTestManager(t, Options{})

	var active int32
	var maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Acquire(context.Background(), "shared")
			if err != nil {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			_, _ = h.Release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive, "only one goroutine should hold the resource at a time")
}

func TestAcquireTimesOutWhenHeldElsewhere(t *testing.T) {
	m := newTestManager(t, Options{AcquireTimeout: 50 * time.Millisecond, RetryInterval: 5 * time.Millisecond})

	h, err := m.Acquire(context.Background(), "res-1")
	require.NoError(t, err)
	defer h.Release()

	// A second manager rooted at the same directory models a second
	// process contending for the same cross-process file lock; the
	// in-process layer alone wouldn't block a *different* Manager.
	m2 := New(m.locksDir, Options{AcquireTimeout: 50 * time.Millisecond, RetryInterval: 5 * time.Millisecond})
	require.NoError(t, m2.Initialize())

	_, err = m2.Acquire(context.Background(), "res-1")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindLockTimeout))
}

func TestStaleLockIsReclaimed(t *testing.T) {
	locksDir := filepath.Join(t.TempDir(), ".locks")
	require.NoError(t, os.MkdirAll(locksDir, 0o755))

	opts := Options{StaleThreshold: 20 * time.Millisecond, RetryInterval: 5 * time.Millisecond, AcquireTimeout: time.Second}
	m1 := New(locksDir, opts)
	require.NoError(t, m1.Initialize())

	_, err := m1.Acquire(context.Background(), "res-1")
	require.NoError(t, err)

	// Simulate a crashed holder: stop its liveness refresh without
	// releasing the underlying OS lock, then backdate the lock file's
	// mtime past the stale threshold.
	m1.mu.Lock()
	hl := m1.held["res-1"]
	m1.mu.Unlock()
	close(hl.stopRefresh)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(hl.path, old, old))

	m2 := New(locksDir, opts)
	require.NoError(t, m2.Initialize())

	h2, err := m2.Acquire(context.Background(), "res-1")
	require.NoError(t, err, "a stale lock file must be reclaimed rather than blocking forever")
	_, _ = h2.Release()
}

func TestDisposeRejectsNewAcquires(t *testing.T) {
	m := newTestManager(t, Options{})
	require.NoError(t, m.Dispose())

	_, err := m.Acquire(context.Background(), "res-1")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindDisposed))
}

func TestDisposeIsIdempotent(t *testing.T) {
	m := newTestManager(t, Options{})
	require.NoError(t, m.Dispose())
	require.NoError(t, m.Dispose())
}

func TestDisposeReleasesHeldLocks(t *testing.T) {
	m := newTestManager(t, Options{})
	_, err := m.Acquire(context.Background(), "res-1")
	require.NoError(t, err)

	require.NoError(t, m.Dispose())

	m.mu.Lock()
	n := len(m.held)
	m.mu.Unlock()
	assert.Equal(t, 0, n)
}

func TestCompromisedLockReportedOnRelease(t *testing.T) {
	locksDir := filepath.Join(t.TempDir(), ".locks")
	require.NoError(t, os.MkdirAll(locksDir, 0o755))

	var compromisedResource string
	opts := Options{
		StaleThreshold: time.Hour, // never reclaim on its own in this test
		OnCompromised: func(resource string, _ int64) {
			compromisedResource = resource
		},
	}
	m := New(locksDir, opts)
	require.NoError(t, m.Initialize())

	h, err := m.Acquire(context.Background(), "res-1")
	require.NoError(t, err)

	// Simulate another process stealing the lock file by overwriting it
	// with a different token, bypassing this holder's refresh.
	path := m.lockPath("res-1")
	require.NoError(t, os.WriteFile(path, []byte(`{"token":"someone-else","acquiredAt":"2020-01-01T00:00:00Z","pid":1}`), 0o644))

	compromised, err := h.Release()
	require.Error(t, err)
	assert.True(t, compromised)
	assert.True(t, apperr.IsKind(err, apperr.KindLockCompromised))
	assert.Equal(t, "res-1", compromisedResource)
}
