package dlock

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/pctx"
	"github.com/stretchr/testify/require"
)

func TestMutualExclusion(t *testing.T) {
	ctx := pctx.TestContext(t)
	name := uuid.NewString()
	path := filepath.Join(t.TempDir(), "write-lock")
	var (
		mu      sync.Mutex
		holders int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := NewDLock(name, path)
			for j := 0; j < 10; j++ {
				if _, err := l.Lock(ctx); err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				holders++
				if holders > maxSeen {
					maxSeen = holders
				}
				mu.Unlock()
				time.Sleep(100 * time.Microsecond)
				mu.Lock()
				holders--
				mu.Unlock()
				if err := l.Unlock(ctx); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
}

func TestTryLock(t *testing.T) {
	ctx := pctx.TestContext(t)
	name := uuid.NewString()
	a, b := NewDLock(name, ""), NewDLock(name, "")
	_, err := a.TryLock(ctx)
	require.NoError(t, err)
	_, err = b.TryLock(ctx)
	require.True(t, errors.Is(err, ErrLocked))
	require.NoError(t, a.Unlock(ctx))
	_, err = b.TryLock(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Unlock(ctx))
	require.Error(t, b.Unlock(ctx))
}

func TestLockHonorsContext(t *testing.T) {
	ctx := pctx.TestContext(t)
	name := uuid.NewString()
	a, b := NewDLock(name, ""), NewDLock(name, "")
	_, err := a.Lock(ctx)
	require.NoError(t, err)
	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = b.Lock(cctx)
	require.Error(t, err)
	require.NoError(t, a.Unlock(ctx))
}
