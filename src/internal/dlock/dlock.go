// Package dlock implements the repository locks: a process-wide lock per name, optionally backed by
// an advisory file lock so that other processes sharing the repository are excluded too.
package dlock

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/log"
	"github.com/pachyderm/fsfs/src/internal/pctx"
)

// ErrLocked is returned by TryLock when the lock is held.
var ErrLocked = errors.New("lock is held")

// DLock is a handle to a lock.
type DLock interface {
	// Lock acquires the lock, blocking if necessary.  It returns a context that should be used in
	// subsequent requests made while holding the lock.
	Lock(context.Context) (context.Context, error)
	// TryLock is like Lock, but returns ErrLocked if the lock is already held.
	TryLock(context.Context) (context.Context, error)
	// Unlock releases the lock.
	Unlock(context.Context) error
}

// pollInterval is how often a blocked Lock retries the file lock.
const pollInterval = 5 * time.Millisecond

var (
	registryMu sync.Mutex
	registry   = make(map[string]chan struct{})
)

// semaphore returns the process-wide semaphore for name.  Every handle made with the same name
// shares it, so independent filesystem handles on one repository exclude each other.
func semaphore(name string) chan struct{} {
	registryMu.Lock()
	defer registryMu.Unlock()
	sem, ok := registry[name]
	if !ok {
		sem = make(chan struct{}, 1)
		registry[name] = sem
	}
	return sem
}

type fileLock struct {
	name string
	sem  chan struct{}
	file *flock.Flock
}

// NewDLock returns a lock named name.  If path is non-empty the lock also holds an advisory lock on
// that file while held.
func NewDLock(name, path string) DLock {
	l := &fileLock{
		name: name,
		sem:  semaphore(name),
	}
	if path != "" {
		l.file = flock.New(path)
	}
	return l
}

func (l *fileLock) Lock(ctx context.Context) (_ context.Context, retErr error) {
	ctx = pctx.Child(ctx, "", pctx.WithFields(zap.String("withLock", l.name)))
	defer log.Span(ctx, "DLock.Lock")(log.Errorp(&retErr))
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.EnsureStack(context.Cause(ctx))
	}
	if l.file != nil {
		ok, err := l.file.TryLockContext(ctx, pollInterval)
		if err != nil || !ok {
			<-l.sem
			if err == nil {
				err = ErrLocked
			}
			return nil, errors.Errorf("lock %s: %w", l.file.Path(), err)
		}
	}
	return ctx, nil
}

func (l *fileLock) TryLock(ctx context.Context) (_ context.Context, retErr error) {
	ctx = pctx.Child(ctx, "", pctx.WithFields(zap.String("withLock", l.name)))
	defer log.Span(ctx, "DLock.TryLock")(log.Errorp(&retErr))
	select {
	case l.sem <- struct{}{}:
	default:
		return nil, errors.EnsureStack(ErrLocked)
	}
	if l.file != nil {
		ok, err := l.file.TryLock()
		if err != nil || !ok {
			<-l.sem
			if err == nil {
				err = ErrLocked
			}
			return nil, errors.Errorf("lock %s: %w", l.file.Path(), err)
		}
	}
	return ctx, nil
}

func (l *fileLock) Unlock(ctx context.Context) (retErr error) {
	defer log.Span(ctx, "DLock.Unlock", zap.String("withLock", l.name))(log.Errorp(&retErr))
	var err error
	if l.file != nil {
		err = errors.EnsureStack(l.file.Unlock())
	}
	select {
	case <-l.sem:
	default:
		return errors.Join(err, errors.Errorf("unlock of unlocked lock %s", l.name))
	}
	return err
}
