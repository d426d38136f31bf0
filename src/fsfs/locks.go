package fsfs

import (
	"context"
	"time"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/locks"
	"github.com/pachyderm/fsfs/src/internal/log"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
)

// Lock is a lock on a path.
type Lock = locks.Lock

// Lock locks path for the user set with SetAccess.  Only files, or paths that do not exist yet, can
// be locked.  An empty token generates one.  With steal an existing lock is replaced.
func (fs *FS) Lock(ctx context.Context, path, comment, token string, expires time.Time, steal bool) (_ *Lock, retErr error) {
	defer log.Span(ctx, "fsfs.Lock", log.Path(path))(log.Errorp(&retErr))
	path, err := editPath(path)
	if err != nil {
		return nil, err
	}
	youngest, err := fs.repo.Youngest(ctx)
	if err != nil {
		return nil, err
	}
	root, err := fs.RevisionRoot(ctx, youngest)
	if err != nil {
		return nil, err
	}
	kind, err := root.CheckPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if kind == dag.Dir {
		return nil, errors.WithStack(&NotFileError{Path: path})
	}
	var owner string
	if access := fs.currentAccess(); access != nil {
		owner = access.Username
	}
	return fs.locks.Lock(ctx, locks.Request{
		Path:    path,
		Owner:   owner,
		Comment: comment,
		Token:   token,
		Expires: expires,
		Steal:   steal,
	})
}

// Unlock removes the lock on path.  Unless breakLock is set the user set with SetAccess must own
// the lock and token must be its token.
func (fs *FS) Unlock(ctx context.Context, path, token string, breakLock bool) (retErr error) {
	defer log.Span(ctx, "fsfs.Unlock", log.Path(path))(log.Errorp(&retErr))
	return fs.locks.Unlock(ctx, fspath.Canonicalize(path), token, breakLock, fs.currentAccess())
}

// GetLock returns the lock on path, or nil.
func (fs *FS) GetLock(ctx context.Context, path string) (*Lock, error) {
	return fs.locks.Get(ctx, fspath.Canonicalize(path))
}

// GetLocks returns the locks on path and everything below it.
func (fs *FS) GetLocks(ctx context.Context, path string) ([]*Lock, error) {
	return fs.locks.List(ctx, fspath.Canonicalize(path))
}
