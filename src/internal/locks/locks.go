// Package locks keeps the path lock table.  A lock reserves a path for one user; mutations of a
// locked path (or of an ancestor or descendant, when a whole subtree is affected) are allowed only
// to the lock's owner presenting its token.
package locks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pachyderm/fsfs/src/internal/codec"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/fserr"
	"github.com/pachyderm/fsfs/src/internal/log"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
	"github.com/pachyderm/fsfs/src/internal/storage/kv"
)

const keyPrefix = "locks"

// TokenPrefix starts every generated lock token.
const TokenPrefix = "opaquelocktoken:"

// Lock is a lock on one path.
type Lock struct {
	Path    string `cbor:"path"`
	Token   string `cbor:"token"`
	Owner   string `cbor:"owner"`
	Comment string `cbor:"comment,omitempty"`
	// Created and Expires are Unix nanoseconds.  Expires is zero for locks that never expire.
	Created int64 `cbor:"created"`
	Expires int64 `cbor:"expires,omitempty"`
}

// Expired reports whether l has expired at now.
func (l *Lock) Expired(now time.Time) bool {
	return l.Expires != 0 && now.UnixNano() >= l.Expires
}

// Access is the identity a filesystem operates as: a username and the lock tokens it holds.
type Access struct {
	Username string
	Tokens   map[string]struct{}
}

// NewAccess returns an Access for username holding tokens.
func NewAccess(username string, tokens ...string) *Access {
	a := &Access{Username: username, Tokens: make(map[string]struct{})}
	for _, t := range tokens {
		a.Tokens[t] = struct{}{}
	}
	return a
}

func (a *Access) holds(token string) bool {
	if a == nil {
		return false
	}
	_, ok := a.Tokens[token]
	return ok
}

// Request describes a lock to take.
type Request struct {
	Path    string
	Owner   string
	Comment string
	// Token, if set, is used instead of a generated one.
	Token   string
	Expires time.Time
	// Steal replaces an existing lock instead of failing.
	Steal bool
}

// Table is the lock table of one filesystem.
type Table struct {
	store kv.Store
	now   func() time.Time
}

// NewTable returns the lock table kept in store.
func NewTable(store kv.Store) *Table {
	return &Table{store: store, now: time.Now}
}

func key(p string) []byte {
	if p == fspath.Root {
		return []byte(keyPrefix + "/")
	}
	return []byte(keyPrefix + p)
}

// Lock takes a lock.
func (t *Table) Lock(ctx context.Context, req Request) (_ *Lock, retErr error) {
	defer log.Span(ctx, "locks.Lock", log.Path(req.Path), zap.String("owner", req.Owner))(log.Errorp(&retErr))
	if req.Owner == "" {
		return nil, errors.WithStack(&fserr.LockedError{Path: req.Path, Reason: "cannot lock without a username"})
	}
	existing, err := t.Get(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	if existing != nil && !req.Steal {
		return nil, errors.WithStack(&fserr.LockedError{Path: req.Path, Owner: existing.Owner, Reason: "path is already locked"})
	}
	now := t.now()
	l := &Lock{
		Path:    req.Path,
		Token:   req.Token,
		Owner:   req.Owner,
		Comment: req.Comment,
		Created: now.UnixNano(),
	}
	if l.Token == "" {
		l.Token = TokenPrefix + uuid.NewString()
	}
	if !req.Expires.IsZero() {
		l.Expires = req.Expires.UnixNano()
	}
	data, err := codec.Marshal(l)
	if err != nil {
		return nil, err
	}
	if err := t.store.Put(ctx, key(req.Path), data); err != nil {
		return nil, err
	}
	return l, nil
}

// Unlock removes the lock on path.  Unless breakLock is set, access must own the lock and present
// token.
func (t *Table) Unlock(ctx context.Context, path, token string, breakLock bool, access *Access) (retErr error) {
	defer log.Span(ctx, "locks.Unlock", log.Path(path), zap.Bool("break", breakLock))(log.Errorp(&retErr))
	existing, err := t.Get(ctx, path)
	if err != nil {
		return err
	}
	if existing == nil {
		return errors.WithStack(&fserr.NoSuchLockError{Path: path})
	}
	if !breakLock {
		if existing.Token != token {
			return errors.WithStack(&fserr.LockedError{Path: path, Owner: existing.Owner, Reason: "lock token mismatch"})
		}
		if access == nil || access.Username == "" {
			return errors.WithStack(&fserr.LockedError{Path: path, Owner: existing.Owner, Reason: "cannot unlock without a username"})
		}
		if access.Username != existing.Owner {
			return errors.WithStack(&fserr.LockedError{Path: path, Owner: existing.Owner, Reason: "user does not own the lock"})
		}
	}
	return t.store.Delete(ctx, key(path))
}

// Get returns the lock on path, or nil.  Expired locks are removed.
func (t *Table) Get(ctx context.Context, path string) (*Lock, error) {
	var l Lock
	if err := t.store.Get(ctx, key(path), func(data []byte) error {
		return codec.Unmarshal(data, &l)
	}); err != nil {
		if kv.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if l.Expired(t.now()) {
		return nil, t.store.Delete(ctx, key(path))
	}
	return &l, nil
}

// List returns the locks on path and its descendants.
func (t *Table) List(ctx context.Context, path string) ([]*Lock, error) {
	var result []*Lock
	if l, err := t.Get(ctx, path); err != nil {
		return nil, err
	} else if l != nil {
		result = append(result, l)
	}
	prefix := []byte(keyPrefix + path + "/")
	if path == fspath.Root {
		prefix = []byte(keyPrefix + "/")
	}
	keys, err := kv.Keys(ctx, t.store, kv.SpanFromPrefix(prefix))
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		p := string(k[len(keyPrefix):])
		if p == path || p == "/" {
			continue
		}
		l, err := t.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		if l != nil {
			result = append(result, l)
		}
	}
	return result, nil
}

// Allow checks that access may modify path.  Locks on path and its ancestors are checked, and with
// recurse also locks on its descendants.
func (t *Table) Allow(ctx context.Context, path string, recurse bool, access *Access) error {
	var held []*Lock
	for p := path; ; p = fspath.Dir(p) {
		l, err := t.Get(ctx, p)
		if err != nil {
			return err
		}
		if l != nil {
			held = append(held, l)
		}
		if p == fspath.Root {
			break
		}
	}
	if recurse {
		below, err := t.List(ctx, path)
		if err != nil {
			return err
		}
		for _, l := range below {
			if l.Path != path {
				held = append(held, l)
			}
		}
	}
	for _, l := range held {
		if err := verify(l, access); err != nil {
			return err
		}
	}
	return nil
}

func verify(l *Lock, access *Access) error {
	if access == nil || access.Username == "" {
		return errors.WithStack(&fserr.LockedError{Path: l.Path, Owner: l.Owner, Reason: "cannot verify lock: no username available"})
	}
	if access.Username != l.Owner {
		return errors.WithStack(&fserr.LockedError{Path: l.Path, Owner: l.Owner, Reason: "user does not own the lock"})
	}
	if !access.holds(l.Token) {
		return errors.WithStack(&fserr.LockedError{Path: l.Path, Owner: l.Owner, Reason: "cannot verify lock: no matching lock-token available"})
	}
	return nil
}
