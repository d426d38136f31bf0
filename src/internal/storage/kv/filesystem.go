package kv

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/log"
	"github.com/pachyderm/fsfs/src/internal/stream"
	"go.uber.org/zap"
)

var _ Store = &FSStore{}

// FSStore keeps one file per key under dir/objects.  Writes go to dir/staging first and are renamed
// into place, so a reader never sees a partial value.
type FSStore struct {
	dir      string
	initOnce sync.Once
	initErr  error
}

func NewFSStore(dir string) *FSStore {
	return &FSStore{
		dir: dir,
	}
}

func (s *FSStore) Put(ctx context.Context, key, value []byte) (retErr error) {
	if err := s.ensureInit(ctx); err != nil {
		return err
	}
	staging := s.stagingPath()
	defer s.cleanupFile(ctx, &retErr, staging)
	if err := os.WriteFile(staging, value, 0o644); err != nil {
		return s.transformError(err, key)
	}
	return errors.EnsureStack(os.Rename(staging, s.finalPathFor(key)))
}

func (s *FSStore) Get(ctx context.Context, key []byte, cb ValueCallback) error {
	data, err := os.ReadFile(s.finalPathFor(key))
	if err != nil {
		return s.transformError(err, key)
	}
	return cb(data)
}

func (s *FSStore) Exists(ctx context.Context, key []byte) (bool, error) {
	_, err := os.Stat(s.finalPathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, s.transformError(err, key)
	}
	return true, nil
}

func (s *FSStore) Delete(ctx context.Context, key []byte) error {
	if err := s.ensureInit(ctx); err != nil {
		return err
	}
	err := os.Remove(s.finalPathFor(key))
	if os.IsNotExist(err) {
		err = nil
	}
	return errors.EnsureStack(err)
}

func (s *FSStore) stagingPath() string {
	return filepath.Join(s.dir, "staging", uuid.NewString())
}

// finalPathFor hex encodes the key, which keeps directory order equal to key order.
func (s *FSStore) finalPathFor(k []byte) string {
	return filepath.Join(s.dir, "objects", hex.EncodeToString(k))
}

func (s *FSStore) NewKeyIterator(span Span) stream.Iterator[[]byte] {
	return &fsIterator{s: s, span: span}
}

type fsIterator struct {
	s    *FSStore
	span Span
	keys [][]byte
	pos  int
}

func (it *fsIterator) Next(ctx context.Context, dst *[]byte) error {
	if it.keys == nil {
		if err := it.s.ensureInit(ctx); err != nil {
			return err
		}
		dirEnts, err := os.ReadDir(filepath.Join(it.s.dir, "objects"))
		if err != nil {
			return errors.EnsureStack(err)
		}
		keys := make([][]byte, 0, len(dirEnts))
		for i := range dirEnts {
			key, err := hex.DecodeString(dirEnts[i].Name())
			if err != nil {
				return errors.Wrapf(err, "decode key file %q", dirEnts[i].Name())
			}
			if it.span.Contains(key) {
				keys = append(keys, key)
			}
		}
		it.keys = keys
	}
	if it.pos >= len(it.keys) {
		return stream.EOS()
	}
	*dst = append((*dst)[:0], it.keys[it.pos]...)
	it.pos++
	return nil
}

func (s *FSStore) ensureInit(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.init(ctx)
	})
	return s.initErr
}

func (s *FSStore) init(ctx context.Context) error {
	if err := os.RemoveAll(filepath.Join(s.dir, "staging")); err != nil {
		return errors.EnsureStack(err)
	}
	if err := os.MkdirAll(filepath.Join(s.dir, "staging"), 0o755); err != nil {
		return errors.EnsureStack(err)
	}
	if err := os.MkdirAll(filepath.Join(s.dir, "objects"), 0o755); err != nil {
		return errors.EnsureStack(err)
	}
	log.Debug(ctx, "initialized directory-backed kv store", zap.String("root", s.dir))
	return nil
}

func (s *FSStore) transformError(err error, key []byte) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return NewNotExist(s.dir, string(key))
	}
	return errors.EnsureStack(err)
}

// cleanupFile removes a staging file left behind by a failed Put.
func (s *FSStore) cleanupFile(ctx context.Context, retErr *error, p string) {
	err := os.Remove(p)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		if *retErr == nil {
			*retErr = errors.EnsureStack(err)
		} else {
			log.Error(ctx, "error deleting staging file", zap.Error(err))
		}
	}
}
