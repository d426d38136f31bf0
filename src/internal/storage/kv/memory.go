package kv

import (
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/pachyderm/fsfs/src/internal/stream"
)

var _ Store = &MemStore{}

// MemStore is a Store held in process memory, ordered by key.
type MemStore struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[memItem]
}

type memItem struct {
	key   string
	value []byte
}

func memLess(a, b memItem) bool { return a.key < b.key }

func NewMemStore() *MemStore {
	return &MemStore{tree: btree.NewG(32, memLess)}
}

func (s *MemStore) Get(ctx context.Context, key []byte, cb ValueCallback) error {
	s.mu.RLock()
	item, ok := s.tree.Get(memItem{key: string(key)})
	s.mu.RUnlock()
	if !ok {
		return NewNotExist("memory", string(key))
	}
	return cb(item.value)
}

func (s *MemStore) Put(ctx context.Context, key, value []byte) error {
	item := memItem{key: string(key), value: append([]byte{}, value...)}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(item)
	return nil
}

func (s *MemStore) Delete(ctx context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Delete(memItem{key: string(key)})
	return nil
}

func (s *MemStore) Exists(ctx context.Context, key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Has(memItem{key: string(key)}), nil
}

// Len returns the number of keys in the store.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// NewKeyIterator snapshots the keys in span when the iterator is first advanced.
func (s *MemStore) NewKeyIterator(span Span) stream.Iterator[[]byte] {
	return &memIterator{s: s, span: span}
}

type memIterator struct {
	s    *MemStore
	span Span
	keys [][]byte
	pos  int
}

func (it *memIterator) Next(ctx context.Context, dst *[]byte) error {
	if it.keys == nil {
		it.keys = it.s.keysIn(it.span)
	}
	if it.pos >= len(it.keys) {
		return stream.EOS()
	}
	*dst = append((*dst)[:0], it.keys[it.pos]...)
	it.pos++
	return nil
}

// keysIn returns the keys in span in ascending order.  The result is never nil.
func (s *MemStore) keysIn(span Span) [][]byte {
	keys := [][]byte{}
	collect := func(item memItem) bool {
		keys = append(keys, []byte(item.key))
		return true
	}
	begin := memItem{key: string(span.Begin)}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if span.End == nil {
		s.tree.AscendGreaterOrEqual(begin, collect)
	} else {
		s.tree.AscendRange(begin, memItem{key: string(span.End)}, collect)
	}
	return keys
}
