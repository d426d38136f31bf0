// Package kv provides a Key-Value Store interface and a few implementations.  The revision store
// keeps every record of the filesystem in a Store.
package kv

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/stream"
)

// ValueCallback is the type of functions used to access values.
// It is never ok for the callback to retain the data.
type ValueCallback = func([]byte) error

type Getter interface {
	// Get looks up the value that corresponds to key and passes it to cb.
	// If there is no entry, Get returns an error for which IsNotExist is true.
	Get(ctx context.Context, key []byte, cb ValueCallback) error
}

type Putter interface {
	// Put creates an entry mapping key to value, overwriting any previous mapping.
	Put(ctx context.Context, key, value []byte) error
}

type GetPut interface {
	Getter
	Putter
}

type Deleter interface {
	// Delete removes the entry at key.
	// If there is no entry Delete returns nil
	Delete(ctx context.Context, key []byte) error
}

type KeyIterable interface {
	// NewKeyIterator returns a new iterator which will cover span, in ascending key order.
	NewKeyIterator(span Span) stream.Iterator[[]byte]
}

// Store is a key-value store
type Store interface {
	Getter
	Putter
	Deleter
	Exists(ctx context.Context, key []byte) (bool, error)

	KeyIterable
}

// NotExistError is returned by Get when there is no entry for a key.
type NotExistError struct {
	Store string
	Key   string
}

func (e *NotExistError) Error() string {
	return fmt.Sprintf("key %q does not exist in %s", e.Key, e.Store)
}

// NewNotExist returns a NotExistError with a stack.
func NewNotExist(store, key string) error {
	return errors.WithStack(&NotExistError{Store: store, Key: key})
}

// IsNotExist reports whether err says a key does not exist.
func IsNotExist(err error) bool {
	var nee *NotExistError
	return errors.As(err, &nee)
}

// GetBytes returns a copy of the value stored at key.
func GetBytes(ctx context.Context, s Getter, key []byte) ([]byte, error) {
	var result []byte
	if err := s.Get(ctx, key, func(v []byte) error {
		result = append([]byte{}, v...)
		return nil
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// DeletePrefix removes every entry whose key starts with prefix.
func DeletePrefix(ctx context.Context, s Store, prefix []byte) error {
	keys, err := Keys(ctx, s, SpanFromPrefix(prefix))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Keys returns the keys in span, in ascending order.
func Keys(ctx context.Context, s KeyIterable, span Span) ([][]byte, error) {
	return stream.Slice(ctx, s.NewKeyIterator(span), func(k []byte) []byte {
		return append([]byte{}, k...)
	})
}

// Span is a range of bytes from Begin inclusive to End exclusive
// As a special case if End == nil, then the span has no upper bound.
type Span struct {
	Begin []byte
	End   []byte
}

// Contains returns true if the Span contains k
func (s Span) Contains(k []byte) bool {
	if bytes.Compare(s.Begin, k) > 0 {
		return false
	}
	if s.End != nil && bytes.Compare(s.End, k) <= 0 {
		return false
	}
	return true
}

func SpanFromPrefix(prefix []byte) Span {
	return Span{
		Begin: prefix,
		End:   PrefixEnd(prefix),
	}
}

// PrefixEnd returns the key > all the keys with prefix p, but < any other key
func PrefixEnd(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	var end []byte
	for i := len(prefix) - 1; i >= 0; i-- {
		c := prefix[i]
		if c < 0xff {
			end = make([]byte, i+1)
			copy(end, prefix)
			end[i] = c + 1
			break
		}
	}
	return end
}

// KeyAfter returns a byte slice ordered immediately after x lexicographically
// the motivating use case is iteration.
func KeyAfter(x []byte) []byte {
	y := append([]byte{}, x...)
	y = append(y, 0x00)
	return y
}
