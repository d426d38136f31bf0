package kv

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/log"
	"github.com/pachyderm/fsfs/src/internal/stream"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var _ Store = &SQLiteStore{}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key   BLOB PRIMARY KEY,
	value BLOB
) WITHOUT ROWID;
`

// SQLiteStore is a Store kept in a single SQLite database file.  Several processes may share the
// file.
type SQLiteStore struct {
	db   *sqlx.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite database %s", path)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		sqliteSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "initialize sqlite database %s", path)
		}
	}
	log.Debug(ctx, "opened sqlite kv store", zap.String("path", path))
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key []byte, cb ValueCallback) error {
	var value []byte
	if err := s.db.GetContext(ctx, &value, `SELECT value FROM kv WHERE key = ?`, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewNotExist(s.path, string(key))
		}
		return errors.EnsureStack(err)
	}
	return cb(value)
}

func (s *SQLiteStore) Put(ctx context.Context, key, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return errors.EnsureStack(err)
}

func (s *SQLiteStore) Delete(ctx context.Context, key []byte) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return errors.EnsureStack(err)
}

func (s *SQLiteStore) Exists(ctx context.Context, key []byte) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM kv WHERE key = ?`, key); err != nil {
		return false, errors.EnsureStack(err)
	}
	return n > 0, nil
}

// NewKeyIterator reads the keys in span in one query when first advanced.
func (s *SQLiteStore) NewKeyIterator(span Span) stream.Iterator[[]byte] {
	return &sqliteIterator{s: s, span: span}
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return errors.EnsureStack(s.db.Close())
}

type sqliteIterator struct {
	s    *SQLiteStore
	span Span
	keys [][]byte
	pos  int
	done bool
}

func (it *sqliteIterator) Next(ctx context.Context, dst *[]byte) error {
	if !it.done {
		query := `SELECT key FROM kv`
		var conds []string
		var args []any
		if len(it.span.Begin) > 0 {
			conds = append(conds, `key >= ?`)
			args = append(args, it.span.Begin)
		}
		if it.span.End != nil {
			conds = append(conds, `key < ?`)
			args = append(args, it.span.End)
		}
		if len(conds) > 0 {
			query += ` WHERE ` + strings.Join(conds, ` AND `)
		}
		if err := it.s.db.SelectContext(ctx, &it.keys, query+` ORDER BY key`, args...); err != nil {
			return errors.EnsureStack(err)
		}
		it.done = true
	}
	if it.pos >= len(it.keys) {
		return stream.EOS()
	}
	*dst = append((*dst)[:0], it.keys[it.pos]...)
	it.pos++
	return nil
}
