package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	ns    TEXT NOT NULL,
	key   TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (ns, key)
) WITHOUT ROWID;
`

// SQLiteKV is a KV backed by an embedded SQLite database.  One table holds
// every namespace; the primary key keeps scans ordered by key.
type SQLiteKV struct {
	pool   *Pool
	closed atomic.Bool
}

// OpenSQLite opens (or creates) the database at path and ensures the
// schema exists.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteKV, error) {
	pool, err := OpenPool(PoolConfig{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, kvSchema, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	return &SQLiteKV{pool: pool}, nil
}

func (s *SQLiteKV) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, false, err
	}
	defer s.pool.Put(conn)

	var (
		value []byte
		found bool
	)
	err = sqlitex.Execute(conn, "SELECT value FROM kv WHERE ns = ? AND key = ?", &sqlitex.ExecOptions{
		Args: []any{ns, key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = columnBlob(stmt, 0)
			found = true
			return nil
		},
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s/%s: %w", ns, key, err)
	}
	return value, found, nil
}

func (s *SQLiteKV) Put(ctx context.Context, ns, key string, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO kv (ns, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (ns, key) DO UPDATE SET value = excluded.value`,
		&sqlitex.ExecOptions{Args: []any{ns, key, value}})
	if err != nil {
		return fmt.Errorf("store: put %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *SQLiteKV) Scan(ctx context.Context, ns string, fn func(key string, value []byte) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}

	type entry struct {
		key   string
		value []byte
	}
	var entries []entry
	err = sqlitex.Execute(conn, "SELECT key, value FROM kv WHERE ns = ? ORDER BY key", &sqlitex.ExecOptions{
		Args: []any{ns},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entries = append(entries, entry{key: stmt.ColumnText(0), value: columnBlob(stmt, 1)})
			return nil
		},
	})
	// release before calling fn, which may write back through the pool
	s.pool.Put(conn)
	if err != nil {
		return fmt.Errorf("store: scan %s: %w", ns, err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteKV) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.pool.Close()
}

func columnBlob(stmt *sqlite.Stmt, col int) []byte {
	buf := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, buf)
	return buf
}
