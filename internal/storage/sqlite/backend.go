// Package sqlitestore implements storage.Backend on a single SQLite table
// using the pure-Go modernc.org/sqlite driver.
package sqlitestore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rzbill/replog/internal/storage"
	"github.com/rzbill/replog/pkg/id"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	kind TEXT NOT NULL,
	key BLOB NOT NULL,
	value BLOB NOT NULL,
	etag TEXT NOT NULL,
	PRIMARY KEY (kind, key)
) WITHOUT ROWID;
`

// Backend stores records as rows of (kind, key, value, etag).
type Backend struct {
	db    *sql.DB
	etags *id.Generator
}

// Open creates (if needed) and opens the database at path.
func Open(path string) (*Backend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer connection keeps conditional statements from racing into
	// SQLITE_BUSY under concurrent callers.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Backend{db: db, etags: id.NewGenerator()}, nil
}

func (b *Backend) Read(ctx context.Context, kind storage.Kind, key []byte) (storage.Record, error) {
	var rec storage.Record
	err := b.db.QueryRowContext(ctx, `SELECT value, etag FROM records WHERE kind = ? AND key = ?`, string(kind), key).
		Scan(&rec.Value, &rec.ETag)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Record{}, fmt.Errorf("sqlite: read: %w", err)
	}
	return rec, nil
}

func (b *Backend) Write(ctx context.Context, kind storage.Kind, key, value []byte, expectedETag string) (string, error) {
	if err := storage.ValidKind(kind); err != nil {
		return "", err
	}
	etag := b.etags.ETag()
	var (
		res sql.Result
		err error
	)
	if expectedETag == "" {
		res, err = b.db.ExecContext(ctx,
			`INSERT INTO records (kind, key, value, etag) VALUES (?, ?, ?, ?) ON CONFLICT (kind, key) DO NOTHING`,
			string(kind), key, value, etag)
	} else {
		res, err = b.db.ExecContext(ctx,
			`UPDATE records SET value = ?, etag = ? WHERE kind = ? AND key = ? AND etag = ?`,
			value, etag, string(kind), key, expectedETag)
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: write: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("sqlite: write: %w", err)
	}
	if n == 0 {
		return "", storage.ErrConditionFailed
	}
	return etag, nil
}

func (b *Backend) Put(ctx context.Context, kind storage.Kind, key, value []byte) (string, error) {
	if err := storage.ValidKind(kind); err != nil {
		return "", err
	}
	etag := b.etags.ETag()
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO records (kind, key, value, etag) VALUES (?, ?, ?, ?)
		 ON CONFLICT (kind, key) DO UPDATE SET value = excluded.value, etag = excluded.etag`,
		string(kind), key, value, etag)
	if err != nil {
		return "", fmt.Errorf("sqlite: put: %w", err)
	}
	return etag, nil
}

// Scan buffers matching rows before calling fn so that fn may use the
// backend without deadlocking on the single connection.
func (b *Backend) Scan(ctx context.Context, kind storage.Kind, prefix []byte, fn func(key []byte, rec storage.Record) error) error {
	query := `SELECT key, value, etag FROM records WHERE kind = ? ORDER BY key`
	args := []any{string(kind)}
	if len(prefix) > 0 {
		query = `SELECT key, value, etag FROM records WHERE kind = ? AND key >= ? ORDER BY key`
		args = append(args, prefix)
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: scan: %w", err)
	}
	type row struct {
		key []byte
		rec storage.Record
	}
	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key, &r.rec.Value, &r.rec.ETag); err != nil {
			_ = rows.Close()
			return fmt.Errorf("sqlite: scan: %w", err)
		}
		if !bytes.HasPrefix(r.key, prefix) {
			break
		}
		out = append(out, r)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, r := range out {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r.key, r.rec); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Close() error { return b.db.Close() }
