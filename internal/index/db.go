// Package index provides the SQLite search and label cache for the document
// store.
//
// The store directory stays the source of truth. The index only remembers,
// per document, the display label and searchable text derived from its
// content, together with the file size and modification time they were
// computed from. A row whose size and mtime still match the file is fresh;
// anything else is recomputed from the store.
//
// Architecture:
//   - Database file: <root>/.musicwa/index.db (hidden from the store listing)
//   - WAL mode: concurrent readers while the syncer writes
//   - Schema: one documents table keyed by document id
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/nekokan/musicwa/internal/document"
)

// Row is the cached state of one document.
type Row struct {
	ID          document.ID
	Label       string
	Text        string
	Fingerprint document.Fingerprint
	Size        int64
	ModTime     time.Time
	IndexedAt   time.Time
}

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the index database at path.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping index: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint index WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the schema if it doesn't exist. It is idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		body TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		size INTEGER NOT NULL,
		mtime_ns INTEGER NOT NULL,
		indexed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_label ON documents(label);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize index schema: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the row for r.ID.
func (db *DB) Upsert(ctx context.Context, r *Row) error {
	return upsert(ctx, db.conn, r)
}

// UpsertAll writes rows in a single transaction.
func (db *DB) UpsertAll(ctx context.Context, rows []*Row) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range rows {
		if err := upsert(ctx, tx, r); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index rows: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, ex execer, r *Row) error {
	if r.IndexedAt.IsZero() {
		r.IndexedAt = time.Now()
	}
	query := `
	INSERT INTO documents (id, label, body, fingerprint, size, mtime_ns, indexed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		label = excluded.label,
		body = excluded.body,
		fingerprint = excluded.fingerprint,
		size = excluded.size,
		mtime_ns = excluded.mtime_ns,
		indexed_at = excluded.indexed_at
	`
	_, err := ex.ExecContext(ctx, query,
		string(r.ID),
		r.Label,
		r.Text,
		string(r.Fingerprint),
		r.Size,
		r.ModTime.UnixNano(),
		r.IndexedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", r.ID, err)
	}
	return nil
}

// Get returns the row for id, or (nil, nil) if there is none.
func (db *DB) Get(ctx context.Context, id document.ID) (*Row, error) {
	query := `
	SELECT id, label, body, fingerprint, size, mtime_ns, indexed_at
	FROM documents WHERE id = ?
	`
	row := db.conn.QueryRowContext(ctx, query, string(id))
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", id, err)
	}
	return r, nil
}

// Delete removes the row for id. It is idempotent.
func (db *DB) Delete(ctx context.Context, id document.ID) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}
	return nil
}

// IDs returns every indexed id in sorted order.
func (db *DB) IDs(ctx context.Context) ([]document.ID, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list index: %w", err)
	}
	defer rows.Close()

	var ids []document.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, document.ID(id))
	}
	return ids, rows.Err()
}

// Count returns the number of indexed documents.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count index: %w", err)
	}
	return n, nil
}

// Search returns rows whose label or text contains every whitespace
// separated term of q (case-insensitive for ASCII), ordered by id.
func (db *DB) Search(ctx context.Context, q string, limit int) ([]*Row, error) {
	terms := strings.Fields(q)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	var (
		where []string
		args  []any
	)
	for _, term := range terms {
		pattern := "%" + escapeLike(term) + "%"
		where = append(where, `(label LIKE ? ESCAPE '\' OR body LIKE ? ESCAPE '\' OR id LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}
	args = append(args, limit)

	query := `
	SELECT id, label, body, fingerprint, size, mtime_ns, indexed_at
	FROM documents
	WHERE ` + strings.Join(where, " AND ") + `
	ORDER BY id
	LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (*Row, error) {
	var (
		r         Row
		id, fp    string
		mtimeNs   int64
		indexedAt string
	)
	if err := s.Scan(&id, &r.Label, &r.Text, &fp, &r.Size, &mtimeNs, &indexedAt); err != nil {
		return nil, err
	}
	r.ID = document.ID(id)
	r.Fingerprint = document.Fingerprint(fp)
	r.ModTime = time.Unix(0, mtimeNs)
	if t, err := time.Parse(time.RFC3339, indexedAt); err == nil {
		r.IndexedAt = t
	}
	return &r, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
