package polystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

const directoryTable = "polystore_directory"

// SQLDirectory keeps the directory in the relational database next to the
// per-document tables. It shares the SQLBackend's connection pool, which
// stays owned by the backend. While that database is down a store that
// falls back to NoSQL cannot be indexed and reports
// DirectoryConsistent=false until Repair runs.
type SQLDirectory struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLDirectory creates the directory table if needed
func NewSQLDirectory(ctx context.Context, backend *SQLBackend) (*SQLDirectory, error) {
	d := &SQLDirectory{db: backend.db, dialect: backend.dialect}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + directoryTable + ` (
			doc_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			backend_type TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			entry TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + directoryTable + `_owner ON ` + directoryTable + ` (owner_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return nil, wrapBackend(guardDirectory, "open", err)
		}
	}
	return d, nil
}

func (d *SQLDirectory) Upsert(ctx context.Context, entry DirectoryEntry) error {
	if entry.DocID == "" {
		return WithContext(ErrInvalidData, map[string]interface{}{"reason": "entry has no doc id"})
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"doc_id": entry.DocID,
			"error":  err.Error(),
		})
	}
	_, err = d.db.ExecContext(ctx, d.dialect.rebind(`
		INSERT INTO `+directoryTable+` (doc_id, owner_id, backend_type, created_at, entry)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (doc_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			backend_type = excluded.backend_type,
			created_at = excluded.created_at,
			entry = excluded.entry`),
		entry.DocID, entry.OwnerID, entry.Backend.String(), entry.CreatedAt.UnixMicro(), string(data))
	return err
}

func (d *SQLDirectory) Get(ctx context.Context, docID string) (DirectoryEntry, error) {
	var data string
	err := d.db.QueryRowContext(ctx,
		d.dialect.rebind(`SELECT entry FROM `+directoryTable+` WHERE doc_id = ?`), docID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return DirectoryEntry{}, WithContext(ErrNotFound, map[string]interface{}{"doc_id": docID})
	}
	if err != nil {
		return DirectoryEntry{}, err
	}
	return decodeEntry(docID, []byte(data))
}

func (d *SQLDirectory) Delete(ctx context.Context, docID string) error {
	_, err := d.db.ExecContext(ctx,
		d.dialect.rebind(`DELETE FROM `+directoryTable+` WHERE doc_id = ?`), docID)
	return err
}

func (d *SQLDirectory) Query(ctx context.Context, q DirectoryQuery) ([]DirectoryEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT doc_id, entry FROM ` + directoryTable + ` WHERE owner_id = ?`
	args := []interface{}{q.OwnerID}
	if q.Backend != "" {
		query += ` AND backend_type = ?`
		args = append(args, q.Backend.String())
	}
	query += ` ORDER BY created_at DESC, doc_id DESC LIMIT ?`
	args = append(args, limit)

	return d.collect(ctx, d.dialect.rebind(query), args, nil)
}

func (d *SQLDirectory) Scan(ctx context.Context, fn func(DirectoryEntry) error) error {
	_, err := d.collect(ctx, `SELECT doc_id, entry FROM `+directoryTable+` ORDER BY created_at DESC, doc_id DESC`, nil, fn)
	return err
}

// collect runs query and decodes each entry, handing it to fn when set
// and accumulating it otherwise.
func (d *SQLDirectory) collect(ctx context.Context, query string, args []interface{}, fn func(DirectoryEntry) error) ([]DirectoryEntry, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decoded []DirectoryEntry
	for rows.Next() {
		var docID, data string
		if err := rows.Scan(&docID, &data); err != nil {
			return nil, err
		}
		entry, err := decodeEntry(docID, []byte(data))
		if err != nil {
			continue
		}
		decoded = append(decoded, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	// fn runs after the rows are closed: SQLite has a single connection.
	if fn != nil {
		for _, e := range decoded {
			if err := fn(e); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	return decoded, nil
}

func (d *SQLDirectory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close is a no-op; the SQLBackend owns the pool
func (d *SQLDirectory) Close() error { return nil }
