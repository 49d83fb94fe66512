package polystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver
)

const maxIdentifierLength = 63

var safeIdentifier = regexp.MustCompile(`^[a-z0-9_]+$`)

// RowBatch is one document flattened into SQL rows: one row per element of
// a top-level array, otherwise a single row.
type RowBatch struct {
	Table     string
	DocID     string
	OwnerID   string
	CreatedAt time.Time
	Array     bool
	Rows      []Value
}

// NewRowBatch flattens doc into the rows of its per-document table
func NewRowBatch(docID, ownerID string, doc Value, createdAt time.Time) RowBatch {
	batch := RowBatch{
		Table:     TableName(docID),
		DocID:     docID,
		OwnerID:   ownerID,
		CreatedAt: createdAt.UTC(),
	}
	if doc.Kind() == ValueArray {
		batch.Array = true
		batch.Rows = doc.Elems()
	} else {
		batch.Rows = []Value{doc}
	}
	return batch
}

// RelationalStore is the SQL side of the router. Every SQL-routed document
// owns one table; reads and deletes address it by name.
type RelationalStore interface {
	WriteRows(ctx context.Context, batch RowBatch) (StorageLocation, error)
	// ReadRows returns the payload rows in insertion order, or ErrNotFound
	// when the table is gone.
	ReadRows(ctx context.Context, table, docID string) ([]Value, error)
	DropTable(ctx context.Context, table string) error
	ListTables(ctx context.Context, prefix string) ([]string, error)
	Owners(ctx context.Context, table string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// sqlDialect captures what differs between PostgreSQL and SQLite
type sqlDialect interface {
	driverName() string
	createTable(table string) []string
	insertRow(table string) string
	selectRows(table string) string
	listTables() string
	// lockTable serialises concurrent creators of table inside tx
	lockTable(ctx context.Context, tx *sql.Tx, table string) error
	isUndefinedTable(err error) bool
	indexedColumns() []string
	// rebind rewrites ? placeholders into the dialect's form
	rebind(query string) string
}

// SQLBackend stores SQL-routed documents in per-document tables
type SQLBackend struct {
	db      *sql.DB
	dialect sqlDialect
}

// OpenSQLBackend opens the database named by cfg and checks connectivity
func OpenSQLBackend(ctx context.Context, cfg SQLConfig) (*SQLBackend, error) {
	dialect, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if cfg.Driver == DriverSQLite && !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite {
		// One writer at a time; also keeps in-memory databases on one connection.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, wrapBackend(BackendSQL.String(), "open", err)
	}
	return &SQLBackend{db: db, dialect: dialect}, nil
}

// NewSQLBackend wraps an already opened database
func NewSQLBackend(db *sql.DB, driver string) (*SQLBackend, error) {
	dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &SQLBackend{db: db, dialect: dialect}, nil
}

func dialectFor(driver string) (sqlDialect, error) {
	switch driver {
	case DriverPostgres:
		return postgresDialect{}, nil
	case DriverSQLite:
		return sqliteDialect{}, nil
	}
	return nil, invalid("sql.driver", driver, "must be postgres or sqlite")
}

// DB returns the underlying database handle
func (b *SQLBackend) DB() *sql.DB {
	return b.db
}

// WriteRows creates the batch's table if needed and inserts its rows in one
// transaction. Replaying the same batch inserts nothing new.
func (b *SQLBackend) WriteRows(ctx context.Context, batch RowBatch) (StorageLocation, error) {
	if err := checkIdentifier(batch.Table); err != nil {
		return StorageLocation{}, err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return StorageLocation{}, err
	}
	defer tx.Rollback()

	if err := b.dialect.lockTable(ctx, tx, batch.Table); err != nil {
		return StorageLocation{}, fmt.Errorf("locking table %s: %w", batch.Table, err)
	}
	for _, stmt := range b.dialect.createTable(batch.Table) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return StorageLocation{}, fmt.Errorf("creating table %s: %w", batch.Table, err)
		}
	}

	insert, err := tx.PrepareContext(ctx, b.dialect.insertRow(batch.Table))
	if err != nil {
		return StorageLocation{}, err
	}
	defer insert.Close()

	for i, row := range batch.Rows {
		payload, err := row.MarshalJSON()
		if err != nil {
			return StorageLocation{}, WithContext(ErrInvalidData, map[string]interface{}{
				"doc_id": batch.DocID,
				"row":    i,
				"error":  err.Error(),
			})
		}
		if _, err := insert.ExecContext(ctx, batch.DocID, batch.OwnerID, i, batch.CreatedAt, string(payload)); err != nil {
			return StorageLocation{}, fmt.Errorf("inserting row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return StorageLocation{}, err
	}

	return StorageLocation{
		Backend:        BackendSQL,
		TableName:      batch.Table,
		IndexedColumns: b.dialect.indexedColumns(),
		RowCount:       len(batch.Rows),
		Array:          batch.Array,
	}, nil
}

// ReadRows returns the payload of every row of docID in table
func (b *SQLBackend) ReadRows(ctx context.Context, table, docID string) ([]Value, error) {
	if err := checkIdentifier(table); err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, b.dialect.selectRows(table), docID)
	if err != nil {
		if b.dialect.isUndefinedTable(err) {
			return nil, WithContext(ErrNotFound, map[string]interface{}{"table": table})
		}
		return nil, err
	}
	defer rows.Close()

	var out []Value
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := ParseValue([]byte(raw))
		if err != nil {
			return nil, WithContext(ErrInvalidData, map[string]interface{}{
				"table": table,
				"error": err.Error(),
			})
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, WithContext(ErrNotFound, map[string]interface{}{"table": table, "doc_id": docID})
	}
	return out, nil
}

// DropTable removes table. A missing table is not an error.
func (b *SQLBackend) DropTable(ctx context.Context, table string) error {
	if err := checkIdentifier(table); err != nil {
		return err
	}
	_, err := b.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table))
	return err
}

// ListTables returns the tables whose name starts with prefix, sorted
func (b *SQLBackend) ListTables(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, b.dialect.listTables())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if strings.HasPrefix(name, prefix) {
			tables = append(tables, name)
		}
	}
	return tables, rows.Err()
}

// Owners returns the distinct owners recorded in table
func (b *SQLBackend) Owners(ctx context.Context, table string) ([]string, error) {
	if err := checkIdentifier(table); err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, "SELECT DISTINCT owner_id FROM "+quoteIdent(table)+" ORDER BY owner_id")
	if err != nil {
		if b.dialect.isUndefinedTable(err) {
			return nil, WithContext(ErrNotFound, map[string]interface{}{"table": table})
		}
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// Ping checks database connectivity
func (b *SQLBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close closes the database
func (b *SQLBackend) Close() error {
	return b.db.Close()
}

func checkIdentifier(name string) error {
	if len(name) == 0 || len(name) > maxIdentifierLength || !safeIdentifier.MatchString(name) {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"table":  name,
			"reason": "table names are limited to [a-z0-9_], at most 63 bytes",
		})
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// indexName derives an index name that keeps its suffix within the
// identifier limit.
func indexName(table, suffix string) string {
	if n := maxIdentifierLength - len(suffix) - 1; len(table) > n {
		table = table[:n]
	}
	return quoteIdent(table + "_" + suffix)
}

type postgresDialect struct{}

func (postgresDialect) driverName() string { return "pgx" }

func (postgresDialect) createTable(table string) []string {
	t := quoteIdent(table)
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + t + ` (
			id BIGSERIAL PRIMARY KEY,
			doc_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			row_index INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			payload JSONB NOT NULL,
			UNIQUE (doc_id, row_index)
		)`,
		`CREATE INDEX IF NOT EXISTS ` + indexName(table, "payload_gin") + ` ON ` + t + ` USING GIN (payload)`,
		`CREATE INDEX IF NOT EXISTS ` + indexName(table, "doc_id") + ` ON ` + t + ` (doc_id)`,
	}
}

func (postgresDialect) insertRow(table string) string {
	return `INSERT INTO ` + quoteIdent(table) + ` (doc_id, owner_id, row_index, created_at, payload)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (doc_id, row_index) DO NOTHING`
}

func (postgresDialect) selectRows(table string) string {
	return `SELECT payload::text FROM ` + quoteIdent(table) + ` WHERE doc_id = $1 ORDER BY row_index`
}

func (postgresDialect) listTables() string {
	return `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`
}

func (postgresDialect) lockTable(ctx context.Context, tx *sql.Tx, table string) error {
	// CREATE TABLE IF NOT EXISTS still races on the catalog; the advisory
	// lock is released at commit or rollback.
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, table)
	return err
}

func (postgresDialect) isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

func (postgresDialect) indexedColumns() []string {
	return []string{"doc_id", "payload"}
}

func (postgresDialect) rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type sqliteDialect struct{}

func (sqliteDialect) driverName() string { return "sqlite" }

func (sqliteDialect) createTable(table string) []string {
	t := quoteIdent(table)
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + t + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			row_index INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			payload TEXT NOT NULL CHECK (json_valid(payload)),
			UNIQUE (doc_id, row_index)
		)`,
		`CREATE INDEX IF NOT EXISTS ` + indexName(table, "payload") + ` ON ` + t + ` (payload)`,
		`CREATE INDEX IF NOT EXISTS ` + indexName(table, "doc_id") + ` ON ` + t + ` (doc_id)`,
	}
}

func (sqliteDialect) insertRow(table string) string {
	return `INSERT INTO ` + quoteIdent(table) + ` (doc_id, owner_id, row_index, created_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (doc_id, row_index) DO NOTHING`
}

func (sqliteDialect) selectRows(table string) string {
	return `SELECT payload FROM ` + quoteIdent(table) + ` WHERE doc_id = ? ORDER BY row_index`
}

func (sqliteDialect) listTables() string {
	return `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`
}

// lockTable is a no-op: the pool holds a single connection, so
// transactions are already serialised.
func (sqliteDialect) lockTable(context.Context, *sql.Tx, string) error {
	return nil
}

func (sqliteDialect) isUndefinedTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

func (sqliteDialect) indexedColumns() []string {
	return []string{"doc_id", "payload"}
}

func (sqliteDialect) rebind(query string) string { return query }
