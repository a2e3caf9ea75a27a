// Package sqlite implements the storage Catalog and Engine on SQLite through
// modernc.org/sqlite, so persisted UDF cache tables survive process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/jonwraymond/udfcache/batch"
	"github.com/jonwraymond/udfcache/storage"
)

// catalogTable holds one row per table created through the Store.
const catalogTable = "udfcache_tables"

// Config configures a Store.
type Config struct {
	// DSN is the modernc.org/sqlite data source, e.g. a file path or
	// "file:cache.db?_pragma=busy_timeout(5000)".
	DSN string

	// BatchSize is the number of rows per batch yielded by Read.
	// Default: storage.DefaultReadBatchSize
	BatchSize int
}

// Store is a Catalog and Engine backed by one SQLite database.
type Store struct {
	db        *sql.DB
	batchSize int
}

// Open opens (or creates) the database and its catalog table.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("sqlite: dsn is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = storage.DefaultReadBatchSize
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single connection serializes writers; Read never holds a cursor
	// across a yield, so this cannot deadlock.
	db.SetMaxOpenConns(1)

	const ddl = `CREATE TABLE IF NOT EXISTS ` + catalogTable + ` (
		name       TEXT PRIMARY KEY,
		id         TEXT NOT NULL,
		uri        TEXT NOT NULL,
		columns    TEXT NOT NULL,
		identifier TEXT NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create catalog: %w", err)
	}

	return &Store{db: db, batchSize: cfg.BatchSize}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// TableMetadata looks up a table by name.
func (s *Store) TableMetadata(ctx context.Context, name string) (*storage.TableMetadata, bool, error) {
	var id, uri, columns, identifier string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, uri, columns, identifier FROM `+catalogTable+` WHERE name = ?`, name,
	).Scan(&id, &uri, &columns, &identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: lookup %s: %w", name, err)
	}

	meta := &storage.TableMetadata{Name: name, URI: uri, IdentifierColumn: identifier}
	if meta.ID, err = uuid.Parse(id); err != nil {
		return nil, false, fmt.Errorf("sqlite: table %s id: %w", name, err)
	}
	if err := json.Unmarshal([]byte(columns), &meta.Columns); err != nil {
		return nil, false, fmt.Errorf("sqlite: table %s columns: %w", name, err)
	}
	return meta, true, nil
}

// CreateTable creates the SQL table and registers it in the catalog in one
// transaction.
func (s *Store) CreateTable(ctx context.Context, name, uri string, columns []storage.ColumnMetadata, identifier string) (*storage.TableMetadata, error) {
	if err := storage.ValidateTable(name, columns, identifier); err != nil {
		return nil, err
	}

	meta := &storage.TableMetadata{
		ID:               uuid.New(),
		Name:             name,
		URI:              uri,
		Columns:          columns,
		IdentifierColumn: identifier,
	}
	encoded, err := json.Marshal(columns)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encode columns: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM `+catalogTable+` WHERE name = ?`, name).Scan(&exists)
	if err == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrTableExists, name)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: lookup %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, createTableSQL(meta)); err != nil {
		return nil, fmt.Errorf("sqlite: create %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+catalogTable+` (name, id, uri, columns, identifier) VALUES (?, ?, ?, ?, ?)`,
		name, meta.ID.String(), uri, string(encoded), identifier,
	); err != nil {
		return nil, fmt.Errorf("sqlite: register %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return meta, nil
}

// DropTable drops a table and removes it from the catalog.
func (s *Store) DropTable(ctx context.Context, name string) error {
	if err := storage.ValidateName(name); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM `+catalogTable+` WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("sqlite: unregister %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrTableNotFound, name)
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+quote(name)); err != nil {
		return fmt.Errorf("sqlite: drop %s: %w", name, err)
	}
	return tx.Commit()
}

// Write appends rows in one transaction.
func (s *Store) Write(ctx context.Context, table *storage.TableMetadata, rows *batch.Batch) error {
	names := table.ColumnNames()
	if len(rows.Columns) != len(names) {
		return fmt.Errorf("%w: got %v, want %v", storage.ErrSchemaMismatch, rows.Columns, names)
	}
	for i := range names {
		if rows.Columns[i] != names[i] {
			return fmt.Errorf("%w: got %v, want %v", storage.ErrSchemaMismatch, rows.Columns, names)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertSQL(table))
	if err != nil {
		if isMissingTable(err) {
			return fmt.Errorf("%w: %s", storage.ErrTableNotFound, table.Name)
		}
		return fmt.Errorf("sqlite: prepare insert %s: %w", table.Name, err)
	}
	defer stmt.Close()

	for _, r := range rows.Rows {
		if _, err := stmt.ExecContext(ctx, r...); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s: %v", storage.ErrDuplicateKey, table.Name, err)
			}
			return fmt.Errorf("sqlite: insert %s: %w", table.Name, err)
		}
	}
	return tx.Commit()
}

// Read yields rows in insertion order. Each page is fetched by rowid and its
// cursor closed before the page is yielded.
func (s *Store) Read(ctx context.Context, table *storage.TableMetadata) iter.Seq2[*batch.Batch, error] {
	return func(yield func(*batch.Batch, error) bool) {
		names := table.ColumnNames()
		query := selectSQL(table)
		var after int64

		for {
			page, last, err := s.readPage(ctx, query, table, after)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(page) == 0 {
				return
			}
			after = last
			b := &batch.Batch{Columns: names, Rows: page, Index: table.IdentifierColumn}
			if !yield(b, nil) {
				return
			}
			if len(page) < s.batchSize {
				return
			}
		}
	}
}

func (s *Store) readPage(ctx context.Context, query string, table *storage.TableMetadata, after int64) ([]batch.Row, int64, error) {
	rows, err := s.db.QueryContext(ctx, query, after, s.batchSize)
	if err != nil {
		if isMissingTable(err) {
			return nil, 0, fmt.Errorf("%w: %s", storage.ErrTableNotFound, table.Name)
		}
		return nil, 0, fmt.Errorf("sqlite: read %s: %w", table.Name, err)
	}
	defer rows.Close()

	var (
		page []batch.Row
		last int64
	)
	for rows.Next() {
		dest := make([]any, len(table.Columns)+1)
		ptrs := make([]any, len(dest))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, 0, fmt.Errorf("sqlite: scan %s: %w", table.Name, err)
		}
		last = dest[0].(int64)
		row := make(batch.Row, len(table.Columns))
		for i, c := range table.Columns {
			row[i] = fromSQL(c.Type, dest[i+1])
		}
		page = append(page, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("sqlite: read %s: %w", table.Name, err)
	}
	return page, last, nil
}

func createTableSQL(meta *storage.TableMetadata) string {
	defs := make([]string, len(meta.Columns))
	for i, c := range meta.Columns {
		def := quote(c.Name) + " " + sqlType(c.Type)
		if c.Unique || c.Name == meta.IdentifierColumn {
			def += " UNIQUE"
		}
		defs[i] = def
	}
	return "CREATE TABLE " + quote(meta.Name) + " (" + strings.Join(defs, ", ") + ")"
}

func insertSQL(meta *storage.TableMetadata) string {
	cols := make([]string, len(meta.Columns))
	marks := make([]string, len(meta.Columns))
	for i, c := range meta.Columns {
		cols[i] = quote(c.Name)
		marks[i] = "?"
	}
	return "INSERT INTO " + quote(meta.Name) + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
}

func selectSQL(meta *storage.TableMetadata) string {
	cols := make([]string, 0, len(meta.Columns)+1)
	cols = append(cols, "rowid")
	for _, c := range meta.Columns {
		cols = append(cols, quote(c.Name))
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + quote(meta.Name) + " WHERE rowid > ? ORDER BY rowid LIMIT ?"
}

func sqlType(t storage.ColumnType) string {
	switch t {
	case storage.ColumnInteger, storage.ColumnBoolean:
		return "INTEGER"
	case storage.ColumnFloat:
		return "REAL"
	case storage.ColumnNDArray:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// fromSQL maps driver values back onto the column's logical type.
func fromSQL(t storage.ColumnType, v any) any {
	switch t {
	case storage.ColumnText:
		if b, ok := v.([]byte); ok {
			return string(b)
		}
	case storage.ColumnBoolean:
		if n, ok := v.(int64); ok {
			return n != 0
		}
	}
	return v
}

// quote returns name as a quoted SQL identifier. Names are validated by
// storage.ValidateName before they reach SQL.
func quote(name string) string {
	return `"` + name + `"`
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isMissingTable(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)
