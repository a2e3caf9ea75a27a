package storage

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/jonwraymond/udfcache/batch"
)

// DefaultReadBatchSize is the number of rows per batch yielded by Read when
// no size is configured.
const DefaultReadBatchSize = 256

// MemoryStore is an in-process Catalog and Engine.
//
// It outlives the caches built on it, so a second cache over the same store
// behaves like a cache reopened after a process restart.
type MemoryStore struct {
	mu        sync.RWMutex
	tables    map[string]*memTable
	batchSize int
}

type memTable struct {
	meta   *TableMetadata
	rows   []batch.Row
	unique map[int]map[string]struct{}
}

// NewMemoryStore creates an empty store. batchSize <= 0 selects
// DefaultReadBatchSize.
func NewMemoryStore(batchSize int) *MemoryStore {
	if batchSize <= 0 {
		batchSize = DefaultReadBatchSize
	}
	return &MemoryStore{
		tables:    make(map[string]*memTable),
		batchSize: batchSize,
	}
}

// TableMetadata looks up a table by name.
func (s *MemoryStore) TableMetadata(_ context.Context, name string) (*TableMetadata, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		return nil, false, nil
	}
	return t.meta, true, nil
}

// CreateTable registers a new empty table.
func (s *MemoryStore) CreateTable(_ context.Context, name, uri string, columns []ColumnMetadata, identifier string) (*TableMetadata, error) {
	if err := ValidateTable(name, columns, identifier); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, name)
	}

	meta := &TableMetadata{
		ID:               uuid.New(),
		Name:             name,
		URI:              uri,
		Columns:          slices.Clone(columns),
		IdentifierColumn: identifier,
	}
	t := &memTable{meta: meta, unique: make(map[int]map[string]struct{})}
	for i, c := range columns {
		if c.Unique || c.Name == identifier {
			t.unique[i] = make(map[string]struct{})
		}
	}
	s.tables[name] = t
	return meta, nil
}

// DropTable removes a table and its rows. It is the purge path for
// persisted cache tables; caches never call it themselves.
func (s *MemoryStore) DropTable(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[name]; !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	delete(s.tables, name)
	return nil
}

// Write appends rows to the table. The write is all-or-nothing.
func (s *MemoryStore) Write(_ context.Context, table *TableMetadata, rows *batch.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[table.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table.Name)
	}
	if !slices.Equal(rows.Columns, t.meta.ColumnNames()) {
		return fmt.Errorf("%w: got %v, want %v", ErrSchemaMismatch, rows.Columns, t.meta.ColumnNames())
	}

	// Check uniqueness against stored rows and within the batch first.
	pending := make(map[int]map[string]struct{}, len(t.unique))
	for col := range t.unique {
		pending[col] = make(map[string]struct{})
	}
	for _, r := range rows.Rows {
		for col, seen := range t.unique {
			v := batch.FormatValue(r[col])
			if _, dup := seen[v]; dup {
				return fmt.Errorf("%w: %s.%s=%s", ErrDuplicateKey, table.Name, t.meta.Columns[col].Name, v)
			}
			if _, dup := pending[col][v]; dup {
				return fmt.Errorf("%w: %s.%s=%s", ErrDuplicateKey, table.Name, t.meta.Columns[col].Name, v)
			}
			pending[col][v] = struct{}{}
		}
	}

	for col, vals := range pending {
		for v := range vals {
			t.unique[col][v] = struct{}{}
		}
	}
	for _, r := range rows.Rows {
		t.rows = append(t.rows, slices.Clone(r))
	}
	return nil
}

// Read yields the table's rows in insertion order, batchSize rows at a time.
// Each range over the returned sequence takes a fresh snapshot.
func (s *MemoryStore) Read(ctx context.Context, table *TableMetadata) iter.Seq2[*batch.Batch, error] {
	return func(yield func(*batch.Batch, error) bool) {
		s.mu.RLock()
		t, ok := s.tables[table.Name]
		var rows []batch.Row
		var columns []string
		if ok {
			rows = slices.Clone(t.rows)
			columns = t.meta.ColumnNames()
		}
		s.mu.RUnlock()

		if !ok {
			yield(nil, fmt.Errorf("%w: %s", ErrTableNotFound, table.Name))
			return
		}

		for start := 0; start < len(rows); start += s.batchSize {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			end := min(start+s.batchSize, len(rows))
			b := &batch.Batch{Columns: columns, Rows: rows[start:end], Index: table.IdentifierColumn}
			if !yield(b, nil) {
				return
			}
		}
	}
}

// Tables returns the names of all tables, sorted.
func (s *MemoryStore) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
