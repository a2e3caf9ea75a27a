package batch

import (
	"errors"
	"fmt"
	"slices"
)

// Sentinel errors for batch operations.
var (
	ErrSchemaMismatch   = errors.New("batch: schema mismatch")
	ErrRowWidth         = errors.New("batch: row width does not match columns")
	ErrNoIndexColumn    = errors.New("batch: no index column")
	ErrUnknownColumn    = errors.New("batch: unknown column")
	ErrUnsupportedValue = errors.New("batch: unsupported value type")
)

// Row is one tuple of a Batch, aligned with Batch.Columns.
type Row []any

// Batch is an ordered sequence of rows sharing a schema.
//
// Contract:
//   - Ownership: a Batch handed to or returned from the cache must be treated
//     as immutable by both sides.
//   - Index names the identifier column used for row-level memoization.
//     It may be empty when the batch has no such column.
//   - Source optionally names the dataset the rows come from (e.g. a video
//     table). Row keys are scoped by it when set.
type Batch struct {
	Columns []string
	Rows    []Row
	Index   string
	Source  string
}

// New creates a batch with the given columns and rows.
// It returns ErrRowWidth if any row does not match the column count.
func New(columns []string, rows ...Row) (*Batch, error) {
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrRowWidth, i, len(r), len(columns))
		}
	}
	return &Batch{Columns: columns, Rows: rows}, nil
}

// MustNew is like New but panics on error. Intended for tests and literals.
func MustNew(columns []string, rows ...Row) *Batch {
	b, err := New(columns, rows...)
	if err != nil {
		panic(err)
	}
	return b
}

// WithIndex returns a shallow copy of b with the index column set.
func (b *Batch) WithIndex(column string) *Batch {
	c := *b
	c.Index = column
	return &c
}

// WithSource returns a shallow copy of b with the source set.
func (b *Batch) WithSource(source string) *Batch {
	c := *b
	c.Source = source
	return &c
}

// Len returns the number of rows. A nil batch has zero rows.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// ColumnIndex returns the position of the named column, or -1.
func (b *Batch) ColumnIndex(name string) int {
	return slices.Index(b.Columns, name)
}

// Column returns the values of the named column in row order.
func (b *Batch) Column(name string) ([]any, error) {
	pos := b.ColumnIndex(name)
	if pos < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	out := make([]any, len(b.Rows))
	for i, r := range b.Rows {
		out[i] = r[pos]
	}
	return out, nil
}

// HasIndex reports whether the batch names an index column that exists.
func (b *Batch) HasIndex() bool {
	return b.Index != "" && b.ColumnIndex(b.Index) >= 0
}

// IndexValue returns the index column value of row i.
func (b *Batch) IndexValue(i int) (any, error) {
	if b.Index == "" {
		return nil, ErrNoIndexColumn
	}
	pos := b.ColumnIndex(b.Index)
	if pos < 0 {
		return nil, fmt.Errorf("%w: index %q", ErrUnknownColumn, b.Index)
	}
	return b.Rows[i][pos], nil
}

// Row returns a single-row batch holding row i. Index and Source are kept.
// The row values are shared with b.
func (b *Batch) Row(i int) *Batch {
	return &Batch{
		Columns: b.Columns,
		Rows:    []Row{b.Rows[i]},
		Index:   b.Index,
		Source:  b.Source,
	}
}

// Select returns a batch holding the rows at the given positions, in the
// order given.
func (b *Batch) Select(positions []int) *Batch {
	rows := make([]Row, len(positions))
	for i, p := range positions {
		rows[i] = b.Rows[p]
	}
	return &Batch{Columns: b.Columns, Rows: rows, Index: b.Index, Source: b.Source}
}

// Clone returns a copy of b whose row slices are not shared with b.
// Cell values themselves are copied shallowly.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	rows := make([]Row, len(b.Rows))
	for i, r := range b.Rows {
		rows[i] = slices.Clone(r)
	}
	return &Batch{
		Columns: slices.Clone(b.Columns),
		Rows:    rows,
		Index:   b.Index,
		Source:  b.Source,
	}
}

// Concat appends the rows of the given batches in order.
// Empty and nil batches are skipped. The schema of the first non-empty batch
// wins and every other non-empty batch must match it. The index column and
// source of that first batch are carried over.
func Concat(batches ...*Batch) (*Batch, error) {
	var out *Batch
	for i, b := range batches {
		if b.Len() == 0 {
			continue
		}
		if out == nil {
			out = &Batch{
				Columns: b.Columns,
				Rows:    make([]Row, 0, b.Len()),
				Index:   b.Index,
				Source:  b.Source,
			}
		} else if !slices.Equal(out.Columns, b.Columns) {
			return nil, fmt.Errorf("%w: batch %d has columns %v, want %v", ErrSchemaMismatch, i, b.Columns, out.Columns)
		}
		out.Rows = append(out.Rows, b.Rows...)
	}
	if out == nil {
		// All empty: keep the schema of the first batch, if any.
		out = &Batch{}
		for _, b := range batches {
			if b != nil {
				out.Columns = b.Columns
				out.Index = b.Index
				out.Source = b.Source
				break
			}
		}
	}
	return out, nil
}

// Equal reports whether a and b hold the same columns and the same rows in
// the same order. Integer cells compare by value across signed and unsigned
// kinds, and float32 compares as float64; an integer never equals a float.
// NaN equals NaN. Index and Source are not part of equality.
func Equal(a, b *Batch) bool {
	if a.Len() != b.Len() {
		return false
	}
	if a == nil || b == nil {
		return a.Len() == 0 && b.Len() == 0
	}
	if !slices.Equal(a.Columns, b.Columns) {
		return false
	}
	for i := range a.Rows {
		if len(a.Rows[i]) != len(b.Rows[i]) {
			return false
		}
		for j := range a.Rows[i] {
			if !valuesEqual(a.Rows[i][j], b.Rows[i][j]) {
				return false
			}
		}
	}
	return true
}

// Equal reports whether b and other are structurally equal. See Equal.
func (b *Batch) Equal(other *Batch) bool {
	return Equal(b, other)
}
