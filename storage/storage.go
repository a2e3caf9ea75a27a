// Package storage defines the catalog and storage engine contracts the
// persistent UDF cache uses to keep its hidden tables, plus an in-process
// implementation of both.
package storage

import (
	"context"
	"errors"
	"iter"
	"regexp"

	"github.com/google/uuid"

	"github.com/jonwraymond/udfcache/batch"
)

// Sentinel errors for storage operations.
var (
	ErrTableExists    = errors.New("storage: table already exists")
	ErrTableNotFound  = errors.New("storage: table not found")
	ErrInvalidName    = errors.New("storage: invalid table or column name")
	ErrSchemaMismatch = errors.New("storage: rows do not match table schema")
	ErrDuplicateKey   = errors.New("storage: duplicate value in unique column")
	ErrClosed         = errors.New("storage: store is closed")
)

// ColumnType is the logical type of a table column.
type ColumnType int

const (
	ColumnText ColumnType = iota
	ColumnInteger
	ColumnFloat
	ColumnBoolean
	ColumnNDArray
)

// String returns the string representation of the column type.
func (t ColumnType) String() string {
	switch t {
	case ColumnText:
		return "text"
	case ColumnInteger:
		return "integer"
	case ColumnFloat:
		return "float"
	case ColumnBoolean:
		return "boolean"
	case ColumnNDArray:
		return "ndarray"
	default:
		return "unknown"
	}
}

// ColumnMetadata describes one column of a table.
type ColumnMetadata struct {
	Name   string
	Type   ColumnType
	Unique bool
}

// TableMetadata describes a table registered in a Catalog.
type TableMetadata struct {
	ID               uuid.UUID
	Name             string
	URI              string
	Columns          []ColumnMetadata
	IdentifierColumn string
}

// ColumnNames returns the table's column names in declaration order.
func (m *TableMetadata) ColumnNames() []string {
	names := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		names[i] = c.Name
	}
	return names
}

// Catalog maps table names to metadata.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: TableMetadata returns (nil, false, nil) when the table is absent;
// a non-nil error means the catalog itself could not be consulted.
type Catalog interface {
	// TableMetadata looks up a table by name.
	TableMetadata(ctx context.Context, name string) (*TableMetadata, bool, error)

	// CreateTable registers and materializes a new table.
	// Returns ErrTableExists if the name is taken.
	CreateTable(ctx context.Context, name, uri string, columns []ColumnMetadata, identifier string) (*TableMetadata, error)
}

// Engine durably persists rows of tables described by a Catalog.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Read is lazy and restartable: nothing is read until the sequence is
//     ranged over, and ranging again starts a fresh scan. Rows come back in
//     insertion order.
//   - Write appends. Rows must carry exactly the table's columns.
type Engine interface {
	Read(ctx context.Context, table *TableMetadata) iter.Seq2[*batch.Batch, error]
	Write(ctx context.Context, table *TableMetadata, rows *batch.Batch) error
}

// Store is a Catalog and an Engine backed by the same medium.
type Store interface {
	Catalog
	Engine
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateName checks that a table or column name is a plain identifier.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// ValidateTable checks the CreateTable preconditions shared by all stores:
// valid names, at least one column, and an identifier naming a column.
func ValidateTable(name string, columns []ColumnMetadata, identifier string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if len(columns) == 0 {
		return ErrSchemaMismatch
	}
	found := identifier == ""
	for _, c := range columns {
		if err := ValidateName(c.Name); err != nil {
			return err
		}
		if c.Name == identifier {
			found = true
		}
	}
	if !found {
		return ErrSchemaMismatch
	}
	return nil
}
