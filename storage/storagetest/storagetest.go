// Package storagetest holds the behavioral checks every storage.Store must
// pass. Store implementations call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jonwraymond/udfcache/batch"
	"github.com/jonwraymond/udfcache/storage"
)

// KeyValueColumns is the {key, value} text schema used by cache tables.
var KeyValueColumns = []storage.ColumnMetadata{
	{Name: "key", Type: storage.ColumnText, Unique: true},
	{Name: "value", Type: storage.ColumnText},
}

// Run exercises a store. newStore must return an empty store whose read batch
// size is batchSize.
func Run(t *testing.T, batchSize int, newStore func(t *testing.T) storage.Store) {
	t.Helper()

	t.Run("lookup absent table", func(t *testing.T) {
		s := newStore(t)
		meta, ok, err := s.TableMetadata(context.Background(), "CACHE_missing")
		if err != nil || ok || meta != nil {
			t.Fatalf("TableMetadata() = %v, %v, %v; want nil, false, nil", meta, ok, err)
		}
	})

	t.Run("create then bind", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.CreateTable(ctx, "CACHE_Detector", "udfcache://CACHE_Detector", KeyValueColumns, "key")
		if err != nil {
			t.Fatalf("CreateTable: %v", err)
		}
		bound, ok, err := s.TableMetadata(ctx, "CACHE_Detector")
		if err != nil || !ok {
			t.Fatalf("TableMetadata() = %v, %v", ok, err)
		}
		if diff := cmp.Diff(created, bound); diff != "" {
			t.Errorf("bound metadata mismatch (-created +bound):\n%s", diff)
		}

		_, err = s.CreateTable(ctx, "CACHE_Detector", "", KeyValueColumns, "key")
		if !errors.Is(err, storage.ErrTableExists) {
			t.Errorf("second CreateTable() error = %v, want ErrTableExists", err)
		}
	})

	t.Run("invalid names", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.CreateTable(ctx, `bad"name`, "", KeyValueColumns, "key"); !errors.Is(err, storage.ErrInvalidName) {
			t.Errorf("CreateTable(bad name) error = %v, want ErrInvalidName", err)
		}
		if _, err := s.CreateTable(ctx, "t", "", KeyValueColumns, "frame"); !errors.Is(err, storage.ErrSchemaMismatch) {
			t.Errorf("CreateTable(unknown identifier) error = %v, want ErrSchemaMismatch", err)
		}
	})

	t.Run("write and read in order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		meta, err := s.CreateTable(ctx, "CACHE_Order", "", KeyValueColumns, "key")
		if err != nil {
			t.Fatalf("CreateTable: %v", err)
		}

		total := 2*batchSize + 1
		var want []batch.Row
		for i := 0; i < total; i++ {
			row := batch.Row{fmt.Sprintf("id.%d", i), fmt.Sprintf("v%d", i)}
			want = append(want, row)
			if err := s.Write(ctx, meta, batch.MustNew([]string{"key", "value"}, row)); err != nil {
				t.Fatalf("Write(%d): %v", i, err)
			}
		}

		// Ranging twice must restart the scan.
		for pass := 0; pass < 2; pass++ {
			var got []batch.Row
			batches := 0
			for b, err := range s.Read(ctx, meta) {
				if err != nil {
					t.Fatalf("Read: %v", err)
				}
				if b.Len() > batchSize {
					t.Errorf("batch of %d rows exceeds batch size %d", b.Len(), batchSize)
				}
				batches++
				got = append(got, b.Rows...)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("pass %d rows mismatch (-want +got):\n%s", pass, diff)
			}
			if batches != 3 {
				t.Errorf("pass %d yielded %d batches, want 3", pass, batches)
			}
		}
	})

	t.Run("read stops early", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		meta, _ := s.CreateTable(ctx, "CACHE_Early", "", KeyValueColumns, "key")
		for i := 0; i < batchSize*3; i++ {
			_ = s.Write(ctx, meta, batch.MustNew([]string{"key", "value"}, batch.Row{fmt.Sprint(i), "x"}))
		}
		n := 0
		for range s.Read(ctx, meta) {
			n++
			break
		}
		if n != 1 {
			t.Errorf("iterations = %d, want 1", n)
		}
	})

	t.Run("unique key", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		meta, _ := s.CreateTable(ctx, "CACHE_Unique", "", KeyValueColumns, "key")

		if err := s.Write(ctx, meta, batch.MustNew([]string{"key", "value"}, batch.Row{"id.1", "a"})); err != nil {
			t.Fatalf("Write: %v", err)
		}
		err := s.Write(ctx, meta, batch.MustNew([]string{"key", "value"}, batch.Row{"id.1", "b"}))
		if !errors.Is(err, storage.ErrDuplicateKey) {
			t.Fatalf("duplicate Write() error = %v, want ErrDuplicateKey", err)
		}
	})

	t.Run("schema mismatch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		meta, _ := s.CreateTable(ctx, "CACHE_Schema", "", KeyValueColumns, "key")
		err := s.Write(ctx, meta, batch.MustNew([]string{"value", "key"}, batch.Row{"a", "id.1"}))
		if !errors.Is(err, storage.ErrSchemaMismatch) {
			t.Fatalf("Write() error = %v, want ErrSchemaMismatch", err)
		}
	})

	t.Run("missing table", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ghost := &storage.TableMetadata{Name: "CACHE_Ghost", Columns: KeyValueColumns, IdentifierColumn: "key"}

		err := s.Write(ctx, ghost, batch.MustNew([]string{"key", "value"}, batch.Row{"k", "v"}))
		if !errors.Is(err, storage.ErrTableNotFound) {
			t.Errorf("Write() error = %v, want ErrTableNotFound", err)
		}
		for _, err := range s.Read(ctx, ghost) {
			if !errors.Is(err, storage.ErrTableNotFound) {
				t.Errorf("Read() error = %v, want ErrTableNotFound", err)
			}
		}
	})
}
