package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/jonwraymond/udfcache/batch"
	"github.com/jonwraymond/udfcache/observe"
	"github.com/jonwraymond/udfcache/resilience"
	"github.com/jonwraymond/udfcache/storage"
)

// Hidden cache table layout.
const (
	TablePrefix = "CACHE_"
	KeyColumn   = "key"
	ValueColumn = "value"
)

// CacheColumns is the schema of every hidden cache table.
var CacheColumns = []storage.ColumnMetadata{
	{Name: KeyColumn, Type: storage.ColumnText, Unique: true},
	{Name: ValueColumn, Type: storage.ColumnText},
}

// TableName returns the hidden table name for fn: CACHE_<fn>. Characters
// that are not valid in a table name are replaced by '_' and a short digest
// of the original name is appended so distinct functions never share a
// table.
func TableName(fn FunctionID) string {
	name := string(fn)
	if storage.ValidateName(TablePrefix+name) == nil {
		return TablePrefix + name
	}
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	return fmt.Sprintf("%s%s_%08x", TablePrefix, clean, uint32(xxhash.Sum64String(name)))
}

func defaultTableURI(table string) string {
	return "udfcache://" + table
}

// boundTable is the hidden table a bucket writes through to.
type boundTable struct {
	meta *storage.TableMetadata
}

// PersistentRowIndexedCache is a RowIndexedCache whose rows survive process
// restarts.
//
// The first Execute for a function binds (or creates) its hidden table
// through the Catalog and reads it in full into memory. Every miss is then
// written to memory and appended to the table before Execute returns.
// Failures degrade rather than fail:
//   - a catalog or read failure on first touch leaves the function cached in
//     memory only for the rest of the process;
//   - an output that cannot be serialized is not cached at all;
//   - a failed write keeps the row in memory only.
//
// Drop clears memory only. Persisted rows are read back on the next touch;
// purging them requires dropping the table through the store.
type PersistentRowIndexedCache struct {
	rows    rowCache
	catalog storage.Catalog
	engine  storage.Engine
	uri     func(string) string
	guard   *resilience.Executor
}

// NewPersistentRowIndexedCache creates a PersistentRowIndexedCache over the
// given catalog and engine.
func NewPersistentRowIndexedCache(opts Options) (*PersistentRowIndexedCache, error) {
	if opts.Catalog == nil || opts.Engine == nil {
		return nil, ErrStoreRequired
	}
	c := &PersistentRowIndexedCache{
		catalog: opts.Catalog,
		engine:  opts.Engine,
		uri:     opts.TableURI,
		guard:   opts.WriteGuard,
	}
	if c.uri == nil {
		c.uri = defaultTableURI
	}
	c.rows = newRowCache(opts, c)
	return c, nil
}

// Execute serves cached rows and computes, stores and persists the rest.
func (c *PersistentRowIndexedCache) Execute(ctx context.Context, fn FunctionID, input *batch.Batch, callback Callback) (*batch.Batch, error) {
	return c.rows.execute(ctx, fn, input, callback)
}

// Drop clears in-memory state. Persisted tables are left untouched.
func (c *PersistentRowIndexedCache) Drop(ctx context.Context) {
	c.rows.drop()
	c.rows.logger.Warn(ctx, "in-memory cache dropped; persisted cache tables are not cleared",
		observe.F("persisted", true),
	)
}

// Stats reports bucket and in-memory row counts.
func (c *PersistentRowIndexedCache) Stats() Stats {
	return c.rows.stats()
}

func (c *PersistentRowIndexedCache) loadBucket(ctx context.Context, fn FunctionID, b *rowBucket) {
	logger := c.rows.logger
	name := TableName(fn)
	start := time.Now()

	meta, err := c.bind(ctx, name)
	if err != nil {
		logger.Warn(ctx, "cannot bind cache table; caching in memory only",
			observe.F("udf.name", string(fn)),
			observe.F("table", name),
			observe.F("error", err),
		)
		return
	}
	if len(meta.Columns) != len(CacheColumns) || meta.Columns[0].Name != KeyColumn || meta.Columns[1].Name != ValueColumn {
		logger.Warn(ctx, "cache table has an unexpected schema; caching in memory only",
			observe.F("udf.name", string(fn)),
			observe.F("table", name),
			observe.F("columns", meta.ColumnNames()),
		)
		return
	}
	b.table = &boundTable{meta: meta}

	loaded, skipped := 0, 0
	for rows, err := range c.engine.Read(ctx, meta) {
		if err != nil {
			logger.Warn(ctx, "cache table read failed; continuing with partial contents",
				observe.F("udf.name", string(fn)),
				observe.F("table", name),
				observe.F("error", err),
			)
			break
		}
		for _, r := range rows.Rows {
			key, kok := r[0].(string)
			text, vok := r[1].(string)
			if !kok || !vok {
				skipped++
				continue
			}
			out, err := batch.Unmarshal(text)
			if err != nil {
				skipped++
				continue
			}
			b.mu.Lock()
			b.rows[key] = out
			b.mu.Unlock()
			loaded++
		}
	}
	if skipped > 0 {
		logger.Warn(ctx, "skipped undecodable cache rows",
			observe.F("udf.name", string(fn)),
			observe.F("table", name),
			observe.F("skipped", skipped),
		)
	}
	logger.Debug(ctx, "cache table loaded",
		observe.F("udf.name", string(fn)),
		observe.F("table", name),
		observe.F("entries", loaded),
		observe.F("duration_ms", float64(time.Since(start).Microseconds())/1000),
	)
}

// bind returns the metadata of the hidden table, creating it when absent.
func (c *PersistentRowIndexedCache) bind(ctx context.Context, name string) (*storage.TableMetadata, error) {
	meta, ok, err := c.catalog.TableMetadata(ctx, name)
	if err != nil {
		return nil, err
	}
	if ok {
		return meta, nil
	}

	meta, err = c.catalog.CreateTable(ctx, name, c.uri(name), CacheColumns, KeyColumn)
	if errors.Is(err, storage.ErrTableExists) {
		// Created concurrently by another writer.
		meta, ok, err = c.catalog.TableMetadata(ctx, name)
		if err == nil && !ok {
			err = fmt.Errorf("%w: %s", storage.ErrTableNotFound, name)
		}
	}
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (c *PersistentRowIndexedCache) storeRow(ctx context.Context, fn FunctionID, b *rowBucket, key string, output *batch.Batch) bool {
	logger := c.rows.logger

	text, err := batch.Marshal(output)
	if err != nil {
		logger.Warn(ctx, "output cannot be serialized; not cached",
			observe.F("udf.name", string(fn)),
			observe.F("key", key),
			observe.F("error", err),
		)
		return false
	}
	if b.table == nil {
		return true
	}

	rows, err := batch.New([]string{KeyColumn, ValueColumn}, batch.Row{key, text})
	if err != nil {
		return true
	}
	write := func(ctx context.Context) error {
		err := c.engine.Write(ctx, b.table.meta, rows)
		if errors.Is(err, storage.ErrDuplicateKey) {
			return resilience.Permanent(err)
		}
		return err
	}
	if c.guard != nil {
		err = c.guard.Execute(ctx, write)
	} else {
		err = write(ctx)
	}

	switch {
	case err == nil:
	case errors.Is(err, storage.ErrDuplicateKey):
		logger.Debug(ctx, "row already persisted", observe.F("udf.name", string(fn)), observe.F("key", key))
	default:
		logger.Warn(ctx, "write-through failed; row cached in memory only",
			observe.F("udf.name", string(fn)),
			observe.F("key", key),
			observe.F("error", err),
		)
	}
	return true
}

var (
	_ Cache         = (*PersistentRowIndexedCache)(nil)
	_ StatsReporter = (*PersistentRowIndexedCache)(nil)
	_ rowHooks      = (*PersistentRowIndexedCache)(nil)
)
