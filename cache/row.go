package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonwraymond/udfcache/batch"
	"github.com/jonwraymond/udfcache/observe"
)

var errRowCount = errors.New("cache: callback returned a different number of rows than it was given")

// rowCall is one in-flight computation of a row key.
type rowCall struct {
	done   chan struct{}
	output *batch.Batch
	err    error
}

// rowBucket holds the rows of one function: row key to single-row output.
type rowBucket struct {
	load sync.Once

	mu       sync.Mutex
	rows     map[string]*batch.Batch
	inflight map[string]*rowCall

	// Set by the persistent strategy when the bucket is bound to a table.
	table *boundTable
}

func newRowBucket() *rowBucket {
	return &rowBucket{
		rows:     make(map[string]*batch.Batch),
		inflight: make(map[string]*rowCall),
	}
}

func (b *rowBucket) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

// rowHooks customizes rowCache for a storage backend.
type rowHooks interface {
	// loadBucket populates a fresh bucket on first touch.
	loadBucket(ctx context.Context, fn FunctionID, b *rowBucket)
	// storeRow persists a computed row. It reports whether the row may also
	// be kept in memory.
	storeRow(ctx context.Context, fn FunctionID, b *rowBucket, key string, output *batch.Batch) bool
}

// rowCache is the row-indexed memoization shared by the in-memory and the
// persistent strategies.
type rowCache struct {
	logger   observe.Logger
	coalesce bool
	hooks    rowHooks

	mu      sync.Mutex
	buckets map[FunctionID]*rowBucket
}

func newRowCache(opts Options, hooks rowHooks) rowCache {
	return rowCache{
		logger:   opts.logger(),
		coalesce: opts.CoalesceMisses,
		hooks:    hooks,
		buckets:  make(map[FunctionID]*rowBucket),
	}
}

// bucket returns fn's bucket, creating and loading it on first touch.
func (c *rowCache) bucket(ctx context.Context, fn FunctionID) *rowBucket {
	c.mu.Lock()
	b, ok := c.buckets[fn]
	if !ok {
		b = newRowBucket()
		c.buckets[fn] = b
	}
	c.mu.Unlock()

	if c.hooks != nil {
		b.load.Do(func() { c.hooks.loadBucket(ctx, fn, b) })
	}
	return b
}

func (c *rowCache) drop() {
	c.mu.Lock()
	c.buckets = make(map[FunctionID]*rowBucket)
	c.mu.Unlock()
}

func (c *rowCache) stats() Stats {
	c.mu.Lock()
	buckets := make([]*rowBucket, 0, len(c.buckets))
	for _, b := range c.buckets {
		buckets = append(buckets, b)
	}
	c.mu.Unlock()

	s := Stats{Functions: len(buckets)}
	for _, b := range buckets {
		s.Entries += b.len()
	}
	return s
}

func (c *rowCache) execute(ctx context.Context, fn FunctionID, input *batch.Batch, callback Callback) (*batch.Batch, error) {
	switch {
	case fn == "":
		return runUncached(ctx, c.logger, fn, input, callback, "unresolvable function identity")
	case input.Len() == 0:
		return callback(ctx, input)
	case !input.HasIndex():
		return runUncached(ctx, c.logger, fn, input, callback, "input has no index column")
	}

	n := input.Len()
	keys := make([]string, n)
	for i := range n {
		v, err := input.IndexValue(i)
		if err != nil {
			return runUncached(ctx, c.logger, fn, input, callback, err.Error())
		}
		keys[i] = RowKey(input.Source, input.Index, v)
	}

	b := c.bucket(ctx, fn)
	outputs := make([]*batch.Batch, n)
	joined := make(map[int]*rowCall)
	var owned []int
	calls := make(map[int]*rowCall)

	b.mu.Lock()
	for i, key := range keys {
		if out, ok := b.rows[key]; ok {
			outputs[i] = out
			continue
		}
		if call, ok := b.inflight[key]; ok {
			joined[i] = call
			continue
		}
		call := &rowCall{done: make(chan struct{})}
		b.inflight[key] = call
		calls[i] = call
		owned = append(owned, i)
	}
	b.mu.Unlock()

	hits := n - len(owned) - len(joined)
	c.logger.Debug(ctx, "row lookup",
		observe.F("udf.name", string(fn)),
		observe.F("hits", hits),
		observe.F("misses", len(owned)),
		observe.F("joined", len(joined)),
	)

	if len(owned) > 0 {
		var err error
		if c.coalesce {
			err = c.computeCoalesced(ctx, fn, b, input, keys, owned, calls, outputs, callback)
		} else {
			err = c.computeEach(ctx, fn, b, input, keys, owned, calls, outputs, callback)
		}
		if errors.Is(err, errRowCount) {
			return runUncached(ctx, c.logger, fn, input, callback, err.Error())
		}
		if err != nil {
			return nil, err
		}
	}

	for i, call := range joined {
		select {
		case <-call.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if call.err != nil {
			// The computing caller failed; run this row ourselves.
			out, err := callback(ctx, input.Row(i))
			if err != nil {
				return nil, err
			}
			outputs[i] = out
			continue
		}
		outputs[i] = call.output
	}

	result, err := batch.Concat(outputs...)
	if err != nil {
		return runUncached(ctx, c.logger, fn, input, callback, err.Error())
	}
	return result, nil
}

// computeEach runs the callback once per owned row.
func (c *rowCache) computeEach(ctx context.Context, fn FunctionID, b *rowBucket, input *batch.Batch, keys []string, owned []int, calls map[int]*rowCall, outputs []*batch.Batch, callback Callback) error {
	for n, i := range owned {
		out, err := callback(ctx, input.Row(i))
		if err != nil {
			for _, rest := range owned[n:] {
				c.finish(b, keys[rest], calls[rest], nil, err)
			}
			return err
		}
		if out.Len() == 1 {
			c.store(ctx, fn, b, keys[i], out)
		} else {
			c.logger.Warn(ctx, "callback returned a row count other than one; not cached",
				observe.F("udf.name", string(fn)),
				observe.F("key", keys[i]),
				observe.F("rows", out.Len()),
			)
		}
		c.finish(b, keys[i], calls[i], out, nil)
		outputs[i] = out
	}
	return nil
}

// computeCoalesced runs the callback once on all owned rows and splits the
// result back by position.
func (c *rowCache) computeCoalesced(ctx context.Context, fn FunctionID, b *rowBucket, input *batch.Batch, keys []string, owned []int, calls map[int]*rowCall, outputs []*batch.Batch, callback Callback) error {
	out, err := callback(ctx, input.Select(owned))
	if err == nil && out.Len() != len(owned) {
		c.logger.Warn(ctx, "coalesced callback row count mismatch; not cached",
			observe.F("udf.name", string(fn)),
			observe.F("want", len(owned)),
			observe.F("got", out.Len()),
		)
		if len(owned) == input.Len() {
			// Nothing to merge: hand the result back as is.
			for _, i := range owned {
				c.finish(b, keys[i], calls[i], nil, errRowCount)
			}
			for i := range outputs {
				outputs[i] = nil
			}
			outputs[0] = out
			return nil
		}
		err = fmt.Errorf("%w: want %d, got %d", errRowCount, len(owned), out.Len())
	}
	if err != nil {
		for _, i := range owned {
			c.finish(b, keys[i], calls[i], nil, err)
		}
		return err
	}

	for j, i := range owned {
		row := out.Row(j)
		c.store(ctx, fn, b, keys[i], row)
		c.finish(b, keys[i], calls[i], row, nil)
		outputs[i] = row
	}
	return nil
}

// store keeps a computed row, persisting it first when the strategy has
// storage. Rows the hooks reject stay out of memory too.
func (c *rowCache) store(ctx context.Context, fn FunctionID, b *rowBucket, key string, output *batch.Batch) {
	if c.hooks != nil && !c.hooks.storeRow(ctx, fn, b, key, output) {
		return
	}
	b.mu.Lock()
	b.rows[key] = output
	b.mu.Unlock()
}

// finish releases callers waiting on key.
func (c *rowCache) finish(b *rowBucket, key string, call *rowCall, output *batch.Batch, err error) {
	b.mu.Lock()
	if b.inflight[key] == call {
		delete(b.inflight, key)
	}
	b.mu.Unlock()

	call.output = output
	call.err = err
	close(call.done)
}

// RowIndexedCache memoizes one output row per index value in memory.
//
// Input batches must name an index column (batch.Batch.Index). Each row is
// looked up by RowKey; misses run the callback and the per-row outputs are
// concatenated in input order. A result computed for rows {0..4} is reused
// when rows {0..9} are requested later. Batches without an index column run
// uncached as a single call.
type RowIndexedCache struct {
	rows rowCache
}

// NewRowIndexedCache creates a RowIndexedCache.
func NewRowIndexedCache(opts Options) *RowIndexedCache {
	return &RowIndexedCache{rows: newRowCache(opts, nil)}
}

// Execute serves cached rows and computes the rest.
func (c *RowIndexedCache) Execute(ctx context.Context, fn FunctionID, input *batch.Batch, callback Callback) (*batch.Batch, error) {
	return c.rows.execute(ctx, fn, input, callback)
}

// Drop clears every bucket.
func (c *RowIndexedCache) Drop(context.Context) {
	c.rows.drop()
}

// Stats reports bucket and row counts.
func (c *RowIndexedCache) Stats() Stats {
	return c.rows.stats()
}

var (
	_ Cache         = (*RowIndexedCache)(nil)
	_ StatsReporter = (*RowIndexedCache)(nil)
)
