package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/udfcache/batch"
	"github.com/jonwraymond/udfcache/observe"
)

// exactEntry is one memoized (input, output) pair.
type exactEntry struct {
	input  *batch.Batch
	output *batch.Batch
}

// exactBucket holds the entries of one function. A key maps to a list
// because distinct inputs may share a digest.
type exactBucket map[string][]exactEntry

// exactFlight is the shared result of one in-flight miss.
type exactFlight struct {
	input  *batch.Batch
	output *batch.Batch
}

// ExactMatchCache memoizes whole input batches.
//
// The digest of the input selects a bucket slot; a hit additionally requires
// the stored input to equal the submitted one, so digest collisions never
// produce a wrong answer. Granularity is whatever the caller submits.
type ExactMatchCache struct {
	logger observe.Logger
	keyer  Keyer

	mu      sync.RWMutex
	buckets map[FunctionID]exactBucket
	flight  singleflight.Group
}

// NewExactMatchCache creates an ExactMatchCache.
func NewExactMatchCache(opts Options) *ExactMatchCache {
	keyer := opts.Keyer
	if keyer == nil {
		keyer = defaultKeyer
	}
	return &ExactMatchCache{
		logger:  opts.logger(),
		keyer:   keyer,
		buckets: make(map[FunctionID]exactBucket),
	}
}

// Execute serves a stored output for an equal input, or runs callback and
// stores its result.
func (c *ExactMatchCache) Execute(ctx context.Context, fn FunctionID, input *batch.Batch, callback Callback) (*batch.Batch, error) {
	if fn == "" {
		return runUncached(ctx, c.logger, fn, input, callback, "unresolvable function identity")
	}

	key, err := c.keyer.Key(input)
	if err != nil {
		return runUncached(ctx, c.logger, fn, input, callback, err.Error())
	}

	if out, ok := c.lookup(fn, key, input); ok {
		c.logger.Debug(ctx, "cache hit", observe.F("udf.name", string(fn)), observe.F("key", key))
		return out, nil
	}

	ch := c.flight.DoChan(string(fn)+"\x00"+key, func() (any, error) {
		if out, ok := c.lookup(fn, key, input); ok {
			return &exactFlight{input: input, output: out}, nil
		}
		c.logger.Debug(ctx, "cache miss", observe.F("udf.name", string(fn)), observe.F("key", key))
		out, err := callback(ctx, input)
		if err != nil {
			return &exactFlight{input: input}, err
		}
		c.put(ctx, fn, key, input, out)
		return &exactFlight{input: input, output: out}, nil
	})

	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	err = r.Err
	res := r.Val.(*exactFlight)
	if res.input != input && !batch.Equal(res.input, input) {
		// Joined a flight for a different input that shares our digest.
		out, err := callback(ctx, input)
		if err != nil {
			return nil, err
		}
		c.put(ctx, fn, key, input, out)
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return res.output, nil
}

// Put stores output for input under fn. It reports false, keeping the
// original entry, when an equal input is already stored. A stored output
// that differs from output is logged as a possible non-deterministic UDF.
func (c *ExactMatchCache) Put(ctx context.Context, fn FunctionID, input, output *batch.Batch) bool {
	key, err := c.keyer.Key(input)
	if err != nil {
		c.logger.Warn(ctx, "cannot key input; not cached", observe.F("udf.name", string(fn)), observe.F("error", err))
		return false
	}
	return c.put(ctx, fn, key, input, output)
}

// Get returns the output stored for input under fn.
func (c *ExactMatchCache) Get(_ context.Context, fn FunctionID, input *batch.Batch) (*batch.Batch, bool) {
	key, err := c.keyer.Key(input)
	if err != nil {
		return nil, false
	}
	return c.lookup(fn, key, input)
}

// Drop clears every bucket.
func (c *ExactMatchCache) Drop(context.Context) {
	c.mu.Lock()
	c.buckets = make(map[FunctionID]exactBucket)
	c.mu.Unlock()
}

// Stats reports bucket and entry counts.
func (c *ExactMatchCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Functions: len(c.buckets)}
	for _, b := range c.buckets {
		for _, entries := range b {
			s.Entries += len(entries)
		}
	}
	return s
}

func (c *ExactMatchCache) lookup(fn FunctionID, key string, input *batch.Batch) (*batch.Batch, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, e := range c.buckets[fn][key] {
		if batch.Equal(e.input, input) {
			return e.output, true
		}
	}
	return nil, false
}

func (c *ExactMatchCache) put(ctx context.Context, fn FunctionID, key string, input, output *batch.Batch) bool {
	c.mu.Lock()
	b, ok := c.buckets[fn]
	if !ok {
		b = make(exactBucket)
		c.buckets[fn] = b
	}
	for _, e := range b[key] {
		if !batch.Equal(e.input, input) {
			continue
		}
		conflict := !batch.Equal(e.output, output)
		c.mu.Unlock()
		if conflict {
			c.logger.Warn(ctx, "conflicting output for cached input; keeping original",
				observe.F("udf.name", string(fn)),
				observe.F("key", key),
			)
		}
		return false
	}
	b[key] = append(b[key], exactEntry{input: input, output: output})
	c.mu.Unlock()
	return true
}

var (
	_ Cache         = (*ExactMatchCache)(nil)
	_ StatsReporter = (*ExactMatchCache)(nil)
)
