package cache

import (
	"context"

	"github.com/jonwraymond/udfcache/batch"
)

// NullCache always runs the callback and stores nothing.
type NullCache struct{}

// NewNullCache creates a NullCache.
func NewNullCache() *NullCache { return &NullCache{} }

// Execute returns callback(ctx, input) unmodified.
func (*NullCache) Execute(ctx context.Context, _ FunctionID, input *batch.Batch, callback Callback) (*batch.Batch, error) {
	return callback(ctx, input)
}

// Drop does nothing.
func (*NullCache) Drop(context.Context) {}

// Stats always reports an empty cache.
func (*NullCache) Stats() Stats { return Stats{} }

var (
	_ Cache         = (*NullCache)(nil)
	_ StatsReporter = (*NullCache)(nil)
)
