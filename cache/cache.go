package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonwraymond/udfcache/batch"
	"github.com/jonwraymond/udfcache/observe"
	"github.com/jonwraymond/udfcache/resilience"
	"github.com/jonwraymond/udfcache/storage"
)

// Sentinel errors for cache construction.
var (
	ErrUnknownStrategy = errors.New("cache: unknown strategy")
	ErrStoreRequired   = errors.New("cache: persistent strategy requires a catalog and an engine")
	ErrNilCache        = errors.New("cache: cache is nil")
)

// FunctionID is the stable registered name of a UDF. It is the top-level
// bucket key of every strategy. The empty FunctionID is unresolvable.
type FunctionID string

// Callback runs the UDF on input. It must return one output row per input
// row, in input order.
type Callback func(ctx context.Context, input *batch.Batch) (*batch.Batch, error)

// Cache memoizes UDF results.
//
// Contract:
//   - Concurrency: implementations are safe for concurrent use. Concurrent
//     misses on the same key run the callback at most once; the other callers
//     wait for and share that result.
//   - Errors: Execute returns only callback errors (unchanged) and context
//     errors while waiting on another caller. Cache-layer failures degrade to
//     uncached execution and are logged.
//   - Ownership: batches passed in and returned must not be mutated.
type Cache interface {
	// Execute returns the output of the UDF fn on input, invoking callback
	// for whatever is not cached.
	Execute(ctx context.Context, fn FunctionID, input *batch.Batch, callback Callback) (*batch.Batch, error)

	// Drop clears in-memory cache state. Idempotent.
	Drop(ctx context.Context)
}

// UDF is a registered user-defined function with an explicit identity.
type UDF interface {
	Name() string
	Call(ctx context.Context, input *batch.Batch) (*batch.Batch, error)
}

type funcUDF struct {
	name string
	fn   Callback
}

// NewUDF pairs a callback with its registered name.
func NewUDF(name string, fn Callback) UDF {
	return funcUDF{name: name, fn: fn}
}

func (u funcUDF) Name() string { return u.name }

func (u funcUDF) Call(ctx context.Context, input *batch.Batch) (*batch.Batch, error) {
	return u.fn(ctx, input)
}

// ExecuteUDF runs udf through c under the UDF's registered name.
func ExecuteUDF(ctx context.Context, c Cache, udf UDF, input *batch.Batch) (*batch.Batch, error) {
	if c == nil {
		return nil, ErrNilCache
	}
	return c.Execute(ctx, FunctionID(udf.Name()), input, udf.Call)
}

// Stats is a point-in-time view of a strategy's in-memory state.
type Stats struct {
	Functions int // Buckets currently held
	Entries   int // Cached entries across all buckets
}

// StatsReporter is implemented by strategies that hold entries.
type StatsReporter interface {
	Stats() Stats
}

// Strategy selects one of the closed set of cache strategies.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyExact
	StrategyRow
	StrategyPersistent
)

var strategyNames = [...]string{
	StrategyNone:       "none",
	StrategyExact:      "exact",
	StrategyRow:        "row",
	StrategyPersistent: "persistent",
}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
	return strategyNames[s]
}

// ParseStrategy parses a strategy name. The empty string selects none.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "null":
		return StrategyNone, nil
	case "exact":
		return StrategyExact, nil
	case "row":
		return StrategyRow, nil
	case "persistent":
		return StrategyPersistent, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// Options configures a strategy. Fields a strategy does not use are ignored.
type Options struct {
	// Logger receives cache warnings and debug traces.
	// Default: observe.NopLogger()
	Logger observe.Logger

	// Keyer derives whole-argument keys for ExactMatchCache.
	// Default: SHA-256 DigestKeyer
	Keyer Keyer

	// CoalesceMisses makes row strategies run all missing rows of one
	// Execute call in a single callback invocation instead of one per row.
	CoalesceMisses bool

	// Catalog and Engine back PersistentRowIndexedCache.
	Catalog storage.Catalog
	Engine  storage.Engine

	// TableURI returns the URI recorded for a hidden cache table.
	// Default: "udfcache://<table name>"
	TableURI func(table string) string

	// WriteGuard wraps every write-through. Nil writes unguarded.
	WriteGuard *resilience.Executor
}

func (o Options) logger() observe.Logger {
	if o.Logger == nil {
		return observe.NopLogger()
	}
	return o.Logger
}

// New constructs the strategy kind.
func New(kind Strategy, opts Options) (Cache, error) {
	switch kind {
	case StrategyNone:
		return NewNullCache(), nil
	case StrategyExact:
		return NewExactMatchCache(opts), nil
	case StrategyRow:
		return NewRowIndexedCache(opts), nil
	case StrategyPersistent:
		return NewPersistentRowIndexedCache(opts)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownStrategy, kind)
	}
}

// StrategyOf reports which strategy c is. Unknown implementations report
// false.
func StrategyOf(c Cache) (Strategy, bool) {
	switch c.(type) {
	case *NullCache:
		return StrategyNone, true
	case *ExactMatchCache:
		return StrategyExact, true
	case *RowIndexedCache:
		return StrategyRow, true
	case *PersistentRowIndexedCache:
		return StrategyPersistent, true
	default:
		return 0, false
	}
}

// runUncached logs why caching was skipped and runs callback on the whole
// input.
func runUncached(ctx context.Context, logger observe.Logger, fn FunctionID, input *batch.Batch, callback Callback, reason string) (*batch.Batch, error) {
	logger.Warn(ctx, "executing without cache",
		observe.F("udf.name", string(fn)),
		observe.F("reason", reason),
		observe.F("rows", input.Len()),
	)
	return callback(ctx, input)
}
