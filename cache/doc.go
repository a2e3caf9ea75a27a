// Package cache memoizes user-defined function (UDF) results.
//
// A Cache sits between the expression evaluator and a UDF. Execute either
// serves previously computed output or runs the supplied Callback and keeps
// its result. Four strategies implement the same contract:
//
//   - NullCache always runs the callback and stores nothing.
//   - ExactMatchCache memoizes whole input batches under a content digest,
//     confirming every hit with a structural equality check.
//   - RowIndexedCache memoizes one output row per index value, so a result
//     computed for a narrow query is reused by a broader one.
//   - PersistentRowIndexedCache adds a hidden CACHE_<function> table in a
//     storage.Engine, read through on first use and written through on miss.
//
// Cache-layer failures are logged and never returned: the worst outcome of a
// broken cache is a recomputation, never a wrong answer. Callback errors are
// returned unchanged and are never cached.
//
// A process holds one Facade, built once at start-up and passed to the
// evaluator. It adds tracing, metrics and logging around the active strategy.
package cache
