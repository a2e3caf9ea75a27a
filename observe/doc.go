// Package observe provides logging, tracing and metrics for UDF invocations
// and the cache in front of them.
//
// It is a pure instrumentation library: no execution, no storage, no I/O
// beyond exporter setup. The cache facade wires an Observer around every
// callback it runs.
package observe
