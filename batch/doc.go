// Package batch provides the row-oriented tabular unit exchanged between the
// query evaluator and the UDF cache.
//
// A Batch is an ordered sequence of rows sharing a column schema. Row order is
// significant everywhere: slicing, concatenation, equality and the canonical
// encoding all preserve it.
package batch
