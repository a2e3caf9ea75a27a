package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonwraymond/udfcache/batch"
)

var labels = []string{"person", "car", "dog"}

// detector is a deterministic stand-in for an object detector UDF:
// row id i is labelled labels[i%3]. It counts every invocation.
type detector struct {
	mu    sync.Mutex
	calls int
	rows  int
	seen  map[int64]int
	fail  error
}

func newDetector() *detector {
	return &detector{seen: make(map[int64]int)}
}

func (d *detector) call(_ context.Context, in *batch.Batch) (*batch.Batch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	if d.fail != nil {
		return nil, d.fail
	}
	pos := in.ColumnIndex("id")
	if pos < 0 {
		return nil, errors.New("detector: no id column")
	}
	rows := make([]batch.Row, 0, in.Len())
	for _, r := range in.Rows {
		id := asInt(r[pos])
		d.rows++
		d.seen[id]++
		rows = append(rows, batch.Row{id, labels[id%3]})
	}
	return batch.New([]string{"id", "label"}, rows...)
}

func (d *detector) counts() (calls, rows int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls, d.rows
}

func asInt(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int64:
		return x
	case float64:
		return int64(x)
	default:
		panic(fmt.Sprintf("unexpected id type %T", v))
	}
}

// frames returns an indexed batch of frame rows with the given ids.
func frames(ids ...int) *batch.Batch {
	rows := make([]batch.Row, len(ids))
	for i, id := range ids {
		rows[i] = batch.Row{int64(id), fmt.Sprintf("frame-%d", id)}
	}
	return batch.MustNew([]string{"id", "data"}, rows...).WithIndex("id")
}

// frameRange returns frames with ids lo..hi-1.
func frameRange(lo, hi int) *batch.Batch {
	ids := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		ids = append(ids, i)
	}
	return frames(ids...)
}

func labelOf(t interface{ Fatalf(string, ...any) }, out *batch.Batch, id int64) string {
	ids, err := out.Column("id")
	if err != nil {
		t.Fatalf("output has no id column: %v", err)
	}
	for i, v := range ids {
		if asInt(v) == id {
			return out.Rows[i][1].(string)
		}
	}
	t.Fatalf("id %d not in output", id)
	return ""
}

func outputIDs(out *batch.Batch) []int64 {
	ids := make([]int64, out.Len())
	for i, r := range out.Rows {
		ids[i] = asInt(r[0])
	}
	return ids
}
