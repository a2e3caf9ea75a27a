package health

import (
	"context"
	"fmt"
	"testing"
)

// BenchmarkAggregator_CheckAll measures sequential and parallel aggregation
// of five trivial checks.
func BenchmarkAggregator_CheckAll(b *testing.B) {
	for _, parallel := range []bool{false, true} {
		agg := NewAggregator(AggregatorConfig{Parallel: parallel})
		for i := range 5 {
			name := fmt.Sprintf("check%d", i)
			agg.Register(name, staticChecker(name, Healthy("ok")))
		}
		b.Run(fmt.Sprintf("parallel=%v", parallel), func(b *testing.B) {
			ctx := context.Background()
			for b.Loop() {
				_ = agg.CheckAll(ctx)
			}
		})
	}
}
