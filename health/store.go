package health

import (
	"context"
	"fmt"
)

// Pinger is implemented by stores that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker reports whether the store behind the persistent strategy is
// reachable. An unreachable store is Degraded, not Unhealthy: the cache keeps
// serving from memory while writes fail.
type StoreChecker struct {
	store Pinger
}

// NewStoreChecker creates a StoreChecker for store.
func NewStoreChecker(store Pinger) *StoreChecker {
	return &StoreChecker{store: store}
}

// Name returns the name of this checker.
func (c *StoreChecker) Name() string { return "store" }

// Check pings the store.
func (c *StoreChecker) Check(ctx context.Context) Result {
	if err := c.store.Ping(ctx); err != nil {
		r := Degraded(fmt.Sprintf("store unreachable: %v", err))
		r.Error = err
		return r
	}
	return Healthy("store reachable")
}
