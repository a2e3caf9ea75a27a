package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/udfcache/cache"
)

// CacheCheckerConfig configures the cache health checker.
type CacheCheckerConfig struct {
	// WarningEntries is the in-memory entry count that triggers degraded
	// status. Zero disables the warning.
	WarningEntries int

	// CriticalEntries is the in-memory entry count that triggers unhealthy
	// status. Zero disables it.
	CriticalEntries int
}

// CacheChecker reports the size of a strategy's in-memory state.
type CacheChecker struct {
	cache  cache.StatsReporter
	config CacheCheckerConfig
}

// NewCacheChecker creates a CacheChecker. A CriticalEntries below
// WarningEntries is raised to WarningEntries.
func NewCacheChecker(c cache.StatsReporter, config CacheCheckerConfig) *CacheChecker {
	if config.WarningEntries < 0 {
		config.WarningEntries = 0
	}
	if config.CriticalEntries != 0 && config.CriticalEntries < config.WarningEntries {
		config.CriticalEntries = config.WarningEntries
	}
	return &CacheChecker{cache: c, config: config}
}

// Name returns the name of this checker.
func (c *CacheChecker) Name() string { return "cache" }

// Check compares the current entry count with the thresholds.
func (c *CacheChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	s := c.cache.Stats()
	details := map[string]any{
		"functions": s.Functions,
		"entries":   s.Entries,
	}

	switch {
	case c.config.CriticalEntries > 0 && s.Entries >= c.config.CriticalEntries:
		return Unhealthy(
			fmt.Sprintf("cache holds %d entries (critical at %d)", s.Entries, c.config.CriticalEntries),
			ErrCheckFailed,
		).WithDetails(details)
	case c.config.WarningEntries > 0 && s.Entries >= c.config.WarningEntries:
		return Degraded(
			fmt.Sprintf("cache holds %d entries (warning at %d)", s.Entries, c.config.WarningEntries),
		).WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("cache holds %d entries", s.Entries)).WithDetails(details)
	}
}
