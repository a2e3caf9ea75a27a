// Package health reports whether the cache's collaborators are usable.
//
// A Checker reports one component's Status: Healthy, Degraded, or Unhealthy.
// StoreChecker pings the storage backing the persistent strategy, and
// CacheChecker watches how many rows a strategy holds in memory, since the
// persistent strategy reads whole cache tables on first touch.
//
// # Aggregating Health Checks
//
//	agg := health.NewAggregator()
//	agg.Register("store", health.NewStoreChecker(store))
//	agg.Register("cache", health.NewCacheChecker(c, health.CacheCheckerConfig{
//	    WarningEntries:  1_000_000,
//	    CriticalEntries: 5_000_000,
//	}))
//
//	report := agg.Report(ctx)
//	for _, c := range report.Checks {
//	    fmt.Println(c.Name, c.Status)
//	}
//
// Status changes are logged at warn through AggregatorConfig.Logger.
package health
