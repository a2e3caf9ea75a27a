package health

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonwraymond/udfcache/observe"
)

// AggregatorConfig configures the health aggregator.
type AggregatorConfig struct {
	// Timeout bounds one CheckAll or Report call.
	// Default: 10 seconds
	Timeout time.Duration

	// Parallel runs health checks concurrently when true.
	// Default: true
	Parallel bool

	// Logger receives a warning whenever a check changes status.
	// Default: observe.NopLogger()
	Logger observe.Logger
}

// Aggregator runs named checkers and folds their results into one status.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Context: checks share one deadline of Timeout; a check still running
// at the deadline reports StatusUnhealthy with ErrCheckTimeout.
type Aggregator struct {
	config AggregatorConfig

	mu      sync.RWMutex
	entries []entry
	last    map[string]Status
}

type entry struct {
	name    string
	checker Checker
}

// NamedResult pairs a check's registration name with its result.
type NamedResult struct {
	Name string
	Result
}

// Report is the outcome of one pass over every registered check.
type Report struct {
	Status  Status
	Checks  []NamedResult // registration order
	Checked time.Time
}

// NewAggregator creates a new health aggregator.
func NewAggregator(config ...AggregatorConfig) *Aggregator {
	cfg := AggregatorConfig{Parallel: true}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	return &Aggregator{config: cfg, last: make(map[string]Status)}
}

// Register adds a named checker, replacing one already registered under
// name while keeping its position.
func (a *Aggregator) Register(name string, checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i := a.indexLocked(name); i >= 0 {
		a.entries[i].checker = checker
		return
	}
	a.entries = append(a.entries, entry{name: name, checker: checker})
}

// Unregister removes a named checker.
func (a *Aggregator) Unregister(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i := a.indexLocked(name); i >= 0 {
		a.entries = slices.Delete(a.entries, i, i+1)
	}
	delete(a.last, name)
}

// CheckerNames returns the registered names in registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, len(a.entries))
	for i, e := range a.entries {
		names[i] = e.name
	}
	return names
}

// Check runs a single named health check.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	i := a.indexLocked(name)
	var checker Checker
	if i >= 0 {
		checker = a.entries[i].checker
	}
	a.mu.RUnlock()

	if checker == nil {
		return Result{}, ErrCheckerNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	result := runCheck(ctx, checker)
	a.observe(ctx, name, result)
	return result, nil
}

// Report runs every registered check and returns the results in
// registration order with the worst status.
func (a *Aggregator) Report(ctx context.Context) Report {
	a.mu.RLock()
	entries := slices.Clone(a.entries)
	a.mu.RUnlock()

	report := Report{Status: StatusHealthy, Checks: make([]NamedResult, len(entries)), Checked: time.Now()}
	if len(entries) == 0 {
		return report
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	run := func(i int) {
		report.Checks[i] = NamedResult{Name: entries[i].name, Result: runCheck(ctx, entries[i].checker)}
	}
	if a.config.Parallel {
		var wg sync.WaitGroup
		for i := range entries {
			wg.Go(func() { run(i) })
		}
		wg.Wait()
	} else {
		for i := range entries {
			run(i)
		}
	}

	for _, c := range report.Checks {
		a.observe(ctx, c.Name, c.Result)
		report.Status = worse(report.Status, c.Status)
	}
	return report
}

// CheckAll runs every registered check and returns results by name.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	report := a.Report(ctx)
	results := make(map[string]Result, len(report.Checks))
	for _, c := range report.Checks {
		results[c.Name] = c.Result
	}
	return results
}

// OverallStatus returns the worst status among results. No results is
// healthy.
func (a *Aggregator) OverallStatus(results map[string]Result) Status {
	overall := StatusHealthy
	for _, r := range results {
		overall = worse(overall, r.Status)
	}
	return overall
}

// Checker returns the aggregator as a single Checker named "aggregate".
func (a *Aggregator) Checker() Checker {
	return NewCheckerFunc("aggregate", func(ctx context.Context) Result {
		report := a.Report(ctx)

		details := make(map[string]any, len(report.Checks))
		for _, c := range report.Checks {
			details[c.Name] = map[string]any{
				"status":   c.Status.String(),
				"message":  c.Message,
				"duration": c.Duration.String(),
			}
		}

		message := "some checks failed"
		switch report.Status {
		case StatusHealthy:
			message = "all checks passed"
		case StatusDegraded:
			message = "some checks degraded"
		}
		return Result{
			Status:    report.Status,
			Message:   message,
			Details:   details,
			Timestamp: report.Checked,
		}
	})
}

// observe logs status transitions. The first result for a name is only
// logged when it is not healthy.
func (a *Aggregator) observe(ctx context.Context, name string, r Result) {
	a.mu.Lock()
	prev, seen := a.last[name]
	if a.indexLocked(name) >= 0 {
		a.last[name] = r.Status
	}
	a.mu.Unlock()

	if (seen && prev == r.Status) || (!seen && r.Status == StatusHealthy) {
		return
	}
	fields := []observe.Field{
		observe.F("check", name),
		observe.F("status", r.Status),
		observe.F("message", r.Message),
	}
	if seen {
		fields = append(fields, observe.F("previous", prev))
	}
	if r.Error != nil {
		fields = append(fields, observe.F("error", r.Error))
	}
	a.config.Logger.Warn(ctx, "health check changed status", fields...)
}

func (a *Aggregator) indexLocked(name string) int {
	return slices.IndexFunc(a.entries, func(e entry) bool { return e.name == name })
}

// worse ranks unknown statuses below unhealthy so they never mask a failure.
func worse(a, b Status) Status {
	if b > a && b <= StatusUnhealthy {
		return b
	}
	return a
}

func runCheck(ctx context.Context, checker Checker) Result {
	start := time.Now()
	done := make(chan Result, 1)

	go func() {
		result := checker.Check(ctx)
		result.Duration = time.Since(start)
		if result.Timestamp.IsZero() {
			result.Timestamp = start
		}
		done <- result
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		return Result{
			Status:    StatusUnhealthy,
			Message:   "check timed out",
			Error:     ErrCheckTimeout,
			Duration:  time.Since(start),
			Timestamp: start,
		}
	}
}
