// Package config loads and validates the udfcache TOML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/jonwraymond/udfcache/cache"
	"github.com/jonwraymond/udfcache/observe"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Driver selects the store behind the persistent strategy.
type Driver string

const (
	// DriverSQLite stores cache tables in a modernc.org/sqlite database.
	DriverSQLite Driver = "sqlite"
	// DriverMemory keeps cache tables in process memory.
	DriverMemory Driver = "memory"
)

// RowConfig configures the row-indexed strategies.
type RowConfig struct {
	CoalesceMisses bool `toml:"coalesce_misses"`
}

// PersistentConfig configures the persistent strategy's store and the guard
// around its write-through.
type PersistentConfig struct {
	Driver          Driver   `toml:"driver"`
	DSN             string   `toml:"dsn"`
	ReadBatchSize   int      `toml:"read_batch_size"`
	WriteAttempts   int      `toml:"write_attempts"`
	WriteBackoff    Duration `toml:"write_backoff"`
	WriteTimeout    Duration `toml:"write_timeout"`
	BreakerFailures int      `toml:"breaker_failures"`
	BreakerReset    Duration `toml:"breaker_reset"`
}

// ObserveConfig configures telemetry.
type ObserveConfig struct {
	ServiceName     string  `toml:"service_name"`
	LogLevel        string  `toml:"log_level"`
	TracingExporter string  `toml:"tracing_exporter"`
	MetricsExporter string  `toml:"metrics_exporter"`
	SamplePct       float64 `toml:"sample_pct"`
}

// HealthConfig configures the cache size check.
type HealthConfig struct {
	WarningEntries  int `toml:"warning_entries"`
	CriticalEntries int `toml:"critical_entries"`
}

// Config mirrors the udfcache TOML schema.
type Config struct {
	Strategy   string           `toml:"strategy"`
	Hash       string           `toml:"hash"`
	Row        RowConfig        `toml:"row"`
	Persistent PersistentConfig `toml:"persistent"`
	Observe    ObserveConfig    `toml:"observe"`
	Health     HealthConfig     `toml:"health"`
}

// Default returns the configuration used for keys a file leaves unset.
func Default() Config {
	return Config{
		Strategy: cache.StrategyNone.String(),
		Hash:     string(cache.HashSHA256),
		Persistent: PersistentConfig{
			Driver:          DriverSQLite,
			ReadBatchSize:   256,
			WriteAttempts:   3,
			WriteBackoff:    Duration(50 * time.Millisecond),
			WriteTimeout:    Duration(5 * time.Second),
			BreakerFailures: 5,
			BreakerReset:    Duration(30 * time.Second),
		},
		Observe: ObserveConfig{
			ServiceName:     "udfcache",
			LogLevel:        "info",
			TracingExporter: "none",
			MetricsExporter: "none",
			SamplePct:       1.0,
		},
	}
}

// LoadOptions tunes config loading behavior.
type LoadOptions struct {
	// Strict rejects unknown keys instead of reporting them as warnings.
	Strict bool
}

// Result wraps a loaded configuration alongside any non-fatal warnings.
type Result struct {
	Config   Config
	Warnings []string
}

// Load reads, decodes, expands and validates a configuration file.
func Load(path string, opts LoadOptions) (Result, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	res, err := Decode(data, opts)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

// Decode decodes TOML data over Default, expands ${VAR} references in the
// DSN and validates the result.
func Decode(data []byte, opts LoadOptions) (Result, error) {
	var res Result

	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err := dec.Decode(&cfg)

	var missing *toml.StrictMissingError
	if errors.As(err, &missing) {
		keys := make([]string, 0, len(missing.Errors))
		for _, e := range missing.Errors {
			keys = append(keys, strings.Join(e.Key(), "."))
		}
		slices.Sort(keys)
		message := "unknown configuration keys: " + strings.Join(keys, ", ")
		if opts.Strict {
			return res, errors.New(message)
		}
		res.Warnings = append(res.Warnings, message)

		cfg = Default()
		err = toml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return res, err
	}

	dsn, err := ExpandEnvStrict(cfg.Persistent.DSN)
	if err != nil {
		return res, fmt.Errorf("persistent.dsn: %w", err)
	}
	cfg.Persistent.DSN = dsn

	if err := cfg.Validate(); err != nil {
		return res, err
	}
	res.Config = cfg
	return res, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	kind, err := cache.ParseStrategy(c.Strategy)
	if err != nil {
		fail("strategy: %v", err)
	}
	if _, err := cache.ParseHashAlgorithm(c.Hash); err != nil {
		fail("hash: %v", err)
	}

	p := c.Persistent
	switch p.Driver {
	case DriverSQLite:
		if kind == cache.StrategyPersistent && p.DSN == "" {
			fail("persistent.dsn is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		fail("persistent.driver: unsupported driver %q", p.Driver)
	}
	if p.ReadBatchSize < 0 {
		fail("persistent.read_batch_size must not be negative")
	}
	if p.WriteAttempts < 0 {
		fail("persistent.write_attempts must not be negative")
	}
	if p.BreakerFailures < 0 {
		fail("persistent.breaker_failures must not be negative")
	}
	if p.WriteBackoff < 0 || p.WriteTimeout < 0 || p.BreakerReset < 0 {
		fail("persistent durations must not be negative")
	}

	oc := c.ObserverConfig()
	if err := oc.Validate(); err != nil {
		fail("observe: %v", err)
	}

	h := c.Health
	if h.WarningEntries < 0 || h.CriticalEntries < 0 {
		fail("health thresholds must not be negative")
	}
	if h.WarningEntries > 0 && h.CriticalEntries > 0 && h.CriticalEntries < h.WarningEntries {
		fail("health.critical_entries must be at least health.warning_entries")
	}

	return errors.Join(errs...)
}

// StrategyKind returns the parsed strategy. Call after Validate.
func (c *Config) StrategyKind() cache.Strategy {
	kind, _ := cache.ParseStrategy(c.Strategy)
	return kind
}

// ObserverConfig maps the [observe] section onto observe.Config. Logging is
// always on; an exporter of "none" disables its subsystem.
func (c *Config) ObserverConfig() observe.Config {
	o := c.Observe
	return observe.Config{
		ServiceName:    o.ServiceName,
		Strategy:       c.Strategy,
		RegisterGlobal: true,
		Tracing: observe.TracingConfig{
			Enabled:   o.TracingExporter != "" && o.TracingExporter != "none",
			Exporter:  o.TracingExporter,
			SamplePct: o.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  o.MetricsExporter != "" && o.MetricsExporter != "none",
			Exporter: o.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   o.LogLevel,
		},
	}
}
