package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jonwraymond/udfcache/cache"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "udfcache.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	res, err := Load(writeConfig(t, ""), LoadOptions{Strict: true})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if diff := cmp.Diff(Default(), res.Config); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if res.Config.StrategyKind() != cache.StrategyNone {
		t.Errorf("StrategyKind() = %v", res.Config.StrategyKind())
	}
}

func TestLoadFullConfig(t *testing.T) {
	t.Setenv("UDFCACHE_DIR", "/var/lib/udfcache")

	res, err := Load(writeConfig(t, `
strategy = "persistent"
hash = "blake3"

[row]
coalesce_misses = true

[persistent]
driver = "sqlite"
dsn = "${UDFCACHE_DIR}/cache.db"
read_batch_size = 64
write_attempts = 5
write_backoff = "10ms"
write_timeout = "2s"
breaker_failures = 3
breaker_reset = "1m"

[observe]
service_name = "vision"
log_level = "debug"
tracing_exporter = "stdout"
metrics_exporter = "prometheus"
sample_pct = 0.5

[health]
warning_entries = 1000
critical_entries = 5000
`), LoadOptions{Strict: true})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	want := Config{
		Strategy: "persistent",
		Hash:     "blake3",
		Row:      RowConfig{CoalesceMisses: true},
		Persistent: PersistentConfig{
			Driver:          DriverSQLite,
			DSN:             "/var/lib/udfcache/cache.db",
			ReadBatchSize:   64,
			WriteAttempts:   5,
			WriteBackoff:    Duration(10 * time.Millisecond),
			WriteTimeout:    Duration(2 * time.Second),
			BreakerFailures: 3,
			BreakerReset:    Duration(time.Minute),
		},
		Observe: ObserveConfig{
			ServiceName:     "vision",
			LogLevel:        "debug",
			TracingExporter: "stdout",
			MetricsExporter: "prometheus",
			SamplePct:       0.5,
		},
		Health: HealthConfig{WarningEntries: 1000, CriticalEntries: 5000},
	}
	if diff := cmp.Diff(want, res.Config); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	obs := res.Config.ObserverConfig()
	if !obs.Tracing.Enabled || !obs.Metrics.Enabled || obs.Logging.Level != "debug" {
		t.Errorf("ObserverConfig() = %+v", obs)
	}
}

func TestLoadUnknownKeys(t *testing.T) {
	contents := `
strategy = "row"
ttl = "5m"

[row]
max_rows = 10
`
	_, err := Load(writeConfig(t, contents), LoadOptions{Strict: true})
	if err == nil {
		t.Fatal("expected error for unknown keys in strict mode")
	}
	if !strings.Contains(err.Error(), "max_rows") || !strings.Contains(err.Error(), "ttl") {
		t.Errorf("error should name the keys: %v", err)
	}

	res, err := Load(writeConfig(t, contents), LoadOptions{})
	if err != nil {
		t.Fatalf("non-strict Load returned error: %v", err)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "max_rows") {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if res.Config.Strategy != "row" {
		t.Errorf("Strategy = %q", res.Config.Strategy)
	}
}

func TestLoadMissingEnv(t *testing.T) {
	_, err := Load(writeConfig(t, `
strategy = "persistent"
[persistent]
dsn = "${UDFCACHE_TEST_UNSET_DIR}/cache.db"
`), LoadOptions{})
	if err == nil || !strings.Contains(err.Error(), "UDFCACHE_TEST_UNSET_DIR") {
		t.Fatalf("expected missing variable error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml"), LoadOptions{}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want ErrNotExist", err)
	}
}

func TestLoadBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
[persistent]
write_backoff = "soon"
`), LoadOptions{})
	if err == nil {
		t.Error("expected duration error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown strategy", func(c *Config) { c.Strategy = "lru" }, "strategy"},
		{"unknown hash", func(c *Config) { c.Hash = "md5" }, "hash"},
		{"unknown driver", func(c *Config) { c.Persistent.Driver = "postgres" }, "persistent.driver"},
		{"sqlite without dsn", func(c *Config) { c.Strategy = "persistent" }, "persistent.dsn"},
		{"negative batch", func(c *Config) { c.Persistent.ReadBatchSize = -1 }, "read_batch_size"},
		{"negative attempts", func(c *Config) { c.Persistent.WriteAttempts = -1 }, "write_attempts"},
		{"negative breaker", func(c *Config) { c.Persistent.BreakerFailures = -2 }, "breaker_failures"},
		{"negative duration", func(c *Config) { c.Persistent.BreakerReset = Duration(-time.Second) }, "durations"},
		{"bad exporter", func(c *Config) { c.Observe.TracingExporter = "zipkin" }, "observe"},
		{"bad sample", func(c *Config) { c.Observe.TracingExporter = "stdout"; c.Observe.SamplePct = 2 }, "observe"},
		{"inverted thresholds", func(c *Config) { c.Health = HealthConfig{WarningEntries: 10, CriticalEntries: 5} }, "critical_entries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_MemoryDriverNeedsNoDSN(t *testing.T) {
	cfg := Default()
	cfg.Strategy = "persistent"
	cfg.Persistent.Driver = DriverMemory
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Strategy = "lru"
	cfg.Hash = "md5"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "strategy") || !strings.Contains(err.Error(), "hash") {
		t.Errorf("Validate() = %v", err)
	}
}
