package observe

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		ServiceName: "udfcache-test",
		Version:     "0.0.1",
		Tracing:     TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1.0},
		Metrics:     MetricsConfig{Enabled: true, Exporter: "none"},
		Logging:     LoggingConfig{Enabled: true, Level: "info"},
	}
}

func TestConfigValidate_Valid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"missing service name", func(c *Config) { c.ServiceName = "" }, ErrMissingServiceName},
		{"unknown tracing exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }, ErrInvalidTracingExporter},
		{"unknown metrics exporter", func(c *Config) { c.Metrics.Exporter = "statsd" }, ErrInvalidMetricsExporter},
		{"sample pct too high", func(c *Config) { c.Tracing.SamplePct = 1.5 }, ErrInvalidSamplePct},
		{"sample pct negative", func(c *Config) { c.Tracing.SamplePct = -0.1 }, ErrInvalidSamplePct},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, ErrInvalidLogLevel},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestConfigValidate_ReportsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.ServiceName = ""
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	if !errors.Is(err, ErrMissingServiceName) || !errors.Is(err, ErrInvalidLogLevel) {
		t.Errorf("Validate() = %v, want both problems", err)
	}
}

func TestConfigValidate_DisabledSubsystemsSkipChecks(t *testing.T) {
	cfg := Config{
		ServiceName: "svc",
		Tracing:     TracingConfig{Exporter: "bogus", SamplePct: 7},
		Metrics:     MetricsConfig{Exporter: "bogus"},
		Logging:     LoggingConfig{Level: "bogus"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled subsystems should not be validated, got %v", err)
	}
}

func TestNewObserver_DisabledNoop(t *testing.T) {
	obs, err := NewObserver(context.Background(), Config{ServiceName: "svc"})
	if err != nil {
		t.Fatalf("NewObserver() error = %v", err)
	}
	if obs.Tracer() == nil || obs.Meter() == nil || obs.Logger() == nil {
		t.Fatal("expected non-nil telemetry primitives")
	}
	if err := obs.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewObserver_Enabled(t *testing.T) {
	obs, err := NewObserver(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("NewObserver() error = %v", err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	_, span := obs.Tracer().Start(context.Background(), "lookup")
	span.End()

	if _, err := obs.Meter().Int64Counter("lookups"); err != nil {
		t.Errorf("Int64Counter() error = %v", err)
	}
}

func TestObserver_ShutdownIsIdempotent(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy = "row"
	obs, err := NewObserver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewObserver() error = %v", err)
	}
	for range 2 {
		if err := obs.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	}
}

func TestSampler(t *testing.T) {
	tests := map[float64]string{
		1.0: "root:AlwaysOnSampler",
		0:   "root:AlwaysOffSampler",
		0.5: "root:TraceIDRatioBased",
	}
	for pct, want := range tests {
		if got := sampler(pct).Description(); !strings.Contains(got, want) {
			t.Errorf("sampler(%v) = %q, want it to contain %q", pct, got, want)
		}
	}
}

func TestNewObserver_InvalidConfigReturnsError(t *testing.T) {
	if _, err := NewObserver(context.Background(), Config{}); !errors.Is(err, ErrMissingServiceName) {
		t.Fatalf("expected ErrMissingServiceName, got %v", err)
	}
}

func TestNewNoopObserver(t *testing.T) {
	obs := NewNoopObserver()
	obs.Logger().WithFunction(FunctionMeta{Name: "f"}).Info(context.Background(), "discarded")
	if err := obs.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestMiddlewareFromObserver_Nil(t *testing.T) {
	if _, err := MiddlewareFromObserver(nil); !errors.Is(err, ErrNilObserver) {
		t.Fatalf("expected ErrNilObserver, got %v", err)
	}
}
