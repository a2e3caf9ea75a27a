package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLogger_IncludesFunctionFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf).WithFunction(FunctionMeta{Name: "detector", Strategy: "row"})

	logger.Info(context.Background(), "loaded", F("rows", 3))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e["udf.name"] != "detector" {
		t.Errorf("udf.name = %v", e["udf.name"])
	}
	if e["cache.strategy"] != "row" {
		t.Errorf("cache.strategy = %v", e["cache.strategy"])
	}
	if e["rows"] != float64(3) {
		t.Errorf("rows = %v", e["rows"])
	}
	if e["level"] != "info" || e["msg"] != "loaded" {
		t.Errorf("unexpected level/msg: %v", e)
	}
	if _, ok := e["timestamp"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestLogger_InputsRedactedByDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("debug", &buf)

	logger.Debug(context.Background(), "lookup", F("inputs", []int{1, 2}), F("dsn", "file:secret.db"), F("key", "0.a"))

	e := decodeLines(t, &buf)[0]
	if e["inputs"] != "[REDACTED]" {
		t.Errorf("inputs not redacted: %v", e["inputs"])
	}
	if e["dsn"] != "[REDACTED]" {
		t.Errorf("dsn not redacted: %v", e["dsn"])
	}
	if e["key"] != "0.a" {
		t.Errorf("key = %v", e["key"])
	}
}

func TestLogger_ErrorValuesStringified(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter("error", &buf).Error(context.Background(), "failed", F("error", errors.New("boom")))

	e := decodeLines(t, &buf)[0]
	if e["error"] != "boom" {
		t.Errorf("error = %v", e["error"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", &buf)
	ctx := context.Background()

	logger.Debug(ctx, "dropped")
	logger.Info(ctx, "dropped")
	logger.Warn(ctx, "kept")
	logger.Error(ctx, "kept")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["level"] != "warn" || entries[1]["level"] != "error" {
		t.Errorf("unexpected levels: %v, %v", entries[0]["level"], entries[1]["level"])
	}
}

func TestLogger_WithFunctionDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLoggerWithWriter("info", &buf)
	_ = parent.WithFunction(FunctionMeta{Name: "child"})

	parent.Info(context.Background(), "plain")
	if _, ok := decodeLines(t, &buf)[0]["udf.name"]; ok {
		t.Error("parent logger picked up child attributes")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug": LevelDebug,
		"info":  LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
		"":      LevelInfo,
		"other": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogger_FieldOrderAndOverride(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf).WithFunction(FunctionMeta{Name: "detector"})

	logger.Info(context.Background(), "stored", F("key", "0.a"), F("udf.name", "override"), F("rows", 1))

	line := strings.TrimSpace(buf.String())
	order := []string{`"timestamp"`, `"level"`, `"msg"`, `"udf.name"`, `"key"`, `"rows"`}
	last := -1
	for _, k := range order {
		i := strings.Index(line, k)
		if i <= last {
			t.Fatalf("key %s out of order in %s", k, line)
		}
		last = i
	}
	if strings.Count(line, `"udf.name"`) != 1 {
		t.Errorf("duplicate key written: %s", line)
	}
	if e := decodeLines(t, &buf)[0]; e["udf.name"] != "override" {
		t.Errorf("udf.name = %v, want override", e["udf.name"])
	}
}

type state int

func (state) String() string { return "open" }

func TestLogger_StringersAndUnencodableValues(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter("info", &buf).Warn(context.Background(), "odd values",
		F("state", state(1)),
		F("ch", make(chan int)),
	)

	e := decodeLines(t, &buf)[0]
	if e["state"] != "open" {
		t.Errorf("state = %v, want open", e["state"])
	}
	if _, ok := e["ch"].(string); !ok {
		t.Errorf("ch = %v, want a string fallback", e["ch"])
	}
}
