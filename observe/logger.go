package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"
)

// Logger is a minimal structured logging interface.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods should honor cancellation/deadlines where applicable.
// - Errors: logging must be best-effort and must not panic.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)
	WithFunction(meta FunctionMeta) Logger
}

// Field is one structured log attribute.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for constructing a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// RedactedFields lists field keys whose values are never written. UDF
// inputs carry raw frame data; the DSN may embed credentials.
var RedactedFields = []string{
	"input",
	"inputs",
	"frames",
	"password",
	"secret",
	"token",
	"dsn",
}

// LogLevel represents a logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLogLevel parses a string log level. Unknown levels map to info.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// jsonLogger writes one JSON object per line: timestamp, level and msg
// first, then scoped attributes, then call fields, in that order.
type jsonLogger struct {
	level  LogLevel
	out    *lockedWriter
	scoped []Field
}

// lockedWriter is shared by a logger and everything derived from it.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) write(p []byte) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, _ = lw.w.Write(p)
}

// NewLogger creates a JSON logger writing to stderr.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a JSON logger writing to w.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	return &jsonLogger{level: ParseLogLevel(level), out: &lockedWriter{w: w}}
}

// WithFunction returns a logger that tags every line with the UDF name and,
// when set, the cache strategy.
func (l *jsonLogger) WithFunction(meta FunctionMeta) Logger {
	scoped := slices.Clip(l.scoped)
	scoped = append(scoped, F("udf.name", meta.Name))
	if meta.Strategy != "" {
		scoped = append(scoped, F("cache.strategy", meta.Strategy))
	}
	return &jsonLogger{level: l.level, out: l.out, scoped: scoped}
}

func (l *jsonLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelInfo, msg, fields)
}

func (l *jsonLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelWarn, msg, fields)
}

func (l *jsonLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelError, msg, fields)
}

func (l *jsonLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelDebug, msg, fields)
}

func (l *jsonLogger) log(_ context.Context, level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	writeMember(&buf, "timestamp", time.Now().UTC().Format(time.RFC3339Nano))
	writeMember(&buf, "level", level.String())
	writeMember(&buf, "msg", msg)

	// Later fields win on duplicate keys.
	seen := make(map[string]int, len(l.scoped)+len(fields))
	all := make([]Field, 0, len(l.scoped)+len(fields))
	for _, f := range slices.Concat(l.scoped, fields) {
		if i, ok := seen[f.Key]; ok {
			all[i] = f
			continue
		}
		seen[f.Key] = len(all)
		all = append(all, f)
	}
	for _, f := range all {
		writeMember(&buf, f.Key, logValue(f))
	}
	buf.WriteString("}\n")

	l.out.write(buf.Bytes())
}

func writeMember(buf *bytes.Buffer, key string, value any) {
	if buf.Len() > 1 {
		buf.WriteByte(',')
	}
	k, _ := json.Marshal(key)
	buf.Write(k)
	buf.WriteByte(':')
	v, err := json.Marshal(value)
	if err != nil {
		v, _ = json.Marshal(fmt.Sprintf("%v", value))
	}
	buf.Write(v)
}

func logValue(f Field) any {
	if slices.Contains(RedactedFields, f.Key) {
		return "[REDACTED]"
	}
	switch v := f.Value.(type) {
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	}
	return f.Value
}

var _ Logger = (*jsonLogger)(nil)

type noopLogger struct{}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return noopLogger{} }

func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (l noopLogger) WithFunction(FunctionMeta) Logger      { return l }
