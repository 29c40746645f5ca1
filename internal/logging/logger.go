package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"ballarena/server/internal/config"
)

var (
	globalMu     sync.RWMutex
	globalLogger = newNopLogger()
)

// Level represents log verbosity ordering.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	default:
		return "info"
	}
}

// ParseLevel maps a configuration string onto a Level.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", raw)
	}
}

// Field represents a structured logging attribute.
type Field struct {
	Key   string
	Value any
}

// String returns a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Strings returns a string slice field.
func Strings(key string, values []string) Field { return Field{Key: key, Value: values} }

// Int returns an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 returns an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Uint64 returns a uint64 field; entity ids and ticks use it.
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }

// Float64 returns a float64 field.
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

// Duration renders a duration in milliseconds.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key + "_ms", Value: float64(value) / float64(time.Millisecond)}
}

// Bool returns a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Error returns an error field rendered as its message.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// syncWriter describes a writer that can flush to durable storage.
type syncWriter interface {
	io.Writer
	Sync() error
}

// Logger emits JSON-formatted structured logs with optional contextual fields.
type Logger struct {
	mu     *sync.Mutex
	level  Level
	writer syncWriter
	fields map[string]any
	now    func() time.Time
}

// Option customises logger construction.
type Option func(*options)

type options struct {
	mirror syncWriter
	fields []Field
}

// WithMirror duplicates every line to w instead of stdout; nil disables mirroring.
func WithMirror(w io.Writer) Option {
	return func(o *options) {
		if w == nil {
			o.mirror = nil
			return
		}
		o.mirror = nopSync{w}
	}
}

// WithFields attaches fields to every line written by the logger.
func WithFields(fields ...Field) Option {
	return func(o *options) {
		o.fields = append(o.fields, fields...)
	}
}

// New constructs a JSON logger backed by a size-rotated file and installs it globally.
func New(cfg config.LoggingConfig, opts ...Option) (*Logger, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("logging path must be specified")
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	settings := options{mirror: nopSync{os.Stdout}}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	file, err := newRotatingWriter(cfg)
	if err != nil {
		return nil, err
	}
	writers := multiWriter{file}
	if settings.mirror != nil {
		writers = append(writers, settings.mirror)
	}
	logger := &Logger{
		mu:     &sync.Mutex{},
		level:  level,
		writer: writers,
		fields: map[string]any{"service": "arena"},
		now:    time.Now,
	}
	for _, field := range settings.fields {
		logger.fields[field.Key] = field.Value
	}
	ReplaceGlobals(logger)
	return logger, nil
}

// NewWriterLogger builds a logger that writes to w without rotation; tests use it to inspect output.
func NewWriterLogger(w io.Writer, level Level) *Logger {
	var sink syncWriter = nopSync{w}
	if sw, ok := w.(syncWriter); ok {
		sink = sw
	}
	return &Logger{mu: &sync.Mutex{}, level: level, writer: sink, fields: map[string]any{"service": "arena"}, now: time.Now}
}

// NewTestLogger returns a logger that discards output, suitable for tests.
func NewTestLogger() *Logger {
	return newNopLogger()
}

func newNopLogger() *Logger {
	return &Logger{
		mu:     &sync.Mutex{},
		level:  DebugLevel,
		writer: nopSync{io.Discard},
		fields: make(map[string]any),
		now:    time.Now,
	}
}

// ReplaceGlobals swaps the fallback logger used when no explicit logger is supplied.
func ReplaceGlobals(logger *Logger) {
	if logger == nil {
		return
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// L returns the current global logger.
func L() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// With returns a child logger carrying additional fields. Children share the
// parent's writer and lock.
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return L().With(fields...)
	}
	clone := &Logger{
		mu:     l.mu,
		level:  l.level,
		writer: l.writer,
		fields: make(map[string]any, len(l.fields)+len(fields)),
		now:    l.now,
	}
	for k, v := range l.fields {
		clone.fields[k] = v
	}
	for _, field := range fields {
		clone.fields[field.Key] = field.Value
	}
	return clone
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return L().Enabled(level)
	}
	return level >= l.level
}

// Sync flushes buffered output to durable storage.
func (l *Logger) Sync() error {
	if l == nil || l.writer == nil {
		return nil
	}
	return l.writer.Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields ...Field) { l.log(DebugLevel, message, fields...) }

// Info logs an informational message.
func (l *Logger) Info(message string, fields ...Field) { l.log(InfoLevel, message, fields...) }

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields ...Field) { l.log(WarnLevel, message, fields...) }

// Error logs an error message.
func (l *Logger) Error(message string, fields ...Field) { l.log(ErrorLevel, message, fields...) }

// Fatal logs a fatal message and exits the process.
func (l *Logger) Fatal(message string, fields ...Field) { l.log(FatalLevel, message, fields...) }

func (l *Logger) log(level Level, message string, fields ...Field) {
	if l == nil {
		L().log(level, message, fields...)
		return
	}
	if level < l.level {
		return
	}
	payload := make(map[string]any, len(l.fields)+len(fields)+3)
	for k, v := range l.fields {
		payload[k] = v
	}
	payload["timestamp"] = l.now().UTC().Format(time.RFC3339Nano)
	payload["level"] = level.String()
	payload["message"] = message
	for _, field := range fields {
		payload[field.Key] = field.Value
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.writer.Write(append(data, '\n'))
	if level == FatalLevel {
		_ = l.writer.Sync()
		os.Exit(1)
	}
}

// multiWriter fans every line out to each sink; the first failure wins.
type multiWriter []syncWriter

func (m multiWriter) Write(p []byte) (int, error) {
	for _, w := range m {
		if _, err := w.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (m multiWriter) Sync() error {
	var errs error
	for _, w := range m {
		if err := w.Sync(); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

type nopSync struct{ io.Writer }

func (nopSync) Sync() error { return nil }
