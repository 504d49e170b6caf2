// Package logging wraps zerolog behind a small structured logger with
// key-value args. Clones produced by the With* methods scope a shared
// output to one component, pair or field set.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level is the log severity.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if l < DEBUG || l > FATAL {
		return "UNKNOWN"
	}
	return levelNames[l]
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel converts a string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Options configures a Logger.
type Options struct {
	Level     string `json:"level"`
	Output    string `json:"output"` // "stdout", "stderr" or a file path
	Component string `json:"component"`
	AddSource bool   `json:"add_source"`
	JSON      bool   `json:"json"`
}

// Logger writes structured log lines through zerolog. Component, pair
// and fields are attached per event so the With* clones replace rather
// than accumulate duplicate keys.
type Logger struct {
	zl        zerolog.Logger
	component string
	pair      string
	fields    map[string]interface{}
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// New creates a Logger from Options. An unopenable file path falls back
// to stdout rather than failing startup.
func New(opts *Options) *Logger {
	var out io.Writer = os.Stdout
	switch opts.Output {
	case "", "stdout":
	case "stderr":
		out = os.Stderr
	default:
		if f, err := os.OpenFile(opts.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
			out = f
		}
	}
	return NewWriter(out, opts)
}

// NewWriter creates a Logger writing to w, ignoring opts.Output.
func NewWriter(w io.Writer, opts *Options) *Logger {
	out := zerolog.SyncWriter(w)
	var sink io.Writer = out
	if !opts.JSON {
		sink = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05", NoColor: true}
	}

	ctx := zerolog.New(sink).Level(ParseLevel(opts.Level).zerolog()).With().Timestamp()
	if opts.AddSource {
		// Two wrapper frames sit between the call site and zerolog.
		ctx = ctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 2)
	}

	return &Logger{
		zl:        ctx.Logger(),
		component: opts.Component,
		fields:    map[string]interface{}{},
	}
}

// Default returns the process-wide logger. LOG_LEVEL and LOG_FORMAT
// (json|text) are honored on first use.
func Default() *Logger {
	defaultOnce.Do(func() {
		if defaultLogger == nil {
			defaultLogger = New(&Options{
				Level:     os.Getenv("LOG_LEVEL"),
				Output:    "stdout",
				Component: "hedgebot",
				JSON:      !strings.EqualFold(os.Getenv("LOG_FORMAT"), "text"),
			})
		}
	})
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	defaultLogger = l
	defaultOnce.Do(func() {})
}

func (l *Logger) clone() *Logger {
	fields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	c := *l
	c.fields = fields
	return &c
}

// WithComponent returns a clone scoped to a component name.
func (l *Logger) WithComponent(component string) *Logger {
	c := l.clone()
	c.component = component
	return c
}

// WithPair returns a clone scoped to a trading pair.
func (l *Logger) WithPair(pair string) *Logger {
	c := l.clone()
	c.pair = pair
	return c
}

// WithField returns a clone carrying an extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	c := l.clone()
	c.fields[key] = value
	return c
}

// WithFields returns a clone carrying extra fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	c := l.clone()
	for k, v := range fields {
		c.fields[k] = v
	}
	return c
}

// WithError returns a clone carrying err under the "error" field.
// A nil err returns the receiver unchanged.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	c := l.clone()
	c.fields["error"] = err.Error()
	return c
}

// keyValueArgs reports whether args form "key", value, "key", value pairs.
func keyValueArgs(args []interface{}) bool {
	if len(args) == 0 || len(args)%2 != 0 {
		return false
	}
	for i := 0; i < len(args); i += 2 {
		if _, ok := args[i].(string); !ok {
			return false
		}
	}
	return true
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	ev := l.zl.WithLevel(level.zerolog())
	if ev == nil {
		return
	}

	if l.component != "" {
		ev = ev.Str("component", l.component)
	}
	if l.pair != "" {
		ev = ev.Str("pair", l.pair)
	}

	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ev = ev.Interface(k, l.fields[k])
		}
	}

	switch {
	case keyValueArgs(args):
		for i := 0; i < len(args); i += 2 {
			key := args[i].(string)
			if err, ok := args[i+1].(error); ok {
				if err != nil {
					ev = ev.Str(key, err.Error())
				}
				continue
			}
			ev = ev.Interface(key, args[i+1])
		}
		ev.Msg(msg)
	case len(args) > 0:
		ev.Msg(fmt.Sprintf(msg, args...))
	default:
		ev.Msg(msg)
	}
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(msg string, args ...interface{}) { l.log(DEBUG, msg, args...) }

// Info logs at INFO level.
func (l *Logger) Info(msg string, args ...interface{}) { l.log(INFO, msg, args...) }

// Warn logs at WARN level.
func (l *Logger) Warn(msg string, args ...interface{}) { l.log(WARN, msg, args...) }

// Error logs at ERROR level.
func (l *Logger) Error(msg string, args ...interface{}) { l.log(ERROR, msg, args...) }

// Fatal logs at FATAL level and exits the process.
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log(FATAL, msg, args...)
	os.Exit(1)
}

// Package-level helpers on the default logger.

func Debug(msg string, args ...interface{}) { Default().Debug(msg, args...) }
func Info(msg string, args ...interface{})  { Default().Info(msg, args...) }
func Warn(msg string, args ...interface{})  { Default().Warn(msg, args...) }
func Error(msg string, args ...interface{}) { Default().Error(msg, args...) }
func Fatal(msg string, args ...interface{}) { Default().Fatal(msg, args...) }

// WithComponent scopes the default logger to a component.
func WithComponent(component string) *Logger { return Default().WithComponent(component) }

// WithPair scopes the default logger to a trading pair.
func WithPair(pair string) *Logger { return Default().WithPair(pair) }

// WithField adds a field to the default logger.
func WithField(key string, value interface{}) *Logger { return Default().WithField(key, value) }

// WithError adds an error field to the default logger.
func WithError(err error) *Logger { return Default().WithError(err) }
