// Package logging provides a tiny abstraction over slog so downstream code can
// depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a richer SimFlowLogger with contextual
// helpers (run, component) and pipeline specific logging helpers for
// provider calls, solver runs and workflows.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-insensitive level name to a LogLevel. Unknown names
// fall back to LogLevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Slog converts the level to its slog equivalent.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger defines the minimal logging interface for simflow.
// Arguments after msg are slog-style alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// SimFlowLogger wraps slog.Logger adding contextual cloning helpers and
// pipeline convenience methods. It is cheap to copy via With* methods.
type SimFlowLogger struct {
	logger    *slog.Logger
	component string
	runID     string
	attrs     []slog.Attr
}

// LoggerConfig configures construction of a SimFlowLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json, text or pretty (colored, for terminals)
	NoColor   bool   // disables colors of the pretty format
	Output    io.Writer
	AddSource bool
	Handler   slog.Handler // overrides Level/Format/Output when set
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout}
}

// NewLogger builds a SimFlowLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *SimFlowLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	handler := cfg.Handler
	if handler == nil {
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		opts := &slog.HandlerOptions{Level: cfg.Level.Slog(), AddSource: cfg.AddSource}
		switch cfg.Format {
		case "text":
			handler = slog.NewTextHandler(out, opts)
		case "pretty":
			handler = newPrettyHandler(out, cfg)
		default:
			handler = slog.NewJSONHandler(out, opts)
		}
	}
	return &SimFlowLogger{logger: slog.New(handler)}
}

// NewSlogLogger creates a new SimFlowLogger with the specified configuration.
func NewSlogLogger(level LogLevel, format string, addSource bool) *SimFlowLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}

func (l *SimFlowLogger) clone() *SimFlowLogger {
	nl := *l
	nl.attrs = append([]slog.Attr(nil), l.attrs...)
	return &nl
}

// WithContext adds a key/value attribute that will be attached to every log entry.
func (l *SimFlowLogger) WithContext(key string, value any) *SimFlowLogger {
	nl := l.clone()
	nl.attrs = append(nl.attrs, slog.Any(key, value))
	return nl
}

// WithComponent sets the logical component (gateway, solver, workflow, ...).
func (l *SimFlowLogger) WithComponent(c string) *SimFlowLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithRun attaches a workflow or optimization run identifier.
func (l *SimFlowLogger) WithRun(runID string) *SimFlowLogger {
	nl := l.clone()
	nl.runID = runID
	return nl
}

func (l *SimFlowLogger) buildAttrs(args []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.attrs)+len(args)/2+2)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.runID != "" {
		attrs = append(attrs, slog.String("run_id", l.runID))
	}
	attrs = append(attrs, l.attrs...)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			attrs = append(attrs, slog.Any("!BADKEY", args[i]))
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return attrs
}

func (l *SimFlowLogger) log(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.LogAttrs(ctx, level, msg, l.buildAttrs(args)...)
}

// Debug logs at debug level.
func (l *SimFlowLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *SimFlowLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *SimFlowLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *SimFlowLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// LogProviderCall records provider call latency and success.
func (l *SimFlowLogger) LogProviderCall(provider, model string, dur time.Duration, err error) {
	LogProviderCall(l, provider, model, dur, err)
}

// LogSolverRun records the outcome of a solver execution.
func (l *SimFlowLogger) LogSolverRun(solver, outcome string, dur time.Duration, success bool) {
	LogSolverRun(l, solver, outcome, dur, success)
}

// LogWorkflow records aggregate workflow run metrics.
func (l *SimFlowLogger) LogWorkflow(runID string, steps int, dur time.Duration, err error) {
	LogWorkflow(l, runID, steps, dur, err)
}

// LogProviderCall writes a provider call record to any Logger.
func LogProviderCall(l Logger, provider, model string, dur time.Duration, err error) {
	if err != nil {
		l.Error("Provider call failed", "provider", provider, "model", model, "duration", dur, "error", err.Error())
		return
	}
	l.Info("Provider call completed", "provider", provider, "model", model, "duration", dur)
}

// LogSolverRun writes a solver run record to any Logger.
func LogSolverRun(l Logger, solver, outcome string, dur time.Duration, success bool) {
	if !success {
		l.Error("Solver run failed", "solver", solver, "outcome", outcome, "duration", dur)
		return
	}
	l.Info("Solver run completed", "solver", solver, "outcome", outcome, "duration", dur)
}

// LogWorkflow writes a workflow run record to any Logger.
func LogWorkflow(l Logger, runID string, steps int, dur time.Duration, err error) {
	if err != nil {
		l.Error("Workflow aborted", "run_id", runID, "step_count", steps, "duration", dur, "error", err.Error())
		return
	}
	l.Info("Workflow completed", "run_id", runID, "step_count", steps, "duration", dur)
}

// StartTimer returns a closure that logs the elapsed duration when invoked.
func (l *SimFlowLogger) StartTimer(op string) func() {
	start := time.Now()
	return func() { l.Info("Operation completed", "operation", op, "duration", time.Since(start)) }
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// OrNoOp returns l, or a NoOpLogger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}

func newPrettyHandler(out io.Writer, cfg *LoggerConfig) slog.Handler {
	return tint.NewHandler(out, &tint.Options{
		Level:      cfg.Level.Slog(),
		AddSource:  cfg.AddSource,
		TimeFormat: "15:04:05.000",
		NoColor:    cfg.NoColor,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == "error" && a.Value.Kind() == slog.KindString {
				return tint.Attr(9, a)
			}
			return a
		},
	})
}
