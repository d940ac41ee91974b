package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

var slogLevels = map[LogLevel]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// SlogLevel maps l onto slog. Unknown levels log at INFO.
func (l LogLevel) SlogLevel() slog.Level {
	if lvl, ok := slogLevels[l]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// ParseLevel converts a flag value such as "debug" or "WARN" into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q (expected debug, info, warn or error)", s)
}

// Format selects the slog handler used for output.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

var defaultLogger *slog.Logger

// InitForCLI initializes text logging for command-line use.
func InitForCLI(filterLevel LogLevel, output io.Writer) {
	Init(filterLevel, FormatText, output)
}

// Init configures the package logger and installs it as the slog default,
// so packages logging through slog directly share the handler.
func Init(filterLevel LogLevel, format Format, output io.Writer) {
	opts := &slog.HandlerOptions{Level: filterLevel.SlogLevel()}

	var handler slog.Handler = slog.NewTextHandler(output, opts)
	if format == FormatJSON {
		handler = slog.NewJSONHandler(output, opts)
	}
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

func logger() *slog.Logger {
	if defaultLogger != nil {
		return defaultLogger
	}
	return slog.Default()
}

func emit(level LogLevel, subsystem string, err error, format string, args []any) {
	l := logger()
	ctx := context.Background()
	if !l.Enabled(ctx, level.SlogLevel()) {
		return
	}

	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}

	attrs := []slog.Attr{slog.String("subsystem", subsystem)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.LogAttrs(ctx, level.SlogLevel(), msg, attrs...)
}

// Debug logs a debug message.
func Debug(subsystem string, format string, args ...any) {
	emit(LevelDebug, subsystem, nil, format, args)
}

// Info logs an informational message.
func Info(subsystem string, format string, args ...any) {
	emit(LevelInfo, subsystem, nil, format, args)
}

// Warn logs a warning message.
func Warn(subsystem string, format string, args ...any) {
	emit(LevelWarn, subsystem, nil, format, args)
}

// Error logs an error message with err attached.
func Error(subsystem string, err error, format string, args ...any) {
	emit(LevelError, subsystem, err, format, args)
}

// Audit records a security-relevant event (token stored, cleared, renewed).
// Callers must never pass token material in attrs.
func Audit(event string, attrs ...any) {
	args := append([]any{"event", event, "at", time.Now().UTC().Format(time.RFC3339)}, attrs...)
	logger().Info("SECURITY_AUDIT", args...)
}
