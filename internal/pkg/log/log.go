package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
)

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// Level gates which messages are written.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu       sync.Mutex
	out      io.Writer = os.Stdout
	minLevel           = LevelInfo
)

// ParseLevel maps a LOG_LEVEL value to a Level. Unknown values mean info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// SetLevel sets the minimum level written
func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = level
}

// SetOutput redirects log output and returns the previous writer
func SetOutput(w io.Writer) io.Writer {
	mu.Lock()
	defer mu.Unlock()
	prev := out
	out = w
	return prev
}

// WithRequestID adds request ID to context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// getRequestID retrieves request ID from context
func getRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// formatLog formats log message with optional request ID
func formatLog(level string, requestID string, format string, a ...interface{}) string {
	msg := fmt.Sprintf(format, a...)
	if requestID != "" {
		return fmt.Sprintf("[%s] [req_id=%s] %s", level, requestID, msg)
	}
	return fmt.Sprintf("[%s] %s", level, msg)
}

func write(level Level, badge string, paint *color.Color, msg string) {
	mu.Lock()
	defer mu.Unlock()
	if level < minLevel {
		return
	}
	fmt.Fprintf(out, "%s %s\n", paint.Sprint(badge), msg)
}

var (
	debugColor = color.New(color.FgCyan)
	infoColor  = color.New(color.FgWhite, color.BgGreen)
	warnColor  = color.New(color.FgWhite, color.BgYellow)
	errorColor = color.New(color.FgRed)
)

// Debug log debugging detail
func Debug(format string, a ...interface{}) {
	write(LevelDebug, "[DEBUG]", debugColor, fmt.Sprintf(format, a...))
}

// DebugWithContext logs debugging detail with context
func DebugWithContext(ctx context.Context, format string, a ...interface{}) {
	write(LevelDebug, "[DEBUG]", debugColor, formatLog("DEBUG", getRequestID(ctx), format, a...))
}

// Info log information
func Info(format string, a ...interface{}) {
	write(LevelInfo, "[INFO] ", infoColor, fmt.Sprintf(format, a...))
}

// InfoWithContext logs information with context (includes request ID if available)
func InfoWithContext(ctx context.Context, format string, a ...interface{}) {
	write(LevelInfo, "[INFO] ", infoColor, formatLog("INFO", getRequestID(ctx), format, a...))
}

// Warn log warning
func Warn(format string, a ...interface{}) {
	write(LevelWarn, "[WARN] ", warnColor, fmt.Sprintf(format, a...))
}

// WarnWithContext logs warning with context (includes request ID if available)
func WarnWithContext(ctx context.Context, format string, a ...interface{}) {
	write(LevelWarn, "[WARN] ", warnColor, formatLog("WARN", getRequestID(ctx), format, a...))
}

// Error log error
func Error(format string, a ...interface{}) {
	write(LevelError, "[Error]", errorColor, fmt.Sprintf(format, a...))
}

// ErrorWithContext logs error with context (includes request ID if available)
func ErrorWithContext(ctx context.Context, format string, a ...interface{}) {
	write(LevelError, "[Error]", errorColor, formatLog("ERROR", getRequestID(ctx), format, a...))
}

// Dump writes a spew dump of values at debug level
func Dump(label string, a ...interface{}) {
	mu.Lock()
	enabled := minLevel <= LevelDebug
	mu.Unlock()
	if !enabled {
		return
	}
	write(LevelDebug, "[DEBUG]", debugColor, label+"\n"+spew.Sdump(a...))
}
