// Package logger provides structured, category-tagged logging over log/slog.
// The call surface (InfoCF/WarnCF/ErrorCF/DebugC) matches the orchestrator's
// ancestor gateway project so the two codebases read as one continuous
// style; the backing handler is stdlib slog rather than a hand-rolled
// writer because no third-party logging library appears anywhere in the
// dependency surface this project descends from.
package logger

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	handler slog.Handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	base                 = slog.New(handler)
)

// Format selects the textual rendering of log records.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Configure replaces the backing handler. Call once at startup before any
// other goroutine logs.
func Configure(format Format, level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case FormatText:
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	base = slog.New(handler)
}

func logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func attrs(category string, fields map[string]interface{}) []any {
	out := make([]any, 0, 2+2*len(fields))
	out = append(out, "component", category)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}

// InfoCF logs an info-level message tagged with a category and structured fields.
func InfoCF(category, msg string, fields map[string]interface{}) {
	logger().Log(context.Background(), slog.LevelInfo, msg, attrs(category, fields)...)
}

// WarnCF logs a warn-level message tagged with a category and structured fields.
func WarnCF(category, msg string, fields map[string]interface{}) {
	logger().Log(context.Background(), slog.LevelWarn, msg, attrs(category, fields)...)
}

// ErrorCF logs an error-level message tagged with a category and structured fields.
func ErrorCF(category, msg string, fields map[string]interface{}) {
	logger().Log(context.Background(), slog.LevelError, msg, attrs(category, fields)...)
}

// DebugC logs a debug-level message tagged with a category, no extra fields.
func DebugC(category, msg string) {
	logger().Log(context.Background(), slog.LevelDebug, msg, "component", category)
}
