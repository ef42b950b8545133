// Package logging writes one JSON object per line through a shared slog
// JSON handler.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type Fields struct {
	Service    string
	OrderID    string
	EventID    string
	SessionID  string
	VariantID  string
	Step       string
	Status     string
	DurationMS int64
	Message    string
	Error      string
}

var base = slog.New(slog.NewJSONHandler(os.Stderr, nil))

// SetHandler swaps the output handler, for tests and alternative sinks.
func SetHandler(h slog.Handler) { base = slog.New(h) }

// Logger carries the service name so call sites only fill what varies.
type Logger struct {
	Service string
}

func New(service string) *Logger { return &Logger{Service: service} }

func (l *Logger) Info(f Fields) {
	f.Service = l.service()
	emit(slog.LevelInfo, f)
}

func (l *Logger) Error(f Fields, err error) {
	f.Service = l.service()
	if err != nil {
		f.Error = err.Error()
	}
	if f.Status == "" {
		f.Status = "error"
	}
	emit(slog.LevelError, f)
}

func (l *Logger) service() string {
	if l == nil {
		return ""
	}
	return l.Service
}

// emit logs the step as the message; empty fields are left out.
func emit(level slog.Level, f Fields) {
	attrs := []slog.Attr{slog.String("service", f.Service)}
	for _, kv := range []struct{ k, v string }{
		{"order_id", f.OrderID},
		{"event_id", f.EventID},
		{"session_id", f.SessionID},
		{"variant_id", f.VariantID},
		{"status", f.Status},
		{"message", f.Message},
		{"error", f.Error},
	} {
		if kv.v != "" {
			attrs = append(attrs, slog.String(kv.k, kv.v))
		}
	}
	if f.DurationMS != 0 {
		attrs = append(attrs, slog.Int64("duration_ms", f.DurationMS))
	}
	base.LogAttrs(context.Background(), level, f.Step, attrs...)
}
