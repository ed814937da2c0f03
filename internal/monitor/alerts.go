package monitor

import (
	"context"
	"log/slog"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(ctx context.Context, message string) error
}

// LogSink delivers alerts to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(_ context.Context, message string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("🔔 "+message)
	return nil
}

// SinkFunc adapts a plain function to AlertSink.
type SinkFunc func(ctx context.Context, message string) error

func (f SinkFunc) Send(ctx context.Context, message string) error { return f(ctx, message) }
