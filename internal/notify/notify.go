// Package notify delivers operator-facing alerts: restarts, shutdowns,
// invariant violations, periodic digests. Delivery is best-effort and must
// never block or fail trading paths.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Sink receives one alert message.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// LogSink writes alerts to the structured log. It is the fallback when no
// Telegram credentials are configured.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("notify")}
}

func (s *LogSink) Send(_ context.Context, text string) error {
	s.log.Info("alert", zap.String("text", text))
	return nil
}
