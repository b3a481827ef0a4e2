package transport

import (
	"context"
	"log/slog"

	"github.com/monitorhub/dispatcher/internal/config"
	"github.com/monitorhub/dispatcher/internal/dispatch"
)

var _ dispatch.Transport = (*Log)(nil)

// Log writes notifications to the structured log. It never fails, which makes it the default
// when no other transport is configured.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a Log transport. A nil logger means the JSON logger from the environment.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = config.NewLogger()
	}

	return &Log{logger: logger}
}

// Name implements dispatch.Transport.
func (l *Log) Name() string { return "log" }

// Send implements dispatch.Transport.
func (l *Log) Send(ctx context.Context, n dispatch.Notification) error {
	l.logger.LogAttrs(ctx, slog.LevelWarn, Subject(n),
		slog.String("notification_id", n.ID.String()),
		slog.String("check", n.CheckName),
		slog.String("kind", n.FailureKind),
		slog.String("detail", n.Detail),
		slog.String("digest", n.Digest),
		slog.Time("first_seen_at", n.FirstSeenAt),
		slog.String("hostname", n.Hostname),
		slog.String("trace", n.Trace),
	)

	return nil
}
