package transport

import (
	"io"
	"log/slog"

	"github.com/monitorhub/dispatcher/internal/config"
	"github.com/monitorhub/dispatcher/internal/dispatch"
)

// FromConfig builds the transports enabled in cfg. More than one enabled transport is
// wrapped in a Fanout; none falls back to the log transport. The returned close function
// releases writer resources and is never nil.
func FromConfig(cfg config.TransportsConfig, logger *slog.Logger) (dispatch.Transport, func() error, error) {
	if logger == nil {
		logger = config.NewLogger()
	}

	var members []dispatch.Transport

	if cfg.SMTP != nil {
		t, err := NewSMTP(*cfg.SMTP)
		if err != nil {
			return nil, nil, err
		}

		members = append(members, t)
	}

	if cfg.Webhook != nil {
		t, err := NewWebhook(*cfg.Webhook, logger)
		if err != nil {
			return nil, nil, err
		}

		members = append(members, t)
	}

	if cfg.Kafka != nil {
		t, err := NewKafka(*cfg.Kafka)
		if err != nil {
			return nil, nil, err
		}

		members = append(members, t)
	}

	if cfg.Telegram != nil {
		t, err := NewTelegram(*cfg.Telegram)
		if err != nil {
			return nil, nil, err
		}

		members = append(members, t)
	}

	if cfg.Log || len(members) == 0 {
		members = append(members, NewLog(logger))
	}

	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Name())
	}

	logger.Info("Notification transports configured", slog.Any("transports", names))

	if len(members) == 1 {
		t := members[0]

		return t, closerFor(t), nil
	}

	f := NewFanout(members...)

	return f, f.Close, nil
}

func closerFor(t dispatch.Transport) func() error {
	if c, ok := t.(io.Closer); ok {
		return c.Close
	}

	return func() error { return nil }
}
