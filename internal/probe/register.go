package probe

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/monitorhub/dispatcher/internal/config"
	"github.com/monitorhub/dispatcher/internal/dispatch"
)

var (
	// ErrMissingURL is returned for an http check without a url.
	ErrMissingURL = errors.New("url is required")
	// ErrMissingAddress is returned for a tcp check without an address.
	ErrMissingAddress = errors.New("address is required")
)

// Build returns the check function for one configured probe.
func Build(cfg config.CheckConfig) (dispatch.CheckFunc, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	switch cfg.Type {
	case "disk":
		path := cfg.Path
		if path == "" {
			path = "/"
		}

		return Threshold("disk "+path, cfg.Threshold, DiskUsage(path))
	case "memory":
		return Threshold("memory", cfg.Threshold, MemoryUsage())
	case "http":
		if cfg.URL == "" {
			return nil, ErrMissingURL
		}

		return HTTP(&http.Client{Timeout: timeout}, cfg.URL, cfg.ExpectStatus), nil
	case "tcp":
		if cfg.Address == "" {
			return nil, ErrMissingAddress
		}

		return TCP(cfg.Address, timeout), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownCheckType, cfg.Type)
	}
}

// Register builds every configured probe and registers it in declaration order.
func Register(reg *dispatch.Registry, checks []config.CheckConfig) error {
	for _, c := range checks {
		fn, err := Build(c)
		if err != nil {
			return fmt.Errorf("check %s: %w", c.Name, err)
		}

		if err := reg.Register(c.Name, fn); err != nil {
			return err
		}
	}

	return nil
}
