package api

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/monitorhub/dispatcher/internal/config"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	defaultRateLimitRPS    = 20
)

var (
	// ErrInvalidAddress indicates the listen address is not host:port.
	ErrInvalidAddress = errors.New("invalid listen address")

	// ErrInvalidReadTimeout indicates the read timeout is zero or negative.
	ErrInvalidReadTimeout = errors.New("read timeout must be positive")

	// ErrInvalidWriteTimeout indicates the write timeout is zero or negative.
	ErrInvalidWriteTimeout = errors.New("write timeout must be positive")

	// ErrInvalidShutdownTimeout indicates the shutdown timeout is zero or negative.
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
)

// ServerConfig holds status server configuration.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    int
}

// LoadServerConfig loads server configuration from environment variables with defaults.
// An empty Addr means the status server is disabled.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:            config.GetEnvStr("DISPATCHER_STATUS_ADDR", ""),
		ReadTimeout:     config.GetEnvDuration("DISPATCHER_STATUS_READ_TIMEOUT", defaultTimeout),
		WriteTimeout:    config.GetEnvDuration("DISPATCHER_STATUS_WRITE_TIMEOUT", defaultTimeout),
		ShutdownTimeout: config.GetEnvDuration("DISPATCHER_STATUS_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		RateLimitRPS:    config.GetEnvInt("DISPATCHER_STATUS_RATE_LIMIT_RPS", defaultRateLimitRPS),
	}
}

// Enabled reports whether a listen address is configured.
func (c *ServerConfig) Enabled() bool {
	return c.Addr != ""
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidAddress, c.Addr, err)
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	return nil
}
