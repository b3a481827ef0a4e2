// Package api provides the read-only status HTTP server run alongside the daemon.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/monitorhub/dispatcher/internal/api/middleware"
	"github.com/monitorhub/dispatcher/internal/config"
	"github.com/monitorhub/dispatcher/internal/dispatch"
)

// StatusSource is the view of the dispatcher the server reports on.
type StatusSource interface {
	LastReport() *dispatch.Report
	Count(ctx context.Context) (int64, error)
	HealthCheck(ctx context.Context) error
	Config() dispatch.Config
}

// Server represents the status HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
	config     *ServerConfig
	source     StatusSource
	version    string
	startTime  time.Time
}

// NewServer creates a status server with structured logging and its middleware stack.
// A nil logger means the JSON logger from the environment.
func NewServer(cfg *ServerConfig, source StatusSource, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = config.NewLogger()
	}

	mux := http.NewServeMux()

	server := &Server{
		logger:    logger,
		config:    cfg,
		source:    source,
		version:   version,
		startTime: time.Now(),
	}

	server.setupRoutes(mux)

	// Middleware executes in the order listed (top-to-bottom).
	server.handler = middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger, server.writeProblem),
		middleware.WithRateLimit(middleware.NewLimiter(cfg.RateLimitRPS), logger),
		middleware.WithRequestLogger(logger),
	)

	server.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return server
}

// writeProblem renders middleware errors through WriteErrorResponse.
func (s *Server) writeProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	WriteErrorResponse(w, r, s.logger, NewProblemDetail(status, detail))
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("server failed to listen: %w", err)
	}

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting status server",
			slog.String("address", ln.Addr().String()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
		)

		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating status server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Status server shutdown failed", slog.String("error", err.Error()))

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("Status server shutdown completed")

	return nil
}
