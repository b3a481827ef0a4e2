package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monitorhub/dispatcher/internal/api/middleware"
	"github.com/monitorhub/dispatcher/internal/dispatch"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSource struct {
	report   *dispatch.Report
	count    int64
	countErr error
	health   error
}

func (f *fakeSource) LastReport() *dispatch.Report { return f.report }

func (f *fakeSource) Count(context.Context) (int64, error) { return f.count, f.countErr }

func (f *fakeSource) HealthCheck(context.Context) error { return f.health }

func (f *fakeSource) Config() dispatch.Config { return *dispatch.DefaultConfig() }

func testConfig() *ServerConfig {
	return &ServerConfig{
		Addr:            "127.0.0.1:0",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
	}
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	return rec
}

func TestServer_PingAndHealth(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := NewServer(testConfig(), &fakeSource{}, "v1.2.3", discardLogger)

	rec := do(t, s, http.MethodGet, "/ping")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderCorrelationID))

	rec = do(t, s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "dispatcher", health.ServiceName)
	assert.Equal(t, "v1.2.3", health.Version)
	assert.Equal(t, "v1.2.3", rec.Header().Get("X-Dispatcher-Version"))
}

func TestServer_Ready(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	source := &fakeSource{}
	s := NewServer(testConfig(), source, "dev", discardLogger)

	rec := do(t, s, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())

	source.health = errors.New("dial tcp: connection refused")

	rec = do(t, s, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "storage unavailable", rec.Body.String())
}

func TestServer_Status(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	report := &dispatch.Report{
		RunID:     uuid.MustParse("5b0f6f1e-9d0a-4c57-8e43-1f5d2b7e6c11"),
		Checked:   2,
		Passed:    1,
		Failed:    1,
		Notified:  1,
		StartedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Results: []dispatch.Result{
			{Check: "diskSpaceCheck", Status: dispatch.StatusNotified, Kind: "ThresholdExceeded"},
			{Check: "apiHealth", Status: dispatch.StatusPassed},
		},
	}

	source := &fakeSource{report: report, count: 3}
	s := NewServer(testConfig(), source, "dev", discardLogger)

	rec := do(t, s, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(3), got.ActiveRecords)
	assert.Equal(t, "168h0m0s", got.RetentionPeriod)
	require.NotNil(t, got.LastRun)
	assert.Equal(t, report.RunID, got.LastRun.RunID)
	assert.Equal(t, 1, got.LastRun.Notified)
	assert.Len(t, got.LastRun.Results, 2)

	source.countErr = errors.New("database is locked")

	rec = do(t, s, http.MethodGet, "/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, contentTypeProblemJSON, rec.Header().Get("Content-Type"))
}

func TestServer_StatusBeforeFirstRun(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := NewServer(testConfig(), &fakeSource{}, "dev", discardLogger)

	rec := do(t, s, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"last_run":null`)
}

func TestServer_NotFound(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := NewServer(testConfig(), &fakeSource{}, "dev", discardLogger)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents", nil)
	req.Header.Set(middleware.HeaderCorrelationID, "req-42")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "Not Found", problem.Title)
	assert.Equal(t, "/api/v1/incidents", problem.Instance)
	assert.Equal(t, "req-42", problem.CorrelationID)
}

func TestServer_PanicRendersProblemDetail(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := NewServer(testConfig(), &fakeSource{}, "dev", discardLogger)

	handler := middleware.Apply(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil report")
	}), middleware.WithCorrelationID(), middleware.WithRecovery(discardLogger, s.writeProblem))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set(middleware.HeaderCorrelationID, "req-7")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, contentTypeProblemJSON, rec.Header().Get("Content-Type"))

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "Internal Server Error", problem.Title)
	assert.Equal(t, "/status", problem.Instance)
	assert.Equal(t, "req-7", problem.CorrelationID)
}

func TestServer_RateLimit(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := testConfig()
	cfg.RateLimitRPS = 1

	s := NewServer(cfg, &fakeSource{}, "dev", discardLogger)

	codes := map[int]int{}
	for range 5 {
		codes[do(t, s, http.MethodGet, "/ping").Code]++
	}

	assert.Equal(t, 2, codes[http.StatusOK], "burst is twice the rate")
	assert.Equal(t, 3, codes[http.StatusTooManyRequests])
}

func TestServer_ServeAndShutdown(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := NewServer(testConfig(), &fakeSource{}, "dev", discardLogger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping") //nolint:noctx
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServerConfig_Validate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	require.NoError(t, testConfig().Validate())

	cfg := testConfig()
	cfg.Addr = "8080"
	require.ErrorIs(t, cfg.Validate(), ErrInvalidAddress)

	cfg = testConfig()
	cfg.ReadTimeout = 0
	require.ErrorIs(t, cfg.Validate(), ErrInvalidReadTimeout)

	cfg = testConfig()
	cfg.WriteTimeout = -time.Second
	require.ErrorIs(t, cfg.Validate(), ErrInvalidWriteTimeout)

	cfg = testConfig()
	cfg.ShutdownTimeout = 0
	require.ErrorIs(t, cfg.Validate(), ErrInvalidShutdownTimeout)
}

func TestLoadServerConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("DISPATCHER_STATUS_ADDR", ":9090")
	t.Setenv("DISPATCHER_STATUS_READ_TIMEOUT", "3s")

	cfg := LoadServerConfig()
	assert.True(t, cfg.Enabled())
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.Equal(t, defaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, defaultRateLimitRPS, cfg.RateLimitRPS)
}
