package probe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monitorhub/dispatcher/internal/config"
	"github.com/monitorhub/dispatcher/internal/dispatch"
	"github.com/monitorhub/dispatcher/internal/storage"
)

func fixedUsage(percent float64) UsageFunc {
	return func(context.Context) (float64, error) { return percent, nil }
}

func TestThreshold(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()

	fn, err := Threshold("disk /", 90, fixedUsage(95.4))
	require.NoError(t, err)

	err = fn(ctx, nil)

	var exceeded *ThresholdExceeded
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "disk / at 95% (threshold 90%)", err.Error())
	assert.Equal(t, "ThresholdExceeded", dispatch.FailureKind(err))

	fn, err = Threshold("disk /", 90, fixedUsage(90))
	require.NoError(t, err)
	require.NoError(t, fn(ctx, nil), "usage equal to the threshold passes")

	boom := errors.New("statfs failed")
	fn, err = Threshold("disk /", 90, func(context.Context) (float64, error) { return 0, boom })
	require.NoError(t, err)
	require.ErrorIs(t, fn(ctx, nil), boom)

	for _, bad := range []float64{0, -1, 100.5} {
		_, err := Threshold("disk /", bad, fixedUsage(1))
		require.ErrorIs(t, err, ErrInvalidThreshold)
	}
}

func TestDiskUsage_CurrentDirectory(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	used, err := DiskUsage(t.TempDir())(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, used, 0.0)
	assert.LessOrEqual(t, used, 100.0)
}

func TestHTTP(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	require.NoError(t, HTTP(server.Client(), server.URL+"/up", 0)(ctx, nil))

	err := HTTP(server.Client(), server.URL+"/down", 0)(ctx, nil)

	var status *UnexpectedStatus
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusServiceUnavailable, status.Got)
	assert.Equal(t, "UnexpectedStatus", dispatch.FailureKind(err))

	require.NoError(t, HTTP(server.Client(), server.URL+"/down", http.StatusServiceUnavailable)(ctx, nil))
}

func TestTCP(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			_ = conn.Close()
		}
	}()

	require.NoError(t, TCP(ln.Addr().String(), time.Second)(ctx, nil))

	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	first := TCP(addr, time.Second)(ctx, nil)
	second := TCP(addr, time.Second)(ctx, nil)

	var unreachable *Unreachable
	require.ErrorAs(t, first, &unreachable)
	assert.Equal(t, "Unreachable", dispatch.FailureKind(first))
	assert.Equal(t, first.Error(), second.Error(), "detail must be stable across attempts")
}

func TestBuild(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		cfg     config.CheckConfig
		wantErr bool
	}{
		{"disk", config.CheckConfig{Name: "d", Type: "disk", Threshold: 90}, false},
		{"disk bad threshold", config.CheckConfig{Name: "d", Type: "disk"}, true},
		{"memory", config.CheckConfig{Name: "m", Type: "memory", Threshold: 95}, false},
		{"http", config.CheckConfig{Name: "h", Type: "http", URL: "http://localhost"}, false},
		{"http without url", config.CheckConfig{Name: "h", Type: "http"}, true},
		{"tcp", config.CheckConfig{Name: "t", Type: "tcp", Address: "localhost:5432"}, false},
		{"tcp without address", config.CheckConfig{Name: "t", Type: "tcp"}, true},
		{"unknown", config.CheckConfig{Name: "x", Type: "ping"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := Build(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.NotNil(t, fn)
		})
	}
}

type recordingTransport struct {
	mu   sync.Mutex
	sent []dispatch.Notification
}

func (r *recordingTransport) Name() string { return "recording" }

func (r *recordingTransport) Send(_ context.Context, n dispatch.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, n)

	return nil
}

func TestRegister_RunsThroughDispatcher(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	testDB := config.SetupSQLiteTestDatabase(ctx, t)

	conn, err := storage.NewConnection(storage.NewSQLiteConfig(testDB.DSN))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
	})

	store, err := storage.NewFailureStore(conn, storage.WithLogger(logger))
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reg := dispatch.NewRegistry()
	require.NoError(t, Register(reg, []config.CheckConfig{
		{Name: "apiHealth", Type: "http", URL: server.URL},
	}))

	usage := 97.0
	diskFn, err := Threshold("disk /", 90, func(context.Context) (float64, error) { return usage, nil })
	require.NoError(t, err)
	require.NoError(t, reg.Register("diskSpaceCheck", diskFn))

	transport := &recordingTransport{}

	d, err := dispatch.New(store, reg, transport, dispatch.DefaultConfig(), dispatch.WithLogger(logger))
	require.NoError(t, err)

	report := d.RunAll(ctx)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Notified)

	report = d.RunAll(ctx)
	assert.Equal(t, 1, report.Suppressed)

	require.Len(t, transport.sent, 1)
	assert.Equal(t, "diskSpaceCheck", transport.sent[0].CheckName)
	assert.Equal(t, "ThresholdExceeded", transport.sent[0].FailureKind)
	assert.Equal(t, "disk / at 97% (threshold 90%)", transport.sent[0].Detail)
}
