// Package probe provides the built-in checks declared in the configuration file: disk and
// memory usage thresholds, HTTP status and TCP reachability.
//
// Failure details carry whole-number percentages and status codes only, so a steady fault
// keeps one identity while a changed reading counts as a new failure.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/monitorhub/dispatcher/internal/dispatch"
)

const defaultTimeout = 10 * time.Second

// ErrInvalidThreshold is returned for a usage threshold outside (0, 100].
var ErrInvalidThreshold = errors.New("threshold must be in (0, 100]")

type (
	// UsageFunc reports used space of a resource as a percentage.
	UsageFunc func(ctx context.Context) (float64, error)

	// ThresholdExceeded reports a resource used above its limit.
	ThresholdExceeded struct {
		Resource    string
		UsedPercent float64
		Threshold   float64
	}

	// UnexpectedStatus reports an HTTP endpoint answering with the wrong status.
	UnexpectedStatus struct {
		URL  string
		Got  int
		Want int
	}

	// Unreachable reports a target that could not be contacted at all.
	Unreachable struct {
		Target string
		Err    error
	}
)

func (e *ThresholdExceeded) Error() string {
	return fmt.Sprintf("%s at %.0f%% (threshold %.0f%%)", e.Resource, e.UsedPercent, e.Threshold)
}

func (e *UnexpectedStatus) Error() string {
	return fmt.Sprintf("%s returned HTTP %d, expected %d", e.URL, e.Got, e.Want)
}

func (e *Unreachable) Error() string {
	return fmt.Sprintf("%s unreachable: %v", e.Target, e.Err)
}

func (e *Unreachable) Unwrap() error { return e.Err }

// DiskUsage returns a UsageFunc reading the filesystem that holds path.
func DiskUsage(path string) UsageFunc {
	return func(ctx context.Context) (float64, error) {
		stat, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("disk usage of %s: %w", path, err)
		}

		return stat.UsedPercent, nil
	}
}

// MemoryUsage returns a UsageFunc reading virtual memory.
func MemoryUsage() UsageFunc {
	return func(ctx context.Context) (float64, error) {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return 0, fmt.Errorf("virtual memory: %w", err)
		}

		return vm.UsedPercent, nil
	}
}

// Threshold fails with *ThresholdExceeded when usage is above threshold percent. An error
// reading usage is returned as is and becomes a failure of its own kind.
func Threshold(resource string, threshold float64, usage UsageFunc) (dispatch.CheckFunc, error) {
	if threshold <= 0 || threshold > 100 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}

	return func(ctx context.Context, d *dispatch.Dispatcher) error {
		used, err := usage(ctx)
		if err != nil {
			return err
		}

		d.Logger().Debug("Usage sampled",
			slog.String("resource", resource),
			slog.Float64("used_percent", used),
			slog.Float64("threshold", threshold))

		if used > threshold {
			return &ThresholdExceeded{Resource: resource, UsedPercent: used, Threshold: threshold}
		}

		return nil
	}, nil
}

// HTTP fails unless a GET of url answers with want (200 when zero).
func HTTP(client *http.Client, url string, want int) dispatch.CheckFunc {
	if want == 0 {
		want = http.StatusOK
	}

	return func(ctx context.Context, _ *dispatch.Dispatcher) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request for %s: %w", url, err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return &Unreachable{Target: url, Err: stripAddr(err)}
		}

		_ = resp.Body.Close()

		if resp.StatusCode != want {
			return &UnexpectedStatus{URL: url, Got: resp.StatusCode, Want: want}
		}

		return nil
	}
}

// TCP fails unless a connection to address opens within timeout.
func TCP(address string, timeout time.Duration) dispatch.CheckFunc {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return func(ctx context.Context, _ *dispatch.Dispatcher) error {
		dialer := net.Dialer{Timeout: timeout}

		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return &Unreachable{Target: address, Err: stripAddr(err)}
		}

		return conn.Close()
	}
}

// stripAddr drops the ephemeral local address from dial errors so repeated failures render
// the same detail.
func stripAddr(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return fmt.Errorf("%s: %w", opErr.Op, opErr.Err)
	}

	return err
}
