package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/monitorhub/dispatcher/internal/config"
	"github.com/monitorhub/dispatcher/internal/dispatch"
)

const (
	defaultWebhookTimeout    = 10 * time.Second
	defaultWebhookMaxRetries = 2
	defaultWebhookBackoff    = time.Second
	webhookUserAgent         = "monitorhub-dispatcher/1"
	webhookEnvelopeType      = "dispatcher.failure.notification"
	webhookSchemaVersion     = "1"
)

var (
	// ErrInvalidWebhookConfig is returned by NewWebhook for a missing or malformed URL.
	ErrInvalidWebhookConfig = errors.New("invalid webhook config")

	_ dispatch.Transport = (*Webhook)(nil)
)

type (
	// WebhookEnvelope is the JSON payload POSTed to the webhook URL.
	WebhookEnvelope struct {
		Type          string                `json:"type"`
		SchemaVersion string                `json:"schemaVersion"`
		Timestamp     string                `json:"timestamp"`
		Subject       string                `json:"subject"`
		Data          dispatch.Notification `json:"data"`
	}

	// Webhook POSTs notifications as JSON. Delivery is synchronous: retries for 5xx and
	// connection errors happen inside Send.
	Webhook struct {
		httpClient *http.Client
		logger     *slog.Logger
		url        string
		authToken  string
		maxRetries int
		backoff    time.Duration
		limiter    *rate.Limiter
		now        func() time.Time
	}

	// webhookError wraps an error with a retryable flag.
	webhookError struct {
		err       error
		retryable bool
	}
)

// NewWebhook validates cfg and returns a Webhook transport.
func NewWebhook(cfg config.WebhookConfig, logger *slog.Logger) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidWebhookConfig)
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWebhookConfig, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: url must use http or https scheme, got %q", ErrInvalidWebhookConfig, u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("%w: url must include a host", ErrInvalidWebhookConfig)
	}

	if logger == nil {
		logger = config.NewLogger()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultWebhookMaxRetries
	}

	httpTransport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert
	if cfg.InsecureSkipVerify {
		httpTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator supplied
		logger.Warn("Webhook TLS certificate verification is disabled",
			slog.String("url", RedactURL(cfg.URL)))
	}

	w := &Webhook{
		httpClient: &http.Client{Timeout: timeout, Transport: httpTransport},
		logger:     logger,
		url:        cfg.URL,
		authToken:  cfg.AuthToken,
		maxRetries: maxRetries,
		backoff:    defaultWebhookBackoff,
		now:        time.Now,
	}

	if cfg.RatePerMinute > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), max(1, cfg.RatePerMinute/10))
	}

	return w, nil
}

// Name implements dispatch.Transport.
func (w *Webhook) Name() string { return "webhook" }

// Send implements dispatch.Transport.
func (w *Webhook) Send(ctx context.Context, n dispatch.Notification) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("webhook rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal(WebhookEnvelope{
		Type:          webhookEnvelopeType,
		SchemaVersion: webhookSchemaVersion,
		Timestamp:     w.now().UTC().Format(time.RFC3339),
		Subject:       Subject(n),
		Data:          n,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error

	for attempt := range w.maxRetries + 1 {
		if attempt > 0 {
			timer := time.NewTimer(time.Duration(attempt) * w.backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()

				return fmt.Errorf("context cancelled during webhook backoff: %w", errors.Join(ctx.Err(), lastErr))
			}
		}

		lastErr = w.doPost(ctx, body)
		if lastErr == nil {
			return nil
		}

		if !isRetryable(lastErr) {
			return lastErr
		}

		w.logger.Debug("Webhook send transient failure, will retry",
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()))
	}

	return fmt.Errorf("webhook send failed after %d attempts: %w", w.maxRetries+1, lastErr)
}

func (w *Webhook) doPost(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)

	if w.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.authToken)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return &webhookError{err: err, retryable: ctx.Err() == nil}
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	return &webhookError{
		err:       fmt.Errorf("webhook returned HTTP %d", resp.StatusCode),
		retryable: resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests,
	}
}

func (e *webhookError) Error() string { return e.err.Error() }
func (e *webhookError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var we *webhookError
	if errors.As(err, &we) {
		return we.retryable
	}

	return false
}

// RedactURL masks credentials and query values in a URL for logging.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			q.Set(key, "REDACTED")
		}

		u.RawQuery = q.Encode()
	}

	return u.Redacted()
}
