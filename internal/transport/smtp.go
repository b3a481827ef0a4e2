package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/monitorhub/dispatcher/internal/config"
	"github.com/monitorhub/dispatcher/internal/dispatch"
)

const (
	defaultSMTPTimeout = 10 * time.Second
	smtpsPort          = 465
)

var (
	// ErrInvalidSMTPConfig is returned by NewSMTP for missing host, port, sender or recipients.
	ErrInvalidSMTPConfig = errors.New("invalid smtp config")

	_ dispatch.Transport = (*SMTP)(nil)
)

// SMTP sends notifications as plain-text email.
//
// With UseTLS, port 465 connects with implicit TLS and any other port requires STARTTLS.
type SMTP struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
	useTLS   bool
	timeout  time.Duration
	now      func() time.Time
}

// NewSMTP validates cfg and returns an SMTP transport.
func NewSMTP(cfg config.SMTPConfig) (*SMTP, error) {
	s := &SMTP{
		host:     strings.TrimSpace(cfg.Host),
		port:     cfg.Port,
		username: strings.TrimSpace(cfg.Username),
		password: cfg.Password,
		from:     strings.TrimSpace(cfg.From),
		to:       cleanRecipients(cfg.To),
		useTLS:   cfg.UseTLS,
		timeout:  cfg.Timeout,
		now:      time.Now,
	}

	switch {
	case s.host == "":
		return nil, fmt.Errorf("%w: host is empty", ErrInvalidSMTPConfig)
	case s.port <= 0:
		return nil, fmt.Errorf("%w: port %d is invalid", ErrInvalidSMTPConfig, s.port)
	case s.from == "":
		return nil, fmt.Errorf("%w: from is empty", ErrInvalidSMTPConfig)
	case len(s.to) == 0:
		return nil, fmt.Errorf("%w: recipients are empty", ErrInvalidSMTPConfig)
	}

	if s.timeout <= 0 {
		s.timeout = defaultSMTPTimeout
	}

	return s, nil
}

// Name implements dispatch.Transport.
func (s *SMTP) Name() string { return "smtp" }

// Send implements dispatch.Transport.
func (s *SMTP) Send(ctx context.Context, n dispatch.Notification) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	dialer := net.Dialer{Timeout: s.timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial failed: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var client *smtp.Client

	if s.useTLS && s.port == smtpsPort {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: s.host, MinVersion: tls.VersionTLS12})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()

			return fmt.Errorf("smtp tls handshake failed: %w", err)
		}

		client, err = smtp.NewClient(tlsConn, s.host)
	} else {
		client, err = smtp.NewClient(conn, s.host)
	}

	if err != nil {
		_ = conn.Close()

		return fmt.Errorf("smtp client init failed: %w", err)
	}

	defer func() {
		_ = client.Close()
	}()

	if s.useTLS && s.port != smtpsPort {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return errors.New("smtp server does not support STARTTLS")
		}

		if err := client.StartTLS(&tls.Config{ServerName: s.host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls failed: %w", err)
		}
	}

	if s.username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return errors.New("smtp server does not support AUTH")
		}

		if err := client.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("smtp mail from failed: %w", err)
	}

	for _, rcpt := range s.to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt to %s failed: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data failed: %w", err)
	}

	if _, err := writer.Write([]byte(s.buildMessage(n))); err != nil {
		_ = writer.Close()

		return fmt.Errorf("smtp write failed: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp data close failed: %w", err)
	}

	// The message is accepted once DATA closes; a failed QUIT does not undo delivery.
	_ = client.Quit()

	return nil
}

func (s *SMTP) buildMessage(n dispatch.Notification) string {
	headers := []string{
		"From: " + s.from,
		"To: " + strings.Join(s.to, ", "),
		"Subject: " + Subject(n),
		"Date: " + s.now().Format(time.RFC1123Z),
		"Message-ID: <" + n.ID.String() + "@" + s.host + ">",
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="UTF-8"`,
	}

	return strings.Join(headers, "\r\n") + "\r\n\r\n" + normalizeLineEndings(Body(n))
}

// normalizeLineEndings converts every line break to CRLF.
func normalizeLineEndings(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")

	return strings.ReplaceAll(body, "\n", "\r\n")
}

func cleanRecipients(list []string) []string {
	out := make([]string, 0, len(list))

	for _, item := range list {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}
