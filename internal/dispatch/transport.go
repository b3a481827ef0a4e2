package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNoTransport is returned by New without a transport.
var ErrNoTransport = errors.New("notification transport is nil")

type (
	// Notification is one delivery request for a newly recorded failure.
	Notification struct {
		ID          uuid.UUID `json:"id"`
		CheckName   string    `json:"check_name"`   //nolint: tagliatelle
		FailureKind string    `json:"failure_kind"` //nolint: tagliatelle
		Detail      string    `json:"detail"`
		Trace       string    `json:"trace"`
		Digest      string    `json:"digest"`
		FirstSeenAt time.Time `json:"first_seen_at"` //nolint: tagliatelle
		Hostname    string    `json:"hostname"`
	}

	// Transport delivers notifications. Send runs inside the record's transaction: a returned
	// error rolls the record back so the next cycle sends again.
	Transport interface {
		Name() string
		Send(ctx context.Context, n Notification) error
	}

	// TransportError reports a failed delivery.
	TransportError struct {
		Transport string
		Err       error
	}
)

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err came from a transport.
func IsTransportError(err error) bool {
	var te *TransportError

	return errors.As(err, &te)
}
