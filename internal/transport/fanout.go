package transport

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/monitorhub/dispatcher/internal/dispatch"
)

var _ dispatch.Transport = (*Fanout)(nil)

// Fanout sends every notification to each member in order. Any member failing fails the
// whole send, so the record rolls back and the next cycle delivers to all members again.
type Fanout struct {
	members []dispatch.Transport
}

// NewFanout returns a Fanout over members.
func NewFanout(members ...dispatch.Transport) *Fanout {
	return &Fanout{members: members}
}

// Members returns the wrapped transports.
func (f *Fanout) Members() []dispatch.Transport {
	return f.members
}

// Name implements dispatch.Transport.
func (f *Fanout) Name() string {
	names := make([]string, 0, len(f.members))
	for _, m := range f.members {
		names = append(names, m.Name())
	}

	return "fanout(" + strings.Join(names, ",") + ")"
}

// Send implements dispatch.Transport. Every member is attempted even after a failure; the
// returned error joins one *dispatch.TransportError per failed member.
func (f *Fanout) Send(ctx context.Context, n dispatch.Notification) error {
	var errs []error

	for _, m := range f.members {
		if err := m.Send(ctx, n); err != nil {
			errs = append(errs, &dispatch.TransportError{Transport: m.Name(), Err: err})
		}
	}

	return errors.Join(errs...)
}

// Close closes every member that holds resources.
func (f *Fanout) Close() error {
	var errs []error

	for _, m := range f.members {
		if c, ok := m.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}
