package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/monitorhub/dispatcher/internal/storage"
)

var (
	// ErrRegistryFrozen is returned when registering after the first run.
	ErrRegistryFrozen = errors.New("check registry is frozen")
	// ErrInvalidCheck is returned for an empty or overlong name or a nil function.
	ErrInvalidCheck = errors.New("invalid check")
)

// Registry is the ordered list of checks a Dispatcher runs.
//
// Lifecycle: built at startup, filled with Register, frozen by the first RunAll. Registering
// the same function twice runs it twice.
type Registry struct {
	mu     sync.RWMutex
	checks []Check
	frozen bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a check. The name becomes check_name in failure records and is limited to
// storage.MaxNameLength characters.
func (r *Registry) Register(name string, fn CheckFunc) error {
	name = strings.TrimSpace(name)

	switch {
	case name == "":
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidCheck)
	case utf8.RuneCountInString(name) > storage.MaxNameLength:
		return fmt.Errorf("%w: name %q longer than %d characters", ErrInvalidCheck, name, storage.MaxNameLength)
	case fn == nil:
		return fmt.Errorf("%w: %s has nil function", ErrInvalidCheck, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: cannot register %s", ErrRegistryFrozen, name)
	}

	r.checks = append(r.checks, Check{Name: name, Fn: fn})

	return nil
}

// MustRegister is Register that panics on error, for package-level wiring.
func (r *Registry) MustRegister(name string, fn CheckFunc) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Checks returns a copy of the registered checks in registration order.
func (r *Registry) Checks() []Check {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Check, len(r.checks))
	copy(out, r.checks)

	return out
}

// Len returns the number of registered checks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.checks)
}

// Freeze rejects further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.frozen
}
