package dispatch

import (
	"context"
	"crypto/sha1" //nolint:gosec // used for a short identity suffix
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
	"unicode/utf8"

	"github.com/monitorhub/dispatcher/internal/storage"
)

const (
	// KindPanic is the failure kind recorded for a check that panicked.
	KindPanic = "panic"

	kindHashLength = 8
)

type (
	// CheckFunc is a health check. A nil return means healthy; any error is a failure that
	// goes through deduplication. Checks receive the dispatcher so they can reach its logger
	// and configuration.
	CheckFunc func(ctx context.Context, d *Dispatcher) error

	// Check is a registered, named CheckFunc.
	Check struct {
		Name string
		Fn   CheckFunc
	}

	// Kinder lets a failure name its own kind instead of using its Go type name.
	Kinder interface {
		Kind() string
	}

	// CheckFailure is what a failed check produced, ready for the notify sequence.
	CheckFailure struct {
		CheckName string
		Kind      string
		Detail    string
		Trace     string
		Err       error
	}

	// kindError is the failure built by Fail.
	kindError struct {
		kind string
		msg  string
	}

	// panicError carries a recovered panic value and the stack at the panic.
	panicError struct {
		value any
		stack []byte
	}
)

// Fail returns a failure of the given kind with a formatted detail.
//
// Example:
//
//	return dispatch.Fail("ThresholdExceeded", "disk %s at %.0f%%", path, used)
func Fail(kind, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Kind() string { return e.kind }

func (e *panicError) Error() string { return fmt.Sprint(e.value) }

func (e *panicError) Kind() string { return KindPanic }

// Error implements error.
func (f *CheckFailure) Error() string {
	return fmt.Sprintf("check %s failed: %s: %s", f.CheckName, f.Kind, f.Detail)
}

// Unwrap returns the error the check returned.
func (f *CheckFailure) Unwrap() error {
	return f.Err
}

// NewCheckFailure captures err raised by the named check.
func NewCheckFailure(checkName string, err error) *CheckFailure {
	kind := FailureKind(err)
	detail := err.Error()

	return &CheckFailure{
		CheckName: checkName,
		Kind:      clampKind(kind),
		Detail:    detail,
		Trace:     FormatTrace(kind, err),
		Err:       err,
	}
}

// clampKind fits kind into the failure_kind column. A longer kind keeps its leading runes
// followed by "~" and the first 8 hex digits of its SHA-1, so distinct long kinds stay distinct.
func clampKind(kind string) string {
	if utf8.RuneCountInString(kind) <= storage.MaxNameLength {
		return kind
	}

	sum := sha1.Sum([]byte(kind)) //nolint:gosec // identity suffix, not a security hash
	suffix := "~" + hex.EncodeToString(sum[:])[:kindHashLength]
	runes := []rune(kind)

	return string(runes[:storage.MaxNameLength-len(suffix)]) + suffix
}

// FailureKind names the category of err.
//
// Resolution order:
//  1. The first error in the chain implementing Kinder.
//  2. The type name of the first error in the chain not declared by the fmt or errors packages.
//  3. "Error".
//
// Examples:
//   - FailureKind(&ThresholdExceeded{...}) → "ThresholdExceeded"
//   - FailureKind(fmt.Errorf("probe: %w", &net.OpError{...})) → "OpError"
//   - FailureKind(errors.New("boom")) → "Error"
func FailureKind(err error) string {
	var kinder Kinder
	if errors.As(err, &kinder) {
		if kind := strings.TrimSpace(kinder.Kind()); kind != "" {
			return kind
		}
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		t := reflect.TypeOf(e)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}

		if t.Name() == "" || t.PkgPath() == "fmt" || t.PkgPath() == "errors" {
			continue
		}

		return t.Name()
	}

	return "Error"
}

// FormatTrace renders a failure for humans: the kind and message, the chain of wrapped
// causes, and the goroutine stack when the failure was a panic.
func FormatTrace(kind string, err error) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s: %s\n", kind, err.Error())

	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		fmt.Fprintf(&b, "  caused by %s: %s\n", FailureKind(cause), cause.Error())
	}

	var p *panicError
	if errors.As(err, &p) && len(p.stack) > 0 {
		b.WriteString("\n")
		b.Write(p.stack)
	}

	return b.String()
}

// invoke runs the check and turns a panic into a panicError.
func (c Check) invoke(ctx context.Context, d *Dispatcher) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()

	return c.Fn(ctx, d)
}
