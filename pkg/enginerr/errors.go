// Package enginerr defines the error taxonomy shared by the compatibility and
// conformity engines. Every failure that crosses a package boundary carries a
// Kind so the HTTP layer can map it without inspecting message text.
package enginerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an engine failure.
type Kind string

const (
	// KindInvalidInput marks malformed or out-of-range identifiers.
	KindInvalidInput Kind = "InvalidInput"
	// KindNotFound marks a vehicle variant or gamme absent from reference data.
	KindNotFound Kind = "NotFound"
	// KindBackendUnavailable marks an unreachable or timed-out data store.
	// Callers may retry with backoff.
	KindBackendUnavailable Kind = "BackendUnavailable"
	// KindInconsistentAggregate marks a failed postcondition on computed
	// conformity counters. It always signals a bug.
	KindInconsistentAggregate Kind = "InconsistentAggregate"
	// KindInternal marks non-retryable store faults (bad SQL, missing table).
	KindInternal Kind = "Internal"
	// KindCanceled marks work abandoned because the caller went away.
	KindCanceled Kind = "Canceled"
)

// Error is the concrete error type returned by the engines.
type Error struct {
	Kind      Kind
	Op        string
	GammeID   int64
	VariantID int64
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.GammeID != 0 {
		fmt.Fprintf(&b, " (pg_id=%d)", e.GammeID)
	}
	if e.VariantID != 0 {
		fmt.Fprintf(&b, " (type_id=%d)", e.VariantID)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind so callers can write
// errors.Is(err, &enginerr.Error{Kind: enginerr.KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// WithGamme returns a copy of e annotated with a gamme id.
func (e *Error) WithGamme(gammeID int64) *Error {
	c := *e
	c.GammeID = gammeID
	return &c
}

// WithVariant returns a copy of e annotated with a vehicle variant id.
func (e *Error) WithVariant(variantID int64) *Error {
	c := *e
	c.VariantID = variantID
	return &c
}

// InvalidInput builds a KindInvalidInput error.
func InvalidInput(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFound builds a KindNotFound error.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// BackendUnavailable wraps a store failure that the caller may retry.
func BackendUnavailable(op string, err error) *Error {
	return &Error{Kind: KindBackendUnavailable, Op: op, Err: err}
}

// InconsistentAggregate reports a violated postcondition.
func InconsistentAggregate(op string, gammeID int64, format string, args ...any) *Error {
	return &Error{Kind: KindInconsistentAggregate, Op: op, GammeID: gammeID, Msg: fmt.Sprintf(format, args...)}
}

// Internal wraps a non-retryable store fault.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// Canceled wraps a context cancellation coming from the caller.
func Canceled(op string, err error) *Error {
	return &Error{Kind: KindCanceled, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain. Bare context
// errors are mapped as the engines would map them; anything else is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindBackendUnavailable
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindInternal
}

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	return KindOf(err) == KindBackendUnavailable
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
