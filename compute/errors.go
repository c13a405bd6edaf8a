package compute

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a compute failure. Every kind is fatal to the run.
type Kind int

const (
	KindUnknown Kind = iota
	KindDeviceUnavailable
	KindAllocationFailed
	KindKernelBuildFailed
	KindEntryPointNotFound
	KindDimensionMismatch
	KindDispatchFailed
	KindInvalidAccess
	KindSizeMismatch
	KindVerificationMismatch
	KindInvalidBinding
)

func (k Kind) String() string {
	switch k {
	case KindDeviceUnavailable:
		return "device unavailable"
	case KindAllocationFailed:
		return "allocation failed"
	case KindKernelBuildFailed:
		return "kernel build failed"
	case KindEntryPointNotFound:
		return "entry point not found"
	case KindDimensionMismatch:
		return "dimension mismatch"
	case KindDispatchFailed:
		return "dispatch failed"
	case KindInvalidAccess:
		return "invalid access"
	case KindSizeMismatch:
		return "size mismatch"
	case KindVerificationMismatch:
		return "verification mismatch"
	case KindInvalidBinding:
		return "invalid binding"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against a kind.
var (
	ErrDeviceUnavailable    = &Error{Kind: KindDeviceUnavailable}
	ErrAllocationFailed     = &Error{Kind: KindAllocationFailed}
	ErrKernelBuildFailed    = &Error{Kind: KindKernelBuildFailed}
	ErrEntryPointNotFound   = &Error{Kind: KindEntryPointNotFound}
	ErrDimensionMismatch    = &Error{Kind: KindDimensionMismatch}
	ErrDispatchFailed       = &Error{Kind: KindDispatchFailed}
	ErrInvalidAccess        = &Error{Kind: KindInvalidAccess}
	ErrSizeMismatch         = &Error{Kind: KindSizeMismatch}
	ErrVerificationMismatch = &Error{Kind: KindVerificationMismatch}
	ErrInvalidBinding       = &Error{Kind: KindInvalidBinding}
)

// Error is the single error type returned by the compute core.
type Error struct {
	Kind Kind
	// Op names the failing stage, e.g. "buffer.map" or "session.dispatch".
	Op  string
	Err error

	// Log carries the backend build diagnostics for KindKernelBuildFailed.
	Log string
	// Mismatches carries the reported elements for KindVerificationMismatch.
	Mismatches []Mismatch
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the Err* sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

func newError(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func wrapError(kind Kind, op string, err error) *Error {
	var ce *Error
	if errors.As(err, &ce) && ce.Kind == kind {
		return ce
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// BuildLog returns the kernel build diagnostics carried by err, if any.
func BuildLog(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Log
	}
	return ""
}
