// Package errs defines the error taxonomy shared by every spindle
// component. Callers classify failures with Is/KindOf and map them to
// user-facing guidance with UserMessage and FallbackHint.
package errs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

type Kind int

const (
	KindIO Kind = iota
	KindConfig
	KindBenchmark
	KindPermission
	KindInsufficientSpace
	KindDirectIOUnsupported
	KindScratchFile
	KindPersistence
	KindWorker
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindConfig:
		return "config"
	case KindBenchmark:
		return "benchmark"
	case KindPermission:
		return "permission"
	case KindInsufficientSpace:
		return "insufficient-space"
	case KindDirectIOUnsupported:
		return "direct-io-unsupported"
	case KindScratchFile:
		return "scratch-file"
	case KindPersistence:
		return "persistence"
	case KindWorker:
		return "worker"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error carries a kind, a message, and an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the taxonomy kind from err, unwrapping as needed.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// FromOS reclassifies an OS-level error into the taxonomy: permission
// and out-of-space conditions become their own kinds so callers can
// give actionable guidance; anything else stays a plain I/O error.
func FromOS(msg string, err error) *Error {
	switch {
	case errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM):
		return Wrap(KindPermission, msg, err)
	case errors.Is(err, syscall.ENOSPC):
		return Wrap(KindInsufficientSpace, msg, err)
	case errors.Is(err, os.ErrNotExist):
		return Wrap(KindIO, msg, err)
	default:
		return Wrap(KindIO, msg, err)
	}
}

// IsRetryable reports whether a retry of the failed operation could
// plausibly succeed. Validation, permission, unsupported-direct-IO and
// cancellation failures never benefit from a retry.
func IsRetryable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		// Unclassified errors are assumed transient.
		return true
	}
	switch k {
	case KindConfig, KindPermission, KindDirectIOUnsupported, KindCancelled:
		return false
	default:
		return true
	}
}

// UserMessage maps an error to a human-readable explanation.
func UserMessage(err error) string {
	k, ok := KindOf(err)
	if !ok {
		return err.Error()
	}
	switch k {
	case KindPermission:
		return "Permission denied. Try running as administrator or check file permissions."
	case KindInsufficientSpace:
		return "Insufficient disk space. Free up space or choose a smaller file size."
	case KindDirectIOUnsupported:
		return "Direct I/O not supported on this filesystem. Results may be less accurate."
	case KindScratchFile:
		return "Failed to create temporary files. Check disk space and permissions."
	case KindConfig:
		return fmt.Sprintf("Configuration error: %v. Check your settings.", err)
	case KindPersistence:
		return "Failed to save results. Check disk space and permissions."
	case KindCancelled:
		return "Operation was cancelled by user."
	default:
		return err.Error()
	}
}

// FallbackHint suggests a recovery action for errors that have one.
func FallbackHint(err error) (string, bool) {
	k, ok := KindOf(err)
	if !ok {
		return "", false
	}
	switch k {
	case KindDirectIOUnsupported:
		return "Falling back to buffered I/O. Results may be less accurate but still useful.", true
	case KindPermission:
		return "Try selecting a different disk location or running with elevated privileges.", true
	case KindInsufficientSpace:
		return "Consider reducing the file size or selecting a different disk with more space.", true
	default:
		return "", false
	}
}
