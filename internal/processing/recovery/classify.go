// Package recovery provides error classification and retry execution.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Severity determines how a failure is handled.
type Severity int

const (
	// Transient failures are retried automatically.
	Transient Severity = iota
	// Recoverable failures need outside intervention (expired credentials).
	Recoverable
	// Fatal failures are never retried.
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Transient:
		return "transient"
	case Recoverable:
		return "recoverable"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Error tags an error with a known severity.
type Error struct {
	Severity Severity
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Tag wraps err with the given severity. A nil err stays nil.
func Tag(severity Severity, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Severity: severity, Op: op, Err: err}
}

// NewTransient tags err as Transient.
func NewTransient(op string, err error) error { return Tag(Transient, op, err) }

// NewRecoverable tags err as Recoverable.
func NewRecoverable(op string, err error) error { return Tag(Recoverable, op, err) }

// NewFatal tags err as Fatal.
func NewFatal(op string, err error) error { return Tag(Fatal, op, err) }

// Transient indicators. Checked first: retrying is always safe.
var transientPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection",
	"network",
	"reset by peer",
	"broken pipe",
	"eof",
	"rate limit",
	"ratelimit",
	"too many requests",
	"throttl",
	"quota",
	"429",
	"502",
	"503",
	"504",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"temporarily unavailable",
	"tls",
	"ssl",
	"handshake",
	"certificate",
}

// Recoverable indicators: authentication and authorization problems.
var recoverablePatterns = []string{
	"unauthorized",
	"unauthenticated",
	"forbidden",
	"401",
	"403",
	"token",
	"expired",
	"invalid_grant",
	"credential",
	"permission denied",
	"access denied",
	"auth",
}

// Classify maps err to a Severity. It never returns Fatal for an error it
// does not recognise; unknown errors are Recoverable.
func Classify(err error) Severity {
	if err == nil {
		return Recoverable
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Severity
	}

	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return Transient
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, transientPatterns) {
		return Transient
	}
	if containsAny(msg, recoverablePatterns) {
		return Recoverable
	}

	return Recoverable
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
