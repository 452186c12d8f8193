// Package httperr carries an HTTP status alongside a Go error, the way every
// internal yamf operation reports failure: client mistakes map to 4xx, our
// own failures map to 5xx, and the stack text is redacted to one line once
// it crosses the wire in a non-development environment.
package httperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an Error as caused by the caller or by us.
type Kind int

const (
	// ServerError is the default kind: something on our side failed.
	ServerError Kind = iota
	// ClientError marks a 4xx-shaped failure: bad input, missing auth, etc.
	ClientError
)

// Error is the status-carrying error type every yamf component raises.
// Stack holds the full, possibly multi-line, diagnostic text; only the
// first line of it is ever sent to a client in prod/staging (spec.md §9
// Open Questions — the truncation is deliberate and client-facing only,
// never applied to what gets logged).
type Error struct {
	Status int
	Kind   Kind
	Stack  string
	cause  error
}

// New builds an Error with the given status and message. Status 0 defaults
// to 500, Kind is inferred from the status if not explicit.
func New(status int, format string, args ...any) *Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Status: status,
		Kind:   kindForStatus(status),
		Stack:  msg,
	}
}

// Wrap annotates err with an HTTP status, preserving err as the cause. If err
// already wraps an *Error, that Error's status, kind, stack and cause are
// kept and status is ignored.
func Wrap(status int, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Status: e.Status, Kind: e.Kind, Stack: e.Stack, cause: e.cause}
	}
	return &Error{
		Status: status,
		Kind:   kindForStatus(status),
		Stack:  err.Error(),
		cause:  err,
	}
}

// WrapInService implements spec.md §7's cascading-error rule: when a call to
// another service fails, the caller prepends `in service "<name>"` to the
// stack and re-raises, preserving the original status.
func WrapInService(name string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	status := http.StatusInternalServerError
	stack := err.Error()
	kind := ServerError
	if errors.As(err, &e) {
		status = e.Status
		stack = e.Stack
		kind = e.Kind
	}
	return &Error{
		Status: status,
		Kind:   kind,
		Stack:  fmt.Sprintf("in service %q: %s", name, stack),
		cause:  err,
	}
}

func kindForStatus(status int) Kind {
	if status >= 400 && status < 500 {
		return ClientError
	}
	return ServerError
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Stack
}

// Unwrap exposes the original cause, if any, to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.cause
}

// ClientMessage returns the text a client should see: the first line of
// Stack when redact is true (prod/staging), the full Stack otherwise.
func (e *Error) ClientMessage(redact bool) string {
	if !redact {
		return e.Stack
	}
	if i := strings.IndexByte(e.Stack, '\n'); i >= 0 {
		return e.Stack[:i]
	}
	return e.Stack
}

// Common constructors matching the statuses spec.md calls out by name.

// NotFound builds a 404 ClientError.
func NotFound(format string, args ...any) *Error {
	return New(http.StatusNotFound, format, args...)
}

// BadRequest builds a 400 ClientError.
func BadRequest(format string, args ...any) *Error {
	return New(http.StatusBadRequest, format, args...)
}

// Unauthorized builds a 401 ClientError.
func Unauthorized(format string, args ...any) *Error {
	return New(http.StatusUnauthorized, format, args...)
}

// Forbidden builds a 403 ClientError.
func Forbidden(format string, args ...any) *Error {
	return New(http.StatusForbidden, format, args...)
}

// ServiceUnavailable builds a 503 ServerError (e.g. auth provider unreachable).
func ServiceUnavailable(format string, args ...any) *Error {
	return New(http.StatusServiceUnavailable, format, args...)
}

// BadGateway builds a 502 ServerError (downstream connect failure).
func BadGateway(format string, args ...any) *Error {
	return New(http.StatusBadGateway, format, args...)
}

// Internal builds a 500 ServerError.
func Internal(format string, args ...any) *Error {
	return New(http.StatusInternalServerError, format, args...)
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// StatusOf returns the HTTP status to report for err: the Error's own status
// if err wraps one, or 500 otherwise.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}

// WriteError writes err to w as a plain-text response carrying the security
// headers spec.md §4.a mandates on every response. redact controls whether
// the stack is truncated to one line (prod/staging).
func WriteError(w http.ResponseWriter, err error, redact bool) {
	status := http.StatusInternalServerError
	msg := err.Error()
	if e, ok := As(err); ok {
		status = e.Status
		msg = e.ClientMessage(redact)
	}
	SetSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

// SetSecurityHeaders sets the three fixed security headers spec.md §4.a
// requires on every response written by the streaming server.
func SetSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
}
