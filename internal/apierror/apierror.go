// Package apierror defines the error taxonomy shared by every layer of the
// data-access core, and the translator that turns those errors into
// user-facing messages.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNetwork is a connection or DNS failure. Retryable.
	KindNetwork
	// KindTimeout is a call that exceeded its deadline. Retryable.
	KindTimeout
	// KindHTTP is a non-2xx response. Retryable only when the status is 5xx.
	KindHTTP
	// KindValidation is bad caller input, raised before any network call.
	KindValidation
	// KindParse is a malformed success body.
	KindParse
	// KindCredential is a failure to obtain an access token.
	KindCredential
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindHTTP:
		return "http"
	case KindValidation:
		return "validation"
	case KindParse:
		return "parse"
	case KindCredential:
		return "credential"
	default:
		return "unknown"
	}
}

// Sentinel errors for status and kind classification. Use errors.Is(err,
// apierror.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("api: bad request")
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrForbidden    = errors.New("api: forbidden")
	ErrNotFound     = errors.New("api: not found")
	ErrConflict     = errors.New("api: conflict")
	ErrGone         = errors.New("api: resource gone")
	ErrServer       = errors.New("api: server error")
	ErrNetwork      = errors.New("api: network failure")
	ErrTimeout      = errors.New("api: timeout")
	ErrValidation   = errors.New("api: validation failed")
	ErrParse        = errors.New("api: malformed response")
	ErrCredential   = errors.New("api: credentials unavailable")
)

// Error is the classified failure returned by the request executor and
// consumed by the retry controller and orchestration layer.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int // zero unless Kind is KindHTTP
	Retryable  bool
	Body       string // error response body, KindHTTP only
	Cause      error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Cause != nil:
		return fmt.Sprintf("api: HTTP %d: %s: %v", e.StatusCode, e.Message, e.Cause)
	case e.StatusCode != 0:
		return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("api: %s: %s: %v", e.Kind, e.Message, e.Cause)
	default:
		return fmt.Sprintf("api: %s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the status and kind sentinels.
func (e *Error) Is(target error) bool {
	return target != nil && e.sentinel() == target
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindNetwork:
		return ErrNetwork
	case KindTimeout:
		return ErrTimeout
	case KindValidation:
		return ErrValidation
	case KindParse:
		return ErrParse
	case KindCredential:
		return ErrCredential
	case KindHTTP:
		return classifyStatus(e.StatusCode)
	}
	return nil
}

// classifyStatus maps an HTTP status code to a sentinel error. Returns nil
// for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	default:
		if code >= http.StatusInternalServerError {
			return ErrServer
		}
		return nil
	}
}

// Network classifies a transport failure.
func Network(cause error) *Error {
	return &Error{
		Kind:      KindNetwork,
		Message:   "request failed",
		Retryable: true,
		Cause:     cause,
	}
}

// Timeout classifies a call aborted because it exceeded limit.
func Timeout(limit time.Duration, cause error) *Error {
	return &Error{
		Kind:      KindTimeout,
		Message:   fmt.Sprintf("no response within %s", limit),
		Retryable: true,
		Cause:     cause,
	}
}

// HTTP classifies a non-2xx response. Only 5xx responses are retryable.
func HTTP(statusCode int, body string) *Error {
	return &Error{
		Kind:       KindHTTP,
		Message:    http.StatusText(statusCode),
		StatusCode: statusCode,
		Retryable:  statusCode >= http.StatusInternalServerError,
		Body:       body,
	}
}

// Validation reports bad caller input. Never retryable.
func Validation(format string, args ...any) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// Parse reports a success response whose body could not be decoded.
func Parse(cause error) *Error {
	return &Error{
		Kind:    KindParse,
		Message: "response body could not be parsed",
		Cause:   cause,
	}
}

// Credential reports a failure to obtain an access token.
func Credential(cause error) *Error {
	return &Error{
		Kind:    KindCredential,
		Message: "access token unavailable",
		Cause:   cause,
	}
}

// As extracts the classified error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable reports whether err is a classified error marked retryable.
// Unclassified errors (including context cancellation) are not retryable.
func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable
}

// StatusCode returns the HTTP status carried by err, or zero.
func StatusCode(err error) int {
	if e, ok := As(err); ok {
		return e.StatusCode
	}
	return 0
}
