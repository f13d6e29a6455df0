package transfer

import (
	"errors"
	"fmt"

	"github.com/abdul-hamid-achik/postkit/packages/native"
)

// Kind classifies a transfer failure. The set is closed.
type Kind int

const (
	KindInvalidURL Kind = iota + 1
	KindTimeout
	KindResponseTooLarge
	KindCancelled
	KindEngineInit
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindInvalidURL:
		return "invalid_url"
	case KindTimeout:
		return "timeout"
	case KindResponseTooLarge:
		return "response_too_large"
	case KindCancelled:
		return "cancelled"
	case KindEngineInit:
		return "engine_init_failed"
	case KindNetwork:
		return "network_error"
	}
	return "unknown"
}

// Error is the error type returned by Execute. Limit is set for
// KindResponseTooLarge; Code is the native result code when there is one.
type Error struct {
	Kind  Kind
	Limit int64
	Code  native.Code
	Err   error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindInvalidURL:
		msg = "invalid URL"
	case KindTimeout:
		msg = "transfer timed out"
	case KindResponseTooLarge:
		msg = fmt.Sprintf("response exceeds %d bytes", e.Limit)
	case KindCancelled:
		msg = "transfer cancelled"
	case KindEngineInit:
		msg = "engine initialization failed"
	default:
		msg = "network error"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind, so errors.Is(err, ErrTimeout) holds for every
// timeout regardless of its cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Err == nil
}

var (
	ErrInvalidURL       = &Error{Kind: KindInvalidURL}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrResponseTooLarge = &Error{Kind: KindResponseTooLarge}
	ErrCancelled        = &Error{Kind: KindCancelled}
	ErrEngineInit       = &Error{Kind: KindEngineInit}
	ErrNetwork          = &Error{Kind: KindNetwork}
)

var errDuplicateTask = errors.New("task ID already in flight")

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of err, or 0 if err is not a transfer error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// IsRetryable reports whether the caller may reasonably retry. The engine
// itself never retries.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindNetwork:
		return true
	}
	return false
}
