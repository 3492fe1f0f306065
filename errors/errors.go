package errors

import (
	"fmt"
	"net/http"
	"time"
)

// Error is a coded failure. Build one with New or a constructor such as
// Resolution and refine it with Options.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	retryable *bool
	message   string
	cause     error
	metadata  map[string]string
	sessionID string
	at        time.Time
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

// Message returns the message without the cause.
func (e *Error) Message() string { return e.message }

func (e *Error) Code() ErrorCode { return e.code }

func (e *Error) Category() ErrorCategory { return e.category }

// Retryable reports whether retrying may help. An explicit WithRetryable
// wins over the category.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the metadata.
func (e *Error) Metadata() map[string]string {
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

func (e *Error) Unwrap() error { return e.cause }

// Timestamp returns when the error was created.
func (e *Error) Timestamp() time.Time { return e.at }

// SessionID returns the session the error belongs to, if tagged.
func (e *Error) SessionID() string { return e.sessionID }

// Option refines an Error.
type Option func(*Error)

// WithCategory overrides the code's default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) { e.category = cat }
}

// WithRetryable forces the retry decision.
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retryable = &retryable }
}

// WithMetadata adds a key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithEndpoint records the remote endpoint involved.
func WithEndpoint(url string) Option {
	return WithMetadata("endpoint", url)
}

// WithHTTPStatus records a response status and classifies it: server
// errors, 408 and 429 are transient, other statuses are permanent.
func WithHTTPStatus(status int) Option {
	return func(e *Error) {
		WithMetadata("status", fmt.Sprint(status))(e)
		switch {
		case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
			e.category = CategoryTransient
		default:
			e.category = CategoryPermanent
		}
	}
}

// WithSessionID tags the error with a session.
func WithSessionID(id string) Option {
	return func(e *Error) { e.sessionID = id }
}

// WithCause sets the underlying error.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// New creates an Error.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:     code,
		category: code.DefaultCategory(),
		message:  message,
		at:       time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FromCode creates an Error whose message is the code's description.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// Resolution creates a topology resolution error.
func Resolution(message string, opts ...Option) *Error {
	return New(ErrCodeResolution, message, opts...)
}

// MissingAddress creates the error for an operation that needs an oracle
// address when none is known.
func MissingAddress(opts ...Option) *Error {
	return FromCode(ErrCodeMissingAddress, opts...)
}

// WorkerUnavailable creates a swarm worker error.
func WorkerUnavailable(message string, opts ...Option) *Error {
	return New(ErrCodeWorkerUnavailable, message, opts...)
}
