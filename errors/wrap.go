package errors

import (
	"context"
	"errors"
)

// Wrap adds context to err. A wrapped *Error keeps its code, category,
// metadata and session; context errors become TIMEOUT or CANCELED; anything
// else becomes INTERNAL. Wrap(nil) is nil.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	if inner, ok := As(err); ok {
		e := &Error{
			code:      inner.code,
			category:  inner.category,
			retryable: inner.retryable,
			message:   message,
			cause:     err,
			metadata:  inner.Metadata(),
			sessionID: inner.sessionID,
			at:        inner.at,
		}
		for _, opt := range opts {
			opt(e)
		}
		return e
	}

	code := ErrCodeInternal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		code = ErrCodeCanceled
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// WrapWithCode wraps err under a specific code. WrapWithCode(nil) is nil.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether the first *Error in err's chain has code.
func Is(err error, code ErrorCode) bool {
	e, ok := As(err)
	return ok && e.code == code
}

// IsResolution reports whether err is a topology resolution failure.
func IsResolution(err error) bool {
	return Is(err, ErrCodeResolution)
}

// IsRetryable reports whether err may succeed on retry. Errors outside the
// taxonomy are not retryable.
func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable()
}

// Code returns err's code, or "" for errors outside the taxonomy.
func Code(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.code
	}
	return ""
}

// Fields renders err as log fields: the message, and for an *Error its
// code, retryability and metadata.
func Fields(err error) map[string]interface{} {
	if err == nil {
		return nil
	}
	fields := map[string]interface{}{"error": err.Error()}
	e, ok := As(err)
	if !ok {
		return fields
	}
	fields["code"] = e.code.String()
	fields["retryable"] = e.Retryable()
	for k, v := range e.metadata {
		fields[k] = v
	}
	return fields
}
