package errors

// ErrorCategory decides whether a failure is worth retrying.
type ErrorCategory string

const (
	// CategoryTransient failures may clear up on their own: the directory
	// is restarting, the network blipped, a deadline was too tight.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent failures repeat until something is reconfigured.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal marks bugs.
	CategoryInternal ErrorCategory = "internal"
)

func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable reports whether errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies a failure.
type ErrorCode string

const (
	ErrCodeTimeout     ErrorCode = "TIMEOUT"
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"
	ErrCodeCanceled    ErrorCode = "CANCELED"

	// Bootstrap and liveness.
	ErrCodeResolution        ErrorCode = "RESOLUTION_FAILED"
	ErrCodeProbeFailed       ErrorCode = "PROBE_FAILED"
	ErrCodeWorkerUnavailable ErrorCode = "WORKER_UNAVAILABLE"
	ErrCodeMissingAddress    ErrorCode = "MISSING_ADDRESS"
	ErrCodeHeartbeatFailed   ErrorCode = "HEARTBEAT_FAILED"

	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeMalformed    ErrorCode = "MALFORMED"

	ErrCodeInternal ErrorCode = "INTERNAL"
)

type codeInfo struct {
	category    ErrorCategory
	description string
}

var codeTable = map[ErrorCode]codeInfo{
	ErrCodeTimeout:           {CategoryTransient, "operation timed out"},
	ErrCodeUnavailable:       {CategoryTransient, "temporarily unavailable"},
	ErrCodeCanceled:          {CategoryPermanent, "operation canceled"},
	ErrCodeResolution:        {CategoryTransient, "topology resolution failed"},
	ErrCodeProbeFailed:       {CategoryTransient, "local oracle probe failed"},
	ErrCodeWorkerUnavailable: {CategoryTransient, "swarm worker unavailable"},
	ErrCodeMissingAddress:    {CategoryPermanent, "missing oracle address"},
	ErrCodeHeartbeatFailed:   {CategoryTransient, "heartbeat failed"},
	ErrCodeInvalidInput:      {CategoryPermanent, "invalid input"},
	ErrCodeMalformed:         {CategoryPermanent, "malformed data"},
	ErrCodeInternal:          {CategoryInternal, "internal error"},
}

func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the category errors with this code start with.
// Unknown codes are internal.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	if info, ok := codeTable[c]; ok {
		return info.category
	}
	return CategoryInternal
}

// Description returns a short human-readable description.
func (c ErrorCode) Description() string {
	if info, ok := codeTable[c]; ok {
		return info.description
	}
	return "unknown error"
}
