package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Failure details reported in Result.Detail.
const (
	DetailMissingAddress = "missing oracle address"
	DetailTimeout        = "timeout"
	DetailUnreachable    = "unreachable"
	DetailMalformed      = "malformed reply"
	DetailInvalidAddress = "invalid address"
	DetailFailed         = "heartbeat failed"
)

// Common errors returned by Pingers.
var (
	ErrUnreachable    = errors.New("oracle unreachable")
	ErrMalformedReply = errors.New("malformed reply")
	ErrInvalidAddress = errors.New("invalid oracle address")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Result is the outcome of one heartbeat.
type Result struct {
	// OK is true when the oracle answered.
	OK bool

	// RTT is the measured round trip. Zero unless OK.
	RTT time.Duration

	// Detail explains a failure. Empty when OK.
	Detail string

	// Address the heartbeat was sent to.
	Address string

	// At is when the heartbeat was issued.
	At time.Time
}

// RTTMillis returns the round trip in fractional milliseconds. The second
// value is false when the heartbeat failed.
func (r Result) RTTMillis() (float64, bool) {
	if !r.OK {
		return 0, false
	}
	return float64(r.RTT) / float64(time.Millisecond), true
}

// Message renders the result for display.
func (r Result) Message() string {
	if ms, ok := r.RTTMillis(); ok {
		return fmt.Sprintf("ok: rtt %.1f ms", ms)
	}
	return "failed: " + r.Detail
}

// Pinger performs one request/response exchange with an oracle. It returns
// nil once the oracle has answered.
type Pinger interface {
	Ping(ctx context.Context, address string) error
}

// RTTPinger is a Pinger that measures the request/reply round trip itself,
// leaving out connection setup. Client prefers PingRTT when available.
type RTTPinger interface {
	Pinger
	PingRTT(ctx context.Context, address string) (time.Duration, error)
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context, address string) error

// Ping implements Pinger.
func (f PingerFunc) Ping(ctx context.Context, address string) error {
	return f(ctx, address)
}
