// Package swarm connects a session to its background swarm worker.
//
// The worker runs out of process and talks to the session over a message
// bus. The session initializes it once with the resolved oracle address
// (possibly absent) and listens for the signals it emits. Only heartbeat
// signals are recognized; anything else is dropped.
package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Bus subjects used between session and worker.
const (
	SubjectInit   = "swarm.worker.init"
	SubjectUpdate = "swarm.worker.update"
	SubjectSignal = "swarm.worker.signal"
)

// KindHeartbeat is the only signal kind a session acts on.
const KindHeartbeat = "heartbeat"

// Common errors.
var (
	ErrAlreadyInitialized = errors.New("swarm worker already initialized")
	ErrNotInitialized     = errors.New("swarm worker not initialized")
	ErrAlreadySubscribed  = errors.New("already subscribed to worker signals")
	ErrAlreadyStarted     = errors.New("worker already started")
	ErrNotStarted         = errors.New("worker not started")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Signal is an event emitted by the worker.
type Signal struct {
	Kind string `json:"kind"`

	// Timestamp in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Time returns the signal timestamp.
func (s Signal) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// NewHeartbeat returns a heartbeat signal stamped at t.
func NewHeartbeat(t time.Time) Signal {
	return Signal{Kind: KindHeartbeat, Timestamp: t.UnixMilli()}
}

// ParseSignal decodes a signal. It returns false for malformed payloads and
// for kinds other than heartbeat.
func ParseSignal(data []byte) (Signal, bool) {
	var s Signal
	if err := json.Unmarshal(data, &s); err != nil {
		return Signal{}, false
	}
	if s.Kind != KindHeartbeat {
		return Signal{}, false
	}
	return s, true
}

// InitMessage carries the resolved oracle address to the worker. An empty
// Address means no oracle was found.
type InitMessage struct {
	Address   string `json:"address,omitempty"`
	SessionID string `json:"session_id"`

	// Trace carries the session's trace context to the worker.
	Trace map[string]string `json:"trace,omitempty"`
}

// Bridge is the session side of the worker connection.
type Bridge interface {
	// Init hands the worker its oracle address. Empty means absent.
	// A second call returns ErrAlreadyInitialized and sends nothing.
	Init(ctx context.Context, address string) error

	// UpdateAddress delivers a new address after Init.
	UpdateAddress(ctx context.Context, address string) error

	// Subscribe starts listening for worker signals. The returned channel
	// closes after Unsubscribe.
	Subscribe() (<-chan Signal, error)

	// Unsubscribe stops listening. Safe to call more than once.
	Unsubscribe() error
}
