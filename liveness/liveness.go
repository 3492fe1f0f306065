// Package liveness maintains the persistent keepalive channel to the local
// control port and reports its connection state.
//
// State machine:
//
//	Disconnected -> Connected   channel opened
//	Disconnected -> Error       dial failed
//	Connected    -> Error       transport error
//	any          -> Closed      Close called, or the peer closed normally
//
// There is no automatic reconnect. Closed is terminal.
package liveness

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/scoutkit/logging"
	"github.com/vinayprograms/scoutkit/transport"
)

// DefaultURL is the local keepalive endpoint.
const DefaultURL = "ws://127.0.0.1:9091/keepalive"

// State is the keepalive channel state.
type State int

const (
	Disconnected State = iota
	Connected
	Error
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Error:
		return "error"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// ErrInvalidURL is returned for an empty endpoint.
var ErrInvalidURL = errors.New("keepalive url required")

// Config configures a Monitor.
type Config struct {
	// URL of the keepalive endpoint. Default: DefaultURL
	URL string

	// HandshakeTimeout bounds the dial. Default: 5s
	HandshakeTimeout time.Duration

	// PingInterval for websocket pings. Zero disables pings.
	PingInterval time.Duration

	// Logger for state transitions. Nil discards.
	Logger *logging.Logger
}

// Monitor opens keepalive channels.
type Monitor struct {
	url string
	ws  transport.WebSocketConfig
	log *logging.Logger
}

// NewMonitor creates a monitor.
func NewMonitor(cfg Config) *Monitor {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	ws := transport.DefaultWebSocketConfig()
	if cfg.HandshakeTimeout > 0 {
		ws.HandshakeTimeout = cfg.HandshakeTimeout
	}
	ws.PingInterval = cfg.PingInterval

	return &Monitor{
		url: cfg.URL,
		ws:  ws,
		log: logging.OrDiscard(cfg.Logger).WithComponent("keepalive"),
	}
}

// URL returns the keepalive endpoint.
func (m *Monitor) URL() string {
	return m.url
}

// Connect starts opening the channel in the background and returns
// immediately. Cancelling ctx has the same effect as Handle.Close.
func (m *Monitor) Connect(ctx context.Context) *Handle {
	dialCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		log:    m.log,
		state:  Disconnected,
		states: make(chan State, 4),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go h.run(dialCtx, m.url, m.ws)
	go func() {
		select {
		case <-ctx.Done():
			h.Close()
		case <-h.done:
		}
	}()
	return h
}
