package liveness

import (
	"context"
	"sync"

	"github.com/vinayprograms/scoutkit/logging"
	"github.com/vinayprograms/scoutkit/transport"
)

// Handle is one keepalive channel.
type Handle struct {
	log    *logging.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	err     error
	conn    *transport.WebSocketConn
	closing bool
	states  chan State

	closeOnce sync.Once
}

func (h *Handle) run(ctx context.Context, url string, cfg transport.WebSocketConfig) {
	defer close(h.done)

	conn, err := transport.DialWebSocket(ctx, url, cfg)
	if err != nil {
		if !h.isClosing() {
			h.transition(Error, err)
		}
		return
	}

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.conn = conn
	h.mu.Unlock()

	h.transition(Connected, nil)

	err = conn.Run()
	if h.isClosing() {
		return
	}
	if err != nil {
		h.transition(Error, err)
		return
	}
	// Peer closed normally.
	h.transition(Closed, nil)
}

func (h *Handle) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// transition moves to a new state and publishes it. Transitions out of
// Closed and repeats of the current state are ignored.
func (h *Handle) transition(to State, err error) {
	h.mu.Lock()
	from := h.state
	if from == Closed || from == to {
		h.mu.Unlock()
		return
	}
	h.state = to
	if err != nil {
		h.err = err
	}
	h.states <- to
	if to == Closed {
		close(h.states)
	}
	h.mu.Unlock()

	h.log.KeepAliveTransition(from.String(), to.String(), err)
}

// States delivers every transition in order. The channel is closed after
// Closed.
func (h *Handle) States() <-chan State {
	return h.states
}

// State returns the current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the error that caused the last Error transition, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed when the channel's background goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Close shuts the channel down. The close frame is sent at most once and the
// read loop has ended when Close returns. Safe to call more than once.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closing = true
		conn := h.conn
		h.mu.Unlock()

		h.cancel()
		if conn != nil {
			err = conn.Close()
		}
		<-h.done
		h.transition(Closed, nil)
	})
	return err
}
