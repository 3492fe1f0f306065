package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrTimeout        = errors.New("request timeout")
	ErrNoResponders   = errors.New("no responders")
	ErrInvalidSubject = errors.New("invalid subject")
)

// Message is one delivery from the bus.
type Message struct {
	Subject string
	Data    []byte

	// Reply is set on requests; responders answer with Reply().
	Reply string
}

// MessageBus carries worker init, worker signals and heartbeat pings.
type MessageBus interface {
	// Publish sends data to every subscriber of subject.
	Publish(subject string, data []byte) error

	// Subscribe starts receiving messages on subject.
	Subscribe(subject string) (Subscription, error)

	// Request sends data and waits for one reply or ctx expiry.
	// Returns ErrTimeout when ctx's deadline passes first.
	Request(ctx context.Context, subject string, data []byte) (*Message, error)

	Close() error
}

// Subscription is a live subscription.
type Subscription interface {
	// Messages is closed when the subscription ends.
	Messages() <-chan *Message

	// Unsubscribe ends the subscription. Safe to call more than once.
	Unsubscribe() error

	// Dropped counts messages lost to a full buffer.
	Dropped() int64
}

// Overflow decides which message is lost when a subscriber falls behind.
type Overflow int

const (
	// DropOldest discards the oldest queued message. Signals carry
	// timestamps, so the newest one is the one worth keeping.
	DropOldest Overflow = iota

	// DropNewest discards the incoming message.
	DropNewest
)

// Config holds common bus configuration.
type Config struct {
	// BufferSize per subscription. Default: 64
	BufferSize int

	// Overflow policy. Default: DropOldest
	Overflow Overflow
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 64,
		Overflow:   DropOldest,
	}
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultConfig().BufferSize
	}
	return c
}

// ValidateSubject checks a dot-separated subject such as
// "swarm.worker.signal". Empty tokens and whitespace are rejected.
func ValidateSubject(subject string) error {
	if subject == "" || strings.ContainsAny(subject, " \t\r\n") {
		return ErrInvalidSubject
	}
	for _, token := range strings.Split(subject, ".") {
		if token == "" {
			return ErrInvalidSubject
		}
	}
	return nil
}

// Reply publishes data to msg's reply subject.
func Reply(b MessageBus, msg *Message, data []byte) error {
	if msg == nil || msg.Reply == "" {
		return ErrInvalidSubject
	}
	return b.Publish(msg.Reply, data)
}

// mailbox is the buffered channel behind a subscription. Pushes after close
// are ignored, so transports may deliver late without racing Unsubscribe.
type mailbox struct {
	mu       sync.Mutex
	ch       chan *Message
	closed   bool
	overflow Overflow
	dropped  atomic.Int64
}

func newMailbox(cfg Config) *mailbox {
	return &mailbox{
		ch:       make(chan *Message, cfg.BufferSize),
		overflow: cfg.Overflow,
	}
}

// push queues msg and reports whether the subscription was still open.
func (m *mailbox) push(msg *Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}

	select {
	case m.ch <- msg:
		return true
	default:
	}

	m.dropped.Add(1)
	if m.overflow == DropNewest {
		return true
	}
	select {
	case <-m.ch:
	default:
	}
	select {
	case m.ch <- msg:
	default:
	}
	return true
}

// close reports whether this call closed the mailbox.
func (m *mailbox) close() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.closed = true
	close(m.ch)
	return true
}

func (m *mailbox) Messages() <-chan *Message {
	return m.ch
}

func (m *mailbox) Dropped() int64 {
	return m.dropped.Load()
}
