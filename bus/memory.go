package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// MemoryBus is an in-process MessageBus. The example binary uses it to run
// the swarm worker and a heartbeat responder next to the session.
type MemoryBus struct {
	config Config

	mu      sync.RWMutex
	subs    map[string]map[*memorySub]struct{}
	pending map[string]chan *Message
	closed  bool
}

type memorySub struct {
	*mailbox
	subject string
	bus     *MemoryBus
}

// NewMemoryBus creates an in-memory bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	return &MemoryBus{
		config:  cfg.withDefaults(),
		subs:    make(map[string]map[*memorySub]struct{}),
		pending: make(map[string]chan *Message),
	}
}

// Publish implements MessageBus. A publish to a pending request inbox
// completes that request.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	msg := &Message{Subject: subject, Data: data}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	reply, isReply := b.pending[subject]
	delete(b.pending, subject)
	b.mu.Unlock()

	if isReply {
		reply <- msg
	}
	b.deliver(msg)
	return nil
}

// deliver fans msg out and reports how many open subscribers took it.
func (b *MemoryBus) deliver(msg *Message) int {
	b.mu.RLock()
	targets := make([]*memorySub, 0, len(b.subs[msg.Subject]))
	for s := range b.subs[msg.Subject] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	n := 0
	for _, s := range targets {
		if s.push(msg) {
			n++
		}
	}
	return n
}

// Subscribe implements MessageBus.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	s := &memorySub{mailbox: newMailbox(b.config), subject: subject, bus: b}
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[*memorySub]struct{})
	}
	b.subs[subject][s] = struct{}{}
	return s, nil
}

// Request implements MessageBus. It fails fast with ErrNoResponders when
// nothing is subscribed to subject.
func (b *MemoryBus) Request(ctx context.Context, subject string, data []byte) (*Message, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}

	inbox := "_INBOX." + uuid.NewString()
	reply := make(chan *Message, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.pending[inbox] = reply
	b.mu.Unlock()

	if b.deliver(&Message{Subject: subject, Data: data, Reply: inbox}) == 0 {
		b.forget(inbox)
		return nil, ErrNoResponders
	}

	select {
	case msg := <-reply:
		return msg, nil
	case <-ctx.Done():
		b.forget(inbox)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

func (b *MemoryBus) forget(inbox string) {
	b.mu.Lock()
	delete(b.pending, inbox)
	b.mu.Unlock()
}

// SubscriberCount returns the number of open subscriptions on subject.
func (b *MemoryBus) SubscriberCount(subject string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[subject])
}

// Close ends every subscription. Pending requests time out with their
// contexts.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]map[*memorySub]struct{})
	b.mu.Unlock()

	for _, set := range subs {
		for s := range set {
			s.close()
		}
	}
	return nil
}

// Unsubscribe implements Subscription.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	if set := s.bus.subs[s.subject]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(s.bus.subs, s.subject)
		}
	}
	s.bus.mu.Unlock()

	s.close()
	return nil
}
