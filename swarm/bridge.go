package swarm

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/vinayprograms/scoutkit/bus"
	scouterrors "github.com/vinayprograms/scoutkit/errors"
	"github.com/vinayprograms/scoutkit/logging"
	"github.com/vinayprograms/scoutkit/telemetry"
)

// BridgeConfig configures a BusBridge.
type BridgeConfig struct {
	// Bus carries init, update and signal messages.
	Bus bus.MessageBus

	// SessionID identifies the session to the worker.
	SessionID string

	// BufferSize of the signal channel. Default: 16
	BufferSize int

	// Logger for bridge events. Nil discards.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c BridgeConfig) Validate() error {
	if c.Bus == nil {
		return ErrInvalidConfig
	}
	return nil
}

// BusBridge is a Bridge backed by a message bus.
type BusBridge struct {
	bus       bus.MessageBus
	sessionID string
	bufSize   int
	log       *logging.Logger

	mu           sync.Mutex
	initialized  bool
	sub          bus.Subscription
	unsubscribed bool
	doneCh       chan struct{}

	displaced atomic.Int64
}

// NewBusBridge creates a bridge.
func NewBusBridge(cfg BridgeConfig) (*BusBridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16
	}
	return &BusBridge{
		bus:       cfg.Bus,
		sessionID: cfg.SessionID,
		bufSize:   cfg.BufferSize,
		log:       logging.OrDiscard(cfg.Logger).WithComponent("swarm"),
	}, nil
}

// Init implements Bridge. The bridge counts as initialized even if the
// publish fails, so a session never sends two inits.
func (b *BusBridge) Init(ctx context.Context, address string) error {
	b.mu.Lock()
	if b.initialized {
		b.mu.Unlock()
		return ErrAlreadyInitialized
	}
	b.initialized = true
	b.mu.Unlock()

	if err := b.publish(ctx, SubjectInit, address); err != nil {
		return err
	}
	b.log.Info("worker initialized", map[string]interface{}{
		"oracle":  addressField(address),
		"session": b.sessionID,
	})
	return nil
}

// UpdateAddress implements Bridge.
func (b *BusBridge) UpdateAddress(ctx context.Context, address string) error {
	b.mu.Lock()
	initialized := b.initialized
	b.mu.Unlock()
	if !initialized {
		return ErrNotInitialized
	}

	if err := b.publish(ctx, SubjectUpdate, address); err != nil {
		return err
	}
	b.log.Debug("worker address updated", map[string]interface{}{
		"oracle": addressField(address),
	})
	return nil
}

func (b *BusBridge) publish(ctx context.Context, subject, address string) error {
	if err := ctx.Err(); err != nil {
		return scouterrors.Wrap(err, "publish to worker")
	}
	carrier := telemetry.MapCarrier{}
	telemetry.InjectContext(ctx, carrier)

	data, err := json.Marshal(InitMessage{Address: address, SessionID: b.sessionID, Trace: carrier})
	if err != nil {
		return scouterrors.Wrap(err, "encode worker message")
	}
	if err := b.bus.Publish(subject, data); err != nil {
		return scouterrors.WorkerUnavailable("publish to worker",
			scouterrors.WithCause(err),
			scouterrors.WithSessionID(b.sessionID),
			scouterrors.WithMetadata("subject", subject))
	}
	return nil
}

// Subscribe implements Bridge.
func (b *BusBridge) Subscribe() (<-chan Signal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil || b.unsubscribed {
		return nil, ErrAlreadySubscribed
	}

	sub, err := b.bus.Subscribe(SubjectSignal)
	if err != nil {
		return nil, scouterrors.WorkerUnavailable("subscribe to worker signals",
			scouterrors.WithCause(err), scouterrors.WithSessionID(b.sessionID))
	}
	b.sub = sub

	ch := make(chan Signal, b.bufSize)
	b.doneCh = make(chan struct{})
	go b.forward(sub, ch, b.doneCh)
	return ch, nil
}

// forward decodes bus messages into signals until the subscription ends.
func (b *BusBridge) forward(sub bus.Subscription, ch chan Signal, done chan struct{}) {
	defer close(done)
	defer close(ch)

	for msg := range sub.Messages() {
		sig, ok := ParseSignal(msg.Data)
		if !ok {
			b.log.Debug("dropped worker message", map[string]interface{}{
				"bytes": len(msg.Data),
			})
			continue
		}
		if offerLatest(ch, sig) {
			b.displaced.Add(1)
		}
	}
}

// offerLatest queues sig, discarding the oldest queued signal when ch is
// full. It reports whether a signal was discarded. Only the forwarding
// goroutine sends on ch.
func offerLatest(ch chan Signal, sig Signal) bool {
	displaced := false
	for {
		select {
		case ch <- sig:
			return displaced
		default:
		}
		select {
		case <-ch:
			displaced = true
		default:
		}
	}
}

// Dropped returns how many signals were discarded because the consumer fell
// behind.
func (b *BusBridge) Dropped() int64 {
	return b.displaced.Load()
}

// Unsubscribe implements Bridge. The underlying bus subscription is released
// exactly once; later calls are no-ops.
func (b *BusBridge) Unsubscribe() error {
	b.mu.Lock()
	if b.unsubscribed {
		b.mu.Unlock()
		return nil
	}
	b.unsubscribed = true
	sub, done := b.sub, b.doneCh
	b.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Unsubscribe()
	<-done
	if n := sub.Dropped() + b.displaced.Load(); n > 0 {
		b.log.Debug("worker signals dropped", map[string]interface{}{"count": n})
	}
	return err
}

func addressField(address string) string {
	if address == "" {
		return "<absent>"
	}
	return address
}
