package heartbeat

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/scoutkit/bus"
	"github.com/vinayprograms/scoutkit/logging"
)

// DefaultSubject is the bus subject oracles answer pings on.
const DefaultSubject = "oracle.ping"

const (
	kindPing = "ping"
	kindPong = "pong"
)

// pingMessage is the request and reply payload.
type pingMessage struct {
	Kind     string `json:"kind"`
	Nonce    string `json:"nonce"`
	Address  string `json:"address,omitempty"`
	SentAtMs int64  `json:"sent_at_ms,omitempty"`
}

// BusPinger pings over request/reply on a message bus.
type BusPinger struct {
	bus     bus.MessageBus
	subject string
}

// NewBusPinger creates a bus pinger. An empty subject uses DefaultSubject.
func NewBusPinger(b bus.MessageBus, subject string) *BusPinger {
	if subject == "" {
		subject = DefaultSubject
	}
	return &BusPinger{bus: b, subject: subject}
}

// Ping implements Pinger. The reply must be a pong carrying the request's
// nonce.
func (p *BusPinger) Ping(ctx context.Context, address string) error {
	req := pingMessage{
		Kind:     kindPing,
		Nonce:    uuid.NewString(),
		Address:  address,
		SentAtMs: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	reply, err := p.bus.Request(ctx, p.subject, data)
	if err != nil {
		return err
	}

	var pong pingMessage
	if err := json.Unmarshal(reply.Data, &pong); err != nil {
		return ErrMalformedReply
	}
	if pong.Kind != kindPong || pong.Nonce != req.Nonce {
		return ErrMalformedReply
	}
	return nil
}

// ResponderConfig configures a Responder.
type ResponderConfig struct {
	// Bus to answer on. Required.
	Bus bus.MessageBus

	// Subject to answer on. Default: DefaultSubject
	Subject string

	// Address restricts answers to pings for this address. Empty answers all.
	Address string

	// Delay before each answer.
	Delay time.Duration

	// Logger for responder events. Nil discards.
	Logger *logging.Logger
}

// Responder answers bus pings on behalf of an oracle.
type Responder struct {
	bus     bus.MessageBus
	subject string
	address string
	delay   time.Duration
	log     *logging.Logger

	answered atomic.Int64

	mu      sync.Mutex
	sub     bus.Subscription
	stopped bool
	wg      sync.WaitGroup
}

// NewResponder creates a responder.
func NewResponder(cfg ResponderConfig) (*Responder, error) {
	if cfg.Bus == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	return &Responder{
		bus:     cfg.Bus,
		subject: cfg.Subject,
		address: cfg.Address,
		delay:   cfg.Delay,
		log:     logging.OrDiscard(cfg.Logger).WithComponent("responder"),
	}, nil
}

// Start subscribes and answers pings until Stop.
func (r *Responder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil || r.stopped {
		return ErrInvalidConfig
	}

	sub, err := r.bus.Subscribe(r.subject)
	if err != nil {
		return err
	}
	r.sub = sub

	r.wg.Add(1)
	go r.run(sub)
	return nil
}

func (r *Responder) run(sub bus.Subscription) {
	defer r.wg.Done()
	for msg := range sub.Messages() {
		r.wg.Add(1)
		go func(msg *bus.Message) {
			defer r.wg.Done()
			r.answer(msg)
		}(msg)
	}
}

func (r *Responder) answer(msg *bus.Message) {
	var ping pingMessage
	if err := json.Unmarshal(msg.Data, &ping); err != nil || ping.Kind != kindPing {
		return
	}
	if r.address != "" && ping.Address != r.address {
		return
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	data, err := json.Marshal(pingMessage{Kind: kindPong, Nonce: ping.Nonce})
	if err != nil {
		return
	}
	if err := bus.Reply(r.bus, msg, data); err != nil {
		r.log.Debug("reply failed", map[string]interface{}{"error": err.Error()})
		return
	}
	r.answered.Add(1)
}

// Answered returns the number of pings answered.
func (r *Responder) Answered() int64 {
	return r.answered.Load()
}

// Stop unsubscribes and waits for in-flight answers.
func (r *Responder) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	sub := r.sub
	r.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	r.wg.Wait()
	return err
}
