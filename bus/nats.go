package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/scoutkit/logging"
)

// NATSBus is a MessageBus over a NATS connection. It is used when the swarm
// worker runs as a separate process.
type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig
	log    *logging.Logger

	closeOnce sync.Once
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	Config

	// URL of the NATS server. Default: nats.DefaultURL
	URL string

	// Name identifies this client to the server.
	Name string

	// Token for token auth. Empty disables it.
	Token string

	ReconnectWait time.Duration

	// MaxReconnects of -1 retries forever.
	MaxReconnects int

	ConnectTimeout time.Duration

	// FlushTimeout bounds the flush of pending publishes on Close.
	FlushTimeout time.Duration

	// Logger for connection events. Nil discards.
	Logger *logging.Logger
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            nats.DefaultURL,
		Name:           "scoutkit",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
		FlushTimeout:   time.Second,
	}
}

// NewNATSBus connects to NATS.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	cfg.Config = cfg.Config.withDefaults()
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultNATSConfig().FlushTimeout
	}

	b := &NATSBus{
		config: cfg,
		log:    logging.OrDiscard(cfg.Logger).WithComponent("nats"),
	}
	conn, err := nats.Connect(cfg.URL, b.options()...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	b.conn = conn
	b.log.Info("connected", map[string]interface{}{"url": conn.ConnectedUrlRedacted()})
	return b, nil
}

func (b *NATSBus) options() []nats.Option {
	cfg := b.config
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			fields := map[string]interface{}{}
			if err != nil {
				fields["error"] = err.Error()
			}
			b.log.Warn("disconnected", fields)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.log.Info("reconnected", map[string]interface{}{"url": c.ConnectedUrlRedacted()})
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	return opts
}

// Publish implements MessageBus.
func (b *NATSBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return ErrClosed
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe implements MessageBus.
func (b *NATSBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	s := &natsSub{mailbox: newMailbox(b.config.Config)}
	ns, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		s.push(&Message{Subject: m.Subject, Data: m.Data, Reply: m.Reply})
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	s.sub = ns
	return s, nil
}

// Request implements MessageBus.
func (b *NATSBus) Request(ctx context.Context, subject string, data []byte) (*Message, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	reply, err := b.conn.RequestWithContext(ctx, subject, data)
	switch {
	case err == nil:
		return &Message{Subject: reply.Subject, Data: reply.Data, Reply: reply.Reply}, nil
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return nil, ErrTimeout
	case errors.Is(err, nats.ErrNoResponders):
		return nil, ErrNoResponders
	}
	return nil, fmt.Errorf("nats request %s: %w", subject, err)
}

// Close flushes pending publishes, such as a final worker signal, and
// closes the connection.
func (b *NATSBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if !b.conn.IsClosed() {
			err = b.conn.FlushTimeout(b.config.FlushTimeout)
		}
		b.conn.Close()
		b.log.Debug("closed", nil)
	})
	if errors.Is(err, nats.ErrConnectionClosed) {
		err = nil
	}
	return err
}

// Conn returns the underlying connection.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

// natsSub pairs a NATS subscription with its mailbox. NATS may still run
// the handler after Unsubscribe; the closed mailbox ignores it.
type natsSub struct {
	*mailbox
	sub *nats.Subscription
}

// Unsubscribe implements Subscription.
func (s *natsSub) Unsubscribe() error {
	if !s.close() {
		return nil
	}
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}
