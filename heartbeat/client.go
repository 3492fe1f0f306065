package heartbeat

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vinayprograms/scoutkit/bus"
	"github.com/vinayprograms/scoutkit/logging"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Pinger performs the exchange. Required.
	Pinger Pinger

	// Timeout bounds one heartbeat. Default: 5s
	Timeout time.Duration

	// Serialize joins overlapping pings to the same address.
	Serialize bool

	// History records results per address. Nil disables tracking.
	History *History

	// Logger for results. Nil discards.
	Logger *logging.Logger
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:   5 * time.Second,
		Serialize: true,
	}
}

// Validate checks the configuration.
func (c ClientConfig) Validate() error {
	if c.Pinger == nil {
		return ErrInvalidConfig
	}
	return nil
}

// Client issues heartbeats.
type Client struct {
	pinger    Pinger
	timeout   time.Duration
	serialize bool
	history   *History
	log       *logging.Logger

	group singleflight.Group
}

// NewClient creates a heartbeat client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClientConfig().Timeout
	}
	return &Client{
		pinger:    cfg.Pinger,
		timeout:   cfg.Timeout,
		serialize: cfg.Serialize,
		history:   cfg.History,
		log:       logging.OrDiscard(cfg.Logger).WithComponent("heartbeat"),
	}, nil
}

// Ping sends one heartbeat to address and reports the outcome. It does not
// retry. An empty address fails without any network activity.
func (c *Client) Ping(ctx context.Context, address string) Result {
	address = strings.TrimSpace(address)
	if address == "" {
		res := Result{Detail: DetailMissingAddress, At: time.Now()}
		c.log.HeartbeatResult("", false, 0, res.Detail)
		return res
	}

	if !c.serialize {
		return c.ping(ctx, address)
	}

	// The shared call must not die with whichever caller happened to start it.
	v, _, _ := c.group.Do(address, func() (interface{}, error) {
		return c.ping(context.WithoutCancel(ctx), address), nil
	})
	return v.(Result)
}

func (c *Client) ping(ctx context.Context, address string) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res := Result{Address: address, At: time.Now()}
	var (
		elapsed time.Duration
		err     error
	)
	if rp, ok := c.pinger.(RTTPinger); ok {
		elapsed, err = rp.PingRTT(ctx, address)
	} else {
		err = c.pinger.Ping(ctx, address)
		elapsed = time.Since(res.At)
	}

	if err != nil {
		res.Detail = describe(ctx, err)
	} else {
		res.OK = true
		res.RTT = elapsed
	}

	if c.history != nil {
		c.history.Record(res)
	}
	c.log.HeartbeatResult(address, res.OK, res.RTT, res.Detail)
	return res
}

// History returns the client's result history, or nil.
func (c *Client) History() *History {
	return c.history
}

// describe maps a pinger error to a short detail string.
func describe(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, bus.ErrTimeout),
		errors.Is(ctx.Err(), context.DeadlineExceeded):
		return DetailTimeout
	case errors.Is(err, ErrUnreachable), errors.Is(err, bus.ErrNoResponders):
		return DetailUnreachable
	case errors.Is(err, ErrMalformedReply):
		return DetailMalformed
	case errors.Is(err, ErrInvalidAddress):
		return DetailInvalidAddress
	}
	if d := strings.TrimSpace(err.Error()); d != "" {
		return d
	}
	return DetailFailed
}
