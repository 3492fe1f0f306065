package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"
	ma "github.com/multiformats/go-multiaddr"
)

// LibP2PPinger pings an oracle peer with the libp2p ping protocol. The
// address must be a multiaddr ending in a /p2p/<peer-id> component.
type LibP2PPinger struct {
	host host.Host
}

// NewLibP2PPinger creates a pinger that dials from h.
func NewLibP2PPinger(h host.Host) *LibP2PPinger {
	return &LibP2PPinger{host: h}
}

// ParseAddress validates an oracle multiaddr and extracts its peer info.
func ParseAddress(address string) (*peer.AddrInfo, error) {
	addr, err := ma.NewMultiaddr(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return info, nil
}

// Ping implements Pinger.
func (p *LibP2PPinger) Ping(ctx context.Context, address string) error {
	_, err := p.PingRTT(ctx, address)
	return err
}

// PingRTT implements RTTPinger. The returned round trip is the one measured
// by the ping protocol, so dialing the peer is not counted.
func (p *LibP2PPinger) PingRTT(ctx context.Context, address string) (time.Duration, error) {
	info, err := ParseAddress(address)
	if err != nil {
		return 0, err
	}

	if err := p.host.Connect(ctx, *info); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	// ping.Ping keeps pinging until its context ends; one answer is enough.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	select {
	case res, ok := <-ping.Ping(ctx, p.host, info.ID):
		if !ok {
			return 0, ErrUnreachable
		}
		if res.Error != nil {
			return 0, res.Error
		}
		return res.RTT, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
