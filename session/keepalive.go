package session

import (
	"context"

	"github.com/vinayprograms/scoutkit/liveness"
)

// KeepAlive opens the session's keepalive channel.
type KeepAlive interface {
	Connect(ctx context.Context) KeepAliveHandle
}

// KeepAliveHandle is an open keepalive channel.
type KeepAliveHandle interface {
	States() <-chan liveness.State
	Err() error
	Close() error
}

// FromMonitor adapts a liveness.Monitor to KeepAlive.
func FromMonitor(m *liveness.Monitor) KeepAlive {
	return monitorKeepAlive{m}
}

type monitorKeepAlive struct {
	m *liveness.Monitor
}

func (k monitorKeepAlive) Connect(ctx context.Context) KeepAliveHandle {
	return k.m.Connect(ctx)
}
