// Package probe checks whether a full-capability oracle is reachable on the
// local machine. "Not available" is a normal result, not an error.
package probe

import (
	"context"
)

// Result is the outcome of a single probe.
type Result struct {
	// Available is true when a local oracle answered as healthy.
	Available bool

	// Detail describes why the oracle is unavailable, if it is.
	Detail string
}

// Prober checks for a local oracle.
//
// Implementations return (Result{Available: false}, nil) when the oracle is
// simply absent. An error is reserved for transport faults distinguishable
// from absence; callers must treat it as unavailable.
type Prober interface {
	Probe(ctx context.Context) (Result, error)

	// Name identifies the prober in logs.
	Name() string
}

// Static always returns the same availability. Used when probing is disabled.
type Static struct {
	Available bool
}

// Probe implements Prober.
func (s Static) Probe(ctx context.Context) (Result, error) {
	if s.Available {
		return Result{Available: true}, nil
	}
	return Result{Detail: "probing disabled"}, nil
}

// Name implements Prober.
func (s Static) Name() string {
	return "static"
}
