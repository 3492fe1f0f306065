// Package topology resolves the address of a remote oracle through a
// topology directory service.
package topology

import (
	"context"
	"strings"
)

// Path is the directory endpoint that publishes the system topology.
const Path = "/v1/system/topology"

// Topology is a resolved view of the system. OracleAddress is empty when
// the directory knows of no oracle.
type Topology struct {
	OracleAddress string
	Status        string
	Source        string
	Detail        string
}

// HasOracle reports whether an oracle address is present.
func (t Topology) HasOracle() bool {
	return strings.TrimSpace(t.OracleAddress) != ""
}

// Resolver queries a topology directory.
type Resolver interface {
	// Resolve performs a single lookup. Any failure to obtain a usable
	// record is reported as a resolution error (errors.IsResolution).
	Resolve(ctx context.Context) (Topology, error)
}

// Static is a Resolver that always returns the same topology.
type Static Topology

// Resolve implements Resolver.
func (s Static) Resolve(ctx context.Context) (Topology, error) {
	return Topology(s), nil
}
