// Package session bootstraps a client's access to a compute oracle.
//
// # Overview
//
// A Controller decides once per session whether a full oracle is available
// locally. If it is, the session runs in local-oracle mode and nothing else
// happens. Otherwise the controller resolves a remote oracle through the
// topology directory, hands the address (possibly absent) to the swarm
// worker and commits to scout mode.
//
//	         probe
//	Loading ───────> LocalOracle
//	   │
//	   │ resolve, init worker
//	   └───────────> Scout
//
// Two liveness signals run alongside the bootstrap from session start until
// Close: the keepalive channel and the worker's heartbeat signals. A
// heartbeat to the oracle can be requested at any time with Ping; before an
// address is known it fails immediately with "missing oracle address".
//
// # State
//
// All observable session facts live in a State. Writers go through named
// transition methods; readers get value Snapshots or subscribe with Watch.
//
// # Teardown
//
// Close releases the keepalive channel and the worker signal subscription
// exactly once, whichever mode was reached and whether or not Run ever
// finished.
package session
