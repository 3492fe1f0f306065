// Package errors provides the structured error taxonomy used across scoutkit.
//
// Every failure that crosses a component boundary is either converted to a
// value (probe results, heartbeat results, keepalive states) or carried as an
// *Error with a code and a category.
//
// # Error Categories
//
//   - Transient: retry may succeed (directory unreachable, timeouts)
//   - Permanent: retry will not help (malformed topology, missing address)
//   - Internal: bugs or violated invariants
//
// # Usage
//
//	err := errors.Resolution("directory returned 502", errors.WithMetadata("status", "502"))
//	if errors.IsResolution(err) {
//	    // fall back to addressless scout mode
//	}
package errors
