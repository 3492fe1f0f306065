// Package shutdown runs a session's teardown exactly once, in phases.
//
// # Overview
//
// A scout session owns several resources that must be released when the
// session ends, whatever path led there: the keepalive channel, the worker
// signal subscription, telemetry exporters and the bus connection. The
// Coordinator collects teardown handlers and runs each of them once, no
// matter how many times or from how many goroutines Shutdown is called.
//
// # Phases
//
// Lower phases run first. Handlers in the same phase run concurrently.
//
//   - PhaseListeners (10): keepalive channel, worker signal subscription
//   - PhaseWorker (20): in-process worker and responders
//   - PhaseExport (30): flush telemetry
//   - PhaseTransport (40): bus connection
//
// # Usage
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.RegisterFuncWithPhase("keepalive", func(ctx context.Context) error {
//	    return handle.Close()
//	}, shutdown.PhaseListeners)
//	coord.HandleSignals() // SIGTERM, SIGINT
//
//	<-coord.Done()
package shutdown
