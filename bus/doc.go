// Package bus provides the message bus that connects a scout session to its
// background swarm worker and, optionally, to a remote oracle's heartbeat
// responder.
//
// # Available Implementations
//
//   - NATSBus: production messaging using NATS
//   - MemoryBus: in-process implementation for tests and single-binary setups
//
// # Patterns
//
// Pub/Sub, used for worker init and worker signals:
//
//	sub, _ := b.Subscribe("swarm.worker.signal")
//	for msg := range sub.Messages() {
//	    // decode signal
//	}
//
// Request/Reply, used for heartbeat pings:
//
//	reply, err := b.Request(ctx, "oracle.ping", payload)
//
// Responders answer by publishing to msg.Reply.
package bus
