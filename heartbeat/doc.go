// Package heartbeat measures round-trip time to a remote oracle on demand.
//
// # Overview
//
// A heartbeat is a single request/response exchange with the oracle at a
// known address. The Client times the exchange and turns every outcome into
// a Result value; it never returns an error and never retries. A ping to an
// empty address fails immediately without touching the network.
//
// # Transports
//
// The exchange itself is delegated to a Pinger:
//
//	┌──────────┐  ping{nonce}   ┌────────────┐
//	│  Client  │ ─────────────> │  Responder │  (BusPinger, over bus.MessageBus)
//	│          │ <───────────── │            │
//	└──────────┘  pong{nonce}   └────────────┘
//
//	┌──────────┐  /ipfs/ping/1.0.0  ┌────────┐
//	│  Client  │ <────────────────> │  peer  │  (LibP2PPinger, multiaddr)
//	└──────────┘                    └────────┘
//
// # Usage
//
//	client, _ := heartbeat.NewClient(heartbeat.ClientConfig{
//	    Pinger:  heartbeat.NewBusPinger(bus, heartbeat.DefaultSubject),
//	    Timeout: 5 * time.Second,
//	})
//	res := client.Ping(ctx, address)
//	fmt.Println(res.Message()) // "ok: rtt 42.7 ms" or "failed: timeout"
//
// # Concurrency
//
// With Serialize set, a Ping issued while another Ping to the same address
// is in flight joins it and receives the same Result.
package heartbeat
