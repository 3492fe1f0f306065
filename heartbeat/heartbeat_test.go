package heartbeat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/scoutkit/bus"
)

const testAddr = "/ip4/127.0.0.1/udp/9090/webrtc-direct/p2p/12D3KooWabc"

func newClient(t *testing.T, p Pinger, serialize bool) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{Pinger: p, Timeout: time.Second, Serialize: serialize, History: NewHistory()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestResult_Message(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want string
	}{
		{"ok", Result{OK: true, RTT: 42700 * time.Microsecond}, "ok: rtt 42.7 ms"},
		{"ok rounding", Result{OK: true, RTT: 42660 * time.Microsecond}, "ok: rtt 42.7 ms"},
		{"sub millisecond", Result{OK: true, RTT: 300 * time.Microsecond}, "ok: rtt 0.3 ms"},
		{"timeout", Result{Detail: DetailTimeout}, "failed: timeout"},
		{"missing", Result{Detail: DetailMissingAddress}, "failed: missing oracle address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.Message(); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResult_RTTMillis(t *testing.T) {
	if _, ok := (Result{Detail: "x"}).RTTMillis(); ok {
		t.Error("failed result should have no RTT")
	}
	ms, ok := Result{OK: true, RTT: 1500 * time.Microsecond}.RTTMillis()
	if !ok || ms != 1.5 {
		t.Errorf("RTTMillis = %v, %v", ms, ok)
	}
}

func TestNewClient_InvalidConfig(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err != ErrInvalidConfig {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestClient_MissingAddress(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, PingerFunc(func(ctx context.Context, address string) error {
		calls.Add(1)
		return nil
	}), true)

	for _, addr := range []string{"", "   "} {
		res := c.Ping(context.Background(), addr)
		if res.OK || res.Detail != DetailMissingAddress {
			t.Errorf("Ping(%q) = %+v", addr, res)
		}
	}
	if calls.Load() != 0 {
		t.Errorf("pinger called %d times for missing address", calls.Load())
	}
	if len(c.History().Addresses()) != 0 {
		t.Error("missing-address results should not be recorded")
	}
}

func TestClient_ErrorDetails(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, DetailTimeout},
		{"bus timeout", bus.ErrTimeout, DetailTimeout},
		{"no responders", bus.ErrNoResponders, DetailUnreachable},
		{"unreachable", ErrUnreachable, DetailUnreachable},
		{"malformed", ErrMalformedReply, DetailMalformed},
		{"invalid address", ErrInvalidAddress, DetailInvalidAddress},
		{"other", errors.New("connection reset"), "connection reset"},
		{"empty message", errors.New(""), DetailFailed},
		{"blank message", errors.New("  "), DetailFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, PingerFunc(func(ctx context.Context, address string) error {
				return tt.err
			}), false)
			res := c.Ping(context.Background(), testAddr)
			if res.OK {
				t.Fatal("expected failure")
			}
			if res.Detail != tt.want {
				t.Errorf("Detail = %q, want %q", res.Detail, tt.want)
			}
			if res.RTT != 0 {
				t.Error("failed result should carry no RTT")
			}
		})
	}
}

type measuringPinger struct {
	setup time.Duration
	rtt   time.Duration
}

func (p measuringPinger) Ping(ctx context.Context, address string) error {
	_, err := p.PingRTT(ctx, address)
	return err
}

func (p measuringPinger) PingRTT(ctx context.Context, address string) (time.Duration, error) {
	time.Sleep(p.setup)
	return p.rtt, nil
}

func TestClient_PrefersPingerRTT(t *testing.T) {
	c := newClient(t, measuringPinger{setup: 30 * time.Millisecond, rtt: 2 * time.Millisecond}, false)
	res := c.Ping(context.Background(), testAddr)
	if !res.OK {
		t.Fatalf("Ping failed: %s", res.Detail)
	}
	if res.RTT != 2*time.Millisecond {
		t.Errorf("RTT = %v, want the pinger's 2ms without setup time", res.RTT)
	}
}

func TestClient_NoRetry(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, PingerFunc(func(ctx context.Context, address string) error {
		calls.Add(1)
		return ErrUnreachable
	}), false)
	c.Ping(context.Background(), testAddr)
	if calls.Load() != 1 {
		t.Errorf("pinger called %d times, want 1", calls.Load())
	}
}

func TestClient_Timeout(t *testing.T) {
	c, _ := NewClient(ClientConfig{
		Pinger: PingerFunc(func(ctx context.Context, address string) error {
			<-ctx.Done()
			return ctx.Err()
		}),
		Timeout: 20 * time.Millisecond,
	})
	res := c.Ping(context.Background(), testAddr)
	if res.Detail != DetailTimeout {
		t.Errorf("Detail = %q, want timeout", res.Detail)
	}
}

func TestClient_SingleFlight(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	c := newClient(t, PingerFunc(func(ctx context.Context, address string) error {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil
	}), true)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = c.Ping(context.Background(), testAddr)
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = c.Ping(context.Background(), testAddr)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("pinger called %d times, want 1", calls.Load())
	}
	if !results[0].OK || results[0] != results[1] {
		t.Errorf("joined pings differ: %+v vs %+v", results[0], results[1])
	}
}

func TestClient_NotSerialized(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, PingerFunc(func(ctx context.Context, address string) error {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return nil
	}), false)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Ping(context.Background(), testAddr)
		}()
	}
	wg.Wait()
	if calls.Load() != 2 {
		t.Errorf("pinger called %d times, want 2", calls.Load())
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory()
	now := time.Now()
	h.Record(Result{Address: testAddr, OK: true, RTT: time.Millisecond, At: now})
	h.Record(Result{Address: testAddr, Detail: DetailTimeout, At: now.Add(time.Second)})
	h.Record(Result{Detail: DetailMissingAddress})

	s, ok := h.Stats(testAddr)
	if !ok {
		t.Fatal("no stats recorded")
	}
	if s.Attempts != 2 || s.Successes != 1 {
		t.Errorf("stats = %+v", s)
	}
	if s.SuccessRate() != 0.5 {
		t.Errorf("SuccessRate = %v", s.SuccessRate())
	}
	if s.LastError != DetailTimeout || s.LastRTT != time.Millisecond {
		t.Errorf("stats = %+v", s)
	}
	if len(h.Addresses()) != 1 {
		t.Errorf("Addresses = %v", h.Addresses())
	}
	if (Stats{}).SuccessRate() != 0 {
		t.Error("empty stats should have zero success rate")
	}
}
