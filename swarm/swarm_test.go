package swarm

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/scoutkit/bus"
)

const testAddr = "/ip4/127.0.0.1/udp/9090/webrtc-direct/p2p/12D3KooWabc"

// countingBus wraps a MessageBus and counts publishes and unsubscribes.
type countingBus struct {
	bus.MessageBus
	published    atomic.Int32
	unsubscribes atomic.Int32
}

func (c *countingBus) Publish(subject string, data []byte) error {
	c.published.Add(1)
	return c.MessageBus.Publish(subject, data)
}

func (c *countingBus) Subscribe(subject string) (bus.Subscription, error) {
	sub, err := c.MessageBus.Subscribe(subject)
	if err != nil {
		return nil, err
	}
	return &countingSub{Subscription: sub, n: &c.unsubscribes}, nil
}

type countingSub struct {
	bus.Subscription
	n *atomic.Int32
}

func (s *countingSub) Unsubscribe() error {
	s.n.Add(1)
	return s.Subscription.Unsubscribe()
}

func newBridge(t *testing.T, b bus.MessageBus) *BusBridge {
	t.Helper()
	br, err := NewBusBridge(BridgeConfig{Bus: b, SessionID: "session-1"})
	if err != nil {
		t.Fatalf("NewBusBridge: %v", err)
	}
	return br
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		name string
		data string
		ok   bool
	}{
		{"heartbeat", `{"kind":"heartbeat","timestamp":1700000000000}`, true},
		{"unknown kind", `{"kind":"status","timestamp":1}`, false},
		{"no kind", `{"timestamp":1}`, false},
		{"malformed", `{"kind":`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, ok := ParseSignal([]byte(tt.data))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && sig.Time().UnixMilli() != 1700000000000 {
				t.Errorf("Time = %v", sig.Time())
			}
		})
	}
}

func TestNewBusBridge_InvalidConfig(t *testing.T) {
	if _, err := NewBusBridge(BridgeConfig{}); err != ErrInvalidConfig {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBusBridge_InitOnce(t *testing.T) {
	mb := bus.NewMemoryBus(bus.DefaultConfig())
	defer mb.Close()
	cb := &countingBus{MessageBus: mb}

	sub, _ := mb.Subscribe(SubjectInit)
	defer sub.Unsubscribe()

	br := newBridge(t, cb)
	if err := br.Init(context.Background(), testAddr); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := br.Init(context.Background(), "other"); err != ErrAlreadyInitialized {
		t.Errorf("second Init = %v, want ErrAlreadyInitialized", err)
	}
	if n := cb.published.Load(); n != 1 {
		t.Errorf("published %d messages, want 1", n)
	}

	select {
	case msg := <-sub.Messages():
		var init InitMessage
		if err := json.Unmarshal(msg.Data, &init); err != nil {
			t.Fatalf("decode init: %v", err)
		}
		if init.Address != testAddr || init.SessionID != "session-1" {
			t.Errorf("unexpected init %+v", init)
		}
	case <-time.After(time.Second):
		t.Fatal("no init message")
	}
}

func TestBusBridge_InitAbsentAddress(t *testing.T) {
	mb := bus.NewMemoryBus(bus.DefaultConfig())
	defer mb.Close()

	sub, _ := mb.Subscribe(SubjectInit)
	defer sub.Unsubscribe()

	if err := newBridge(t, mb).Init(context.Background(), ""); err != nil {
		t.Fatalf("Init: %v", err)
	}
	msg := <-sub.Messages()
	var init InitMessage
	json.Unmarshal(msg.Data, &init)
	if init.Address != "" {
		t.Errorf("Address = %q, want empty", init.Address)
	}
}

func TestBusBridge_InitBusClosed(t *testing.T) {
	mb := bus.NewMemoryBus(bus.DefaultConfig())
	mb.Close()

	br := newBridge(t, mb)
	if err := br.Init(context.Background(), testAddr); err == nil {
		t.Fatal("expected error on closed bus")
	}
	if err := br.Init(context.Background(), testAddr); err != ErrAlreadyInitialized {
		t.Errorf("retry after failure = %v, want ErrAlreadyInitialized", err)
	}
}

func TestBusBridge_UpdateBeforeInit(t *testing.T) {
	mb := bus.NewMemoryBus(bus.DefaultConfig())
	defer mb.Close()

	if err := newBridge(t, mb).UpdateAddress(context.Background(), testAddr); err != ErrNotInitialized {
		t.Errorf("UpdateAddress = %v, want ErrNotInitialized", err)
	}
}

func TestBusBridge_SignalsFiltered(t *testing.T) {
	mb := bus.NewMemoryBus(bus.DefaultConfig())
	defer mb.Close()

	br := newBridge(t, mb)
	signals, err := br.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	mb.Publish(SubjectSignal, []byte(`{"kind":"status","timestamp":1}`))
	mb.Publish(SubjectSignal, []byte(`garbage`))
	mb.Publish(SubjectSignal, []byte(`{"kind":"heartbeat","timestamp":42}`))

	select {
	case sig := <-signals:
		if sig.Kind != KindHeartbeat || sig.Timestamp != 42 {
			t.Errorf("unexpected signal %+v", sig)
		}
	case <-time.After(time.Second):
		t.Fatal("no heartbeat signal")
	}

	if err := br.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if _, ok := <-signals; ok {
		t.Error("signal channel should be closed after Unsubscribe")
	}
}

func TestBusBridge_SlowConsumerKeepsNewest(t *testing.T) {
	mb := bus.NewMemoryBus(bus.DefaultConfig())
	defer mb.Close()

	br, err := NewBusBridge(BridgeConfig{Bus: mb, SessionID: "session-1", BufferSize: 4})
	if err != nil {
		t.Fatalf("NewBusBridge: %v", err)
	}
	defer br.Unsubscribe()
	signals, err := br.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := int64(1); i <= 10; i++ {
		data, _ := json.Marshal(Signal{Kind: KindHeartbeat, Timestamp: i})
		mb.Publish(SubjectSignal, data)
	}

	deadline := time.Now().Add(time.Second)
	for br.Dropped() < 6 {
		if time.Now().After(deadline) {
			t.Fatalf("Dropped = %d, want 6", br.Dropped())
		}
		time.Sleep(time.Millisecond)
	}

	for want := int64(7); want <= 10; want++ {
		sig := <-signals
		if sig.Timestamp != want {
			t.Fatalf("signal timestamp = %d, want %d", sig.Timestamp, want)
		}
	}
}

func TestBusBridge_UnsubscribeOnce(t *testing.T) {
	mb := bus.NewMemoryBus(bus.DefaultConfig())
	defer mb.Close()
	cb := &countingBus{MessageBus: mb}

	br := newBridge(t, cb)
	if _, err := br.Subscribe(); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := br.Unsubscribe(); err != nil {
			t.Fatalf("Unsubscribe #%d: %v", i, err)
		}
	}
	if n := cb.unsubscribes.Load(); n != 1 {
		t.Errorf("bus unsubscribes = %d, want 1", n)
	}
	if _, err := br.Subscribe(); err != ErrAlreadySubscribed {
		t.Errorf("Subscribe after Unsubscribe = %v, want ErrAlreadySubscribed", err)
	}
}

func TestBusBridge_UnsubscribeWithoutSubscribe(t *testing.T) {
	mb := bus.NewMemoryBus(bus.DefaultConfig())
	defer mb.Close()

	if err := newBridge(t, mb).Unsubscribe(); err != nil {
		t.Errorf("Unsubscribe = %v", err)
	}
}

func TestWorker_InitAndHeartbeats(t *testing.T) {
	mb := bus.NewMemoryBus(bus.DefaultConfig())
	defer mb.Close()

	w, err := NewWorker(WorkerConfig{Bus: mb, Interval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	br := newBridge(t, mb)
	signals, err := br.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer br.Unsubscribe()

	if err := br.Init(context.Background(), testAddr); err != nil {
		t.Fatalf("Init: %v", err)
	}

	select {
	case <-w.Ready():
	case <-time.After(time.Second):
		t.Fatal("worker not initialized")
	}
	if w.Address() != testAddr || w.SessionID() != "session-1" {
		t.Errorf("worker state: address %q session %q", w.Address(), w.SessionID())
	}

	for i := 0; i < 2; i++ {
		select {
		case sig := <-signals:
			if sig.Kind != KindHeartbeat {
				t.Errorf("unexpected kind %q", sig.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing heartbeat %d", i)
		}
	}
}

func TestWorker_NoHeartbeatsBeforeInit(t *testing.T) {
	mb := bus.NewMemoryBus(bus.DefaultConfig())
	defer mb.Close()

	w, _ := NewWorker(WorkerConfig{Bus: mb, Interval: 10 * time.Millisecond})
	w.Start(context.Background())
	defer w.Stop()

	sub, _ := mb.Subscribe(SubjectSignal)
	defer sub.Unsubscribe()

	select {
	case <-sub.Messages():
		t.Fatal("heartbeat before init")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestWorker_AddressUpdate(t *testing.T) {
	mb := bus.NewMemoryBus(bus.DefaultConfig())
	defer mb.Close()

	w, _ := NewWorker(WorkerConfig{Bus: mb, Interval: time.Hour})
	w.Start(context.Background())
	defer w.Stop()

	br := newBridge(t, mb)
	br.Init(context.Background(), "")
	<-w.Ready()
	if w.Address() != "" {
		t.Errorf("Address = %q, want absent", w.Address())
	}

	if err := br.UpdateAddress(context.Background(), testAddr); err != nil {
		t.Fatalf("UpdateAddress: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for w.Address() != testAddr {
		if time.Now().After(deadline) {
			t.Fatal("address update not applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorker_DuplicateInitIgnored(t *testing.T) {
	mb := bus.NewMemoryBus(bus.DefaultConfig())
	defer mb.Close()

	w, _ := NewWorker(WorkerConfig{Bus: mb, Interval: time.Hour})
	w.Start(context.Background())
	defer w.Stop()

	first, _ := json.Marshal(InitMessage{Address: testAddr, SessionID: "a"})
	second, _ := json.Marshal(InitMessage{Address: "other", SessionID: "b"})
	mb.Publish(SubjectInit, first)
	mb.Publish(SubjectInit, second)

	deadline := time.Now().Add(time.Second)
	for w.InitCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("init messages not processed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if w.Address() != testAddr || w.SessionID() != "a" {
		t.Errorf("duplicate init overwrote state: %q %q", w.Address(), w.SessionID())
	}
}

func TestWorker_StartStop(t *testing.T) {
	mb := bus.NewMemoryBus(bus.DefaultConfig())
	defer mb.Close()

	w, _ := NewWorker(WorkerConfig{Bus: mb})
	if err := w.Stop(); err != ErrNotStarted {
		t.Errorf("Stop before Start = %v, want ErrNotStarted", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
