package swarm

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/scoutkit/bus"
	"github.com/vinayprograms/scoutkit/logging"
	"github.com/vinayprograms/scoutkit/telemetry"
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// Bus to receive init messages on and publish signals to.
	Bus bus.MessageBus

	// Interval between heartbeat signals.
	// Default: 5s
	Interval time.Duration

	// Logger for worker events. Nil discards.
	Logger *logging.Logger
}

// DefaultWorkerConfig returns the default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Interval: 5 * time.Second,
	}
}

// Validate checks the configuration.
func (c WorkerConfig) Validate() error {
	if c.Bus == nil {
		return ErrInvalidConfig
	}
	return nil
}

// Worker is the worker side of the bridge. It waits for an init message,
// remembers the oracle address and then emits heartbeat signals until
// stopped. It does not talk to the oracle itself.
type Worker struct {
	bus      bus.MessageBus
	interval time.Duration
	log      *logging.Logger

	mu        sync.RWMutex
	address   string
	sessionID string
	inits     int
	ready     chan struct{}

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWorker creates a worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWorkerConfig().Interval
	}
	return &Worker{
		bus:      cfg.Bus,
		interval: cfg.Interval,
		log:      logging.OrDiscard(cfg.Logger).WithComponent("worker"),
		ready:    make(chan struct{}),
	}, nil
}

// Start subscribes to init and update messages and begins the worker loop.
func (w *Worker) Start(ctx context.Context) error {
	if w.running.Swap(true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	initSub, err := w.bus.Subscribe(SubjectInit)
	if err != nil {
		w.running.Store(false)
		return err
	}
	updateSub, err := w.bus.Subscribe(SubjectUpdate)
	if err != nil {
		initSub.Unsubscribe()
		w.running.Store(false)
		return err
	}

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go w.run(ctx, initSub, updateSub)
	return nil
}

func (w *Worker) run(ctx context.Context, initSub, updateSub bus.Subscription) {
	defer close(w.doneCh)
	defer initSub.Unsubscribe()
	defer updateSub.Unsubscribe()

	// Nil until initialized, so no heartbeats go out before init.
	var tick <-chan time.Time
	var ticker *time.Ticker
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.running.Store(false)
			return
		case <-w.stopCh:
			return
		case msg, ok := <-initSub.Messages():
			if !ok {
				return
			}
			if !w.handleInit(msg) || ticker != nil {
				continue
			}
			w.emit()
			ticker = time.NewTicker(w.interval)
			tick = ticker.C
		case msg, ok := <-updateSub.Messages():
			if !ok {
				return
			}
			w.handleUpdate(msg)
		case <-tick:
			w.emit()
		}
	}
}

// handleInit records the first init message. Repeats are counted and ignored.
func (w *Worker) handleInit(msg *bus.Message) bool {
	var init InitMessage
	if err := json.Unmarshal(msg.Data, &init); err != nil {
		w.log.Warn("malformed init message", map[string]interface{}{"error": err.Error()})
		return false
	}

	w.mu.Lock()
	w.inits++
	if w.inits > 1 {
		w.mu.Unlock()
		w.log.Warn("duplicate init ignored", map[string]interface{}{"session": init.SessionID})
		return false
	}
	w.address = init.Address
	w.sessionID = init.SessionID
	close(w.ready)
	w.mu.Unlock()

	ctx := telemetry.ExtractContext(context.Background(), telemetry.MapCarrier(init.Trace))
	_, span := telemetry.GetTracer().StartSpan(ctx, "worker.init")
	span.End()

	w.log.Info("initialized", map[string]interface{}{
		"oracle":  addressField(init.Address),
		"session": init.SessionID,
	})
	return true
}

func (w *Worker) handleUpdate(msg *bus.Message) {
	var update InitMessage
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		return
	}

	w.mu.Lock()
	if w.inits == 0 {
		w.mu.Unlock()
		return
	}
	w.address = update.Address
	w.mu.Unlock()

	w.log.Info("address updated", map[string]interface{}{"oracle": addressField(update.Address)})
}

func (w *Worker) emit() {
	data, err := json.Marshal(NewHeartbeat(time.Now()))
	if err != nil {
		return
	}
	if err := w.bus.Publish(SubjectSignal, data); err != nil {
		w.log.Warn("heartbeat publish failed", map[string]interface{}{"error": err.Error()})
	}
}

// Ready is closed once the worker has been initialized.
func (w *Worker) Ready() <-chan struct{} {
	return w.ready
}

// Address returns the current oracle address; empty if absent.
func (w *Worker) Address() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.address
}

// SessionID returns the session the worker was initialized for.
func (w *Worker) SessionID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sessionID
}

// InitCount returns how many init messages were received.
func (w *Worker) InitCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.inits
}

// Stop ends the worker loop.
func (w *Worker) Stop() error {
	if !w.running.Swap(false) {
		return ErrNotStarted
	}
	close(w.stopCh)
	<-w.doneCh
	return nil
}
