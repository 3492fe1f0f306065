package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	scouterrors "github.com/vinayprograms/scoutkit/errors"
	"github.com/vinayprograms/scoutkit/heartbeat"
	"github.com/vinayprograms/scoutkit/liveness"
	"github.com/vinayprograms/scoutkit/logging"
	"github.com/vinayprograms/scoutkit/probe"
	"github.com/vinayprograms/scoutkit/shutdown"
	"github.com/vinayprograms/scoutkit/swarm"
	"github.com/vinayprograms/scoutkit/telemetry"
	"github.com/vinayprograms/scoutkit/topology"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("session bootstrap already started")
	ErrModeCommitted  = errors.New("session mode already committed")
	ErrInvalidMode    = errors.New("mode must be local_oracle or scout")
	ErrClosed         = errors.New("session closed")
	ErrNotScout       = errors.New("session is not in scout mode")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Resolution failure policies.
const (
	OnFailureScout   = "scout"
	OnFailureLoading = "loading"
	OnFailureRetry   = "retry"
)

// ResolutionPolicy decides what happens when the topology lookup fails.
type ResolutionPolicy struct {
	// OnFailure is OnFailureScout (default), OnFailureLoading or OnFailureRetry.
	OnFailure string

	// Retries is the number of extra attempts under OnFailureRetry.
	Retries int

	// Backoff is the delay before the first retry; it doubles each time.
	Backoff time.Duration
}

// Config configures a Controller.
type Config struct {
	// SessionID identifies the session. Default: random UUID.
	SessionID string

	// Prober checks for a local oracle. Required.
	Prober probe.Prober

	// Resolver looks up the remote oracle. Required.
	Resolver topology.Resolver

	// Heartbeat pings the oracle. Required.
	Heartbeat *heartbeat.Client

	// Bridge connects to the swarm worker. Nil when no worker is available.
	Bridge swarm.Bridge

	// KeepAlive opens the keepalive channel. Nil disables it.
	KeepAlive KeepAlive

	Policy ResolutionPolicy

	// Coordinator runs teardown. A shared coordinator lets the caller add
	// its own handlers. Default: a new coordinator.
	Coordinator *shutdown.Coordinator

	// TeardownTimeout bounds Close. Default: 5s
	TeardownTimeout time.Duration

	// Tracer for bootstrap spans. Default: telemetry.GetTracer().
	Tracer *telemetry.Tracer

	// Events receives session events. Nil discards.
	Events telemetry.Exporter

	// Logger for session events. Nil discards.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Prober == nil || c.Resolver == nil || c.Heartbeat == nil {
		return ErrInvalidConfig
	}
	switch c.Policy.OnFailure {
	case "", OnFailureScout, OnFailureLoading, OnFailureRetry:
	default:
		return ErrInvalidConfig
	}
	if c.Policy.Retries < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Controller runs one session.
type Controller struct {
	cfg    Config
	state  *State
	log    *logging.Logger
	tracer *telemetry.Tracer
	events telemetry.Exporter
	coord  *shutdown.Coordinator

	// life ends when the session is closed.
	life   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	ran     bool
	closed  bool
	pumps   sync.WaitGroup
}

// New creates a controller. Nothing runs until Start or Run.
func New(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Policy.OnFailure == "" {
		cfg.Policy.OnFailure = OnFailureScout
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = 5 * time.Second
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.GetTracer()
	}
	if cfg.Events == nil {
		cfg.Events = telemetry.NewNoopExporter()
	}
	if cfg.Coordinator == nil {
		cfg.Coordinator = shutdown.NewCoordinator(shutdown.Config{
			DefaultTimeout: cfg.TeardownTimeout,
			Logger:         cfg.Logger,
		})
	}

	log := logging.OrDiscard(cfg.Logger).WithComponent("session").WithSession(cfg.SessionID)
	life, cancel := context.WithCancel(context.Background())

	c := &Controller{
		cfg:    cfg,
		state:  NewState(cfg.SessionID),
		log:    log,
		tracer: cfg.Tracer,
		events: cfg.Events,
		coord:  cfg.Coordinator,
		life:   life,
		cancel: cancel,
	}

	// A shared coordinator may be shut down by a signal without Close. Ending
	// the session context then stops Run and any keepalive opened late.
	c.coord.RegisterFuncWithPhase("session", func(ctx context.Context) error {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		return nil
	}, shutdown.PhaseListeners)

	// Registered up front so the bridge is released even if Start never runs.
	if cfg.Bridge != nil {
		c.coord.RegisterFuncWithPhase("worker-signals", func(ctx context.Context) error {
			return cfg.Bridge.Unsubscribe()
		}, shutdown.PhaseListeners)
	}
	c.coord.RegisterFuncWithPhase("session-events", func(ctx context.Context) error {
		return c.events.Flush()
	}, shutdown.PhaseExport)

	return c, nil
}

// SessionID returns the session identifier.
func (c *Controller) SessionID() string {
	return c.cfg.SessionID
}

// State returns the session state.
func (c *Controller) State() *State {
	return c.state
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Snapshot {
	return c.state.Snapshot()
}

// Watch subscribes to session state changes.
func (c *Controller) Watch() (<-chan Snapshot, func()) {
	return c.state.Watch()
}

// Start brings up the keepalive channel and the worker signal listener.
// It is called by Run and is safe to call more than once.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.life.Err() != nil {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	c.started = true

	if c.cfg.KeepAlive != nil {
		h := c.cfg.KeepAlive.Connect(c.life)
		c.pumps.Add(1)
		go c.pumpKeepAlive(h)

		accepted := c.coord.RegisterFuncWithPhase("keepalive", func(ctx context.Context) error {
			return h.Close()
		}, shutdown.PhaseListeners)
		if !accepted {
			// A shared coordinator is already tearing down.
			c.closed = true
			h.Close()
			return ErrClosed
		}
	}

	if c.cfg.Bridge != nil {
		signals, err := c.cfg.Bridge.Subscribe()
		if err != nil {
			c.log.Warn("worker signals unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			c.pumps.Add(1)
			go c.pumpSignals(signals)
		}
	}

	c.log.Info("session started", nil)
	return nil
}

func (c *Controller) pumpKeepAlive(h KeepAliveHandle) {
	defer c.pumps.Done()
	for st := range h.States() {
		var err error
		if st == liveness.Error {
			err = h.Err()
		}
		c.state.SetKeepAlive(st, err)
		c.emit("keepalive", map[string]interface{}{"state": st.String()})
	}
}

func (c *Controller) pumpSignals(signals <-chan swarm.Signal) {
	defer c.pumps.Done()
	for sig := range signals {
		c.state.RecordWorkerHeartbeat(sig.Time())
		c.log.WorkerSignal(sig.Kind, sig.Time())
		c.emit("worker_signal", map[string]interface{}{"kind": sig.Kind, "timestamp": sig.Timestamp})
	}
}

// Run executes the bootstrap sequence once: probe for a local oracle, and
// failing that resolve a remote one, initialize the worker and enter scout
// mode. Later calls return ErrAlreadyStarted.
//
// Run only returns an error when the session ends still in ModeLoading: the
// session was closed or ctx ended, or resolution failed under the
// OnFailureLoading policy.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.ran = true
	c.mu.Unlock()

	if err := c.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.life, cancel)
	defer stop()

	if c.probe(ctx) {
		return c.commit(ModeLocalOracle)
	}
	if err := ctx.Err(); err != nil {
		return scouterrors.Wrap(err, "bootstrap interrupted")
	}

	topo, err := c.resolve(ctx)
	if err != nil {
		c.state.SetResolutionError(err)
		if ctx.Err() != nil {
			return scouterrors.Wrap(ctx.Err(), "bootstrap interrupted")
		}
		if c.cfg.Policy.OnFailure == OnFailureLoading {
			c.log.Error("topology resolution failed", scouterrors.Fields(err))
			return err
		}
		c.log.Warn("topology resolution failed, continuing without oracle", scouterrors.Fields(err))
	} else {
		c.state.SetTopology(topo)
	}

	c.initWorker(ctx, c.state.Address())
	return c.commit(ModeScout)
}

// probe reports whether a local oracle is available. Probe errors count as
// unavailable.
func (c *Controller) probe(ctx context.Context) bool {
	name := c.cfg.Prober.Name()
	ctx, span := c.tracer.StartProbeSpan(ctx, name)
	res, err := c.cfg.Prober.Probe(ctx)
	if err != nil {
		res = probe.Result{Detail: err.Error()}
	}
	c.tracer.EndProbeSpan(span, telemetry.ProbeSpanOptions{
		Prober:    name,
		Available: res.Available,
		Detail:    res.Detail,
	}, err)

	c.log.ProbeResult(name, res.Available, res.Detail)
	c.emit("probe", map[string]interface{}{"available": res.Available, "detail": res.Detail})
	return res.Available
}

// resolve performs the topology lookup, retrying under OnFailureRetry.
func (c *Controller) resolve(ctx context.Context) (topology.Topology, error) {
	attempts := 1
	if c.cfg.Policy.OnFailure == OnFailureRetry {
		attempts += c.cfg.Policy.Retries
	}
	backoff := c.cfg.Policy.Backoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if !sleep(ctx, backoff) {
				return topology.Topology{}, lastErr
			}
			backoff *= 2
		}

		spanCtx, span := c.tracer.StartResolveSpan(ctx)
		topo, err := c.cfg.Resolver.Resolve(spanCtx)
		c.tracer.EndResolveSpan(span, telemetry.ResolveSpanOptions{
			Address: topo.OracleAddress,
			Status:  topo.Status,
			Source:  topo.Source,
			Attempt: attempt,
		}, err)

		if err == nil {
			c.log.TopologyResolved(topo.OracleAddress, topo.Status, topo.Source)
			c.emit("topology", map[string]interface{}{
				"oracle": topo.OracleAddress,
				"status": topo.Status,
				"source": topo.Source,
			})
			return topo, nil
		}

		lastErr = err
		c.emit("topology", map[string]interface{}{"error": err.Error(), "attempt": attempt})
		if !scouterrors.IsRetryable(err) {
			break
		}
	}
	return topology.Topology{}, lastErr
}

// initWorker hands the address to the worker. A worker failure does not stop
// the session from entering scout mode.
func (c *Controller) initWorker(ctx context.Context, address string) {
	if c.cfg.Bridge == nil {
		c.log.Debug("no swarm worker available", nil)
		return
	}

	ctx, span := c.tracer.StartWorkerInitSpan(ctx, c.cfg.SessionID, address)
	err := c.cfg.Bridge.Init(ctx, address)
	c.tracer.EndWorkerInitSpan(span, err)

	if err != nil {
		c.state.SetWorkerError(err)
		c.log.Warn("worker init failed", map[string]interface{}{"error": err.Error()})
		return
	}
	c.emit("worker_init", map[string]interface{}{"oracle": address})
}

func (c *Controller) commit(m Mode) error {
	if err := c.state.CommitMode(m); err != nil {
		return err
	}
	snap := c.state.Snapshot()
	c.log.ModeCommitted(m.String(), snap.ModeCommittedAt.Sub(snap.StartedAt))
	c.emit("mode", map[string]interface{}{"mode": m.String()})
	return nil
}

// Refresh re-resolves the topology in scout mode and forwards a changed
// address to the worker. On failure the current address is kept.
func (c *Controller) Refresh(ctx context.Context) error {
	if c.state.Mode() != ModeScout {
		return ErrNotScout
	}

	topo, err := c.resolve(ctx)
	if err != nil {
		c.state.SetResolutionError(err)
		return err
	}

	previous := c.state.Address()
	c.state.SetTopology(topo)
	if topo.OracleAddress == previous || c.cfg.Bridge == nil {
		return nil
	}
	if err := c.cfg.Bridge.UpdateAddress(ctx, topo.OracleAddress); err != nil {
		c.state.SetWorkerError(err)
		return err
	}
	return nil
}

// Ping sends one heartbeat to the current oracle address. Without an address
// it returns a "missing oracle address" result immediately.
func (c *Controller) Ping(ctx context.Context) heartbeat.Result {
	address := c.state.Address()

	var res heartbeat.Result
	if address == "" {
		res = heartbeat.Result{Detail: heartbeat.DetailMissingAddress, At: time.Now()}
	} else {
		spanCtx, span := c.tracer.StartHeartbeatSpan(ctx, address)
		res = c.cfg.Heartbeat.Ping(spanCtx, address)
		c.tracer.EndHeartbeatSpan(span, telemetry.HeartbeatSpanOptions{
			OK:     res.OK,
			RTT:    res.RTT,
			Detail: res.Detail,
		})
	}

	var stats heartbeat.Stats
	if h := c.cfg.Heartbeat.History(); h != nil {
		stats, _ = h.Stats(res.Address)
	}
	if !c.state.RecordHeartbeat(res, stats) {
		c.log.Debug("stale heartbeat dropped", map[string]interface{}{"oracle": res.Address})
	}

	fields := map[string]interface{}{"ok": res.OK, "message": res.Message()}
	if ms, ok := res.RTTMillis(); ok {
		fields["rtt_ms"] = ms
	}
	c.emit("heartbeat", fields)
	return res
}

// Close tears the session down. The keepalive channel is closed and the
// worker signal listener removed exactly once, whatever state the session is
// in. Safe to call more than once and concurrently.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TeardownTimeout)
	defer cancel()

	err := c.coord.Shutdown(ctx)
	c.cancel()
	c.pumps.Wait()
	c.state.Close()
	return err
}

// Done is closed once teardown has finished.
func (c *Controller) Done() <-chan struct{} {
	return c.coord.Done()
}

func (c *Controller) emit(name string, data map[string]interface{}) {
	data["session_id"] = c.cfg.SessionID
	c.events.LogEvent(name, data)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
