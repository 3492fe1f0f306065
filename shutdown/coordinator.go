package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/scoutkit/logging"
)

type entry struct {
	name    string
	handler Handler
}

// Coordinator runs registered teardown handlers once, phase by phase.
type Coordinator struct {
	cfg Config
	log *logging.Logger

	mu      sync.Mutex
	phases  map[int][]entry
	started bool

	once   sync.Once
	done   chan struct{}
	result *Result

	sigs    chan os.Signal
	sigOnce sync.Once
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.DefaultPhase == 0 {
		cfg.DefaultPhase = def.DefaultPhase
	}
	return &Coordinator{
		cfg:    cfg,
		log:    logging.OrDiscard(cfg.Logger).WithComponent("shutdown"),
		phases: make(map[int][]entry),
		done:   make(chan struct{}),
		sigs:   make(chan os.Signal, 1),
	}
}

// Register adds a handler in the default phase.
func (c *Coordinator) Register(name string, h Handler) {
	c.RegisterWithPhase(name, h, c.cfg.DefaultPhase)
}

// RegisterWithPhase adds a handler to phase and reports whether it was
// accepted. Handlers registered once shutdown has started are not run; the
// caller owns their teardown.
func (c *Coordinator) RegisterWithPhase(name string, h Handler, phase int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		c.log.Warn("handler registered after shutdown started", map[string]interface{}{"handler": name})
		return false
	}
	c.phases[phase] = append(c.phases[phase], entry{name: name, handler: h})
	return true
}

func (c *Coordinator) RegisterFunc(name string, fn func(ctx context.Context) error) {
	c.Register(name, Func(fn))
}

func (c *Coordinator) RegisterFuncWithPhase(name string, fn func(ctx context.Context) error, phase int) bool {
	return c.RegisterWithPhase(name, Func(fn), phase)
}

// Shutdown runs every handler once. Concurrent and repeated calls wait for
// the first run and return its error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.result = c.run(ctx)
		close(c.done)
	})
	<-c.done
	return c.result.Err
}

// ShutdownWithTimeout bounds Shutdown by timeout. Zero uses DefaultTimeout.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals starts shutdown on SIGTERM or SIGINT. Safe to call twice.
func (c *Coordinator) HandleSignals() {
	c.sigOnce.Do(func() {
		signal.Notify(c.sigs, syscall.SIGTERM, syscall.SIGINT)
		go c.awaitSignal()
	})
}

func (c *Coordinator) awaitSignal() {
	defer signal.Stop(c.sigs)
	select {
	case sig := <-c.sigs:
		c.log.Info("signal received", map[string]interface{}{"signal": sig.String()})
		c.ShutdownWithTimeout(0)
	case <-c.done:
	}
}

// Trigger acts as if SIGTERM arrived. It has no effect without HandleSignals.
func (c *Coordinator) Trigger() {
	select {
	case c.sigs <- syscall.SIGTERM:
	default:
	}
}

// Done is closed when shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Err returns the shutdown error, or nil before Done is closed.
func (c *Coordinator) Err() error {
	if r := c.Result(); r != nil {
		return r.Err
	}
	return nil
}

// Result returns the shutdown record, or nil before Done is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) *Result {
	start := time.Now()

	c.mu.Lock()
	c.started = true
	order := make([]int, 0, len(c.phases))
	for p := range c.phases {
		order = append(order, p)
	}
	c.mu.Unlock()
	sort.Ints(order)

	res := &Result{}
	var failures []error
	for i, phase := range order {
		if ctx.Err() != nil {
			res.SkippedPhases = order[i:]
			c.log.Warn("shutdown timed out", map[string]interface{}{"skipped": fmt.Sprint(res.SkippedPhases)})
			res.Err = ErrTimeout
			break
		}
		for _, hr := range c.runPhase(ctx, phase, c.phases[phase]) {
			res.Results = append(res.Results, hr)
			if hr.Err != nil {
				failures = append(failures, fmt.Errorf("%s: %w", hr.Name, hr.Err))
			}
		}
	}
	if res.Err == nil && len(failures) > 0 {
		res.Err = errors.Join(append([]error{ErrHandlerFailed}, failures...)...)
	}
	res.TotalDuration = time.Since(start)
	return res
}

// runPhase runs one phase's handlers concurrently and waits for all of them.
func (c *Coordinator) runPhase(ctx context.Context, phase int, entries []entry) []HandlerResult {
	out := make([]HandlerResult, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		g.Go(func() error {
			began := time.Now()
			err := e.handler.OnShutdown(ctx)
			out[i] = HandlerResult{Name: e.name, Phase: phase, Duration: time.Since(began), Err: err}

			fields := map[string]interface{}{"handler": e.name, "phase": phase, "took": out[i].Duration.String()}
			if err != nil {
				fields["error"] = err.Error()
				c.log.Warn("teardown failed", fields)
			} else {
				c.log.Debug("teardown complete", fields)
			}
			return nil
		})
	}
	g.Wait()
	return out
}
