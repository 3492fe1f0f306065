package shutdown

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/scoutkit/logging"
)

var (
	// ErrTimeout means the deadline passed before every phase ran.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed is wrapped into the shutdown error when any handler
	// returns an error. The handler errors are joined alongside it.
	ErrHandlerFailed = errors.New("one or more handlers failed")
)

// Teardown phases for a session.
const (
	PhaseListeners = 10
	PhaseWorker    = 20
	PhaseExport    = 30
	PhaseTransport = 40
)

// Handler is implemented by components that need teardown. The context
// ends when the shutdown deadline is reached.
type Handler interface {
	OnShutdown(ctx context.Context) error
}

// Func adapts a function to Handler.
type Func func(ctx context.Context) error

func (f Func) OnShutdown(ctx context.Context) error { return f(ctx) }

// HandlerResult records one handler's teardown.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result records a whole shutdown run.
type Result struct {
	TotalDuration time.Duration
	Results       []HandlerResult

	// SkippedPhases lists phases not started because the deadline passed.
	SkippedPhases []int

	Err error
}

// Failed reports whether the shutdown ended with an error.
func (r *Result) Failed() bool { return r.Err != nil }

// FailedHandlers returns the names of handlers that returned an error.
func (r *Result) FailedHandlers() []string {
	var names []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			names = append(names, hr.Name)
		}
	}
	return names
}

// Config configures a Coordinator.
type Config struct {
	// DefaultTimeout bounds ShutdownWithTimeout(0) and signal-triggered
	// shutdowns. Default: 5s
	DefaultTimeout time.Duration

	// DefaultPhase is used by Register and RegisterFunc.
	// Default: PhaseTransport
	DefaultPhase int

	Logger *logging.Logger
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{DefaultTimeout: 5 * time.Second, DefaultPhase: PhaseTransport}
}
