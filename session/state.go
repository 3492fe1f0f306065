package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/scoutkit/heartbeat"
	"github.com/vinayprograms/scoutkit/liveness"
	"github.com/vinayprograms/scoutkit/topology"
)

// Snapshot is a point-in-time copy of the session state.
type Snapshot struct {
	SessionID string
	StartedAt time.Time

	Mode            Mode
	ModeCommittedAt time.Time

	// Topology is the last resolved directory record.
	Topology        topology.Topology
	ResolutionError string
	WorkerError     string

	KeepAlive      liveness.State
	KeepAliveError string

	// WorkerHeartbeat is the timestamp of the latest worker signal. It is
	// tracked separately from the keepalive channel state.
	WorkerHeartbeat time.Time

	LastHeartbeat  heartbeat.Result
	HasHeartbeat   bool
	HeartbeatStats heartbeat.Stats
}

// OracleAddress returns the resolved oracle address; empty when absent.
func (s Snapshot) OracleAddress() string {
	return s.Topology.OracleAddress
}

// KeepAliveLabel merges the channel state and the worker heartbeat for
// display.
func (s Snapshot) KeepAliveLabel() string {
	label := s.KeepAlive.String()
	if s.KeepAlive == liveness.Error && s.KeepAliveError != "" {
		label += " (" + s.KeepAliveError + ")"
	}
	if !s.WorkerHeartbeat.IsZero() {
		label += ", worker heartbeat " + s.WorkerHeartbeat.Format("15:04:05")
	}
	return label
}

// Lines renders the snapshot as plain text, one fact per line.
func (s Snapshot) Lines() []string {
	oracle := s.OracleAddress()
	if oracle == "" {
		oracle = "<absent>"
	}

	lines := []string{
		"mode: " + s.Mode.String(),
		"oracle: " + oracle,
	}
	if s.Topology.Status != "" {
		topo := "topology: " + s.Topology.Status
		if s.Topology.Source != "" {
			topo += " (" + s.Topology.Source + ")"
		}
		if s.Topology.Detail != "" {
			topo += ": " + s.Topology.Detail
		}
		lines = append(lines, topo)
	}
	if s.ResolutionError != "" {
		lines = append(lines, "resolution: "+s.ResolutionError)
	}
	if s.WorkerError != "" {
		lines = append(lines, "worker: "+s.WorkerError)
	}
	lines = append(lines, "keepalive: "+s.KeepAliveLabel())

	if s.HasHeartbeat {
		hb := "heartbeat: " + s.LastHeartbeat.Message()
		if s.HeartbeatStats.Attempts > 0 {
			hb += fmt.Sprintf(" (%d/%d ok)", s.HeartbeatStats.Successes, s.HeartbeatStats.Attempts)
		}
		lines = append(lines, hb)
	}
	return lines
}

// String joins Lines.
func (s Snapshot) String() string {
	return strings.Join(s.Lines(), "\n")
}

// State holds the mutable session facts behind a mutex.
type State struct {
	mu       sync.Mutex
	snap     Snapshot
	watchers map[chan Snapshot]struct{}
	closed   bool
}

// NewState creates state for a session starting now in ModeLoading.
func NewState(sessionID string) *State {
	return &State{
		snap: Snapshot{
			SessionID: sessionID,
			StartedAt: time.Now(),
			Mode:      ModeLoading,
			KeepAlive: liveness.Disconnected,
		},
		watchers: make(map[chan Snapshot]struct{}),
	}
}

// Snapshot returns the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Mode returns the current mode.
func (s *State) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Mode
}

// Address returns the current oracle address.
func (s *State) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Topology.OracleAddress
}

// CommitMode moves out of ModeLoading. It fails with ErrModeCommitted if the
// mode has already been committed and ErrInvalidMode for ModeLoading.
func (s *State) CommitMode(m Mode) error {
	if !m.Terminal() {
		return ErrInvalidMode
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Mode.Terminal() {
		return ErrModeCommitted
	}
	s.snap.Mode = m
	s.snap.ModeCommittedAt = time.Now()
	s.notify()
	return nil
}

// SetTopology records a resolved topology and clears any resolution error.
// Whitespace-only addresses are stored as absent.
func (s *State) SetTopology(t topology.Topology) {
	t.OracleAddress = strings.TrimSpace(t.OracleAddress)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Topology = t
	s.snap.ResolutionError = ""
	s.notify()
}

// SetResolutionError records a failed lookup. The previous topology is kept.
func (s *State) SetResolutionError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ResolutionError = errorText(err)
	s.notify()
}

// SetWorkerError records a failed worker handoff.
func (s *State) SetWorkerError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.WorkerError = errorText(err)
	s.notify()
}

// SetKeepAlive records a keepalive channel transition.
func (s *State) SetKeepAlive(st liveness.State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.KeepAlive = st
	if st == liveness.Error {
		s.snap.KeepAliveError = errorText(err)
	}
	s.notify()
}

// RecordWorkerHeartbeat records a worker heartbeat signal. The last signal
// to arrive wins, whatever its timestamp.
func (s *State) RecordWorkerHeartbeat(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.WorkerHeartbeat = at
	s.notify()
}

// RecordHeartbeat stores a heartbeat result if it was sent to the current
// oracle address. A result for an address that has since been replaced is
// dropped and false is returned.
func (s *State) RecordHeartbeat(r heartbeat.Result, stats heartbeat.Stats) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Address != s.snap.Topology.OracleAddress {
		return false
	}
	s.snap.LastHeartbeat = r
	s.snap.HasHeartbeat = true
	s.snap.HeartbeatStats = stats
	s.notify()
	return true
}

// Watch returns a channel that receives the latest snapshot after every
// change, starting with the current one. Slow readers only see the most
// recent snapshot. Call cancel to stop watching; the channel is also closed
// when the state is closed.
func (s *State) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		ch <- s.snap
		close(ch)
		return ch, func() {}
	}
	s.watchers[ch] = struct{}{}
	ch <- s.snap

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.watchers[ch]; ok {
				delete(s.watchers, ch)
				close(ch)
			}
		})
	}
}

// Close closes every watcher channel. Later changes are still applied but
// no longer published.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.watchers {
		close(ch)
		delete(s.watchers, ch)
	}
}

// notify publishes the snapshot. Caller holds s.mu.
func (s *State) notify() {
	for ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s.snap
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
