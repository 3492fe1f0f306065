package heartbeat

import (
	"sync"
	"time"
)

// Stats summarizes heartbeats sent to one address.
type Stats struct {
	Attempts  int
	Successes int
	LastRTT   time.Duration
	LastError string
	LastAt    time.Time
}

// SuccessRate returns successes over attempts, or 0 with no attempts.
func (s Stats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// History tracks heartbeat outcomes per address.
type History struct {
	mu    sync.RWMutex
	stats map[string]*Stats
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{stats: make(map[string]*Stats)}
}

// Record adds a result. Results without an address are ignored.
func (h *History) Record(r Result) {
	if r.Address == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.stats[r.Address]
	if !ok {
		s = &Stats{}
		h.stats[r.Address] = s
	}
	s.Attempts++
	s.LastAt = r.At
	if r.OK {
		s.Successes++
		s.LastRTT = r.RTT
	} else {
		s.LastError = r.Detail
	}
}

// Stats returns a copy of the stats for address.
func (h *History) Stats(address string) (Stats, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.stats[address]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// Addresses returns every address with recorded results.
func (h *History) Addresses() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.stats))
	for addr := range h.stats {
		out = append(out, addr)
	}
	return out
}
