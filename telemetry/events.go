// Package telemetry exports session events and traces.
package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// Exporter receives session events: probe outcome, topology, worker init,
// mode commit, keepalive transitions, worker signals and heartbeats.
type Exporter interface {
	LogEvent(name string, data map[string]interface{})
	Flush() error
	Close() error
}

// Event is one exported session event. SessionID is lifted out of the
// "session_id" data field when present.
type Event struct {
	Name      string                 `json:"name"`
	SessionID string                 `json:"session_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

func newEvent(name string, data map[string]interface{}) Event {
	ev := Event{Name: name, Timestamp: time.Now(), Data: data}
	if id, ok := data["session_id"].(string); ok {
		ev.SessionID = id
	}
	return ev
}

// NewExporter creates an exporter by kind: "noop" (or empty), "file" with a
// path, or "http" with a URL.
func NewExporter(kind, endpoint string) (Exporter, error) {
	switch kind {
	case "", "noop":
		return NewNoopExporter(), nil
	case "file":
		e, err := NewFileExporter(endpoint)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "http":
		return NewHTTPExporter(HTTPExporterConfig{Endpoint: endpoint}), nil
	}
	return nil, fmt.Errorf("unknown event exporter %q", kind)
}

// HTTPExporterConfig configures an HTTPExporter.
type HTTPExporterConfig struct {
	// Endpoint receives POSTed JSON arrays of events.
	Endpoint string

	// Client performs the requests. Default: client with a 10s timeout.
	Client *http.Client

	// BatchSize triggers a flush. Default: 50
	BatchSize int

	// MaxBuffer caps events held while the endpoint is failing; the oldest
	// are dropped first. Default: 1000
	MaxBuffer int
}

// HTTPExporter posts events in batches.
type HTTPExporter struct {
	cfg HTTPExporterConfig

	mu      sync.Mutex
	pending []Event
	dropped int
}

// NewHTTPExporter creates an HTTP exporter.
func NewHTTPExporter(cfg HTTPExporterConfig) *HTTPExporter {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxBuffer < cfg.BatchSize {
		cfg.MaxBuffer = 1000
	}
	return &HTTPExporter{cfg: cfg}
}

func (e *HTTPExporter) LogEvent(name string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, newEvent(name, data))
	if over := len(e.pending) - e.cfg.MaxBuffer; over > 0 {
		e.pending = append(e.pending[:0], e.pending[over:]...)
		e.dropped += over
	}
	if len(e.pending) >= e.cfg.BatchSize {
		e.post()
	}
}

// Flush posts buffered events. On failure they stay buffered.
func (e *HTTPExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.post()
}

// Dropped returns the number of events lost to the buffer cap.
func (e *HTTPExporter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// post sends pending events. Caller holds e.mu.
func (e *HTTPExporter) post() error {
	if len(e.pending) == 0 {
		return nil
	}
	body, err := json.Marshal(e.pending)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post events: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("event endpoint returned %d", resp.StatusCode)
	}
	e.pending = e.pending[:0]
	return nil
}

func (e *HTTPExporter) Close() error {
	return e.Flush()
}

// FileExporter appends events to a JSON Lines file.
type FileExporter struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// NewFileExporter opens path for appending.
func NewFileExporter(path string) (*FileExporter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event file: %w", err)
	}
	return &FileExporter{file: f, w: bufio.NewWriter(f)}, nil
}

func (e *FileExporter) LogEvent(name string, data map[string]interface{}) {
	line, err := json.Marshal(newEvent(name, data))
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.w.Write(line)
	e.w.WriteByte('\n')
}

// Flush writes buffered lines and syncs the file.
func (e *FileExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.w.Flush(); err != nil {
		return err
	}
	return e.file.Sync()
}

func (e *FileExporter) Close() error {
	ferr := e.Flush()
	if err := e.file.Close(); err != nil {
		return err
	}
	return ferr
}

// NoopExporter discards events.
type NoopExporter struct{}

func NewNoopExporter() *NoopExporter { return &NoopExporter{} }

func (NoopExporter) LogEvent(string, map[string]interface{}) {}
func (NoopExporter) Flush() error                            { return nil }
func (NoopExporter) Close() error                            { return nil }

// MemoryExporter keeps events in memory.
type MemoryExporter struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryExporter() *MemoryExporter { return &MemoryExporter{} }

func (e *MemoryExporter) LogEvent(name string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, newEvent(name, data))
}

func (e *MemoryExporter) Flush() error { return nil }
func (e *MemoryExporter) Close() error { return nil }

// Events returns a copy of the recorded events.
func (e *MemoryExporter) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

// Names returns recorded event names in order.
func (e *MemoryExporter) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, len(e.events))
	for i, ev := range e.events {
		names[i] = ev.Name
	}
	return names
}
