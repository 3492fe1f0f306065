// Package logging provides leveled console logging for scout sessions.
// Session state is the record of truth; these lines are for operators
// watching a session in real time.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

func (l Level) rank() int32 {
	switch l {
	case LevelDebug:
		return 0
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	}
	return 1
}

// ParseLevel converts a config string to a Level. Unknown values map to INFO.
func ParseLevel(s string) Level {
	lvl := Level(strings.ToUpper(strings.TrimSpace(s)))
	switch lvl {
	case LevelDebug, LevelWarn, LevelError:
		return lvl
	}
	return LevelInfo
}

// sink is shared by a root logger and everything derived from it, so
// SetLevel and SetOutput apply to all of them.
type sink struct {
	mu  sync.Mutex
	out io.Writer
	min atomic.Int32
}

func (s *sink) write(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	io.WriteString(s.out, line)
}

// Logger writes one line per entry:
//
//	LEVEL TIMESTAMP [component] message key=value ...
//
// Loggers are cheap values; With* methods return derived copies.
type Logger struct {
	sink      *sink
	component string
	session   string
	bound     map[string]interface{}
}

// New creates a logger writing to stdout at INFO.
func New() *Logger {
	s := &sink{out: os.Stdout}
	s.min.Store(LevelInfo.rank())
	return &Logger{sink: s}
}

// Discard returns a logger that writes nowhere.
func Discard() *Logger {
	l := New()
	l.sink.out = io.Discard
	return l
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *Logger) *Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// WithComponent returns a logger tagging lines with [component].
func (l *Logger) WithComponent(component string) *Logger {
	c := *l
	c.component = component
	return &c
}

// WithSession returns a logger appending session=<id> to every line.
func (l *Logger) WithSession(id string) *Logger {
	c := *l
	c.session = id
	return &c
}

// With returns a logger that adds fields to every line. Per-call fields
// win on key collisions.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	c := *l
	c.bound = make(map[string]interface{}, len(l.bound)+len(fields))
	for k, v := range l.bound {
		c.bound[k] = v
	}
	for k, v := range fields {
		c.bound[k] = v
	}
	return &c
}

// SetLevel sets the minimum level for this logger and all derived loggers.
func (l *Logger) SetLevel(level Level) {
	l.sink.min.Store(level.rank())
}

// SetOutput redirects this logger and all derived loggers.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.out = w
}

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level.rank() >= l.sink.min.Load()
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields)
}

func (l *Logger) log(level Level, msg string, extra []map[string]interface{}) {
	if !l.Enabled(level) {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %s ", level, time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	if l.component != "" {
		b.WriteString("[" + l.component + "] ")
	}
	b.WriteString(msg)

	fields := l.bound
	if len(extra) > 0 && len(extra[0]) > 0 {
		fields = make(map[string]interface{}, len(l.bound)+len(extra[0]))
		for k, v := range l.bound {
			fields[k] = v
		}
		for k, v := range extra[0] {
			fields[k] = v
		}
	}
	writeFields(&b, fields)
	if l.session != "" {
		b.WriteString(" session=" + l.session)
	}
	b.WriteByte('\n')

	l.sink.write(b.String())
}

// writeFields appends key=value pairs sorted by key.
func writeFields(b *strings.Builder, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, fields[k])
	}
}

// ProbeResult logs the outcome of the local oracle probe.
func (l *Logger) ProbeResult(prober string, available bool, detail string) {
	fields := map[string]interface{}{"prober": prober, "available": available}
	if detail != "" {
		fields["detail"] = detail
	}
	l.Info("probe_result", fields)
}

// TopologyResolved logs a topology record. An empty address is logged as absent.
func (l *Logger) TopologyResolved(address, status, source string) {
	if address == "" {
		address = "<absent>"
	}
	l.Info("topology_resolved", map[string]interface{}{
		"oracle": address,
		"status": status,
		"source": source,
	})
}

// ModeCommitted logs the terminal bootstrap mode and how long bootstrap took.
func (l *Logger) ModeCommitted(mode string, took time.Duration) {
	l.Info("mode_committed", map[string]interface{}{"mode": mode, "took": took.String()})
}

// KeepAliveTransition logs a keepalive state change. Transitions carrying
// an error are warnings.
func (l *Logger) KeepAliveTransition(from, to string, err error) {
	fields := map[string]interface{}{"from": from, "to": to}
	if err == nil {
		l.Debug("keepalive_transition", fields)
		return
	}
	fields["error"] = err.Error()
	l.Warn("keepalive_transition", fields)
}

func (l *Logger) WorkerSignal(kind string, at time.Time) {
	l.Debug("worker_signal", map[string]interface{}{
		"kind": kind,
		"at":   at.UTC().Format(time.RFC3339Nano),
	})
}

// HeartbeatResult logs a heartbeat round trip: INFO with rtt on success,
// WARN with detail on failure.
func (l *Logger) HeartbeatResult(address string, ok bool, rtt time.Duration, detail string) {
	fields := map[string]interface{}{"oracle": address, "ok": ok}
	if !ok {
		fields["detail"] = detail
		l.Warn("heartbeat", fields)
		return
	}
	fields["rtt"] = rtt.String()
	l.Info("heartbeat", fields)
}
