package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	logger.Info("info message")
	output := buf.String()
	if !strings.Contains(output, "INFO") {
		t.Error("log should contain INFO level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("log should contain the message")
	}
}

func TestLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger = logger.WithComponent("session")

	logger.Info("hello world", map[string]interface{}{"b": 2, "a": 1})

	output := buf.String()
	if !strings.HasPrefix(output, "INFO ") {
		t.Errorf("expected line to start with 'INFO ', got: %s", output)
	}
	if !strings.Contains(output, "[session]") {
		t.Errorf("expected component [session], got: %s", output)
	}
	if !strings.Contains(output, "a=1 b=2") {
		t.Errorf("expected sorted fields, got: %s", output)
	}
}

func TestLogger_WithSession(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.WithSession("sess-123").Info("test message")

	if !strings.HasSuffix(strings.TrimSpace(buf.String()), "session=sess-123") {
		t.Errorf("expected trailing session id, got: %s", buf.String())
	}
}

func TestLogger_DerivedShareLevelAndOutput(t *testing.T) {
	var buf bytes.Buffer
	root := New()
	child := root.WithComponent("heartbeat")
	root.SetOutput(&buf)
	root.SetLevel(LevelDebug)

	child.Debug("visible")
	if !strings.Contains(buf.String(), "[heartbeat] visible") {
		t.Fatalf("child should follow root level and output, got: %q", buf.String())
	}
	if !child.Enabled(LevelDebug) {
		t.Error("Enabled(DEBUG) = false after root SetLevel(DEBUG)")
	}
}

func TestLogger_WithBoundFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	bound := logger.With(map[string]interface{}{"oracle": "a", "mode": "scout"})
	bound.Info("ping", map[string]interface{}{"oracle": "b"})

	out := buf.String()
	if !strings.Contains(out, "mode=scout oracle=b") {
		t.Errorf("per-call field should override bound field, got: %s", out)
	}

	buf.Reset()
	logger.Info("plain")
	if strings.Contains(buf.String(), "mode=") {
		t.Errorf("With must not mutate the parent, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogger_TopologyResolvedAbsent(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.TopologyResolved("", "degraded", "fallback")

	if !strings.Contains(buf.String(), "oracle=<absent>") {
		t.Errorf("expected absent oracle, got: %s", buf.String())
	}
}

func TestLogger_KeepAliveTransitionError(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.KeepAliveTransition("connected", "error", errors.New("reset by peer"))

	output := buf.String()
	if !strings.HasPrefix(output, "WARN") {
		t.Errorf("expected WARN, got: %s", output)
	}
	if !strings.Contains(output, "error=reset by peer") {
		t.Errorf("expected error field, got: %s", output)
	}
}

func TestLogger_HeartbeatResult(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.HeartbeatResult("addr-123", true, 42*time.Millisecond, "")
	logger.HeartbeatResult("addr-123", false, 0, "timeout")

	output := buf.String()
	if !strings.Contains(output, "rtt=42ms") {
		t.Errorf("expected rtt field, got: %s", output)
	}
	if !strings.Contains(output, "detail=timeout") {
		t.Errorf("expected detail field, got: %s", output)
	}
}

func TestOrDiscard(t *testing.T) {
	l := OrDiscard(nil)
	l.Error("goes nowhere")
	if OrDiscard(l) != l {
		t.Error("OrDiscard should return non-nil loggers unchanged")
	}
}
