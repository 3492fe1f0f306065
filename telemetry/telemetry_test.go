package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNoopExporter(t *testing.T) {
	exp := NewNoopExporter()

	// Should not panic
	exp.LogEvent("test", map[string]interface{}{"key": "value"})

	if err := exp.Flush(); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestFileExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")

	exp, err := NewFileExporter(path)
	if err != nil {
		t.Fatalf("NewFileExporter() error = %v", err)
	}
	defer exp.Close()

	exp.LogEvent("mode_committed", map[string]interface{}{"mode": "scout", "session_id": "s-1"})
	exp.LogEvent("heartbeat", map[string]interface{}{"ok": true})
	exp.Flush()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Name != "mode_committed" || ev.SessionID != "s-1" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestHTTPExporter(t *testing.T) {
	got := make(chan []Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var events []Event
		json.NewDecoder(r.Body).Decode(&events)
		got <- events
	}))
	defer srv.Close()

	exp := NewHTTPExporter(HTTPExporterConfig{Endpoint: srv.URL, Client: srv.Client()})
	exp.LogEvent("keepalive", map[string]interface{}{"to": "connected"})
	if err := exp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case events := <-got:
		if len(events) != 1 || events[0].Name != "keepalive" {
			t.Errorf("unexpected batch %+v", events)
		}
	case <-time.After(time.Second):
		t.Fatal("no batch posted")
	}
}

func TestHTTPExporter_FailureKeepsBoundedBuffer(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	exp := NewHTTPExporter(HTTPExporterConfig{Endpoint: srv.URL, BatchSize: 2, MaxBuffer: 3})
	for i := 0; i < 5; i++ {
		exp.LogEvent("heartbeat", nil)
	}
	if err := exp.Flush(); err == nil {
		t.Fatal("Flush should report the 503")
	}
	if calls == 0 {
		t.Error("batch size should have triggered a post")
	}
	if got := exp.Dropped(); got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}
}

func TestNewProvider_ResourceAndTracer(t *testing.T) {
	mem := tracetest.NewInMemoryExporter()
	p, err := NewProvider(
		ProviderConfig{ServiceName: "scout-test", SessionID: "s-9"},
		sdktrace.WithSyncer(mem),
	)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	defer p.Shutdown(context.Background())

	_, span := p.Tracer().StartProbeSpan(context.Background(), "static")
	p.Tracer().EndProbeSpan(span, ProbeSpanOptions{Prober: "static", Available: true}, nil)

	spans := mem.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	var session string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "scout.session" {
			session = kv.Value.AsString()
		}
	}
	if session != "s-9" {
		t.Errorf("scout.session = %q, want s-9", session)
	}
}

func TestInitProvider_NoEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if _, err := InitProvider(context.Background(), ProviderConfig{}); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("err = %v, want ErrNoEndpoint", err)
	}
}

func TestMemoryExporter(t *testing.T) {
	exp := NewMemoryExporter()
	exp.LogEvent("a", nil)
	exp.LogEvent("b", nil)
	if names := exp.Names(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names = %v", names)
	}
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		protocol string
		wantErr  bool
	}{
		{"noop", false},
		{"", false},
		{"http", false},
		{"unknown", true},
	}

	for _, tt := range tests {
		t.Run(tt.protocol, func(t *testing.T) {
			exp, err := NewExporter(tt.protocol, "")
			if (err != nil) != tt.wantErr {
				t.Errorf("NewExporter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if exp != nil {
				exp.Close()
			}
		})
	}
}

func newRecordingTracer() (*Tracer, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return NewTracerFromProvider(tp, "test"), rec
}

func TestTracer_Spans(t *testing.T) {
	tr, rec := newRecordingTracer()
	ctx := context.Background()

	_, span := tr.StartProbeSpan(ctx, "http")
	tr.EndProbeSpan(span, ProbeSpanOptions{Prober: "http", Detail: "no local oracle"}, nil)

	_, span = tr.StartResolveSpan(ctx)
	tr.EndResolveSpan(span, ResolveSpanOptions{Attempt: 1}, errors.New("directory returned 500"))

	_, span = tr.StartWorkerInitSpan(ctx, "s-1", "")
	tr.EndWorkerInitSpan(span, nil)

	_, span = tr.StartHeartbeatSpan(ctx, "/ip4/127.0.0.1/tcp/1")
	tr.EndHeartbeatSpan(span, HeartbeatSpanOptions{OK: true, RTT: 2 * time.Millisecond})

	spans := rec.Ended()
	if len(spans) != 4 {
		t.Fatalf("ended %d spans, want 4", len(spans))
	}
	wantNames := []string{"probe.http", "topology.resolve", "swarm.init", "heartbeat.ping"}
	for i, s := range spans {
		if s.Name() != wantNames[i] {
			t.Errorf("span %d = %q, want %q", i, s.Name(), wantNames[i])
		}
	}
	if spans[1].Status().Code != codes.Error {
		t.Error("failed resolve should mark span as error")
	}
	if spans[3].Status().Code != codes.Ok {
		t.Error("successful heartbeat should mark span ok")
	}
}

func TestMapCarrier_RoundTrip(t *testing.T) {
	c := MapCarrier{}
	c.Set("traceparent", "00-abc-def-01")
	if c.Get("traceparent") != "00-abc-def-01" {
		t.Error("Get after Set failed")
	}
	if len(c.Keys()) != 1 {
		t.Errorf("Keys = %v", c.Keys())
	}
}

func TestGetTracer_DefaultNoop(t *testing.T) {
	SetGlobalTracer(nil)
	_, span := GetTracer().StartSpan(context.Background(), "noop")
	span.End()
}
