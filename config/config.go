// Package config loads scout session configuration from TOML.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Resolution failure policies.
const (
	ResolutionFailureScout   = "scout"
	ResolutionFailureLoading = "loading"
	ResolutionFailureRetry   = "retry"
)

// Probe kinds.
const (
	ProbeHTTP = "http"
	ProbeGRPC = "grpc"
	ProbeNone = "none"
)

// Heartbeat transports.
const (
	HeartbeatBus    = "bus"
	HeartbeatLibP2P = "libp2p"
)

// Bus kinds.
const (
	BusMemory = "memory"
	BusNATS   = "nats"
)

// Environment overrides applied by Load.
const (
	EnvDirectoryURL = "SCOUT_DIRECTORY_URL"
	EnvKeepAliveURL = "SCOUT_KEEPALIVE_URL"
	EnvBusURL       = "SCOUT_BUS_URL"
)

// Config is the full session configuration.
type Config struct {
	Session   SessionConfig   `toml:"session"`
	Probe     ProbeConfig     `toml:"probe"`
	Topology  TopologyConfig  `toml:"topology"`
	Liveness  LivenessConfig  `toml:"liveness"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Bus       BusConfig       `toml:"bus"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// SessionConfig controls the bootstrap sequence.
type SessionConfig struct {
	// OnResolutionFailure is one of "scout", "loading", "retry".
	OnResolutionFailure string `toml:"on_resolution_failure"`

	// ResolutionRetries is the number of extra attempts under the "retry" policy.
	ResolutionRetries int `toml:"resolution_retries"`

	// RetryBackoff is the base delay between resolution attempts; it doubles per attempt.
	RetryBackoff time.Duration `toml:"retry_backoff"`

	// SerializeHeartbeats joins overlapping heartbeat calls into one round trip.
	SerializeHeartbeats bool `toml:"serialize_heartbeats"`

	// TeardownTimeout bounds session Close.
	TeardownTimeout time.Duration `toml:"teardown_timeout"`
}

// ProbeConfig configures the local oracle probe.
type ProbeConfig struct {
	Kind       string        `toml:"kind"`
	URL        string        `toml:"url"`
	GRPCTarget string        `toml:"grpc_target"`
	Timeout    time.Duration `toml:"timeout"`
}

// TopologyConfig configures the topology directory.
type TopologyConfig struct {
	DirectoryURL string        `toml:"directory_url"`
	Timeout      time.Duration `toml:"timeout"`
}

// LivenessConfig configures the keepalive channel.
type LivenessConfig struct {
	URL              string        `toml:"url"`
	HandshakeTimeout time.Duration `toml:"handshake_timeout"`
	PingInterval     time.Duration `toml:"ping_interval"`
}

// HeartbeatConfig configures oracle heartbeats.
type HeartbeatConfig struct {
	Transport string        `toml:"transport"`
	Subject   string        `toml:"subject"`
	Timeout   time.Duration `toml:"timeout"`

	// LibP2PListen are listen multiaddrs for the libp2p host. Empty dials only.
	LibP2PListen []string `toml:"libp2p_listen"`
}

// BusConfig configures the worker message bus.
type BusConfig struct {
	Kind string `toml:"kind"`
	URL  string `toml:"url"`
	Name string `toml:"name"`

	// BufferSize per subscription.
	BufferSize int `toml:"buffer_size"`

	// Overflow is "drop_oldest" or "drop_newest".
	Overflow string `toml:"overflow"`
}

// LogConfig configures console logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// TelemetryConfig configures trace and event export.
type TelemetryConfig struct {
	// OTLPEndpoint enables tracing when set, e.g. "localhost:4317".
	OTLPEndpoint string `toml:"otlp_endpoint"`

	// OTLPProtocol is "grpc" or "http".
	OTLPProtocol string `toml:"otlp_protocol"`

	Insecure bool `toml:"insecure"`

	// Events is "noop", "file" or "http".
	Events string `toml:"events"`

	// EventsEndpoint is a file path or URL depending on Events.
	EventsEndpoint string `toml:"events_endpoint"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Session: SessionConfig{
			OnResolutionFailure: ResolutionFailureScout,
			ResolutionRetries:   3,
			RetryBackoff:        500 * time.Millisecond,
			SerializeHeartbeats: true,
			TeardownTimeout:     5 * time.Second,
		},
		Probe: ProbeConfig{
			Kind:       ProbeHTTP,
			URL:        "http://127.0.0.1:8000",
			GRPCTarget: "unix:///tmp/shard-control.sock",
			Timeout:    2 * time.Second,
		},
		Topology: TopologyConfig{
			DirectoryURL: "http://127.0.0.1:8000",
			Timeout:      5 * time.Second,
		},
		Liveness: LivenessConfig{
			URL:              "ws://127.0.0.1:9091/keepalive",
			HandshakeTimeout: 5 * time.Second,
			PingInterval:     30 * time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Transport: HeartbeatBus,
			Subject:   "oracle.ping",
			Timeout:   5 * time.Second,
		},
		Bus: BusConfig{
			Kind: BusMemory,
			URL:  "nats://127.0.0.1:4222",
			Name: "scoutkit",

			BufferSize: 64,
			Overflow:   "drop_oldest",
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			OTLPProtocol: "grpc",
			Events:       "noop",
		},
	}
}

// Parse decodes TOML content on top of Default.
func Parse(content string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads and parses a TOML file.
func LoadFile(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(string(content))
}

// Load reads path (empty means defaults only), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides endpoints from environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvDirectoryURL)); v != "" {
		c.Topology.DirectoryURL = v
	}
	if v := strings.TrimSpace(getenv(EnvKeepAliveURL)); v != "" {
		c.Liveness.URL = v
	}
	if v := strings.TrimSpace(getenv(EnvBusURL)); v != "" {
		c.Bus.URL = v
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Session.OnResolutionFailure {
	case ResolutionFailureScout, ResolutionFailureLoading, ResolutionFailureRetry:
	default:
		return fmt.Errorf("session.on_resolution_failure: unknown policy %q", c.Session.OnResolutionFailure)
	}
	if c.Session.ResolutionRetries < 0 {
		return fmt.Errorf("session.resolution_retries must be >= 0")
	}

	switch c.Probe.Kind {
	case ProbeHTTP:
		if err := validateURL("probe.url", c.Probe.URL, "http", "https"); err != nil {
			return err
		}
	case ProbeGRPC:
		if c.Probe.GRPCTarget == "" {
			return fmt.Errorf("probe.grpc_target required for grpc probe")
		}
	case ProbeNone:
	default:
		return fmt.Errorf("probe.kind: unknown kind %q", c.Probe.Kind)
	}

	if err := validateURL("topology.directory_url", c.Topology.DirectoryURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("liveness.url", c.Liveness.URL, "ws", "wss"); err != nil {
		return err
	}

	switch c.Heartbeat.Transport {
	case HeartbeatBus:
		if c.Heartbeat.Subject == "" {
			return fmt.Errorf("heartbeat.subject required for bus transport")
		}
	case HeartbeatLibP2P:
	default:
		return fmt.Errorf("heartbeat.transport: unknown transport %q", c.Heartbeat.Transport)
	}

	switch c.Bus.Kind {
	case BusMemory:
	case BusNATS:
		if c.Bus.URL == "" {
			return fmt.Errorf("bus.url required for nats bus")
		}
	default:
		return fmt.Errorf("bus.kind: unknown kind %q", c.Bus.Kind)
	}
	if c.Bus.BufferSize < 0 {
		return fmt.Errorf("bus.buffer_size must not be negative")
	}
	switch c.Bus.Overflow {
	case "", "drop_oldest", "drop_newest":
	default:
		return fmt.Errorf("bus.overflow: unknown policy %q", c.Bus.Overflow)
	}

	switch c.Telemetry.OTLPProtocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("telemetry.otlp_protocol: unknown protocol %q", c.Telemetry.OTLPProtocol)
	}
	switch c.Telemetry.Events {
	case "", "noop":
	case "file", "http":
		if c.Telemetry.EventsEndpoint == "" {
			return fmt.Errorf("telemetry.events_endpoint required for %s events", c.Telemetry.Events)
		}
	default:
		return fmt.Errorf("telemetry.events: unknown exporter %q", c.Telemetry.Events)
	}

	for name, d := range map[string]time.Duration{
		"probe.timeout":     c.Probe.Timeout,
		"topology.timeout":  c.Topology.Timeout,
		"heartbeat.timeout": c.Heartbeat.Timeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s: %q must be an absolute %s URL", field, raw, strings.Join(schemes, "/"))
}
