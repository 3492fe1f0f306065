// Package transport builds the network clients scout sessions use: an HTTP
// client for the topology directory and oracle probe, and a websocket dialer
// for the keepalive channel.
package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// HTTPConfig holds HTTP client configuration.
type HTTPConfig struct {
	// Timeout bounds a whole request including reading the body.
	// Default: 5 seconds
	Timeout time.Duration

	// DialTimeout bounds TCP connection setup.
	// Default: 2 seconds
	DialTimeout time.Duration

	// TLSConfig for https endpoints (nil = system defaults).
	TLSConfig *tls.Config
}

// DefaultHTTPConfig returns configuration with sensible defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:     5 * time.Second,
		DialTimeout: 2 * time.Second,
	}
}

// NewHTTPClient creates an HTTP client that negotiates HTTP/2 on TLS
// endpoints and falls back to HTTP/1.1 for plain local endpoints.
func NewHTTPClient(cfg HTTPConfig) (*http.Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPConfig().Timeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultHTTPConfig().DialTimeout
	}

	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     cfg.TLSConfig,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.DialTimeout,
	}
	if err := http2.ConfigureTransport(t); err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}

	return &http.Client{
		Transport: t,
		Timeout:   cfg.Timeout,
	}, nil
}
