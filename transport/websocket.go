package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig holds keepalive connection configuration.
type WebSocketConfig struct {
	// HandshakeTimeout bounds the opening handshake.
	HandshakeTimeout time.Duration

	// WriteTimeout for control frames.
	WriteTimeout time.Duration

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration

	// MaxMessageSize limits incoming message size. The keepalive channel
	// carries no payload, so this stays small.
	MaxMessageSize int64

	// Header is sent with the handshake request.
	Header http.Header
}

// DefaultWebSocketConfig returns configuration with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   64 * 1024,
	}
}

// WebSocketConn is a payload-less duplex connection used as a liveness signal.
// Incoming data frames are read and discarded so control frames keep flowing.
type WebSocketConn struct {
	conn   *websocket.Conn
	config WebSocketConfig

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// DialWebSocket opens a websocket to url.
func DialWebSocket(ctx context.Context, url string, cfg WebSocketConfig) (*WebSocketConn, error) {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultWebSocketConfig().HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWebSocketConfig().WriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultWebSocketConfig().MaxMessageSize
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	conn.SetReadLimit(cfg.MaxMessageSize)

	return &WebSocketConn{
		conn:   conn,
		config: cfg,
		done:   make(chan struct{}),
	}, nil
}

// Run reads until the connection ends. It returns nil after a normal close
// from either side and the transport error otherwise. Pings are sent on the
// configured interval while Run is active.
func (c *WebSocketConn) Run() error {
	pingDone := make(chan struct{})
	go c.pingLoop(pingDone)
	defer close(pingDone)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
	}
}

func (c *WebSocketConn) pingLoop(stop <-chan struct{}) {
	if c.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.writeControl(websocket.PingMessage, nil)
		}
	}
}

func (c *WebSocketConn) writeControl(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(messageType, data, time.Now().Add(c.config.WriteTimeout))
}

// Close sends a normal-closure frame once and closes the socket.
// Subsequent calls are no-ops and return nil.
func (c *WebSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		err = c.conn.Close()
	})
	return err
}

// Done is closed once Close has been called.
func (c *WebSocketConn) Done() <-chan struct{} {
	return c.done
}

// NewWebSocketUpgrader creates an upgrader for serving keepalive endpoints.
func NewWebSocketUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true }, // Override in production
	}
}
