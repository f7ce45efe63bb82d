package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	pkgerrors "RelayLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

// wireMessage is the JSON envelope exchanged over the WebSocket: one named
// event per frame.
type wireMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WebSocketTransport implements Transport over gorilla/websocket. The
// credential travels as a bearer token in the handshake; a 401/403 handshake
// response is reported as an auth rejection so the manager never retries it.
type WebSocketTransport struct {
	url    string
	dialer *websocket.Dialer
	logger *log.Helper

	mu        sync.Mutex
	conn      *websocket.Conn
	callbacks Callbacks

	// writeMu serializes writes: gorilla connections allow one concurrent writer.
	writeMu sync.Mutex
}

// WSOption customizes the WebSocket transport.
type WSOption func(*WebSocketTransport) error

// WithProxy routes the connection through a SOCKS5 or HTTP/HTTPS proxy.
func WithProxy(proxyURL string) WSOption {
	return func(t *WebSocketTransport) error {
		if proxyURL == "" {
			return nil
		}

		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return fmt.Errorf("invalid proxy URL: %w", err)
		}

		switch parsed.Scheme {
		case "socks5":
			var auth *proxy.Auth
			if parsed.User != nil {
				password, _ := parsed.User.Password()
				auth = &proxy.Auth{
					User:     parsed.User.Username(),
					Password: password,
				}
			}

			socksDialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
			if err != nil {
				return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
			}

			t.dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := socksDialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return socksDialer.Dial(network, addr)
			}
		case "http", "https":
			t.dialer.Proxy = http.ProxyURL(parsed)
		default:
			return fmt.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
		}
		return nil
	}
}

// WithHandshakeTimeout bounds the WebSocket handshake.
func WithHandshakeTimeout(d time.Duration) WSOption {
	return func(t *WebSocketTransport) error {
		t.dialer.HandshakeTimeout = d
		return nil
	}
}

// NewWebSocketTransport creates a WebSocket transport for the given URL.
func NewWebSocketTransport(wsURL string, logger log.Logger, opts ...WSOption) (*WebSocketTransport, error) {
	t := &WebSocketTransport{
		url: wsURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: log.NewHelper(logger),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// SetCallbacks registers the manager's callbacks.
func (t *WebSocketTransport) SetCallbacks(cb Callbacks) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = cb
}

// Connect dials the WebSocket endpoint with the credential as a bearer token.
func (t *WebSocketTransport) Connect(ctx context.Context, credential string) error {
	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("handshake returned %d: %w", resp.StatusCode, pkgerrors.ErrAuthRejected)
		}
		return fmt.Errorf("websocket dial %s: %w", t.url, err)
	}

	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.conn = conn
	cb := t.callbacks
	t.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		if cb.OnPong != nil {
			cb.OnPong()
		}
		return nil
	})

	go t.readPump(conn, cb)
	return nil
}

// readPump reads frames until the connection dies and reports the outcome.
// A normal close code is a clean server-initiated shutdown (nil error).
func (t *WebSocketTransport) readPump(conn *websocket.Conn, cb Callbacks) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()

			if cb.OnDisconnect != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					cb.OnDisconnect(nil)
				} else {
					cb.OnDisconnect(err)
				}
			}
			return
		}

		var msg wireMessage
		if uerr := json.Unmarshal(data, &msg); uerr != nil {
			t.logger.Warnw("msg", "dropping malformed frame",
				"error", uerr.Error(),
				"type", "realtime")
			continue
		}
		if cb.OnEvent != nil {
			cb.OnEvent(msg.Event, msg.Payload)
		}
	}
}

// Send writes one named event frame.
func (t *WebSocketTransport) Send(event string, payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteJSON(&wireMessage{Event: event, Payload: payload})
}

// Ping sends a WebSocket ping control frame.
func (t *WebSocketTransport) Ping() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// Close tears down the connection. Closing a closed transport is a no-op.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	// Best-effort close frame so the server sees a clean shutdown.
	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()

	return conn.Close()
}
