// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"github.com/tidwall/gjson"
)

// WebSocketTransport carries the JSON-RPC stream over a WebSocket
//
// Each WebSocket message holds exactly one wire message, so no stream
// splitting is needed. It is an alternative for networks where only
// HTTPS egress is allowed.
//
// Example:
//
//	tlsConfig, _ := wappsto.LoadTLSConfig("ca.crt", "client.crt", "client.key", "")
//	transport := wappsto.NewWebSocketTransport("wss://collector.wappsto.com/services/2.1/websocket/open", tlsConfig)
//	client, _ := wappsto.NewClient(transport)
type WebSocketTransport struct {
	url            string
	dialer         *websocket.Dialer
	header         http.Header
	reconnectDelay time.Duration
	clock          clock.Clock
	logger         Logger

	mu   sync.Mutex
	conn *websocket.Conn

	sendReady sync.Mutex
}

// NewWebSocketTransport creates a transport for a ws:// or wss:// url
func NewWebSocketTransport(url string, tlsConfig *tls.Config, opts ...func(*WebSocketTransport)) *WebSocketTransport {
	t := &WebSocketTransport{
		url: url,
		dialer: &websocket.Dialer{
			TLSClientConfig:  tlsConfig,
			HandshakeTimeout: DefaultConnectTimeout,
		},
		header:         http.Header{},
		reconnectDelay: DefaultReconnectDelay,
		clock:          clock.WallClock,
		logger:         &NoOpLogger{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WebSocketHeader adds a header sent with the upgrade request
func WebSocketHeader(key, value string) func(*WebSocketTransport) {
	return func(t *WebSocketTransport) {
		t.header.Add(key, value)
	}
}

// WebSocketLogger sets the logger of a WebSocketTransport
func WebSocketLogger(logger Logger) func(*WebSocketTransport) {
	return func(t *WebSocketTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WebSocketReconnectDelay sets the fixed delay between reconnect attempts
func WebSocketReconnectDelay(delay time.Duration) func(*WebSocketTransport) {
	return func(t *WebSocketTransport) {
		if delay > 0 {
			t.reconnectDelay = delay
		}
	}
}

// Connect performs the WebSocket handshake
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	t.logger.Info(ctx, "WebSocket connected",
		"url", t.url)
	return nil
}

// Send writes data as one text message
func (t *WebSocketTransport) Send(data []byte) error {
	t.sendReady.Lock()
	defer t.sendReady.Unlock()

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Receive reads the next message
func (t *WebSocketTransport) Receive() ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil, ErrNotConnected
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: websocket message is not JSON", ErrMalformedFrame)
	}
	return data, nil
}

// Reconnect closes the connection and performs the handshake again
func (t *WebSocketTransport) Reconnect(ctx context.Context, attempts int) error {
	_ = t.Close()
	return retryConnect(ctx, t.Connect, attempts, t.reconnectDelay, t.clock, t.logger)
}

// Close sends a close message and closes the connection
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	// WriteControl may run concurrently with Send
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	return conn.Close()
}
