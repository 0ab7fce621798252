// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
)

// Transport is the duplex byte stream the client speaks JSON-RPC over
//
// Send may be called from many goroutines; implementations serialize
// writes. Receive is only called from the client's receive loop and returns
// one complete JSON value per call.
type Transport interface {
	// Connect establishes the connection
	Connect(ctx context.Context) error

	// Send writes one wire message
	Send(data []byte) error

	// Receive blocks until a complete JSON value arrived
	//
	// A value that is not valid JSON is reported as ErrMalformedFrame and
	// the stream stays usable.
	Receive() ([]byte, error)

	// Reconnect drops the current connection and dials again, retrying up to
	// attempts times (negative means unlimited, zero means a single try)
	Reconnect(ctx context.Context, attempts int) error

	// Close releases the connection; Receive then returns an error
	Close() error
}

// frameReader splits a byte stream into JSON values
//
// A truncated value simply waits for more bytes. A syntax error discards
// what is buffered and starts over, since the stream has no other framing
// to resynchronize on.
type frameReader struct {
	src io.Reader
	dec *json.Decoder
}

func newFrameReader(src io.Reader) *frameReader {
	return &frameReader{src: src, dec: json.NewDecoder(src)}
}

// Next returns the next complete JSON value
func (f *frameReader) Next() ([]byte, error) {
	var raw json.RawMessage
	err := f.dec.Decode(&raw)
	if err == nil {
		return raw, nil
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		f.dec = json.NewDecoder(f.src)
		return nil, fmt.Errorf("%w: %s", ErrMalformedFrame, syntaxErr.Error())
	}
	return nil, err
}

// TLSTransport connects to the Wappsto collector with mutual TLS
type TLSTransport struct {
	address        string
	tlsConfig      *tls.Config
	dialTimeout    time.Duration
	keepAlive      net.KeepAliveConfig
	reconnectDelay time.Duration
	clock          clock.Clock
	logger         Logger

	// mu guards conn and reader
	mu     sync.Mutex
	conn   net.Conn
	reader *frameReader

	// sendReady serializes writes to the socket
	sendReady sync.Mutex
}

// NewTLSTransport creates a transport for address (host:port)
//
// Nothing is dialed until Connect. Options are applied in order; unset
// values fall back to the Default* constants.
func NewTLSTransport(address string, tlsConfig *tls.Config, opts ...func(*TLSTransport)) *TLSTransport {
	t := &TLSTransport{
		address:     address,
		tlsConfig:   tlsConfig,
		dialTimeout: DefaultConnectTimeout,
		keepAlive: net.KeepAliveConfig{
			Enable:   true,
			Idle:     DefaultKeepAliveIdle,
			Interval: DefaultKeepAliveInterval,
			Count:    DefaultKeepAliveCount,
		},
		reconnectDelay: DefaultReconnectDelay,
		clock:          clock.WallClock,
		logger:         &NoOpLogger{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TransportKeepAlive sets the TCP keep-alive probes of a TLSTransport
func TransportKeepAlive(idle, interval time.Duration, count int) func(*TLSTransport) {
	return func(t *TLSTransport) {
		t.keepAlive = net.KeepAliveConfig{
			Enable:   true,
			Idle:     idle,
			Interval: interval,
			Count:    count,
		}
	}
}

// TransportReconnectDelay sets the fixed delay between reconnect attempts
func TransportReconnectDelay(delay time.Duration) func(*TLSTransport) {
	return func(t *TLSTransport) {
		if delay > 0 {
			t.reconnectDelay = delay
		}
	}
}

// TransportConnectTimeout bounds a single dial
func TransportConnectTimeout(timeout time.Duration) func(*TLSTransport) {
	return func(t *TLSTransport) {
		if timeout > 0 {
			t.dialTimeout = timeout
		}
	}
}

// TransportLogger sets the logger of a TLSTransport
func TransportLogger(logger Logger) func(*TLSTransport) {
	return func(t *TLSTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// TransportClock sets the clock used between reconnect attempts
func TransportClock(clk clock.Clock) func(*TLSTransport) {
	return func(t *TLSTransport) {
		if clk != nil {
			t.clock = clk
		}
	}
}

// Address returns the host:port the transport dials
func (t *TLSTransport) Address() string {
	return t.address
}

// Connect dials the collector and completes the TLS handshake
func (t *TLSTransport) Connect(ctx context.Context) error {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{
			Timeout:         t.dialTimeout,
			KeepAliveConfig: t.keepAlive,
		},
		Config: t.tlsConfig,
	}

	t.logger.Debug(ctx, "Dialing collector",
		"address", t.address)

	conn, err := dialer.DialContext(ctx, "tcp", t.address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.address, err)
	}

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.reader = newFrameReader(conn)
	t.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	t.logger.Info(ctx, "Connected to collector",
		"address", t.address)
	return nil
}

// Send writes data to the socket
func (t *TLSTransport) Send(data []byte) error {
	t.sendReady.Lock()
	defer t.sendReady.Unlock()

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Receive reads the next JSON value from the socket
func (t *TLSTransport) Receive() ([]byte, error) {
	t.mu.Lock()
	reader := t.reader
	t.mu.Unlock()

	if reader == nil {
		return nil, ErrNotConnected
	}
	return reader.Next()
}

// Reconnect closes the socket and dials again with a fixed delay between
// attempts
func (t *TLSTransport) Reconnect(ctx context.Context, attempts int) error {
	t.dropConn()
	return retryConnect(ctx, t.Connect, attempts, t.reconnectDelay, t.clock, t.logger)
}

// Close closes the socket
func (t *TLSTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.reader = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (t *TLSTransport) dropConn() {
	if err := t.Close(); err != nil {
		t.logger.Debug(context.Background(), "Closing broken connection returned error",
			"error", err.Error())
	}
}

// retryConnect calls connect until it succeeds, attempts run out or ctx ends
//
// attempts < 0 retries forever; attempts == 0 tries exactly once.
func retryConnect(ctx context.Context, connect func(context.Context) error, attempts int, delay time.Duration, clk clock.Clock, logger Logger) error {
	if attempts == 0 {
		return connect(ctx)
	}
	if attempts < 0 {
		attempts = retry.UnlimitedAttempts
	}
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return connect(ctx)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Warn(ctx, "Reconnect attempt failed",
				"attempt", attempt,
				"error", err.Error())
		},
		Attempts: attempts,
		Delay:    delay,
		Clock:    clk,
		Stop:     ctx.Done(),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return retry.LastError(err)
	}
	return nil
}

// LoadTLSConfig builds a mutual-TLS configuration from PEM files
//
// serverName is checked against the collector certificate; pass "" to use
// the dialed host name. Errors name only the file, not its full path.
func LoadTLSConfig(caFile, certFile, keyFile, serverName string) (*tls.Config, error) {
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate %s: %w", filepath.Base(caFile), errors.Unwrap(err))
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("CA certificate %s contains no PEM certificates", filepath.Base(caFile))
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load client key pair %s/%s: %w",
			filepath.Base(certFile), filepath.Base(keyFile), err)
	}

	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
