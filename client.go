// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
	"gopkg.in/tomb.v2"
)

// Default client configuration values
const (
	DefaultTimeout           = 3 * time.Second
	DefaultConnectTimeout    = 30 * time.Second
	DefaultWorkerCount       = 2
	DefaultQueueSize         = 64
	DefaultReconnectAttempts = -1 // unlimited
	DefaultReconnectDelay    = 5 * time.Second
	DefaultKeepAliveIdle     = 5 * time.Minute
	DefaultKeepAliveInterval = 60 * time.Second
	DefaultKeepAliveCount    = 2
	DefaultResendChunk       = 10
	DefaultResendInterval    = 0
	DefaultPingPeriod        = 0
	DefaultFastSend          = false
	DefaultPrettyPrintLogs   = false
	DefaultBusModule         = "wappsto.bus"
)

// Security limits for JSON processing and logging
const (
	MaxJSONSizeForLogging = 1 * 1024 * 1024 // 1MB limit to prevent ReDoS attacks
	MaxSensitiveFields    = 1000            // Max redaction operations to prevent DoS
)

// Logging message constants
const (
	JSONTooLargeMessage     = "[JSON TOO LARGE FOR LOGGING]"
	JSONTooManySensitiveMsg = "[JSON CONTAINS TOO MANY SENSITIVE FIELDS]"
)

// sensitiveFields are the JSON members whose values never reach the log
var sensitiveFields = []string{"password", "secret", "key", "token", "session"}

// defaultRedactionPatterns matches the sensitive fields, one per entry of sensitiveFields
var defaultRedactionPatterns = func() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(sensitiveFields))
	for _, field := range sensitiveFields {
		patterns = append(patterns, regexp.MustCompile(`"`+field+`"\s*:\s*"[^"]*"`))
	}
	return patterns
}()

// State is the lifecycle state of a Client
type State int32

const (
	// StateIdle is a client that is not connected and may Connect
	StateIdle State = iota

	// StateConnecting covers the initial dial and every reconnect
	StateConnecting

	// StateConnected is the only state in which frames are written
	StateConnected

	// StateClosing is a Disconnect or Close in progress
	StateClosing

	// StateClosed is terminal
	StateClosed
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Client is a JSON-RPC 2.0 client for the Wappsto collector
//
// One Client owns one connection. Requests from any number of goroutines
// are multiplexed over it and matched with their replies by id; calls the
// server makes are routed to the handlers subscribed for the addressed
// object.
type Client struct {
	transport   Transport
	codec       *Codec[Method]
	registry    *Registry
	subscribers *Subscribers
	pool        *Pool
	bus         *StatusBus
	metrics     *Collector
	config      *Config

	state atomic.Int32

	// mu guards the lifecycle: tomb and connCtx
	mu      sync.Mutex
	tomb    *tomb.Tomb
	connCtx context.Context

	// batchMu guards the batch buffer
	batchMu     sync.Mutex
	batchDepth  int
	batchEvents []SendEvent

	// Request configuration
	Timeout  time.Duration
	FastSend bool

	// Dispatch configuration
	WorkerCount int
	QueueSize   int

	// Connection configuration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration
	PingPeriod        time.Duration
	keepAliveIdle     time.Duration
	keepAliveInterval time.Duration
	keepAliveCount    int

	// Offline storage
	ResendChunk    int
	ResendInterval time.Duration
	offline        OfflineStorage
	limiter        *rate.Limiter
	draining       atomic.Bool

	clock      clock.Clock
	registerer prometheus.Registerer
	busModule  string

	// internalSubs are the status bus subscriptions the client made itself
	internalSubs []func()
	closeOnce    sync.Once

	// Logging configuration
	logger            Logger
	prettyPrintLogs   bool
	redactionPatterns []*regexp.Regexp
}

// NewClient creates a client speaking over transport
//
// The client is created idle; call Connect to dial and start the receive
// loop. Use Open to build the TLS transport from a provisioning folder.
//
// Example:
//
//	tlsConfig, _ := wappsto.LoadTLSConfig("ca.crt", "client.crt", "client.key", "")
//	transport := wappsto.NewTLSTransport("collector.wappsto.com:443", tlsConfig)
//	client, err := wappsto.NewClient(transport,
//	    wappsto.WithTimeout(5*time.Second),
//	    wappsto.WorkerCount(4))
//	if err != nil {
//	    log.Fatal(err)  // Configuration error
//	}
//	defer client.Close()
//
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)  // Connection error
//	}
func NewClient(transport Transport, opts ...func(*Client)) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	c, err := newClient(opts...)
	if err != nil {
		return nil, err
	}
	c.transport = transport

	c.logger.Info(context.Background(), "Wappsto client created",
		"timeout", c.Timeout.String(),
		"workers", c.WorkerCount,
		"fast_send", c.FastSend)

	return c, nil
}

// Open loads the provisioning folder, dials the collector and connects
//
// The folder must hold ca.crt, client.crt, client.key and config.json as
// produced by the Wappsto provisioning step.
//
// Example:
//
//	client, err := wappsto.Open(ctx, "./config",
//	    wappsto.WithLogger(wappsto.NewDefaultLogger(wappsto.LogLevelInfo)))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
func Open(ctx context.Context, folder string, opts ...func(*Client)) (*Client, error) {
	if err := checkContextCancellation(ctx); err != nil {
		return nil, err
	}

	cfg, err := LoadConfig(folder)
	if err != nil {
		return nil, err
	}
	tlsConfig, err := cfg.TLSConfig()
	if err != nil {
		return nil, err
	}

	c, err := newClient(opts...)
	if err != nil {
		return nil, err
	}
	c.config = cfg
	c.transport = NewTLSTransport(cfg.HostPort(), tlsConfig,
		TransportKeepAlive(c.keepAliveIdle, c.keepAliveInterval, c.keepAliveCount),
		TransportReconnectDelay(c.ReconnectDelay),
		TransportConnectTimeout(c.ConnectTimeout),
		TransportClock(c.clock),
		TransportLogger(c.logger))

	c.logger.Info(ctx, "Wappsto client created",
		"address", cfg.HostPort(),
		"network", cfg.NetworkUUID)

	if err := c.Connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// newClient applies defaults and options and builds the engine parts
func newClient(opts ...func(*Client)) (*Client, error) {
	c := &Client{
		Timeout:           DefaultTimeout,
		FastSend:          DefaultFastSend,
		WorkerCount:       DefaultWorkerCount,
		QueueSize:         DefaultQueueSize,
		ReconnectAttempts: DefaultReconnectAttempts,
		ReconnectDelay:    DefaultReconnectDelay,
		ConnectTimeout:    DefaultConnectTimeout,
		PingPeriod:        DefaultPingPeriod,
		keepAliveIdle:     DefaultKeepAliveIdle,
		keepAliveInterval: DefaultKeepAliveInterval,
		keepAliveCount:    DefaultKeepAliveCount,
		ResendChunk:       DefaultResendChunk,
		ResendInterval:    DefaultResendInterval,
		clock:             clock.WallClock,
		busModule:         DefaultBusModule,
		logger:            &NoOpLogger{},
		prettyPrintLogs:   DefaultPrettyPrintLogs,
		redactionPatterns: defaultRedactionPatterns,
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.validateConfig(); err != nil {
		return nil, err
	}

	c.codec = NewCodec(ValidMethods...)
	c.metrics = NewMetricsCollector()
	c.registry = NewRegistry(c.codec, c.clock, c.logger)
	c.registry.onChange = func(n int) { c.metrics.pending.Set(float64(n)) }
	c.subscribers = NewSubscribers(c.logger)
	c.bus = NewStatusBus(c.busModule)

	if c.registerer != nil {
		if err := c.registerer.Register(c.metrics); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	// The pool starts goroutines, so it is created last
	c.pool = NewPool(c.WorkerCount, c.QueueSize, c.logger)

	if c.offline != nil {
		c.attachOffline()
	}

	return c, nil
}

// validateConfig validates client configuration
//
// Validates:
//   - Positive timeouts (Timeout, ReconnectDelay, ConnectTimeout > 0)
//   - At least one worker and one queue slot
//   - Non-negative ping period and resend interval
//   - Keep-alive probe count of at least one
//   - Resend chunk of at least one
//
// Returns an error if validation fails.
func (c *Client) validateConfig() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got: %v", c.Timeout)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got: %v", c.ConnectTimeout)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got: %v", c.ReconnectDelay)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1, got: %d", c.WorkerCount)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue size must be at least 1, got: %d", c.QueueSize)
	}
	if c.PingPeriod < 0 {
		return fmt.Errorf("ping period must not be negative, got: %v", c.PingPeriod)
	}
	if c.keepAliveIdle <= 0 || c.keepAliveInterval <= 0 || c.keepAliveCount < 1 {
		return fmt.Errorf("invalid keep-alive: idle %v, interval %v, count %d",
			c.keepAliveIdle, c.keepAliveInterval, c.keepAliveCount)
	}
	if c.ResendChunk < 1 {
		return fmt.Errorf("resend chunk must be at least 1, got: %d", c.ResendChunk)
	}
	if c.ResendInterval < 0 {
		return fmt.Errorf("resend interval must not be negative, got: %v", c.ResendInterval)
	}

	if c.ReconnectAttempts == 0 {
		c.logger.Warn(context.Background(), "Reconnect disabled",
			"consequence", "client closes on the first connection loss")
	}

	return nil
}

// State returns the current lifecycle state
func (c *Client) State() State {
	return State(c.state.Load())
}

// Config returns the provisioning configuration, or nil when the client was
// not created by Open
func (c *Client) Config() *Config {
	return c.config
}

// Connect dials the transport and starts the receive loop
//
// Connect is only valid on an idle client: a new one, or one that was
// Disconnected. A failed dial leaves the client idle so Connect can be
// retried.
func (c *Client) Connect(ctx context.Context) error {
	if err := checkContextCancellation(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		if c.State() == StateClosed {
			return newTransportError("connect", ErrClosed)
		}
		return fmt.Errorf("connect: client is %s", c.State())
	}
	c.bus.Post(StatusConnecting, nil)

	if err := c.transport.Connect(ctx); err != nil {
		c.state.Store(int32(StateIdle))
		c.bus.Post(StatusDisconnected, nil)
		c.logger.Error(ctx, "Connect failed",
			"error", err.Error())
		return newTransportError("connect", err)
	}

	t := &tomb.Tomb{}
	c.tomb = t
	c.connCtx = t.Context(context.Background())

	c.state.Store(int32(StateConnected))

	t.Go(func() error { return c.receiveLoop(t) })
	t.Go(func() error { return c.sweepLoop(t) })
	if c.PingPeriod > 0 {
		t.Go(func() error { return c.pingLoop(t) })
	}

	c.logger.Info(ctx, "Client connected")
	c.bus.Post(StatusConnected, nil)
	return nil
}

// Disconnect closes the connection but preserves the client
//
// Unlike Close(), this method allows the client to be reused: call Connect
// again to redial. Subscriptions and status handlers are kept. Requests
// waiting for a reply run into their timeout.
//
// Example - release the link during a maintenance window:
//
//	client.Disconnect()
//	performMaintenance()
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Thread-safe: safe for concurrent use with other client methods.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.State()
	if state == StateIdle || state == StateClosed {
		return nil
	}
	c.state.Store(int32(StateClosing))
	c.bus.Post(StatusDisconnecting, nil)

	err := c.stopLocked()

	c.state.Store(int32(StateIdle))
	c.bus.Post(StatusDisconnected, nil)
	c.logger.Info(context.Background(), "Client disconnected",
		"reusable", true)
	return err
}

// stopLocked kills the connection goroutines and closes the transport
//
// PRECONDITION: caller holds c.mu.
func (c *Client) stopLocked() error {
	if c.tomb == nil {
		if c.transport == nil {
			return nil
		}
		return c.transport.Close()
	}
	t := c.tomb
	c.tomb = nil

	t.Kill(nil)
	// Closing the transport unblocks Receive
	closeErr := c.transport.Close()
	if err := t.Wait(); err != nil {
		c.logger.Debug(context.Background(), "Connection goroutines ended with error",
			"error", err.Error())
	}
	if closeErr != nil {
		c.logger.Warn(context.Background(), "Transport close returned error",
			"error", closeErr.Error())
	}
	return closeErr
}

// Close shuts the client down (terminal operation).
//
// The connection is closed and the worker pool stops accepting calls.
// Callbacks already queued still run, possibly after Close returns, so
// Close may be called from inside a subscriber callback. Handlers
// registered with OnStatusChange stay subscribed until their cancel
// function is called.
//
// Thread-safe: safe to call multiple times (subsequent calls are no-ops).
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		prev := State(c.state.Swap(int32(StateClosing)))
		if prev == StateConnected || prev == StateConnecting {
			c.bus.Post(StatusDisconnecting, nil)
		}
		err = c.stopLocked()
		c.state.Store(int32(StateClosed))
		c.mu.Unlock()

		c.pool.Shutdown()
		for _, unsubscribe := range c.internalSubs {
			unsubscribe()
		}
		if c.registerer != nil {
			c.registerer.Unregister(c.metrics)
		}

		c.bus.Post(StatusClosed, nil)
		c.logger.Info(context.Background(), "Client closed",
			"reusable", false)
	})
	return err
}

// OnStatusChange calls fn for every event id posted on the status bus
//
// fn runs on a goroutine of its own; events arrive in posting order.
// Call the returned function to unsubscribe.
//
// Example:
//
//	cancel := client.OnStatusChange(wappsto.StatusSendError, func(id wappsto.StatusID, payload any) {
//	    ev := payload.(wappsto.SendEvent)
//	    log.Printf("send of %s failed: %v", ev.URL, ev.Err)
//	})
//	defer cancel()
func (c *Client) OnStatusChange(id StatusID, fn StatusFunc) func() {
	return c.bus.Subscribe(id, fn)
}

// Subscribe registers handler for calls addressed to the object uuid
//
// Handlers for one uuid run in registration order, each on the worker
// pool. Keep the returned Subscription to unsubscribe.
//
// Example:
//
//	sub := client.Subscribe(stateID, func(call wappsto.Call) {
//	    if call.Method == wappsto.MethodPut {
//	        data := gjson.GetBytes(call.Data, "data").String()
//	        setRelay(data == "1")
//	    }
//	})
//	defer client.Unsubscribe(stateID, sub)
func (c *Client) Subscribe(uuid string, handler Handler) *Subscription {
	return c.subscribers.Subscribe(uuid, handler)
}

// Unsubscribe removes a registration made with Subscribe
//
// Returns false when sub is not (or no longer) registered for uuid.
func (c *Client) Unsubscribe(uuid string, sub *Subscription) bool {
	return c.subscribers.Unsubscribe(uuid, sub)
}

// Metrics returns the prometheus collector of the client
func (c *Client) Metrics() *Collector {
	return c.metrics
}

// PendingRequests returns the number of requests awaiting a reply
func (c *Client) PendingRequests() int {
	return c.registry.Len()
}

// connContext returns the context of the current connection, which ends
// on Disconnect or Close
func (c *Client) connContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connCtx == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return c.connCtx
}

// prepareJSONForLogging redacts sensitive data and formats JSON for logging
//
// This method performs security checks and data sanitization:
//  1. Validates JSON size to prevent ReDoS attacks (max 1MB)
//  2. Checks sensitive field count to prevent DoS (max 1000 fields)
//  3. Redacts sensitive data (passwords, secrets, keys, tokens, sessions)
//  4. Pretty-prints JSON if prettyPrintLogs is enabled
//
// Returns the processed JSON string safe for logging.
func (c *Client) prepareJSONForLogging(jsonStr string) string {
	if len(jsonStr) > MaxJSONSizeForLogging {
		return JSONTooLargeMessage
	}

	sensitiveCount := 0
	for _, field := range sensitiveFields {
		sensitiveCount += strings.Count(jsonStr, `"`+field+`"`)
	}
	if sensitiveCount > MaxSensitiveFields {
		c.logger.Warn(context.Background(), "Too many sensitive fields detected",
			"count", sensitiveCount,
			"max", MaxSensitiveFields)
		return JSONTooManySensitiveMsg
	}

	redacted := c.redactSensitiveData(jsonStr)

	if c.prettyPrintLogs {
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(redacted), "", "  "); err == nil {
			return buf.String()
		}
	}

	return redacted
}

// redactSensitiveData replaces sensitive values in JSON with [REDACTED]
//
// Handles flexible whitespace around colons (RFC 8259 compliant).
func (c *Client) redactSensitiveData(json string) string {
	result := json
	for i, pattern := range c.redactionPatterns {
		if i >= len(sensitiveFields) {
			break
		}
		result = pattern.ReplaceAllString(result, `"`+sensitiveFields[i]+`":"[REDACTED]"`)
	}
	return result
}

// checkContextCancellation returns the context error if ctx is already done
func checkContextCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
