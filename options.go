// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
)

// Client configuration options using the functional options pattern

// WithTimeout sets how long a request waits for its reply (default: 3s)
func WithTimeout(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.Timeout = duration
	}
}

// FastSend enables reply-suppressed mode for POST, PUT and DELETE (default: false)
//
// In fast mode the server does not answer, so requests return as soon as
// the frame is written. GET and HEAD are never sent in fast mode.
func FastSend(enabled bool) func(*Client) {
	return func(c *Client) {
		c.FastSend = enabled
	}
}

// WorkerCount sets the number of goroutines running subscriber callbacks (default: 2)
func WorkerCount(workers int) func(*Client) {
	return func(c *Client) {
		c.WorkerCount = workers
	}
}

// QueueSize sets how many callbacks may wait for a worker (default: 64)
//
// Inbound calls that find the queue full are answered with an error.
func QueueSize(size int) func(*Client) {
	return func(c *Client) {
		c.QueueSize = size
	}
}

// ReconnectAttempts sets how often the receive loop redials after the
// connection broke (default: unlimited)
//
// A negative value retries forever, zero gives up after the first failed
// redial, after which the client is closed.
func ReconnectAttempts(attempts int) func(*Client) {
	return func(c *Client) {
		c.ReconnectAttempts = attempts
	}
}

// ReconnectDelay sets the fixed delay between redials (default: 5s)
//
// Applies to the transport created by Open.
func ReconnectDelay(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.ReconnectDelay = duration
	}
}

// ConnectTimeout bounds a single dial of the transport created by Open (default: 30s)
func ConnectTimeout(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.ConnectTimeout = duration
	}
}

// KeepAlive sets the TCP keep-alive probes of the transport created by Open
// (default: idle 5m, interval 60s, 2 probes)
func KeepAlive(idle, interval time.Duration, count int) func(*Client) {
	return func(c *Client) {
		c.keepAliveIdle = idle
		c.keepAliveInterval = interval
		c.keepAliveCount = count
	}
}

// PingPeriod enables a periodic HEAD /network request (default: 0, disabled)
//
// Some networks drop idle TLS sessions well before TCP keep-alive notices;
// the ping keeps traffic flowing and surfaces a dead link early.
func PingPeriod(period time.Duration) func(*Client) {
	return func(c *Client) {
		c.PingPeriod = period
	}
}

// WithOfflineStorage keeps frames that could not be delivered and resends
// them after the connection is back
//
// Example:
//
//	store, _ := offline.NewFileStorage("./offline")
//	client, _ := wappsto.Open(ctx, "./config", wappsto.WithOfflineStorage(store))
func WithOfflineStorage(storage OfflineStorage) func(*Client) {
	return func(c *Client) {
		c.offline = storage
	}
}

// ResendChunk sets how many stored frames are loaded at a time (default: 10)
func ResendChunk(n int) func(*Client) {
	return func(c *Client) {
		c.ResendChunk = n
	}
}

// ResendInterval sets the minimum gap between resent frames (default: 0, no pacing)
func ResendInterval(interval time.Duration) func(*Client) {
	return func(c *Client) {
		c.ResendInterval = interval
	}
}

// WithMetrics registers the client's collector with reg
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	client, _ := wappsto.Open(ctx, "./config", wappsto.WithMetrics(reg))
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
func WithMetrics(reg prometheus.Registerer) func(*Client) {
	return func(c *Client) {
		c.registerer = reg
	}
}

// WithClock replaces the wall clock, mainly for tests
func WithClock(clk clock.Clock) func(*Client) {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger configures a custom logger for the client
//
// By default, the client uses NoOpLogger which discards all log messages.
// Use this option to enable logging with DefaultLogger, LoggoLogger or a
// custom logger.
//
// All JSON content logged at Debug level is automatically redacted to remove
// sensitive data (passwords, secrets, keys, tokens).
//
// Example (DefaultLogger):
//
//	logger := wappsto.NewDefaultLogger(wappsto.LogLevelInfo)
//	client, _ := wappsto.Open(ctx, "./config", wappsto.WithLogger(logger))
//
// Example (loggo):
//
//	client, _ := wappsto.Open(ctx, "./config",
//	    wappsto.WithLogger(wappsto.NewLoggoLogger("wappsto")))
func WithLogger(logger Logger) func(*Client) {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPrettyPrintLogs enables/disables JSON pretty printing in logs
//
// When enabled, frames in debug logs are indented for readability.
//
// Default: disabled (false)
func WithPrettyPrintLogs(enabled bool) func(*Client) {
	return func(c *Client) {
		c.prettyPrintLogs = enabled
	}
}

// StatusBusModule sets the loggo module the status bus reports through
// (default: "wappsto.bus")
func StatusBusModule(module string) func(*Client) {
	return func(c *Client) {
		if module != "" {
			c.busModule = module
		}
	}
}
