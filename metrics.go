// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"strconv"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "wappsto_client"

// Collector is a prometheus.Collector exposing the JSON-RPC engine counters
//
// Every client owns one, registered or not, so the engine never has to
// check for a nil collector. Register it with WithMetrics.
type Collector struct {
	framesSent      *prometheus.CounterVec
	framesReceived  prometheus.Counter
	timeouts        prometheus.Counter
	errorsReplied   *prometheus.CounterVec
	dispatched      *prometheus.CounterVec
	dropped         prometheus.Counter
	offlineSaved    prometheus.Counter
	offlineResent   prometheus.Counter
	pending         prometheus.Gauge
	requestDuration prometheus.Histogram
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		framesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "frames_sent_total",
				Help:      "The number of requests written, by method.",
			}, []string{"method"},
		),
		framesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_received_total",
				Help:      "The number of wire messages read from the transport.",
			},
		),
		timeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "request_timeouts_total",
				Help:      "The number of requests that got no reply in time.",
			},
		),
		errorsReplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "errors_replied_total",
				Help:      "The number of error frames sent to the server, by JSON-RPC code.",
			}, []string{"code"},
		),
		dispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "calls_dispatched_total",
				Help:      "The number of inbound calls handed to subscribers, by method.",
			}, []string{"method"},
		),
		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "calls_dropped_total",
				Help:      "The number of subscriber callbacks rejected by a full dispatch queue.",
			},
		),
		offlineSaved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "offline_saved_total",
				Help:      "The number of frames handed to offline storage.",
			},
		),
		offlineResent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "offline_resent_total",
				Help:      "The number of stored frames resent after reconnect.",
			},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "pending_requests",
				Help:      "The number of requests awaiting a reply.",
			},
		),
		requestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "The time between writing a request and receiving its reply.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.framesSent.Describe(ch)
	c.framesReceived.Describe(ch)
	c.timeouts.Describe(ch)
	c.errorsReplied.Describe(ch)
	c.dispatched.Describe(ch)
	c.dropped.Describe(ch)
	c.offlineSaved.Describe(ch)
	c.offlineResent.Describe(ch)
	c.pending.Describe(ch)
	c.requestDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.framesSent.Collect(ch)
	c.framesReceived.Collect(ch)
	c.timeouts.Collect(ch)
	c.errorsReplied.Collect(ch)
	c.dispatched.Collect(ch)
	c.dropped.Collect(ch)
	c.offlineSaved.Collect(ch)
	c.offlineResent.Collect(ch)
	c.pending.Collect(ch)
	c.requestDuration.Collect(ch)
}

func (c *Collector) errorReplied(code json2.ErrorCode) {
	c.errorsReplied.WithLabelValues(strconv.Itoa(int(code))).Inc()
}
