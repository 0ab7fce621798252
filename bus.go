// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"
)

// StatusID names an event published on the status bus
type StatusID string

// Connection events
const (
	StatusConnecting    StatusID = "CONNECTING"
	StatusConnected     StatusID = "CONNECTED"
	StatusDisconnecting StatusID = "DISCONNECTING"
	StatusDisconnected  StatusID = "DISCONNECTED"
	StatusReconnecting  StatusID = "RECONNECTING"
	StatusClosed        StatusID = "CLOSED"
)

// Service events
const (
	// StatusSending is posted before a frame is written
	StatusSending StatusID = "SENDING"

	// StatusSend is posted when a reply confirmed a request
	StatusSend StatusID = "SEND"

	// StatusSendError is posted when a frame could not be delivered; the
	// payload carries the frame so offline storage can keep it
	StatusSendError StatusID = "SENDERROR"

	// StatusError is posted when the server answered with an error
	StatusError StatusID = "ERROR"
)

// SendEvent is the payload of the service events
type SendEvent struct {
	// ID is the request id, empty for batches and notifications
	ID string

	// Method and URL of the request, empty for batches
	Method Method
	URL    string

	// Frame holds the encoded bytes (a JSON array for batches)
	Frame []byte

	// Err is the cause for SENDERROR and ERROR
	Err error
}

// StatusFunc receives status events
//
// payload is a SendEvent for service events and nil for connection events.
type StatusFunc func(id StatusID, payload any)

// StatusBus publishes client events to interested parties
//
// Each subscriber receives events on its own goroutine in the order they
// were posted; a slow subscriber does not hold up the client.
type StatusBus struct {
	hub *pubsub.SimpleHub
}

// NewStatusBus creates a bus that logs through the named loggo module
func NewStatusBus(module string) *StatusBus {
	return &StatusBus{
		hub: pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: loggo.GetLogger(module),
		}),
	}
}

// Post publishes an event
func (b *StatusBus) Post(id StatusID, payload any) {
	_ = b.hub.Publish(string(id), payload)
}

// Subscribe registers fn for id and returns the function that unsubscribes it
func (b *StatusBus) Subscribe(id StatusID, fn StatusFunc) func() {
	return b.hub.Subscribe(string(id), func(topic string, data interface{}) {
		fn(StatusID(topic), data)
	})
}
