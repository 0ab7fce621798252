// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"
	"encoding/json"
	"sync"
)

// Call is an inbound method call routed to the subscribers of one object
type Call struct {
	// UUID is the object the call addresses (last segment of URL)
	UUID string

	// Method is the JSON-RPC method the server used
	Method Method

	// URL is params.url as received
	URL string

	// Data is params.data as received, nil when absent
	Data json.RawMessage
}

// Handler is invoked for every Call addressed to a subscribed uuid
type Handler func(Call)

// Subscription identifies one registration of a Handler
//
// Go functions cannot be compared, so Subscribe hands out a token that
// Unsubscribe uses to find the registration again. Subscribing the same
// handler twice yields two tokens and two invocations per call.
type Subscription struct {
	uuid    string
	handler Handler
}

// UUID returns the object uuid of the subscription
func (s *Subscription) UUID() string {
	return s.uuid
}

// Subscribers maps object uuids to their ordered handlers
type Subscribers struct {
	mu       sync.RWMutex
	handlers map[string][]*Subscription
	logger   Logger
}

// NewSubscribers creates an empty subscriber registry
func NewSubscribers(logger Logger) *Subscribers {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Subscribers{
		handlers: make(map[string][]*Subscription),
		logger:   logger,
	}
}

// Subscribe appends handler to the list of uuid
func (s *Subscribers) Subscribe(uuid string, handler Handler) *Subscription {
	sub := &Subscription{uuid: uuid, handler: handler}
	s.mu.Lock()
	s.handlers[uuid] = append(s.handlers[uuid], sub)
	s.mu.Unlock()
	return sub
}

// Unsubscribe removes the first registration matching sub
//
// Returns false when sub is not registered for uuid.
func (s *Subscribers) Unsubscribe(uuid string, sub *Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.handlers[uuid]
	for i, candidate := range list {
		if candidate != sub {
			continue
		}
		// Copy so snapshots taken by Handlers stay intact
		next := make([]*Subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(s.handlers, uuid)
		} else {
			s.handlers[uuid] = next
		}
		return true
	}
	return false
}

// Handlers returns a snapshot of the handlers of uuid in registration order
//
// When nobody subscribed, the snapshot holds a single handler that logs the
// unhandled call.
func (s *Subscribers) Handlers(uuid string) []Handler {
	s.mu.RLock()
	list := s.handlers[uuid]
	out := make([]Handler, 0, len(list))
	for _, sub := range list {
		out = append(out, sub.handler)
	}
	s.mu.RUnlock()

	if len(out) == 0 {
		out = append(out, s.unhandled)
	}
	return out
}

// Count returns the number of handlers registered for uuid
func (s *Subscribers) Count(uuid string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers[uuid])
}

func (s *Subscribers) unhandled(call Call) {
	s.logger.Warn(context.Background(), "Unhandled call",
		"uuid", call.UUID,
		"method", string(call.Method),
		"url", call.URL)
}
