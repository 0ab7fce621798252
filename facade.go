// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// Callback names, used as keys of a callbacks set
const (
	eventChange  = "change"
	eventCreate  = "create"
	eventRefresh = "refresh"
	eventDelete  = "delete"
	eventControl = "control"
	eventReport  = "report"
)

// callbacks holds the subscriptions a façade made, one per event
//
// Setting an event again replaces its previous subscription.
type callbacks struct {
	client *Client

	mu   sync.Mutex
	subs map[string]*Subscription
}

func newCallbacks(client *Client) *callbacks {
	return &callbacks{
		client: client,
		subs:   make(map[string]*Subscription),
	}
}

// set subscribes handler to uuid under event
func (cb *callbacks) set(event, uuid string, handler Handler) {
	sub := cb.client.Subscribe(uuid, handler)

	cb.mu.Lock()
	old := cb.subs[event]
	cb.subs[event] = sub
	cb.mu.Unlock()

	if old != nil {
		cb.client.Unsubscribe(old.UUID(), old)
	}
}

// cancel removes the subscription of event
func (cb *callbacks) cancel(event string) bool {
	cb.mu.Lock()
	sub, ok := cb.subs[event]
	delete(cb.subs, event)
	cb.mu.Unlock()

	if !ok {
		return false
	}
	return cb.client.Unsubscribe(sub.UUID(), sub)
}

// cancelAll removes every subscription
func (cb *callbacks) cancelAll() {
	cb.mu.Lock()
	subs := cb.subs
	cb.subs = make(map[string]*Subscription)
	cb.mu.Unlock()

	for _, sub := range subs {
		cb.client.Unsubscribe(sub.UUID(), sub)
	}
}

// isRejected reports whether err is an error reply from the server, as
// opposed to a timeout or a transport failure
func isRejected(err error) bool {
	var wErr *WappstoError
	return errors.As(err, &wErr) && len(wErr.Errors) > 0
}

// isNotFound reports whether err is an empty search result
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// formatData turns a reported or controlled value into state data
func formatData(data any) string {
	switch v := data.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
