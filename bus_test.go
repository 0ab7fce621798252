// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"sync"
	"testing"
	"time"
)

func TestStatusBusOrder(t *testing.T) {
	bus := NewStatusBus("wappsto.test")

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	stop := bus.Subscribe(StatusSend, func(id StatusID, payload any) {
		if id != StatusSend {
			t.Errorf("id = %s", id)
		}
		mu.Lock()
		got = append(got, payload.(int))
		if len(got) == 5 {
			close(done)
		}
		mu.Unlock()
	})
	defer stop()

	for i := 0; i < 5; i++ {
		bus.Post(StatusSend, i)
	}
	// Other topics are not delivered
	bus.Post(StatusError, 99)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("events not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("events = %v, want posting order", got)
		}
	}
}

func TestStatusBusUnsubscribe(t *testing.T) {
	bus := NewStatusBus("wappsto.test")

	calls := make(chan StatusID, 4)
	stop := bus.Subscribe(StatusConnected, func(id StatusID, _ any) { calls <- id })

	bus.Post(StatusConnected, nil)
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	stop()
	bus.Post(StatusConnected, nil)
	select {
	case id := <-calls:
		t.Errorf("received %s after unsubscribe", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribersRegistry(t *testing.T) {
	s := NewSubscribers(nil)

	var order []string
	first := s.Subscribe("u1", func(Call) { order = append(order, "first") })
	second := s.Subscribe("u1", func(Call) { order = append(order, "second") })
	s.Subscribe("u2", func(Call) { order = append(order, "other") })

	if s.Count("u1") != 2 || s.Count("u2") != 1 || s.Count("u3") != 0 {
		t.Errorf("Count = %d/%d/%d", s.Count("u1"), s.Count("u2"), s.Count("u3"))
	}

	snapshot := s.Handlers("u1")
	if !s.Unsubscribe("u1", first) {
		t.Fatal("Unsubscribe returned false")
	}
	if s.Unsubscribe("u2", second) {
		t.Error("Unsubscribe matched a registration of another uuid")
	}

	// The snapshot taken before still holds both handlers
	for _, h := range snapshot {
		h(Call{UUID: "u1"})
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("snapshot order = %v", order)
	}

	if s.Count("u1") != 1 {
		t.Errorf("Count(u1) = %d after unsubscribe", s.Count("u1"))
	}
	if !s.Unsubscribe("u1", second) || s.Count("u1") != 0 {
		t.Error("last registration not removed")
	}

	// Nobody subscribed: one handler that only logs
	if hs := s.Handlers("u1"); len(hs) != 1 {
		t.Errorf("Handlers(u1) = %d handlers, want the unhandled fallback", len(hs))
	} else {
		hs[0](Call{UUID: "u1", Method: MethodPut, URL: "/state/u1"})
	}
}

func TestSubscribersSameHandlerTwice(t *testing.T) {
	s := NewSubscribers(&NoOpLogger{})

	n := 0
	h := func(Call) { n++ }
	a := s.Subscribe("u", h)
	b := s.Subscribe("u", h)
	if a == b {
		t.Fatal("two subscriptions share a token")
	}
	for _, handler := range s.Handlers("u") {
		handler(Call{})
	}
	if n != 2 {
		t.Errorf("handler ran %d times, want 2", n)
	}
}
