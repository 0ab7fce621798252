// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/tidwall/gjson"
)

func newTestRegistry(clk *testclock.Clock) *Registry {
	return NewRegistry(NewCodec(ValidMethods...), clk, nil)
}

func TestRegistryIDs(t *testing.T) {
	r := newTestRegistry(testclock.NewClock(time.Now()))

	frame, data, err := r.NewFrame(MethodPost, Params{URL: "/network"})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	parts := strings.Split(frame.ID, "_")
	if len(parts) != 3 || parts[1] != "POST" || parts[2] != "1" {
		t.Errorf("ID = %q, want <session>_POST_1", frame.ID)
	}
	if gjson.GetBytes(data, "id").String() != frame.ID {
		t.Errorf("encoded id = %s, want %s", gjson.GetBytes(data, "id").Raw, frame.ID)
	}
	if r.Len() != 0 {
		t.Error("NewFrame tracked the request")
	}

	// A second registry gets another session prefix
	other := newTestRegistry(testclock.NewClock(time.Now()))
	otherFrame, _, _ := other.NewFrame(MethodPost, Params{URL: "/network"})
	if strings.Split(otherFrame.ID, "_")[0] == parts[0] {
		t.Errorf("registries share the session prefix %q", parts[0])
	}

	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, _, _ := r.NewFrame(MethodGet, Params{URL: "/network"})
			mu.Lock()
			seen[f.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 100 {
		t.Errorf("%d unique ids out of 100", len(seen))
	}
}

func TestRegistryResolveOnce(t *testing.T) {
	r := newTestRegistry(testclock.NewClock(time.Now()))

	var changes []int
	r.onChange = func(n int) { changes = append(changes, n) }

	results := 0
	frame, _, err := r.CreateRequest(MethodGet, Params{URL: "/network"}, func(res Res) {
		results++
		if res.ID != "x" {
			t.Errorf("res.ID = %q", res.ID)
		}
	}, nil)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if m, ok := r.Method(frame.ID); !ok || m != MethodGet {
		t.Errorf("Method() = %s, %v", m, ok)
	}

	if !r.Resolve(frame.ID, Res{ID: "x"}) {
		t.Fatal("Resolve returned false for a pending id")
	}
	if r.Resolve(frame.ID, Res{ID: "x"}) {
		t.Error("second Resolve returned true")
	}
	if r.Reject(frame.ID, errInjected) {
		t.Error("Reject after Resolve returned true")
	}
	if results != 1 {
		t.Errorf("onResult called %d times, want 1", results)
	}
	if _, ok := r.Method(frame.ID); ok {
		t.Error("Method() still finds a resolved id")
	}
	if len(changes) != 2 || changes[0] != 1 || changes[1] != 0 {
		t.Errorf("onChange calls = %v, want [1 0]", changes)
	}
}

func TestRegistryReject(t *testing.T) {
	r := newTestRegistry(testclock.NewClock(time.Now()))

	var got error
	frame, _, _ := r.CreateRequest(MethodPut, Params{URL: "/state/x"}, nil, func(err error) { got = err })
	if !r.Reject(frame.ID, errInjected) {
		t.Fatal("Reject returned false")
	}
	if !errors.Is(got, errInjected) {
		t.Errorf("onError got %v", got)
	}

	// Nil callbacks are allowed
	frame, _, _ = r.CreateRequest(MethodPut, Params{URL: "/state/x"}, nil, nil)
	if !r.Resolve(frame.ID, Res{}) {
		t.Error("Resolve with nil callback returned false")
	}
}

func TestRegistryDiscard(t *testing.T) {
	r := newTestRegistry(testclock.NewClock(time.Now()))

	called := false
	frame, _, _ := r.CreateRequest(MethodGet, Params{URL: "/network"}, func(Res) { called = true }, nil)
	if !r.Discard(frame.ID) {
		t.Fatal("Discard returned false")
	}
	if r.Resolve(frame.ID, Res{}) {
		t.Error("Resolve after Discard returned true")
	}
	if called {
		t.Error("callback ran for a discarded id")
	}
}

func TestRegistryExpire(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	r := newTestRegistry(clk)

	old, _, _ := r.CreateRequest(MethodGet, Params{URL: "/a"}, nil, nil)
	short, _, _ := r.createRequest(MethodGet, Params{URL: "/b"}, time.Second, nil, nil)
	clk.Advance(2 * time.Second)
	fresh, _, _ := r.CreateRequest(MethodGet, Params{URL: "/c"}, nil, nil)
	clk.Advance(2 * time.Second)

	// old is 4s, short 4s with its own 1s limit, fresh 2s
	expired := r.Expire(3 * time.Second)
	ids := map[string]bool{}
	for _, e := range expired {
		ids[e.id] = true
	}
	if len(expired) != 2 || !ids[old.ID] || !ids[short.ID] {
		t.Errorf("expired = %v, want %s and %s", ids, old.ID, short.ID)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if _, ok := r.Method(fresh.ID); !ok {
		t.Error("fresh entry was expired")
	}
	if got := r.Expire(3 * time.Second); len(got) != 0 {
		t.Errorf("second Expire returned %d entries", len(got))
	}
}

func TestRegistryHeldEntriesExpireOnceArmed(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	r := newTestRegistry(clk)

	frame, data, err := r.NewFrame(MethodPut, Params{URL: "/state/a"})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	r.hold(frame, data, time.Second, nil, nil)

	clk.Advance(10 * time.Second)
	if got := r.Expire(time.Second); len(got) != 0 {
		t.Fatalf("held entry expired before it was written")
	}

	r.Arm(frame.ID, "unknown")
	clk.Advance(500 * time.Millisecond)
	if got := r.Expire(time.Second); len(got) != 0 {
		t.Fatalf("armed entry expired before its ttl")
	}
	clk.Advance(time.Second)
	if got := r.Expire(time.Second); len(got) != 1 || got[0].id != frame.ID {
		t.Errorf("Expire() = %v, want the armed entry", got)
	}
}

func TestRegistryCallbackPanic(t *testing.T) {
	r := newTestRegistry(testclock.NewClock(time.Now()))
	frame, _, _ := r.CreateRequest(MethodGet, Params{URL: "/network"}, func(Res) { panic("boom") }, nil)

	if !r.Resolve(frame.ID, Res{}) {
		t.Error("Resolve returned false")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after a panicking callback", r.Len())
	}
}
