// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/rs/xid"
)

// pending is a correlation entry for a request awaiting its reply
type pending struct {
	id        string
	method    Method
	url       string
	frame     []byte
	onResult  func(Res)
	onError   func(error)
	createdAt time.Time

	// ttl overrides the sweep age when set
	ttl time.Duration

	// queued entries wait for their frame to be written and never expire
	queued bool
}

// Registry generates request ids and correlates replies with callers
//
// Every entry is removed before its callback runs, so a callback fires at
// most once no matter how many replies carry its id.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*pending

	prefix  string
	counter atomic.Uint64

	codec  *Codec[Method]
	clock  clock.Clock
	logger Logger

	// onChange reports the number of pending entries, used for metrics
	onChange func(int)
}

// NewRegistry creates a Registry with a fresh session prefix
//
// Ids take the form <session>_<METHOD>_<n>, where session is unique per
// Registry so ids never repeat across reconnects or restarts.
func NewRegistry(codec *Codec[Method], clk clock.Clock, logger Logger) *Registry {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Registry{
		entries: make(map[string]*pending),
		prefix:  xid.New().String(),
		codec:   codec,
		clock:   clk,
		logger:  logger,
	}
}

// nextID returns a fresh id for method
func (r *Registry) nextID(method Method) string {
	return fmt.Sprintf("%s_%s_%d", r.prefix, method, r.counter.Add(1))
}

// CreateRequest allocates an id, stores the callbacks and encodes the frame
//
// Either callback may be nil. The returned bytes are ready to be written.
func (r *Registry) CreateRequest(method Method, params Params, onResult func(Res), onError func(error)) (Frame, []byte, error) {
	return r.createRequest(method, params, 0, onResult, onError)
}

// createRequest is CreateRequest with a per-entry sweep age
func (r *Registry) createRequest(method Method, params Params, ttl time.Duration, onResult func(Res), onError func(error)) (Frame, []byte, error) {
	frame, data, err := r.NewFrame(method, params)
	if err != nil {
		return Frame{}, nil, err
	}
	r.track(frame, data, ttl, onResult, onError)
	return frame, data, nil
}

// track stores the correlation entry of a frame made by NewFrame
func (r *Registry) track(frame Frame, data []byte, ttl time.Duration, onResult func(Res), onError func(error)) {
	r.store(frame, data, ttl, false, onResult, onError)
}

// hold stores an entry whose sweep age starts only once Arm is called
func (r *Registry) hold(frame Frame, data []byte, ttl time.Duration, onResult func(Res), onError func(error)) {
	r.store(frame, data, ttl, true, onResult, onError)
}

func (r *Registry) store(frame Frame, data []byte, ttl time.Duration, queued bool, onResult func(Res), onError func(error)) {
	r.mu.Lock()
	r.entries[frame.ID] = &pending{
		id:        frame.ID,
		method:    frame.Method,
		url:       frame.Params.URL,
		frame:     data,
		onResult:  onResult,
		onError:   onError,
		createdAt: r.clock.Now(),
		ttl:       ttl,
		queued:    queued,
	}
	n := len(r.entries)
	r.mu.Unlock()
	r.changed(n)
}

// Arm starts the sweep age of held entries
//
// Called once their frame is on the wire. Unknown ids are ignored.
func (r *Registry) Arm(ids ...string) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if entry, ok := r.entries[id]; ok && entry.queued {
			entry.queued = false
			entry.createdAt = now
		}
	}
}

// NewFrame allocates an id and encodes a request without tracking it
//
// Used for reply-suppressed sends, where no reply will ever arrive.
func (r *Registry) NewFrame(method Method, params Params) (Frame, []byte, error) {
	id := r.nextID(method)
	frame := Frame{
		Kind:   KindRequest,
		ID:     id,
		RawID:  quoteID(id),
		Method: method,
		Params: params,
	}

	data, err := r.codec.EncodeRequest(id, method, params)
	if err != nil {
		return Frame{}, nil, fmt.Errorf("encode %s %s: %w", method, params.URL, err)
	}
	return frame, data, nil
}

// take removes and returns the entry for id
func (r *Registry) take(id string) (*pending, bool) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	n := len(r.entries)
	r.mu.Unlock()
	if ok {
		r.changed(n)
	}
	return entry, ok
}

// Resolve hands res to the success callback of id
//
// Returns false when id is unknown (already resolved, expired or never
// issued); such replies are logged at debug and dropped.
func (r *Registry) Resolve(id string, res Res) bool {
	entry, ok := r.take(id)
	if !ok {
		r.logger.Debug(context.Background(), "Dropping result for unknown request id",
			"id", id)
		return false
	}
	if entry.onResult != nil {
		r.invoke(entry, func() { entry.onResult(res) })
	}
	return true
}

// Reject hands err to the error callback of id
func (r *Registry) Reject(id string, err error) bool {
	entry, ok := r.take(id)
	if !ok {
		r.logger.Debug(context.Background(), "Dropping error for unknown request id",
			"id", id,
			"error", err.Error())
		return false
	}
	if entry.onError != nil {
		r.invoke(entry, func() { entry.onError(err) })
	}
	return true
}

// Discard removes id without invoking any callback
//
// A waiting caller that gives up uses it so a late reply is ignored.
// Returns false if the reply already claimed the entry.
func (r *Registry) Discard(id string) bool {
	_, ok := r.take(id)
	return ok
}

// Expire removes every entry older than maxAge and returns them
//
// Entries created with their own sweep age use it instead of maxAge;
// held entries that were never armed are skipped. Callbacks are not invoked; the caller decides how to report them.
func (r *Registry) Expire(maxAge time.Duration) []*pending {
	now := r.clock.Now()

	r.mu.Lock()
	var expired []*pending
	for id, entry := range r.entries {
		if entry.queued {
			continue
		}
		limit := maxAge
		if entry.ttl > 0 {
			limit = entry.ttl
		}
		if now.Sub(entry.createdAt) > limit {
			expired = append(expired, entry)
			delete(r.entries, id)
		}
	}
	n := len(r.entries)
	r.mu.Unlock()

	if len(expired) > 0 {
		r.changed(n)
	}
	return expired
}

// Len returns the number of pending entries
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Method returns the method of a pending id
func (r *Registry) Method(id string) (Method, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return "", false
	}
	return entry.method, true
}

func (r *Registry) changed(n int) {
	if r.onChange != nil {
		r.onChange(n)
	}
}

// invoke runs a callback, recovering and logging a panic
func (r *Registry) invoke(entry *pending, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error(context.Background(), "Reply callback panicked",
				"id", entry.id,
				"method", string(entry.method),
				"panic", p)
		}
	}()
	fn()
}
