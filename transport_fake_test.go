// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

// responder produces the wire messages the fake server sends back for
// one written message; nil means no answer
type responder func(sent []byte) [][]byte

// fakeTransport is an in-memory Transport
//
// Written messages are recorded and handed to respond; its answers are
// queued for Receive. Tests push server calls with inject.
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	respond responder
	closed  chan struct{}

	connectErr   error
	sendErr      error
	reconnectErr error
	connects     int
	reconnects   int
	failedSends  int

	inbound  chan []byte
	sentCh   chan []byte
	connOpen bool
}

func newFakeTransport(respond responder) *fakeTransport {
	return &fakeTransport{
		respond: respond,
		closed:  make(chan struct{}),
		inbound: make(chan []byte, 256),
		sentCh:  make(chan []byte, 256),
	}
}

func (f *fakeTransport) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	if !f.connOpen {
		f.closed = make(chan struct{})
		f.connOpen = true
	}
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.failedSends++
		f.mu.Unlock()
		return err
	}
	if !f.connOpen {
		f.mu.Unlock()
		return ErrNotConnected
	}
	cp := append([]byte(nil), data...)
	f.sent = append(f.sent, cp)
	respond := f.respond
	f.mu.Unlock()

	select {
	case f.sentCh <- cp:
	default:
	}
	if respond != nil {
		for _, reply := range respond(cp) {
			f.inbound <- reply
		}
	}
	return nil
}

func (f *fakeTransport) Receive() ([]byte, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()

	select {
	case data := <-f.inbound:
		if !gjson.ValidBytes(data) {
			return nil, fmt.Errorf("%w: %q", ErrMalformedFrame, data)
		}
		return data, nil
	case <-closed:
		return nil, io.EOF
	}
}

func (f *fakeTransport) Reconnect(ctx context.Context, _ int) error {
	f.mu.Lock()
	f.reconnects++
	err := f.reconnectErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.drop()
	return f.Connect(ctx)
}

func (f *fakeTransport) Close() error {
	f.drop()
	return nil
}

// drop closes the current connection, making Receive return io.EOF
func (f *fakeTransport) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connOpen {
		close(f.closed)
		f.connOpen = false
	}
}

// inject queues a message as if the server had sent it
func (f *fakeTransport) inject(data string) {
	f.inbound <- []byte(data)
}

func (f *fakeTransport) setRespond(r responder) {
	f.mu.Lock()
	f.respond = r
	f.mu.Unlock()
}

func (f *fakeTransport) failed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failedSends
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

// Sent returns a copy of every message written so far
func (f *fakeTransport) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

// waitSent returns the next written message or fails the test
func (f *fakeTransport) waitSent(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-f.sentCh:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a written message")
		return nil
	}
}

// ackAll answers every request that carries an id with result.value true
func ackAll(sent []byte) [][]byte {
	return replyWith(func(gjson.Result) string { return "true" })(sent)
}

// replyWith answers every request with the raw value fn returns for it;
// an empty string leaves the request unanswered
func replyWith(fn func(req gjson.Result) string) responder {
	return func(sent []byte) [][]byte {
		root := gjson.ParseBytes(sent)
		reqs := []gjson.Result{root}
		if root.IsArray() {
			reqs = root.Array()
		}
		var replies [][]byte
		for _, req := range reqs {
			id := req.Get("id")
			if !id.Exists() || !req.Get("method").Exists() {
				continue
			}
			value := fn(req)
			if value == "" {
				continue
			}
			reply := fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":{"value":%s,"meta":{"server_send_time":"2025-01-01T00:00:00.000000Z"}}}`,
				id.Raw, value)
			replies = append(replies, []byte(reply))
		}
		return replies
	}
}

// errorReplyFor builds a JSON-RPC error message for a request id
func errorReplyFor(rawID string, code int, message string) []byte {
	return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"error":{"code":%d,"message":%q}}`, rawID, code, message))
}

// newTestClient creates and connects a client on transport
func newTestClient(t *testing.T, transport *fakeTransport, opts ...func(*Client)) *Client {
	t.Helper()
	c, err := NewClient(transport, opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c
}

// eventually polls cond until it holds or fails the test
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errInjected = errors.New("injected failure")
