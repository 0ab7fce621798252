// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func TestBatchWritesOneArray(t *testing.T) {
	transport := newFakeTransport(ackAll)
	c := newTestClient(t, transport)

	confirmed := make(chan SendEvent, 3)
	cancel := c.OnStatusChange(StatusSend, func(_ StatusID, payload any) {
		confirmed <- payload.(SendEvent)
	})
	defer cancel()

	err := c.Batch(context.Background(), func() error {
		for i := 0; i < 3; i++ {
			res, err := c.SendRequest(context.Background(), MethodPut, "/state/"+testStateID,
				Body{}.Set("data", fmt.Sprint(i)))
			if err != nil {
				return err
			}
			if !res.Batched {
				t.Errorf("request %d not batched", i)
			}
		}
		if n := len(transport.Sent()); n != 0 {
			t.Errorf("%d messages written before the batch closed", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}

	sent := transport.Sent()
	if len(sent) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(sent))
	}
	batch := gjson.ParseBytes(sent[0])
	if !batch.IsArray() || len(batch.Array()) != 3 {
		t.Fatalf("batch = %s", batch.Raw)
	}
	for i, el := range batch.Array() {
		if got := el.Get("params.data.data").String(); got != fmt.Sprint(i) {
			t.Errorf("element %d data = %q, order not kept", i, got)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case <-confirmed:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d SEND events for the batched replies", i)
		}
	}
	eventually(t, "empty registry", func() bool { return c.PendingRequests() == 0 })
}

func TestBatchNested(t *testing.T) {
	transport := newFakeTransport(nil)
	c := newTestClient(t, transport, FastSend(true))

	c.BeginBatch()
	if !c.InBatch() {
		t.Fatal("InBatch() = false after BeginBatch")
	}
	_ = c.SendNoReply(context.Background(), MethodPut, "/state/a", Body{}.Set("data", "1"))

	c.BeginBatch()
	_ = c.SendNoReply(context.Background(), MethodPut, "/state/b", Body{}.Set("data", "2"))
	if err := c.EndBatch(context.Background()); err != nil {
		t.Fatalf("inner EndBatch: %v", err)
	}
	if n := len(transport.Sent()); n != 0 {
		t.Fatalf("inner EndBatch flushed %d messages", n)
	}

	if err := c.EndBatch(context.Background()); err != nil {
		t.Fatalf("outer EndBatch: %v", err)
	}
	if c.InBatch() {
		t.Error("InBatch() = true after the outer EndBatch")
	}

	sent := transport.Sent()
	if len(sent) != 1 || len(gjson.ParseBytes(sent[0]).Array()) != 2 {
		t.Fatalf("sent = %q", sent)
	}
}

func TestBatchAcrossGoroutines(t *testing.T) {
	transport := newFakeTransport(nil)
	c := newTestClient(t, transport, FastSend(true))

	err := c.Batch(context.Background(), func() error {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = c.SendNoReply(context.Background(), MethodPut, fmt.Sprintf("/state/%d", i), nil)
			}(i)
		}
		wg.Wait()
		return nil
	})
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	sent := transport.Sent()
	if len(sent) != 1 || len(gjson.ParseBytes(sent[0]).Array()) != 10 {
		t.Fatalf("sent %d messages, want one array of 10", len(sent))
	}
}

func TestBatchEmpty(t *testing.T) {
	transport := newFakeTransport(nil)
	c := newTestClient(t, transport)

	if err := c.Batch(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if n := len(transport.Sent()); n != 0 {
		t.Errorf("empty batch wrote %d messages", n)
	}
}

func TestBatchReturnsBothErrors(t *testing.T) {
	transport := newFakeTransport(nil)
	c := newTestClient(t, transport, FastSend(true))
	transport.setSendErr(errInjected)

	fnErr := errors.New("reading sensor failed")
	err := c.Batch(context.Background(), func() error {
		_ = c.SendNoReply(context.Background(), MethodPut, "/state/a", nil)
		return fnErr
	})
	if !errors.Is(err, fnErr) {
		t.Errorf("Batch error %v does not wrap the callback error", err)
	}
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Batch error %v does not wrap the flush error", err)
	}
}

func TestBatchFailedFlushPostsWholeArray(t *testing.T) {
	transport := newFakeTransport(nil)
	c := newTestClient(t, transport, FastSend(true))

	events := make(chan SendEvent, 4)
	cancel := c.OnStatusChange(StatusSendError, func(_ StatusID, payload any) {
		events <- payload.(SendEvent)
	})
	defer cancel()

	transport.setSendErr(errInjected)
	_ = c.Batch(context.Background(), func() error {
		_ = c.SendNoReply(context.Background(), MethodPut, "/state/a", nil)
		_ = c.SendNoReply(context.Background(), MethodPut, "/state/b", nil)
		return nil
	})

	select {
	case ev := <-events:
		if n := len(gjson.ParseBytes(ev.Frame).Array()); n != 2 {
			t.Errorf("SENDERROR frame holds %d requests, want 2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no SENDERROR event")
	}
	select {
	case ev := <-events:
		t.Errorf("unexpected second SENDERROR: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBatchFailedFlushStoredOnce(t *testing.T) {
	store := &memStorage{}
	transport := newFakeTransport(nil)
	c := newTestClient(t, transport, WithTimeout(50*time.Millisecond), WithOfflineStorage(store))

	var (
		mu       sync.Mutex
		failures []SendEvent
	)
	cancel := c.OnStatusChange(StatusSendError, func(_ StatusID, payload any) {
		mu.Lock()
		failures = append(failures, payload.(SendEvent))
		mu.Unlock()
	})
	defer cancel()

	transport.setSendErr(errInjected)
	_ = c.Batch(context.Background(), func() error {
		_ = c.SendNoReply(context.Background(), MethodPut, "/state/a", Body{}.Set("data", "a"))
		_ = c.SendNoReply(context.Background(), MethodPut, "/state/b", Body{}.Set("data", "b"))
		return nil
	})

	eventually(t, "stored batch", func() bool { return store.Len() >= 1 })
	// Several sweeps at twice the timeout
	time.Sleep(400 * time.Millisecond)

	if n := c.PendingRequests(); n != 0 {
		t.Errorf("pending requests = %d after failed flush, want 0", n)
	}
	store.mu.Lock()
	items := append([]string(nil), store.items...)
	store.mu.Unlock()
	if len(items) != 1 {
		t.Fatalf("stored %d items, want 1: %v", len(items), items)
	}
	if n := len(gjson.Parse(items[0]).Array()); n != 2 {
		t.Errorf("stored item holds %d requests, want 2", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 1 {
		t.Errorf("got %d SENDERROR events, want 1", len(failures))
	}
}

func TestBatchHeldOpenDoesNotExpire(t *testing.T) {
	store := &memStorage{}
	transport := newFakeTransport(ackAll)
	c := newTestClient(t, transport, WithTimeout(50*time.Millisecond), WithOfflineStorage(store))

	sendErrors := make(chan SendEvent, 4)
	cancel := c.OnStatusChange(StatusSendError, func(_ StatusID, payload any) {
		sendErrors <- payload.(SendEvent)
	})
	defer cancel()

	err := c.Batch(context.Background(), func() error {
		if err := c.SendNoReply(context.Background(), MethodPut, "/state/a", nil); err != nil {
			return err
		}
		// Longer than twice the timeout
		time.Sleep(300 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}

	eventually(t, "reply to the batch", func() bool { return c.PendingRequests() == 0 })
	select {
	case ev := <-sendErrors:
		t.Errorf("unexpected SENDERROR for %s: %v", ev.ID, ev.Err)
	case <-time.After(200 * time.Millisecond):
	}
	if n := store.Len(); n != 0 {
		t.Errorf("stored %d items, want 0", n)
	}
}

func TestEndBatchWithoutBegin(t *testing.T) {
	c := newTestClient(t, newFakeTransport(nil))
	if err := c.EndBatch(context.Background()); err == nil {
		t.Error("expected error for unmatched EndBatch")
	}
}
