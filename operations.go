// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// outcome is what a waiting caller receives from the reply callbacks
type outcome struct {
	res Res
	err error
}

// SendRequest sends a request and waits for its reply
//
// The call returns when the reply arrives, the timeout passes (default 3s,
// see WithTimeout and Timeout) or ctx is done, whichever comes first. On
// timeout a SENDERROR event carrying the frame is posted so offline storage
// can keep it; the frame already written is not retracted and a late reply
// is ignored.
//
// data may be nil, a Body, json.RawMessage, []byte holding JSON, or any
// value encoding/json can marshal.
//
// Inside an open batch the frame is queued and SendRequest returns at once
// with Res.Batched set. In fast mode (POST, PUT, DELETE only) the server
// does not reply and SendRequest returns once the frame is written.
//
// Example:
//
//	body := wappsto.Body{}.
//	    Set("meta.id", deviceID).
//	    Set("name", "Sensor")
//	res, err := client.SendRequest(ctx, wappsto.MethodPost, "/network/"+nid+"/device/", body)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Value().Bool())
func (c *Client) SendRequest(ctx context.Context, method Method, url string, data any, mods ...func(*Req)) (Res, error) {
	if err := checkContextCancellation(ctx); err != nil {
		return Res{}, err
	}
	req := c.buildReq(mods)
	params, err := c.buildParams(method, url, data, req)
	if err != nil {
		return Res{}, err
	}
	op := fmt.Sprintf("%s %s", method, url)

	if params.Meta != nil && params.Meta.Fast {
		frame, raw, err := c.registry.NewFrame(method, params)
		if err != nil {
			return Res{}, err
		}
		batched, err := c.send(ctx, SendEvent{ID: frame.ID, Method: method, URL: url, Frame: raw})
		if err != nil {
			return Res{ID: frame.ID}, err
		}
		return Res{ID: frame.ID, OK: true, Batched: batched}, nil
	}

	frame, raw, err := c.registry.NewFrame(method, params)
	if err != nil {
		return Res{}, err
	}
	event := SendEvent{ID: frame.ID, Method: method, URL: url, Frame: raw}
	done := make(chan outcome, 1)
	started := c.clock.Now()

	onResult := func(res Res) {
		c.metrics.requestDuration.Observe(c.clock.Now().Sub(started).Seconds())
		c.bus.Post(StatusSend, event)
		done <- outcome{res: res}
	}
	onError := func(err error) {
		ev := event
		ev.Err = err
		c.bus.Post(StatusError, ev)
		res := Res{ID: event.ID}
		var wErr *WappstoError
		if errors.As(err, &wErr) {
			res.Errors = wErr.Errors
		}
		done <- outcome{res: res, err: err}
	}
	c.registry.hold(frame, raw, 2*req.Timeout, onResult, onError)

	batched, err := c.send(ctx, event)
	if err != nil {
		c.registry.Discard(frame.ID)
		return Res{ID: frame.ID}, err
	}
	if batched {
		return Res{ID: frame.ID, Batched: true}, nil
	}

	return c.await(ctx, op, event, req.Timeout, done)
}

// await blocks until the reply callbacks fire, the timeout passes or ctx ends
func (c *Client) await(ctx context.Context, op string, event SendEvent, timeout time.Duration, done <-chan outcome) (Res, error) {
	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.res, out.err

	case <-timer.Chan():
		if !c.registry.Discard(event.ID) {
			// The reply claimed the entry first
			out := <-done
			return out.res, out.err
		}
		c.metrics.timeouts.Inc()
		err := newTimeoutError(op, event.ID)
		c.logger.Warn(ctx, "Request timed out",
			"id", event.ID,
			"method", string(event.Method),
			"url", event.URL,
			"timeout", timeout.String())
		ev := event
		ev.Err = err
		c.bus.Post(StatusSendError, ev)
		return Res{ID: event.ID}, err

	case <-ctx.Done():
		if !c.registry.Discard(event.ID) {
			out := <-done
			return out.res, out.err
		}
		return Res{ID: event.ID}, ctx.Err()
	}
}

// SendAsync sends a request and returns once it is written
//
// onResult or onError is called at most once from the receive loop when
// the reply arrives; keep them short. A request without reply is reported
// to onError by the sweeper after twice the timeout. Either callback may
// be nil. In fast mode no reply comes and neither callback is called.
//
// Example:
//
//	err := client.SendAsync(ctx, wappsto.MethodPut, "/state/"+stateID, body,
//	    func(res wappsto.Res) { log.Println("stored") },
//	    func(err error) { log.Println("failed:", err) })
func (c *Client) SendAsync(ctx context.Context, method Method, url string, data any, onResult func(Res), onError func(error), mods ...func(*Req)) error {
	if err := checkContextCancellation(ctx); err != nil {
		return err
	}
	req := c.buildReq(mods)
	params, err := c.buildParams(method, url, data, req)
	if err != nil {
		return err
	}

	if params.Meta != nil && params.Meta.Fast {
		frame, raw, err := c.registry.NewFrame(method, params)
		if err != nil {
			return err
		}
		_, err = c.send(ctx, SendEvent{ID: frame.ID, Method: method, URL: url, Frame: raw})
		return err
	}

	frame, raw, err := c.registry.NewFrame(method, params)
	if err != nil {
		return err
	}
	event := SendEvent{ID: frame.ID, Method: method, URL: url, Frame: raw}

	wrappedResult := func(res Res) {
		c.bus.Post(StatusSend, event)
		if onResult != nil {
			onResult(res)
		}
	}
	wrappedError := func(err error) {
		ev := event
		ev.Err = err
		c.bus.Post(StatusError, ev)
		if onError != nil {
			onError(err)
		}
	}

	c.registry.hold(frame, raw, 2*req.Timeout, wrappedResult, wrappedError)

	if _, err := c.send(ctx, event); err != nil {
		c.registry.Discard(frame.ID)
		return err
	}
	return nil
}

// SendNoReply sends a request without waiting for its reply
//
// The reply, when it comes, is reported on the status bus as SEND or
// ERROR. Returns an error only when the frame could not be written.
//
// Example:
//
//	body := wappsto.Body{}.Set("data", "21.5").Set("timestamp", wappsto.Timestamp(time.Now()))
//	if err := client.SendNoReply(ctx, wappsto.MethodPut, "/state/"+stateID, body); err != nil {
//	    log.Println("kept offline:", err)
//	}
func (c *Client) SendNoReply(ctx context.Context, method Method, url string, data any, mods ...func(*Req)) error {
	return c.SendAsync(ctx, method, url, data, nil, nil, mods...)
}

// Ping sends HEAD /network and waits for the reply
//
// Example:
//
//	if err := client.Ping(ctx); err != nil {
//	    log.Println("collector unreachable:", err)
//	}
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.SendRequest(ctx, MethodHead, "/network", nil)
	return err
}

// send writes a request frame or queues it in the open batch
//
// Senders never wait for a reconnect: when the client is not connected
// the frame is reported on SENDERROR and an error returned.
func (c *Client) send(ctx context.Context, event SendEvent) (batched bool, err error) {
	if c.appendBatch(event) {
		return true, nil
	}
	return false, c.write(ctx, event, []SendEvent{event})
}

// write puts data on the wire; events are the requests it carries
func (c *Client) write(ctx context.Context, event SendEvent, events []SendEvent) error {
	op := "send"
	if event.Method != "" {
		op = fmt.Sprintf("%s %s", event.Method, event.URL)
	}

	if state := c.State(); state != StateConnected {
		cause := error(ErrNotConnected)
		if state == StateClosed || state == StateClosing {
			cause = ErrClosed
		}
		err := newTransportError(op, cause)
		c.logger.Debug(ctx, "Not connected, frame not sent",
			"id", event.ID,
			"state", state.String())
		event.Err = err
		c.bus.Post(StatusSendError, event)
		return err
	}

	c.bus.Post(StatusSending, event)
	c.logger.Debug(ctx, "Sending frame",
		"id", event.ID,
		"frame", c.prepareJSONForLogging(string(event.Frame)))

	if err := c.transport.Send(event.Frame); err != nil {
		wErr := newTransportError(op, err)
		c.logger.Warn(ctx, "Writing frame failed",
			"id", event.ID,
			"error", err.Error())
		event.Err = wErr
		c.bus.Post(StatusSendError, event)
		return wErr
	}

	for _, ev := range events {
		c.registry.Arm(ev.ID)
		c.metrics.framesSent.WithLabelValues(string(ev.Method)).Inc()
	}
	return nil
}

// buildParams validates the arguments and assembles params
func (c *Client) buildParams(method Method, url string, data any, req Req) (Params, error) {
	if err := ValidateMethod(string(method)); err != nil {
		return Params{}, err
	}
	if url == "" {
		return Params{}, fmt.Errorf("url cannot be empty")
	}
	raw, err := encodeData(data)
	if err != nil {
		return Params{}, err
	}
	params := Params{URL: url, Data: raw}
	if req.fast(method, c.FastSend) {
		params.Meta = &Meta{Fast: true}
	}
	return params, nil
}

// encodeData turns the data argument of the send functions into raw JSON
func encodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("data is not valid JSON")
		}
		return json.RawMessage(v), nil
	case Body:
		b, err := v.Bytes()
		if err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
		return json.RawMessage(b), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal data: %w", err)
		}
		return json.RawMessage(b), nil
	}
}
