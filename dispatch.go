// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/rpc/v2/json2"
	"gopkg.in/tomb.v2"
)

// receiveLoop reads wire messages until the tomb dies
//
// It is the only goroutine that reads from the transport and the only one
// that reconnects. A reconnect that gives up closes the client.
func (c *Client) receiveLoop(t *tomb.Tomb) error {
	ctx := t.Context(context.Background())

	for {
		data, err := c.transport.Receive()
		if !t.Alive() {
			return nil
		}

		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				c.logger.Warn(ctx, "Received malformed frame",
					"error", err.Error())
				frames := []Frame{invalidEnvelope[Method]("null", json2.E_PARSE, err.Error())}
				c.handleFrames(ctx, frames, false)
				continue
			}

			if !c.reconnect(ctx, t, err) {
				return nil
			}
			continue
		}

		c.metrics.framesReceived.Inc()
		c.logger.Debug(ctx, "Received frame",
			"frame", c.prepareJSONForLogging(string(data)))

		frames, batch := c.codec.Parse(data)
		c.handleFrames(ctx, frames, batch)
	}
}

// reconnect re-establishes the transport after a receive error
//
// Returns false when the loop should end, either because the client is
// shutting down or because reconnecting failed for good.
func (c *Client) reconnect(ctx context.Context, t *tomb.Tomb, cause error) bool {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateConnecting)) {
		return false
	}

	c.logger.Warn(ctx, "Connection lost",
		"error", cause.Error())
	c.bus.Post(StatusDisconnected, nil)
	c.bus.Post(StatusReconnecting, nil)

	if err := c.transport.Reconnect(ctx, c.ReconnectAttempts); err != nil {
		if !t.Alive() {
			return false
		}
		c.logger.Error(ctx, "Reconnect failed, closing client",
			"error", err.Error())
		if c.state.CompareAndSwap(int32(StateConnecting), int32(StateClosed)) {
			_ = c.transport.Close()
			c.bus.Post(StatusClosed, nil)
		}
		return false
	}

	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		// Disconnect or Close won the race
		_ = c.transport.Close()
		return false
	}

	c.logger.Info(ctx, "Reconnected")
	c.bus.Post(StatusConnected, nil)
	return true
}

// handleFrames processes the elements of one wire message and writes the
// replies they produce
//
// Replies to a batch are written as one array, even when they do not go
// through the client's batching scope.
func (c *Client) handleFrames(ctx context.Context, frames []Frame, batch bool) {
	var replies [][]byte
	for _, frame := range frames {
		if reply := c.handleFrame(ctx, frame); reply != nil {
			replies = append(replies, reply)
		}
	}
	if len(replies) == 0 {
		return
	}

	out := replies[0]
	if batch {
		var err error
		out, err = EncodeBatch(replies)
		if err != nil {
			c.logger.Error(ctx, "Encoding batch reply failed",
				"error", err.Error())
			return
		}
	}
	c.writeReply(ctx, out)
}

// handleFrame routes one element and returns the reply to send, if any
func (c *Client) handleFrame(ctx context.Context, frame Frame) []byte {
	switch frame.Kind {
	case KindInvalid:
		c.logger.Warn(ctx, "Rejecting invalid frame",
			"id", frame.ID,
			"code", int(frame.Error.Code),
			"detail", frame.Error.Data)
		return c.errorReply(ctx, frame.RawID, frame.Error)

	case KindResult:
		c.registry.Resolve(frame.ID, Res{
			ID:             frame.ID,
			Raw:            frame.Result.Value,
			ServerSendTime: frame.Result.ServerSendTime,
			OK:             true,
		})
		return nil

	case KindError:
		if !frame.HasID() {
			wErr := newReplyError("request", frame.Error)
			c.logger.Error(ctx, "Server reported error without id",
				"code", int(frame.Error.Code),
				"message", frame.Error.Message)
			c.bus.Post(StatusError, SendEvent{Err: wErr})
			return nil
		}
		op := "request"
		if method, ok := c.registry.Method(frame.ID); ok {
			op = string(method)
		}
		c.registry.Reject(frame.ID, newReplyError(op, frame.Error))
		return nil

	case KindRequest, KindNotification:
		return c.dispatchCall(ctx, frame)
	}
	return nil
}

// dispatchCall hands an inbound call to the subscribers of its object
func (c *Client) dispatchCall(ctx context.Context, frame Frame) []byte {
	objectID := objectUUID(frame.Params.URL)
	if _, err := uuid.Parse(objectID); err != nil {
		c.logger.Warn(ctx, "Call addresses no object",
			"method", string(frame.Method),
			"url", frame.Params.URL)
		if frame.Kind == KindNotification {
			return nil
		}
		return c.errorReply(ctx, frame.RawID,
			newRPCError(json2.E_BAD_PARAMS, "url does not end in an object uuid"))
	}

	call := Call{
		UUID:   objectID,
		Method: frame.Method,
		URL:    frame.Params.URL,
		Data:   frame.Params.Data,
	}

	dropped := 0
	for _, handler := range c.subscribers.Handlers(objectID) {
		handler := handler
		if err := c.pool.Submit(func() { handler(call) }); err != nil {
			dropped++
			c.metrics.dropped.Inc()
			c.logger.Warn(ctx, "Dropping subscriber callback",
				"uuid", objectID,
				"method", string(frame.Method),
				"error", err.Error())
		}
	}
	c.metrics.dispatched.WithLabelValues(string(frame.Method)).Inc()

	if frame.Kind == KindNotification {
		return nil
	}
	if dropped > 0 {
		return c.errorReply(ctx, frame.RawID, newRPCError(json2.E_INTERNAL, ErrPoolSaturated.Error()))
	}

	reply, err := EncodeResult(frame.RawID, true)
	if err != nil {
		c.logger.Error(ctx, "Encoding acknowledgement failed",
			"id", frame.ID,
			"error", err.Error())
		return nil
	}
	return reply
}

// errorReply encodes an error frame and counts it
func (c *Client) errorReply(ctx context.Context, rawID string, rpcErr *json2.Error) []byte {
	reply, err := EncodeError(rawID, rpcErr)
	if err != nil {
		c.logger.Error(ctx, "Encoding error reply failed",
			"error", err.Error())
		return nil
	}
	c.metrics.errorReplied(rpcErr.Code)
	return reply
}

// writeReply writes a reply straight to the transport
//
// Replies bypass the batching scope and the status bus: they answer the
// server and are never stored offline.
func (c *Client) writeReply(ctx context.Context, data []byte) {
	if c.State() != StateConnected {
		c.logger.Debug(ctx, "Dropping reply, not connected")
		return
	}
	c.logger.Debug(ctx, "Sending reply",
		"frame", c.prepareJSONForLogging(string(data)))
	if err := c.transport.Send(data); err != nil {
		c.logger.Warn(ctx, "Writing reply failed",
			"error", err.Error())
	}
}

// sweepLoop expires correlation entries nobody waits for any more
//
// Waiting callers time out on their own; the sweep covers requests sent
// without waiting, whose reply never came.
func (c *Client) sweepLoop(t *tomb.Tomb) error {
	maxAge := 2 * c.Timeout
	for {
		select {
		case <-t.Dying():
			return nil
		case <-c.clock.After(c.Timeout):
			c.expire(t.Context(context.Background()), maxAge)
		}
	}
}

// expire reports every entry older than maxAge as timed out
func (c *Client) expire(ctx context.Context, maxAge time.Duration) {
	for _, entry := range c.registry.Expire(maxAge) {
		c.metrics.timeouts.Inc()
		err := newTimeoutError(string(entry.method), entry.id)
		c.logger.Warn(ctx, "Request expired without reply",
			"id", entry.id,
			"method", string(entry.method),
			"url", entry.url)
		if entry.onError != nil {
			c.registry.invoke(entry, func() { entry.onError(err) })
		}
		c.bus.Post(StatusSendError, SendEvent{
			ID:     entry.id,
			Method: entry.method,
			URL:    entry.url,
			Frame:  entry.frame,
			Err:    err,
		})
	}
}

// objectUUID returns the last path segment of url, ignoring any query
func objectUUID(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	return url[strings.LastIndexByte(url, '/')+1:]
}
