// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"

	"golang.org/x/time/rate"
)

// OfflineStorage keeps frames that could not be delivered
//
// Save receives one wire message (a single request or a JSON array of
// requests). Load removes and returns up to max messages, oldest first,
// and returns an empty slice once the storage is drained.
//
// The offline subpackage provides a file-per-frame and an SQLite store.
type OfflineStorage interface {
	Save(data string) error
	Load(max int) ([]string, error)
}

// attachOffline wires the storage to the status bus
func (c *Client) attachOffline() {
	limit := rate.Inf
	if c.ResendInterval > 0 {
		limit = rate.Every(c.ResendInterval)
	}
	c.limiter = rate.NewLimiter(limit, 1)

	c.internalSubs = append(c.internalSubs,
		c.bus.Subscribe(StatusSendError, c.onSendError),
		c.bus.Subscribe(StatusConnected, c.onConnected),
	)
}

// onSendError saves the frame of a failed send
//
// Only transient failures are kept; a frame the server rejected would be
// rejected again.
func (c *Client) onSendError(_ StatusID, payload any) {
	ev, ok := payload.(SendEvent)
	if !ok || len(ev.Frame) == 0 {
		return
	}
	if ev.Err != nil && !IsTransient(ev.Err) {
		c.logger.Debug(context.Background(), "Not storing frame after permanent failure",
			"id", ev.ID,
			"error", ev.Err.Error())
		return
	}
	c.saveOffline(string(ev.Frame))
}

func (c *Client) saveOffline(data string) {
	if err := c.offline.Save(data); err != nil {
		c.logger.Error(context.Background(), "Saving frame offline failed",
			"error", err.Error())
		return
	}
	c.metrics.offlineSaved.Inc()
}

// onConnected resends stored frames
func (c *Client) onConnected(_ StatusID, _ any) {
	c.drainOffline(c.connContext())
}

// drainOffline loads stored messages in chunks and resends them until the
// storage is empty or a resend fails
//
// Only one drain runs at a time. Messages not yet attempted when a resend
// fails go back to the storage; the failed request itself is saved again
// by the SENDERROR path.
func (c *Client) drainOffline(ctx context.Context) {
	if !c.draining.CompareAndSwap(false, true) {
		return
	}
	defer c.draining.Store(false)

	for c.State() == StateConnected {
		items, err := c.offline.Load(c.ResendChunk)
		if err != nil {
			c.logger.Error(ctx, "Loading offline frames failed",
				"error", err.Error())
			return
		}
		if len(items) == 0 {
			return
		}
		c.logger.Info(ctx, "Resending offline frames",
			"count", len(items))

		for i, item := range items {
			left, ok := c.resendItem(ctx, item)
			if !ok {
				for _, rest := range left {
					c.saveOffline(rest)
				}
				for _, rest := range items[i+1:] {
					c.saveOffline(rest)
				}
				return
			}
		}
	}
}

// resendItem resends every request of a stored message with fresh ids
//
// Returns false and the elements not yet attempted when a transient
// failure stops the resend.
func (c *Client) resendItem(ctx context.Context, item string) ([]string, bool) {
	frames, _ := c.codec.Parse([]byte(item))

	for i, frame := range frames {
		if frame.Kind != KindRequest && frame.Kind != KindNotification {
			c.logger.Warn(ctx, "Discarding stored frame that is not a request",
				"kind", frame.Kind.String())
			continue
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return c.encodeRest(frames[i:]), false
		}

		fast := frame.Params.Meta != nil && frame.Params.Meta.Fast
		var data any
		if len(frame.Params.Data) > 0 {
			data = frame.Params.Data
		}
		_, err := c.SendRequest(ctx, frame.Method, frame.Params.URL, data, Fast(fast))
		if err == nil {
			c.metrics.offlineResent.Inc()
			continue
		}
		if ctx.Err() != nil {
			// Cancelled waits post no SENDERROR, so keep this one too
			return c.encodeRest(frames[i:]), false
		}
		if IsTransient(err) {
			c.logger.Warn(ctx, "Resend failed, keeping remaining frames",
				"url", frame.Params.URL,
				"error", err.Error())
			return c.encodeRest(frames[i+1:]), false
		}
		c.logger.Warn(ctx, "Server rejected resent frame",
			"url", frame.Params.URL,
			"error", err.Error())
	}
	return nil, true
}

// encodeRest re-encodes frames for storage, one message per request
func (c *Client) encodeRest(frames []Frame) []string {
	var out []string
	for _, frame := range frames {
		if frame.Kind != KindRequest && frame.Kind != KindNotification {
			continue
		}
		data, err := c.codec.Encode(frame)
		if err != nil {
			continue
		}
		out = append(out, string(data))
	}
	return out
}
