// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"
	"errors"
	"fmt"
)

// Batch runs fn with a batching scope open and flushes on return
//
// Every request sent while the scope is open, from any goroutine, is held
// back and written as one JSON array in the order it was sent when the
// outermost scope closes. Scopes nest: a Batch inside a Batch extends the
// outer one. Requests inside the scope return immediately with
// Res.Batched set; their replies are reported on the status bus.
//
// The batch is flushed even when fn returns an error; both errors are
// returned.
//
// Example:
//
//	err := client.Batch(ctx, func() error {
//	    for _, v := range values {
//	        if err := v.Report(ctx, readSensor(v), time.Now()); err != nil {
//	            return err
//	        }
//	    }
//	    return nil
//	})
func (c *Client) Batch(ctx context.Context, fn func() error) error {
	c.BeginBatch()
	fnErr := fn()
	flushErr := c.EndBatch(ctx)
	return errors.Join(fnErr, flushErr)
}

// BeginBatch opens (or extends) the batching scope
//
// Each BeginBatch must be matched by one EndBatch.
func (c *Client) BeginBatch() {
	c.batchMu.Lock()
	c.batchDepth++
	c.batchMu.Unlock()
}

// EndBatch closes one level of the batching scope; closing the outermost
// level writes the buffered frames
func (c *Client) EndBatch(ctx context.Context) error {
	c.batchMu.Lock()
	if c.batchDepth == 0 {
		c.batchMu.Unlock()
		return fmt.Errorf("EndBatch without BeginBatch")
	}
	c.batchDepth--
	if c.batchDepth > 0 {
		c.batchMu.Unlock()
		return nil
	}
	events := c.batchEvents
	c.batchEvents = nil
	c.batchMu.Unlock()

	return c.flush(ctx, events)
}

// InBatch reports whether a batching scope is open
func (c *Client) InBatch() bool {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()
	return c.batchDepth > 0
}

// appendBatch queues event when a scope is open
func (c *Client) appendBatch(event SendEvent) bool {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()
	if c.batchDepth == 0 {
		return false
	}
	c.batchEvents = append(c.batchEvents, event)
	return true
}

// flush writes the buffered frames as one array
//
// A failed flush posts a single SENDERROR carrying the whole array, so
// offline storage keeps the batch together. The correlation entries of
// the batched requests are dropped with it; their replies cannot come.
func (c *Client) flush(ctx context.Context, events []SendEvent) error {
	if len(events) == 0 {
		return nil
	}

	frames := make([][]byte, 0, len(events))
	for _, ev := range events {
		frames = append(frames, ev.Frame)
	}
	data, err := EncodeBatch(frames)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	c.logger.Debug(ctx, "Flushing batch",
		"frames", len(events))
	if err := c.write(ctx, SendEvent{Frame: data}, events); err != nil {
		for _, ev := range events {
			c.registry.Discard(ev.ID)
		}
		return err
	}
	return nil
}
