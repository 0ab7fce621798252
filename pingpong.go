// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"

	"gopkg.in/tomb.v2"
)

// pingLoop sends a ping every PingPeriod while the connection lives
//
// A failed ping is only logged; the receive loop notices a dead link on
// its own and reconnects.
func (c *Client) pingLoop(t *tomb.Tomb) error {
	ctx := t.Context(context.Background())
	timer := c.clock.NewTimer(c.PingPeriod)
	defer timer.Stop()

	for {
		select {
		case <-t.Dying():
			return nil
		case <-timer.Chan():
			if err := c.Ping(ctx); err != nil && t.Alive() {
				c.logger.Warn(ctx, "Ping failed",
					"error", err.Error())
			}
			timer.Reset(c.PingPeriod)
		}
	}
}
