// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/tidwall/gjson"
)

func TestPingLoop(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	transport := newFakeTransport(ackAll)
	_ = newTestClient(t, transport,
		WithClock(clk),
		WithTimeout(time.Hour),
		PingPeriod(time.Minute))

	// The ping timer and the sweep timer are both waiting
	if err := clk.WaitAdvance(time.Minute, 2*time.Second, 2); err != nil {
		t.Fatalf("WaitAdvance: %v", err)
	}

	ping := gjson.ParseBytes(transport.waitSent(t))
	if ping.Get("method").String() != "HEAD" || ping.Get("params.url").String() != "/network" {
		t.Errorf("ping = %s, want HEAD /network", ping.Raw)
	}
}

func TestPingLoopDisabled(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	transport := newFakeTransport(ackAll)
	_ = newTestClient(t, transport,
		WithClock(clk),
		WithTimeout(time.Hour))

	// Only the sweep timer waits
	if err := clk.WaitAdvance(time.Minute, 2*time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(transport.Sent()); n != 0 {
		t.Errorf("%d messages sent without a ping period", n)
	}
}
