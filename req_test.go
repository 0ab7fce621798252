// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"testing"
	"time"
)

func TestTimeout(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     time.Duration
	}{
		{"custom timeout", 10 * time.Second, 10 * time.Second},
		{"short timeout", 50 * time.Millisecond, 50 * time.Millisecond},
		{"zero falls back to client default", 0, DefaultTimeout},
		{"negative falls back to client default", -time.Second, DefaultTimeout},
	}

	c := &Client{Timeout: DefaultTimeout}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := c.buildReq([]func(*Req){Timeout(tt.duration)})
			if req.Timeout != tt.want {
				t.Errorf("Timeout = %v, want %v", req.Timeout, tt.want)
			}
		})
	}
}

func TestBuildReqDefaults(t *testing.T) {
	c := &Client{Timeout: 7 * time.Second}
	req := c.buildReq(nil)
	if req.Timeout != 7*time.Second {
		t.Errorf("Timeout = %v, want 7s", req.Timeout)
	}
	if req.Fast != nil {
		t.Errorf("Fast must be unset without a modifier")
	}
}

func TestModifierOverwrite(t *testing.T) {
	c := &Client{Timeout: DefaultTimeout}
	req := c.buildReq([]func(*Req){
		Timeout(1 * time.Second),
		Fast(true),
		Timeout(2 * time.Second),
		Fast(false),
	})
	if req.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v, want last modifier to win", req.Timeout)
	}
	if req.Fast == nil || *req.Fast {
		t.Errorf("Fast = %v, want false", req.Fast)
	}
}

func TestReqFast(t *testing.T) {
	tests := []struct {
		name          string
		mods          []func(*Req)
		method        Method
		clientDefault bool
		want          bool
	}{
		{"client default off", nil, MethodPut, false, false},
		{"client default on", nil, MethodPut, true, true},
		{"request enables", []func(*Req){Fast(true)}, MethodPost, false, true},
		{"request disables", []func(*Req){Fast(false)}, MethodDelete, true, false},
		{"get never fast", []func(*Req){Fast(true)}, MethodGet, true, false},
		{"head never fast", nil, MethodHead, true, false},
	}

	c := &Client{Timeout: DefaultTimeout}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := c.buildReq(tt.mods)
			if got := req.fast(tt.method, tt.clientDefault); got != tt.want {
				t.Errorf("fast(%s) = %v, want %v", tt.method, got, tt.want)
			}
		})
	}
}
