// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import "time"

// Req represents a request modifier
//
// This struct is used to apply request-specific options via functional modifiers.
// Operation parameters (method, url, data) are passed directly to methods.
//
// Example:
//
//	// Read a state with a longer timeout
//	res, err := client.SendRequest(ctx, wappsto.MethodGet, "/state/"+id, nil,
//	    wappsto.Timeout(10*time.Second))
//
//	// Update without asking for a reply
//	err = client.SendNoReply(ctx, wappsto.MethodPut, "/state/"+id, body,
//	    wappsto.Fast(true))
type Req struct {
	// Timeout is the request-specific timeout
	// Overrides client default timeout if set
	Timeout time.Duration

	// Fast overrides the client's fast-send setting when non-nil
	Fast *bool
}

// Timeout returns a request modifier that sets a custom timeout for the operation.
//
// The timeout priority model is:
//  1. Request-specific timeout (this modifier) - highest priority
//  2. Client timeout (WithTimeout, default 3s) - fallback default
//
// A context deadline shorter than the timeout still ends the wait early.
func Timeout(duration time.Duration) func(*Req) {
	return func(req *Req) {
		req.Timeout = duration
	}
}

// Fast returns a request modifier that enables or disables reply-suppressed
// mode for one request. It only affects POST, PUT and DELETE; GET and HEAD
// always wait for a reply.
func Fast(enabled bool) func(*Req) {
	return func(req *Req) {
		req.Fast = &enabled
	}
}

// buildReq applies the modifiers on top of the client defaults
func (c *Client) buildReq(mods []func(*Req)) Req {
	req := Req{Timeout: c.Timeout}
	for _, mod := range mods {
		mod(&req)
	}
	if req.Timeout <= 0 {
		req.Timeout = c.Timeout
	}
	return req
}

// fast reports whether method is sent in reply-suppressed mode
func (r Req) fast(method Method, clientDefault bool) bool {
	enabled := clientDefault
	if r.Fast != nil {
		enabled = *r.Fast
	}
	return enabled && fastMethods[method]
}
