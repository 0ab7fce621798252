// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"encoding/json"

	"github.com/gorilla/rpc/v2/json2"
)

// FrameKind classifies a decoded JSON-RPC element
type FrameKind int

const (
	// KindInvalid is an element that failed validation; Error holds the
	// error object to answer with
	KindInvalid FrameKind = iota

	// KindRequest is an inbound method call carrying an id
	KindRequest

	// KindNotification is a method call without id; it is never answered
	KindNotification

	// KindResult is a successful reply to one of our requests
	KindResult

	// KindError is an error reply, possibly with a null id
	KindError
)

// String returns the string representation of a FrameKind
func (k FrameKind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResult:
		return "result"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Meta is the params.meta member of a request
type Meta struct {
	// Fast asks the server not to send a reply
	Fast bool `json:"fast"`
}

// Params is the params member of a request or notification
type Params struct {
	// URL addresses the object, e.g. /network/{uuid}/device
	URL string `json:"url"`

	// Data is the raw JSON payload, nil when absent
	Data json.RawMessage `json:"data,omitempty"`

	// Meta is present only for reply-suppressed sends
	Meta *Meta `json:"meta,omitempty"`
}

// ResultBody is the result member of a reply
//
// The server wraps the value as {"value": ..., "meta": {"server_send_time": ...}}.
// A bare result is accepted too and stored as Value.
type ResultBody struct {
	Value          json.RawMessage
	ServerSendTime string
}

// Envelope is one decoded JSON-RPC 2.0 element
//
// The method type is fixed when the Codec is constructed, so a codec built
// for a different method set yields envelopes of a different type.
type Envelope[M ~string] struct {
	// Kind selects which of the remaining members are meaningful
	Kind FrameKind

	// ID is the request id as text ("" for notifications and null ids)
	ID string

	// RawID is the id exactly as it appeared on the wire ("null" when absent),
	// used to echo numeric and string ids back unchanged
	RawID string

	// Method is set for requests and notifications
	Method M

	// Params is set for requests and notifications
	Params Params

	// Result is set for KindResult
	Result ResultBody

	// Error is set for KindError and KindInvalid
	Error *json2.Error
}

// HasID reports whether the envelope carries a usable id
func (e Envelope[M]) HasID() bool {
	return e.RawID != "" && e.RawID != "null"
}

// Frame is the envelope type used by the wappsto client
type Frame = Envelope[Method]
