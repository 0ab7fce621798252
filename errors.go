// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"errors"
	"fmt"

	"github.com/gorilla/rpc/v2/json2"
	jujuerrors "github.com/juju/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinel errors returned (wrapped) by client operations.
//
// Use errors.Is to test for them:
//
//	if errors.Is(err, wappsto.ErrTimeout) {
//	    // the frame was handed to offline storage (if configured)
//	}
const (
	// ErrNotConnected is returned when a frame is sent while the transport is down
	ErrNotConnected = jujuerrors.ConstError("not connected")

	// ErrClosed is returned by operations on a closed client
	ErrClosed = jujuerrors.ConstError("client closed")

	// ErrTimeout is returned when no reply arrived within the request timeout
	ErrTimeout = jujuerrors.ConstError("request timed out")

	// ErrPoolSaturated is returned when the dispatch queue is full
	ErrPoolSaturated = jujuerrors.ConstError("dispatch queue full")

	// ErrIllegalName is returned when an object name contains characters
	// the platform does not accept
	ErrIllegalName = jujuerrors.ConstError("illegal name")

	// ErrNoState is returned when a Value has no state of the requested type
	ErrNoState = jujuerrors.ConstError("state not available")

	// ErrMalformedFrame is returned by Transport.Receive for bytes that are
	// not valid JSON
	ErrMalformedFrame = jujuerrors.ConstError("malformed frame")

	// ErrNotFound is returned when a name search matched no object
	ErrNotFound = jujuerrors.ConstError("not found")
)

// rpcErrorMessages holds the standard JSON-RPC 2.0 error messages
var rpcErrorMessages = map[json2.ErrorCode]string{
	json2.E_PARSE:       "Parse error",
	json2.E_INVALID_REQ: "Invalid Request",
	json2.E_NO_METHOD:   "Method not found",
	json2.E_BAD_PARAMS:  "Invalid params",
	json2.E_INTERNAL:    "Internal error",
	json2.E_SERVER:      "Server error",
}

// newRPCError builds a JSON-RPC error object with the standard message for code
// and detail as its data member.
func newRPCError(code json2.ErrorCode, detail string) *json2.Error {
	msg, ok := rpcErrorMessages[code]
	if !ok {
		msg = rpcErrorMessages[json2.E_SERVER]
	}
	var data interface{}
	if detail != "" {
		data = detail
	}
	return &json2.Error{Code: code, Message: msg, Data: data}
}

// WappstoError represents a structured client error with operation context
type WappstoError struct {
	// Operation name that failed
	Operation string

	// Errors from JSON-RPC error frames
	Errors []ErrorModel

	// Human-readable error message
	Message string

	// InternalMsg contains detailed error information for internal logging
	InternalMsg string

	// Number of retry attempts made
	Retries int

	// IsTransient indicates if the failure is expected to clear once the
	// connection recovers (timeouts, disconnects)
	IsTransient bool

	// Code classifies the failure using gRPC status codes
	Code codes.Code

	// Err is the underlying sentinel or cause, if any
	Err error
}

// Error implements the error interface
func (e *WappstoError) Error() string {
	if e.Retries > 0 {
		return fmt.Sprintf("wappsto: %s failed: %s (retries: %d)", e.Operation, e.Message, e.Retries)
	}
	return fmt.Sprintf("wappsto: %s failed: %s", e.Operation, e.Message)
}

// DetailedError returns the full error message including internal details
//
// This should only be used in secure logging contexts where sensitive information
// disclosure is acceptable (e.g., device-side logs, debug output).
//
// Example:
//
//	if err != nil {
//	    var wErr *wappsto.WappstoError
//	    if errors.As(err, &wErr) {
//	        log.Println(wErr.DetailedError())
//	    }
//	}
func (e *WappstoError) DetailedError() string {
	if e.InternalMsg == "" {
		return e.Error()
	}
	if e.Retries > 0 {
		return fmt.Sprintf("wappsto: %s failed: %s (internal: %s, retries: %d)",
			e.Operation, e.Message, e.InternalMsg, e.Retries)
	}
	return fmt.Sprintf("wappsto: %s failed: %s (internal: %s)",
		e.Operation, e.Message, e.InternalMsg)
}

// Unwrap exposes the underlying sentinel to errors.Is
func (e *WappstoError) Unwrap() error {
	return e.Err
}

// GRPCStatus lets status.FromError classify a WappstoError
func (e *WappstoError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// ErrorModel represents a JSON-RPC error object received from the peer
type ErrorModel struct {
	// Code is the JSON-RPC error code
	Code json2.ErrorCode

	// Message is the error message
	Message string

	// Data contains additional error information
	Data any
}

// TransientError defines patterns for detecting transient errors
type TransientError struct {
	// Code is the gRPC status code to match
	Code uint32
}

// TransientErrors defines the status codes of failures that are expected to
// clear on their own once connectivity returns. Frames that fail with one of
// these are candidates for offline storage.
//
// codes.Internal is excluded: a JSON-RPC internal error is a server verdict on
// the frame itself and resending it will not help.
var TransientErrors = []TransientError{
	// Transport down or reconnecting
	{Code: uint32(codes.Unavailable)},

	// Dispatch queue full
	{Code: uint32(codes.ResourceExhausted)},

	// Request timeout
	{Code: uint32(codes.DeadlineExceeded)},

	// Aborted by the peer, may succeed when resent
	{Code: uint32(codes.Aborted)},
}

// IsTransient reports whether err is classified as transient
//
// Example:
//
//	if err := client.SendNoReply(ctx, wappsto.MethodPut, url, body); err != nil {
//	    if wappsto.IsTransient(err) {
//	        // will be retried from offline storage after reconnect
//	    }
//	}
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	code := uint32(st.Code())
	for _, pattern := range TransientErrors {
		if pattern.Code == code {
			return true
		}
	}
	return false
}

// rpcCodeToStatus maps a JSON-RPC error code onto a gRPC status code
func rpcCodeToStatus(code json2.ErrorCode) codes.Code {
	switch code {
	case json2.E_PARSE, json2.E_INVALID_REQ, json2.E_BAD_PARAMS:
		return codes.InvalidArgument
	case json2.E_NO_METHOD:
		return codes.Unimplemented
	case json2.E_INTERNAL:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// newReplyError converts a JSON-RPC error frame into a WappstoError
func newReplyError(op string, rpcErr *json2.Error) *WappstoError {
	model := ErrorModel{Code: rpcErr.Code, Message: rpcErr.Message, Data: rpcErr.Data}
	code := rpcCodeToStatus(rpcErr.Code)
	return &WappstoError{
		Operation:   op,
		Errors:      []ErrorModel{model},
		Message:     rpcErr.Message,
		InternalMsg: fmt.Sprintf("code %d data %v", rpcErr.Code, rpcErr.Data),
		Code:        code,
	}
}

// newTimeoutError reports a request that received no reply in time
func newTimeoutError(op, id string) *WappstoError {
	return &WappstoError{
		Operation:   op,
		Message:     "no reply within timeout",
		InternalMsg: fmt.Sprintf("request id %s", id),
		IsTransient: true,
		Code:        codes.DeadlineExceeded,
		Err:         ErrTimeout,
	}
}

// newTransportError reports a frame that could not be written
func newTransportError(op string, err error) *WappstoError {
	if errors.Is(err, ErrClosed) {
		return &WappstoError{
			Operation: op,
			Message:   "client closed",
			Code:      codes.Canceled,
			Err:       ErrClosed,
		}
	}
	return &WappstoError{
		Operation:   op,
		Message:     "transport unavailable",
		InternalMsg: err.Error(),
		IsTransient: true,
		Code:        codes.Unavailable,
		Err:         ErrNotConnected,
	}
}
