// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"fmt"

	"github.com/tidwall/sjson"
)

// Body provides a fluent interface for building JSON payloads
// using sjson for path-based manipulation.
//
// The Body builder tracks errors internally to enable method chaining
// while providing error checking through String() or Err() methods.
// The client encodes its own frames with it, and a Body can be passed
// directly as the data argument of the send functions.
//
// Example:
//
//	body := wappsto.Body{}.
//	    Set("meta.id", stateID).
//	    Set("data", "21.5").
//	    Set("type", "Report").
//	    Set("timestamp", wappsto.Timestamp(time.Now()))
//
//	err := client.SendNoReply(ctx, wappsto.MethodPut, "/state/"+stateID, body)
type Body struct {
	// str contains the JSON string being built
	str string
	// err tracks the first error encountered during building
	err error
}

// Set sets a value at the specified JSON path and returns a new Body
//
// The path uses dot notation for nested fields (e.g., "meta.id").
// The value can be any type that sjson supports (string, number, bool, etc.).
//
// If an error occurs, the error is stored and returned by String() or Err().
// Once an error occurs, all subsequent operations are no-ops that preserve the error.
//
// Returns the Body for method chaining.
func (b Body) Set(path string, value any) Body {
	if b.err != nil {
		return b
	}

	result, err := sjson.Set(b.str, path, value)
	if err != nil {
		return Body{str: b.str, err: fmt.Errorf("Set(%q): %w", path, err)}
	}
	return Body{str: result}
}

// SetRaw sets pre-encoded JSON at the specified path
//
// The raw value is inserted as-is, which is how nested objects and frames
// are embedded without a decode/encode round trip.
//
// Example:
//
//	body := wappsto.Body{}.
//	    Set("name", "Kitchen").
//	    SetRaw("meta", `{"id":"6481d2e1-1d55-4bd0-9ab5-e8a8cf1e7c4f"}`)
func (b Body) SetRaw(path, raw string) Body {
	if b.err != nil {
		return b
	}

	result, err := sjson.SetRaw(b.str, path, raw)
	if err != nil {
		return Body{str: b.str, err: fmt.Errorf("SetRaw(%q): %w", path, err)}
	}
	return Body{str: result}
}

// Delete removes a value at the specified JSON path and returns a new Body
//
// Example:
//
//	body := wappsto.Body{}.
//	    Set("name", "Kitchen").
//	    Set("description", "temp").
//	    Delete("description")
func (b Body) Delete(path string) Body {
	if b.err != nil {
		return b
	}

	result, err := sjson.Delete(b.str, path)
	if err != nil {
		return Body{str: b.str, err: fmt.Errorf("Delete(%q): %w", path, err)}
	}
	return Body{str: result}
}

// String returns the JSON string representation and any error encountered during building
func (b Body) String() (string, error) {
	return b.str, b.err
}

// Err returns any error that occurred during the building process
func (b Body) Err() error {
	return b.err
}

// Res returns the JSON string for further processing with gjson
//
// If an error occurred during building, this returns an empty string.
// Use Err() or String() to check for errors.
//
// Example:
//
//	body := wappsto.Body{}.Set("name", "Kitchen")
//	if body.Err() == nil {
//	    name := gjson.Get(body.Res(), "name").String()
//	}
func (b Body) Res() string {
	if b.err != nil {
		return ""
	}
	return b.str
}

// Bytes returns the JSON byte slice representation and any error encountered during building
func (b Body) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return []byte(b.str), nil
}
