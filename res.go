// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/tidwall/gjson"
)

// Res represents the outcome of a request
type Res struct {
	// ID is the request id the reply was correlated with
	ID string

	// Raw is the result value as received (result.value on the wire)
	Raw json.RawMessage

	// ServerSendTime is result.meta.server_send_time, if the server sent one
	ServerSendTime string

	// OK indicates if the operation succeeded
	OK bool

	// Batched is set when the request was queued in an open batch and no
	// reply was awaited
	Batched bool

	// Errors contains any error information
	Errors []ErrorModel
}

// Value returns the result value for gjson access
//
// Example:
//
//	res, err := client.SendRequest(ctx, wappsto.MethodPost, "/network/"+nid+"/device/", body)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if res.Value().Bool() {
//	    // created
//	}
func (r Res) Value() gjson.Result {
	if len(r.Raw) == 0 {
		return gjson.Result{}
	}
	return gjson.ParseBytes(r.Raw)
}

// GetValue retrieves a value from the result using a gjson path.
//
// Example paths:
//   - "meta.id" - Get the object id of a returned object
//   - "id.0" - Get the first id of a search result
//   - "state.#" - Count the states of a value
//
// Example:
//
//	res, err := client.SendRequest(ctx, wappsto.MethodGet,
//	    "/network/"+nid+"/device?this_name==Sensor", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	deviceID := res.GetValue("id.0").String()
func (r Res) GetValue(path string) gjson.Result {
	if len(r.Raw) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(r.Raw, path)
}

// JSON returns the result value as a JSON string
// Returns an empty string if there is no value.
func (r Res) JSON() string {
	return string(r.Raw)
}

// Decode decodes the result value into out
//
// Struct fields are matched by their json tags, and loosely typed input
// (numbers sent as strings and the like) is converted where possible.
//
// Example:
//
//	var device wappsto.DeviceSchema
//	if err := res.Decode(&device); err != nil {
//	    log.Fatal(err)
//	}
func (r Res) Decode(out any) error {
	if len(r.Raw) == 0 {
		return fmt.Errorf("decode: result has no value")
	}
	var generic any
	if err := json.Unmarshal(r.Raw, &generic); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := decoder.Decode(generic); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
