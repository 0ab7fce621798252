// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// jsonRPCVersion is the protocol version written on every outbound frame
const jsonRPCVersion = "2.0"

// Method is a JSON-RPC method understood by the Wappsto collector
type Method string

// Method constants for Wappsto JSON-RPC frames
const (
	// MethodGet reads an object, or asks the device to refresh a Report state
	MethodGet Method = "GET"

	// MethodPost creates an object under the URL
	MethodPost Method = "POST"

	// MethodPut updates an object (the server uses it for Control changes)
	MethodPut Method = "PUT"

	// MethodDelete removes an object
	MethodDelete Method = "DELETE"

	// MethodHead is used for keep-alive pings
	MethodHead Method = "HEAD"
)

// ValidMethods contains the list of methods the client accepts
var ValidMethods = []Method{
	MethodGet,
	MethodPost,
	MethodPut,
	MethodDelete,
	MethodHead,
}

// ValidateMethod checks if the method is valid
//
// Example:
//
//	if err := wappsto.ValidateMethod("PUT"); err != nil {
//	    log.Fatal(err)
//	}
func ValidateMethod(method string) error {
	for _, valid := range ValidMethods {
		if Method(method) == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid method: %s (valid values: GET, POST, PUT, DELETE, HEAD)", method)
}

// fastMethods are the methods that honour reply-suppressed sends
var fastMethods = map[Method]bool{
	MethodPost:   true,
	MethodPut:    true,
	MethodDelete: true,
}

// envelopeKeys are the only members allowed at the top level of an element
var envelopeKeys = map[string]bool{
	"jsonrpc": true,
	"id":      true,
	"method":  true,
	"params":  true,
	"result":  true,
	"error":   true,
}

// Codec encodes and decodes JSON-RPC 2.0 frames for a fixed method set
//
// Decoding never fails: every problem is turned into a KindInvalid envelope
// carrying the error object the peer should be answered with.
type Codec[M ~string] struct {
	methods map[M]struct{}
}

// NewCodec creates a Codec that accepts exactly the given methods
//
// Example:
//
//	codec := wappsto.NewCodec(wappsto.ValidMethods...)
//	frames, batch := codec.Parse(data)
func NewCodec[M ~string](methods ...M) *Codec[M] {
	c := &Codec[M]{methods: make(map[M]struct{}, len(methods))}
	for _, m := range methods {
		c.methods[m] = struct{}{}
	}
	return c
}

// Known reports whether method belongs to the codec's method set
func (c *Codec[M]) Known(method M) bool {
	_, ok := c.methods[method]
	return ok
}

// Parse decodes one wire message into its elements
//
// A JSON array is a batch and yields one envelope per element; batch is true
// so replies can be sent back as an array. Malformed JSON yields a single
// KindInvalid envelope with a parse error and a null id.
//
// When an element is wrong in more than one way the first matching rule wins:
//  1. unknown method: method not found (-32601)
//  2. bad params for a known method: invalid params (-32602)
//  3. anything else structurally wrong: invalid request (-32600)
func (c *Codec[M]) Parse(data []byte) (frames []Envelope[M], batch bool) {
	if !gjson.ValidBytes(data) {
		return []Envelope[M]{invalidEnvelope[M]("null", json2.E_PARSE, "malformed JSON")}, false
	}

	root := gjson.ParseBytes(data)
	if root.IsArray() {
		elems := root.Array()
		if len(elems) == 0 {
			return []Envelope[M]{invalidEnvelope[M]("null", json2.E_INVALID_REQ, "empty batch")}, false
		}
		frames = make([]Envelope[M], 0, len(elems))
		for _, el := range elems {
			frames = append(frames, c.classify(el))
		}
		return frames, true
	}

	return []Envelope[M]{c.classify(root)}, false
}

// classify validates a single element and fills in its envelope
func (c *Codec[M]) classify(el gjson.Result) Envelope[M] {
	if !el.IsObject() {
		return invalidEnvelope[M]("null", json2.E_INVALID_REQ, "frame is not an object")
	}

	rawID, id, idProblem := readID(el.Get("id"))
	method := el.Get("method")
	result := el.Get("result")
	errObj := el.Get("error")

	if method.Exists() {
		if method.Type != gjson.String || !c.Known(M(method.Str)) {
			return invalidEnvelope[M](rawID, json2.E_NO_METHOD, fmt.Sprintf("unknown method %s", method.Raw))
		}

		params, problem := readParams(el.Get("params"))
		if problem != "" {
			return invalidEnvelope[M](rawID, json2.E_BAD_PARAMS, problem)
		}

		if problem := checkStructure(el, idProblem); problem != "" {
			return invalidEnvelope[M](rawID, json2.E_INVALID_REQ, problem)
		}
		if result.Exists() || errObj.Exists() {
			return invalidEnvelope[M](rawID, json2.E_INVALID_REQ, "request carries result or error")
		}

		env := Envelope[M]{
			Kind:   KindNotification,
			ID:     id,
			RawID:  rawID,
			Method: M(method.Str),
			Params: params,
		}
		if env.HasID() {
			env.Kind = KindRequest
		}
		return env
	}

	if problem := checkStructure(el, idProblem); problem != "" {
		return invalidEnvelope[M](rawID, json2.E_INVALID_REQ, problem)
	}

	switch {
	case result.Exists() && errObj.Exists():
		return invalidEnvelope[M](rawID, json2.E_INVALID_REQ, "reply carries both result and error")

	case result.Exists():
		if rawID == "null" {
			return invalidEnvelope[M](rawID, json2.E_INVALID_REQ, "result without id")
		}
		return Envelope[M]{
			Kind:   KindResult,
			ID:     id,
			RawID:  rawID,
			Result: readResult(result),
		}

	case errObj.Exists():
		code := errObj.Get("code")
		message := errObj.Get("message")
		if !errObj.IsObject() || code.Type != gjson.Number || message.Type != gjson.String {
			return invalidEnvelope[M](rawID, json2.E_INVALID_REQ, "malformed error object")
		}
		rpcErr := &json2.Error{
			Code:    json2.ErrorCode(code.Int()),
			Message: message.Str,
		}
		if data := errObj.Get("data"); data.Exists() {
			rpcErr.Data = data.Value()
		}
		return Envelope[M]{
			Kind:  KindError,
			ID:    id,
			RawID: rawID,
			Error: rpcErr,
		}
	}

	return invalidEnvelope[M](rawID, json2.E_INVALID_REQ, "missing method, result or error")
}

// invalidEnvelope builds the KindInvalid envelope answered with code
func invalidEnvelope[M ~string](rawID string, code json2.ErrorCode, detail string) Envelope[M] {
	env := Envelope[M]{
		Kind:  KindInvalid,
		RawID: rawID,
		Error: newRPCError(code, detail),
	}
	if env.HasID() {
		env.ID = gjson.Parse(rawID).String()
	}
	return env
}

// readID returns the raw and textual id; problem is set for ids of a type
// JSON-RPC does not allow
func readID(v gjson.Result) (rawID, id, problem string) {
	if !v.Exists() {
		return "null", "", ""
	}
	switch v.Type {
	case gjson.Null:
		return "null", "", ""
	case gjson.String:
		return v.Raw, v.Str, ""
	case gjson.Number:
		return v.Raw, v.Raw, ""
	default:
		return "null", "", "id must be a string or number"
	}
}

// readParams validates the params member of a call
func readParams(v gjson.Result) (Params, string) {
	if !v.IsObject() {
		return Params{}, "params must be an object"
	}
	url := v.Get("url")
	if url.Type != gjson.String {
		return Params{}, "params.url must be a string"
	}
	params := Params{URL: url.Str}

	if data := v.Get("data"); data.Exists() {
		params.Data = json.RawMessage(data.Raw)
	}

	if meta := v.Get("meta"); meta.Exists() {
		if !meta.IsObject() {
			return Params{}, "params.meta must be an object"
		}
		fast := meta.Get("fast")
		if fast.Exists() && fast.Type != gjson.True && fast.Type != gjson.False {
			return Params{}, "params.meta.fast must be a boolean"
		}
		params.Meta = &Meta{Fast: fast.Bool()}
	}

	return params, ""
}

// checkStructure validates the members every element shares
//
// A missing jsonrpc member is tolerated; a wrong one is not.
func checkStructure(el gjson.Result, idProblem string) string {
	if idProblem != "" {
		return idProblem
	}
	if v := el.Get("jsonrpc"); v.Exists() && (v.Type != gjson.String || v.Str != jsonRPCVersion) {
		return "jsonrpc must be \"2.0\""
	}
	var problem string
	el.ForEach(func(key, _ gjson.Result) bool {
		if !envelopeKeys[key.Str] {
			problem = fmt.Sprintf("unexpected member %q", key.Str)
			return false
		}
		return true
	})
	return problem
}

// readResult unwraps {"value": ..., "meta": {"server_send_time": ...}}
func readResult(v gjson.Result) ResultBody {
	if v.IsObject() {
		if value := v.Get("value"); value.Exists() {
			return ResultBody{
				Value:          json.RawMessage(value.Raw),
				ServerSendTime: v.Get("meta.server_send_time").String(),
			}
		}
	}
	return ResultBody{Value: json.RawMessage(v.Raw)}
}

// EncodeRequest renders a request frame with a string id
//
// An empty id renders a notification.
//
// Example:
//
//	data, err := codec.EncodeRequest("abc_PUT_1", wappsto.MethodPut, wappsto.Params{
//	    URL:  "/state/" + stateID,
//	    Data: json.RawMessage(`{"data":"21.5"}`),
//	})
func (c *Codec[M]) EncodeRequest(id string, method M, params Params) ([]byte, error) {
	rawID := ""
	if id != "" {
		rawID = quoteID(id)
	}
	return c.encodeCall(rawID, method, params)
}

// encodeCall renders a call; rawID "" omits the id member
func (c *Codec[M]) encodeCall(rawID string, method M, params Params) ([]byte, error) {
	b := Body{}.Set("jsonrpc", jsonRPCVersion)
	if rawID != "" && rawID != "null" {
		b = b.SetRaw("id", rawID)
	}
	b = b.Set("method", string(method)).
		Set("params.url", params.URL)
	if len(params.Data) > 0 {
		b = b.SetRaw("params.data", string(params.Data))
	}
	if params.Meta != nil {
		b = b.Set("params.meta.fast", params.Meta.Fast)
	}
	return b.Bytes()
}

// Encode renders any envelope back to its wire form
func (c *Codec[M]) Encode(env Envelope[M]) ([]byte, error) {
	rawID := env.RawID
	if rawID == "" {
		rawID = "null"
		if env.ID != "" {
			rawID = quoteID(env.ID)
		}
	}

	switch env.Kind {
	case KindRequest:
		return c.encodeCall(rawID, env.Method, env.Params)
	case KindNotification:
		return c.encodeCall("", env.Method, env.Params)
	case KindResult:
		b := Body{}.Set("jsonrpc", jsonRPCVersion).
			SetRaw("id", rawID).
			SetRaw("result.value", rawOrNull(env.Result.Value))
		if env.Result.ServerSendTime != "" {
			b = b.Set("result.meta.server_send_time", env.Result.ServerSendTime)
		}
		return b.Bytes()
	case KindError, KindInvalid:
		return EncodeError(rawID, env.Error)
	default:
		return nil, fmt.Errorf("cannot encode frame of kind %s", env.Kind)
	}
}

// EncodeResult renders {"jsonrpc":"2.0","id":<rawID>,"result":{"value":<value>}}
//
// rawID must be the id as it appeared on the wire; use "null" when unknown.
func EncodeResult(rawID string, value any) ([]byte, error) {
	return Body{}.Set("jsonrpc", jsonRPCVersion).
		SetRaw("id", nullIfEmpty(rawID)).
		Set("result.value", value).
		Bytes()
}

// EncodeError renders an error frame for rpcErr
func EncodeError(rawID string, rpcErr *json2.Error) ([]byte, error) {
	if rpcErr == nil {
		rpcErr = newRPCError(json2.E_INTERNAL, "")
	}
	b := Body{}.Set("jsonrpc", jsonRPCVersion).
		SetRaw("id", nullIfEmpty(rawID)).
		Set("error.code", int(rpcErr.Code)).
		Set("error.message", rpcErr.Message)
	if rpcErr.Data != nil {
		b = b.Set("error.data", rpcErr.Data)
	}
	return b.Bytes()
}

// EncodeBatch joins already encoded frames into one JSON array, keeping order
func EncodeBatch(frames [][]byte) ([]byte, error) {
	out := "[]"
	for i, frame := range frames {
		var err error
		out, err = sjson.SetRaw(out, "-1", string(frame))
		if err != nil {
			return nil, fmt.Errorf("batch element %d: %w", i, err)
		}
	}
	return []byte(out), nil
}

// quoteID renders a string id as a JSON string
func quoteID(id string) string {
	raw, err := json.Marshal(id)
	if err != nil {
		return "null"
	}
	return string(raw)
}

func nullIfEmpty(rawID string) string {
	if rawID == "" {
		return "null"
	}
	return rawID
}

func rawOrNull(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}
