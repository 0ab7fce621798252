// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// initialStateData is the data of a freshly created state
const initialStateData = "NaN"

// Value is a data point of a Device, carried by a Report and/or a Control
// state
type Value struct {
	client *Client
	device *Device
	id     string

	mu       sync.Mutex
	schema   ValueSchema
	states   map[StateType]*StateSchema
	stateIDs map[StateType]string

	callbacks *callbacks
}

// loadValue loads the value id, or creates it when id is empty, and makes
// sure the states its permission asks for exist
func loadValue(ctx context.Context, d *Device, id string, local ValueSchema) (*Value, error) {
	c := d.client
	v := &Value{
		client:    c,
		device:    d,
		id:        id,
		states:    make(map[StateType]*StateSchema),
		stateIDs:  make(map[StateType]string),
		callbacks: newCallbacks(c),
	}

	create := true
	if id != "" {
		remote, err := c.GetValue(ctx, id)
		switch {
		case err == nil:
			create = false
			merged, changed := mergeValue(remote, local)
			merged.Meta = MetaSchema{ID: id, Type: "value", Version: "2.0"}
			v.schema = merged
			if changed {
				c.logger.Info(ctx, "Value differs from local, updating", "id", id)
				if err := c.PostValue(ctx, d.id, v.outgoing()); err != nil {
					return nil, fmt.Errorf("update value %q: %w", local.Name, err)
				}
			}
			if err := v.loadStates(ctx, ChildIDs(remote.State)); err != nil {
				return nil, err
			}
		case isRejected(err):
		default:
			return nil, fmt.Errorf("load value %q: %w", local.Name, err)
		}
	} else {
		v.id = uuid.NewString()
	}

	if create {
		v.schema = local
		v.schema.State = nil
		v.schema.Meta = MetaSchema{ID: v.id, Type: "value", Version: "2.0"}
		c.logger.Info(ctx, "Creating value", "id", v.id, "name", local.Name)
		if err := c.PostValue(ctx, d.id, v.outgoing()); err != nil {
			return nil, fmt.Errorf("create value %q: %w", local.Name, err)
		}
	}

	if err := v.createStates(ctx); err != nil {
		return nil, err
	}
	v.trackControl()
	return v, nil
}

// mergeValue overlays the set fields of local on remote
//
// The type block (number, string, blob, xml) of local replaces the remote
// one, so a value can change its kind.
func mergeValue(remote, local ValueSchema) (ValueSchema, bool) {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&remote.Name, local.Name)
	set(&remote.Type, local.Type)
	set(&remote.Description, local.Description)
	set(&remote.Period, local.Period)
	set(&remote.Delta, local.Delta)
	if local.Permission != "" && remote.Permission != local.Permission {
		remote.Permission = local.Permission
		changed = true
	}
	if !reflect.DeepEqual(remote.Number, local.Number) ||
		!reflect.DeepEqual(remote.String, local.String) ||
		!reflect.DeepEqual(remote.Blob, local.Blob) ||
		!reflect.DeepEqual(remote.XML, local.XML) {
		remote.Number, remote.String, remote.Blob, remote.XML = local.Number, local.String, local.Blob, local.XML
		changed = true
	}
	return remote, changed
}

// loadStates reads the states of the value and files them by type
func (v *Value) loadStates(ctx context.Context, ids []string) error {
	for _, id := range ids {
		state, err := v.client.GetState(ctx, id)
		if err != nil {
			if isRejected(err) {
				v.client.logger.Warn(ctx, "Skipping unreadable state",
					"value", v.id,
					"state", id,
					"error", err.Error())
				continue
			}
			return fmt.Errorf("load state %s: %w", id, err)
		}
		v.mu.Lock()
		v.states[state.Type] = &state
		v.stateIDs[state.Type] = id
		v.mu.Unlock()
	}
	return nil
}

// createStates posts the states the permission needs but the value lacks
func (v *Value) createStates(ctx context.Context) error {
	v.mu.Lock()
	permission := v.schema.Permission
	v.mu.Unlock()

	for _, t := range permission.StateTypes() {
		if _, ok := v.stateID(t); ok {
			continue
		}
		id := uuid.NewString()
		state := StateSchema{
			Data:      initialStateData,
			Type:      t,
			Timestamp: Timestamp(v.client.clock.Now()),
			Meta:      MetaSchema{ID: id, Type: "state", Version: "2.0"},
		}
		if err := v.client.PostState(ctx, v.id, state); err != nil {
			return fmt.Errorf("create %s state of %q: %w", t, v.Name(), err)
		}
		v.mu.Lock()
		v.states[t] = &state
		v.stateIDs[t] = id
		v.mu.Unlock()
	}
	return nil
}

// trackControl keeps the cached control state in step with the server
func (v *Value) trackControl() {
	id, ok := v.stateID(StateControl)
	if !ok {
		return
	}
	v.callbacks.set("control-track", id, func(call Call) {
		if call.Method == MethodPut {
			v.applyState(StateControl, call.Data)
		}
	})
}

// applyState stores state data received from the server when it is newer
// than the cached state
func (v *Value) applyState(t StateType, data []byte) {
	if len(data) == 0 {
		return
	}
	update := gjson.ParseBytes(data)
	v.mu.Lock()
	defer v.mu.Unlock()
	cached, ok := v.states[t]
	if !ok {
		return
	}
	ts := update.Get("timestamp").String()
	if !newerTimestamp(ts, cached.Timestamp) {
		return
	}
	if d := update.Get("data"); d.Exists() {
		cached.Data = d.String()
	}
	cached.Timestamp = ts
}

// newerTimestamp reports whether a is later than b; an empty b is older
// than anything and an empty or unparsable a is never newer
func newerTimestamp(a, b string) bool {
	ta, err := time.Parse(time.RFC3339Nano, a)
	if err != nil {
		return false
	}
	tb, err := time.Parse(time.RFC3339Nano, b)
	if err != nil {
		return true
	}
	return ta.After(tb)
}

// ID returns the value uuid
func (v *Value) ID() string {
	return v.id
}

// Name returns the value name
func (v *Value) Name() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.schema.Name
}

// Device returns the device the value belongs to
func (v *Value) Device() *Device {
	return v.device
}

// Schema returns a copy of the value object as last known
func (v *Value) Schema() ValueSchema {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.schema
}

func (v *Value) outgoing() ValueSchema {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.schema
	out.State = nil
	return out
}

// State returns a copy of the cached state of type t
func (v *Value) State(t StateType) (StateSchema, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.states[t]
	if !ok {
		return StateSchema{}, false
	}
	return *s, true
}

func (v *Value) stateID(t StateType) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id, ok := v.stateIDs[t]
	return id, ok
}

// Data returns the last reported data, "" without a Report state
func (v *Value) Data() string {
	s, _ := v.State(StateReport)
	return s.Data
}

// Target returns the last controlled data, "" without a Control state
func (v *Value) Target() string {
	s, _ := v.State(StateControl)
	return s.Data
}

// Report sends data as the new reported state
//
// data is sent as text: numbers in their shortest form, booleans as 1 or 0.
// The cached state is only replaced when ts is newer than it. Returns an
// error wrapping ErrNoState when the value has no Report state.
//
// Example:
//
//	if err := temp.Report(ctx, 21.5, time.Now()); err != nil {
//	    log.Println("report failed:", err)
//	}
func (v *Value) Report(ctx context.Context, data any, ts time.Time) error {
	return v.send(ctx, StateReport, data, ts)
}

// Control sends data as the new target state
//
// Returns an error wrapping ErrNoState when the value has no Control state.
func (v *Value) Control(ctx context.Context, data any, ts time.Time) error {
	return v.send(ctx, StateControl, data, ts)
}

func (v *Value) send(ctx context.Context, t StateType, data any, ts time.Time) error {
	id, ok := v.stateID(t)
	if !ok {
		return fmt.Errorf("%s on value %q: %w", t, v.Name(), ErrNoState)
	}
	state := StateSchema{
		Data:      formatData(data),
		Type:      t,
		Timestamp: Timestamp(ts),
	}

	v.mu.Lock()
	if cached := v.states[t]; cached != nil && newerTimestamp(state.Timestamp, cached.Timestamp) {
		cached.Data = state.Data
		cached.Timestamp = state.Timestamp
	}
	state.Meta = MetaSchema{ID: id}
	v.mu.Unlock()

	return v.client.PutState(ctx, id, state)
}

// Refresh reloads the value and its states from the server
func (v *Value) Refresh(ctx context.Context) error {
	remote, err := v.client.GetValue(ctx, v.id)
	if err != nil {
		return err
	}
	v.mu.Lock()
	remote.Meta = v.schema.Meta
	v.schema = remote
	v.mu.Unlock()
	return v.loadStates(ctx, ChildIDs(remote.State))
}

// Delete deletes the value and its states
func (v *Value) Delete(ctx context.Context) error {
	if err := v.client.DeleteValue(ctx, v.id); err != nil {
		return err
	}
	v.Close()

	name := v.Name()
	v.device.mu.Lock()
	if v.device.values[name] == v {
		delete(v.device.values, name)
	}
	v.device.mu.Unlock()
	return nil
}

// Close cancels the callbacks of the value without touching the server
func (v *Value) Close() {
	v.callbacks.cancelAll()
}

// OnChange calls fn when the server changes the value object (period,
// delta, name and the like)
func (v *Value) OnChange(fn func(*Value)) {
	v.callbacks.set(eventChange, v.id, func(call Call) {
		if call.Method != MethodPut {
			return
		}
		var remote ValueSchema
		if err := (Res{Raw: call.Data}).Decode(&remote); err == nil {
			v.mu.Lock()
			v.schema, _ = mergeValue(v.schema, remote)
			v.mu.Unlock()
		}
		fn(v)
	})
}

// CancelOnChange removes the OnChange callback
func (v *Value) CancelOnChange() bool { return v.callbacks.cancel(eventChange) }

// OnCreate calls fn when the server asks the value to be created
func (v *Value) OnCreate(fn func(*Value)) {
	v.callbacks.set(eventCreate, v.id, func(call Call) {
		if call.Method == MethodPost {
			fn(v)
		}
	})
}

// CancelOnCreate removes the OnCreate callback
func (v *Value) CancelOnCreate() bool { return v.callbacks.cancel(eventCreate) }

// OnDelete calls fn when the server deletes the value
func (v *Value) OnDelete(fn func(*Value)) {
	v.callbacks.set(eventDelete, v.id, func(call Call) {
		if call.Method == MethodDelete {
			fn(v)
		}
	})
}

// CancelOnDelete removes the OnDelete callback
func (v *Value) CancelOnDelete() bool { return v.callbacks.cancel(eventDelete) }

// OnRefresh calls fn when the server asks for a fresh report
//
// Returns an error wrapping ErrNoState when the value has no Report state.
//
// Example:
//
//	err := temp.OnRefresh(func(v *wappsto.Value) {
//	    _ = v.Report(ctx, readSensor(), time.Now())
//	})
func (v *Value) OnRefresh(fn func(*Value)) error {
	id, ok := v.stateID(StateReport)
	if !ok {
		return fmt.Errorf("refresh on value %q: %w", v.Name(), ErrNoState)
	}
	v.callbacks.set(eventRefresh, id, func(call Call) {
		if call.Method == MethodGet {
			fn(v)
		}
	})
	return nil
}

// CancelOnRefresh removes the OnRefresh callback
func (v *Value) CancelOnRefresh() bool { return v.callbacks.cancel(eventRefresh) }

// OnControl calls fn with the new target data when the server controls the
// value
//
// Returns an error wrapping ErrNoState when the value has no Control state.
//
// Example:
//
//	err := relay.OnControl(func(v *wappsto.Value, data string) {
//	    setRelay(data == "1")
//	    _ = v.Report(ctx, data, time.Now())
//	})
func (v *Value) OnControl(fn func(*Value, string)) error {
	return v.onStatePut(eventControl, StateControl, fn)
}

// CancelOnControl removes the OnControl callback
func (v *Value) CancelOnControl() bool { return v.callbacks.cancel(eventControl) }

// OnReport calls fn with the data when the server changes the reported
// state
func (v *Value) OnReport(fn func(*Value, string)) error {
	return v.onStatePut(eventReport, StateReport, fn)
}

// CancelOnReport removes the OnReport callback
func (v *Value) CancelOnReport() bool { return v.callbacks.cancel(eventReport) }

func (v *Value) onStatePut(event string, t StateType, fn func(*Value, string)) error {
	id, ok := v.stateID(t)
	if !ok {
		return fmt.Errorf("%s on value %q: %w", event, v.Name(), ErrNoState)
	}
	v.callbacks.set(event, id, func(call Call) {
		if call.Method != MethodPut {
			return
		}
		if t != StateControl {
			v.applyState(t, call.Data)
		}
		fn(v, gjson.GetBytes(call.Data, "data").String())
	})
	return nil
}
