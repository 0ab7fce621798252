// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Device is a physical or logical unit of a Network holding Values
type Device struct {
	client  *Client
	network *Network
	id      string

	mu     sync.Mutex
	schema DeviceSchema
	values map[string]*Value

	callbacks *callbacks
}

// loadDevice loads the device id, or creates it when id is empty
//
// Non-empty fields of local overwrite the stored ones; the device is sent
// again when anything differs.
func loadDevice(ctx context.Context, n *Network, id string, local DeviceSchema) (*Device, error) {
	c := n.client
	d := &Device{
		client:    c,
		network:   n,
		id:        id,
		values:    make(map[string]*Value),
		callbacks: newCallbacks(c),
	}

	if id != "" {
		remote, err := c.GetDevice(ctx, id)
		switch {
		case err == nil:
			merged, changed := mergeDevice(remote, local)
			merged.Meta = MetaSchema{ID: id, Type: "device", Version: "2.0"}
			d.schema = merged
			if !changed {
				c.logger.Debug(ctx, "Loaded device", "id", id, "name", local.Name)
				return d, nil
			}
			c.logger.Info(ctx, "Device differs from local, updating", "id", id)
			if err := c.PostDevice(ctx, n.id, d.outgoing()); err != nil {
				return nil, fmt.Errorf("update device %q: %w", local.Name, err)
			}
			return d, nil
		case isRejected(err):
		default:
			return nil, fmt.Errorf("load device %q: %w", local.Name, err)
		}
	} else {
		d.id = uuid.NewString()
	}

	d.schema = local
	d.schema.Value = nil
	d.schema.Meta = MetaSchema{ID: d.id, Type: "device", Version: "2.0"}
	c.logger.Info(ctx, "Creating device", "id", d.id, "name", local.Name)
	if err := c.PostDevice(ctx, n.id, d.outgoing()); err != nil {
		return nil, fmt.Errorf("create device %q: %w", local.Name, err)
	}
	return d, nil
}

// mergeDevice overlays the non-empty fields of local on remote
func mergeDevice(remote, local DeviceSchema) (DeviceSchema, bool) {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&remote.Name, local.Name)
	set(&remote.Manufacturer, local.Manufacturer)
	set(&remote.Product, local.Product)
	set(&remote.Version, local.Version)
	set(&remote.Serial, local.Serial)
	set(&remote.Description, local.Description)
	set(&remote.Protocol, local.Protocol)
	set(&remote.Communication, local.Communication)
	return remote, changed
}

// ID returns the device uuid
func (d *Device) ID() string {
	return d.id
}

// Name returns the device name
func (d *Device) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.schema.Name
}

// Network returns the network the device belongs to
func (d *Device) Network() *Network {
	return d.network
}

// Schema returns a copy of the device object as last known
func (d *Device) Schema() DeviceSchema {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.schema
}

func (d *Device) outgoing() DeviceSchema {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.schema
	out.Value = nil
	return out
}

// CreateValue creates or loads a value from a preset
//
// Example:
//
//	temp, err := device.CreateValue(ctx, "Temperature", wappsto.ValueTemperature)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = temp.Report(ctx, 21.5, time.Now())
func (d *Device) CreateValue(ctx context.Context, name string, preset ValueType) (*Value, error) {
	schema, err := Preset(preset)
	if err != nil {
		return nil, err
	}
	schema.Name = name
	return d.CreateValueFromSchema(ctx, schema)
}

// CreateValueFromSchema creates or loads a value described by schema
//
// The value is looked up by name. States matching its permission are
// created when missing.
func (d *Device) CreateValueFromSchema(ctx context.Context, schema ValueSchema) (*Value, error) {
	if err := CheckName(schema.Name); err != nil {
		return nil, err
	}
	if err := checkValueSchema(schema); err != nil {
		return nil, err
	}

	id, err := d.client.GetValueWhere(ctx, d.id, "name", schema.Name)
	switch {
	case err == nil:
	case isNotFound(err):
		id = ""
	default:
		return nil, fmt.Errorf("find value %q: %w", schema.Name, err)
	}

	v, err := loadValue(ctx, d, id, schema)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.values[schema.Name] = v
	d.mu.Unlock()
	return v, nil
}

// checkValueSchema requires exactly one of number, string, blob and xml
func checkValueSchema(schema ValueSchema) error {
	n := 0
	for _, set := range []bool{schema.Number != nil, schema.String != nil, schema.Blob != nil, schema.XML != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("value %q must be exactly one of number, string, blob or xml", schema.Name)
	}
	if schema.Permission.StateTypes() == nil && schema.Permission != PermissionNone {
		return fmt.Errorf("value %q: unknown permission %q", schema.Name, schema.Permission)
	}
	return nil
}

// Value returns a value created on this device by name
func (d *Device) Value(name string) (*Value, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.values[name]
	return v, ok
}

// Values returns the values created on this device
func (d *Device) Values() []*Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Value, 0, len(d.values))
	for _, v := range d.values {
		out = append(out, v)
	}
	return out
}

// OnChange calls fn when the server changes the device
func (d *Device) OnChange(fn func(*Device)) {
	d.callbacks.set(eventChange, d.id, d.onMethod(MethodPut, fn))
}

// CancelOnChange removes the OnChange callback
func (d *Device) CancelOnChange() bool { return d.callbacks.cancel(eventChange) }

// OnCreate calls fn when the server asks the device to be created
func (d *Device) OnCreate(fn func(*Device)) {
	d.callbacks.set(eventCreate, d.id, d.onMethod(MethodPost, fn))
}

// CancelOnCreate removes the OnCreate callback
func (d *Device) CancelOnCreate() bool { return d.callbacks.cancel(eventCreate) }

// OnRefresh calls fn when the server asks for fresh device data
func (d *Device) OnRefresh(fn func(*Device)) {
	d.callbacks.set(eventRefresh, d.id, d.onMethod(MethodGet, fn))
}

// CancelOnRefresh removes the OnRefresh callback
func (d *Device) CancelOnRefresh() bool { return d.callbacks.cancel(eventRefresh) }

// OnDelete calls fn when the server deletes the device
//
// Example:
//
//	device.OnDelete(func(d *wappsto.Device) {
//	    log.Printf("device %s removed from the platform", d.Name())
//	})
func (d *Device) OnDelete(fn func(*Device)) {
	d.callbacks.set(eventDelete, d.id, d.onMethod(MethodDelete, fn))
}

// CancelOnDelete removes the OnDelete callback
func (d *Device) CancelOnDelete() bool { return d.callbacks.cancel(eventDelete) }

func (d *Device) onMethod(method Method, fn func(*Device)) Handler {
	return func(call Call) {
		if call.Method != method {
			return
		}
		if method == MethodPut && len(call.Data) > 0 {
			var remote DeviceSchema
			if err := (Res{Raw: call.Data}).Decode(&remote); err == nil {
				d.mu.Lock()
				d.schema, _ = mergeDevice(d.schema, remote)
				d.mu.Unlock()
			}
		}
		fn(d)
	}
}

// Refresh reloads the device from the server
func (d *Device) Refresh(ctx context.Context) error {
	remote, err := d.client.GetDevice(ctx, d.id)
	if err != nil {
		return err
	}
	d.mu.Lock()
	remote.Meta = d.schema.Meta
	d.schema = remote
	d.mu.Unlock()
	return nil
}

// Delete deletes the device and its values
func (d *Device) Delete(ctx context.Context) error {
	if err := d.client.DeleteDevice(ctx, d.id); err != nil {
		return err
	}
	d.Close()

	name := d.Name()
	d.network.mu.Lock()
	if d.network.devices[name] == d {
		delete(d.network.devices, name)
	}
	d.network.mu.Unlock()
	return nil
}

// Close cancels the callbacks of the device and its values
func (d *Device) Close() {
	d.callbacks.cancelAll()
	for _, v := range d.Values() {
		v.Close()
	}
}
