// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Network is the root of the object tree a client reports under
//
// A Network holds a non-owning handle to its client: closing the client is
// the caller's business, and the Network is unusable afterwards.
type Network struct {
	client *Client
	id     string

	mu      sync.Mutex
	schema  NetworkSchema
	devices map[string]*Device

	callbacks *callbacks
}

// CreateNetwork creates or loads the network of the client's provisioning
// folder
//
// The network uuid comes from the client certificate. An existing network
// is loaded and its name and description updated when they differ.
//
// Example:
//
//	client, err := wappsto.Open(ctx, "./config")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	network, err := wappsto.CreateNetwork(ctx, client, "Greenhouse", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
func CreateNetwork(ctx context.Context, client *Client, name, description string) (*Network, error) {
	cfg := client.Config()
	if cfg == nil {
		return nil, fmt.Errorf("client has no provisioning config, use LoadNetwork with an explicit id")
	}
	return LoadNetwork(ctx, client, cfg.NetworkUUID, name, description)
}

// LoadNetwork creates or loads the network with the given uuid
func LoadNetwork(ctx context.Context, client *Client, id, name, description string) (*Network, error) {
	if err := CheckName(name); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("network id %q: %w", id, err)
	}

	n := &Network{
		client:    client,
		id:        id,
		devices:   make(map[string]*Device),
		callbacks: newCallbacks(client),
		schema: NetworkSchema{
			Name:        name,
			Description: description,
			Meta:        MetaSchema{ID: id, Type: "network", Version: "2.0"},
		},
	}

	remote, err := client.GetNetwork(ctx, id)
	switch {
	case err == nil:
		changed := remote.Name != name || (description != "" && remote.Description != description)
		if description == "" {
			n.schema.Description = remote.Description
		}
		n.schema.Device = remote.Device
		if !changed {
			client.logger.Debug(ctx, "Loaded network", "id", id)
			return n, nil
		}
		client.logger.Info(ctx, "Network differs from local, updating", "id", id)
	case isRejected(err):
		client.logger.Info(ctx, "Network not found, creating", "id", id)
	default:
		return nil, fmt.Errorf("load network %s: %w", id, err)
	}

	if err := client.PostNetwork(ctx, n.outgoing()); err != nil {
		return nil, fmt.Errorf("create network %s: %w", id, err)
	}
	return n, nil
}

// ID returns the network uuid
func (n *Network) ID() string {
	return n.id
}

// Name returns the network name
func (n *Network) Name() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.schema.Name
}

// Schema returns a copy of the network object as last known
func (n *Network) Schema() NetworkSchema {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.schema
}

// outgoing is the schema sent on create, without children
func (n *Network) outgoing() NetworkSchema {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.schema
	out.Device = nil
	return out
}

// CreateDevice creates or loads the device with the name in schema
//
// The device is looked up by name; an unknown name gets a fresh uuid.
// Fields set in schema overwrite the stored ones.
//
// Example:
//
//	device, err := network.CreateDevice(ctx, wappsto.DeviceSchema{
//	    Name:          "Weather station",
//	    Manufacturer:  "ACME",
//	    Protocol:      "JsonRPC",
//	    Communication: "WiFi",
//	})
func (n *Network) CreateDevice(ctx context.Context, schema DeviceSchema) (*Device, error) {
	if err := CheckName(schema.Name); err != nil {
		return nil, err
	}

	id, err := n.client.GetDeviceWhere(ctx, n.id, "name", schema.Name)
	switch {
	case err == nil:
	case isNotFound(err):
		id = ""
	default:
		return nil, fmt.Errorf("find device %q: %w", schema.Name, err)
	}

	d, err := loadDevice(ctx, n, id, schema)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.devices[schema.Name] = d
	n.mu.Unlock()
	return d, nil
}

// Device returns a device created on this network by name
func (n *Network) Device(name string) (*Device, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	d, ok := n.devices[name]
	return d, ok
}

// Devices returns the devices created on this network
func (n *Network) Devices() []*Device {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Device, 0, len(n.devices))
	for _, d := range n.devices {
		out = append(out, d)
	}
	return out
}

// OnChange calls fn when the server changes the network
func (n *Network) OnChange(fn func(*Network)) {
	n.callbacks.set(eventChange, n.id, n.onMethod(MethodPut, fn))
}

// CancelOnChange removes the OnChange callback
func (n *Network) CancelOnChange() bool { return n.callbacks.cancel(eventChange) }

// OnCreate calls fn when the server asks the network to be created
func (n *Network) OnCreate(fn func(*Network)) {
	n.callbacks.set(eventCreate, n.id, n.onMethod(MethodPost, fn))
}

// CancelOnCreate removes the OnCreate callback
func (n *Network) CancelOnCreate() bool { return n.callbacks.cancel(eventCreate) }

// OnRefresh calls fn when the server asks for fresh network data
func (n *Network) OnRefresh(fn func(*Network)) {
	n.callbacks.set(eventRefresh, n.id, n.onMethod(MethodGet, fn))
}

// CancelOnRefresh removes the OnRefresh callback
func (n *Network) CancelOnRefresh() bool { return n.callbacks.cancel(eventRefresh) }

// OnDelete calls fn when the server deletes the network
func (n *Network) OnDelete(fn func(*Network)) {
	n.callbacks.set(eventDelete, n.id, n.onMethod(MethodDelete, fn))
}

// CancelOnDelete removes the OnDelete callback
func (n *Network) CancelOnDelete() bool { return n.callbacks.cancel(eventDelete) }

func (n *Network) onMethod(method Method, fn func(*Network)) Handler {
	return func(call Call) {
		if call.Method != method {
			return
		}
		if method == MethodPut && len(call.Data) > 0 {
			var remote NetworkSchema
			if err := (Res{Raw: call.Data}).Decode(&remote); err == nil {
				n.mu.Lock()
				if remote.Name != "" {
					n.schema.Name = remote.Name
				}
				if remote.Description != "" {
					n.schema.Description = remote.Description
				}
				n.mu.Unlock()
			}
		}
		fn(n)
	}
}

// Refresh reloads the network from the server
func (n *Network) Refresh(ctx context.Context) error {
	remote, err := n.client.GetNetwork(ctx, n.id)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.schema.Name = remote.Name
	n.schema.Description = remote.Description
	n.schema.Device = remote.Device
	n.mu.Unlock()
	return nil
}

// Delete deletes the network and every object below it
//
// The callbacks of the network and its devices are cancelled.
func (n *Network) Delete(ctx context.Context) error {
	if err := n.client.DeleteNetwork(ctx, n.id); err != nil {
		return err
	}
	n.Close()
	return nil
}

// Close cancels the callbacks of the network and its devices without
// touching the server
func (n *Network) Close() {
	n.callbacks.cancelAll()
	for _, d := range n.Devices() {
		d.Close()
	}
}
