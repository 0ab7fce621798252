// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"
	"fmt"
	"net/url"
)

// Object URLs of the IoT API
//
// Creation URLs end in a slash, object URLs carry the object uuid last so
// incoming calls can be routed by it.
func networkURL(id string) string { return "/network/" + id }
func deviceURL(id string) string { return "/device/" + id }
func valueURL(id string) string { return "/value/" + id }
func stateURL(id string) string { return "/state/" + id }
func networkDevicesURL(id string) string { return "/network/" + id + "/device/" }
func deviceValuesURL(id string) string { return "/device/" + id + "/value/" }
func valueStatesURL(id string) string { return "/value/" + id + "/state/" }

// PostNetwork creates a network; data.Meta.ID chooses its uuid
func (c *Client) PostNetwork(ctx context.Context, data NetworkSchema, mods ...func(*Req)) error {
	_, err := c.SendRequest(ctx, MethodPost, "/network/", data, mods...)
	return err
}

// PutNetwork updates a network
func (c *Client) PutNetwork(ctx context.Context, id string, data NetworkSchema, mods ...func(*Req)) error {
	_, err := c.SendRequest(ctx, MethodPut, networkURL(id), data, mods...)
	return err
}

// GetNetwork reads a network
func (c *Client) GetNetwork(ctx context.Context, id string, mods ...func(*Req)) (NetworkSchema, error) {
	var out NetworkSchema
	err := c.get(ctx, networkURL(id), &out, mods)
	return out, err
}

// DeleteNetwork deletes a network and everything below it
func (c *Client) DeleteNetwork(ctx context.Context, id string, mods ...func(*Req)) error {
	_, err := c.SendRequest(ctx, MethodDelete, networkURL(id), nil, mods...)
	return err
}

// SubscribeNetworkEvent routes calls for network id to handler
func (c *Client) SubscribeNetworkEvent(id string, handler Handler) *Subscription {
	return c.Subscribe(id, handler)
}

// PostDevice creates a device under network networkID
func (c *Client) PostDevice(ctx context.Context, networkID string, data DeviceSchema, mods ...func(*Req)) error {
	_, err := c.SendRequest(ctx, MethodPost, networkDevicesURL(networkID), data, mods...)
	return err
}

// PutDevice updates a device
func (c *Client) PutDevice(ctx context.Context, id string, data DeviceSchema, mods ...func(*Req)) error {
	_, err := c.SendRequest(ctx, MethodPut, deviceURL(id), data, mods...)
	return err
}

// GetDevice reads a device
func (c *Client) GetDevice(ctx context.Context, id string, mods ...func(*Req)) (DeviceSchema, error) {
	var out DeviceSchema
	err := c.get(ctx, deviceURL(id), &out, mods)
	return out, err
}

// DeleteDevice deletes a device and its values
func (c *Client) DeleteDevice(ctx context.Context, id string, mods ...func(*Req)) error {
	_, err := c.SendRequest(ctx, MethodDelete, deviceURL(id), nil, mods...)
	return err
}

// GetDeviceWhere returns the id of the first device of a network whose
// field key equals value
//
// Returns an error wrapping ErrNotFound when nothing matches.
//
// Example:
//
//	id, err := client.GetDeviceWhere(ctx, networkID, "name", "Sensor")
//	if errors.Is(err, wappsto.ErrNotFound) {
//	    // create it
//	}
func (c *Client) GetDeviceWhere(ctx context.Context, networkID, key, value string, mods ...func(*Req)) (string, error) {
	return c.search(ctx, "/network/"+networkID+"/device", key, value, mods)
}

// SubscribeDeviceEvent routes calls for device id to handler
func (c *Client) SubscribeDeviceEvent(id string, handler Handler) *Subscription {
	return c.Subscribe(id, handler)
}

// PostValue creates a value under device deviceID
func (c *Client) PostValue(ctx context.Context, deviceID string, data ValueSchema, mods ...func(*Req)) error {
	_, err := c.SendRequest(ctx, MethodPost, deviceValuesURL(deviceID), data, mods...)
	return err
}

// PutValue updates a value
func (c *Client) PutValue(ctx context.Context, id string, data ValueSchema, mods ...func(*Req)) error {
	_, err := c.SendRequest(ctx, MethodPut, valueURL(id), data, mods...)
	return err
}

// GetValue reads a value
func (c *Client) GetValue(ctx context.Context, id string, mods ...func(*Req)) (ValueSchema, error) {
	var out ValueSchema
	err := c.get(ctx, valueURL(id), &out, mods)
	return out, err
}

// DeleteValue deletes a value and its states
func (c *Client) DeleteValue(ctx context.Context, id string, mods ...func(*Req)) error {
	_, err := c.SendRequest(ctx, MethodDelete, valueURL(id), nil, mods...)
	return err
}

// GetValueWhere returns the id of the first value of a device whose field
// key equals value
func (c *Client) GetValueWhere(ctx context.Context, deviceID, key, value string, mods ...func(*Req)) (string, error) {
	return c.search(ctx, "/device/"+deviceID+"/value", key, value, mods)
}

// SubscribeValueEvent routes calls for value id to handler
func (c *Client) SubscribeValueEvent(id string, handler Handler) *Subscription {
	return c.Subscribe(id, handler)
}

// PostState creates a state under value valueID
func (c *Client) PostState(ctx context.Context, valueID string, data StateSchema, mods ...func(*Req)) error {
	_, err := c.SendRequest(ctx, MethodPost, valueStatesURL(valueID), data, mods...)
	return err
}

// PutState updates a state
//
// Example:
//
//	err := client.PutState(ctx, stateID, wappsto.StateSchema{
//	    Data:      "21.5",
//	    Type:      wappsto.StateReport,
//	    Timestamp: wappsto.Timestamp(time.Now()),
//	})
func (c *Client) PutState(ctx context.Context, id string, data StateSchema, mods ...func(*Req)) error {
	_, err := c.SendRequest(ctx, MethodPut, stateURL(id), data, mods...)
	return err
}

// GetState reads a state
func (c *Client) GetState(ctx context.Context, id string, mods ...func(*Req)) (StateSchema, error) {
	var out StateSchema
	err := c.get(ctx, stateURL(id), &out, mods)
	return out, err
}

// DeleteState deletes a state
func (c *Client) DeleteState(ctx context.Context, id string, mods ...func(*Req)) error {
	_, err := c.SendRequest(ctx, MethodDelete, stateURL(id), nil, mods...)
	return err
}

// SubscribeStateEvent routes calls for state id to handler
func (c *Client) SubscribeStateEvent(id string, handler Handler) *Subscription {
	return c.Subscribe(id, handler)
}

// get reads an object and decodes it into out
func (c *Client) get(ctx context.Context, url string, out any, mods []func(*Req)) error {
	res, err := c.SendRequest(ctx, MethodGet, url, nil, mods...)
	if err != nil {
		return err
	}
	if res.Batched {
		return fmt.Errorf("GET %s: reads cannot be batched", url)
	}
	return res.Decode(out)
}

// search runs a this_<key>==<value> query and returns the first id
func (c *Client) search(ctx context.Context, base, key, value string, mods []func(*Req)) (string, error) {
	query := fmt.Sprintf("%s?this_%s==%s", base, key, url.QueryEscape(value))
	var ids IDList
	if err := c.get(ctx, query, &ids, mods); err != nil {
		return "", err
	}
	if len(ids.ID) == 0 {
		return "", fmt.Errorf("%s %s=%q: %w", base, key, value, ErrNotFound)
	}
	return ids.ID[0], nil
}
