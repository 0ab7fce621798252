// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

const (
	testDeviceID = "3c1f0b7e-6a2d-4f5b-9e8c-7d6a5b4c3e2f"
	testValueID  = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"
)

func TestIoTAPIRoundTrip(t *testing.T) {
	server := newFakeServer()
	c := newTestClient(t, newFakeTransport(server.respond))
	ctx := context.Background()

	network := NetworkSchema{Name: "Greenhouse", Meta: MetaSchema{ID: testNetworkUUID, Type: "network", Version: "2.0"}}
	if err := c.PostNetwork(ctx, network); err != nil {
		t.Fatalf("PostNetwork: %v", err)
	}
	device := DeviceSchema{Name: "Sensor", Manufacturer: "ACME", Meta: MetaSchema{ID: testDeviceID}}
	if err := c.PostDevice(ctx, testNetworkUUID, device); err != nil {
		t.Fatalf("PostDevice: %v", err)
	}

	got, err := c.GetNetwork(ctx, testNetworkUUID)
	if err != nil {
		t.Fatalf("GetNetwork: %v", err)
	}
	if got.Name != "Greenhouse" || got.Meta.ID != testNetworkUUID {
		t.Errorf("GetNetwork() = %+v", got)
	}
	if ids := ChildIDs(got.Device); len(ids) != 1 || ids[0] != testDeviceID {
		t.Errorf("network devices = %v", ids)
	}

	gotDevice, err := c.GetDevice(ctx, testDeviceID)
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if gotDevice.Manufacturer != "ACME" {
		t.Errorf("GetDevice() = %+v", gotDevice)
	}

	device.Product = "Thermo"
	if err := c.PutDevice(ctx, testDeviceID, device); err != nil {
		t.Fatalf("PutDevice: %v", err)
	}
	raw, _ := server.object(deviceURL(testDeviceID))
	if gjson.Get(raw, "product").String() != "Thermo" {
		t.Errorf("stored device = %s", raw)
	}

	if err := c.DeleteDevice(ctx, testDeviceID); err != nil {
		t.Fatalf("DeleteDevice: %v", err)
	}
	if _, err := c.GetDevice(ctx, testDeviceID); !isRejected(err) {
		t.Errorf("GetDevice after delete = %v, want a rejected request", err)
	}
	if err := c.DeleteNetwork(ctx, testNetworkUUID); err != nil {
		t.Fatalf("DeleteNetwork: %v", err)
	}
}

func TestIoTAPISearch(t *testing.T) {
	server := newFakeServer()
	server.put("network", testNetworkUUID, "", `{"name":"n"}`)
	server.put("device", testDeviceID, "/network/"+testNetworkUUID+"/device", `{"name":"Living room/1"}`)
	c := newTestClient(t, newFakeTransport(server.respond))
	ctx := context.Background()

	id, err := c.GetDeviceWhere(ctx, testNetworkUUID, "name", "Living room/1")
	if err != nil {
		t.Fatalf("GetDeviceWhere: %v", err)
	}
	if id != testDeviceID {
		t.Errorf("GetDeviceWhere() = %q", id)
	}
	// The value is escaped in the query
	if server.count("GET", "/network/"+testNetworkUUID+"/device?this_name==Living+room%2F1") != 1 {
		t.Error("search value not escaped in the query")
	}

	_, err = c.GetDeviceWhere(ctx, testNetworkUUID, "name", "Kitchen")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDeviceWhere(Kitchen) = %v, want ErrNotFound", err)
	}

	_, err = c.GetValueWhere(ctx, testDeviceID, "name", "Temperature")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetValueWhere() = %v, want ErrNotFound", err)
	}
}

func TestIoTAPIStates(t *testing.T) {
	server := newFakeServer()
	server.put("value", testValueID, "", `{"name":"Temperature","permission":"r"}`)
	c := newTestClient(t, newFakeTransport(server.respond))
	ctx := context.Background()

	stateID := "0f1e2d3c-4b5a-4978-8695-a4b3c2d1e0f9"
	ts := Timestamp(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	err := c.PostState(ctx, testValueID, StateSchema{Data: "NaN", Type: StateReport, Timestamp: ts, Meta: MetaSchema{ID: stateID}})
	if err != nil {
		t.Fatalf("PostState: %v", err)
	}
	if err := c.PutState(ctx, stateID, StateSchema{Data: "21.5", Type: StateReport, Timestamp: ts}); err != nil {
		t.Fatalf("PutState: %v", err)
	}

	state, err := c.GetState(ctx, stateID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.Data != "21.5" || state.Type != StateReport || state.Timestamp != "2025-03-01T12:00:00.000000Z" {
		t.Errorf("GetState() = %+v", state)
	}

	value, err := c.GetValue(ctx, testValueID)
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if ids := ChildIDs(value.State); len(ids) != 1 || ids[0] != stateID {
		t.Errorf("value states = %v", ids)
	}

	if err := c.DeleteState(ctx, stateID); err != nil {
		t.Fatalf("DeleteState: %v", err)
	}
	if err := c.DeleteValue(ctx, testValueID); err != nil {
		t.Fatalf("DeleteValue: %v", err)
	}
}

func TestIoTAPIGetCannotBeBatched(t *testing.T) {
	server := newFakeServer()
	server.put("network", testNetworkUUID, "", `{"name":"n"}`)
	c := newTestClient(t, newFakeTransport(server.respond))

	err := c.Batch(context.Background(), func() error {
		_, err := c.GetNetwork(context.Background(), testNetworkUUID)
		return err
	})
	if err == nil {
		t.Fatal("GET inside a batch succeeded")
	}
}

func TestIoTAPISubscribeEvents(t *testing.T) {
	transport := newFakeTransport(nil)
	c := newTestClient(t, transport)

	calls := make(chan Call, 4)
	handler := func(call Call) { calls <- call }
	subs := []*Subscription{
		c.SubscribeNetworkEvent(testNetworkUUID, handler),
		c.SubscribeDeviceEvent(testDeviceID, handler),
		c.SubscribeValueEvent(testValueID, handler),
		c.SubscribeStateEvent(testStateID, handler),
	}

	urls := []string{
		networkURL(testNetworkUUID),
		deviceURL(testDeviceID),
		valueURL(testValueID),
		stateURL(testStateID),
	}
	for i, u := range urls {
		transport.inject(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"DELETE","params":{"url":"%s"}}`, i+1, u))
		select {
		case call := <-calls:
			if call.UUID != subs[i].UUID() || call.URL != u {
				t.Errorf("call = %+v, want %s", call, u)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no call for %s", u)
		}
	}
}
