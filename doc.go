// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// Package wappsto connects devices to the Wappsto IoT platform over
// JSON-RPC 2.0.
//
// The client keeps one long-lived connection to the collector (mutual TLS
// or WebSocket), correlates replies with the requests that caused them and
// dispatches calls the server makes to handlers subscribed by object uuid.
// On top of the engine sit the IoT API (networks, devices, values and
// states) and the Network, Device and Value types that create or load the
// object tree of a device.
//
// # Quick Start
//
// Open a client from a provisioning folder (ca.crt, client.crt, client.key
// and an optional config.json) and report a value:
//
//	ctx := context.Background()
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
//	device, err := network.CreateDevice(ctx, wappsto.DeviceSchema{Name: "Weather station"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	temp, err := device.CreateValue(ctx, "Temperature", wappsto.ValueTemperature)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = temp.Report(ctx, 21.5, time.Now())
//
// # Raw Requests
//
// Every request can also be sent directly. Build payloads with Body and read
// results with gjson paths:
//
//	body := wappsto.Body{}.
//	    Set("data", "21.5").
//	    Set("type", "Report").
//	    Set("timestamp", wappsto.Timestamp(time.Now()))
//
//	res, err := client.SendRequest(ctx, wappsto.MethodPut, "/state/"+stateID, body)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Value().Bool())
//
// # Incoming Calls
//
// The server controls values by calling the client. Subscribe routes calls
// by the last segment of params.url; every call with an id is acknowledged
// whether or not anybody subscribed:
//
//	sub := client.Subscribe(stateID, func(call wappsto.Call) {
//	    log.Printf("%s %s %s", call.Method, call.URL, call.Data)
//	})
//	defer client.Unsubscribe(stateID, sub)
//
// # Batches and Fast Mode
//
// Requests sent inside Batch are written as one JSON array when the
// outermost scope ends. FastSend asks the server not to reply to POST, PUT
// and DELETE, trading confirmation for throughput.
//
// # Errors
//
// Operations return *WappstoError values wrapping the sentinels ErrTimeout,
// ErrNotConnected, ErrClosed and friends. IsTransient tells failures that
// may succeed on retry from those that will not:
//
//	if _, err := client.SendRequest(ctx, wappsto.MethodGet, url, nil); err != nil {
//	    if wappsto.IsTransient(err) {
//	        // retry later, or let offline storage resend it
//	    }
//	}
//
// # Offline Storage
//
// WithOfflineStorage keeps frames that failed for transient reasons and
// resends them once the connection is back. The offline subpackage provides
// file and SQLite backed stores.
//
// # Thread Safety
//
// All Client methods are safe for concurrent use. Subscriber callbacks run
// on a bounded worker pool; status callbacks run on a goroutine per
// subscriber and see events in posting order.
//
// # References
//
//   - JSON-RPC 2.0: https://www.jsonrpc.org/specification
//   - Wappsto: https://wappsto.com
//   - gjson: https://github.com/tidwall/gjson
//   - sjson: https://github.com/tidwall/sjson
package wappsto
