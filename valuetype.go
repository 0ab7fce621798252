// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import "fmt"

// ValueType names a value preset
type ValueType string

// Value presets accepted by Device.CreateValue
const (
	ValueDefault     ValueType = "Default"
	ValueString      ValueType = "String"
	ValueNumber      ValueType = "Number"
	ValueBlob        ValueType = "Blob"
	ValueXML         ValueType = "Xml"
	ValueTemperature ValueType = "TemperatureCelcius"
	ValueBoolean     ValueType = "Boolean"
	ValueLatitude    ValueType = "Latitude"
	ValueLongitude   ValueType = "Longitude"
)

var meaningfulZero = true

// valuePresets holds the schema each preset starts from
var valuePresets = map[ValueType]ValueSchema{
	ValueDefault: {
		Type:       "Number",
		Permission: PermissionReadWrite,
		Number:     &NumberSchema{Min: 0, Max: 255, Step: 1},
	},
	ValueString: {
		Type:       "String",
		Permission: PermissionReadWrite,
		String:     &StringSchema{Max: 64, Encoding: "utf-8"},
	},
	ValueNumber: {
		Type:       "Number",
		Permission: PermissionReadWrite,
		Number:     &NumberSchema{Min: -1e38, Max: 1e38, Step: 1e-38},
	},
	ValueBlob: {
		Type:       "Blob",
		Permission: PermissionReadWrite,
		Blob:       &BlobSchema{Max: 64, Encoding: "base64"},
	},
	ValueXML: {
		Type:       "Xml",
		Permission: PermissionReadWrite,
		XML:        &XMLSchema{},
	},
	ValueTemperature: {
		Type:       "Temperature",
		Permission: PermissionRead,
		Number:     &NumberSchema{Min: -273, Max: 1e38, Step: 0.01, Unit: "°C", MeaningfulZero: &meaningfulZero},
	},
	ValueLatitude: {
		Type:       "latitude",
		Permission: PermissionRead,
		Number:     &NumberSchema{Min: -90, Max: 90, Step: 0.000001, Unit: "°N", MeaningfulZero: &meaningfulZero},
	},
	ValueLongitude: {
		Type:       "longitude",
		Permission: PermissionRead,
		Number:     &NumberSchema{Min: -180, Max: 180, Step: 0.000001, Unit: "°E", MeaningfulZero: &meaningfulZero},
	},
	ValueBoolean: {
		Type:       "boolean",
		Permission: PermissionReadWrite,
		Number:     &NumberSchema{Min: 0, Max: 1, Step: 1, Unit: "Boolean", MeaningfulZero: &meaningfulZero},
	},
}

// Preset returns a fresh copy of the schema for a value preset
//
// The copy may be changed freely before it is passed to CreateValue.
func Preset(t ValueType) (ValueSchema, error) {
	preset, ok := valuePresets[t]
	if !ok {
		return ValueSchema{}, fmt.Errorf("unknown value type %q", t)
	}
	if preset.Number != nil {
		n := *preset.Number
		if n.MeaningfulZero != nil {
			mz := *n.MeaningfulZero
			n.MeaningfulZero = &mz
		}
		preset.Number = &n
	}
	if preset.String != nil {
		s := *preset.String
		preset.String = &s
	}
	if preset.Blob != nil {
		b := *preset.Blob
		preset.Blob = &b
	}
	if preset.XML != nil {
		x := *preset.XML
		preset.XML = &x
	}
	return preset, nil
}
