// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import "time"

// TimestampFormat is the layout of every timestamp the platform accepts
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// Timestamp formats t in UTC the way state timestamps are sent
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// StateType tells a reported state from a controlled one
type StateType string

const (
	StateReport  StateType = "Report"
	StateControl StateType = "Control"
)

// Permission is the access a Value grants the platform
type Permission string

const (
	PermissionRead      Permission = "r"
	PermissionWrite     Permission = "w"
	PermissionReadWrite Permission = "rw"
	PermissionWriteRead Permission = "wr"
	PermissionNone      Permission = "none"
)

// StateTypes returns the states a value with permission p carries
func (p Permission) StateTypes() []StateType {
	switch p {
	case PermissionRead:
		return []StateType{StateReport}
	case PermissionWrite:
		return []StateType{StateControl}
	case PermissionReadWrite, PermissionWriteRead:
		return []StateType{StateReport, StateControl}
	}
	return nil
}

// MetaSchema is the meta object every platform object carries
type MetaSchema struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type,omitempty"`
	Version string `json:"version,omitempty"`
	Created string `json:"created,omitempty"`
	Updated string `json:"updated,omitempty"`
}

// InfoSchema is the info object of networks, devices and values
type InfoSchema struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// NetworkSchema is a network object
//
// Children are either uuid strings or full objects depending on the
// expansion the server applied; use ChildIDs to read their ids.
type NetworkSchema struct {
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
	Device      []any       `json:"device,omitempty"`
	Meta        MetaSchema  `json:"meta"`
	Info        *InfoSchema `json:"info,omitempty"`
}

// DeviceSchema is a device object
type DeviceSchema struct {
	Name          string      `json:"name,omitempty"`
	Manufacturer  string      `json:"manufacturer,omitempty"`
	Product       string      `json:"product,omitempty"`
	Version       string      `json:"version,omitempty"`
	Serial        string      `json:"serial,omitempty"`
	Description   string      `json:"description,omitempty"`
	Protocol      string      `json:"protocol,omitempty"`
	Communication string      `json:"communication,omitempty"`
	Value         []any       `json:"value,omitempty"`
	Meta          MetaSchema  `json:"meta"`
	Info          *InfoSchema `json:"info,omitempty"`
}

// NumberSchema describes a numeric value
//
// Min, Max and Step are always sent, a zero minimum is meaningful.
type NumberSchema struct {
	Min            float64        `json:"min"`
	Max            float64        `json:"max"`
	Step           float64        `json:"step"`
	Unit           string         `json:"unit,omitempty"`
	SIConversion   string         `json:"si_conversion,omitempty"`
	Mapping        map[string]any `json:"mapping,omitempty"`
	MeaningfulZero *bool          `json:"meaningful_zero,omitempty"`
	OrderedMapping *bool          `json:"ordered_mapping,omitempty"`
}

// StringSchema describes a text value
type StringSchema struct {
	Max      int    `json:"max,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// BlobSchema describes a binary value carried as encoded text
type BlobSchema struct {
	Max      int    `json:"max,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// XMLSchema describes an XML value
type XMLSchema struct {
	XSD       string `json:"xsd,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// ValueSchema is a value object
//
// Exactly one of Number, String, Blob and XML is set.
type ValueSchema struct {
	Name        string        `json:"name,omitempty"`
	Type        string        `json:"type,omitempty"`
	Description string        `json:"description,omitempty"`
	Period      string        `json:"period,omitempty"`
	Delta       string        `json:"delta,omitempty"`
	Permission  Permission    `json:"permission,omitempty"`
	Number      *NumberSchema `json:"number,omitempty"`
	String      *StringSchema `json:"string,omitempty"`
	Blob        *BlobSchema   `json:"blob,omitempty"`
	XML         *XMLSchema    `json:"xml,omitempty"`
	State       []any         `json:"state,omitempty"`
	Meta        MetaSchema    `json:"meta"`
	Info        *InfoSchema   `json:"info,omitempty"`
}

// StateSchema is a state object holding the data of a value
type StateSchema struct {
	Data      string     `json:"data"`
	Type      StateType  `json:"type,omitempty"`
	Timestamp string     `json:"timestamp,omitempty"`
	Meta      MetaSchema `json:"meta"`
}

// IDList is the reply to a search
type IDList struct {
	ID    []string `json:"id"`
	More  bool     `json:"more"`
	Limit int      `json:"limit"`
	Count int      `json:"count"`
}

// ChildIDs returns the ids of a child list, whether the server sent uuid
// strings or expanded objects
func ChildIDs(children []any) []string {
	ids := make([]string, 0, len(children))
	for _, child := range children {
		switch v := child.(type) {
		case string:
			ids = append(ids, v)
		case map[string]any:
			if meta, ok := v["meta"].(map[string]any); ok {
				if id, ok := meta["id"].(string); ok && id != "" {
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}
