package models

import (
	"strings"
	"time"
)

// DeviceType is the classified category of a monitored endpoint.
type DeviceType string

const (
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeMobile  DeviceType = "mobile"
	DeviceTypeTablet  DeviceType = "tablet"
	DeviceTypeOther   DeviceType = "other"
)

// DeviceTypes lists the classified categories in display order.
var DeviceTypes = []DeviceType{DeviceTypeDesktop, DeviceTypeMobile, DeviceTypeTablet, DeviceTypeOther}

// ClassifyDeviceType maps the raw platform string reported by a device to one
// of the classified categories. Matching is case-insensitive substring match;
// anything that matches none of the three known categories, including an
// empty string, classifies as other.
func ClassifyDeviceType(raw string) DeviceType {
	lowered := strings.ToLower(raw)

	switch {
	case strings.Contains(lowered, string(DeviceTypeDesktop)):
		return DeviceTypeDesktop
	case strings.Contains(lowered, string(DeviceTypeMobile)):
		return DeviceTypeMobile
	case strings.Contains(lowered, string(DeviceTypeTablet)):
		return DeviceTypeTablet
	default:
		return DeviceTypeOther
	}
}

// DeviceAttributes carries optional telemetry reported alongside presence
// updates. All fields are advisory and never required for correctness.
type DeviceAttributes struct {
	BatteryPercent *int   `json:"battery_percent,omitempty"`
	SignalPercent  *int   `json:"signal_percent,omitempty"`
	Location       string `json:"location,omitempty"`
	OS             string `json:"os,omitempty"`
	Model          string `json:"model,omitempty"`
	IP             string `json:"ip,omitempty"`
}

// Device represents one monitored endpoint in the fleet.
type Device struct {
	DeviceID    string            `json:"device_id"`
	DisplayName string            `json:"display_name"`
	RawType     string            `json:"raw_type,omitempty"`
	Type        DeviceType        `json:"type"`
	Active      bool              `json:"active"`
	LastSeen    *time.Time        `json:"last_seen,omitempty"`
	Attributes  *DeviceAttributes `json:"attributes,omitempty"`
}

// DeviceUpdate is the wire-level delta for a single device. Pointer fields
// distinguish "absent" from zero values so a partial update only overwrites
// the fields the backend actually sent. Snapshot entries use the same shape.
type DeviceUpdate struct {
	DeviceID    string            `json:"device_id"`
	DisplayName *string           `json:"display_name,omitempty"`
	RawType     *string           `json:"type,omitempty"`
	Active      *bool             `json:"active,omitempty"`
	LastSeen    *time.Time        `json:"last_seen,omitempty"`
	Attributes  *DeviceAttributes `json:"attributes,omitempty"`
}

const displayNamePrefixLen = 8

// DefaultDisplayName derives a best-effort human label from the device
// identifier when the backend did not supply one.
func DefaultDisplayName(deviceID string) string {
	if len(deviceID) <= displayNamePrefixLen {
		return "device-" + deviceID
	}

	return "device-" + deviceID[:displayNamePrefixLen]
}
