package models

import "time"

// DeviceStats aggregates fleet-wide presence counts for dashboard
// consumption. It is derived from the current device set after every
// registry mutation and never patched incrementally.
type DeviceStats struct {
	Timestamp time.Time          `json:"timestamp"`
	Total     int                `json:"total"`
	Online    int                `json:"online"`
	Offline   int                `json:"offline"`
	ByType    map[DeviceType]int `json:"by_type"`
}
