// Package registry holds the authoritative in-memory view of the device
// fleet. All mutation goes through the registry; readers get defensive
// copies so nothing can bypass reconciliation.
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fleetdash/fleetdash/pkg/logger"
	"github.com/fleetdash/fleetdash/pkg/models"
)

// DeviceRegistry is the authoritative map of known devices keyed by device
// identifier. Exactly one record exists per identifier at any time.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]*models.Device
	logger  logger.Logger
}

// NewDeviceRegistry creates an empty registry.
func NewDeviceRegistry(log logger.Logger) *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[string]*models.Device),
		logger:  log,
	}
}

// Upsert inserts or replaces the record for a device. The stored record is a
// clone of the input with the classified type and a defaulted display name
// filled in, so callers cannot mutate registry state afterwards.
func (r *DeviceRegistry) Upsert(device *models.Device) {
	if device == nil || strings.TrimSpace(device.DeviceID) == "" {
		return
	}

	input := cloneDevice(device)
	normalizeDevice(input)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices[input.DeviceID] = input
}

// Get retrieves a device by identifier.
func (r *DeviceRegistry) Get(deviceID string) (*models.Device, bool) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[deviceID]
	if !ok {
		return nil, false
	}

	return cloneDevice(device), true
}

// ReplaceAll atomically swaps the entire device set for the supplied list.
// Later entries win on duplicate identifiers, matching last-applied-wins
// update semantics.
func (r *DeviceRegistry) ReplaceAll(devices []*models.Device) {
	next := make(map[string]*models.Device, len(devices))

	for _, device := range devices {
		if device == nil || strings.TrimSpace(device.DeviceID) == "" {
			continue
		}

		input := cloneDevice(device)
		normalizeDevice(input)
		next[input.DeviceID] = input
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = next
}

// RemoveAll empties the registry.
func (r *DeviceRegistry) RemoveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = make(map[string]*models.Device)
}

// List returns a defensive copy of all devices ordered by device identifier.
func (r *DeviceRegistry) List() []*models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Device, 0, len(r.devices))
	for _, device := range r.devices {
		out = append(out, cloneDevice(device))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })

	return out
}

// Len returns the number of known devices.
func (r *DeviceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.devices)
}

// Stats recomputes aggregate counts as a pure function of the current device
// set. Counts by type use the same classification stored at upsert time.
func (r *DeviceRegistry) Stats() models.DeviceStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := models.DeviceStats{
		Timestamp: time.Now().UTC(),
		ByType:    make(map[models.DeviceType]int, len(models.DeviceTypes)),
	}

	for _, deviceType := range models.DeviceTypes {
		stats.ByType[deviceType] = 0
	}

	for _, device := range r.devices {
		stats.Total++

		if device.Active {
			stats.Online++
		} else {
			stats.Offline++
		}

		stats.ByType[device.Type]++
	}

	return stats
}

func normalizeDevice(device *models.Device) {
	device.Type = models.ClassifyDeviceType(device.RawType)

	if strings.TrimSpace(device.DisplayName) == "" {
		device.DisplayName = models.DefaultDisplayName(device.DeviceID)
	}
}

func cloneDevice(src *models.Device) *models.Device {
	if src == nil {
		return nil
	}

	dst := *src

	if src.LastSeen != nil {
		lastSeen := *src.LastSeen
		dst.LastSeen = &lastSeen
	}

	if src.Attributes != nil {
		attrs := *src.Attributes

		if src.Attributes.BatteryPercent != nil {
			battery := *src.Attributes.BatteryPercent
			attrs.BatteryPercent = &battery
		}
		if src.Attributes.SignalPercent != nil {
			signal := *src.Attributes.SignalPercent
			attrs.SignalPercent = &signal
		}

		dst.Attributes = &attrs
	}

	return &dst
}
