// Package core wires the push channel, device registry, activity log, and
// notification surface into the presence reconciliation service.
package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fleetdash/fleetdash/pkg/activity"
	"github.com/fleetdash/fleetdash/pkg/logger"
	"github.com/fleetdash/fleetdash/pkg/models"
	"github.com/fleetdash/fleetdash/pkg/registry"
)

// Notifier receives transient operator notifications. Implementations must
// not block; delivery is best-effort.
type Notifier interface {
	Notify(n models.Notification)
}

// Reconciler applies inbound snapshot and incremental messages to the
// device registry, detecting state transitions along the way. Callers must
// apply messages in arrival order; the reconciler never reorders or
// coalesces.
type Reconciler struct {
	registry *registry.DeviceRegistry
	activity *activity.Log
	notify   func(severity models.NotificationSeverity, message string)
	onStats  func(stats models.DeviceStats)
	logger   logger.Logger
}

// NewReconciler creates a reconciler. notify and onStats may be nil.
func NewReconciler(
	reg *registry.DeviceRegistry,
	log *activity.Log,
	notify func(severity models.NotificationSeverity, message string),
	onStats func(stats models.DeviceStats),
	logg logger.Logger,
) *Reconciler {
	if notify == nil {
		notify = func(models.NotificationSeverity, string) {}
	}

	return &Reconciler{
		registry: reg,
		activity: log,
		notify:   notify,
		onStats:  onStats,
		logger:   logg,
	}
}

// ApplySnapshot replaces the entire device set with the supplied list in one
// atomic operation. Malformed input leaves the registry untouched and
// returns ErrMalformedSnapshot; there is no partial application.
func (r *Reconciler) ApplySnapshot(data json.RawMessage) error {
	var records []models.DeviceUpdate

	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("%w: %w", models.ErrMalformedSnapshot, err)
	}

	devices := make([]*models.Device, 0, len(records))

	for i := range records {
		if strings.TrimSpace(records[i].DeviceID) == "" {
			return fmt.Errorf("%w: record %d missing device identifier", models.ErrMalformedSnapshot, i)
		}

		devices = append(devices, materializeDevice(&records[i]))
	}

	r.registry.ReplaceAll(devices)

	r.logger.Info().Int("devices", len(devices)).Msg("Device snapshot applied")

	r.publishStats()

	return nil
}

// ApplyUpdate merges one incremental update into the registry. Present
// fields overwrite, absent fields are left untouched; an unknown device is
// created with defaults. A change of the active flag is a status transition:
// it produces a status_change activity entry and an operator notification.
func (r *Reconciler) ApplyUpdate(data json.RawMessage) error {
	var update models.DeviceUpdate

	if err := json.Unmarshal(data, &update); err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidUpdate, err)
	}

	if strings.TrimSpace(update.DeviceID) == "" {
		return models.ErrInvalidUpdate
	}

	existing, found := r.registry.Get(update.DeviceID)
	if !found {
		r.registry.Upsert(materializeDevice(&update))

		stored, _ := r.registry.Get(update.DeviceID)

		r.activity.Append(models.ActivityNewDevice,
			fmt.Sprintf("New device registered: %s", stored.DisplayName),
			map[string]interface{}{
				"device_id": stored.DeviceID,
				"active":    stored.Active,
				"type":      string(stored.Type),
			})
		r.notify(models.SeverityInfo, fmt.Sprintf("New device registered: %s", stored.DisplayName))

		r.publishStats()

		return nil
	}

	merged := mergeDevice(existing, &update)
	statusChanged := existing.Active != merged.Active

	r.registry.Upsert(merged)

	if statusChanged {
		r.recordStatusTransition(existing, merged)
	}

	r.publishStats()

	return nil
}

func (r *Reconciler) recordStatusTransition(previous, current *models.Device) {
	direction := "went offline"
	severity := models.SeverityWarning

	if current.Active {
		direction = "came online"
		severity = models.SeverityInfo
	}

	message := fmt.Sprintf("Device %s %s", current.DisplayName, direction)

	r.activity.Append(models.ActivityStatusChange, message, map[string]interface{}{
		"device_id":  current.DeviceID,
		"old_active": previous.Active,
		"new_active": current.Active,
	})
	r.notify(severity, message)
}

func (r *Reconciler) publishStats() {
	if r.onStats == nil {
		return
	}

	r.onStats(r.registry.Stats())
}

// materializeDevice builds a full device record from an update, applying
// defaults for absent fields.
func materializeDevice(update *models.DeviceUpdate) *models.Device {
	device := &models.Device{DeviceID: update.DeviceID}

	if update.DisplayName != nil {
		device.DisplayName = *update.DisplayName
	}

	if update.RawType != nil {
		device.RawType = *update.RawType
	}

	if update.Active != nil {
		device.Active = *update.Active
	}

	if update.LastSeen != nil {
		lastSeen := *update.LastSeen
		device.LastSeen = &lastSeen
	}

	if update.Attributes != nil {
		attrs := *update.Attributes
		device.Attributes = &attrs
	}

	return device
}

// mergeDevice overlays present update fields on a copy of the existing
// record.
func mergeDevice(existing *models.Device, update *models.DeviceUpdate) *models.Device {
	merged := *existing

	if update.DisplayName != nil {
		merged.DisplayName = *update.DisplayName
	}

	if update.RawType != nil {
		merged.RawType = *update.RawType
	}

	if update.Active != nil {
		merged.Active = *update.Active
	}

	if update.LastSeen != nil {
		lastSeen := *update.LastSeen
		merged.LastSeen = &lastSeen
	}

	if update.Attributes != nil {
		attrs := *update.Attributes
		merged.Attributes = &attrs
	}

	return &merged
}
