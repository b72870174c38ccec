package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetdash/fleetdash/pkg/activity"
	"github.com/fleetdash/fleetdash/pkg/connection"
	"github.com/fleetdash/fleetdash/pkg/logger"
	"github.com/fleetdash/fleetdash/pkg/models"
	"github.com/fleetdash/fleetdash/pkg/registry"
	"github.com/fleetdash/fleetdash/pkg/settings"
	"github.com/fleetdash/fleetdash/pkg/transport"
)

// Broadcaster pushes live updates to connected dashboard clients. All
// methods are best-effort and must not block.
type Broadcaster interface {
	Notifier
	ConnectionStateChanged(state models.ConnectionState)
	StatsUpdated(stats models.DeviceStats)
}

// Service is the presence reconciliation service: it owns the component
// graph and is the facade the API layer talks to.
type Service struct {
	registry    *registry.DeviceRegistry
	activityLog *activity.Log
	reconciler  *Reconciler
	manager     *connection.Manager
	refresher   *settings.Refresher
	provider    settings.Provider
	broadcaster Broadcaster
	logger      logger.Logger
}

// ServiceOptions collects the collaborators a Service needs.
type ServiceOptions struct {
	Transport        transport.Transport
	Provider         settings.Provider
	Broadcaster      Broadcaster
	RefreshInterval  time.Duration
	Reconnect        connection.Config
	ActivityCapacity int
	Logger           logger.Logger
}

// NewService builds the component graph: registry, activity log,
// reconciler, connection manager, and settings refresher.
func NewService(opts ServiceOptions) *Service {
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}

	s := &Service{
		registry:    registry.NewDeviceRegistry(log.WithComponent("registry")),
		activityLog: activity.NewLog(opts.ActivityCapacity, log.WithComponent("activity")),
		provider:    opts.Provider,
		broadcaster: opts.Broadcaster,
		logger:      log.WithComponent("core"),
	}

	s.reconciler = NewReconciler(s.registry, s.activityLog, s.notify, s.statsUpdated, log.WithComponent("reconciler"))

	s.refresher = settings.NewRefresher(opts.Provider, opts.RefreshInterval, s.settingsChanged, log.WithComponent("settings"))

	s.manager = connection.NewManager(opts.Transport, s.refresher, connection.Hooks{
		OnConnected:          s.onConnected,
		OnDisconnected:       s.onDisconnected,
		OnConnectError:       s.onConnectError,
		OnReconnected:        s.onReconnected,
		OnReconnectExhausted: s.onReconnectExhausted,
		OnEvent:              s.onChannelEvent,
	}, opts.Reconnect, log.WithComponent("connection"))

	return s
}

// Start begins the settings refresh loop and, when the integration is
// already activated, opens the push channel. A failed initial connect is
// not fatal: the backoff machinery takes over.
func (s *Service) Start(ctx context.Context) error {
	if err := s.refresher.Start(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Initial settings fetch failed")
	}

	if err := s.manager.Connect(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Initial push channel connect failed")
	}

	return nil
}

// Stop tears down the connection and the refresh loop.
func (s *Service) Stop() {
	_ = s.manager.Disconnect()
	s.refresher.Stop()
}

// Connect opens the push channel on explicit operator request.
func (s *Service) Connect(ctx context.Context) error {
	return s.manager.Connect(ctx)
}

// Disconnect closes the push channel on explicit operator request.
func (s *Service) Disconnect() error {
	return s.manager.Disconnect()
}

// Refresh asks the backend to replay a full snapshot.
func (s *Service) Refresh() error {
	if err := s.manager.Refresh(); err != nil {
		return err
	}

	s.activityLog.Append(models.ActivityRefresh, "Device list refresh requested", nil)

	return nil
}

// ConnectionState reports the current push-channel state.
func (s *Service) ConnectionState() models.ConnectionState {
	return s.manager.State()
}

// Activity returns the activity journal, newest first.
func (s *Service) Activity() []models.ActivityEntry {
	return s.activityLog.Entries()
}

// ClearActivity empties the activity journal.
func (s *Service) ClearActivity() {
	s.activityLog.Clear()
}

// Stats returns the current aggregate device counts.
func (s *Service) Stats() models.DeviceStats {
	return s.registry.Stats()
}

// IntegrationSettings returns the latest settings snapshot.
func (s *Service) IntegrationSettings() models.IntegrationSettings {
	return s.refresher.Current()
}

// SetIntegrationEnabled flips the administrative enable flag at the
// settings service. An existing healthy connection is left alone; the flag
// only gates future connects.
func (s *Service) SetIntegrationEnabled(ctx context.Context, enabled bool) error {
	return s.provider.SetIntegrationEnabled(ctx, enabled)
}

// DeviceQuery selects and orders devices for display.
type DeviceQuery struct {
	Type   string
	Status string
	Search string
	Sort   string
}

// DeviceView is a device plus read-time display derivations.
type DeviceView struct {
	models.Device
	LastSeenDisplay string `json:"last_seen_display"`
}

// Devices returns a filtered, sorted snapshot of the registry. Filtering by
// type uses the same classification stored at upsert time, so counts and
// lists can never disagree.
func (s *Service) Devices(query DeviceQuery) []DeviceView {
	now := time.Now().UTC()
	devices := s.registry.List()

	views := make([]DeviceView, 0, len(devices))

	for _, device := range devices {
		if query.Type != "" && device.Type != models.DeviceType(query.Type) {
			continue
		}

		if query.Status == "online" && !device.Active {
			continue
		}

		if query.Status == "offline" && device.Active {
			continue
		}

		if query.Search != "" && !matchesSearch(device, query.Search) {
			continue
		}

		views = append(views, DeviceView{
			Device:          *device,
			LastSeenDisplay: registry.FormatLastSeen(device.LastSeen, now),
		})
	}

	sortDeviceViews(views, query.Sort)

	return views
}

// ExportPayload is the structured dump produced for download.
type ExportPayload struct {
	GeneratedAt time.Time    `json:"generated_at"`
	DeviceCount int          `json:"device_count"`
	Devices     []DeviceView `json:"devices"`
}

// Export produces an ordered dump of the full device list and journals the
// operation.
func (s *Service) Export() ExportPayload {
	views := s.Devices(DeviceQuery{})

	s.activityLog.Append(models.ActivityExport,
		fmt.Sprintf("Device list exported (%d devices)", len(views)), nil)

	return ExportPayload{
		GeneratedAt: time.Now().UTC(),
		DeviceCount: len(views),
		Devices:     views,
	}
}

func matchesSearch(device *models.Device, search string) bool {
	needle := strings.ToLower(search)

	return strings.Contains(strings.ToLower(device.DeviceID), needle) ||
		strings.Contains(strings.ToLower(device.DisplayName), needle)
}

func sortDeviceViews(views []DeviceView, key string) {
	switch key {
	case "name":
		sort.SliceStable(views, func(i, j int) bool {
			if views[i].DisplayName != views[j].DisplayName {
				return views[i].DisplayName < views[j].DisplayName
			}

			return views[i].DeviceID < views[j].DeviceID
		})
	case "last_seen":
		sort.SliceStable(views, func(i, j int) bool {
			left, right := views[i].LastSeen, views[j].LastSeen

			switch {
			case left == nil:
				return false
			case right == nil:
				return true
			default:
				return left.After(*right)
			}
		})
	default:
		// Registry order: by device identifier.
	}
}

func (s *Service) onChannelEvent(ev transport.Event) {
	switch ev.Name {
	case transport.EventDeviceSnapshot:
		if err := s.reconciler.ApplySnapshot(ev.Data); err != nil {
			s.recordError("Snapshot rejected", err)
		}
	case transport.EventDeviceUpdate:
		if err := s.reconciler.ApplyUpdate(ev.Data); err != nil {
			s.recordError("Device update dropped", err)
		}
	default:
		s.logger.Debug().Str("event", ev.Name).Msg("Ignoring unknown push channel event")
	}
}

func (s *Service) onConnected() {
	s.activityLog.Append(models.ActivityConnected, "Connected to monitoring backend", nil)
	s.notify(models.SeverityInfo, "Connected to monitoring backend")
	s.broadcastConnectionState()
}

func (s *Service) onDisconnected(reason string) {
	s.activityLog.Append(models.ActivityDisconnected,
		fmt.Sprintf("Disconnected from monitoring backend: %s", reason),
		map[string]interface{}{"reason": reason})
	s.notify(models.SeverityWarning, "Disconnected from monitoring backend")
	s.broadcastConnectionState()
}

func (s *Service) onConnectError(err error) {
	s.recordError("Push channel error", err)
	s.broadcastConnectionState()
}

func (s *Service) onReconnected(attempt int) {
	s.activityLog.Append(models.ActivityReconnected,
		fmt.Sprintf("Reconnected to monitoring backend (attempt %d)", attempt),
		map[string]interface{}{"attempt": attempt})
	s.notify(models.SeverityInfo, "Reconnected to monitoring backend")
	s.broadcastConnectionState()
}

func (s *Service) onReconnectExhausted() {
	s.activityLog.Append(models.ActivityError,
		"Automatic reconnection stopped after repeated failures", nil)
	s.notify(models.SeverityError, "Automatic reconnection stopped; manual connect required")
	s.broadcastConnectionState()
}

func (s *Service) settingsChanged(current models.IntegrationSettings) {
	if current.CredentialValid {
		s.manager.CredentialRevalidated()
	}
}

func (s *Service) recordError(summary string, err error) {
	s.logger.Error().Err(err).Msg(summary)

	s.activityLog.Append(models.ActivityError,
		fmt.Sprintf("%s: %v", summary, err), nil)
	s.notify(models.SeverityError, fmt.Sprintf("%s: %v", summary, err))
}

func (s *Service) notify(severity models.NotificationSeverity, message string) {
	if s.broadcaster == nil {
		return
	}

	s.broadcaster.Notify(models.Notification{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Severity:  severity,
		Message:   message,
	})
}

func (s *Service) statsUpdated(stats models.DeviceStats) {
	if s.broadcaster == nil {
		return
	}

	s.broadcaster.StatsUpdated(stats)
}

func (s *Service) broadcastConnectionState() {
	if s.broadcaster == nil {
		return
	}

	s.broadcaster.ConnectionStateChanged(s.manager.State())
}
