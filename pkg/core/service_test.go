package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/fleetdash/fleetdash/pkg/logger"
	"github.com/fleetdash/fleetdash/pkg/models"
	"github.com/fleetdash/fleetdash/pkg/transport"
)

type fakeSettingsProvider struct {
	settings models.IntegrationSettings
	enabled  []bool
}

func (f *fakeSettingsProvider) GetIntegrationSettings(_ context.Context) (models.IntegrationSettings, error) {
	return f.settings, nil
}

func (f *fakeSettingsProvider) SetIntegrationEnabled(_ context.Context, enabled bool) error {
	f.enabled = append(f.enabled, enabled)
	return nil
}

type recordingBroadcaster struct {
	notifications []models.Notification
	states        []models.ConnectionState
	stats         []models.DeviceStats
}

func (r *recordingBroadcaster) Notify(n models.Notification) { r.notifications = append(r.notifications, n) }
func (r *recordingBroadcaster) ConnectionStateChanged(s models.ConnectionState) {
	r.states = append(r.states, s)
}
func (r *recordingBroadcaster) StatsUpdated(s models.DeviceStats) { r.stats = append(r.stats, s) }

func newTestService(t *testing.T) (*Service, *recordingBroadcaster) {
	t.Helper()

	ctrl := gomock.NewController(t)
	mockTransport := transport.NewMockTransport(ctrl)
	mockTransport.EXPECT().Disconnect().Return(nil).AnyTimes()

	broadcaster := &recordingBroadcaster{}

	svc := NewService(ServiceOptions{
		Transport:   mockTransport,
		Provider:    &fakeSettingsProvider{},
		Broadcaster: broadcaster,
		Logger:      logger.NewTestLogger(),
	})

	return svc, broadcaster
}

func seedDevices(t *testing.T, svc *Service) {
	t.Helper()

	lastSeen := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)

	snapshot := `[
		{"device_id":"d1","display_name":"alpha","active":true,"type":"desktop","last_seen":"` + lastSeen + `"},
		{"device_id":"d2","display_name":"bravo","active":false,"type":"mobile"},
		{"device_id":"d3","display_name":"charlie","active":true,"type":"smart-fridge"}
	]`

	require.NoError(t, svc.reconciler.ApplySnapshot(json.RawMessage(snapshot)))
}

func TestDevicesFiltering(t *testing.T) {
	svc, _ := newTestService(t)
	seedDevices(t, svc)

	all := svc.Devices(DeviceQuery{})
	require.Len(t, all, 3)

	online := svc.Devices(DeviceQuery{Status: "online"})
	require.Len(t, online, 2)

	offline := svc.Devices(DeviceQuery{Status: "offline"})
	require.Len(t, offline, 1)
	assert.Equal(t, "d2", offline[0].DeviceID)

	desktops := svc.Devices(DeviceQuery{Type: "desktop"})
	require.Len(t, desktops, 1)
	assert.Equal(t, "d1", desktops[0].DeviceID)

	others := svc.Devices(DeviceQuery{Type: "other"})
	require.Len(t, others, 1)
	assert.Equal(t, "d3", others[0].DeviceID)

	search := svc.Devices(DeviceQuery{Search: "BRA"})
	require.Len(t, search, 1)
	assert.Equal(t, "d2", search[0].DeviceID)
}

func TestDevicesSorting(t *testing.T) {
	svc, _ := newTestService(t)
	seedDevices(t, svc)

	byName := svc.Devices(DeviceQuery{Sort: "name"})
	assert.Equal(t, []string{"alpha", "bravo", "charlie"},
		[]string{byName[0].DisplayName, byName[1].DisplayName, byName[2].DisplayName})

	byLastSeen := svc.Devices(DeviceQuery{Sort: "last_seen"})
	assert.Equal(t, "d1", byLastSeen[0].DeviceID, "devices never seen sort last")
	assert.Equal(t, "2h ago", byLastSeen[0].LastSeenDisplay)
	assert.Equal(t, "never", byLastSeen[2].LastSeenDisplay)
}

func TestExportJournalsOperation(t *testing.T) {
	svc, _ := newTestService(t)
	seedDevices(t, svc)

	payload := svc.Export()

	assert.Equal(t, 3, payload.DeviceCount)
	require.Len(t, payload.Devices, 3)
	assert.False(t, payload.GeneratedAt.IsZero())

	entries := svc.Activity()
	require.NotEmpty(t, entries)
	assert.Equal(t, models.ActivityExport, entries[0].Category)
}

func TestChannelEventsDriveReconciliation(t *testing.T) {
	svc, broadcaster := newTestService(t)

	svc.onChannelEvent(transport.Event{
		Name: transport.EventDeviceSnapshot,
		Data: []byte(`[{"device_id":"d1","active":true,"type":"tablet"}]`),
	})

	assert.Equal(t, 1, svc.Stats().Total)
	require.NotEmpty(t, broadcaster.stats)

	svc.onChannelEvent(transport.Event{
		Name: transport.EventDeviceUpdate,
		Data: []byte(`{"device_id":"d1","active":false}`),
	})

	assert.Equal(t, 0, svc.Stats().Online)

	entries := svc.Activity()
	require.NotEmpty(t, entries)
	assert.Equal(t, models.ActivityStatusChange, entries[0].Category)
}

func TestMalformedSnapshotIsJournaledNotFatal(t *testing.T) {
	svc, broadcaster := newTestService(t)

	svc.onChannelEvent(transport.Event{
		Name: transport.EventDeviceSnapshot,
		Data: []byte(`[{"device_id":"keep","active":true}]`),
	})
	require.Equal(t, 1, svc.Stats().Total)

	svc.onChannelEvent(transport.Event{
		Name: transport.EventDeviceSnapshot,
		Data: []byte(`{"garbage":true}`),
	})

	// Registry untouched, error journaled and notified.
	assert.Equal(t, 1, svc.Stats().Total)

	entries := svc.Activity()
	require.NotEmpty(t, entries)
	assert.Equal(t, models.ActivityError, entries[0].Category)

	require.NotEmpty(t, broadcaster.notifications)
	assert.Equal(t, models.SeverityError, broadcaster.notifications[len(broadcaster.notifications)-1].Severity)
}

func TestInvalidUpdateIsIsolated(t *testing.T) {
	svc, _ := newTestService(t)

	svc.onChannelEvent(transport.Event{
		Name: transport.EventDeviceSnapshot,
		Data: []byte(`[{"device_id":"d1","active":true}]`),
	})

	svc.onChannelEvent(transport.Event{
		Name: transport.EventDeviceUpdate,
		Data: []byte(`{"active":false}`),
	})

	// The bad update is dropped; d1 is unaffected.
	got := svc.Devices(DeviceQuery{})
	require.Len(t, got, 1)
	assert.True(t, got[0].Active)

	entries := svc.Activity()
	require.NotEmpty(t, entries)
	assert.Equal(t, models.ActivityError, entries[0].Category)
}

func TestLifecycleHooksJournal(t *testing.T) {
	svc, broadcaster := newTestService(t)

	svc.onConnected()
	svc.onDisconnected("network blip")
	svc.onReconnected(2)
	svc.onReconnectExhausted()

	entries := svc.Activity()
	require.Len(t, entries, 4)
	assert.Equal(t, models.ActivityError, entries[0].Category)
	assert.Equal(t, models.ActivityReconnected, entries[1].Category)
	assert.Equal(t, models.ActivityDisconnected, entries[2].Category)
	assert.Equal(t, models.ActivityConnected, entries[3].Category)

	assert.Len(t, broadcaster.states, 4)
}
