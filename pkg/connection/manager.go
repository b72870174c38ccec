// Package connection owns the push-channel lifecycle: connect, register,
// disconnect, and automatic reconnection with exponential backoff.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/fleetdash/fleetdash/pkg/logger"
	"github.com/fleetdash/fleetdash/pkg/models"
	"github.com/fleetdash/fleetdash/pkg/transport"
)

const (
	defaultSeedDelay        = time.Second
	defaultMaxDelay         = 30 * time.Second
	defaultMaxAttempts      = 10
	defaultHandshakeTimeout = 10 * time.Second
)

// SettingsSource supplies the current integration settings. The manager
// reads it at connect time to enforce activation preconditions.
type SettingsSource interface {
	Current() models.IntegrationSettings
}

// Hooks are the only channel between the manager and the rest of the
// system. The manager never touches the registry or activity log directly.
// All hooks are optional and invoked outside the manager's lock.
type Hooks struct {
	OnConnected          func()
	OnDisconnected       func(reason string)
	OnConnectError       func(err error)
	OnReconnected        func(attempt int)
	OnReconnectExhausted func()
	// OnEvent receives every non-lifecycle event (device snapshots and
	// updates) in receipt order.
	OnEvent func(ev transport.Event)
}

// Config tunes reconnection behavior.
type Config struct {
	SeedDelay        time.Duration `json:"seed_delay"`
	MaxDelay         time.Duration `json:"max_delay"`
	MaxAttempts      int           `json:"max_attempts"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
}

func (c Config) withDefaults() Config {
	if c.SeedDelay <= 0 {
		c.SeedDelay = defaultSeedDelay
	}

	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}

	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}

	return c
}

// Manager drives the push-channel connection state machine.
type Manager struct {
	transport transport.Transport
	settings  SettingsSource
	hooks     Hooks
	cfg       Config
	logger    logger.Logger

	mu             sync.Mutex
	state          models.ConnectionState
	reconnectDelay time.Duration
	reconnectTimer *time.Timer
	handshakeTimer *time.Timer
	pendingReason  string
	session        uint64
	manual         bool
	halted         bool
}

// NewManager creates a manager in the disconnected state.
func NewManager(tr transport.Transport, settings SettingsSource, hooks Hooks, cfg Config, log logger.Logger) *Manager {
	cfg = cfg.withDefaults()

	return &Manager{
		transport:      tr,
		settings:       settings,
		hooks:          hooks,
		cfg:            cfg,
		logger:         log,
		state:          models.ConnectionState{Status: models.ConnectionDisconnected},
		reconnectDelay: cfg.SeedDelay,
	}
}

// Connect initiates an explicit connection attempt. It is idempotent: a call
// while already connected or connecting is a no-op. The activation
// preconditions are enforced before any transport work: a non-empty
// credential that has passed validation, and an administratively enabled
// integration.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()

	if m.state.Status == models.ConnectionConnected || m.state.Status == models.ConnectionConnecting {
		m.mu.Unlock()
		return nil
	}

	current := m.settings.Current()
	if err := checkPreconditions(current); err != nil {
		m.state.LastError = err.Error()
		m.mu.Unlock()

		return err
	}

	// An explicit connect starts a fresh attempt series.
	m.manual = false
	m.halted = false
	m.state.Attempts = 0
	m.reconnectDelay = m.cfg.SeedDelay
	m.stopTimersLocked()
	m.mu.Unlock()

	return m.attempt(ctx, current.Credential)
}

// Disconnect tears down the transport, forces the disconnected state, and
// cancels any pending automatic-reconnect timer. An explicit disconnect is
// never followed by automatic reconnection.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.manual = true
	m.stopTimersLocked()
	m.state.Status = models.ConnectionDisconnected
	m.state.ConnectedAt = nil
	m.state.LastError = ""
	m.mu.Unlock()

	return m.transport.Disconnect()
}

// Refresh re-sends the registration message on a live connection, prompting
// the backend to replay a full snapshot. Safe to repeat.
func (m *Manager) Refresh() error {
	m.mu.Lock()
	connected := m.state.Status == models.ConnectionConnected
	credential := m.settings.Current().Credential
	m.mu.Unlock()

	if !connected {
		return transport.ErrNotConnected
	}

	return m.transport.Emit(transport.EventRegister, registerPayload{Credential: credential})
}

// CredentialRevalidated clears the halt installed by a server-reported
// session rejection, allowing a subsequent explicit connect to proceed.
func (m *Manager) CredentialRevalidated() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.halted {
		return
	}

	m.halted = false

	if m.state.Status == models.ConnectionError {
		m.state.Status = models.ConnectionDisconnected
	}
}

// State returns a copy of the current connection state.
func (m *Manager) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.state

	if m.state.ConnectedAt != nil {
		connectedAt := *m.state.ConnectedAt
		state.ConnectedAt = &connectedAt
	}

	if m.state.LastMessageAt != nil {
		lastMessageAt := *m.state.LastMessageAt
		state.LastMessageAt = &lastMessageAt
	}

	return state
}

type registerPayload struct {
	Credential string `json:"credential"`
}

func checkPreconditions(settings models.IntegrationSettings) error {
	switch {
	case settings.Credential == "":
		return fmt.Errorf("%w: no access credential configured", models.ErrPreconditionNotMet)
	case !settings.CredentialValid:
		return fmt.Errorf("%w: access credential has not passed validation", models.ErrPreconditionNotMet)
	case !settings.IntegrationEnabled:
		return fmt.Errorf("%w: integration is disabled", models.ErrPreconditionNotMet)
	default:
		return nil
	}
}

// attempt performs one transport connection plus registration handshake.
func (m *Manager) attempt(ctx context.Context, credential string) error {
	m.mu.Lock()
	m.state.Status = models.ConnectionConnecting
	m.pendingReason = ""
	m.session++
	session := m.session
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	events, err := m.transport.Connect(dialCtx, url.Values{"credential": {credential}})
	if err != nil {
		m.handleAttemptFailure(err)
		return err
	}

	if err := m.transport.Emit(transport.EventRegister, registerPayload{Credential: credential}); err != nil {
		_ = m.transport.Disconnect()
		m.handleAttemptFailure(err)

		return err
	}

	m.mu.Lock()
	m.handshakeTimer = time.AfterFunc(m.cfg.HandshakeTimeout, func() { m.handshakeExpired(session) })
	m.mu.Unlock()

	go m.pump(session, events)

	return nil
}

// pump consumes one session's event stream in receipt order. It terminates
// when the transport closes the channel.
func (m *Manager) pump(session uint64, events <-chan transport.Event) {
	for ev := range events {
		m.mu.Lock()
		if session != m.session {
			m.mu.Unlock()
			return
		}

		now := time.Now().UTC()
		m.state.LastMessageAt = &now
		m.mu.Unlock()

		switch ev.Name {
		case transport.EventConnected:
			m.markConnected(session)
		case transport.EventServerError:
			m.handleServerError(ev.Data)
		case transport.EventDisconnected:
			m.recordServerReason(ev.Data)
		default:
			if m.hooks.OnEvent != nil {
				m.hooks.OnEvent(ev)
			}
		}
	}

	m.sessionClosed(session)
}

func (m *Manager) markConnected(session uint64) {
	m.mu.Lock()

	if session != m.session || m.state.Status == models.ConnectionConnected {
		m.mu.Unlock()
		return
	}

	m.stopHandshakeTimerLocked()

	attempt := m.state.Attempts
	now := time.Now().UTC()
	m.state.Status = models.ConnectionConnected
	m.state.ConnectedAt = &now
	m.state.LastError = ""
	m.state.Attempts = 0
	m.reconnectDelay = m.cfg.SeedDelay
	m.mu.Unlock()

	m.logger.Info().Int("attempt", attempt).Msg("Push channel session established")

	if attempt > 0 {
		if m.hooks.OnReconnected != nil {
			m.hooks.OnReconnected(attempt)
		}
	} else if m.hooks.OnConnected != nil {
		m.hooks.OnConnected()
	}
}

func (m *Manager) handleServerError(data json.RawMessage) {
	var payload struct {
		Message string `json:"message"`
	}

	if err := json.Unmarshal(data, &payload); err != nil || payload.Message == "" {
		payload.Message = "unspecified server error"
	}

	serverErr := &models.ServerReportedError{Message: payload.Message}

	m.mu.Lock()
	m.halted = true
	m.state.Status = models.ConnectionError
	m.state.LastError = serverErr.Error()
	m.stopTimersLocked()
	m.mu.Unlock()

	m.logger.Error().Str("message", payload.Message).Msg("Backend rejected the session")

	_ = m.transport.Disconnect()

	if m.hooks.OnConnectError != nil {
		m.hooks.OnConnectError(serverErr)
	}
}

func (m *Manager) recordServerReason(data json.RawMessage) {
	var payload struct {
		Reason string `json:"reason"`
	}

	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	m.mu.Lock()
	m.pendingReason = payload.Reason
	m.mu.Unlock()
}

// sessionClosed runs after a session's event channel closes and decides
// whether to reconnect.
func (m *Manager) sessionClosed(session uint64) {
	m.mu.Lock()

	if session != m.session {
		m.mu.Unlock()
		return
	}

	m.stopHandshakeTimerLocked()

	if m.manual || m.halted {
		m.mu.Unlock()
		return
	}

	wasConnected := m.state.Status == models.ConnectionConnected

	reason := m.pendingReason
	if reason == "" {
		reason = m.transport.CloseReason()
	}
	if reason == "" {
		reason = "connection lost"
	}

	m.state.Status = models.ConnectionDisconnected
	m.state.ConnectedAt = nil
	m.state.LastError = reason
	m.mu.Unlock()

	m.logger.Warn().Str("reason", reason).Msg("Push channel session lost")

	if wasConnected && m.hooks.OnDisconnected != nil {
		m.hooks.OnDisconnected(reason)
	}

	m.scheduleReconnect()
}

func (m *Manager) handleAttemptFailure(err error) {
	m.mu.Lock()
	m.state.Status = models.ConnectionDisconnected
	m.state.LastError = err.Error()
	m.mu.Unlock()

	m.logger.Warn().Err(err).Msg("Push channel connection attempt failed")

	if m.hooks.OnConnectError != nil {
		m.hooks.OnConnectError(err)
	}

	m.scheduleReconnect()
}

// handshakeExpired fires when the backend never acknowledged registration
// within the handshake timeout. The attempt is treated as failed and backoff
// proceeds; established sessions are unaffected.
func (m *Manager) handshakeExpired(session uint64) {
	m.mu.Lock()

	if session != m.session || m.state.Status != models.ConnectionConnecting {
		m.mu.Unlock()
		return
	}

	m.pendingReason = "handshake timed out"
	m.mu.Unlock()

	m.logger.Warn().Msg("Registration handshake timed out")

	// Closing the transport ends the pump, which schedules the retry.
	_ = m.transport.Disconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()

	if m.manual || m.halted {
		m.mu.Unlock()
		return
	}

	m.state.Attempts++

	if m.state.Attempts > m.cfg.MaxAttempts {
		m.state.Status = models.ConnectionError
		m.state.LastError = "reconnect attempts exhausted"
		m.mu.Unlock()

		m.logger.Error().Int("attempts", m.cfg.MaxAttempts).Msg("Reconnect attempts exhausted")

		if m.hooks.OnReconnectExhausted != nil {
			m.hooks.OnReconnectExhausted()
		}

		return
	}

	attempt := m.state.Attempts
	delay := m.reconnectDelay
	m.reconnectDelay = min(m.reconnectDelay*2, m.cfg.MaxDelay)
	m.reconnectTimer = time.AfterFunc(delay, m.autoReconnect)
	m.mu.Unlock()

	m.logger.Info().
		Dur("delay", delay).
		Int("attempt", attempt).
		Msg("Scheduled push channel reconnect")
}

func (m *Manager) autoReconnect() {
	m.mu.Lock()

	if m.manual || m.halted || m.state.Status == models.ConnectionConnected {
		m.mu.Unlock()
		return
	}

	credential := m.settings.Current().Credential
	m.mu.Unlock()

	_ = m.attempt(context.Background(), credential)
}

func (m *Manager) stopTimersLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}

	m.stopHandshakeTimerLocked()
}

func (m *Manager) stopHandshakeTimerLocked() {
	if m.handshakeTimer != nil {
		m.handshakeTimer.Stop()
		m.handshakeTimer = nil
	}
}
