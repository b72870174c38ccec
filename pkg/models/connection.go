package models

import "time"

// ConnectionStatus is the lifecycle phase of the push-channel connection.
type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionError        ConnectionStatus = "error"
)

// ConnectionState captures the push-channel connection for display in the
// dashboard header: lifecycle phase, reconnect attempt counter, the last
// error seen, and connect/last-message timestamps.
type ConnectionState struct {
	Status        ConnectionStatus `json:"status"`
	Attempts      int              `json:"attempts"`
	LastError     string           `json:"last_error,omitempty"`
	ConnectedAt   *time.Time       `json:"connected_at,omitempty"`
	LastMessageAt *time.Time       `json:"last_message_at,omitempty"`
}

// IntegrationSettings is the activation state read from the settings
// provider. All three fields must hold before a connection attempt is made.
type IntegrationSettings struct {
	Credential         string `json:"credential"`
	CredentialValid    bool   `json:"credential_valid"`
	IntegrationEnabled bool   `json:"integration_enabled"`
}
