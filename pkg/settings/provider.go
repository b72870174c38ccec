// Package settings reads integration activation state from the external
// settings service and keeps a periodically refreshed local copy.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fleetdash/fleetdash/pkg/logger"
	"github.com/fleetdash/fleetdash/pkg/models"
)

const defaultRequestTimeout = 10 * time.Second

// Provider exposes the integration settings surface of the settings service.
type Provider interface {
	GetIntegrationSettings(ctx context.Context) (models.IntegrationSettings, error)
	SetIntegrationEnabled(ctx context.Context, enabled bool) error
}

// HTTPProvider talks to the settings service over its JSON HTTP API.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	logger  logger.Logger
}

// NewHTTPProvider creates a provider for the service at baseURL.
func NewHTTPProvider(baseURL string, log logger.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultRequestTimeout},
		logger:  log,
	}
}

// GetIntegrationSettings fetches the current credential and activation flags.
func (p *HTTPProvider) GetIntegrationSettings(ctx context.Context) (models.IntegrationSettings, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/integration", nil)
	if err != nil {
		return models.IntegrationSettings{}, fmt.Errorf("failed to build settings request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return models.IntegrationSettings{}, fmt.Errorf("failed to fetch integration settings: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return models.IntegrationSettings{}, fmt.Errorf("settings service returned %s", resp.Status)
	}

	var settings models.IntegrationSettings
	if err := json.NewDecoder(resp.Body).Decode(&settings); err != nil {
		return models.IntegrationSettings{}, fmt.Errorf("failed to decode integration settings: %w", err)
	}

	return settings, nil
}

// SetIntegrationEnabled flips the administrative enable flag.
func (p *HTTPProvider) SetIntegrationEnabled(ctx context.Context, enabled bool) error {
	body, err := json.Marshal(map[string]bool{"enabled": enabled})
	if err != nil {
		return fmt.Errorf("failed to encode enable request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.baseURL+"/integration/enabled", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build enable request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to update integration enabled flag: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("settings service returned %s", resp.Status)
	}

	p.logger.Info().Bool("enabled", enabled).Msg("Integration enabled flag updated")

	return nil
}
