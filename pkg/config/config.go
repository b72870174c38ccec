// Package config loads fleetdash service configuration from a JSON file
// with environment variable overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fleetdash/fleetdash/pkg/logger"
)

var (
	ErrInvalidDuration       = errors.New("invalid duration value")
	ErrChannelEndpointNotSet = errors.New("channel_endpoint is required")
	ErrSettingsURLNotSet     = errors.New("settings_url is required")
	ErrInvalidReconnect      = errors.New("reconnect delays must be positive and seed_delay <= max_delay")
)

// EnvPrefix is prepended to every environment override variable.
const EnvPrefix = "FLEETDASH_"

const (
	defaultListenAddr       = ":8090"
	defaultRefreshInterval  = 30 * time.Second
	defaultSeedDelay        = time.Second
	defaultMaxDelay         = 30 * time.Second
	defaultMaxAttempts      = 10
	defaultActivityCapacity = 50
)

// Duration is a wrapper around time.Duration for JSON unmarshaling. It
// accepts either a duration string ("30s") or nanoseconds as a number.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}

		*d = Duration(tmp)
	default:
		return ErrInvalidDuration
	}

	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// ReconnectConfig tunes the automatic reconnect backoff.
type ReconnectConfig struct {
	SeedDelay   Duration `json:"seed_delay"`
	MaxDelay    Duration `json:"max_delay"`
	MaxAttempts int      `json:"max_attempts"`
}

// Config is the full fleetdash service configuration.
type Config struct {
	ListenAddr              string         `json:"listen_addr"`
	APIKey                  string         `json:"api_key"`
	CORSOrigins             []string       `json:"cors_origins"`
	ChannelEndpoint         string         `json:"channel_endpoint"`
	SettingsURL             string         `json:"settings_url"`
	SettingsRefreshInterval Duration       `json:"settings_refresh_interval"`
	Reconnect               ReconnectConfig `json:"reconnect"`
	ActivityCapacity        int            `json:"activity_capacity"`
	Logging                 *logger.Config `json:"logging"`
}

// LoadFromFile reads a JSON config file, applies FLEETDASH_* environment
// overrides, fills defaults, and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	var cfg Config

	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides lets deployment environments override the file without
// editing it. Only operationally relevant knobs are exposed this way.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}

	if v := os.Getenv(EnvPrefix + "API_KEY"); v != "" {
		c.APIKey = v
	}

	if v := os.Getenv(EnvPrefix + "CORS_ORIGINS"); v != "" {
		c.CORSOrigins = strings.Split(v, ",")
	}

	if v := os.Getenv(EnvPrefix + "CHANNEL_ENDPOINT"); v != "" {
		c.ChannelEndpoint = v
	}

	if v := os.Getenv(EnvPrefix + "SETTINGS_URL"); v != "" {
		c.SettingsURL = v
	}

	if v := os.Getenv(EnvPrefix + "SETTINGS_REFRESH_INTERVAL"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sSETTINGS_REFRESH_INTERVAL: %w", EnvPrefix, err)
		}

		c.SettingsRefreshInterval = Duration(parsed)
	}

	if v := os.Getenv(EnvPrefix + "RECONNECT_MAX_ATTEMPTS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sRECONNECT_MAX_ATTEMPTS: %w", EnvPrefix, err)
		}

		c.Reconnect.MaxAttempts = parsed
	}

	return nil
}

func (c *Config) setDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	if c.SettingsRefreshInterval == 0 {
		c.SettingsRefreshInterval = Duration(defaultRefreshInterval)
	}

	if c.Reconnect.SeedDelay == 0 {
		c.Reconnect.SeedDelay = Duration(defaultSeedDelay)
	}

	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = Duration(defaultMaxDelay)
	}

	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = defaultMaxAttempts
	}

	if c.ActivityCapacity == 0 {
		c.ActivityCapacity = defaultActivityCapacity
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.ChannelEndpoint == "" {
		return ErrChannelEndpointNotSet
	}

	if c.SettingsURL == "" {
		return ErrSettingsURLNotSet
	}

	if c.Reconnect.SeedDelay <= 0 || c.Reconnect.MaxDelay <= 0 ||
		c.Reconnect.SeedDelay > c.Reconnect.MaxDelay {
		return ErrInvalidReconnect
	}

	return nil
}
