package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fleetdash.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `{
		"listen_addr": ":9000",
		"channel_endpoint": "wss://backend.example.com/channel",
		"settings_url": "https://settings.example.com/api",
		"settings_refresh_interval": "45s",
		"reconnect": {
			"seed_delay": "500ms",
			"max_delay": "10s",
			"max_attempts": 5
		},
		"activity_capacity": 100
	}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "wss://backend.example.com/channel", cfg.ChannelEndpoint)
	assert.Equal(t, Duration(45*time.Second), cfg.SettingsRefreshInterval)
	assert.Equal(t, Duration(500*time.Millisecond), cfg.Reconnect.SeedDelay)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 100, cfg.ActivityCapacity)
}

func TestLoadFromFileDefaults(t *testing.T) {
	path := writeConfigFile(t, `{
		"channel_endpoint": "wss://backend.example.com/channel",
		"settings_url": "https://settings.example.com/api"
	}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, Duration(30*time.Second), cfg.SettingsRefreshInterval)
	assert.Equal(t, Duration(time.Second), cfg.Reconnect.SeedDelay)
	assert.Equal(t, Duration(30*time.Second), cfg.Reconnect.MaxDelay)
	assert.Equal(t, 10, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 50, cfg.ActivityCapacity)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `{
		"channel_endpoint": "wss://backend.example.com/channel",
		"settings_url": "https://settings.example.com/api"
	}`)

	t.Setenv("FLEETDASH_LISTEN_ADDR", ":7777")
	t.Setenv("FLEETDASH_API_KEY", "from-env")
	t.Setenv("FLEETDASH_CORS_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("FLEETDASH_SETTINGS_REFRESH_INTERVAL", "1m")
	t.Setenv("FLEETDASH_RECONNECT_MAX_ATTEMPTS", "3")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.ListenAddr)
	assert.Equal(t, "from-env", cfg.APIKey)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, Duration(time.Minute), cfg.SettingsRefreshInterval)
	assert.Equal(t, 3, cfg.Reconnect.MaxAttempts)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "missing channel endpoint",
			content: `{"settings_url": "https://settings.example.com/api"}`,
			wantErr: ErrChannelEndpointNotSet,
		},
		{
			name:    "missing settings url",
			content: `{"channel_endpoint": "wss://backend.example.com/channel"}`,
			wantErr: ErrSettingsURLNotSet,
		},
		{
			name: "seed delay above max delay",
			content: `{
				"channel_endpoint": "wss://backend.example.com/channel",
				"settings_url": "https://settings.example.com/api",
				"reconnect": {"seed_delay": "1m", "max_delay": "5s"}
			}`,
			wantErr: ErrInvalidReconnect,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfigFile(t, tt.content))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeConfigFile(t, `{not json`))
	assert.Error(t, err)
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration

	require.NoError(t, json.Unmarshal([]byte(`"90s"`), &d))
	assert.Equal(t, Duration(90*time.Second), d)

	require.NoError(t, json.Unmarshal([]byte(`1000000000`), &d))
	assert.Equal(t, Duration(time.Second), d)

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.ErrorIs(t, json.Unmarshal([]byte(`true`), &d), ErrInvalidDuration)

	out, err := json.Marshal(Duration(45 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"45s"`, string(out))
}
