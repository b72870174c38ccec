package settings

import (
	"context"
	"sync"
	"time"

	"github.com/fleetdash/fleetdash/pkg/logger"
	"github.com/fleetdash/fleetdash/pkg/models"
)

// DefaultRefreshInterval is how often the refresher re-reads settings.
const DefaultRefreshInterval = 30 * time.Second

// Refresher polls the settings provider on a fixed interval, independent of
// push-channel connection state, and keeps the latest settings as read-only
// shared state. A change never tears down an existing healthy connection;
// it only invokes the onChange callback.
type Refresher struct {
	provider Provider
	interval time.Duration
	onChange func(models.IntegrationSettings)
	logger   logger.Logger

	mu      sync.RWMutex
	current models.IntegrationSettings
	loaded  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefresher creates a refresher polling at interval. A non-positive
// interval falls back to DefaultRefreshInterval; onChange may be nil.
func NewRefresher(provider Provider, interval time.Duration, onChange func(models.IntegrationSettings), log logger.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	return &Refresher{
		provider: provider,
		interval: interval,
		onChange: onChange,
		logger:   log,
	}
}

// Start performs an initial fetch and begins the polling loop. The initial
// fetch error is returned so startup can surface a dead settings service;
// the loop still runs and keeps retrying on the same cadence.
func (r *Refresher) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	err := r.refresh(loopCtx)

	go r.loop(loopCtx)

	return err
}

// Stop halts the polling loop and waits for it to exit.
func (r *Refresher) Stop() {
	if r.cancel == nil {
		return
	}

	r.cancel()
	<-r.done
}

// Current returns the latest fetched settings.
func (r *Refresher) Current() models.IntegrationSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.current
}

func (r *Refresher) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.refresh(ctx); err != nil {
				r.logger.Warn().Err(err).Msg("Settings refresh failed")
			}
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) error {
	settings, err := r.provider.GetIntegrationSettings(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	changed := !r.loaded || settings != r.current
	r.current = settings
	r.loaded = true
	r.mu.Unlock()

	if changed {
		r.logger.Info().
			Bool("credential_valid", settings.CredentialValid).
			Bool("integration_enabled", settings.IntegrationEnabled).
			Msg("Integration settings changed")

		if r.onChange != nil {
			r.onChange(settings)
		}
	}

	return nil
}
