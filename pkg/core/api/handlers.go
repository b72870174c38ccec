package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fleetdash/fleetdash/pkg/core"
	"github.com/fleetdash/fleetdash/pkg/models"
	"github.com/fleetdash/fleetdash/pkg/transport"
)

func (s *APIServer) healthz(w http.ResponseWriter, _ *http.Request) {
	s.encodeJSONResponse(w, map[string]string{"status": "ok"})
}

func (s *APIServer) getDevices(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	devices := s.service.Devices(core.DeviceQuery{
		Type:   query.Get("type"),
		Status: query.Get("status"),
		Search: query.Get("search"),
		Sort:   query.Get("sort"),
	})

	s.encodeJSONResponse(w, devices)
}

func (s *APIServer) exportDevices(w http.ResponseWriter, _ *http.Request) {
	payload := s.service.Export()

	filename := fmt.Sprintf("fleetdash-devices-%s.json", payload.GeneratedAt.Format("20060102-150405"))

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode device export")
	}
}

func (s *APIServer) getStats(w http.ResponseWriter, _ *http.Request) {
	s.encodeJSONResponse(w, s.service.Stats())
}

func (s *APIServer) getActivity(w http.ResponseWriter, _ *http.Request) {
	s.encodeJSONResponse(w, s.service.Activity())
}

func (s *APIServer) clearActivity(w http.ResponseWriter, _ *http.Request) {
	s.service.ClearActivity()

	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) getConnection(w http.ResponseWriter, _ *http.Request) {
	s.encodeJSONResponse(w, s.service.ConnectionState())
}

func (s *APIServer) postConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Connect(r.Context()); err != nil {
		status := http.StatusBadGateway

		if errors.Is(err, models.ErrPreconditionNotMet) {
			status = http.StatusPreconditionFailed
		}

		writeError(w, err.Error(), status)

		return
	}

	s.encodeJSONResponse(w, s.service.ConnectionState())
}

func (s *APIServer) postDisconnect(w http.ResponseWriter, _ *http.Request) {
	if err := s.service.Disconnect(); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.encodeJSONResponse(w, s.service.ConnectionState())
}

func (s *APIServer) postRefresh(w http.ResponseWriter, _ *http.Request) {
	if err := s.service.Refresh(); err != nil {
		status := http.StatusInternalServerError

		if errors.Is(err, transport.ErrNotConnected) {
			status = http.StatusConflict
		}

		writeError(w, err.Error(), status)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *APIServer) getIntegrationSettings(w http.ResponseWriter, _ *http.Request) {
	settings := s.service.IntegrationSettings()

	// The credential itself never leaves the server.
	s.encodeJSONResponse(w, map[string]interface{}{
		"credential_configured": settings.Credential != "",
		"credential_valid":      settings.CredentialValid,
		"integration_enabled":   settings.IntegrationEnabled,
	})
}

func (s *APIServer) putIntegrationEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		writeError(w, "body must be {\"enabled\": bool}", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.service.SetIntegrationEnabled(ctx, *body.Enabled); err != nil {
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
