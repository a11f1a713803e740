package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nuclearlighters/airbox/internal/network"
	"github.com/nuclearlighters/airbox/internal/system"
)

// HealthResponse is the JSON response for the /health endpoint.
type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Storage bool         `json:"storage"`
	Mode    network.Mode `json:"mode"`
	HAL     *bool        `json:"hal,omitempty"`
}

// Health handles GET /health. The device is degraded, not down, when
// settings storage or the hardware abstraction service is unavailable.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: s.cfg.Version,
		Storage: s.deps.Store.Available(),
		Mode:    s.deps.Network.Status().Mode,
	}

	halUp := true
	if s.deps.HAL != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.deps.HAL.Health(ctx); err != nil {
			log.Warn().Err(err).Msg("HAL health check failed")
			halUp = false
		}
		resp.HAL = &halUp
	}

	status := http.StatusOK
	if !resp.Storage || !halUp {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GetSystemInfo handles GET /system/info.
func (s *Server) GetSystemInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, system.GetInfo(r.Context(), s.deps.DataDir))
}
