package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/nuclearlighters/airbox/internal/settings"
)

// Restart reasons.
const (
	reasonWiFiConfig = "wifi credentials saved"
	reasonWiFiReset  = "wifi credentials cleared"
	reasonFirmware   = "firmware update"
)

// WiFiStatusResponse is the body of GET /wifi/status.
type WiFiStatusResponse struct {
	Connected int    `json:"connected"`
	SSID      string `json:"ssid"`
	IP        string `json:"ip"`
	RSSI      int8   `json:"rssi"`
}

// WiFiConfigRequest is the body of POST /wifi/config.
type WiFiConfigRequest struct {
	SSID     *string `json:"ssid"`
	Password *string `json:"password"`
}

// GetWiFiStatus handles GET /wifi/status.
func (s *Server) GetWiFiStatus(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Network.Status()
	resp := WiFiStatusResponse{SSID: st.SSID, IP: st.IP, RSSI: st.RSSI}
	if st.Connected {
		resp.Connected = 1
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetWiFiConfig handles POST /wifi/config. Credentials are stored verbatim,
// empty strings included, and the device restarts to join the new network.
// Empty credentials boot into access-point mode.
func (s *Server) SetWiFiConfig(w http.ResponseWriter, r *http.Request) {
	var req WiFiConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, http.StatusBadRequest, false, "")
		return
	}
	if req.SSID == nil || req.Password == nil {
		writeResult(w, http.StatusBadRequest, false, "")
		return
	}

	creds := settings.Credentials{SSID: *req.SSID, Password: *req.Password}
	if err := s.deps.Store.SaveCredentials(r.Context(), creds); err != nil {
		log.Error().Err(err).Msg("Failed to save WiFi credentials")
		writeResult(w, http.StatusInternalServerError, false, "")
		return
	}

	log.Info().Str("ssid", creds.SSID).Msg("WiFi credentials saved")
	writeResult(w, http.StatusOK, true, "")
	s.deps.Restarts.Schedule(reasonWiFiConfig, s.cfg.RestartDelay)
}

// ResetWiFi handles POST /wifi/reset.
func (s *Server) ResetWiFi(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.ResetCredentials(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to clear WiFi credentials")
		writeResult(w, http.StatusInternalServerError, false, "")
		return
	}

	log.Info().Msg("WiFi credentials cleared")
	writeResult(w, http.StatusOK, true, "")
	s.deps.Restarts.Schedule(reasonWiFiReset, s.cfg.RestartDelay)
}
