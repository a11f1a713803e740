package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/nuclearlighters/airbox/internal/relay"
)

const msgInvalidParameters = "Invalid parameters"

// GetState handles GET /state.
func (s *Server) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Relays.Snapshot())
}

// RelayControl handles GET /relay/control?relay=N&state=S.
func (s *Server) RelayControl(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("relay") || !q.Has("state") {
		writeError(w, http.StatusBadRequest, msgInvalidParameters)
		return
	}
	index, err := strconv.Atoi(strings.TrimSpace(q.Get("relay")))
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidParameters)
		return
	}
	state, err := strconv.Atoi(strings.TrimSpace(q.Get("state")))
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidParameters)
		return
	}

	snap, err := s.deps.Relays.Set(index, state != 0)
	if err != nil {
		if errors.Is(err, relay.ErrInvalidIndex) {
			writeError(w, http.StatusBadRequest, msgInvalidParameters)
			return
		}
		log.Error().Err(err).Int("relay", index).Msg("Relay write failed")
		writeError(w, http.StatusInternalServerError, "Relay write failed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// RelayMulti handles GET /relay/multi?relay=a,b&state=x,y.
//
// Pairs are matched by position. A pair whose index or state does not
// parse is skipped.
func (s *Server) RelayMulti(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("relay") || !q.Has("state") {
		writeError(w, http.StatusBadRequest, msgInvalidParameters)
		return
	}

	indices := parseList(q.Get("relay"))
	states := parseList(q.Get("state"))
	for i := range min(len(indices), len(states)) {
		if states[i] < 0 {
			indices[i] = -1
		}
	}

	writeJSON(w, http.StatusOK, s.deps.Relays.SetMulti(indices, states))
}

// parseList splits a comma list of integers. Entries that do not parse
// become -1.
func parseList(raw string) []int {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			n = -1
		}
		out[i] = n
	}
	return out
}

// RelaySetRequest is the body of POST /relay/set.
type RelaySetRequest struct {
	Relay *int `json:"relay"`
	State *int `json:"state"`
}

// RelaySet handles POST /relay/set.
func (s *Server) RelaySet(w http.ResponseWriter, r *http.Request) {
	var req RelaySetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Relay == nil || req.State == nil {
		writeResult(w, http.StatusBadRequest, false, "")
		return
	}

	if _, err := s.deps.Relays.Set(*req.Relay, *req.State != 0); err != nil {
		if errors.Is(err, relay.ErrInvalidIndex) {
			writeResult(w, http.StatusBadRequest, false, "")
			return
		}
		log.Error().Err(err).Int("relay", *req.Relay).Msg("Relay write failed")
		writeResult(w, http.StatusInternalServerError, false, "")
		return
	}
	writeResult(w, http.StatusOK, true, "")
}

// GetPins handles GET /system/pins.
func (s *Server) GetPins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_low": true,
		"pins":       s.deps.Relays.Pins(),
	})
}

// RelayNamesRequest is the body of POST /relay/names.
type RelayNamesRequest struct {
	Names *[]json.RawMessage `json:"names"`
}

// GetRelayNames handles GET /relay/names.
func (s *Server) GetRelayNames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"names": s.deps.Names.List()})
}

// SetRelayNames handles POST /relay/names. Entries past the fourth and
// entries that are not strings are ignored.
func (s *Server) SetRelayNames(w http.ResponseWriter, r *http.Request) {
	var req RelayNamesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Names == nil {
		writeResult(w, http.StatusBadRequest, false, "")
		return
	}

	updates := make(map[int]string)
	for i, raw := range *req.Names {
		if i >= relay.Count {
			break
		}
		var name *string
		if err := json.Unmarshal(raw, &name); err != nil || name == nil {
			continue
		}
		updates[i] = *name
	}

	if err := s.deps.Names.Update(r.Context(), updates); err != nil {
		log.Warn().Err(err).Msg("Relay names not persisted")
	}
	writeResult(w, http.StatusOK, true, "")
}

// RejectRelayNames answers any other method on /relay/names.
func (s *Server) RejectRelayNames(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusBadRequest, false, "")
}
