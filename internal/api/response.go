package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Result is the {"success":0|1} body of mutating endpoints.
type Result struct {
	Success int    `json:"success"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a {"error": message} response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeResult writes a Result; message may be empty.
func writeResult(w http.ResponseWriter, status int, ok bool, message string) {
	res := Result{Message: message}
	if ok {
		res.Success = 1
	}
	writeJSON(w, status, res)
}

// writeRaw writes a pre-encoded JSON document.
func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
