package api

import (
	"net/http"
)

// handleGetConfig returns the running configuration with credentials
// blanked. The API is read-only for configuration; changes go through
// the config file and a restart.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	sanitized := *s.cfg
	sanitized.Broker.Alpaca.APIKey = ""
	sanitized.Broker.Alpaca.APISecret = ""

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: sanitized})
}
