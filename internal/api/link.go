package api

import (
	"io"
	"net/http"

	"github.com/raspy-assistant/statehub/internal/state"
)

// Body keys of POST /vincular.
const (
	linkKeyClient   = "cliente"
	linkKeyUserName = "user_name"
)

// linkResponse is the body returned by POST /vincular.
type linkResponse struct {
	OK         bool          `json:"ok"`
	Registered []string      `json:"registrados"`
	State      stateResponse `json:"estado"`
}

// handleLink registers a client and optionally sets the user name. A body
// that is not a JSON object is treated as empty, so the call still stamps
// updated_at and returns the registry.
func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeStateError(w, err)
		return
	}

	patch, err := state.DecodePatch(body)
	if err != nil {
		s.logger.Debug("ignoring malformed link body", "error", err)
		patch = state.Patch{}
	}

	client, _ := patch[linkKeyClient].AsString()     //nolint:errcheck // non-string means absent
	userName, _ := patch[linkKeyUserName].AsString() //nolint:errcheck // non-string means absent

	rec, registered := s.store.Link(client, userName)
	writeJSON(w, http.StatusOK, linkResponse{
		OK:         true,
		Registered: registered,
		State:      s.stateBody(rec),
	})
}
