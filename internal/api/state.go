package api

import (
	"io"
	"net/http"

	"github.com/raspy-assistant/statehub/internal/state"
)

// stateResponse is the record as the devices read it, flat, plus the
// server's process ID for debugging which instance answered.
type stateResponse struct {
	state.Record
	PID int `json:"_pid"`
}

func (s *Server) stateBody(rec state.Record) stateResponse {
	return stateResponse{Record: rec, PID: s.pid}
}

// handleGetState returns the current record.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stateBody(s.store.Get()))
}

// handlePatchState validates and merges a partial record. Either every
// field in the body is applied or none is.
func (s *Server) handlePatchState(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.metrics.patches.WithLabelValues(resultInvalid).Inc()
		writeStateError(w, err)
		return
	}

	patch, err := state.DecodePatch(body)
	if err == nil {
		var rec state.Record
		rec, err = s.store.Apply(patch, requester(r))
		if err == nil {
			writeJSON(w, http.StatusOK, s.stateBody(rec))
			return
		}
	}

	s.metrics.patches.WithLabelValues(resultInvalid).Inc()
	s.logger.Debug("patch rejected",
		"client", requester(r),
		"error", err,
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	writeStateError(w, err)
}

// handleReset restores the defaults.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	rec := s.store.ResetBy(requester(r))
	s.logger.Info("state reset", "client", requester(r))
	writeJSON(w, http.StatusOK, s.stateBody(rec))
}

// schemaResponse is the body of GET /schema.
type schemaResponse struct {
	Fields map[string]string `json:"fields"`
}

// handleSchema describes the record's fields.
func handleSchema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, schemaResponse{Fields: state.Schema()})
}
