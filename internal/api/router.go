package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(noStoreMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "", "method not allowed")
	})

	// Open routes
	r.Get("/", handleIndex)
	r.Get("/healthz", handleHealthz)
	r.Get("/schema", handleSchema)
	r.Get("/estado", s.handleGetState)
	r.Post("/vincular", s.handleLink)
	r.Get("/stats", s.handleStats)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	// Writes and history require the shared secret when the gate is enabled
	r.Group(func(r chi.Router) {
		r.Use(s.apiKeyMiddleware)

		r.Post("/estado", s.handlePatchState)
		r.Post("/reset", s.handleReset)
		r.Get("/audit", s.handleListAudit)
	})

	return r
}

const indexHTML = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>statehub</title></head>
<body>
<h2>Servidor OK</h2>
<p>Usa <code>/estado</code> (GET/POST), <code>/vincular</code> (POST), <code>/reset</code> (POST) y <code>/schema</code> (GET).</p>
<p>Tiempo real: <code>/ws</code>. Métricas: <code>/metrics</code>.</p>
</body>
</html>
`

// handleIndex returns a short HTML page listing the endpoints.
func handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response
	w.Write([]byte(indexHTML))
}

// handleHealthz is the liveness probe.
func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response
	w.Write([]byte("ok"))
}
