package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/raspy-assistant/statehub/internal/audit"
	"github.com/raspy-assistant/statehub/internal/auth"
	"github.com/raspy-assistant/statehub/internal/bridges/devicesync"
	"github.com/raspy-assistant/statehub/internal/infrastructure/config"
	"github.com/raspy-assistant/statehub/internal/infrastructure/database"
	"github.com/raspy-assistant/statehub/internal/infrastructure/influxdb"
	"github.com/raspy-assistant/statehub/internal/infrastructure/logging"
	"github.com/raspy-assistant/statehub/internal/state"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown when no timeout is configured.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceSyncMetrics is implemented by the MQTT device sync bridge.
type DeviceSyncMetrics interface {
	GetMetrics() devicesync.Metrics
}

// TelemetryMetrics is implemented by the InfluxDB client.
type TelemetryMetrics interface {
	GetMetrics() influxdb.Metrics
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Gate       auth.Gate
	Store      *state.Store
	Logger     *logging.Logger
	Audit      audit.Repository  // optional: enables GET /audit
	DB         *database.DB      // optional: pool and schema stats on /stats
	Migrations fs.FS             // migrations DB was migrated with
	Sync       DeviceSyncMetrics // optional: MQTT stats on /stats
	Telemetry  TelemetryMetrics  // optional: InfluxDB stats on /stats
	Version    string
	Shutdown   time.Duration
}

// Server is the HTTP API server for the shared assistant state.
//
// It manages the HTTP listener, routes, middleware, WebSocket hub and
// Prometheus registry. The server is created with New() and started with
// Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	gate       auth.Gate
	store      *state.Store
	logger     *logging.Logger
	auditRepo  audit.Repository
	db         *database.DB
	migrations fs.FS
	sync       DeviceSyncMetrics
	telemetry  TelemetryMetrics
	version    string
	shutdown   time.Duration

	hub       *Hub
	metrics   *Metrics
	pid       int
	startTime time.Time

	server      *http.Server
	listener    net.Listener
	cancel      context.CancelFunc // cancels background goroutines on Close()
	unsubscribe []func()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}

	shutdown := deps.Shutdown
	if shutdown <= 0 {
		shutdown = gracefulShutdownTimeout
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		gate:       deps.Gate,
		store:      deps.Store,
		logger:     deps.Logger,
		auditRepo:  deps.Audit,
		db:         deps.DB,
		migrations: deps.Migrations,
		sync:       deps.Sync,
		telemetry:  deps.Telemetry,
		version:    deps.Version,
		shutdown:   shutdown,
		pid:        os.Getpid(),
		startTime:  time.Now(),
	}
	s.hub = NewHub(deps.WS, deps.Logger)
	s.metrics = NewMetrics(s.hub, deps.Store)

	return s, nil
}

// Start attaches the hub and metrics to the store and begins listening for
// HTTP connections in a background goroutine. Close stops it.
func (s *Server) Start(ctx context.Context) error {
	// Bind first so a port in use is reported to the caller.
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.unsubscribe = append(s.unsubscribe,
		s.store.Subscribe(s.hub.Observe),
		s.store.Subscribe(s.metrics.Observe),
	)

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// WebSocketClients returns the number of open WebSocket connections.
func (s *Server) WebSocketClients() int {
	return s.hub.ClientCount()
}

// Addr returns the address the server is listening on, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits for in-flight requests up to the shutdown timeout, then forcefully
// closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.unsubscribe = nil

	// Cancel background goroutines (hub)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
