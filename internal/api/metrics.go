package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/raspy-assistant/statehub/internal/bridges/devicesync"
	"github.com/raspy-assistant/statehub/internal/infrastructure/influxdb"
	"github.com/raspy-assistant/statehub/internal/state"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string              `json:"timestamp"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	PID           int                 `json:"pid"`
	Runtime       RuntimeMetrics      `json:"runtime"`
	WebSocket     WSMetrics           `json:"websocket"`
	State         StateMetrics        `json:"state"`
	MQTT          *devicesync.Metrics `json:"mqtt,omitempty"`
	InfluxDB      *influxdb.Metrics   `json:"influxdb,omitempty"`
	Database      *DatabaseMetrics    `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// StateMetrics summarises the shared record.
type StateMetrics struct {
	Seq               uint64          `json:"seq"`
	RegisteredClients int             `json:"registered_clients"`
	LastBy            string          `json:"last_by"`
	UpdatedAt         state.Timestamp `json:"updated_at"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`

	Schema *SchemaMetrics `json:"schema,omitempty"`
}

// SchemaMetrics reports which migrations the audit database has applied.
type SchemaMetrics struct {
	Version string   `json:"version"`
	Applied int      `json:"applied"`
	Pending []string `json:"pending"`
}

// handleStats returns runtime and component statistics as JSON.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	rec := s.store.Get()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		PID:           s.pid,
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		State: StateMetrics{
			Seq:               s.store.Seq(),
			RegisteredClients: s.store.Clients().Len(),
			LastBy:            rec.LastBy,
			UpdatedAt:         rec.UpdatedAt,
		},
	}

	if s.sync != nil {
		syncStats := s.sync.GetMetrics()
		metrics.MQTT = &syncStats
	}

	if s.telemetry != nil {
		telemetryStats := s.telemetry.GetMetrics()
		metrics.InfluxDB = &telemetryStats
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
		if s.migrations != nil {
			metrics.Database.Schema = s.schemaMetrics(r)
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

// schemaMetrics summarises the migration state, or returns nil if it
// cannot be read.
func (s *Server) schemaMetrics(r *http.Request) *SchemaMetrics {
	applied, pending, err := s.db.MigrationStatus(r.Context(), s.migrations)
	if err != nil {
		s.logger.Warn("reading migration status failed", "error", err)
		return nil
	}

	schema := &SchemaMetrics{Applied: len(applied), Pending: make([]string, 0, len(pending))}
	if len(applied) > 0 {
		schema.Version = applied[len(applied)-1].Version
	}
	for _, m := range pending {
		schema.Pending = append(schema.Pending, m.Version)
	}
	return schema
}
