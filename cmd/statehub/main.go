// statehub - shared state service for the Raspy voice assistant
//
// statehub keeps one configuration record (colour, volume, voice, wake word
// and friends) that the phone app and the voice device both read and write
// over HTTP. Changes are pushed to WebSocket clients and, when enabled,
// mirrored to MQTT, recorded in a SQLite audit trail and sampled into
// InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/raspy-assistant/statehub/internal/api"
	"github.com/raspy-assistant/statehub/internal/audit"
	"github.com/raspy-assistant/statehub/internal/auth"
	"github.com/raspy-assistant/statehub/internal/bridges/devicesync"
	"github.com/raspy-assistant/statehub/internal/infrastructure/config"
	"github.com/raspy-assistant/statehub/internal/infrastructure/database"
	"github.com/raspy-assistant/statehub/internal/infrastructure/influxdb"
	"github.com/raspy-assistant/statehub/internal/infrastructure/logging"
	"github.com/raspy-assistant/statehub/internal/infrastructure/mqtt"
	"github.com/raspy-assistant/statehub/internal/state"
	"github.com/raspy-assistant/statehub/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// envConfigPath names the environment variable holding the config file path.
const envConfigPath = "STATEHUB_CONFIG"

// monitorInterval is how often components are re-checked and runtime
// telemetry is sampled.
const monitorInterval = 30 * time.Second

// options are the parsed command-line flags.
type options struct {
	configPath  string
	showVersion bool
	migrateDown bool
}

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line. The config path falls back to
// STATEHUB_CONFIG; an empty path means defaults plus environment.
func parseFlags(args []string) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("statehub", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file (env "+envConfigPath+")")
	fs.BoolVar(&opts.showVersion, "version", false, "print the version and exit")
	fs.BoolVar(&opts.migrateDown, "migrate-down", false, "roll back the latest audit database migration and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.configPath == "" {
		opts.configPath = os.Getenv(envConfigPath)
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled, then shuts everything down in reverse
// order of startup.
func run(ctx context.Context, args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Printf("statehub %s (%s, %s)\n", version, commit, date)
		return nil
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting statehub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", opts.configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)
	for _, warning := range cfg.Warnings() {
		log.Warn(warning)
	}

	if opts.migrateDown {
		return migrateDown(ctx, cfg.Database, log)
	}

	store := state.NewStore(state.Options{
		Voice: state.Voice{ID: cfg.Voice.DefaultID, Name: cfg.Voice.DefaultName},
	})
	store.SetLogger(log.With("component", "state"))
	gate := auth.NewGate(cfg.Security.AuthRequired(), cfg.Security.APIKey)

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Gate:     gate,
		Store:    store,
		Logger:   log,
		Version:  version,
		Shutdown: cfg.GetShutdownTimeout(),
	}
	var checks []namedCheck

	// Audit trail (optional)
	if cfg.Database.Enabled {
		db, stopAudit, auditErr := startAudit(ctx, cfg, store, log)
		if auditErr != nil {
			return auditErr
		}
		defer func() {
			stopAudit()
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		deps.Audit = audit.NewSQLiteRepository(db.DB)
		deps.DB = db
		deps.Migrations = migrations.FS
		checks = append(checks, namedCheck{"database", db})
	} else {
		log.Info("audit trail disabled")
	}

	// MQTT device sync (optional)
	if cfg.MQTT.Enabled {
		mqttClient, connErr := mqtt.Connect(cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge, bridgeErr := startDeviceSync(ctx, store, &gate, mqttClient, log)
		if bridgeErr != nil {
			return bridgeErr
		}
		defer bridge.Stop()
		deps.Sync = bridge
		checks = append(checks, namedCheck{"mqtt", mqttClient})
	} else {
		log.Info("MQTT device sync disabled")
	}

	// InfluxDB telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		var connErr error
		influxClient, connErr = influxdb.Connect(cfg.InfluxDB, store.Get())
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		defer store.Subscribe(influxClient.Observe)()
		deps.Telemetry = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		checks = append(checks, namedCheck{"influxdb", influxClient})
	} else {
		log.Info("InfluxDB disabled")
	}

	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	checks = append(checks, namedCheck{"api", srv})

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	sample := func() {}
	if influxClient != nil {
		sample = func() {
			influxClient.SampleRuntime(srv.WebSocketClients(), store.Clients().Len())
		}
	}
	go monitor(ctx, monitorInterval, checks, sample, log)
	log.Info("initialisation complete, waiting for shutdown signal",
		"address", srv.Addr(),
		"auth", gate.Enabled(),
	)

	<-ctx.Done()

	// Deferred Close() calls run in reverse order: API server, InfluxDB,
	// device sync and MQTT, then the audit trail and database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// startAudit opens the database, applies migrations and attaches a
// recorder to the store. The returned stop function detaches the recorder
// and waits for queued entries to be written.
func startAudit(ctx context.Context, cfg *config.Config, store *state.Store, log *logging.Logger) (*database.DB, func(), error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // best effort cleanup on error path
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path())

	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), audit.DefaultQueueSize, log.With("component", "audit").Logger)

	// The recorder outlives ctx so changes made while the server drains
	// are still written.
	recCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		recorder.Run(recCtx)
	}()
	unsubscribe := store.Subscribe(recorder.Observe)

	stop := func() {
		unsubscribe()
		cancel()
		<-done
	}
	return db, stop, nil
}

// migrateDown rolls back the most recent audit migration.
func migrateDown(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) error {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // best effort on exit

	if err := db.MigrateDown(ctx, migrations.FS); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	applied, _, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	version := "none"
	if len(applied) > 0 {
		version = applied[len(applied)-1].Version
	}
	log.Info("migration rolled back", "path", db.Path(), "schema_version", version)
	return nil
}

// startDeviceSync creates and starts the MQTT bridge.
func startDeviceSync(ctx context.Context, store *state.Store, gate *auth.Gate, client *mqtt.Client, log *logging.Logger) (*devicesync.Bridge, error) {
	bridge, err := devicesync.NewBridge(devicesync.Options{
		Store:      store,
		Gate:       gate,
		MQTTClient: client,
		Topics:     client.Topics(),
		QoS:        client.QoS(),
		Logger:     log.With("component", "devicesync"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating device sync: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting device sync: %w", err)
	}
	return bridge, nil
}

// healthChecker is implemented by every component with a connection to verify.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

type namedCheck struct {
	name    string
	checker healthChecker
}

// healthCheck verifies each component in order and reports the first
// failure.
func healthCheck(ctx context.Context, checks []namedCheck) error {
	for _, c := range checks {
		if err := c.checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

// monitor re-runs the health checks and samples telemetry every interval
// until ctx is cancelled. Failures are logged; the service keeps running.
func monitor(ctx context.Context, interval time.Duration, checks []namedCheck, sample func(), log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := healthCheck(ctx, checks); err != nil && ctx.Err() == nil {
				log.Warn("health check failed", "error", err)
			}
			sample()
		}
	}
}
