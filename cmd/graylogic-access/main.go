// Gray Logic Access - central audit and access-event store.
//
// The server accepts batches of audit entries, access events and consent
// records from badge stations and admin tools, gated by ES256 bearer
// credentials and an identity allow-list, and prunes them on a retention
// schedule.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/api"
	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/events"
	"github.com/nerrad567/gray-logic-access/internal/gate"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-access/internal/jwks"
	"github.com/nerrad567/gray-logic-access/internal/reconcile"
	"github.com/nerrad567/gray-logic-access/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	serviceName       = "graylogic-access"
	defaultConfigPath = "configs/config.yaml"
)

func main() {
	migrate := flag.String("migrate", "", `run schema maintenance instead of serving: "status", "up" or "down"`)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if *migrate != "" {
		err = runMigrate(ctx, *migrate, os.Stdout)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Access",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, serviceName, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Driver:      database.DriverCGO,
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
		Migrations:  migrations.Server,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Event publishing is optional. The publisher takes interfaces, so a
	// disabled client must stay a nil interface rather than a nil pointer.
	var broker events.Broker
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		broker = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	var metrics events.Metrics
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		metrics = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	publisher := events.New(cfg.Site.ID, broker, metrics, log)

	reconciler := reconcile.NewService(
		reconcile.NewSQLiteRepository(db.DB),
		reconcile.Options{
			Retention:    retentionPolicies(cfg),
			RetentionKey: cfg.Retention.Key,
			Observer:     publisher,
		},
		log,
	)

	requestGate, keys := buildGate(ctx, cfg, reconciler, publisher, log)

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		Logger:     log,
		DB:         db,
		Gate:       requestGate,
		Reconciler: reconciler,
		Keys:       keys,
		Events:     publisher,
		MQTT:       mqttClient,
		InfluxDB:   influxClient,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server listening", "host", cfg.API.Host, "port", cfg.API.Port)

	if cfg.Retention.PruneIntervalHours > 0 {
		pruner := reconcile.NewPruner(reconciler, time.Duration(cfg.Retention.PruneIntervalHours)*time.Hour, log)
		pruner.Start(ctx)
		defer pruner.Stop()
	} else {
		log.Info("retention pruner disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: pruner, API server, InfluxDB, MQTT,
	// database.
	log.Info("Gray Logic Access stopped")
	return nil
}

// errUnknownMigrateCommand is returned for an unrecognised -migrate value.
var errUnknownMigrateCommand = errors.New("unknown migrate command")

// runMigrate applies, rolls back or reports server schema migrations and
// prints the resulting status to out. Only the database section of the
// configuration is used.
func runMigrate(ctx context.Context, command string, out io.Writer) error {
	switch command {
	case "status", "up", "down":
	default:
		return fmt.Errorf("%w: %q", errUnknownMigrateCommand, command)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	db, err := database.Open(ctx, database.Config{
		Driver:      database.DriverCGO,
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
		Migrations:  migrations.Server,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly maintenance session

	switch command {
	case "up":
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	case "down":
		if err := db.MigrateDown(ctx); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	for _, m := range applied {
		fmt.Fprintf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.UTC().Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}

// buildGate wires the key cache, verifier and allow-list into the request
// gate. A failed warm-up fetch is logged; the cache retries on first use.
func buildGate(ctx context.Context, cfg *config.Config, reconciler *reconcile.Service, publisher *events.Publisher, log *logging.Logger) (*gate.Gate, *jwks.Cache) {
	g := cfg.Security.Gate

	keys := jwks.New(jwks.Config{
		URL:             g.JWKSURL,
		RefreshInterval: time.Duration(g.JWKSRefreshInterval) * time.Second,
		FetchTimeout:    time.Duration(g.JWKSFetchTimeout) * time.Second,
		MinRefreshGap:   time.Duration(g.JWKSMinRefreshGap) * time.Second,
	}, log)
	if err := keys.Refresh(ctx); err != nil {
		log.Warn("initial key set fetch failed", "url", g.JWKSURL, "error", err)
	} else {
		log.Info("key set loaded", "url", g.JWKSURL, "keys", keys.Stats().Keys)
	}

	verifier := credential.NewVerifier(keys, g.Issuer, g.Audience)
	policy := gate.NewPolicy(g.AllowedDomains, g.AllowedIdentifiers)
	recorder := api.NewDeniedRecorder(reconciler, publisher)

	if g.LoopbackBypass {
		log.Warn("loopback bypass enabled, credential-less local requests are admitted")
	}

	return gate.New(verifier, policy, recorder, gate.Options{LoopbackBypass: g.LoopbackBypass}, log), keys
}

// retentionPolicies maps the configured windows onto record classes.
func retentionPolicies(cfg *config.Config) []reconcile.RetentionPolicy {
	days := cfg.RetentionDays()
	policies := make([]reconcile.RetentionPolicy, 0, len(days))
	for _, class := range []reconcile.Class{reconcile.ClassAudit, reconcile.ClassAccess} {
		if n, ok := days[string(class)]; ok {
			policies = append(policies, reconcile.RetentionPolicy{Class: class, MaxAgeDays: n})
		}
	}
	return policies
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections. mqttClient and
// influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
