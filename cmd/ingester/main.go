// Package main provides the fleetlog machine-event ingestion service.
//
// It wires together the storage, ingestion, stats, and aliasing packages
// and exposes them over the HTTP API defined in internal/api.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/correlator-io/fleetlog/internal/aliasing"
	"github.com/correlator-io/fleetlog/internal/api"
	"github.com/correlator-io/fleetlog/internal/api/middleware"
	"github.com/correlator-io/fleetlog/internal/ingestion"
	"github.com/correlator-io/fleetlog/internal/stats"
	"github.com/correlator-io/fleetlog/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "ingester"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting fleetlog ingestion service",
		slog.String("service", name),
		slog.String("version", version),
	)

	dbConfig := storage.LoadConfig()
	if err := dbConfig.Validate(); err != nil {
		logger.Error("Invalid database configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(dbConfig)
	if err != nil {
		logger.Error("Failed to connect to database",
			slog.String("database", dbConfig.MaskDatabaseURL()),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	eventStore, err := storage.NewEventStore(conn)
	if err != nil {
		logger.Error("Failed to construct event store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	apiKeyStore, err := storage.NewPersistentKeyStore(conn)
	if err != nil {
		logger.Error("Failed to construct API key store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	aliasConfig, err := aliasing.LoadConfigFromEnv()
	if err != nil {
		logger.Warn("Failed to load alias configuration, continuing without aliasing",
			slog.String("error", err.Error()),
		)

		aliasConfig = &aliasing.Config{}
	}

	resolver := aliasing.NewResolver(aliasConfig)

	upsertEngine := ingestion.NewUpsertEngine(eventStore, ingestion.DefaultUpsertConfig(), logger)
	ingestFacade := ingestion.NewFacade(upsertEngine, ingestion.WithAliasResolver(resolver))

	statsAggregator := stats.NewAggregator(eventStore, stats.LoadConfigFromEnv())

	rateLimiter := middleware.NewInMemoryRateLimiter(middleware.LoadConfig())

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	server := api.NewServer(&serverConfig, apiKeyStore, rateLimiter, eventStore, ingestFacade, statsAggregator)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("fleetlog ingestion service stopped")
}
