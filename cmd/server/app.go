package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/marrowlabs/enrich-api/internal/config"
	"github.com/marrowlabs/enrich-api/internal/platform/postgres"
	"github.com/marrowlabs/enrich-api/internal/service"
)

// application bundles the wired dependencies of a running server.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	db      *sql.DB
	service *service.EnrichmentService
	sweeper *service.StaleLeaseSweeper
}

// newApplication connects to the database and wires the stores, the
// enrichment service, and the background lease sweeper.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := setupAppDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}

	taskStore := postgres.NewPostgresTaskStore(db, logger)
	chunkStore := postgres.NewPostgresChunkStore(db, logger)
	documentStore := postgres.NewPostgresDocumentStore(db, logger)
	graphStore := postgres.NewPostgresGraphStore(db, logger)
	counterStore := postgres.NewPostgresCounterStore(db, logger)

	enrichmentService, err := service.NewEnrichmentService(
		db,
		taskStore,
		chunkStore,
		documentStore,
		graphStore,
		counterStore,
		cfg.Enrichment,
		logger,
	)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("failed to close database", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to create enrichment service: %w", err)
	}

	sweeper := service.NewStaleLeaseSweeper(
		enrichmentService,
		cfg.Enrichment.SweepInterval,
		logger,
	)

	return &application{
		config:  cfg,
		logger:  logger,
		db:      db,
		service: enrichmentService,
		sweeper: sweeper,
	}, nil
}

// run starts the background sweeper and the HTTP server, blocking until
// shutdown.
func (app *application) run() error {
	app.sweeper.Start()

	router := app.setupRouter()
	return app.startHTTPServer(context.Background(), router)
}

// cleanup releases long-lived resources during shutdown.
func (app *application) cleanup() {
	app.sweeper.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("failed to close database", "error", err)
	}
}

// setupAppDatabase establishes a connection to the database and configures
// connection pools. Returns the database connection if successful, or an
// error if the connection fails.
func setupAppDatabase(cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("Failed to close database after ping failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}
