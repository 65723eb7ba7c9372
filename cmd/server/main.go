package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/virtshift/virtshift-api/internal/config"
	"github.com/virtshift/virtshift-api/internal/convert"
	"github.com/virtshift/virtshift-api/internal/discovery"
	"github.com/virtshift/virtshift-api/internal/handlers"
	"github.com/virtshift/virtshift-api/internal/hypervisor"
	"github.com/virtshift/virtshift-api/internal/jobs"
	"github.com/virtshift/virtshift-api/internal/middleware"
	"github.com/virtshift/virtshift-api/internal/migration"
	"github.com/virtshift/virtshift-api/internal/notification"
	"github.com/virtshift/virtshift-api/internal/pipeline"
	"github.com/virtshift/virtshift-api/internal/repository"
	"github.com/virtshift/virtshift-api/internal/routes"
	"github.com/virtshift/virtshift-api/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config *config.Config
	db     *sql.DB
	logger zerolog.Logger
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	gooseAdapter := migration.NewGooseAdapter(logger)
	goose.SetLogger(gooseAdapter)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	app := &application{
		config: cfg,
		db:     db,
		logger: logger,
	}

	// Repositories
	jobRepo := repository.NewJobRepository(db)
	hostRepo := repository.NewHostRepository(db)
	vmRepo := repository.NewVMRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Job cache: Redis when configured, in-process otherwise.
	var cache jobs.Cache
	if cfg.RedisURL != "" {
		redisCache, err := jobs.NewRedisCache(cfg.RedisURL, time.Hour)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to configure Redis cache")
		}
		if err := redisCache.Ping(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("Failed to reach Redis")
		}
		cache = redisCache
	} else {
		logger.Warn().Msg("No redis_url configured, using in-process job cache")
		cache = jobs.NewMemoryCache()
	}

	notifications := notification.NewService(notificationRepo, logger)
	store := jobs.NewStore(jobRepo, cache, logger)
	orchestrator := jobs.NewOrchestrator(store, notifications, logger)

	// Hypervisor clients and the services built on them.
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Docker client")
	}
	if err := os.MkdirAll(cfg.Worker.ScratchDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create scratch directory")
	}

	converter := convert.NewDockerConverter(
		dockerClient,
		cfg.Worker.ConverterImage,
		cfg.Worker.ScratchDir,
		cfg.Worker.ContainerCPULimit,
		cfg.Worker.ContainerMemoryLimit,
		logger,
	)
	transfer := convert.NewService(converter, cfg.Worker.ScratchDir, logger)
	discoveryService := discovery.NewService(hostRepo, vmRepo, hypervisor.NewESXiClient, notifications, logger)

	// Pipelines
	orchestrator.Register(pipeline.NewMigrationPipeline(
		hostRepo, vmRepo, jobRepo, discoveryService, transfer,
		hypervisor.NewESXiClient, hypervisor.NewPVEClient, logger,
	))
	orchestrator.Register(pipeline.NewDistributionPipeline(hostRepo, hypervisor.NewPVEClient, logger))
	orchestrator.Register(pipeline.NewRotationPipeline(hostRepo, hypervisor.NewESXiClient, hypervisor.NewPVEClient, logger))

	// Background sweeper for pending jobs.
	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	sweeper := worker.New(store, orchestrator, cfg.Worker.SweepInterval, logger)
	go sweeper.Start(sweeperCtx)

	// Handlers
	authHandler := handlers.NewAuthHandler(db, cfg, logger)
	jobHandler := handlers.NewJobHandler(orchestrator, logger)
	hostHandler := handlers.NewHostHandler(hostRepo, logger)
	discoveryHandler := handlers.NewDiscoveryHandler(discoveryService, logger)
	notificationHandler := handlers.NewNotificationHandler(notifications, logger)

	router := routes.NewRouter(authHandler, jobHandler, hostHandler, discoveryHandler, notificationHandler)
	loggedRouter := middleware.LoggingMiddleware(logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	app.startServer(corsHandler, stopSweeper, logger)

	logger.Info().Msg("Application terminated.")
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, stopSweeper context.CancelFunc, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Stop the pending-job sweeper; running jobs finish on their own goroutines.
	stopSweeper()
	logger.Info().Msg("Job sweeper stopped.")
}
