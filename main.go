package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/pkg/config"
	"github.com/ledgerline/recon-engine/pkg/database"
	"github.com/ledgerline/recon-engine/pkg/handlers"
	"github.com/ledgerline/recon-engine/pkg/logging"
	"github.com/ledgerline/recon-engine/pkg/models"
	"github.com/ledgerline/recon-engine/pkg/repositories"
	"github.com/ledgerline/recon-engine/pkg/services"
	"github.com/ledgerline/recon-engine/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Database),
		zap.Int("max_concurrent_tasks", cfg.Engine.MaxConcurrentTasks))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to database",
		zap.String("url", logging.SanitizeConnectionString(cfg.Database.URL())))

	if err := migrate(db, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewThrottledStrategy(cfg.Engine.MaxConcurrentTasks)))

	candidateRepo := repositories.NewCandidateRepository(db)
	configRepo := repositories.NewMatchingConfigRepository(db)
	pipelineRepo := repositories.NewPipelineRepository(db)
	taskRepo := repositories.NewTaskRepository(db)
	suggestionRepo := repositories.NewSuggestionRepository(db)
	reconciliationRepo := repositories.NewReconciliationRepository(db)

	configService := services.NewConfigService(configRepo, pipelineRepo)
	reconService := services.NewReconService(
		db, taskRepo, candidateRepo, suggestionRepo, reconciliationRepo,
		configService, queue,
		services.EngineSettings{
			MaxSubsetEvaluations: cfg.Engine.MaxSubsetEvaluations,
			CandidatePageSize:    cfg.Engine.CandidatePageSize,
			DefaultTimeBudget:    cfg.Engine.DefaultTimeBudget,
		},
		logger,
	)
	suggestionService := services.NewSuggestionService(db, suggestionRepo, reconciliationRepo, logger)
	reconciliationService := services.NewReconciliationService(reconciliationRepo, logger)

	if cfg.PresetsPath != "" {
		if err := seedPresets(ctx, cfg.PresetsPath, configService, logger); err != nil {
			logger.Fatal("Failed to seed presets", zap.Error(err))
		}
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewReconHandler(reconService, logger).RegisterRoutes(mux)
	handlers.NewSuggestionHandler(suggestionService, logger).RegisterRoutes(mux)
	handlers.NewReconciliationHandler(reconciliationService, logger).RegisterRoutes(mux)
	handlers.NewConfigHandler(configService, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting recon-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	// Stop the queue after the HTTP surface so in-flight runs persist their
	// partial results as cancelled tasks.
	queue.Cancel()
	if err := queue.Wait(shutdownCtx); err != nil {
		logger.Warn("Queue drained with failures", zap.Error(err))
	}
}

// migrate runs schema migrations over a database/sql handle derived from the
// pool configuration.
func migrate(db *database.DB, migrationsPath string, logger *zap.Logger) error {
	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer func() { _ = sqlDB.Close() }()
	return database.RunMigrations(sqlDB, migrationsPath, logger)
}

func seedPresets(ctx context.Context, path string, configService services.ConfigService, logger *zap.Logger) error {
	presets, err := config.LoadPresets(path)
	if err != nil {
		return err
	}

	configs := make([]*models.MatchingConfig, 0, len(presets))
	for _, p := range presets {
		cfg, err := p.ToConfig()
		if err != nil {
			return err
		}
		configs = append(configs, cfg)
	}

	if err := configService.SeedGlobalConfigs(ctx, configs); err != nil {
		return err
	}
	logger.Info("presets seeded", zap.Int("count", len(configs)))
	return nil
}
