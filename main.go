package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/courier-risk/internal/auth"
	"github.com/example/courier-risk/internal/config"
	"github.com/example/courier-risk/internal/courier"
	"github.com/example/courier-risk/internal/grpchealth"
	"github.com/example/courier-risk/internal/handlers"
	"github.com/example/courier-risk/internal/logging"
	"github.com/example/courier-risk/internal/metrics"
	"github.com/example/courier-risk/internal/repository"
	"github.com/example/courier-risk/internal/scheduler"
	"github.com/example/courier-risk/internal/usecase"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "courier-risk",
		Short:        "Courier delivery history and fraud risk scoring",
		SilenceUsage: true,
		RunE:         runServe,
	}
	rootCmd.AddCommand(serveCmd(), installCmd(), uninstallCmd(), refreshCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health service and refresh scheduler",
		RunE:  runServe,
	}
}

func installCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Create the tables and seed provider settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			return app.install(cmd.Context())
		},
	}
}

func uninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Drop the metrics and provider settings tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.repo.DropTables(cmd.Context()); err != nil {
				return err
			}
			app.logger.Info("tables dropped")
			return nil
		},
	}
}

func refreshCmd() *cobra.Command {
	var phone string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh stored phones from the enabled couriers once",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if phone != "" {
				report, err := app.uc.RefreshPhone(cmd.Context(), phone)
				if err != nil {
					return err
				}
				app.logger.Info("phone refreshed",
					zap.String("phone", report.Phone),
					zap.Strings("updated", report.Updated),
					zap.Int("failed", len(report.Failed)),
				)
				return nil
			}

			scheduler.NewRefreshWorker(app.uc, 0, app.recorder, app.logger).RunOnce(cmd.Context())
			return nil
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "refresh a single phone instead of every stored phone")
	return cmd
}

type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *gorm.DB
	redis    *redis.Client
	repo     *repository.MetricsRepository
	uc       *usecase.FraudCheckUseCase
	registry *prometheus.Registry
	recorder *metrics.Recorder
}

func newApp(ctx context.Context) (*app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := initDatabase(initCtx, cfg)
	if err != nil {
		logger.Error("database init failed", zap.Error(err))
		return nil, err
	}

	redisClient, err := initRedis(initCtx, cfg)
	if err != nil {
		logger.Warn("redis unavailable, live cache disabled", zap.Error(err))
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(promRegistry)

	repo := repository.NewMetricsRepository(db, logger)
	settings := repository.NewSettingsRepository(db, logger)

	registry := courier.NewRegistry()
	registry.Register(courier.MockSlug, courier.NewMockAdapter())

	var cache usecase.Cache
	if redisClient != nil {
		cache = usecase.NewRedisCache(redisClient)
	}

	uc := usecase.NewFraudCheckUseCase(repo, settings, registry, cache, recorder, logger)
	uc.SetLiveCacheTTL(cfg.LiveCacheTTL)

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		redis:    redisClient,
		repo:     repo,
		uc:       uc,
		registry: promRegistry,
		recorder: recorder,
	}, nil
}

func (a *app) install(ctx context.Context) error {
	if err := a.repo.AutoMigrate(ctx); err != nil {
		return err
	}

	seed := courier.Defaults()
	if a.cfg.ProvidersFile != "" {
		fromFile, err := courier.LoadSettingsFile(a.cfg.ProvidersFile)
		if err != nil {
			return err
		}
		for slug, fields := range fromFile {
			for key, value := range fields {
				seed[slug][key] = value
			}
		}
	}

	if err := a.uc.SeedProviderSettings(ctx, seed); err != nil {
		return err
	}
	a.logger.Info("install complete")
	return nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	// Background workers must be gone before the database and redis are closed.
	var workers sync.WaitGroup
	defer func() {
		stop()
		workers.Wait()
	}()

	if err := app.install(ctx); err != nil {
		app.logger.Error("install failed", zap.Error(err))
		return err
	}

	if err := app.startWorkers(ctx, &workers); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              app.cfg.ListenAddr,
		Handler:           app.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	app.logger.Info("courier risk API listening", zap.String("addr", app.cfg.ListenAddr))
	if err := serveHTTP(ctx, server, nil, 15*time.Second, app.logger); err != nil {
		app.logger.Error("server failed", zap.Error(err))
		return err
	}
	return nil
}

// startWorkers launches the refresh scheduler and, when configured, the gRPC
// health server. Both stop when ctx is done and are tracked by workers.
func (a *app) startWorkers(ctx context.Context, workers *sync.WaitGroup) error {
	worker := scheduler.NewRefreshWorker(a.uc, a.cfg.RefreshInterval, a.recorder, a.logger)
	workers.Add(1)
	go func() {
		defer workers.Done()
		worker.Run(ctx)
	}()

	if a.cfg.GRPCHealthAddr == "" {
		return nil
	}
	listener, err := net.Listen("tcp", a.cfg.GRPCHealthAddr)
	if err != nil {
		a.logger.Error("gRPC health listen failed", zap.Error(err))
		return err
	}
	healthServer := grpchealth.NewServer(a.repo, 15*time.Second, a.logger)
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := healthServer.Serve(ctx, listener); err != nil {
			a.logger.Error("gRPC health server failed", zap.Error(err))
		}
	}()
	return nil
}

func (a *app) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	authMiddleware := auth.JWTMiddleware(a.cfg.JWTSecret, a.cfg.JWTAudience)
	metricsHandler := promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
	handlers.RegisterRoutes(r, a.uc, authMiddleware, metricsHandler, a.logger)
	return r
}

func initDatabase(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DatabaseDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseDSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DatabaseDSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, logging.NewOperationError("main.init_database", "", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, logging.NewOperationError("main.init_database", "", err)
	}
	if cfg.DatabaseDriver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(10)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, logging.NewOperationError("main.ping_database", "", err)
	}

	return db, nil
}

// initRedis returns a nil client when no address is configured.
func initRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// serveHTTP serves until ctx is done, then gives in-flight requests up to
// shutdownTimeout to finish. A nil listener listens on server.Addr.
func serveHTTP(ctx context.Context, server *http.Server, listener net.Listener, shutdownTimeout time.Duration, logger *zap.Logger) error {
	if listener == nil {
		var err error
		if listener, err = net.Listen("tcp", server.Addr); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server", zap.Duration("timeout", shutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
