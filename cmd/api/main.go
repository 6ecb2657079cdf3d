package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/boletin/backend/internal/admin"
	"github.com/boletin/backend/internal/api"
	"github.com/boletin/backend/internal/api/handlers"
	"github.com/boletin/backend/internal/cache/redis"
	"github.com/boletin/backend/internal/feed"
	"github.com/boletin/backend/internal/grading"
	"github.com/boletin/backend/internal/ingestion"
	"github.com/boletin/backend/internal/metrics"
	"github.com/boletin/backend/internal/middleware/ratelimit"
	"github.com/boletin/backend/internal/middleware/security"
	"github.com/boletin/backend/internal/query"
	"github.com/boletin/backend/internal/storage/sqlite"
	"github.com/boletin/backend/internal/store"
	"github.com/boletin/backend/pkg/circuitbreaker"
	"github.com/boletin/backend/pkg/config"
	appLogger "github.com/boletin/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting grade lookup server")
	metrics.Init()

	recordStore := store.New()
	classifier := grading.NewClassifier(grading.Rules{
		QualitativeLevels:   cfg.Grading.QualitativeLevels,
		ExceptionLevel:      cfg.Grading.ExceptionLevel,
		QualitativeSubjects: cfg.Grading.QualitativeSubjects,
	})

	var processorOpts []ingestion.Option
	processorOpts = append(processorOpts,
		ingestion.WithFormat(ingestion.Format(cfg.Feed.Format)),
		ingestion.WithReloadTimeout(cfg.Feed.Timeout()*time.Duration(cfg.Feed.MaxAttempts+1)),
	)

	checks := make(map[string]api.Check)

	var history handlers.LoadHistory
	if cfg.SQLite.Enabled {
		sqliteClient, err := openSQLite(cfg.SQLite.Path)
		if err != nil {
			appLogger.Warn("SQLite unavailable; snapshots will not be persisted", zap.Error(err))
		} else {
			defer sqliteClient.Close()
			processorOpts = append(processorOpts,
				ingestion.WithRepository(sqliteClient),
				ingestion.WithHistoryRetention(cfg.SQLite.HistoryRetention()),
			)
			history = sqliteClient
			checks["sqlite"] = sqliteClient.Ping
		}
	}

	var fetcher ingestion.Fetcher
	if cfg.Feed.URL != "" {
		feedClient := feed.NewClient(feed.Config{
			URL:             cfg.Feed.URL,
			Timeout:         cfg.Feed.Timeout(),
			MaxAttempts:     cfg.Feed.MaxAttempts,
			CacheBust:       cfg.Feed.CacheBust,
			BreakerFailures: cfg.Feed.BreakerFailures,
		})
		fetcher = feedClient
		checks["feed"] = func(context.Context) error {
			if feedClient.BreakerState() == circuitbreaker.StateOpen {
				return circuitbreaker.ErrOpen
			}
			return nil
		}
	} else {
		appLogger.Warn("No feed URL configured; data only arrives through uploads")
	}

	processor := ingestion.NewProcessor(fetcher, recordStore, processorOpts...)

	engineOpts := []query.Option{query.WithReloader(processor)}
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second,
		)
		if err != nil {
			appLogger.Warn("Redis unavailable; statistics will not be cached", zap.Error(err))
		} else {
			defer redisClient.Close()
			engineOpts = append(engineOpts, query.WithStatsCache(redisClient))
			checks["redis"] = redisClient.Ping
		}
	}
	queryEngine := query.NewEngine(recordStore, classifier, engineOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cached aggregates were computed under whatever rules were configured
	// when they were stored.
	if err := queryEngine.ResetStatisticsCache(ctx); err != nil {
		appLogger.Warn("Failed to reset statistics cache", zap.Error(err))
	}

	if _, err := processor.Restore(ctx); err != nil {
		appLogger.Warn("Failed to restore persisted snapshot", zap.Error(err))
	}

	var sessions *admin.SessionManager
	if cfg.Admin.Enabled {
		sessions, err = admin.NewSessionManager(admin.Config{
			Username:     cfg.Admin.Username,
			Password:     cfg.Admin.Password,
			PasswordHash: cfg.Admin.PasswordHash,
			TTL:          cfg.Admin.TTL(),
		})
		if err != nil {
			appLogger.Fatal("Failed to configure admin sessions", zap.Error(err))
		}
	}

	wsHandler := handlers.NewWebSocketHandler(sessions)
	processor.OnLoad(wsHandler.OnLoad)

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.LookupsPerMinute,
		Logger:               appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, " + admin.TokenHeader,
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	api.Register(app, api.Deps{
		Store:     recordStore,
		Students:  handlers.NewStudentHandler(queryEngine),
		Admin:     handlers.NewAdminHandler(sessions, queryEngine, history),
		Sheets:    handlers.NewSheetHandler(processor),
		WebSocket: wsHandler,
		Sessions:  sessions,
		Limiter:   limiter,
		Checks:    checks,
	})

	if fetcher != nil {
		go func() {
			if _, err := processor.Load(ctx); err != nil {
				appLogger.Warn("Initial sheet load failed", zap.Error(err))
			}
			processor.Run(ctx, cfg.Feed.RefreshInterval())
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	cancel()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func openSQLite(path string) (*sqlite.Client, error) {
	client, err := sqlite.NewClient(path)
	if err != nil {
		return nil, err
	}
	if err := client.InitSchema(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return client, nil
}
