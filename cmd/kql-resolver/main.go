package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/seanankenbruck/kql-resolver/internal/auth"
	"github.com/seanankenbruck/kql-resolver/internal/config"
	"github.com/seanankenbruck/kql-resolver/internal/database"
	"github.com/seanankenbruck/kql-resolver/internal/history"
	"github.com/seanankenbruck/kql-resolver/internal/loganalytics"
	"github.com/seanankenbruck/kql-resolver/internal/observability"
	"github.com/seanankenbruck/kql-resolver/internal/processor"
	"github.com/seanankenbruck/kql-resolver/internal/session"
	"github.com/sony/gobreaker"
)

const version = "1.0.0"

func main() {
	ctx := context.Background()

	loader := config.NewDefaultLoader()
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if err := cfg.ValidateWithContext(); err != nil {
		log.Fatal("Invalid configuration:", err)
	}

	logger := observability.NewLogger("main").WithLevel(observability.ParseLogLevel(cfg.Server.LogLevel))
	gin.SetMode(cfg.Server.GinMode)

	for _, w := range loader.Warnings() {
		logger.Warn(ctx, "Configuration warning", map[string]interface{}{"detail": w})
	}
	logger.Debug(ctx, "Configuration sources", map[string]interface{}{"sources": loader.Sources()})

	// Redis backs sessions and the result cache
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// Query history
	var store history.Store
	var pgStore *history.PostgresStore
	if cfg.Database.Enabled {
		pgConfig := history.PostgresConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
		}

		err := logger.Track(ctx, "migrate", func(context.Context) error {
			return database.RunMigrations(database.MigrationConfig{
				DatabaseURL:    pgConfig.URL(),
				MigrationsPath: getEnv("MIGRATIONS_PATH", "./migrations"),
			})
		})
		if err != nil {
			log.Fatal("Failed to run migrations:", err)
		}

		pgStore, err = history.NewPostgresStore(pgConfig)
		if err != nil {
			log.Fatal("Failed to initialize history store:", err)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		logger.Warn(ctx, "Database disabled, keeping query history in memory", nil)
		store = history.NewMemoryStore(history.MaxLimit)
	}

	// Log Analytics client with circuit breaker
	laClient := loganalytics.NewClient(
		cfg.LogAnalytics.Endpoint,
		loganalytics.AuthConfig{
			Type:        cfg.LogAnalytics.AuthType,
			BearerToken: cfg.LogAnalytics.BearerToken,
			APIKey:      cfg.LogAnalytics.APIKey,
		},
		cfg.LogAnalytics.Timeout,
	).WithRetry(loganalytics.DefaultRetryConfig)
	cbConfig := loganalytics.DefaultCircuitBreakerConfig
	cbConfig.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn(ctx, "Circuit breaker state changed", map[string]interface{}{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		})
	}
	querier := loganalytics.NewCircuitBreakerClient(laClient, "loganalytics", cbConfig)

	// Auth
	sessionManager := session.NewManager(rdb, cfg.Auth.SessionExpiry)
	authManager := auth.NewAuthManager(auth.AuthConfig{
		JWTSecret:      cfg.Auth.JWTSecret,
		JWTExpiry:      cfg.Auth.JWTExpiry,
		SessionExpiry:  cfg.Auth.SessionExpiry,
		RateLimit:      cfg.Auth.RateLimit,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		AdminPassword:  cfg.Auth.AdminPassword,
	}, sessionManager)
	defer authManager.Close()

	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if n := authManager.CleanupExpired(); n > 0 {
				logger.Info(ctx, "Removed expired API keys", map[string]interface{}{"count": n})
			}
		}
	}()

	// Health checks
	healthChecker := observability.NewHealthChecker("kql-resolver", version)
	healthChecker.Register("database", observability.DatabaseHealthCheck(store.Ping))
	healthChecker.Register("redis", observability.RedisHealthCheck(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}))
	healthChecker.Register("upstream_breaker", observability.CircuitBreakerHealthCheck("upstream_breaker", func() string {
		return querier.State().String()
	}))
	if cfg.LogAnalytics.WorkspaceID != "" {
		healthChecker.Register("loganalytics", observability.LogAnalyticsHealthCheck(func(ctx context.Context) error {
			return querier.TestConnection(ctx, cfg.LogAnalytics.WorkspaceID)
		}))
	}

	// Query processor
	safety := processor.NewSafetyChecker()
	safety.Enabled = cfg.Query.EnableSafetyChecks
	safety.MaxTemplateLength = cfg.Query.MaxTemplateLength
	safety.ForbiddenCommands = cfg.Query.ForbiddenCommands

	qp := processor.NewQueryProcessor(querier, rdb, store, processor.ProcessorConfig{
		DefaultTimeColumn: cfg.Macros.DefaultTimeColumn,
		SelectAllValue:    cfg.Macros.SelectAllValue,
		DefaultInterval:   cfg.Macros.DefaultInterval,
		DefaultFrom:       cfg.Macros.DefaultFrom,
		DefaultTo:         cfg.Macros.DefaultTo,
		DefaultWorkspace:  cfg.LogAnalytics.WorkspaceID,
		QueryTimeout:      cfg.Query.Timeout,
		CacheTTL:          cfg.Query.CacheTTL,
		HistoryLimit:      cfg.Query.HistoryLimit,
		Safety:            safety,
	})
	qp.SetLogger(logger.Named("query-processor"))

	// Router
	router := gin.New()
	router.Use(observability.RecoveryMiddleware(logger))
	router.Use(observability.RequestLoggingMiddleware(logger.Named("http")))
	router.Use(observability.CORSWithLogging(logger))

	router.GET("/health", observability.HealthHandler(healthChecker))
	router.GET("/metrics", observability.MetricsHandler(observability.GetGlobalMetrics()))

	api := router.Group("/api/v1")
	api.Use(authManager.Middleware())
	api.GET("/health", observability.HealthHandler(healthChecker))
	qp.SetupRoutes(api)
	auth.NewAuthHandlers(authManager, cfg.Server.SecureCookie).SetupRoutes(api)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "KQL resolver starting", map[string]interface{}{
			"port":      cfg.Server.Port,
			"version":   version,
			"history":   historyBackend(pgStore),
			"anonymous": cfg.Auth.AllowAnonymous,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "Failed to start server", err, nil)
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Graceful shutdown failed", err, nil)
	}
}

func historyBackend(pg *history.PostgresStore) string {
	if pg != nil {
		return "postgres"
	}
	return "memory"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
