package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"chatflow/backend/internal/api"
	"chatflow/backend/internal/auth"
	"chatflow/backend/internal/config"
	"chatflow/backend/internal/conversation"
	"chatflow/backend/internal/logging"
	"chatflow/backend/internal/mcp"
	"chatflow/backend/internal/metrics"
	"chatflow/backend/internal/realtime"
	"chatflow/backend/internal/repository"
	"chatflow/backend/internal/services"
	"chatflow/backend/internal/tls"
)

func serve(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}
	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"okta_domain", cfg.Auth.OktaDomain,
		"realtime_broker", cfg.Realtime.Broker,
		"config_file", v.ConfigFileUsed(),
	)
	if cfg.DevModeBypass && !cfg.IsDevelopment() {
		logger.Warn("dev_mode_bypass is ignored outside development")
	}

	logger.Info("Starting chatflow", "version", version)
	m := metrics.New()

	// Storage
	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		repo = repository.WithUsageCounter(repo, repository.NewRedisUsageCounter(rdb, cfg.Redis.KeyPrefix))
		logger.Info("Redis connected", "addr", cfg.Redis.Addr)
	}

	// Collaborators
	var ai services.AIResponder
	if cfg.AI.URL != "" {
		ai = services.NewHTTPAIResponder(cfg.AI.URL, cfg.AI.Timeout)
	} else {
		logger.Warn("ai.url is not set; chats run on workflows and humans only")
	}

	notifier, closeNotifier, err := openNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	// Realtime
	rt := config.NewRuntime(cfg, repo)
	if err := rt.Refresh(ctx); err != nil {
		logger.Error("failed to load allowed origins", "error", err)
	}
	if v.ConfigFileUsed() != "" {
		config.Watch(v, func(next *config.Config) {
			rt.Apply(next)
			logger.Info("configuration reloaded", "config_file", v.ConfigFileUsed())
		}, func(err error) {
			logger.Error("configuration reload failed", "error", err)
		})
	}

	hub := realtime.NewHub(m, logger)
	var broker realtime.Broker = realtime.NewLocalBroker(hub)
	var redisBroker *realtime.RedisBroker
	if cfg.Realtime.Broker == "redis" {
		if rdb == nil {
			return errors.New("realtime.broker is redis but redis.addr is not set")
		}
		redisBroker = realtime.NewRedisBroker(rdb, cfg.Realtime.Channel, hub, logger)
		broker = redisBroker
	}

	svc := conversation.NewService(repo, ai, notifier, realtime.NewRouter(broker, logger), rt, logger,
		conversation.WithMetrics(m))

	authz, err := auth.New(ctx, cfg, repo, logger)
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}

	gateway := realtime.NewGateway(hub, svc, authz, rt, logger, realtime.GatewayConfig{
		SendBuffer:   cfg.Realtime.SendBuffer,
		WriteTimeout: cfg.Realtime.WriteTimeout,
	})

	// Background workers
	bgCtx, cancelBg := context.WithCancel(context.Background())
	var workers conc.WaitGroup
	workers.Go(func() {
		rt.Run(bgCtx, cfg.Realtime.OriginRefresh, func(err error) {
			logger.Warn("origin refresh failed", "error", err)
		})
	})
	if redisBroker != nil {
		ready := make(chan struct{})
		workers.Go(func() {
			if err := redisBroker.Run(bgCtx, ready); err != nil {
				logger.Error("redis broker stopped", "error", err)
			}
		})
		select {
		case <-ready:
		case <-time.After(10 * time.Second):
			cancelBg()
			workers.Wait()
			return errors.New("timed out subscribing to the redis delivery channel")
		}
	}

	e := newEcho(cfg, logger, m, repo, svc, authz, gateway)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			created, err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
			if err != nil {
				serverErrors <- fmt.Errorf("tls: %w", err)
				return
			}
			if created {
				logger.Warn("generated a self-signed certificate", "cert_file", cfg.TLS.CertFile)
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErrors <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			logger.Error("Server close error", "error", err)
		}
	}

	// websockets are hijacked and outlive Shutdown
	hub.Close()
	gateway.Wait()
	cancelBg()
	workers.Wait()

	logger.Info("Server stopped gracefully")
	return runErr
}

func newEcho(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics, repo repository.Repository,
	svc *conversation.Service, authz *auth.Auth, gateway *realtime.Gateway) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	zl := logger.Zerolog()
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("chatflow"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := zl.Info()
			if v.Error != nil {
				ev = zl.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))

	health := api.NewHandler(repo, version)
	e.GET("/healthz", echo.WrapHandler(http.HandlerFunc(health.HandleHealth)))
	e.GET("/readyz", echo.WrapHandler(http.HandlerFunc(health.HandleReady)))
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	// Register auth handlers
	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	// The gateway authenticates dashboard handshakes itself; visitors are
	// anonymous.
	e.GET("/ws", echo.WrapHandler(gateway))

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, api.NewServer(svc, repo))

	mcpServer := mcp.NewServer(svc, version)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp*", echo.WrapHandler(authz.RequireAuth(mcpHandlers)))

	logger.Info("Routes mounted", "tls", cfg.TLS.Enable)
	return e
}

func openRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Repository, func(), error) {
	if cfg.DatabaseURL() == "" {
		if cfg.IsProduction() {
			return nil, nil, errors.New("db.host must be set in production")
		}
		logger.Warn("db.host is not set; using the in-memory store")
		return repository.NewMemoryStore(), func() {}, nil
	}

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("database initialization failed: %w", err)
	}
	store := repository.NewPostgresStore(pool)
	if !cfg.IsProduction() {
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	logger.Info("Database connected", "database", cfg.DB.Name)
	return store, pool.Close, nil
}

func openNotifier(cfg *config.Config, logger *logging.Logger) (services.Notifier, func(), error) {
	var notifiers services.MultiNotifier
	closeFn := func() {}

	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, services.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout))
	}
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("chatflow"), nats.MaxReconnects(-1))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		closeFn = func() { _ = nc.Drain() }
		notifiers = append(notifiers, services.NewNATSNotifier(nc, cfg.NATS.Subject))
		logger.Info("NATS connected", "url", cfg.NATS.URL, "subject", cfg.NATS.Subject)
	}

	if len(notifiers) == 0 {
		logger.Warn("no notification channel configured")
		return services.NopNotifier{}, closeFn, nil
	}
	return notifiers, closeFn, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
