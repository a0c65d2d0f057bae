package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tiergate/internal/api"
	"tiergate/internal/config"
	"tiergate/internal/denylist"
	"tiergate/internal/gate"
	"tiergate/internal/identity"
	"tiergate/internal/logger"
	"tiergate/internal/models"
	"tiergate/internal/observability"
	"tiergate/internal/quota"
	"tiergate/internal/ratelimit"
	"tiergate/internal/storage"
	"tiergate/internal/token"
	"tiergate/internal/version"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

var configFile = flag.String("config", "", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ver := version.GetInfo()
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	storageInstance, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer storageInstance.Close()

	var activeStorage storage.Storage = storageInstance
	if cfg.Metrics.Enabled || otelProvider.TracingEnabled() {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = newRedisClient(cfg.Redis)
		defer redisClient.Close()
	}

	gateMetrics, err := observability.NewGateMetrics(otel.GetMeterProvider().Meter(observability.ScopeGate))
	if err != nil {
		slog.Error("Failed to create gate metrics", "error", err)
		os.Exit(1)
	}

	// Requests arriving before seeding finishes wait on the barrier.
	barrier := gate.NewBarrier()
	normalizer := quota.NewNormalizer(cfg.RateLimit.RouteTemplates...)

	var tokenDenylist token.Denylist
	if cfg.Security.Denylist.Backend == models.BackendRedis {
		tokenDenylist = denylist.NewRedisStore(redisClient, cfg.Security.Denylist.KeyPrefix)
	} else {
		tokenDenylist = denylist.NewStorageStore(activeStorage)
		pruner := denylist.NewPruner(activeStorage, cfg.Security.Denylist.PruneInterval)
		pruner.Start()
		defer pruner.Close()
	}

	codec, err := token.NewCodec(cfg.Security.Tokens, tokenDenylist)
	if err != nil {
		slog.Error("Failed to create token codec", "error", err)
		os.Exit(1)
	}

	identities := identity.NewResolver(activeStorage)
	quotas := quota.NewResolver(activeStorage, normalizer,
		cfg.RateLimit.DefaultLimit, cfg.RateLimit.DefaultPeriod,
		quota.WithRecorder(gateMetrics),
	)

	var counter ratelimit.Counter
	if cfg.RateLimit.Backend == models.BackendRedis && redisClient != nil {
		counter = ratelimit.NewRedisCounter(redisClient)
	} else {
		memCounter := ratelimit.NewMemoryCounter(cfg.RateLimit.CleanupInterval)
		defer memCounter.Close()
		counter = memCounter
	}
	limiter := ratelimit.NewLimiter(counter,
		ratelimit.WithFailOpen(cfg.RateLimit.FailOpen),
		ratelimit.WithKeyPrefix(cfg.RateLimit.KeyPrefix),
		ratelimit.WithStoreErrorRecorder(gateMetrics),
	)

	requestGate := gate.New(codec, identities, quotas, limiter,
		gate.WithBarrier(barrier),
		gate.WithRateLimiting(cfg.RateLimit.Enabled),
		gate.WithMetrics(gateMetrics),
	)

	proxyPrefixes, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		slog.Error("Invalid trusted proxies", "error", err)
		os.Exit(1)
	}
	if len(proxyPrefixes) > 0 {
		slog.Info("Forwarding headers trusted", "proxies", cfg.Server.TrustedProxies)
	}

	handlers := api.NewHandlers(api.Dependencies{
		Storage:        activeStorage,
		Tokens:         codec,
		Identities:     identities,
		Gate:           requestGate,
		Normalizer:     normalizer,
		Barrier:        barrier,
		TrustedProxies: ratelimit.NewTrustedProxies(proxyPrefixes...),
		Version:        ver,
		SecureCookies:  cfg.Server.SecureCookies,
		RefreshTTL:     cfg.Security.Tokens.RefreshTokenTTL,
	})

	routeOpts := []api.RouteOption{}
	if otelProvider.TracingEnabled() {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	router := api.SetupRoutes(handlers, routeOpts...)
	if err := api.RegisterRouteTemplates(router, normalizer); err != nil {
		slog.Error("Failed to register route templates", "error", err)
		os.Exit(1)
	}

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Starting server", "addr", server.Addr, "version", ver.Version)

		var err error
		if cfg.Server.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	err = startup(startupCtx, activeStorage, redisClient, normalizer, cfg)
	cancelStartup()
	if err != nil {
		slog.Error("Startup failed", "error", err)
		os.Exit(1)
	}
	barrier.Open()
	slog.Info("Gate ready",
		"storage", cfg.Storage.Type,
		"rate_limit_backend", cfg.RateLimit.Backend,
		"denylist_backend", cfg.Security.Denylist.Backend,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

func newRedisClient(cfg models.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// startup checks the shared stores and seeds the first superuser and the
// configured tiers. An unreachable Redis is only logged: the counter fails
// open and the denylist reports itself unavailable per request.
func startup(ctx context.Context, store storage.Storage, rdb *redis.Client, normalizer *quota.Normalizer, cfg *models.Config) error {
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("storage ping: %w", err)
	}
	if rdb != nil {
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis is unreachable", "addr", cfg.Redis.Addr, "error", err)
		}
	}

	if err := seedFirstUser(ctx, store, cfg.Security.FirstUser); err != nil {
		return err
	}
	return seedTiers(ctx, store, normalizer, cfg.RateLimit.Tiers)
}
