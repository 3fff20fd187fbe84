// @title Nomad Realtime API
// @version 1.0
// @description Notification inbox and realtime delivery.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NomadCrew/nomad-realtime/config"
	"github.com/NomadCrew/nomad-realtime/db"
	"github.com/NomadCrew/nomad-realtime/handlers"
	"github.com/NomadCrew/nomad-realtime/internal/cache"
	"github.com/NomadCrew/nomad-realtime/internal/clock"
	"github.com/NomadCrew/nomad-realtime/internal/identity"
	"github.com/NomadCrew/nomad-realtime/internal/realtime"
	"github.com/NomadCrew/nomad-realtime/internal/telemetry"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/NomadCrew/nomad-realtime/middleware"
	"github.com/NomadCrew/nomad-realtime/router"
	"github.com/NomadCrew/nomad-realtime/services"
	"github.com/NomadCrew/nomad-realtime/store"
	"github.com/NomadCrew/nomad-realtime/store/memory"
	mongostore "github.com/NomadCrew/nomad-realtime/store/mongo"
	"github.com/NomadCrew/nomad-realtime/store/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const shutdownGrace = 30 * time.Second

// backend is the opened notification store plus whatever owns its
// connections.
type backend struct {
	store    store.NotificationStore
	resolver identity.Resolver
	linker   handlers.IdentityLinker
	aliases  handlers.AliasForgetter
	close    func()
}

func main() {
	logger.InitLogger()
	log := logger.GetLogger()
	defer func() { _ = logger.Close() }()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(cfg.Tracing, cfg.Server.Version, os.Stdout)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	be, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open notification store: %v", err)
	}
	defer be.close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(config.ConfigureRedisOptions(&cfg.Redis))
		if err := config.PingRedis(ctx, redisClient, 3, time.Second); err != nil {
			if cfg.Cache.Backend == config.CacheBackendRedis {
				log.Fatalf("Failed to connect to redis: %v", err)
			}
			log.Warnw("Redis unavailable, handshake rate limiting disabled", "error", err)
			_ = redisClient.Close()
			redisClient = nil
		} else {
			defer func() { _ = redisClient.Close() }()
		}
	}

	clk := clock.New()
	var listCache cache.Cache
	var memCache *cache.MemoryCache
	if cfg.Cache.Backend == config.CacheBackendRedis && redisClient != nil {
		listCache = cache.NewRedisCache(redisClient, cfg.Cache.TTL, cfg.Cache.KeyPrefix, clk)
	} else {
		memCache = cache.NewMemoryCache(cfg.Cache.TTL, clk)
		listCache = memCache
	}

	validator, err := middleware.NewJWTValidator(&cfg.Server)
	if err != nil {
		log.Fatalf("Failed to create JWT validator: %v", err)
	}
	authenticator := realtime.TokenAuthenticator{Validator: validator, TrustOwner: cfg.Realtime.TrustClientOwner}

	gateway := realtime.NewGateway(realtime.Options{
		MaxConnections: cfg.Realtime.MaxConnections,
		IdleTimeout:    cfg.Realtime.IdleTimeout,
		AuthGrace:      cfg.Realtime.AuthGrace,
		SendBuffer:     cfg.Realtime.SendBuffer,
	}, be.resolver, authenticator, clk)
	pollingHub := realtime.NewPollingHub(gateway, cfg.Realtime.LongPollWait, cfg.Realtime.PingInterval)
	dispatcher := realtime.NewDispatcher(gateway.Rooms())

	sweeper, err := realtime.NewSweeper(gateway, cfg.Realtime.SweepSchedule)
	if err != nil {
		log.Fatalf("Failed to create idle sweeper: %v", err)
	}
	sweeper.Start()

	pool := services.NewWorkerPool(cfg.WorkerPool)
	pool.Start()

	notificationService := services.NewNotificationService(be.store, listCache, be.resolver, dispatcher,
		services.WithWorkerPool(pool),
		services.WithTracerProvider(tel.TracerProvider()),
	)

	var retention *services.RetentionJob
	if cfg.Retention.Enabled {
		retention, err = services.NewRetentionJob(notificationService, cfg.Retention, clk)
		if err != nil {
			log.Fatalf("Failed to create retention job: %v", err)
		}
		if memCache != nil {
			retention.WithCachePruner(memCache)
		}
		retention.Start()
	}

	var healthRedis redis.Cmdable
	var limiterRedis redis.Cmdable
	if redisClient != nil {
		healthRedis = redisClient
		limiterRedis = redisClient
	}
	healthService := services.NewHealthService(be.store, healthRedis, cfg.Server.Version)
	healthService.SetGateway(gateway, cfg.Realtime.MaxConnections)

	r := router.SetupRouter(router.Dependencies{
		Config:              cfg,
		JWTValidator:        validator,
		RedisClient:         limiterRedis,
		HealthHandler:       handlers.NewHealthHandler(healthService),
		NotificationHandler: handlers.NewNotificationHandler(notificationService),
		RealtimeHandler:     handlers.NewRealtimeHandler(gateway, pollingHub, authenticator, &cfg.Server, &cfg.Realtime),
		InternalHandler:     handlers.NewInternalHandler(notificationService, be.linker, be.aliases),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("Starting server", "port", cfg.Server.Port, "environment", cfg.Server.Environment, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	// Close realtime connections first: websocket handlers block Shutdown
	// until their sockets end.
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Gateway shutdown incomplete", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("HTTP server shutdown incomplete", "error", err)
	}
	sweeper.Stop(shutdownCtx)
	if retention != nil {
		retention.Stop(shutdownCtx)
	}

	poolCtx, poolCancel := context.WithTimeout(context.Background(), pool.ShutdownTimeout())
	defer poolCancel()
	if err := pool.Shutdown(poolCtx); err != nil {
		log.Warnw("Worker pool shutdown incomplete", "error", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Tracer shutdown incomplete", "error", err)
	}
	log.Info("Server stopped")
}

// openBackend connects the configured notification store and the identity
// resolver that goes with it.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	log := logger.GetLogger()

	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		if cfg.Database.RunMigrations {
			if err := db.RunMigrations(cfg.Database.URL()); err != nil {
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		poolConfig, err := config.ConfigurePostgresPool(&cfg.Database)
		if err != nil {
			return nil, err
		}
		pgPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := pgPool.Ping(ctx); err != nil {
			pgPool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		identities := postgres.NewIdentityStore(pgPool)
		resolver := identity.NewAliasResolver(identities)
		return &backend{
			store:    postgres.NewPgNotificationStore(pgPool),
			resolver: resolver,
			linker:   identities,
			aliases:  resolver,
			close:    pgPool.Close,
		}, nil

	case config.StoreDriverMongo:
		client, coll, err := mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err != nil {
			return nil, err
		}
		st := mongostore.NewNotificationStore(coll)
		if err := st.EnsureIndexes(ctx); err != nil {
			log.Warnw("Failed to ensure mongo indexes", "error", err)
		}
		return &backend{
			store:    st,
			resolver: identity.NormalizingResolver{},
			close: func() {
				disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = client.Disconnect(disconnectCtx)
			},
		}, nil

	default:
		log.Warn("Using the in-memory notification store; data is lost on restart")
		return &backend{
			store:    memory.NewNotificationStore(),
			resolver: identity.NormalizingResolver{},
			close:    func() {},
		}, nil
	}
}
