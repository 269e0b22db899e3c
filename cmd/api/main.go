package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/barckcode/puyu-api/internal/app/migrate"
	"github.com/barckcode/puyu-api/internal/events"
	httpx "github.com/barckcode/puyu-api/internal/http"
	"github.com/barckcode/puyu-api/internal/lock"
	awsprovider "github.com/barckcode/puyu-api/internal/provider/aws"
	"github.com/barckcode/puyu-api/internal/repository/postgres"
	"github.com/barckcode/puyu-api/internal/service/auth"
	"github.com/barckcode/puyu-api/internal/service/project"
	"github.com/barckcode/puyu-api/internal/service/provision"
	"github.com/barckcode/puyu-api/internal/ws"
	"github.com/barckcode/puyu-api/pkg/config"
	"github.com/barckcode/puyu-api/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	var (
		locker  lock.Locker = lock.NewMemory()
		limiter             = httpx.NewMemoryRateLimiter()
	)
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn("redis unavailable, using process-local lock and rate limiter", "addr", addr, "error", err)
		} else {
			limiter.Close()
			locker = lock.NewRedis(rdb, cfg.ProvisionLockTTL, log)
			limiter = httpx.NewRedisRateLimiter(rdb, log)
			log.Info("redis connected", "addr", addr)
		}
	}

	hub := ws.NewHub(ctx)
	sinks := events.Multi{events.NewHubSink(hub, log)}
	if url := strings.TrimSpace(cfg.NATSURL); url != "" {
		nc, err := events.ConnectNATS(url, log)
		if err != nil {
			log.Warn("nats unavailable, progress events stay local", "url", url, "error", err)
		} else {
			defer nc.Drain()
			sinks = append(sinks, events.NewNATSSink(nc, cfg.NATSSubjectPrefix, log))
		}
	}

	var clientOpts []awsprovider.Option
	if cfg.AWS.Endpoint != "" {
		clientOpts = append(clientOpts, awsprovider.WithEndpoint(cfg.AWS.Endpoint))
	}
	clients, err := awsprovider.NewClientFactory(awsprovider.Credentials{
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		SessionToken:    cfg.AWS.SessionToken,
	}, clientOpts...)
	if err != nil {
		log.Error("failed to configure aws clients", "error", err)
		os.Exit(1)
	}
	driverOpts := awsprovider.Options{
		Poll: awsprovider.PollConfig{
			InitialInterval: cfg.AWS.PollInitialInterval,
			MaxInterval:     cfg.AWS.PollMaxInterval,
		},
		NetworkTimeout:  cfg.AWS.NetworkReadyTimeout,
		InstanceTimeout: cfg.AWS.InstanceReadyTimeout,
		SecretBucket:    cfg.AWS.SecretBucket,
		SealKey:         cfg.KeyMaterialKey,
		Logger:          log,
	}

	provisionSvc, err := provision.New(provision.Dependencies{
		Projects:       repo,
		Network:        repo,
		Compute:        repo,
		Runs:           repo,
		Networks:       awsprovider.NewNetworkDriver(clients, driverOpts),
		KeyPairs:       awsprovider.NewKeyPairDriver(clients, driverOpts),
		SecurityGroups: awsprovider.NewSecurityGroupDriver(clients, driverOpts),
		Instances:      awsprovider.NewInstanceDriver(clients, driverOpts),
		Locker:         locker,
		Events:         sinks,
		Metrics:        provision.NewMetrics(prometheus.DefaultRegisterer),
	}, provision.Config{
		NetworkCIDR:         cfg.DefaultNetworkCIDR,
		SubnetCIDR:          cfg.DefaultSubnetCIDR,
		LockWait:            cfg.ProvisionLockWait,
		CompensationTimeout: cfg.CompensationWindow,
	}, log)
	if err != nil {
		log.Error("failed to configure provisioning", "error", err)
		os.Exit(1)
	}

	router := httpx.NewRouter(httpx.Options{
		Logger:        log,
		Auth:          auth.New(log, cfg),
		Provisioner:   provisionSvc,
		Images:        awsprovider.NewImageDriver(clients, driverOpts),
		Projects:      project.New(repo, repo, repo, log),
		Hub:           hub,
		Limiter:       limiter,
		DefaultRegion: cfg.AWS.DefaultRegion,
		AllowedOrigin: cfg.AllowedOrigin,
		WriteLimit:    cfg.RateLimitWrite,
		ReadLimit:     cfg.RateLimitRead,
		DBHealth:      pool.Ping,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
