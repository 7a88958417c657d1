package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kirinyoku/tix-checkin/internal/config"
	"github.com/kirinyoku/tix-checkin/internal/credential"
	"github.com/kirinyoku/tix-checkin/internal/postgres"
	"github.com/kirinyoku/tix-checkin/internal/redis"
	"github.com/kirinyoku/tix-checkin/internal/repository"
	kafkarepo "github.com/kirinyoku/tix-checkin/internal/repository/kafka"
	"github.com/kirinyoku/tix-checkin/internal/repository/memory"
	postgresrepo "github.com/kirinyoku/tix-checkin/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/tix-checkin/internal/repository/redis"
	"github.com/kirinyoku/tix-checkin/internal/service"
	"github.com/kirinyoku/tix-checkin/internal/service/admission"
	"github.com/kirinyoku/tix-checkin/internal/service/gate"
	"github.com/kirinyoku/tix-checkin/internal/service/metrics"
	httpgin "github.com/kirinyoku/tix-checkin/internal/transport/http/gin"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	services   *service.Services
	pubsub     *redisrepo.CheckInPubSub
	closers    []func() error
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	keyring, err := credential.ParseKeyring(cfg.Credential.Keys, cfg.Credential.ActiveVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential keys: %w", err)
	}
	codec, err := credential.New(keyring)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential codec: %w", err)
	}
	logger.Info("credential keys loaded",
		slog.Int("active", int(keyring.Active())),
		slog.String("accepted", fmt.Sprint(keyring.Versions())))

	// Initialize dependencies
	store, err := a.openStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	var rdb *goredis.Client
	if cfg.Redis.Enabled() {
		rdb, err = redis.New(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
	}

	// Initialize repositories
	var (
		cache   *redisrepo.Cache
		idem    *redisrepo.IdempotencyStore
		limiter *redisrepo.SlidingWindowLimiter
	)
	if rdb != nil {
		cache = redisrepo.NewCache(rdb)
		a.pubsub = redisrepo.NewCheckInPubSub(rdb)
		idem = redisrepo.NewIdempotencyStore(rdb, cfg.Server.IdempotencyTTL)
		limiter = redisrepo.NewSlidingWindowLimiter(rdb, "checkin", cfg.Server.RateLimitPerGate, cfg.Server.RateLimitWindow)
	}

	var counter metrics.Counter = metrics.NewMemoryCounter()
	if cfg.Metrics.Counter == config.BackendRedis {
		counter = redisrepo.NewCounter(rdb)
	}

	var locker gate.Locker = gate.NewLocalLocker()
	if cfg.Gate.LockBackend == config.BackendRedis {
		locker = redisrepo.NewLocker(rdb, cfg.Gate.LockLease)
	}

	pub := a.openPublisher()

	// Initialize services
	a.services = service.NewServices(store, codec, counter, locker, cache, a.pubsub, pub, logger, service.Config{
		Metrics: metrics.Config{CacheTTL: cfg.Metrics.CacheTTL},
		Gate: gate.Config{
			MaxInFlightPerEvent: cfg.Gate.MaxInFlightPerEvent,
			LockTimeout:         cfg.Gate.LockTimeout,
		},
	})

	// Initialize Gin router
	router := httpgin.NewRouter(a.services, idem, limiter, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) (repository.Store, error) {
	if a.cfg.Storage.Driver == config.StorageMemory {
		a.logger.Warn("using in-memory storage; state is lost on exit")
		return memory.NewStore(), nil
	}

	dsn := a.cfg.Postgres.DSN()

	if err := postgres.Migrate(dsn, a.logger); err != nil {
		return nil, fmt.Errorf("failed to migrate postgres: %w", err)
	}

	pool, err := postgres.New(ctx, postgres.Config{
		DSN:      dsn,
		MaxConns: a.cfg.Postgres.MaxConns,
		AppName:  "tix-checkin",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	return postgresrepo.NewStore(pool), nil
}

func (a *App) openPublisher() admission.Publisher {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("kafka disabled; check-in records are not streamed")
		return kafkarepo.Noop{}
	}

	p := kafkarepo.NewPublisher(kafkarepo.Config{
		Brokers:      a.cfg.Kafka.Brokers,
		Topic:        a.cfg.Kafka.Topic,
		WriteTimeout: a.cfg.Kafka.WriteTimeout,
	})
	a.closers = append(a.closers, p.Close)

	return p
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer a.close()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Drop cached metrics when another instance reports a change.
	if a.pubsub != nil {
		g.Go(func() error {
			err := a.pubsub.Subscribe(gCtx, a.services.Metrics.Invalidate)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("checkin pubsub: %w", err)
			}
			return nil
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close resource", slog.Any("err", err))
		}
	}
	a.closers = nil
}
