package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/FulfillBox/config"
	"github.com/BearBump/FulfillBox/internal/broker/kafka"
	"github.com/BearBump/FulfillBox/internal/broker/redisqueue"
	"github.com/BearBump/FulfillBox/internal/cache/rediscache"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier/provider"
	"github.com/BearBump/FulfillBox/internal/integrations/payouts/escrowhttp"
	"github.com/BearBump/FulfillBox/internal/services/labels"
	"github.com/BearBump/FulfillBox/internal/services/poller"
	"github.com/BearBump/FulfillBox/internal/services/tracking"
	"github.com/BearBump/FulfillBox/internal/storage/pgfulfillment"
	"github.com/redis/go-redis/v9"
)

const cachePrefix = "fulfillbox:cache:"

type fulfillAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     fulfillAPIOpts
	deps     apiDeps
	producer *kafka.Producer
	rdb      *redis.Client
	closeDB  func()
}

func mustBootstrapFulfillAPI() *fulfillAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)

	rdb := rediscache.NewClient(rediscache.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	cache := rediscache.New(rdb, cachePrefix)
	scheduler := poller.NewScheduler(redisqueue.New(rdb, cfg.FulfillBox.QueuePrefix))

	producer := kafka.NewProducer(cfg.Kafka.Brokers())
	notifier := kafka.NewNotifier(producer, cfg.Kafka.NotificationsTopicName)

	carrierClient, err := provider.New(cfg.Carrier, seconds(cfg.FulfillBox.WebhookToleranceSeconds))
	if err != nil {
		panic(err)
	}

	fallback := seconds(cfg.FulfillBox.FallbackPollIntervalSeconds)
	trackingSvc := tracking.New(tracking.Deps{
		Repo:      st,
		Notifier:  notifier,
		Payouts:   escrowhttp.New(cfg.Payouts.BaseURL, cfg.Payouts.APIKey),
		Scheduler: scheduler,
		Cache:     cache,
		Logger:    logger,
	}, tracking.Config{
		FallbackPollInterval: fallback,
		RejectStaleEvents:    cfg.FulfillBox.RejectStaleEvents,
		CacheTTL:             seconds(cfg.FulfillBox.ShipmentCacheTTLSeconds),
	})

	blobs := st.Blobs(cfg.FulfillBox.PublicBaseURL)
	labelSvc := labels.New(labels.Deps{
		Repo:      st,
		Carrier:   carrierClient,
		Blobs:     blobs,
		Notifier:  notifier,
		Scheduler: scheduler,
		Cache:     cache,
		Logger:    logger,
	}, labels.Config{FallbackPollInterval: fallback})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &fulfillAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: fulfillAPIOpts{
			httpAddr:         cfg.FulfillBox.HTTPAddr,
			swaggerPath:      swaggerPath,
			corsOrigins:      cfg.FulfillBox.CORSOrigins,
			webhookRateLimit: cfg.FulfillBox.WebhookRateLimitPerMinute,
		},
		deps: apiDeps{
			logger:   logger,
			tracking: trackingSvc,
			labels:   labelSvc,
			carrier:  carrierClient,
			files:    blobs,
			ready: func(ctx context.Context) error {
				if err := st.Ping(ctx); err != nil {
					return err
				}
				return rdb.Ping(ctx).Err()
			},
		},
		producer: producer,
		rdb:      rdb,
		closeDB:  st.Close,
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgfulfillment.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgfulfillment.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (a *fulfillAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *fulfillAPIApp) Run() error {
	return runFulfillAPI(a.ctx, a.opts, a.deps)
}
