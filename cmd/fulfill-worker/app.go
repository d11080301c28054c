package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/FulfillBox/config"
	"github.com/BearBump/FulfillBox/internal/broker/kafka"
	"github.com/BearBump/FulfillBox/internal/broker/redisqueue"
	"github.com/BearBump/FulfillBox/internal/cache/rediscache"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier/provider"
	"github.com/BearBump/FulfillBox/internal/integrations/payouts"
	"github.com/BearBump/FulfillBox/internal/integrations/payouts/escrowhttp"
	"github.com/BearBump/FulfillBox/internal/services/poller"
	"github.com/BearBump/FulfillBox/internal/services/tracking"
	"github.com/BearBump/FulfillBox/internal/storage/pgfulfillment"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const cachePrefix = "fulfillbox:cache:"

// workerStorage is everything the worker needs from postgres (polling and the reconciler).
type workerStorage interface {
	poller.Repository
	tracking.Repository
	Ping(ctx context.Context) error
}

type workerFactories struct {
	newStorage       func(cfg *config.Config) (st workerStorage, closeFn func(), err error)
	newRedis         func(cfg *config.Config) redis.UniversalClient
	newNotifier      func(cfg *config.Config) (n tracking.Notifier, closeFn func())
	newPayouts       func(cfg *config.Config) payouts.Releaser
	newCarrierClient func(cfg *config.Config) (carrier.Client, error)
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			st, err := pgfulfillment.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newRedis: func(cfg *config.Config) redis.UniversalClient {
			return rediscache.NewClient(rediscache.Options{
				Addr:     cfg.Redis.Addr(),
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
		},
		newNotifier: func(cfg *config.Config) (tracking.Notifier, func()) {
			p := kafka.NewProducer(cfg.Kafka.Brokers())
			return kafka.NewNotifier(p, cfg.Kafka.NotificationsTopicName), func() { _ = p.Close() }
		},
		newPayouts: func(cfg *config.Config) payouts.Releaser {
			return escrowhttp.New(cfg.Payouts.BaseURL, cfg.Payouts.APIKey)
		},
		newCarrierClient: func(cfg *config.Config) (carrier.Client, error) {
			return provider.New(cfg.Carrier, seconds(cfg.FulfillBox.WebhookToleranceSeconds))
		},
	}
}

// RunFulfillWorker wires the poll worker and blocks until ctx is done. When
// httpOpts is set the operational HTTP server runs alongside it.
func RunFulfillWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts *workerHTTPOpts) error {
	cfg.WithDefaults()
	fb := cfg.FulfillBox

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	rdb := f.newRedis(cfg)
	defer func() { _ = rdb.Close() }()

	notifier, closeNotifier := f.newNotifier(cfg)
	if closeNotifier != nil {
		defer closeNotifier()
	}

	carrierClient, err := f.newCarrierClient(cfg)
	if err != nil {
		return err
	}

	queue := redisqueue.New(rdb, fb.QueuePrefix)
	scheduler := poller.NewScheduler(queue)
	fallback := seconds(fb.FallbackPollIntervalSeconds)

	reconciler := tracking.New(tracking.Deps{
		Repo:      st,
		Notifier:  notifier,
		Payouts:   f.newPayouts(cfg),
		Scheduler: scheduler,
		Cache:     rediscache.New(rdb, cachePrefix),
		Logger:    slog.Default(),
	}, tracking.Config{
		FallbackPollInterval: fallback,
		RejectStaleEvents:    fb.RejectStaleEvents,
		CacheTTL:             seconds(fb.ShipmentCacheTTLSeconds),
	})

	handler := poller.NewHandler(st, carrierClient, reconciler, scheduler,
		rediscache.NewRateLimiter(rdb, "fulfillbox:rl:"),
		poller.HandlerConfig{
			FallbackPollInterval: fallback,
			CarrierTimeout:       seconds(cfg.Carrier.TimeoutSeconds),
			RateLimitPerMinute:   int64(cfg.Carrier.RateLimitPerMinute),
		})

	p := poller.New(queue, handler, st).
		WithSettings(poller.Settings{
			PollInterval:         seconds(fb.WorkerPollIntervalSeconds),
			BatchSize:            fb.WorkerBatchSize,
			Concurrency:          fb.WorkerConcurrency,
			SweepInterval:        seconds(fb.WorkerSweepIntervalSeconds),
			SweepGrace:           seconds(fb.WorkerSweepGraceSeconds),
			Lease:                seconds(fb.WorkerLeaseSeconds),
			FallbackPollInterval: fallback,
		}).
		WithPlanner(poller.PlannerConfig{
			MaxAttempts: fb.PollRetryAttempts,
			RetryBase:   seconds(fb.PollRetryBaseDelaySeconds),
		})

	slog.Info("fulfill worker started",
		"carrier", carrierClient.Name(),
		"batch", fb.WorkerBatchSize,
		"concurrency", fb.WorkerConcurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })
	if httpOpts != nil {
		opts := *httpOpts
		opts.poller = p
		opts.cfg = cfg
		if opts.ready == nil {
			opts.ready = func(ctx context.Context) error {
				if err := st.Ping(ctx); err != nil {
					return err
				}
				return rdb.Ping(ctx).Err()
			}
		}
		g.Go(func() error { return runWorkerHTTPServer(gctx, opts) })
	}
	return g.Wait()
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
