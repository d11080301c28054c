package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/FulfillBox/internal/broker/redisqueue"
	"github.com/BearBump/FulfillBox/internal/metrics"
	"github.com/BearBump/FulfillBox/internal/services/tracking"
)

type PollHandler interface {
	HandlePoll(ctx context.Context, shipmentID uint64) (Outcome, error)
}

type Settings struct {
	PollInterval         time.Duration
	BatchSize            int
	Concurrency          int
	SweepInterval        time.Duration
	SweepGrace           time.Duration
	Lease                time.Duration
	FallbackPollInterval time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		PollInterval:         1 * time.Second,
		BatchSize:            100,
		Concurrency:          10,
		SweepInterval:        1 * time.Minute,
		SweepGrace:           5 * time.Minute,
		Lease:                2 * time.Minute,
		FallbackPollInterval: tracking.DefaultFallbackPollInterval,
	}
}

// Poller is the polling worker pool: it claims due jobs from the delayed
// queue, retries failed ones with backoff and periodically re-arms shipments
// whose next check is overdue (the queue is a trigger, storage is the truth).
type Poller struct {
	queue     Queue
	scheduler *Scheduler
	handler   PollHandler
	repo      Repository
	planner   *Planner

	st  Settings
	now func() time.Time

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastSweepUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalErrors         atomic.Int64
	totalRetried        atomic.Int64
	totalExhausted      atomic.Int64
	totalSwept          atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(queue Queue, handler PollHandler, repo Repository) *Poller {
	now := time.Now().UTC()
	return &Poller{
		queue:             queue,
		scheduler:         NewScheduler(queue),
		handler:           handler,
		repo:              repo,
		planner:           DefaultPlanner(),
		st:                DefaultSettings(),
		now:               func() time.Time { return time.Now().UTC() },
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: now.UnixNano(),
	}
}

func (p *Poller) WithSettings(st Settings) *Poller {
	if st.PollInterval > 0 {
		p.st.PollInterval = st.PollInterval
	}
	if st.BatchSize > 0 {
		p.st.BatchSize = st.BatchSize
	}
	if st.Concurrency > 0 {
		p.st.Concurrency = st.Concurrency
	}
	if st.SweepInterval > 0 {
		p.st.SweepInterval = st.SweepInterval
	}
	if st.SweepGrace > 0 {
		p.st.SweepGrace = st.SweepGrace
	}
	if st.Lease > 0 {
		p.st.Lease = st.Lease
	}
	if st.FallbackPollInterval > 0 {
		p.st.FallbackPollInterval = st.FallbackPollInterval
	}
	return p
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg, nil)
	return p
}

func (p *Poller) Settings() Settings { return p.st }

// Scheduler shares the poller's queue, for the reconciler and the label flow.
func (p *Poller) Scheduler() *Scheduler { return p.scheduler }

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(p.now().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastSweepAt    *time.Time `json:"lastSweepAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalErrors    int64      `json:"totalErrors"`
	TotalRetried   int64      `json:"totalRetried"`
	TotalExhausted int64      `json:"totalExhausted"`
	TotalSwept     int64      `json:"totalSwept"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		LastCycleAt:    unixNanoPtr(p.lastCycleUnixNano.Load()),
		LastSweepAt:    unixNanoPtr(p.lastSweepUnixNano.Load()),
		LastTriggerAt:  unixNanoPtr(p.lastTriggerUnixNano.Load()),
		TotalClaimed:   p.totalClaimed.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		TotalErrors:    p.totalErrors.Load(),
		TotalRetried:   p.totalRetried.Load(),
		TotalExhausted: p.totalExhausted.Load(),
		TotalSwept:     p.totalSwept.Load(),
		InFlight:       p.inFlight.Load(),
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func unixNanoPtr(n int64) *time.Time {
	if n <= 0 {
		return nil
	}
	t := time.Unix(0, n).UTC()
	return &t
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.st.PollInterval)
	defer t.Stop()
	sweep := time.NewTicker(p.st.SweepInterval)
	defer sweep.Stop()

	// после рестарта сразу подбираем то, что могло потеряться
	p.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		case <-sweep.C:
			p.sweepOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	now := p.now()
	p.lastCycleUnixNano.Store(now.UnixNano())

	jobs, err := p.queue.ClaimDue(ctx, QueueName, now, p.st.BatchSize)
	if err != nil {
		slog.Error("claim due poll jobs", "error", err.Error())
		p.setLastError(err)
		return
	}
	p.totalClaimed.Add(int64(len(jobs)))

	sem := make(chan struct{}, p.st.Concurrency)
	var wg sync.WaitGroup
	for _, job := range jobs {
		sem <- struct{}{}
		wg.Add(1)
		p.inFlight.Add(1)
		go func(job redisqueue.Job) {
			defer func() {
				p.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			p.processJob(ctx, job)
			p.totalProcessed.Add(1)
		}(job)
	}
	wg.Wait()
}

func (p *Poller) processJob(ctx context.Context, job redisqueue.Job) {
	shipmentID, err := decodePollJob(job)
	if err != nil {
		slog.Error("drop malformed poll job", "key", job.Key, "error", err.Error())
		p.totalErrors.Add(1)
		p.setLastError(err)
		metrics.PollJobs.WithLabelValues(string(OutcomeError)).Inc()
		return
	}

	start := time.Now()
	outcome, err := p.handler.HandlePoll(ctx, shipmentID)
	metrics.PollJobDuration.Observe(time.Since(start).Seconds())
	metrics.PollJobs.WithLabelValues(string(outcome)).Inc()
	if err == nil {
		return
	}

	p.totalErrors.Add(1)
	p.setLastError(err)

	failed := job.Attempt + 1
	now := p.now()
	if delay, ok := p.planner.RetryDelay(failed); ok {
		slog.Warn("poll failed, retrying",
			"shipment_id", shipmentID, "attempt", failed, "delay", delay.String(), "error", err.Error())
		p.totalRetried.Add(1)
		metrics.PollJobs.WithLabelValues("retry").Inc()
		if err := p.scheduler.enqueue(ctx, shipmentID, failed, now.Add(delay)); err != nil {
			slog.Error("enqueue poll retry", "shipment_id", shipmentID, "error", err.Error())
		}
		return
	}

	slog.Error("poll retries exhausted",
		"shipment_id", shipmentID, "attempts", failed, "error", err.Error())
	p.totalExhausted.Add(1)
	metrics.PollJobs.WithLabelValues("exhausted").Inc()
	// Не сдаёмся: следующий цикл через fallback-интервал, как и tracking_next_check_at.
	if err := p.scheduler.EnqueuePoll(ctx, shipmentID, now.Add(p.st.FallbackPollInterval)); err != nil {
		slog.Error("enqueue poll after exhausted retries", "shipment_id", shipmentID, "error", err.Error())
	}
}

// sweepOnce re-arms shipments whose next check is overdue by more than the
// grace period, e.g. after the redis queue lost its data.
func (p *Poller) sweepOnce(ctx context.Context) {
	if p.repo == nil {
		return
	}
	now := p.now()
	p.lastSweepUnixNano.Store(now.UnixNano())

	items, err := p.repo.ClaimOverdueShipments(ctx, now.Add(-p.st.SweepGrace), p.st.BatchSize, p.st.Lease)
	if err != nil {
		slog.Error("claim overdue shipments", "error", err.Error())
		p.setLastError(err)
		return
	}
	for _, sh := range items {
		if err := p.scheduler.EnqueuePoll(ctx, sh.ID, now); err != nil {
			slog.Error("re-enqueue overdue shipment", "shipment_id", sh.ID, "error", err.Error())
			p.setLastError(err)
			continue
		}
		p.totalSwept.Add(1)
		metrics.SweepRequeued.Inc()
	}
	if len(items) > 0 {
		slog.Info("recovery sweep re-enqueued polls", "count", len(items))
	}
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}
