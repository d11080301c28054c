package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/FulfillBox/internal/integrations/carrier"
	"github.com/BearBump/FulfillBox/internal/metrics"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/services/tracking"
	"github.com/pkg/errors"
)

const (
	DefaultCarrierTimeout     = 15 * time.Second
	DefaultRateLimitPerMinute = 120
)

type Repository interface {
	GetShipmentByID(ctx context.Context, id uint64) (*models.Shipment, error)
	TouchTrackingCheck(ctx context.Context, shipmentID uint64, checkedAt, nextCheckAt time.Time) error
	ClaimOverdueShipments(ctx context.Context, dueBefore time.Time, limit int, lease time.Duration) ([]*models.Shipment, error)
}

type Reconciler interface {
	ApplyTrackingUpdate(ctx context.Context, trackingNumber string, ev models.TrackingEvent) (*tracking.ApplyResult, error)
	ReleasePendingPayout(ctx context.Context, sh *models.Shipment) error
}

type PollScheduler interface {
	EnqueuePoll(ctx context.Context, shipmentID uint64, notBefore time.Time) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type HandlerConfig struct {
	FallbackPollInterval time.Duration
	CarrierTimeout       time.Duration
	RateLimitPerMinute   int64
}

type Outcome string

const (
	OutcomeSkipped  Outcome = "skipped"
	OutcomeNoUpdate Outcome = "no_update"
	OutcomeApplied  Outcome = "applied"
	OutcomePayout   Outcome = "payout_released"
	OutcomeError    Outcome = "error"
)

// Handler runs a single tracking poll for one shipment.
type Handler struct {
	repo       Repository
	carrier    carrier.Client
	reconciler Reconciler
	scheduler  PollScheduler
	rl         RateLimiter
	cfg        HandlerConfig
	now        func() time.Time
}

func NewHandler(repo Repository, c carrier.Client, reconciler Reconciler, scheduler PollScheduler, rl RateLimiter, cfg HandlerConfig) *Handler {
	if cfg.FallbackPollInterval <= 0 {
		cfg.FallbackPollInterval = tracking.DefaultFallbackPollInterval
	}
	if cfg.CarrierTimeout <= 0 {
		cfg.CarrierTimeout = DefaultCarrierTimeout
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	return &Handler{
		repo:       repo,
		carrier:    c,
		reconciler: reconciler,
		scheduler:  scheduler,
		rl:         rl,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// HandlePoll fetches the carrier status for a shipment and hands it to the
// reconciler. Carrier errors are returned after the check timestamps were
// moved forward, so the job retry and the recovery sweep both see them.
func (h *Handler) HandlePoll(ctx context.Context, shipmentID uint64) (Outcome, error) {
	sh, err := h.repo.GetShipmentByID(ctx, shipmentID)
	if errors.Is(err, models.ErrNotFound) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeError, errors.Wrap(err, "load shipment")
	}
	if sh.TrackingNumber == nil || *sh.TrackingNumber == "" {
		return OutcomeSkipped, nil
	}
	// DELIVERED без подтверждённой выплаты: перевозчика не зовём, повторяем только выплату.
	// Ошибка уходит в retry очереди.
	if sh.PayoutPending() {
		if err := h.reconciler.ReleasePendingPayout(ctx, sh); err != nil {
			return OutcomeError, errors.Wrap(err, "release pending payout")
		}
		return OutcomePayout, nil
	}
	// DELIVERED / LOST больше не опрашиваем
	if sh.Status == models.ShipmentStatusDelivered || sh.Status == models.ShipmentStatusLost {
		return OutcomeSkipped, nil
	}
	tn := *sh.TrackingNumber

	if err := h.allow(ctx, sh); err != nil {
		return OutcomeError, err
	}

	cctx, cancel := context.WithTimeout(ctx, h.cfg.CarrierTimeout)
	res, fetchErr := h.carrier.FetchTrackingStatus(cctx, tn, sh.Carrier)
	cancel()

	now := h.now()
	next := now.Add(h.cfg.FallbackPollInterval)

	if fetchErr != nil {
		if err := h.repo.TouchTrackingCheck(ctx, sh.ID, now, next); err != nil {
			slog.Error("touch tracking check", "shipment_id", sh.ID, "error", err.Error())
		}
		return OutcomeError, errors.Wrapf(fetchErr, "fetch tracking status %s", tn)
	}

	if res == nil {
		if err := h.repo.TouchTrackingCheck(ctx, sh.ID, now, next); err != nil {
			return OutcomeError, errors.Wrap(err, "touch tracking check")
		}
		if err := h.scheduler.EnqueuePoll(ctx, sh.ID, next); err != nil {
			return OutcomeError, err
		}
		return OutcomeNoUpdate, nil
	}

	occurredAt := now
	if res.OccurredAt != nil {
		occurredAt = *res.OccurredAt
	}
	carrierCode := res.Carrier
	if carrierCode == "" {
		carrierCode = sh.Carrier
	}
	if _, err := h.reconciler.ApplyTrackingUpdate(ctx, tn, models.TrackingEvent{
		Status:      res.Status,
		Detail:      res.Detail,
		OccurredAt:  occurredAt,
		TrackingURL: res.TrackingURL,
		Carrier:     carrierCode,
		Source:      models.TrackingSourcePoller,
	}); err != nil {
		return OutcomeError, errors.Wrap(err, "apply tracking update")
	}
	return OutcomeApplied, nil
}

func (h *Handler) allow(ctx context.Context, sh *models.Shipment) error {
	if h.rl == nil {
		return nil
	}
	provider := sh.Provider
	if provider == "" {
		provider = h.carrier.Name()
	}
	minuteKey := fmt.Sprintf("carrier:%s:%s", provider, h.now().Format("200601021504"))
	allowed, n, err := h.rl.Allow(ctx, minuteKey, h.cfg.RateLimitPerMinute, 70*time.Second)
	if err != nil {
		return errors.Wrap(err, "rate limit")
	}
	if !allowed {
		// Слишком много запросов в минуту: отдаём задачу обратно в очередь с backoff.
		slog.Warn("carrier rate limit exceeded", "provider", provider, "count", n)
		metrics.CarrierRequests.WithLabelValues(provider, "fetch_tracking", "rate_limited").Inc()
		return carrier.NewAdapterError("fetch_tracking", 429, errors.New("local rate limit exceeded"))
	}
	return nil
}
