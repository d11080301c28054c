package tracking

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/FulfillBox/internal/broker/messages"
	"github.com/BearBump/FulfillBox/internal/cache"
	"github.com/BearBump/FulfillBox/internal/integrations/payouts"
	"github.com/BearBump/FulfillBox/internal/metrics"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/storage/pgfulfillment"
	"github.com/pkg/errors"
)

const DefaultFallbackPollInterval = 30 * time.Minute

type Repository interface {
	GetShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*models.ShipmentWithOrder, error)
	GetShipmentByOrderID(ctx context.Context, orderID string) (*models.Shipment, error)
	ApplyTrackingUpdate(ctx context.Context, upd pgfulfillment.TrackingUpdate) (*models.Shipment, bool, error)
	MarkPayoutReleased(ctx context.Context, shipmentID uint64, at time.Time) error
	ListTimeline(ctx context.Context, orderID string, limit, offset int) ([]*models.TimelineEvent, error)
}

type Notifier interface {
	SendNotification(ctx context.Context, userID, notificationType string, payload any) error
}

type PollScheduler interface {
	EnqueuePoll(ctx context.Context, shipmentID uint64, notBefore time.Time) error
}

type Deps struct {
	Repo      Repository
	Notifier  Notifier
	Payouts   payouts.Releaser
	Scheduler PollScheduler
	Cache     cache.BytesCache
	Logger    *slog.Logger
}

type Config struct {
	FallbackPollInterval time.Duration
	RejectStaleEvents    bool
	CacheTTL             time.Duration
}

// Service is the reconciler. Only it mutates a shipment after the label is bought.
type Service struct {
	repo      Repository
	notifier  Notifier
	payouts   payouts.Releaser
	scheduler PollScheduler
	cache     cache.BytesCache
	log       *slog.Logger
	cfg       Config
	now       func() time.Time
}

func New(d Deps, cfg Config) *Service {
	if cfg.FallbackPollInterval <= 0 {
		cfg.FallbackPollInterval = DefaultFallbackPollInterval
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:      d.Repo,
		notifier:  d.Notifier,
		payouts:   d.Payouts,
		scheduler: d.Scheduler,
		cache:     d.Cache,
		log:       log.With("component", "reconciler"),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type ApplyResult struct {
	ShipmentID uint64
	NextPollAt *time.Time
	// Applied is false when the stale-event guard dropped the update.
	Applied bool
}

// ApplyTrackingUpdate reconciles one tracking event into the shipment.
// It returns nil, nil when no shipment has this tracking number.
//
// Storage and payout-release errors are returned; notification and
// re-enqueue failures are only logged (the notification is advisory and the
// recovery sweep re-arms polling from tracking_next_check_at). A DELIVERED
// shipment whose release failed stays payout-pending until
// ReleasePendingPayout succeeds.
func (s *Service) ApplyTrackingUpdate(ctx context.Context, trackingNumber string, ev models.TrackingEvent) (*ApplyResult, error) {
	sh, err := s.repo.GetShipmentByTrackingNumber(ctx, trackingNumber)
	if errors.Is(err, models.ErrNotFound) {
		s.log.Info("tracking update for unknown tracking number", "tracking_number", trackingNumber, "source", ev.Source)
		metrics.TrackingUpdatesSkipped.WithLabelValues(string(ev.Source), "not_found").Inc()
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load shipment")
	}

	now := s.now()
	shipmentStatus := models.MapTrackingToShipmentStatus(ev.Status)

	var nextPollAt *time.Time
	if !ev.Status.Terminal() {
		t := now.Add(s.cfg.FallbackPollInterval)
		nextPollAt = &t
	}

	detail := ev.Detail
	if detail == "" {
		detail = "Shipment is " + ev.Status.Humanize()
	}
	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	payload := messages.OrderUpdatePayload{
		OrderID:        sh.OrderID,
		Status:         string(ev.Status),
		TrackingNumber: trackingNumber,
		Detail:         detail,
	}
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal timeline payload")
	}

	updated, applied, err := s.repo.ApplyTrackingUpdate(ctx, pgfulfillment.TrackingUpdate{
		ShipmentID:     sh.ID,
		Status:         shipmentStatus,
		TrackingStatus: ev.Status,
		Detail:         detail,
		OccurredAt:     occurredAt,
		CheckedAt:      now,
		NextCheckAt:    nextPollAt,
		Carrier:        ev.Carrier,
		TrackingURL:    ev.TrackingURL,
		RejectStale:    s.cfg.RejectStaleEvents,
		Timeline: &models.TimelineEvent{
			OrderID:   sh.OrderID,
			Type:      models.TimelineTypeTrackingUpdate,
			Message:   ev.Source.TimelineLabel() + " update: " + detail,
			Source:    string(ev.Source),
			Payload:   rawPayload,
			CreatedAt: now,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "persist tracking update")
	}
	if !applied {
		s.log.Info("stale tracking event skipped",
			"shipment_id", sh.ID, "tracking_number", trackingNumber, "occurred_at", occurredAt, "source", ev.Source)
		metrics.TrackingUpdatesSkipped.WithLabelValues(string(ev.Source), "stale").Inc()
		return &ApplyResult{ShipmentID: sh.ID, Applied: false}, nil
	}
	metrics.TrackingUpdatesApplied.WithLabelValues(string(ev.Source), string(ev.Status)).Inc()
	s.refreshCache(ctx, updated)

	if err := s.notifier.SendNotification(ctx, sh.BuyerID, models.NotificationOrderUpdate, payload); err != nil {
		s.log.Warn("send order update notification", "order_id", sh.OrderID, "error", err.Error())
	}

	if shipmentStatus == models.ShipmentStatusDelivered {
		if err := s.releasePayout(ctx, updated); err != nil {
			return nil, err
		}
	}

	if nextPollAt != nil {
		if err := s.scheduler.EnqueuePoll(ctx, sh.ID, *nextPollAt); err != nil {
			s.log.Warn("enqueue poll, recovery sweep will pick it up", "shipment_id", sh.ID, "error", err.Error())
		}
	}

	return &ApplyResult{ShipmentID: sh.ID, NextPollAt: nextPollAt, Applied: true}, nil
}

// ReleasePendingPayout retries the seller payout for a DELIVERED shipment
// whose earlier release was not confirmed. Shipments that are not pending
// are left alone.
func (s *Service) ReleasePendingPayout(ctx context.Context, sh *models.Shipment) error {
	if sh == nil || !sh.PayoutPending() {
		return nil
	}
	return s.releasePayout(ctx, sh)
}

// releasePayout вызывает escrow и только после успеха ставит payout_released_at.
// Escrow идемпотентен по order_id, повтор безопасен.
func (s *Service) releasePayout(ctx context.Context, sh *models.Shipment) error {
	if _, err := s.payouts.ReleasePayoutForOrder(ctx, sh.OrderID); err != nil {
		metrics.PayoutReleases.WithLabelValues("error").Inc()
		return errors.Wrap(err, "release payout")
	}
	metrics.PayoutReleases.WithLabelValues("ok").Inc()

	at := s.now()
	if err := s.repo.MarkPayoutReleased(ctx, sh.ID, at); err != nil {
		return errors.Wrap(err, "mark payout released")
	}
	sh.PayoutReleasedAt = &at
	s.refreshCache(ctx, sh)
	return nil
}

// GetShipment returns the current shipment for an order, cache first.
func (s *Service) GetShipment(ctx context.Context, orderID string) (*models.Shipment, error) {
	if s.cacheEnabled() {
		if b, ok, err := s.cache.Get(ctx, ShipmentCacheKey(orderID)); err == nil && ok {
			var sh models.Shipment
			if json.Unmarshal(b, &sh) == nil {
				return &sh, nil
			}
		}
	}

	sh, err := s.repo.GetShipmentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.refreshCache(ctx, sh)
	return sh, nil
}

func (s *Service) ListTimeline(ctx context.Context, orderID string, limit, offset int) ([]*models.TimelineEvent, error) {
	return s.repo.ListTimeline(ctx, orderID, limit, offset)
}

func (s *Service) refreshCache(ctx context.Context, sh *models.Shipment) {
	if !s.cacheEnabled() || sh == nil {
		return
	}
	b, err := json.Marshal(sh)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, ShipmentCacheKey(sh.OrderID), b, s.cfg.CacheTTL)
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.cfg.CacheTTL > 0
}

// ShipmentCacheKey is also invalidated by the label orchestrator.
func ShipmentCacheKey(orderID string) string {
	return "shipment:" + orderID
}
