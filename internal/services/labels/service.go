package labels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/FulfillBox/internal/broker/messages"
	"github.com/BearBump/FulfillBox/internal/cache"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier"
	"github.com/BearBump/FulfillBox/internal/metrics"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/services/tracking"
	"github.com/BearBump/FulfillBox/internal/storage/pgfulfillment"
	"github.com/pkg/errors"
)

type Repository interface {
	GetOrderForFulfillment(ctx context.Context, orderID string) (*models.Order, error)
	GetSellerDefaultAddress(ctx context.Context, sellerID string) (*models.Address, error)
	GetShipmentByOrderID(ctx context.Context, orderID string) (*models.Shipment, error)
	UpsertShipmentLabel(ctx context.Context, in pgfulfillment.LabelUpsert) (*models.Shipment, error)
	SetTrackingSubscription(ctx context.Context, shipmentID uint64, subscriptionID string) error
	AppendTimelineEvent(ctx context.Context, ev *models.TimelineEvent) error
}

type BinaryStore interface {
	UploadBinary(ctx context.Context, prefix string, data []byte, contentType string) (key string, url string, err error)
}

type Deps struct {
	Repo      Repository
	Carrier   carrier.Client
	Blobs     BinaryStore
	Notifier  tracking.Notifier
	Scheduler tracking.PollScheduler
	Cache     cache.BytesCache
	Logger    *slog.Logger
}

type Config struct {
	FallbackPollInterval time.Duration
}

// Service: оркестратор покупки этикетки.
type Service struct {
	repo      Repository
	carrier   carrier.Client
	blobs     BinaryStore
	notifier  tracking.Notifier
	scheduler tracking.PollScheduler
	cache     cache.BytesCache
	log       *slog.Logger
	cfg       Config
	now       func() time.Time
}

func New(d Deps, cfg Config) *Service {
	if cfg.FallbackPollInterval <= 0 {
		cfg.FallbackPollInterval = tracking.DefaultFallbackPollInterval
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:      d.Repo,
		carrier:   d.Carrier,
		blobs:     d.Blobs,
		notifier:  d.Notifier,
		scheduler: d.Scheduler,
		cache:     d.Cache,
		log:       log.With("component", "labels"),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SellerID is optional; when set it must own the order.
type QuoteInput struct {
	OrderID  string
	SellerID string
	Parcel   models.Parcel
}

type PurchaseInput struct {
	OrderID  string
	SellerID string
	RateID   string
	Parcel   models.Parcel
	Format   carrier.LabelFormat
}

// addresses loads the order and returns the seller (from) and buyer (to) addresses.
func (s *Service) addresses(ctx context.Context, orderID, sellerID string) (*models.Order, *models.Address, error) {
	order, err := s.repo.GetOrderForFulfillment(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if sellerID != "" && sellerID != order.SellerID {
		return nil, nil, models.NewValidationError("sellerId", "order belongs to another seller")
	}
	if order.ShippingAddress == nil {
		return nil, nil, models.NewValidationError("shippingAddress", "order has no shipping address")
	}
	from, err := s.repo.GetSellerDefaultAddress(ctx, order.SellerID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load seller address")
	}
	if from == nil {
		return nil, nil, models.NewValidationError("fromAddress", "seller has no default shipping address")
	}
	return order, from, nil
}

// QuoteRates returns carrier rates for shipping the parcel of an order.
func (s *Service) QuoteRates(ctx context.Context, in QuoteInput) ([]carrier.RateQuote, error) {
	order, from, err := s.addresses(ctx, in.OrderID, in.SellerID)
	if err != nil {
		return nil, err
	}
	rates, err := s.carrier.QuoteRates(ctx, *from, *order.ShippingAddress, in.Parcel)
	if err != nil {
		return nil, errors.Wrap(err, "quote rates")
	}
	return rates, nil
}

// PurchaseLabel buys a label for the order and creates its shipment. The
// tracking subscription is best-effort; the first poll is armed either way.
func (s *Service) PurchaseLabel(ctx context.Context, in PurchaseInput) (*models.Shipment, error) {
	if strings.TrimSpace(in.RateID) == "" {
		return nil, models.NewValidationError("rateId", "required")
	}
	format, err := normalizeFormat(in.Format)
	if err != nil {
		return nil, err
	}

	order, from, err := s.addresses(ctx, in.OrderID, in.SellerID)
	if err != nil {
		return nil, err
	}

	// не покупаем вторую этикетку на тот же заказ
	existing, err := s.repo.GetShipmentByOrderID(ctx, order.ID)
	switch {
	case err == nil && existing.TrackingNumber != nil:
		return nil, models.ErrLabelAlreadyPurchased
	case err != nil && !errors.Is(err, models.ErrNotFound):
		return nil, errors.Wrap(err, "load shipment")
	}

	label, err := s.carrier.PurchaseLabel(ctx, carrier.PurchaseLabelInput{
		RateID:    in.RateID,
		From:      *from,
		To:        *order.ShippingAddress,
		Parcel:    in.Parcel,
		Format:    format,
		Reference: order.ID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "purchase label")
	}

	labelFormat := label.LabelFormat
	if labelFormat == "" {
		labelFormat = format
	}
	key, url, err := s.blobs.UploadBinary(ctx, "orders/"+order.ID, label.LabelBytes, labelFormat.ContentType())
	if err != nil {
		return nil, errors.Wrap(err, "upload label")
	}

	now := s.now()
	sh, err := s.repo.UpsertShipmentLabel(ctx, pgfulfillment.LabelUpsert{
		OrderID:        order.ID,
		TrackingNumber: label.TrackingNumber,
		Carrier:        label.Carrier,
		ServiceLevel:   label.Service,
		Provider:       s.carrier.Name(),
		TrackingURL:    label.TrackingURL,
		LabelURL:       url,
		LabelKey:       key,
		LabelCost:      label.Amount,
		LabelCurrency:  label.Currency,
		PurchasedAt:    now,
		NextCheckAt:    now.Add(s.cfg.FallbackPollInterval),
	})
	if err != nil {
		if errors.Is(err, models.ErrLabelAlreadyPurchased) {
			// гонка двух покупок: этикетка уже куплена, наша остаётся неиспользованной
			s.log.Warn("label purchased concurrently, provider label left unused",
				"order_id", order.ID, "tracking_number", label.TrackingNumber)
			return nil, err
		}
		return nil, errors.Wrap(err, "save shipment")
	}
	metrics.LabelsPurchased.WithLabelValues(sh.Carrier).Inc()

	payload := messages.LabelPurchasedPayload{
		OrderID:        order.ID,
		TrackingNumber: label.TrackingNumber,
		Carrier:        label.Carrier,
		TrackingURL:    label.TrackingURL,
	}
	rawPayload, _ := json.Marshal(payload)
	if err := s.repo.AppendTimelineEvent(ctx, &models.TimelineEvent{
		OrderID:   order.ID,
		Type:      models.TimelineTypeLabelPurchased,
		Message:   fmt.Sprintf("Shipping label purchased: %s %s", label.Carrier, label.TrackingNumber),
		Source:    "labels",
		Payload:   rawPayload,
		CreatedAt: now,
	}); err != nil {
		// этикетка уже сохранена: без уведомления и первого опроса заказ повиснет
		s.log.Warn("append label purchased timeline event", "order_id", order.ID, "error", err.Error())
	}
	if err := s.notifier.SendNotification(ctx, order.BuyerID, models.NotificationLabelPurchased, payload); err != nil {
		s.log.Warn("send label purchased notification", "order_id", order.ID, "error", err.Error())
	}

	if subID, ok := s.subscribeBestEffort(ctx, order.ID, label); ok {
		sh.TrackingSubscriptionID = &subID
		if err := s.repo.SetTrackingSubscription(ctx, sh.ID, subID); err != nil {
			s.log.Warn("save tracking subscription", "shipment_id", sh.ID, "error", err.Error())
		}
	}

	if err := s.scheduler.EnqueuePoll(ctx, sh.ID, now.Add(s.cfg.FallbackPollInterval)); err != nil {
		s.log.Warn("enqueue first poll, recovery sweep will pick it up", "shipment_id", sh.ID, "error", err.Error())
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, tracking.ShipmentCacheKey(order.ID))
	}

	return sh, nil
}

// subscribeBestEffort never fails the purchase: polling covers a missing subscription.
func (s *Service) subscribeBestEffort(ctx context.Context, orderID string, label *carrier.PurchasedLabel) (string, bool) {
	sub, err := s.carrier.SubscribeTracking(ctx, label.TrackingNumber, label.Carrier, orderID)
	if err != nil {
		metrics.SubscriptionFailures.Inc()
		s.log.Warn("tracking subscription failed, relying on polling",
			"order_id", orderID, "tracking_number", label.TrackingNumber, "error", err.Error())
		return "", false
	}
	if sub == nil || sub.ID == "" {
		return "", false
	}
	return sub.ID, true
}

func normalizeFormat(f carrier.LabelFormat) (carrier.LabelFormat, error) {
	switch carrier.LabelFormat(strings.ToUpper(string(f))) {
	case "", carrier.LabelFormatPDF:
		return carrier.LabelFormatPDF, nil
	case carrier.LabelFormatPNG:
		return carrier.LabelFormatPNG, nil
	case carrier.LabelFormatZPL:
		return carrier.LabelFormatZPL, nil
	default:
		return "", models.NewValidationError("labelFormat", "must be one of PDF, PNG, ZPL")
	}
}
