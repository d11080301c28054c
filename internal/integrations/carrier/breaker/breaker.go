package breaker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/FulfillBox/internal/integrations/carrier"
	"github.com/BearBump/FulfillBox/internal/metrics"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/pkg/errors"
	gobreaker "github.com/sony/gobreaker/v2"
)

type Settings struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// MinRequests и FailureRatio решают, когда открывать цепь.
	MinRequests  uint32
	FailureRatio float64
}

func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// Client wraps a carrier adapter with a circuit breaker on its network calls.
// Only retryable failures count against the breaker; a 4xx from the carrier
// says nothing about its health. Rejected calls surface as retryable
// AdapterErrors so the poll queue backs off as usual.
type Client struct {
	next carrier.Client
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

func Wrap(next carrier.Client, st Settings) *Client {
	name := next.Name()
	metrics.CarrierBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: st.MaxRequests,
		Interval:    st.Interval,
		Timeout:     st.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < st.MinRequests {
				return false
			}
			ratio := float64(c.TotalFailures) / float64(c.Requests)
			return ratio >= st.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("carrier circuit breaker state change", "carrier", name, "from", from.String(), "to", to.String())
			metrics.CarrierBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !carrier.IsRetryable(err)
		},
	})

	return &Client{next: next, cb: cb, name: name}
}

func (c *Client) Name() string { return c.next.Name() }

// State is exposed for the worker /stats endpoint.
func (c *Client) State() string { return c.cb.State().String() }

func (c *Client) QuoteRates(ctx context.Context, from, to models.Address, parcel models.Parcel) ([]carrier.RateQuote, error) {
	res, err := c.execute("quote_rates", func() (any, error) {
		return c.next.QuoteRates(ctx, from, to, parcel)
	})
	if err != nil {
		return nil, err
	}
	rates, _ := res.([]carrier.RateQuote)
	return rates, nil
}

func (c *Client) PurchaseLabel(ctx context.Context, in carrier.PurchaseLabelInput) (*carrier.PurchasedLabel, error) {
	return cast[carrier.PurchasedLabel](c.execute("purchase_label", func() (any, error) {
		return c.next.PurchaseLabel(ctx, in)
	}))
}

func (c *Client) SubscribeTracking(ctx context.Context, trackingNumber, carrierCode, reference string) (*carrier.Subscription, error) {
	return cast[carrier.Subscription](c.execute("subscribe_tracking", func() (any, error) {
		return c.next.SubscribeTracking(ctx, trackingNumber, carrierCode, reference)
	}))
}

func (c *Client) FetchTrackingStatus(ctx context.Context, trackingNumber, carrierCode string) (*carrier.TrackingStatusResponse, error) {
	return cast[carrier.TrackingStatusResponse](c.execute("fetch_tracking", func() (any, error) {
		return c.next.FetchTrackingStatus(ctx, trackingNumber, carrierCode)
	}))
}

// Webhook helpers are local computations, no breaker.
func (c *Client) VerifyWebhookSignature(rawBody []byte, signature, timestamp string) bool {
	return c.next.VerifyWebhookSignature(rawBody, signature, timestamp)
}

func (c *Client) ParseWebhookEvent(payload json.RawMessage) carrier.WebhookEvent {
	return c.next.ParseWebhookEvent(payload)
}

func (c *Client) execute(op string, fn func() (any, error)) (any, error) {
	res, err := c.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.CarrierRequests.WithLabelValues(c.name, op, "success").Inc()
		return res, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CarrierRequests.WithLabelValues(c.name, op, "rejected").Inc()
		return nil, carrier.NewAdapterError(op, 0, errors.Wrap(err, "circuit breaker"))
	default:
		metrics.CarrierRequests.WithLabelValues(c.name, op, "failure").Inc()
		return nil, err
	}
}

func cast[T any](res any, err error) (*T, error) {
	if err != nil || res == nil {
		return nil, err
	}
	typed, ok := res.(*T)
	if !ok {
		return nil, errors.Errorf("circuit breaker: unexpected result type %T", res)
	}
	return typed, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
