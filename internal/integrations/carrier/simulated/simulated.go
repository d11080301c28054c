package simulated

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/FulfillBox/internal/integrations/carrier"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/pkg/errors"
)

const (
	Name        = "simulated"
	DefaultStep = 5 * time.Minute

	CarrierCode = "SIMPOST"
)

// Шаги жизненного цикла; DELIVERED поглощающий.
var lifecycle = map[models.TrackingStatus]models.TrackingStatus{
	models.TrackingStatusLabelPurchased: models.TrackingStatusInTransit,
	models.TrackingStatusInTransit:      models.TrackingStatusOutForDelivery,
	models.TrackingStatusOutForDelivery: models.TrackingStatusDelivered,
}

var services = map[string]struct {
	service string
	base    int64
	perOz   int64
	days    int
}{
	"sim_ground":   {service: "Ground", base: 450, perOz: 12, days: 5},
	"sim_priority": {service: "Priority", base: 850, perOz: 18, days: 2},
	"sim_express":  {service: "Express", base: 2450, perOz: 25, days: 1},
}

var rateOrder = []string{"sim_ground", "sim_priority", "sim_express"}

type trackState struct {
	status           models.TrackingStatus
	lastTransitionAt time.Time
}

// Client: детерминированный перевозчик для тестов и окружений без ключей.
// Each instance owns its tracking state; nothing is shared between instances.
type Client struct {
	step     time.Duration
	verifier *carrier.SignatureVerifier
	now      func() time.Time

	mu     sync.Mutex
	states map[string]*trackState

	seq atomic.Uint64
}

func New(step time.Duration, webhookSecret string) *Client {
	if step <= 0 {
		step = DefaultStep
	}
	return &Client{
		step:     step,
		verifier: carrier.NewSignatureVerifier(webhookSecret, carrier.DefaultSignatureTolerance),
		now:      func() time.Time { return time.Now().UTC() },
		states:   make(map[string]*trackState),
	}
}

// AllowMissingTimestamp accepts webhooks signed over the bare body.
func (c *Client) AllowMissingTimestamp(allow bool) *Client {
	c.verifier.AllowMissingTimestamp(allow)
	return c
}

// WithClock replaces the clock used for transitions and signature freshness.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	c.verifier.WithClock(now)
	return c
}

func (c *Client) Name() string { return Name }

func (c *Client) QuoteRates(ctx context.Context, from, to models.Address, parcel models.Parcel) ([]carrier.RateQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, carrier.NewAdapterError("quote rates", 0, err)
	}
	oz := int64(math.Ceil(parcel.WeightOz))
	crossBorder := !strings.EqualFold(from.Country, to.Country)

	out := make([]carrier.RateQuote, 0, len(rateOrder))
	for _, id := range rateOrder {
		s := services[id]
		amount := s.base + s.perOz*oz
		days := s.days
		if crossBorder {
			amount *= 3
			days += 3
		}
		out = append(out, carrier.RateQuote{
			ID:            id,
			Carrier:       CarrierCode,
			Service:       s.service,
			Amount:        amount,
			Currency:      "USD",
			EstimatedDays: days,
		})
	}
	return out, nil
}

func (c *Client) PurchaseLabel(ctx context.Context, in carrier.PurchaseLabelInput) (*carrier.PurchasedLabel, error) {
	if err := ctx.Err(); err != nil {
		return nil, carrier.NewAdapterError("purchase label", 0, err)
	}
	s, ok := services[in.RateID]
	if !ok {
		return nil, carrier.NewAdapterError("purchase label", 400, errors.Errorf("unknown rate %q", in.RateID))
	}
	format := in.Format
	if format == "" {
		format = carrier.LabelFormatPDF
	}

	tn := c.trackingNumber(in.Reference, in.RateID)
	c.mu.Lock()
	c.states[tn] = &trackState{status: models.TrackingStatusLabelPurchased, lastTransitionAt: c.now()}
	c.mu.Unlock()

	return &carrier.PurchasedLabel{
		TrackingNumber:    tn,
		Carrier:           CarrierCode,
		Service:           s.service,
		TrackingURL:       trackingURL(tn),
		LabelBytes:        labelBytes(format, tn, in.To),
		LabelFormat:       format,
		Amount:            s.base + s.perOz*int64(math.Ceil(in.Parcel.WeightOz)),
		Currency:          "USD",
		ProviderReference: "simlbl_" + tn,
	}, nil
}

func (c *Client) SubscribeTracking(ctx context.Context, trackingNumber, carrierCode, reference string) (*carrier.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, carrier.NewAdapterError("subscribe tracking", 0, err)
	}
	return &carrier.Subscription{ID: "sim-sub-" + trackingNumber}, nil
}

// FetchTrackingStatus advances a shipment by at most one step per call, and
// only when strictly more than step has passed since its last transition.
// An unseen tracking number starts at LABEL_PURCHASED.
func (c *Client) FetchTrackingStatus(ctx context.Context, trackingNumber, carrierCode string) (*carrier.TrackingStatusResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, carrier.NewAdapterError("fetch tracking", 0, err)
	}
	now := c.now()

	c.mu.Lock()
	st, ok := c.states[trackingNumber]
	if !ok {
		st = &trackState{status: models.TrackingStatusLabelPurchased, lastTransitionAt: now}
		c.states[trackingNumber] = st
	} else if next, can := lifecycle[st.status]; can && now.Sub(st.lastTransitionAt) > c.step {
		st.status = next
		st.lastTransitionAt = now
	}
	status, at := st.status, st.lastTransitionAt
	c.mu.Unlock()

	return &carrier.TrackingStatusResponse{
		Status:      status,
		StatusRaw:   strings.ToLower(string(status)),
		Detail:      "Shipment is " + status.Humanize(),
		OccurredAt:  &at,
		TrackingURL: trackingURL(trackingNumber),
		Carrier:     CarrierCode,
	}, nil
}

func (c *Client) VerifyWebhookSignature(rawBody []byte, signature, timestamp string) bool {
	return c.verifier.Verify(rawBody, signature, timestamp)
}

func (c *Client) ParseWebhookEvent(payload json.RawMessage) carrier.WebhookEvent {
	return carrier.ParseWebhookPayload(payload)
}

// Seed forces a tracking number into a state. Used by tests and local demos.
func (c *Client) Seed(trackingNumber string, status models.TrackingStatus, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[trackingNumber] = &trackState{status: status, lastTransitionAt: at}
}

func (c *Client) trackingNumber(reference, rateID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(reference))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(rateID))
	return fmt.Sprintf("SIM%08X%06d", h.Sum32(), c.seq.Add(1))
}

func trackingURL(tn string) string {
	return "https://track.simpost.example/" + tn
}

func labelBytes(format carrier.LabelFormat, tn string, to models.Address) []byte {
	switch format {
	case carrier.LabelFormatZPL:
		return []byte(fmt.Sprintf("^XA^FO50,50^FD%s^FS^FO50,100^FD%s %s^FS^XZ", tn, to.Name, to.PostalCode))
	case carrier.LabelFormatPNG:
		// только сигнатура PNG и трек-номер, рендер этикеток не делаем
		return append([]byte("\x89PNG\r\n\x1a\n"), []byte(tn)...)
	default:
		return []byte(fmt.Sprintf("%%PDF-1.4\n%% simulated label %s\n%% to: %s, %s %s\n%%%%EOF\n", tn, to.Name, to.City, to.PostalCode))
	}
}
