package carrier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
)

type LabelFormat string

const (
	LabelFormatPDF LabelFormat = "PDF"
	LabelFormatPNG LabelFormat = "PNG"
	LabelFormatZPL LabelFormat = "ZPL"
)

func (f LabelFormat) ContentType() string {
	switch f {
	case LabelFormatPNG:
		return "image/png"
	case LabelFormatZPL:
		return "application/x-zpl"
	default:
		return "application/pdf"
	}
}

// RateQuote amounts are in minor currency units.
type RateQuote struct {
	ID            string `json:"id"`
	Carrier       string `json:"carrier"`
	Service       string `json:"service"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	EstimatedDays int    `json:"estimatedDays,omitempty"`
}

type PurchaseLabelInput struct {
	RateID    string
	From      models.Address
	To        models.Address
	Parcel    models.Parcel
	Format    LabelFormat
	Reference string
}

type PurchasedLabel struct {
	TrackingNumber    string
	Carrier           string
	Service           string
	TrackingURL       string
	LabelBytes        []byte
	LabelFormat       LabelFormat
	Amount            int64
	Currency          string
	ProviderReference string
}

type Subscription struct {
	ID string
}

type TrackingStatusResponse struct {
	Status      models.TrackingStatus
	StatusRaw   string
	Detail      string
	OccurredAt  *time.Time
	TrackingURL string
	Carrier     string
}

type WebhookEventType string

const (
	WebhookEventTrackingUpdated WebhookEventType = "tracking.updated"
	WebhookEventUnknown         WebhookEventType = "unknown"
)

// WebhookEvent is the canonical shape every provider payload is parsed into.
// Status is empty when the payload carried no status at all.
type WebhookEvent struct {
	Type           WebhookEventType
	TrackingNumber string
	Carrier        string
	Status         models.TrackingStatus
	Detail         string
	OccurredAt     *time.Time
	TrackingURL    string
	Raw            json.RawMessage
}

// Client: единый интерфейс к провайдеру доставки.
//
// FetchTrackingStatus returns (nil, nil) when the carrier has no update yet.
// PurchaseLabel does not deduplicate; order-level idempotency is the caller's job.
type Client interface {
	Name() string
	QuoteRates(ctx context.Context, from, to models.Address, parcel models.Parcel) ([]RateQuote, error)
	PurchaseLabel(ctx context.Context, in PurchaseLabelInput) (*PurchasedLabel, error)
	SubscribeTracking(ctx context.Context, trackingNumber, carrierCode, reference string) (*Subscription, error)
	FetchTrackingStatus(ctx context.Context, trackingNumber, carrierCode string) (*TrackingStatusResponse, error)
	VerifyWebhookSignature(rawBody []byte, signature, timestamp string) bool
	ParseWebhookEvent(payload json.RawMessage) WebhookEvent
}
