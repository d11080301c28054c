package mocks

import (
	"context"
	"encoding/json"

	"github.com/BearBump/FulfillBox/internal/integrations/carrier"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/stretchr/testify/mock"
)

// Client is a testify mock of carrier.Client.
type Client struct {
	mock.Mock
}

var _ carrier.Client = (*Client)(nil)

func (m *Client) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *Client) QuoteRates(ctx context.Context, from, to models.Address, parcel models.Parcel) ([]carrier.RateQuote, error) {
	args := m.Called(ctx, from, to, parcel)
	rates, _ := args.Get(0).([]carrier.RateQuote)
	return rates, args.Error(1)
}

func (m *Client) PurchaseLabel(ctx context.Context, in carrier.PurchaseLabelInput) (*carrier.PurchasedLabel, error) {
	args := m.Called(ctx, in)
	lbl, _ := args.Get(0).(*carrier.PurchasedLabel)
	return lbl, args.Error(1)
}

func (m *Client) SubscribeTracking(ctx context.Context, trackingNumber, carrierCode, reference string) (*carrier.Subscription, error) {
	args := m.Called(ctx, trackingNumber, carrierCode, reference)
	sub, _ := args.Get(0).(*carrier.Subscription)
	return sub, args.Error(1)
}

func (m *Client) FetchTrackingStatus(ctx context.Context, trackingNumber, carrierCode string) (*carrier.TrackingStatusResponse, error) {
	args := m.Called(ctx, trackingNumber, carrierCode)
	res, _ := args.Get(0).(*carrier.TrackingStatusResponse)
	return res, args.Error(1)
}

func (m *Client) VerifyWebhookSignature(rawBody []byte, signature, timestamp string) bool {
	args := m.Called(rawBody, signature, timestamp)
	return args.Bool(0)
}

func (m *Client) ParseWebhookEvent(payload json.RawMessage) carrier.WebhookEvent {
	args := m.Called(payload)
	return args.Get(0).(carrier.WebhookEvent)
}
