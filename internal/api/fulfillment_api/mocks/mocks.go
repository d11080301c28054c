package mocks

import (
	"context"

	"github.com/BearBump/FulfillBox/internal/integrations/carrier"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/services/labels"
	"github.com/BearBump/FulfillBox/internal/services/tracking"
	"github.com/stretchr/testify/mock"
)

type MockTrackingService struct {
	mock.Mock
}

func (m *MockTrackingService) ApplyTrackingUpdate(ctx context.Context, trackingNumber string, ev models.TrackingEvent) (*tracking.ApplyResult, error) {
	args := m.Called(ctx, trackingNumber, ev)
	res, _ := args.Get(0).(*tracking.ApplyResult)
	return res, args.Error(1)
}

func (m *MockTrackingService) GetShipment(ctx context.Context, orderID string) (*models.Shipment, error) {
	args := m.Called(ctx, orderID)
	sh, _ := args.Get(0).(*models.Shipment)
	return sh, args.Error(1)
}

func (m *MockTrackingService) ListTimeline(ctx context.Context, orderID string, limit, offset int) ([]*models.TimelineEvent, error) {
	args := m.Called(ctx, orderID, limit, offset)
	evs, _ := args.Get(0).([]*models.TimelineEvent)
	return evs, args.Error(1)
}

type MockLabelService struct {
	mock.Mock
}

func (m *MockLabelService) QuoteRates(ctx context.Context, in labels.QuoteInput) ([]carrier.RateQuote, error) {
	args := m.Called(ctx, in)
	rates, _ := args.Get(0).([]carrier.RateQuote)
	return rates, args.Error(1)
}

func (m *MockLabelService) PurchaseLabel(ctx context.Context, in labels.PurchaseInput) (*models.Shipment, error) {
	args := m.Called(ctx, in)
	sh, _ := args.Get(0).(*models.Shipment)
	return sh, args.Error(1)
}

type MockLabelFiles struct {
	mock.Mock
}

func (m *MockLabelFiles) GetBinary(ctx context.Context, key string) ([]byte, string, error) {
	args := m.Called(ctx, key)
	b, _ := args.Get(0).([]byte)
	return b, args.String(1), args.Error(2)
}
