package mocks

import (
	"context"
	"time"

	"github.com/BearBump/FulfillBox/internal/integrations/payouts"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/storage/pgfulfillment"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*models.ShipmentWithOrder, error) {
	args := m.Called(ctx, trackingNumber)
	sh, _ := args.Get(0).(*models.ShipmentWithOrder)
	return sh, args.Error(1)
}

func (m *MockRepository) GetShipmentByOrderID(ctx context.Context, orderID string) (*models.Shipment, error) {
	args := m.Called(ctx, orderID)
	sh, _ := args.Get(0).(*models.Shipment)
	return sh, args.Error(1)
}

func (m *MockRepository) ApplyTrackingUpdate(ctx context.Context, upd pgfulfillment.TrackingUpdate) (*models.Shipment, bool, error) {
	args := m.Called(ctx, upd)
	sh, _ := args.Get(0).(*models.Shipment)
	return sh, args.Bool(1), args.Error(2)
}

func (m *MockRepository) MarkPayoutReleased(ctx context.Context, shipmentID uint64, at time.Time) error {
	return m.Called(ctx, shipmentID, at).Error(0)
}

func (m *MockRepository) ListTimeline(ctx context.Context, orderID string, limit, offset int) ([]*models.TimelineEvent, error) {
	args := m.Called(ctx, orderID, limit, offset)
	evs, _ := args.Get(0).([]*models.TimelineEvent)
	return evs, args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendNotification(ctx context.Context, userID, notificationType string, payload any) error {
	args := m.Called(ctx, userID, notificationType, payload)
	return args.Error(0)
}

type MockPollScheduler struct {
	mock.Mock
}

func (m *MockPollScheduler) EnqueuePoll(ctx context.Context, shipmentID uint64, notBefore time.Time) error {
	args := m.Called(ctx, shipmentID, notBefore)
	return args.Error(0)
}

type MockPayouts struct {
	mock.Mock
}

func (m *MockPayouts) ReleasePayoutForOrder(ctx context.Context, orderID string) (*payouts.Payout, error) {
	args := m.Called(ctx, orderID)
	p, _ := args.Get(0).(*payouts.Payout)
	return p, args.Error(1)
}
