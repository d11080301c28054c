package mocks

import (
	"context"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/storage/pgfulfillment"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetOrderForFulfillment(ctx context.Context, orderID string) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	o, _ := args.Get(0).(*models.Order)
	return o, args.Error(1)
}

func (m *MockRepository) GetSellerDefaultAddress(ctx context.Context, sellerID string) (*models.Address, error) {
	args := m.Called(ctx, sellerID)
	a, _ := args.Get(0).(*models.Address)
	return a, args.Error(1)
}

func (m *MockRepository) GetShipmentByOrderID(ctx context.Context, orderID string) (*models.Shipment, error) {
	args := m.Called(ctx, orderID)
	sh, _ := args.Get(0).(*models.Shipment)
	return sh, args.Error(1)
}

func (m *MockRepository) UpsertShipmentLabel(ctx context.Context, in pgfulfillment.LabelUpsert) (*models.Shipment, error) {
	args := m.Called(ctx, in)
	sh, _ := args.Get(0).(*models.Shipment)
	return sh, args.Error(1)
}

func (m *MockRepository) SetTrackingSubscription(ctx context.Context, shipmentID uint64, subscriptionID string) error {
	args := m.Called(ctx, shipmentID, subscriptionID)
	return args.Error(0)
}

func (m *MockRepository) AppendTimelineEvent(ctx context.Context, ev *models.TimelineEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

type MockBinaryStore struct {
	mock.Mock
}

func (m *MockBinaryStore) UploadBinary(ctx context.Context, prefix string, data []byte, contentType string) (string, string, error) {
	args := m.Called(ctx, prefix, data, contentType)
	return args.String(0), args.String(1), args.Error(2)
}
