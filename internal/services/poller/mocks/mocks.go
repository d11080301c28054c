package mocks

import (
	"context"
	"time"

	"github.com/BearBump/FulfillBox/internal/broker/redisqueue"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/services/tracking"
	"github.com/stretchr/testify/mock"
)

type MockRand struct {
	mock.Mock
}

func (m *MockRand) Int63n(n int64) int64 {
	args := m.Called(n)
	return args.Get(0).(int64)
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetShipmentByID(ctx context.Context, id uint64) (*models.Shipment, error) {
	args := m.Called(ctx, id)
	sh, _ := args.Get(0).(*models.Shipment)
	return sh, args.Error(1)
}

func (m *MockRepository) TouchTrackingCheck(ctx context.Context, shipmentID uint64, checkedAt, nextCheckAt time.Time) error {
	args := m.Called(ctx, shipmentID, checkedAt, nextCheckAt)
	return args.Error(0)
}

func (m *MockRepository) ClaimOverdueShipments(ctx context.Context, dueBefore time.Time, limit int, lease time.Duration) ([]*models.Shipment, error) {
	args := m.Called(ctx, dueBefore, limit, lease)
	items, _ := args.Get(0).([]*models.Shipment)
	return items, args.Error(1)
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) ApplyTrackingUpdate(ctx context.Context, trackingNumber string, ev models.TrackingEvent) (*tracking.ApplyResult, error) {
	args := m.Called(ctx, trackingNumber, ev)
	res, _ := args.Get(0).(*tracking.ApplyResult)
	return res, args.Error(1)
}

func (m *MockReconciler) ReleasePendingPayout(ctx context.Context, sh *models.Shipment) error {
	return m.Called(ctx, sh).Error(0)
}

type MockPollScheduler struct {
	mock.Mock
}

func (m *MockPollScheduler) EnqueuePoll(ctx context.Context, shipmentID uint64, notBefore time.Time) error {
	args := m.Called(ctx, shipmentID, notBefore)
	return args.Error(0)
}

type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Get(1).(int64), args.Error(2)
}

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, queue string, job redisqueue.Job, notBefore time.Time) error {
	args := m.Called(ctx, queue, job, notBefore)
	return args.Error(0)
}

func (m *MockQueue) ClaimDue(ctx context.Context, queue string, now time.Time, limit int) ([]redisqueue.Job, error) {
	args := m.Called(ctx, queue, now, limit)
	jobs, _ := args.Get(0).([]redisqueue.Job)
	return jobs, args.Error(1)
}
