package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/FulfillBox/internal/integrations/carrier"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier/mocks"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newBreaker(t *testing.T) (*Client, *mocks.Client) {
	t.Helper()
	m := &mocks.Client{}
	m.On("Name").Return("gatewayv1")
	return Wrap(m, Settings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Hour, MinRequests: 3, FailureRatio: 0.5}), m
}

func TestBreaker_PassesThrough(t *testing.T) {
	b, m := newBreaker(t)
	want := &carrier.TrackingStatusResponse{Status: models.TrackingStatusInTransit}
	m.On("FetchTrackingStatus", mock.Anything, "T1", "USPS").Return(want, nil).Once()

	got, err := b.FetchTrackingStatus(context.Background(), "T1", "USPS")
	require.NoError(t, err)
	require.Equal(t, want, got)
	m.AssertExpectations(t)
}

func TestBreaker_NilResultIsNoUpdate(t *testing.T) {
	b, m := newBreaker(t)
	m.On("FetchTrackingStatus", mock.Anything, "T1", "").Return(nil, nil).Once()

	got, err := b.FetchTrackingStatus(context.Background(), "T1", "")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestBreaker_OpensOnRetryableFailures(t *testing.T) {
	b, m := newBreaker(t)
	ctx := context.Background()
	outage := carrier.NewAdapterError("fetch tracking", 503, errors.New("down"))
	m.On("FetchTrackingStatus", mock.Anything, "T1", "").Return(nil, outage).Times(3)

	for i := 0; i < 3; i++ {
		_, err := b.FetchTrackingStatus(ctx, "T1", "")
		require.ErrorIs(t, err, outage)
	}
	require.Equal(t, "open", b.State())

	_, err := b.FetchTrackingStatus(ctx, "T1", "")
	require.Error(t, err)
	require.True(t, carrier.IsRetryable(err))
	m.AssertNumberOfCalls(t, "FetchTrackingStatus", 3)
}

func TestBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	b, m := newBreaker(t)
	bad := carrier.NewAdapterError("purchase label", 422, errors.New("rate expired"))
	m.On("PurchaseLabel", mock.Anything, mock.Anything).Return(nil, bad)

	for i := 0; i < 5; i++ {
		_, err := b.PurchaseLabel(context.Background(), carrier.PurchaseLabelInput{RateID: "r"})
		require.ErrorIs(t, err, bad)
	}
	require.Equal(t, "closed", b.State())
}

func TestBreaker_WebhookHelpersBypass(t *testing.T) {
	b, m := newBreaker(t)
	m.On("VerifyWebhookSignature", []byte("{}"), "sig", "").Return(true)
	require.True(t, b.VerifyWebhookSignature([]byte("{}"), "sig", ""))
}
