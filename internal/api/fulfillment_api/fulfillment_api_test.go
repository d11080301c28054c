package fulfillment_api_test

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/BearBump/FulfillBox/internal/api/fulfillment_api"
	"github.com/BearBump/FulfillBox/internal/api/fulfillment_api/mocks"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier/simulated"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/services/labels"
	"github.com/BearBump/FulfillBox/internal/services/tracking"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

type fixture struct {
	tracking *mocks.MockTrackingService
	labels   *mocks.MockLabelService
	files    *mocks.MockLabelFiles
	router   chi.Router
}

func newFixture(t *testing.T, webhookSecret string) *fixture {
	t.Helper()
	f := &fixture{
		tracking: &mocks.MockTrackingService{},
		labels:   &mocks.MockLabelService{},
		files:    &mocks.MockLabelFiles{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := fulfillment_api.New(logger, f.tracking, f.labels, simulated.New(0, webhookSecret), f.files, fulfillment_api.Options{})

	r := chi.NewRouter()
	h.Init(r)
	f.router = r
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func webhookRequest(body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/tracking", bytes.NewBufferString(body))
	if signature != "" {
		req.Header.Set(fulfillment_api.HeaderWebhookSignature, signature)
	}
	return req
}

// signedWebhook подписывает "<ts>.<body>" текущим временем.
func signedWebhook(body, key string) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := webhookRequest(body, carrier.Sign(key, []byte(body), ts))
	req.Header.Set(fulfillment_api.HeaderWebhookTimestamp, ts)
	return req
}

const deliveredPayload = `{"type":"tracking.updated","trackingNumber":"TRACK123","carrier":"USPS","status":"delivered","occurredAt":"2025-03-01T10:00:00Z"}`

func TestTrackingWebhook_InvalidSignature(t *testing.T) {
	f := newFixture(t, secret)

	rr := f.do(signedWebhook(deliveredPayload, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(webhookRequest(deliveredPayload, ""))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	f.tracking.AssertNotCalled(t, "ApplyTrackingUpdate", mock.Anything, mock.Anything, mock.Anything)
}

// Валидная подпись без timestamp: тело можно переиграть, отклоняем.
func TestTrackingWebhook_MissingTimestampRejected(t *testing.T) {
	f := newFixture(t, secret)

	rr := f.do(webhookRequest(deliveredPayload, carrier.Sign(secret, []byte(deliveredPayload), "")))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	stale := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	req := webhookRequest(deliveredPayload, carrier.Sign(secret, []byte(deliveredPayload), stale))
	req.Header.Set(fulfillment_api.HeaderWebhookTimestamp, stale)
	rr = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	f.tracking.AssertNotCalled(t, "ApplyTrackingUpdate", mock.Anything, mock.Anything, mock.Anything)
}

func TestTrackingWebhook_Applies(t *testing.T) {
	f := newFixture(t, secret)
	occurred := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	f.tracking.On("ApplyTrackingUpdate", mock.Anything, "TRACK123", models.TrackingEvent{
		Status:     models.TrackingStatusDelivered,
		OccurredAt: occurred,
		Carrier:    "USPS",
		Source:     models.TrackingSourceWebhook,
	}).Return(&tracking.ApplyResult{ShipmentID: 42, Applied: true}, nil).Once()

	rr := f.do(signedWebhook(deliveredPayload, secret))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received":true,"applied":true}`, rr.Body.String())
	f.tracking.AssertExpectations(t)
}

func TestTrackingWebhook_IgnoredEventsAreAcknowledged(t *testing.T) {
	f := newFixture(t, secret)

	for _, body := range []string{
		`{"type":"invoice.paid"}`,
		`{"type":"tracking.updated","status":"delivered"}`,
		`{"type":"tracking.updated","trackingNumber":"TRACK123"}`,
	} {
		rr := f.do(signedWebhook(body, secret))
		assert.Equal(t, http.StatusOK, rr.Code, body)
		assert.JSONEq(t, `{"received":true,"applied":false}`, rr.Body.String(), body)
	}
	f.tracking.AssertNotCalled(t, "ApplyTrackingUpdate", mock.Anything, mock.Anything, mock.Anything)
}

func TestTrackingWebhook_UnknownTrackingNumberIsOK(t *testing.T) {
	f := newFixture(t, secret)
	f.tracking.On("ApplyTrackingUpdate", mock.Anything, "TRACK123", mock.Anything).Return(nil, nil).Once()

	rr := f.do(signedWebhook(deliveredPayload, secret))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received":true,"applied":false}`, rr.Body.String())
}

func TestTrackingWebhook_MalformedJSON(t *testing.T) {
	f := newFixture(t, secret)
	body := `{"type":`

	rr := f.do(signedWebhook(body, secret))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTrackingWebhook_ReconcilerError(t *testing.T) {
	f := newFixture(t, secret)
	f.tracking.On("ApplyTrackingUpdate", mock.Anything, "TRACK123", mock.Anything).
		Return(nil, errors.New("release payout: escrow down")).Once()

	rr := f.do(signedWebhook(deliveredPayload, secret))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestTrackingWebhook_FailOpenWithoutSecret(t *testing.T) {
	f := newFixture(t, "")
	f.tracking.On("ApplyTrackingUpdate", mock.Anything, "TRACK123", mock.Anything).
		Return(&tracking.ApplyResult{ShipmentID: 1, Applied: true}, nil).Once()

	rr := f.do(webhookRequest(deliveredPayload, ""))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPurchaseLabel(t *testing.T) {
	parcel := models.Parcel{LengthInches: 10, WidthInches: 8, HeightInches: 4, WeightOz: 16}
	tn := "TRACK123"

	testCases := []struct {
		name         string
		body         string
		mockBehavior func(svc *mocks.MockLabelService)
		wantStatus   int
		wantBody     string
	}{
		{
			name: "created",
			body: `{"orderId":"ord-1","rateId":"rate_1","labelFormat":"pdf","parcel":{"lengthInches":10,"widthInches":8,"heightInches":4,"weightOz":16}}`,
			mockBehavior: func(svc *mocks.MockLabelService) {
				svc.On("PurchaseLabel", mock.Anything, labels.PurchaseInput{
					OrderID: "ord-1", RateID: "rate_1", Parcel: parcel, Format: carrier.LabelFormatPDF,
				}).Return(&models.Shipment{
					ID: 42, OrderID: "ord-1", TrackingNumber: &tn, Carrier: "USPS", ServiceLevel: "Priority",
					LabelCost: 795, LabelCurrency: "USD",
					Status: models.ShipmentStatusPreparing, TrackingStatus: models.TrackingStatusLabelPurchased,
				}, nil).Once()
			},
			wantStatus: http.StatusCreated,
			wantBody:   `"shipmentId":42,"trackingNumber":"TRACK123","carrier":"USPS","service":"Priority","labelUrl":"","amount":795,"currency":"USD"`,
		},
		{
			name:         "validation",
			body:         `{"orderId":"ord-1","parcel":{"lengthInches":10,"widthInches":8,"heightInches":4,"weightOz":0}}`,
			mockBehavior: func(svc *mocks.MockLabelService) {},
			wantStatus:   http.StatusBadRequest,
			wantBody:     `"rateId":"required"`,
		},
		{
			name:         "malformed",
			body:         `{`,
			mockBehavior: func(svc *mocks.MockLabelService) {},
			wantStatus:   http.StatusBadRequest,
			wantBody:     `"malformed request body"`,
		},
		{
			name: "already purchased",
			body: `{"orderId":"ord-1","rateId":"rate_1","parcel":{"lengthInches":10,"widthInches":8,"heightInches":4,"weightOz":16}}`,
			mockBehavior: func(svc *mocks.MockLabelService) {
				svc.On("PurchaseLabel", mock.Anything, mock.Anything).Return(nil, models.ErrLabelAlreadyPurchased).Once()
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "order not found",
			body: `{"orderId":"nope","rateId":"rate_1","parcel":{"lengthInches":10,"widthInches":8,"heightInches":4,"weightOz":16}}`,
			mockBehavior: func(svc *mocks.MockLabelService) {
				svc.On("PurchaseLabel", mock.Anything, mock.Anything).Return(nil, models.ErrOrderNotFound).Once()
			},
			wantStatus: http.StatusNotFound,
			wantBody:   `"order not found"`,
		},
		{
			name: "no seller address",
			body: `{"orderId":"ord-1","rateId":"rate_1","parcel":{"lengthInches":10,"widthInches":8,"heightInches":4,"weightOz":16}}`,
			mockBehavior: func(svc *mocks.MockLabelService) {
				svc.On("PurchaseLabel", mock.Anything, mock.Anything).
					Return(nil, models.NewValidationError("fromAddress", "seller has no default shipping address")).Once()
			},
			wantStatus: http.StatusBadRequest,
			wantBody:   `"fromAddress"`,
		},
		{
			name: "carrier outage",
			body: `{"orderId":"ord-1","rateId":"rate_1","parcel":{"lengthInches":10,"widthInches":8,"heightInches":4,"weightOz":16}}`,
			mockBehavior: func(svc *mocks.MockLabelService) {
				svc.On("PurchaseLabel", mock.Anything, mock.Anything).
					Return(nil, carrier.NewAdapterError("purchase_label", 503, errors.New("down"))).Once()
			},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, secret)
			tc.mockBehavior(f.labels)

			req := httptest.NewRequest(http.MethodPost, "/v1/shipping/labels", bytes.NewBufferString(tc.body))
			rr := f.do(req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			if tc.wantBody != "" {
				assert.Contains(t, rr.Body.String(), tc.wantBody)
			}
			f.labels.AssertExpectations(t)
		})
	}
}

func TestQuoteRates(t *testing.T) {
	f := newFixture(t, secret)
	parcel := models.Parcel{LengthInches: 10, WidthInches: 8, HeightInches: 4, WeightOz: 16}
	f.labels.On("QuoteRates", mock.Anything, labels.QuoteInput{OrderID: "ord-1", SellerID: "seller-1", Parcel: parcel}).Return([]carrier.RateQuote{
		{ID: "sim_ground", Carrier: "SIMPOST", Service: "Ground", Amount: 642, Currency: "USD"},
	}, nil).Once()

	body := `{"orderId":"ord-1","sellerId":"seller-1","parcel":{"lengthInches":10,"widthInches":8,"heightInches":4,"weightOz":16}}`
	rr := f.do(httptest.NewRequest(http.MethodPost, "/v1/shipping/rates", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"id":"sim_ground"`)

	rr = f.do(httptest.NewRequest(http.MethodPost, "/v1/shipping/rates", bytes.NewBufferString(`{"orderId":"ord-1"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), `"parcel":"required"`)
}

func TestGetShipment(t *testing.T) {
	f := newFixture(t, secret)
	tn := "TRACK123"
	f.tracking.On("GetShipment", mock.Anything, "ord-1").Return(&models.Shipment{
		ID: 42, OrderID: "ord-1", TrackingNumber: &tn,
		Status: models.ShipmentStatusShipped, TrackingStatus: models.TrackingStatusInTransit,
	}, nil).Once()
	f.tracking.On("GetShipment", mock.Anything, "missing").Return(nil, models.ErrShipmentNotFound).Once()

	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/orders/ord-1/shipment", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"SHIPPED"`)

	rr = f.do(httptest.NewRequest(http.MethodGet, "/v1/orders/missing/shipment", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListTimeline(t *testing.T) {
	f := newFixture(t, secret)
	f.tracking.On("ListTimeline", mock.Anything, "ord-1", 10, 5).Return([]*models.TimelineEvent{
		{ID: 2, OrderID: "ord-1", Type: models.TimelineTypeTrackingUpdate, Message: "Webhook update: Delivered"},
		{ID: 1, OrderID: "ord-1", Type: models.TimelineTypeLabelPurchased, Message: "Shipping label purchased"},
	}, nil).Once()

	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/orders/ord-1/timeline?limit=10&offset=5", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"message":"Webhook update: Delivered"`)

	rr = f.do(httptest.NewRequest(http.MethodGet, "/v1/orders/ord-1/timeline?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDownloadLabel(t *testing.T) {
	f := newFixture(t, secret)
	f.files.On("GetBinary", mock.Anything, "orders/ord-1/abc.pdf").Return([]byte("%PDF-1.4"), "application/pdf", nil).Once()
	f.files.On("GetBinary", mock.Anything, "orders/ord-1/none.pdf").Return(nil, "", models.ErrNotFound).Once()

	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/labels/orders/ord-1/abc.pdf", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4", rr.Body.String())

	rr = f.do(httptest.NewRequest(http.MethodGet, "/v1/labels/orders/ord-1/none.pdf", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
