package labels

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/FulfillBox/internal/broker/messages"
	cachemocks "github.com/BearBump/FulfillBox/internal/cache/mocks"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier"
	carriermocks "github.com/BearBump/FulfillBox/internal/integrations/carrier/mocks"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/storage/pgfulfillment"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	labelsmocks "github.com/BearBump/FulfillBox/internal/services/labels/mocks"
	trackingmocks "github.com/BearBump/FulfillBox/internal/services/tracking/mocks"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type ServiceSuite struct {
	suite.Suite

	ctx       context.Context
	repo      *labelsmocks.MockRepository
	blobs     *labelsmocks.MockBinaryStore
	carrier   *carriermocks.Client
	notifier  *trackingmocks.MockNotifier
	scheduler *trackingmocks.MockPollScheduler
	cache     *cachemocks.MockBytesCache
	svc       *Service
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = &labelsmocks.MockRepository{}
	s.blobs = &labelsmocks.MockBinaryStore{}
	s.carrier = &carriermocks.Client{}
	s.notifier = &trackingmocks.MockNotifier{}
	s.scheduler = &trackingmocks.MockPollScheduler{}
	s.cache = &cachemocks.MockBytesCache{}
	s.svc = New(Deps{
		Repo:      s.repo,
		Carrier:   s.carrier,
		Blobs:     s.blobs,
		Notifier:  s.notifier,
		Scheduler: s.scheduler,
		Cache:     s.cache,
	}, Config{FallbackPollInterval: 30 * time.Minute})
	s.svc.now = func() time.Time { return fixedNow }
}

func (s *ServiceSuite) TearDownTest() {
	s.repo.AssertExpectations(s.T())
	s.blobs.AssertExpectations(s.T())
	s.carrier.AssertExpectations(s.T())
	s.notifier.AssertExpectations(s.T())
	s.scheduler.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

var (
	buyerAddr  = models.Address{Name: "Buyer", Street1: "1 Main St", City: "Austin", PostalCode: "78701", Country: "US"}
	sellerAddr = models.Address{Name: "Seller", Street1: "9 Side St", City: "Dallas", PostalCode: "75201", Country: "US"}
	parcel     = models.Parcel{LengthInches: 10, WidthInches: 8, HeightInches: 4, WeightOz: 16}
)

func testOrder() *models.Order {
	a := buyerAddr
	return &models.Order{ID: "ord-1", BuyerID: "buyer-1", SellerID: "seller-1", ShippingAddress: &a}
}

func (s *ServiceSuite) expectAddresses() {
	s.repo.On("GetOrderForFulfillment", s.ctx, "ord-1").Return(testOrder(), nil)
	addr := sellerAddr
	s.repo.On("GetSellerDefaultAddress", s.ctx, "seller-1").Return(&addr, nil)
}

func purchased() *carrier.PurchasedLabel {
	return &carrier.PurchasedLabel{
		TrackingNumber: "TRACK123",
		Carrier:        "USPS",
		Service:        "Priority",
		TrackingURL:    "https://t.example/TRACK123",
		LabelBytes:     []byte("%PDF-1.4"),
		LabelFormat:    carrier.LabelFormatPDF,
		Amount:         842,
		Currency:       "USD",
	}
}

func savedShipment() *models.Shipment {
	tn := "TRACK123"
	next := fixedNow.Add(30 * time.Minute)
	return &models.Shipment{
		ID:                  42,
		OrderID:             "ord-1",
		TrackingNumber:      &tn,
		Carrier:             "USPS",
		Status:              models.ShipmentStatusPreparing,
		TrackingStatus:      models.TrackingStatusLabelPurchased,
		TrackingNextCheckAt: &next,
	}
}

// expectPurchase wires everything up to and including the upsert.
func (s *ServiceSuite) expectPurchase() {
	s.expectAddresses()
	s.repo.On("GetShipmentByOrderID", s.ctx, "ord-1").Return(nil, models.ErrShipmentNotFound)
	s.carrier.On("PurchaseLabel", s.ctx, carrier.PurchaseLabelInput{
		RateID:    "rate_1",
		From:      sellerAddr,
		To:        buyerAddr,
		Parcel:    parcel,
		Format:    carrier.LabelFormatPDF,
		Reference: "ord-1",
	}).Return(purchased(), nil)
	s.blobs.On("UploadBinary", s.ctx, "orders/ord-1", []byte("%PDF-1.4"), "application/pdf").
		Return("orders/ord-1/abc.pdf", "http://files/v1/labels/orders/ord-1/abc.pdf", nil)
	s.carrier.On("Name").Return("simulated")
	s.repo.On("UpsertShipmentLabel", s.ctx, pgfulfillment.LabelUpsert{
		OrderID:        "ord-1",
		TrackingNumber: "TRACK123",
		Carrier:        "USPS",
		ServiceLevel:   "Priority",
		Provider:       "simulated",
		TrackingURL:    "https://t.example/TRACK123",
		LabelURL:       "http://files/v1/labels/orders/ord-1/abc.pdf",
		LabelKey:       "orders/ord-1/abc.pdf",
		LabelCost:      842,
		LabelCurrency:  "USD",
		PurchasedAt:    fixedNow,
		NextCheckAt:    fixedNow.Add(30 * time.Minute),
	}).Return(savedShipment(), nil)
}

func (s *ServiceSuite) expectAfterUpsert() {
	s.repo.On("AppendTimelineEvent", s.ctx, mock.MatchedBy(func(ev *models.TimelineEvent) bool {
		return ev.OrderID == "ord-1" && ev.Type == models.TimelineTypeLabelPurchased
	})).Return(nil)
	s.notifier.On("SendNotification", s.ctx, "buyer-1", models.NotificationLabelPurchased, messages.LabelPurchasedPayload{
		OrderID:        "ord-1",
		TrackingNumber: "TRACK123",
		Carrier:        "USPS",
		TrackingURL:    "https://t.example/TRACK123",
	}).Return(nil)
	s.scheduler.On("EnqueuePoll", s.ctx, uint64(42), fixedNow.Add(30*time.Minute)).Return(nil)
	s.cache.On("Delete", s.ctx, "shipment:ord-1").Return(nil)
}

func (s *ServiceSuite) TestPurchaseLabel_Success() {
	s.expectPurchase()
	s.expectAfterUpsert()
	s.carrier.On("SubscribeTracking", s.ctx, "TRACK123", "USPS", "ord-1").Return(&carrier.Subscription{ID: "sub_1"}, nil)
	s.repo.On("SetTrackingSubscription", s.ctx, uint64(42), "sub_1").Return(nil)

	sh, err := s.svc.PurchaseLabel(s.ctx, PurchaseInput{OrderID: "ord-1", RateID: "rate_1", Parcel: parcel})
	s.Require().NoError(err)
	s.Require().Equal(models.ShipmentStatusPreparing, sh.Status)
	s.Require().Equal(models.TrackingStatusLabelPurchased, sh.TrackingStatus)
	s.Require().NotNil(sh.TrackingSubscriptionID)
	s.Require().Equal("sub_1", *sh.TrackingSubscriptionID)
}

// Subscription failure is logged, the purchase succeeds and polling is still armed.
func (s *ServiceSuite) TestPurchaseLabel_SubscriptionFailureIsBestEffort() {
	s.expectPurchase()
	s.expectAfterUpsert()
	s.carrier.On("SubscribeTracking", s.ctx, "TRACK123", "USPS", "ord-1").
		Return(nil, carrier.NewAdapterError("subscribe", 502, errors.New("bad gateway")))

	sh, err := s.svc.PurchaseLabel(s.ctx, PurchaseInput{OrderID: "ord-1", RateID: "rate_1", Parcel: parcel, Format: "pdf"})
	s.Require().NoError(err)
	s.Require().Nil(sh.TrackingSubscriptionID)
	s.repo.AssertNotCalled(s.T(), "SetTrackingSubscription", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestPurchaseLabel_NotificationAndEnqueueErrorsAreLogged() {
	s.expectPurchase()
	s.repo.On("AppendTimelineEvent", s.ctx, mock.Anything).Return(nil)
	s.notifier.On("SendNotification", s.ctx, "buyer-1", models.NotificationLabelPurchased, mock.Anything).Return(errors.New("kafka down"))
	s.carrier.On("SubscribeTracking", s.ctx, "TRACK123", "USPS", "ord-1").Return(&carrier.Subscription{}, nil)
	s.scheduler.On("EnqueuePoll", s.ctx, uint64(42), mock.Anything).Return(errors.New("redis down"))
	s.cache.On("Delete", s.ctx, "shipment:ord-1").Return(nil)

	_, err := s.svc.PurchaseLabel(s.ctx, PurchaseInput{OrderID: "ord-1", RateID: "rate_1", Parcel: parcel})
	s.Require().NoError(err)
}

// Timeline пишется после upsert: его ошибка не должна оставить
// сохранённую этикетку без уведомления, подписки и опроса.
func (s *ServiceSuite) TestPurchaseLabel_TimelineErrorKeepsSideEffects() {
	s.expectPurchase()
	s.repo.On("AppendTimelineEvent", s.ctx, mock.Anything).Return(errors.New("db blip")).Once()
	s.notifier.On("SendNotification", s.ctx, "buyer-1", models.NotificationLabelPurchased, mock.Anything).Return(nil).Once()
	s.carrier.On("SubscribeTracking", s.ctx, "TRACK123", "USPS", "ord-1").Return(&carrier.Subscription{ID: "sub_1"}, nil).Once()
	s.repo.On("SetTrackingSubscription", s.ctx, uint64(42), "sub_1").Return(nil).Once()
	s.scheduler.On("EnqueuePoll", s.ctx, uint64(42), fixedNow.Add(30*time.Minute)).Return(nil).Once()
	s.cache.On("Delete", s.ctx, "shipment:ord-1").Return(nil).Once()

	sh, err := s.svc.PurchaseLabel(s.ctx, PurchaseInput{OrderID: "ord-1", RateID: "rate_1", Parcel: parcel})
	s.Require().NoError(err)
	s.Require().Equal("TRACK123", *sh.TrackingNumber)
	s.notifier.AssertNumberOfCalls(s.T(), "SendNotification", 1)
	s.scheduler.AssertNumberOfCalls(s.T(), "EnqueuePoll", 1)
	s.carrier.AssertNumberOfCalls(s.T(), "SubscribeTracking", 1)
}

func (s *ServiceSuite) TestPurchaseLabel_AlreadyPurchased() {
	s.expectAddresses()
	s.repo.On("GetShipmentByOrderID", s.ctx, "ord-1").Return(savedShipment(), nil)

	_, err := s.svc.PurchaseLabel(s.ctx, PurchaseInput{OrderID: "ord-1", RateID: "rate_1", Parcel: parcel})
	s.Require().ErrorIs(err, models.ErrLabelAlreadyPurchased)
	s.carrier.AssertNotCalled(s.T(), "PurchaseLabel", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestPurchaseLabel_OrderNotFound() {
	s.repo.On("GetOrderForFulfillment", s.ctx, "missing").Return(nil, models.ErrOrderNotFound)

	_, err := s.svc.PurchaseLabel(s.ctx, PurchaseInput{OrderID: "missing", RateID: "rate_1", Parcel: parcel})
	s.Require().ErrorIs(err, models.ErrNotFound)
}

func (s *ServiceSuite) TestPurchaseLabel_NoSellerAddress() {
	s.repo.On("GetOrderForFulfillment", s.ctx, "ord-1").Return(testOrder(), nil)
	s.repo.On("GetSellerDefaultAddress", s.ctx, "seller-1").Return(nil, nil)

	_, err := s.svc.PurchaseLabel(s.ctx, PurchaseInput{OrderID: "ord-1", RateID: "rate_1", Parcel: parcel})
	s.Require().True(models.IsValidation(err))
}

func (s *ServiceSuite) TestPurchaseLabel_NoShippingAddress() {
	s.repo.On("GetOrderForFulfillment", s.ctx, "ord-1").Return(&models.Order{ID: "ord-1", SellerID: "seller-1"}, nil)

	_, err := s.svc.PurchaseLabel(s.ctx, PurchaseInput{OrderID: "ord-1", RateID: "rate_1", Parcel: parcel})
	s.Require().True(models.IsValidation(err))
}

func (s *ServiceSuite) TestPurchaseLabel_InvalidInput() {
	_, err := s.svc.PurchaseLabel(s.ctx, PurchaseInput{OrderID: "ord-1", Parcel: parcel})
	s.Require().True(models.IsValidation(err))

	_, err = s.svc.PurchaseLabel(s.ctx, PurchaseInput{OrderID: "ord-1", RateID: "r", Parcel: parcel, Format: "GIF"})
	s.Require().True(models.IsValidation(err))
}

func (s *ServiceSuite) TestPurchaseLabel_CarrierErrorStopsFlow() {
	s.expectAddresses()
	s.repo.On("GetShipmentByOrderID", s.ctx, "ord-1").Return(nil, models.ErrShipmentNotFound)
	s.carrier.On("PurchaseLabel", s.ctx, mock.Anything).Return(nil, carrier.NewAdapterError("purchase_label", 500, errors.New("boom")))

	_, err := s.svc.PurchaseLabel(s.ctx, PurchaseInput{OrderID: "ord-1", RateID: "rate_1", Parcel: parcel})
	s.Require().Error(err)
	s.Require().True(carrier.IsRetryable(err))
	s.blobs.AssertNotCalled(s.T(), "UploadBinary", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestQuoteRates() {
	s.expectAddresses()
	rates := []carrier.RateQuote{{ID: "rate_1", Carrier: "USPS", Service: "Priority", Amount: 842, Currency: "USD"}}
	s.carrier.On("QuoteRates", s.ctx, sellerAddr, buyerAddr, parcel).Return(rates, nil)

	got, err := s.svc.QuoteRates(s.ctx, QuoteInput{OrderID: "ord-1", SellerID: "seller-1", Parcel: parcel})
	s.Require().NoError(err)
	s.Require().Equal(rates, got)
}

func (s *ServiceSuite) TestQuoteRates_ForeignSeller() {
	s.repo.On("GetOrderForFulfillment", s.ctx, "ord-1").Return(testOrder(), nil)

	_, err := s.svc.QuoteRates(s.ctx, QuoteInput{OrderID: "ord-1", SellerID: "seller-2", Parcel: parcel})
	var ve *models.ValidationError
	s.Require().ErrorAs(err, &ve)
	s.Require().Contains(ve.Fields, "sellerId")
	s.carrier.AssertNotCalled(s.T(), "QuoteRates", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
