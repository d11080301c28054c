package fulfillment_api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/FulfillBox/internal/integrations/carrier"
	"github.com/BearBump/FulfillBox/internal/metrics"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/services/labels"
	"github.com/BearBump/FulfillBox/internal/services/tracking"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
)

const (
	HeaderWebhookSignature = "X-Webhook-Signature"
	HeaderWebhookTimestamp = "X-Webhook-Timestamp"

	maxWebhookBody = 1 << 20
)

type TrackingService interface {
	ApplyTrackingUpdate(ctx context.Context, trackingNumber string, ev models.TrackingEvent) (*tracking.ApplyResult, error)
	GetShipment(ctx context.Context, orderID string) (*models.Shipment, error)
	ListTimeline(ctx context.Context, orderID string, limit, offset int) ([]*models.TimelineEvent, error)
}

type LabelService interface {
	QuoteRates(ctx context.Context, in labels.QuoteInput) ([]carrier.RateQuote, error)
	PurchaseLabel(ctx context.Context, in labels.PurchaseInput) (*models.Shipment, error)
}

type WebhookCarrier interface {
	VerifyWebhookSignature(rawBody []byte, signature, timestamp string) bool
	ParseWebhookEvent(payload json.RawMessage) carrier.WebhookEvent
}

type LabelFiles interface {
	GetBinary(ctx context.Context, key string) ([]byte, string, error)
}

type Options struct {
	// WebhookRateLimit is requests per minute per carrier IP, 0 disables it.
	WebhookRateLimit int
}

type FulfillmentAPI struct {
	logger   *slog.Logger
	validate *validator.Validate
	tracking TrackingService
	labels   LabelService
	carrier  WebhookCarrier
	files    LabelFiles
	opts     Options
}

func New(logger *slog.Logger, trackingSvc TrackingService, labelSvc LabelService, c WebhookCarrier, files LabelFiles, opts Options) *FulfillmentAPI {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &FulfillmentAPI{
		logger:   logger.With(slog.String("handler", "fulfillment")),
		validate: v,
		tracking: trackingSvc,
		labels:   labelSvc,
		carrier:  c,
		files:    files,
		opts:     opts,
	}
}

func (a *FulfillmentAPI) Init(r chi.Router) {
	r.Group(func(r chi.Router) {
		if a.opts.WebhookRateLimit > 0 {
			r.Use(httprate.LimitByIP(a.opts.WebhookRateLimit, time.Minute))
		}
		r.Post("/v1/webhooks/tracking", a.TrackingWebhook)
	})
	r.Post("/v1/shipping/rates", a.QuoteRates)
	r.Post("/v1/shipping/labels", a.PurchaseLabel)
	r.Get("/v1/orders/{orderId}/shipment", a.GetShipment)
	r.Get("/v1/orders/{orderId}/timeline", a.ListTimeline)
	r.Get("/v1/labels/*", a.DownloadLabel)
}

// TrackingWebhook принимает push-обновления от перевозчика.
// @Summary      Carrier tracking webhook
// @Tags         webhooks
// @Param        X-Webhook-Signature  header  string  true   "hex HMAC-SHA256"
// @Param        X-Webhook-Timestamp  header  string  true   "unix seconds, signed as <ts>.<body>"
// @Success      200  {object}  WebhookResponse
// @Failure      400  {object}  ErrorResponse "Некорректный JSON"
// @Failure      401  {object}  ErrorResponse "Неверная подпись"
// @Failure      500  {object}  ErrorResponse
// @Router       /v1/webhooks/tracking [post]
func (a *FulfillmentAPI) TrackingWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		metrics.Webhooks.WithLabelValues("malformed").Inc()
		WriteError(w, "cannot read body", http.StatusBadRequest)
		return
	}

	sig := r.Header.Get(HeaderWebhookSignature)
	ts := r.Header.Get(HeaderWebhookTimestamp)
	if !a.carrier.VerifyWebhookSignature(body, sig, ts) {
		a.logger.WarnContext(ctx, "invalid webhook signature, potential security event",
			slog.String("remote_addr", r.RemoteAddr),
			slog.Bool("signature_present", sig != ""),
		)
		metrics.Webhooks.WithLabelValues("unauthorized").Inc()
		WriteError(w, carrier.ErrInvalidSignature.Error(), http.StatusUnauthorized)
		return
	}

	if !json.Valid(body) {
		metrics.Webhooks.WithLabelValues("malformed").Inc()
		WriteError(w, "malformed payload", http.StatusBadRequest)
		return
	}

	ev := a.carrier.ParseWebhookEvent(body)
	if ev.Type != carrier.WebhookEventTrackingUpdated || ev.TrackingNumber == "" || ev.Status == "" {
		metrics.Webhooks.WithLabelValues("ignored").Inc()
		WriteJSON(w, WebhookResponse{Received: true}, http.StatusOK)
		return
	}

	var occurredAt time.Time
	if ev.OccurredAt != nil {
		occurredAt = *ev.OccurredAt
	}
	res, err := a.tracking.ApplyTrackingUpdate(ctx, ev.TrackingNumber, models.TrackingEvent{
		Status:      ev.Status,
		Detail:      ev.Detail,
		OccurredAt:  occurredAt,
		TrackingURL: ev.TrackingURL,
		Carrier:     ev.Carrier,
		Source:      models.TrackingSourceWebhook,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to apply tracking webhook",
			slog.Any("error", err), slog.String("tracking_number", ev.TrackingNumber))
		metrics.Webhooks.WithLabelValues("error").Inc()
		WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	applied := res != nil && res.Applied
	if applied {
		metrics.Webhooks.WithLabelValues("applied").Inc()
	} else {
		metrics.Webhooks.WithLabelValues("ignored").Inc()
	}
	WriteJSON(w, WebhookResponse{Received: true, Applied: applied}, http.StatusOK)
}

// QuoteRates
// @Summary      Quote shipping rates for an order
// @Tags         shipping
// @Param        request  body  QuoteRatesRequest  true  "order and parcel"
// @Success      200  {object}  QuoteRatesResponse
// @Failure      400  {object}  ValidationErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      502  {object}  ErrorResponse
// @Router       /v1/shipping/rates [post]
func (a *FulfillmentAPI) QuoteRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req QuoteRatesRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteError(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		WriteValidationError(w, err)
		return
	}

	rates, err := a.labels.QuoteRates(ctx, labels.QuoteInput{
		OrderID:  req.OrderID,
		SellerID: req.SellerID,
		Parcel:   *req.Parcel,
	})
	if err != nil {
		a.writeServiceError(ctx, w, err, "failed to quote rates", req.OrderID)
		return
	}
	if rates == nil {
		rates = []carrier.RateQuote{}
	}
	WriteJSON(w, QuoteRatesResponse{Rates: rates}, http.StatusOK)
}

// PurchaseLabel
// @Summary      Purchase a shipping label for an order
// @Tags         shipping
// @Param        request  body  PurchaseLabelRequest  true  "order, rate and parcel"
// @Success      201  {object}  PurchaseLabelResponse
// @Failure      400  {object}  ValidationErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse "Этикетка уже куплена"
// @Failure      502  {object}  ErrorResponse
// @Router       /v1/shipping/labels [post]
func (a *FulfillmentAPI) PurchaseLabel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PurchaseLabelRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteError(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		WriteValidationError(w, err)
		return
	}

	sh, err := a.labels.PurchaseLabel(ctx, labels.PurchaseInput{
		OrderID:  req.OrderID,
		SellerID: req.SellerID,
		RateID:   req.RateID,
		Parcel:   *req.Parcel,
		Format:   carrier.LabelFormat(strings.ToUpper(req.LabelFormat)),
	})
	if err != nil {
		a.writeServiceError(ctx, w, err, "failed to purchase label", req.OrderID)
		return
	}
	WriteJSON(w, purchaseToJSON(sh), http.StatusCreated)
}

// GetShipment
// @Summary      Current shipment state of an order
// @Tags         orders
// @Param        orderId  path  string  true  "order id"
// @Success      200  {object}  Shipment
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/orders/{orderId}/shipment [get]
func (a *FulfillmentAPI) GetShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderId")

	if err := a.validate.Var(orderID, "required"); err != nil {
		WriteValidationError(w, err)
		return
	}

	sh, err := a.tracking.GetShipment(ctx, orderID)
	if err != nil {
		a.writeServiceError(ctx, w, err, "failed to get shipment", orderID)
		return
	}
	WriteJSON(w, shipmentToJSON(sh), http.StatusOK)
}

// ListTimeline
// @Summary      Order timeline, newest first
// @Tags         orders
// @Param        orderId  path   string  true   "order id"
// @Param        limit    query  int     false  "default 100, max 500"
// @Param        offset   query  int     false  "offset"
// @Success      200  {object}  TimelineResponse
// @Router       /v1/orders/{orderId}/timeline [get]
func (a *FulfillmentAPI) ListTimeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderId")

	limit, err1 := queryInt(r, "limit")
	offset, err2 := queryInt(r, "offset")
	if err1 != nil || err2 != nil || limit < 0 || offset < 0 {
		WriteJSON(w, ValidationErrorResponse{
			Message: "invalid request",
			Fields:  map[string]string{"limit/offset": "must be non-negative integers"},
		}, http.StatusBadRequest)
		return
	}

	evs, err := a.tracking.ListTimeline(ctx, orderID, limit, offset)
	if err != nil {
		a.writeServiceError(ctx, w, err, "failed to list timeline", orderID)
		return
	}
	WriteJSON(w, timelineToJSON(evs), http.StatusOK)
}

// DownloadLabel
// @Summary      Download a stored label
// @Tags         labels
// @Param        key  path  string  true  "label key"
// @Success      200
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/labels/{key} [get]
func (a *FulfillmentAPI) DownloadLabel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "*")
	if key == "" {
		WriteError(w, "label not found", http.StatusNotFound)
		return
	}

	data, contentType, err := a.files.GetBinary(ctx, key)
	if err != nil {
		a.writeServiceError(ctx, w, err, "failed to read label", key)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *FulfillmentAPI) writeServiceError(ctx context.Context, w http.ResponseWriter, err error, msg, ref string) {
	switch {
	case models.IsValidation(err):
		WriteValidationError(w, err)
	case errors.Is(err, models.ErrNotFound):
		WriteError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrLabelAlreadyPurchased):
		WriteError(w, err.Error(), http.StatusConflict)
	default:
		var ae *carrier.AdapterError
		if errors.As(err, &ae) {
			a.logger.WarnContext(ctx, msg, slog.Any("error", err), slog.String("ref", ref))
			if ae.Retryable {
				WriteError(w, "carrier unavailable", http.StatusBadGateway)
			} else {
				WriteError(w, "carrier rejected request", http.StatusUnprocessableEntity)
			}
			return
		}
		a.logger.ErrorContext(ctx, msg, slog.Any("error", err), slog.String("ref", ref))
		WriteError(w, "internal server error", http.StatusInternalServerError)
	}
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
