package gatewayv1

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/FulfillBox/internal/integrations/carrier"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/pkg/errors"
)

const Name = "gatewayv1"

// Client talks to a REST shipping gateway (rates, labels, tracking subscriptions, tracking).
type Client struct {
	baseURL  string
	apiKey   string
	httpc    *http.Client
	verifier *carrier.SignatureVerifier
}

func New(baseURL, apiKey string, verifier *carrier.SignatureVerifier) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	if verifier == nil {
		verifier = carrier.NewSignatureVerifier("", 0)
	}
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		verifier: verifier,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Name() string { return Name }

type addressDTO struct {
	Name       string `json:"name"`
	Company    string `json:"company,omitempty"`
	Street1    string `json:"street1"`
	Street2    string `json:"street2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

func toAddressDTO(a models.Address) addressDTO {
	return addressDTO{
		Name: a.Name, Company: a.Company, Street1: a.Street1, Street2: a.Street2,
		City: a.City, State: a.State, PostalCode: a.PostalCode, Country: a.Country,
		Phone: a.Phone, Email: a.Email,
	}
}

type parcelDTO struct {
	Length float64 `json:"length_in"`
	Width  float64 `json:"width_in"`
	Height float64 `json:"height_in"`
	Weight float64 `json:"weight_oz"`
}

func toParcelDTO(p models.Parcel) parcelDTO {
	return parcelDTO{Length: p.LengthInches, Width: p.WidthInches, Height: p.HeightInches, Weight: p.WeightOz}
}

type rateDTO struct {
	ID            string `json:"id"`
	Carrier       string `json:"carrier"`
	Service       string `json:"service"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
	EstimatedDays int    `json:"estimated_days"`
}

func (c *Client) QuoteRates(ctx context.Context, from, to models.Address, parcel models.Parcel) ([]carrier.RateQuote, error) {
	req := struct {
		From   addressDTO `json:"from"`
		To     addressDTO `json:"to"`
		Parcel parcelDTO  `json:"parcel"`
	}{toAddressDTO(from), toAddressDTO(to), toParcelDTO(parcel)}

	var resp struct {
		Rates []rateDTO `json:"rates"`
	}
	if _, err := c.do(ctx, "quote rates", http.MethodPost, "/v1/rates", req, &resp); err != nil {
		return nil, err
	}

	out := make([]carrier.RateQuote, 0, len(resp.Rates))
	for _, r := range resp.Rates {
		out = append(out, carrier.RateQuote{
			ID:            r.ID,
			Carrier:       r.Carrier,
			Service:       r.Service,
			Amount:        r.AmountMinor,
			Currency:      r.Currency,
			EstimatedDays: r.EstimatedDays,
		})
	}
	return out, nil
}

type labelResp struct {
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
	Service        string `json:"service"`
	TrackingURL    string `json:"tracking_url"`
	LabelBase64    string `json:"label_base64"`
	LabelFormat    string `json:"label_format"`
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	Reference      string `json:"provider_reference"`
}

func (c *Client) PurchaseLabel(ctx context.Context, in carrier.PurchaseLabelInput) (*carrier.PurchasedLabel, error) {
	format := in.Format
	if format == "" {
		format = carrier.LabelFormatPDF
	}
	req := struct {
		RateID    string     `json:"rate_id"`
		From      addressDTO `json:"from"`
		To        addressDTO `json:"to"`
		Parcel    parcelDTO  `json:"parcel"`
		Format    string     `json:"label_format"`
		Reference string     `json:"reference,omitempty"`
	}{in.RateID, toAddressDTO(in.From), toAddressDTO(in.To), toParcelDTO(in.Parcel), string(format), in.Reference}

	var resp labelResp
	if _, err := c.do(ctx, "purchase label", http.MethodPost, "/v1/labels", req, &resp); err != nil {
		return nil, err
	}
	if resp.TrackingNumber == "" {
		return nil, carrier.NewAdapterError("purchase label", 0, errors.New("empty tracking number in response"))
	}
	raw, err := base64.StdEncoding.DecodeString(resp.LabelBase64)
	if err != nil {
		return nil, carrier.NewAdapterError("purchase label", 0, errors.Wrap(err, "decode label"))
	}
	if resp.LabelFormat != "" {
		format = carrier.LabelFormat(resp.LabelFormat)
	}

	return &carrier.PurchasedLabel{
		TrackingNumber:    resp.TrackingNumber,
		Carrier:           resp.Carrier,
		Service:           resp.Service,
		TrackingURL:       resp.TrackingURL,
		LabelBytes:        raw,
		LabelFormat:       format,
		Amount:            resp.AmountMinor,
		Currency:          resp.Currency,
		ProviderReference: resp.Reference,
	}, nil
}

func (c *Client) SubscribeTracking(ctx context.Context, trackingNumber, carrierCode, reference string) (*carrier.Subscription, error) {
	req := struct {
		TrackingNumber string `json:"tracking_number"`
		Carrier        string `json:"carrier,omitempty"`
		Reference      string `json:"reference,omitempty"`
	}{trackingNumber, carrierCode, reference}

	var resp struct {
		ID string `json:"id"`
	}
	if _, err := c.do(ctx, "subscribe tracking", http.MethodPost, "/v1/tracking/subscriptions", req, &resp); err != nil {
		return nil, err
	}
	return &carrier.Subscription{ID: resp.ID}, nil
}

type trackingResp struct {
	Status       string     `json:"status"`
	StatusDetail string     `json:"status_detail"`
	StatusAt     *time.Time `json:"status_at"`
	TrackingURL  string     `json:"tracking_url"`
	Carrier      string     `json:"carrier"`
}

// FetchTrackingStatus returns (nil, nil) on 204 and 404: the gateway has
// nothing for this number yet.
func (c *Client) FetchTrackingStatus(ctx context.Context, trackingNumber, carrierCode string) (*carrier.TrackingStatusResponse, error) {
	if carrierCode == "" {
		carrierCode = "auto"
	}
	path := fmt.Sprintf("/v1/tracking/%s/%s", url.PathEscape(carrierCode), url.PathEscape(trackingNumber))

	var resp trackingResp
	code, err := c.do(ctx, "fetch tracking", http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, err
	}
	if code == http.StatusNoContent || code == http.StatusNotFound || resp.Status == "" {
		return nil, nil
	}

	var at *time.Time
	if resp.StatusAt != nil {
		t := resp.StatusAt.UTC()
		at = &t
	}
	return &carrier.TrackingStatusResponse{
		Status:      carrier.NormalizeStatus(resp.Status),
		StatusRaw:   resp.Status,
		Detail:      resp.StatusDetail,
		OccurredAt:  at,
		TrackingURL: resp.TrackingURL,
		Carrier:     resp.Carrier,
	}, nil
}

func (c *Client) VerifyWebhookSignature(rawBody []byte, signature, timestamp string) bool {
	return c.verifier.Verify(rawBody, signature, timestamp)
}

func (c *Client) ParseWebhookEvent(payload json.RawMessage) carrier.WebhookEvent {
	return carrier.ParseWebhookPayload(payload)
}

// do sends a JSON request and decodes a 2xx JSON response into out.
// 404 is returned as a status code, not an error; callers decide what it means.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (int, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return 0, errors.Wrap(err, "parse base url")
	}
	u.Path = path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return 0, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, carrier.NewAdapterError(op, 0, errors.Wrap(err, "do request"))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || (resp.StatusCode == http.StatusNotFound && method == http.MethodGet) {
		return resp.StatusCode, nil
	}
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, carrier.NewAdapterError(op, resp.StatusCode, errors.Errorf("gateway: %s", bytes.TrimSpace(msg)))
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, carrier.NewAdapterError(op, 0, errors.Wrap(err, "decode"))
	}
	return resp.StatusCode, nil
}
