package escrowhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/FulfillBox/internal/integrations/payouts"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ReleasePayoutForOrder calls POST /v1/orders/{id}/payout/release.
// Idempotency-Key is derived from the order id, so a webhook and a poll that
// both see DELIVERED end up with one release on the escrow side. 409 means
// already released and is decoded like a success; an empty body on 409 or
// 2xx still counts as released.
func (c *Client) ReleasePayoutForOrder(ctx context.Context, orderID string) (*payouts.Payout, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/v1/orders/%s/payout/release", url.PathEscape(orderID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", "payout-release:"+orderID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusConflict {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("escrow http %d: %s", resp.StatusCode, msg)
	}

	var p payouts.Payout
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		if !errors.Is(err, io.EOF) {
			return nil, errors.Wrap(err, "decode")
		}
		p.Status = payouts.StatusReleased
	}
	if p.OrderID == "" {
		p.OrderID = orderID
	}
	return &p, nil
}
