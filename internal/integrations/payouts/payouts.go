// Package payouts describes the escrow payout collaborator.
package payouts

import (
	"context"
	"time"
)

// StatusReleased is reported when escrow confirmed the release without a body.
const StatusReleased = "RELEASED"

type Payout struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"orderId"`
	Status     string    `json:"status"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	ReleasedAt time.Time `json:"releasedAt"`
}

// Releaser releases the escrowed funds for an order to the seller.
// Implementations must be idempotent: releasing an already released payout
// returns the existing payout.
type Releaser interface {
	ReleasePayoutForOrder(ctx context.Context, orderID string) (*Payout, error)
}
