package pgfulfillment

import (
	"context"
	"encoding/json"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) GetOrderForFulfillment(ctx context.Context, orderID string) (*models.Order, error) {
	var (
		o    models.Order
		addr []byte
	)
	err := s.db.QueryRow(ctx, `
SELECT id, buyer_id, seller_id, shipping_address, created_at
FROM orders
WHERE id = $1
`, orderID).Scan(&o.ID, &o.BuyerID, &o.SellerID, &addr, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}

	if len(addr) > 0 {
		var a models.Address
		if err := json.Unmarshal(addr, &a); err != nil {
			return nil, errors.Wrap(err, "decode shipping address")
		}
		o.ShippingAddress = &a
	}
	return &o, nil
}

// GetSellerDefaultAddress returns nil, nil when the seller has no default address.
func (s *Storage) GetSellerDefaultAddress(ctx context.Context, sellerID string) (*models.Address, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `
SELECT address
FROM seller_shipping_addresses
WHERE seller_id = $1 AND is_default
`, sellerID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select seller address")
	}

	var a models.Address
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, errors.Wrap(err, "decode seller address")
	}
	return &a, nil
}

// SaveOrder upserts the order projection. The order service owns orders;
// this is how its events land here.
func (s *Storage) SaveOrder(ctx context.Context, o *models.Order) error {
	var addr []byte
	if o.ShippingAddress != nil {
		b, err := json.Marshal(o.ShippingAddress)
		if err != nil {
			return errors.Wrap(err, "encode shipping address")
		}
		addr = b
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO orders (id, buyer_id, seller_id, shipping_address, created_at)
VALUES ($1, $2, $3, $4, COALESCE($5, now()))
ON CONFLICT (id) DO UPDATE SET
  buyer_id = EXCLUDED.buyer_id,
  seller_id = EXCLUDED.seller_id,
  shipping_address = EXCLUDED.shipping_address
`, o.ID, o.BuyerID, o.SellerID, addr, nullTime(o.CreatedAt))
	return errors.Wrap(err, "upsert order")
}

// SetSellerDefaultAddress replaces the seller's default from-address.
func (s *Storage) SetSellerDefaultAddress(ctx context.Context, sellerID string, a models.Address) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "encode seller address")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE seller_shipping_addresses SET is_default = false WHERE seller_id = $1 AND is_default`, sellerID); err != nil {
		return errors.Wrap(err, "reset default address")
	}
	if _, err := tx.Exec(ctx, `INSERT INTO seller_shipping_addresses (seller_id, address, is_default) VALUES ($1, $2, true)`, sellerID, raw); err != nil {
		return errors.Wrap(err, "insert seller address")
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}
