package pgfulfillment

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		// orders принадлежат сервису заказов, здесь только то, что читает фулфилмент.
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  shipping_address JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS seller_shipping_addresses (
  id BIGSERIAL PRIMARY KEY,
  seller_id TEXT NOT NULL,
  address JSONB NOT NULL,
  is_default BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_seller_default_address ON seller_shipping_addresses(seller_id) WHERE is_default`,
		`
CREATE TABLE IF NOT EXISTS shipments (
  id BIGSERIAL PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE REFERENCES orders(id),
  tracking_number TEXT NULL,
  carrier TEXT NOT NULL DEFAULT '',
  service_level TEXT NOT NULL DEFAULT '',
  provider TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  tracking_status TEXT NOT NULL,
  tracking_status_detail TEXT NOT NULL DEFAULT '',
  tracking_last_event_at TIMESTAMPTZ NULL,
  tracking_last_checked_at TIMESTAMPTZ NULL,
  tracking_next_check_at TIMESTAMPTZ NULL,
  tracking_url TEXT NULL,
  tracking_subscription_id TEXT NULL,
  label_url TEXT NULL,
  label_key TEXT NULL,
  label_cost BIGINT NOT NULL DEFAULT 0,
  label_currency TEXT NOT NULL DEFAULT '',
  label_purchased_at TIMESTAMPTZ NULL,
  payout_released_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  CONSTRAINT shipments_terminal_stops_polling
    CHECK (status NOT IN ('DELIVERED', 'LOST') OR tracking_next_check_at IS NULL)
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_shipments_tracking_number ON shipments(tracking_number) WHERE tracking_number IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_next_check_at ON shipments(tracking_next_check_at) WHERE tracking_next_check_at IS NOT NULL`,
		`ALTER TABLE shipments ADD COLUMN IF NOT EXISTS payout_released_at TIMESTAMPTZ NULL`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_payout_pending ON shipments(id) WHERE status = 'DELIVERED' AND payout_released_at IS NULL`,
		`
CREATE TABLE IF NOT EXISTS order_timeline_events (
  id BIGSERIAL PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  type TEXT NOT NULL,
  message TEXT NOT NULL,
  source TEXT NOT NULL DEFAULT '',
  payload JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_timeline_order_created ON order_timeline_events(order_id, created_at DESC, id DESC)`,
		`
CREATE TABLE IF NOT EXISTS binary_objects (
  key TEXT PRIMARY KEY,
  content_type TEXT NOT NULL,
  size BIGINT NOT NULL,
  data BYTEA NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
