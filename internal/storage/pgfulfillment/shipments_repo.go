package pgfulfillment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var shipmentColumns = []string{
	"s.id", "s.order_id", "s.tracking_number", "s.carrier", "s.service_level", "s.provider",
	"s.status", "s.tracking_status", "s.tracking_status_detail",
	"s.tracking_last_event_at", "s.tracking_last_checked_at", "s.tracking_next_check_at",
	"s.tracking_url", "s.tracking_subscription_id",
	"s.label_url", "s.label_key", "s.label_cost", "s.label_currency", "s.label_purchased_at",
	"s.payout_released_at",
	"s.created_at", "s.updated_at",
}

func shipmentDest(sh *models.Shipment) []any {
	return []any{
		&sh.ID, &sh.OrderID, &sh.TrackingNumber, &sh.Carrier, &sh.ServiceLevel, &sh.Provider,
		&sh.Status, &sh.TrackingStatus, &sh.TrackingStatusDetail,
		&sh.TrackingLastEventAt, &sh.TrackingLastCheckedAt, &sh.TrackingNextCheckAt,
		&sh.TrackingURL, &sh.TrackingSubscriptionID,
		&sh.LabelURL, &sh.LabelKey, &sh.LabelCost, &sh.LabelCurrency, &sh.LabelPurchasedAt,
		&sh.PayoutReleasedAt,
		&sh.CreatedAt, &sh.UpdatedAt,
	}
}

func (s *Storage) getShipment(ctx context.Context, where sq.Sqlizer) (*models.Shipment, error) {
	query, args, err := psql.Select(shipmentColumns...).From("shipments s").Where(where).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}

	var sh models.Shipment
	err = s.db.QueryRow(ctx, query, args...).Scan(shipmentDest(&sh)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrShipmentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return &sh, nil
}

func (s *Storage) GetShipmentByID(ctx context.Context, id uint64) (*models.Shipment, error) {
	return s.getShipment(ctx, sq.Eq{"s.id": id})
}

func (s *Storage) GetShipmentByOrderID(ctx context.Context, orderID string) (*models.Shipment, error) {
	return s.getShipment(ctx, sq.Eq{"s.order_id": orderID})
}

// GetShipmentByTrackingNumber joins the shipment with its order counterparties.
func (s *Storage) GetShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*models.ShipmentWithOrder, error) {
	cols := append(append([]string{}, shipmentColumns...), "o.buyer_id", "o.seller_id")
	query, args, err := psql.Select(cols...).
		From("shipments s").
		Join("orders o ON o.id = s.order_id").
		Where(sq.Eq{"s.tracking_number": trackingNumber}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}

	var out models.ShipmentWithOrder
	dest := append(shipmentDest(&out.Shipment), &out.BuyerID, &out.SellerID)
	err = s.db.QueryRow(ctx, query, args...).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrShipmentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment by tracking number")
	}
	return &out, nil
}

type LabelUpsert struct {
	OrderID        string
	TrackingNumber string
	Carrier        string
	ServiceLevel   string
	Provider       string
	TrackingURL    string
	LabelURL       string
	LabelKey       string
	LabelCost      int64
	LabelCurrency  string
	PurchasedAt    time.Time
	NextCheckAt    time.Time
}

// UpsertShipmentLabel creates the shipment for an order (or fills in a
// pre-created one) in PREPARING / LABEL_PURCHASED. An order whose shipment
// already carries a tracking number is rejected with ErrLabelAlreadyPurchased.
func (s *Storage) UpsertShipmentLabel(ctx context.Context, in LabelUpsert) (*models.Shipment, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO shipments (
  order_id, tracking_number, carrier, service_level, provider,
  status, tracking_status, tracking_status_detail,
  tracking_next_check_at, tracking_url,
  label_url, label_key, label_cost, label_currency, label_purchased_at,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,'',$8,NULLIF($9,''),$10,$11,$12,$13,$14,$14,$14)
ON CONFLICT (order_id) DO UPDATE SET
  tracking_number = EXCLUDED.tracking_number,
  carrier = EXCLUDED.carrier,
  service_level = EXCLUDED.service_level,
  provider = EXCLUDED.provider,
  status = EXCLUDED.status,
  tracking_status = EXCLUDED.tracking_status,
  tracking_next_check_at = EXCLUDED.tracking_next_check_at,
  tracking_url = EXCLUDED.tracking_url,
  label_url = EXCLUDED.label_url,
  label_key = EXCLUDED.label_key,
  label_cost = EXCLUDED.label_cost,
  label_currency = EXCLUDED.label_currency,
  label_purchased_at = EXCLUDED.label_purchased_at,
  updated_at = EXCLUDED.updated_at
WHERE shipments.tracking_number IS NULL
RETURNING id
`,
		in.OrderID, in.TrackingNumber, in.Carrier, in.ServiceLevel, in.Provider,
		models.ShipmentStatusPreparing, models.TrackingStatusLabelPurchased,
		in.NextCheckAt.UTC(), in.TrackingURL,
		in.LabelURL, in.LabelKey, in.LabelCost, in.LabelCurrency, in.PurchasedAt.UTC(),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrLabelAlreadyPurchased
	}
	if err != nil {
		return nil, errors.Wrap(err, "upsert shipment label")
	}
	return s.GetShipmentByID(ctx, id)
}

func (s *Storage) SetTrackingSubscription(ctx context.Context, shipmentID uint64, subscriptionID string) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments SET tracking_subscription_id = $2, updated_at = now() WHERE id = $1
`, shipmentID, subscriptionID)
	return errors.Wrap(err, "set tracking subscription")
}

// TrackingUpdate is one reconciled tracking event, ready to persist.
// Empty Carrier / TrackingURL keep the stored values.
type TrackingUpdate struct {
	ShipmentID     uint64
	Status         models.ShipmentStatus
	TrackingStatus models.TrackingStatus
	Detail         string
	OccurredAt     time.Time
	CheckedAt      time.Time
	NextCheckAt    *time.Time
	Carrier        string
	TrackingURL    string

	// RejectStale skips the update when OccurredAt is older than the stored
	// tracking_last_event_at.
	RejectStale bool

	// Timeline is appended in the same transaction when the update is applied.
	Timeline *models.TimelineEvent
}

// ApplyTrackingUpdate persists the update under a row lock so webhook and
// poll updates for one shipment are serialized. applied=false means the
// update was stale and nothing was written.
func (s *Storage) ApplyTrackingUpdate(ctx context.Context, upd TrackingUpdate) (*models.Shipment, bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var lastEventAt *time.Time
	err = tx.QueryRow(ctx, `SELECT tracking_last_event_at FROM shipments WHERE id = $1 FOR UPDATE`, upd.ShipmentID).Scan(&lastEventAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, models.ErrShipmentNotFound
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "lock shipment")
	}

	if upd.RejectStale && lastEventAt != nil && upd.OccurredAt.Before(*lastEventAt) {
		return nil, false, nil
	}

	var nextCheck *time.Time
	if upd.NextCheckAt != nil {
		t := upd.NextCheckAt.UTC()
		nextCheck = &t
	}

	_, err = tx.Exec(ctx, `
UPDATE shipments
SET
  status = $2,
  tracking_status = $3,
  tracking_status_detail = $4,
  tracking_last_event_at = $5,
  tracking_last_checked_at = $6,
  tracking_next_check_at = $7,
  carrier = COALESCE(NULLIF($8, ''), carrier),
  tracking_url = COALESCE(NULLIF($9, ''), tracking_url),
  updated_at = now()
WHERE id = $1
`, upd.ShipmentID, upd.Status, upd.TrackingStatus, upd.Detail,
		upd.OccurredAt.UTC(), upd.CheckedAt.UTC(), nextCheck, upd.Carrier, upd.TrackingURL)
	if err != nil {
		return nil, false, errors.Wrap(err, "update shipment tracking")
	}

	if upd.Timeline != nil {
		if err := insertTimeline(ctx, tx, upd.Timeline); err != nil {
			return nil, false, err
		}
	}

	query, args, err := psql.Select(shipmentColumns...).From("shipments s").Where(sq.Eq{"s.id": upd.ShipmentID}).ToSql()
	if err != nil {
		return nil, false, errors.Wrap(err, "build query")
	}
	var sh models.Shipment
	if err := tx.QueryRow(ctx, query, args...).Scan(shipmentDest(&sh)...); err != nil {
		return nil, false, errors.Wrap(err, "reload shipment")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, errors.Wrap(err, "commit tx")
	}
	return &sh, true, nil
}

// TouchTrackingCheck records a poll that produced no state change.
// Terminal shipments are left alone.
func (s *Storage) TouchTrackingCheck(ctx context.Context, shipmentID uint64, checkedAt, nextCheckAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments
SET tracking_last_checked_at = $2, tracking_next_check_at = $3, updated_at = now()
WHERE id = $1 AND status NOT IN ($4, $5)
`, shipmentID, checkedAt.UTC(), nextCheckAt.UTC(), models.ShipmentStatusDelivered, models.ShipmentStatusLost)
	return errors.Wrap(err, "touch tracking check")
}

// MarkPayoutReleased фиксирует подтверждённую выплату продавцу. Повторный
// вызов не сдвигает исходную отметку.
func (s *Storage) MarkPayoutReleased(ctx context.Context, shipmentID uint64, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE shipments
SET payout_released_at = COALESCE(payout_released_at, $2), updated_at = now()
WHERE id = $1
`, shipmentID, at.UTC())
	if err != nil {
		return errors.Wrap(err, "mark payout released")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrShipmentNotFound
	}
	return nil
}

// ClaimOverdueShipments выбирает отправления, чей опрос просрочен (очередь
// потеряла задачу), и сдвигает next_check на lease, чтобы другой воркер их не взял.
// DELIVERED без подтверждённой выплаты тоже попадают сюда: next_check у них
// NULL, поэтому lease ставится через tracking_last_checked_at.
// Использует SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimOverdueShipments(ctx context.Context, dueBefore time.Time, limit int, lease time.Duration) ([]*models.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	overdue := sq.And{
		sq.LtOrEq{"s.tracking_next_check_at": dueBefore.UTC()},
		sq.NotEq{"s.status": []string{string(models.ShipmentStatusDelivered), string(models.ShipmentStatusLost)}},
	}
	payoutPending := sq.And{
		sq.Eq{"s.status": models.ShipmentStatusDelivered},
		sq.Eq{"s.payout_released_at": nil},
		sq.Or{
			sq.Eq{"s.tracking_last_checked_at": nil},
			sq.LtOrEq{"s.tracking_last_checked_at": dueBefore.Add(-lease).UTC()},
		},
	}
	query, args, err := psql.Select(shipmentColumns...).
		From("shipments s").
		Where(sq.NotEq{"s.tracking_number": nil}).
		Where(sq.Or{overdue, payoutPending}).
		OrderBy("s.tracking_next_check_at ASC NULLS LAST", "s.id ASC").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select overdue shipments")
	}
	var picked []*models.Shipment
	for rows.Next() {
		var sh models.Shipment
		if err := rows.Scan(shipmentDest(&sh)...); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan overdue shipment")
		}
		picked = append(picked, &sh)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	now := time.Now().UTC()
	leaseUntil := now.Add(lease)
	for _, sh := range picked {
		if sh.PayoutPending() {
			// CHECK запрещает next_check у DELIVERED
			if _, err := tx.Exec(ctx, `UPDATE shipments SET tracking_last_checked_at = $2, updated_at = now() WHERE id = $1`, sh.ID, now); err != nil {
				return nil, errors.Wrap(err, "lease shipment")
			}
			t := now
			sh.TrackingLastCheckedAt = &t
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE shipments SET tracking_next_check_at = $2, updated_at = now() WHERE id = $1`, sh.ID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease shipment")
		}
		t := leaseUntil
		sh.TrackingNextCheckAt = &t
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func payloadOrNil(p json.RawMessage) any {
	if len(p) == 0 {
		return nil
	}
	return p
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
