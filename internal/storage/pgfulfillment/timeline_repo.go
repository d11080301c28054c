package pgfulfillment

import (
	"context"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func insertTimeline(ctx context.Context, tx pgx.Tx, ev *models.TimelineEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	err := tx.QueryRow(ctx, `
INSERT INTO order_timeline_events (order_id, type, message, source, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id
`, ev.OrderID, ev.Type, ev.Message, ev.Source, payloadOrNil(ev.Payload), ev.CreatedAt.UTC()).Scan(&ev.ID)
	return errors.Wrap(err, "insert timeline event")
}

func (s *Storage) AppendTimelineEvent(ctx context.Context, ev *models.TimelineEvent) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertTimeline(ctx, tx, ev); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

// ListTimeline returns the order timeline newest first.
func (s *Storage) ListTimeline(ctx context.Context, orderID string, limit, offset int) ([]*models.TimelineEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query, args, err := psql.Select("id", "order_id", "type", "message", "source", "payload", "created_at").
		From("order_timeline_events").
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select timeline")
	}
	defer rows.Close()

	out := make([]*models.TimelineEvent, 0)
	for rows.Next() {
		var (
			e       models.TimelineEvent
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Type, &e.Message, &e.Source, &payload, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan timeline event")
		}
		if len(payload) > 0 {
			e.Payload = payload
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
