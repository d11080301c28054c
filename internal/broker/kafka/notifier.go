package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/FulfillBox/internal/broker/messages"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Notifier отправляет уведомления пользователям через kafka.
// Messages are keyed by user id so one user's notifications stay ordered.
type Notifier struct {
	p     publisher
	topic string
	now   func() time.Time
}

func NewNotifier(p publisher, topic string) *Notifier {
	return &Notifier{p: p, topic: topic, now: func() time.Time { return time.Now().UTC() }}
}

func (n *Notifier) SendNotification(ctx context.Context, userID, notificationType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal notification payload")
	}
	msg := messages.OrderNotification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      notificationType,
		Payload:   body,
		CreatedAt: n.now(),
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}
	return n.p.Publish(ctx, n.topic, []byte(userID), value)
}
