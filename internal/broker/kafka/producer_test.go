package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/BearBump/FulfillBox/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	last []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.last = append([]kafka.Message{}, msgs...)
	return w.err
}

func TestProducer_Publish(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw)

	require.NoError(t, p.Publish(context.Background(), "t", []byte("k"), []byte("v")))
	require.Len(t, fw.last, 1)
	require.Equal(t, "t", fw.last[0].Topic)
	require.Equal(t, []byte("k"), fw.last[0].Key)
	require.Equal(t, []byte("v"), fw.last[0].Value)
	require.NoError(t, p.Close())
}

func TestNotifier_SendNotification(t *testing.T) {
	fw := &fakeWriter{}
	n := NewNotifier(newProducerWithWriter(fw), "order.notifications")

	err := n.SendNotification(context.Background(), "buyer-1", "ORDER_UPDATE", messages.OrderUpdatePayload{
		OrderID: "ord-1", Status: "DELIVERED", TrackingNumber: "TRACK123", Detail: "Left at door",
	})
	require.NoError(t, err)
	require.Len(t, fw.last, 1)
	require.Equal(t, "order.notifications", fw.last[0].Topic)
	require.Equal(t, []byte("buyer-1"), fw.last[0].Key)

	var msg messages.OrderNotification
	require.NoError(t, json.Unmarshal(fw.last[0].Value, &msg))
	require.NotEmpty(t, msg.ID)
	require.Equal(t, "buyer-1", msg.UserID)
	require.Equal(t, "ORDER_UPDATE", msg.Type)
	require.JSONEq(t, `{"orderId":"ord-1","status":"DELIVERED","trackingNumber":"TRACK123","detail":"Left at door"}`, string(msg.Payload))
}
