package messages

import (
	"encoding/json"
	"time"
)

// OrderNotification is published to the notifications topic; the delivery
// service turns it into email/push for the user.
type OrderNotification struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// OrderUpdatePayload is the payload of ORDER_UPDATE notifications.
type OrderUpdatePayload struct {
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
	TrackingNumber string `json:"trackingNumber"`
	Detail         string `json:"detail"`
}

// LabelPurchasedPayload is the payload of LABEL_PURCHASED notifications.
type LabelPurchasedPayload struct {
	OrderID        string `json:"orderId"`
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier"`
	TrackingURL    string `json:"trackingUrl,omitempty"`
}
