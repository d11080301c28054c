package carrier

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
)

// Порядок важен: первая подходящая подстрока побеждает.
var statusRules = []struct {
	needles []string
	status  models.TrackingStatus
}{
	{[]string{"out_for_delivery"}, models.TrackingStatusOutForDelivery},
	{[]string{"in_transit", "transit"}, models.TrackingStatusInTransit},
	{[]string{"label", "purchased", "created"}, models.TrackingStatusLabelPurchased},
	{[]string{"deliver"}, models.TrackingStatusDelivered},
	{[]string{"exception", "failed", "return"}, models.TrackingStatusException},
}

// NormalizeStatus maps a provider status string onto the canonical tracking
// status with a case-insensitive substring match. Spaces and dashes are folded
// into underscores first so "Out for delivery" matches "out_for_delivery".
func NormalizeStatus(raw string) models.TrackingStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	if s == "" {
		return models.TrackingStatusUnknown
	}
	for _, r := range statusRules {
		for _, n := range r.needles {
			if strings.Contains(s, n) {
				return r.status
			}
		}
	}
	return models.TrackingStatusUnknown
}

var trackingEventTypes = map[string]struct{}{
	"tracking.updated": {},
	"tracking_updated": {},
	"track_updated":    {},
	"tracker.updated":  {},
	"tracker.created":  {},
}

// webhookEnvelope covers the payload shapes we accept: our canonical one,
// "event"+"data" (track_updated style) and "description"+"result" (tracker.updated style).
type webhookEnvelope struct {
	Type           string         `json:"type"`
	Event          string         `json:"event"`
	Description    string         `json:"description"`
	TrackingNumber string         `json:"trackingNumber"`
	Carrier        string         `json:"carrier"`
	Status         string         `json:"status"`
	Detail         string         `json:"detail"`
	OccurredAt     string         `json:"occurredAt"`
	TrackingURL    string         `json:"trackingUrl"`
	Data           *dataPayload   `json:"data"`
	Result         *resultPayload `json:"result"`
}

type dataPayload struct {
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
	TrackingURL    string `json:"tracking_url_provider"`
	TrackingStatus *struct {
		Status        string `json:"status"`
		StatusDetails string `json:"status_details"`
		StatusDate    string `json:"status_date"`
	} `json:"tracking_status"`
}

type resultPayload struct {
	TrackingCode    string `json:"tracking_code"`
	Carrier         string `json:"carrier"`
	Status          string `json:"status"`
	StatusDetail    string `json:"status_detail"`
	PublicURL       string `json:"public_url"`
	UpdatedAt       string `json:"updated_at"`
	TrackingDetails []struct {
		Message  string `json:"message"`
		Status   string `json:"status"`
		Datetime string `json:"datetime"`
	} `json:"tracking_details"`
}

// ParseWebhookPayload never fails: anything it cannot recognise comes back as
// an event of type unknown.
func ParseWebhookPayload(payload json.RawMessage) WebhookEvent {
	ev := WebhookEvent{Type: WebhookEventUnknown, Raw: payload}

	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return ev
	}

	kind := firstNonEmpty(env.Type, env.Event, env.Description)
	if _, ok := trackingEventTypes[strings.ToLower(kind)]; !ok {
		return ev
	}
	ev.Type = WebhookEventTrackingUpdated

	var rawStatus, occurred string
	switch {
	case env.Data != nil:
		d := env.Data
		ev.TrackingNumber = d.TrackingNumber
		ev.Carrier = d.Carrier
		ev.TrackingURL = d.TrackingURL
		if d.TrackingStatus != nil {
			rawStatus = d.TrackingStatus.Status
			ev.Detail = d.TrackingStatus.StatusDetails
			occurred = d.TrackingStatus.StatusDate
		}
	case env.Result != nil:
		r := env.Result
		ev.TrackingNumber = r.TrackingCode
		ev.Carrier = r.Carrier
		ev.TrackingURL = r.PublicURL
		rawStatus = r.Status
		ev.Detail = r.StatusDetail
		occurred = r.UpdatedAt
		if n := len(r.TrackingDetails); n > 0 {
			last := r.TrackingDetails[n-1]
			if last.Message != "" {
				ev.Detail = last.Message
			}
			if last.Datetime != "" {
				occurred = last.Datetime
			}
		}
	default:
		ev.TrackingNumber = env.TrackingNumber
		ev.Carrier = env.Carrier
		ev.TrackingURL = env.TrackingURL
		ev.Detail = env.Detail
		rawStatus = env.Status
		occurred = env.OccurredAt
	}

	if strings.TrimSpace(rawStatus) != "" {
		ev.Status = NormalizeStatus(rawStatus)
	}
	ev.OccurredAt = parseTime(occurred)
	ev.TrackingNumber = strings.TrimSpace(ev.TrackingNumber)
	return ev
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
