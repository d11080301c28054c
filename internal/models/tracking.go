package models

import (
	"strings"
	"time"
)

// TrackingStatus: детальный статус перевозчика.
type TrackingStatus string

const (
	TrackingStatusUnknown        TrackingStatus = "UNKNOWN"
	TrackingStatusLabelPurchased TrackingStatus = "LABEL_PURCHASED"
	TrackingStatusInTransit      TrackingStatus = "IN_TRANSIT"
	TrackingStatusOutForDelivery TrackingStatus = "OUT_FOR_DELIVERY"
	TrackingStatusDelivered      TrackingStatus = "DELIVERED"
	TrackingStatusException      TrackingStatus = "EXCEPTION"
)

// AllTrackingStatuses lists every tracking status in lifecycle order.
var AllTrackingStatuses = []TrackingStatus{
	TrackingStatusUnknown,
	TrackingStatusLabelPurchased,
	TrackingStatusInTransit,
	TrackingStatusOutForDelivery,
	TrackingStatusDelivered,
	TrackingStatusException,
}

func (s TrackingStatus) Valid() bool {
	for _, v := range AllTrackingStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether polling must stop once this status is observed.
func (s TrackingStatus) Terminal() bool {
	return s == TrackingStatusDelivered || s == TrackingStatusException
}

// Humanize turns "OUT_FOR_DELIVERY" into "out for delivery".
func (s TrackingStatus) Humanize() string {
	return strings.ToLower(strings.ReplaceAll(string(s), "_", " "))
}

type TrackingSource string

const (
	TrackingSourceWebhook TrackingSource = "webhook"
	TrackingSourcePoller  TrackingSource = "poller"
)

// TimelineLabel is the prefix used in order timeline entries.
func (s TrackingSource) TimelineLabel() string {
	if s == TrackingSourceWebhook {
		return "Webhook"
	}
	return "Polling"
}

// TrackingEvent is a canonical tracking update, regardless of whether it came
// from a carrier webhook or from polling. Not persisted on its own.
type TrackingEvent struct {
	Status      TrackingStatus
	Detail      string
	OccurredAt  time.Time
	TrackingURL string
	Carrier     string
	Source      TrackingSource
}
