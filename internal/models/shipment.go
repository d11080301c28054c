package models

import "time"

// ShipmentStatus: грубый доменный статус отправления.
type ShipmentStatus string

const (
	ShipmentStatusPreparing ShipmentStatus = "PREPARING"
	ShipmentStatusShipped   ShipmentStatus = "SHIPPED"
	ShipmentStatusDelivered ShipmentStatus = "DELIVERED"
	ShipmentStatusReturned  ShipmentStatus = "RETURNED"
	ShipmentStatusLost      ShipmentStatus = "LOST"
)

// MapTrackingToShipmentStatus derives the coarse shipment status from a
// carrier tracking status. Unknown values map to PREPARING.
func MapTrackingToShipmentStatus(s TrackingStatus) ShipmentStatus {
	switch s {
	case TrackingStatusLabelPurchased:
		return ShipmentStatusPreparing
	case TrackingStatusInTransit, TrackingStatusOutForDelivery:
		return ShipmentStatusShipped
	case TrackingStatusDelivered:
		return ShipmentStatusDelivered
	case TrackingStatusException:
		return ShipmentStatusLost
	default:
		return ShipmentStatusPreparing
	}
}

type Shipment struct {
	ID             uint64
	OrderID        string
	TrackingNumber *string
	Carrier        string
	ServiceLevel   string
	Provider       string

	Status               ShipmentStatus
	TrackingStatus       TrackingStatus
	TrackingStatusDetail string

	TrackingLastEventAt   *time.Time
	TrackingLastCheckedAt *time.Time
	TrackingNextCheckAt   *time.Time

	TrackingURL            *string
	TrackingSubscriptionID *string

	LabelURL         *string
	LabelKey         *string
	LabelCost        int64
	LabelCurrency    string
	LabelPurchasedAt *time.Time

	// PayoutReleasedAt is set once escrow confirmed the release for a
	// DELIVERED shipment.
	PayoutReleasedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PayoutPending reports a delivered shipment whose payout was not confirmed yet.
func (s *Shipment) PayoutPending() bool {
	return s.Status == ShipmentStatusDelivered && s.PayoutReleasedAt == nil
}

// ShipmentWithOrder is a shipment joined with its order counterparties.
type ShipmentWithOrder struct {
	Shipment
	BuyerID  string
	SellerID string
}
