package fulfillment_api

import (
	"encoding/json"
	"time"

	"github.com/BearBump/FulfillBox/internal/integrations/carrier"
	"github.com/BearBump/FulfillBox/internal/models"
)

// QuoteRatesRequest
// swagger:model QuoteRatesRequest
type QuoteRatesRequest struct {
	OrderID  string         `json:"orderId" validate:"required"`
	SellerID string         `json:"sellerId,omitempty"`
	Parcel   *models.Parcel `json:"parcel" validate:"required"`
}

type QuoteRatesResponse struct {
	Rates []carrier.RateQuote `json:"rates"`
}

// PurchaseLabelRequest
// swagger:model PurchaseLabelRequest
type PurchaseLabelRequest struct {
	OrderID     string         `json:"orderId" validate:"required"`
	SellerID    string         `json:"sellerId,omitempty"`
	RateID      string         `json:"rateId" validate:"required"`
	Parcel      *models.Parcel `json:"parcel" validate:"required"`
	LabelFormat string         `json:"labelFormat" validate:"omitempty,oneof=PDF PNG ZPL pdf png zpl"`
}

// PurchaseLabelResponse keeps the flat label summary at the top level and
// the full shipment alongside it.
type PurchaseLabelResponse struct {
	ShipmentID     uint64   `json:"shipmentId"`
	TrackingNumber string   `json:"trackingNumber"`
	Carrier        string   `json:"carrier"`
	Service        string   `json:"service"`
	LabelURL       string   `json:"labelUrl"`
	Amount         int64    `json:"amount"`
	Currency       string   `json:"currency"`
	Shipment       Shipment `json:"shipment"`
}

func purchaseToJSON(sh *models.Shipment) PurchaseLabelResponse {
	out := PurchaseLabelResponse{
		ShipmentID: sh.ID,
		Carrier:    sh.Carrier,
		Service:    sh.ServiceLevel,
		Amount:     sh.LabelCost,
		Currency:   sh.LabelCurrency,
		Shipment:   shipmentToJSON(sh),
	}
	if sh.TrackingNumber != nil {
		out.TrackingNumber = *sh.TrackingNumber
	}
	if sh.LabelURL != nil {
		out.LabelURL = *sh.LabelURL
	}
	return out
}

type WebhookResponse struct {
	Received bool `json:"received"`
	Applied  bool `json:"applied"`
}

type Shipment struct {
	ID                     uint64     `json:"id"`
	OrderID                string     `json:"orderId"`
	TrackingNumber         *string    `json:"trackingNumber,omitempty"`
	Carrier                string     `json:"carrier,omitempty"`
	ServiceLevel           string     `json:"serviceLevel,omitempty"`
	Status                 string     `json:"status"`
	TrackingStatus         string     `json:"trackingStatus"`
	TrackingStatusDetail   string     `json:"trackingStatusDetail,omitempty"`
	TrackingLastEventAt    *time.Time `json:"trackingLastEventAt,omitempty"`
	TrackingLastCheckedAt  *time.Time `json:"trackingLastCheckedAt,omitempty"`
	TrackingNextCheckAt    *time.Time `json:"trackingNextCheckAt,omitempty"`
	TrackingURL            *string    `json:"trackingUrl,omitempty"`
	TrackingSubscriptionID *string    `json:"trackingSubscriptionId,omitempty"`
	LabelURL               *string    `json:"labelUrl,omitempty"`
	LabelCost              int64      `json:"labelCost,omitempty"`
	LabelCurrency          string     `json:"labelCurrency,omitempty"`
	LabelPurchasedAt       *time.Time `json:"labelPurchasedAt,omitempty"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

func shipmentToJSON(sh *models.Shipment) Shipment {
	return Shipment{
		ID:                     sh.ID,
		OrderID:                sh.OrderID,
		TrackingNumber:         sh.TrackingNumber,
		Carrier:                sh.Carrier,
		ServiceLevel:           sh.ServiceLevel,
		Status:                 string(sh.Status),
		TrackingStatus:         string(sh.TrackingStatus),
		TrackingStatusDetail:   sh.TrackingStatusDetail,
		TrackingLastEventAt:    sh.TrackingLastEventAt,
		TrackingLastCheckedAt:  sh.TrackingLastCheckedAt,
		TrackingNextCheckAt:    sh.TrackingNextCheckAt,
		TrackingURL:            sh.TrackingURL,
		TrackingSubscriptionID: sh.TrackingSubscriptionID,
		LabelURL:               sh.LabelURL,
		LabelCost:              sh.LabelCost,
		LabelCurrency:          sh.LabelCurrency,
		LabelPurchasedAt:       sh.LabelPurchasedAt,
		UpdatedAt:              sh.UpdatedAt,
	}
}

type TimelineEvent struct {
	ID        uint64          `json:"id"`
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Source    string          `json:"source,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type TimelineResponse struct {
	Events []TimelineEvent `json:"events"`
}

func timelineToJSON(evs []*models.TimelineEvent) TimelineResponse {
	out := TimelineResponse{Events: make([]TimelineEvent, 0, len(evs))}
	for _, e := range evs {
		out.Events = append(out.Events, TimelineEvent{
			ID:        e.ID,
			Type:      e.Type,
			Message:   e.Message,
			Source:    e.Source,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}
