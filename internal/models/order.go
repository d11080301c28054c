package models

import (
	"encoding/json"
	"time"
)

type Address struct {
	Name       string `json:"name" validate:"required"`
	Company    string `json:"company,omitempty"`
	Street1    string `json:"street1" validate:"required"`
	Street2    string `json:"street2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

type Parcel struct {
	LengthInches float64 `json:"lengthInches" validate:"gt=0"`
	WidthInches  float64 `json:"widthInches" validate:"gt=0"`
	HeightInches float64 `json:"heightInches" validate:"gt=0"`
	WeightOz     float64 `json:"weightOz" validate:"gt=0"`
}

// Order: заказ маркетплейса; здесь только то, что нужно для отгрузки.
type Order struct {
	ID              string
	BuyerID         string
	SellerID        string
	ShippingAddress *Address
	CreatedAt       time.Time
}

type TimelineEvent struct {
	ID        uint64
	OrderID   string
	Type      string
	Message   string
	Source    string
	Payload   json.RawMessage
	CreatedAt time.Time
}

const (
	TimelineTypeTrackingUpdate = "shipment.tracking_update"
	TimelineTypeLabelPurchased = "shipment.label_purchased"
)

const (
	NotificationOrderUpdate    = "ORDER_UPDATE"
	NotificationLabelPurchased = "LABEL_PURCHASED"
)
