package session

import (
	"time"

	"delivery-tracker/internal/features/deliveries/domain"
)

// Message types exchanged over the realtime channel.
const (
	TypeSubscribeDelivery = "subscribe_delivery"
	TypeDeliveryInfo      = "delivery_info"
	TypeDeliveryUpdate    = "delivery_update"
	TypeError             = "error"
)

// InboundMessage is a client request.
type InboundMessage struct {
	Type string `json:"type"`
}

// OutboundMessage is any frame the server writes. Only the fields relevant to
// the message type are set.
type OutboundMessage struct {
	Type       string            `json:"type"`
	Delivery   *domain.Delivery  `json:"delivery,omitempty"`
	UpdateType domain.UpdateType `json:"update_type,omitempty"`
	Status     domain.Status     `json:"status,omitempty"`
	Location   *domain.Point     `json:"location,omitempty"`
	Timestamp  *time.Time        `json:"timestamp,omitempty"`
	Message    string            `json:"message,omitempty"`
}

func infoMessage(d *domain.Delivery) OutboundMessage {
	return OutboundMessage{Type: TypeDeliveryInfo, Delivery: d}
}

func updateMessage(e domain.DeliveryEvent) OutboundMessage {
	location := e.Location
	timestamp := e.Timestamp
	return OutboundMessage{
		Type:       TypeDeliveryUpdate,
		Delivery:   e.Delivery,
		UpdateType: e.UpdateType,
		Status:     e.Status,
		Location:   &location,
		Timestamp:  &timestamp,
	}
}

func errorMessage(msg string) OutboundMessage {
	return OutboundMessage{Type: TypeError, Message: msg}
}
