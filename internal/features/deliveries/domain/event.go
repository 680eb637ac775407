package domain

import "time"

// UpdateType distinguishes pushes caused by status changes from location drift.
type UpdateType string

const (
	UpdateTypeStatus   UpdateType = "status"
	UpdateTypeLocation UpdateType = "location"
)

// DeliveryEvent is published after a mutation has been persisted.
type DeliveryEvent struct {
	DeliveryID string     `json:"delivery_id"`
	UpdateType UpdateType `json:"update_type"`
	Status     Status     `json:"status"`
	Location   Point      `json:"location"`
	Timestamp  time.Time  `json:"timestamp"`
	Delivery   *Delivery  `json:"delivery,omitempty"`
}

// NewStatusEvent builds the event for a committed status change.
func NewStatusEvent(d *Delivery, entry StatusHistoryEntry) DeliveryEvent {
	return DeliveryEvent{
		DeliveryID: d.ID,
		UpdateType: UpdateTypeStatus,
		Status:     entry.Status,
		Location:   entry.Location,
		Timestamp:  entry.Timestamp,
		Delivery:   d,
	}
}

// NewLocationEvent builds the event for a committed location update.
func NewLocationEvent(d *Delivery) DeliveryEvent {
	return DeliveryEvent{
		DeliveryID: d.ID,
		UpdateType: UpdateTypeLocation,
		Status:     d.Status,
		Location:   d.CurrentLocation,
		Timestamp:  d.LastUpdated,
		Delivery:   d,
	}
}
