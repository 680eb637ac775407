package domain

import "time"

// TitleMaxLength bounds the delivery title.
const TitleMaxLength = 100

// StatusHistoryEntry is an immutable record of a past status.
type StatusHistoryEntry struct {
	Status    Status    `json:"status"`
	Location  Point     `json:"location"`
	Timestamp time.Time `json:"timestamp"`
}

// Delivery is a tracked shipment and its append-only status history.
type Delivery struct {
	ID              string               `json:"delivery_id"`
	Title           string               `json:"title"`
	Status          Status               `json:"status"`
	CustomerID      *string              `json:"customer_id"`
	RecipientName   string               `json:"recipient_name"`
	CurrentLocation Point                `json:"current_location"`
	Destination     string               `json:"destination"`
	CreatedAt       time.Time            `json:"created_at"`
	LastUpdated     time.Time            `json:"last_updated"`
	StatusHistory   []StatusHistoryEntry `json:"status_history"`
}

// NewDelivery builds a delivery seeded with one history entry for its initial state.
func NewDelivery(id, title string, status Status, customerID *string, recipientName string, location Point, destination string, now time.Time) *Delivery {
	now = now.UTC()
	return &Delivery{
		ID:              id,
		Title:           title,
		Status:          status,
		CustomerID:      customerID,
		RecipientName:   recipientName,
		CurrentLocation: location,
		Destination:     destination,
		CreatedAt:       now,
		LastUpdated:     now,
		StatusHistory: []StatusHistoryEntry{
			{Status: status, Location: location, Timestamp: now},
		},
	}
}

// ApplyStatus records a status event: current state and a new history entry are
// set from the same values. Timestamps never move backwards relative to history.
func (d *Delivery) ApplyStatus(status Status, location Point, now time.Time) StatusHistoryEntry {
	now = d.monotonic(now)
	entry := StatusHistoryEntry{Status: status, Location: location, Timestamp: now}

	d.Status = status
	d.CurrentLocation = location
	d.LastUpdated = now
	d.StatusHistory = append(d.StatusHistory, entry)
	return entry
}

// MoveTo updates the current location only. Location drift is not a status event
// and leaves history untouched.
func (d *Delivery) MoveTo(location Point, now time.Time) time.Time {
	now = d.monotonic(now)
	d.CurrentLocation = location
	d.LastUpdated = now
	return now
}

// BelongsTo reports whether the delivery is associated with the customer.
func (d *Delivery) BelongsTo(customerID string) bool {
	return d.CustomerID != nil && *d.CustomerID == customerID
}

// Clone returns a deep copy safe to mutate.
func (d *Delivery) Clone() *Delivery {
	if d == nil {
		return nil
	}
	out := *d
	if d.CustomerID != nil {
		id := *d.CustomerID
		out.CustomerID = &id
	}
	out.StatusHistory = make([]StatusHistoryEntry, len(d.StatusHistory))
	copy(out.StatusHistory, d.StatusHistory)
	return &out
}

func (d *Delivery) monotonic(now time.Time) time.Time {
	now = now.UTC()
	if n := len(d.StatusHistory); n > 0 && now.Before(d.StatusHistory[n-1].Timestamp) {
		now = d.StatusHistory[n-1].Timestamp
	}
	if now.Before(d.LastUpdated) {
		now = d.LastUpdated
	}
	return now
}
