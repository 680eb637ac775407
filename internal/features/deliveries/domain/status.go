package domain

// Status is the lifecycle state of a delivery.
type Status string

const (
	StatusPending        Status = "pending"
	StatusInTransit      Status = "in transit"
	StatusOutForDelivery Status = "out for delivery"
	StatusDelivered      Status = "delivered"
)

// Statuses lists the known statuses in display order.
var Statuses = []Status{StatusPending, StatusInTransit, StatusOutForDelivery, StatusDelivered}

// ParseStatus accepts only the four known values. Repeats and backward moves are
// allowed by callers; only unknown values are rejected here.
func ParseStatus(s string) (Status, error) {
	for _, known := range Statuses {
		if string(known) == s {
			return known, nil
		}
	}
	return "", ErrInvalidStatus
}
