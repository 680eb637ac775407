package ports

import (
	"context"

	"delivery-tracker/internal/core/auth"
	"delivery-tracker/internal/features/deliveries/domain"
)

// CreateInput is the typed body of a create request. Location is the raw decoded
// payload and is checked by domain.ValidatePoint.
type CreateInput struct {
	DeliveryID    string  `json:"delivery_id,omitempty" validate:"omitempty,alphanum,max=64"`
	Title         string  `json:"title" validate:"required,max=100"`
	Status        string  `json:"status" validate:"required"`
	CustomerID    *string `json:"customerId,omitempty"`
	RecipientName string  `json:"recipientName" validate:"required"`
	Location      any     `json:"current_location" swaggertype:"object"`
	Destination   string  `json:"destination"`
}

// UpdateLocationInput is the typed body of a location update.
type UpdateLocationInput struct {
	Location any `json:"location" swaggertype:"object"`
}

// UpdateStatusInput is the typed body of a status update.
type UpdateStatusInput struct {
	Status   string `json:"status" validate:"required"`
	Location any    `json:"location" swaggertype:"object"`
}

// DeliveryService defines the primary port for delivery operations.
// A nil principal is an anonymous caller.
type DeliveryService interface {
	Create(ctx context.Context, p *auth.Principal, in CreateInput) (*domain.Delivery, error)
	Get(ctx context.Context, id string) (*domain.Delivery, error)
	History(ctx context.Context, id string) ([]domain.StatusHistoryEntry, error)
	List(ctx context.Context, p *auth.Principal) ([]*domain.Delivery, error)
	ListMine(ctx context.Context, p *auth.Principal) ([]*domain.Delivery, error)
	UpdateLocation(ctx context.Context, p *auth.Principal, id string, in UpdateLocationInput) (*domain.Delivery, error)
	UpdateStatus(ctx context.Context, p *auth.Principal, id string, in UpdateStatusInput) (*domain.Delivery, error)
	Delete(ctx context.Context, p *auth.Principal, id string) error
}

// MutateFunc edits a private copy of a stored delivery. Returning an error aborts the write.
type MutateFunc func(d *domain.Delivery) error

// DeliveryRepository defines the secondary port for delivery storage.
type DeliveryRepository interface {
	// Insert stores a new delivery, failing with domain.ErrDuplicateIdentifier on collision.
	Insert(ctx context.Context, d *domain.Delivery) error
	// Get returns the delivery or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Delivery, error)
	// Exists reports whether an identifier is taken.
	Exists(ctx context.Context, id string) (bool, error)
	// Update runs a serialized read-modify-write for one identifier and stores the
	// complete replacement produced by fn. Writes to other identifiers are not blocked.
	Update(ctx context.Context, id string, fn MutateFunc) (*domain.Delivery, error)
	// Delete removes the delivery permanently or returns domain.ErrNotFound.
	Delete(ctx context.Context, id string) error
	// List returns every delivery ordered by creation time.
	List(ctx context.Context) ([]*domain.Delivery, error)
	// ListByCustomer returns the customer's deliveries ordered by creation time.
	ListByCustomer(ctx context.Context, customerID string) ([]*domain.Delivery, error)
}

// EventPublisher forwards committed changes to realtime viewers.
type EventPublisher interface {
	Notify(ctx context.Context, event domain.DeliveryEvent) error
}
