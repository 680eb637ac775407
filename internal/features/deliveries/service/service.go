package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"delivery-tracker/internal/core/auth"
	"delivery-tracker/internal/core/logger"
	"delivery-tracker/internal/features/deliveries/domain"
	"delivery-tracker/internal/features/deliveries/ports"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	defaultMaxIDAttempts  = 10
	defaultPublishTimeout = 2 * time.Second
	defaultStoreTimeout   = 5 * time.Second
)

// DeliveryServiceImpl implements ports.DeliveryService.
type DeliveryServiceImpl struct {
	repo           ports.DeliveryRepository
	publisher      ports.EventPublisher
	validate       *validator.Validate
	newID          func() string
	now            func() time.Time
	maxIDAttempts  int
	publishTimeout time.Duration
	storeTimeout   time.Duration
	logger         *zap.Logger
}

// Option configures a DeliveryServiceImpl.
type Option func(*DeliveryServiceImpl)

// WithIDGenerator replaces the identifier generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *DeliveryServiceImpl) { s.newID = fn }
}

// WithClock replaces the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *DeliveryServiceImpl) { s.now = fn }
}

// WithMaxIDAttempts caps identifier generation retries.
func WithMaxIDAttempts(n int) Option {
	return func(s *DeliveryServiceImpl) {
		if n > 0 {
			s.maxIDAttempts = n
		}
	}
}

// WithPublishTimeout bounds a single fanout notification.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *DeliveryServiceImpl) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *DeliveryServiceImpl) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *DeliveryServiceImpl) { s.logger = l }
}

// NewDeliveryService creates a new DeliveryServiceImpl. The publisher may be nil.
func NewDeliveryService(repo ports.DeliveryRepository, publisher ports.EventPublisher, opts ...Option) *DeliveryServiceImpl {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	s := &DeliveryServiceImpl{
		repo:           repo,
		publisher:      publisher,
		validate:       v,
		newID:          NewDeliveryID,
		now:            time.Now,
		maxIDAttempts:  defaultMaxIDAttempts,
		publishTimeout: defaultPublishTimeout,
		storeTimeout:   defaultStoreTimeout,
		logger:         logger.Named("deliveries"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the input, assigns an identifier and stores the delivery with
// its seeded history entry.
func (s *DeliveryServiceImpl) Create(ctx context.Context, p *auth.Principal, in ports.CreateInput) (*domain.Delivery, error) {
	if err := auth.RequireAdmin(p); err != nil {
		return nil, err
	}

	var missing []string
	if in.Location == nil {
		missing = append(missing, "current_location")
	}
	if err := s.check(in, missing...); err != nil {
		return nil, err
	}

	status, err := domain.ParseStatus(in.Status)
	if err != nil {
		return nil, err
	}
	location, err := domain.ValidatePoint(in.Location)
	if err != nil {
		return nil, err
	}

	customerID := in.CustomerID
	if customerID != nil && strings.TrimSpace(*customerID) == "" {
		customerID = nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	build := func(id string) *domain.Delivery {
		return domain.NewDelivery(id, in.Title, status, customerID, in.RecipientName, location, in.Destination, s.now())
	}

	if in.DeliveryID != "" {
		d := build(in.DeliveryID)
		if err := s.repo.Insert(ctx, d); err != nil {
			return nil, fmt.Errorf("service: failed to save delivery: %w", err)
		}
		return d, nil
	}

	for attempt := 1; attempt <= s.maxIDAttempts; attempt++ {
		id := s.newID()

		taken, err := s.repo.Exists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("service: failed to check identifier: %w", err)
		}
		if taken {
			s.logger.Debug("Delivery identifier collision", zap.String("delivery_id", id), zap.Int("attempt", attempt))
			continue
		}

		d := build(id)
		err = s.repo.Insert(ctx, d)
		if errors.Is(err, domain.ErrDuplicateIdentifier) {
			s.logger.Debug("Delivery identifier taken concurrently", zap.String("delivery_id", id), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("service: failed to save delivery: %w", err)
		}

		s.logger.Info("Delivery created", zap.String("delivery_id", id), zap.String("status", string(status)))
		return d, nil
	}

	return nil, domain.ErrIdentifierExhausted
}

// Get returns a delivery by identifier.
func (s *DeliveryServiceImpl) Get(ctx context.Context, id string) (*domain.Delivery, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get delivery: %w", err)
	}
	return d, nil
}

// History returns the status history of a delivery.
func (s *DeliveryServiceImpl) History(ctx context.Context, id string) ([]domain.StatusHistoryEntry, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.StatusHistory, nil
}

// List returns every delivery. Admin only.
func (s *DeliveryServiceImpl) List(ctx context.Context, p *auth.Principal) ([]*domain.Delivery, error) {
	if err := auth.RequireAdmin(p); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	deliveries, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list deliveries: %w", err)
	}
	return deliveries, nil
}

// ListMine returns the deliveries whose customer identifier is the caller.
func (s *DeliveryServiceImpl) ListMine(ctx context.Context, p *auth.Principal) ([]*domain.Delivery, error) {
	if err := auth.RequireAuthenticated(p); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	deliveries, err := s.repo.ListByCustomer(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list customer deliveries: %w", err)
	}
	return deliveries, nil
}

// UpdateLocation moves the delivery without recording a status event.
func (s *DeliveryServiceImpl) UpdateLocation(ctx context.Context, p *auth.Principal, id string, in ports.UpdateLocationInput) (*domain.Delivery, error) {
	if err := auth.RequireAdmin(p); err != nil {
		return nil, err
	}
	if in.Location == nil {
		return nil, &domain.ValidationError{Kind: domain.ErrMissingFields, Fields: []string{"location"}}
	}

	location, err := domain.ValidatePoint(in.Location)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	updated, err := s.repo.Update(storeCtx, id, func(d *domain.Delivery) error {
		d.MoveTo(location, s.now())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("service: failed to update location: %w", err)
	}

	s.publish(ctx, domain.NewLocationEvent(updated.Clone()))
	return updated, nil
}

// UpdateStatus sets status and location, appends a history entry built from the
// same values and, once persisted, notifies realtime viewers.
func (s *DeliveryServiceImpl) UpdateStatus(ctx context.Context, p *auth.Principal, id string, in ports.UpdateStatusInput) (*domain.Delivery, error) {
	if err := auth.RequireAdmin(p); err != nil {
		return nil, err
	}

	var missing []string
	if in.Location == nil {
		missing = append(missing, "location")
	}
	if err := s.check(in, missing...); err != nil {
		return nil, err
	}

	status, err := domain.ParseStatus(in.Status)
	if err != nil {
		return nil, err
	}
	location, err := domain.ValidatePoint(in.Location)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	var entry domain.StatusHistoryEntry
	updated, err := s.repo.Update(storeCtx, id, func(d *domain.Delivery) error {
		entry = d.ApplyStatus(status, location, s.now())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("service: failed to update status: %w", err)
	}

	s.logger.Info("Delivery status updated",
		zap.String("delivery_id", id),
		zap.String("status", string(status)),
		zap.Int("history_length", len(updated.StatusHistory)),
	)

	s.publish(ctx, domain.NewStatusEvent(updated.Clone(), entry))
	return updated, nil
}

// Delete removes a delivery permanently.
func (s *DeliveryServiceImpl) Delete(ctx context.Context, p *auth.Principal, id string) error {
	if err := auth.RequireAdmin(p); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("service: failed to delete delivery: %w", err)
	}

	s.logger.Info("Delivery deleted", zap.String("delivery_id", id))
	return nil
}

// publish notifies viewers. The write already succeeded, so failures are only logged.
func (s *DeliveryServiceImpl) publish(ctx context.Context, event domain.DeliveryEvent) {
	if s.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	if err := s.publisher.Notify(ctx, event); err != nil {
		s.logger.Warn("Failed to publish delivery update",
			zap.String("delivery_id", event.DeliveryID),
			zap.String("update_type", string(event.UpdateType)),
			zap.Error(err),
		)
	}
}

// check runs struct validation and folds the result into the domain taxonomy.
func (s *DeliveryServiceImpl) check(in any, absent ...string) error {
	var missing, invalid []string
	var rule string

	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("service: validation failed: %w", err)
		}
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				missing = append(missing, fe.Field())
				continue
			}
			invalid = append(invalid, fe.Field())
			if rule == "" {
				rule = fe.Tag()
				if fe.Param() != "" {
					rule += "=" + fe.Param()
				}
			}
		}
	}

	missing = append(missing, absent...)
	if len(missing) > 0 {
		return &domain.ValidationError{Kind: domain.ErrMissingFields, Fields: missing}
	}
	if len(invalid) > 0 {
		return &domain.ValidationError{Kind: domain.ErrInvalidField, Fields: invalid, Rule: rule}
	}
	return nil
}

var _ ports.DeliveryService = (*DeliveryServiceImpl)(nil)
