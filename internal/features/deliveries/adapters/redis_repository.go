package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"delivery-tracker/internal/features/deliveries/domain"
	"delivery-tracker/internal/features/deliveries/ports"

	"github.com/redis/go-redis/v9"
)

const (
	deliveryKeyPrefix = "delivery:"
	deliveryIndexKey  = "deliveries:index"
	customerIndexKey  = "deliveries:customer:"
	defaultMaxRetries = 100
)

// RedisDeliveryRepository implements ports.DeliveryRepository on Redis.
// Each delivery is one JSON document; sets index all ids and ids per customer.
// Writes to one id are serialized with WATCH/MULTI so concurrent updates never
// lose history entries.
type RedisDeliveryRepository struct {
	client     *redis.Client
	maxRetries int
}

// NewRedisDeliveryRepository creates a new RedisDeliveryRepository. A maxRetries
// value below one falls back to the default.
func NewRedisDeliveryRepository(client *redis.Client, maxRetries int) *RedisDeliveryRepository {
	if maxRetries < 1 {
		maxRetries = defaultMaxRetries
	}
	return &RedisDeliveryRepository{
		client:     client,
		maxRetries: maxRetries,
	}
}

func deliveryKey(id string) string {
	return deliveryKeyPrefix + id
}

func customerKey(customerID string) string {
	return customerIndexKey + customerID
}

// Insert stores a new delivery unless the id is already taken.
func (r *RedisDeliveryRepository) Insert(ctx context.Context, d *domain.Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}

	key := deliveryKey(d.ID)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrDuplicateIdentifier
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, deliveryIndexKey, d.ID)
			if d.CustomerID != nil {
				pipe.SAdd(ctx, customerKey(*d.CustomerID), d.ID)
			}
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrDuplicateIdentifier), errors.Is(err, redis.TxFailedErr):
		// A failed transaction means another writer created the key in between.
		return domain.ErrDuplicateIdentifier
	default:
		return fmt.Errorf("failed to save delivery %s: %w", d.ID, err)
	}
}

// Get retrieves a delivery by id.
func (r *RedisDeliveryRepository) Get(ctx context.Context, id string) (*domain.Delivery, error) {
	data, err := r.client.Get(ctx, deliveryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery %s: %w", id, err)
	}
	return decodeDelivery(data)
}

// Exists reports whether a delivery is stored under id.
func (r *RedisDeliveryRepository) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, deliveryKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check delivery %s: %w", id, err)
	}
	return n > 0, nil
}

// Update runs fn against the current document and writes the result in a
// transaction guarded by WATCH. The whole read-modify-write is retried when
// another writer touched the key first.
func (r *RedisDeliveryRepository) Update(ctx context.Context, id string, fn ports.MutateFunc) (*domain.Delivery, error) {
	key := deliveryKey(id)
	var updated *domain.Delivery

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		d, err := decodeDelivery(data)
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
		d.ID = id

		out, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal delivery: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err == nil {
			updated = d
		}
		return err
	}

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update delivery %s: %w", id, err)
	}

	return nil, fmt.Errorf("failed to update delivery %s after %d attempts: %w", id, r.maxRetries, domain.ErrConflict)
}

// Delete removes a delivery and its index entries.
func (r *RedisDeliveryRepository) Delete(ctx context.Context, id string) error {
	key := deliveryKey(id)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		d, err := decodeDelivery(data)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, deliveryIndexKey, id)
			if d.CustomerID != nil {
				pipe.SRem(ctx, customerKey(*d.CustomerID), id)
			}
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("failed to delete delivery %s: %w", id, domain.ErrConflict)
	default:
		return fmt.Errorf("failed to delete delivery %s: %w", id, err)
	}
}

// List returns every stored delivery ordered by creation time.
func (r *RedisDeliveryRepository) List(ctx context.Context) ([]*domain.Delivery, error) {
	return r.listFromSet(ctx, deliveryIndexKey)
}

// ListByCustomer returns the deliveries associated with customerID.
func (r *RedisDeliveryRepository) ListByCustomer(ctx context.Context, customerID string) ([]*domain.Delivery, error) {
	return r.listFromSet(ctx, customerKey(customerID))
}

func (r *RedisDeliveryRepository) listFromSet(ctx context.Context, setKey string) ([]*domain.Delivery, error) {
	ids, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", setKey, err)
	}

	deliveries := make([]*domain.Delivery, 0, len(ids))
	if len(ids) == 0 {
		return deliveries, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = deliveryKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load deliveries: %w", err)
	}

	for _, v := range values {
		// Index entries can briefly outlive a concurrently deleted document.
		s, ok := v.(string)
		if !ok {
			continue
		}
		d, err := decodeDelivery([]byte(s))
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}

	sortByCreation(deliveries)
	return deliveries, nil
}

func decodeDelivery(data []byte) (*domain.Delivery, error) {
	var d domain.Delivery
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal delivery: %w", err)
	}
	return &d, nil
}

func sortByCreation(deliveries []*domain.Delivery) {
	sort.SliceStable(deliveries, func(i, j int) bool {
		if deliveries[i].CreatedAt.Equal(deliveries[j].CreatedAt) {
			return deliveries[i].ID < deliveries[j].ID
		}
		return deliveries[i].CreatedAt.Before(deliveries[j].CreatedAt)
	})
}

var _ ports.DeliveryRepository = (*RedisDeliveryRepository)(nil)
