package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"delivery-tracker/internal/core/logger"
	"delivery-tracker/internal/features/deliveries/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannelPrefix is prepended to the delivery id to form a pub/sub channel.
const DefaultChannelPrefix = "delivery_"

// LocalHub receives events relayed from other instances.
type LocalHub interface {
	Publish(deliveryID string, event domain.DeliveryEvent) int
}

// RedisRelay fans delivery events out across instances through Redis pub/sub.
// Notify publishes to the delivery's channel; Run forwards every channel
// message into the local hub, including messages this instance published.
type RedisRelay struct {
	client *redis.Client
	hub    LocalHub
	prefix string
	logger *zap.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

// NewRedisRelay creates a new RedisRelay. An empty prefix uses DefaultChannelPrefix.
func NewRedisRelay(client *redis.Client, hub LocalHub, prefix string) *RedisRelay {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisRelay{
		client: client,
		hub:    hub,
		prefix: prefix,
		logger: logger.Named("relay"),
		ready:  make(chan struct{}),
	}
}

// Channel returns the pub/sub channel for deliveryID.
func (r *RedisRelay) Channel(deliveryID string) string {
	return r.prefix + deliveryID
}

// Notify publishes event on its delivery channel.
func (r *RedisRelay) Notify(ctx context.Context, event domain.DeliveryEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery event: %w", err)
	}
	if err := r.client.Publish(ctx, r.Channel(event.DeliveryID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish delivery event: %w", err)
	}
	return nil
}

// Ready is closed once Run holds an active subscription.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes to every delivery channel and forwards messages until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to delivery channels: %w", err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Info("Delivery relay subscribed", zap.String("pattern", r.prefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.forward(msg)
		}
	}
}

func (r *RedisRelay) forward(msg *redis.Message) {
	var event domain.DeliveryEvent
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		r.logger.Warn("Dropping malformed delivery event", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if event.DeliveryID == "" {
		event.DeliveryID = strings.TrimPrefix(msg.Channel, r.prefix)
	}

	n := r.hub.Publish(event.DeliveryID, event)
	r.logger.Debug("Relayed delivery event",
		zap.String("delivery_id", event.DeliveryID),
		zap.String("update_type", string(event.UpdateType)),
		zap.Int("subscribers", n),
	)
}
