package main

import (
	"context"
	"math/rand"
	"testing"

	"delivery-tracker/internal/core/auth"
	deliveryadapter "delivery-tracker/internal/features/deliveries/adapters"
	"delivery-tracker/internal/features/deliveries/domain"
	deliveryservice "delivery-tracker/internal/features/deliveries/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo := deliveryadapter.NewRedisDeliveryRepository(client, 0)
	svc := deliveryservice.NewDeliveryService(repo, nil)
	ctx := context.Background()

	opts := seedOptions{Customer: "regular_user", BulkCustomer: "bulk_user", Bulk: 5}
	created, err := seed(ctx, svc, opts, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, len(domain.Statuses)+1+5+3, created)

	all, err := svc.List(ctx, &auth.Principal{ID: "admin", IsAdmin: true})
	require.NoError(t, err)
	assert.Len(t, all, created)

	bulk, err := svc.ListMine(ctx, &auth.Principal{ID: "bulk_user"})
	require.NoError(t, err)
	assert.Len(t, bulk, 5)

	var multi *domain.Delivery
	for _, d := range all {
		assert.Regexp(t, deliveryservice.IDPattern, d.ID)
		if d.Title == "Multi-Status Delivery" {
			multi = d
		}
	}
	require.NotNil(t, multi)
	require.Len(t, multi.StatusHistory, 3)
	assert.Equal(t, domain.StatusInTransit, multi.Status)
	assert.Equal(t, domain.Point{Lon: -73.96, Lat: 40.75}, multi.CurrentLocation)
}
