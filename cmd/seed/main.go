// seed fills the configured delivery store with sample deliveries through the
// delivery service, so every record carries a consistent status history.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"time"

	"delivery-tracker/internal/core/auth"
	"delivery-tracker/internal/core/cache"
	"delivery-tracker/internal/core/config"
	"delivery-tracker/internal/core/database"
	"delivery-tracker/internal/core/logger"
	deliveryadapter "delivery-tracker/internal/features/deliveries/adapters"
	"delivery-tracker/internal/features/deliveries/domain"
	"delivery-tracker/internal/features/deliveries/ports"
	deliveryservice "delivery-tracker/internal/features/deliveries/service"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var seeder = &auth.Principal{ID: "seed", IsAdmin: true}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	var opts seedOptions
	var randomSeed int64

	flagSet := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	flagSet.SetOutput(stdout)
	flagSet.StringVar(&opts.Customer, "customer", "regular_user", "customer id owning the sample deliveries")
	flagSet.StringVar(&opts.BulkCustomer, "bulk-customer", "bulk_user", "customer id owning the bulk deliveries")
	flagSet.IntVar(&opts.Bulk, "bulk", 20, "number of bulk deliveries")
	flagSet.Int64Var(&randomSeed, "random-seed", time.Now().UnixNano(), "seed for generated values")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	svc := deliveryservice.NewDeliveryService(repo, nil,
		deliveryservice.WithMaxIDAttempts(cfg.Store.IDMaxAttempts),
		deliveryservice.WithStoreTimeout(cfg.Store.Timeout),
	)

	created, err := seed(ctx, svc, opts, rand.New(rand.NewSource(randomSeed)))
	if err != nil {
		return err
	}

	logger.Get().Info("Seeding complete", zap.Int("deliveries", created))
	fmt.Fprintf(stdout, "created %d deliveries\n", created)
	return nil
}

func openRepository(ctx context.Context, cfg *config.AppConfig) (ports.DeliveryRepository, func(), error) {
	if cfg.Store.Driver == "postgres" {
		db, err := database.Open(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		repo := deliveryadapter.NewPostgresDeliveryRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, func() { db.Close() }, nil
	}

	store, err := cache.NewRedisAdapter(cfg.Store.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return deliveryadapter.NewRedisDeliveryRepository(store.Client(), cfg.Store.MaxRetries), func() { store.Close() }, nil
}

type seedOptions struct {
	Customer     string
	BulkCustomer string
	Bulk         int
}

func point(lon, lat float64) map[string]any {
	return map[string]any{"type": "Point", "coordinates": []any{lon, lat}}
}

// seed creates one delivery per status, a delivery with several consecutive
// updates, bulk deliveries for one customer and a few edge cases.
func seed(ctx context.Context, svc ports.DeliveryService, opts seedOptions, rnd *rand.Rand) (int, error) {
	created := 0
	create := func(in ports.CreateInput) (*domain.Delivery, error) {
		d, err := svc.Create(ctx, seeder, in)
		if err != nil {
			return nil, fmt.Errorf("failed to create %q: %w", in.Title, err)
		}
		created++
		return d, nil
	}

	customer := opts.Customer
	for _, status := range domain.Statuses {
		if _, err := create(ports.CreateInput{
			Title:         "Test Delivery - " + string(status),
			Status:        string(status),
			CustomerID:    &customer,
			RecipientName: "John Doe",
			Location:      point(-73.935242, 40.730610),
			Destination:   "350 5th Ave, New York, NY 10118",
		}); err != nil {
			return created, err
		}
	}

	multi, err := create(ports.CreateInput{
		Title:         "Multi-Status Delivery",
		Status:        string(domain.StatusPending),
		CustomerID:    &customer,
		RecipientName: "Jane Smith",
		Location:      point(-73.935242, 40.730610),
		Destination:   "30 Rockefeller Plaza, New York, NY 10112",
	})
	if err != nil {
		return created, err
	}
	for _, loc := range [][2]float64{{-73.95, 40.74}, {-73.96, 40.75}} {
		if _, err := svc.UpdateStatus(ctx, seeder, multi.ID, ports.UpdateStatusInput{
			Status:   string(domain.StatusInTransit),
			Location: point(loc[0], loc[1]),
		}); err != nil {
			return created, fmt.Errorf("failed to update %s: %w", multi.ID, err)
		}
	}

	bulkCustomer := opts.BulkCustomer
	for i := 0; i < opts.Bulk; i++ {
		status := domain.Statuses[rnd.Intn(len(domain.Statuses))]
		if _, err := create(ports.CreateInput{
			Title:         fmt.Sprintf("Bulk Delivery %d", i+1),
			Status:        string(status),
			CustomerID:    &bulkCustomer,
			RecipientName: fmt.Sprintf("Recipient %d", i+1),
			Location:      point(-74.1+rnd.Float64()*0.2, 40.6+rnd.Float64()*0.3),
			Destination:   fmt.Sprintf("%d Broadway, New York, NY %d", 1+rnd.Intn(999), 10000+rnd.Intn(1000)),
		}); err != nil {
			return created, err
		}
	}

	special := "user@special#$"
	edgeCases := []ports.CreateInput{
		{
			Title:         "Special Characters !@#$%^&*()",
			Status:        string(domain.StatusPending),
			CustomerID:    &special,
			RecipientName: "Special Name !@#$",
			Location:      point(-73.935242, 40.730610),
			Destination:   "123 !@#$ Street, New York, NY 10001",
		},
		{
			Title:         strings.Repeat("x", domain.TitleMaxLength),
			Status:        string(domain.StatusPending),
			CustomerID:    &customer,
			RecipientName: "Long Title Test",
			Location:      point(-73.935242, 40.730610),
			Destination:   "456 Long Title Road, New York, NY 10002",
		},
		{
			Title:         "Unassigned Delivery",
			Status:        string(domain.StatusPending),
			RecipientName: "Walk-in",
			Location:      point(0, 0),
			Destination:   "Depot",
		},
	}
	for _, in := range edgeCases {
		if _, err := create(in); err != nil {
			return created, err
		}
	}

	return created, nil
}
