package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"delivery-tracker/internal/features/deliveries/domain"
	"delivery-tracker/internal/features/deliveries/ports"
)

const schemaQuery = `
CREATE TABLE IF NOT EXISTS deliveries (
	delivery_id TEXT PRIMARY KEY,
	customer_id TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	document JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_customer_id ON deliveries(customer_id);
`

// PostgresDeliveryRepository implements ports.DeliveryRepository on Postgres.
// Documents are stored as JSONB; updates lock the row for the read-modify-write.
type PostgresDeliveryRepository struct {
	db *sql.DB
}

// NewPostgresDeliveryRepository creates a new PostgresDeliveryRepository.
func NewPostgresDeliveryRepository(db *sql.DB) *PostgresDeliveryRepository {
	return &PostgresDeliveryRepository{db: db}
}

// EnsureSchema creates the deliveries table when missing.
func (r *PostgresDeliveryRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaQuery); err != nil {
		return fmt.Errorf("failed to create deliveries schema: %w", err)
	}
	return nil
}

// Insert stores a new delivery unless the id is already taken.
func (r *PostgresDeliveryRepository) Insert(ctx context.Context, d *domain.Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO deliveries (delivery_id, customer_id, created_at, document)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (delivery_id) DO NOTHING`,
		d.ID, d.CustomerID, d.CreatedAt, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save delivery %s: %w", d.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save delivery %s: %w", d.ID, err)
	}
	if n == 0 {
		return domain.ErrDuplicateIdentifier
	}
	return nil
}

// Get retrieves a delivery by id.
func (r *PostgresDeliveryRepository) Get(ctx context.Context, id string) (*domain.Delivery, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT document FROM deliveries WHERE delivery_id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery %s: %w", id, err)
	}
	return decodeDelivery(data)
}

// Exists reports whether a delivery is stored under id.
func (r *PostgresDeliveryRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM deliveries WHERE delivery_id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check delivery %s: %w", id, err)
	}
	return exists, nil
}

// Update locks the row, applies fn and writes the complete replacement.
func (r *PostgresDeliveryRepository) Update(ctx context.Context, id string, fn ports.MutateFunc) (*domain.Delivery, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin update of %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	var data []byte
	err = tx.QueryRowContext(ctx, `SELECT document FROM deliveries WHERE delivery_id = $1 FOR UPDATE`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock delivery %s: %w", id, err)
	}

	d, err := decodeDelivery(data)
	if err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	d.ID = id

	out, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delivery: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE deliveries SET customer_id = $2, document = $3 WHERE delivery_id = $1`,
		id, d.CustomerID, out,
	); err != nil {
		return nil, fmt.Errorf("failed to update delivery %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delivery %s: %w", id, err)
	}
	return d, nil
}

// Delete removes a delivery permanently.
func (r *PostgresDeliveryRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM deliveries WHERE delivery_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete delivery %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete delivery %s: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns every stored delivery ordered by creation time.
func (r *PostgresDeliveryRepository) List(ctx context.Context) ([]*domain.Delivery, error) {
	return r.query(ctx, `SELECT document FROM deliveries ORDER BY created_at, delivery_id`)
}

// ListByCustomer returns the deliveries associated with customerID.
func (r *PostgresDeliveryRepository) ListByCustomer(ctx context.Context, customerID string) ([]*domain.Delivery, error) {
	return r.query(ctx, `SELECT document FROM deliveries WHERE customer_id = $1 ORDER BY created_at, delivery_id`, customerID)
}

func (r *PostgresDeliveryRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Delivery, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := make([]*domain.Delivery, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		d, err := decodeDelivery(data)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return deliveries, nil
}

var _ ports.DeliveryRepository = (*PostgresDeliveryRepository)(nil)
