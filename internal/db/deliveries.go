package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relaykit/relay/internal/models"
)

// ErrDeliveryNotFound is returned when a requested delivery cannot be found.
var ErrDeliveryNotFound = errors.New("delivery not found")

// EnqueueDelivery records a pending delivery of an inbound message to a route.
func EnqueueDelivery(ctx context.Context, pool *pgxpool.Pool, delivery *models.Delivery) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO deliveries (account_id, message_id, route_id, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, next_attempt_at, created_at
	`, delivery.AccountID, delivery.MessageID, delivery.RouteID, models.DeliveryStatusPending).Scan(
		&delivery.ID,
		&delivery.NextAttemptAt,
		&delivery.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to enqueue delivery: %w", err)
	}

	delivery.Status = models.DeliveryStatusPending
	return nil
}

// GetDueDeliveries returns pending deliveries whose next attempt is due,
// oldest first.
func GetDueDeliveries(ctx context.Context, pool *pgxpool.Pool, limit int) ([]*models.Delivery, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, account_id, message_id, route_id, status, attempts, COALESCE(last_error, ''), next_attempt_at, created_at
		FROM deliveries
		WHERE status = $1 AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $2
	`, models.DeliveryStatusPending, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to get due deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*models.Delivery
	for rows.Next() {
		var d models.Delivery
		if err := rows.Scan(
			&d.ID,
			&d.AccountID,
			&d.MessageID,
			&d.RouteID,
			&d.Status,
			&d.Attempts,
			&d.LastError,
			&d.NextAttemptAt,
			&d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deliveries: %w", err)
	}

	return deliveries, nil
}

// GetDelivery returns one delivery scoped to its account.
func GetDelivery(ctx context.Context, pool *pgxpool.Pool, accountID, deliveryID string) (*models.Delivery, error) {
	var d models.Delivery

	err := pool.QueryRow(ctx, `
		SELECT id, account_id, message_id, route_id, status, attempts, COALESCE(last_error, ''), next_attempt_at, created_at
		FROM deliveries
		WHERE account_id = $1 AND id::text = $2
	`, accountID, deliveryID).Scan(
		&d.ID,
		&d.AccountID,
		&d.MessageID,
		&d.RouteID,
		&d.Status,
		&d.Attempts,
		&d.LastError,
		&d.NextAttemptAt,
		&d.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}

	return &d, nil
}

// MarkDeliverySucceeded records a successful attempt.
func MarkDeliverySucceeded(ctx context.Context, pool *pgxpool.Pool, deliveryID string) error {
	_, err := pool.Exec(ctx, `
		UPDATE deliveries
		SET status = $2, attempts = attempts + 1, last_error = NULL
		WHERE id = $1
	`, deliveryID, models.DeliveryStatusDelivered)

	if err != nil {
		return fmt.Errorf("failed to mark delivery succeeded: %w", err)
	}

	return nil
}

// MarkDeliveryFailed records a failed attempt. When nextAttemptAt is nil the
// delivery is terminal.
func MarkDeliveryFailed(ctx context.Context, pool *pgxpool.Pool, deliveryID, lastError string, nextAttemptAt *time.Time) error {
	status := models.DeliveryStatusPending
	if nextAttemptAt == nil {
		status = models.DeliveryStatusFailed
	}

	_, err := pool.Exec(ctx, `
		UPDATE deliveries
		SET status = $2, attempts = attempts + 1, last_error = $3, next_attempt_at = COALESCE($4, next_attempt_at)
		WHERE id = $1
	`, deliveryID, status, lastError, nextAttemptAt)

	if err != nil {
		return fmt.Errorf("failed to mark delivery failed: %w", err)
	}

	return nil
}

// ResetDeliveryForRetry puts a terminal delivery back in the queue, used by
// the caller-facing retry endpoint.
func ResetDeliveryForRetry(ctx context.Context, pool *pgxpool.Pool, accountID, deliveryID string) error {
	tag, err := pool.Exec(ctx, `
		UPDATE deliveries
		SET status = $3, next_attempt_at = now()
		WHERE account_id = $1 AND id::text = $2
	`, accountID, deliveryID, models.DeliveryStatusPending)

	if err != nil {
		return fmt.Errorf("failed to reset delivery: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}

	return nil
}
