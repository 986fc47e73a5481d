package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relaykit/relay/internal/models"
)

// ErrRouteNotFound is returned when a requested route cannot be found.
var ErrRouteNotFound = errors.New("route not found")

// SaveRoute inserts a route for an address.
func SaveRoute(ctx context.Context, pool *pgxpool.Pool, route *models.Route) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO routes (account_id, address_id, kind, url, secret_encrypted, forward_address, group_addresses)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7::text[])
		RETURNING id, created_at
	`,
		route.AccountID,
		route.AddressID,
		route.Kind,
		route.URL,
		route.SecretEncrypted,
		route.Forward,
		textArray(route.Group),
	).Scan(&route.ID, &route.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to save route: %w", err)
	}

	return nil
}

// GetRouteByID returns a route scoped to its account.
func GetRouteByID(ctx context.Context, pool *pgxpool.Pool, accountID, routeID string) (*models.Route, error) {
	row := pool.QueryRow(ctx, `
		SELECT id, account_id, address_id, kind, url, secret_encrypted, forward_address, group_addresses, created_at
		FROM routes
		WHERE account_id = $1 AND id::text = $2
	`, accountID, routeID)

	route, err := scanRoute(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRouteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get route: %w", err)
	}

	return route, nil
}

// GetRoutesForAddress returns every route configured for an address.
func GetRoutesForAddress(ctx context.Context, pool *pgxpool.Pool, addressID string) ([]*models.Route, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, account_id, address_id, kind, url, secret_encrypted, forward_address, group_addresses, created_at
		FROM routes
		WHERE address_id = $1
		ORDER BY created_at
	`, addressID)

	if err != nil {
		return nil, fmt.Errorf("failed to get routes: %w", err)
	}
	defer rows.Close()

	var routes []*models.Route
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		routes = append(routes, route)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating routes: %w", err)
	}

	return routes, nil
}

// DeleteRoute removes a route.
func DeleteRoute(ctx context.Context, pool *pgxpool.Pool, accountID, routeID string) error {
	tag, err := pool.Exec(ctx, `
		DELETE FROM routes WHERE account_id = $1 AND id::text = $2
	`, accountID, routeID)

	if err != nil {
		return fmt.Errorf("failed to delete route: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrRouteNotFound
	}

	return nil
}

func scanRoute(row pgx.Row) (*models.Route, error) {
	var r models.Route
	var url, forward *string
	if err := row.Scan(
		&r.ID,
		&r.AccountID,
		&r.AddressID,
		&r.Kind,
		&url,
		&r.SecretEncrypted,
		&forward,
		&r.Group,
		&r.CreatedAt,
	); err != nil {
		return nil, err
	}
	if url != nil {
		r.URL = *url
	}
	if forward != nil {
		r.Forward = *forward
	}
	return &r, nil
}
