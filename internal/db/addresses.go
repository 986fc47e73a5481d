package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relaykit/relay/internal/models"
)

// ErrAddressNotFound is returned when a requested address cannot be found.
var ErrAddressNotFound = errors.New("address not found")

// ErrAddressTaken is returned when the local part is already provisioned on
// the domain.
var ErrAddressTaken = errors.New("address already provisioned")

// SaveAddress provisions a local part on a domain.
func SaveAddress(ctx context.Context, pool *pgxpool.Pool, address *models.Address) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO addresses (account_id, domain_id, local_part)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, address.AccountID, address.DomainID, address.LocalPart).Scan(&address.ID, &address.CreatedAt)

	if isUniqueViolation(err) {
		return ErrAddressTaken
	}

	if err != nil {
		return fmt.Errorf("failed to save address: %w", err)
	}

	return nil
}

// GetAddressByEmail resolves a full recipient address ("news@acme.test") to
// its provisioned address record.
func GetAddressByEmail(ctx context.Context, pool *pgxpool.Pool, localPart, domainName string) (*models.Address, error) {
	var a models.Address

	err := pool.QueryRow(ctx, `
		SELECT a.id, a.account_id, a.domain_id, a.local_part, a.local_part || '@' || d.name
		FROM addresses a
		JOIN domains d ON d.id = a.domain_id
		WHERE a.local_part = $1 AND d.name = $2
	`, localPart, domainName).Scan(
		&a.ID,
		&a.AccountID,
		&a.DomainID,
		&a.LocalPart,
		&a.Email,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAddressNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get address: %w", err)
	}

	return &a, nil
}

// GetAddressByID returns one address scoped to its account.
func GetAddressByID(ctx context.Context, pool *pgxpool.Pool, accountID, addressID string) (*models.Address, error) {
	var a models.Address

	err := pool.QueryRow(ctx, `
		SELECT a.id, a.account_id, a.domain_id, a.local_part, a.local_part || '@' || d.name, a.created_at
		FROM addresses a
		JOIN domains d ON d.id = a.domain_id
		WHERE a.account_id = $1 AND a.id::text = $2
	`, accountID, addressID).Scan(
		&a.ID,
		&a.AccountID,
		&a.DomainID,
		&a.LocalPart,
		&a.Email,
		&a.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAddressNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get address: %w", err)
	}

	return &a, nil
}

// GetAddressesForAccount lists the account's addresses with their full email
// form.
func GetAddressesForAccount(ctx context.Context, pool *pgxpool.Pool, accountID string) ([]*models.Address, error) {
	rows, err := pool.Query(ctx, `
		SELECT a.id, a.account_id, a.domain_id, a.local_part, a.local_part || '@' || d.name, a.created_at
		FROM addresses a
		JOIN domains d ON d.id = a.domain_id
		WHERE a.account_id = $1
		ORDER BY a.created_at DESC
	`, accountID)

	if err != nil {
		return nil, fmt.Errorf("failed to get addresses: %w", err)
	}
	defer rows.Close()

	var addresses []*models.Address
	for rows.Next() {
		var a models.Address
		if err := rows.Scan(
			&a.ID,
			&a.AccountID,
			&a.DomainID,
			&a.LocalPart,
			&a.Email,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		addresses = append(addresses, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating addresses: %w", err)
	}

	return addresses, nil
}
