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

// ErrDomainNotFound is returned when a requested domain cannot be found.
var ErrDomainNotFound = errors.New("domain not found")

// ErrDomainTaken is returned when a domain name is already registered,
// possibly by another account.
var ErrDomainTaken = errors.New("domain already registered")

// SaveDomain inserts a new domain in pending state.
func SaveDomain(ctx context.Context, pool *pgxpool.Pool, domain *models.Domain) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO domains (account_id, name, verification_token, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, domain.AccountID, domain.Name, domain.VerificationToken, models.DomainStatusPending).Scan(&domain.ID, &domain.CreatedAt)

	if isUniqueViolation(err) {
		return ErrDomainTaken
	}

	if err != nil {
		return fmt.Errorf("failed to save domain: %w", err)
	}

	domain.Status = models.DomainStatusPending
	return nil
}

// GetDomainByID returns a domain scoped to its account.
func GetDomainByID(ctx context.Context, pool *pgxpool.Pool, accountID, domainID string) (*models.Domain, error) {
	var d models.Domain

	err := pool.QueryRow(ctx, `
		SELECT id, account_id, name, verification_token, status, last_checked_at, created_at
		FROM domains
		WHERE account_id = $1 AND id::text = $2
	`, accountID, domainID).Scan(
		&d.ID,
		&d.AccountID,
		&d.Name,
		&d.VerificationToken,
		&d.Status,
		&d.LastCheckedAt,
		&d.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDomainNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get domain: %w", err)
	}

	return &d, nil
}

// GetDomainByName returns the domain owning a mail domain name, regardless of
// account: inbound routing resolves recipients before any account is known.
func GetDomainByName(ctx context.Context, pool *pgxpool.Pool, name string) (*models.Domain, error) {
	var d models.Domain

	err := pool.QueryRow(ctx, `
		SELECT id, account_id, name, verification_token, status, last_checked_at, created_at
		FROM domains
		WHERE name = $1
	`, name).Scan(
		&d.ID,
		&d.AccountID,
		&d.Name,
		&d.VerificationToken,
		&d.Status,
		&d.LastCheckedAt,
		&d.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDomainNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get domain by name: %w", err)
	}

	return &d, nil
}

// GetDomainsForAccount lists the account's domains, newest first.
func GetDomainsForAccount(ctx context.Context, pool *pgxpool.Pool, accountID string) ([]*models.Domain, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, account_id, name, verification_token, status, last_checked_at, created_at
		FROM domains
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID)

	if err != nil {
		return nil, fmt.Errorf("failed to get domains: %w", err)
	}
	defer rows.Close()

	var domains []*models.Domain
	for rows.Next() {
		var d models.Domain
		if err := rows.Scan(
			&d.ID,
			&d.AccountID,
			&d.Name,
			&d.VerificationToken,
			&d.Status,
			&d.LastCheckedAt,
			&d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		domains = append(domains, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating domains: %w", err)
	}

	return domains, nil
}

// SetDomainStatus records the outcome of a verification check.
func SetDomainStatus(ctx context.Context, pool *pgxpool.Pool, accountID, domainID, status string, checkedAt time.Time) error {
	tag, err := pool.Exec(ctx, `
		UPDATE domains
		SET status = $3, last_checked_at = $4
		WHERE account_id = $1 AND id::text = $2
	`, accountID, domainID, status, checkedAt)

	if err != nil {
		return fmt.Errorf("failed to set domain status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrDomainNotFound
	}

	return nil
}

// IsVerifiedSenderDomain reports whether the account owns a verified domain
// matching the given mail domain.
func IsVerifiedSenderDomain(ctx context.Context, pool *pgxpool.Pool, accountID, name string) (bool, error) {
	var ok bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM domains
			WHERE account_id = $1 AND name = $2 AND status = $3
		)
	`, accountID, name, models.DomainStatusVerified).Scan(&ok)

	if err != nil {
		return false, fmt.Errorf("failed to check sender domain: %w", err)
	}

	return ok, nil
}
