package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relaykit/relay/internal/crypto"
)

// ErrAPIKeyNotFound is returned when no account matches a presented API key.
var ErrAPIKeyNotFound = errors.New("api key not found")

// GetOrCreateAccount returns the id of the account with the given name,
// creating it if necessary.
func GetOrCreateAccount(ctx context.Context, pool *pgxpool.Pool, name string) (string, error) {
	var id string

	err := pool.QueryRow(ctx, `
		INSERT INTO accounts (name)
		VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name).Scan(&id)

	if err != nil {
		return "", fmt.Errorf("failed to get or create account: %w", err)
	}

	return id, nil
}

// CreateAPIKey stores the hash of a key for the account. The plaintext key is
// never persisted.
func CreateAPIKey(ctx context.Context, pool *pgxpool.Pool, accountID, key string) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO api_keys (account_id, key_hash)
		VALUES ($1, $2)
	`, accountID, crypto.HashToken(key))

	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}

	return nil
}

// AccountIDForAPIKey resolves a presented API key to its account id.
func AccountIDForAPIKey(ctx context.Context, pool *pgxpool.Pool, key string) (string, error) {
	var accountID string

	err := pool.QueryRow(ctx, `
		SELECT account_id
		FROM api_keys
		WHERE key_hash = $1
	`, crypto.HashToken(key)).Scan(&accountID)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrAPIKeyNotFound
	}

	if err != nil {
		return "", fmt.Errorf("failed to look up api key: %w", err)
	}

	return accountID, nil
}
