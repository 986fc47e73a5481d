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

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

// ErrDuplicateMessage is returned when an inbound insert collides with the
// per-account unique index on provider_message_id, i.e. the provider
// delivered the same message twice.
var ErrDuplicateMessage = errors.New("duplicate provider message id")

// SaveInboundMessage inserts a newly received message.
func SaveInboundMessage(ctx context.Context, pool *pgxpool.Pool, msg *models.InboundMessage) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO inbound_messages (
			id,
			account_id,
			address_id,
			provider_message_id,
			in_reply_to,
			references_ids,
			from_address,
			to_addresses,
			cc_addresses,
			subject,
			body_text,
			unsafe_body_html,
			raw_size_bytes,
			received_at
		) VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6::text[], $7, $8, $9, $10, $11, $12, $13, COALESCE($14, now()))
		RETURNING received_at
	`,
		msg.ID,
		msg.AccountID,
		msg.AddressID,
		msg.ProviderMessageID,
		msg.InReplyTo,
		textArray(msg.References),
		msg.FromAddress,
		textArray(msg.ToAddresses),
		textArray(msg.CcAddresses),
		msg.Subject,
		msg.BodyText,
		msg.UnsafeBodyHTML,
		msg.RawSizeBytes,
		nullableTime(msg.ReceivedAt),
	).Scan(&msg.ReceivedAt)

	if isUniqueViolation(err) {
		return ErrDuplicateMessage
	}

	if err != nil {
		return fmt.Errorf("failed to save inbound message: %w", err)
	}

	return nil
}

// SaveOutboundMessage inserts a newly sent message.
func SaveOutboundMessage(ctx context.Context, pool *pgxpool.Pool, msg *models.OutboundMessage) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO outbound_messages (
			id,
			account_id,
			provider_message_id,
			provider_relay_id,
			in_reply_to,
			references_ids,
			from_address,
			to_addresses,
			cc_addresses,
			subject,
			body_text,
			body_html,
			status
		) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6::text[], $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`,
		msg.ID,
		msg.AccountID,
		msg.ProviderMessageID,
		msg.ProviderRelayID,
		msg.InReplyTo,
		textArray(msg.References),
		msg.FromAddress,
		textArray(msg.ToAddresses),
		textArray(msg.CcAddresses),
		msg.Subject,
		msg.BodyText,
		msg.BodyHTML,
		msg.Status,
	).Scan(&msg.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to save outbound message: %w", err)
	}

	return nil
}

// GetInboundMessage returns one inbound message scoped to its account.
func GetInboundMessage(ctx context.Context, pool *pgxpool.Pool, accountID, messageID string) (*models.InboundMessage, error) {
	var msg models.InboundMessage
	var addressID, providerMessageID, inReplyTo *string

	err := pool.QueryRow(ctx, `
		SELECT id, account_id, address_id, provider_message_id, in_reply_to, references_ids,
		       from_address, to_addresses, cc_addresses, subject, body_text, unsafe_body_html,
		       raw_size_bytes, received_at
		FROM inbound_messages
		WHERE account_id = $1 AND id::text = $2
	`, accountID, messageID).Scan(
		&msg.ID,
		&msg.AccountID,
		&addressID,
		&providerMessageID,
		&inReplyTo,
		&msg.References,
		&msg.FromAddress,
		&msg.ToAddresses,
		&msg.CcAddresses,
		&msg.Subject,
		&msg.BodyText,
		&msg.UnsafeBodyHTML,
		&msg.RawSizeBytes,
		&msg.ReceivedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get inbound message: %w", err)
	}

	if addressID != nil {
		msg.AddressID = *addressID
	}
	if providerMessageID != nil {
		msg.ProviderMessageID = *providerMessageID
	}
	if inReplyTo != nil {
		msg.InReplyTo = *inReplyTo
	}

	return &msg, nil
}

// GetOutboundMessage returns one outbound message scoped to its account.
func GetOutboundMessage(ctx context.Context, pool *pgxpool.Pool, accountID, messageID string) (*models.OutboundMessage, error) {
	var msg models.OutboundMessage
	var providerRelayID, inReplyTo *string

	err := pool.QueryRow(ctx, `
		SELECT id, account_id, provider_message_id, provider_relay_id, in_reply_to, references_ids,
		       from_address, to_addresses, cc_addresses, subject, body_text, body_html, status, created_at
		FROM outbound_messages
		WHERE account_id = $1 AND id::text = $2
	`, accountID, messageID).Scan(
		&msg.ID,
		&msg.AccountID,
		&msg.ProviderMessageID,
		&providerRelayID,
		&inReplyTo,
		&msg.References,
		&msg.FromAddress,
		&msg.ToAddresses,
		&msg.CcAddresses,
		&msg.Subject,
		&msg.BodyText,
		&msg.BodyHTML,
		&msg.Status,
		&msg.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get outbound message: %w", err)
	}

	if providerRelayID != nil {
		msg.ProviderRelayID = *providerRelayID
	}
	if inReplyTo != nil {
		msg.InReplyTo = *inReplyTo
	}

	return &msg, nil
}

// DeleteInboundMessage removes an inbound payload row, used to roll back an
// ingestion whose thread attach failed.
func DeleteInboundMessage(ctx context.Context, pool *pgxpool.Pool, accountID, messageID string) error {
	tag, err := pool.Exec(ctx, `
		DELETE FROM inbound_messages WHERE account_id = $1 AND id::text = $2
	`, accountID, messageID)

	if err != nil {
		return fmt.Errorf("failed to delete inbound message: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}

	return nil
}

// DeleteOutboundMessage removes an outbound payload row, used to roll back a
// send whose thread attach failed.
func DeleteOutboundMessage(ctx context.Context, pool *pgxpool.Pool, accountID, messageID string) error {
	tag, err := pool.Exec(ctx, `
		DELETE FROM outbound_messages WHERE account_id = $1 AND id::text = $2
	`, accountID, messageID)

	if err != nil {
		return fmt.Errorf("failed to delete outbound message: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}

	return nil
}

// MarkOutboundStatus updates an outbound message's delivery status, used when
// the provider asynchronously reports a bounce.
func MarkOutboundStatus(ctx context.Context, pool *pgxpool.Pool, accountID, messageID, status string) error {
	tag, err := pool.Exec(ctx, `
		UPDATE outbound_messages
		SET status = $3
		WHERE account_id = $1 AND id::text = $2
	`, accountID, messageID, status)

	if err != nil {
		return fmt.Errorf("failed to update outbound status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}

	return nil
}

// nullableTime maps the zero time to NULL so the column default applies.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// MarkOutboundStatusByProviderID updates an outbound message's status by the
// provider message id the bounce notification carries.
func MarkOutboundStatusByProviderID(ctx context.Context, pool *pgxpool.Pool, providerMessageID, status string) error {
	tag, err := pool.Exec(ctx, `
		UPDATE outbound_messages
		SET status = $2
		WHERE provider_message_id = $1
	`, providerMessageID, status)

	if err != nil {
		return fmt.Errorf("failed to update outbound status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}

	return nil
}
