package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relaykit/relay/internal/models"
)

// ErrThreadNotFound is returned when a requested thread cannot be found.
var ErrThreadNotFound = errors.New("thread not found")

// GetThreadByID returns a thread scoped to its owning account.
func GetThreadByID(ctx context.Context, pool *pgxpool.Pool, accountID, threadID string) (*models.Thread, error) {
	var t models.Thread
	var rootMessageID, normalizedSubject *string

	err := pool.QueryRow(ctx, `
		SELECT id, owner_id, root_message_id, normalized_subject, participant_emails, message_count, last_message_at, created_at
		FROM threads
		WHERE owner_id = $1 AND id::text = $2
	`, accountID, threadID).Scan(
		&t.ID,
		&t.AccountID,
		&rootMessageID,
		&normalizedSubject,
		&t.ParticipantEmails,
		&t.MessageCount,
		&t.LastMessageAt,
		&t.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	if rootMessageID != nil {
		t.RootMessageID = *rootMessageID
	}
	if normalizedSubject != nil {
		t.NormalizedSubject = *normalizedSubject
	}

	return &t, nil
}

// GetThreadsForAccount returns the account's threads ordered by most recent
// activity.
func GetThreadsForAccount(ctx context.Context, pool *pgxpool.Pool, accountID string, limit, offset int) ([]*models.Thread, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, owner_id, root_message_id, normalized_subject, participant_emails, message_count, last_message_at, created_at
		FROM threads
		WHERE owner_id = $1
		ORDER BY last_message_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)

	if err != nil {
		return nil, fmt.Errorf("failed to get threads: %w", err)
	}
	defer rows.Close()

	var threads []*models.Thread
	for rows.Next() {
		var t models.Thread
		var rootMessageID, normalizedSubject *string
		if err := rows.Scan(
			&t.ID,
			&t.AccountID,
			&rootMessageID,
			&normalizedSubject,
			&t.ParticipantEmails,
			&t.MessageCount,
			&t.LastMessageAt,
			&t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		if rootMessageID != nil {
			t.RootMessageID = *rootMessageID
		}
		if normalizedSubject != nil {
			t.NormalizedSubject = *normalizedSubject
		}
		threads = append(threads, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threads: %w", err)
	}

	return threads, nil
}

// GetThreadCountForAccount returns the total number of threads for pagination.
func GetThreadCountForAccount(ctx context.Context, pool *pgxpool.Pool, accountID string) (int, error) {
	var count int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM threads WHERE owner_id = $1
	`, accountID).Scan(&count)

	if err != nil {
		return 0, fmt.Errorf("failed to get thread count: %w", err)
	}

	return count, nil
}

// GetMessagesForThread returns the thread's unified message sequence in
// position order, joining payload fields from whichever physical table each
// message lives in.
func GetMessagesForThread(ctx context.Context, pool *pgxpool.Pool, accountID, threadID string) ([]*models.ThreadMessage, error) {
	rows, err := pool.Query(ctx, `
		SELECT tm.message_id,
		       tm.thread_id,
		       tm.thread_position,
		       tm.direction,
		       COALESCE(tm.provider_message_id, ''),
		       COALESCE(im.from_address, om.from_address, ''),
		       COALESCE(im.to_addresses, om.to_addresses, '{}'),
		       COALESCE(im.cc_addresses, om.cc_addresses, '{}'),
		       COALESCE(im.subject, om.subject, ''),
		       COALESCE(im.body_text, om.body_text, ''),
		       tm.created_at
		FROM thread_messages tm
		LEFT JOIN inbound_messages im ON im.id = tm.message_id AND tm.direction = 'inbound'
		LEFT JOIN outbound_messages om ON om.id = tm.message_id AND tm.direction = 'outbound'
		WHERE tm.owner_id = $1 AND tm.thread_id::text = $2
		ORDER BY tm.thread_position
	`, accountID, threadID)

	if err != nil {
		return nil, fmt.Errorf("failed to get thread messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.ThreadMessage
	for rows.Next() {
		var m models.ThreadMessage
		if err := rows.Scan(
			&m.ID,
			&m.ThreadID,
			&m.ThreadPosition,
			&m.Direction,
			&m.ProviderMessageID,
			&m.FromAddress,
			&m.ToAddresses,
			&m.CcAddresses,
			&m.Subject,
			&m.BodyText,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan thread message: %w", err)
		}
		messages = append(messages, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating thread messages: %w", err)
	}

	return messages, nil
}
