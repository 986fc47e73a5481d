package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relaykit/relay/internal/thread"
)

// ThreadStore is the Postgres implementation of thread.Store. Attaches are
// serialized per thread by locking the thread row (SELECT ... FOR UPDATE)
// inside a transaction, so two attaches to different threads never block
// each other. The unique index on (thread_id, thread_position) backs the
// lock up: a violation surfaces as thread.ErrConflict and the engine
// recomputes under a fresh read.
type ThreadStore struct {
	pool *pgxpool.Pool
}

func NewThreadStore(pool *pgxpool.Pool) *ThreadStore {
	return &ThreadStore{pool: pool}
}

const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// CandidateThreads finds every thread of the owner containing a message that
// correlates with the given reference set: either the existing message's
// provider id is one of the references, or the two reference sets intersect.
// selfID additionally matches existing messages that reference the new
// message, so a root arriving after its replies still finds their thread.
func (s *ThreadStore) CandidateThreads(ctx context.Context, ownerID string, refs []string, selfID string) ([]thread.Candidate, error) {
	if len(refs) == 0 && selfID == "" {
		return nil, nil
	}

	refs = textArray(refs)
	intersect := refs
	if selfID != "" {
		intersect = append(append([]string{}, refs...), selfID)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT tm.thread_id,
		       tm.provider_message_id,
		       tm.provider_message_id IS NOT NULL AND tm.provider_message_id = ANY($2) AS direct,
		       t.last_message_at
		FROM thread_messages tm
		JOIN threads t ON t.id = tm.thread_id
		WHERE tm.owner_id = $1
		  AND (tm.provider_message_id = ANY($2) OR tm.references_ids && $3::text[])
	`, ownerID, refs, intersect)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate threads: %w", err)
	}
	defer rows.Close()

	var candidates []thread.Candidate
	for rows.Next() {
		var c thread.Candidate
		var providerID *string
		if err := rows.Scan(&c.ThreadID, &providerID, &c.Direct, &c.LastMessageAt); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if providerID != nil {
			c.MatchedProviderID = *providerID
		}
		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}

	return candidates, nil
}

// ThreadBySubject returns the owner's most recently active thread with the
// given normalized subject, sharing at least one participant, active at or
// after since. Returns "" when no such thread exists.
func (s *ThreadStore) ThreadBySubject(ctx context.Context, ownerID, subject string, participants []string, since time.Time) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id
		FROM threads
		WHERE owner_id = $1
		  AND normalized_subject = $2
		  AND last_message_at >= $3
		  AND participant_emails && $4::text[]
		ORDER BY last_message_at DESC
		LIMIT 1
	`, ownerID, subject, since, textArray(participants)).Scan(&id)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query thread by subject: %w", err)
	}

	return id, nil
}

// CreateThread inserts a new thread seeded with msg at position 0, as one
// transaction.
func (s *ThreadStore) CreateThread(ctx context.Context, msg thread.NewMessage, normalizedSubject string) (thread.Placement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return thread.Placement{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var threadID string
	err = tx.QueryRow(ctx, `
		INSERT INTO threads (owner_id, root_message_id, normalized_subject, participant_emails, message_count, last_message_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4::text[], 0, $5)
		RETURNING id
	`, msg.OwnerID, msg.ProviderMessageID, normalizedSubject, dedupe(msg.Participants), msg.CreatedAt).Scan(&threadID)
	if err != nil {
		return thread.Placement{}, fmt.Errorf("failed to create thread: %w", err)
	}

	placement, err := attachInTx(ctx, tx, threadID, msg)
	if err != nil {
		return thread.Placement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return thread.Placement{}, thread.ErrConflict
		}
		return thread.Placement{}, fmt.Errorf("failed to commit thread creation: %w", err)
	}

	return placement, nil
}

// Attach appends msg to an existing thread. The membership insert and the
// aggregate update commit together or not at all.
func (s *ThreadStore) Attach(ctx context.Context, threadID string, msg thread.NewMessage) (thread.Placement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return thread.Placement{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	placement, err := attachInTx(ctx, tx, threadID, msg)
	if err != nil {
		return thread.Placement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return thread.Placement{}, thread.ErrConflict
		}
		return thread.Placement{}, fmt.Errorf("failed to commit attach: %w", err)
	}

	return placement, nil
}

// attachInTx performs the read-modify-write of "compute next position, insert
// membership, update aggregates" under the thread row lock.
func attachInTx(ctx context.Context, tx pgx.Tx, threadID string, msg thread.NewMessage) (thread.Placement, error) {
	var position int
	var participants []string
	err := tx.QueryRow(ctx, `
		SELECT message_count, participant_emails
		FROM threads
		WHERE id = $1 AND owner_id = $2
		FOR UPDATE
	`, threadID, msg.OwnerID).Scan(&position, &participants)
	if errors.Is(err, pgx.ErrNoRows) {
		return thread.Placement{}, fmt.Errorf("thread %s not found for owner", threadID)
	}
	if err != nil {
		return thread.Placement{}, fmt.Errorf("failed to lock thread: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO thread_messages (message_id, owner_id, thread_id, thread_position, direction, provider_message_id, in_reply_to, references_ids, participants, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8::text[], $9::text[], $10)
	`, msg.ID, msg.OwnerID, threadID, position, string(msg.Direction), msg.ProviderMessageID, msg.InReplyTo, textArray(msg.References), dedupe(msg.Participants), msg.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return thread.Placement{}, thread.ErrConflict
		}
		return thread.Placement{}, fmt.Errorf("failed to insert thread membership: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE threads
		SET message_count = message_count + 1,
		    last_message_at = GREATEST(last_message_at, $2),
		    normalized_subject = COALESCE(normalized_subject, NULLIF($3, '')),
		    participant_emails = $4::text[]
		WHERE id = $1
	`, threadID, msg.CreatedAt, thread.NormalizeSubject(msg.Subject), union(participants, msg.Participants))
	if err != nil {
		return thread.Placement{}, fmt.Errorf("failed to update thread aggregates: %w", err)
	}

	return thread.Placement{ThreadID: threadID, Position: position}, nil
}

// ResolveID performs the two-phase message-or-thread lookup from a single
// repeatable-read snapshot, so "latest message in thread" cannot interleave
// with an in-flight attach. Ids are compared as text: a caller-supplied id
// that is not UUID-shaped resolves to not-found rather than a type error.
func (s *ThreadStore) ResolveID(ctx context.Context, ownerID, id string) (*thread.Membership, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m, err := scanMembership(tx.QueryRow(ctx, `
		SELECT message_id, owner_id, thread_id, thread_position, direction, provider_message_id, created_at
		FROM thread_messages
		WHERE owner_id = $1 AND message_id::text = $2
	`, ownerID, id))
	if err == nil {
		return m, false, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to look up message: %w", err)
	}

	m, err = scanMembership(tx.QueryRow(ctx, `
		SELECT message_id, owner_id, thread_id, thread_position, direction, provider_message_id, created_at
		FROM thread_messages
		WHERE owner_id = $1 AND thread_id::text = $2
		ORDER BY thread_position DESC
		LIMIT 1
	`, ownerID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, thread.ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up thread: %w", err)
	}

	return m, true, tx.Commit(ctx)
}

func scanMembership(row pgx.Row) (*thread.Membership, error) {
	var m thread.Membership
	var direction string
	var providerID *string
	if err := row.Scan(&m.MessageID, &m.OwnerID, &m.ThreadID, &m.Position, &direction, &providerID, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Direction = thread.Direction(direction)
	if providerID != nil {
		m.ProviderMessageID = *providerID
	}
	return &m, nil
}

// textArray coerces a nil slice to an empty one: pgx encodes nil as SQL NULL,
// which the NOT NULL array columns reject.
func textArray(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// dedupe removes duplicates preserving first-seen order.
func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// union merges additions into existing, never dropping earlier entries.
func union(existing, additions []string) []string {
	return dedupe(append(append([]string{}, existing...), additions...))
}
