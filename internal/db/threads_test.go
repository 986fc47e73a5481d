package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/relay/internal/models"
	"github.com/relaykit/relay/internal/testutil"
	"github.com/relaykit/relay/internal/thread"
)

func TestThreadListing(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	store := NewThreadStore(pool)

	accountID, err := GetOrCreateAccount(ctx, pool, "acme")
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)

	// Two threads with distinct activity times so ordering is deterministic.
	older, err := store.CreateThread(ctx, newThreadMessage(accountID, "<old-1@example.com>", base.Add(-2*time.Hour)), "printer on fire")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	newer, err := store.CreateThread(ctx, newThreadMessage(accountID, "<new-1@example.com>", base.Add(-time.Hour)), "invoice overdue")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	reply := newThreadMessage(accountID, "<new-2@example.com>", base)
	reply.Direction = thread.DirectionOutbound
	if _, err := store.Attach(ctx, newer.ThreadID, reply); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	t.Run("list orders by most recent activity", func(t *testing.T) {
		threads, err := GetThreadsForAccount(ctx, pool, accountID, 10, 0)
		if err != nil {
			t.Fatalf("GetThreadsForAccount failed: %v", err)
		}
		if len(threads) != 2 {
			t.Fatalf("Expected 2 threads, got %d", len(threads))
		}
		if threads[0].ID != newer.ThreadID || threads[1].ID != older.ThreadID {
			t.Errorf("Expected newest-first ordering, got %s, %s", threads[0].ID, threads[1].ID)
		}
		if threads[0].MessageCount != 2 {
			t.Errorf("Expected message count 2, got %d", threads[0].MessageCount)
		}
	})

	t.Run("list respects limit and offset", func(t *testing.T) {
		threads, err := GetThreadsForAccount(ctx, pool, accountID, 1, 1)
		if err != nil {
			t.Fatalf("GetThreadsForAccount failed: %v", err)
		}
		if len(threads) != 1 || threads[0].ID != older.ThreadID {
			t.Errorf("Expected only the older thread, got %v", threads)
		}
	})

	t.Run("count", func(t *testing.T) {
		count, err := GetThreadCountForAccount(ctx, pool, accountID)
		if err != nil {
			t.Fatalf("GetThreadCountForAccount failed: %v", err)
		}
		if count != 2 {
			t.Errorf("Expected count 2, got %d", count)
		}
	})

	t.Run("get by id", func(t *testing.T) {
		got, err := GetThreadByID(ctx, pool, accountID, newer.ThreadID)
		if err != nil {
			t.Fatalf("GetThreadByID failed: %v", err)
		}
		if got.NormalizedSubject != "invoice overdue" {
			t.Errorf("Expected normalized subject, got %q", got.NormalizedSubject)
		}
		if got.RootMessageID != "<new-1@example.com>" {
			t.Errorf("Expected root message id, got %q", got.RootMessageID)
		}

		if _, err := GetThreadByID(ctx, pool, accountID, uuid.NewString()); !errors.Is(err, ErrThreadNotFound) {
			t.Errorf("Expected ErrThreadNotFound, got %v", err)
		}
	})

	t.Run("threads never leak across accounts", func(t *testing.T) {
		otherID, err := GetOrCreateAccount(ctx, pool, "other")
		if err != nil {
			t.Fatalf("GetOrCreateAccount failed: %v", err)
		}
		threads, err := GetThreadsForAccount(ctx, pool, otherID, 10, 0)
		if err != nil {
			t.Fatalf("GetThreadsForAccount failed: %v", err)
		}
		if len(threads) != 0 {
			t.Errorf("Expected no threads, got %d", len(threads))
		}
		if _, err := GetThreadByID(ctx, pool, otherID, newer.ThreadID); !errors.Is(err, ErrThreadNotFound) {
			t.Errorf("Expected ErrThreadNotFound, got %v", err)
		}
	})
}

func TestGetMessagesForThread(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	store := NewThreadStore(pool)

	accountID, err := GetOrCreateAccount(ctx, pool, "acme")
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)

	// Inbound root with a stored payload, outbound reply without one. The
	// listing joins payload fields where they exist and leaves the rest blank.
	root := newThreadMessage(accountID, "<root@example.com>", base)
	inbound := &models.InboundMessage{
		ID:                root.ID,
		AccountID:         accountID,
		ProviderMessageID: root.ProviderMessageID,
		FromAddress:       "ada@example.com",
		ToAddresses:       []string{"support@acme.test"},
		Subject:           root.Subject,
		BodyText:          "The printer is on fire.",
	}
	if err := SaveInboundMessage(ctx, pool, inbound); err != nil {
		t.Fatalf("SaveInboundMessage failed: %v", err)
	}

	placement, err := store.CreateThread(ctx, root, "printer on fire")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	reply := newThreadMessage(accountID, "<reply@example.com>", base.Add(time.Minute))
	reply.Direction = thread.DirectionOutbound
	if _, err := store.Attach(ctx, placement.ThreadID, reply); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	messages, err := GetMessagesForThread(ctx, pool, accountID, placement.ThreadID)
	if err != nil {
		t.Fatalf("GetMessagesForThread failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}

	if messages[0].ID != root.ID || messages[0].ThreadPosition != 0 {
		t.Errorf("Expected the root at position 0, got %+v", messages[0])
	}
	if messages[0].Direction != string(thread.DirectionInbound) {
		t.Errorf("Expected inbound direction, got %s", messages[0].Direction)
	}
	if messages[0].BodyText != "The printer is on fire." {
		t.Errorf("Expected joined payload, got %q", messages[0].BodyText)
	}

	if messages[1].ID != reply.ID || messages[1].ThreadPosition != 1 {
		t.Errorf("Expected the reply at position 1, got %+v", messages[1])
	}
	if messages[1].Direction != string(thread.DirectionOutbound) {
		t.Errorf("Expected outbound direction, got %s", messages[1].Direction)
	}
	if messages[1].BodyText != "" {
		t.Errorf("Expected no payload for the reply, got %q", messages[1].BodyText)
	}
}
