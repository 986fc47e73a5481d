package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/relay/internal/testutil"
	"github.com/relaykit/relay/internal/thread"
)

func newThreadMessage(ownerID, providerID string, createdAt time.Time) thread.NewMessage {
	return thread.NewMessage{
		ID:                uuid.NewString(),
		OwnerID:           ownerID,
		Direction:         thread.DirectionInbound,
		ProviderMessageID: providerID,
		Subject:           "Printer on fire",
		Participants:      []string{"ada@example.com", "support@acme.test"},
		CreatedAt:         createdAt,
	}
}

func TestThreadStoreCreateAndAttach(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	store := NewThreadStore(pool)

	accountID, err := GetOrCreateAccount(ctx, pool, "acme")
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)

	root := newThreadMessage(accountID, "<root@example.com>", base)
	placement, err := store.CreateThread(ctx, root, "printer on fire")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if placement.Position != 0 {
		t.Errorf("Expected position 0, got %d", placement.Position)
	}
	threadID := placement.ThreadID

	t.Run("attach appends positions and aggregates", func(t *testing.T) {
		reply := newThreadMessage(accountID, "<reply@example.com>", base.Add(time.Hour))
		reply.InReplyTo = "<root@example.com>"
		reply.References = []string{"<root@example.com>"}
		reply.Participants = []string{"bob@example.com", "support@acme.test"}

		p, err := store.Attach(ctx, threadID, reply)
		if err != nil {
			t.Fatalf("Attach failed: %v", err)
		}
		if p.ThreadID != threadID || p.Position != 1 {
			t.Errorf("Expected position 1 in %s, got %+v", threadID, p)
		}

		got, err := GetThreadByID(ctx, pool, accountID, threadID)
		if err != nil {
			t.Fatalf("GetThreadByID failed: %v", err)
		}
		if got.MessageCount != 2 {
			t.Errorf("Expected message count 2, got %d", got.MessageCount)
		}
		if !got.LastMessageAt.Equal(base.Add(time.Hour)) {
			t.Errorf("Expected last message at %v, got %v", base.Add(time.Hour), got.LastMessageAt)
		}

		want := map[string]bool{
			"ada@example.com":   true,
			"support@acme.test": true,
			"bob@example.com":   true,
		}
		if len(got.ParticipantEmails) != len(want) {
			t.Errorf("Unexpected participants %v", got.ParticipantEmails)
		}
		for _, p := range got.ParticipantEmails {
			if !want[p] {
				t.Errorf("Unexpected participant %q", p)
			}
		}
	})

	t.Run("older message never regresses last_message_at", func(t *testing.T) {
		old := newThreadMessage(accountID, "<late-root@example.com>", base.Add(-time.Hour))

		if _, err := store.Attach(ctx, threadID, old); err != nil {
			t.Fatalf("Attach failed: %v", err)
		}

		got, err := GetThreadByID(ctx, pool, accountID, threadID)
		if err != nil {
			t.Fatalf("GetThreadByID failed: %v", err)
		}
		if !got.LastMessageAt.Equal(base.Add(time.Hour)) {
			t.Errorf("Expected last message at %v, got %v", base.Add(time.Hour), got.LastMessageAt)
		}
	})

	t.Run("duplicate message id conflicts", func(t *testing.T) {
		dup := newThreadMessage(accountID, "<dup@example.com>", base)
		if _, err := store.Attach(ctx, threadID, dup); err != nil {
			t.Fatalf("Attach failed: %v", err)
		}
		if _, err := store.Attach(ctx, threadID, dup); !errors.Is(err, thread.ErrConflict) {
			t.Errorf("Expected ErrConflict for duplicate message id, got %v", err)
		}
	})
}

func TestThreadStoreCandidateThreads(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	store := NewThreadStore(pool)

	accountID, err := GetOrCreateAccount(ctx, pool, "acme")
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}
	otherID, err := GetOrCreateAccount(ctx, pool, "other")
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)

	root := newThreadMessage(accountID, "<root@example.com>", base)
	placement, err := store.CreateThread(ctx, root, "printer on fire")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	reply := newThreadMessage(accountID, "<reply@example.com>", base.Add(time.Minute))
	reply.References = []string{"<root@example.com>", "<lost@example.com>"}
	if _, err := store.Attach(ctx, placement.ThreadID, reply); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	t.Run("direct provider id match", func(t *testing.T) {
		candidates, err := store.CandidateThreads(ctx, accountID, []string{"<root@example.com>"}, "")
		if err != nil {
			t.Fatalf("CandidateThreads failed: %v", err)
		}
		if len(candidates) == 0 {
			t.Fatal("Expected at least one candidate")
		}

		foundDirect := false
		for _, c := range candidates {
			if c.ThreadID != placement.ThreadID {
				t.Errorf("Unexpected thread %s", c.ThreadID)
			}
			if c.Direct && c.MatchedProviderID == "<root@example.com>" {
				foundDirect = true
			}
		}
		if !foundDirect {
			t.Error("Expected a direct match on the root message")
		}
	})

	t.Run("reference set intersection", func(t *testing.T) {
		candidates, err := store.CandidateThreads(ctx, accountID, []string{"<lost@example.com>"}, "")
		if err != nil {
			t.Fatalf("CandidateThreads failed: %v", err)
		}
		if len(candidates) != 1 {
			t.Fatalf("Expected 1 candidate, got %d", len(candidates))
		}
		if candidates[0].Direct {
			t.Error("Expected an intersection match, not a direct one")
		}
	})

	t.Run("self id finds replies that arrived first", func(t *testing.T) {
		orphanReply := newThreadMessage(accountID, "<orphan-reply@example.com>", base)
		orphanReply.References = []string{"<future-root@example.com>"}
		orphanPlacement, err := store.CreateThread(ctx, orphanReply, "printer on fire")
		if err != nil {
			t.Fatalf("CreateThread failed: %v", err)
		}

		candidates, err := store.CandidateThreads(ctx, accountID, nil, "<future-root@example.com>")
		if err != nil {
			t.Fatalf("CandidateThreads failed: %v", err)
		}
		if len(candidates) != 1 || candidates[0].ThreadID != orphanPlacement.ThreadID {
			t.Errorf("Expected the orphan reply's thread, got %v", candidates)
		}
		if len(candidates) == 1 && candidates[0].Direct {
			t.Error("Expected a self id hit to not count as a direct match")
		}
	})

	t.Run("never crosses accounts", func(t *testing.T) {
		candidates, err := store.CandidateThreads(ctx, otherID, []string{"<root@example.com>"}, "")
		if err != nil {
			t.Fatalf("CandidateThreads failed: %v", err)
		}
		if len(candidates) != 0 {
			t.Errorf("Expected no candidates for another account, got %v", candidates)
		}
	})

	t.Run("empty reference set returns nothing", func(t *testing.T) {
		candidates, err := store.CandidateThreads(ctx, accountID, nil, "")
		if err != nil {
			t.Fatalf("CandidateThreads failed: %v", err)
		}
		if candidates != nil {
			t.Errorf("Expected nil candidates, got %v", candidates)
		}
	})
}

func TestThreadStoreThreadBySubject(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	store := NewThreadStore(pool)

	accountID, err := GetOrCreateAccount(ctx, pool, "acme")
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)

	root := newThreadMessage(accountID, "<root@example.com>", base)
	placement, err := store.CreateThread(ctx, root, "printer on fire")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	t.Run("matches subject with shared participant", func(t *testing.T) {
		id, err := store.ThreadBySubject(ctx, accountID, "printer on fire",
			[]string{"ada@example.com"}, base.Add(-time.Hour))
		if err != nil {
			t.Fatalf("ThreadBySubject failed: %v", err)
		}
		if id != placement.ThreadID {
			t.Errorf("Expected thread %s, got %q", placement.ThreadID, id)
		}
	})

	t.Run("requires a shared participant", func(t *testing.T) {
		id, err := store.ThreadBySubject(ctx, accountID, "printer on fire",
			[]string{"stranger@example.net"}, base.Add(-time.Hour))
		if err != nil {
			t.Fatalf("ThreadBySubject failed: %v", err)
		}
		if id != "" {
			t.Errorf("Expected no match, got %q", id)
		}
	})

	t.Run("respects the recency window", func(t *testing.T) {
		id, err := store.ThreadBySubject(ctx, accountID, "printer on fire",
			[]string{"ada@example.com"}, base.Add(time.Hour))
		if err != nil {
			t.Fatalf("ThreadBySubject failed: %v", err)
		}
		if id != "" {
			t.Errorf("Expected no match outside window, got %q", id)
		}
	})
}

func TestThreadStoreResolveID(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	store := NewThreadStore(pool)

	accountID, err := GetOrCreateAccount(ctx, pool, "acme")
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}
	otherID, err := GetOrCreateAccount(ctx, pool, "other")
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)

	root := newThreadMessage(accountID, "<root@example.com>", base)
	placement, err := store.CreateThread(ctx, root, "printer on fire")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	reply := newThreadMessage(accountID, "<reply@example.com>", base.Add(time.Minute))
	if _, err := store.Attach(ctx, placement.ThreadID, reply); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	t.Run("message id resolves to itself", func(t *testing.T) {
		m, isThread, err := store.ResolveID(ctx, accountID, root.ID)
		if err != nil {
			t.Fatalf("ResolveID failed: %v", err)
		}
		if isThread {
			t.Error("Expected a message resolution, not a thread alias")
		}
		if m.MessageID != root.ID || m.Position != 0 {
			t.Errorf("Unexpected membership %+v", m)
		}
	})

	t.Run("thread id resolves to the latest message", func(t *testing.T) {
		m, isThread, err := store.ResolveID(ctx, accountID, placement.ThreadID)
		if err != nil {
			t.Fatalf("ResolveID failed: %v", err)
		}
		if !isThread {
			t.Error("Expected a thread alias resolution")
		}
		if m.MessageID != reply.ID || m.Position != 1 {
			t.Errorf("Expected latest message %s, got %+v", reply.ID, m)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		if _, _, err := store.ResolveID(ctx, accountID, uuid.NewString()); !errors.Is(err, thread.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("non-uuid id is not found, not a type error", func(t *testing.T) {
		if _, _, err := store.ResolveID(ctx, accountID, "definitely-not-a-uuid"); !errors.Is(err, thread.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("other account cannot resolve the id", func(t *testing.T) {
		if _, _, err := store.ResolveID(ctx, otherID, root.ID); !errors.Is(err, thread.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestTextArrayNeverNil(t *testing.T) {
	if got := textArray(nil); got == nil || len(got) != 0 {
		t.Errorf("Expected empty slice for nil input, got %#v", got)
	}
	if got := textArray([]string{"a"}); len(got) != 1 || got[0] != "a" {
		t.Errorf("Expected passthrough, got %#v", got)
	}
}
