package thread

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultSubjectWindow bounds how far back the subject fallback looks for a
// thread to join. Outside the window, a reused subject starts a new thread.
const DefaultSubjectWindow = 7 * 24 * time.Hour

// How many times an attach recomputes after losing a position race.
const attachRetries = 3

// Engine assigns every newly observed message to a thread, maintains the
// thread aggregates, and resolves caller-supplied ids for reply/retry flows.
// It is stateless aside from what the Store persists.
type Engine struct {
	store         Store
	subjectWindow time.Duration
	now           func() time.Time
}

func NewEngine(store Store) *Engine {
	return &Engine{
		store:         store,
		subjectWindow: DefaultSubjectWindow,
		now:           time.Now,
	}
}

// Attach finds or creates the thread msg belongs to and appends it,
// returning the thread id and the message's position within it. Correlation
// prefers headers (In-Reply-To/References, including transitive matches over
// existing messages' reference sets) and falls back to normalized-subject
// matching, constrained to a shared participant within the recency window,
// only when headers produced nothing. When neither signal matches, a new
// thread is created; attaching always succeeds with *a* thread.
func (e *Engine) Attach(ctx context.Context, msg NewMessage) (Placement, error) {
	if msg.ID == "" {
		return Placement{}, fmt.Errorf("attach: message id is required")
	}
	if msg.OwnerID == "" {
		return Placement{}, fmt.Errorf("attach: owner id is required")
	}

	msg.ProviderMessageID = NormalizeMessageID(msg.ProviderMessageID)
	msg.InReplyTo = NormalizeMessageID(msg.InReplyTo)
	msg.References = NormalizeMessageIDs(msg.References)
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = e.now()
	}

	// Candidate reference set: {inReplyTo} ∪ references.
	refs := msg.References
	if msg.InReplyTo != "" {
		refs = NormalizeMessageIDs(append([]string{msg.InReplyTo}, msg.References...))
	}

	var lastErr error
	for attempt := 0; attempt < attachRetries; attempt++ {
		threadID, err := e.selectThread(ctx, msg, refs)
		if err != nil {
			return Placement{}, err
		}

		var placement Placement
		if threadID == "" {
			placement, err = e.store.CreateThread(ctx, msg, NormalizeSubject(msg.Subject))
		} else {
			placement, err = e.store.Attach(ctx, threadID, msg)
		}
		if errors.Is(err, ErrConflict) {
			// Lost a position race; recompute under a fresh read.
			lastErr = err
			continue
		}
		if err != nil {
			return Placement{}, err
		}
		return placement, nil
	}

	return Placement{}, fmt.Errorf("attach message %s: %w", msg.ID, lastErr)
}

// selectThread returns the id of the thread msg should join, or "" when a
// new thread must be created.
func (e *Engine) selectThread(ctx context.Context, msg NewMessage, refs []string) (string, error) {
	if len(refs) > 0 || msg.ProviderMessageID != "" {
		candidates, err := e.store.CandidateThreads(ctx, msg.OwnerID, refs, msg.ProviderMessageID)
		if err != nil {
			return "", fmt.Errorf("candidate lookup for message %s: %w", msg.ID, err)
		}
		if id := pickThread(candidates, msg.InReplyTo); id != "" {
			return id, nil
		}
	}

	// No header correlation. Subject fallback is a last resort: it requires a
	// shared participant within the recency window, so unrelated senders
	// reusing a generic subject never merge.
	subject := NormalizeSubject(msg.Subject)
	if subject == "" || len(msg.Participants) == 0 {
		return "", nil
	}

	id, err := e.store.ThreadBySubject(ctx, msg.OwnerID, subject, msg.Participants, e.now().Add(-e.subjectWindow))
	if err != nil {
		return "", fmt.Errorf("subject lookup for message %s: %w", msg.ID, err)
	}
	return id, nil
}

// pickThread breaks ties among candidate threads deterministically: a thread
// containing the message whose provider id is the resolved In-Reply-To wins
// over reference-intersection matches, then the most recently active thread.
func pickThread(candidates []Candidate, inReplyTo string) string {
	var best Candidate
	var bestScore int
	for _, c := range candidates {
		score := 1
		if c.Direct {
			score = 2
		}
		if inReplyTo != "" && c.Direct && c.MatchedProviderID == inReplyTo {
			score = 3
		}
		if best.ThreadID == "" || score > bestScore ||
			(score == bestScore && c.LastMessageAt.After(best.LastMessageAt)) {
			best = c
			bestScore = score
		}
	}
	return best.ThreadID
}

// Resolve determines the concrete message a caller-supplied id names. A
// message id resolves to itself; a thread id is an alias for the latest
// message (maximum position) in that thread. Returns ErrNotFound when the id
// names neither for the owner.
func (e *Engine) Resolve(ctx context.Context, ownerID, id string) (Resolution, error) {
	if id == "" || ownerID == "" {
		return Resolution{}, ErrNotFound
	}

	m, isThread, err := e.store.ResolveID(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Resolution{}, ErrNotFound
		}
		return Resolution{}, fmt.Errorf("resolve %s: %w", id, err)
	}

	return Resolution{
		MessageID:     m.MessageID,
		ThreadID:      m.ThreadID,
		Direction:     m.Direction,
		IsThreadAlias: isThread,
	}, nil
}
