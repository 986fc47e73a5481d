package thread

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memStore is an in-memory Store used to exercise the engine's correlation
// logic without a database. It serializes everything behind one mutex, which
// trivially satisfies the per-thread serialization the contract requires.
type memStore struct {
	mu           sync.Mutex
	seq          int
	threads      map[string]*memThread
	members      map[string]*Membership // keyed by ownerID + "/" + messageID
	refsByMember map[string][]string

	// conflictsLeft makes the next N Attach calls fail with ErrConflict, to
	// exercise the engine's bounded retry.
	conflictsLeft int
}

type memThread struct {
	id                string
	ownerID           string
	rootMessageID     string
	normalizedSubject string
	participants      []string
	messageCount      int
	lastMessageAt     time.Time
}

func newMemStore() *memStore {
	return &memStore{
		threads:      make(map[string]*memThread),
		members:      make(map[string]*Membership),
		refsByMember: make(map[string][]string),
	}
}

func memberKey(ownerID, messageID string) string {
	return ownerID + "/" + messageID
}

func (s *memStore) CandidateThreads(_ context.Context, ownerID string, refs []string, selfID string) ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refSet := make(map[string]bool, len(refs))
	for _, r := range refs {
		refSet[r] = true
	}

	var candidates []Candidate
	for _, m := range s.members {
		if m.OwnerID != ownerID {
			continue
		}

		thread := s.threads[m.ThreadID]
		if m.ProviderMessageID != "" && refSet[m.ProviderMessageID] {
			candidates = append(candidates, Candidate{
				ThreadID:          m.ThreadID,
				MatchedProviderID: m.ProviderMessageID,
				Direct:            true,
				LastMessageAt:     thread.lastMessageAt,
			})
			continue
		}

		for _, r := range s.memberRefs(m) {
			if refSet[r] || (selfID != "" && r == selfID) {
				candidates = append(candidates, Candidate{
					ThreadID:      m.ThreadID,
					LastMessageAt: thread.lastMessageAt,
				})
				break
			}
		}
	}

	return candidates, nil
}

// memberRefs returns the reference set recorded for a member.
func (s *memStore) memberRefs(m *Membership) []string {
	return s.refsByMember[memberKey(m.OwnerID, m.MessageID)]
}

func (s *memStore) ThreadBySubject(_ context.Context, ownerID, subject string, participants []string, since time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	participantSet := make(map[string]bool, len(participants))
	for _, p := range participants {
		participantSet[p] = true
	}

	var best *memThread
	for _, t := range s.threads {
		if t.ownerID != ownerID || t.normalizedSubject != subject || t.lastMessageAt.Before(since) {
			continue
		}
		shared := false
		for _, p := range t.participants {
			if participantSet[p] {
				shared = true
				break
			}
		}
		if !shared {
			continue
		}
		if best == nil || t.lastMessageAt.After(best.lastMessageAt) {
			best = t
		}
	}

	if best == nil {
		return "", nil
	}
	return best.id, nil
}

func (s *memStore) CreateThread(ctx context.Context, msg NewMessage, normalizedSubject string) (Placement, error) {
	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("thread-%d", s.seq)
	s.threads[id] = &memThread{
		id:                id,
		ownerID:           msg.OwnerID,
		rootMessageID:     msg.ProviderMessageID,
		normalizedSubject: normalizedSubject,
		lastMessageAt:     msg.CreatedAt,
	}
	s.mu.Unlock()

	return s.Attach(ctx, id, msg)
}

func (s *memStore) Attach(_ context.Context, threadID string, msg NewMessage) (Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		return Placement{}, ErrConflict
	}

	t, ok := s.threads[threadID]
	if !ok {
		return Placement{}, fmt.Errorf("unknown thread %s", threadID)
	}

	position := t.messageCount
	key := memberKey(msg.OwnerID, msg.ID)
	if _, exists := s.members[key]; exists {
		return Placement{}, ErrConflict
	}

	s.members[key] = &Membership{
		MessageID:         msg.ID,
		OwnerID:           msg.OwnerID,
		ThreadID:          threadID,
		Position:          position,
		Direction:         msg.Direction,
		ProviderMessageID: msg.ProviderMessageID,
		CreatedAt:         msg.CreatedAt,
	}
	s.refsByMember[key] = msg.References

	t.messageCount++
	if msg.CreatedAt.After(t.lastMessageAt) {
		t.lastMessageAt = msg.CreatedAt
	}
	if t.normalizedSubject == "" {
		t.normalizedSubject = NormalizeSubject(msg.Subject)
	}
	existing := make(map[string]bool, len(t.participants))
	for _, p := range t.participants {
		existing[p] = true
	}
	for _, p := range msg.Participants {
		if !existing[p] {
			t.participants = append(t.participants, p)
			existing[p] = true
		}
	}

	return Placement{ThreadID: threadID, Position: position}, nil
}

func (s *memStore) ResolveID(_ context.Context, ownerID, id string) (*Membership, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.members[memberKey(ownerID, id)]; ok {
		copied := *m
		return &copied, false, nil
	}

	t, ok := s.threads[id]
	if !ok || t.ownerID != ownerID {
		return nil, false, ErrNotFound
	}

	var latest *Membership
	for _, m := range s.members {
		if m.ThreadID != id {
			continue
		}
		if latest == nil || m.Position > latest.Position {
			latest = m
		}
	}
	if latest == nil {
		return nil, false, ErrNotFound
	}

	copied := *latest
	return &copied, true, nil
}

// threadSnapshot returns a copy of the thread's aggregates for assertions.
func (s *memStore) threadSnapshot(id string) (memThread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return memThread{}, false
	}
	copied := *t
	copied.participants = append([]string(nil), t.participants...)
	return copied, true
}

// positions returns the sorted-by-position message ids of a thread.
func (s *memStore) positions(threadID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, m := range s.members {
		if m.ThreadID == threadID {
			out = append(out, m.Position)
		}
	}
	return out
}
