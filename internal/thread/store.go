package thread

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Resolve when an id is neither a known message
// nor a known thread for the owner.
var ErrNotFound = errors.New("message or thread not found")

// ErrConflict is returned by a Store when an attach lost a position race
// (uniqueness violation on the thread position at commit time). The engine
// recovers by recomputing under a fresh read a bounded number of times.
var ErrConflict = errors.New("thread position conflict")

// Message directions as seen by the engine.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// NewMessage describes a newly observed message about to be attached to a
// thread. ID is the caller-assigned opaque message id; the physical payload
// row is owned by the ingestion or send collaborator.
type NewMessage struct {
	ID                string
	OwnerID           string
	Direction         Direction
	ProviderMessageID string
	InReplyTo         string
	References        []string
	Subject           string
	Participants      []string
	// CreatedAt is the engine-observed arrival time, authoritative for
	// ordering. The Date header is untrusted and never consulted.
	CreatedAt time.Time
}

// Placement is the result of attaching a message.
type Placement struct {
	ThreadID string
	Position int
}

// Resolution is the result of resolving a caller-supplied id that may name
// either a message or a thread.
type Resolution struct {
	MessageID     string
	ThreadID      string
	Direction     Direction
	IsThreadAlias bool
}

// Candidate is one correlation hit: a thread containing a message that
// matched the new message's reference set.
type Candidate struct {
	ThreadID string
	// MatchedProviderID is the provider message id of the matched message,
	// "" when the hit came from a reference-set intersection only.
	MatchedProviderID string
	// Direct reports whether the matched message's own provider id was in
	// the new message's reference set (as opposed to the two reference sets
	// merely overlapping).
	Direct        bool
	LastMessageAt time.Time
}

// Membership is a message's thread membership record.
type Membership struct {
	MessageID         string
	OwnerID           string
	ThreadID          string
	Position          int
	Direction         Direction
	ProviderMessageID string
	CreatedAt         time.Time
}

// Store is the persistence contract the engine's invariants are defined
// against. Implementations must make CreateThread and Attach atomic units
// (membership insert plus aggregate update together, never partially), must
// serialize attaches per thread, and must serve ResolveID's two lookups from
// a single read snapshot.
type Store interface {
	// CandidateThreads returns, for the owner, every thread containing a
	// message whose provider message id is in refs or whose own reference
	// set intersects refs. selfID (the new message's provider id, "" when
	// absent) additionally matches messages that reference the new message,
	// which is how a root that arrives after its replies finds them.
	CandidateThreads(ctx context.Context, ownerID string, refs []string, selfID string) ([]Candidate, error)

	// ThreadBySubject returns the id of the owner's most recently active
	// thread with the given normalized subject, at least one participant in
	// common, and activity at or after since. Returns "" when none matches.
	ThreadBySubject(ctx context.Context, ownerID, subject string, participants []string, since time.Time) (string, error)

	// CreateThread creates a thread seeded with msg at position 0. The new
	// thread's root message id and normalized subject come from msg.
	CreateThread(ctx context.Context, msg NewMessage, normalizedSubject string) (Placement, error)

	// Attach appends msg to threadID: position is the thread's current
	// message count, and the aggregates (count, last-message time,
	// participant union, subject-if-unset) update in the same unit.
	Attach(ctx context.Context, threadID string, msg NewMessage) (Placement, error)

	// ResolveID reports what id names for the owner: the membership of the
	// message with that id, or, when id is a thread id, the membership with
	// the maximum position in that thread (isThread true). Returns
	// ErrNotFound when id names neither.
	ResolveID(ctx context.Context, ownerID, id string) (m *Membership, isThread bool, err error)
}
