package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaykit/relay/internal/db"
	"github.com/relaykit/relay/internal/models"
	"github.com/relaykit/relay/internal/thread"
)

var (
	// ErrUnknownRecipient is returned when the recipient does not match any
	// provisioned address.
	ErrUnknownRecipient = errors.New("unknown recipient address")

	// ErrDuplicate is returned when the same provider message id has already
	// been ingested for the account.
	ErrDuplicate = errors.New("duplicate inbound message")
)

// Service owns the inbound pipeline: recipient lookup, parsing, dedup,
// persistence, thread attachment, and delivery fan-out.
type Service struct {
	pool    *pgxpool.Pool
	engine  *thread.Engine
	deduper *Deduper
}

func NewService(pool *pgxpool.Pool, engine *thread.Engine, deduper *Deduper) *Service {
	return &Service{
		pool:    pool,
		engine:  engine,
		deduper: deduper,
	}
}

// Result describes what ingestion did with one raw message.
type Result struct {
	Message        *models.InboundMessage
	ThreadID       string
	ThreadPosition int
	DeliveryCount  int
}

// Ingest processes one raw inbound message addressed to recipient. It runs
// the full pipeline and returns the stored message and its thread placement.
func (s *Service) Ingest(ctx context.Context, recipient string, raw []byte, receivedAt time.Time) (*Result, error) {
	localPart, domainName, err := splitRecipient(recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecipient, recipient)
	}

	address, err := db.GetAddressByEmail(ctx, s.pool, localPart, domainName)
	if err != nil {
		if errors.Is(err, db.ErrAddressNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRecipient, recipient)
		}
		return nil, fmt.Errorf("failed to look up recipient: %w", err)
	}

	parsed, err := ParseRaw(raw)
	if err != nil {
		return nil, err
	}

	providerID := thread.NormalizeMessageID(parsed.ProviderMessageID)
	if !s.deduper.FirstSeen(ctx, address.AccountID, providerID) {
		return nil, ErrDuplicate
	}

	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	msg := &models.InboundMessage{
		ID:                uuid.NewString(),
		AccountID:         address.AccountID,
		AddressID:         address.ID,
		ProviderMessageID: providerID,
		InReplyTo:         parsed.InReplyTo,
		References:        parsed.References,
		FromAddress:       parsed.FromAddress,
		ToAddresses:       parsed.ToAddresses,
		CcAddresses:       parsed.CcAddresses,
		Subject:           parsed.Subject,
		BodyText:          parsed.BodyText,
		UnsafeBodyHTML:    parsed.UnsafeBodyHTML,
		RawSizeBytes:      int64(len(raw)),
		ReceivedAt:        receivedAt,
	}

	if err := db.SaveInboundMessage(ctx, s.pool, msg); err != nil {
		if errors.Is(err, db.ErrDuplicateMessage) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to save inbound message: %w", err)
	}

	placement, err := s.engine.Attach(ctx, thread.NewMessage{
		ID:                msg.ID,
		OwnerID:           msg.AccountID,
		Direction:         thread.DirectionInbound,
		ProviderMessageID: msg.ProviderMessageID,
		InReplyTo:         msg.InReplyTo,
		References:        msg.References,
		Subject:           msg.Subject,
		Participants:      parsed.Participants(),
		CreatedAt:         receivedAt,
	})
	if err != nil {
		// Roll the payload insert and the dedup claim back so the provider's
		// redelivery runs the full pipeline instead of hitting ErrDuplicate.
		if delErr := db.DeleteInboundMessage(ctx, s.pool, msg.AccountID, msg.ID); delErr != nil {
			log.Printf("Failed to roll back unthreaded message %s: %v", msg.ID, delErr)
		}
		s.deduper.Forget(ctx, msg.AccountID, providerID)
		return nil, fmt.Errorf("failed to attach message to thread: %w", err)
	}

	result := &Result{
		Message:        msg,
		ThreadID:       placement.ThreadID,
		ThreadPosition: placement.Position,
	}

	routes, err := db.GetRoutesForAddress(ctx, s.pool, address.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load routes: %w", err)
	}

	for _, route := range routes {
		delivery := &models.Delivery{
			ID:            uuid.NewString(),
			AccountID:     address.AccountID,
			MessageID:     msg.ID,
			RouteID:       route.ID,
			Status:        models.DeliveryStatusPending,
			NextAttemptAt: receivedAt,
		}
		if err := db.EnqueueDelivery(ctx, s.pool, delivery); err != nil {
			return nil, fmt.Errorf("failed to enqueue delivery: %w", err)
		}
		result.DeliveryCount++
	}

	log.Printf("Ingested message %s for %s into thread %s at position %d (%d deliveries)",
		msg.ID, recipient, placement.ThreadID, placement.Position, result.DeliveryCount)

	return result, nil
}

// splitRecipient splits an addr-spec into its lowercased local part and
// domain name.
func splitRecipient(recipient string) (string, string, error) {
	recipient = strings.ToLower(strings.TrimSpace(recipient))
	at := strings.LastIndex(recipient, "@")
	if at <= 0 || at == len(recipient)-1 {
		return "", "", fmt.Errorf("invalid recipient %q", recipient)
	}
	return recipient[:at], recipient[at+1:], nil
}
