package send

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaykit/relay/internal/db"
	"github.com/relaykit/relay/internal/models"
	"github.com/relaykit/relay/internal/thread"
)

var (
	// ErrInvalidRequest is returned when a send request is structurally
	// unusable (bad addresses, no recipients, empty body).
	ErrInvalidRequest = errors.New("invalid send request")

	// ErrUnverifiedSender is returned when the from address is not on a
	// domain the account has verified.
	ErrUnverifiedSender = errors.New("sender domain not verified")

	// ErrReplyTargetNotFound is returned when a reply names an id that is
	// neither a message nor a thread of the account.
	ErrReplyTargetNotFound = errors.New("reply target not found")
)

// Service owns the outbound path: request validation, reply header
// derivation, MIME composition, provider submission, persistence and thread
// attachment.
type Service struct {
	pool     *pgxpool.Pool
	engine   *thread.Engine
	provider Provider
	now      func() time.Time
}

func NewService(pool *pgxpool.Pool, engine *thread.Engine, provider Provider) *Service {
	return &Service{
		pool:     pool,
		engine:   engine,
		provider: provider,
		now:      time.Now,
	}
}

// Request describes one message to send. ReplyTo optionally names an
// existing message or thread; when it names a thread, the reply targets the
// thread's latest message.
type Request struct {
	AccountID string
	From      string
	To        []string
	Cc        []string
	Subject   string
	Text      string
	HTML      string
	ReplyTo   string
}

// Result is the stored message and its thread placement.
type Result struct {
	Message        *models.OutboundMessage
	ThreadID       string
	ThreadPosition int
}

// Send validates the request, submits the message to the provider, persists
// it, and attaches it to a thread. Nothing is persisted when submission
// fails.
func (s *Service) Send(ctx context.Context, req Request) (*Result, error) {
	from, err := mail.ParseAddress(req.From)
	if err != nil {
		return nil, fmt.Errorf("%w: from address: %v", ErrInvalidRequest, err)
	}
	if len(req.To) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrInvalidRequest)
	}
	if req.Text == "" && req.HTML == "" {
		return nil, fmt.Errorf("%w: a text or html body is required", ErrInvalidRequest)
	}

	to, err := parseAddressList(req.To)
	if err != nil {
		return nil, fmt.Errorf("%w: to address: %v", ErrInvalidRequest, err)
	}
	cc, err := parseAddressList(req.Cc)
	if err != nil {
		return nil, fmt.Errorf("%w: cc address: %v", ErrInvalidRequest, err)
	}

	senderDomain := addressDomain(from.Address)
	verified, err := db.IsVerifiedSenderDomain(ctx, s.pool, req.AccountID, senderDomain)
	if err != nil {
		return nil, fmt.Errorf("failed to check sender domain: %w", err)
	}
	if !verified {
		return nil, fmt.Errorf("%w: %s", ErrUnverifiedSender, senderDomain)
	}

	subject := req.Subject
	var inReplyTo string
	var references []string
	if req.ReplyTo != "" {
		target, err := s.replyTarget(ctx, req.AccountID, req.ReplyTo)
		if err != nil {
			return nil, err
		}

		inReplyTo = thread.NormalizeMessageID(target.ProviderMessageID)
		references = target.References
		if inReplyTo != "" {
			references = append(references, inReplyTo)
		}
		references = thread.NormalizeMessageIDs(references)

		if subject == "" {
			subject = replySubject(target.Subject)
		}
	}

	sentAt := s.now().UTC()
	messageID := mintMessageID(senderDomain)

	raw, err := composeMIME(composeInput{
		MessageID:  messageID,
		From:       *from,
		To:         to,
		Cc:         cc,
		Subject:    subject,
		Text:       req.Text,
		HTML:       req.HTML,
		InReplyTo:  inReplyTo,
		References: references,
		Date:       sentAt,
	})
	if err != nil {
		return nil, err
	}

	relayID, err := s.provider.Send(ctx, from.Address, bareAddresses(append(to, cc...)), raw)
	if err != nil {
		return nil, fmt.Errorf("failed to submit message: %w", err)
	}

	msg := &models.OutboundMessage{
		ID:                uuid.NewString(),
		AccountID:         req.AccountID,
		ProviderMessageID: messageID,
		ProviderRelayID:   relayID,
		InReplyTo:         inReplyTo,
		References:        references,
		FromAddress:       req.From,
		ToAddresses:       req.To,
		CcAddresses:       req.Cc,
		Subject:           subject,
		BodyText:          req.Text,
		BodyHTML:          req.HTML,
		Status:            models.OutboundStatusSent,
		CreatedAt:         sentAt,
	}

	if err := db.SaveOutboundMessage(ctx, s.pool, msg); err != nil {
		return nil, fmt.Errorf("failed to save outbound message: %w", err)
	}

	placement, err := s.engine.Attach(ctx, thread.NewMessage{
		ID:                msg.ID,
		OwnerID:           msg.AccountID,
		Direction:         thread.DirectionOutbound,
		ProviderMessageID: messageID,
		InReplyTo:         inReplyTo,
		References:        references,
		Subject:           subject,
		Participants:      participants(*from, to, cc),
		CreatedAt:         sentAt,
	})
	if err != nil {
		// The relay already accepted the message; roll the stored copy back
		// so no row exists without a thread membership.
		if delErr := db.DeleteOutboundMessage(ctx, s.pool, msg.AccountID, msg.ID); delErr != nil {
			log.Printf("Failed to roll back unthreaded message %s: %v", msg.ID, delErr)
		}
		return nil, fmt.Errorf("failed to attach message to thread: %w", err)
	}

	log.Printf("Sent message %s (%s) into thread %s at position %d",
		msg.ID, messageID, placement.ThreadID, placement.Position)

	return &Result{
		Message:        msg,
		ThreadID:       placement.ThreadID,
		ThreadPosition: placement.Position,
	}, nil
}

// RecordBounce marks an outbound message as bounced, as reported by the
// provider's bounce notification.
func (s *Service) RecordBounce(ctx context.Context, accountID, messageID string) error {
	return db.MarkOutboundStatus(ctx, s.pool, accountID, messageID, models.OutboundStatusBounced)
}

// replyTargetInfo is what a reply needs from the message it targets.
type replyTargetInfo struct {
	ProviderMessageID string
	References        []string
	Subject           string
}

func (s *Service) replyTarget(ctx context.Context, accountID, id string) (*replyTargetInfo, error) {
	res, err := s.engine.Resolve(ctx, accountID, id)
	if err != nil {
		if errors.Is(err, thread.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrReplyTargetNotFound, id)
		}
		return nil, fmt.Errorf("failed to resolve reply target: %w", err)
	}

	if res.Direction == thread.DirectionOutbound {
		m, err := db.GetOutboundMessage(ctx, s.pool, accountID, res.MessageID)
		if err != nil {
			return nil, fmt.Errorf("failed to load reply target: %w", err)
		}
		return &replyTargetInfo{
			ProviderMessageID: m.ProviderMessageID,
			References:        m.References,
			Subject:           m.Subject,
		}, nil
	}

	m, err := db.GetInboundMessage(ctx, s.pool, accountID, res.MessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reply target: %w", err)
	}
	return &replyTargetInfo{
		ProviderMessageID: m.ProviderMessageID,
		References:        m.References,
		Subject:           m.Subject,
	}, nil
}

// mintMessageID creates a globally unique message id on the sender's domain.
func mintMessageID(domain string) string {
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

func parseAddressList(raw []string) ([]mail.Address, error) {
	var out []mail.Address
	for _, r := range raw {
		parsed, err := mail.ParseAddress(r)
		if err != nil {
			return nil, fmt.Errorf("%q: %v", r, err)
		}
		out = append(out, *parsed)
	}
	return out, nil
}

func bareAddresses(addresses []mail.Address) []string {
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		out = append(out, a.Address)
	}
	return out
}

// participants returns the lowercased addr-specs of everyone on the message.
func participants(from mail.Address, to, cc []mail.Address) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(a mail.Address) {
		bare := strings.ToLower(a.Address)
		if bare == "" || seen[bare] {
			return
		}
		seen[bare] = true
		out = append(out, bare)
	}

	add(from)
	for _, a := range to {
		add(a)
	}
	for _, a := range cc {
		add(a)
	}
	return out
}

func addressDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}
