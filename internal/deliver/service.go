package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/mail"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaykit/relay/internal/crypto"
	"github.com/relaykit/relay/internal/db"
	"github.com/relaykit/relay/internal/models"
	"github.com/relaykit/relay/internal/send"
	"github.com/relaykit/relay/internal/thread"
)

const (
	// maxAttempts bounds how many times one delivery is tried before it is
	// marked terminally failed. A failed delivery can still be requeued
	// through the retry endpoint.
	maxAttempts = 6

	baseBackoff = time.Minute
	maxBackoff  = time.Hour

	httpTimeout = 30 * time.Second
)

// WebhookPayload is the JSON body POSTed to webhook routes.
type WebhookPayload struct {
	MessageID         string    `json:"message_id"`
	ThreadID          string    `json:"thread_id"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	From              string    `json:"from"`
	To                []string  `json:"to"`
	Cc                []string  `json:"cc,omitempty"`
	Subject           string    `json:"subject"`
	BodyText          string    `json:"body_text"`
	UnsafeBodyHTML    string    `json:"unsafe_body_html,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}

// Service drains the delivery queue: webhook routes get a signed JSON POST,
// forward and group routes get the message re-submitted to the provider.
type Service struct {
	pool       *pgxpool.Pool
	encryptor  *crypto.Encryptor
	provider   send.Provider
	engine     *thread.Engine
	httpClient *http.Client
	now        func() time.Time
}

func NewService(pool *pgxpool.Pool, encryptor *crypto.Encryptor, provider send.Provider, engine *thread.Engine) *Service {
	return &Service{
		pool:       pool,
		encryptor:  encryptor,
		provider:   provider,
		engine:     engine,
		httpClient: &http.Client{Timeout: httpTimeout},
		now:        time.Now,
	}
}

// ProcessDue attempts up to limit due deliveries and returns how many were
// attempted. Individual failures are recorded for retry, not returned.
func (s *Service) ProcessDue(ctx context.Context, limit int) (int, error) {
	due, err := db.GetDueDeliveries(ctx, s.pool, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load due deliveries: %w", err)
	}

	for _, d := range due {
		if err := s.Attempt(ctx, d); err != nil {
			log.Printf("Delivery %s attempt %d failed: %v", d.ID, d.Attempts+1, err)
		}
	}

	return len(due), nil
}

// Attempt runs one delivery attempt and records its outcome.
func (s *Service) Attempt(ctx context.Context, d *models.Delivery) error {
	attemptErr := s.deliver(ctx, d)
	if attemptErr == nil {
		if err := db.MarkDeliverySucceeded(ctx, s.pool, d.ID); err != nil {
			return err
		}
		return nil
	}

	attempts := d.Attempts + 1
	var nextAttempt *time.Time
	if attempts < maxAttempts {
		next := s.now().Add(backoff(attempts))
		nextAttempt = &next
	}

	if err := db.MarkDeliveryFailed(ctx, s.pool, d.ID, attemptErr.Error(), nextAttempt); err != nil {
		return err
	}
	return attemptErr
}

func (s *Service) deliver(ctx context.Context, d *models.Delivery) error {
	msg, err := db.GetInboundMessage(ctx, s.pool, d.AccountID, d.MessageID)
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}

	route, err := db.GetRouteByID(ctx, s.pool, d.AccountID, d.RouteID)
	if err != nil {
		return fmt.Errorf("failed to load route: %w", err)
	}

	switch route.Kind {
	case models.RouteKindWebhook:
		return s.deliverWebhook(ctx, route, msg)
	case models.RouteKindForward:
		return s.deliverMail(ctx, []string{route.Forward}, msg)
	case models.RouteKindGroup:
		return s.deliverMail(ctx, route.Group, msg)
	default:
		return fmt.Errorf("unknown route kind %q", route.Kind)
	}
}

func (s *Service) deliverWebhook(ctx context.Context, route *models.Route, msg *models.InboundMessage) error {
	payload := WebhookPayload{
		MessageID:         msg.ID,
		ProviderMessageID: msg.ProviderMessageID,
		From:              msg.FromAddress,
		To:                msg.ToAddresses,
		Cc:                msg.CcAddresses,
		Subject:           msg.Subject,
		BodyText:          msg.BodyText,
		UnsafeBodyHTML:    msg.UnsafeBodyHTML,
		ReceivedAt:        msg.ReceivedAt,
	}

	if s.engine != nil {
		if res, err := s.engine.Resolve(ctx, msg.AccountID, msg.ID); err == nil {
			payload.ThreadID = res.ThreadID
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, route.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if len(route.SecretEncrypted) > 0 {
		secret, err := s.encryptor.Decrypt(route.SecretEncrypted)
		if err != nil {
			return fmt.Errorf("failed to decrypt signing secret: %w", err)
		}
		req.Header.Set(SignatureHeader, SignPayload(secret, body))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// deliverMail re-submits the stored message to the provider for forward and
// group routes, preserving the original headers so downstream clients thread
// it correctly.
func (s *Service) deliverMail(ctx context.Context, recipients []string, msg *models.InboundMessage) error {
	if len(recipients) == 0 {
		return fmt.Errorf("route has no recipients")
	}

	raw, err := composeForward(recipients, msg)
	if err != nil {
		return err
	}

	from := msg.FromAddress
	if parsed, err := mail.ParseAddress(from); err == nil {
		from = parsed.Address
	}

	if _, err := s.provider.Send(ctx, from, recipients, raw); err != nil {
		return fmt.Errorf("forward submission failed: %w", err)
	}
	return nil
}

// backoff returns the delay before the given attempt number is retried,
// doubling from baseBackoff up to maxBackoff.
func backoff(attempts int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
