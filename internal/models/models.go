package models

import "time"

// Account is a tenant. Every other record is scoped to one account.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Domain statuses.
const (
	DomainStatusPending  = "pending"
	DomainStatusVerified = "verified"
)

type Domain struct {
	ID                string     `json:"id"`
	AccountID         string     `json:"account_id"`
	Name              string     `json:"name"`
	VerificationToken string     `json:"verification_token"`
	Status            string     `json:"status"`
	LastCheckedAt     *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Address is a provisioned recipient address (local part on a domain).
type Address struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	DomainID  string    `json:"domain_id"`
	LocalPart string    `json:"local_part"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Route kinds. A route decides where inbound mail for an address goes.
const (
	RouteKindWebhook = "webhook"
	RouteKindForward = "forward"
	RouteKindGroup   = "group"
)

// Route is a tagged variant: exactly one of the kind-specific field sets is
// populated, selected by Kind.
type Route struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	AddressID string    `json:"address_id"`
	Kind      string    `json:"kind"`
	URL       string    `json:"url,omitempty"`     // webhook
	Forward   string    `json:"forward,omitempty"` // forward
	Group     []string  `json:"group,omitempty"`   // group
	CreatedAt time.Time `json:"created_at"`

	// SecretEncrypted is the webhook signing secret, AES-GCM encrypted at
	// rest. Never serialized; decrypted only at delivery time.
	SecretEncrypted []byte `json:"-"`
}

type Thread struct {
	ID                string    `json:"id"`
	AccountID         string    `json:"account_id"`
	RootMessageID     string    `json:"root_message_id,omitempty"`
	NormalizedSubject string    `json:"normalized_subject,omitempty"`
	ParticipantEmails []string  `json:"participant_emails"`
	MessageCount      int       `json:"message_count"`
	LastMessageAt     time.Time `json:"last_message_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// ThreadMessage is one entry in a thread's ordered message sequence. It
// unifies inbound and outbound rows for listing: payload fields are filled
// from whichever physical table the message lives in.
type ThreadMessage struct {
	ID                string    `json:"id"`
	ThreadID          string    `json:"thread_id"`
	ThreadPosition    int       `json:"thread_position"`
	Direction         string    `json:"direction"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	FromAddress       string    `json:"from_address"`
	ToAddresses       []string  `json:"to_addresses"`
	CcAddresses       []string  `json:"cc_addresses,omitempty"`
	Subject           string    `json:"subject"`
	BodyText          string    `json:"body_text,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type InboundMessage struct {
	ID                string    `json:"id"`
	AccountID         string    `json:"account_id"`
	AddressID         string    `json:"address_id,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	InReplyTo         string    `json:"in_reply_to,omitempty"`
	References        []string  `json:"references,omitempty"`
	FromAddress       string    `json:"from_address"`
	ToAddresses       []string  `json:"to_addresses"`
	CcAddresses       []string  `json:"cc_addresses,omitempty"`
	Subject           string    `json:"subject"`
	BodyText          string    `json:"body_text"`
	UnsafeBodyHTML    string    `json:"unsafe_body_html,omitempty"`
	RawSizeBytes      int64     `json:"raw_size_bytes"`
	ReceivedAt        time.Time `json:"received_at"`
}

// Outbound message statuses, as reported by the transfer provider.
const (
	OutboundStatusSent    = "sent"
	OutboundStatusBounced = "bounced"
)

type OutboundMessage struct {
	ID                string    `json:"id"`
	AccountID         string    `json:"account_id"`
	ProviderMessageID string    `json:"provider_message_id"`
	ProviderRelayID   string    `json:"provider_relay_id,omitempty"`
	InReplyTo         string    `json:"in_reply_to,omitempty"`
	References        []string  `json:"references,omitempty"`
	FromAddress       string    `json:"from_address"`
	ToAddresses       []string  `json:"to_addresses"`
	CcAddresses       []string  `json:"cc_addresses,omitempty"`
	Subject           string    `json:"subject"`
	BodyText          string    `json:"body_text"`
	BodyHTML          string    `json:"body_html,omitempty"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

// Delivery statuses.
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
)

// Delivery tracks one route's attempt history for one inbound message.
type Delivery struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	MessageID     string    `json:"message_id"`
	RouteID       string    `json:"route_id"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	CreatedAt     time.Time `json:"created_at"`
}
