package api

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaykit/relay/internal/db"
	"github.com/relaykit/relay/internal/ingest"
	"github.com/relaykit/relay/internal/models"
)

// InboundSecretHeader authenticates calls from the transfer provider's
// webhooks.
const InboundSecretHeader = "X-Relay-Inbound-Secret"

// InboundHandler receives the transfer provider's webhooks: raw inbound
// messages and bounce notifications. These endpoints are authenticated by a
// shared secret, not by customer API keys.
type InboundHandler struct {
	pool         *pgxpool.Pool
	ingest       *ingest.Service
	sharedSecret string
}

func NewInboundHandler(pool *pgxpool.Pool, ingestService *ingest.Service, sharedSecret string) *InboundHandler {
	return &InboundHandler{
		pool:         pool,
		ingest:       ingestService,
		sharedSecret: sharedSecret,
	}
}

func (h *InboundHandler) authorized(r *http.Request) bool {
	presented := r.Header.Get(InboundSecretHeader)
	if presented == "" || h.sharedSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.sharedSecret)) == 1
}

type inboundRequest struct {
	Recipient string `json:"recipient"`
	// Raw is the base64-encoded RFC 5322 message.
	Raw string `json:"raw"`
}

// ReceiveMessage ingests one raw message the provider accepted for a
// recipient. Duplicate redeliveries return 200 so the provider stops
// retrying.
func (h *InboundHandler) ReceiveMessage(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	raw, err := base64.StdEncoding.DecodeString(req.Raw)
	if err != nil {
		http.Error(w, "Invalid raw encoding", http.StatusBadRequest)
		return
	}

	result, err := h.ingest.Ingest(r.Context(), req.Recipient, raw, timeNow())
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrDuplicate):
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		case errors.Is(err, ingest.ErrUnknownRecipient):
			http.Error(w, "Unknown recipient", http.StatusNotFound)
		case errors.Is(err, ingest.ErrMalformed):
			http.Error(w, "Malformed message", http.StatusBadRequest)
		default:
			log.Printf("InboundHandler: Failed to ingest message: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message_id":      result.Message.ID,
		"thread_id":       result.ThreadID,
		"thread_position": result.ThreadPosition,
		"deliveries":      result.DeliveryCount,
	})
}

type bounceRequest struct {
	ProviderMessageID string `json:"provider_message_id"`
}

// ReceiveBounce marks the referenced outbound message as bounced.
func (h *InboundHandler) ReceiveBounce(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req bounceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProviderMessageID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := db.MarkOutboundStatusByProviderID(r.Context(), h.pool, req.ProviderMessageID, models.OutboundStatusBounced)
	if err != nil {
		if errors.Is(err, db.ErrMessageNotFound) {
			http.Error(w, "Message not found", http.StatusNotFound)
			return
		}
		log.Printf("InboundHandler: Failed to record bounce: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "bounced"})
}
