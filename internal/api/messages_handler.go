package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaykit/relay/internal/db"
	"github.com/relaykit/relay/internal/models"
	"github.com/relaykit/relay/internal/send"
)

type MessagesHandler struct {
	pool *pgxpool.Pool
	send *send.Service
}

func NewMessagesHandler(pool *pgxpool.Pool, sendService *send.Service) *MessagesHandler {
	return &MessagesHandler{
		pool: pool,
		send: sendService,
	}
}

type sendMessageRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Subject string   `json:"subject,omitempty"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

type sendMessageResponse struct {
	Message        *models.OutboundMessage `json:"message"`
	ThreadID       string                  `json:"thread_id"`
	ThreadPosition int                     `json:"thread_position"`
}

// SendMessage submits an outbound message. reply_to may name an existing
// message or thread; a thread id targets the thread's latest message.
func (h *MessagesHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountIDFromContext(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.send.Send(r.Context(), send.Request{
		AccountID: accountID,
		From:      req.From,
		To:        req.To,
		Cc:        req.Cc,
		Subject:   req.Subject,
		Text:      req.Text,
		HTML:      req.HTML,
		ReplyTo:   req.ReplyTo,
	})
	if err != nil {
		switch {
		case errors.Is(err, send.ErrInvalidRequest):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, send.ErrUnverifiedSender):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, send.ErrReplyTargetNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			log.Printf("MessagesHandler: Failed to send message: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, sendMessageResponse{
		Message:        result.Message,
		ThreadID:       result.ThreadID,
		ThreadPosition: result.ThreadPosition,
	})
}

// GetMessage returns one message by id, inbound or outbound.
// Path: /api/v1/messages/{message_id}
func (h *MessagesHandler) GetMessage(w http.ResponseWriter, r *http.Request, messageID string) {
	accountID, ok := GetAccountIDFromContext(w, r)
	if !ok {
		return
	}

	inbound, err := db.GetInboundMessage(r.Context(), h.pool, accountID, messageID)
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"direction": models.DirectionInbound,
			"message":   inbound,
		})
		return
	}
	if !errors.Is(err, db.ErrMessageNotFound) {
		log.Printf("MessagesHandler: Failed to get message: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	outbound, err := db.GetOutboundMessage(r.Context(), h.pool, accountID, messageID)
	if err != nil {
		if errors.Is(err, db.ErrMessageNotFound) {
			http.Error(w, "Message not found", http.StatusNotFound)
			return
		}
		log.Printf("MessagesHandler: Failed to get message: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"direction": models.DirectionOutbound,
		"message":   outbound,
	})
}

// GetDelivery returns one delivery's attempt state.
// Path: /api/v1/deliveries/{delivery_id}
func (h *MessagesHandler) GetDelivery(w http.ResponseWriter, r *http.Request, deliveryID string) {
	accountID, ok := GetAccountIDFromContext(w, r)
	if !ok {
		return
	}

	delivery, err := db.GetDelivery(r.Context(), h.pool, accountID, deliveryID)
	if err != nil {
		if errors.Is(err, db.ErrDeliveryNotFound) {
			http.Error(w, "Delivery not found", http.StatusNotFound)
			return
		}
		log.Printf("MessagesHandler: Failed to get delivery: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, delivery)
}

// RetryDelivery requeues a delivery for an immediate attempt.
// Path: /api/v1/deliveries/{delivery_id}/retry
func (h *MessagesHandler) RetryDelivery(w http.ResponseWriter, r *http.Request, deliveryID string) {
	accountID, ok := GetAccountIDFromContext(w, r)
	if !ok {
		return
	}

	if err := db.ResetDeliveryForRetry(r.Context(), h.pool, accountID, deliveryID); err != nil {
		if errors.Is(err, db.ErrDeliveryNotFound) {
			http.Error(w, "Delivery not found", http.StatusNotFound)
			return
		}
		log.Printf("MessagesHandler: Failed to retry delivery: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	delivery, err := db.GetDelivery(r.Context(), h.pool, accountID, deliveryID)
	if err != nil {
		log.Printf("MessagesHandler: Failed to reload delivery: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, delivery)
}
