package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/mail"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaykit/relay/internal/crypto"
	"github.com/relaykit/relay/internal/db"
	"github.com/relaykit/relay/internal/models"
)

type RoutesHandler struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
}

func NewRoutesHandler(pool *pgxpool.Pool, encryptor *crypto.Encryptor) *RoutesHandler {
	return &RoutesHandler{
		pool:      pool,
		encryptor: encryptor,
	}
}

type createRouteRequest struct {
	Kind    string   `json:"kind"`
	URL     string   `json:"url,omitempty"`
	Secret  string   `json:"secret,omitempty"`
	Forward string   `json:"forward,omitempty"`
	Group   []string `json:"group,omitempty"`
}

// CreateRoute attaches a route to an address.
// Path: /api/v1/addresses/{address_id}/routes
func (h *RoutesHandler) CreateRoute(w http.ResponseWriter, r *http.Request, addressID string) {
	accountID, ok := GetAccountIDFromContext(w, r)
	if !ok {
		return
	}

	address, err := db.GetAddressByID(r.Context(), h.pool, accountID, addressID)
	if err != nil {
		if errors.Is(err, db.ErrAddressNotFound) {
			http.Error(w, "Address not found", http.StatusNotFound)
			return
		}
		log.Printf("RoutesHandler: Failed to get address: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var req createRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	route := &models.Route{
		AccountID: accountID,
		AddressID: address.ID,
		Kind:      req.Kind,
	}

	switch req.Kind {
	case models.RouteKindWebhook:
		parsed, err := url.Parse(req.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			http.Error(w, "A valid webhook url is required", http.StatusBadRequest)
			return
		}
		route.URL = req.URL

		if req.Secret != "" {
			ciphertext, err := h.encryptor.Encrypt(req.Secret)
			if err != nil {
				log.Printf("RoutesHandler: Failed to encrypt secret: %v", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			route.SecretEncrypted = ciphertext
		}

	case models.RouteKindForward:
		if _, err := mail.ParseAddress(req.Forward); err != nil {
			http.Error(w, "A valid forward address is required", http.StatusBadRequest)
			return
		}
		route.Forward = strings.ToLower(req.Forward)

	case models.RouteKindGroup:
		if len(req.Group) == 0 {
			http.Error(w, "At least one group member is required", http.StatusBadRequest)
			return
		}
		for _, member := range req.Group {
			if _, err := mail.ParseAddress(member); err != nil {
				http.Error(w, "Invalid group member address", http.StatusBadRequest)
				return
			}
			route.Group = append(route.Group, strings.ToLower(member))
		}

	default:
		http.Error(w, "Unknown route kind", http.StatusBadRequest)
		return
	}

	if err := db.SaveRoute(r.Context(), h.pool, route); err != nil {
		log.Printf("RoutesHandler: Failed to save route: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, route)
}

// ListRoutes returns the routes attached to an address.
// Path: /api/v1/addresses/{address_id}/routes
func (h *RoutesHandler) ListRoutes(w http.ResponseWriter, r *http.Request, addressID string) {
	accountID, ok := GetAccountIDFromContext(w, r)
	if !ok {
		return
	}

	address, err := db.GetAddressByID(r.Context(), h.pool, accountID, addressID)
	if err != nil {
		if errors.Is(err, db.ErrAddressNotFound) {
			http.Error(w, "Address not found", http.StatusNotFound)
			return
		}
		log.Printf("RoutesHandler: Failed to get address: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	routes, err := db.GetRoutesForAddress(r.Context(), h.pool, address.ID)
	if err != nil {
		log.Printf("RoutesHandler: Failed to list routes: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

// DeleteRoute removes a route. Path: /api/v1/routes/{route_id}
func (h *RoutesHandler) DeleteRoute(w http.ResponseWriter, r *http.Request, routeID string) {
	accountID, ok := GetAccountIDFromContext(w, r)
	if !ok {
		return
	}

	if err := db.DeleteRoute(r.Context(), h.pool, accountID, routeID); err != nil {
		if errors.Is(err, db.ErrRouteNotFound) {
			http.Error(w, "Route not found", http.StatusNotFound)
			return
		}
		log.Printf("RoutesHandler: Failed to delete route: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
