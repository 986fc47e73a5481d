package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaykit/relay/internal/db"
	"github.com/relaykit/relay/internal/domains"
)

type DomainsHandler struct {
	pool    *pgxpool.Pool
	domains *domains.Service
}

func NewDomainsHandler(pool *pgxpool.Pool, domainService *domains.Service) *DomainsHandler {
	return &DomainsHandler{
		pool:    pool,
		domains: domainService,
	}
}

type createDomainRequest struct {
	Name string `json:"name"`
}

// CreateDomain registers a pending domain for the account and returns it
// with its verification token.
func (h *DomainsHandler) CreateDomain(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountIDFromContext(w, r)
	if !ok {
		return
	}

	var req createDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	domain, err := h.domains.Register(r.Context(), accountID, req.Name)
	if err != nil {
		if errors.Is(err, db.ErrDomainTaken) {
			http.Error(w, "Domain already registered", http.StatusConflict)
			return
		}
		if errors.Is(err, domains.ErrInvalidName) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("DomainsHandler: Failed to register domain: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, domain)
}

// ListDomains returns the account's domains.
func (h *DomainsHandler) ListDomains(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountIDFromContext(w, r)
	if !ok {
		return
	}

	list, err := db.GetDomainsForAccount(r.Context(), h.pool, accountID)
	if err != nil {
		log.Printf("DomainsHandler: Failed to list domains: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"domains": list})
}

// GetDomain returns one domain. Path: /api/v1/domains/{domain_id}
func (h *DomainsHandler) GetDomain(w http.ResponseWriter, r *http.Request, domainID string) {
	accountID, ok := GetAccountIDFromContext(w, r)
	if !ok {
		return
	}

	domain, err := db.GetDomainByID(r.Context(), h.pool, accountID, domainID)
	if err != nil {
		if errors.Is(err, db.ErrDomainNotFound) {
			http.Error(w, "Domain not found", http.StatusNotFound)
			return
		}
		log.Printf("DomainsHandler: Failed to get domain: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, domain)
}

// VerifyDomain runs the DNS checks for one domain and returns the outcome.
// Path: /api/v1/domains/{domain_id}/verify
func (h *DomainsHandler) VerifyDomain(w http.ResponseWriter, r *http.Request, domainID string) {
	accountID, ok := GetAccountIDFromContext(w, r)
	if !ok {
		return
	}

	result, err := h.domains.Verify(r.Context(), accountID, domainID)
	if err != nil {
		if errors.Is(err, db.ErrDomainNotFound) {
			http.Error(w, "Domain not found", http.StatusNotFound)
			return
		}
		log.Printf("DomainsHandler: Failed to verify domain: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
