package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaykit/relay/internal/db"
	"github.com/relaykit/relay/internal/models"
)

var localPartPattern = regexp.MustCompile(`^[a-z0-9._%+-]+$`)

type AddressesHandler struct {
	pool *pgxpool.Pool
}

func NewAddressesHandler(pool *pgxpool.Pool) *AddressesHandler {
	return &AddressesHandler{pool: pool}
}

type createAddressRequest struct {
	DomainID  string `json:"domain_id"`
	LocalPart string `json:"local_part"`
}

// CreateAddress provisions a recipient address on one of the account's
// domains.
func (h *AddressesHandler) CreateAddress(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountIDFromContext(w, r)
	if !ok {
		return
	}

	var req createAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	localPart := strings.ToLower(strings.TrimSpace(req.LocalPart))
	if !localPartPattern.MatchString(localPart) {
		http.Error(w, "Invalid local part", http.StatusBadRequest)
		return
	}

	domain, err := db.GetDomainByID(r.Context(), h.pool, accountID, req.DomainID)
	if err != nil {
		if errors.Is(err, db.ErrDomainNotFound) {
			http.Error(w, "Domain not found", http.StatusNotFound)
			return
		}
		log.Printf("AddressesHandler: Failed to get domain: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	address := &models.Address{
		AccountID: accountID,
		DomainID:  domain.ID,
		LocalPart: localPart,
		Email:     localPart + "@" + domain.Name,
	}

	if err := db.SaveAddress(r.Context(), h.pool, address); err != nil {
		if errors.Is(err, db.ErrAddressTaken) {
			http.Error(w, "Address already exists", http.StatusConflict)
			return
		}
		log.Printf("AddressesHandler: Failed to save address: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, address)
}

// ListAddresses returns the account's addresses.
func (h *AddressesHandler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountIDFromContext(w, r)
	if !ok {
		return
	}

	list, err := db.GetAddressesForAccount(r.Context(), h.pool, accountID)
	if err != nil {
		log.Printf("AddressesHandler: Failed to list addresses: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"addresses": list})
}
