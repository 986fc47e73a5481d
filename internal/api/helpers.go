package api

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/relaykit/relay/internal/auth"
)

// timeNow is swapped in tests.
var timeNow = time.Now

// GetAccountIDFromContext extracts the authenticated account id from context
// and writes appropriate HTTP errors when it fails. Returns (accountID, true)
// on success. Shared across handlers for consistent error handling.
func GetAccountIDFromContext(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID, ok := auth.GetAccountIDFromContext(r.Context())
	if !ok {
		log.Println("API: No account id in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return accountID, true
}

// maxPageSize caps caller-supplied limits.
const maxPageSize = 100

// ParsePaginationParams parses page and limit from query parameters.
// Returns default values (page=1, limit=defaultLimit) if parameters are
// missing or invalid; limit is capped at maxPageSize.
func ParsePaginationParams(r *http.Request, defaultLimit int) (page, limit int) {
	page = 1
	limit = defaultLimit

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if parsed, err := strconv.Atoi(pageStr); err == nil && parsed > 0 {
			page = parsed
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	if limit > maxPageSize {
		limit = maxPageSize
	}

	return page, limit
}

// writeJSON encodes v into a buffer before writing so encoding failures never
// produce a partial response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Printf("API: Failed to encode response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
