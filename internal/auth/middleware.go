package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaykit/relay/internal/db"
)

type contextKey string

// AccountIDKey is the context key used to store the authenticated account id.
const AccountIDKey contextKey = "account_id"

// RequireAPIKey middleware checks for a valid API key as a bearer token in
// the Authorization header. The key is hashed and looked up; the owning
// account id is stored in the request context for downstream handlers.
// Returns 401 Unauthorized if authentication fails.
func RequireAPIKey(pool *pgxpool.Pool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			log.Println("Auth: Missing or malformed Authorization header")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		accountID, err := db.AccountIDForAPIKey(r.Context(), pool, token)
		if err != nil {
			if !errors.Is(err, db.ErrAPIKeyNotFound) {
				log.Printf("Auth: API key lookup failed: %v", err)
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), AccountIDKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from an Authorization header. The Bearer
// scheme is case-insensitive per RFC 7235.
func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}

	fields := strings.Fields(header)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(strings.Join(fields[1:], " "))
	if token == "" {
		return "", false
	}
	return token, true
}

// GetAccountIDFromContext returns the authenticated account id.
func GetAccountIDFromContext(ctx context.Context) (string, bool) {
	accountID, ok := ctx.Value(AccountIDKey).(string)
	return accountID, ok
}
