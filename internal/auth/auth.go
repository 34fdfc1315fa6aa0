// Package auth verifies presented merchant API keys. Keys are compared
// by SHA-256 hash; plaintext keys are never stored.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bnpl/invoice-engine/internal/model"
	"github.com/bnpl/invoice-engine/internal/store"
)

type merchantCtxKey struct{}

// HashAPIKey returns the hex-encoded SHA-256 digest of an API key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Middleware authenticates Bearer API keys against the merchant table
// and stores the resolved merchant in the request context.
func Middleware(st store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := bearerToken(r.Header.Get("Authorization"))
			if apiKey == "" {
				writeUnauthorized(w, "Missing Authorization header")
				return
			}

			merchant, err := st.GetMerchantByAPIKeyHash(r.Context(), HashAPIKey(apiKey))
			if err != nil {
				writeUnauthorized(w, "Invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), merchantCtxKey{}, merchant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MerchantFrom returns the authenticated merchant stored by Middleware.
func MerchantFrom(ctx context.Context) (*model.Merchant, bool) {
	m, ok := ctx.Value(merchantCtxKey{}).(*model.Merchant)
	return m, ok
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": "UNAUTHORIZED", "message": message},
	})
}
