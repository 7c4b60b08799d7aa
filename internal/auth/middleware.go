package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// AccessTokenParam carries the ID token on websocket upgrade requests,
// since browsers cannot set headers on a WebSocket handshake
const AccessTokenParam = "access_token"

// AuthMiddleware returns middleware that validates Firebase tokens.
// Requires Authorization header: Bearer <token>, or the access_token query
// parameter on websocket upgrades.
// Returns 401 if token is missing or invalid.
// On success, adds Claims to context.
func AuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, msg := extractToken(r)
			if msg != "" {
				writeJSONError(w, http.StatusUnauthorized, msg)
				return
			}

			claims, err := verifier.VerifyIDToken(r.Context(), token)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			ctx := WithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken returns the bearer token, or an error message for the client
func extractToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if isWebSocketUpgrade(r) {
			if token := r.URL.Query().Get(AccessTokenParam); token != "" {
				return token, ""
			}
		}
		return "", "Authorization header required"
	}

	// Check for "Bearer " prefix (case-sensitive)
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "Invalid authorization header format"
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "Invalid authorization header format"
	}
	return token, ""
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// writeJSONError writes a JSON error response with the given status code and message
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
