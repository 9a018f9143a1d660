// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts a bearer token, resolves the user and attaches an Actor to context

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/duplexchat/duplex/internal/store"
)

// UserDirectory resolves the token subject to a directory entry.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Middleware creates an HTTP middleware that validates bearer tokens,
// resolves the subject against the user directory and attaches the Actor
// to the request context. Domain operations downstream receive the actor
// explicitly; nothing past this middleware re-checks credentials.
func Middleware(directory UserDirectory, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			user, err := directory.GetUser(r.Context(), userID)
			if err != nil {
				http.Error(w, `{"error":"unknown user"}`, http.StatusUnauthorized)
				return
			}

			actor := &Actor{UserID: user.ID, Username: user.Username}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
