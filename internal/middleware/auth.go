package middleware

import (
	"context"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
)

type contextKey string

const (
	UserIDKey contextKey = "userID"
	AuthKey   contextKey = "auth"
)

// AuthInfo contains authenticated user information
type AuthInfo struct {
	UserID string
	Email  string
}

// AuthMiddleware validates Firebase Auth bearer tokens.
type AuthMiddleware struct {
	authClient *auth.Client
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(authClient *auth.Client) *AuthMiddleware {
	return &AuthMiddleware{authClient: authClient}
}

// RequireAuth rejects requests without a valid Firebase ID token.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing authorization header", http.StatusUnauthorized)
			return
		}

		// Expected format: "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		decodedToken, err := m.authClient.VerifyIDToken(r.Context(), parts[1])
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		authInfo := AuthInfo{UserID: decodedToken.UID}
		if email, ok := decodedToken.Claims["email"].(string); ok {
			authInfo.Email = email
		}

		ctx := context.WithValue(r.Context(), AuthKey, authInfo)
		ctx = context.WithValue(ctx, UserIDKey, decodedToken.UID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// GetAuth retrieves auth info from the request context
func GetAuth(r *http.Request) (AuthInfo, bool) {
	if info, ok := r.Context().Value(AuthKey).(AuthInfo); ok {
		return info, true
	}
	return AuthInfo{}, false
}
