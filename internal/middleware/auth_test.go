package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

// The header checks run before any token verification, so a middleware with a
// nil client is safe for these cases.

func TestRequireAuth_MissingAuthorizationHeader(t *testing.T) {
	middleware := NewAuthMiddleware(nil)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("Handler should not be called when auth header is missing")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	middleware.RequireAuth(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Missing authorization header")
}

func TestRequireAuth_InvalidHeaderFormat(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
	}{
		{name: "missing Bearer prefix", authHeader: "token-without-bearer"},
		{name: "wrong prefix", authHeader: "Basic token-123"},
		{name: "lowercase bearer", authHeader: "bearer token-123"},
		{name: "no token after Bearer", authHeader: "Bearer"},
		{name: "too many parts", authHeader: "Bearer token-123 extra-part"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			middleware := NewAuthMiddleware(nil)

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("Handler should not be called for invalid auth header")
			})

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("Authorization", tt.authHeader)

			w := httptest.NewRecorder()
			middleware.RequireAuth(handler).ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "Invalid authorization header format")
		})
	}
}

func TestGetUserID(t *testing.T) {
	userID, ok := GetUserID(context.Background())
	assert.False(t, ok, "GetUserID should return false when no auth in context")
	assert.Equal(t, "", userID)

	ctx := context.WithValue(context.Background(), UserIDKey, "user-456")
	userID, ok = GetUserID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "user-456", userID)
}

func TestGetAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	info, ok := GetAuth(req)
	assert.False(t, ok, "GetAuth should return false when no auth in context")
	assert.Equal(t, AuthInfo{}, info)

	want := AuthInfo{UserID: "user-789", Email: "user789@example.com"}
	ctx := context.WithValue(context.Background(), AuthKey, want)
	req = req.WithContext(ctx)

	info, ok = GetAuth(req)
	assert.True(t, ok)
	assert.Equal(t, want, info)
}

func TestGetAuth_WrongTypeInContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), AuthKey, "not-an-authinfo")
	req := httptest.NewRequest(http.MethodGet, "/test", nil).WithContext(ctx)

	info, ok := GetAuth(req)
	assert.False(t, ok, "GetAuth should return false for wrong type")
	assert.Equal(t, AuthInfo{}, info)
}
