package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sparkchat/internal/database"
	"sparkchat/internal/types"
)

func TestAuthMiddleware(t *testing.T) {
	app := newTestApp(t, &database.MockSparkChatRepository{})

	handler := app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		userId, ok := UserId(r.Context())
		assert.True(t, ok, "expected user id in context")
		assert.Equal(t, 1, userId)
		w.WriteHeader(http.StatusOK)
	})

	t.Run("no cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		w := httptest.NewRecorder()

		handler(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "garbage"})
		w := httptest.NewRecorder()

		handler(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := app.createJwtForSession(types.User{Id: 1}, time.Hour)
		assert.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})
		w := httptest.NewRecorder()

		handler(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
	})
}

func TestErrorHandler(t *testing.T) {
	app := newTestApp(t, &database.MockSparkChatRepository{})

	handler := app.errorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusInternalServerError, w.Code, "expected panics to map to 500")
}

func TestRateLimitByUser(t *testing.T) {
	app := newTestApp(t, &database.MockSparkChatRepository{})

	limiter := NewKeyRateLimiter(1, time.Hour, 1, time.Hour)
	handler := app.rateLimitByUser(limiter, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r := authedRequest(http.MethodPost, "/api/chats/sess-1/messages", "", 1)
	w := httptest.NewRecorder()
	handler(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler(w, authedRequest(http.MethodPost, "/api/chats/sess-1/messages", "", 1))
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "expected the budget to be exhausted")

	// a different user has an independent budget
	w = httptest.NewRecorder()
	handler(w, authedRequest(http.MethodPost, "/api/chats/sess-1/messages", "", 2))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitByIP(t *testing.T) {
	app := newTestApp(t, &database.MockSparkChatRepository{})

	limiter := NewKeyRateLimiter(1, time.Hour, 1, time.Hour)
	handler := app.rateLimitByIP(limiter, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	handler(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	r = httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	r.RemoteAddr = "10.0.0.1:5678"
	w = httptest.NewRecorder()
	handler(w, r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "expected the same host to share a budget")
}
