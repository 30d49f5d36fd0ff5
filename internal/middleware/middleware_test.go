package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xenn00/room-sync/internal/utils"
	"maunium.net/go/mautrix/id"
)

func echoUser(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	w.Write([]byte(userID))
}

func TestJWTAuth(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	handler := JWTAuth(&key.PublicKey)(http.HandlerFunc(echoUser))

	call := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	valid, err := utils.IssueToken("@alice:local", "alice", time.Hour, key)
	require.NoError(t, err)
	rec := call("Bearer " + valid)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "@alice:local", rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Token "+valid).Code)

	expired, err := utils.IssueToken("@alice:local", "alice", -time.Minute, key)
	require.NoError(t, err)
	rec = call("Bearer " + expired)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Token expired")

	notAUser, err := utils.IssueToken("alice", "alice", time.Hour, key)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer "+notAUser).Code)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged, err := utils.IssueToken("@alice:local", "alice", time.Hour, other)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer "+forged).Code)
}

func TestWithRequestId(t *testing.T) {
	var seen string
	handler := WithRequestId(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36, "a uuid is minted when none is sent")
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	assert.Equal(t, "unknown", RequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewRateLimiter(1, 2)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"), "burst spent")
	assert.True(t, limiter.Allow("b"), "keys have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("a"), "one token refilled")

	now = now.Add(limiterIdle + time.Second)
	limiter.Allow("c")
	limiter.mu.Lock()
	assert.NotContains(t, limiter.buckets, "a")
	assert.NotContains(t, limiter.buckets, "b")
	limiter.mu.Unlock()
}

func TestRateLimiter_Handler(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	serve := func(remote string, user id.UserID) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if user != "" {
			req = req.WithContext(contextWithUser(req, user))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve("10.0.0.1:5000", ""))
	assert.Equal(t, http.StatusTooManyRequests, serve("10.0.0.1:5001", ""))
	assert.Equal(t, http.StatusOK, serve("10.0.0.1:5002", "@alice:local"), "authenticated callers are keyed by user")
}

func contextWithUser(r *http.Request, userID id.UserID) context.Context {
	return context.WithValue(r.Context(), UserClaimsKey, userID)
}
