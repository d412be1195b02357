package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret []byte, subject string) string {
	t.Helper()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func echoActor() (http.Handler, *string) {
	var captured string
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = ActorID(r.Context())
		w.WriteHeader(http.StatusOK)
	}), &captured
}

func TestActorIdentityBearerToken(t *testing.T) {
	secret := []byte("test-secret")
	next, captured := echoActor()
	handler := NewActorIdentity(secret, nil).Handler(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, secret, "user-42"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if *captured != "user-42" {
		t.Fatalf("actor id: %q", *captured)
	}
}

func TestActorIdentityForgedToken(t *testing.T) {
	next, _ := echoActor()
	handler := NewActorIdentity([]byte("real-secret"), nil).Handler(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, []byte("wrong-secret"), "user-42"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestActorIdentityMalformedHeader(t *testing.T) {
	next, _ := echoActor()
	handler := NewActorIdentity([]byte("secret"), nil).Handler(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestActorIdentityHeaderFallback(t *testing.T) {
	next, captured := echoActor()
	handler := NewActorIdentity(nil, nil).Handler(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorIDHeader, "internal-caller")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if *captured != "internal-caller" {
		t.Fatalf("actor id: %q", *captured)
	}
}

func TestActorIdentityAnonymousPassesThrough(t *testing.T) {
	next, captured := echoActor()
	handler := NewActorIdentity([]byte("secret"), nil).Handler(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if *captured != "" {
		t.Fatalf("expected no actor, got %q", *captured)
	}
}

func TestRateLimiter(t *testing.T) {
	next, _ := echoActor()
	handler := NewRateLimiter(1, 2, nil).Handler(next)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("burst should be admitted: %v", codes)
	}
	if codes[3] != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %v", codes)
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	next, _ := echoActor()
	handler := NewRateLimiter(1, 1, nil).Handler(next)

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	first.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first caller: %d", rec.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "/", nil)
	second.RemoteAddr = "10.0.0.2:1234"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	if rec.Code != http.StatusOK {
		t.Fatalf("second caller should have its own bucket: %d", rec.Code)
	}
}

func TestInternalAuth(t *testing.T) {
	next, _ := echoActor()
	handler := NewInternalAuth("shared-token", nil).Handler(next)

	req := httptest.NewRequest(http.MethodDelete, "/internal/applications/by-applicant/u1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing token: expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/internal/applications/by-applicant/u1", nil)
	req.Header.Set(InternalTokenHeader, "shared-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: expected 200, got %d", rec.Code)
	}
}

func TestInternalAuthDisabledWithoutToken(t *testing.T) {
	next, _ := echoActor()
	handler := NewInternalAuth("", nil).Handler(next)

	req := httptest.NewRequest(http.MethodDelete, "/internal/applications/by-product/p1", nil)
	req.Header.Set(InternalTokenHeader, "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when no token configured, got %d", rec.Code)
	}
}

func TestActorIdentityHeaderIgnoredWithSecret(t *testing.T) {
	next, captured := echoActor()
	handler := NewActorIdentity([]byte("secret"), nil).Handler(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorIDHeader, "admin-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if *captured != "" {
		t.Fatalf("header must not impersonate when tokens are configured, got %q", *captured)
	}
}

func TestRateLimiterCleanupBound(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	for i := 0; i <= maxTrackedKeys; i++ {
		rl.getLimiter(fmt.Sprintf("key-%d", i))
	}
	rl.Cleanup()
	if n := len(rl.limiters); n != 0 {
		t.Fatalf("expected the map to reset past the bound, kept %d", n)
	}

	rl.getLimiter("key-a")
	rl.Cleanup()
	if n := len(rl.limiters); n != 1 {
		t.Fatalf("expected a small map to survive cleanup, got %d", n)
	}
}

func TestRateLimiterLifecycle(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	if rl.Name() != "rate-limiter" {
		t.Fatalf("name: %q", rl.Name())
	}
	if err := rl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rl.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := rl.Stop(context.Background()); err != nil {
		t.Fatalf("repeated stop: %v", err)
	}
}
