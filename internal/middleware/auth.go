// Package middleware provides the HTTP middleware for the application
// service: actor identity, rate limiting, internal-caller auth, and CORS.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lendcore/application_layer/internal/errors"
	"github.com/lendcore/application_layer/pkg/logger"
)

type contextKey string

const actorIDKey contextKey = "actor_id"

// ActorIDHeader carries the actor identity for trusted internal callers
// that do not present a bearer token.
const ActorIDHeader = "X-Actor-Id"

// Claims are the JWT claims the identity middleware understands. The actor
// id is the subject claim.
type Claims struct {
	jwt.RegisteredClaims
}

// ActorIdentity extracts the actor identity from each request. Identity is
// optional here: operations that require an actor reject the request
// themselves when none was resolved, so unauthenticated reads stay possible.
type ActorIdentity struct {
	secret []byte
	log    *logger.Logger
}

// NewActorIdentity creates the identity middleware. The secret verifies
// HMAC-signed bearer tokens; with an empty secret only the header fallback
// is honoured.
func NewActorIdentity(secret []byte, log *logger.Logger) *ActorIdentity {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &ActorIdentity{secret: secret, log: log}
}

// Handler resolves the actor id from a Bearer token and stores it in the
// request context. A malformed or forged token is rejected outright. The
// X-Actor-Id header is honoured only when no secret is configured: once
// tokens are in use, a client-supplied header must not impersonate anyone.
func (m *ActorIdentity) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" && len(m.secret) > 0 {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				m.reject(w, r, errors.Unauthorized("invalid Authorization header format"))
				return
			}
			actorID, err := m.validateToken(parts[1])
			if err != nil {
				m.log.WithError(err).Warn("token validation failed")
				m.reject(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActorID(r.Context(), actorID)))
			return
		}

		if len(m.secret) == 0 {
			if actorID := strings.TrimSpace(r.Header.Get(ActorIDHeader)); actorID != "" {
				next.ServeHTTP(w, r.WithContext(WithActorID(r.Context(), actorID)))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (m *ActorIdentity) validateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Unauthorized("unexpected token signing method").WithDetails("method", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return "", errors.Unauthorized("invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", errors.Unauthorized("invalid token")
	}
	return claims.Subject, nil
}

func (m *ActorIdentity) reject(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("authentication failed", err)
	}
	writeServiceError(w, se)
	m.log.WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": se.HTTPStatus,
	}).Warn("request rejected")
}

// WithActorID stores the actor id in the context.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey, actorID)
}

// ActorID returns the actor id resolved for the request, or "".
func ActorID(ctx context.Context) string {
	if id, ok := ctx.Value(actorIDKey).(string); ok {
		return id
	}
	return ""
}
