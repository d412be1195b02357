package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/lendcore/application_layer/internal/errors"
	"github.com/lendcore/application_layer/pkg/logger"
)

// InternalTokenHeader carries the shared secret for trusted upstream
// services calling the internal endpoints.
const InternalTokenHeader = "X-Internal-Token"

// InternalAuth guards the internal bulk endpoints: only the owning upstream
// services hold the shared token. With no token configured the endpoints are
// closed entirely.
type InternalAuth struct {
	token string
	log   *logger.Logger
}

// NewInternalAuth creates the internal-caller guard.
func NewInternalAuth(token string, log *logger.Logger) *InternalAuth {
	if log == nil {
		log = logger.NewDefault("internal-auth")
	}
	return &InternalAuth{token: token, log: log}
}

// Handler returns the guard handler.
func (m *InternalAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.token == "" {
			m.log.WithField("path", r.URL.Path).Warn("internal endpoint called with no token configured")
			writeServiceError(w, errors.Forbidden("internal endpoints disabled"))
			return
		}
		presented := r.Header.Get(InternalTokenHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(m.token)) != 1 {
			writeServiceError(w, errors.Forbidden("invalid internal token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
