package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/animus-labs/animus-migrate/internal/platform/httpserver"
)

// Middleware authenticates every request outside SkipPrefixes and stores the
// identity in the request context.
type Middleware struct {
	Logger        *slog.Logger
	Authenticator Authenticator
	Authorize     AuthorizeFunc
	SkipPrefixes  []string
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.SkipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		identity, err := m.Authenticator.Authenticate(r.Context(), r)
		if err != nil {
			code := "invalid_token"
			if errors.Is(err, ErrUnauthenticated) {
				code = "unauthorized"
			}
			m.logDeny(r, http.StatusUnauthorized, code, err)
			httpserver.WriteError(w, r, http.StatusUnauthorized, code, nil)
			return
		}

		if m.Authorize != nil {
			if err := m.Authorize(r, identity); err != nil {
				m.logDeny(r, http.StatusForbidden, "forbidden", err, "subject", identity.Subject)
				httpserver.WriteError(w, r, http.StatusForbidden, "forbidden", nil)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}

func (m Middleware) logDeny(r *http.Request, status int, reason string, err error, extra ...any) {
	if m.Logger == nil {
		return
	}
	fields := []any{
		"reason", reason,
		"status", status,
		"method", r.Method,
		"path", r.URL.Path,
		"error", err.Error(),
	}
	if requestID, ok := httpserver.RequestIDFromContext(r.Context()); ok {
		fields = append(fields, "request_id", requestID)
	}
	m.Logger.Warn("auth deny", append(fields, extra...)...)
}
