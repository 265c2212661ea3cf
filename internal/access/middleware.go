package access

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/opsdeck/opsdeck/internal/shared"
)

// Middleware wires authorization helpers for HTTP handlers. Role checks are
// re-derived from storage on every request; client-asserted roles and the
// client-facing snapshot cache are never consulted here.
type Middleware struct {
	Repo   Repository
	Logger *slog.Logger
}

// RequireMinRole ensures the current user holds an effective role at or
// above min.
func (m Middleware) RequireMinRole(min Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID, ok := m.currentPrincipalID(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			assignments, err := m.Repo.ListAssignments(r.Context(), principalID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("derive role", slog.Any("error", err))
				}
				// Fail closed: an outage never grants elevated access.
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if EffectiveRole(assignments).AtLeast(min) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func (m Middleware) currentPrincipalID(r *http.Request) (string, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return "", false
	}
	id := strings.TrimSpace(sess.User())
	if id == "" {
		return "", false
	}
	return id, true
}
