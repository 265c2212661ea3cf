// Package enforcer converts a server-side password reset intent into an
// actual session kill within one navigation of it being issued.
package enforcer

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/opsdeck/opsdeck/internal/credreset"
	"github.com/opsdeck/opsdeck/internal/observability"
	"github.com/opsdeck/opsdeck/internal/shared"
)

// CompletionPath is where users finish an administrator-initiated reset.
const CompletionPath = "/password-reset"

// PendingChecker reports whether a live reset token exists for an email.
type PendingChecker interface {
	CheckPending(ctx context.Context, email string) (credreset.PendingReset, error)
}

// SignOuter terminates the live session with global scope.
type SignOuter interface {
	SignOutGlobal(ctx context.Context, sess *shared.Session)
}

// Enforcer checks, on every qualifying navigation, whether the current
// identity has a pending administrator-initiated reset. Two states, idle
// and handling, guarded by a single in-flight flag: rapid navigations
// never trigger concurrent handling.
type Enforcer struct {
	logger  *slog.Logger
	checker PendingChecker
	signOut SignOuter
	metrics *observability.Metrics

	handling atomic.Bool

	// allowlist of path prefixes the enforcer must not interfere with.
	exempt []string
}

// New constructs an Enforcer.
func New(logger *slog.Logger, checker PendingChecker, signOut SignOuter, metrics *observability.Metrics) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{
		logger:  logger,
		checker: checker,
		signOut: signOut,
		metrics: metrics,
		exempt:  []string{CompletionPath, "/auth", "/api/password-resets"},
	}
}

// Middleware runs the pending-reset check before the wrapped handler.
func (e *Enforcer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.User() == "" || sess.Email() == "" {
			next.ServeHTTP(w, r)
			return
		}
		if e.isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		// Idle -> Handling. Navigations racing in while a check is in
		// flight pass through untouched.
		if !e.handling.CompareAndSwap(false, true) {
			next.ServeHTTP(w, r)
			return
		}
		defer e.handling.Store(false)

		pending, err := e.checker.CheckPending(r.Context(), sess.Email())
		if err != nil {
			// Fail open on detection: a transient blip must not log
			// every user out. The reset service itself never fails open.
			e.logger.Warn("pending reset check", slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}
		if !pending.Pending || pending.Token == "" {
			next.ServeHTTP(w, r)
			return
		}

		e.logger.Info("pending password reset, terminating session",
			slog.String("principal", sess.User()))
		email := sess.Email()
		e.signOut.SignOutGlobal(r.Context(), sess)
		e.metrics.SecurityEvent("forced_logout")

		query := url.Values{}
		query.Set("token", pending.Token)
		query.Set("email", email)
		http.Redirect(w, r, CompletionPath+"?"+query.Encode(), http.StatusSeeOther)
	})
}

func (e *Enforcer) isExempt(path string) bool {
	for _, prefix := range e.exempt {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
