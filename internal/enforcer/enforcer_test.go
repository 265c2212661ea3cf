package enforcer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck/internal/credreset"
	"github.com/opsdeck/opsdeck/internal/shared"
	_ "github.com/opsdeck/opsdeck/testing"
)

type fakeChecker struct {
	calls   int
	pending credreset.PendingReset
	err     error
}

func (f *fakeChecker) CheckPending(ctx context.Context, email string) (credreset.PendingReset, error) {
	f.calls++
	return f.pending, f.err
}

type fakeSignOuter struct {
	signedOut []*shared.Session
}

func (f *fakeSignOuter) SignOutGlobal(ctx context.Context, sess *shared.Session) {
	f.signedOut = append(f.signedOut, sess)
}

func authedSession(t *testing.T) *shared.Session {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	manager := shared.NewSessionManager(client, "opsdeck_session", "secret", time.Hour, false)
	sess, err := manager.Load(context.Background(), httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	sess.SetUser("u1", "ana@opsdeck.test")
	return sess
}

func serve(t *testing.T, e *Enforcer, path string, sess *shared.Session) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	reachedNext := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reachedNext = true
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest("GET", path, nil)
	if sess != nil {
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	}
	rec := httptest.NewRecorder()
	e.Middleware(next).ServeHTTP(rec, req)
	return rec, reachedNext
}

func TestMiddlewareRedirectsOnPendingReset(t *testing.T) {
	checker := &fakeChecker{pending: credreset.PendingReset{Pending: true, Token: "tok-1", Email: "ana@opsdeck.test"}}
	signOuter := &fakeSignOuter{}
	e := New(nil, checker, signOuter, nil)
	sess := authedSession(t)

	rec, reachedNext := serve(t, e, "/dashboard", sess)

	require.False(t, reachedNext)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Len(t, signOuter.signedOut, 1)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, CompletionPath, loc.Path)
	require.Equal(t, "tok-1", loc.Query().Get("token"))
	require.Equal(t, "ana@opsdeck.test", loc.Query().Get("email"))
}

func TestMiddlewarePassesWithoutPendingReset(t *testing.T) {
	checker := &fakeChecker{}
	signOuter := &fakeSignOuter{}
	e := New(nil, checker, signOuter, nil)

	rec, reachedNext := serve(t, e, "/dashboard", authedSession(t))

	require.True(t, reachedNext)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, checker.calls)
	require.Empty(t, signOuter.signedOut)
}

func TestMiddlewareSkipsUnauthenticated(t *testing.T) {
	checker := &fakeChecker{pending: credreset.PendingReset{Pending: true, Token: "tok-1"}}
	e := New(nil, checker, &fakeSignOuter{}, nil)

	_, reachedNext := serve(t, e, "/dashboard", nil)

	require.True(t, reachedNext)
	require.Zero(t, checker.calls)
}

func TestMiddlewareSkipsExemptPaths(t *testing.T) {
	checker := &fakeChecker{pending: credreset.PendingReset{Pending: true, Token: "tok-1"}}
	signOuter := &fakeSignOuter{}
	e := New(nil, checker, signOuter, nil)
	sess := authedSession(t)

	for _, path := range []string{"/password-reset", "/password-reset?token=x", "/auth/login", "/api/password-resets/complete"} {
		_, reachedNext := serve(t, e, path, sess)
		require.True(t, reachedNext, "path %s must be exempt", path)
	}
	require.Zero(t, checker.calls)
	require.Empty(t, signOuter.signedOut)
}

func TestMiddlewareFailsOpenOnCheckError(t *testing.T) {
	checker := &fakeChecker{err: errors.New("storage down")}
	signOuter := &fakeSignOuter{}
	e := New(nil, checker, signOuter, nil)

	rec, reachedNext := serve(t, e, "/dashboard", authedSession(t))

	require.True(t, reachedNext)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, signOuter.signedOut)
}

func TestMiddlewarePassesThroughWhileHandling(t *testing.T) {
	checker := &fakeChecker{pending: credreset.PendingReset{Pending: true, Token: "tok-1"}}
	e := New(nil, checker, &fakeSignOuter{}, nil)
	e.handling.Store(true)

	_, reachedNext := serve(t, e, "/dashboard", authedSession(t))

	require.True(t, reachedNext)
	require.Zero(t, checker.calls)
}

func TestMiddlewareReleasesHandlingFlag(t *testing.T) {
	checker := &fakeChecker{}
	e := New(nil, checker, &fakeSignOuter{}, nil)
	sess := authedSession(t)

	_, _ = serve(t, e, "/dashboard", sess)
	_, _ = serve(t, e, "/dashboard", sess)

	require.Equal(t, 2, checker.calls)
	require.False(t, e.handling.Load())
}

func TestMiddlewareIgnoresPendingWithoutToken(t *testing.T) {
	checker := &fakeChecker{pending: credreset.PendingReset{Pending: true}}
	signOuter := &fakeSignOuter{}
	e := New(nil, checker, signOuter, nil)

	_, reachedNext := serve(t, e, "/dashboard", authedSession(t))

	require.True(t, reachedNext)
	require.Empty(t, signOuter.signedOut)
}
