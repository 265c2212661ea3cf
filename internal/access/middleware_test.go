package access_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck/internal/access"
	"github.com/opsdeck/opsdeck/internal/shared"
)

func sessionForPrincipal(t *testing.T, userID string) *shared.Session {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	manager := shared.NewSessionManager(client, "opsdeck_session", "secret", time.Hour, false)
	sess, err := manager.Load(context.Background(), httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	sess.SetUser(userID, userID+"@opsdeck.test")
	return sess
}

func runGuarded(t *testing.T, repo *fakeRepo, min access.Role, sess *shared.Session) *httptest.ResponseRecorder {
	t.Helper()
	guarded := access.Middleware{Repo: repo}.RequireMinRole(min)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest("GET", "/api/admin/users/u2/access", nil)
	if sess != nil {
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	}
	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	return rec
}

func TestRequireMinRole(t *testing.T) {
	repo := newFakeRepo()
	repo.assignments["admin-1"] = []access.RoleAssignment{{ID: "a", PrincipalID: "admin-1", Role: access.RoleAdmin}}
	repo.assignments["staff-1"] = []access.RoleAssignment{{ID: "b", PrincipalID: "staff-1", Role: access.RoleStaff}}

	rec := runGuarded(t, repo, access.RoleAdmin, sessionForPrincipal(t, "admin-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = runGuarded(t, repo, access.RoleAdmin, sessionForPrincipal(t, "staff-1"))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = runGuarded(t, repo, access.RoleAdmin, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireMinRoleFailsClosedOnLookupError(t *testing.T) {
	repo := newFakeRepo()
	repo.assignments["admin-1"] = []access.RoleAssignment{{ID: "a", PrincipalID: "admin-1", Role: access.RoleAdmin}}
	repo.failNext.Store(true)

	rec := runGuarded(t, repo, access.RoleAdmin, sessionForPrincipal(t, "admin-1"))
	require.Equal(t, http.StatusForbidden, rec.Code)
}
