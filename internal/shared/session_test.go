package shared_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck/internal/shared"
	_ "github.com/opsdeck/opsdeck/testing"
)

func newTestManager(t *testing.T) (*shared.SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewSessionManager(client, "opsdeck_session", "test-secret", time.Hour, false), mr
}

func TestSessionRoundTrip(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	req := httptest.NewRequest("GET", "/", nil)
	sess, err := manager.Load(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	sess.SetUser("u1", "ana@opsdeck.test")
	sess.Set("theme", "dark")

	rec := httptest.NewRecorder()
	require.NoError(t, manager.Commit(ctx, rec, req, sess))

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	require.Equal(t, "opsdeck_session", cookies[0].Name)
	require.Equal(t, sess.ID, cookies[0].Value)

	loaded, err := manager.LoadByID(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "u1", loaded.User())
	require.Equal(t, "ana@opsdeck.test", loaded.Email())
	require.Equal(t, "dark", loaded.Get("theme"))
}

func TestLoadPrefersBearerToken(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	seed := httptest.NewRequest("GET", "/", nil)
	sess, err := manager.Load(ctx, seed)
	require.NoError(t, err)
	sess.SetUser("u1", "ana@opsdeck.test")
	require.NoError(t, manager.Commit(ctx, httptest.NewRecorder(), seed, sess))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+sess.ID)
	req.AddCookie(&http.Cookie{Name: "opsdeck_session", Value: "stale-cookie-id"})

	loaded, err := manager.Load(ctx, req)
	require.NoError(t, err)
	require.Equal(t, sess.ID, loaded.ID)
	require.Equal(t, "u1", loaded.User())
}

func TestLoadUnknownBearerFallsBackToFreshSession(t *testing.T) {
	manager, _ := newTestManager(t)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer nope")

	sess, err := manager.Load(context.Background(), req)
	require.NoError(t, err)
	require.Empty(t, sess.User())
}

func TestDestroyClearsSessionAndCookie(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	req := httptest.NewRequest("GET", "/", nil)
	sess, err := manager.Load(ctx, req)
	require.NoError(t, err)
	sess.SetUser("u1", "ana@opsdeck.test")
	require.NoError(t, manager.Commit(ctx, httptest.NewRecorder(), req, sess))

	manager.Destroy(sess)
	require.True(t, sess.Destroyed())

	rec := httptest.NewRecorder()
	require.NoError(t, manager.Commit(ctx, rec, req, sess))

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	require.Equal(t, -1, cookies[0].MaxAge)

	_, err = manager.LoadByID(ctx, sess.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDestroyAllForUser(t *testing.T) {
	manager, mr := newTestManager(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/", nil)
		sess, err := manager.Load(ctx, req)
		require.NoError(t, err)
		sess.SetUser("u1", "ana@opsdeck.test")
		require.NoError(t, manager.Commit(ctx, httptest.NewRecorder(), req, sess))
		ids = append(ids, sess.ID)
	}

	// A different user's session must survive the revocation.
	otherReq := httptest.NewRequest("GET", "/", nil)
	other, err := manager.Load(ctx, otherReq)
	require.NoError(t, err)
	other.SetUser("u2", "bo@opsdeck.test")
	require.NoError(t, manager.Commit(ctx, httptest.NewRecorder(), otherReq, other))

	require.NoError(t, manager.DestroyAllForUser(ctx, "u1"))

	for _, id := range ids {
		_, err := manager.LoadByID(ctx, id)
		require.ErrorIs(t, err, shared.ErrNotFound)
	}
	require.False(t, mr.Exists("user_sessions:u1"))

	loaded, err := manager.LoadByID(ctx, other.ID)
	require.NoError(t, err)
	require.Equal(t, "u2", loaded.User())
}

func TestFlashMessages(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	req := httptest.NewRequest("GET", "/", nil)
	sess, err := manager.Load(ctx, req)
	require.NoError(t, err)

	sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "welcome"})
	require.NoError(t, manager.Commit(ctx, httptest.NewRecorder(), req, sess))

	loaded, err := manager.LoadByID(ctx, sess.ID)
	require.NoError(t, err)
	msg := loaded.PopFlash()
	require.NotNil(t, msg)
	require.Equal(t, "welcome", msg.Message)
	require.Nil(t, loaded.PopFlash())
}
