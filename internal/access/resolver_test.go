package access_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck/internal/access"
)

type fakeRepo struct {
	mu          sync.Mutex
	assignments map[string][]access.RoleAssignment
	grants      map[string][]access.DepartmentGrant
	profiles    map[string]*access.Profile
	fetches     atomic.Int64
	failNext    atomic.Bool
	// gate, when set, blocks ListAssignments until released.
	gate chan struct{}
}

var errFetch = errors.New("fetch failed")

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		assignments: make(map[string][]access.RoleAssignment),
		grants:      make(map[string][]access.DepartmentGrant),
		profiles:    make(map[string]*access.Profile),
	}
}

func (r *fakeRepo) ListAssignments(ctx context.Context, principalID string) ([]access.RoleAssignment, error) {
	r.fetches.Add(1)
	if r.gate != nil {
		<-r.gate
	}
	if r.failNext.Load() {
		return nil, errFetch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assignments[principalID], nil
}

func (r *fakeRepo) GetProfile(ctx context.Context, principalID string) (*access.Profile, error) {
	if r.failNext.Load() {
		return nil, errFetch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profiles[principalID], nil
}

func (r *fakeRepo) ListGrants(ctx context.Context, principalID string) ([]access.DepartmentGrant, error) {
	if r.failNext.Load() {
		return nil, errFetch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.grants[principalID], nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newResolver(repo *fakeRepo, clk *fakeClock) *access.Resolver {
	return access.NewResolver(repo, nil, 2*time.Minute, clk.Now)
}

func TestResolveCachesWithinTTL(t *testing.T) {
	repo := newFakeRepo()
	repo.assignments["u1"] = []access.RoleAssignment{{ID: "a", PrincipalID: "u1", Role: access.RoleManager}}
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	resolver := newResolver(repo, clk)

	first, err := resolver.Resolve(context.Background(), "u1", false)
	require.NoError(t, err)
	require.Equal(t, access.RoleManager, first.EffectiveRole)

	clk.Advance(time.Minute)
	second, err := resolver.Resolve(context.Background(), "u1", false)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.EqualValues(t, 1, repo.fetches.Load())
}

func TestResolveRefetchesAfterTTL(t *testing.T) {
	repo := newFakeRepo()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	resolver := newResolver(repo, clk)

	_, err := resolver.Resolve(context.Background(), "u1", false)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = resolver.Resolve(context.Background(), "u1", false)
	require.NoError(t, err)
	require.EqualValues(t, 2, repo.fetches.Load())
}

func TestResolveForceRefreshBypassesCache(t *testing.T) {
	repo := newFakeRepo()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	resolver := newResolver(repo, clk)

	_, err := resolver.Resolve(context.Background(), "u1", false)
	require.NoError(t, err)
	_, err = resolver.Resolve(context.Background(), "u1", true)
	require.NoError(t, err)
	require.EqualValues(t, 2, repo.fetches.Load())
}

func TestResolveFailsClosedWithoutCache(t *testing.T) {
	repo := newFakeRepo()
	repo.failNext.Store(true)
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	resolver := newResolver(repo, clk)

	snap, err := resolver.Resolve(context.Background(), "u1", false)
	require.Error(t, err)
	require.Equal(t, access.RoleStaff, snap.EffectiveRole)
	require.Empty(t, snap.Roles)
	require.Empty(t, snap.Grants)
}

func TestResolveRetainsSnapshotOnFetchError(t *testing.T) {
	repo := newFakeRepo()
	repo.assignments["u1"] = []access.RoleAssignment{{ID: "a", PrincipalID: "u1", Role: access.RoleAdmin}}
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	resolver := newResolver(repo, clk)

	first, err := resolver.Resolve(context.Background(), "u1", false)
	require.NoError(t, err)

	repo.failNext.Store(true)
	snap, err := resolver.Resolve(context.Background(), "u1", true)
	require.Error(t, err)
	require.Same(t, first, snap)
	require.Equal(t, access.RoleAdmin, snap.EffectiveRole)
}

func TestResolveIdentitySwitchInvalidates(t *testing.T) {
	repo := newFakeRepo()
	repo.assignments["u1"] = []access.RoleAssignment{{ID: "a", PrincipalID: "u1", Role: access.RoleSuperAdmin}}
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	resolver := newResolver(repo, clk)

	_, err := resolver.Resolve(context.Background(), "u1", false)
	require.NoError(t, err)

	snap, err := resolver.Resolve(context.Background(), "u2", false)
	require.NoError(t, err)
	require.Equal(t, "u2", snap.PrincipalID)
	require.Equal(t, access.RoleStaff, snap.EffectiveRole)
	require.EqualValues(t, 2, repo.fetches.Load())

	// Snapshots are never read across principals: u1 must refetch.
	_, err = resolver.Resolve(context.Background(), "u1", false)
	require.NoError(t, err)
	require.EqualValues(t, 3, repo.fetches.Load())
}

func TestResolveSharesInFlightFetch(t *testing.T) {
	repo := newFakeRepo()
	repo.gate = make(chan struct{})
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	resolver := newResolver(repo, clk)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*access.Snapshot, callers)
	errs := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = resolver.Resolve(context.Background(), "u1", false)
		}(i)
	}

	// Let every caller pile up behind the single in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(repo.gate)
	wg.Wait()

	require.EqualValues(t, 1, repo.fetches.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
	}
	for i := 1; i < callers; i++ {
		require.Same(t, results[0], results[i])
	}
}

func TestInvalidateDiscardsSnapshot(t *testing.T) {
	repo := newFakeRepo()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	resolver := newResolver(repo, clk)

	_, err := resolver.Resolve(context.Background(), "u1", false)
	require.NoError(t, err)

	resolver.Invalidate()
	_, err = resolver.Resolve(context.Background(), "u1", false)
	require.NoError(t, err)
	require.EqualValues(t, 2, repo.fetches.Load())
}
