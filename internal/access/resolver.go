package access

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Resolver caches one entitlement snapshot per process. Construct a single
// instance at startup and hand it to every consumer; callers only read
// through Resolve, the fetch-completion path is the sole writer.
type Resolver struct {
	repo   Repository
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	snapshot *Snapshot
	// identity is the principal the resolver currently serves. A fetch
	// that completes after the identity moved on is discarded.
	identity string
}

// NewResolver constructs a Resolver with the given cache TTL. The clock is
// injectable for tests; pass nil for time.Now.
func NewResolver(repo Repository, logger *slog.Logger, ttl time.Duration, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, logger: logger, ttl: ttl, now: now}
}

// Resolve returns the entitlement snapshot for the principal. Within the
// TTL window, repeated calls for the same principal are served from cache
// without touching the repository. Concurrent callers share a single
// in-flight fetch. On fetch failure a still-valid previous snapshot is
// returned alongside the error; without one the result fails closed to
// RoleStaff with no grants.
func (r *Resolver) Resolve(ctx context.Context, principalID string, forceRefresh bool) (*Snapshot, error) {
	if principalID == "" {
		return failClosed(""), fmt.Errorf("access: principal id required")
	}

	r.mu.Lock()
	// Switching identity invalidates the snapshot unconditionally,
	// regardless of TTL.
	if r.identity != principalID {
		r.identity = principalID
		r.snapshot = nil
	}
	if !forceRefresh {
		if snap := r.validSnapshotLocked(principalID); snap != nil {
			r.mu.Unlock()
			return snap, nil
		}
	}
	r.mu.Unlock()

	result := r.group.DoChan(principalID, func() (any, error) {
		return r.fetch(context.WithoutCancel(ctx), principalID)
	})

	select {
	case <-ctx.Done():
		return r.fallback(principalID, ctx.Err())
	case res := <-result:
		if res.Err != nil {
			return r.fallback(principalID, res.Err)
		}
		return res.Val.(*Snapshot), nil
	}
}

// Invalidate discards the cached snapshot. Call on sign-out.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.snapshot = nil
	r.identity = ""
	r.mu.Unlock()
}

func (r *Resolver) fetch(ctx context.Context, principalID string) (*Snapshot, error) {
	var (
		assignments []RoleAssignment
		profile     *Profile
		grants      []DepartmentGrant
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		assignments, err = r.repo.ListAssignments(gctx, principalID)
		return err
	})
	g.Go(func() error {
		var err error
		profile, err = r.repo.GetProfile(gctx, principalID)
		return err
	})
	g.Go(func() error {
		var err error
		grants, err = r.repo.ListGrants(gctx, principalID)
		return err
	})
	if err := g.Wait(); err != nil {
		// A partial failure never pollutes the cache.
		return nil, err
	}

	snap := &Snapshot{
		PrincipalID:   principalID,
		Roles:         assignments,
		Grants:        grants,
		Profile:       profile,
		EffectiveRole: EffectiveRole(assignments),
		FetchedAt:     r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity != principalID {
		// The live identity changed while the fetch was in flight.
		r.logger.Debug("discarding stale entitlement fetch",
			slog.String("fetched", principalID),
			slog.String("identity", r.identity))
		return snap, nil
	}
	r.snapshot = snap
	return snap, nil
}

// fallback serves a still-valid cached snapshot on fetch failure, or a
// fail-closed snapshot when none exists. The error is always surfaced.
func (r *Resolver) fallback(principalID string, cause error) (*Snapshot, error) {
	r.mu.Lock()
	snap := r.validSnapshotLocked(principalID)
	r.mu.Unlock()
	if snap != nil {
		return snap, cause
	}
	return failClosed(principalID), cause
}

func (r *Resolver) validSnapshotLocked(principalID string) *Snapshot {
	if r.snapshot == nil || r.snapshot.PrincipalID != principalID {
		return nil
	}
	if r.now().Sub(r.snapshot.FetchedAt) >= r.ttl {
		return nil
	}
	return r.snapshot
}

func failClosed(principalID string) *Snapshot {
	return &Snapshot{
		PrincipalID:   principalID,
		EffectiveRole: RoleStaff,
	}
}
