package access

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opsdeck/opsdeck/internal/platform/httpx"
	"github.com/opsdeck/opsdeck/internal/shared"
)

// Handler exposes the caller's resolved entitlements to UI surfaces.
type Handler struct {
	logger   *slog.Logger
	resolver *Resolver
	repo     Repository
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, resolver *Resolver, repo Repository) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, resolver: resolver, repo: repo}
}

// MountRoutes registers access routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/api/me/access", h.handleAccess)
	r.Route("/api/admin/users", func(r chi.Router) {
		r.Use(Middleware{Repo: h.repo, Logger: h.logger}.RequireMinRole(RoleAdmin))
		r.Get("/{id}/access", h.handleUserAccess)
	})
}

type assignmentView struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	DepartmentID string `json:"department_id,omitempty"`
}

type accessResponse struct {
	EffectiveRole string           `json:"effective_role"`
	Roles         []assignmentView `json:"roles"`
	Departments   []string         `json:"departments"`
	AllDepts      bool             `json:"all_departments"`
	Stale         bool             `json:"stale,omitempty"`
}

// handleAccess resolves the session principal's entitlements. Pass
// ?refresh=1 after any write that mutates the caller's own assignments or
// grants; stale entitlement must never be used to permit an action.
func (h *Handler) handleAccess(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "not signed in")
		return
	}
	force := r.URL.Query().Get("refresh") == "1"

	snap, err := h.resolver.Resolve(r.Context(), sess.User(), force)
	if err != nil {
		h.logger.Warn("resolve entitlements", slog.Any("error", err))
	}

	resp := accessResponse{
		EffectiveRole: snap.EffectiveRole.String(),
		Roles:         make([]assignmentView, 0, len(snap.Roles)),
		Departments:   snap.AccessibleDepartments(),
		AllDepts:      snap.EffectiveRole == RoleDirector || snap.EffectiveRole == RoleSuperAdmin,
		Stale:         err != nil,
	}
	for _, a := range snap.Roles {
		resp.Roles = append(resp.Roles, assignmentView{ID: a.ID, Role: a.Role.String(), DepartmentID: a.DepartmentID})
	}
	if resp.Departments == nil {
		resp.Departments = []string{}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// handleUserAccess reads another principal's entitlements directly from
// storage. Admin surfaces never consult the caller-facing snapshot cache.
func (h *Handler) handleUserAccess(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "id")
	if principalID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "user id required")
		return
	}

	assignments, err := h.repo.ListAssignments(r.Context(), principalID)
	if err != nil {
		h.logger.Error("list assignments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	grants, err := h.repo.ListGrants(r.Context(), principalID)
	if err != nil {
		h.logger.Error("list grants", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	snap := &Snapshot{
		PrincipalID:   principalID,
		Roles:         assignments,
		Grants:        grants,
		EffectiveRole: EffectiveRole(assignments),
	}
	resp := accessResponse{
		EffectiveRole: snap.EffectiveRole.String(),
		Roles:         make([]assignmentView, 0, len(snap.Roles)),
		Departments:   snap.AccessibleDepartments(),
		AllDepts:      snap.EffectiveRole == RoleDirector || snap.EffectiveRole == RoleSuperAdmin,
	}
	for _, a := range snap.Roles {
		resp.Roles = append(resp.Roles, assignmentView{ID: a.ID, Role: a.Role.String(), DepartmentID: a.DepartmentID})
	}
	if resp.Departments == nil {
		resp.Departments = []string{}
	}
	httpx.JSON(w, http.StatusOK, resp)
}
