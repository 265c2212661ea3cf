package credreset

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/opsdeck/opsdeck/internal/platform/httpx"
	"github.com/opsdeck/opsdeck/internal/shared"
)

// Handler wires the privileged invocation channel for password resets.
type Handler struct {
	logger        *slog.Logger
	service       *Service
	validator     *validator.Validate
	allowedOrigin string
}

// NewHandler constructs a Handler instance. allowedOrigin configures CORS
// for cross-origin invocation of the reset endpoints.
func NewHandler(logger *slog.Logger, service *Service, allowedOrigin string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:        logger,
		service:       service,
		validator:     validator.New(),
		allowedOrigin: allowedOrigin,
	}
}

// MountRoutes registers reset routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/api/password-resets", func(r chi.Router) {
		r.Use(h.cors)
		r.Options("/*", h.preflight)
		r.Options("/", h.preflight)
		r.Post("/", h.handleInitiate)
		r.Post("/complete", h.handleComplete)
		r.Get("/pending", h.handlePending)
	})
}

type initiateRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	UserEmail string `json:"user_email" validate:"required,email"`
}

type completeRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid credential")
		return
	}

	var req initiateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.Initiate(r.Context(), sess.User(), req.UserID, req.UserEmail)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"expires_at": result.ExpiresAt,
	})
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.service.Complete(r.Context(), req.Token, req.NewPassword); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.Email() == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "not signed in")
		return
	}
	pending, err := h.service.CheckPending(r.Context(), sess.Email())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"has_pending_reset": pending.Pending,
		"reset_token":       pending.Token,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var weak *WeakPasswordError
	switch {
	case errors.As(err, &weak):
		httpx.Problem(w, http.StatusBadRequest, "Weak Password", weak.Rule)
	case errors.Is(err, ErrInvalidOrExpiredToken):
		// Never refined further: expired, consumed, and unknown tokens
		// all answer identically.
		httpx.Problem(w, http.StatusBadRequest, "Invalid Token", ErrInvalidOrExpiredToken.Error())
	case errors.Is(err, ErrBadRequest):
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid credential")
	case errors.Is(err, shared.ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "only super admins can reset passwords")
	default:
		h.logger.Error("password reset", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := h.allowedOrigin
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) preflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
