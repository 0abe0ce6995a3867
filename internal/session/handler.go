package session

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sentra-iam/sentra/internal/platform/httpx"
	"github.com/sentra-iam/sentra/internal/shared"
)

// Handler exposes the session state machine over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers session routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Post("/checks", h.createAndCheck)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/roles", h.addRole)
	r.Delete("/{id}/roles/{role}", h.dropRole)
	r.Post("/{id}/access", h.checkAccess)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid json", err.Error(), shared.CodeInvalidData)
		return
	}
	sess, err := h.service.Create(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sess)
}

type batchCheckRequest struct {
	CreateRequest
	Checks []PermRef `json:"checks"`
}

type batchCheckResponse struct {
	Session   *Session   `json:"session"`
	Decisions []Decision `json:"decisions"`
}

func (h *Handler) createAndCheck(w http.ResponseWriter, r *http.Request) {
	var req batchCheckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid json", err.Error(), shared.CodeInvalidData)
		return
	}
	sess, decisions, err := h.service.CreateAndCheckAccess(r.Context(), req.CreateRequest, req.Checks)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batchCheckResponse{Session: sess, Decisions: decisions})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Load(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		if err := h.service.Delete(r.Context(), sess); err != nil {
			httpx.RespondError(w, err)
			return
		}
	case shared.HasCode(err, shared.CodeSessionNotFound), shared.HasCode(err, shared.CodeSessionExpired):
		// already dead; termination is idempotent
	default:
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) addRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid json", err.Error(), shared.CodeInvalidData)
		return
	}
	sess, err := h.service.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.AddActiveRole(r.Context(), sess, req.Role); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) dropRole(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DropActiveRole(r.Context(), sess, chi.URLParam(r, "role")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

type accessResponse struct {
	Granted bool `json:"granted"`
}

func (h *Handler) checkAccess(w http.ResponseWriter, r *http.Request) {
	var ref PermRef
	if err := httpx.DecodeJSON(r, &ref); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid json", err.Error(), shared.CodeInvalidData)
		return
	}
	sess, err := h.service.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	granted, err := h.service.CheckAccess(r.Context(), sess, ref)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accessResponse{Granted: granted})
}
