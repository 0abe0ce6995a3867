package review

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sentra-iam/sentra/internal/directory"
	"github.com/sentra-iam/sentra/internal/hierarchy"
	"github.com/sentra-iam/sentra/internal/platform/httpx"
	"github.com/sentra-iam/sentra/internal/session"
	"github.com/sentra-iam/sentra/internal/shared"
)

// SessionLoader resolves a live session, applying the lazy timeout.
type SessionLoader interface {
	Load(ctx context.Context, id string) (*session.Session, error)
}

// Handler exposes the review queries over JSON. Requests must carry a live
// session; review needs no admin role.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	sessions SessionLoader
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions SessionLoader) *Handler {
	return &Handler{logger: logger, service: service, sessions: sessions}
}

// MountRoutes registers review routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.requireSession)

	r.Get("/users", h.users)
	r.Get("/users/{name}", h.user)
	r.Get("/users/{name}/roles", h.assignedRoles)
	r.Get("/users/{name}/authorized-roles", h.authorizedRoles)

	r.Get("/roles", h.roles)
	r.Get("/roles/{name}", h.role)
	r.Get("/roles/{name}/users", h.assignedUsers)
	r.Get("/roles/{name}/authorized-users", h.authorizedUsers)
	r.Get("/roles/{name}/permissions", h.rolePermissions)
	r.Get("/roles/{name}/ascendants", h.ascendants)
	r.Get("/roles/{name}/descendants", h.descendants)

	r.Get("/admin-roles/{name}", h.adminRole)
	r.Get("/org-units/{kind}", h.orgUnits)
	r.Get("/sd-sets", h.sdSets)
	r.Get("/sd-sets/{name}", h.sdSet)
	r.Get("/permissions", h.permissions)
	r.Get("/permissions/lookup", h.permission)
	r.Get("/permissions/roles", h.permissionRoles)
}

func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Sentra-Session")
		if id == "" {
			httpx.Problem(w, http.StatusUnauthorized, "session required",
				"review requests must carry X-Sentra-Session", shared.CodeSessionNotFound)
			return
		}
		if _, err := h.sessions.Load(r.Context(), id); err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithSessionID(r.Context(), id)))
	})
}

func reply(w http.ResponseWriter, data any, err error) {
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, data)
}

func (h *Handler) users(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Users(r.Context(), r.URL.Query().Get("prefix"))
	reply(w, out, err)
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.User(r.Context(), chi.URLParam(r, "name"))
	reply(w, out, err)
}

func (h *Handler) assignedRoles(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.AssignedRoles(r.Context(), chi.URLParam(r, "name"))
	reply(w, out, err)
}

func (h *Handler) authorizedRoles(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.AuthorizedRoles(r.Context(), chi.URLParam(r, "name"))
	reply(w, out, err)
}

func (h *Handler) roles(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Roles(r.Context(), r.URL.Query().Get("prefix"))
	reply(w, out, err)
}

func (h *Handler) role(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Role(r.Context(), chi.URLParam(r, "name"))
	reply(w, out, err)
}

func (h *Handler) assignedUsers(w http.ResponseWriter, r *http.Request) {
	admin := r.URL.Query().Get("admin") == "true"
	out, err := h.service.AssignedUsers(r.Context(), chi.URLParam(r, "name"), admin)
	reply(w, out, err)
}

func (h *Handler) authorizedUsers(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.AuthorizedUsers(r.Context(), chi.URLParam(r, "name"))
	reply(w, out, err)
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.RolePermissions(r.Context(), chi.URLParam(r, "name"))
	reply(w, out, err)
}

func (h *Handler) ascendants(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Ascendants(r.Context(), hierarchy.KindRole, chi.URLParam(r, "name"))
	reply(w, out, err)
}

func (h *Handler) descendants(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Descendants(r.Context(), hierarchy.KindRole, chi.URLParam(r, "name"))
	reply(w, out, err)
}

func (h *Handler) adminRole(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.AdminRole(r.Context(), chi.URLParam(r, "name"))
	reply(w, out, err)
}

func (h *Handler) orgUnits(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.OrgUnits(r.Context(), hierarchy.Kind(chi.URLParam(r, "kind")))
	reply(w, out, err)
}

func (h *Handler) sdSets(w http.ResponseWriter, r *http.Request) {
	kind := directory.SDKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = directory.SSD
	}
	if role := r.URL.Query().Get("role"); role != "" {
		out, err := h.service.SDSetsForRole(r.Context(), kind, role)
		reply(w, out, err)
		return
	}
	out, err := h.service.SDSets(r.Context(), kind)
	reply(w, out, err)
}

func (h *Handler) sdSet(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.SDSet(r.Context(), chi.URLParam(r, "name"))
	reply(w, out, err)
}

func (h *Handler) permissions(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Permissions(r.Context(), r.URL.Query().Get("object"))
	reply(w, out, err)
}

func (h *Handler) permission(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := h.service.Permission(r.Context(), q.Get("object"), q.Get("object_id"), q.Get("operation"))
	reply(w, out, err)
}

func (h *Handler) permissionRoles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := h.service.PermissionRoles(r.Context(), q.Get("object"), q.Get("object_id"), q.Get("operation"))
	reply(w, out, err)
}
