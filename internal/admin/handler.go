package admin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sentra-iam/sentra/internal/hierarchy"
	"github.com/sentra-iam/sentra/internal/platform/httpx"
	"github.com/sentra-iam/sentra/internal/session"
	"github.com/sentra-iam/sentra/internal/shared"
)

// SessionHeader carries the engine session id on administrative requests.
const SessionHeader = "X-Sentra-Session"

// SessionLoader resolves a live session, applying the lazy timeout.
type SessionLoader interface {
	Load(ctx context.Context, id string) (*session.Session, error)
}

// Handler exposes the delegated administrative surface over JSON. Every
// request must carry a live session whose admin roles authorize the
// operation.
type Handler struct {
	logger    *slog.Logger
	delegated *Delegated
	sessions  SessionLoader
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, delegated *Delegated, sessions SessionLoader) *Handler {
	return &Handler{logger: logger, delegated: delegated, sessions: sessions}
}

// MountRoutes registers admin routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/users", h.createUser)
	r.Put("/users/{name}", h.updateUser)
	r.Delete("/users/{name}", h.deleteUser)
	r.Post("/users/{name}/lock", h.lockUser)
	r.Delete("/users/{name}/lock", h.unlockUser)

	r.Post("/roles", h.createRole)
	r.Put("/roles/{name}", h.updateRole)
	r.Delete("/roles/{name}", h.deleteRole)
	r.Post("/roles/inheritance", h.addInheritance)
	r.Delete("/roles/inheritance/{parent}/{child}", h.deleteInheritance)

	r.Post("/assignments", h.assign)
	r.Delete("/assignments/{user}/{role}", h.deassign)

	r.Post("/admin-roles", h.createAdminRole)
	r.Put("/admin-roles/{name}", h.updateAdminRole)
	r.Delete("/admin-roles/{name}", h.deleteAdminRole)
	r.Post("/admin-roles/inheritance", h.addAdminInheritance)
	r.Delete("/admin-roles/inheritance/{parent}/{child}", h.deleteAdminInheritance)

	r.Post("/org-units", h.createOrgUnit)
	r.Delete("/org-units/{kind}/{name}", h.deleteOrgUnit)
	r.Post("/org-units/{kind}/inheritance", h.addOrgUnitInheritance)
	r.Delete("/org-units/{kind}/inheritance/{parent}/{child}", h.deleteOrgUnitInheritance)

	r.Post("/sd-sets", h.createSDSet)
	r.Put("/sd-sets/{name}", h.updateSDSet)
	r.Delete("/sd-sets/{name}", h.deleteSDSet)

	r.Post("/permissions", h.createPermission)
	r.Delete("/permissions", h.deletePermission)
	r.Post("/permissions/grants", h.grant)
	r.Delete("/permissions/grants", h.revoke)
}

// actor authenticates the request's engine session and extracts the acting
// administrator.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		httpx.Problem(w, http.StatusUnauthorized, "session required",
			"administrative requests must carry "+SessionHeader, shared.CodeSessionNotFound)
		return Actor{}, false
	}
	sess, err := h.sessions.Load(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return Actor{}, false
	}
	return Actor{Name: sess.User, AdminRoles: sess.AdminRoles}, true
}

func decode[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid json", err.Error(), shared.CodeInvalidData)
		return req, false
	}
	return req, true
}

func respond(w http.ResponseWriter, status int, data any, err error) {
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.JSON(w, status, data)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := decode[UserRequest](w, r)
	if !ok {
		return
	}
	u, err := h.delegated.CreateUser(r.Context(), actor, req)
	respond(w, http.StatusCreated, u, err)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := decode[UserRequest](w, r)
	if !ok {
		return
	}
	req.Name = chi.URLParam(r, "name")
	u, err := h.delegated.UpdateUser(r.Context(), actor, req)
	respond(w, http.StatusOK, u, err)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	respond(w, 0, nil, h.delegated.DeleteUser(r.Context(), actor, chi.URLParam(r, "name")))
}

func (h *Handler) lockUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	respond(w, 0, nil, h.delegated.LockUser(r.Context(), actor, chi.URLParam(r, "name")))
}

func (h *Handler) unlockUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	respond(w, 0, nil, h.delegated.UnlockUser(r.Context(), actor, chi.URLParam(r, "name")))
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := decode[RoleRequest](w, r)
	if !ok {
		return
	}
	role, err := h.delegated.CreateRole(r.Context(), actor, req)
	respond(w, http.StatusCreated, role, err)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := decode[RoleRequest](w, r)
	if !ok {
		return
	}
	req.Name = chi.URLParam(r, "name")
	role, err := h.delegated.UpdateRole(r.Context(), actor, req)
	respond(w, http.StatusOK, role, err)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	respond(w, 0, nil, h.delegated.DeleteRole(r.Context(), actor, chi.URLParam(r, "name")))
}

type edgeRequest struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
}

func (h *Handler) addInheritance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := decode[edgeRequest](w, r)
	if !ok {
		return
	}
	respond(w, 0, nil, h.delegated.AddInheritance(r.Context(), actor, req.Parent, req.Child))
}

func (h *Handler) deleteInheritance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	respond(w, 0, nil, h.delegated.DeleteInheritance(r.Context(), actor,
		chi.URLParam(r, "parent"), chi.URLParam(r, "child")))
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := decode[AssignRequest](w, r)
	if !ok {
		return
	}
	respond(w, 0, nil, h.delegated.AssignUser(r.Context(), actor, req))
}

func (h *Handler) deassign(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	admin := r.URL.Query().Get("admin") == "true"
	respond(w, 0, nil, h.delegated.DeassignUser(r.Context(), actor,
		chi.URLParam(r, "user"), chi.URLParam(r, "role"), admin))
}

func (h *Handler) createAdminRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := decode[AdminRoleRequest](w, r)
	if !ok {
		return
	}
	role, err := h.delegated.CreateAdminRole(r.Context(), actor, req)
	respond(w, http.StatusCreated, role, err)
}

func (h *Handler) updateAdminRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := decode[AdminRoleRequest](w, r)
	if !ok {
		return
	}
	req.Name = chi.URLParam(r, "name")
	role, err := h.delegated.UpdateAdminRole(r.Context(), actor, req)
	respond(w, http.StatusOK, role, err)
}

func (h *Handler) deleteAdminRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	respond(w, 0, nil, h.delegated.DeleteAdminRole(r.Context(), actor, chi.URLParam(r, "name")))
}

func (h *Handler) addAdminInheritance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := decode[edgeRequest](w, r)
	if !ok {
		return
	}
	respond(w, 0, nil, h.delegated.AddAdminInheritance(r.Context(), actor, req.Parent, req.Child))
}

func (h *Handler) deleteAdminInheritance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	respond(w, 0, nil, h.delegated.DeleteAdminInheritance(r.Context(), actor,
		chi.URLParam(r, "parent"), chi.URLParam(r, "child")))
}

func (h *Handler) createOrgUnit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := decode[OrgUnitRequest](w, r)
	if !ok {
		return
	}
	ou, err := h.delegated.CreateOrgUnit(r.Context(), actor, req)
	respond(w, http.StatusCreated, ou, err)
}

func (h *Handler) deleteOrgUnit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	respond(w, 0, nil, h.delegated.DeleteOrgUnit(r.Context(), actor,
		hierarchy.Kind(chi.URLParam(r, "kind")), chi.URLParam(r, "name")))
}

func (h *Handler) addOrgUnitInheritance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := decode[edgeRequest](w, r)
	if !ok {
		return
	}
	respond(w, 0, nil, h.delegated.AddOrgUnitInheritance(r.Context(), actor,
		hierarchy.Kind(chi.URLParam(r, "kind")), req.Parent, req.Child))
}

func (h *Handler) deleteOrgUnitInheritance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	respond(w, 0, nil, h.delegated.DeleteOrgUnitInheritance(r.Context(), actor,
		hierarchy.Kind(chi.URLParam(r, "kind")),
		chi.URLParam(r, "parent"), chi.URLParam(r, "child")))
}

func (h *Handler) createSDSet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := decode[SDSetRequest](w, r)
	if !ok {
		return
	}
	set, err := h.delegated.CreateSDSet(r.Context(), actor, req)
	respond(w, http.StatusCreated, set, err)
}

func (h *Handler) updateSDSet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := decode[SDSetRequest](w, r)
	if !ok {
		return
	}
	req.Name = chi.URLParam(r, "name")
	set, err := h.delegated.UpdateSDSet(r.Context(), actor, req)
	respond(w, http.StatusOK, set, err)
}

func (h *Handler) deleteSDSet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	respond(w, 0, nil, h.delegated.DeleteSDSet(r.Context(), actor, chi.URLParam(r, "name")))
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := decode[PermissionRequest](w, r)
	if !ok {
		return
	}
	p, err := h.delegated.CreatePermission(r.Context(), actor, req)
	respond(w, http.StatusCreated, p, err)
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	respond(w, 0, nil, h.delegated.DeletePermission(r.Context(), actor,
		q.Get("object"), q.Get("object_id"), q.Get("operation")))
}

type grantRequest struct {
	PermissionRequest
	Role string `json:"role,omitempty"`
	User string `json:"user,omitempty"`
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := decode[grantRequest](w, r)
	if !ok {
		return
	}
	var err error
	switch {
	case req.Role != "":
		err = h.delegated.GrantToRole(r.Context(), actor, req.PermissionRequest, req.Role)
	case req.User != "":
		err = h.delegated.GrantToUser(r.Context(), actor, req.PermissionRequest, req.User)
	default:
		err = shared.NewError(shared.CodeNullInput, shared.KindValidation, "grant requires a role or user")
	}
	respond(w, 0, nil, err)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, ok := decode[grantRequest](w, r)
	if !ok {
		return
	}
	var err error
	switch {
	case req.Role != "":
		err = h.delegated.RevokeFromRole(r.Context(), actor, req.PermissionRequest, req.Role)
	case req.User != "":
		err = h.delegated.RevokeFromUser(r.Context(), actor, req.PermissionRequest, req.User)
	default:
		err = shared.NewError(shared.CodeNullInput, shared.KindValidation, "revoke requires a role or user")
	}
	respond(w, 0, nil, err)
}
