package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flightdeck/flightdeck/internal/auth"
	"github.com/flightdeck/flightdeck/internal/platform/httpx"
	"github.com/flightdeck/flightdeck/internal/rbac"
	rbachttp "github.com/flightdeck/flightdeck/internal/rbac/http"
	"github.com/flightdeck/flightdeck/internal/shared"
	"github.com/flightdeck/flightdeck/internal/view"
)

const basePath = "/permissions"

// Handler manages the roles and permissions endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     rbachttp.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, guard rbachttp.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, guard: guard}
}

// MountRoutes registers role routes. Every route requires Super Admin or
// Admin.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.guard.RequireRoles(rbac.RoleSuperAdmin, rbac.RoleAdmin))
	r.Get("/", h.showMatrix)
	r.Get("/roles.json", h.listJSON)
	r.Post("/refresh", h.refresh)
	r.Post("/roles", h.createRole)
	r.Post("/roles/{id}/toggle", h.togglePermission)
	r.Post("/roles/{id}/rename", h.renameRole)
	r.Post("/roles/{id}/delete", h.deleteRole)
}

// PageData feeds the permission matrix template.
type PageData struct {
	Roles       []Entry
	Permissions []string
	FetchedAt   time.Time
	Stale       bool
}

func (h *Handler) showMatrix(w http.ResponseWriter, r *http.Request) {
	h.renderMatrix(w, r, false)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	h.renderMatrix(w, r, true)
}

func (h *Handler) renderMatrix(w http.ResponseWriter, r *http.Request, force bool) {
	store := auth.StoreFromContext(r.Context())
	catalog, err := h.service.Catalog(r.Context(), store, force)
	if err != nil {
		h.redirectWithFlash(w, r, "/dashboard", "error", "Your session has ended. Please sign in again.")
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if len(catalog.Roles) == 0 && catalog.Err != nil && sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "error", Message: "Could not load roles. Please try again shortly."})
	} else if force && sess != nil && catalog.Err == nil {
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Roles refreshed"})
	}
	if force {
		http.Redirect(w, r, basePath, http.StatusSeeOther)
		return
	}
	data := PageData{
		Roles:       catalog.Roles,
		Permissions: catalog.Permissions,
		FetchedAt:   catalog.FetchedAt,
		Stale:       catalog.Stale(),
	}
	h.render(w, r, "pages/permissions.html", data, http.StatusOK)
}

func (h *Handler) listJSON(w http.ResponseWriter, r *http.Request) {
	store := auth.StoreFromContext(r.Context())
	catalog, err := h.service.Catalog(r.Context(), store, r.URL.Query().Get("force") == "1")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if len(catalog.Roles) == 0 && catalog.Err != nil {
		httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "Could not load roles.")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"roles":       catalog.Roles,
		"permissions": catalog.Permissions,
		"fetchedAt":   catalog.FetchedAt,
		"stale":       catalog.Stale(),
	})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	store := auth.StoreFromContext(r.Context())
	entry, err := h.service.CreateRole(r.Context(), store, Draft{Name: r.PostFormValue("name"), Permissions: r.PostForm["permissions"]})
	if err != nil {
		h.fail(w, r, "create role", err)
		return
	}
	h.redirectWithFlash(w, r, basePath, "success", "Role "+entry.Name+" created")
}

func (h *Handler) togglePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	enabled, err := strconv.ParseBool(r.PostFormValue("enabled"))
	if err != nil {
		h.redirectWithFlash(w, r, basePath, "error", "Invalid permission state")
		return
	}
	store := auth.StoreFromContext(r.Context())
	update, err := h.service.TogglePermission(r.Context(), store, id, r.PostFormValue("permission"), enabled)
	if err != nil {
		h.fail(w, r, "toggle permission", err)
		return
	}
	msg := "Permissions updated"
	if update.Kind == UpdateForked {
		msg = "Created an organization copy of " + update.Role.Name + " with your changes"
	}
	h.redirectWithFlash(w, r, basePath, "success", msg)
}

func (h *Handler) renameRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	store := auth.StoreFromContext(r.Context())
	if _, err := h.service.RenameRole(r.Context(), store, id, r.PostFormValue("name")); err != nil {
		h.fail(w, r, "rename role", err)
		return
	}
	h.redirectWithFlash(w, r, basePath, "success", "Role renamed")
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	store := auth.StoreFromContext(r.Context())
	if err := h.service.DeleteRole(r.Context(), store, id); err != nil {
		h.fail(w, r, "delete role", err)
		return
	}
	h.redirectWithFlash(w, r, basePath, "success", "Role deleted")
}

func (h *Handler) roleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	var msg string
	switch {
	case errors.Is(err, ErrProtectedRole):
		msg = "The Super Admin role cannot be changed or deleted."
	case errors.Is(err, ErrNotFound):
		msg = "That role no longer exists."
	case errors.Is(err, ErrInvalidName):
		msg = "Enter a role name."
	case errors.Is(err, ErrInvalidPermission):
		msg = "Choose a permission."
	case errors.Is(err, ErrNoSession):
		msg = "Your session has ended. Please sign in again."
	default:
		h.logger.Error("roles: "+op, slog.Any("error", err))
		msg = "Something went wrong. Please try again."
	}
	h.redirectWithFlash(w, r, basePath, "error", msg)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data PageData, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Roles & Permissions",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Chrome:      auth.PageChrome(auth.StoreFromContext(r.Context())),
		Data:        data,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
