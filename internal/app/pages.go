package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flightdeck/flightdeck/internal/auth"
	"github.com/flightdeck/flightdeck/internal/navigation"
	"github.com/flightdeck/flightdeck/internal/rbac"
	rbachttp "github.com/flightdeck/flightdeck/internal/rbac/http"
	"github.com/flightdeck/flightdeck/internal/shared"
	"github.com/flightdeck/flightdeck/internal/view"
)

// reservedLinks are served by dedicated handlers rather than placeholders.
var reservedLinks = map[string]bool{
	"/dashboard":   true,
	"/permissions": true,
}

// Pages renders the dashboard shell pages.
type Pages struct {
	templates *view.Engine
	logger    *slog.Logger
	guard     rbachttp.Middleware
}

// NewPages constructs Pages.
func NewPages(templates *view.Engine, logger *slog.Logger, guard rbachttp.Middleware) *Pages {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pages{templates: templates, logger: logger, guard: guard}
}

// MountRoutes attaches the welcome, dashboard and placeholder routes.
func (p *Pages) MountRoutes(r chi.Router) {
	r.NotFound(p.notFound)
	r.Get("/welcome", p.welcome)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	})
	r.With(p.guard.RequireAuth()).Get("/dashboard", p.dashboard)
	for _, route := range placeholderRoutes() {
		r.With(p.guard.Require(route.requirement)).Get(route.link, p.placeholder(route.label))
	}
}

type placeholderRoute struct {
	link        string
	label       string
	requirement rbac.Requirement
}

// placeholderRoutes derives one guarded route per navigation link. Variants of
// the same link widen the requirement; a variant without roles makes the page
// open to any signed-in principal.
func placeholderRoutes() []placeholderRoute {
	all := navigation.Entries()
	var routes []placeholderRoute
	for _, link := range navigation.Links() {
		if reservedLinks[link] {
			continue
		}
		route := placeholderRoute{link: link}
		open := false
		for _, entry := range all {
			if entry.Link != link {
				continue
			}
			if route.label == "" {
				route.label = entry.Label
			}
			if len(entry.Roles) == 0 {
				open = true
			}
			route.requirement.Roles = appendMissing(route.requirement.Roles, entry.Roles)
		}
		if open {
			route.requirement.Roles = nil
		}
		routes = append(routes, route)
	}
	return routes
}

func appendMissing(list, more []rbac.RoleName) []rbac.RoleName {
	for _, role := range more {
		if !rbac.HasRole(list, role) {
			list = append(list, role)
		}
	}
	return list
}

func (p *Pages) welcome(w http.ResponseWriter, r *http.Request) {
	if auth.StoreFromContext(r.Context()).IsAuthenticated() {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	p.render(w, r, "pages/welcome.html", "Flightdeck", nil)
}

func (p *Pages) dashboard(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, "pages/dashboard.html", "Dashboard", nil)
}

func (p *Pages) placeholder(fallback string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		title := fallback
		store := auth.StoreFromContext(r.Context())
		if store != nil && store.User() != nil {
			// The principal's own variant names the page.
			for _, entry := range navigation.Menu(store.Roles()) {
				if entry.Link == r.URL.Path {
					title = entry.Label
					break
				}
			}
		}
		p.render(w, r, "pages/placeholder.html", title, nil)
	}
}

func (p *Pages) notFound(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	p.render(w, r, "pages/error.html", "Page not found", "The page you requested does not exist.")
}

func (p *Pages) render(w http.ResponseWriter, r *http.Request, name, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   shared.CSRFTokenFromContext(r.Context()),
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Chrome:      auth.PageChrome(auth.StoreFromContext(r.Context())),
		Data:        data,
	}
	if err := p.templates.Render(w, name, viewData); err != nil {
		p.logger.Error("render page", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
