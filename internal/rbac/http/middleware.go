// Package rbachttp renders route guard decisions over HTTP.
package rbachttp

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flightdeck/flightdeck/internal/auth"
	"github.com/flightdeck/flightdeck/internal/platform/httpx"
	"github.com/flightdeck/flightdeck/internal/rbac"
	"github.com/flightdeck/flightdeck/internal/shared"
	"github.com/flightdeck/flightdeck/internal/view"
)

// DecisionObserver is notified of every guard decision.
type DecisionObserver interface {
	ObserveGuardDecision(outcome string)
}

// Middleware wires route guard decisions into HTTP handlers.
type Middleware struct {
	Templates  *view.Engine
	Logger     *slog.Logger
	Observer   DecisionObserver
	RetryAfter time.Duration
}

// RequireAuth only requires a signed-in principal.
func (m Middleware) RequireAuth() func(http.Handler) http.Handler {
	return m.Require(rbac.Requirement{})
}

// RequireRoles requires any of roles.
func (m Middleware) RequireRoles(roles ...rbac.RoleName) func(http.Handler) http.Handler {
	return m.Require(rbac.Requirement{Roles: roles})
}

// RequirePermission requires a single permission.
func (m Middleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return m.Require(rbac.Requirement{Permission: permission})
}

// Require guards the next handler with req. A pending session gets a 503
// that refreshes itself, an anonymous visitor is redirected to the public
// entry page, and a principal lacking req gets a 403 naming what is missing.
func (m Middleware) Require(req rbac.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			store := auth.StoreFromContext(r.Context())
			var subject rbac.Subject
			if store != nil {
				subject = store
			}
			decision := rbac.Decide(subject, req)
			if m.Observer != nil {
				m.Observer.ObserveGuardDecision(decision.Outcome.String())
			}

			switch decision.Outcome {
			case rbac.OutcomeAllow:
				next.ServeHTTP(w, r)
			case rbac.OutcomePending:
				m.pending(w, r)
			case rbac.OutcomeRedirect:
				if wantsJSON(r) {
					httpx.RespondError(w, auth.ErrUnauthorized)
					return
				}
				http.Redirect(w, r, decision.Location, http.StatusSeeOther)
			default:
				m.deny(w, r, store, decision.Message)
			}
		})
	}
}

func (m Middleware) pending(w http.ResponseWriter, r *http.Request) {
	retry := m.RetryAfter
	if retry <= 0 {
		retry = 2 * time.Second
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
	if wantsJSON(r) || m.Templates == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Session Loading", "The session is still being restored.")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	if err := m.Templates.Render(w, "pages/pending.html", view.TemplateData{Title: "Loading"}); err != nil {
		m.logError("render pending", err)
	}
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, store *auth.Store, message string) {
	if wantsJSON(r) || m.Templates == nil {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", message)
		return
	}
	data := view.TemplateData{
		Title:       "Access denied",
		CSRFToken:   shared.CSRFTokenFromContext(r.Context()),
		CurrentPath: r.URL.Path,
		Chrome:      auth.PageChrome(store),
		Data:        message,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	if err := m.Templates.Render(w, "pages/denied.html", data); err != nil {
		m.logError("render denied", err)
	}
}

func (m Middleware) logError(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Any("error", err))
	}
}

func wantsJSON(r *http.Request) bool {
	if strings.HasSuffix(r.URL.Path, ".json") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
