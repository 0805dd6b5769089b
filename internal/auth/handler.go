package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/flightdeck/flightdeck/internal/navigation"
	"github.com/flightdeck/flightdeck/internal/platform/httpx"
	"github.com/flightdeck/flightdeck/internal/shared"
	"github.com/flightdeck/flightdeck/internal/view"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	audit          shared.AuditRecorder
	validator      *validator.Validate
	onLogout       []func(userID int64)
}

// NewHandler constructs a Handler instance. audit may be nil.
func NewHandler(logger *slog.Logger, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, audit shared.AuditRecorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		audit:          audit,
		validator:      validator.New(),
	}
}

// OnLogout registers fn to run after a principal signs out.
func (h *Handler) OnLogout(fn func(userID int64)) {
	if fn != nil {
		h.onLogout = append(h.onLogout, fn)
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Get("/register", h.showRegister)
	r.Post("/register", h.handleRegister)
	r.Post("/logout", h.handleLogout)
	r.Post("/refresh", h.handleRefresh)
	r.Get("/session", h.sessionJSON)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
}

type registerForm struct {
	Name                 string `validate:"required,max=120"`
	Email                string `validate:"required,email"`
	OrganizationName     string `validate:"omitempty,max=120"`
	Password             string `validate:"required,min=8"`
	PasswordConfirmation string `validate:"required,eqfield=Password"`
}

type registerPageData struct {
	Form   registerForm
	Errors map[string]string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	if store := StoreFromContext(r.Context()); store != nil && store.IsAuthenticated() {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "pages/login.html", "Sign in", loginPageData{})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := loginForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	errs := h.validate(form)

	if len(errs) == 0 {
		store := StoreFromContext(r.Context())
		if store == nil {
			h.logger.Error("identity store missing during login")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		result := store.Login(r.Context(), form.Email, form.Password)
		if result.Success {
			h.signedIn(r, store, shared.FlashMessage{Kind: "success", Message: "Welcome back"})
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}
		errs["general"] = result.Message
	}

	form.Password = ""
	h.render(w, r, http.StatusBadRequest, "pages/login.html", "Sign in", loginPageData{Form: form, Errors: errs})
}

func (h *Handler) showRegister(w http.ResponseWriter, r *http.Request) {
	if store := StoreFromContext(r.Context()); store != nil && store.IsAuthenticated() {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "pages/register.html", "Create an account", registerPageData{})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := registerForm{
		Name:                 r.PostFormValue("name"),
		Email:                r.PostFormValue("email"),
		OrganizationName:     r.PostFormValue("organization_name"),
		Password:             r.PostFormValue("password"),
		PasswordConfirmation: r.PostFormValue("password_confirmation"),
	}
	errs := h.validate(form)

	if len(errs) == 0 {
		store := StoreFromContext(r.Context())
		if store == nil {
			h.logger.Error("identity store missing during registration")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		result := store.Register(r.Context(), Registration{
			Name:                 form.Name,
			Email:                form.Email,
			Password:             form.Password,
			PasswordConfirmation: form.PasswordConfirmation,
			OrganizationName:     form.OrganizationName,
		})
		if result.Success {
			h.signedIn(r, store, shared.FlashMessage{Kind: "success", Message: "Your account is ready"})
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}
		errs["general"] = result.Message
	}

	form.Password, form.PasswordConfirmation = "", ""
	h.render(w, r, http.StatusBadRequest, "pages/register.html", "Create an account", registerPageData{Form: form, Errors: errs})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	store := StoreFromContext(r.Context())
	if store != nil {
		var userID int64
		if user := store.User(); user != nil {
			userID = user.ID
		}
		store.Logout(r.Context())
		if userID != 0 {
			h.record(r.Context(), shared.AuditLog{
				ActorID:  userID,
				Action:   shared.AuditLogout,
				Entity:   shared.AuditEntitySession,
				EntityID: sessionID(sess),
			})
			for _, fn := range h.onLogout {
				fn(userID)
			}
		}
	}
	if sess != nil {
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, "/welcome", http.StatusSeeOther)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	store := StoreFromContext(r.Context())
	if store == nil || !store.IsAuthenticated() {
		httpx.RespondError(w, ErrUnauthorized)
		return
	}
	result := store.RefreshUser(r.Context())
	if !result.Success {
		httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "Could not refresh your profile.")
		return
	}
	httpx.JSON(w, http.StatusOK, h.snapshot(store))
}

// SessionView is the JSON shape of the session accessor.
type SessionView struct {
	User            *Principal         `json:"user"`
	Loading         bool               `json:"loading"`
	IsAuthenticated bool               `json:"isAuthenticated"`
	IsSuperAdmin    bool               `json:"isSuperAdmin"`
	IsAdmin         bool               `json:"isAdmin"`
	PrimaryRole     string             `json:"primaryRole,omitempty"`
	Menu            []navigation.Entry `json:"menu"`
}

func (h *Handler) sessionJSON(w http.ResponseWriter, r *http.Request) {
	store := StoreFromContext(r.Context())
	if store == nil {
		httpx.JSON(w, http.StatusOK, SessionView{Menu: []navigation.Entry{}})
		return
	}
	httpx.JSON(w, http.StatusOK, h.snapshot(store))
}

func (h *Handler) snapshot(store *Store) SessionView {
	out := SessionView{
		User:            store.User(),
		Loading:         store.Loading(),
		IsAuthenticated: store.IsAuthenticated(),
		IsSuperAdmin:    store.IsSuperAdmin(),
		IsAdmin:         store.IsAdmin(),
		Menu:            navigation.Menu(store.Roles()),
	}
	if role, ok := store.PrimaryRole(); ok {
		out.PrimaryRole = role.String()
	}
	return out
}

// signedIn rotates the session id and CSRF token for the new principal.
func (h *Handler) signedIn(r *http.Request, store *Store, flash shared.FlashMessage) {
	sess := shared.SessionFromContext(r.Context())
	user := store.User()
	if sess == nil || user == nil {
		h.logger.Error("session missing during sign in")
		return
	}
	h.sessionManager.Renew(sess)
	h.csrfManager.RotateToken(sess)
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	sess.AddFlash(flash)
	h.record(r.Context(), shared.AuditLog{
		ActorID:  user.ID,
		Action:   shared.AuditLogin,
		Entity:   shared.AuditEntitySession,
		EntityID: sess.ID,
		Meta: map[string]any{
			"ip":         r.RemoteAddr,
			"user_agent": r.UserAgent(),
			"expires_at": time.Now().Add(h.sessionManager.TTL()).UTC(),
		},
	})
}

func (h *Handler) record(ctx context.Context, entry shared.AuditLog) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, entry); err != nil {
		h.logger.Warn("record audit", slog.String("action", entry.Action), slog.Any("error", err))
	}
}

func (h *Handler) validate(form any) map[string]string {
	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				errs[fieldErr.Field()] = fieldMessage(fieldErr)
			}
		} else {
			errs["general"] = err.Error()
		}
	}
	return errs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		return "Must be at least " + fe.Param() + " characters."
	case "max":
		return "Must be at most " + fe.Param() + " characters."
	case "eqfield":
		return "Passwords do not match."
	default:
		return fe.Error()
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, name, viewData); err != nil {
		h.logger.Error("render auth page", slog.String("template", name), slog.Any("error", err))
	}
}

func sessionID(sess *shared.Session) string {
	if sess == nil {
		return "unknown"
	}
	return sess.ID
}
