// Package httpauth exposes an authcore.Core over HTTP: local registration
// and login, logout, password management, the current account, and the
// federated login redirect and callback for every enabled provider.
//
// Successful logins answer with a bearer token and also set a session cookie.
package httpauth

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	ac "github.com/panyam/authcore"
)

// StateCookieName holds the state of an in-flight federated login so that
// a callback is only accepted in the browser that started it.
const StateCookieName = "oauthstate"

// Handler serves the auth routes.
type Handler struct {
	Core       *ac.Core
	Middleware *ac.Middleware

	// SecureCookies sets the Secure attribute. Enable behind TLS.
	SecureCookies bool
	CookieDomain  string

	Logger *slog.Logger

	// OnError may write its own response for a failed request and return
	// true. Otherwise the AuthError is written as JSON.
	OnError func(err *AuthError, status int, w http.ResponseWriter, r *http.Request) bool
}

// NewHandler returns a Handler for core with default cookie settings.
func NewHandler(core *ac.Core) *Handler {
	h := &Handler{
		Core:       core,
		Middleware: &ac.Middleware{Auth: core},
	}
	h.EnsureReasonableDefaults()
	return h
}

func (h *Handler) EnsureReasonableDefaults() {
	if h.Middleware == nil {
		h.Middleware = &ac.Middleware{Auth: h.Core}
	}
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	if h.Middleware.Logger == nil {
		h.Middleware.Logger = h.Logger
	}
	h.Middleware.EnsureReasonableDefaults()
}

// Routes registers the handlers on r.
func (h *Handler) Routes(r *mux.Router) {
	h.EnsureReasonableDefaults()
	r.HandleFunc("/register", h.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/login", h.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", h.handleLogout).Methods(http.MethodPost)
	r.Handle("/me", h.Middleware.RequireAccount(http.HandlerFunc(h.handleMe))).Methods(http.MethodGet)
	r.Handle("/password", h.Middleware.RequireAccount(http.HandlerFunc(h.handlePassword))).Methods(http.MethodPost)
	r.HandleFunc("/{provider}/login", h.handleProviderLogin).Methods(http.MethodGet)
	r.HandleFunc("/{provider}/callback", h.handleProviderCallback).Methods(http.MethodGet)
}

// Router returns a new router serving the auth routes.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	h.Routes(r)
	return r
}

// AccountView is the public shape of an account.
type AccountView struct {
	ID          string    `json:"id"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Role        ac.Role   `json:"role"`
	Credentials string    `json:"credentials"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewAccountView(a *ac.Account) AccountView {
	return AccountView{
		ID:          a.ID,
		Handle:      a.Handle,
		DisplayName: a.DisplayName,
		AvatarURL:   a.AvatarURL,
		Role:        a.Role,
		Credentials: a.Credentials().String(),
		CreatedAt:   a.CreatedAt,
	}
}

// LoginResponse is returned by register, login and JSON callbacks.
type LoginResponse struct {
	Account     AccountView `json:"account"`
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int64       `json:"expires_in"`
}

type credentialsRequest struct {
	Handle      string `json:"handle"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type passwordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func isJSON(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/json"
}

// decode reads a JSON body, or form values for the given fields.
func decode(w http.ResponseWriter, r *http.Request, dst any, form func(get func(string) string)) error {
	if isJSON(r) {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(dst); err != nil {
			return NewAuthError(ErrCodeInvalidRequest, "malformed JSON body", "")
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return NewAuthError(ErrCodeInvalidRequest, "malformed form body", "")
	}
	form(r.PostForm.Get)
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	authErr, status := classify(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	if h.OnError != nil && h.OnError(authErr, status, w, r) {
		return
	}
	writeJSON(w, status, authErr)
}

func (h *Handler) sessionTTL() time.Duration {
	if h.Core.Sessions.TTL > 0 {
		return h.Core.Sessions.TTL
	}
	return ac.DefaultSessionTTL
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.Middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.CookieDomain,
		MaxAge:   int(h.sessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// signIn starts a session for account, sets its cookie and mints a token.
func (h *Handler) signIn(ctx context.Context, w http.ResponseWriter, account *ac.Account) (*LoginResponse, error) {
	sessionID, err := h.Core.CreateSession(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	token, err := h.Core.IssueToken(account.ID)
	if err != nil {
		return nil, err
	}
	h.setSessionCookie(w, sessionID)
	return &LoginResponse{
		Account:     NewAccountView(account),
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.Core.Tokens.TTL().Seconds()),
	}, nil
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(w, r, &req, func(get func(string) string) {
		req.Handle, req.Password, req.DisplayName = get("handle"), get("password"), get("display_name")
	}); err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.Core.Register(r.Context(), req.Handle, req.Password, ac.Profile{DisplayName: req.DisplayName})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := h.signIn(r.Context(), w, account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(w, r, &req, func(get func(string) string) {
		req.Handle, req.Password = get("handle"), get("password")
	}); err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.Core.Login(r.Context(), req.Handle, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := h.signIn(r.Context(), w, account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLogout ends the cookie's session. Bearer tokens are stateless and
// simply expire.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.Middleware.SessionCookieName); err == nil && c.Value != "" {
		if err := h.Core.DestroySession(r.Context(), c.Value); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	h.clearCookie(w, h.Middleware.SessionCookieName)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewAccountView(ac.AccountFromContext(r.Context())))
}

// handlePassword changes the caller's password, or sets one on an account
// that only has a federated identity.
func (h *Handler) handlePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decode(w, r, &req, func(get func(string) string) {
		req.OldPassword, req.NewPassword = get("old_password"), get("new_password")
	}); err != nil {
		h.fail(w, r, err)
		return
	}
	account := ac.AccountFromContext(r.Context())
	var err error
	if account.PasswordHash == "" {
		err = h.Core.SetPassword(r.Context(), account.ID, req.NewPassword)
	} else {
		err = h.Core.ChangePassword(r.Context(), account.ID, req.OldPassword, req.NewPassword)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleProviderLogin(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	fed, err := h.Core.Federated(provider)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	authURL, state, err := fed.Start(r.Context(), r.URL.Query().Get("redirect"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/",
		Domain:   h.CookieDomain,
		MaxAge:   int(fed.HandshakeLifetime().Seconds()),
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleProviderCallback completes a federated login. Browsers are
// redirected to the target recorded at login; clients asking for JSON get a
// LoginResponse.
func (h *Handler) handleProviderCallback(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	q := r.URL.Query()
	state := q.Get("state")

	cookie, _ := r.Cookie(StateCookieName)
	h.clearCookie(w, StateCookieName)
	if cookie == nil || cookie.Value == "" || cookie.Value != state {
		h.fail(w, r, ac.ErrStateMismatch)
		return
	}

	f, err := h.Core.Federated(provider)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	code := q.Get("code")
	if e := q.Get("error"); e != "" {
		// the user declined or the provider refused; still consume the state
		h.Logger.Info("provider returned an error", "provider", provider, "error", e)
		code = ""
	}
	account, handshake, err := f.Complete(r.Context(), code, state)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := h.signIn(r.Context(), w, account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Accept")); mt == "application/json" {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	http.Redirect(w, r, handshake.RedirectTarget, http.StatusFound)
}
