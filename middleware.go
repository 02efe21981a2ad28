package authcore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultSessionCookieName is the cookie carrying the session id.
const DefaultSessionCookieName = "authcore_session"

// Authenticator resolves a Proof. Both Core and Guard implement it.
type Authenticator interface {
	Authenticate(ctx context.Context, proof Proof) (Principal, error)
}

type principalKey struct{}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the Principal stored by the middleware, or
// an anonymous one.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}

// AccountFromContext returns the authenticated account or nil.
func AccountFromContext(ctx context.Context) *Account {
	return PrincipalFromContext(ctx).Account
}

// Middleware authenticates HTTP requests from a bearer header or a session cookie.
type Middleware struct {
	Auth              Authenticator
	AuthHeaderName    string
	SessionCookieName string
	Logger            *slog.Logger

	// OnError writes the response for a rejected request. Defaults to a JSON body.
	OnError func(w http.ResponseWriter, r *http.Request, status int, err error)
}

// EnsureReasonableDefaults fills unset fields.
func (m *Middleware) EnsureReasonableDefaults() {
	if m.AuthHeaderName == "" {
		m.AuthHeaderName = "Authorization"
	}
	if m.SessionCookieName == "" {
		m.SessionCookieName = DefaultSessionCookieName
	}
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
	if m.OnError == nil {
		m.OnError = writeAuthError
	}
}

// ProofFromRequest collects the bearer token and session id of r.
func (m *Middleware) ProofFromRequest(r *http.Request) Proof {
	var proof Proof
	if h := r.Header.Get(m.AuthHeaderName); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			proof.BearerToken = strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(m.SessionCookieName); err == nil {
		proof.SessionID = c.Value
	}
	return proof
}

func (m *Middleware) resolve(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	p, err := m.Auth.Authenticate(r.Context(), m.ProofFromRequest(r))
	if err != nil {
		m.Logger.Error("authentication failed", "path", r.URL.Path, "err", err)
		m.OnError(w, r, http.StatusInternalServerError, err)
		return nil, false
	}
	return r.WithContext(WithPrincipal(r.Context(), p)), true
}

// ExtractAccount resolves the caller, if any, and passes the request on.
// Anonymous requests are not rejected.
func (m *Middleware) ExtractAccount(next http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, ok := m.resolve(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAccount rejects anonymous requests with 401.
func (m *Middleware) RequireAccount(next http.Handler) http.Handler {
	return m.RequireRole(RoleOrdinary)(next)
}

// RequireRole rejects anonymous requests with 401 and under-privileged ones with 403.
func (m *Middleware) RequireRole(role Role) func(http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, ok := m.resolve(w, r)
			if !ok {
				return
			}
			switch err := RequireRole(AccountFromContext(r.Context()), role); {
			case errors.Is(err, ErrUnauthenticated):
				w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
				m.OnError(w, r, http.StatusUnauthorized, err)
			case errors.Is(err, ErrForbidden):
				m.OnError(w, r, http.StatusForbidden, err)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func writeAuthError(w http.ResponseWriter, r *http.Request, status int, err error) {
	code := "internal_error"
	msg := "internal error"
	switch status {
	case http.StatusUnauthorized:
		code, msg = "unauthenticated", err.Error()
	case http.StatusForbidden:
		code, msg = "forbidden", err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"code":  code,
	})
}
