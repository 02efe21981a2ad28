package httpauth

import (
	"encoding/json"
	"errors"
	"net/http"

	ac "github.com/panyam/authcore"
)

// Error codes returned in AuthError.Code.
const (
	ErrCodeInvalidRequest     = "invalid_request"
	ErrCodeInvalidHandle      = "invalid_handle"
	ErrCodeWeakPassword       = "weak_password"
	ErrCodeConflict           = "conflict"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeUnauthenticated    = "unauthenticated"
	ErrCodeForbidden          = "forbidden"
	ErrCodeStateMismatch      = "state_mismatch"
	ErrCodeExpired            = "expired"
	ErrCodeProviderError      = "provider_error"
	ErrCodeUnknownProvider    = "unknown_provider"
	ErrCodeInternal           = "internal_error"
)

// AuthError is the JSON body of every failed request.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func (e *AuthError) Error() string {
	return e.Message
}

func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

// classify maps a core error onto an AuthError and HTTP status.
func classify(err error) (*AuthError, int) {
	var authErr *AuthError
	switch {
	case errors.As(err, &authErr):
		return authErr, http.StatusBadRequest
	case errors.Is(err, ac.ErrInvalidHandle):
		return NewAuthError(ErrCodeInvalidHandle, err.Error(), "handle"), http.StatusBadRequest
	case errors.Is(err, ac.ErrWeakCredential):
		return NewAuthError(ErrCodeWeakPassword, err.Error(), "password"), http.StatusBadRequest
	case errors.Is(err, ac.ErrConflict):
		return NewAuthError(ErrCodeConflict, err.Error(), "handle"), http.StatusConflict
	case errors.Is(err, ac.ErrInvalidCredential):
		return NewAuthError(ErrCodeInvalidCredentials, err.Error(), ""), http.StatusUnauthorized
	case errors.Is(err, ac.ErrUnauthenticated):
		return NewAuthError(ErrCodeUnauthenticated, err.Error(), ""), http.StatusUnauthorized
	case errors.Is(err, ac.ErrForbidden):
		return NewAuthError(ErrCodeForbidden, err.Error(), ""), http.StatusForbidden
	case errors.Is(err, ac.ErrStateMismatch):
		return NewAuthError(ErrCodeStateMismatch, "login request not recognized; start again", ""), http.StatusBadRequest
	case errors.Is(err, ac.ErrExpired):
		return NewAuthError(ErrCodeExpired, "login request expired; start again", ""), http.StatusBadRequest
	case errors.Is(err, ac.ErrProviderError):
		return NewAuthError(ErrCodeProviderError, "identity provider error", ""), http.StatusBadGateway
	case errors.Is(err, ac.ErrUnknownProvider):
		return NewAuthError(ErrCodeUnknownProvider, err.Error(), "provider"), http.StatusNotFound
	}
	return NewAuthError(ErrCodeInternal, "internal error", ""), http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
