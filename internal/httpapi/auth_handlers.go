package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/chatapp/auth-service/internal/auth"
	"github.com/chatapp/auth-service/internal/token"
)

type registerRequest struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name" validate:"required,min=1,max=100"`
	// bcrypt truncates beyond 72 bytes, so longer passwords are rejected
	// rather than silently shortened.
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func (r *registerRequest) Normalize() {
	r.Email = auth.NormalizeEmail(r.Email)
	r.DisplayName = strings.TrimSpace(r.DisplayName)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (r *loginRequest) Normalize() {
	r.Email = auth.NormalizeEmail(r.Email)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func registerSchemas() Schemas {
	return Schemas{Body: func() any { return &registerRequest{} }}
}

func loginSchemas() Schemas {
	return Schemas{Body: func() any { return &loginRequest{} }}
}

func refreshSchemas() Schemas {
	return Schemas{Body: func() any { return &refreshRequest{} }}
}

type sessionResponse struct {
	User *auth.UserCredential `json:"user"`
	auth.TokenPair
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	req := RequestBody[registerRequest](r)
	user, err := a.svc.Register(r.Context(), req.Email, req.DisplayName, req.Password)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	req := RequestBody[loginRequest](r)
	user, pair, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: user, TokenPair: pair})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	req := RequestBody[refreshRequest](r)
	pair, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	req := RequestBody[refreshRequest](r)
	if err := a.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := a.svc.User(r.Context(), userID)
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if err := a.svc.DeleteAccount(r.Context(), userID); err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if _, err := a.svc.LogoutAll(r.Context(), userID); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAuthError maps service errors to response codes. Token failures all
// collapse into one generic 401 so clients cannot distinguish expired from
// forged; the precise reason is only logged.
func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, r, http.StatusConflict, "email already in use")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrTokenRevoked),
		errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrSignature),
		errors.Is(err, token.ErrKind):
		a.log.Info("token rejected",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("reason", err.Error()))
		writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		a.log.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
