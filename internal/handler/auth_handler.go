package handler

import (
	"net/http"
	"strings"
	"time"

	"go-session-service/internal/middleware"
	"go-session-service/internal/model"
	"go-session-service/internal/service"
)

const refreshCookiePath = "/api/v1/auth"

// CookieConfig controls the optional HttpOnly refresh-token cookie.
type CookieConfig struct {
	Enabled bool
	Name    string
	Secure  bool
	// Now anchors the cookie Max-Age; defaults to time.Now.
	Now func() time.Time
}

type AuthHandler struct {
	service *service.AuthService
	cookie  CookieConfig
}

func NewAuthHandler(service *service.AuthService, cookie CookieConfig) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "refresh_token"
	}
	if cookie.Now == nil {
		cookie.Now = time.Now
	}
	return &AuthHandler{service: service, cookie: cookie}
}

// Register creates an account. Roles above USER may only be granted by an
// authenticated ADMIN.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload model.RegisterRequest
	if err := decodeJSON(w, r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	payload.Email = model.NormalizeEmail(payload.Email)
	payload.Role = strings.ToUpper(strings.TrimSpace(payload.Role))
	if err := validateStruct(&payload); err != nil {
		writeError(w, err)
		return
	}

	role := model.DefaultRole
	if payload.Role != "" {
		parsed, err := model.ParseRole(payload.Role)
		if err != nil {
			writeError(w, model.ErrValidationFailed)
			return
		}
		role = parsed
	}

	if role != model.RoleUser {
		identity, ok := middleware.IdentityFromContext(r.Context())
		if !ok || identity.Role != model.RoleAdmin {
			writeError(w, model.ErrForbidden)
			return
		}
	}

	user, err := h.service.Register(r.Context(), service.RegisterInput{
		Email:    payload.Email,
		Password: payload.Password,
		Role:     role,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if err := decodeJSON(w, r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	payload.Email = model.NormalizeEmail(payload.Email)
	if err := validateStruct(&payload); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.cookie.Enabled {
		h.setRefreshCookie(w, result.RefreshToken, result.RefreshExpiresAt)
		result.RefreshToken = ""
	}

	writeSuccess(w, http.StatusOK, result)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, err := h.refreshTokenFrom(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.cookie.Enabled && result.RefreshToken != "" {
		h.setRefreshCookie(w, result.RefreshToken, result.RefreshExpiresAt)
		result.RefreshToken = ""
	}

	writeSuccess(w, http.StatusOK, result)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, err := h.refreshTokenFrom(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.cookie.Enabled {
		h.clearRefreshCookie(w)
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"loggedOut": true})
}

// Me echoes the identity carried by the access token.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrAuthRequired)
		return
	}

	writeSuccess(w, http.StatusOK, identity)
}

// refreshTokenFrom prefers the JSON body and falls back to the cookie.
func (h *AuthHandler) refreshTokenFrom(w http.ResponseWriter, r *http.Request) (string, error) {
	var payload model.RefreshRequest
	if err := decodeJSON(w, r, &payload, true); err != nil {
		return "", err
	}

	if token := strings.TrimSpace(payload.RefreshToken); token != "" {
		return token, nil
	}

	if h.cookie.Enabled {
		if c, err := r.Cookie(h.cookie.Name); err == nil && strings.TrimSpace(c.Value) != "" {
			return strings.TrimSpace(c.Value), nil
		}
	}

	return "", model.ErrInvalidToken
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(h.cookie.Now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     refreshCookiePath,
		Expires:  expiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
