package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront/internal/auth"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/middleware"
)

// StateCookieName carries the pending sign-in state between the redirect to
// the provider and its callback.
const StateCookieName = "oauth_state"

const authPathPrefix = "/api/v1/auth"

// AuthHandler serves the social sign-in endpoints.
type AuthHandler struct {
	service *auth.Service
	secure  bool
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *auth.Service, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: svc,
		secure:  secureCookies,
		logger:  logger,
	}
}

// ListProviders handles GET /api/v1/auth/providers
func (h *AuthHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, map[string][]string{"providers": h.service.Providers()})
}

// Begin handles GET /api/v1/auth/{provider}/begin
func (h *AuthHandler) Begin(w http.ResponseWriter, r *http.Request) {
	authURL, state, err := h.service.Begin(r.Context(), chi.URLParam(r, "provider"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     authPathPrefix,
		MaxAge:   int(auth.DefaultStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authURL, http.StatusSeeOther)
}

// Callback handles GET /api/v1/auth/{provider}/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(StateCookieName)
	if err != nil {
		httputil.WriteError(w, r, apperrors.Unauthorized("missing sign-in state"), h.logger)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Path:     authPathPrefix,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
	})

	res, err := h.service.Complete(r.Context(), chi.URLParam(r, "provider"), c.Value, r.URL.Query())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, res)
}

// Me handles GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, claims)
}
