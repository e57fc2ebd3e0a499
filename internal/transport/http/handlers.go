package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pypi/warehouse/internal/accounts"
	"github.com/pypi/warehouse/internal/audit"
	"github.com/pypi/warehouse/internal/auth"
	"github.com/pypi/warehouse/internal/macaroons"
	"github.com/pypi/warehouse/internal/observability/logger"
	"github.com/pypi/warehouse/internal/oidc"
	"github.com/pypi/warehouse/internal/packaging"
	"github.com/pypi/warehouse/internal/session"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	accountsService  *accounts.Service
	sessionService   *session.Service
	macaroonService  *macaroons.Service
	packagingService *packaging.Service
	oidcService      *oidc.Service
	policy           *auth.MultiSecurityPolicy
	auditLogger      audit.Logger
	sessionConfig    SessionConfig
	tokenLocation    string
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite
}

// NewHandler creates a new HTTP handler
func NewHandler(
	accountsService *accounts.Service,
	sessionService *session.Service,
	macaroonService *macaroons.Service,
	packagingService *packaging.Service,
	oidcService *oidc.Service,
	policy *auth.MultiSecurityPolicy,
	auditLogger audit.Logger,
	sessionConfig SessionConfig,
	tokenLocation string,
) *Handler {
	return &Handler{
		accountsService:  accountsService,
		sessionService:   sessionService,
		macaroonService:  macaroonService,
		packagingService: packagingService,
		oidcService:      oidcService,
		policy:           policy,
		auditLogger:      auditLogger,
		sessionConfig:    sessionConfig,
		tokenLocation:    tokenLocation,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	// Package upload; authenticated by API token via the security policy.
	r.Group(func(r chi.Router) {
		r.Use(h.policy.Middleware)
		r.Post("/legacy/", h.Upload)
	})

	// Trusted publishing: identity token exchange and leaked-token reporting
	// are unauthenticated by design.
	r.Post("/_/oidc/mint-token", h.MintToken)
	r.Post("/_/token-disclosure", h.DiscloseToken)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)
		r.Post("/auth/logout", h.Logout)

		// Session-protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.SessionMiddleware)

			r.Get("/auth/me", h.GetCurrentUser)
			r.Post("/user/change-password", h.ChangePassword)

			r.Post("/projects", h.CreateProject)

			r.Route("/tokens", func(r chi.Router) {
				r.Get("/", h.ListTokens)
				r.Post("/", h.CreateToken)
				r.Delete("/{tokenID}", h.DeleteToken)
			})
		})
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "warehouse",
	})
}

// RegisterRequest represents registration data
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.accountsService.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to register user",
			logger.Error(err),
		)

		switch err {
		case accounts.ErrUserAlreadyExists:
			respondError(w, http.StatusConflict, "user already exists")
		case accounts.ErrInvalidUsername:
			respondError(w, http.StatusBadRequest, "invalid username")
		case accounts.ErrWeakPassword:
			respondError(w, http.StatusBadRequest, "password does not meet security requirements")
		default:
			respondError(w, http.StatusInternalServerError, "failed to create user")
		}
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.accountsService.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	sess, err := h.sessionService.Create(r.Context(), user.ID, getIPAddress(r), r.UserAgent())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create session", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.setSessionCookie(w, sess.ID)

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
}

// Logout handles user logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := h.getSessionFromCookie(r)
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	h.sessionService.Destroy(r.Context(), sessionID)
	h.clearSessionCookie(w)

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// GetCurrentUser returns the current authenticated user
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	user, err := h.accountsService.GetUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":        user.ID,
		"username":       user.Username,
		"email":          user.Email,
		"email_verified": user.EmailVerified,
	})
}

// ChangePasswordRequest represents password change data
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword changes the user password
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.accountsService.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword)
	if err != nil {
		switch err {
		case accounts.ErrInvalidCredentials:
			respondError(w, http.StatusUnauthorized, "invalid old password")
		case accounts.ErrWeakPassword:
			respondError(w, http.StatusBadRequest, "new password does not meet security requirements")
		default:
			respondError(w, http.StatusInternalServerError, "failed to change password")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "password changed successfully",
	})
}

// CreateProjectRequest represents project registration data
type CreateProjectRequest struct {
	Name string `json:"name"`
}

// CreateProject registers a project owned by the current user
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	project, err := h.packagingService.CreateProject(r.Context(), req.Name, userID)
	if err != nil {
		if err == packaging.ErrProjectAlreadyExists {
			respondError(w, http.StatusConflict, "project already exists")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to create project")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"project_id": project.ID,
		"name":       project.Name,
		"normalized": project.Normalized,
	})
}

// Helper functions
func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionConfig.CookieName,
		Value:    sessionID,
		Path:     h.sessionConfig.CookiePath,
		Domain:   h.sessionConfig.CookieDomain,
		Secure:   h.sessionConfig.CookieSecure,
		HttpOnly: h.sessionConfig.CookieHTTPOnly,
		SameSite: h.sessionConfig.CookieSameSite,
		MaxAge:   86400, // 24 hours
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   h.sessionConfig.CookieName,
		Value:  "",
		Path:   h.sessionConfig.CookiePath,
		Domain: h.sessionConfig.CookieDomain,
		MaxAge: -1,
	})
}

func (h *Handler) getSessionFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.sessionConfig.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func getIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
