// @title TrialIQ Console API
// @version 1.0.0
// @description Administrative console for the TrialIQ clinical-trial platform
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email support@trialiq.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name trialiq_console

//go:generate swag init -g handlers.go -o docs --parseInternal

package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/swaggo/swag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/audit"
	"github.com/trialiq/console/internal/authz"
	"github.com/trialiq/console/internal/backend"
	"github.com/trialiq/console/internal/directory"
	"github.com/trialiq/console/internal/generation"
	"github.com/trialiq/console/internal/notice"
	"github.com/trialiq/console/internal/observability/logger"
	"github.com/trialiq/console/internal/observability/metrics"
	"github.com/trialiq/console/internal/session"
	_ "github.com/trialiq/console/internal/transport/http/docs"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	client           *backend.Client
	sessionService   *session.Service
	directoryService *directory.Service
	auditLogger      audit.Logger
	metrics          *metrics.HTTPMetrics
	sessionConfig    SessionConfig
	ready            func(r *http.Request) error
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite
	Lifetime       time.Duration
}

// NewHandler creates a new HTTP handler
func NewHandler(
	client *backend.Client,
	sessionService *session.Service,
	directoryService *directory.Service,
	auditLogger audit.Logger,
	httpMetrics *metrics.HTTPMetrics,
	sessionConfig SessionConfig,
) *Handler {
	if auditLogger == nil {
		auditLogger = audit.NewSlogLogger()
	}
	return &Handler{
		client:           client,
		sessionService:   sessionService,
		directoryService: directoryService,
		auditLogger:      auditLogger,
		metrics:          httpMetrics,
		sessionConfig:    sessionConfig,
	}
}

// WithReadiness sets the dependency check reported by the health check.
func (h *Handler) WithReadiness(check func(r *http.Request) error) *Handler {
	h.ready = check
	return h
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter, requestTimeout time.Duration) *chi.Mux {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
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
	r.Use(h.metrics.Middleware)
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	// System
	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	r.Get("/swagger/doc.json", h.SwaggerDoc)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.CSRFMiddleware)

		r.Post("/auth/login", h.Login)
		r.Post("/auth/logout", h.Logout)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/auth/me", h.GetCurrentUser)

			// Directory
			r.Get("/modules", h.ListModules)
			r.Get("/entities", h.ListEntities)

			// Roles and permissions
			r.Route("/roles", func(r chi.Router) {
				r.With(h.RequireCapability(authz.ModuleRoles, authz.ActionView)).Get("/", h.ListRoles)
				r.With(h.RequireCapability(authz.ModuleRoles, authz.ActionCreate)).Post("/", h.CreateRole)
				r.Route("/{roleID}", func(r chi.Router) {
					r.With(h.RequireCapability(authz.ModuleRoles, authz.ActionView)).Get("/", h.GetRole)
					r.With(h.RequireCapability(authz.ModuleRoles, authz.ActionEdit)).Put("/", h.UpdateRole)
					r.With(h.RequireCapability(authz.ModuleRoles, authz.ActionEdit)).Put("/permissions", h.UpdateRolePermissions)
					r.With(h.RequireCapability(authz.ModuleRoles, authz.ActionDelete)).Delete("/", h.DeleteRole)
				})
			})

			// Users
			r.Route("/users", func(r chi.Router) {
				r.With(h.RequireCapability(authz.ModuleUsers, authz.ActionView)).Get("/", h.ListUsers)
				r.With(h.RequireCapability(authz.ModuleUsers, authz.ActionView)).Get("/form-options", h.UserFormOptions)
				r.With(h.RequireCapability(authz.ModuleUsers, authz.ActionCreate)).Post("/", h.CreateUser)
				r.Route("/{userID}", func(r chi.Router) {
					r.With(h.RequireCapability(authz.ModuleUsers, authz.ActionView)).Get("/", h.GetUser)
					r.With(h.RequireCapability(authz.ModuleUsers, authz.ActionEdit)).Put("/", h.UpdateUser)
					r.With(h.RequireCapability(authz.ModuleUsers, authz.ActionDelete)).Delete("/", h.DeleteUser)
				})
			})

			// Assignments
			r.Get("/assignments/{relation}/{ownerID}", h.GetAssignment)
			r.Group(func(r chi.Router) {
				r.Use(h.RequireCapability(authz.ModuleTrials, authz.ActionEdit))
				r.Post("/trials/{trialID}/sites", h.AssignSitesToTrial)
				r.Post("/trials/{trialID}/sponsors", h.AssignSponsorToTrial)
				r.Delete("/trials/{trialID}/sponsors/{sponsorID}", h.RemoveSponsorFromTrial)
				r.Post("/trials/{trialID}/documents", h.UploadTrialDocuments)
			})
			r.With(h.RequireCapability(authz.ModuleSponsors, authz.ActionEdit)).Post("/sponsors/{sponsorID}/sites", h.AssignSitesToSponsor)

			// Gated pass-through CRUD
			r.Route("/records/{resource}", func(r chi.Router) {
				r.Get("/", h.ListRecords)
				r.Post("/", h.CreateRecord)
				r.Get("/{id}", h.GetRecord)
				r.Put("/{id}", h.UpdateRecord)
				r.Delete("/{id}", h.DeleteRecord)
			})
		})
	})

	return r
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Error   string `json:"error,omitempty"`
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service and its stores are up
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Service: "trialiq-console"}
	if h.ready != nil {
		if err := h.ready(r); err != nil {
			slog.WarnContext(r.Context(), "readiness check failed", logger.Error(err))
			resp.Status = "unhealthy"
			resp.Error = "dependency unavailable"
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// SwaggerDoc serves the registered OpenAPI document.
func (h *Handler) SwaggerDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		respondError(w, http.StatusNotFound, "api documentation is not available")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// ErrorResponse is the body of every failed console call.
type ErrorResponse struct {
	Error  string        `json:"error"`
	Notice notice.Notice `json:"notice"`
}

// NoticeResponse is the body of every mutating console call.
type NoticeResponse struct {
	Notice notice.Notice `json:"notice"`
	Data   any           `json:"data,omitempty"`
}

// respondFailure maps err to its status and failure notice. An AuthError
// ends the console session.
func (h *Handler) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	n := notice.FromError(err)
	if errors.Is(err, generation.ErrStale) {
		n = notice.Failure("Superseded", "A newer request replaced this one.")
	}

	if apperr.KindOf(err) == apperr.KindAuth {
		if sess := GetSession(r.Context()); sess != nil {
			h.endSession(r, sess.ID, sess.User.ID, audit.TypeForcedSignOut)
			h.clearSessionCookie(w)
		}
	}

	attrs := []any{
		logger.Method(r.Method),
		logger.Path(r.URL.Path),
		logger.StatusCode(status),
		logger.ErrorKind(string(apperr.KindOf(err))),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "console request failed", attrs...)
	} else {
		slog.WarnContext(r.Context(), "console request rejected", attrs...)
	}

	respondJSON(w, status, ErrorResponse{Error: http.StatusText(status), Notice: n})
}

func statusFor(err error) int {
	if errors.Is(err, generation.ErrStale) {
		return http.StatusConflict
	}
	var classified apperr.Error
	if !errors.As(err, &classified) {
		return http.StatusInternalServerError
	}
	switch classified.Kind() {
	case apperr.KindValidation:
		var v *apperr.ValidationError
		if errors.As(err, &v) && v.Status == http.StatusUnprocessableEntity {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusBadGateway
}

// endSession destroys the session and its directory snapshot.
func (h *Handler) endSession(r *http.Request, sessionID, userID, eventType string) {
	ctx := r.Context()
	if err := h.sessionService.Destroy(ctx, sessionID); err != nil {
		slog.ErrorContext(ctx, "failed to destroy session", logger.SessionID(sessionID), logger.Error(err))
	}
	h.dropSnapshot(ctx, sessionID)
	h.auditLogger.Log(ctx, audit.Event{
		Type:      eventType,
		ActorID:   userID,
		SessionID: sessionID,
		Resource:  "session",
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})
}

// Helper functions
func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	maxAge := int(h.sessionConfig.Lifetime.Seconds())
	if maxAge <= 0 {
		maxAge = 12 * 60 * 60
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionConfig.CookieName,
		Value:    sessionID,
		Path:     h.sessionConfig.CookiePath,
		Domain:   h.sessionConfig.CookieDomain,
		Secure:   h.sessionConfig.CookieSecure,
		HttpOnly: h.sessionConfig.CookieHTTPOnly,
		SameSite: h.sessionConfig.CookieSameSite,
		MaxAge:   maxAge,
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

// decodeJSON reads a bounded JSON request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("body", "invalid request body")
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:  message,
		Notice: notice.Failure(http.StatusText(status), message),
	})
}

func respondNotice(w http.ResponseWriter, status int, n notice.Notice, data any) {
	respondJSON(w, status, NoticeResponse{Notice: n, Data: data})
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// dropSnapshot discards the session's directory snapshot so the next read
// reloads it.
func (h *Handler) dropSnapshot(ctx context.Context, sessionID string) {
	if h.directoryService == nil {
		return
	}
	if err := h.directoryService.Invalidate(ctx, sessionID); err != nil {
		slog.WarnContext(ctx, "failed to drop directory snapshot", logger.SessionID(sessionID), logger.Error(err))
	}
}
