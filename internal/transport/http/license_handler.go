package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apperrors "igps/internal/errors"
	"igps/internal/infrastructure"
	"igps/internal/services"
)

var validate = validator.New()

// LicenseHandler handles license-related HTTP requests from the GUI
type LicenseHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service services.LicenseService, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// LicenseActivationRequest represents the activation request payload
type LicenseActivationRequest struct {
	LicenseKey string `json:"license_key" validate:"required,min=16,max=19"`
}

// Bind implements the render.Binder interface for activation requests
func (l *LicenseActivationRequest) Bind(r *http.Request) error {
	l.LicenseKey = strings.TrimSpace(l.LicenseKey)
	if err := validate.Struct(l); err != nil {
		return errors.New("license_key is required and must be a 16 character key")
	}
	return nil
}

// LicenseActivationResponse represents the activation response
type LicenseActivationResponse struct {
	Success     bool                            `json:"success"`
	Message     string                          `json:"message"`
	LicenseInfo *services.LicenseStatusResponse `json:"license_info,omitempty"`
	TraceID     string                          `json:"trace_id"`
	Timestamp   time.Time                       `json:"timestamp"`
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/status", h.GetStatus)
	r.Post("/activate", h.Activate)
	r.Get("/hardware", h.GetHardwareInfo)

	return r
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	start := time.Now()

	response, err := h.service.GetStatus(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "license status request failed",
			slog.String("request_id", reqID),
			slog.Duration("latency", time.Since(start)),
			slog.String("error", err.Error()),
		)
		h.handleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "license status request completed",
		slog.String("request_id", reqID),
		slog.String("state", response.State),
		slog.Duration("latency", time.Since(start)),
	)

	render.JSON(w, r, response)
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	start := time.Now()

	var req LicenseActivationRequest
	if err := render.Bind(r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid activation request",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
		problem := apperrors.NewProblemDetails(
			http.StatusBadRequest,
			"/errors/validation",
			"Validation Error",
			err.Error(),
			r.URL.Path+"#"+reqID,
		).WithExtension("trace_id", infrastructure.TraceIDFromContext(ctx))
		render.Render(w, r, problem)
		return
	}

	status, err := h.service.Activate(ctx, req.LicenseKey)
	if err != nil {
		h.logger.WarnContext(ctx, "license activation failed",
			slog.String("request_id", reqID),
			slog.Duration("latency", time.Since(start)),
			slog.String("error", err.Error()),
		)
		h.handleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "license activation completed",
		slog.String("request_id", reqID),
		slog.String("state", status.State),
		slog.Duration("latency", time.Since(start)),
	)

	render.JSON(w, r, &LicenseActivationResponse{
		Success:     true,
		Message:     "License activated successfully",
		LicenseInfo: status,
		TraceID:     infrastructure.TraceIDFromContext(ctx),
		Timestamp:   time.Now(),
	})
}

// GetHardwareInfo handles GET /api/license/hardware
func (h *LicenseHandler) GetHardwareInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	response, err := h.service.HardwareInfo(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "hardware info request failed",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
		h.handleError(w, r, err)
		return
	}

	render.JSON(w, r, response)
}

// handleError maps service errors to RFC 7807 problem responses
func (h *LicenseHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := infrastructure.TraceIDFromContext(r.Context())
	if traceID == "" {
		traceID = middleware.GetReqID(r.Context())
	}
	render.Render(w, r, apperrors.MapLicenseError(err, traceID))
}
