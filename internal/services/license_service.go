package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"igps/internal/infrastructure"
	"igps/internal/license"
)

// LicenseService provides business logic for license operations
type LicenseService interface {
	GetStatus(ctx context.Context) (*LicenseStatusResponse, error)
	Activate(ctx context.Context, key string) (*LicenseStatusResponse, error)
	HardwareInfo(ctx context.Context) (*HardwareInfoResponse, error)
}

// LicenseStatusResponse represents the license status returned to the GUI
type LicenseStatusResponse struct {
	State          string     `json:"state"`
	Message        string     `json:"message"`
	TrialRemaining int        `json:"trial_remaining"`
	LicenseType    string     `json:"license_type,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ExpiredAt      *time.Time `json:"expired_at,omitempty"`
	DaysLeft       int        `json:"days_left,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	TraceID        string     `json:"trace_id"`
	Timestamp      time.Time  `json:"timestamp"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// HardwareInfoResponse exposes the machine identity used for key issuance.
// The full fingerprint is what the vendor needs to mint a hardware-bound key.
type HardwareInfoResponse struct {
	HardwareID string            `json:"hardware_id"`
	Components map[string]string `json:"components"`
	TraceID    string            `json:"trace_id"`
	Timestamp  time.Time         `json:"timestamp"`
}

// licenseService implements LicenseService on top of the license manager
type licenseService struct {
	manager license.ManagerInterface
	logger  *slog.Logger
}

// NewLicenseService creates a new license service
func NewLicenseService(manager license.ManagerInterface, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		manager: manager,
		logger:  logger.With(slog.String("service", "license")),
	}
}

// GetStatus returns the current license status
func (s *licenseService) GetStatus(ctx context.Context) (*LicenseStatusResponse, error) {
	start := time.Now()
	traceID := requestTraceID(ctx)

	status := s.manager.Status(ctx)

	s.logger.InfoContext(ctx, "license status check completed",
		slog.String("trace_id", traceID),
		slog.String("operation", "get_status"),
		slog.String("state", string(status.Kind)),
		slog.Duration("latency", time.Since(start)),
	)

	return statusResponse(status, traceID), nil
}

// Activate applies an activation key and returns the resulting status
func (s *licenseService) Activate(ctx context.Context, key string) (*LicenseStatusResponse, error) {
	start := time.Now()
	traceID := requestTraceID(ctx)

	s.logger.InfoContext(ctx, "license activation started",
		slog.String("trace_id", traceID),
		slog.String("operation", "activate"),
	)

	status, err := s.manager.Activate(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "license activation failed",
			slog.String("trace_id", traceID),
			slog.String("operation", "activate"),
			slog.String("error", err.Error()),
			slog.Duration("latency", time.Since(start)),
		)
		return nil, err
	}

	s.logger.InfoContext(ctx, "license activation completed",
		slog.String("trace_id", traceID),
		slog.String("operation", "activate"),
		slog.String("state", string(status.Kind)),
		slog.String("license_type", status.LicenseType),
		slog.Duration("latency", time.Since(start)),
	)

	return statusResponse(status, traceID), nil
}

// HardwareInfo returns the device identity for support and key issuance
func (s *licenseService) HardwareInfo(ctx context.Context) (*HardwareInfoResponse, error) {
	tid := requestTraceID(ctx)

	s.logger.InfoContext(ctx, "hardware info requested",
		slog.String("trace_id", tid),
		slog.String("operation", "hardware_info"),
	)

	return &HardwareInfoResponse{
		HardwareID: s.manager.HardwareID(),
		Components: s.manager.HardwareComponents(),
		TraceID:    tid,
		Timestamp:  time.Now(),
	}, nil
}

func statusResponse(status license.Status, traceID string) *LicenseStatusResponse {
	resp := &LicenseStatusResponse{
		State:          string(status.Kind),
		Message:        status.Message(),
		TrialRemaining: status.TrialRemaining,
		LicenseType:    status.LicenseType,
		ExpiresAt:      timePtr(status.ExpiresAt),
		ExpiredAt:      timePtr(status.ExpiredAt),
		Reason:         status.Reason,
		TraceID:        traceID,
		Timestamp:      time.Now(),
	}
	if !status.ExpiresAt.IsZero() {
		if days := int(time.Until(status.ExpiresAt).Hours() / 24); days > 0 {
			resp.DaysLeft = days
		}
	}
	return resp
}

func requestTraceID(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return infrastructure.TraceIDFromContext(ctx)
}
