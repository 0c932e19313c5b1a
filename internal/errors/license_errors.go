package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// License-specific errors (using errors package for sentinel errors)
var (
	// ErrInvalidLicenseKey covers every codec-level failure: malformed format,
	// signature mismatch and unsupported payload versions. The distinction is
	// logged internally but never surfaced to the user.
	ErrInvalidLicenseKey = errors.New("invalid license key")

	ErrKeyExpired          = errors.New("license key already expired")
	ErrHardwareMismatch    = errors.New("license key bound to different hardware")
	ErrRateLimited         = errors.New("rate limited")
	ErrTrialExhausted      = errors.New("trial exhausted")
	ErrLicenseExpired      = errors.New("license expired")
	ErrLicenseNotActivated = errors.New("license not activated")
	ErrClockRollback       = errors.New("clock rollback detected")
)

// Error codes for license operations
const (
	ErrCodeInvalidKey       = "INVALID_LICENSE_KEY"
	ErrCodeKeyExpired       = "LICENSE_KEY_EXPIRED"
	ErrCodeHardwareMismatch = "HARDWARE_MISMATCH"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeTrialExhausted   = "TRIAL_EXHAUSTED"
	ErrCodeClockRollback    = "CLOCK_ROLLBACK"
)

// MapLicenseError maps domain errors to HTTP problem details.
// Codec failures all collapse into the generic invalid-key response so the
// caller cannot probe which decode check rejected the key. Hardware mismatch
// and already-expired keys keep distinct messages because legitimate customers
// hit those cases.
func MapLicenseError(err error, traceID string) render.Renderer {
	instance := fmt.Sprintf("/api/license#trace-%s", traceID)

	switch {
	case errors.Is(err, ErrHardwareMismatch):
		return NewProblemDetails(
			http.StatusForbidden,
			"/errors/hardware-mismatch",
			"Hardware Mismatch",
			"This license key was issued for a different machine. Request a key for the hardware ID shown in settings.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", ErrCodeHardwareMismatch)

	case errors.Is(err, ErrKeyExpired):
		return NewProblemDetails(
			http.StatusForbidden,
			"/errors/license-key-expired",
			"License Key Expired",
			"This license key has already expired. Please request a new key.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", ErrCodeKeyExpired)

	case errors.Is(err, ErrRateLimited):
		return NewProblemDetails(
			http.StatusTooManyRequests,
			"/errors/rate-limited",
			"Too Many Requests",
			"Too many activation attempts. Please try again later.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", ErrCodeRateLimited)

	case errors.Is(err, ErrTrialExhausted):
		return NewProblemDetails(
			http.StatusForbidden,
			"/errors/trial-exhausted",
			"Trial Exhausted",
			"All trial uses have been consumed. Activate a license to continue.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", ErrCodeTrialExhausted)

	case errors.Is(err, ErrInvalidLicenseKey):
		return NewProblemDetails(
			http.StatusBadRequest,
			"/errors/invalid-license-key",
			"Invalid License Key",
			"invalid license key",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", ErrCodeInvalidKey)

	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			"/errors/internal-error",
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INTERNAL_ERROR")
	}
}
