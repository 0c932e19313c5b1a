package license

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"igps/internal/infrastructure"
)

// logAction logs a license action with structured data
func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	logger := infrastructure.LoggerWithContext(ctx)

	allAttrs := []slog.Attr{
		slog.String("component", "license_manager"),
		slog.String("action", action),
	}
	allAttrs = append(allAttrs, attrs...)

	logger.LogAttrs(ctx, level, result, allAttrs...)
}

func (m *Manager) logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

func (m *Manager) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (m *Manager) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (m *Manager) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelError, action, result, attrs...)
}

// maskLicenseKey masks a license key for logging
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// hashLicenseKey creates a hash of the license key for audit correlation
// without storing the key itself.
func hashLicenseKey(key string) string {
	if key == "" {
		return ""
	}
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)[:16]
}
