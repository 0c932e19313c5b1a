package license

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"igps/internal/config"
	apperrors "igps/internal/errors"
	"igps/internal/security"
)

// fallbackFingerprint is used when every hardware attribute source fails.
// Licensing keeps working in a degraded mode instead of bricking the install;
// machine-bound keys will simply not match.
const fallbackFingerprint = "fingerprint-unavailable"

// ManagerInterface defines the manager surface consumed by the service layer,
// kept as an interface to enable mocking in tests.
type ManagerInterface interface {
	Status(ctx context.Context) Status
	Activate(ctx context.Context, key string) (Status, error)
	CheckAndConsume(ctx context.Context, kind OperationKind) (*Permit, error)
	HardwareID() string
	HardwareComponents() map[string]string
}

// Manager is the single source of truth for license state. It owns the store,
// the key codec and the device fingerprint, and is constructed once at startup
// and handed to the GUI and pipeline collaborators; there is no ambient
// license state.
type Manager struct {
	cfg          config.LicenseConfig
	store        *Store
	codec        *Codec
	fingerprints *security.FingerprintManager
	fingerprint  string
	limiter      *rate.Limiter
	metrics      *Metrics
	auditPath    string
}

// NewManager creates a license manager rooted at the configured state file.
func NewManager(cfg config.LicenseConfig, statePath, auditPath string) (*Manager, error) {
	fm := security.NewFingerprintManager()

	fingerprint := fallbackFingerprint
	if device, err := fm.Compute(); err != nil {
		slog.Error("device fingerprint unavailable, licensing degraded",
			slog.String("error", err.Error()),
		)
	} else {
		fingerprint = device.Fingerprint
	}

	var codec *Codec
	if cfg.SigningSecret != "" {
		codec = NewCodec([]byte(cfg.SigningSecret))
	} else {
		codec = NewBuiltinCodec()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit.Enabled {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}

	m := &Manager{
		cfg:          cfg,
		store:        NewStore(statePath, fingerprint, cfg.TrialUses, slog.Default()),
		codec:        codec,
		fingerprints: fm,
		fingerprint:  fingerprint,
		limiter:      limiter,
		auditPath:    auditPath,
	}

	return m, nil
}

// SetMetrics attaches OpenTelemetry metrics instruments to the manager
func (m *Manager) SetMetrics(metrics *Metrics) {
	m.metrics = metrics
}

// Status derives the current license status. Safe to call anytime, no side
// effects beyond an occasional last-seen clock advance in the store.
func (m *Manager) Status(ctx context.Context) Status {
	snap := m.store.Load()
	status := DeriveStatus(snap, m.fingerprint, time.Now(), m.cfg.ClockTolerance)

	if err := m.store.Touch(); err != nil {
		m.logDebug(ctx, "clock_touch", "failed to advance last-seen clock",
			slog.String("error", err.Error()),
		)
	}

	m.metrics.RecordStatusCheck(ctx, string(status.Kind))
	return status
}

// Activate validates a user-entered key against this machine and, on success,
// persists it and returns the recomputed status. A new valid key always
// overwrites the prior record: newest valid key wins, whatever state the old
// record was in.
func (m *Manager) Activate(ctx context.Context, rawKey string) (Status, error) {
	if m.limiter != nil && !m.limiter.Allow() {
		m.logWarn(ctx, "activation", "activation attempt rate limited")
		m.metrics.RecordActivation(ctx, "rate_limited")
		return Status{}, apperrors.ErrRateLimited
	}

	key := NormalizeKey(rawKey)
	masked := maskLicenseKey(key)

	payload, err := m.codec.Decode(key)
	if err != nil {
		// The decode failure class is logged for diagnostics but the caller
		// gets the one generic error for all of them.
		m.logWarn(ctx, "activation", "license key rejected by codec",
			slog.String("license_key_masked", masked),
			slog.String("decode_error", err.Error()),
		)
		m.metrics.RecordActivation(ctx, "invalid_key")
		return Status{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidLicenseKey, err)
	}

	if payload.Binding != BindingOf(m.fingerprint) {
		m.logWarn(ctx, "activation", "license key bound to different hardware",
			slog.String("license_key_masked", masked),
		)
		m.metrics.RecordActivation(ctx, "hardware_mismatch")
		return Status{}, apperrors.ErrHardwareMismatch
	}

	now := time.Now()
	if !now.Before(payload.ExpiresAt) {
		m.logWarn(ctx, "activation", "license key already expired",
			slog.String("license_key_masked", masked),
			slog.Time("expires_at", payload.ExpiresAt),
		)
		m.metrics.RecordActivation(ctx, "expired_key")
		return Status{}, apperrors.ErrKeyExpired
	}

	previous := DeriveStatus(m.store.Load(), m.fingerprint, now, m.cfg.ClockTolerance)

	rec := Record{
		RawKey:       key,
		Payload:      payload,
		Fingerprint:  m.fingerprint,
		ActivationID: uuid.NewString(),
		ActivatedAt:  now.UTC(),
	}
	if err := m.store.SaveLicense(rec); err != nil {
		m.logError(ctx, "activation", "failed to persist license record",
			slog.String("error", err.Error()),
		)
		m.metrics.RecordActivation(ctx, "persist_error")
		return Status{}, fmt.Errorf("failed to persist activation: %w", err)
	}

	status := DeriveStatus(m.store.Load(), m.fingerprint, time.Now(), m.cfg.ClockTolerance)
	m.appendAudit(ctx, "activate", rec, previous, status)

	m.logInfo(ctx, "activation", "license activated",
		slog.String("license_key_masked", masked),
		slog.String("activation_id", rec.ActivationID),
		slog.String("license_type", payload.Type.String()),
		slog.Time("expires_at", payload.ExpiresAt),
	)
	m.metrics.RecordActivation(ctx, "success")
	return status, nil
}

// HardwareID returns the full device fingerprint for display, so the user can
// send it to the vendor to obtain a key.
func (m *Manager) HardwareID() string {
	return m.fingerprint
}

// HardwareComponents returns the individual fingerprint attributes for
// support diagnostics.
func (m *Manager) HardwareComponents() map[string]string {
	return m.fingerprints.Components()
}

// Audit is an activation audit trail entry
type Audit struct {
	Timestamp      time.Time `json:"timestamp"`
	Action         string    `json:"action"`
	ActivationID   string    `json:"activation_id"`
	LicenseKeyHash string    `json:"license_key_hash"`
	LicenseType    string    `json:"license_type"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	TraceID        string    `json:"trace_id,omitempty"`
}

// appendAudit records a license change to the audit trail file. Audit write
// failures are logged and swallowed: the activation itself already succeeded.
func (m *Manager) appendAudit(ctx context.Context, action string, rec Record, previous, current Status) {
	if m.auditPath == "" {
		return
	}

	audit := Audit{
		Timestamp:      time.Now().UTC(),
		Action:         action,
		ActivationID:   rec.ActivationID,
		LicenseKeyHash: hashLicenseKey(rec.RawKey),
		LicenseType:    rec.Payload.Type.String(),
		PreviousStatus: string(previous.Kind),
		NewStatus:      string(current.Kind),
	}

	line, err := json.Marshal(audit)
	if err != nil {
		m.logError(ctx, "audit", "failed to marshal audit record",
			slog.String("error", err.Error()),
		)
		return
	}

	f, err := os.OpenFile(m.auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		m.logError(ctx, "audit", "failed to open audit file",
			slog.String("path", m.auditPath),
			slog.String("error", err.Error()),
		)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		m.logError(ctx, "audit", "failed to append audit record",
			slog.String("error", err.Error()),
		)
	}
}
