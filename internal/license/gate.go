package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "igps/internal/errors"
)

// OperationKind identifies a gated operation. The imaging pipeline passes one
// of these once per user-initiated run, not once per file.
type OperationKind string

const (
	OpBatchConversion OperationKind = "batch_conversion"
	OpSingleConvert   OperationKind = "single_convert"
)

// Permit authorizes exactly one gated operation. Consumption happens at
// admission: the caller must acquire the permit immediately before starting
// the operation and must not retry the decrement if the operation later fails
// for unrelated reasons.
type Permit struct {
	ID             string        `json:"id"`
	Operation      OperationKind `json:"operation"`
	Mode           StatusKind    `json:"mode"`
	TrialRemaining int           `json:"trial_remaining,omitempty"`
	GrantedAt      time.Time     `json:"granted_at"`
}

// Denial reasons
const (
	DenyTrialExhausted = "trial-exhausted"
	DenyLicenseExpired = "license-expired"
	DenyLicenseInvalid = "license-invalid"
)

// DeniedError reports a refused gated operation
type DeniedError struct {
	Reason string
	err    error
}

func (e *DeniedError) Error() string {
	return "operation denied: " + e.Reason
}

func (e *DeniedError) Unwrap() error {
	return e.err
}

// CheckAndConsume is the enforcement point for gated operations. An activated
// license grants a permit with no side effect. In trial mode one trial use is
// consumed atomically; losing the race for the last use denies. All other
// states deny immediately without touching the store.
func (m *Manager) CheckAndConsume(ctx context.Context, kind OperationKind) (*Permit, error) {
	start := time.Now()
	status := m.Status(ctx)

	defer func() {
		m.metrics.RecordGateLatency(ctx, time.Since(start))
	}()

	switch status.Kind {
	case StatusActivated:
		permit := m.newPermit(kind, status.Kind, 0)
		m.logDebug(ctx, "usage_gate", "permit granted under active license",
			slog.String("operation", string(kind)),
			slog.String("permit_id", permit.ID),
		)
		m.metrics.RecordPermit(ctx, string(kind), "activated")
		return permit, nil

	case StatusTrialAvailable:
		trial, err := m.store.DecrementTrial()
		if err != nil {
			if errors.Is(err, apperrors.ErrTrialExhausted) {
				// Lost the race for the last trial use.
				m.logInfo(ctx, "usage_gate", "trial use denied, quota exhausted",
					slog.String("operation", string(kind)),
				)
				m.metrics.RecordDenial(ctx, string(kind), DenyTrialExhausted)
				return nil, &DeniedError{Reason: DenyTrialExhausted, err: err}
			}
			return nil, fmt.Errorf("trial decrement failed: %w", err)
		}

		permit := m.newPermit(kind, status.Kind, trial.UsesRemaining)
		m.logInfo(ctx, "usage_gate", "permit granted, trial use consumed",
			slog.String("operation", string(kind)),
			slog.String("permit_id", permit.ID),
			slog.Int("trial_remaining", trial.UsesRemaining),
		)
		m.metrics.RecordPermit(ctx, string(kind), "trial")
		return permit, nil

	case StatusExpired:
		m.metrics.RecordDenial(ctx, string(kind), DenyLicenseExpired)
		return nil, &DeniedError{Reason: DenyLicenseExpired, err: apperrors.ErrLicenseExpired}

	case StatusTrialExhausted:
		m.metrics.RecordDenial(ctx, string(kind), DenyTrialExhausted)
		return nil, &DeniedError{Reason: DenyTrialExhausted, err: apperrors.ErrTrialExhausted}

	default: // StatusInvalid
		m.logWarn(ctx, "usage_gate", "operation denied, license invalid",
			slog.String("operation", string(kind)),
			slog.String("reason", status.Reason),
		)
		m.metrics.RecordDenial(ctx, string(kind), DenyLicenseInvalid)
		return nil, &DeniedError{Reason: DenyLicenseInvalid + ": " + status.Reason}
	}
}

func (m *Manager) newPermit(kind OperationKind, mode StatusKind, trialRemaining int) *Permit {
	return &Permit{
		ID:             uuid.NewString(),
		Operation:      kind,
		Mode:           mode,
		TrialRemaining: trialRemaining,
		GrantedAt:      time.Now().UTC(),
	}
}
