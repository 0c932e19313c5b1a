package license

import (
	"fmt"
	"time"
)

// StatusKind enumerates the possible license states
type StatusKind string

const (
	StatusTrialAvailable StatusKind = "trial_available"
	StatusTrialExhausted StatusKind = "trial_exhausted"
	StatusActivated      StatusKind = "activated"
	StatusExpired        StatusKind = "expired"
	StatusInvalid        StatusKind = "invalid"
)

// Invalid-status reasons
const (
	ReasonHardwareMismatch = "hardware-mismatch"
	ReasonClockRollback    = "clock-rollback-detected"
)

// Status is the derived license state. It is recomputed on demand from the
// store snapshot, the current clock and the device fingerprint, and is never
// persisted; it is the only value the rest of the application reads.
type Status struct {
	Kind           StatusKind `json:"kind"`
	TrialRemaining int        `json:"trial_remaining,omitempty"`
	LicenseType    string     `json:"license_type,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at,omitempty"`
	ExpiredAt      time.Time  `json:"expired_at,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

// Allows reports whether gated operations may proceed in this status
func (s Status) Allows() bool {
	return s.Kind == StatusActivated || s.Kind == StatusTrialAvailable
}

// Message returns a short user-facing description of the status
func (s Status) Message() string {
	switch s.Kind {
	case StatusTrialAvailable:
		return fmt.Sprintf("trial: %d uses remaining", s.TrialRemaining)
	case StatusTrialExhausted:
		return "trial exhausted, activation required"
	case StatusActivated:
		return fmt.Sprintf("activated (%s), valid until %s", s.LicenseType, s.ExpiresAt.Format("2006-01-02"))
	case StatusExpired:
		return fmt.Sprintf("license expired on %s", s.ExpiredAt.Format("2006-01-02"))
	case StatusInvalid:
		return "license invalid: " + s.Reason
	default:
		return string(s.Kind)
	}
}

// DeriveStatus reconciles stored state, current time and hardware identity
// into the effective license status.
//
// An activated, unexpired, hardware-matching record always takes precedence
// over the trial counter. A record bound to different hardware collapses to
// Invalid rather than falling back to trial, because a copied state file must
// not re-open the quota. A clock running behind the latest observed timestamp
// by more than the tolerance invalidates everything: a rolled-back clock must
// not resurrect an expired license or an exhausted trial.
func DeriveStatus(snap Snapshot, fingerprint string, now time.Time, clockTolerance time.Duration) Status {
	if !snap.LastSeen.IsZero() && now.Before(snap.LastSeen.Add(-clockTolerance)) {
		return Status{Kind: StatusInvalid, Reason: ReasonClockRollback}
	}

	if snap.Record != nil {
		rec := snap.Record
		if rec.Fingerprint != fingerprint {
			return Status{Kind: StatusInvalid, Reason: ReasonHardwareMismatch}
		}
		if now.Before(rec.Payload.ExpiresAt) {
			return Status{
				Kind:        StatusActivated,
				LicenseType: rec.Payload.Type.String(),
				ExpiresAt:   rec.Payload.ExpiresAt,
			}
		}
		return Status{Kind: StatusExpired, ExpiredAt: rec.Payload.ExpiresAt}
	}

	// Corrupt or restored state reaches here with zero trial uses: fail
	// closed to exhausted, never open to a fresh trial.
	if snap.Trial.UsesRemaining > 0 {
		return Status{Kind: StatusTrialAvailable, TrialRemaining: snap.Trial.UsesRemaining}
	}
	return Status{Kind: StatusTrialExhausted}
}
