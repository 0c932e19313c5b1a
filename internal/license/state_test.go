package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	tolerance := 5 * time.Minute
	fp := testFingerprint

	activeRecord := func(fingerprint string, expires time.Time) *Record {
		return &Record{
			Payload: Payload{
				Type:      TypeProfessional,
				ExpiresAt: expires,
			},
			Fingerprint: fingerprint,
		}
	}

	tests := []struct {
		name string
		snap Snapshot
		want Status
	}{
		{
			name: "fresh install trial available",
			snap: Snapshot{Trial: TrialCounter{UsesRemaining: 3}},
			want: Status{Kind: StatusTrialAvailable, TrialRemaining: 3},
		},
		{
			name: "trial exhausted",
			snap: Snapshot{Trial: TrialCounter{UsesRemaining: 0}},
			want: Status{Kind: StatusTrialExhausted},
		},
		{
			name: "activated and valid",
			snap: Snapshot{Record: activeRecord(fp, now.AddDate(0, 0, 30))},
			want: Status{
				Kind:        StatusActivated,
				LicenseType: "professional",
				ExpiresAt:   now.AddDate(0, 0, 30),
			},
		},
		{
			name: "activated takes precedence over remaining trial",
			snap: Snapshot{
				Record: activeRecord(fp, now.AddDate(0, 0, 30)),
				Trial:  TrialCounter{UsesRemaining: 2},
			},
			want: Status{
				Kind:        StatusActivated,
				LicenseType: "professional",
				ExpiresAt:   now.AddDate(0, 0, 30),
			},
		},
		{
			name: "expired license does not fall back to trial",
			snap: Snapshot{
				Record: activeRecord(fp, now.AddDate(0, 0, -1)),
				Trial:  TrialCounter{UsesRemaining: 2},
			},
			want: Status{Kind: StatusExpired, ExpiredAt: now.AddDate(0, 0, -1)},
		},
		{
			name: "expires exactly now is expired",
			snap: Snapshot{Record: activeRecord(fp, now)},
			want: Status{Kind: StatusExpired, ExpiredAt: now},
		},
		{
			name: "hardware mismatch",
			snap: Snapshot{
				Record: activeRecord("some-other-fingerprint", now.AddDate(0, 0, 30)),
				Trial:  TrialCounter{UsesRemaining: 3},
			},
			want: Status{Kind: StatusInvalid, Reason: ReasonHardwareMismatch},
		},
		{
			name: "clock rollback beyond tolerance",
			snap: Snapshot{
				Record:   activeRecord(fp, now.AddDate(0, 0, 30)),
				LastSeen: now.Add(10 * time.Minute),
			},
			want: Status{Kind: StatusInvalid, Reason: ReasonClockRollback},
		},
		{
			name: "clock skew within tolerance is fine",
			snap: Snapshot{
				Record:   activeRecord(fp, now.AddDate(0, 0, 30)),
				LastSeen: now.Add(3 * time.Minute),
			},
			want: Status{
				Kind:        StatusActivated,
				LicenseType: "professional",
				ExpiresAt:   now.AddDate(0, 0, 30),
			},
		},
		{
			name: "rollback invalidates trial too",
			snap: Snapshot{
				Trial:    TrialCounter{UsesRemaining: 3},
				LastSeen: now.Add(24 * time.Hour),
			},
			want: Status{Kind: StatusInvalid, Reason: ReasonClockRollback},
		},
		{
			name: "corrupt state is trial exhausted",
			snap: Snapshot{Corrupt: true},
			want: Status{Kind: StatusTrialExhausted},
		},
		{
			name: "restored backup is trial exhausted",
			snap: Snapshot{Restored: true, LastSeen: now.Add(-time.Hour)},
			want: Status{Kind: StatusTrialExhausted},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveStatus(tt.snap, fp, now, tolerance)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatusAllows(t *testing.T) {
	assert.True(t, Status{Kind: StatusActivated}.Allows())
	assert.True(t, Status{Kind: StatusTrialAvailable, TrialRemaining: 1}.Allows())
	assert.False(t, Status{Kind: StatusTrialExhausted}.Allows())
	assert.False(t, Status{Kind: StatusExpired}.Allows())
	assert.False(t, Status{Kind: StatusInvalid}.Allows())
}

func TestStatusMessage(t *testing.T) {
	expires := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "trial: 2 uses remaining",
		Status{Kind: StatusTrialAvailable, TrialRemaining: 2}.Message())
	assert.Equal(t, "trial exhausted, activation required",
		Status{Kind: StatusTrialExhausted}.Message())
	assert.Equal(t, "activated (standard), valid until 2026-12-01",
		Status{Kind: StatusActivated, LicenseType: "standard", ExpiresAt: expires}.Message())
	assert.Equal(t, "license expired on 2026-12-01",
		Status{Kind: StatusExpired, ExpiredAt: expires}.Message())
	assert.Equal(t, "license invalid: hardware-mismatch",
		Status{Kind: StatusInvalid, Reason: ReasonHardwareMismatch}.Message())
}
