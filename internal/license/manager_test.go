package license

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"igps/internal/config"
	apperrors "igps/internal/errors"
)

const testManagerSecret = "manager-test-secret"

// newTestManager builds a manager with a fixed fingerprint so tests do not
// depend on the hardware they run on.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	return &Manager{
		cfg: config.LicenseConfig{
			TrialUses:      3,
			ClockTolerance: 5 * time.Minute,
		},
		store:       NewStore(filepath.Join(dir, "license.dat"), testFingerprint, 3, slog.Default()),
		codec:       NewCodec([]byte(testManagerSecret)),
		fingerprint: testFingerprint,
		auditPath:   filepath.Join(dir, "license_audit.jsonl"),
	}
}

// issueKey mints a key bound to the test fingerprint, the way the vendor
// keygen tool would.
func issueKey(t *testing.T, days int, typ Type) string {
	t.Helper()
	now := time.Now().UTC()
	issued := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	key, err := NewCodec([]byte(testManagerSecret)).Encode(Payload{
		Type:      typ,
		Binding:   BindingOf(testFingerprint),
		IssuedAt:  issued,
		ExpiresAt: issued.AddDate(0, 0, days),
	})
	require.NoError(t, err)
	return key
}

func TestManagerStatusFreshInstall(t *testing.T) {
	m := newTestManager(t)

	status := m.Status(context.Background())
	assert.Equal(t, StatusTrialAvailable, status.Kind)
	assert.Equal(t, 3, status.TrialRemaining)
}

func TestManagerActivateValidKey(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	status, err := m.Activate(ctx, FormatKey(issueKey(t, 90, TypeProfessional)))
	require.NoError(t, err)
	assert.Equal(t, StatusActivated, status.Kind)
	assert.Equal(t, "professional", status.LicenseType)

	// The record survives a status re-derivation.
	status = m.Status(ctx)
	assert.Equal(t, StatusActivated, status.Kind)
}

func TestManagerActivateGarbageKey(t *testing.T) {
	m := newTestManager(t)

	for _, key := range []string{
		"",
		"not-a-key",
		"AAAA-BBBB-CCCC-DDDD",
		"0000000000000000",
	} {
		_, err := m.Activate(context.Background(), key)
		require.Error(t, err, "key %q", key)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidLicenseKey), "key %q: got %v", key, err)
	}

	// Failed attempts leave the trial quota untouched.
	status := m.Status(context.Background())
	assert.Equal(t, StatusTrialAvailable, status.Kind)
	assert.Equal(t, 3, status.TrialRemaining)
}

func TestManagerActivateWrongHardware(t *testing.T) {
	m := newTestManager(t)

	key, err := NewCodec([]byte(testManagerSecret)).Encode(Payload{
		Type:      TypeStandard,
		Binding:   BindingOf(testFingerprint) ^ 0x0001,
		IssuedAt:  time.Now().UTC().Truncate(24 * time.Hour),
		ExpiresAt: time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 90),
	})
	require.NoError(t, err)

	_, err = m.Activate(context.Background(), key)
	assert.True(t, errors.Is(err, apperrors.ErrHardwareMismatch), "got %v", err)

	// Prior state is unchanged.
	status := m.Status(context.Background())
	assert.Equal(t, StatusTrialAvailable, status.Kind)
}

func TestManagerActivateExpiredKey(t *testing.T) {
	m := newTestManager(t)

	issued := time.Now().UTC().AddDate(0, 0, -120).Truncate(24 * time.Hour)
	key, err := NewCodec([]byte(testManagerSecret)).Encode(Payload{
		Type:      TypeStandard,
		Binding:   BindingOf(testFingerprint),
		IssuedAt:  issued,
		ExpiresAt: issued.AddDate(0, 0, 30),
	})
	require.NoError(t, err)

	_, err = m.Activate(context.Background(), key)
	assert.True(t, errors.Is(err, apperrors.ErrKeyExpired), "got %v", err)
}

func TestManagerReactivationReplacesRecord(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Activate(ctx, issueKey(t, 30, TypeStandard))
	require.NoError(t, err)

	status, err := m.Activate(ctx, issueKey(t, 365, TypeEnterprise))
	require.NoError(t, err)
	assert.Equal(t, StatusActivated, status.Kind)
	assert.Equal(t, "enterprise", status.LicenseType)
}

func TestManagerActivationRateLimited(t *testing.T) {
	m := newTestManager(t)
	m.limiter = rate.NewLimiter(rate.Limit(0.001), 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := m.Activate(ctx, "AAAA-BBBB-CCCC-DDDD")
		assert.True(t, errors.Is(err, apperrors.ErrInvalidLicenseKey), "attempt %d: got %v", i, err)
	}

	_, err := m.Activate(ctx, "AAAA-BBBB-CCCC-DDDD")
	assert.True(t, errors.Is(err, apperrors.ErrRateLimited), "got %v", err)
}

func TestManagerActivationAuditTrail(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Activate(ctx, issueKey(t, 90, TypeStandard))
	require.NoError(t, err)
	_, err = m.Activate(ctx, issueKey(t, 365, TypeEnterprise))
	require.NoError(t, err)

	f, err := os.Open(m.auditPath)
	require.NoError(t, err)
	defer f.Close()

	var entries []Audit
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var a Audit
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &a))
		entries = append(entries, a)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, entries, 2)
	assert.Equal(t, "activate", entries[0].Action)
	assert.Equal(t, string(StatusTrialAvailable), entries[0].PreviousStatus)
	assert.Equal(t, string(StatusActivated), entries[0].NewStatus)
	assert.Equal(t, string(StatusActivated), entries[1].PreviousStatus)
	assert.NotEqual(t, entries[0].ActivationID, entries[1].ActivationID)
	assert.Len(t, entries[0].LicenseKeyHash, 16, "audit must carry a hash, never the key")
}

func TestManagerHardwareID(t *testing.T) {
	m := newTestManager(t)
	assert.Equal(t, testFingerprint, m.HardwareID())
}

func TestMaskLicenseKey(t *testing.T) {
	assert.Equal(t, "ABCD****5678", maskLicenseKey("ABCD1234EFGH5678"))
	assert.Equal(t, "****", maskLicenseKey("short"))
	assert.Equal(t, "****", maskLicenseKey(""))
}

func TestHashLicenseKeyIsStable(t *testing.T) {
	h := hashLicenseKey("ABCD1234EFGH5678")
	assert.Len(t, h, 16)
	assert.Equal(t, h, hashLicenseKey("ABCD1234EFGH5678"))
	assert.NotEqual(t, h, hashLicenseKey("ABCD1234EFGH5679"))
}
