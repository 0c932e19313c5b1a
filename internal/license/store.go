package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	apperrors "igps/internal/errors"
)

const (
	// DefaultTrialUses is the number of gated operations permitted before
	// activation is required.
	DefaultTrialUses = 3

	storeKeyIterations = 100000
	storeKeyLength     = 32

	lockAcquireTimeout = 2 * time.Second
	lockRetryInterval  = 10 * time.Millisecond
	staleLockAge       = 10 * time.Second

	// touchInterval limits how often status reads rewrite the state file to
	// advance the last-seen clock value.
	touchInterval = 1 * time.Hour
)

// storeSalt is the PBKDF2 salt for deriving the machine-keyed integrity key.
var storeSalt = []byte("igps-store-salt-2025")

// Record is the persisted license record. It is created on successful
// activation, overwritten whole on re-activation and never partially updated.
type Record struct {
	RawKey       string    `json:"raw_key"`
	Payload      Payload   `json:"payload"`
	Fingerprint  string    `json:"fingerprint"`
	ActivationID string    `json:"activation_id"`
	ActivatedAt  time.Time `json:"activated_at"`
}

// TrialCounter tracks remaining trial quota. It only ever decreases.
type TrialCounter struct {
	UsesRemaining int        `json:"uses_remaining"`
	FirstUseAt    *time.Time `json:"first_use_at,omitempty"`
}

// stateFile is the on-disk envelope. Tag authenticates every other field
// under a key derived from the device fingerprint, so the file is useless
// when copied to another machine and detectably altered when hand-edited.
type stateFile struct {
	Record   *Record      `json:"record,omitempty"`
	Trial    TrialCounter `json:"trial"`
	LastSeen time.Time    `json:"last_seen"`
	Revision uint64       `json:"revision"`
	Tag      string       `json:"tag"`
}

// anchorFile mirrors the state revision to a second file so that restoring an
// older (still validly signed) copy of the state file is detectable.
type anchorFile struct {
	Revision uint64    `json:"revision"`
	LastSeen time.Time `json:"last_seen"`
	Tag      string    `json:"tag"`
}

// Snapshot is the result of loading persisted state. Corrupt and Restored
// both mean the store failed closed: no record, no trial uses.
type Snapshot struct {
	Record   *Record
	Trial    TrialCounter
	LastSeen time.Time
	Revision uint64
	Corrupt  bool
	Restored bool
}

// Store persists the license record and trial counter in a single
// tamper-evident state file. All writes are temp-file-then-rename so a crash
// mid-write never leaves a half-written file, and mutations are serialized
// across processes with a lock file.
type Store struct {
	path       string
	anchorPath string
	lockPath   string
	key        []byte
	trialUses  int
	mu         sync.Mutex
	logger     *slog.Logger
	now        func() time.Time
}

// NewStore creates a store for the given state file path, keyed to the given
// device fingerprint.
func NewStore(path, fingerprint string, trialUses int, logger *slog.Logger) *Store {
	if trialUses <= 0 {
		trialUses = DefaultTrialUses
	}
	return &Store{
		path:       path,
		anchorPath: path + ".anchor",
		lockPath:   path + ".lock",
		key:        deriveStoreKey(fingerprint),
		trialUses:  trialUses,
		logger:     logger.With(slog.String("component", "license_store")),
		now:        time.Now,
	}
}

// deriveStoreKey derives the HMAC key from the device fingerprint. The
// construction mirrors the key-stretching used for the license file since the
// first release, so existing installs keep validating.
func deriveStoreKey(fingerprint string) []byte {
	password := []byte("IGPS|" + fingerprint)
	return pbkdf2.Key(password, storeSalt, storeKeyIterations, storeKeyLength, sha256.New)
}

// Load reads the persisted state. Reads never block on the lock file: the
// rename-based write protocol guarantees a reader always sees a complete file.
func (s *Store) Load() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() Snapshot {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Snapshot{Trial: TrialCounter{UsesRemaining: s.trialUses}}
	}
	if err != nil {
		s.logger.Warn("state file unreadable, failing closed",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return Snapshot{Corrupt: true}
	}

	var st stateFile
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("state file unparseable, failing closed",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return Snapshot{Corrupt: true}
	}

	if !s.verifyStateTag(st) {
		s.logger.Warn("state file integrity tag mismatch, failing closed",
			slog.String("path", s.path),
		)
		return Snapshot{Corrupt: true}
	}

	if anchor, ok := s.loadAnchor(); ok && anchor.Revision > st.Revision {
		s.logger.Warn("state file older than anchor, treating as restored backup",
			slog.Uint64("state_revision", st.Revision),
			slog.Uint64("anchor_revision", anchor.Revision),
		)
		return Snapshot{Restored: true, LastSeen: anchor.LastSeen, Revision: anchor.Revision}
	}

	return Snapshot{
		Record:   st.Record,
		Trial:    st.Trial,
		LastSeen: st.LastSeen,
		Revision: st.Revision,
	}
}

// SaveLicense persists a new license record, replacing any prior record.
// The trial counter is preserved; if the previous state was corrupt the
// counter restarts at zero (fail closed, never fail open).
func (s *Store) SaveLicense(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := s.acquireFileLock()
	if err != nil {
		return err
	}
	defer release()

	snap := s.load()

	st := stateFile{
		Record:   &rec,
		Trial:    snap.Trial,
		LastSeen: snap.LastSeen,
		Revision: snap.Revision,
	}
	if snap.Corrupt || snap.Restored {
		st.Trial = TrialCounter{UsesRemaining: 0}
	}

	if err := s.persist(&st); err != nil {
		return fmt.Errorf("failed to save license record: %w", err)
	}

	s.logger.Info("license record saved",
		slog.String("activation_id", rec.ActivationID),
		slog.String("license_type", rec.Payload.Type.String()),
		slog.Time("expires_at", rec.Payload.ExpiresAt),
	)
	return nil
}

// DecrementTrial consumes one trial use as a single atomic unit. The state is
// re-read after the cross-process lock is held, so two racing processes
// observe a strictly decreasing, never-repeating sequence of counts; once the
// counter reaches zero it never reports nonzero again absent a new activation.
func (s *Store) DecrementTrial() (TrialCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := s.acquireFileLock()
	if err != nil {
		return TrialCounter{}, err
	}
	defer release()

	// Re-read under the lock: another process may have just decremented.
	snap := s.load()
	if snap.Corrupt || snap.Restored {
		return TrialCounter{}, apperrors.ErrTrialExhausted
	}
	if snap.Trial.UsesRemaining <= 0 {
		return TrialCounter{}, apperrors.ErrTrialExhausted
	}

	trial := snap.Trial
	trial.UsesRemaining--
	if trial.FirstUseAt == nil {
		now := s.now().UTC()
		trial.FirstUseAt = &now
	}

	st := stateFile{
		Record:   snap.Record,
		Trial:    trial,
		LastSeen: snap.LastSeen,
		Revision: snap.Revision,
	}
	if err := s.persist(&st); err != nil {
		return TrialCounter{}, fmt.Errorf("failed to persist trial decrement: %w", err)
	}

	s.logger.Info("trial use consumed",
		slog.Int("uses_remaining", trial.UsesRemaining),
	)
	return trial, nil
}

// Touch advances the persisted last-seen clock value. It rewrites the file at
// most once per touchInterval so frequent status reads stay cheap.
func (s *Store) Touch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.load()
	if snap.Corrupt || snap.Restored {
		return nil
	}
	if s.now().Sub(snap.LastSeen) < touchInterval {
		return nil
	}

	release, err := s.acquireFileLock()
	if err != nil {
		return err
	}
	defer release()

	snap = s.load()
	st := stateFile{
		Record:   snap.Record,
		Trial:    snap.Trial,
		LastSeen: snap.LastSeen,
		Revision: snap.Revision,
	}
	return s.persist(&st)
}

// persist writes the state file and its anchor atomically. Revision advances
// monotonically and LastSeen never moves backwards.
func (s *Store) persist(st *stateFile) error {
	anchorRev := uint64(0)
	if anchor, ok := s.loadAnchor(); ok {
		anchorRev = anchor.Revision
	}
	if anchorRev > st.Revision {
		st.Revision = anchorRev
	}
	st.Revision++

	now := s.now().UTC()
	if now.After(st.LastSeen) {
		st.LastSeen = now
	}

	st.Tag = s.stateTag(*st)
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(s.path, data); err != nil {
		return err
	}

	anchor := anchorFile{Revision: st.Revision, LastSeen: st.LastSeen}
	anchor.Tag = s.anchorTag(anchor)
	anchorData, err := json.Marshal(anchor)
	if err != nil {
		return err
	}
	return atomicWrite(s.anchorPath, anchorData)
}

// stateTag computes the integrity tag over the state file with its tag field
// cleared.
func (s *Store) stateTag(st stateFile) string {
	st.Tag = ""
	data, err := json.Marshal(st)
	if err != nil {
		// stateFile contains only marshalable fields.
		panic(err)
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Store) verifyStateTag(st stateFile) bool {
	expected := st.Tag
	if expected == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(s.stateTag(st)))
}

func (s *Store) anchorTag(a anchorFile) string {
	data := fmt.Sprintf("%d|%s", a.Revision, a.LastSeen.UTC().Format(time.RFC3339Nano))
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// loadAnchor reads the anchor file. A missing or invalid anchor is ignored:
// the anchor only strengthens detection, its absence must not brick installs.
func (s *Store) loadAnchor() (anchorFile, bool) {
	data, err := os.ReadFile(s.anchorPath)
	if err != nil {
		return anchorFile{}, false
	}

	var anchor anchorFile
	if err := json.Unmarshal(data, &anchor); err != nil {
		s.logger.Debug("anchor file unparseable, ignoring",
			slog.String("error", err.Error()),
		)
		return anchorFile{}, false
	}

	expected := anchor.Tag
	anchor.Tag = ""
	if !hmac.Equal([]byte(expected), []byte(s.anchorTag(anchor))) {
		s.logger.Debug("anchor file tag mismatch, ignoring")
		return anchorFile{}, false
	}

	return anchor, true
}

// acquireFileLock serializes mutations across process instances. The lock is
// a sibling file created with O_EXCL; locks older than staleLockAge are from
// crashed processes and get broken.
func (s *Store) acquireFileLock() (func(), error) {
	deadline := s.now().Add(lockAcquireTimeout)
	for {
		f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(s.lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		if info, statErr := os.Stat(s.lockPath); statErr == nil {
			if s.now().Sub(info.ModTime()) > staleLockAge {
				s.logger.Warn("breaking stale state lock",
					slog.String("path", s.lockPath),
					slog.Time("lock_mtime", info.ModTime()),
				)
				os.Remove(s.lockPath)
				continue
			}
		}

		if s.now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for state lock %s", s.lockPath)
		}
		time.Sleep(lockRetryInterval)
	}
}

// atomicWrite writes data to a temp file in the target directory and renames
// it into place, so a crash mid-write never yields a half-written file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
