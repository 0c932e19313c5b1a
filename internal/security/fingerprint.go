package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

// ErrFingerprintUnavailable is returned only when every hardware attribute
// source fails. A partial failure degrades with a logged warning instead,
// because hard-failing would brick legitimate installs.
var ErrFingerprintUnavailable = errors.New("no hardware attribute source available")

// DeviceFingerprint represents device identification information
type DeviceFingerprint struct {
	Fingerprint string    `json:"fingerprint"`
	HostID      string    `json:"host_id"`
	MACAddress  string    `json:"mac_address"`
	CPUID       string    `json:"cpu_id"`
	OS          string    `json:"os"`
	Platform    string    `json:"platform"`
	Degraded    bool      `json:"degraded"`
	GeneratedAt time.Time `json:"generated_at"`
}

// FingerprintManager handles device fingerprinting operations
type FingerprintManager struct {
	cache         *DeviceFingerprint
	cacheMutex    sync.RWMutex
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewFingerprintManager creates a new fingerprint manager with caching
func NewFingerprintManager() *FingerprintManager {
	return &FingerprintManager{
		cacheDuration: 1 * time.Hour,
	}
}

// GetHostID retrieves the OS-level machine identifier. On Linux this is
// /etc/machine-id (survives reinstall of the application, not of the OS),
// on Windows the MachineGuid, on macOS the IOPlatformUUID.
func (fm *FingerprintManager) GetHostID() (string, error) {
	hostID, err := host.HostID()
	if err != nil {
		return "", fmt.Errorf("failed to get host id: %w", err)
	}

	hostID = strings.ToLower(strings.TrimSpace(hostID))
	if hostID == "" {
		return "", fmt.Errorf("host id is empty")
	}

	return hostID, nil
}

// GetMACAddress retrieves the primary network interface MAC address
func (fm *FingerprintManager) GetMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	// Look for the first non-loopback, up interface with a MAC address
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		if len(iface.HardwareAddr) > 0 {
			mac := iface.HardwareAddr.String()
			if mac != "" && mac != "00:00:00:00:00:00" {
				return mac, nil
			}
		}
	}

	// Fallback: use any interface with a MAC address, up or not
	for _, iface := range interfaces {
		if len(iface.HardwareAddr) > 0 {
			mac := iface.HardwareAddr.String()
			if mac != "" && mac != "00:00:00:00:00:00" {
				slog.Warn("Using fallback MAC address",
					slog.String("interface", iface.Name),
					slog.String("mac", mac),
				)
				return mac, nil
			}
		}
	}

	return "", fmt.Errorf("no valid MAC address found")
}

// GetCPUID retrieves a normalized CPU identity string
func (fm *FingerprintManager) GetCPUID() (string, error) {
	infos, err := cpu.Info()
	if err != nil || len(infos) == 0 {
		return "", fmt.Errorf("failed to get cpu info: %w", err)
	}

	// Vendor, family and model name are stable across reboots; core counts
	// and frequencies are not, so they stay out of the identity string.
	info := infos[0]
	raw := fmt.Sprintf("%s|%s|%s", info.VendorID, info.Family, info.ModelName)

	hash := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(hash[:8]), nil
}

// Compute creates a device fingerprint by combining hardware factors.
// The result is deterministic for a given machine: a SHA-256 over the
// "|"-joined attribute list, hex-encoded lowercase, 64 characters.
func (fm *FingerprintManager) Compute() (*DeviceFingerprint, error) {
	// Check cache first
	fm.cacheMutex.RLock()
	if fm.cache != nil && time.Now().Before(fm.cacheExpiry) {
		cached := *fm.cache
		fm.cacheMutex.RUnlock()
		return &cached, nil
	}
	fm.cacheMutex.RUnlock()

	start := time.Now()
	failures := 0

	hostID, err := fm.GetHostID()
	if err != nil {
		hostID = "unknown-host"
		failures++
		slog.Warn("Failed to get host id, using fallback",
			slog.String("error", err.Error()),
		)
	}

	macAddr, err := fm.GetMACAddress()
	if err != nil {
		macAddr = "unknown-mac"
		failures++
		slog.Warn("Failed to get MAC address, using fallback",
			slog.String("error", err.Error()),
		)
	}

	cpuID, err := fm.GetCPUID()
	if err != nil {
		cpuID = "unknown-cpu"
		failures++
		slog.Warn("Failed to get CPU ID, using fallback",
			slog.String("error", err.Error()),
		)
	}

	if failures == 3 {
		return nil, ErrFingerprintUnavailable
	}

	factors := []string{
		hostID,
		macAddr,
		cpuID,
		runtime.GOOS,
		runtime.GOARCH,
	}

	combined := strings.Join(factors, "|")
	hash := sha256.Sum256([]byte(combined))
	fingerprint := hex.EncodeToString(hash[:])

	deviceFingerprint := &DeviceFingerprint{
		Fingerprint: fingerprint,
		HostID:      hostID,
		MACAddress:  macAddr,
		CPUID:       cpuID,
		OS:          runtime.GOOS,
		Platform:    runtime.GOARCH,
		Degraded:    failures > 0,
		GeneratedAt: time.Now(),
	}

	fm.cacheMutex.Lock()
	fm.cache = deviceFingerprint
	fm.cacheExpiry = time.Now().Add(fm.cacheDuration)
	fm.cacheMutex.Unlock()

	slog.Debug("Device fingerprint generated",
		slog.String("fingerprint", fingerprint),
		slog.Bool("degraded", failures > 0),
		slog.Duration("generation_time", time.Since(start)),
	)

	return deviceFingerprint, nil
}

// Validate compares the current device fingerprint with a stored one
func (fm *FingerprintManager) Validate(storedFingerprint string) (bool, error) {
	current, err := fm.Compute()
	if err != nil {
		return false, fmt.Errorf("failed to generate current fingerprint: %w", err)
	}

	return current.Fingerprint == storedFingerprint, nil
}

// Components returns individual attribute values for support diagnostics
func (fm *FingerprintManager) Components() map[string]string {
	hostID, _ := fm.GetHostID()
	macAddr, _ := fm.GetMACAddress()
	cpuID, _ := fm.GetCPUID()

	return map[string]string{
		"host_id":     hostID,
		"mac_address": macAddr,
		"cpu_id":      cpuID,
		"os":          runtime.GOOS,
		"platform":    runtime.GOARCH,
	}
}

// ClearCache clears the cached fingerprint
func (fm *FingerprintManager) ClearCache() {
	fm.cacheMutex.Lock()
	defer fm.cacheMutex.Unlock()

	fm.cache = nil
	fm.cacheExpiry = time.Time{}
}
