package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IGPS_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Bind)
	assert.Equal(t, 8741, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 3, cfg.License.TrialUses)
	assert.Equal(t, 5*time.Minute, cfg.License.ClockTolerance)
	assert.True(t, cfg.License.RateLimit.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.True(t, filepath.IsAbs(cfg.Paths.StateFile))
	assert.Equal(t, "license.dat", filepath.Base(cfg.Paths.StateFile))
	assert.Equal(t, "license_audit.jsonl", filepath.Base(cfg.Paths.AuditFile))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("IGPS_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("IGPS_SERVER_PORT", "9999")
	t.Setenv("IGPS_LICENSE_TRIAL_USES", "5")
	t.Setenv("IGPS_LICENSE_CLOCK_TOLERANCE", "10m")
	t.Setenv("IGPS_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 5, cfg.License.TrialUses)
	assert.Equal(t, 10*time.Minute, cfg.License.ClockTolerance)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "igps.yaml")
	yaml := `
server:
  port: 8899
license:
  trial_uses: 10
  clock_tolerance: 2m
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(configFile, []byte(yaml), 0644))
	t.Setenv("IGPS_CONFIG_FILE", configFile)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8899, cfg.Server.Port)
	assert.Equal(t, 10, cfg.License.TrialUses)
	assert.Equal(t, 2*time.Minute, cfg.License.ClockTolerance)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestEnvTakesPrecedenceOverFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "igps.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("server:\n  port: 8899\n"), 0644))
	t.Setenv("IGPS_CONFIG_FILE", configFile)
	t.Setenv("IGPS_SERVER_PORT", "7777")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("IGPS_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("IGPS_SERVER_PORT", "70000")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "igps.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("server: [not a map"), 0644))
	t.Setenv("IGPS_CONFIG_FILE", configFile)

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateNormalizesLogging(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8741,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		Logging: LoggingConfig{Format: "text", Output: "syslog"},
	}

	require.NoError(t, cfg.validate())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "both", cfg.Logging.Output)
}

func TestResolvePathsKeepsAbsolute(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Paths: PathsConfig{
			ExecutableDir: dir,
			StateFile:     "/var/lib/igps/license.dat",
			AuditFile:     "audit.jsonl",
			LogsDir:       "logs",
		},
		Logging: LoggingConfig{FilePath: "logs/igps.log"},
	}

	require.NoError(t, cfg.resolvePaths())
	assert.Equal(t, "/var/lib/igps/license.dat", cfg.Paths.StateFile)
	assert.Equal(t, filepath.Join(dir, "audit.jsonl"), cfg.Paths.AuditFile)
	assert.Equal(t, filepath.Join(dir, "logs"), cfg.Paths.LogsDir)
	assert.Equal(t, filepath.Join(dir, "logs/igps.log"), cfg.Logging.FilePath)
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Paths: PathsConfig{
			StateFile: filepath.Join(dir, "state", "license.dat"),
			AuditFile: filepath.Join(dir, "state", "audit.jsonl"),
			LogsDir:   filepath.Join(dir, "logs"),
		},
	}

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, filepath.Join(dir, "state"))
	assert.DirExists(t, filepath.Join(dir, "logs"))
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "present.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	assert.True(t, FileExists(file))
	assert.False(t, FileExists(filepath.Join(dir, "absent.txt")))
	assert.False(t, FileExists(dir), "directories are not files")
}
