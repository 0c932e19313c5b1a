package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	License LicenseConfig `yaml:"license" envconfig:"LICENSE"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
	Paths   PathsConfig   `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains HTTP server configuration for the local GUI API
type ServerConfig struct {
	// Bind is localhost-only; the API exists solely for the desktop GUI.
	Bind            string        `yaml:"bind" envconfig:"BIND" default:"127.0.0.1"`
	Port            int           `yaml:"port" envconfig:"PORT" default:"8741"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LicenseConfig contains licensing behavior configuration
type LicenseConfig struct {
	TrialUses      int           `yaml:"trial_uses" envconfig:"TRIAL_USES" default:"3"`
	ClockTolerance time.Duration `yaml:"clock_tolerance" envconfig:"CLOCK_TOLERANCE" default:"5m"`
	// SigningSecret overrides the built-in key verification secret. Used by
	// tests and by the vendor keygen tool; leave empty in production builds.
	SigningSecret string          `yaml:"-" envconfig:"SIGNING_SECRET"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig throttles activation attempts
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"1"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"5"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/igps.log"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	ExecutableDir string `yaml:"executable_dir" envconfig:"EXECUTABLE_DIR"`
	StateFile     string `yaml:"state_file" envconfig:"STATE_FILE" default:"license.dat"`
	AuditFile     string `yaml:"audit_file" envconfig:"AUDIT_FILE" default:"license_audit.jsonl"`
	LogsDir       string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	var cfg Config

	// Load from environment variables first
	if err := envconfig.Process("IGPS", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// Load from config file if exists
	configFile := getConfigFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Server.Port == 0 {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if envConfig.Server.Bind == "" {
		envConfig.Server.Bind = fileConfig.Server.Bind
	}
	if envConfig.Server.ReadTimeout == 0 {
		envConfig.Server.ReadTimeout = fileConfig.Server.ReadTimeout
	}
	if envConfig.Server.WriteTimeout == 0 {
		envConfig.Server.WriteTimeout = fileConfig.Server.WriteTimeout
	}
	if envConfig.License.TrialUses == 0 {
		envConfig.License.TrialUses = fileConfig.License.TrialUses
	}
	if envConfig.License.ClockTolerance == 0 {
		envConfig.License.ClockTolerance = fileConfig.License.ClockTolerance
	}
	if envConfig.Logging.Level == "" {
		envConfig.Logging.Level = fileConfig.Logging.Level
	}
	if envConfig.Paths.StateFile == "" {
		envConfig.Paths.StateFile = fileConfig.Paths.StateFile
	}
	if envConfig.Paths.AuditFile == "" {
		envConfig.Paths.AuditFile = fileConfig.Paths.AuditFile
	}

	return envConfig
}

// resolvePaths sets up the executable directory and resolves relative paths
func (c *Config) resolvePaths() error {
	if c.Paths.ExecutableDir == "" {
		dir, err := executableDir()
		if err != nil {
			return err
		}
		c.Paths.ExecutableDir = dir
	}

	if !filepath.IsAbs(c.Paths.StateFile) {
		c.Paths.StateFile = filepath.Join(c.Paths.ExecutableDir, c.Paths.StateFile)
	}
	if !filepath.IsAbs(c.Paths.AuditFile) {
		c.Paths.AuditFile = filepath.Join(c.Paths.ExecutableDir, c.Paths.AuditFile)
	}
	if !filepath.IsAbs(c.Paths.LogsDir) {
		c.Paths.LogsDir = filepath.Join(c.Paths.ExecutableDir, c.Paths.LogsDir)
	}
	if !filepath.IsAbs(c.Logging.FilePath) {
		c.Logging.FilePath = filepath.Join(c.Paths.ExecutableDir, c.Logging.FilePath)
	}

	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.License.TrialUses < 0 {
		return fmt.Errorf("trial uses cannot be negative: %d", c.License.TrialUses)
	}

	if c.License.ClockTolerance < 0 {
		return fmt.Errorf("clock tolerance cannot be negative")
	}

	// Always JSON so logs stay machine-parseable for support bundles
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	if c.Logging.Output != "both" && c.Logging.Output != "file" && c.Logging.Output != "stdout" {
		c.Logging.Output = "both"
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if path := os.Getenv("IGPS_CONFIG_FILE"); path != "" {
		return path
	}

	dir, err := executableDir()
	if err != nil {
		return "igps.yaml"
	}
	return filepath.Join(dir, "igps.yaml")
}

// FileExists checks whether a file exists and is not a directory
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
