package config

import (
	"errors"
	"time"
)

// Config holds runtime settings for the MediScan CLI.
type Config struct {
	LocalDSN  string
	RemoteDSN string

	OnlineCheckInterval time.Duration
	PingTimeout         time.Duration

	SessionSecret string
	SessionTTL    time.Duration

	AIAPIKey            string
	AIBaseURL           string
	AIPrimaryModel      string
	AIFallbackModel     string
	AIRequestsPerMinute int

	LogLevel  string
	LogFormat string

	MetricsAddr string
	HealthAddr  string

	BootstrapAdminEmail    string
	BootstrapAdminPassword string

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	// BackupPassphrase, when set, encrypts exported backups.
	BackupPassphrase string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.LocalDSN = "file:mediscan.db?_pragma=foreign_keys(1)"
	c.OnlineCheckInterval = 5 * time.Second
	c.PingTimeout = 3 * time.Second
	c.SessionTTL = 7 * 24 * time.Hour
	c.AIBaseURL = "https://generativelanguage.googleapis.com"
	c.AIPrimaryModel = "gemini-2.5-flash"
	c.AIFallbackModel = "gemini-2.5-flash-lite"
	c.AIRequestsPerMinute = 10
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.S3Region = "us-east-1"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// Validate reports every missing required value at once.
func (c *Config) Validate() error {
	var errs []error
	if c.LocalDSN == "" {
		errs = append(errs, errors.New("config: local DSN is required"))
	}
	if c.SessionSecret == "" {
		errs = append(errs, errors.New("config: session secret is required"))
	}
	if c.OnlineCheckInterval <= 0 {
		errs = append(errs, errors.New("config: online check interval must be positive"))
	}
	if c.S3Bucket != "" && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		errs = append(errs, errors.New("config: s3 bucket is set without credentials"))
	}
	if (c.BootstrapAdminEmail == "") != (c.BootstrapAdminPassword == "") {
		errs = append(errs, errors.New("config: bootstrap admin needs both email and password"))
	}
	return errors.Join(errs...)
}

// RemoteConfigured reports whether a remote store should be used at all.
func (c *Config) RemoteConfigured() bool { return c.RemoteDSN != "" }

// BackupUploadConfigured reports whether exports are also sent to S3.
func (c *Config) BackupUploadConfigured() bool { return c.S3Bucket != "" }
