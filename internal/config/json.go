package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/mediscan/internal/flagx"
)

// Duration accepts "3s" style strings or integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Absent keys
// leave the corresponding Config field untouched.
type JsonConfig struct {
	LocalDSN               *string   `json:"local_dsn"`
	RemoteDSN              *string   `json:"remote_dsn"`
	OnlineCheckInterval    *Duration `json:"online_check_interval"`
	PingTimeout            *Duration `json:"ping_timeout"`
	SessionSecret          *string   `json:"session_secret"`
	SessionTTL             *Duration `json:"session_ttl"`
	AIAPIKey               *string   `json:"ai_api_key"`
	AIBaseURL              *string   `json:"ai_base_url"`
	AIPrimaryModel         *string   `json:"ai_primary_model"`
	AIFallbackModel        *string   `json:"ai_fallback_model"`
	AIRequestsPerMinute    *int      `json:"ai_requests_per_minute"`
	LogLevel               *string   `json:"log_level"`
	LogFormat              *string   `json:"log_format"`
	MetricsAddr            *string   `json:"metrics_addr"`
	HealthAddr             *string   `json:"health_addr"`
	BootstrapAdminEmail    *string   `json:"bootstrap_admin_email"`
	BootstrapAdminPassword *string   `json:"bootstrap_admin_password"`
	S3Endpoint             *string   `json:"s3_endpoint"`
	S3Region               *string   `json:"s3_region"`
	S3Bucket               *string   `json:"s3_bucket"`
	S3AccessKey            *string   `json:"s3_access_key"`
	S3SecretKey            *string   `json:"s3_secret_key"`
	BackupPassphrase       *string   `json:"backup_passphrase"`
}

// parseJson overlays cfg with values from the file named by -c or -config.
// It panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}
	jc.apply(cfg)
}

func (jc *JsonConfig) apply(cfg *Config) {
	setString(&cfg.LocalDSN, jc.LocalDSN)
	setString(&cfg.RemoteDSN, jc.RemoteDSN)
	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	setDuration(&cfg.PingTimeout, jc.PingTimeout)
	setString(&cfg.SessionSecret, jc.SessionSecret)
	setDuration(&cfg.SessionTTL, jc.SessionTTL)
	setString(&cfg.AIAPIKey, jc.AIAPIKey)
	setString(&cfg.AIBaseURL, jc.AIBaseURL)
	setString(&cfg.AIPrimaryModel, jc.AIPrimaryModel)
	setString(&cfg.AIFallbackModel, jc.AIFallbackModel)
	if jc.AIRequestsPerMinute != nil {
		cfg.AIRequestsPerMinute = *jc.AIRequestsPerMinute
	}
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)
	setString(&cfg.MetricsAddr, jc.MetricsAddr)
	setString(&cfg.HealthAddr, jc.HealthAddr)
	setString(&cfg.BootstrapAdminEmail, jc.BootstrapAdminEmail)
	setString(&cfg.BootstrapAdminPassword, jc.BootstrapAdminPassword)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.BackupPassphrase, jc.BackupPassphrase)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *Duration) {
	if v != nil {
		*dst = time.Duration(*v)
	}
}
