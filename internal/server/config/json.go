package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/flagx"
	"github.com/dmitrijs2005/idkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the JSON config file. Durations use
// timex.Duration so both "90s" strings and integer nanoseconds parse.
// Fields left out of the file keep their previous value.
type JsonConfig struct {
	EndpointAddrGRPC             string         `json:"endpoint_addr_grpc"`
	StorageDriver                string         `json:"storage_driver"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	EncryptionKey                string         `json:"encryption_key"`
	PseudonymKey                 string         `json:"pseudonym_key"`
	LockoutThreshold             int            `json:"lockout_threshold"`
	MaxUpdateRetries             int            `json:"max_update_retries"`
	RateLimitBackend             string         `json:"rate_limit_backend"`
	RateLimitRequests            int            `json:"rate_limit_requests"`
	RateLimitWindow              timex.Duration `json:"rate_limit_window"`
	RedisAddr                    string         `json:"redis_addr"`
	ArchiveBackend               string         `json:"archive_backend"`
	S3RootUser                   string         `json:"s3_root_user"`
	S3RootPassword               string         `json:"s3_root_password"`
	S3Bucket                     string         `json:"s3_bucket"`
	S3Region                     string         `json:"s3_region"`
	S3BaseEndpoint               string         `json:"s3_base_endpoint"`
	RetentionEnabled             *bool          `json:"retention_enabled"`
	RetentionInterval            timex.Duration `json:"retention_interval"`
	Logger                       string         `json:"logger"`
	OTLPEndpoint                 string         `json:"otlp_endpoint"`
	MetricsAddr                  string         `json:"metrics_addr"`
}

// parseJson overlays the JSON file given with -c or -config. Without the
// flag nothing is loaded.
func parseJson(config *Config, args []string) error {
	jsonConfigFile := flagx.ConfigFilePath(args)

	// nothing to load
	if jsonConfigFile == "" {
		return nil
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", jsonConfigFile, err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.StorageDriver, c.StorageDriver)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setString(&config.EncryptionKey, c.EncryptionKey)
	setString(&config.PseudonymKey, c.PseudonymKey)
	setInt(&config.LockoutThreshold, c.LockoutThreshold)
	setInt(&config.MaxUpdateRetries, c.MaxUpdateRetries)
	setString(&config.RateLimitBackend, c.RateLimitBackend)
	setInt(&config.RateLimitRequests, c.RateLimitRequests)
	setDuration(&config.RateLimitWindow, c.RateLimitWindow)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.ArchiveBackend, c.ArchiveBackend)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	if c.RetentionEnabled != nil {
		config.RetentionEnabled = *c.RetentionEnabled
	}
	setDuration(&config.RetentionInterval, c.RetentionInterval)
	setString(&config.Logger, c.Logger)
	setString(&config.OTLPEndpoint, c.OTLPEndpoint)
	setString(&config.MetricsAddr, c.MetricsAddr)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
