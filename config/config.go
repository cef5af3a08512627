// Package config loads orchestrator settings from the environment, with an
// optional YAML file overriding the defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	// Server
	ServerPort string `yaml:"server_port"`

	// Optional Postgres snapshot store. Empty disables persistence.
	DatabaseURL string `yaml:"database_url"`

	// Timing
	PollInterval        time.Duration `yaml:"poll_interval"`
	ProvisioningCeiling time.Duration `yaml:"provisioning_ceiling"`
	CallTimeout         time.Duration `yaml:"call_timeout"`
	LogPollInterval     time.Duration `yaml:"log_poll_interval"`
	StreamRetryBackoff  time.Duration `yaml:"stream_retry_backoff"`

	// Optional S3-compatible artifact mirror.
	ArtifactEndpoint  string `yaml:"artifact_endpoint"`
	ArtifactAccessKey string `yaml:"artifact_access_key"`
	ArtifactSecretKey string `yaml:"artifact_secret_key"`
	ArtifactBucket    string `yaml:"artifact_bucket"`
	ArtifactUseSSL    bool   `yaml:"artifact_use_ssl"`

	// AWS connector
	AWSRegion string `yaml:"aws_region"`

	LogLevel string `yaml:"log_level"`
}

// Load reads configuration from environment variables. When FT_CONFIG_FILE
// points at a YAML file, its values are loaded first and the environment
// overrides them.
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:          "8080",
		PollInterval:        5 * time.Second,
		ProvisioningCeiling: 15 * time.Minute,
		CallTimeout:         30 * time.Second,
		LogPollInterval:     2 * time.Second,
		StreamRetryBackoff:  5 * time.Second,
		AWSRegion:           "us-east-1",
		LogLevel:            "info",
	}

	if path := os.Getenv("FT_CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.ServerPort = getEnv("FT_SERVER_PORT", cfg.ServerPort)
	cfg.DatabaseURL = getEnv("FT_DATABASE_URL", cfg.DatabaseURL)
	cfg.AWSRegion = getEnv("AWS_REGION", cfg.AWSRegion)
	cfg.ArtifactEndpoint = getEnv("FT_ARTIFACT_ENDPOINT", cfg.ArtifactEndpoint)
	cfg.ArtifactAccessKey = getEnv("FT_ARTIFACT_ACCESS_KEY", cfg.ArtifactAccessKey)
	cfg.ArtifactSecretKey = getEnv("FT_ARTIFACT_SECRET_KEY", cfg.ArtifactSecretKey)
	cfg.ArtifactBucket = getEnv("FT_ARTIFACT_BUCKET", cfg.ArtifactBucket)
	cfg.LogLevel = getEnv("FT_LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.PollInterval, err = getDuration("FT_POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.ProvisioningCeiling, err = getDuration("FT_PROVISIONING_CEILING", cfg.ProvisioningCeiling); err != nil {
		return nil, err
	}
	if cfg.CallTimeout, err = getDuration("FT_CALL_TIMEOUT", cfg.CallTimeout); err != nil {
		return nil, err
	}
	if cfg.LogPollInterval, err = getDuration("FT_LOG_POLL_INTERVAL", cfg.LogPollInterval); err != nil {
		return nil, err
	}
	if cfg.StreamRetryBackoff, err = getDuration("FT_STREAM_RETRY_BACKOFF", cfg.StreamRetryBackoff); err != nil {
		return nil, err
	}
	if v := os.Getenv("FT_ARTIFACT_USE_SSL"); v != "" {
		cfg.ArtifactUseSSL, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("FT_ARTIFACT_USE_SSL: %w", err)
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
