// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with RELAYLANE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - ENCRYPTION_KEY or RELAYLANE_AUTH_ENCRYPTION_KEY: 32-byte key for
//     credential-at-rest encryption
//
// Parameters:
//   - configPath: Path to the configuration file or directory
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with RELAYLANE_ prefix
	v.SetEnvPrefix("RELAYLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without RELAYLANE_ prefix)
	// for required fields
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "RELAYLANE_DATA_REDIS_ADDR")
	_ = v.BindEnv("auth.encryption.key", "ENCRYPTION_KEY", "RELAYLANE_AUTH_ENCRYPTION_KEY")
	_ = v.BindEnv("auth.admin_token", "ADMIN_TOKEN", "RELAYLANE_AUTH_ADMIN_TOKEN")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Breaker: &Breaker{
			FailureThreshold: v.GetInt32("breaker.failure_threshold"),
			SuccessThreshold: v.GetInt32("breaker.success_threshold"),
			MinimumRequests:  v.GetInt64("breaker.minimum_requests"),
			ErrorRatePercent: v.GetFloat64("breaker.error_rate_percent"),
			VolumeThreshold:  v.GetInt32("breaker.volume_threshold"),
			MonitoringWindow: durationpb.New(v.GetDuration("breaker.monitoring_window")),
			RecoveryTimeout:  durationpb.New(v.GetDuration("breaker.recovery_timeout")),
			ExecutionTimeout: durationpb.New(v.GetDuration("breaker.execution_timeout")),
			CacheSize:        v.GetInt32("breaker.cache_size"),
			CacheTtl:         durationpb.New(v.GetDuration("breaker.cache_ttl")),
		},
		EventStore: &EventStore{
			SnapshotFrequency: v.GetInt64("eventstore.snapshot_frequency"),
			EventTtl:          durationpb.New(v.GetDuration("eventstore.event_ttl")),
			IndexTtl:          durationpb.New(v.GetDuration("eventstore.index_ttl")),
			SnapshotTtl:       durationpb.New(v.GetDuration("eventstore.snapshot_ttl")),
		},
		Realtime: &Realtime{
			HeartbeatInterval:    durationpb.New(v.GetDuration("realtime.heartbeat_interval")),
			HeartbeatTimeout:     durationpb.New(v.GetDuration("realtime.heartbeat_timeout")),
			BaseReconnectDelay:   durationpb.New(v.GetDuration("realtime.base_reconnect_delay")),
			MaxReconnectDelay:    durationpb.New(v.GetDuration("realtime.max_reconnect_delay")),
			MaxReconnectAttempts: v.GetInt32("realtime.max_reconnect_attempts"),
			QueueSize:            v.GetInt32("realtime.queue_size"),
			MaxRetries:           v.GetInt32("realtime.max_retries"),
			SessionTtl:           durationpb.New(v.GetDuration("realtime.session_ttl")),
		},
		Auth: &Auth{
			Encryption: &Auth_Encryption{
				Key: v.GetString("auth.encryption.key"),
			},
			AdminToken: v.GetString("auth.admin_token"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	// Data defaults
	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Breaker defaults
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.minimum_requests", 10)
	v.SetDefault("breaker.error_rate_percent", 50.0)
	v.SetDefault("breaker.volume_threshold", 10)
	v.SetDefault("breaker.monitoring_window", 60*time.Second)
	v.SetDefault("breaker.recovery_timeout", 30*time.Second)
	v.SetDefault("breaker.execution_timeout", 30*time.Second)

	// Event store defaults
	v.SetDefault("eventstore.snapshot_frequency", 100)
	// Note: event/index/snapshot TTLs default to 0 (no expiry)

	// Realtime defaults
	v.SetDefault("realtime.heartbeat_interval", 30*time.Second)
	v.SetDefault("realtime.heartbeat_timeout", 10*time.Second)
	v.SetDefault("realtime.base_reconnect_delay", 1*time.Second)
	v.SetDefault("realtime.max_reconnect_delay", 30*time.Second)
	v.SetDefault("realtime.max_reconnect_attempts", 10)
	v.SetDefault("realtime.queue_size", 100)
	v.SetDefault("realtime.max_retries", 3)
	v.SetDefault("realtime.session_ttl", 24*time.Hour)

	// Auth defaults
	// Note: auth.encryption.key is required from environment

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	if bc.Auth == nil || bc.Auth.Encryption == nil || bc.Auth.Encryption.Key == "" {
		missingFields = append(missingFields, "auth.encryption.key (ENCRYPTION_KEY)")
	} else if len(bc.Auth.Encryption.Key) != 32 {
		return fmt.Errorf("auth.encryption.key must be exactly 32 bytes, got %d", len(bc.Auth.Encryption.Key))
	}

	if bc.Data == nil || bc.Data.Redis == nil || bc.Data.Redis.Addr == "" {
		missingFields = append(missingFields, "data.redis.addr (REDIS_ADDR)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	return nil
}
