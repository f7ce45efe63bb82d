package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEncryptionKey is exactly 32 bytes, as required by AES-256-GCM.
const testEncryptionKey = "0123456789abcdef0123456789abcdef"

func TestNewBootstrap_Defaults(t *testing.T) {
	// Create a minimal valid config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `server:
  http:
    addr: :8080
data:
  redis:
    addr: 127.0.0.1:6379
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	// Set required environment variables
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)

	// Load configuration
	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)
	require.NotNil(t, bc)

	// Verify server defaults
	assert.Equal(t, ":8080", bc.Server.Http.Addr)
	assert.Equal(t, "tcp", bc.Server.Http.Network)
	assert.Equal(t, 30*time.Second, bc.Server.Http.Timeout.AsDuration())

	// Verify data defaults
	assert.Equal(t, "127.0.0.1:6379", bc.Data.Redis.Addr)
	assert.Equal(t, "tcp", bc.Data.Redis.Network)
	assert.Equal(t, 200*time.Millisecond, bc.Data.Redis.ReadTimeout.AsDuration())
	assert.Equal(t, 200*time.Millisecond, bc.Data.Redis.WriteTimeout.AsDuration())

	// Verify breaker defaults
	assert.Equal(t, int32(5), bc.Breaker.FailureThreshold)
	assert.Equal(t, int32(2), bc.Breaker.SuccessThreshold)
	assert.Equal(t, int64(10), bc.Breaker.MinimumRequests)
	assert.Equal(t, 50.0, bc.Breaker.ErrorRatePercent)
	assert.Equal(t, int32(10), bc.Breaker.VolumeThreshold)
	assert.Equal(t, 60*time.Second, bc.Breaker.MonitoringWindow.AsDuration())
	assert.Equal(t, 30*time.Second, bc.Breaker.RecoveryTimeout.AsDuration())
	assert.Equal(t, 30*time.Second, bc.Breaker.ExecutionTimeout.AsDuration())

	// Verify event store defaults
	assert.Equal(t, int64(100), bc.EventStore.SnapshotFrequency)
	assert.Equal(t, time.Duration(0), bc.EventStore.IndexTtl.AsDuration())

	// Verify realtime defaults
	assert.Equal(t, 30*time.Second, bc.Realtime.HeartbeatInterval.AsDuration())
	assert.Equal(t, 10*time.Second, bc.Realtime.HeartbeatTimeout.AsDuration())
	assert.Equal(t, 1*time.Second, bc.Realtime.BaseReconnectDelay.AsDuration())
	assert.Equal(t, 30*time.Second, bc.Realtime.MaxReconnectDelay.AsDuration())
	assert.Equal(t, int32(10), bc.Realtime.MaxReconnectAttempts)
	assert.Equal(t, int32(100), bc.Realtime.QueueSize)
	assert.Equal(t, int32(3), bc.Realtime.MaxRetries)
	assert.Equal(t, 24*time.Hour, bc.Realtime.SessionTtl.AsDuration())

	// Verify auth values from environment
	assert.Equal(t, testEncryptionKey, bc.Auth.Encryption.Key)

	// Verify log defaults
	assert.Equal(t, "info", bc.Log.Level)
	assert.Equal(t, "json", bc.Log.Format)
}

func TestNewBootstrap_EnvOverrides(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		check       func(*Bootstrap) bool
		description string
	}{
		{
			name: "override_http_addr",
			envVars: map[string]string{
				"RELAYLANE_SERVER_HTTP_ADDR": ":9999",
			},
			check: func(bc *Bootstrap) bool {
				return bc.Server.Http.Addr == ":9999"
			},
			description: "RELAYLANE_SERVER_HTTP_ADDR should override default :8080",
		},
		{
			name: "override_redis_addr",
			envVars: map[string]string{
				"REDIS_ADDR": "redis.example.com:6379",
			},
			check: func(bc *Bootstrap) bool {
				return bc.Data.Redis.Addr == "redis.example.com:6379"
			},
			description: "REDIS_ADDR should override default redis address",
		},
		{
			name: "override_log_level",
			envVars: map[string]string{
				"RELAYLANE_LOG_LEVEL": "debug",
			},
			check: func(bc *Bootstrap) bool {
				return bc.Log.Level == "debug"
			},
			description: "RELAYLANE_LOG_LEVEL should override default info",
		},
		{
			name: "override_admin_token",
			envVars: map[string]string{
				"ADMIN_TOKEN": "secret-admin-token",
			},
			check: func(bc *Bootstrap) bool {
				return bc.Auth.AdminToken == "secret-admin-token"
			},
			description: "ADMIN_TOKEN should populate auth.admin_token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENCRYPTION_KEY", testEncryptionKey)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			bc, err := NewBootstrap("")
			require.NoError(t, err)
			assert.True(t, tt.check(bc), tt.description)
		})
	}
}

func TestNewBootstrap_MissingEncryptionKey(t *testing.T) {
	// Make sure leakage from the host environment cannot satisfy the check.
	t.Setenv("ENCRYPTION_KEY", "")
	t.Setenv("RELAYLANE_AUTH_ENCRYPTION_KEY", "")

	_, err := NewBootstrap("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.encryption.key")
}

func TestNewBootstrap_InvalidKeyLength(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "too-short")

	_, err := NewBootstrap("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestNewBootstrap_MissingConfigFile(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)

	_, err := NewBootstrap("/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	valid := &Bootstrap{
		Auth: &Auth{Encryption: &Auth_Encryption{Key: testEncryptionKey}},
		Data: &Data{Redis: &Data_Redis{Addr: "127.0.0.1:6379"}},
	}
	assert.NoError(t, Validate(valid))

	missingRedis := &Bootstrap{
		Auth: &Auth{Encryption: &Auth_Encryption{Key: testEncryptionKey}},
		Data: &Data{Redis: &Data_Redis{}},
	}
	err := Validate(missingRedis)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data.redis.addr")
}
