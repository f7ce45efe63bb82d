package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"RelayLane/internal/conf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fileLogger builds a JSON logger writing to a temp file and returns a
// reader for the captured output.
func fileLogger(t *testing.T, level string) (*zap.Logger, func() string) {
	t.Helper()
	logFile := filepath.Join(t.TempDir(), "relaylane.log")

	logger, err := NewZapLogger(&conf.Log{
		Level:      level,
		Format:     "json",
		OutputFile: logFile,
		Env:        "production",
	})
	require.NoError(t, err)

	return logger, func() string {
		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		return string(content)
	}
}

func TestNewZapLogger_NilConfig(t *testing.T) {
	_, err := NewZapLogger(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log config is nil")
}

func TestNewZapLogger_InvalidLevel(t *testing.T) {
	_, err := NewZapLogger(&conf.Log{Level: "loudest", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewZapLogger_Formats(t *testing.T) {
	// Both encoders construct; production json and development console are
	// the two shapes the config file offers.
	for _, cfg := range []*conf.Log{
		{Level: "info", Format: "json", Env: "production"},
		{Level: "debug", Format: "console", Env: "development"},
	} {
		logger, err := NewZapLogger(cfg)
		require.NoError(t, err, "format %s", cfg.Format)
		require.NotNil(t, logger)
		logger.Info("event store ready", zap.String("breaker", "event-store"))
	}
}

func TestNewZapLogger_EnvFallsBackToEnvironmentVariable(t *testing.T) {
	t.Setenv("RELAYLANE_ENV", "development")

	logger, err := NewZapLogger(&conf.Log{Level: "info", Format: "json", Env: ""})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewZapLogger_WritesServiceField(t *testing.T) {
	logger, read := fileLogger(t, "info")

	logger.Info("session created", zap.String("session_id", "sess-4f2a9c81"))
	logger.Sync()

	content := read()
	assert.Contains(t, content, "session created")
	assert.Contains(t, content, "sess-4f2a9c81")
	assert.Contains(t, content, "\"service\":\"RelayLane\"")
}

func TestNewZapLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		configLevel string
		wantDebug   bool
		wantInfo    bool
		wantWarn    bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"warn", false, false, true},
		{"error", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.configLevel, func(t *testing.T) {
			logger, read := fileLogger(t, tt.configLevel)

			logger.Debug("probe allowed through half-open circuit")
			logger.Info("event appended")
			logger.Warn("reconnect attempt scheduled")
			logger.Error("append failed after retries")
			logger.Sync()

			content := read()
			assert.Equal(t, tt.wantDebug, strings.Contains(content, "probe allowed"))
			assert.Equal(t, tt.wantInfo, strings.Contains(content, "event appended"))
			assert.Equal(t, tt.wantWarn, strings.Contains(content, "reconnect attempt"))
			// Errors always pass the configured levels above
			assert.Contains(t, content, "append failed")
		})
	}
}

func TestNewZapLogger_StructuredFields(t *testing.T) {
	logger, read := fileLogger(t, "info")

	logger.Info("circuit breaker state changed",
		zap.String("breaker", "event-store"),
		zap.Int("failures", 5),
		zap.Bool("forced", false),
	)
	logger.Sync()

	content := read()
	assert.Contains(t, content, "circuit breaker state changed")
	assert.Contains(t, content, "\"breaker\":\"event-store\"")
	assert.Contains(t, content, "\"failures\":5")
	assert.Contains(t, content, "timestamp")
	assert.Contains(t, content, "caller")
}
