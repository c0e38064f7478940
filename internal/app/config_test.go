package app

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, cfg.RollupLockTTL)
	require.Equal(t, int64(100), cfg.RollupRunLogSize)
	require.True(t, cfg.RollupIncludeAccounting)
	require.Equal(t, "30 1 * * *", cfg.CronDaily)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigClampsRunLogSize(t *testing.T) {
	t.Setenv("ROLLUP_RUNLOG_SIZE", "500")
	t.Setenv("ROLLUP_INCLUDE_ACCOUNTING", "false")
	t.Setenv("APP_ENV", "production")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, int64(100), cfg.RollupRunLogSize)
	require.False(t, cfg.RollupIncludeAccounting)
	require.True(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	t.Setenv("ROLLUP_LOCK_TTL", "soon")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoggerFormatAndLevel(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn", AppEnv: "test"}, buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.Int64("tenant_id", 4))

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"shown"`)
	require.Contains(t, out, `"env":"test"`)
	require.Contains(t, out, `"tenant_id":4`)
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}
