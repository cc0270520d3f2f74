package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lox/powerdash/internal/cache"
	"github.com/lox/powerdash/internal/calendar"
)

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, "powerdash", zap.L().Name())
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, "powerdash", zap.L().Name())
	assert.False(t, zap.L().Core().Enabled(zap.DebugLevel))
}

func TestLoggerTimestampsUseReferenceTimezone(t *testing.T) {
	t.Cleanup(func() { calendar.Location = calendar.IST })
	calendar.Location = calendar.IST

	zapCfg, err := loggerConfig(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)

	entry := zapcore.Entry{Time: time.Date(2024, 6, 15, 4, 30, 0, 0, time.UTC), Message: "refreshed"}
	buf, err := zapcore.NewJSONEncoder(zapCfg.EncoderConfig).EncodeEntry(entry, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"ts":"2024-06-15T10:00:00+05:30"`)
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func TestTimeConfigApply(t *testing.T) {
	t.Cleanup(func() { calendar.Location = calendar.IST })

	TimeConfig{Timezone: "UTC"}.Apply()
	assert.Equal(t, time.UTC, calendar.Location)

	TimeConfig{Timezone: "Nowhere/Atlantis"}.Apply()
	assert.Equal(t, calendar.IST, calendar.Location)
}

func TestOpenSource_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := StoreConfig{SQLitePath: filepath.Join(t.TempDir(), "powerdash.db")}

	src, closeFn, err := cfg.OpenSource(ctx)
	require.NoError(t, err)
	defer closeFn()

	states, err := src.States(ctx)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestOpenSource_BadPostgresURL(t *testing.T) {
	cfg := StoreConfig{DatabaseURL: "not a url ://", ConnectTimeout: time.Second}
	_, _, err := cfg.OpenSource(context.Background())
	assert.Error(t, err)
}

func TestCacheConfigOpen(t *testing.T) {
	ctx := context.Background()

	c, release, err := CacheConfig{TTL: time.Minute}.Open(ctx)
	require.NoError(t, err)
	release()
	assert.IsType(t, &cache.Memory{}, c)

	c, _, err = CacheConfig{TTL: time.Minute, Disabled: true}.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, cache.Nop{}, c)

	c, _, err = CacheConfig{}.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, cache.Nop{}, c)

	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	_, _, err = CacheConfig{RedisAddr: "127.0.0.1:1", TTL: time.Minute}.Open(ctx)
	assert.Error(t, err)
}

func TestFTPConfig(t *testing.T) {
	assert.False(t, FTPConfig{}.Enabled())
	cfg := FTPConfig{Addr: "ftp.example.com:21"}
	assert.True(t, cfg.Enabled())
	assert.NotNil(t, cfg.Publisher())
}
