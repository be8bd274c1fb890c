package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	content := []byte(`
server:
  port: 9090
database:
  secure_dsn: postgres://localhost/secure
rpc:
  max_failures: 5
  stale_after: 12h
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custodian-test.yaml"), content, 0o600))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		viper.Reset()
	})
	t.Setenv("DATABASE_PUBLIC_DSN", "postgres://localhost/public")

	cfg, err := ReadConfig("custodian-test")
	require.NoError(t, err)

	assert.Equal(t, int64(9090), cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "postgres://localhost/secure", cfg.Database.SecureDSN)
	assert.Equal(t, "postgres://localhost/public", cfg.Database.PublicDSN)
	assert.Equal(t, 5, cfg.Rpc.MaxFailures)
	assert.Equal(t, 12*time.Hour, cfg.Rpc.StaleAfter)
	assert.Equal(t, time.Hour, cfg.Rpc.SweepInterval)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
}

func TestReadConfigWithoutFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := ReadConfig("missing")
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Rpc.MaxFailures)
	assert.Equal(t, 24*time.Hour, cfg.Rpc.StaleAfter)
	assert.Equal(t, time.Hour, cfg.Server.SessionTTL)
	assert.Zero(t, cfg.BlockStorage.BackupInterval)
	assert.Zero(t, cfg.BlockStorage.KeepBackups)
}
