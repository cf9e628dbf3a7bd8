package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every STUDIOPANEL_ env var that Load() reads.
var allConfigKeys = []string{
	"STUDIOPANEL_ENV_FILE",
	"STUDIOPANEL_REMOTE_URL",
	"STUDIOPANEL_REMOTE_KEY",
	"STUDIOPANEL_OWNER_ID",
	"STUDIOPANEL_SYNC_INTERVAL",
	"STUDIOPANEL_REMOTE_TIMEOUT",
	"STUDIOPANEL_REMOTE_RETRIES",
	"STUDIOPANEL_LISTEN_ADDR",
	"STUDIOPANEL_DB_PATH",
	"STUDIOPANEL_SECRET_KEY",
	"STUDIOPANEL_ADMIN_EMAIL",
	"STUDIOPANEL_ADMIN_PASSWORD",
}

// isolateConfigEnv saves and unsets all STUDIOPANEL_ env vars so tests don't
// inherit values from the host environment (e.g. a running dev server).
// It also points STUDIOPANEL_ENV_FILE at nothing so a developer's .env is
// never read. t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
	os.Setenv("STUDIOPANEL_ENV_FILE", "")
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("STUDIOPANEL_REMOTE_URL", "https://xyz.example.co")
	t.Setenv("STUDIOPANEL_REMOTE_KEY", "anon-key")
	t.Setenv("STUDIOPANEL_OWNER_ID", "owner-1")
	t.Setenv("STUDIOPANEL_SYNC_INTERVAL", "10m")
	t.Setenv("STUDIOPANEL_REMOTE_TIMEOUT", "3s")
	t.Setenv("STUDIOPANEL_REMOTE_RETRIES", "5")
	t.Setenv("STUDIOPANEL_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("STUDIOPANEL_DB_PATH", "/tmp/test.db")

	cfg, err := Load()

	require.NoError(t, err)
	assert.True(t, cfg.HasRemoteCredentials())
	assert.Equal(t, "https://xyz.example.co", cfg.RemoteURL)
	assert.Equal(t, "anon-key", cfg.RemoteKey)
	assert.Equal(t, "owner-1", cfg.OwnerID)
	assert.Equal(t, 10*time.Minute, cfg.SyncInterval)
	assert.Equal(t, 3*time.Second, cfg.RemoteTimeout)
	assert.Equal(t, 5, cfg.RemoteRetries)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.False(t, cfg.HasRemoteCredentials())
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval)
	assert.Equal(t, 10*time.Second, cfg.RemoteTimeout)
	assert.Equal(t, 3, cfg.RemoteRetries)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "studiopanel.db", cfg.DBPath)
	assert.Nil(t, cfg.SecretKey)
}

func TestLoad_RemoteCredentialsMustBePaired(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("STUDIOPANEL_REMOTE_URL", "https://xyz.example.co")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STUDIOPANEL_REMOTE_KEY")
}

func TestLoad_InvalidDurations(t *testing.T) {
	for _, key := range []string{"STUDIOPANEL_SYNC_INTERVAL", "STUDIOPANEL_REMOTE_TIMEOUT"} {
		t.Run(key, func(t *testing.T) {
			isolateConfigEnv(t)
			t.Setenv(key, "not-a-duration")

			cfg, err := Load()

			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad_NonPositiveTimeout(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("STUDIOPANEL_REMOTE_TIMEOUT", "0s")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "STUDIOPANEL_REMOTE_TIMEOUT")
}

func TestLoad_InvalidRetries(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("STUDIOPANEL_REMOTE_RETRIES", "-1")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "STUDIOPANEL_REMOTE_RETRIES")
}

func TestLoad_SecretKey_Valid(t *testing.T) {
	isolateConfigEnv(t)
	// 64 hex chars = 32 bytes
	t.Setenv("STUDIOPANEL_SECRET_KEY", "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Len(t, cfg.SecretKey, 32)
}

func TestLoad_SecretKey_TooShort(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("STUDIOPANEL_SECRET_KEY", "deadbeef")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STUDIOPANEL_SECRET_KEY")
}

func TestLoad_SecretKey_NotHex(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("STUDIOPANEL_SECRET_KEY", "zz02030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")

	_, err := Load()

	require.Error(t, err)
}

func TestLoad_AdminRequiresPassword(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("STUDIOPANEL_ADMIN_EMAIL", "admin@studio.test")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "STUDIOPANEL_ADMIN_PASSWORD")
}

func TestLoad_EnvFile(t *testing.T) {
	isolateConfigEnv(t)
	path := filepath.Join(t.TempDir(), "studio.env")
	require.NoError(t, os.WriteFile(path, []byte(
		"STUDIOPANEL_LISTEN_ADDR=127.0.0.1:7000\nSTUDIOPANEL_DB_PATH=from-file.db\n",
	), 0o600))
	t.Setenv("STUDIOPANEL_ENV_FILE", path)
	t.Setenv("STUDIOPANEL_DB_PATH", "from-env.db")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddr)
	assert.Equal(t, "from-env.db", cfg.DBPath, "the process environment wins over the file")
}

func TestLoad_EnvFileMissing(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("STUDIOPANEL_ENV_FILE", filepath.Join(t.TempDir(), "nope.env"))

	_, err := Load()

	require.Error(t, err)
}
