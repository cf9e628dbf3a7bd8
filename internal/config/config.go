// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	RemoteURL     string
	RemoteKey     string
	OwnerID       string
	SyncInterval  time.Duration
	RemoteTimeout time.Duration
	RemoteRetries int
	ListenAddr    string
	DBPath        string
	SecretKey     []byte // nil when STUDIOPANEL_SECRET_KEY is unset
	AdminEmail    string
	AdminPassword string
}

// HasRemoteCredentials returns true when both RemoteURL and RemoteKey are
// non-empty. Used by the composition root to decide whether to create a real
// remote client at startup or start with an empty provider.
func (c *Config) HasRemoteCredentials() bool {
	return c.RemoteURL != "" && c.RemoteKey != ""
}

// Load reads configuration from environment variables and returns a validated Config.
// Values found in the file named by STUDIOPANEL_ENV_FILE (default .env) are
// applied first; variables already set in the environment win.
// Remote credentials (STUDIOPANEL_REMOTE_URL, STUDIOPANEL_REMOTE_KEY) are
// optional; if absent, the app serves the local cache until credentials are
// provided via the settings page.
// Optional variables with defaults: STUDIOPANEL_SYNC_INTERVAL (5m),
// STUDIOPANEL_REMOTE_TIMEOUT (10s), STUDIOPANEL_REMOTE_RETRIES (3),
// STUDIOPANEL_LISTEN_ADDR (127.0.0.1:8080), STUDIOPANEL_DB_PATH (studiopanel.db).
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	syncInterval, err := durationVar("STUDIOPANEL_SYNC_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	remoteTimeout, err := durationVar("STUDIOPANEL_REMOTE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	remoteRetries := 3
	if v, ok := os.LookupEnv("STUDIOPANEL_REMOTE_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("STUDIOPANEL_REMOTE_RETRIES must be a non-negative integer, got %q", v)
		}
		remoteRetries = n
	}

	remoteURL := strings.TrimSpace(os.Getenv("STUDIOPANEL_REMOTE_URL"))
	remoteKey := strings.TrimSpace(os.Getenv("STUDIOPANEL_REMOTE_KEY"))
	if (remoteURL == "") != (remoteKey == "") {
		return nil, fmt.Errorf("STUDIOPANEL_REMOTE_URL and STUDIOPANEL_REMOTE_KEY must be set together")
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("STUDIOPANEL_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "studiopanel.db"
	if v, ok := os.LookupEnv("STUDIOPANEL_DB_PATH"); ok {
		dbPath = v
	}

	var secretKey []byte
	if v := os.Getenv("STUDIOPANEL_SECRET_KEY"); v != "" {
		secretKey, err = hex.DecodeString(v)
		if err != nil || len(secretKey) != 32 {
			return nil, fmt.Errorf("STUDIOPANEL_SECRET_KEY must be 64 hex characters (32 bytes)")
		}
	}

	adminEmail := strings.TrimSpace(os.Getenv("STUDIOPANEL_ADMIN_EMAIL"))
	adminPassword := os.Getenv("STUDIOPANEL_ADMIN_PASSWORD")
	if adminEmail != "" && adminPassword == "" {
		return nil, fmt.Errorf("STUDIOPANEL_ADMIN_PASSWORD is required when STUDIOPANEL_ADMIN_EMAIL is set")
	}

	return &Config{
		RemoteURL:     remoteURL,
		RemoteKey:     remoteKey,
		OwnerID:       strings.TrimSpace(os.Getenv("STUDIOPANEL_OWNER_ID")),
		SyncInterval:  syncInterval,
		RemoteTimeout: remoteTimeout,
		RemoteRetries: remoteRetries,
		ListenAddr:    listenAddr,
		DBPath:        dbPath,
		SecretKey:     secretKey,
		AdminEmail:    adminEmail,
		AdminPassword: adminPassword,
	}, nil
}

// loadEnvFile applies the optional dotenv file. A missing default file is not
// an error; a missing file that was named explicitly is.
func loadEnvFile() error {
	path, explicit := os.LookupEnv("STUDIOPANEL_ENV_FILE")
	if !explicit {
		path = ".env"
	}
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("reading env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

func durationVar(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, v)
	}
	return parsed, nil
}
