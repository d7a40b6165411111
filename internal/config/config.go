// Package config loads daemon settings from the environment. Every knob
// has a working default so `bywater` runs with zero configuration as a
// local-only replica; backend credentials switch sync on.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Port is where the local status server listens.
	Port string
	// DBPath is the SQLite replica location.
	DBPath string

	LogLevel  string
	LogFormat string

	// RemoteURL and RemoteKey identify the hosted backend. Both empty
	// means local-only mode.
	RemoteURL string
	RemoteKey string

	ProbeInterval time.Duration
	PurgeAfter    time.Duration

	// Backup settings. BackupBucket empty disables backups.
	BackupBucket     string
	BackupInterval   time.Duration
	BackupPassphrase string
	S3Endpoint       string
	S3Region         string
	S3AccessKey      string
	S3SecretKey      string
}

func Load() Config {
	return Config{
		Port:      getEnv("BYWATER_PORT", "8090"),
		DBPath:    getEnv("BYWATER_DB_PATH", "bywater.db"),
		LogLevel:  getEnv("BYWATER_LOG_LEVEL", "info"),
		LogFormat: getEnv("BYWATER_LOG_FORMAT", "text"),
		RemoteURL: getEnv("BYWATER_REMOTE_URL", ""),
		RemoteKey: getEnv("BYWATER_REMOTE_KEY", ""),

		ProbeInterval: getEnvDuration("BYWATER_PROBE_INTERVAL", 30*time.Second),
		PurgeAfter:    getEnvDuration("BYWATER_PURGE_AFTER", 30*24*time.Hour),

		BackupBucket:     getEnv("BYWATER_BACKUP_BUCKET", ""),
		BackupInterval:   getEnvDuration("BYWATER_BACKUP_INTERVAL", 24*time.Hour),
		BackupPassphrase: getEnv("BYWATER_BACKUP_PASSPHRASE", ""),
		S3Endpoint:       getEnv("BYWATER_S3_ENDPOINT", ""),
		S3Region:         getEnv("BYWATER_S3_REGION", "auto"),
		S3AccessKey:      getEnv("BYWATER_S3_ACCESS_KEY", ""),
		S3SecretKey:      getEnv("BYWATER_S3_SECRET_KEY", ""),
	}
}

// LocalOnly reports whether no backend is configured.
func (c Config) LocalOnly() bool {
	return c.RemoteURL == ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare numbers are read as seconds.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
