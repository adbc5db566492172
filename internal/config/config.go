package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the node daemon configuration, loaded from the environment
// with an optional .env file.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Mesh    MeshConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host string
	Port string
}

type StorageConfig struct {
	SQLitePath string
	BoltPath   string
}

type MeshConfig struct {
	// Passphrase derives the shared mesh signing key. Empty disables peer
	// auth (open mesh, trusted network).
	Passphrase   string
	SyncInterval time.Duration
	// MaxQueueAge bounds how long undelivered outbound items survive before
	// pruning.
	MaxQueueAge time.Duration
	// MaxAttempts is the delivery attempt ceiling for queued items.
	MaxAttempts int
	// ResolutionStrategy selects the conflict resolver:
	// "last-write-wins" or "manual".
	ResolutionStrategy string
	// Village labels this node in peer registrations and dashboards.
	Village string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment, applying defaults for
// anything unset. A .env file in the working directory is loaded first when
// present.
func Load() (*Config, error) {
	godotenv.Load()

	syncInterval, err := time.ParseDuration(getEnv("MESH_SYNC_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid MESH_SYNC_INTERVAL: %w", err)
	}

	maxQueueAge, err := time.ParseDuration(getEnv("MESH_MAX_QUEUE_AGE", "168h"))
	if err != nil {
		return nil, fmt.Errorf("invalid MESH_MAX_QUEUE_AGE: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Host: getEnv("HOST", "0.0.0.0"),
			Port: getEnv("PORT", "8384"),
		},
		Storage: StorageConfig{
			SQLitePath: getEnv("SQLITE_PATH", "data/node.db"),
			BoltPath:   getEnv("BOLT_PATH", "data/mesh.db"),
		},
		Mesh: MeshConfig{
			Passphrase:         getEnv("MESH_PASSPHRASE", ""),
			SyncInterval:       syncInterval,
			MaxQueueAge:        maxQueueAge,
			MaxAttempts:        getEnvAsInt("MESH_MAX_ATTEMPTS", 10),
			ResolutionStrategy: getEnv("RESOLUTION_STRATEGY", "last-write-wins"),
			Village:            getEnv("VILLAGE_NAME", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
