// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Coordinator holds coordinator (namenode) configuration.
type Coordinator struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Metadata store ("bolt" or "postgres")
	MetadataBackend string
	BoltPath        string
	DatabaseURL     string

	// Auth
	JWTSecret string

	// Placement
	LivenessWindow time.Duration

	// Remote block-node calls (best-effort cleanup)
	NodeTimeout time.Duration
}

// BlockNode holds storage-node (datanode) configuration.
type BlockNode struct {
	ListenAddr  string
	MetricsAddr string

	LogLevel  string
	LogFormat string

	// Block store ("disk" or "s3")
	StoreBackend string
	DataDir      string

	// S3 store
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Coordinator registration
	CoordinatorURL    string
	AdvertiseURL      string
	HeartbeatInterval time.Duration
	Capacity          int64
	Free              int64
}

// Client holds CLI client configuration.
type Client struct {
	CoordinatorURL string
	BlockSize      int64
	NodeTimeout    time.Duration
}

// LoadCoordinator reads coordinator configuration from the environment.
func LoadCoordinator() (*Coordinator, error) {
	cfg := &Coordinator{
		ListenAddr:      envOr("LISTEN_ADDR", ":8000"),
		MetricsAddr:     envOr("METRICS_ADDR", ":9090"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		LogFormat:       envOr("LOG_FORMAT", "json"),
		MetadataBackend: envOr("METADATA_BACKEND", "bolt"),
		BoltPath:        envOr("BOLT_PATH", "metadata.db"),
		DatabaseURL:     envOr("DATABASE_URL", ""),
		JWTSecret:       envOr("JWT_SECRET", ""),
		LivenessWindow:  envDuration("LIVENESS_WINDOW", 60*time.Second),
		NodeTimeout:     envDuration("NODE_TIMEOUT", 5*time.Second),
	}

	if cfg.MetadataBackend == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required with METADATA_BACKEND=postgres")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// LoadBlockNode reads storage-node configuration from the environment.
func LoadBlockNode() (*BlockNode, error) {
	cfg := &BlockNode{
		ListenAddr:        envOr("LISTEN_ADDR", ":8001"),
		MetricsAddr:       envOr("METRICS_ADDR", ":9091"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "json"),
		StoreBackend:      envOr("BLOCKSTORE_BACKEND", "disk"),
		DataDir:           envOr("DATA_DIR", "/data/blocks"),
		S3Endpoint:        envOr("S3_ENDPOINT", "localhost:9000"),
		S3Bucket:          envOr("S3_BUCKET", "griddfs-blocks"),
		S3AccessKey:       envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:       envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:          envOr("S3_REGION", "us-east-1"),
		S3UseSSL:          envBool("S3_USE_SSL", false),
		CoordinatorURL:    envOr("COORDINATOR_URL", "http://localhost:8000"),
		AdvertiseURL:      envOr("NODE_URL", ""),
		HeartbeatInterval: envDuration("HEARTBEAT_INTERVAL", 20*time.Second),
		Capacity:          envInt64("CAPACITY", -1),
		Free:              envInt64("FREE", -1),
	}

	if cfg.AdvertiseURL == "" {
		return nil, fmt.Errorf("NODE_URL is required (endpoint the coordinator hands to clients)")
	}

	return cfg, nil
}

// LoadClient reads CLI client configuration from the environment.
func LoadClient() *Client {
	return &Client{
		CoordinatorURL: envOr("COORDINATOR_URL", "http://localhost:8000"),
		BlockSize:      envInt64("BLOCK_SIZE", 64*1024),
		NodeTimeout:    envDuration("NODE_TIMEOUT", 30*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
