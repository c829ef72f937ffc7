// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr           string
	DataDir            string
	CORSAllowedOrigins []string
	LogLevel           string

	// Remote row store (hosted Postgres)
	DatabaseURL  string
	SurveysTable string
	PhotoField   string

	// Remote object storage (S3 compatible)
	S3Provider      string
	S3Endpoint      string
	S3Bucket        string
	S3AccessKey     string
	S3SecretKey     string
	S3Region        string
	S3UseSSL        bool
	S3PublicBaseURL string
	PhotoPrefix     string

	// Sync triggers
	SyncInterval   time.Duration
	SyncTimeout    time.Duration
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	RequiredFields []string

	// Notifications; empty RedisURL disables the Redis sink
	RedisURL      string
	NotifyChannel string

	// Drop-directory import; empty disables the watcher
	InboxDir string

	PhotoMaxDimension int
	PhotoJPEGQuality  int
}

// Load reads an optional .env file and then the process environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:           getenv("HTTP_ADDR", ":8090"),
		DataDir:            getenv("DATA_DIR", "./data"),
		CORSAllowedOrigins: getenvList("CORS_ALLOWED_ORIGINS", nil),
		LogLevel:           getenv("LOG_LEVEL", "info"),

		DatabaseURL:  getenv("DATABASE_URL", ""),
		SurveysTable: getenv("SURVEYS_TABLE", "surveys"),
		PhotoField:   getenv("PHOTO_FIELD", "photo_url"),

		S3Provider:      getenv("S3_PROVIDER", "minio"),
		S3Endpoint:      getenv("S3_ENDPOINT", ""),
		S3Bucket:        getenv("S3_BUCKET", "survey-photos"),
		S3AccessKey:     getenv("S3_ACCESS_KEY", ""),
		S3SecretKey:     getenv("S3_SECRET_KEY", ""),
		S3Region:        getenv("S3_REGION", "us-east-1"),
		S3UseSSL:        getenvBool("S3_USE_SSL", true),
		S3PublicBaseURL: getenv("S3_PUBLIC_BASE_URL", ""),
		PhotoPrefix:     getenv("PHOTO_PREFIX", "surveys"),

		SyncInterval:   time.Duration(getenvInt("SYNC_INTERVAL_SECONDS", 300)) * time.Second,
		SyncTimeout:    time.Duration(getenvInt("SYNC_TIMEOUT_SECONDS", 300)) * time.Second,
		ProbeInterval:  time.Duration(getenvInt("CONNECTIVITY_PROBE_INTERVAL_SECONDS", 30)) * time.Second,
		ProbeTimeout:   time.Duration(getenvInt("CONNECTIVITY_PROBE_TIMEOUT_SECONDS", 5)) * time.Second,
		RequiredFields: getenvList("REQUIRED_FIELDS", []string{"property_id"}),

		RedisURL:      getenv("REDIS_URL", ""),
		NotifyChannel: getenv("NOTIFY_CHANNEL", "coleta:notifications"),

		InboxDir: getenv("INBOX_DIR", ""),

		PhotoMaxDimension: getenvInt("PHOTO_MAX_DIMENSION", 1920),
		PhotoJPEGQuality:  getenvInt("PHOTO_JPEG_QUALITY", 85),
	}
}

// MemoryDataDir as DATA_DIR keeps pending surveys in process memory only.
const MemoryDataDir = ":memory:"

// Ephemeral reports whether the pending store should live in memory.
func (c Config) Ephemeral() bool {
	return strings.TrimSpace(c.DataDir) == MemoryDataDir
}

// RemoteConfigured reports whether both remote write surfaces are set.
// The aws provider derives its endpoint from the region.
func (c Config) RemoteConfigured() bool {
	if c.DatabaseURL == "" {
		return false
	}
	return c.S3Endpoint != "" || strings.EqualFold(c.S3Provider, "aws")
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvList(key string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
