// Package config loads runtime configuration for the API server and CLI
// from flags and the environment, with .env support for local runs.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string
	Env  string

	// GeminiModel is the model used for both generation and diagnosis
	// unless DiagnosisModel overrides the latter.
	GeminiModel    string
	DiagnosisModel string

	// SandboxURL points at the test-execution service. Empty disables the
	// sandbox tier (validation-only runs).
	SandboxURL     string
	SandboxTimeout time.Duration

	MaxSupervisorAttempts int
	MaxLocalRetries       int

	// DatabaseURL enables the Postgres run store; without it runs are kept
	// in memory with a file fallback.
	DatabaseURL string
	RunStoreDir string

	Archive ArchiveConfig
}

// ArchiveConfig configures the S3-compatible archive for winning artifact
// sets.
type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8081", "server port")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	model := firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_MODEL")), "gemini-2.0-flash")

	return &Config{
		Port:                  *port,
		Env:                   env,
		GeminiModel:           model,
		DiagnosisModel:        firstNonEmpty(strings.TrimSpace(os.Getenv("DIAGNOSIS_MODEL")), model),
		SandboxURL:            strings.TrimSpace(os.Getenv("SANDBOX_URL")),
		SandboxTimeout:        envDuration("SANDBOX_TIMEOUT", 2*time.Minute),
		MaxSupervisorAttempts: envInt("MAX_SUPERVISOR_ATTEMPTS", 3),
		MaxLocalRetries:       envInt("MAX_LOCAL_RETRIES", 3),
		DatabaseURL:           strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RunStoreDir:           firstNonEmpty(strings.TrimSpace(os.Getenv("RUN_STORE_DIR")), ".drivergen/runs"),
		Archive:               loadArchiveConfig(env),
	}, nil
}

func loadArchiveConfig(env string) ArchiveConfig {
	endpoint := resolveArchiveEndpoint(env)
	return ArchiveConfig{
		Enabled:   strings.EqualFold(strings.TrimSpace(env), "local") || endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_BUCKET")), "drivergen-artifacts"),
		UseSSL:    resolveArchiveUseSSL(env),
	}
}

func resolveArchiveEndpoint(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_MINIO_ENDPOINT")), "minio:9000")
	}
	return strings.TrimSpace(os.Getenv("ARCHIVE_S3_ENDPOINT"))
}

func resolveArchiveUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("ARCHIVE_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
