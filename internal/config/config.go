// Package config reads process settings from the environment, optionally
// seeded from a .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultMaxUploadBytes = 2 << 30
)

type Config struct {
	Addr           string
	UploadsDir     string
	OutputsDir     string
	CatalogPath    string
	MaxUploadBytes int64

	FFmpegPath  string
	FFprobePath string

	TranscodeTimeout time.Duration
	JobRetention     time.Duration
	CleanupInterval  time.Duration

	LogLevel  string
	LogFormat string

	RedisURL     string
	RedisChannel string

	MetricsEnabled bool
}

// Load reads .env (when present) and then the environment. Variables that
// are already set win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:           envOrDefault("APP_ADDR", ":3000"),
		UploadsDir:     envOrDefault("UPLOADS_DIR", "uploads"),
		OutputsDir:     envOrDefault("OUTPUTS_DIR", "output"),
		CatalogPath:    envOrDefault("CATALOG_PATH", "data.json"),
		FFmpegPath:     envOrDefault("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:    envOrDefault("FFPROBE_PATH", "ffprobe"),
		LogLevel:       envOrDefault("LOG_LEVEL", "info"),
		LogFormat:      envOrDefault("LOG_FORMAT", "json"),
		RedisURL:       strings.TrimSpace(os.Getenv("REDIS_URL")),
		RedisChannel:   envOrDefault("REDIS_CHANNEL", "hls:jobs"),
		MetricsEnabled: true,
	}

	var err error
	if cfg.MaxUploadBytes, err = envInt64("MAX_UPLOAD_BYTES", defaultMaxUploadBytes); err != nil {
		return Config{}, err
	}
	if cfg.TranscodeTimeout, err = envDuration("TRANSCODE_TIMEOUT", 2*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.JobRetention, err = envDuration("JOB_RETENTION", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.CleanupInterval, err = envDuration("CLEANUP_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	if raw := strings.TrimSpace(os.Getenv("METRICS_ENABLED")); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse METRICS_ENABLED: %w", err)
		}
		cfg.MetricsEnabled = enabled
	}

	if cfg.MaxUploadBytes <= 0 {
		return Config{}, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes)
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func envInt64(key string, fallback int64) (int64, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

// envDuration accepts Go duration strings ("90s", "2h"). Zero or a negative
// value disables the corresponding timer.
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}
