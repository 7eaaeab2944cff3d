package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment
// variables. It is constructed once at process start and passed by reference;
// nothing reads the environment after LoadConfig returns.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int32
	StoragePath string
	GeoIPDBPath string

	GeminiAPIKey     string
	GeminiModel      string
	GeminiImageModel string
	GeminiBaseURL    string

	MaxSyncRetries  int
	MaxAsyncRetries int
	OutputDPI       int
	ThumbnailMaxPx  int
	AsyncRetryDelay time.Duration
	AsyncQueueSize  int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from the environment and applies defaults.
// Missing credentials are a configuration error raised here, before any
// pipeline attempt is made.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  int32(getEnvInt("DB_MAX_CONNS", 10)),
		StoragePath: getEnv("STORAGE_PATH", "./storage"),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		MaxSyncRetries:  getEnvInt("MAX_SYNC_RETRIES", 5),
		MaxAsyncRetries: getEnvInt("MAX_ASYNC_RETRIES", 5),
		OutputDPI:       getEnvInt("OUTPUT_DPI", 300),
		ThumbnailMaxPx:  getEnvInt("THUMBNAIL_MAX_PX", 400),
		AsyncRetryDelay: time.Second * time.Duration(getEnvInt("ASYNC_RETRY_DELAY_SECONDS", 2)),
		AsyncQueueSize:  getEnvInt("ASYNC_QUEUE_SIZE", 16),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		CORSAllowedOrigins: splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.MaxSyncRetries < 1 {
		return nil, fmt.Errorf("MAX_SYNC_RETRIES must be at least 1")
	}
	if cfg.MaxAsyncRetries < 1 {
		return nil, fmt.Errorf("MAX_ASYNC_RETRIES must be at least 1")
	}

	return cfg, nil
}

func splitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
