package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	// Content platform.
	PlatformBaseURL string
	PlatformToken   string

	// Providers.
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
	ImageAPIKey   string
	ImageModel    string
	ImageBaseURL  string
	ImageSize     string
	VisionModel   string

	// Orchestration core.
	MaxConcurrency     int
	CallTimeout        time.Duration
	RetryMaxAttempts   int
	RetryInitialDelay  time.Duration
	BatchSize          int
	BatchDelay         time.Duration
	PlacementMinBlocks int

	// Optional persistence and storage.
	DatabaseURL string
	StoragePath string

	// HTTP surface.
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	DefaultLocale    string
	GeoIPDBPath      string
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "development"),
		Port:   getEnv("PORT", "8080"),

		PlatformBaseURL: os.Getenv("PLATFORM_BASE_URL"),
		PlatformToken:   os.Getenv("PLATFORM_TOKEN"),

		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		ImageAPIKey:   os.Getenv("IMAGE_API_KEY"),
		ImageModel:    getEnv("IMAGE_MODEL", "qwen-image-plus"),
		ImageBaseURL:  getEnv("IMAGE_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		ImageSize:     getEnv("IMAGE_SIZE", "1328*1328"),
		VisionModel:   getEnv("VISION_MODEL", ""),

		MaxConcurrency:     getEnvInt("MAX_CONCURRENCY", 5),
		CallTimeout:        time.Second * time.Duration(getEnvInt("CALL_TIMEOUT_SECONDS", 30)),
		RetryMaxAttempts:   getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay:  time.Millisecond * time.Duration(getEnvInt("RETRY_INITIAL_DELAY_MS", 1000)),
		BatchSize:          getEnvInt("BATCH_SIZE", 10),
		BatchDelay:         time.Millisecond * time.Duration(getEnvInt("BATCH_DELAY_MS", 500)),
		PlacementMinBlocks: getEnvInt("PLACEMENT_MIN_BLOCKS", 4),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		StoragePath: os.Getenv("STORAGE_PATH"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		DefaultLocale:    getEnv("DEFAULT_LOCALE", "en"),
		GeoIPDBPath:      os.Getenv("GEOIP_DB_PATH"),
		AllowedOrigins:   splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	if cfg.PlatformBaseURL == "" {
		return nil, fmt.Errorf("PLATFORM_BASE_URL is required")
	}
	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENCY must be at least 1")
	}

	return cfg, nil
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
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
