package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	StorageDriverFile     = "file"
	StorageDriverSupabase = "supabase"

	ImageProviderGemini = "gemini"
	ImageProviderQwen   = "qwen"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	StoreDriver string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GeminiAPIKey     string
	GeminiTextModel  string
	GeminiImageModel string
	GeminiBaseURL    string

	ImageProvider string
	QwenAPIKey    string
	QwenBaseURL   string
	QwenModel     string

	StorageDriver      string
	StoragePath        string
	StorageBaseURL     string
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	StageTimeout                time.Duration
	StageMaxRetries             int
	WorkerConcurrency           int
	ImageRequestsPerMinute      int
	CoverReferencesPerCharacter int
	ImageAspectRatio            string
	PromptTokensPath            string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// A .env file in the working directory is honoured when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        port,
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiTextModel:  getEnv("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),
		GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		GeminiBaseURL:    os.Getenv("GEMINI_BASE_URL"),

		ImageProvider: strings.ToLower(getEnv("IMAGE_PROVIDER", ImageProviderGemini)),
		QwenAPIKey:    os.Getenv("QWEN_API_KEY"),
		QwenBaseURL:   os.Getenv("QWEN_BASE_URL"),
		QwenModel:     os.Getenv("QWEN_IMAGE_MODEL"),

		StorageDriver:      strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverFile)),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:     getEnv("STORAGE_BASE_URL", fmt.Sprintf("http://localhost:%s/static", port)),
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", "books"),

		StageTimeout:                time.Second * time.Duration(getEnvInt("STAGE_TIMEOUT_SECONDS", 240)),
		StageMaxRetries:             getEnvInt("STAGE_MAX_RETRIES", 3),
		WorkerConcurrency:           getEnvInt("WORKER_CONCURRENCY", 8),
		ImageRequestsPerMinute:      getEnvInt("IMAGE_REQUESTS_PER_MINUTE", 20),
		CoverReferencesPerCharacter: getEnvInt("COVER_REFERENCES_PER_CHARACTER", 3),
		ImageAspectRatio:            getEnv("IMAGE_ASPECT_RATIO", "4:3"),
		PromptTokensPath:            os.Getenv("PROMPT_TOKENS_PATH"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 300)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		CORSOrigins:      splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.StorageDriver {
	case StorageDriverFile:
	case StorageDriverSupabase:
		if cfg.SupabaseURL == "" {
			return nil, fmt.Errorf("SUPABASE_URL is required for supabase storage")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	switch cfg.ImageProvider {
	case ImageProviderGemini, ImageProviderQwen:
	default:
		return nil, fmt.Errorf("unsupported IMAGE_PROVIDER %q", cfg.ImageProvider)
	}

	if cfg.StageTimeout <= 0 {
		return nil, fmt.Errorf("STAGE_TIMEOUT_SECONDS must be positive")
	}
	if cfg.StageMaxRetries < 0 {
		cfg.StageMaxRetries = 0
	}
	if cfg.CoverReferencesPerCharacter <= 0 {
		cfg.CoverReferencesPerCharacter = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
