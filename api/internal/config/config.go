package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Port string

	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string
	// GeminiTransport выбирает бэкенд для серверного ревью: "http" (SSE как есть) или "sdk" (genai).
	GeminiTransport string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	UpstreamHeaderTimeout time.Duration

	PromptFile string

	DatabaseURL string
	CacheTTL    time.Duration

	LogLevel  string
	LogFormat string

	// AdminToken включает POST /api/prompt; пустой выключает.
	AdminToken string

	// WebhookURL переключает бота с поллинга на вебхук. Токен бота читается
	// отдельно через MustEnv: прокси он не нужен.
	WebhookURL string
}

func MustEnv(k string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		log.Fatal().Str("env", k).Msg("missing required env")
	}
	return v
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getDuration(k string, def time.Duration) time.Duration {
	v := getEnv(k, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		log.Warn().Str("env", k).Str("value", v).Dur("default", def).Msg("bad duration, using default")
		return def
	}
	return d
}

// Load читает окружение. Ключи провайдеров опциональны: без GEMINI_API_KEY
// клиент присылает свой, OpenAI ключ всегда может прийти в Authorization.
func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8000"),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:   strings.TrimRight(getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"), "/"),
		GeminiModel:     getEnv("DEFAULT_GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiTransport: strings.ToLower(getEnv("GEMINI_TRANSPORT", "http")),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: strings.TrimRight(getEnv("OPENAI_BASE_URL", "https://api.openai.com"), "/"),
		OpenAIModel:   getEnv("DEFAULT_OPENAI_MODEL", "gpt-4o-mini"),

		UpstreamHeaderTimeout: getDuration("UPSTREAM_HEADER_TIMEOUT", 60*time.Second),

		PromptFile: getEnv("PROMPT_FILE", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		CacheTTL:    getDuration("CACHE_TTL", 24*time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		AdminToken: getEnv("ADMIN_TOKEN", ""),

		WebhookURL: getEnv("WEBHOOK_URL", ""),
	}
}
