package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	TriggerPort        string
	WorkerMetricsPort  string
	TemporalAddress    string
	TemporalNamespace  string
	TemporalTaskQueue  string
	StageTimeout       time.Duration
	ReplyTimeout       time.Duration
	HistoryLimit       int
	CommandPrefix      string
	BotName            string
	StoreDriver        string
	PostgresURL        string
	SQLitePath         string
	PocketBaseURL      string
	LLMMode            string
	LLMProvider        string
	LLMModel           string
	LLMClassifierModel string
	LLMBaseURL         string
	OpenAIAPIKey       string
	OpenRouterAPIKey   string
	NaverClientID      string
	NaverClientSecret  string
	SearchDisplay      int
	SearchRPS          float64
	LogLevel           string
	LogFormat          string
	LogFile            string
}

func Load() Config {
	postgresURL := getEnv("POSTGRES_URL", "")
	if postgresURL == "" {
		postgresURL = buildPostgresURL()
	}
	return Config{
		TriggerPort:        getEnv("TRIGGER_PORT", "8000"),
		WorkerMetricsPort:  getEnv("WORKER_METRICS_PORT", "9091"),
		TemporalAddress:    getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalNamespace:  getEnv("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue:  getEnv("TEMPORAL_TASK_QUEUE", "nriy"),
		StageTimeout:       getEnvDuration("STAGE_TIMEOUT", 300*time.Second),
		ReplyTimeout:       getEnvDuration("REPLY_TIMEOUT", 120*time.Second),
		HistoryLimit:       getEnvInt("HISTORY_LIMIT", 15),
		CommandPrefix:      getEnv("COMMAND_PREFIX", "/"),
		BotName:            getEnv("BOT_NAME", "나란잉여"),
		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		PostgresURL:        postgresURL,
		SQLitePath:         getEnv("SQLITE_PATH", "data/nriy.db"),
		PocketBaseURL:      getEnv("POCKETBASE_URL", "http://localhost:8090"),
		LLMMode:            getEnv("LLM_MODE", "remote"),
		LLMProvider:        getEnv("LLM_PROVIDER", "openai"),
		LLMModel:           getEnv("LLM_MODEL", "gpt-4.1-mini"),
		LLMClassifierModel: getEnv("LLM_CLASSIFIER_MODEL", "gpt-4.1-nano"),
		LLMBaseURL:         getEnv("LLM_BASE_URL", ""),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenRouterAPIKey:   getEnv("OPENROUTER_API_KEY", ""),
		NaverClientID:      getEnv("NAVER_CLIENT_ID", ""),
		NaverClientSecret:  getEnv("NAVER_CLIENT_SECRET", ""),
		SearchDisplay:      getEnvInt("SEARCH_DISPLAY", 20),
		SearchRPS:          getEnvFloat("SEARCH_RPS", 10),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		LogFile:            getEnv("LOG_FILE", ""),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "2m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "nriy")
	password := getEnv("POSTGRES_PASSWORD", "nriy")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "nriy")
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     fmt.Sprintf("%s:%s", host, port),
		Path:     "/" + database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
