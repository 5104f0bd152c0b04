package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every knob the services read from the environment.
type Config struct {
	SessionTTL               time.Duration
	SessionBackend           string
	SessionsTable            string
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	LLMEnabled               bool
	LLMTimeout               time.Duration
	LLMModel                 string
	GeminiAPIKey             string
	LLMRPS                   float64
	LLMBurst                 int
	LLMRetries               int
	PromptLocale             string
	ProgressIncludesOptional bool
	DeeplinkRootURL          string
	DeeplinkCheckoutPath     string
	DeeplinkSigningKey       string
	CPMBackend               string
	CPMCacheSize             int
	S3                       S3Config
	CPMPostgresDSN           string
	EventsQueueURL           string
	BusQueueURL              string
	BusAMQPURL               string
	BusAMQPExchange          string
	IdempotencyTable         string
	IdempotencyTTL           time.Duration
	RunLocal                 bool
	HTTPAddr                 string
	LogLevel                 string
	LogFormat                string
	MetricsNamespace         string
}

// S3Config configures the S3-compatible CPM blob backend.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment without touching .env files.
func FromEnv() Config {
	return Config{
		SessionTTL:               durationEnv("SESSION_TTL", 24*time.Hour),
		SessionBackend:           strings.ToLower(stringEnv("SESSION_BACKEND", "memory")),
		SessionsTable:            stringEnv("SESSIONS_TABLE", ""),
		RedisAddr:                stringEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:            stringEnv("REDIS_PASSWORD", ""),
		RedisDB:                  intEnv("REDIS_DB", 0),
		LLMEnabled:               boolEnv("LLM_ENABLED", false),
		LLMTimeout:               time.Duration(intEnv("LLM_TIMEOUT_MS", 15000)) * time.Millisecond,
		LLMModel:                 stringEnv("LLM_MODEL", "gemini-2.5-flash"),
		GeminiAPIKey:             firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY")),
		LLMRPS:                   floatEnv("LLM_RPS", 0),
		LLMBurst:                 intEnv("LLM_BURST", 0),
		LLMRetries:               intEnv("LLM_RETRIES", 2),
		PromptLocale:             stringEnv("PROMPT_LOCALE", "pt-BR"),
		ProgressIncludesOptional: boolEnv("PROGRESS_INCLUDES_OPTIONAL", false),
		DeeplinkRootURL:          stringEnv("DEEPLINK_ROOT_URL", ""),
		DeeplinkCheckoutPath:     stringEnv("DEEPLINK_CHECKOUT_PATH", "/checkout"),
		DeeplinkSigningKey:       stringEnv("DEEPLINK_SIGNING_KEY", ""),
		CPMBackend:               strings.ToLower(stringEnv("CPM_BACKEND", "memory")),
		CPMCacheSize:             intEnv("CPM_CACHE_SIZE", 256),
		S3: S3Config{
			Endpoint:  stringEnv("S3_ENDPOINT", ""),
			Region:    stringEnv("S3_REGION", "us-east-1"),
			AccessKey: stringEnv("S3_ACCESS_KEY", ""),
			SecretKey: stringEnv("S3_SECRET_KEY", ""),
			Bucket:    stringEnv("S3_BUCKET", "checkout-process-models"),
			UseSSL:    boolEnv("S3_USE_SSL", false),
		},
		CPMPostgresDSN:   stringEnv("CPM_PG_DSN", ""),
		EventsQueueURL:   stringEnv("EVENTS_QUEUE_URL", ""),
		BusQueueURL:      stringEnv("BUS_QUEUE_URL", ""),
		BusAMQPURL:       stringEnv("BUS_AMQP_URL", ""),
		BusAMQPExchange:  stringEnv("BUS_AMQP_EXCHANGE", "checkout.bus"),
		IdempotencyTable: stringEnv("IDEMPOTENCY_TABLE", ""),
		IdempotencyTTL:   durationEnv("IDEMPOTENCY_TTL", 48*time.Hour),
		RunLocal:         boolEnv("RUN_LOCAL", false),
		HTTPAddr:         stringEnv("HTTP_ADDR", ":8080"),
		LogLevel:         stringEnv("LOG_LEVEL", "info"),
		LogFormat:        stringEnv("LOG_FORMAT", "text"),
		MetricsNamespace: stringEnv("METRICS_NAMESPACE", "CheckoutAssistant"),
	}
}

func stringEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func floatEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

func boolEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
