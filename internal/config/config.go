package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	RemoteNone   = "none"
	RemoteHTTP   = "http"
	RemoteOpenAI = "openai"
)

type Config struct {
	Port          string
	AllowedOrigin string
	// Remote backend
	RemoteBackend    string
	RemoteBackendURL string
	RemoteTimeout    time.Duration
	OpenAIAPIKey     string
	Model            string
	// Session timing
	ThinkMin          time.Duration
	ThinkMax          time.Duration
	CommandDelay      time.Duration
	QuickOptionsDelay time.Duration
	// Session registry
	SessionTTL         time.Duration
	SessionMaxMessages int
	RandomSeed         int64
	// Optional knowledge base overrides
	WidgetKnowledgeFile  string
	BackendKnowledgeFile string
	// Logging
	LogLevel  string
	LogPretty bool
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Port:                 getEnvDefault("PORT", "8080"),
		AllowedOrigin:        getEnvDefault("ALLOWED_ORIGIN", "*"),
		RemoteBackend:        strings.ToLower(getEnvDefault("REMOTE_BACKEND", RemoteNone)),
		RemoteBackendURL:     getEnvDefault("REMOTE_BACKEND_URL", "http://localhost:5000/chat"),
		RemoteTimeout:        getEnvDurationDefault("REMOTE_TIMEOUT", 5*time.Second),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		Model:                getEnvDefault("OPENAI_MODEL", "gpt-4o-mini"),
		ThinkMin:             getEnvDurationDefault("THINK_MIN", 800*time.Millisecond),
		ThinkMax:             getEnvDurationDefault("THINK_MAX", 1400*time.Millisecond),
		CommandDelay:         getEnvDurationDefault("COMMAND_DELAY", 500*time.Millisecond),
		QuickOptionsDelay:    getEnvDurationDefault("QUICK_OPTIONS_DELAY", 2*time.Second),
		SessionTTL:           getEnvDurationDefault("SESSION_TTL", 30*time.Minute),
		SessionMaxMessages:   getEnvIntDefault("SESSION_MAX_MESSAGES", 200),
		RandomSeed:           int64(getEnvIntDefault("RANDOM_SEED", 0)),
		WidgetKnowledgeFile:  os.Getenv("KNOWLEDGE_WIDGET_FILE"),
		BackendKnowledgeFile: os.Getenv("KNOWLEDGE_BACKEND_FILE"),
		LogLevel:             getEnvDefault("LOG_LEVEL", "info"),
		LogPretty:            getEnvBoolDefault("LOG_PRETTY", false),
	}
	switch cfg.RemoteBackend {
	case RemoteNone, RemoteHTTP:
	case RemoteOpenAI:
		if cfg.OpenAIAPIKey == "" {
			log.Warn().Msg("OPENAI_API_KEY is not set; remote calls will fail and fall back to local answers")
		}
	default:
		log.Warn().Str("value", cfg.RemoteBackend).Msg("unknown REMOTE_BACKEND, using none")
		cfg.RemoteBackend = RemoteNone
	}
	if cfg.ThinkMax < cfg.ThinkMin {
		cfg.ThinkMax = cfg.ThinkMin
	}
	return cfg
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getEnvIntDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
	}
	return def
}

// getEnvDurationDefault accepts Go durations ("1.5s") or bare milliseconds.
func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
	return def
}
