package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	applog "retrocart/internal/log"
)

type Config struct {
	Port           string
	DBDSN          string
	LogFile        string
	PublicBaseURL  string
	GatewayMode    string // sandbox | http
	GatewayURL     string
	GatewayAPIKey  string
	GatewayTimeout time.Duration
	RedisAddr      string
	KafkaBrokers   []string
	KafkaTopic     string
	IdempotencyTTL time.Duration
}

func Load() Config {
	// .env is optional; real environment wins.
	_ = godotenv.Load()

	cfg := Config{
		Port:           getenv("PORT", "8080"),
		DBDSN:          getenv("DB_DSN", "retrocart.db"),
		LogFile:        getenv("LOG_FILE", ""),
		PublicBaseURL:  strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		GatewayMode:    strings.ToLower(getenv("GATEWAY_MODE", "sandbox")),
		GatewayURL:     getenv("GATEWAY_URL", ""),
		GatewayAPIKey:  getenv("GATEWAY_API_KEY", ""),
		GatewayTimeout: getduration("GATEWAY_TIMEOUT", 10*time.Second),
		RedisAddr:      getenv("REDIS_ADDR", ""),
		KafkaBrokers:   splitCSV(getenv("KAFKA_BROKERS", "")),
		KafkaTopic:     getenv("KAFKA_TOPIC", "retrocart.events"),
		IdempotencyTTL: getduration("IDEMPOTENCY_TTL", 24*time.Hour),
	}
	applog.L().Info("config.loaded",
		zap.String("port", cfg.Port),
		zap.String("db_dsn", cfg.DBDSN),
		zap.String("public_base_url", cfg.PublicBaseURL),
		zap.String("gateway_mode", cfg.GatewayMode),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Int("kafka_brokers", len(cfg.KafkaBrokers)),
	)
	return cfg
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		applog.L().Warn("config.bad_duration", zap.String("key", k), zap.String("value", v))
		return def
	}
	return d
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
