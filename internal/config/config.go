package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	HTTPListenAddr string
	HTTPBasePath   string
	LogLevel       string
	LogFormat      string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisUseTLS   bool

	MetricsNamespace string

	SessionStoreDir  string
	WhatsAppLogLevel string
	QRTimeout        time.Duration
}

// Load reads configuration from the environment, applying defaults for
// everything except DATABASE_URL.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		HTTPBasePath:     os.Getenv("HTTP_BASE_PATH"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "text"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "wa_blast"),
		SessionStoreDir:  getEnv("SESSION_STORE_DIR", "sessions"),
		WhatsAppLogLevel: getEnv("WHATSAPP_LOG_LEVEL", "ERROR"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	db, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = db
	cfg.RedisUseTLS = getEnv("REDIS_TLS", "false") == "true"

	qrSeconds, err := strconv.Atoi(getEnv("QR_TIMEOUT_SECONDS", "60"))
	if err != nil || qrSeconds <= 0 {
		return nil, fmt.Errorf("invalid QR_TIMEOUT_SECONDS")
	}
	cfg.QRTimeout = time.Duration(qrSeconds) * time.Second

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
