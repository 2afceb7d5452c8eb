package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	DBURL         string
	DBMaxConns    int
	LockTimeout   time.Duration
	MaxRetries    int
	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration

	// EventsBackend is one of "none", "redis" or "kafka".
	EventsBackend      string
	RedisEventsChannel string
	KafkaBrokers       []string
	KafkaTopic         string
}

// LoadConfig reads config.env when present, then the process environment.
// Variables already set in the environment take precedence over the file.
func LoadConfig() (*Config, error) {
	return loadConfig("config.env")
}

func loadConfig(envFile string) (*Config, error) {
	_ = godotenv.Load(envFile)

	cfg := &Config{
		Port:      getEnv("APP_PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		DBURL: fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=%s",
			os.Getenv("DB_USER"),
			os.Getenv("DB_PASSWORD"),
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			os.Getenv("DB_NAME"),
			getEnv("DB_SSLMODE", "disable"),
		),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		EventsBackend:      strings.ToLower(getEnv("EVENTS_BACKEND", "none")),
		RedisEventsChannel: os.Getenv("REDIS_EVENTS_CHANNEL"),
		KafkaTopic:         os.Getenv("KAFKA_TOPIC"),
	}

	var err error
	if cfg.DBMaxConns, err = getInt("DB_MAX_CONNS", 8); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = getInt("ENGINE_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.LockTimeout, err = getDuration("DB_LOCK_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getDuration("CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	switch cfg.EventsBackend {
	case "none":
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("EVENTS_BACKEND=redis requires REDIS_ADDR")
		}
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("EVENTS_BACKEND=kafka requires KAFKA_BROKERS")
		}
	default:
		return nil, fmt.Errorf("unknown EVENTS_BACKEND %q", cfg.EventsBackend)
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a duration such as 5s, got %q", key, v)
	}
	return d, nil
}
