package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process level configuration, grouped by concern.
type Server struct {
	Addr           string
	Environment    string
	LogLevel       string
	AllowedOrigins []string

	Database     DatabaseConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Registration RegistrationConfig
	RateLimit    RateLimitConfig
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RunMigrations   bool
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CatalogTTL   time.Duration
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	PollInterval time.Duration
	BatchSize    int
}

// Enabled reports whether the outbox relay should run.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type RegistrationConfig struct {
	TxTimeout         time.Duration
	ValidationMode    string
	DuplicatePreCheck bool
}

type RateLimitConfig struct {
	Submissions int
	Window      time.Duration
	Disabled    bool
}

// LoadDotEnv loads variables from the given files (default ".env") without
// overriding what is already set. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var errs []string
	record := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	cfg := Server{
		Addr:        getEnv("INT20H_ADDR", ":8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	origins, err := parseOrigins(os.Getenv("ALLOWED_ORIGINS"))
	record(err)
	cfg.AllowedOrigins = origins

	cfg.Database.URL = os.Getenv("DATABASE_URL")
	cfg.Database.MaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 25)
	record(err)
	cfg.Database.MaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 5)
	record(err)
	cfg.Database.ConnMaxLifetime, err = getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	record(err)
	cfg.Database.RunMigrations, err = getBool("DB_RUN_MIGRATIONS", true)
	record(err)

	cfg.Redis.URL = os.Getenv("REDIS_URL")
	cfg.Redis.PoolSize, err = getInt("REDIS_POOL_SIZE", 10)
	record(err)
	cfg.Redis.MinIdleConns, err = getInt("REDIS_MIN_IDLE_CONNS", 2)
	record(err)
	cfg.Redis.DialTimeout, err = getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second)
	record(err)
	cfg.Redis.ReadTimeout, err = getDuration("REDIS_READ_TIMEOUT", 3*time.Second)
	record(err)
	cfg.Redis.WriteTimeout, err = getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second)
	record(err)
	cfg.Redis.CatalogTTL, err = getDuration("CATALOG_CACHE_TTL", 10*time.Minute)
	record(err)

	cfg.Kafka.Brokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", "int20h.registrations")
	cfg.Kafka.PollInterval, err = getDuration("OUTBOX_POLL_INTERVAL", time.Second)
	record(err)
	cfg.Kafka.BatchSize, err = getInt("OUTBOX_BATCH_SIZE", 100)
	record(err)

	cfg.Registration.TxTimeout, err = getDuration("REGISTRATION_TX_TIMEOUT", 5*time.Second)
	record(err)
	cfg.Registration.ValidationMode = getEnv("REGISTRATION_VALIDATION_MODE", "collect_all")
	cfg.Registration.DuplicatePreCheck, err = getBool("REGISTRATION_DUPLICATE_PRECHECK", true)
	record(err)

	cfg.RateLimit.Submissions, err = getInt("RATE_LIMIT_SUBMISSIONS", 5)
	record(err)
	cfg.RateLimit.Window, err = getDuration("RATE_LIMIT_WINDOW", time.Minute)
	record(err)
	cfg.RateLimit.Disabled, err = getBool("RATE_LIMIT_DISABLED", false)
	record(err)

	if len(errs) > 0 {
		return cfg, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// IsProduction gates development conveniences such as permissive CORS.
func (s Server) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %q is not a boolean", key, raw)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %q is not a duration", key, raw)
	}
	return v, nil
}

// parseOrigins accepts a JSON array or a comma separated list.
func parseOrigins(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var origins []string
		if err := json.Unmarshal([]byte(raw), &origins); err != nil {
			return nil, fmt.Errorf("ALLOWED_ORIGINS: %w", err)
		}
		return origins, nil
	}
	return splitList(raw), nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
