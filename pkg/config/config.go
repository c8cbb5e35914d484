package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Transitions   TransitionsConfig
	Capacity      CapacityConfig
	Notifications NotificationsConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MaxOpenConns  int
	MaxIdleConns  int
	RunMigrations bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// TransitionsConfig bounds the status transition unit of work.
type TransitionsConfig struct {
	Timeout time.Duration
}

// CapacityConfig governs caching of course capacity summaries.
type CapacityConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// NotificationsConfig configures the post-commit notification worker.
type NotificationsConfig struct {
	Enabled        bool
	WebhookURL     string
	WebhookToken   string
	WebhookTimeout time.Duration
	Workers        int
	BufferSize     int
	MaxRetries     int
	RetryDelay     time.Duration
	RatePerSecond  float64
	Burst          int
	LinkBaseURL    string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:          v.GetString("DB_HOST"),
		Port:          v.GetInt("DB_PORT"),
		User:          v.GetString("DB_USER"),
		Password:      v.GetString("DB_PASSWORD"),
		Name:          v.GetString("DB_NAME"),
		SSLMode:       v.GetString("DB_SSL_MODE"),
		MaxOpenConns:  v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:  v.GetInt("DB_MAX_IDLE_CONNS"),
		RunMigrations: v.GetBool("DB_RUN_MIGRATIONS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Transitions = TransitionsConfig{
		Timeout: parseDuration(v.GetString("TRANSITION_TIMEOUT"), 10*time.Second),
	}

	cfg.Capacity = CapacityConfig{
		CacheEnabled: v.GetBool("ENABLE_CAPACITY_CACHE"),
		CacheTTL:     parseDuration(v.GetString("CAPACITY_CACHE_TTL"), 2*time.Minute),
	}

	cfg.Notifications = NotificationsConfig{
		Enabled:        v.GetBool("ENABLE_NOTIFICATIONS"),
		WebhookURL:     v.GetString("NOTIFICATIONS_WEBHOOK_URL"),
		WebhookToken:   v.GetString("NOTIFICATIONS_WEBHOOK_TOKEN"),
		WebhookTimeout: parseDuration(v.GetString("NOTIFICATIONS_WEBHOOK_TIMEOUT"), 5*time.Second),
		Workers:        v.GetInt("NOTIFICATIONS_WORKERS"),
		BufferSize:     v.GetInt("NOTIFICATIONS_BUFFER_SIZE"),
		MaxRetries:     v.GetInt("NOTIFICATIONS_MAX_RETRIES"),
		RetryDelay:     parseDuration(v.GetString("NOTIFICATIONS_RETRY_DELAY"), 2*time.Second),
		RatePerSecond:  v.GetFloat64("NOTIFICATIONS_RATE_PER_SECOND"),
		Burst:          v.GetInt("NOTIFICATIONS_BURST"),
		LinkBaseURL:    strings.TrimRight(v.GetString("NOTIFICATIONS_LINK_BASE_URL"), "/"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "course_enrollment")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_RUN_MIGRATIONS", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("TRANSITION_TIMEOUT", "10s")

	v.SetDefault("ENABLE_CAPACITY_CACHE", false)
	v.SetDefault("CAPACITY_CACHE_TTL", "2m")

	v.SetDefault("ENABLE_NOTIFICATIONS", true)
	v.SetDefault("NOTIFICATIONS_WEBHOOK_URL", "")
	v.SetDefault("NOTIFICATIONS_WEBHOOK_TOKEN", "")
	v.SetDefault("NOTIFICATIONS_WEBHOOK_TIMEOUT", "5s")
	v.SetDefault("NOTIFICATIONS_WORKERS", 2)
	v.SetDefault("NOTIFICATIONS_BUFFER_SIZE", 64)
	v.SetDefault("NOTIFICATIONS_MAX_RETRIES", 3)
	v.SetDefault("NOTIFICATIONS_RETRY_DELAY", "2s")
	v.SetDefault("NOTIFICATIONS_RATE_PER_SECOND", 10)
	v.SetDefault("NOTIFICATIONS_BURST", 5)
	v.SetDefault("NOTIFICATIONS_LINK_BASE_URL", "http://localhost:3000")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
