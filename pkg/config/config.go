package config

import (
	"encoding/json"
	"errors"
	"fmt"
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

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Auth      AuthConfig
	CORS      CORSConfig
	Log       LogConfig
	Cache     CacheConfig
	Player    PlayerConfig
	MQTT      MQTTConfig
	Events    EventsConfig
	Schedule  ScheduleConfig
	Retention RetentionConfig
	Reports   ReportsConfig
	Metrics   MetricsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
	Issuer            string
}

// OperatorAccount is one admin-plane login seeded from the environment.
// PasswordHash is a bcrypt hash; plaintext passwords are never configured.
type OperatorAccount struct {
	ID           string `json:"id,omitempty"`
	Email        string `json:"email"`
	Name         string `json:"name,omitempty"`
	PasswordHash string `json:"password_hash"`
	Role         string `json:"role"`
}

// AuthConfig seeds operator accounts. There is no user database behind the
// kiosk; accounts live in configuration.
type AuthConfig struct {
	Operators     []OperatorAccount
	SingleSession bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig tunes the Redis-backed read cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// PlayerConfig tunes the rotation loop.
type PlayerConfig struct {
	Enabled     bool
	Interval    time.Duration
	IdleBackoff time.Duration
}

// MQTTConfig controls the MQTT screen-change announcements.
type MQTTConfig struct {
	Enabled        bool
	BrokerURL      string
	ClientID       string
	Topic          string
	ConnectTimeout time.Duration
}

// EventsConfig controls the Redis pub/sub screen-change announcements.
type EventsConfig struct {
	RedisEnabled bool
	RedisChannel string
}

// ScheduleConfig governs the schedule document plane: the bootstrap seed,
// the optional file watcher and preview limits.
type ScheduleConfig struct {
	SeedPath      string
	Watch         bool
	WatchDebounce time.Duration
	PreviewLimit  int
	StateTTL      time.Duration
}

// RetentionConfig governs the nightly ledger sweep.
type RetentionConfig struct {
	Enabled   bool
	Schedule  string
	MaxAge    time.Duration
	KeepCount int
}

// ReportsConfig configures asynchronous export generation.
type ReportsConfig struct {
	Enabled           bool
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	CleanupInterval   time.Duration
	WorkerConcurrency int
	WorkerRetries     int
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
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
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 15*time.Minute),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 168*time.Hour),
		Issuer:            v.GetString("JWT_ISSUER"),
	}

	operators, err := parseOperators(v.GetString("AUTH_OPERATORS"))
	if err != nil {
		return nil, err
	}
	cfg.Auth = AuthConfig{
		Operators:     operators,
		SingleSession: v.GetBool("AUTH_SINGLE_SESSION"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_CACHE"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 5*time.Minute),
	}

	cfg.Player = PlayerConfig{
		Enabled:     v.GetBool("ENABLE_PLAYER"),
		Interval:    parseDuration(v.GetString("PLAYER_INTERVAL"), 10*time.Second),
		IdleBackoff: parseDuration(v.GetString("PLAYER_IDLE_BACKOFF"), 30*time.Second),
	}

	cfg.MQTT = MQTTConfig{
		Enabled:        v.GetBool("ENABLE_MQTT"),
		BrokerURL:      v.GetString("MQTT_BROKER_URL"),
		ClientID:       v.GetString("MQTT_CLIENT_ID"),
		Topic:          v.GetString("MQTT_TOPIC"),
		ConnectTimeout: parseDuration(v.GetString("MQTT_CONNECT_TIMEOUT"), 10*time.Second),
	}

	cfg.Events = EventsConfig{
		RedisEnabled: v.GetBool("ENABLE_REDIS_EVENTS"),
		RedisChannel: v.GetString("REDIS_EVENTS_CHANNEL"),
	}

	cfg.Schedule = ScheduleConfig{
		SeedPath:      v.GetString("SCHEDULE_SEED_PATH"),
		Watch:         v.GetBool("SCHEDULE_WATCH"),
		WatchDebounce: parseDuration(v.GetString("SCHEDULE_WATCH_DEBOUNCE"), 500*time.Millisecond),
		PreviewLimit:  v.GetInt("SCHEDULE_PREVIEW_LIMIT"),
		StateTTL:      parseDuration(v.GetString("SCHEDULE_STATE_TTL"), 24*time.Hour),
	}

	cfg.Retention = RetentionConfig{
		Enabled:   v.GetBool("ENABLE_RETENTION"),
		Schedule:  v.GetString("RETENTION_SCHEDULE"),
		MaxAge:    parseDuration(v.GetString("RETENTION_MAX_AGE"), 720*time.Hour),
		KeepCount: v.GetInt("RETENTION_KEEP_COUNT"),
	}

	cfg.Reports = ReportsConfig{
		Enabled:           v.GetBool("ENABLE_REPORTS"),
		StorageDir:        v.GetString("REPORTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("REPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval:   parseDuration(v.GetString("REPORTS_CLEANUP_INTERVAL"), time.Hour),
		WorkerConcurrency: v.GetInt("REPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("REPORTS_WORKER_RETRIES"),
	}

	cfg.Metrics = MetricsConfig{
		Enabled: v.GetBool("ENABLE_METRICS"),
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
	v.SetDefault("DB_NAME", "signage_rotation")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "15m")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")
	v.SetDefault("JWT_ISSUER", "signage-rotation-api")
	v.SetDefault("AUTH_OPERATORS", "")
	v.SetDefault("AUTH_SINGLE_SESSION", false)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_CACHE", true)
	v.SetDefault("CACHE_TTL", "5m")

	v.SetDefault("ENABLE_PLAYER", true)
	v.SetDefault("PLAYER_INTERVAL", "10s")
	v.SetDefault("PLAYER_IDLE_BACKOFF", "30s")

	v.SetDefault("ENABLE_MQTT", false)
	v.SetDefault("MQTT_BROKER_URL", "tcp://localhost:1883")
	v.SetDefault("MQTT_CLIENT_ID", "signage-rotation-api")
	v.SetDefault("MQTT_TOPIC", "signage/rotation/current")
	v.SetDefault("MQTT_CONNECT_TIMEOUT", "10s")

	v.SetDefault("ENABLE_REDIS_EVENTS", false)
	v.SetDefault("REDIS_EVENTS_CHANNEL", "rotation:changes")

	v.SetDefault("SCHEDULE_SEED_PATH", "")
	v.SetDefault("SCHEDULE_WATCH", false)
	v.SetDefault("SCHEDULE_WATCH_DEBOUNCE", "500ms")
	v.SetDefault("SCHEDULE_PREVIEW_LIMIT", 200)
	v.SetDefault("SCHEDULE_STATE_TTL", "24h")

	v.SetDefault("ENABLE_RETENTION", true)
	v.SetDefault("RETENTION_SCHEDULE", "0 3 * * *")
	v.SetDefault("RETENTION_MAX_AGE", "720h")
	v.SetDefault("RETENTION_KEEP_COUNT", 10)

	v.SetDefault("ENABLE_REPORTS", true)
	v.SetDefault("REPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("REPORTS_SIGNED_URL_SECRET", "dev_reports_secret")
	v.SetDefault("REPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("REPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("REPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("REPORTS_WORKER_RETRIES", 3)

	v.SetDefault("ENABLE_METRICS", true)
}

func parseOperators(raw string) ([]OperatorAccount, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var operators []OperatorAccount
	if err := json.Unmarshal([]byte(raw), &operators); err != nil {
		return nil, fmt.Errorf("AUTH_OPERATORS is not valid JSON: %w", err)
	}
	for i, op := range operators {
		if op.Email == "" || op.PasswordHash == "" {
			return nil, fmt.Errorf("AUTH_OPERATORS[%d] needs email and password_hash", i)
		}
	}
	return operators, nil
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
