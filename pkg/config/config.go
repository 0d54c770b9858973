package config

import (
	"errors"
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
	BaseURL   string

	Database    DatabaseConfig
	Redis       RedisConfig
	Approval    ApprovalConfig
	Links       LinksConfig
	Pipeline    PipelineConfig
	Permissions PermissionsConfig
	Jenkins     JenkinsConfig
	Telegram    TelegramConfig
	Notify      NotifyConfig
	CORS        CORSConfig
	Log         LogConfig
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
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// ApprovalConfig tunes the wait/notify coordinator and its background tasks.
type ApprovalConfig struct {
	DefaultTimeout   time.Duration
	MaxTimeout       time.Duration
	WaitSlice        time.Duration
	ReminderInterval time.Duration
	ReminderDBPoll   time.Duration
	MaxReminders     int
	LockTTL          time.Duration
	LockRetries      int
	LockRetryDelay   time.Duration
	StoreRetries     int
	StoreRetryDelay  time.Duration
	ReaperInterval   time.Duration
	Retention        time.Duration
	EvictionGrace    time.Duration
	DecisionCacheTTL time.Duration
}

// LinksConfig signs one-click decision links embedded in notifications.
type LinksConfig struct {
	Secret string
	TTL    time.Duration
}

// PipelineConfig authenticates the CI caller on intake endpoints.
// TokenHash is a bcrypt hash; an empty value disables the check.
type PipelineConfig struct {
	TokenHash string
}

// PermissionsConfig locates the watched owners/roles file.
type PermissionsConfig struct {
	File string
}

type JenkinsConfig struct {
	URL      string
	User     string
	APIToken string
	Timeout  time.Duration
}

type TelegramConfig struct {
	Enabled bool
	Token   string
	ChatID  int64
}

// NotifyConfig sizes the outbound notification queue.
type NotifyConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
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
	cfg.BaseURL = strings.TrimRight(v.GetString("BASE_URL"), "/")

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
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Approval = ApprovalConfig{
		DefaultTimeout:   parseDuration(v.GetString("APPROVAL_DEFAULT_TIMEOUT"), 30*time.Minute),
		MaxTimeout:       parseDuration(v.GetString("APPROVAL_MAX_TIMEOUT"), 4*time.Hour),
		WaitSlice:        parseDuration(v.GetString("APPROVAL_WAIT_SLICE"), time.Second),
		ReminderInterval: parseDuration(v.GetString("APPROVAL_REMINDER_INTERVAL"), 5*time.Minute),
		ReminderDBPoll:   parseDuration(v.GetString("APPROVAL_REMINDER_DB_POLL"), 10*time.Second),
		MaxReminders:     v.GetInt("APPROVAL_MAX_REMINDERS"),
		LockTTL:          parseDuration(v.GetString("APPROVAL_LOCK_TTL"), time.Minute),
		LockRetries:      v.GetInt("APPROVAL_LOCK_RETRIES"),
		LockRetryDelay:   parseDuration(v.GetString("APPROVAL_LOCK_RETRY_DELAY"), 150*time.Millisecond),
		StoreRetries:     v.GetInt("APPROVAL_STORE_RETRIES"),
		StoreRetryDelay:  parseDuration(v.GetString("APPROVAL_STORE_RETRY_DELAY"), 200*time.Millisecond),
		ReaperInterval:   parseDuration(v.GetString("APPROVAL_REAPER_INTERVAL"), 5*time.Minute),
		Retention:        parseDuration(v.GetString("APPROVAL_RETENTION"), 2*time.Hour),
		EvictionGrace:    parseDuration(v.GetString("APPROVAL_EVICTION_GRACE"), 10*time.Minute),
		DecisionCacheTTL: parseDuration(v.GetString("APPROVAL_DECISION_CACHE_TTL"), 24*time.Hour),
	}

	cfg.Links = LinksConfig{
		Secret: v.GetString("LINK_SECRET"),
		TTL:    parseDuration(v.GetString("LINK_TTL"), 6*time.Hour),
	}

	cfg.Pipeline = PipelineConfig{
		TokenHash: v.GetString("PIPELINE_TOKEN_HASH"),
	}

	cfg.Permissions = PermissionsConfig{
		File: v.GetString("PERMISSIONS_FILE"),
	}

	cfg.Jenkins = JenkinsConfig{
		URL:      strings.TrimRight(v.GetString("JENKINS_URL"), "/"),
		User:     v.GetString("JENKINS_USER"),
		APIToken: v.GetString("JENKINS_API_TOKEN"),
		Timeout:  parseDuration(v.GetString("JENKINS_TIMEOUT"), 10*time.Second),
	}

	cfg.Telegram = TelegramConfig{
		Enabled: v.GetBool("TELEGRAM_ENABLED"),
		Token:   v.GetString("TELEGRAM_BOT_TOKEN"),
		ChatID:  v.GetInt64("TELEGRAM_CHAT_ID"),
	}

	cfg.Notify = NotifyConfig{
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		MaxRetries: v.GetInt("NOTIFY_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 2*time.Second),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("BASE_URL", "http://localhost:8080")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "approval_gate")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("APPROVAL_DEFAULT_TIMEOUT", "30m")
	v.SetDefault("APPROVAL_MAX_TIMEOUT", "4h")
	v.SetDefault("APPROVAL_WAIT_SLICE", "1s")
	v.SetDefault("APPROVAL_REMINDER_INTERVAL", "5m")
	v.SetDefault("APPROVAL_REMINDER_DB_POLL", "10s")
	v.SetDefault("APPROVAL_MAX_REMINDERS", 6)
	v.SetDefault("APPROVAL_LOCK_TTL", "1m")
	v.SetDefault("APPROVAL_LOCK_RETRIES", 3)
	v.SetDefault("APPROVAL_LOCK_RETRY_DELAY", "150ms")
	v.SetDefault("APPROVAL_STORE_RETRIES", 3)
	v.SetDefault("APPROVAL_STORE_RETRY_DELAY", "200ms")
	v.SetDefault("APPROVAL_REAPER_INTERVAL", "5m")
	v.SetDefault("APPROVAL_RETENTION", "2h")
	v.SetDefault("APPROVAL_EVICTION_GRACE", "10m")
	v.SetDefault("APPROVAL_DECISION_CACHE_TTL", "24h")

	v.SetDefault("LINK_SECRET", "dev_link_secret")
	v.SetDefault("LINK_TTL", "6h")

	v.SetDefault("PIPELINE_TOKEN_HASH", "")

	v.SetDefault("PERMISSIONS_FILE", "./config/users.yaml")

	v.SetDefault("JENKINS_URL", "http://localhost:8081")
	v.SetDefault("JENKINS_USER", "")
	v.SetDefault("JENKINS_API_TOKEN", "")
	v.SetDefault("JENKINS_TIMEOUT", "10s")

	v.SetDefault("TELEGRAM_ENABLED", false)
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("TELEGRAM_CHAT_ID", 0)

	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_MAX_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "2s")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
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
