package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	GoogleAPI OAuthProviderConfig
	Microsoft MicrosoftConfig
	Webhook   WebhookConfig
	Security  SecurityConfig
	Worker    WorkerConfig
	Retention RetentionConfig
	Archive   ArchiveConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Name     string
	Env      string
	Port     int
	LogLevel string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	URL string
}

type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

type MicrosoftConfig struct {
	OAuthProviderConfig
	Tenant string
}

type WebhookConfig struct {
	BaseURL string
}

type SecurityConfig struct {
	JWTSecret          string
	StateSecret        string
	TokenEncryptionKey []byte
}

type WorkerConfig struct {
	Concurrency      int
	SchedulerEnabled bool
}

type RetentionConfig struct {
	AuditLogDays int
}

// ProviderLimits are outbound request caps. Zero keeps the built-in default.
type ProviderLimits struct {
	AppPerSecond  int
	UserPerSecond int
	AppPerMinute  int
	UserPerMinute int
}

type RateLimitConfig struct {
	Google    ProviderLimits
	Microsoft ProviderLimits
	CalDAV    ProviderLimits
}

type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

var (
	mu       sync.RWMutex
	instance *Config
)

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	key, err := decodeKey(v.GetString("TOKEN_ENCRYPTION_KEY"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Name:     v.GetString("APP_NAME"),
			Env:      v.GetString("APP_ENV"),
			Port:     v.GetInt("APP_PORT"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DATABASE_HOST"),
			Port:     v.GetInt("DATABASE_PORT"),
			User:     v.GetString("DATABASE_USER"),
			Password: v.GetString("DATABASE_PASSWORD"),
			Name:     v.GetString("DATABASE_NAME"),
			SSLMode:  v.GetString("DATABASE_SSLMODE"),
		},
		Redis: RedisConfig{
			URL: v.GetString("REDIS_URL"),
		},
		GoogleAPI: OAuthProviderConfig{
			ClientID:     v.GetString("GOOGLE_CLIENT_ID"),
			ClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
			RedirectURI:  v.GetString("GOOGLE_REDIRECT_URI"),
		},
		Microsoft: MicrosoftConfig{
			OAuthProviderConfig: OAuthProviderConfig{
				ClientID:     v.GetString("MICROSOFT_CLIENT_ID"),
				ClientSecret: v.GetString("MICROSOFT_CLIENT_SECRET"),
				RedirectURI:  v.GetString("MICROSOFT_REDIRECT_URI"),
			},
			Tenant: v.GetString("MICROSOFT_TENANT"),
		},
		Webhook: WebhookConfig{
			BaseURL: strings.TrimRight(v.GetString("WEBHOOK_BASE_URL"), "/"),
		},
		Security: SecurityConfig{
			JWTSecret:          v.GetString("JWT_SECRET"),
			StateSecret:        v.GetString("STATE_SECRET"),
			TokenEncryptionKey: key,
		},
		Worker: WorkerConfig{
			Concurrency:      v.GetInt("WORKER_CONCURRENCY"),
			SchedulerEnabled: v.GetBool("SCHEDULER_ENABLED"),
		},
		Retention: RetentionConfig{
			AuditLogDays: v.GetInt("AUDIT_LOG_RETENTION_DAYS"),
		},
		Archive: ArchiveConfig{
			Bucket:          v.GetString("AUDIT_ARCHIVE_BUCKET"),
			Region:          v.GetString("AWS_REGION"),
			Endpoint:        v.GetString("AWS_ENDPOINT_URL"),
			AccessKeyID:     v.GetString("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
		},
		RateLimit: RateLimitConfig{
			Google:    providerLimits(v, "GOOGLE"),
			Microsoft: providerLimits(v, "MICROSOFT"),
			CalDAV:    providerLimits(v, "CALDAV"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	mu.Lock()
	instance = cfg
	mu.Unlock()
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "calendar-sync")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_PORT", 7070)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("MICROSOFT_TENANT", "common")
	v.SetDefault("WORKER_CONCURRENCY", 10)
	v.SetDefault("SCHEDULER_ENABLED", true)
	v.SetDefault("AUDIT_LOG_RETENTION_DAYS", 90)
	v.SetDefault("AWS_REGION", "us-east-1")
}

func providerLimits(v *viper.Viper, prefix string) ProviderLimits {
	key := func(suffix string) string { return "RATE_LIMIT_" + prefix + "_" + suffix }
	return ProviderLimits{
		AppPerSecond:  v.GetInt(key("APP_PER_SECOND")),
		UserPerSecond: v.GetInt(key("USER_PER_SECOND")),
		AppPerMinute:  v.GetInt(key("APP_PER_MINUTE")),
		UserPerMinute: v.GetInt(key("USER_PER_MINUTE")),
	}
}

func decodeKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must decode to at least 32 bytes")
	}
	return key, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.Database.User == "" {
		missing = append(missing, "DATABASE_USER")
	}
	if c.Database.Name == "" {
		missing = append(missing, "DATABASE_NAME")
	}
	if c.Security.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Security.StateSecret == "" {
		missing = append(missing, "STATE_SECRET")
	}
	if c.Webhook.BaseURL == "" {
		missing = append(missing, "WEBHOOK_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

func GetSafe() (*Config, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return instance, instance != nil
}
