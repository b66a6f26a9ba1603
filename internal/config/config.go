package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Redis      RedisConfig
	NATS       NATSConfig
	JWT        JWTConfig
	Encryption EncryptionConfig
	Embedding  EmbeddingConfig
	Quota      QuotaConfig
	Gateway    GatewayConfig
	Providers  ProvidersConfig
	Log        LogConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	CORSAllowedOrigins []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL string
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
}

type EncryptionConfig struct {
	Key string
}

// EmbeddingConfig points at the external embedding backend.
type EmbeddingConfig struct {
	BaseURL   string
	APIKey    string
	ModelCode string
	Timeout   time.Duration
}

// QuotaConfig controls monthly token accounting.
type QuotaConfig struct {
	// WarningThreshold is the fraction of the monthly limit at which
	// Status reports a warning. The hard block stays at 100%.
	WarningThreshold         float64
	DefaultMonthlyTokenLimit int64
}

// GatewayConfig holds defaults applied when a provider row leaves
// timeout or retry fields unset.
type GatewayConfig struct {
	DefaultTimeout    time.Duration
	DefaultMaxRetries int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
}

// ProvidersConfig carries the platform's own API keys, used for official
// credential tiers. Keys are indexed by provider code and loaded from
// PROVIDER_KEY_<CODE> variables.
type ProvidersConfig struct {
	OfficialKeys map[string]string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               k.String("server.host"),
			Port:               k.Int("server.port"),
			CORSAllowedOrigins: k.Strings("server.cors.origins"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			AccessSecret: k.String("jwt.access.secret"),
		},
		Encryption: EncryptionConfig{
			Key: k.String("encryption.key"),
		},
		Embedding: EmbeddingConfig{
			BaseURL:   k.String("embedding.base.url"),
			APIKey:    k.String("embedding.api.key"),
			ModelCode: k.String("embedding.model"),
		},
		Quota: QuotaConfig{
			WarningThreshold:         k.Float64("quota.warning.threshold"),
			DefaultMonthlyTokenLimit: k.Int64("quota.default.monthly.limit"),
		},
		Gateway: GatewayConfig{
			DefaultMaxRetries: k.Int("gateway.max.retries"),
		},
		Providers: ProvidersConfig{
			OfficialKeys: k.StringMap("provider.key"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "clarity"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "clarity"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.ModelCode == "" {
		cfg.Embedding.ModelCode = "text-embedding-3-small"
	}
	if cfg.Quota.WarningThreshold == 0 {
		cfg.Quota.WarningThreshold = 0.8
	}
	if cfg.Quota.DefaultMonthlyTokenLimit == 0 {
		cfg.Quota.DefaultMonthlyTokenLimit = 1_000_000
	}
	if cfg.Gateway.DefaultMaxRetries == 0 {
		cfg.Gateway.DefaultMaxRetries = 3
	}
	cfg.Gateway.BackoffBase = 500 * time.Millisecond
	cfg.Gateway.BackoffCap = 30 * time.Second
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	accessExpStr := k.String("jwt.access.expiry")
	if accessExpStr == "" {
		accessExpStr = "15m"
	}
	cfg.JWT.AccessExpiry, err = time.ParseDuration(accessExpStr)
	if err != nil {
		return nil, fmt.Errorf("parsing jwt access expiry: %w", err)
	}

	embTimeoutStr := k.String("embedding.timeout")
	if embTimeoutStr == "" {
		embTimeoutStr = "30s"
	}
	cfg.Embedding.Timeout, err = time.ParseDuration(embTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("parsing embedding timeout: %w", err)
	}

	gwTimeoutStr := k.String("gateway.default.timeout")
	if gwTimeoutStr == "" {
		gwTimeoutStr = "60s"
	}
	cfg.Gateway.DefaultTimeout, err = time.ParseDuration(gwTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("parsing gateway default timeout: %w", err)
	}

	return cfg, nil
}
