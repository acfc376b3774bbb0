package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Embedding  EmbeddingConfig
	Cache      CacheConfig
	Compliance ComplianceConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     int
	WriteTimeout    int
	BodyLimit       int
	MaxObservations int
	AllowedOrigins  []string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// EmbeddingConfig selects the similarity backend. "lexical" needs no network.
type EmbeddingConfig struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	TimeoutSec int
	BatchSize  int
}

type CacheConfig struct {
	Backend string
	Size    int
	TTLSec  int
}

type ComplianceConfig struct {
	Threshold float64
	Workers   int
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads config from path (or the default search paths when empty),
// environment variables prefixed SOP_MONITOR_ and defaults, then validates.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/sop-monitor")
	}

	v.SetEnvPrefix("SOP_MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Compliance.Threshold <= 0 || c.Compliance.Threshold >= 1 {
		return fmt.Errorf("%w: compliance.threshold must be in (0, 1), got %v", ErrInvalidConfig, c.Compliance.Threshold)
	}
	if c.Compliance.Workers < 1 {
		return fmt.Errorf("%w: compliance.workers must be at least 1, got %d", ErrInvalidConfig, c.Compliance.Workers)
	}

	switch c.Embedding.Provider {
	case "lexical":
	case "openai":
		if c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
			return fmt.Errorf("%w: embedding.apiKey is required for the openai provider", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown embedding.provider %q", ErrInvalidConfig, c.Embedding.Provider)
	}

	switch c.Cache.Backend {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("%w: unknown cache.backend %q", ErrInvalidConfig, c.Cache.Backend)
	}
	if c.Cache.Backend == "memory" && c.Cache.Size < 1 {
		return fmt.Errorf("%w: cache.size must be positive", ErrInvalidConfig)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.maxObservations", 5000)
	v.SetDefault("server.allowedOrigins", []string{})

	v.SetDefault("sqlite.path", "./data/sops.db")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("embedding.provider", "lexical")
	v.SetDefault("embedding.apiKey", "")
	v.SetDefault("embedding.baseURL", "")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.timeoutSec", 15)
	v.SetDefault("embedding.batchSize", 100)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.size", 4096)
	v.SetDefault("cache.ttlSec", 86400)

	v.SetDefault("compliance.threshold", 0.70)
	v.SetDefault("compliance.workers", 1)

	v.SetDefault("rateLimit.requestsPerMinute", 120)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
