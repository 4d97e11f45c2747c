// Package config loads the entityroutes configuration from entityroutes.yml (or .yaml)
// and ENTITYROUTES_* environment variables, e.g. ENTITYROUTES_SERVER_PORT=8080.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conduit-lang/entityroutes/internal/orm/decorator"
	"github.com/conduit-lang/entityroutes/internal/orm/relation"
)

// EnvPrefix prefixes the environment variables overriding the config file
const EnvPrefix = "ENTITYROUTES"

// Cache and rate limit drivers
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config represents the entityroutes configuration
type Config struct {
	Server    ServerConfig             `mapstructure:"server"`
	Database  DatabaseConfig           `mapstructure:"database"`
	Mapping   relation.MaxDepthOptions `mapstructure:"mapping"`
	Writer    decorator.WriterOptions  `mapstructure:"writer"`
	Cache     CacheConfig              `mapstructure:"cache"`
	RateLimit RateLimitConfig          `mapstructure:"rate_limit"`
	Log       LogConfig                `mapstructure:"log"`

	// Debug discloses error messages in responses
	Debug bool `mapstructure:"debug"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	APIPrefix       string        `mapstructure:"api_prefix"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns host:port
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	// Driver is a database/sql driver name: pgx, postgres or sqlite3
	Driver       string `mapstructure:"driver"`
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// CacheConfig represents the read cache configuration
type CacheConfig struct {
	Driver        string        `mapstructure:"driver"`
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// RateLimitConfig represents the per-client request limit. The redis driver
// shares the cache.redis_* connection settings.
type RateLimitConfig struct {
	Driver string        `mapstructure:"driver"`
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load loads the configuration. An empty path looks for entityroutes.yml or
// entityroutes.yaml in the working directory and falls back to the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("entityroutes")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.Writer.APIPrefix = config.Server.APIPrefix

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// SetDefaults registers the default of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.api_prefix", "/api")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)

	defaults := relation.DefaultMaxDepthOptions()
	v.SetDefault("mapping.default_max_depth_lvl", defaults.DefaultMaxDepthLvl)
	v.SetDefault("mapping.max_depth_enabled_by_default", defaults.IsMaxDepthEnabledByDefault)
	v.SetDefault("mapping.should_max_depth_return_relation_props_id", defaults.ShouldMaxDepthReturnRelationPropsID)

	writer := decorator.DefaultWriterOptions()
	v.SetDefault("writer.should_set_subresources_iri", writer.ShouldSetSubresourcesIRI)
	v.SetDefault("writer.should_flatten_iri", writer.ShouldFlattenIRI)
	v.SetDefault("writer.should_only_flatten_nested", writer.ShouldOnlyFlattenNested)
	v.SetDefault("writer.sort_keys", writer.SortKeys)

	v.SetDefault("cache.driver", CacheNone)
	v.SetDefault("cache.ttl", time.Minute)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("rate_limit.driver", CacheNone)
	v.SetDefault("rate_limit.limit", 100)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if prefix := c.Server.APIPrefix; prefix != "" {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("server.api_prefix must start with '/', got: %s", prefix)
		}
		if strings.HasSuffix(prefix, "/") {
			return fmt.Errorf("server.api_prefix must not end with '/', got: %s", prefix)
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "pgx", "postgres", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be one of pgx, postgres, sqlite3, got: %s", c.Database.Driver)
	}

	switch c.Cache.Driver {
	case CacheNone, CacheMemory, CacheRedis:
	default:
		return fmt.Errorf("cache.driver must be one of none, memory, redis, got: %s", c.Cache.Driver)
	}

	switch c.RateLimit.Driver {
	case CacheNone:
	case CacheMemory, CacheRedis:
		if c.RateLimit.Limit < 1 || c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate_limit needs a positive limit and window, got: %d per %s", c.RateLimit.Limit, c.RateLimit.Window)
		}
	default:
		return fmt.Errorf("rate_limit.driver must be one of none, memory, redis, got: %s", c.RateLimit.Driver)
	}

	if c.Mapping.DefaultMaxDepthLvl < 1 {
		return fmt.Errorf("mapping.default_max_depth_lvl must be at least 1, got: %d", c.Mapping.DefaultMaxDepthLvl)
	}
	return nil
}
