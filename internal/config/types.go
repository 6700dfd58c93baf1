// Package config loads the dish-finder runtime configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Cache backends.
const (
	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
)

// Config is the immutable runtime configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Automation AutomationConfig `koanf:"automation"`
	Proxy      ProxyConfig      `koanf:"proxy"`
	Scrape     ScrapeConfig     `koanf:"scrape"`
	Cache      CacheConfig      `koanf:"cache"`
	Storage    StorageConfig    `koanf:"storage"`
}

// ServerConfig holds the HTTP listener.
type ServerConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// ListenAddr returns host:port.
func (s ServerConfig) ListenAddr() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// LoggingConfig holds log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// AutomationConfig points at the browser automation backend.
type AutomationConfig struct {
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	BrowserProfile string `koanf:"browser_profile"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
	SiteURL        string `koanf:"site_url"`
}

// Timeout returns the per-run timeout.
func (a AutomationConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// ProxyConfig holds the egress proxy pool.
type ProxyConfig struct {
	// Servers is a comma-separated list of proxy URLs.
	Servers     string `koanf:"servers"`
	CountryCode string `koanf:"country_code"`
}

// ScrapeConfig holds the result caps.
type ScrapeConfig struct {
	MaxRestaurants         int `koanf:"max_restaurants"`
	MaxDishesPerRestaurant int `koanf:"max_dishes_per_restaurant"`
	FallbackConcurrency    int `koanf:"fallback_concurrency"`
}

// CacheConfig selects and configures the cache gate backend.
type CacheConfig struct {
	Backend    string           `koanf:"backend"`
	TTLSeconds int              `koanf:"ttl_seconds"`
	Redis      RedisCacheConfig `koanf:"redis"`
}

// TTL returns the cache time-to-live.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RedisCacheConfig configures the Redis backend.
type RedisCacheConfig struct {
	Address          string `koanf:"address"`
	Password         string `koanf:"password"`
	DB               int    `koanf:"db"`
	RetentionSeconds int    `koanf:"retention_seconds"`
}

// Retention returns how long expired entries stay in Redis.
func (r RedisCacheConfig) Retention() time.Duration {
	return time.Duration(r.RetentionSeconds) * time.Second
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `koanf:"path"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address: "0.0.0.0",
			Port:    8000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Automation: AutomationConfig{
			BaseURL:        "https://mino.ai/v1",
			BrowserProfile: "stealth",
			TimeoutSeconds: 300,
			SiteURL:        "https://www.opentable.com",
		},
		Proxy: ProxyConfig{
			CountryCode: "US",
		},
		Scrape: ScrapeConfig{
			MaxRestaurants:         3,
			MaxDishesPerRestaurant: 3,
			FallbackConcurrency:    1,
		},
		Cache: CacheConfig{
			Backend:    CacheBackendSQLite,
			TTLSeconds: 3600,
			Redis: RedisCacheConfig{
				Address:          "localhost:6379",
				RetentionSeconds: 86400,
			},
		},
		Storage: StorageConfig{
			Path: "./data/dishfinder.db",
		},
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535 (got %d)", c.Server.Port))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not supported", c.Logging.Level))
	}
	if strings.TrimSpace(c.Automation.BaseURL) == "" {
		errs = append(errs, errors.New("automation.base_url is required"))
	}
	if c.Automation.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("automation.timeout_seconds must be positive"))
	}
	if c.Scrape.MaxRestaurants <= 0 {
		errs = append(errs, errors.New("scrape.max_restaurants must be positive"))
	}
	if c.Scrape.MaxDishesPerRestaurant <= 0 {
		errs = append(errs, errors.New("scrape.max_dishes_per_restaurant must be positive"))
	}
	if c.Scrape.FallbackConcurrency <= 0 {
		errs = append(errs, errors.New("scrape.fallback_concurrency must be positive"))
	}
	if c.Cache.TTLSeconds <= 0 {
		errs = append(errs, errors.New("cache.ttl_seconds must be positive"))
	}
	switch c.Cache.Backend {
	case CacheBackendSQLite:
	case CacheBackendRedis:
		if strings.TrimSpace(c.Cache.Redis.Address) == "" {
			errs = append(errs, errors.New("cache.redis.address is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not supported (use sqlite or redis)", c.Cache.Backend))
	}
	if c.Cache.Redis.RetentionSeconds < 0 {
		errs = append(errs, errors.New("cache.redis.retention_seconds cannot be negative"))
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
