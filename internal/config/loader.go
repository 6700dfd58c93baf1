package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "DISHFINDER"

// Loader builds the configuration with env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a loader. Empty file paths are ignored.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load merges defaults, files and environment, then validates the result.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Config{}, err
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		prefix := l.envPrefix + "_"
		transform := func(s string) string {
			// Double underscores separate sections: CACHE__REDIS__ADDRESS -> cache.redis.address.
			key := strings.TrimPrefix(s, prefix)
			key = strings.ReplaceAll(key, "__", ".")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(prefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// structToMap converts DefaultConfig into a map for the confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"address": cfg.Server.Address,
			"port":    cfg.Server.Port,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"pretty": cfg.Logging.Pretty,
		},
		"automation": map[string]any{
			"base_url":        cfg.Automation.BaseURL,
			"api_key":         cfg.Automation.APIKey,
			"browser_profile": cfg.Automation.BrowserProfile,
			"timeout_seconds": cfg.Automation.TimeoutSeconds,
			"site_url":        cfg.Automation.SiteURL,
		},
		"proxy": map[string]any{
			"servers":      cfg.Proxy.Servers,
			"country_code": cfg.Proxy.CountryCode,
		},
		"scrape": map[string]any{
			"max_restaurants":           cfg.Scrape.MaxRestaurants,
			"max_dishes_per_restaurant": cfg.Scrape.MaxDishesPerRestaurant,
			"fallback_concurrency":      cfg.Scrape.FallbackConcurrency,
		},
		"cache": map[string]any{
			"backend":     cfg.Cache.Backend,
			"ttl_seconds": cfg.Cache.TTLSeconds,
			"redis": map[string]any{
				"address":           cfg.Cache.Redis.Address,
				"password":          cfg.Cache.Redis.Password,
				"db":                cfg.Cache.Redis.DB,
				"retention_seconds": cfg.Cache.Redis.RetentionSeconds,
			},
		},
		"storage": map[string]any{
			"path": cfg.Storage.Path,
		},
	}
}
