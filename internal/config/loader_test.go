package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dishfinder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr string
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name:  "returns defaults when no overrides",
			setup: func(t *testing.T) []string { return nil },
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, DefaultConfig(), cfg)
				require.Equal(t, "0.0.0.0:8000", cfg.Server.ListenAddr())
				require.Equal(t, 300*time.Second, cfg.Automation.Timeout())
				require.Equal(t, time.Hour, cfg.Cache.TTL())
				require.Equal(t, 24*time.Hour, cfg.Cache.Redis.Retention())
			},
		},
		{
			name: "merges file overrides",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "server:\n  port: 9090\nscrape:\n  max_restaurants: 5\ncache:\n  backend: redis\n  redis:\n    address: redis:6379\n")}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Server.Port)
				require.Equal(t, 5, cfg.Scrape.MaxRestaurants)
				require.Equal(t, 3, cfg.Scrape.MaxDishesPerRestaurant)
				require.Equal(t, CacheBackendRedis, cfg.Cache.Backend)
				require.Equal(t, "redis:6379", cfg.Cache.Redis.Address)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				t.Setenv("DISHFINDER_SERVER__PORT", "9091")
				t.Setenv("DISHFINDER_AUTOMATION__API_KEY", "secret")
				t.Setenv("DISHFINDER_CACHE__REDIS__RETENTION_SECONDS", "60")
				t.Setenv("DISHFINDER_LOGGING__PRETTY", "true")
				t.Setenv("DISHFINDER_PROXY__SERVERS", "http://a:1,http://b:2")
				return []string{writeFile(t, "server:\n  port: 9090\n")}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Server.Port)
				require.Equal(t, "secret", cfg.Automation.APIKey)
				require.Equal(t, 60, cfg.Cache.Redis.RetentionSeconds)
				require.True(t, cfg.Logging.Pretty)
				require.Equal(t, "http://a:1,http://b:2", cfg.Proxy.Servers)
			},
		},
		{
			name: "missing file fails",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "absent.yaml")}
			},
			wantErr: "not found",
		},
		{
			name: "invalid yaml fails",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "server: [\n")}
			},
			wantErr: "load file",
		},
		{
			name: "validation runs after merge",
			setup: func(t *testing.T) []string {
				t.Setenv("DISHFINDER_CACHE__BACKEND", "memcached")
				return nil
			},
			wantErr: "cache.backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := tt.setup(t)
			cfg, err := NewLoader(DefaultEnvPrefix, files...).Load(context.Background())
			if tt.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.assert(t, cfg)
		})
	}
}

func TestLoader_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader(DefaultEnvPrefix, writeFile(t, "server:\n  port: 1\n")).Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoader_IgnoresForeignEnv(t *testing.T) {
	t.Setenv("OTHER_SERVER__PORT", "1234")
	cfg, err := NewLoader(DefaultEnvPrefix).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 8000, cfg.Server.Port)
}
