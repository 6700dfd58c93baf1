// Command dish-finder serves restaurant and popular-dish searches over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yash-kalathiya/food-spotz/internal/api"
	"github.com/yash-kalathiya/food-spotz/internal/config"
	"github.com/yash-kalathiya/food-spotz/pkg/automation"
	"github.com/yash-kalathiya/food-spotz/pkg/cache"
	"github.com/yash-kalathiya/food-spotz/pkg/goal"
	"github.com/yash-kalathiya/food-spotz/pkg/logging"
	"github.com/yash-kalathiya/food-spotz/pkg/parser"
	"github.com/yash-kalathiya/food-spotz/pkg/proxy"
	"github.com/yash-kalathiya/food-spotz/pkg/scrape"
	"github.com/yash-kalathiya/food-spotz/pkg/search"
	"github.com/yash-kalathiya/food-spotz/pkg/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "dish-finder: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("dish-finder", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML config file")
	envPrefix := fs.String("env-prefix", config.DefaultEnvPrefix, "environment variable prefix")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.NewLoader(*envPrefix, *configPath).Load(ctx)
	if err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: stderr,
	})

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := api.NewServer(cfg.Server.ListenAddr(), a.handler, logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// app is the wired service graph.
type app struct {
	handler http.Handler
	closers []func() error
	logger  zerolog.Logger
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("Shutdown cleanup failed")
		}
	}
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if strings.TrimSpace(cfg.Automation.APIKey) == "" {
		return nil, errors.New("automation.api_key is required (set DISHFINDER_AUTOMATION__API_KEY)")
	}

	store, err := storage.Open(ctx, cfg.Storage.Path, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	checks := map[string]api.Pinger{"storage": store}

	var backend cache.Backend = store
	if cfg.Cache.Backend == config.CacheBackendRedis {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		a.closers = append(a.closers, redisClient.Close)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Cache.Redis.Address, err)
		}
		redisBackend := cache.NewRedisBackend(redisClient, cfg.Cache.Redis.Retention())
		backend = redisBackend
		checks["cache"] = redisBackend
	}
	gate := cache.NewGate(backend, cfg.Cache.TTL(), cache.WithLogger(logger))

	proxies := proxy.NewSelector(proxy.Config{
		Servers:     proxy.ParseList(cfg.Proxy.Servers),
		CountryCode: cfg.Proxy.CountryCode,
	}, logger)

	runner, err := automation.New(automation.Config{
		BaseURL:        cfg.Automation.BaseURL,
		APIKey:         cfg.Automation.APIKey,
		BrowserProfile: cfg.Automation.BrowserProfile,
		Timeout:        cfg.Automation.Timeout(),
	}, proxies, logger)
	if err != nil {
		return nil, fmt.Errorf("automation client: %w", err)
	}

	goals, err := goal.NewCompiler(goal.Config{
		SiteURL:        cfg.Automation.SiteURL,
		MaxRestaurants: cfg.Scrape.MaxRestaurants,
		MaxDishes:      cfg.Scrape.MaxDishesPerRestaurant,
	})
	if err != nil {
		return nil, err
	}

	p := parser.New(parser.Config{
		MaxRestaurants: cfg.Scrape.MaxRestaurants,
		MaxDishes:      cfg.Scrape.MaxDishesPerRestaurant,
	}, logger)

	orchestrator := scrape.New(runner, goals, scrape.Config{
		FallbackConcurrency: cfg.Scrape.FallbackConcurrency,
	}, logger)

	svc := search.New(orchestrator, p, store, gate, search.Config{
		SourceURL: cfg.Automation.SiteURL,
		CacheTTL:  cfg.Cache.TTL(),
	}, logger)

	a.handler = api.NewRouter(&api.Handlers{
		Search: svc,
		Checks: checks,
		Logger: logger.With().Str("component", "api").Logger(),
	})

	logger.Info().
		Str("cache_backend", cfg.Cache.Backend).
		Str("storage", cfg.Storage.Path).
		Int("proxies", proxies.Size()).
		Int("fallback_concurrency", cfg.Scrape.FallbackConcurrency).
		Msg("Dish finder wired")
	return a, nil
}
