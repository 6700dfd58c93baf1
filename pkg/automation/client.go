// Package automation provides the streaming client for the browser
// automation backend.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/yash-kalathiya/food-spotz/pkg/goal"
	"github.com/yash-kalathiya/food-spotz/pkg/metrics"
	"github.com/yash-kalathiya/food-spotz/pkg/proxy"
)

// Prometheus metrics for automation runs.
var (
	automationRunsTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "dishfinder_automation_runs_total",
		Help: "Total automation runs by goal kind and outcome",
	}, []string{"kind", "outcome"})

	automationRunDuration = promauto.With(metrics.Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dishfinder_automation_run_duration_seconds",
		Help:    "Automation run duration in seconds by goal kind",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	}, []string{"kind"})

	automationEventsTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "dishfinder_automation_events_total",
		Help: "Total decoded stream events by type",
	}, []string{"type"})
)

const (
	// DefaultBaseURL is the hosted automation API.
	DefaultBaseURL = "https://mino.ai/v1"

	// DefaultBrowserProfile asks the backend for its stealth browser.
	DefaultBrowserProfile = "stealth"

	// DefaultTimeout bounds one automation run.
	DefaultTimeout = 300 * time.Second

	runPath = "/automation/run-sse"

	outcomeCompleted = "completed"
	outcomeCanceled  = "canceled"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the automation API, without the run path.
	BaseURL string

	// APIKey is sent as X-API-Key.
	APIKey string

	// BrowserProfile is forwarded as browser_profile.
	BrowserProfile string

	// Timeout bounds a whole run including the stream.
	Timeout time.Duration

	// HTTPClient overrides the transport. It must not set a Timeout shorter
	// than a run.
	HTTPClient *http.Client
}

// DefaultConfig returns the hosted backend configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		APIKey:         apiKey,
		BrowserProfile: DefaultBrowserProfile,
		Timeout:        DefaultTimeout,
	}
}

// Client runs goals against the automation backend.
type Client struct {
	httpClient *http.Client
	config     Config
	proxies    *proxy.Selector
	logger     zerolog.Logger
}

type runRequest struct {
	URL            string            `json:"url"`
	Goal           string            `json:"goal"`
	BrowserProfile string            `json:"browser_profile"`
	ProxyConfig    proxy.ProxyConfig `json:"proxy_config"`
}

// New creates a client. A nil selector uses the country-code egress.
func New(cfg Config, proxies *proxy.Selector, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}
	if cfg.BrowserProfile == "" {
		cfg.BrowserProfile = DefaultBrowserProfile
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	logger = logger.With().Str("component", "automation").Logger()
	if proxies == nil {
		proxies = proxy.NewSelector(proxy.Config{}, logger)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
		proxies:    proxies,
		logger:     logger,
	}, nil
}

// Run executes g and blocks until the backend delivers a result, reports an
// error, or the stream ends. PROGRESS events are passed to onProgress as they
// arrive; onProgress may be nil. Run does not retry.
func (c *Client) Run(ctx context.Context, g goal.Goal, onProgress func(Event)) (json.RawMessage, error) {
	kind := string(g.Kind)
	startTime := time.Now()
	defer func() {
		automationRunDuration.WithLabelValues(kind).Observe(time.Since(startTime).Seconds())
	}()

	result, err := c.run(ctx, g, onProgress)
	if err != nil {
		if ctx.Err() != nil {
			automationRunsTotal.WithLabelValues(kind, outcomeCanceled).Inc()
			return nil, ctx.Err()
		}
		outcome := string(ErrorClassUnavailable)
		var be *BackendError
		if errors.As(err, &be) {
			outcome = string(be.Class)
		}
		automationRunsTotal.WithLabelValues(kind, outcome).Inc()
		c.logger.Warn().Err(err).Str("kind", kind).Dur("elapsed", time.Since(startTime)).Msg("Automation run failed")
		return nil, err
	}

	automationRunsTotal.WithLabelValues(kind, outcomeCompleted).Inc()
	c.logger.Info().
		Str("kind", kind).
		Int("bytes", len(result)).
		Dur("elapsed", time.Since(startTime)).
		Msg("Automation run completed")
	return result, nil
}

func (c *Client) run(ctx context.Context, g goal.Goal, onProgress func(Event)) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	body, err := json.Marshal(runRequest{
		URL:            g.URL,
		Goal:           g.Text,
		BrowserProfile: c.config.BrowserProfile,
		ProxyConfig:    c.proxies.Select(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+runPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build run request: %w", err)
	}
	req.Header.Set("X-API-Key", c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	c.logger.Debug().Str("kind", string(g.Kind)).Str("url", g.URL).Msg("Starting automation run")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &BackendError{
			Class:   ErrorClassUnavailable,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &BackendError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassUnavailable,
			Message:    strings.TrimSpace(string(snippet)),
		}
	}

	dec := NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return nil, &BackendError{
				StatusCode: resp.StatusCode,
				Class:      ErrorClassUnavailable,
				Message:    "stream interrupted",
				Err:        err,
			}
		}

		automationEventsTotal.WithLabelValues(string(ev.Type)).Inc()
		c.logger.Debug().
			Str("type", string(ev.Type)).
			Str("run_id", ev.RunID).
			Str("text", ev.Text()).
			Msg("Automation event")

		switch ev.Type {
		case EventProgress:
			if onProgress != nil {
				onProgress(ev)
			}
		case EventError:
			msg := ev.Message
			if msg == "" {
				msg = "unknown backend error"
			}
			return nil, &BackendError{
				StatusCode: resp.StatusCode,
				Class:      ErrorClassReported,
				Message:    msg,
			}
		case EventComplete:
			if payload := ev.Payload(); payload != nil {
				return payload, nil
			}
			c.logger.Debug().Str("status", ev.Status).Msg("COMPLETE without result, continuing")
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &BackendError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassUnavailable,
			Message:    "stream interrupted",
			Err:        ctxErr,
		}
	}
	if skipped := dec.Skipped(); skipped > 0 {
		c.logger.Debug().Int("skipped", skipped).Msg("Skipped malformed stream lines")
	}
	return nil, &BackendError{
		StatusCode: resp.StatusCode,
		Class:      ErrorClassNoResult,
		Message:    "stream ended without a result",
		Err:        ErrNoResult,
	}
}
