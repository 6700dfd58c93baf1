// Package scrape orchestrates a discovery run followed by per-restaurant
// fallback runs for restaurants that came back without dishes.
package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"

	"github.com/yash-kalathiya/food-spotz/pkg/automation"
	"github.com/yash-kalathiya/food-spotz/pkg/goal"
	"github.com/yash-kalathiya/food-spotz/pkg/metrics"
	"github.com/yash-kalathiya/food-spotz/pkg/parser"
)

// Prometheus metrics for orchestrations.
var (
	scrapesTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "dishfinder_scrapes_total",
		Help: "Total scrape orchestrations by outcome",
	}, []string{"outcome"})

	fallbacksTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "dishfinder_fallbacks_total",
		Help: "Total per-restaurant fallback runs by outcome",
	}, []string{"outcome"})
)

// ErrEmptyDiscovery is returned when discovery yields no restaurants.
var ErrEmptyDiscovery = errors.New("no restaurants found")

// Progress messages emitted by the orchestrator.
const (
	MsgSearching  = "Searching for top restaurants with popular dishes on OpenTable..."
	MsgProcessing = "Processing results..."

	unknownName = "Unknown"
)

// State is an orchestration phase.
type State string

const (
	StateStarted     State = "STARTED"
	StateDiscovering State = "DISCOVERING"
	StateFallback    State = "FALLBACK"
	StateCompleting  State = "COMPLETING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Query identifies one scrape.
type Query struct {
	Cuisine  string
	Location string
	Mealtime string
}

// Runner executes a single automation goal.
type Runner interface {
	Run(ctx context.Context, g goal.Goal, onProgress func(automation.Event)) (json.RawMessage, error)
}

// Config holds orchestration settings.
type Config struct {
	// FallbackConcurrency bounds parallel fallback runs. 1 runs them in order.
	FallbackConcurrency int
}

// Orchestrator drives one scrape per call. Safe for concurrent use.
type Orchestrator struct {
	runner Runner
	goals  *goal.Compiler
	cfg    Config
	logger zerolog.Logger
}

// New creates an orchestrator.
func New(runner Runner, goals *goal.Compiler, cfg Config, logger zerolog.Logger) *Orchestrator {
	if runner == nil {
		panic("scrape: runner is required")
	}
	if goals == nil {
		panic("scrape: goal compiler is required")
	}
	if cfg.FallbackConcurrency < 1 {
		cfg.FallbackConcurrency = 1
	}
	return &Orchestrator{
		runner: runner,
		goals:  goals,
		cfg:    cfg,
		logger: logger.With().Str("component", "scrape").Logger(),
	}
}

// run carries the state of one orchestration.
type run struct {
	o      *Orchestrator
	q      Query
	logger zerolog.Logger
	state  State

	mu   sync.Mutex
	emit func(automation.Event)
}

func (r *run) transition(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Debug().Str("from", string(r.state)).Str("to", string(s)).Msg("State transition")
	r.state = s
}

func (r *run) send(ev automation.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit(ev)
}

func (r *run) progress(msg string) {
	r.send(automation.Event{Type: automation.EventProgress, Purpose: msg})
}

// Run performs the scrape. Events are passed to emit in order, ending with
// exactly one COMPLETE or ERROR. emit may be nil. The returned payload has
// the shape {"restaurants": [...]}.
func (o *Orchestrator) Run(ctx context.Context, q Query, emit func(automation.Event)) (json.RawMessage, error) {
	if emit == nil {
		emit = func(automation.Event) {}
	}
	r := &run{
		o: o,
		q: q,
		logger: o.logger.With().
			Str("cuisine", q.Cuisine).
			Str("location", q.Location).
			Str("mealtime", q.Mealtime).
			Logger(),
		state: StateStarted,
		emit:  emit,
	}

	r.logger.Info().Msg("Starting scrape")
	r.progress(MsgSearching)

	result, err := r.execute(ctx)
	if err != nil {
		r.transition(StateFailed)
		outcome := "failed"
		switch {
		case errors.Is(err, ErrEmptyDiscovery):
			outcome = "empty"
		case ctx.Err() != nil:
			outcome = "canceled"
		}
		scrapesTotal.WithLabelValues(outcome).Inc()
		r.logger.Error().Err(err).Msg("Scrape failed")
		r.send(automation.Event{Type: automation.EventError, Message: errorMessage(err)})
		return nil, err
	}

	r.send(automation.Event{
		Type:   automation.EventComplete,
		Status: automation.StatusCompleted,
		Result: result,
	})
	r.transition(StateDone)
	scrapesTotal.WithLabelValues("completed").Inc()
	r.logger.Info().Msg("Scrape completed")
	return result, nil
}

func (r *run) execute(ctx context.Context) (json.RawMessage, error) {
	restaurants, err := r.discover(ctx)
	if err != nil {
		return nil, err
	}

	r.progress(fmt.Sprintf("Found %d restaurants with their popular dishes!", len(restaurants)))

	if err := r.fillMissingDishes(ctx, restaurants); err != nil {
		return nil, err
	}

	r.transition(StateCompleting)
	r.progress(MsgProcessing)

	result := []byte(`{"restaurants":[]}`)
	for _, item := range restaurants {
		if result, err = sjson.SetRawBytes(result, "restaurants.-1", item); err != nil {
			return nil, fmt.Errorf("assemble result: %w", err)
		}
	}
	return result, nil
}

// discover runs the discovery goal and returns up to MaxRestaurants raw
// restaurant objects. Backend progress is forwarded as it arrives.
func (r *run) discover(ctx context.Context) ([][]byte, error) {
	r.transition(StateDiscovering)

	g, err := r.o.goals.Discovery(r.q.Cuisine, r.q.Location, r.q.Mealtime)
	if err != nil {
		return nil, err
	}

	raw, err := r.o.runner.Run(ctx, g, func(ev automation.Event) {
		r.send(automation.Event{Type: automation.EventProgress, Purpose: ev.Text(), RunID: ev.RunID})
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}

	items := parser.ExtractRestaurants(raw)
	items = items[:min(len(items), r.o.goals.Config().MaxRestaurants)]
	var restaurants [][]byte
	for i, item := range items {
		if !item.IsObject() {
			r.logger.Warn().Int("index", i).Msg("Skipping non-object restaurant entry")
			continue
		}
		restaurants = append(restaurants, []byte(item.Raw))
	}

	if len(restaurants) == 0 {
		return nil, ErrEmptyDiscovery
	}
	r.logger.Info().Int("restaurants", len(restaurants)).Msg("Discovery finished")
	return restaurants, nil
}

// fillMissingDishes runs a fallback for every restaurant without dishes and
// patches the result into restaurants in place. Fallback failures leave an
// empty dish list. Only cancellation is returned.
func (r *run) fillMissingDishes(ctx context.Context, restaurants [][]byte) error {
	total := len(restaurants)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.o.cfg.FallbackConcurrency)

	for i := range restaurants {
		if hasDishes(restaurants[i]) {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}

		name := gjson.GetBytes(restaurants[i], "name").String()
		if strings.TrimSpace(name) == "" {
			name = unknownName
		}

		eg.Go(func() error {
			if egCtx.Err() != nil {
				return nil
			}
			r.transition(State(fmt.Sprintf("%s_%d", StateFallback, i+1)))
			r.progress(fmt.Sprintf("Fetching dishes for %s (%d/%d)...", name, i+1, total))

			dishes := r.fallback(egCtx, name)
			patched, err := sjson.SetRawBytes(restaurants[i], "popular_dishes", dishes)
			if err != nil {
				r.logger.Warn().Err(err).Str("restaurant", name).Msg("Failed to patch dishes")
				return nil
			}
			restaurants[i] = patched
			return nil
		})
	}

	_ = eg.Wait()
	return ctx.Err()
}

// fallback fetches dishes for one restaurant and returns a JSON array.
func (r *run) fallback(ctx context.Context, name string) []byte {
	logger := r.logger.With().Str("restaurant", name).Logger()

	g, err := r.o.goals.Fallback(name, r.q.Location)
	if err != nil {
		fallbacksTotal.WithLabelValues("failed").Inc()
		logger.Warn().Err(err).Msg("Failed to build fallback goal")
		return []byte(`[]`)
	}

	raw, err := r.o.runner.Run(ctx, g, func(ev automation.Event) {
		logger.Debug().Str("purpose", ev.Text()).Msg("Fallback progress")
	})
	if err != nil {
		if ctx.Err() != nil {
			return []byte(`[]`)
		}
		fallbacksTotal.WithLabelValues("failed").Inc()
		logger.Warn().Err(err).Msg("Fallback failed, keeping empty dish list")
		return []byte(`[]`)
	}

	dishes := fallbackDishes(raw, r.o.goals.Config().MaxDishes)
	outcome := "completed"
	if len(dishes) == 0 {
		outcome = "empty"
	}
	fallbacksTotal.WithLabelValues(outcome).Inc()
	logger.Info().Int("dishes", len(dishes)).Msg("Fallback finished")

	out := []byte(`[]`)
	for _, d := range dishes {
		out, _ = sjson.SetRawBytes(out, "-1", []byte(d.Raw))
	}
	return out
}

// fallbackDishes returns up to limit entries of popular_dishes, looking at the
// top level first and then inside an output envelope.
func fallbackDishes(raw []byte, limit int) []gjson.Result {
	for _, path := range []string{"popular_dishes", "output.popular_dishes"} {
		res := gjson.GetBytes(raw, path)
		if !res.IsArray() {
			continue
		}
		items := res.Array()
		if len(items) == 0 {
			continue
		}
		if len(items) > limit {
			items = items[:limit]
		}
		return items
	}
	return nil
}

func hasDishes(restaurant []byte) bool {
	res := gjson.GetBytes(restaurant, "popular_dishes")
	return res.IsArray() && len(res.Array()) > 0
}

// errorMessage renders err for a terminal ERROR event.
func errorMessage(err error) string {
	if errors.Is(err, ErrEmptyDiscovery) {
		return "No restaurants found"
	}
	var be *automation.BackendError
	if automation.IsClass(err, automation.ErrorClassReported) && errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return err.Error()
}

// Stream runs the scrape in a goroutine and returns its events. The channel
// is closed after the terminal event, or early when ctx is done.
func (o *Orchestrator) Stream(ctx context.Context, q Query) <-chan automation.Event {
	ch := make(chan automation.Event, 16)
	go func() {
		defer close(ch)
		_, _ = o.Run(ctx, q, func(ev automation.Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		})
	}()
	return ch
}
