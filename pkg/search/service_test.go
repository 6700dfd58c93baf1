package search

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/yash-kalathiya/food-spotz/pkg/automation"
	"github.com/yash-kalathiya/food-spotz/pkg/cache"
	"github.com/yash-kalathiya/food-spotz/pkg/goal"
	"github.com/yash-kalathiya/food-spotz/pkg/parser"
	"github.com/yash-kalathiya/food-spotz/pkg/scrape"
	"github.com/yash-kalathiya/food-spotz/pkg/storage"
)

const italianResult = `{"restaurants": [
	{"name": "Flour + Water", "address": "2401 Harrison St", "rating": 4.6, "review_count": 5120, "popular_dishes": ["Tajarin", "Pizza", "Gelato"]},
	{"name": "Cotogna", "address": "490 Pacific Ave", "popular_dishes": ["Raviolo"]}
]}`

type fakeScraper struct {
	mu     sync.Mutex
	calls  int
	result string
	err    error
}

func (f *fakeScraper) Run(_ context.Context, _ scrape.Query, emit func(automation.Event)) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if emit == nil {
		emit = func(automation.Event) {}
	}
	emit(automation.Event{Type: automation.EventProgress, Purpose: scrape.MsgSearching})
	if f.err != nil {
		emit(automation.Event{Type: automation.EventError, Message: f.err.Error()})
		return nil, f.err
	}
	emit(automation.Event{Type: automation.EventComplete, Status: automation.StatusCompleted, Result: json.RawMessage(f.result)})
	return json.RawMessage(f.result), nil
}

func (f *fakeScraper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *Service
	store   *storage.Store
	backend *cache.MemoryBackend
	clock   *clock
}

func newFixture(t *testing.T, scraper Scraper) *fixture {
	t.Helper()
	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "search.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clk := &clock{now: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
	backend := cache.NewMemoryBackend()
	gate := cache.NewGate(backend, time.Hour, cache.WithClock(clk.Now))

	svc := New(scraper, parser.New(parser.DefaultConfig(), zerolog.Nop()), store, gate,
		Config{SourceURL: goal.DefaultSiteURL, CacheTTL: time.Hour}, zerolog.Nop())
	svc.now = clk.Now
	return &fixture{svc: svc, store: store, backend: backend, clock: clk}
}

var italianQuery = Query{Mealtime: "dinner", Cuisine: "Italian", Location: "94105"}

func TestQuery_Validate(t *testing.T) {
	lat := 95.0
	tests := []struct {
		name    string
		q       Query
		wantErr bool
	}{
		{"valid", italianQuery, false},
		{"late night", Query{Mealtime: "late_night", Cuisine: "Thai", Location: "NY"}, false},
		{"mealtime case and spaces", Query{Mealtime: " Brunch ", Cuisine: "Thai", Location: "NY"}, false},
		{"unknown mealtime", Query{Mealtime: "supper", Cuisine: "Thai", Location: "NY"}, true},
		{"short cuisine", Query{Mealtime: "lunch", Cuisine: "T", Location: "NY"}, true},
		{"long cuisine", Query{Mealtime: "lunch", Cuisine: strings.Repeat("x", 101), Location: "NY"}, true},
		{"short location", Query{Mealtime: "lunch", Cuisine: "Thai", Location: " N "}, true},
		{"bad latitude", Query{Mealtime: "lunch", Cuisine: "Thai", Location: "NY", Latitude: &lat}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("error %v should wrap ErrInvalidQuery", err)
			}
		})
	}
}

func TestSearch_ScrapesThenServesFromCache(t *testing.T) {
	scraper := &fakeScraper{result: italianResult}
	f := newFixture(t, scraper)
	ctx := context.Background()

	first, err := f.svc.Search(ctx, italianQuery)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if first.Source != storage.SourceScrape || !first.Success {
		t.Errorf("first response = %+v", first)
	}
	if len(first.SearchID) != 12 {
		t.Errorf("SearchID = %q, want 12 chars", first.SearchID)
	}
	if len(first.Restaurants) != 2 || first.Message != "Found 2 restaurants" {
		t.Errorf("restaurants = %d, message = %q", len(first.Restaurants), first.Message)
	}
	if first.Restaurants[0].SourceURL != goal.DefaultSiteURL {
		t.Errorf("SourceURL = %q", first.Restaurants[0].SourceURL)
	}

	f.clock.Advance(30 * time.Minute)

	second, err := f.svc.Search(ctx, Query{Mealtime: "DINNER", Cuisine: " italian ", Location: "94105 "})
	if err != nil {
		t.Fatalf("second Search failed: %v", err)
	}
	if second.Source != storage.SourceCache || second.SearchID != first.SearchID {
		t.Errorf("second response source=%s id=%s", second.Source, second.SearchID)
	}
	if second.Message != "Results from cache" {
		t.Errorf("Message = %q", second.Message)
	}
	if len(second.Restaurants) != 2 || second.Restaurants[0].TopDishes[0].Name != "Tajarin" {
		t.Errorf("cached restaurants = %+v", second.Restaurants)
	}
	if !second.ScrapedAt.Equal(first.ScrapedAt) {
		t.Errorf("ScrapedAt = %s, want %s", second.ScrapedAt, first.ScrapedAt)
	}
	if scraper.callCount() != 1 {
		t.Errorf("scraper called %d times, want 1", scraper.callCount())
	}
}

func TestSearch_RescrapesAfterTTL(t *testing.T) {
	scraper := &fakeScraper{result: italianResult}
	f := newFixture(t, scraper)
	ctx := context.Background()

	if _, err := f.svc.Search(ctx, italianQuery); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	f.clock.Advance(time.Hour)

	resp, err := f.svc.Search(ctx, italianQuery)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if resp.Source != storage.SourceScrape || scraper.callCount() != 2 {
		t.Errorf("source = %s, calls = %d; want a fresh scrape", resp.Source, scraper.callCount())
	}
	if f.backend.Len() != 1 {
		t.Errorf("backend has %d entries, want 1 after upsert", f.backend.Len())
	}
}

func TestSearch_VanishedReferenceIsMiss(t *testing.T) {
	scraper := &fakeScraper{result: italianResult}
	f := newFixture(t, scraper)
	ctx := context.Background()

	gate := cache.NewGate(f.backend, time.Hour, cache.WithClock(f.clock.Now))
	if err := gate.Store(ctx, "94105", "Italian", "dinner", "gone", 0); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	resp, err := f.svc.Search(ctx, italianQuery)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if resp.Source != storage.SourceScrape || scraper.callCount() != 1 {
		t.Errorf("source = %s, calls = %d", resp.Source, scraper.callCount())
	}
}

func TestSearch_FailureWritesNothing(t *testing.T) {
	scraper := &fakeScraper{err: scrape.ErrEmptyDiscovery}
	f := newFixture(t, scraper)
	ctx := context.Background()

	_, err := f.svc.Search(ctx, italianQuery)
	if !errors.Is(err, scrape.ErrEmptyDiscovery) {
		t.Fatalf("err = %v, want ErrEmptyDiscovery", err)
	}
	if f.backend.Len() != 0 {
		t.Error("failed scrape must not write the cache")
	}
	history, err := f.svc.History(ctx, 10)
	if err != nil || len(history) != 0 {
		t.Errorf("History = %v, %v; want empty", history, err)
	}
}

func TestSearch_InvalidQuery(t *testing.T) {
	scraper := &fakeScraper{result: italianResult}
	f := newFixture(t, scraper)

	_, err := f.svc.Search(context.Background(), Query{Mealtime: "dinner", Cuisine: "I", Location: "94105"})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("err = %v, want ErrInvalidQuery", err)
	}
	if scraper.callCount() != 0 {
		t.Error("invalid query must not scrape")
	}
}

// fallbackRunner returns a discovery result with one dish-less restaurant
// and fails every fallback.
type fallbackRunner struct{}

func (fallbackRunner) Run(_ context.Context, g goal.Goal, _ func(automation.Event)) (json.RawMessage, error) {
	if g.Kind == goal.KindFallback {
		return nil, &automation.BackendError{Class: automation.ErrorClassUnavailable, StatusCode: 502}
	}
	return json.RawMessage(`{"restaurants": [{"name": "A", "popular_dishes": ["x"]}, {"name": "B"}]}`), nil
}

func newOrchestrator(t *testing.T, runner scrape.Runner) *scrape.Orchestrator {
	t.Helper()
	goals, err := goal.NewCompiler(goal.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCompiler failed: %v", err)
	}
	return scrape.New(runner, goals, scrape.Config{FallbackConcurrency: 1}, zerolog.Nop())
}

func TestSearch_FailedFallbackStillCaches(t *testing.T) {
	f := newFixture(t, newOrchestrator(t, fallbackRunner{}))
	ctx := context.Background()

	resp, err := f.svc.Search(ctx, italianQuery)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Restaurants) != 2 || len(resp.Restaurants[1].TopDishes) != 0 {
		t.Errorf("restaurants = %+v", resp.Restaurants)
	}
	if f.backend.Len() != 1 {
		t.Error("completed scrape with failed fallback should be cached")
	}
}

func collect(t *testing.T, svc *Service, q Query) ([]StreamEvent, error) {
	t.Helper()
	var events []StreamEvent
	err := svc.SearchStream(context.Background(), q, func(ev StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	return events, err
}

func types(events []StreamEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestSearchStream_MissThenHit(t *testing.T) {
	scraper := &fakeScraper{result: italianResult}
	f := newFixture(t, scraper)

	events, err := collect(t, f.svc, italianQuery)
	if err != nil {
		t.Fatalf("SearchStream failed: %v", err)
	}
	want := []string{EventStarted, "PROGRESS", "COMPLETE", EventResult}
	if got := types(events); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	started, result := events[0], events[len(events)-1]
	if started.SearchID == "" || result.Data == nil || result.Data.SearchID != started.SearchID {
		t.Errorf("started = %+v, result = %+v", started, result.Data)
	}
	if result.Data.Source != storage.SourceScrape {
		t.Errorf("source = %s", result.Data.Source)
	}

	events, err = collect(t, f.svc, italianQuery)
	if err != nil {
		t.Fatalf("second SearchStream failed: %v", err)
	}
	if got := types(events); strings.Join(got, ",") != EventStarted+","+EventResult {
		t.Fatalf("cached event types = %v", got)
	}
	if events[1].Data.Source != storage.SourceCache || events[0].SearchID != started.SearchID {
		t.Errorf("cached stream = %+v / %+v", events[0], events[1].Data)
	}
	if scraper.callCount() != 1 {
		t.Errorf("scraper called %d times, want 1", scraper.callCount())
	}
}

func TestSearchStream_FailureEmitsSingleError(t *testing.T) {
	runner := emptyRunner{}
	f := newFixture(t, newOrchestrator(t, runner))

	events, err := collect(t, f.svc, italianQuery)
	if !errors.Is(err, scrape.ErrEmptyDiscovery) {
		t.Fatalf("err = %v, want ErrEmptyDiscovery", err)
	}

	errorsSeen := 0
	for _, ev := range events {
		if ev.Type == "ERROR" {
			errorsSeen++
			if ev.Message != "No restaurants found" {
				t.Errorf("ERROR message = %q", ev.Message)
			}
		}
		if ev.Type == EventResult {
			t.Error("failed stream must not send RESULT")
		}
	}
	if errorsSeen != 1 {
		t.Errorf("ERROR events = %d, want 1", errorsSeen)
	}
	if f.backend.Len() != 0 {
		t.Error("failed stream must not write the cache")
	}
}

type emptyRunner struct{}

func (emptyRunner) Run(context.Context, goal.Goal, func(automation.Event)) (json.RawMessage, error) {
	return json.RawMessage(`{"restaurants": []}`), nil
}

func TestSearchStream_InvalidQuerySendsNothing(t *testing.T) {
	f := newFixture(t, &fakeScraper{result: italianResult})

	events, err := collect(t, f.svc, Query{Mealtime: "tea", Cuisine: "Thai", Location: "NY"})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("err = %v, want ErrInvalidQuery", err)
	}
	if len(events) != 0 {
		t.Errorf("sent %d events for invalid query", len(events))
	}
}

func TestGetAndHistory(t *testing.T) {
	f := newFixture(t, &fakeScraper{result: italianResult})
	ctx := context.Background()

	first, err := f.svc.Search(ctx, italianQuery)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	f.clock.Advance(time.Minute)
	if _, err := f.svc.Search(ctx, Query{Mealtime: "lunch", Cuisine: "Thai", Location: "98101"}); err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	got, err := f.svc.Get(ctx, first.SearchID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Source != storage.SourceScrape || got.Message != "Retrieved from database" || len(got.Restaurants) != 2 {
		t.Errorf("Get = %+v", got)
	}
	if got.Query["cuisine"] != "Italian" {
		t.Errorf("Query = %v", got.Query)
	}

	if _, err := f.svc.Get(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get(unknown) err = %v, want ErrNotFound", err)
	}

	history, err := f.svc.History(ctx, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 || history[0].Cuisine != "Thai" || history[1].RestaurantCount != 2 {
		t.Errorf("history = %+v", history)
	}
}
