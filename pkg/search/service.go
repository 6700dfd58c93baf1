// Package search serves dish searches, answering from the cache gate when
// possible and running a scrape otherwise.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yash-kalathiya/food-spotz/pkg/automation"
	"github.com/yash-kalathiya/food-spotz/pkg/cache"
	"github.com/yash-kalathiya/food-spotz/pkg/parser"
	"github.com/yash-kalathiya/food-spotz/pkg/scrape"
	"github.com/yash-kalathiya/food-spotz/pkg/storage"
)

// Stream event types added on top of the orchestrator's events.
const (
	EventStarted = "STARTED"
	EventResult  = "RESULT"
)

// Response is the result of a search.
type Response struct {
	Success     bool                `json:"success"`
	Source      string              `json:"source"`
	SearchID    string              `json:"search_id"`
	Query       map[string]string   `json:"query"`
	Restaurants []parser.Restaurant `json:"restaurants"`
	ScrapedAt   time.Time           `json:"scraped_at"`
	Message     string              `json:"message,omitempty"`
}

// HistoryItem summarizes a past search.
type HistoryItem struct {
	ID              int64     `json:"id"`
	Mealtime        string    `json:"mealtime"`
	Cuisine         string    `json:"cuisine"`
	Location        string    `json:"location"`
	RestaurantCount int       `json:"restaurant_count"`
	SearchedAt      time.Time `json:"searched_at"`
}

// StreamEvent is one server-sent event of a streaming search.
type StreamEvent struct {
	Type     string          `json:"type"`
	SearchID string          `json:"search_id,omitempty"`
	Purpose  string          `json:"purpose,omitempty"`
	Message  string          `json:"message,omitempty"`
	Status   string          `json:"status,omitempty"`
	Result   json.RawMessage `json:"resultJson,omitempty"`
	Data     *Response       `json:"data,omitempty"`
}

// Scraper runs one orchestration.
type Scraper interface {
	Run(ctx context.Context, q scrape.Query, emit func(automation.Event)) (json.RawMessage, error)
}

// Store persists searches.
type Store interface {
	SaveSearch(ctx context.Context, rec storage.SearchRecord, restaurants []parser.Restaurant) error
	GetSearch(ctx context.Context, searchID string) (storage.SearchRecord, error)
	RestaurantsBySearch(ctx context.Context, searchID string) ([]parser.Restaurant, error)
	RecentSearches(ctx context.Context, limit int) ([]storage.SearchRecord, error)
}

// Config holds service settings.
type Config struct {
	// SourceURL is recorded on every scraped restaurant.
	SourceURL string

	// CacheTTL is how long a scrape is served from cache. Zero uses the gate default.
	CacheTTL time.Duration
}

// Service answers searches. Safe for concurrent use.
type Service struct {
	scraper Scraper
	parser  *parser.Parser
	store   Store
	gate    *cache.Gate
	cfg     Config
	logger  zerolog.Logger

	newID func() string
	now   func() time.Time
}

// New creates a search service.
func New(scraper Scraper, p *parser.Parser, store Store, gate *cache.Gate, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		scraper: scraper,
		parser:  p,
		store:   store,
		gate:    gate,
		cfg:     cfg,
		logger:  logger.With().Str("component", "search").Logger(),
		newID:   NewSearchID,
		now:     time.Now,
	}
}

// NewSearchID returns a 12 character random identifier.
func NewSearchID() string {
	return uuid.NewString()[:12]
}

// Search answers q from cache or by scraping.
func (s *Service) Search(ctx context.Context, q Query) (*Response, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q = q.Normalize()

	if resp, ok := s.fromCache(ctx, q); ok {
		return resp, nil
	}
	return s.scrape(ctx, q, s.newID(), nil)
}

// SearchStream answers q, sending a STARTED event, every orchestration event
// and finally a RESULT event. Failures after STARTED are reported as a single
// ERROR event and also returned. Validation errors are returned before
// anything is sent.
func (s *Service) SearchStream(ctx context.Context, q Query, send func(StreamEvent) error) error {
	if err := q.Validate(); err != nil {
		return err
	}
	q = q.Normalize()

	var sendErr error
	deliver := func(ev StreamEvent) {
		if sendErr != nil {
			return
		}
		if err := send(ev); err != nil {
			sendErr = err
			s.logger.Debug().Err(err).Msg("Stream client went away")
		}
	}

	if resp, ok := s.fromCache(ctx, q); ok {
		deliver(StreamEvent{Type: EventStarted, SearchID: resp.SearchID})
		deliver(StreamEvent{Type: EventResult, Data: resp})
		return sendErr
	}

	searchID := s.newID()
	deliver(StreamEvent{Type: EventStarted, SearchID: searchID})

	resp, err := s.scrape(ctx, q, searchID, func(ev automation.Event) {
		deliver(StreamEvent{
			Type:    string(ev.Type),
			Purpose: ev.Purpose,
			Message: ev.Message,
			Status:  ev.Status,
			Result:  ev.Result,
		})
	})
	if err != nil {
		var se *scrapeError
		if !errors.As(err, &se) {
			deliver(StreamEvent{Type: string(automation.EventError), Message: err.Error()})
		}
		return err
	}

	deliver(StreamEvent{Type: EventResult, Data: resp})
	return sendErr
}

// scrapeError marks failures already reported by the orchestrator's ERROR event.
type scrapeError struct {
	err error
}

func (e *scrapeError) Error() string { return "scraping error: " + e.err.Error() }
func (e *scrapeError) Unwrap() error { return e.err }

// fromCache returns the cached search for q, if any. Cache and storage
// failures are logged and treated as a miss.
func (s *Service) fromCache(ctx context.Context, q Query) (*Response, bool) {
	searchID, ok, err := s.gate.Lookup(ctx, q.Location, q.Cuisine, q.Mealtime)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Cache lookup failed, scraping instead")
		return nil, false
	}
	if !ok {
		s.logger.Info().Str("cuisine", q.Cuisine).Str("location", q.Location).Msg("Cache miss")
		return nil, false
	}

	rec, err := s.store.GetSearch(ctx, searchID)
	if err != nil {
		s.logger.Warn().Err(err).Str("search_id", searchID).Msg("Cached search unavailable, scraping instead")
		return nil, false
	}
	restaurants, err := s.store.RestaurantsBySearch(ctx, searchID)
	if err != nil {
		s.logger.Warn().Err(err).Str("search_id", searchID).Msg("Cached restaurants unavailable, scraping instead")
		return nil, false
	}

	s.logger.Info().Str("search_id", searchID).Msg("Cache hit")
	return &Response{
		Success:     true,
		Source:      storage.SourceCache,
		SearchID:    searchID,
		Query:       q.summary(),
		Restaurants: nonNil(restaurants),
		ScrapedAt:   rec.CreatedAt,
		Message:     "Results from cache",
	}, true
}

// scrape runs the orchestrator, persists the result and records it in the
// cache gate. Nothing is persisted or cached when the orchestration fails.
func (s *Service) scrape(ctx context.Context, q Query, searchID string, emit func(automation.Event)) (*Response, error) {
	logger := s.logger.With().Str("search_id", searchID).Logger()
	logger.Info().
		Str("cuisine", q.Cuisine).
		Str("location", q.Location).
		Str("mealtime", q.Mealtime).
		Msg("Scraping")

	raw, err := s.scraper.Run(ctx, scrape.Query{Cuisine: q.Cuisine, Location: q.Location, Mealtime: q.Mealtime}, emit)
	if err != nil {
		return nil, &scrapeError{err: err}
	}

	restaurants := s.parser.Parse(raw, q.Cuisine, q.Mealtime, s.cfg.SourceURL)
	scrapedAt := s.now().UTC()

	rec := storage.SearchRecord{
		SearchID:    searchID,
		Mealtime:    q.Mealtime,
		Cuisine:     q.Cuisine,
		Location:    q.Location,
		Latitude:    q.Latitude,
		Longitude:   q.Longitude,
		Source:      storage.SourceScrape,
		RawResponse: raw,
		CreatedAt:   scrapedAt,
	}
	if err := s.store.SaveSearch(ctx, rec, restaurants); err != nil {
		return nil, fmt.Errorf("save search: %w", err)
	}

	if err := s.gate.Store(ctx, q.Location, q.Cuisine, q.Mealtime, searchID, s.cfg.CacheTTL); err != nil {
		logger.Warn().Err(err).Msg("Failed to cache search")
	}

	logger.Info().Int("restaurants", len(restaurants)).Msg("Search completed")
	return &Response{
		Success:     true,
		Source:      storage.SourceScrape,
		SearchID:    searchID,
		Query:       q.summary(),
		Restaurants: restaurants,
		ScrapedAt:   scrapedAt,
		Message:     fmt.Sprintf("Found %d restaurants", len(restaurants)),
	}, nil
}

// Get returns a stored search. Unknown IDs yield storage.ErrNotFound.
func (s *Service) Get(ctx context.Context, searchID string) (*Response, error) {
	rec, err := s.store.GetSearch(ctx, searchID)
	if err != nil {
		return nil, err
	}
	restaurants, err := s.store.RestaurantsBySearch(ctx, searchID)
	if err != nil {
		return nil, err
	}
	return &Response{
		Success:  true,
		Source:   rec.Source,
		SearchID: rec.SearchID,
		Query: map[string]string{
			"mealtime": rec.Mealtime,
			"cuisine":  rec.Cuisine,
			"location": rec.Location,
		},
		Restaurants: nonNil(restaurants),
		ScrapedAt:   rec.CreatedAt,
		Message:     "Retrieved from database",
	}, nil
}

// History returns up to limit recent searches, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]HistoryItem, error) {
	records, err := s.store.RecentSearches(ctx, limit)
	if err != nil {
		return nil, err
	}
	items := make([]HistoryItem, 0, len(records))
	for _, r := range records {
		items = append(items, HistoryItem{
			ID:              r.ID,
			Mealtime:        r.Mealtime,
			Cuisine:         r.Cuisine,
			Location:        r.Location,
			RestaurantCount: r.RestaurantCount,
			SearchedAt:      r.CreatedAt,
		})
	}
	return items, nil
}

func nonNil(restaurants []parser.Restaurant) []parser.Restaurant {
	if restaurants == nil {
		return []parser.Restaurant{}
	}
	return restaurants
}
