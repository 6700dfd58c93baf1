// Package parser normalizes automation results into restaurant records.
package parser

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	// DefaultName is used when a restaurant has no usable name.
	DefaultName = "Unknown Restaurant"

	// DefaultAddress is used when a restaurant has no usable address.
	DefaultAddress = "Address not available"

	// DefaultSentiment is assigned to dishes without a score.
	DefaultSentiment = 0.8

	// DefaultMentionCount is assigned to dishes without a count.
	DefaultMentionCount = 1
)

// Dish is a popular menu item.
type Dish struct {
	Name           string  `json:"name"`
	MentionCount   int     `json:"mention_count"`
	SentimentScore float64 `json:"sentiment_score"`
	SampleReview   *string `json:"sample_review"`
}

// Restaurant is a normalized restaurant record.
type Restaurant struct {
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	Rating       *float64 `json:"rating"`
	TotalReviews *int     `json:"total_reviews"`
	PriceLevel   *string  `json:"price_level"`
	Phone        *string  `json:"phone"`
	Website      *string  `json:"website"`
	Hours        *string  `json:"hours"`
	TopDishes    []Dish   `json:"top_dishes"`
	CuisineType  string   `json:"cuisine_type"`
	Mealtime     string   `json:"mealtime"`
	SourceURL    string   `json:"source_url,omitempty"`
}

// Config holds the result caps.
type Config struct {
	MaxRestaurants int
	MaxDishes      int
}

// DefaultConfig returns three restaurants with three dishes each.
func DefaultConfig() Config {
	return Config{MaxRestaurants: 3, MaxDishes: 3}
}

// Parser converts raw results into restaurants. It never fails.
type Parser struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a parser. Non-positive caps fall back to the defaults.
func New(cfg Config, logger zerolog.Logger) *Parser {
	def := DefaultConfig()
	if cfg.MaxRestaurants <= 0 {
		cfg.MaxRestaurants = def.MaxRestaurants
	}
	if cfg.MaxDishes <= 0 {
		cfg.MaxDishes = def.MaxDishes
	}
	return &Parser{
		cfg:    cfg,
		logger: logger.With().Str("component", "parser").Logger(),
	}
}

// Config returns the parser's caps.
func (p *Parser) Config() Config {
	return p.cfg
}

// extractionPaths are tried in order; the first non-empty array wins.
var extractionPaths = []string{"restaurants", "output.restaurants"}

// ExtractRestaurants returns the restaurant array of raw, or nil when no
// strategy finds a non-empty one.
func ExtractRestaurants(raw []byte) []gjson.Result {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	for _, path := range extractionPaths {
		res := gjson.GetBytes(raw, path)
		if res.IsArray() {
			if items := res.Array(); len(items) > 0 {
				return items
			}
		}
	}
	return nil
}

// Parse converts the first MaxRestaurants entries of raw into restaurants with
// dishes taken from the first MaxDishes entries each. Unusable entries within
// the cap are skipped, not replaced.
func (p *Parser) Parse(raw []byte, cuisine, mealtime, sourceURL string) []Restaurant {
	items := ExtractRestaurants(raw)
	p.logger.Debug().Int("raw_count", len(items)).Msg("Parsing restaurants")

	items = items[:min(len(items), p.cfg.MaxRestaurants)]
	out := make([]Restaurant, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			p.logger.Warn().Int("index", i).Str("type", item.Type.String()).Msg("Skipping non-object restaurant entry")
			continue
		}
		out = append(out, p.restaurant(item, cuisine, mealtime, sourceURL))
	}
	return out
}

func (p *Parser) restaurant(item gjson.Result, cuisine, mealtime, sourceURL string) Restaurant {
	r := Restaurant{
		Name:         stringOr(item.Get("name"), DefaultName),
		Address:      stringOr(item.Get("address"), DefaultAddress),
		Rating:       optionalFloat(item.Get("rating")),
		TotalReviews: optionalInt(item.Get("review_count")),
		PriceLevel:   optionalString(item.Get("price_level")),
		Phone:        optionalString(item.Get("phone")),
		Website:      optionalString(item.Get("website")),
		Hours:        optionalString(item.Get("hours")),
		TopDishes:    p.Dishes(item.Get("popular_dishes")),
		CuisineType:  cuisine,
		Mealtime:     mealtime,
		SourceURL:    sourceURL,
	}
	if r.TotalReviews == nil {
		r.TotalReviews = optionalInt(item.Get("total_reviews"))
	}

	p.logger.Debug().Str("restaurant", r.Name).Int("dishes", len(r.TopDishes)).Msg("Parsed restaurant")
	return r
}

// Dishes converts the first MaxDishes entries of a popular_dishes value.
// Strings become names; objects need a non-empty name. Other entries are skipped.
func (p *Parser) Dishes(list gjson.Result) []Dish {
	dishes := make([]Dish, 0, p.cfg.MaxDishes)
	if !list.IsArray() {
		return dishes
	}

	entries := list.Array()
	for i, entry := range entries[:min(len(entries), p.cfg.MaxDishes)] {
		dish := Dish{MentionCount: DefaultMentionCount, SentimentScore: DefaultSentiment}
		switch {
		case entry.Type == gjson.String:
			dish.Name = strings.TrimSpace(entry.Str)
		case entry.IsObject():
			dish.Name = strings.TrimSpace(entry.Get("name").String())
			if mc := entry.Get("mention_count"); mc.Type == gjson.Number && mc.Int() > 0 {
				dish.MentionCount = int(mc.Int())
			}
			if ss := entry.Get("sentiment_score"); ss.Type == gjson.Number {
				dish.SentimentScore = clamp(ss.Float(), 0, 1)
			}
			dish.SampleReview = optionalString(entry.Get("sample_review"))
		}

		if dish.Name == "" {
			p.logger.Warn().Int("index", i).Str("entry", entry.Raw).Msg("Skipping unusable dish entry")
			continue
		}
		dishes = append(dishes, dish)
	}
	return dishes
}

func stringOr(v gjson.Result, def string) string {
	if s := optionalString(v); s != nil {
		return *s
	}
	return def
}

func optionalString(v gjson.Result) *string {
	var s string
	switch v.Type {
	case gjson.String:
		s = strings.TrimSpace(v.Str)
	case gjson.Number:
		s = v.Raw
	default:
		return nil
	}
	if s == "" {
		return nil
	}
	return &s
}

func optionalFloat(v gjson.Result) *float64 {
	switch v.Type {
	case gjson.Number:
		f := v.Float()
		return &f
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

// optionalInt accepts numbers and strings such as "1,234".
func optionalInt(v gjson.Result) *int {
	switch v.Type {
	case gjson.Number:
		n := int(v.Int())
		return &n
	case gjson.String:
		s := strings.ReplaceAll(strings.TrimSpace(v.Str), ",", "")
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil
		}
		return &n
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
