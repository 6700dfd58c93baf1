// Package goal renders the natural-language instructions sent to the
// automation backend.
package goal

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Kind distinguishes the two automation objectives.
type Kind string

const (
	// KindDiscovery finds restaurants together with their popular dishes.
	KindDiscovery Kind = "discovery"

	// KindFallback finds popular dishes for one named restaurant.
	KindFallback Kind = "fallback"
)

// DefaultSiteURL is where the automation starts browsing.
const DefaultSiteURL = "https://www.opentable.com"

// Goal is one automation task: a target URL plus instructions.
type Goal struct {
	Kind Kind
	URL  string
	Text string
}

// Config holds the result caps written into every goal.
type Config struct {
	SiteURL        string
	MaxRestaurants int
	MaxDishes      int
}

// DefaultConfig returns three restaurants with three dishes each.
func DefaultConfig() Config {
	return Config{
		SiteURL:        DefaultSiteURL,
		MaxRestaurants: 3,
		MaxDishes:      3,
	}
}

// Compiler renders goals from typed query parameters. It performs no I/O and
// is safe for concurrent use.
type Compiler struct {
	cfg       Config
	discovery *template.Template
	fallback  *template.Template
}

// NewCompiler validates cfg and parses the goal templates.
func NewCompiler(cfg Config) (*Compiler, error) {
	if cfg.MaxRestaurants <= 0 {
		return nil, fmt.Errorf("goal: max restaurants must be positive (got %d)", cfg.MaxRestaurants)
	}
	if cfg.MaxDishes <= 0 {
		return nil, fmt.Errorf("goal: max dishes must be positive (got %d)", cfg.MaxDishes)
	}
	if strings.TrimSpace(cfg.SiteURL) == "" {
		cfg.SiteURL = DefaultSiteURL
	}

	discovery, err := template.New("discovery").Funcs(sprig.TxtFuncMap()).Parse(discoveryTemplate)
	if err != nil {
		return nil, fmt.Errorf("goal: parse discovery template: %w", err)
	}
	fallback, err := template.New("fallback").Funcs(sprig.TxtFuncMap()).Parse(fallbackTemplate)
	if err != nil {
		return nil, fmt.Errorf("goal: parse fallback template: %w", err)
	}

	return &Compiler{cfg: cfg, discovery: discovery, fallback: fallback}, nil
}

// Config returns the compiler's caps.
func (c *Compiler) Config() Config {
	return c.cfg
}

// Discovery renders the restaurant discovery goal.
func (c *Compiler) Discovery(cuisine, location, mealtime string) (Goal, error) {
	text, err := render(c.discovery, map[string]any{
		"Cuisine":        strings.TrimSpace(cuisine),
		"Location":       strings.TrimSpace(location),
		"Mealtime":       mealtimePhrase(mealtime),
		"MaxRestaurants": c.cfg.MaxRestaurants,
		"MaxDishes":      c.cfg.MaxDishes,
	})
	if err != nil {
		return Goal{}, err
	}
	return Goal{Kind: KindDiscovery, URL: c.cfg.SiteURL, Text: text}, nil
}

// Fallback renders the per-restaurant dish goal.
func (c *Compiler) Fallback(restaurantName, location string) (Goal, error) {
	text, err := render(c.fallback, map[string]any{
		"Restaurant": strings.TrimSpace(restaurantName),
		"Location":   strings.TrimSpace(location),
		"MaxDishes":  c.cfg.MaxDishes,
	})
	if err != nil {
		return Goal{}, err
	}
	return Goal{Kind: KindFallback, URL: c.cfg.SiteURL, Text: text}, nil
}

func render(tmpl *template.Template, data map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("goal: render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// mealtimePhrase turns "late_night" into "late night".
func mealtimePhrase(mealtime string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(mealtime)), "_", " ")
}

const discoveryTemplate = `Go to opentable.com and search for {{ printf "%s restaurants" .Cuisine | quote }} near {{ .Location | quote }} for {{ .Mealtime }}.

For each of the top {{ .MaxRestaurants }} restaurants in the search results:
1. Click on the restaurant to view its full page
2. Get: Restaurant name, full address, rating (out of 5), number of reviews, price range ($, $$, $$$, $$$$)
3. Find {{ .MaxDishes }} popular dishes by checking:
   - "Menu" section for featured/highlighted items
   - "Photos" section for dish images with names
   - Reviews that mention specific dishes positively

Return JSON in this exact format:
{
    "restaurants": [
        {
            "name": "Restaurant Name",
            "address": "Full Address",
            "rating": 4.5,
            "review_count": 500,
            "price_level": "$$",
            "popular_dishes": [{{ range $i, $_ := until .MaxDishes }}{{ if $i }}, {{ end }}"Dish {{ add1 $i }}"{{ end }}]
        }
    ]
}

Field types: name (string), address (string), rating (number), review_count (integer), price_level (string), popular_dishes (array of strings).

Return exactly {{ .MaxRestaurants }} top-rated {{ .Cuisine }} restaurants from OpenTable. For each restaurant, include exactly {{ .MaxDishes }} popular dishes that diners recommend. Only return actual dish names, not descriptions.`

const fallbackTemplate = `Go to opentable.com and search for {{ .Restaurant | quote }} near {{ .Location | quote }}.
Click on the restaurant page to view details.

Look for popular dishes or menu items on the restaurant page. Check:
1. "Menu" section - look for highlighted or featured dishes
2. "Photos" section - look at dish photos and their names
3. Reviews section - find dishes that are frequently mentioned positively

Extract exactly {{ .MaxDishes }} popular dish names that diners recommend.

Return JSON in this exact format:
{
    "restaurant_name": {{ .Restaurant | quote }},
    "popular_dishes": [{{ range $i, $_ := until .MaxDishes }}{{ if $i }}, {{ end }}"Dish {{ add1 $i }}"{{ end }}]
}

Field types: restaurant_name (string), popular_dishes (array of strings).

Return exactly {{ .MaxDishes }} popular dish names. Only return actual dish names from the menu, not descriptions.`
