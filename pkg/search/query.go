package search

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalidQuery is returned for queries that fail validation.
var ErrInvalidQuery = errors.New("invalid query")

// Mealtimes accepted by Validate.
const (
	MealtimeBreakfast = "breakfast"
	MealtimeBrunch    = "brunch"
	MealtimeLunch     = "lunch"
	MealtimeDinner    = "dinner"
	MealtimeLateNight = "late_night"
)

var mealtimes = map[string]bool{
	MealtimeBreakfast: true,
	MealtimeBrunch:    true,
	MealtimeLunch:     true,
	MealtimeDinner:    true,
	MealtimeLateNight: true,
}

// Query is a search request.
type Query struct {
	Mealtime  string   `json:"mealtime"`
	Cuisine   string   `json:"cuisine"`
	Location  string   `json:"location"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Normalize trims whitespace and lowercases the mealtime.
func (q Query) Normalize() Query {
	q.Mealtime = strings.ToLower(strings.TrimSpace(q.Mealtime))
	q.Cuisine = strings.TrimSpace(q.Cuisine)
	q.Location = strings.TrimSpace(q.Location)
	return q
}

// Validate checks the normalized query. Errors wrap ErrInvalidQuery.
func (q Query) Validate() error {
	q = q.Normalize()
	if !mealtimes[q.Mealtime] {
		return fmt.Errorf("%w: mealtime must be one of breakfast, brunch, lunch, dinner, late_night (got %q)", ErrInvalidQuery, q.Mealtime)
	}
	if n := utf8.RuneCountInString(q.Cuisine); n < 2 || n > 100 {
		return fmt.Errorf("%w: cuisine must be 2 to 100 characters", ErrInvalidQuery)
	}
	if utf8.RuneCountInString(q.Location) < 2 {
		return fmt.Errorf("%w: location must be at least 2 characters", ErrInvalidQuery)
	}
	if q.Latitude != nil && (*q.Latitude < -90 || *q.Latitude > 90) {
		return fmt.Errorf("%w: latitude out of range", ErrInvalidQuery)
	}
	if q.Longitude != nil && (*q.Longitude < -180 || *q.Longitude > 180) {
		return fmt.Errorf("%w: longitude out of range", ErrInvalidQuery)
	}
	return nil
}

func (q Query) summary() map[string]string {
	return map[string]string{
		"mealtime": q.Mealtime,
		"cuisine":  q.Cuisine,
		"location": q.Location,
	}
}
