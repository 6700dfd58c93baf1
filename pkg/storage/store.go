// Package storage persists searches, restaurants, dishes and cache entries
// in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/yash-kalathiya/food-spotz/pkg/parser"
)

// ErrNotFound is returned when a search does not exist.
var ErrNotFound = errors.New("not found")

// Search sources.
const (
	SourceScrape = "scrape"
	SourceCache  = "cache"
)

// SearchRecord is one stored search.
type SearchRecord struct {
	ID              int64
	SearchID        string
	Mealtime        string
	Cuisine         string
	Location        string
	Latitude        *float64
	Longitude       *float64
	Source          string
	RestaurantCount int
	RawResponse     json.RawMessage
	CreatedAt       time.Time
}

// Store persists dish-finder state in SQLite. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens the database at path, creating its directory, and applies the
// embedded migrations.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	dsn := "file:" + cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger = logger.With().Str("component", "storage").Logger()
	logger.Info().Str("path", cleanPath).Msg("Storage ready")
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveSearch stores a search with its restaurants and dishes in one
// transaction.
func (s *Store) SaveSearch(ctx context.Context, rec SearchRecord, restaurants []parser.Restaurant) error {
	if strings.TrimSpace(rec.SearchID) == "" {
		return fmt.Errorf("search id is required")
	}
	if rec.Source == "" {
		rec.Source = SourceScrape
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.RestaurantCount = len(restaurants)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save search: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := createSearchRecord(ctx, tx, rec); err != nil {
		return err
	}
	for i, r := range restaurants {
		restaurantID, err := createRestaurant(ctx, tx, rec.SearchID, i, r, rec.CreatedAt)
		if err != nil {
			return err
		}
		for j, d := range r.TopDishes {
			if err := createDish(ctx, tx, restaurantID, j, d, rec.CreatedAt); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save search: %w", err)
	}

	s.logger.Debug().
		Str("search_id", rec.SearchID).
		Int("restaurants", len(restaurants)).
		Msg("Saved search")
	return nil
}

func createSearchRecord(ctx context.Context, tx *sql.Tx, rec SearchRecord) error {
	var raw sql.NullString
	if len(rec.RawResponse) > 0 {
		raw = sql.NullString{String: string(rec.RawResponse), Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO search_records (
		   search_id, mealtime, cuisine, location, latitude, longitude,
		   source, restaurant_count, raw_response, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SearchID,
		rec.Mealtime,
		rec.Cuisine,
		rec.Location,
		nullFloat(rec.Latitude),
		nullFloat(rec.Longitude),
		rec.Source,
		rec.RestaurantCount,
		raw,
		toMillis(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create search record: %w", err)
	}
	return nil
}

func createRestaurant(ctx context.Context, tx *sql.Tx, searchID string, position int, r parser.Restaurant, createdAt time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO restaurants (
		   search_id, position, name, address, rating, total_reviews, price_level,
		   phone, website, hours, cuisine_type, mealtime, source_url, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		searchID,
		position,
		r.Name,
		r.Address,
		nullFloat(r.Rating),
		nullInt(r.TotalReviews),
		nullString(r.PriceLevel),
		nullString(r.Phone),
		nullString(r.Website),
		nullString(r.Hours),
		r.CuisineType,
		r.Mealtime,
		r.SourceURL,
		toMillis(createdAt),
	)
	if err != nil {
		return 0, fmt.Errorf("create restaurant: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create restaurant: %w", err)
	}
	return id, nil
}

func createDish(ctx context.Context, tx *sql.Tx, restaurantID int64, position int, d parser.Dish, createdAt time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO dishes (
		   restaurant_id, position, name, mention_count, sentiment_score, sample_review, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		restaurantID,
		position,
		d.Name,
		d.MentionCount,
		d.SentimentScore,
		nullString(d.SampleReview),
		toMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("create dish: %w", err)
	}
	return nil
}

const searchColumns = `id, search_id, mealtime, cuisine, location, latitude, longitude,
	source, restaurant_count, raw_response, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSearch(row rowScanner) (SearchRecord, error) {
	var (
		rec       SearchRecord
		lat, lng  sql.NullFloat64
		raw       sql.NullString
		createdAt int64
	)
	if err := row.Scan(
		&rec.ID, &rec.SearchID, &rec.Mealtime, &rec.Cuisine, &rec.Location,
		&lat, &lng, &rec.Source, &rec.RestaurantCount, &raw, &createdAt,
	); err != nil {
		return SearchRecord{}, err
	}
	rec.Latitude = floatPtr(lat)
	rec.Longitude = floatPtr(lng)
	if raw.Valid {
		rec.RawResponse = json.RawMessage(raw.String)
	}
	rec.CreatedAt = fromMillis(createdAt)
	return rec, nil
}

// GetSearch returns the search with searchID, or ErrNotFound.
func (s *Store) GetSearch(ctx context.Context, searchID string) (SearchRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+searchColumns+` FROM search_records WHERE search_id = ?`, searchID)
	rec, err := scanSearch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SearchRecord{}, ErrNotFound
		}
		return SearchRecord{}, fmt.Errorf("get search: %w", err)
	}
	return rec, nil
}

// RecentSearches returns up to limit searches, newest first.
func (s *Store) RecentSearches(ctx context.Context, limit int) ([]SearchRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+searchColumns+` FROM search_records ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent searches: %w", err)
	}
	defer rows.Close()

	var out []SearchRecord
	for rows.Next() {
		rec, err := scanSearch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent searches: %w", err)
	}
	return out, nil
}

// RestaurantsBySearch returns the restaurants of a search in stored order,
// each with its dishes.
func (s *Store) RestaurantsBySearch(ctx context.Context, searchID string) ([]parser.Restaurant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, address, rating, total_reviews, price_level, phone, website,
		        hours, cuisine_type, mealtime, source_url
		   FROM restaurants WHERE search_id = ? ORDER BY position, id`, searchID)
	if err != nil {
		return nil, fmt.Errorf("restaurants by search: %w", err)
	}
	defer rows.Close()

	var (
		ids []int64
		out []parser.Restaurant
	)
	for rows.Next() {
		var (
			id                                 int64
			r                                  parser.Restaurant
			address, cuisine, mealtime, source sql.NullString
			price, phone, website, hours       sql.NullString
			rating                             sql.NullFloat64
			reviews                            sql.NullInt64
		)
		if err := rows.Scan(&id, &r.Name, &address, &rating, &reviews, &price, &phone,
			&website, &hours, &cuisine, &mealtime, &source); err != nil {
			return nil, fmt.Errorf("scan restaurant: %w", err)
		}
		r.Address = address.String
		r.Rating = floatPtr(rating)
		if reviews.Valid {
			n := int(reviews.Int64)
			r.TotalReviews = &n
		}
		r.PriceLevel = stringPtr(price)
		r.Phone = stringPtr(phone)
		r.Website = stringPtr(website)
		r.Hours = stringPtr(hours)
		r.CuisineType = cuisine.String
		r.Mealtime = mealtime.String
		r.SourceURL = source.String
		r.TopDishes = []parser.Dish{}

		ids = append(ids, id)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("restaurants by search: %w", err)
	}
	rows.Close()

	for i, id := range ids {
		dishes, err := s.dishesByRestaurant(ctx, id)
		if err != nil {
			return nil, err
		}
		out[i].TopDishes = dishes
	}
	return out, nil
}

func (s *Store) dishesByRestaurant(ctx context.Context, restaurantID int64) ([]parser.Dish, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, mention_count, sentiment_score, sample_review
		   FROM dishes WHERE restaurant_id = ? ORDER BY position, id`, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("dishes by restaurant: %w", err)
	}
	defer rows.Close()

	dishes := []parser.Dish{}
	for rows.Next() {
		var (
			d      parser.Dish
			review sql.NullString
		)
		if err := rows.Scan(&d.Name, &d.MentionCount, &d.SentimentScore, &review); err != nil {
			return nil, fmt.Errorf("scan dish: %w", err)
		}
		d.SampleReview = stringPtr(review)
		dishes = append(dishes, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dishes by restaurant: %w", err)
	}
	return dishes, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
