package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates no entry is stored for the key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a stored entry could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultTTL is how long a completed search is served from cache.
const DefaultTTL = time.Hour

// Backend stores cache entries. Get returns ErrCacheMiss when nothing is
// stored for the key; it must return expired entries as-is. Put replaces any
// existing entry for entry.Key.
type Backend interface {
	Get(ctx context.Context, key Key) (*Entry, error)
	Put(ctx context.Context, entry *Entry) error
}

// Gate decides whether a query needs a fresh automation run.
type Gate struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// NewGate creates a gate over backend. A non-positive ttl means DefaultTTL.
func NewGate(backend Backend, ttl time.Duration, opts ...Option) *Gate {
	if backend == nil {
		panic("cache backend cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	g := &Gate{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TTL returns the gate's default time-to-live.
func (g *Gate) TTL() time.Duration {
	return g.ttl
}

// Lookup returns the reference ID of a prior search for the query if one is
// stored and has not expired. It never modifies the backend.
func (g *Gate) Lookup(ctx context.Context, location, cuisine, mealtime string) (string, bool, error) {
	key := DeriveKey(location, cuisine, mealtime)

	entry, err := g.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			CacheMisses.Inc()
			g.logger.Debug().Str("cache_key", key.String()).Msg("Cache miss")
			return "", false, nil
		}
		CacheErrors.WithLabelValues("lookup").Inc()
		return "", false, fmt.Errorf("cache lookup: %w", err)
	}

	if entry.IsExpiredAt(g.now()) {
		CacheMisses.Inc()
		g.logger.Debug().
			Str("cache_key", key.String()).
			Time("expires_at", entry.ExpiresAt).
			Msg("Cache entry expired")
		return "", false, nil
	}

	CacheHits.Inc()
	g.logger.Debug().
		Str("cache_key", key.String()).
		Str("reference_id", entry.ReferenceID).
		Msg("Cache hit")
	return entry.ReferenceID, true, nil
}

// Store records referenceID for the query, expiring after ttl (the gate's
// default when ttl <= 0). An existing entry for the same key is overwritten;
// concurrent writers to one key resolve last-writer-wins.
func (g *Gate) Store(ctx context.Context, location, cuisine, mealtime, referenceID string, ttl time.Duration) error {
	if strings.TrimSpace(referenceID) == "" {
		return fmt.Errorf("cache store: reference id is required")
	}
	if ttl <= 0 {
		ttl = g.ttl
	}

	now := g.now()
	entry := &Entry{
		Key:         DeriveKey(location, cuisine, mealtime),
		ReferenceID: referenceID,
		ExpiresAt:   now.Add(ttl),
		CachedAt:    now,
	}

	if err := g.backend.Put(ctx, entry); err != nil {
		CacheErrors.WithLabelValues("store").Inc()
		return fmt.Errorf("cache store: %w", err)
	}

	CacheStores.Inc()
	g.logger.Debug().
		Str("cache_key", entry.Key.String()).
		Str("reference_id", referenceID).
		Dur("ttl", ttl).
		Msg("Cached search reference")
	return nil
}
