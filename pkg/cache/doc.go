// Package cache gates automation runs behind a keyed, time-bounded cache of
// completed searches.
//
// A query (location, cuisine, mealtime) is normalized and hashed into a Key.
// The cache stores only a reference to the search that answered the query,
// never the result itself:
//
//   - Keys are deterministic: case and surrounding whitespace do not matter
//   - Entries carry ExpiresAt; staleness is checked when read, never by a sweeper
//   - Writes are upserts: one live entry per key, last writer wins
//   - Backends are pluggable (Redis, SQLite via pkg/storage, in-memory)
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	gate := cache.NewGate(cache.NewRedisBackend(redisClient, 24*time.Hour), time.Hour)
//
//	searchID, ok, err := gate.Lookup(ctx, "94105", "Italian", "dinner")
//	if err != nil {
//		return err
//	}
//	if !ok {
//		// Miss - run the scrape, persist it, then:
//		err = gate.Store(ctx, "94105", "Italian", "dinner", newSearchID, 0)
//	}
//
// # Metrics
//
//   - dishfinder_cache_hits_total
//   - dishfinder_cache_misses_total
//   - dishfinder_cache_stores_total
//   - dishfinder_cache_errors_total{operation}
//
// Two identical queries arriving together may both miss and both scrape; the
// second Store simply overwrites the first.
package cache
