package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yash-kalathiya/food-spotz/pkg/cache"
)

var _ cache.Backend = (*Store)(nil)

// Get implements cache.Backend. Expired rows are returned as-is.
func (s *Store) Get(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	var searchID string
	var expiresAt, createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT search_id, expires_at, created_at FROM cache_entries WHERE cache_key = ?`,
		key.String(),
	).Scan(&searchID, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cache.ErrCacheMiss
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	return &cache.Entry{
		Key:         key,
		ReferenceID: searchID,
		ExpiresAt:   fromMillis(expiresAt),
		CachedAt:    fromMillis(createdAt),
	}, nil
}

// Put implements cache.Backend as an upsert on cache_key.
func (s *Store) Put(ctx context.Context, entry *cache.Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (cache_key, search_id, expires_at, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET
		   search_id = excluded.search_id,
		   expires_at = excluded.expires_at,
		   created_at = excluded.created_at`,
		entry.Key.String(),
		entry.ReferenceID,
		toMillis(entry.ExpiresAt),
		toMillis(entry.CachedAt),
	)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}
