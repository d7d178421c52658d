// Package cache keeps materialized page grids in Redis between writes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"sheetapp/api/internal/sheet"
)

const keyPageData = "page:data:"

// PageCache caches the grid of a page by page id. Permission data is never
// cached; callers authorize before reading.
//
// Every entry carries the revision it was built for (the page's updated_at).
// A reader that loaded the grid before a save may still write its entry
// after the save invalidated the key, but readers asking for the newer
// revision treat that entry as a miss.
type PageCache struct {
	rdb *redis.Client
	ttl time.Duration
}

type entry struct {
	Revision int64          `json:"revision"`
	Grid     sheet.Snapshot `json:"grid"`
}

func NewPageCache(rdb *redis.Client, ttl time.Duration) *PageCache {
	return &PageCache{rdb: rdb, ttl: ttl}
}

// Get returns the cached grid for revision, or ok=false on a miss.
func (c *PageCache) Get(ctx context.Context, pageID string, revision int64) (sheet.Snapshot, bool, error) {
	b, err := c.rdb.Get(ctx, keyPageData+pageID).Bytes()
	if errors.Is(err, redis.Nil) {
		return sheet.Snapshot{}, false, nil
	}
	if err != nil {
		return sheet.Snapshot{}, false, err
	}
	var e entry
	if err := json.Unmarshal(b, &e); err != nil {
		return sheet.Snapshot{}, false, err
	}
	if e.Revision != revision {
		return sheet.Snapshot{}, false, nil
	}
	return e.Grid, true, nil
}

func (c *PageCache) Set(ctx context.Context, pageID string, revision int64, snap sheet.Snapshot) error {
	b, err := json.Marshal(entry{Revision: revision, Grid: snap})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, keyPageData+pageID, b, c.ttl).Err()
}

// Invalidate drops the grid of a page after any structural write.
func (c *PageCache) Invalidate(ctx context.Context, pageID string) error {
	return c.rdb.Del(ctx, keyPageData+pageID).Err()
}
