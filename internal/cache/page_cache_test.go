package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"sheetapp/api/internal/sheet"
)

func newTestCache(t *testing.T) (*PageCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewPageCache(rdb, time.Minute), s
}

func sampleSnapshot() sheet.Snapshot {
	return sheet.Snapshot{
		Columns: []sheet.Column{{ID: "c1", Name: "Task", Order: 1, Width: 150}},
		Rows:    []sheet.SnapshotRow{{ID: "r1", Order: 1, Cells: []string{"write tests"}}},
	}
}

func TestPageCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "page-1", 1); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, "page-1", 1, sampleSnapshot()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok, err := c.Get(ctx, "page-1", 1)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Rows[0].Cells[0] != "write tests" || got.Columns[0].Width != 150 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestPageCacheInvalidateAndExpiry(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "page-1", 1, sampleSnapshot())
	_ = c.Set(ctx, "page-2", 1, sampleSnapshot())
	if err := c.Invalidate(ctx, "page-1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "page-1", 1); ok {
		t.Fatal("expected page-1 to be invalidated")
	}
	if _, ok, _ := c.Get(ctx, "page-2", 1); !ok {
		t.Fatal("expected page-2 to survive")
	}

	s.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "page-2", 1); ok {
		t.Fatal("expected page-2 to expire")
	}
}

func TestPageCacheSurfacesCorruptEntries(t *testing.T) {
	c, s := newTestCache(t)
	if err := s.Set(keyPageData+"page-1", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := c.Get(context.Background(), "page-1", 1); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestPageCacheMissesOnOtherRevision(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	// written late by a reader that loaded the grid before revision 2 landed
	if err := c.Set(ctx, "page-1", 1, sampleSnapshot()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok, err := c.Get(ctx, "page-1", 2); err != nil || ok {
		t.Fatalf("expected miss for newer revision, got ok=%v err=%v", ok, err)
	}
	if _, ok, _ := c.Get(ctx, "page-1", 1); !ok {
		t.Fatal("expected hit for the revision the entry was built for")
	}

	fresh := sheet.Snapshot{Columns: []sheet.Column{{ID: "c9", Name: "New", Order: 1, Width: 150}}}
	if err := c.Set(ctx, "page-1", 2, fresh); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok, _ := c.Get(ctx, "page-1", 2)
	if !ok || got.Columns[0].ID != "c9" || len(got.Rows) != 0 {
		t.Fatalf("expected fresh grid, got ok=%v %+v", ok, got)
	}
}
