package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeIndex struct {
	mu      sync.Mutex
	healthy bool
	results []Result
	err     error
	indexed chan PageRecord
	bulk    []PageRecord
}

func (f *fakeIndex) Search(Query) ([]Result, int, error) {
	return f.results, len(f.results), f.err
}
func (f *fakeIndex) Healthy() bool { return f.healthy }
func (f *fakeIndex) IndexPage(page PageRecord) error {
	f.indexed <- page
	return nil
}
func (f *fakeIndex) IndexPages(pages []PageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulk = append(f.bulk, pages...)
	return nil
}
func (f *fakeIndex) DeletePage(string) error { return nil }

type fakeSearcher struct {
	results []Result
	calls   int
}

func (f *fakeSearcher) Search(Query) ([]Result, int, error) {
	f.calls++
	return f.results, len(f.results), nil
}
func (f *fakeSearcher) Healthy() bool { return true }

type fakeLoader []PageRecord

func (f fakeLoader) LoadAllRecords(context.Context) ([]PageRecord, error) { return f, nil }

func TestSearchFallsBackWhenIndexFails(t *testing.T) {
	idx := &fakeIndex{healthy: true, err: errors.New("boom")}
	pg := &fakeSearcher{results: []Result{{PageID: "p1", Slug: "budget"}}}
	svc := &Service{index: idx, fallback: pg}

	resp := svc.Search(Query{Text: "budget"}, nil)
	if pg.calls != 1 {
		t.Fatalf("expected fallback search, got %d calls", pg.calls)
	}
	if len(resp.Results) != 1 || resp.Results[0].Slug != "budget" || resp.Query != "budget" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSearchSkipsUnhealthyIndex(t *testing.T) {
	idx := &fakeIndex{healthy: false, results: []Result{{PageID: "stale"}}}
	pg := &fakeSearcher{results: []Result{{PageID: "p1"}}}
	svc := &Service{index: idx, fallback: pg}

	resp := svc.Search(Query{Text: "x"}, nil)
	if len(resp.Results) != 1 || resp.Results[0].PageID != "p1" {
		t.Fatalf("expected pgfts result, got %+v", resp.Results)
	}
}

func TestSearchFiltersByAllow(t *testing.T) {
	idx := &fakeIndex{healthy: true, results: []Result{{PageID: "mine"}, {PageID: "secret"}, {PageID: "public"}}}
	svc := &Service{index: idx}

	resp := svc.Search(Query{Text: "x"}, func(r Result) bool { return r.PageID != "secret" })
	if len(resp.Results) != 2 || resp.Total != 2 {
		t.Fatalf("expected 2 visible results, got %+v", resp)
	}
	for _, r := range resp.Results {
		if r.PageID == "secret" {
			t.Fatal("hidden page leaked into results")
		}
	}
}

func TestSearchWithoutBackendsIsEmpty(t *testing.T) {
	resp := (&Service{}).Search(Query{Text: "x"}, nil)
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp.Results)
	}
}

func TestIndexPageIsAsynchronous(t *testing.T) {
	idx := &fakeIndex{healthy: true, indexed: make(chan PageRecord, 1)}
	svc := &Service{index: idx}

	svc.IndexPage(PageRecord{ID: "p1", Name: "Budget"})
	select {
	case got := <-idx.indexed:
		if got.ID != "p1" {
			t.Fatalf("unexpected record %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("page was not indexed")
	}
}

func TestReindexAllFromPG(t *testing.T) {
	idx := &fakeIndex{healthy: true}
	svc := &Service{index: idx, loader: fakeLoader{{ID: "p1"}, {ID: "p2"}}}

	svc.ReindexAllFromPG(context.Background())
	if len(idx.bulk) != 2 {
		t.Fatalf("expected 2 pages reindexed, got %d", len(idx.bulk))
	}
}

func TestExcerptCentersOnHighlight(t *testing.T) {
	content := strings.Repeat("a", 300) + " <mark>needle</mark> tail"
	got := excerpt(content)
	if len([]rune(got)) > 160 {
		t.Fatalf("excerpt too long: %d", len([]rune(got)))
	}
	if !strings.Contains(got, "<mark>") {
		t.Fatalf("expected highlight in excerpt, got %q", got)
	}
}
