package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog/log"
)

const idxPages = "sheet_pages"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the page index.
// An unreachable server is not an error; the health loop picks it up later.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("search: meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxPages,
		PrimaryKey: "id",
	}); err != nil {
		log.Debug().Err(err).Msg("search: create index (may already exist)")
	}

	index := m.client.Index(idxPages)
	searchable := []string{"name", "content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Warn().Err(err).Msg("search: update searchable attrs")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Info().Msg("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxPages,
			Query:                 q.Text,
			Limit:                 int64(limitOrDefault(q.Limit)),
			Offset:                int64(max(q.Offset, 0)),
			AttributesToHighlight: []string{"name", "content"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		PageID:  decodeString(hit, "id"),
		Slug:    decodeString(hit, "slug"),
		Name:    firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name")),
		Snippet: excerpt(firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexPage adds or replaces a page in the index.
func (m *Meili) IndexPage(page PageRecord) error {
	_, err := m.client.Index(idxPages).AddDocuments([]PageRecord{page}, nil)
	return err
}

// IndexPages bulk-indexes pages.
func (m *Meili) IndexPages(pages []PageRecord) error {
	if len(pages) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPages).AddDocuments(pages, nil)
	return err
}

func (m *Meili) DeletePage(id string) error {
	_, err := m.client.Index(idxPages).DeleteDocument(id, nil)
	return err
}

// excerpt keeps the text around the first highlight.
func excerpt(content string) string {
	const width = 160
	runes := []rune(content)
	if len(runes) <= width {
		return content
	}
	start := 0
	if i := strings.Index(content, "<mark>"); i > 0 {
		start = max(len([]rune(content[:i]))-width/4, 0)
	}
	end := min(start+width, len(runes))
	return strings.TrimSpace(string(runes[start:end]))
}
