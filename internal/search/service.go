package search

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Index is a primary search backend that also accepts page updates.
type Index interface {
	Searcher
	IndexPage(page PageRecord) error
	IndexPages(pages []PageRecord) error
	DeletePage(id string) error
}

// Loader reads every page for a full reindex.
type Loader interface {
	LoadAllRecords(ctx context.Context) ([]PageRecord, error)
}

// Service is the facade that tries the index first and falls back to PG FTS.
type Service struct {
	index    Index
	fallback Searcher
	loader   Loader
}

// NewService creates a search service. index may be nil when Meilisearch
// is not configured.
func NewService(index Index, pgfts *PgFTS) *Service {
	return &Service{index: index, fallback: pgfts, loader: pgfts}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search runs q and drops results allow rejects. allow may be nil.
func (s *Service) Search(q Query, allow func(Result) bool) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return filtered(q.Text, results, total, allow)
		}
		log.Warn().Err(err).Msg("search: meilisearch error, falling back to pgfts")
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Error().Err(err).Msg("search: pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return filtered(q.Text, results, total, allow)
}

func filtered(text string, results []Result, total int, allow func(Result) bool) Response {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if allow != nil && !allow(r) {
			total--
			continue
		}
		out = append(out, r)
	}
	return Response{Results: out, Total: max(total, len(out)), Query: text}
}

// IndexPage pushes a page to the index (fire-and-forget).
func (s *Service) IndexPage(page PageRecord) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.IndexPage(page); err != nil {
			log.Warn().Err(err).Str("page_id", page.ID).Msg("search: index page")
		}
	}()
}

// DeletePage removes a page from the index (fire-and-forget).
func (s *Service) DeletePage(id string) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.DeletePage(id); err != nil {
			log.Warn().Err(err).Str("page_id", id).Msg("search: delete page")
		}
	}()
}

// ReindexAllFromPG pushes every page from PostgreSQL into the index.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.indexReady() || s.loader == nil {
		return
	}
	pages, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		log.Error().Err(err).Msg("search: reindex load failed")
		return
	}
	if err := s.index.IndexPages(pages); err != nil {
		log.Error().Err(err).Msg("search: reindex pages")
		return
	}
	log.Info().Int("pages", len(pages)).Msg("search: reindexed")
}
