package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"sheetapp/api/internal/access"
	"sheetapp/api/internal/export"
	"sheetapp/api/internal/search"
)

// Search looks up pages by name and cell text. Hits the caller cannot view
// are dropped.
func (s *Service) Search(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" || s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	actor, err := s.actor(ctx, session)
	if err != nil {
		return search.Response{}, err
	}
	allow := func(r search.Result) bool {
		acl, err := s.store.PageAccess(ctx, r.PageID)
		if err != nil {
			return false
		}
		return access.Resolve(actor, &acl, access.LevelView)
	}
	return s.search.Search(q, allow), nil
}

func (s *Service) renderExport(ctx context.Context, session Session, slug string, format export.Format) (authorizedPage, *export.Result, error) {
	ref, err := s.authorizePage(ctx, session, slug, access.LevelView)
	if err != nil {
		return authorizedPage{}, nil, err
	}
	if !format.Valid() {
		return authorizedPage{}, nil, fieldError("format", "Format must be one of csv, pdf.")
	}
	snap, err := s.pageSnapshot(ctx, ref.page)
	if err != nil {
		return authorizedPage{}, nil, err
	}
	res, err := s.exporter.Export(ctx, export.Request{
		Title:     ref.page.Name,
		Owner:     ref.page.OwnerUsername,
		UpdatedAt: ref.page.UpdatedAt,
		Snapshot:  snap,
		Format:    format,
	})
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return authorizedPage{}, nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server.", nil)
		}
		return authorizedPage{}, nil, err
	}
	return ref, res, nil
}

// Export renders the page as a downloadable file.
func (s *Service) Export(ctx context.Context, session Session, slug string, format export.Format) (*export.Result, error) {
	_, res, err := s.renderExport(ctx, session, slug, format)
	return res, err
}

// ArchiveExport renders the page and stores the file in object storage,
// returning a time-limited download link.
func (s *Service) ArchiveExport(ctx context.Context, session Session, slug string, format export.Format) (map[string]any, error) {
	if !session.Authenticated() {
		return nil, unauthorized()
	}
	if s.archive == nil {
		return nil, notConfigured("Export archiving is not configured.")
	}
	ref, res, err := s.renderExport(ctx, session, slug, format)
	if err != nil {
		return nil, err
	}
	archived, err := s.archive.Archive(ctx, ref.page.ID, res)
	if err != nil {
		return nil, err
	}
	log.Info().Str("page_id", ref.page.ID).Str("key", archived.Key).Str("user_id", session.UserID).Msg("export archived")
	return map[string]any{
		"key":        archived.Key,
		"url":        archived.URL,
		"expires_at": archived.ExpiresAt,
		"filename":   res.Filename,
	}, nil
}

// PublishToGoogle copies the page into a new Google spreadsheet.
func (s *Service) PublishToGoogle(ctx context.Context, session Session, slug string) (map[string]any, error) {
	if !session.Authenticated() {
		return nil, unauthorized()
	}
	if s.publisher == nil {
		return nil, notConfigured("Google Sheets publishing is not configured.")
	}
	ref, err := s.authorizePage(ctx, session, slug, access.LevelView)
	if err != nil {
		return nil, err
	}
	snap, err := s.pageSnapshot(ctx, ref.page)
	if err != nil {
		return nil, err
	}
	published, err := s.publisher.Publish(ctx, ref.page.Name, snap)
	if err != nil {
		return nil, err
	}
	log.Info().Str("page_id", ref.page.ID).Str("spreadsheet_id", published.SpreadsheetID).Msg("page published to google sheets")
	return map[string]any{"spreadsheet_id": published.SpreadsheetID, "url": published.URL}, nil
}

func notConfigured(message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, "NOT_CONFIGURED", message, nil)
}
