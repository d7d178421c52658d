package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"sheetapp/api/internal/access"
	"sheetapp/api/internal/gitrepo"
	"sheetapp/api/internal/search"
	"sheetapp/api/internal/sheet"
	"sheetapp/api/internal/store"
)

const (
	maxPageNameLength   = 255
	defaultHistoryLimit = 50
)

// authorizedPage is a page the caller has been checked against.
type authorizedPage struct {
	page  store.Page
	acl   access.Page
	actor access.Actor
}

func (p authorizedPage) allows(level access.Level) bool {
	return access.Resolve(p.actor, &p.acl, level)
}

// authorizePage loads the page behind slug and checks the caller holds level
// on it. Anonymous callers asking for more than they have get 401, others 403.
func (s *Service) authorizePage(ctx context.Context, session Session, slug string, level access.Level) (authorizedPage, error) {
	page, err := s.store.GetPageBySlug(ctx, strings.TrimSpace(slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authorizedPage{}, notFound("Page not found.")
		}
		return authorizedPage{}, fmt.Errorf("load page: %w", err)
	}
	actor, err := s.actor(ctx, session)
	if err != nil {
		return authorizedPage{}, err
	}
	acl, err := s.store.PageAccess(ctx, page.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authorizedPage{}, notFound("Page not found.")
		}
		return authorizedPage{}, fmt.Errorf("load page access: %w", err)
	}

	ref := authorizedPage{page: page, acl: acl, actor: actor}
	if !ref.allows(level) {
		if actor.Anonymous() {
			return authorizedPage{}, unauthorized()
		}
		return authorizedPage{}, forbidden("")
	}
	return ref, nil
}

func validatePageName(name string) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return fieldError("name", "This field may not be blank.")
	case utf8.RuneCountInString(name) > maxPageNameLength:
		return fieldError("name", fmt.Sprintf("Ensure this field has no more than %d characters.", maxPageNameLength))
	}
	return nil
}

func pageSummary(page store.Page) map[string]any {
	return map[string]any{
		"id":         page.ID,
		"name":       page.Name,
		"slug":       page.Slug,
		"owner":      map[string]any{"id": page.OwnerID, "username": page.OwnerUsername},
		"created_at": page.CreatedAt,
		"updated_at": page.UpdatedAt,
	}
}

func (s *Service) ListPages(ctx context.Context, session Session) (map[string]any, error) {
	actor, err := s.actor(ctx, session)
	if err != nil {
		return nil, err
	}
	pages, err := s.store.ListVisiblePages(ctx, actor)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(pages))
	for _, page := range pages {
		items = append(items, pageSummary(page))
	}
	return map[string]any{"pages": items}, nil
}

// CreatePage creates a page owned by the caller with the default columns.
func (s *Service) CreatePage(ctx context.Context, session Session, name string) (map[string]any, error) {
	if !session.Authenticated() {
		return nil, unauthorized()
	}
	if err := validatePageName(name); err != nil {
		return nil, err
	}
	page, err := s.store.CreatePage(ctx, name, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	log.Info().Str("page_id", page.ID).Str("slug", page.Slug).Str("owner_id", session.UserID).Msg("page created")

	s.reindexPage(page.ID)
	return s.pageDetail(ctx, page)
}

func (s *Service) GetPage(ctx context.Context, session Session, slug string) (map[string]any, error) {
	ref, err := s.authorizePage(ctx, session, slug, access.LevelView)
	if err != nil {
		return nil, err
	}
	return s.pageDetail(ctx, ref.page)
}

func (s *Service) pageDetail(ctx context.Context, page store.Page) (map[string]any, error) {
	snap, err := s.pageSnapshot(ctx, page)
	if err != nil {
		return nil, err
	}
	payload := pageSummary(page)
	payload["columns"] = snap.Columns
	return payload, nil
}

// RenamePage changes the display name. The slug stays put so links keep working.
func (s *Service) RenamePage(ctx context.Context, session Session, slug, name string) (map[string]any, error) {
	ref, err := s.authorizePage(ctx, session, slug, access.LevelEdit)
	if err != nil {
		return nil, err
	}
	if err := validatePageName(name); err != nil {
		return nil, err
	}
	page, err := s.store.RenamePage(ctx, ref.page.ID, name)
	if err != nil {
		return nil, err
	}
	s.reindexPage(page.ID)
	return s.pageDetail(ctx, page)
}

// DeletePage removes the page with everything under it, then clears the
// page from the cache, the search index, the version mirror and the archive.
func (s *Service) DeletePage(ctx context.Context, session Session, slug string) error {
	ref, err := s.authorizePage(ctx, session, slug, access.LevelEdit)
	if err != nil {
		return err
	}
	pageID := ref.page.ID
	if err := s.store.DeletePage(ctx, pageID); err != nil {
		return err
	}
	log.Info().Str("page_id", pageID).Str("slug", ref.page.Slug).Str("user_id", session.UserID).Msg("page deleted")

	s.invalidatePage(ctx, pageID)
	if s.search != nil {
		s.search.DeletePage(pageID)
	}
	s.background(func() {
		if s.git != nil {
			if err := s.git.Remove(pageID); err != nil {
				log.Error().Err(err).Str("page_id", pageID).Msg("remove page history")
			}
		}
		if s.archive != nil {
			if err := s.archive.RemovePage(context.Background(), pageID); err != nil {
				log.Error().Err(err).Str("page_id", pageID).Msg("remove page exports")
			}
		}
	})
	return nil
}

// page data

// pageSnapshot returns the current grid, from the cache when possible.
// page must come from a fresh read: its updated_at is the cache revision, so
// a grid loaded before a later save can never be served for the newer page.
// Concurrent misses for one revision share a single database read.
func (s *Service) pageSnapshot(ctx context.Context, page store.Page) (sheet.Snapshot, error) {
	pageID := page.ID
	revision := page.UpdatedAt.UnixMicro()
	if s.cache != nil {
		snap, ok, err := s.cache.Get(ctx, pageID, revision)
		if err != nil {
			log.Warn().Err(err).Str("page_id", pageID).Msg("page cache read failed")
		} else if ok {
			return snap, nil
		}
	}

	key := pageID + "@" + strconv.FormatInt(revision, 10)
	v, err, _ := s.loads.Do(key, func() (any, error) {
		// shared by every waiter, so one caller going away must not fail the rest
		loadCtx := context.WithoutCancel(ctx)
		state, err := s.store.PageState(loadCtx, pageID)
		if err != nil {
			return nil, fmt.Errorf("load page state: %w", err)
		}
		snap := sheet.BuildSnapshot(state)
		if s.cache != nil {
			if err := s.cache.Set(loadCtx, pageID, revision, snap); err != nil {
				log.Warn().Err(err).Str("page_id", pageID).Msg("page cache write failed")
			}
		}
		return snap, nil
	})
	if err != nil {
		return sheet.Snapshot{}, err
	}
	return v.(sheet.Snapshot), nil
}

func (s *Service) invalidatePage(ctx context.Context, pageID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), pageID); err != nil {
		log.Warn().Err(err).Str("page_id", pageID).Msg("page cache invalidation failed")
	}
}

func (s *Service) ownerPayload(ctx context.Context, page store.Page) map[string]any {
	owner := userPayload(page.OwnerID, page.OwnerUsername, "")
	user, err := s.store.GetUserByID(ctx, page.OwnerID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", page.OwnerID).Msg("load page owner")
		return owner
	}
	return userPayload(user.ID, user.Username, user.Email)
}

// GetPageData returns the full grid of a page. Anonymous callers may read
// pages with public VIEW.
func (s *Service) GetPageData(ctx context.Context, session Session, slug string) (map[string]any, error) {
	ref, err := s.authorizePage(ctx, session, slug, access.LevelView)
	if err != nil {
		return nil, err
	}
	snap, err := s.pageSnapshot(ctx, ref.page)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":      ref.page.ID,
		"name":    ref.page.Name,
		"slug":    ref.page.Slug,
		"owner":   s.ownerPayload(ctx, ref.page),
		"columns": snap.Columns,
		"rows":    snap.Rows,
	}, nil
}

// SavePage reconciles the page against a full submitted grid and records a
// version. Permission and payload checks run before the page lock is taken.
func (s *Service) SavePage(ctx context.Context, session Session, slug string, payload sheet.Payload) (map[string]any, error) {
	if !session.Authenticated() {
		return nil, unauthorized()
	}
	ref, err := s.authorizePage(ctx, session, slug, access.LevelEdit)
	if err != nil {
		return nil, err
	}
	if err := sheet.Validate(payload); err != nil {
		return nil, err
	}

	started := time.Now()
	version, err := s.store.SavePage(ctx, ref.page.ID, session.UserID, payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Page not found.")
		}
		return nil, err
	}
	log.Info().
		Str("page_id", ref.page.ID).
		Str("user_id", session.UserID).
		Int64("version_id", version.ID).
		Int("columns", len(payload.Columns)).
		Int("rows", len(payload.Rows)).
		Dur("took", time.Since(started)).
		Msg("page saved")

	s.invalidatePage(ctx, ref.page.ID)
	s.mirrorVersion(ref.page.ID, session.UserName, version)
	s.reindexPage(ref.page.ID)

	return map[string]any{"message": "Page saved successfully", "version_id": version.ID}, nil
}

// mirrorVersion records a saved version in the page's git history.
func (s *Service) mirrorVersion(pageID, author string, version store.Version) {
	if s.git == nil {
		return
	}
	var snap sheet.Snapshot
	if err := json.Unmarshal(version.Snapshot, &snap); err != nil {
		log.Error().Err(err).Int64("version_id", version.ID).Msg("decode version snapshot")
		return
	}
	commit := gitrepo.VersionCommit{
		VersionID: version.ID,
		Author:    author,
		Message:   version.CommitMessage,
		Snapshot:  snap,
		When:      version.CreatedAt,
	}
	s.background(func() {
		if _, err := s.git.CommitVersion(pageID, commit); err != nil {
			log.Error().Err(err).Str("page_id", pageID).Int64("version_id", version.ID).Msg("mirror version to git")
		}
	})
}

// reindexPage pushes the current name and cell text of a page to search.
func (s *Service) reindexPage(pageID string) {
	if s.search == nil {
		return
	}
	s.background(func() {
		doc, err := s.store.SearchDocument(context.Background(), pageID)
		if err != nil {
			log.Error().Err(err).Str("page_id", pageID).Msg("load search document")
			return
		}
		s.search.IndexPage(search.NewPageRecord(doc.PageID, doc.Slug, doc.Name, doc.Content, doc.UpdatedAt))
	})
}

// UpdateColumnWidths applies a batch of width changes. One bad item rejects
// the whole batch with every problem listed.
func (s *Service) UpdateColumnWidths(ctx context.Context, session Session, slug string, updates []sheet.WidthUpdate) (map[string]any, error) {
	if !session.Authenticated() {
		return nil, unauthorized()
	}
	ref, err := s.authorizePage(ctx, session, slug, access.LevelEdit)
	if err != nil {
		return nil, err
	}
	changed, err := s.store.UpdateColumnWidths(ctx, ref.page.ID, updates)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Page not found.")
		}
		return nil, err
	}
	if len(changed) > 0 {
		s.invalidatePage(ctx, ref.page.ID)
	}

	requested := make([]string, 0, len(updates))
	seen := make(map[string]struct{}, len(updates))
	for _, update := range updates {
		if update.ID == nil {
			continue
		}
		id := strings.TrimSpace(*update.ID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		requested = append(requested, id)
	}
	changedIDs := make([]string, 0, len(changed))
	for _, col := range changed {
		changedIDs = append(changedIDs, col.ID)
	}
	return map[string]any{
		"message": fmt.Sprintf("Widths updated for columns: [%s]", strings.Join(requested, ", ")),
		"changed": changedIDs,
	}, nil
}

// versions

func versionPayload(v store.Version) map[string]any {
	var user any
	if v.UserID != nil {
		user = userPayload(*v.UserID, v.Username, v.UserEmail)
	}
	return map[string]any{
		"id":             v.ID,
		"page_slug":      v.PageSlug,
		"user":           user,
		"timestamp":      v.CreatedAt,
		"commit_message": v.CommitMessage,
		"data_snapshot":  v.Snapshot,
	}
}

func (s *Service) ListVersions(ctx context.Context, session Session, slug string) (map[string]any, error) {
	if !session.Authenticated() {
		return nil, unauthorized()
	}
	ref, err := s.authorizePage(ctx, session, slug, access.LevelView)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, ref.page.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		items = append(items, versionPayload(v))
	}
	return map[string]any{"versions": items}, nil
}

// History lists the git commits mirroring the page's versions.
func (s *Service) History(ctx context.Context, session Session, slug string, limit int) (map[string]any, error) {
	if !session.Authenticated() {
		return nil, unauthorized()
	}
	ref, err := s.authorizePage(ctx, session, slug, access.LevelView)
	if err != nil {
		return nil, err
	}
	if s.git == nil {
		return map[string]any{"commits": []gitrepo.CommitInfo{}}, nil
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	commits, err := s.git.History(ref.page.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("page history: %w", err)
	}
	return map[string]any{"commits": commits}, nil
}

// HistorySnapshot returns the grid recorded by one history commit.
func (s *Service) HistorySnapshot(ctx context.Context, session Session, slug, hash string) (map[string]any, error) {
	if !session.Authenticated() {
		return nil, unauthorized()
	}
	ref, err := s.authorizePage(ctx, session, slug, access.LevelView)
	if err != nil {
		return nil, err
	}
	if s.git == nil {
		return nil, notFound("Page history is not enabled.")
	}
	snap, err := s.git.SnapshotAt(ref.page.ID, hash)
	if err != nil {
		if errors.Is(err, gitrepo.ErrNoRepo) || errors.Is(err, gitrepo.ErrUnknownCommit) {
			return nil, notFound("Commit not found.")
		}
		return nil, err
	}
	return map[string]any{"hash": hash, "columns": snap.Columns, "rows": snap.Rows}, nil
}
