package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the generated tsvector columns on pages
// and page_cells. It is used whenever Meilisearch is absent or unhealthy.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks pages by their best match across the page name and cell
// values, using ts_headline on the matching cell for the snippet.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := limitOrDefault(q.Limit)
	offset := max(q.Offset, 0)

	const matches = `
		SELECT p.id AS page_id, ts_rank(p.fts, plainto_tsquery('simple', $1)) * 2 AS rank, ''::text AS snippet
		FROM pages p
		WHERE p.fts @@ plainto_tsquery('simple', $1)
		UNION ALL
		SELECT c.page_id,
			ts_rank(c.fts, plainto_tsquery('simple', $1)),
			ts_headline('simple', c.value, plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>')
		FROM page_cells c
		WHERE c.fts @@ plainto_tsquery('simple', $1)`

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT count(DISTINCT page_id) FROM (%s) m`, matches), q.Text,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT pg.id, pg.slug, pg.name, best.snippet
		FROM (
			SELECT DISTINCT ON (page_id) page_id, rank, snippet
			FROM (%s) m
			ORDER BY page_id, rank DESC
		) best
		JOIN pages pg ON pg.id = best.page_id
		ORDER BY best.rank DESC, pg.updated_at DESC
		LIMIT %d OFFSET %d`, matches, limit, offset), q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.PageID, &r.Slug, &r.Name, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every page flattened for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT p.id, p.slug, p.name, p.updated_at,
			COALESCE((
				SELECT string_agg(c.value, ' ' ORDER BY r.sort_order, col.sort_order)
				FROM page_cells c
				JOIN page_rows r ON r.id = c.row_id
				JOIN page_columns col ON col.id = c.column_id
				WHERE c.page_id = p.id AND c.value <> ''
			), '')
		FROM pages p
	`)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	defer rows.Close()

	pages := make([]PageRecord, 0)
	for rows.Next() {
		var (
			rec PageRecord
			upd sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.Slug, &rec.Name, &upd, &rec.Content); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		if upd.Valid {
			rec.UpdatedAt = upd.Time.Unix()
		}
		pages = append(pages, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}
