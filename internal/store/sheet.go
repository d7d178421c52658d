package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"sheetapp/api/internal/sheet"
	"sheetapp/api/internal/util"
)

// bumpUpdatedAt always moves updated_at forward. The value doubles as the
// page cache revision, so two writes must never leave the same timestamp.
const bumpUpdatedAt = `GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')`

// lockPage takes the row lock that serializes every structural write to a
// page. The wait is unbounded.
func lockPage(ctx context.Context, tx *sql.Tx, pageID string) error {
	var id string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM pages WHERE id=$1 FOR UPDATE`, pageID).Scan(&id); err != nil {
		return err
	}
	return nil
}

func loadState(ctx context.Context, q queryer, pageID string) (sheet.State, error) {
	state := sheet.State{Columns: []sheet.Column{}, Rows: []sheet.Row{}, Cells: []sheet.Cell{}}

	cols, err := q.QueryContext(ctx, `SELECT id, name, sort_order, width FROM page_columns WHERE page_id=$1 ORDER BY sort_order`, pageID)
	if err != nil {
		return sheet.State{}, fmt.Errorf("load columns: %w", err)
	}
	for cols.Next() {
		var c sheet.Column
		if err := cols.Scan(&c.ID, &c.Name, &c.Order, &c.Width); err != nil {
			cols.Close()
			return sheet.State{}, fmt.Errorf("scan column: %w", err)
		}
		state.Columns = append(state.Columns, c)
	}
	cols.Close()
	if err := cols.Err(); err != nil {
		return sheet.State{}, fmt.Errorf("load columns: %w", err)
	}

	rows, err := q.QueryContext(ctx, `SELECT id, sort_order FROM page_rows WHERE page_id=$1 ORDER BY sort_order`, pageID)
	if err != nil {
		return sheet.State{}, fmt.Errorf("load rows: %w", err)
	}
	for rows.Next() {
		var r sheet.Row
		if err := rows.Scan(&r.ID, &r.Order); err != nil {
			rows.Close()
			return sheet.State{}, fmt.Errorf("scan row: %w", err)
		}
		state.Rows = append(state.Rows, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return sheet.State{}, fmt.Errorf("load rows: %w", err)
	}

	cells, err := q.QueryContext(ctx, `SELECT id, row_id, column_id, value FROM page_cells WHERE page_id=$1 ORDER BY id`, pageID)
	if err != nil {
		return sheet.State{}, fmt.Errorf("load cells: %w", err)
	}
	defer cells.Close()
	for cells.Next() {
		var c sheet.Cell
		if err := cells.Scan(&c.ID, &c.RowID, &c.ColumnID, &c.Value); err != nil {
			return sheet.State{}, fmt.Errorf("scan cell: %w", err)
		}
		state.Cells = append(state.Cells, c)
	}
	if err := cells.Err(); err != nil {
		return sheet.State{}, fmt.Errorf("load cells: %w", err)
	}
	return state, nil
}

// PageState reads the current structure without locking.
func (s *PostgresStore) PageState(ctx context.Context, pageID string) (sheet.State, error) {
	return loadState(ctx, s.db, pageID)
}

func setupDefaultStructure(ctx context.Context, tx *sql.Tx, pageID string) error {
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM page_columns WHERE page_id=$1`, pageID).Scan(&count); err != nil {
		return fmt.Errorf("count columns: %w", err)
	}
	if count > 0 {
		return nil
	}
	return insertColumns(ctx, tx, pageID, sheet.DefaultColumns(util.NewID))
}

// SetupDefaultStructure gives a page with no columns the two default columns.
// Pages that already have columns are left alone.
func (s *PostgresStore) SetupDefaultStructure(ctx context.Context, pageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin setup tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockPage(ctx, tx, pageID); err != nil {
		return err
	}
	if err := setupDefaultStructure(ctx, tx, pageID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit setup: %w", classify(err))
	}
	return nil
}

// SavePage reconciles the page against p under the page row lock and records
// a Version of the result. Nothing is written unless every step succeeds.
// The request context is detached up front: a client that goes away must
// not roll back a save that is already applying.
func (s *PostgresStore) SavePage(ctx context.Context, pageID, userID string, p sheet.Payload) (Version, error) {
	ctx = context.WithoutCancel(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Version{}, fmt.Errorf("begin save tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockPage(ctx, tx, pageID); err != nil {
		return Version{}, err
	}
	current, err := loadState(ctx, tx, pageID)
	if err != nil {
		return Version{}, err
	}
	changes, err := sheet.Plan(current, p, util.NewID)
	if err != nil {
		return Version{}, err
	}
	if err := applyChanges(ctx, tx, pageID, changes); err != nil {
		return Version{}, err
	}

	final, err := loadState(ctx, tx, pageID)
	if err != nil {
		return Version{}, err
	}
	snapshot, err := json.Marshal(sheet.BuildSnapshot(final))
	if err != nil {
		return Version{}, fmt.Errorf("encode snapshot: %w", err)
	}

	version := Version{PageID: pageID, CommitMessage: p.Message(), Snapshot: snapshot}
	if userID != "" {
		version.UserID = &userID
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO page_versions (page_id, user_id, commit_message, data_snapshot)
		VALUES ($1, $2, $3, $4::jsonb)
		RETURNING id, created_at
	`, pageID, nullString(version.UserID), version.CommitMessage, string(snapshot)).Scan(&version.ID, &version.CreatedAt)
	if err != nil {
		return Version{}, fmt.Errorf("insert version: %w", classify(err))
	}
	if err := tx.QueryRowContext(ctx, `UPDATE pages SET updated_at=`+bumpUpdatedAt+` WHERE id=$1 RETURNING slug`, pageID).Scan(&version.PageSlug); err != nil {
		return Version{}, fmt.Errorf("touch page: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Version{}, fmt.Errorf("commit save: %w", classify(err))
	}
	return version, nil
}

// applyChanges writes a plan in bulk: cell deletes, then the children of
// removed rows and columns, then the rows and columns themselves, then
// updates and creates.
func applyChanges(ctx context.Context, tx *sql.Tx, pageID string, c sheet.Changes) error {
	if len(c.DeleteCells) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM page_cells WHERE page_id=$1 AND id = ANY($2::bigint[])`, pageID, c.DeleteCells); err != nil {
			return fmt.Errorf("delete cells: %w", classify(err))
		}
	}

	if len(c.DeleteRows) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM todo_statuses WHERE page_id=$1 AND row_id = ANY($2::text[])`, pageID, c.DeleteRows); err != nil {
			return fmt.Errorf("delete row statuses: %w", classify(err))
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM page_cells WHERE page_id=$1 AND row_id = ANY($2::text[])`, pageID, c.DeleteRows); err != nil {
			return fmt.Errorf("delete row cells: %w", classify(err))
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM page_rows WHERE page_id=$1 AND id = ANY($2::text[])`, pageID, c.DeleteRows); err != nil {
			return fmt.Errorf("delete rows: %w", classify(err))
		}
	}
	if len(c.DeleteColumns) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM page_cells WHERE page_id=$1 AND column_id = ANY($2::text[])`, pageID, c.DeleteColumns); err != nil {
			return fmt.Errorf("delete column cells: %w", classify(err))
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM page_columns WHERE page_id=$1 AND id = ANY($2::text[])`, pageID, c.DeleteColumns); err != nil {
			return fmt.Errorf("delete columns: %w", classify(err))
		}
	}

	if len(c.UpdateColumns) > 0 {
		ids, names, orders, widths := columnArrays(c.UpdateColumns)
		if _, err := tx.ExecContext(ctx, `
			UPDATE page_columns AS c
			SET name = u.name, sort_order = u.sort_order, width = u.width, updated_at = NOW()
			FROM unnest($2::text[], $3::text[], $4::int4[], $5::int4[]) AS u(id, name, sort_order, width)
			WHERE c.id = u.id AND c.page_id = $1
		`, pageID, ids, names, orders, widths); err != nil {
			return fmt.Errorf("update columns: %w", classify(err))
		}
	}
	if len(c.UpdateRows) > 0 {
		ids, orders := rowArrays(c.UpdateRows)
		if _, err := tx.ExecContext(ctx, `
			UPDATE page_rows AS r
			SET sort_order = u.sort_order, updated_at = NOW()
			FROM unnest($2::text[], $3::int4[]) AS u(id, sort_order)
			WHERE r.id = u.id AND r.page_id = $1
		`, pageID, ids, orders); err != nil {
			return fmt.Errorf("update rows: %w", classify(err))
		}
	}

	if len(c.CreateColumns) > 0 {
		if err := insertColumns(ctx, tx, pageID, c.CreateColumns); err != nil {
			return err
		}
	}
	if len(c.CreateRows) > 0 {
		ids, orders := rowArrays(c.CreateRows)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO page_rows (id, page_id, sort_order)
			SELECT u.id, $1, u.sort_order
			FROM unnest($2::text[], $3::int4[]) AS u(id, sort_order)
		`, pageID, ids, orders); err != nil {
			return fmt.Errorf("create rows: %w", classify(err))
		}
	}

	if len(c.UpdateCells) > 0 {
		ids := make([]int64, len(c.UpdateCells))
		values := make([]string, len(c.UpdateCells))
		for i, cell := range c.UpdateCells {
			ids[i], values[i] = cell.ID, cell.Value
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE page_cells AS c
			SET value = u.value, updated_at = NOW()
			FROM unnest($2::bigint[], $3::text[]) AS u(id, value)
			WHERE c.id = u.id AND c.page_id = $1
		`, pageID, ids, values); err != nil {
			return fmt.Errorf("update cells: %w", classify(err))
		}
	}
	if len(c.CreateCells) > 0 {
		rowIDs := make([]string, len(c.CreateCells))
		columnIDs := make([]string, len(c.CreateCells))
		values := make([]string, len(c.CreateCells))
		for i, cell := range c.CreateCells {
			rowIDs[i], columnIDs[i], values[i] = cell.RowID, cell.ColumnID, cell.Value
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO page_cells (page_id, row_id, column_id, value)
			SELECT $1, u.row_id, u.column_id, u.value
			FROM unnest($2::text[], $3::text[], $4::text[]) AS u(row_id, column_id, value)
		`, pageID, rowIDs, columnIDs, values); err != nil {
			return fmt.Errorf("create cells: %w", classify(err))
		}
	}
	return nil
}

func insertColumns(ctx context.Context, tx *sql.Tx, pageID string, columns []sheet.Column) error {
	ids, names, orders, widths := columnArrays(columns)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO page_columns (id, page_id, name, sort_order, width)
		SELECT u.id, $1, u.name, u.sort_order, u.width
		FROM unnest($2::text[], $3::text[], $4::int4[], $5::int4[]) AS u(id, name, sort_order, width)
	`, pageID, ids, names, orders, widths); err != nil {
		return fmt.Errorf("create columns: %w", classify(err))
	}
	return nil
}

func columnArrays(columns []sheet.Column) (ids, names []string, orders, widths []int32) {
	ids = make([]string, len(columns))
	names = make([]string, len(columns))
	orders = make([]int32, len(columns))
	widths = make([]int32, len(columns))
	for i, col := range columns {
		ids[i], names[i] = col.ID, col.Name
		orders[i], widths[i] = int32(col.Order), int32(col.Width)
	}
	return ids, names, orders, widths
}

func rowArrays(rows []sheet.Row) (ids []string, orders []int32) {
	ids = make([]string, len(rows))
	orders = make([]int32, len(rows))
	for i, row := range rows {
		ids[i], orders[i] = row.ID, int32(row.Order)
	}
	return ids, orders
}

// UpdateColumnWidths validates a width batch under the page row lock and
// writes only the widths that change, returning those columns.
func (s *PostgresStore) UpdateColumnWidths(ctx context.Context, pageID string, updates []sheet.WidthUpdate) ([]sheet.Column, error) {
	ctx = context.WithoutCancel(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin widths tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockPage(ctx, tx, pageID); err != nil {
		return nil, err
	}
	state, err := loadState(ctx, tx, pageID)
	if err != nil {
		return nil, err
	}
	changed, err := sheet.PlanWidths(state.Columns, updates)
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		ids := make([]string, len(changed))
		widths := make([]int32, len(changed))
		for i, col := range changed {
			ids[i], widths[i] = col.ID, int32(col.Width)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE page_columns AS c
			SET width = u.width, updated_at = NOW()
			FROM unnest($2::text[], $3::int4[]) AS u(id, width)
			WHERE c.id = u.id AND c.page_id = $1
		`, pageID, ids, widths); err != nil {
			return nil, fmt.Errorf("update widths: %w", classify(err))
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE pages SET updated_at=`+bumpUpdatedAt+` WHERE id=$1`, pageID); err != nil {
		return nil, fmt.Errorf("touch page: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit widths: %w", classify(err))
	}
	return changed, nil
}

// ListVersions returns the page's versions, newest first.
func (s *PostgresStore) ListVersions(ctx context.Context, pageID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.page_id, p.slug, v.user_id, COALESCE(u.username, ''), COALESCE(u.email, ''),
			v.commit_message, v.data_snapshot, v.created_at
		FROM page_versions v
		JOIN pages p ON p.id = v.page_id
		LEFT JOIN users u ON u.id = v.user_id
		WHERE v.page_id = $1
		ORDER BY v.created_at DESC, v.id DESC
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	versions := []Version{}
	for rows.Next() {
		var v Version
		var userID sql.NullString
		var snapshot []byte
		if err := rows.Scan(&v.ID, &v.PageID, &v.PageSlug, &userID, &v.Username, &v.UserEmail, &v.CommitMessage, &snapshot, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		v.UserID = stringPtr(userID)
		v.Snapshot = json.RawMessage(snapshot)
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// SearchDocument flattens a page's name and cell text for indexing.
func (s *PostgresStore) SearchDocument(ctx context.Context, pageID string) (SearchDocument, error) {
	var doc SearchDocument
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.slug, p.name, p.updated_at,
			COALESCE((
				SELECT string_agg(c.value, ' ' ORDER BY r.sort_order, col.sort_order)
				FROM page_cells c
				JOIN page_rows r ON r.id = c.row_id
				JOIN page_columns col ON col.id = c.column_id
				WHERE c.page_id = p.id AND c.value <> ''
			), '')
		FROM pages p WHERE p.id = $1
	`, pageID).Scan(&doc.PageID, &doc.Slug, &doc.Name, &doc.UpdatedAt, &doc.Content)
	if err != nil {
		return SearchDocument{}, err
	}
	return doc, nil
}
