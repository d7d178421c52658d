package store

import (
	"context"
	"fmt"
	"strings"

	"sheetapp/api/internal/access"
	"sheetapp/api/internal/util"
)

const todoSelect = `
	SELECT t.id, t.source_page_id, p.slug, p.name, t.creator_id, u.username,
		t.name, t.slug, t.is_personal, t.created_at, t.updated_at
	FROM todos t
	JOIN pages p ON p.id = t.source_page_id
	JOIN users u ON u.id = t.creator_id
`

func scanTodo(row interface{ Scan(...any) error }) (Todo, error) {
	var t Todo
	err := row.Scan(&t.ID, &t.SourcePageID, &t.SourcePageSlug, &t.SourcePageName, &t.CreatorID, &t.CreatorUsername,
		&t.Name, &t.Slug, &t.IsPersonal, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func todoSlugTaken(ctx context.Context, q queryer, pageID, exceptID string) func(string) (bool, error) {
	return func(candidate string) (bool, error) {
		var taken bool
		err := q.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM todos WHERE source_page_id=$1 AND slug=$2 AND id <> $3)
		`, pageID, candidate, exceptID).Scan(&taken)
		return taken, err
	}
}

func todoSlug(ctx context.Context, q queryer, todoID, pageID, name string) (string, error) {
	base := util.Slugify(name)
	if base == "" {
		base = util.FallbackSlug("todo", todoID)
	}
	return util.UniqueSlug(base, todoSlugTaken(ctx, q, pageID, todoID))
}

// CreateTodo inserts a todo and one NOT_STARTED status for every row its
// source page has right now, in a single transaction.
func (s *PostgresStore) CreateTodo(ctx context.Context, pageID, creatorID, name string, isPersonal bool) (Todo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Todo{}, fmt.Errorf("begin todo tx: %w", err)
	}
	defer tx.Rollback()

	// rows must not change between the snapshot of ids and the status insert
	if err := lockPage(ctx, tx, pageID); err != nil {
		return Todo{}, err
	}

	id := util.NewID()
	name = strings.TrimSpace(name)
	slug, err := todoSlug(ctx, tx, id, pageID, name)
	if err != nil {
		return Todo{}, fmt.Errorf("pick todo slug: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO todos (id, source_page_id, creator_id, name, slug, is_personal)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, pageID, creatorID, name, slug, isPersonal); err != nil {
		return Todo{}, fmt.Errorf("insert todo: %w", classify(err))
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO todo_statuses (todo_id, page_id, row_id, status)
		SELECT $1, r.page_id, r.id, 'NOT_STARTED'
		FROM page_rows r WHERE r.page_id = $2
	`, id, pageID); err != nil {
		return Todo{}, fmt.Errorf("insert todo statuses: %w", classify(err))
	}

	todo, err := scanTodo(tx.QueryRowContext(ctx, todoSelect+` WHERE t.id=$1`, id))
	if err != nil {
		return Todo{}, fmt.Errorf("read todo: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Todo{}, fmt.Errorf("commit todo: %w", classify(err))
	}
	return todo, nil
}

func (s *PostgresStore) GetTodo(ctx context.Context, todoID string) (Todo, error) {
	return scanTodo(s.db.QueryRowContext(ctx, todoSelect+` WHERE t.id=$1`, todoID))
}

// ListTodos applies the todo visibility rule: admins see everything, other
// users see their own todos and shared todos of pages they can view.
func (s *PostgresStore) ListTodos(ctx context.Context, actor access.Actor) ([]Todo, error) {
	query := todoSelect + ` ORDER BY t.created_at DESC, t.id`
	var args []any
	switch {
	case actor.Anonymous():
		return []Todo{}, nil
	case !actor.Admin():
		// the page filter binds the same user id as $1
		filter, _ := visiblePages(actor)
		query = todoSelect + ` WHERE t.creator_id = $1 OR (NOT t.is_personal AND ` + filter + `) ORDER BY t.created_at DESC, t.id`
		args = []any{actor.UserID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	todos := []Todo{}
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

// UpdateTodo changes name and/or is_personal. A new name re-derives the slug.
func (s *PostgresStore) UpdateTodo(ctx context.Context, todoID string, name *string, isPersonal *bool) (Todo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Todo{}, fmt.Errorf("begin todo tx: %w", err)
	}
	defer tx.Rollback()

	current, err := scanTodo(tx.QueryRowContext(ctx, todoSelect+` WHERE t.id=$1 FOR UPDATE OF t`, todoID))
	if err != nil {
		return Todo{}, err
	}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed != current.Name {
			slug, err := todoSlug(ctx, tx, todoID, current.SourcePageID, trimmed)
			if err != nil {
				return Todo{}, fmt.Errorf("pick todo slug: %w", err)
			}
			current.Name, current.Slug = trimmed, slug
		}
	}
	if isPersonal != nil {
		current.IsPersonal = *isPersonal
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE todos SET name=$2, slug=$3, is_personal=$4, updated_at=NOW() WHERE id=$1
	`, todoID, current.Name, current.Slug, current.IsPersonal); err != nil {
		return Todo{}, fmt.Errorf("update todo: %w", classify(err))
	}

	todo, err := scanTodo(tx.QueryRowContext(ctx, todoSelect+` WHERE t.id=$1`, todoID))
	if err != nil {
		return Todo{}, fmt.Errorf("read todo: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Todo{}, fmt.Errorf("commit todo: %w", classify(err))
	}
	return todo, nil
}

func (s *PostgresStore) DeleteTodo(ctx context.Context, todoID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin todo tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM todo_statuses WHERE todo_id=$1`, todoID); err != nil {
		return fmt.Errorf("delete todo statuses: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE id=$1`, todoID)
	if err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit todo delete: %w", err)
	}
	return nil
}

const statusSelect = `
	SELECT ts.id, ts.todo_id, ts.row_id, r.sort_order, ts.status, ts.updated_at
	FROM todo_statuses ts
	JOIN page_rows r ON r.id = ts.row_id
`

func scanStatus(row interface{ Scan(...any) error }) (TodoStatus, error) {
	var st TodoStatus
	err := row.Scan(&st.ID, &st.TodoID, &st.RowID, &st.RowOrder, &st.Status, &st.UpdatedAt)
	return st, err
}

// ListTodoStatuses returns the statuses of a todo in row order.
func (s *PostgresStore) ListTodoStatuses(ctx context.Context, todoID string) ([]TodoStatus, error) {
	rows, err := s.db.QueryContext(ctx, statusSelect+` WHERE ts.todo_id=$1 ORDER BY r.sort_order`, todoID)
	if err != nil {
		return nil, fmt.Errorf("list todo statuses: %w", err)
	}
	defer rows.Close()

	statuses := []TodoStatus{}
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan todo status: %w", err)
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

func (s *PostgresStore) RowBelongsToPage(ctx context.Context, rowID, pageID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM page_rows WHERE id=$1 AND page_id=$2)`, rowID, pageID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check row page: %w", err)
	}
	return ok, nil
}

func (s *PostgresStore) GetTodoStatus(ctx context.Context, todoID, rowID string) (TodoStatus, error) {
	return scanStatus(s.db.QueryRowContext(ctx, statusSelect+` WHERE ts.todo_id=$1 AND ts.row_id=$2`, todoID, rowID))
}

// SetTodoStatus writes status when it differs and returns the entry either way.
// A missing entry is sql.ErrNoRows.
func (s *PostgresStore) SetTodoStatus(ctx context.Context, todoID, rowID, status string) (TodoStatus, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE todo_statuses SET status=$3, updated_at=NOW()
		WHERE todo_id=$1 AND row_id=$2 AND status <> $3
	`, todoID, rowID, status)
	if err != nil {
		return TodoStatus{}, fmt.Errorf("update todo status: %w", classify(err))
	}
	return s.GetTodoStatus(ctx, todoID, rowID)
}
