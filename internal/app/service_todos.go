package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"sheetapp/api/internal/access"
	"sheetapp/api/internal/store"
)

const maxTodoNameLength = 255

// CreateTodoRequest creates a todo list. IsPersonal defaults to true when
// omitted.
type CreateTodoRequest struct {
	Name           string `json:"name"`
	IsPersonal     *bool  `json:"is_personal"`
	SourcePageSlug string `json:"source_page_slug"`
}

func (r CreateTodoRequest) personal() bool {
	return r.IsPersonal == nil || *r.IsPersonal
}

type UpdateTodoRequest struct {
	Name       *string `json:"name"`
	IsPersonal *bool   `json:"is_personal"`
}

func todoPayload(t store.Todo) map[string]any {
	return map[string]any{
		"id":               t.ID,
		"name":             t.Name,
		"slug":             t.Slug,
		"source_page_slug": t.SourcePageSlug,
		"source_page_name": t.SourcePageName,
		"creator":          map[string]any{"id": t.CreatorID, "username": t.CreatorUsername},
		"is_personal":      t.IsPersonal,
		"created_at":       t.CreatedAt,
	}
}

func statusPayload(st store.TodoStatus) map[string]any {
	return map[string]any{
		"id":         st.ID,
		"row_id":     st.RowID,
		"row_order":  st.RowOrder,
		"status":     st.Status,
		"updated_at": st.UpdatedAt,
	}
}

func validateTodoName(name string) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return fieldError("name", "This field may not be blank.")
	case utf8.RuneCountInString(name) > maxTodoNameLength:
		return fieldError("name", fmt.Sprintf("Ensure this field has no more than %d characters.", maxTodoNameLength))
	}
	return nil
}

func (s *Service) ListTodos(ctx context.Context, session Session) (map[string]any, error) {
	if !session.Authenticated() {
		return nil, unauthorized()
	}
	actor, err := s.actor(ctx, session)
	if err != nil {
		return nil, err
	}
	todos, err := s.store.ListTodos(ctx, actor)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(todos))
	for _, t := range todos {
		items = append(items, todoPayload(t))
	}
	return map[string]any{"todos": items}, nil
}

// CreateTodo derives a to-do list from a page the caller can view. Every row
// the page has at that moment gets a NOT_STARTED status.
func (s *Service) CreateTodo(ctx context.Context, session Session, req CreateTodoRequest) (map[string]any, error) {
	if !session.Authenticated() {
		return nil, unauthorized()
	}
	if err := validateTodoName(req.Name); err != nil {
		return nil, err
	}
	slug := strings.TrimSpace(req.SourcePageSlug)
	if slug == "" {
		return nil, fieldError("source_page_slug", "This field is required.")
	}
	page, err := s.store.GetPageBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fieldError("source_page_slug", "Source page not found.")
		}
		return nil, err
	}
	actor, err := s.actor(ctx, session)
	if err != nil {
		return nil, err
	}
	acl, err := s.store.PageAccess(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	if !access.Resolve(actor, &acl, access.LevelView) {
		return nil, forbidden("You do not have permission to view the source page to create a ToDo list from it.")
	}

	todo, err := s.store.CreateTodo(ctx, page.ID, session.UserID, req.Name, req.personal())
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, conflict("A ToDo list with this name already exists for the page.")
		}
		return nil, err
	}
	log.Info().Str("todo_id", todo.ID).Str("page_id", page.ID).Str("creator_id", session.UserID).Msg("todo created")
	return s.todoDetail(ctx, todo)
}

// loadTodo returns a todo the caller can see. Todos the caller cannot see
// are reported as missing.
func (s *Service) loadTodo(ctx context.Context, session Session, todoID string) (store.Todo, access.Actor, error) {
	if !session.Authenticated() {
		return store.Todo{}, access.Actor{}, unauthorized()
	}
	todo, err := s.store.GetTodo(ctx, strings.TrimSpace(todoID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Todo{}, access.Actor{}, notFound("")
		}
		return store.Todo{}, access.Actor{}, err
	}
	actor, err := s.actor(ctx, session)
	if err != nil {
		return store.Todo{}, access.Actor{}, err
	}
	if actor.Admin() || todo.CreatorID == actor.UserID {
		return todo, actor, nil
	}
	if !todo.IsPersonal {
		acl, err := s.store.PageAccess(ctx, todo.SourcePageID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return store.Todo{}, access.Actor{}, err
		}
		if err == nil && access.Resolve(actor, &acl, access.LevelView) {
			return todo, actor, nil
		}
	}
	return store.Todo{}, access.Actor{}, notFound("")
}

// loadOwnTodo is loadTodo restricted to the creator and admins.
func (s *Service) loadOwnTodo(ctx context.Context, session Session, todoID string) (store.Todo, error) {
	todo, actor, err := s.loadTodo(ctx, session, todoID)
	if err != nil {
		return store.Todo{}, err
	}
	if !actor.Admin() && todo.CreatorID != actor.UserID {
		return store.Todo{}, forbidden("")
	}
	return todo, nil
}

func (s *Service) todoDetail(ctx context.Context, todo store.Todo) (map[string]any, error) {
	statuses, err := s.store.ListTodoStatuses(ctx, todo.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(statuses))
	for _, st := range statuses {
		items = append(items, statusPayload(st))
	}
	return map[string]any{
		"id":   todo.ID,
		"name": todo.Name,
		"slug": todo.Slug,
		"source_page": map[string]any{
			"id":   todo.SourcePageID,
			"name": todo.SourcePageName,
			"slug": todo.SourcePageSlug,
		},
		"creator":     map[string]any{"id": todo.CreatorID, "username": todo.CreatorUsername},
		"is_personal": todo.IsPersonal,
		"statuses":    items,
		"created_at":  todo.CreatedAt,
		"updated_at":  todo.UpdatedAt,
	}, nil
}

func (s *Service) GetTodo(ctx context.Context, session Session, todoID string) (map[string]any, error) {
	todo, _, err := s.loadTodo(ctx, session, todoID)
	if err != nil {
		return nil, err
	}
	return s.todoDetail(ctx, todo)
}

func (s *Service) UpdateTodo(ctx context.Context, session Session, todoID string, req UpdateTodoRequest) (map[string]any, error) {
	todo, err := s.loadOwnTodo(ctx, session, todoID)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		if err := validateTodoName(*req.Name); err != nil {
			return nil, err
		}
	}
	updated, err := s.store.UpdateTodo(ctx, todo.ID, req.Name, req.IsPersonal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("")
		}
		if errors.Is(err, store.ErrConflict) {
			return nil, conflict("A ToDo list with this name already exists for the page.")
		}
		return nil, err
	}
	return s.todoDetail(ctx, updated)
}

func (s *Service) DeleteTodo(ctx context.Context, session Session, todoID string) error {
	todo, err := s.loadOwnTodo(ctx, session, todoID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTodo(ctx, todo.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("")
		}
		return err
	}
	log.Info().Str("todo_id", todo.ID).Str("user_id", session.UserID).Msg("todo deleted")
	return nil
}

// UpdateTodoStatus sets the status of one row in a to-do list. Setting the
// value a row already has leaves it untouched.
func (s *Service) UpdateTodoStatus(ctx context.Context, session Session, todoID, rowID, status string) (map[string]any, error) {
	todo, err := s.loadOwnTodo(ctx, session, todoID)
	if err != nil {
		return nil, err
	}
	status = strings.ToUpper(strings.TrimSpace(status))
	if !store.ValidTodoStatus(status) {
		return nil, fieldError("status", fmt.Sprintf("%q is not a valid choice.", status))
	}
	rowID = strings.TrimSpace(rowID)
	belongs, err := s.store.RowBelongsToPage(ctx, rowID, todo.SourcePageID)
	if err != nil {
		return nil, err
	}
	if !belongs {
		return nil, fieldError("row_id", "Row does not belong to the source page of this ToDo list.")
	}

	current, err := s.store.GetTodoStatus(ctx, todo.ID, rowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Status entry not found for this row and ToDo list.")
		}
		return nil, err
	}
	if current.Status == status {
		return statusPayload(current), nil
	}
	updated, err := s.store.SetTodoStatus(ctx, todo.ID, rowID, status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Status entry not found for this row and ToDo list.")
		}
		return nil, err
	}
	return statusPayload(updated), nil
}
