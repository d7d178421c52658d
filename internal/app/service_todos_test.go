package app

import (
	"context"
	"database/sql"
	"net/http"
	"testing"
	"time"

	"sheetapp/api/internal/access"
	"sheetapp/api/internal/store"
)

func todoFixture(creatorID string, personal bool) store.Todo {
	return store.Todo{
		ID:              "todo-1",
		SourcePageID:    testPageID,
		SourcePageSlug:  "roadmap",
		SourcePageName:  "Roadmap",
		CreatorID:       creatorID,
		CreatorUsername: creatorID,
		Name:            "Launch checklist",
		Slug:            "launch-checklist",
		IsPersonal:      personal,
	}
}

func withTodo(fs *fakeStore, todo store.Todo) *fakeStore {
	fs.getTodoFn = func(_ context.Context, todoID string) (store.Todo, error) {
		if todoID != todo.ID {
			return store.Todo{}, sql.ErrNoRows
		}
		return todo, nil
	}
	return fs
}

func TestCreateTodoRequiresViewableSource(t *testing.T) {
	fs := withPage(&fakeStore{})
	svc := newTestService(fs)
	ctx := context.Background()

	_, err := svc.CreateTodo(ctx, userSession("stranger"), CreateTodoRequest{Name: "List", SourcePageSlug: "missing"})
	domainErr := assertDomainStatus(t, err, http.StatusBadRequest)
	if domainErr.Message != "Source page not found." {
		t.Fatalf("unexpected message %q", domainErr.Message)
	}

	_, err = svc.CreateTodo(ctx, userSession("stranger"), CreateTodoRequest{Name: "List", SourcePageSlug: "roadmap"})
	domainErr = assertDomainStatus(t, err, http.StatusForbidden)
	if domainErr.Message != "You do not have permission to view the source page to create a ToDo list from it." {
		t.Fatalf("unexpected message %q", domainErr.Message)
	}

	_, err = svc.CreateTodo(ctx, userSession("stranger"), CreateTodoRequest{Name: " ", SourcePageSlug: "roadmap"})
	assertDomainStatus(t, err, http.StatusBadRequest)
}

func TestCreateTodoReturnsDetail(t *testing.T) {
	fs := withPage(&fakeStore{}, access.Grant{Level: access.LevelView, TargetType: access.TargetPublic})
	fs.createTodoFn = func(_ context.Context, pageID, creatorID, name string, isPersonal bool) (store.Todo, error) {
		if pageID != testPageID || creatorID != "viewer-1" || !isPersonal {
			t.Fatalf("unexpected CreateTodo args %s %s %v", pageID, creatorID, isPersonal)
		}
		todo := todoFixture(creatorID, isPersonal)
		todo.Name = name
		return todo, nil
	}
	svc := newTestService(fs)

	payload, err := svc.CreateTodo(context.Background(), userSession("viewer-1"), CreateTodoRequest{
		Name:           "Launch checklist",
		IsPersonal:     boolPtr(true),
		SourcePageSlug: "roadmap",
	})
	if err != nil {
		t.Fatalf("CreateTodo: %v", err)
	}
	source, _ := payload["source_page"].(map[string]any)
	if source["slug"] != "roadmap" || payload["is_personal"] != true {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if _, ok := payload["statuses"]; !ok {
		t.Fatal("expected statuses in detail payload")
	}
}

func TestCreateTodoDefaultsToPersonal(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "omitted", body: `{"name":"Checklist","source_page_slug":"roadmap"}`, want: true},
		{name: "null", body: `{"name":"Checklist","source_page_slug":"roadmap","is_personal":null}`, want: true},
		{name: "explicit false", body: `{"name":"Checklist","source_page_slug":"roadmap","is_personal":false}`, want: false},
		{name: "explicit true", body: `{"name":"Checklist","source_page_slug":"roadmap","is_personal":true}`, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := withPage(&fakeStore{}, access.Grant{Level: access.LevelView, TargetType: access.TargetPublic})
			var stored *bool
			fs.createTodoFn = func(_ context.Context, _, creatorID, name string, isPersonal bool) (store.Todo, error) {
				stored = &isPersonal
				todo := todoFixture(creatorID, isPersonal)
				todo.Name = name
				return todo, nil
			}
			svc := newTestService(fs)
			server := NewHTTPServer(svc, "*")

			rr := serve(server, http.MethodPost, "/api/todos", bearerFor(t, svc, "viewer-1"), tt.body)
			if rr.Code != http.StatusCreated {
				t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
			}
			if stored == nil || *stored != tt.want {
				t.Fatalf("expected is_personal=%v to be stored, got %v", tt.want, stored)
			}
			if payload := decodeResponse(t, rr); payload["is_personal"] != tt.want {
				t.Fatalf("expected is_personal=%v in response, got %v", tt.want, payload["is_personal"])
			}
		})
	}
}

func TestTodoVisibility(t *testing.T) {
	tests := []struct {
		name     string
		personal bool
		grants   []access.Grant
		caller   Session
		admin    bool
		visible  bool
	}{
		{name: "creator sees personal", personal: true, caller: userSession("creator"), visible: true},
		{name: "viewer cannot see personal", personal: true, caller: userSession("viewer"), grants: []access.Grant{{Level: access.LevelView, TargetType: access.TargetUser, UserID: "viewer"}}},
		{name: "viewer sees shared", caller: userSession("viewer"), grants: []access.Grant{{Level: access.LevelView, TargetType: access.TargetUser, UserID: "viewer"}}, visible: true},
		{name: "stranger cannot see shared", caller: userSession("stranger")},
		{name: "admin sees personal", personal: true, caller: userSession("staff"), admin: true, visible: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := withTodo(withPage(&fakeStore{}, tt.grants...), todoFixture("creator", tt.personal))
			admin := tt.admin
			fs.actorFn = func(_ context.Context, userID string) (access.Actor, error) {
				return access.Actor{UserID: userID, IsStaff: admin}, nil
			}
			svc := newTestService(fs)

			_, err := svc.GetTodo(context.Background(), tt.caller, "todo-1")
			if tt.visible {
				if err != nil {
					t.Fatalf("expected visible, got %v", err)
				}
				return
			}
			assertDomainStatus(t, err, http.StatusNotFound)
		})
	}
}

func TestUpdateTodoRequiresCreatorOrAdmin(t *testing.T) {
	fs := withTodo(withPage(&fakeStore{}, access.Grant{Level: access.LevelEdit, TargetType: access.TargetUser, UserID: "editor"}), todoFixture("creator", false))
	fs.updateTodoFn = func(_ context.Context, _ string, name *string, _ *bool) (store.Todo, error) {
		todo := todoFixture("creator", false)
		todo.Name = *name
		return todo, nil
	}
	svc := newTestService(fs)
	name := "Renamed"

	_, err := svc.UpdateTodo(context.Background(), userSession("editor"), "todo-1", UpdateTodoRequest{Name: &name})
	assertDomainStatus(t, err, http.StatusForbidden)

	err = svc.DeleteTodo(context.Background(), userSession("editor"), "todo-1")
	assertDomainStatus(t, err, http.StatusForbidden)

	payload, err := svc.UpdateTodo(context.Background(), userSession("creator"), "todo-1", UpdateTodoRequest{Name: &name})
	if err != nil {
		t.Fatalf("creator UpdateTodo: %v", err)
	}
	if payload["name"] != "Renamed" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestUpdateTodoStatus(t *testing.T) {
	current := store.TodoStatus{ID: 5, TodoID: "todo-1", RowID: "r1", RowOrder: 1, Status: store.StatusNotStarted, UpdatedAt: time.Now()}

	newFixture := func(setCalls *int) *Service {
		fs := withTodo(withPage(&fakeStore{}), todoFixture("creator", false))
		fs.rowBelongsToPageFn = func(_ context.Context, rowID, pageID string) (bool, error) {
			return rowID == "r1" || rowID == "r2", nil
		}
		fs.getTodoStatusFn = func(_ context.Context, _, rowID string) (store.TodoStatus, error) {
			if rowID != "r1" {
				return store.TodoStatus{}, sql.ErrNoRows
			}
			return current, nil
		}
		fs.setTodoStatusFn = func(_ context.Context, _, rowID, status string) (store.TodoStatus, error) {
			*setCalls++
			updated := current
			updated.Status = status
			return updated, nil
		}
		return newTestService(fs)
	}
	ctx := context.Background()

	t.Run("invalid status", func(t *testing.T) {
		calls := 0
		_, err := newFixture(&calls).UpdateTodoStatus(ctx, userSession("creator"), "todo-1", "r1", "DONE")
		assertDomainStatus(t, err, http.StatusBadRequest)
	})

	t.Run("row from another page", func(t *testing.T) {
		calls := 0
		_, err := newFixture(&calls).UpdateTodoStatus(ctx, userSession("creator"), "todo-1", "r9", store.StatusCompleted)
		assertDomainStatus(t, err, http.StatusBadRequest)
	})

	t.Run("missing entry", func(t *testing.T) {
		calls := 0
		_, err := newFixture(&calls).UpdateTodoStatus(ctx, userSession("creator"), "todo-1", "r2", store.StatusCompleted)
		domainErr := assertDomainStatus(t, err, http.StatusNotFound)
		if domainErr.Message != "Status entry not found for this row and ToDo list." {
			t.Fatalf("unexpected message %q", domainErr.Message)
		}
	})

	t.Run("same value is a no-op", func(t *testing.T) {
		calls := 0
		payload, err := newFixture(&calls).UpdateTodoStatus(ctx, userSession("creator"), "todo-1", "r1", "not_started")
		if err != nil {
			t.Fatalf("UpdateTodoStatus: %v", err)
		}
		if calls != 0 || payload["status"] != store.StatusNotStarted {
			t.Fatalf("expected untouched entry, calls=%d payload=%+v", calls, payload)
		}
	})

	t.Run("new value is written", func(t *testing.T) {
		calls := 0
		payload, err := newFixture(&calls).UpdateTodoStatus(ctx, userSession("creator"), "todo-1", "r1", store.StatusCompleted)
		if err != nil {
			t.Fatalf("UpdateTodoStatus: %v", err)
		}
		if calls != 1 || payload["status"] != store.StatusCompleted || payload["row_order"] != 1 {
			t.Fatalf("unexpected result calls=%d payload=%+v", calls, payload)
		}
	})

	t.Run("hidden todo is not found", func(t *testing.T) {
		calls := 0
		_, err := newFixture(&calls).UpdateTodoStatus(ctx, userSession("stranger"), "todo-1", "r1", store.StatusCompleted)
		assertDomainStatus(t, err, http.StatusNotFound)
	})
}
