package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"testing"

	"sheetapp/api/internal/access"
	"sheetapp/api/internal/store"
)

func TestGrantPermissionRequiresManage(t *testing.T) {
	fs := withPage(&fakeStore{}, access.Grant{Level: access.LevelEdit, TargetType: access.TargetUser, UserID: "editor-1"})
	fs.createPermissionFn = func(context.Context, store.Permission) (store.Permission, error) {
		t.Fatal("CreatePermission must not run without MANAGE")
		return store.Permission{}, nil
	}
	svc := newTestService(fs)

	_, err := svc.GrantPermission(context.Background(), userSession("editor-1"), "roadmap", GrantRequest{Level: "VIEW", TargetType: "PUBLIC"})
	assertDomainStatus(t, err, http.StatusForbidden)
}

func TestGrantPermissionByUsernameNotifiesRecipient(t *testing.T) {
	fs := withPage(&fakeStore{})
	fs.getUserByUsernameFn = func(_ context.Context, username string) (store.User, error) {
		if username != "blake" {
			return store.User{}, sql.ErrNoRows
		}
		return store.User{ID: "user-blake", Username: "blake", Email: "blake@example.com"}, nil
	}
	var stored store.Permission
	fs.createPermissionFn = func(_ context.Context, p store.Permission) (store.Permission, error) {
		stored = p
		p.ID = 42
		p.TargetUsername = "blake"
		return p, nil
	}
	mail := &fakeMailer{configured: true}
	svc := newTestService(fs).WithMailer(mail)

	payload, err := svc.GrantPermission(context.Background(), userSession(testOwnerID), "roadmap", GrantRequest{
		Level:          "edit",
		TargetType:     "user",
		TargetUsername: "blake",
	})
	if err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}
	if payload["id"] != int64(42) {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if stored.TargetUserID == nil || *stored.TargetUserID != "user-blake" || stored.Level != access.LevelEdit {
		t.Fatalf("unexpected stored permission %+v", stored)
	}
	if stored.GrantedBy == nil || *stored.GrantedBy != testOwnerID {
		t.Fatalf("expected granted_by %s, got %v", testOwnerID, stored.GrantedBy)
	}
	if len(mail.shared) != 1 || mail.shared[0].PageURL != "http://sheets.test/pages/roadmap" || mail.shared[0].Level != "EDIT" {
		t.Fatalf("unexpected shared mails %+v", mail.shared)
	}
}

func TestGrantPermissionValidation(t *testing.T) {
	fs := withPage(&fakeStore{})
	fs.getGroupFn = func(context.Context, string) (store.Group, error) { return store.Group{}, sql.ErrNoRows }
	svc := newTestService(fs)

	tests := []struct {
		name  string
		req   GrantRequest
		field string
	}{
		{name: "public edit", req: GrantRequest{Level: "EDIT", TargetType: "PUBLIC"}, field: "level"},
		{name: "user without target", req: GrantRequest{Level: "VIEW", TargetType: "USER"}, field: "target_user"},
		{name: "unknown user", req: GrantRequest{Level: "VIEW", TargetType: "USER", TargetUsername: "ghost"}, field: "target_user"},
		{name: "unknown group", req: GrantRequest{Level: "VIEW", TargetType: "GROUP", TargetGroupID: "g-x"}, field: "target_group"},
		{name: "bad target type", req: GrantRequest{Level: "VIEW", TargetType: "ROLE"}, field: "target_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GrantPermission(context.Background(), userSession(testOwnerID), "roadmap", tt.req)
			domainErr := assertDomainStatus(t, err, http.StatusBadRequest)
			details, _ := domainErr.Details.(map[string][]string)
			if len(details[tt.field]) == 0 {
				t.Fatalf("expected %s error, got %+v", tt.field, domainErr.Details)
			}
		})
	}
}

func TestGrantPermissionDuplicateIsConflict(t *testing.T) {
	fs := withPage(&fakeStore{})
	fs.createPermissionFn = func(context.Context, store.Permission) (store.Permission, error) {
		return store.Permission{}, fmt.Errorf("insert permission: %w", store.ErrConflict)
	}
	svc := newTestService(fs)

	_, err := svc.GrantPermission(context.Background(), userSession(testOwnerID), "roadmap", GrantRequest{Level: "VIEW", TargetType: "PUBLIC"})
	assertDomainStatus(t, err, http.StatusConflict)
}

func TestRevokePermissionMissingIsNotFound(t *testing.T) {
	fs := withPage(&fakeStore{})
	fs.deletePermissionFn = func(context.Context, string, int64) error { return sql.ErrNoRows }
	svc := newTestService(fs)

	err := svc.RevokePermission(context.Background(), userSession(testOwnerID), "roadmap", 99)
	assertDomainStatus(t, err, http.StatusNotFound)
}

func groupStore(ownerID string, memberIDs ...string) *fakeStore {
	fs := &fakeStore{}
	fs.getGroupFn = func(_ context.Context, groupID string) (store.Group, error) {
		if groupID != "group-1" {
			return store.Group{}, sql.ErrNoRows
		}
		return store.Group{ID: groupID, Name: "Design", OwnerID: &ownerID, MemberCount: len(memberIDs)}, nil
	}
	fs.listGroupMembersFn = func(context.Context, string) ([]store.GroupMember, error) {
		members := make([]store.GroupMember, 0, len(memberIDs))
		for _, id := range memberIDs {
			members = append(members, store.GroupMember{UserID: id, Username: id})
		}
		return members, nil
	}
	return fs
}

func TestGroupVisibilityAndManagement(t *testing.T) {
	fs := groupStore("lead", "lead", "member")
	deleted := false
	fs.deleteGroupFn = func(context.Context, string) error {
		deleted = true
		return nil
	}
	svc := newTestService(fs)
	ctx := context.Background()

	payload, err := svc.GetGroup(ctx, userSession("member"), "group-1")
	if err != nil {
		t.Fatalf("member GetGroup: %v", err)
	}
	if members, _ := payload["members"].([]map[string]any); len(members) != 2 {
		t.Fatalf("expected two members, got %+v", payload["members"])
	}

	_, err = svc.GetGroup(ctx, userSession("outsider"), "group-1")
	assertDomainStatus(t, err, http.StatusNotFound)

	err = svc.DeleteGroup(ctx, userSession("member"), "group-1")
	assertDomainStatus(t, err, http.StatusForbidden)
	if deleted {
		t.Fatal("member must not delete the group")
	}

	if err := svc.DeleteGroup(ctx, userSession("lead"), "group-1"); err != nil {
		t.Fatalf("owner DeleteGroup: %v", err)
	}
	if !deleted {
		t.Fatal("expected group deletion")
	}

	superuser := Session{UserID: "root", IsSuperuser: true}
	if err := svc.RemoveGroupMember(ctx, superuser, "group-1", "member"); err != nil {
		t.Fatalf("superuser RemoveGroupMember: %v", err)
	}
}

func TestAddGroupMemberValidatesUser(t *testing.T) {
	fs := groupStore("lead", "lead")
	fs.getUserByIDFn = func(_ context.Context, userID string) (store.User, error) {
		if userID == "ghost" {
			return store.User{}, sql.ErrNoRows
		}
		return store.User{ID: userID, Username: userID}, nil
	}
	added := ""
	fs.addGroupMemberFn = func(_ context.Context, _, userID string) error {
		added = userID
		return nil
	}
	svc := newTestService(fs)

	_, err := svc.AddGroupMember(context.Background(), userSession("lead"), "group-1", "ghost")
	assertDomainStatus(t, err, http.StatusBadRequest)

	if _, err := svc.AddGroupMember(context.Background(), userSession("lead"), "group-1", "newbie"); err != nil {
		t.Fatalf("AddGroupMember: %v", err)
	}
	if added != "newbie" {
		t.Fatalf("expected newbie added, got %q", added)
	}
}

func TestCreateGroupRequiresName(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CreateGroup(context.Background(), userSession("lead"), "  ")
	assertDomainStatus(t, err, http.StatusBadRequest)

	payload, err := svc.CreateGroup(context.Background(), userSession("lead"), "Design")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if payload["name"] != "Design" || payload["member_count"] != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
