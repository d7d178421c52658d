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
	"sheetapp/api/internal/email"
	"sheetapp/api/internal/store"
)

const maxGroupNameLength = 150

// GrantRequest names the target of a new permission. A USER target may be
// given by id or by username.
type GrantRequest struct {
	Level          string `json:"level"`
	TargetType     string `json:"target_type"`
	TargetUserID   string `json:"target_user"`
	TargetUsername string `json:"target_username"`
	TargetGroupID  string `json:"target_group"`
}

func permissionPayload(p store.Permission) map[string]any {
	var user, group any
	if p.TargetUserID != nil {
		user = map[string]any{"id": *p.TargetUserID, "username": p.TargetUsername}
	}
	if p.TargetGroupID != nil {
		group = map[string]any{"id": *p.TargetGroupID, "name": p.TargetGroupName}
	}
	return map[string]any{
		"id":           p.ID,
		"level":        p.Level,
		"target_type":  p.TargetType,
		"target_user":  user,
		"target_group": group,
		"granted_by":   p.GrantedBy,
		"granted_at":   p.GrantedAt,
	}
}

func (s *Service) ListPermissions(ctx context.Context, session Session, slug string) (map[string]any, error) {
	if !session.Authenticated() {
		return nil, unauthorized()
	}
	ref, err := s.authorizePage(ctx, session, slug, access.LevelManage)
	if err != nil {
		return nil, err
	}
	perms, err := s.store.ListPermissions(ctx, ref.page.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(perms))
	for _, p := range perms {
		items = append(items, permissionPayload(p))
	}
	return map[string]any{"permissions": items}, nil
}

// GrantPermission stores a new grant on the page. The recipient of a USER
// grant is notified by email when mail is configured.
func (s *Service) GrantPermission(ctx context.Context, session Session, slug string, req GrantRequest) (map[string]any, error) {
	if !session.Authenticated() {
		return nil, unauthorized()
	}
	ref, err := s.authorizePage(ctx, session, slug, access.LevelManage)
	if err != nil {
		return nil, err
	}

	grant := access.Grant{
		Level:      access.Level(strings.ToUpper(strings.TrimSpace(req.Level))),
		TargetType: access.TargetType(strings.ToUpper(strings.TrimSpace(req.TargetType))),
		UserID:     strings.TrimSpace(req.TargetUserID),
		GroupID:    strings.TrimSpace(req.TargetGroupID),
	}

	var recipient *store.User
	if grant.TargetType == access.TargetUser {
		user, err := s.resolveGrantUser(ctx, grant.UserID, strings.TrimSpace(req.TargetUsername))
		if err != nil {
			return nil, err
		}
		if user != nil {
			grant.UserID = user.ID
			recipient = user
		}
	}
	if problems := access.ValidateGrant(grant); problems != nil {
		return nil, validationError("Invalid permission.", fieldMessages(problems))
	}
	if grant.TargetType == access.TargetGroup {
		if _, err := s.store.GetGroup(ctx, grant.GroupID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fieldError("target_group", "Group not found.")
			}
			return nil, err
		}
	}

	perm := store.Permission{
		PageID:     ref.page.ID,
		Level:      grant.Level,
		TargetType: grant.TargetType,
		GrantedBy:  &session.UserID,
	}
	if grant.UserID != "" {
		perm.TargetUserID = &grant.UserID
	}
	if grant.GroupID != "" {
		perm.TargetGroupID = &grant.GroupID
	}
	created, err := s.store.CreatePermission(ctx, perm)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, conflict("This permission already exists for the page.")
		}
		return nil, err
	}
	log.Info().
		Str("page_id", ref.page.ID).
		Int64("permission_id", created.ID).
		Str("level", string(created.Level)).
		Str("target_type", string(created.TargetType)).
		Str("granted_by", session.UserID).
		Msg("permission granted")

	if recipient != nil && recipient.ID != session.UserID && s.mailConfigured() {
		data := email.PageSharedData{
			UserName:  recipient.Username,
			GrantedBy: session.UserName,
			PageName:  ref.page.Name,
			Level:     string(created.Level),
			PageURL:   strings.TrimRight(s.cfg.AppURL, "/") + "/pages/" + ref.page.Slug,
		}
		to := recipient.Email
		s.background(func() {
			if err := s.mail.SendPageSharedEmail(to, data); err != nil {
				log.Error().Err(err).Str("user_id", recipient.ID).Msg("send page shared email")
			}
		})
	}
	return permissionPayload(created), nil
}

// resolveGrantUser finds the target of a USER grant. It returns nil when no
// target was named so ValidateGrant can report it.
func (s *Service) resolveGrantUser(ctx context.Context, userID, username string) (*store.User, error) {
	var (
		user store.User
		err  error
	)
	switch {
	case userID != "":
		user, err = s.store.GetUserByID(ctx, userID)
	case username != "":
		user, err = s.store.GetUserByUsername(ctx, username)
	default:
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fieldError("target_user", "User not found.")
		}
		return nil, err
	}
	return &user, nil
}

func fieldMessages(problems map[string]string) map[string][]string {
	out := make(map[string][]string, len(problems))
	for field, msg := range problems {
		out[field] = []string{msg}
	}
	return out
}

func (s *Service) RevokePermission(ctx context.Context, session Session, slug string, permissionID int64) error {
	if !session.Authenticated() {
		return unauthorized()
	}
	ref, err := s.authorizePage(ctx, session, slug, access.LevelManage)
	if err != nil {
		return err
	}
	if err := s.store.DeletePermission(ctx, ref.page.ID, permissionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Permission not found.")
		}
		return err
	}
	log.Info().Str("page_id", ref.page.ID).Int64("permission_id", permissionID).Str("user_id", session.UserID).Msg("permission revoked")
	return nil
}

// groups

func groupPayload(g store.Group) map[string]any {
	return map[string]any{
		"id":           g.ID,
		"name":         g.Name,
		"owner":        g.OwnerID,
		"member_count": g.MemberCount,
		"created_at":   g.CreatedAt,
	}
}

func (s *Service) ListGroups(ctx context.Context, session Session) (map[string]any, error) {
	if !session.Authenticated() {
		return nil, unauthorized()
	}
	groups, err := s.store.ListGroups(ctx, session.UserID, session.IsSuperuser)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		items = append(items, groupPayload(g))
	}
	return map[string]any{"groups": items}, nil
}

func (s *Service) CreateGroup(ctx context.Context, session Session, name string) (map[string]any, error) {
	if !session.Authenticated() {
		return nil, unauthorized()
	}
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return nil, fieldError("name", "This field may not be blank.")
	case utf8.RuneCountInString(name) > maxGroupNameLength:
		return nil, fieldError("name", fmt.Sprintf("Ensure this field has no more than %d characters.", maxGroupNameLength))
	}
	group, err := s.store.CreateGroup(ctx, name, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fieldError("name", "A group with this name already exists.")
		}
		return nil, err
	}
	log.Info().Str("group_id", group.ID).Str("owner_id", session.UserID).Msg("group created")
	return groupPayload(group), nil
}

// loadGroup returns the group when the caller may see it. With manage set
// the caller must own it or be a superuser.
func (s *Service) loadGroup(ctx context.Context, session Session, groupID string, manage bool) (store.Group, error) {
	if !session.Authenticated() {
		return store.Group{}, unauthorized()
	}
	group, err := s.store.GetGroup(ctx, strings.TrimSpace(groupID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Group{}, notFound("Group not found.")
		}
		return store.Group{}, err
	}
	owner := group.OwnerID != nil && *group.OwnerID == session.UserID
	if owner || session.IsSuperuser {
		return group, nil
	}
	if manage {
		return store.Group{}, forbidden("Only the group owner can manage this group.")
	}

	members, err := s.store.ListGroupMembers(ctx, group.ID)
	if err != nil {
		return store.Group{}, err
	}
	for _, m := range members {
		if m.UserID == session.UserID {
			return group, nil
		}
	}
	return store.Group{}, notFound("Group not found.")
}

func (s *Service) GetGroup(ctx context.Context, session Session, groupID string) (map[string]any, error) {
	group, err := s.loadGroup(ctx, session, groupID, false)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListGroupMembers(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, m := range members {
		item := userPayload(m.UserID, m.Username, m.Email)
		item["joined_at"] = m.JoinedAt
		items = append(items, item)
	}
	payload := groupPayload(group)
	payload["members"] = items
	return payload, nil
}

func (s *Service) DeleteGroup(ctx context.Context, session Session, groupID string) error {
	group, err := s.loadGroup(ctx, session, groupID, true)
	if err != nil {
		return err
	}
	if err := s.store.DeleteGroup(ctx, group.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Group not found.")
		}
		return err
	}
	log.Info().Str("group_id", group.ID).Str("user_id", session.UserID).Msg("group deleted")
	return nil
}

func (s *Service) AddGroupMember(ctx context.Context, session Session, groupID, userID string) (map[string]any, error) {
	group, err := s.loadGroup(ctx, session, groupID, true)
	if err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fieldError("user_id", "This field is required.")
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fieldError("user_id", "User not found.")
		}
		return nil, err
	}
	if err := s.store.AddGroupMember(ctx, group.ID, userID); err != nil {
		return nil, err
	}
	return s.GetGroup(ctx, session, group.ID)
}

func (s *Service) RemoveGroupMember(ctx context.Context, session Session, groupID, userID string) error {
	group, err := s.loadGroup(ctx, session, groupID, true)
	if err != nil {
		return err
	}
	if err := s.store.RemoveGroupMember(ctx, group.ID, strings.TrimSpace(userID)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Membership not found.")
		}
		return err
	}
	return nil
}
