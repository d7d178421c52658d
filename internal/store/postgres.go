package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"sheetapp/api/internal/access"
	"sheetapp/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullString(v *string) sql.NullString {
	if v == nil || *v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// users

const userColumns = `id, email, username, password_hash, is_staff, is_superuser, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Username, &user.PasswordHash, &user.IsStaff, &user.IsSuperuser, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	if user.ID == "" {
		user.ID = util.NewID()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, username, password_hash, is_staff, is_superuser)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		user.ID, strings.TrimSpace(user.Email), strings.TrimSpace(user.Username), user.PasswordHash, user.IsStaff, user.IsSuperuser)
	created, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", classify(err))
	}
	return created, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, strings.TrimSpace(email)))
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(username)=LOWER($1)`, strings.TrimSpace(username)))
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) ListUserGroupIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id FROM group_memberships WHERE user_id=$1 ORDER BY group_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user groups: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user group: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Actor loads the permission-relevant facts about a user.
func (s *PostgresStore) Actor(ctx context.Context, userID string) (access.Actor, error) {
	if userID == "" {
		return access.Actor{}, nil
	}
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return access.Actor{}, err
	}
	groups, err := s.ListUserGroupIDs(ctx, userID)
	if err != nil {
		return access.Actor{}, err
	}
	return access.Actor{UserID: user.ID, IsStaff: user.IsStaff, IsSuperuser: user.IsSuperuser, GroupIDs: groups}, nil
}

// sessions

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.username, u.password_hash, u.is_staff, u.is_superuser, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash)
	return scanUser(row)
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token_hash=$1 AND used_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// groups

const groupSelect = `
	SELECT g.id, g.name, g.owner_id, g.created_at,
		(SELECT COUNT(*) FROM group_memberships gm WHERE gm.group_id = g.id)
	FROM groups g
`

func scanGroup(row interface{ Scan(...any) error }) (Group, error) {
	var group Group
	var owner sql.NullString
	if err := row.Scan(&group.ID, &group.Name, &owner, &group.CreatedAt, &group.MemberCount); err != nil {
		return Group{}, err
	}
	group.OwnerID = stringPtr(owner)
	return group, nil
}

// CreateGroup inserts the group and makes the owner its first member.
func (s *PostgresStore) CreateGroup(ctx context.Context, name, ownerID string) (Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Group{}, fmt.Errorf("begin group tx: %w", err)
	}
	defer tx.Rollback()

	id := util.NewID()
	if _, err := tx.ExecContext(ctx, `INSERT INTO groups (id, name, owner_id) VALUES ($1, $2, $3)`, id, strings.TrimSpace(name), ownerID); err != nil {
		return Group{}, fmt.Errorf("insert group: %w", classify(err))
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO group_memberships (group_id, user_id) VALUES ($1, $2)`, id, ownerID); err != nil {
		return Group{}, fmt.Errorf("insert owner membership: %w", classify(err))
	}
	group, err := scanGroup(tx.QueryRowContext(ctx, groupSelect+` WHERE g.id=$1`, id))
	if err != nil {
		return Group{}, fmt.Errorf("read group: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Group{}, fmt.Errorf("commit group: %w", classify(err))
	}
	return group, nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, groupID string) (Group, error) {
	return scanGroup(s.db.QueryRowContext(ctx, groupSelect+` WHERE g.id=$1`, groupID))
}

// ListGroups returns every group when all is set, otherwise the groups the
// user owns or belongs to.
func (s *PostgresStore) ListGroups(ctx context.Context, userID string, all bool) ([]Group, error) {
	query := groupSelect + ` ORDER BY g.name`
	args := []any{}
	if !all {
		query = groupSelect + `
			WHERE g.owner_id = $1
				OR EXISTS (SELECT 1 FROM group_memberships gm WHERE gm.group_id = g.id AND gm.user_id = $1)
			ORDER BY g.name`
		args = append(args, userID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	groups := []Group{}
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

func (s *PostgresStore) DeleteGroup(ctx context.Context, groupID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id=$1`, groupID)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) AddGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_memberships (group_id, user_id) VALUES ($1, $2)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`, groupID, userID)
	if err != nil {
		return fmt.Errorf("add group member: %w", classify(err))
	}
	return nil
}

func (s *PostgresStore) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM group_memberships WHERE group_id=$1 AND user_id=$2`, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) ListGroupMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.email, gm.joined_at
		FROM group_memberships gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = $1
		ORDER BY u.username
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	members := []GroupMember{}
	for rows.Next() {
		var m GroupMember
		if err := rows.Scan(&m.UserID, &m.Username, &m.Email, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// pages

const pageSelect = `
	SELECT p.id, p.name, p.slug, p.owner_id, u.username, p.created_at, p.updated_at
	FROM pages p
	JOIN users u ON u.id = p.owner_id
`

func scanPage(row interface{ Scan(...any) error }) (Page, error) {
	var page Page
	err := row.Scan(&page.ID, &page.Name, &page.Slug, &page.OwnerID, &page.OwnerUsername, &page.CreatedAt, &page.UpdatedAt)
	return page, err
}

// visiblePages builds the VIEW filter for pages aliased p. The actor's user
// id, when needed, is bound as $1.
func visiblePages(actor access.Actor) (string, []any) {
	const public = `EXISTS (
		SELECT 1 FROM page_permissions pp
		WHERE pp.page_id = p.id AND pp.target_type = 'PUBLIC' AND pp.level = 'VIEW'
	)`
	switch {
	case actor.Anonymous():
		return public, nil
	case actor.IsSuperuser:
		return `TRUE`, nil
	}
	return `(p.owner_id = $1 OR EXISTS (
		SELECT 1 FROM page_permissions pp
		WHERE pp.page_id = p.id AND (
			(pp.target_type = 'PUBLIC' AND pp.level = 'VIEW')
			OR (pp.target_type = 'USER' AND pp.target_user_id = $1)
			OR (pp.target_type = 'GROUP' AND pp.target_group_id IN (
				SELECT gm.group_id FROM group_memberships gm WHERE gm.user_id = $1
			))
		)
	))`, []any{actor.UserID}
}

func (s *PostgresStore) ListVisiblePages(ctx context.Context, actor access.Actor) ([]Page, error) {
	filter, args := visiblePages(actor)
	rows, err := s.db.QueryContext(ctx, pageSelect+` WHERE `+filter+` ORDER BY p.updated_at DESC, p.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	pages := []Page{}
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

func (s *PostgresStore) GetPageBySlug(ctx context.Context, slug string) (Page, error) {
	return scanPage(s.db.QueryRowContext(ctx, pageSelect+` WHERE p.slug=$1`, slug))
}

func (s *PostgresStore) GetPageByID(ctx context.Context, pageID string) (Page, error) {
	return scanPage(s.db.QueryRowContext(ctx, pageSelect+` WHERE p.id=$1`, pageID))
}

// PageAccess loads the owner and every grant of a page.
func (s *PostgresStore) PageAccess(ctx context.Context, pageID string) (access.Page, error) {
	page := access.Page{ID: pageID}
	if err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM pages WHERE id=$1`, pageID).Scan(&page.OwnerID); err != nil {
		return access.Page{}, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT level, target_type, COALESCE(target_user_id, ''), COALESCE(target_group_id, '')
		FROM page_permissions WHERE page_id=$1
	`, pageID)
	if err != nil {
		return access.Page{}, fmt.Errorf("load page grants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var grant access.Grant
		if err := rows.Scan(&grant.Level, &grant.TargetType, &grant.UserID, &grant.GroupID); err != nil {
			return access.Page{}, fmt.Errorf("scan page grant: %w", err)
		}
		page.Grants = append(page.Grants, grant)
	}
	return page, rows.Err()
}

func (s *PostgresStore) slugTaken(ctx context.Context, q queryer) func(string) (bool, error) {
	return func(candidate string) (bool, error) {
		var taken bool
		err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM pages WHERE slug=$1)`, candidate).Scan(&taken)
		return taken, err
	}
}

// CreatePage inserts the page with the default two columns and grants the
// owner every level.
func (s *PostgresStore) CreatePage(ctx context.Context, name, ownerID string) (Page, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Page{}, fmt.Errorf("begin page tx: %w", err)
	}
	defer tx.Rollback()

	id := util.NewID()
	name = strings.TrimSpace(name)
	base := util.Slugify(name)
	if base == "" {
		base = util.FallbackSlug("page", id)
	}
	slug, err := util.UniqueSlug(base, s.slugTaken(ctx, tx))
	if err != nil {
		return Page{}, fmt.Errorf("pick page slug: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO pages (id, name, slug, owner_id) VALUES ($1, $2, $3, $4)`, id, name, slug, ownerID); err != nil {
		return Page{}, fmt.Errorf("insert page: %w", classify(err))
	}
	if err := setupDefaultStructure(ctx, tx, id); err != nil {
		return Page{}, err
	}
	for _, level := range []access.Level{access.LevelView, access.LevelEdit, access.LevelManage} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO page_permissions (page_id, level, target_type, target_user_id, granted_by)
			VALUES ($1, $2, 'USER', $3, $3)
		`, id, string(level), ownerID); err != nil {
			return Page{}, fmt.Errorf("grant owner %s: %w", level, classify(err))
		}
	}

	page, err := scanPage(tx.QueryRowContext(ctx, pageSelect+` WHERE p.id=$1`, id))
	if err != nil {
		return Page{}, fmt.Errorf("read page: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Page{}, fmt.Errorf("commit page: %w", classify(err))
	}
	return page, nil
}

func (s *PostgresStore) RenamePage(ctx context.Context, pageID, name string) (Page, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE pages SET name=$2, updated_at=NOW() WHERE id=$1`, pageID, strings.TrimSpace(name))
	if err != nil {
		return Page{}, fmt.Errorf("rename page: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return Page{}, err
	}
	return s.GetPageByID(ctx, pageID)
}

// DeletePage removes the page and everything under it in one transaction.
// Children go first so the outcome does not hinge on cascade rules.
func (s *PostgresStore) DeletePage(ctx context.Context, pageID string) error {
	ctx = context.WithoutCancel(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockPage(ctx, tx, pageID); err != nil {
		return err
	}
	steps := []struct {
		name  string
		query string
	}{
		{"todo statuses", `DELETE FROM todo_statuses WHERE page_id=$1`},
		{"todos", `DELETE FROM todos WHERE source_page_id=$1`},
		{"cells", `DELETE FROM page_cells WHERE page_id=$1`},
		{"rows", `DELETE FROM page_rows WHERE page_id=$1`},
		{"columns", `DELETE FROM page_columns WHERE page_id=$1`},
		{"permissions", `DELETE FROM page_permissions WHERE page_id=$1`},
		{"versions", `DELETE FROM page_versions WHERE page_id=$1`},
		{"page", `DELETE FROM pages WHERE id=$1`},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, pageID); err != nil {
			return fmt.Errorf("delete %s: %w", step.name, classify(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", classify(err))
	}
	return nil
}

// permissions

const permissionSelect = `
	SELECT pp.id, pp.page_id, pp.level, pp.target_type, pp.target_user_id, pp.target_group_id,
		COALESCE(u.username, ''), COALESCE(g.name, ''), pp.granted_by, pp.granted_at
	FROM page_permissions pp
	LEFT JOIN users u ON u.id = pp.target_user_id
	LEFT JOIN groups g ON g.id = pp.target_group_id
`

func scanPermission(row interface{ Scan(...any) error }) (Permission, error) {
	var p Permission
	var userID, groupID, grantedBy sql.NullString
	if err := row.Scan(&p.ID, &p.PageID, &p.Level, &p.TargetType, &userID, &groupID, &p.TargetUsername, &p.TargetGroupName, &grantedBy, &p.GrantedAt); err != nil {
		return Permission{}, err
	}
	p.TargetUserID = stringPtr(userID)
	p.TargetGroupID = stringPtr(groupID)
	p.GrantedBy = stringPtr(grantedBy)
	return p, nil
}

func (s *PostgresStore) ListPermissions(ctx context.Context, pageID string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, permissionSelect+` WHERE pp.page_id=$1 ORDER BY pp.granted_at, pp.id`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// CreatePermission stores a grant. A duplicate grant is ErrConflict.
func (s *PostgresStore) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO page_permissions (page_id, level, target_type, target_user_id, target_group_id, granted_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, p.PageID, string(p.Level), string(p.TargetType), nullString(p.TargetUserID), nullString(p.TargetGroupID), nullString(p.GrantedBy)).Scan(&id)
	if err != nil {
		return Permission{}, fmt.Errorf("insert permission: %w", classify(err))
	}
	return scanPermission(s.db.QueryRowContext(ctx, permissionSelect+` WHERE pp.id=$1`, id))
}

func (s *PostgresStore) DeletePermission(ctx context.Context, pageID string, permissionID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM page_permissions WHERE page_id=$1 AND id=$2`, pageID, permissionID)
	if err != nil {
		return fmt.Errorf("delete permission: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Join(errors.New("database unavailable"), err)
	}
	return nil
}
