package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"sheetapp/api/internal/access"
	"sheetapp/api/internal/auth"
	"sheetapp/api/internal/authpw"
	"sheetapp/api/internal/config"
	"sheetapp/api/internal/email"
	"sheetapp/api/internal/export"
	"sheetapp/api/internal/gitrepo"
	"sheetapp/api/internal/search"
	"sheetapp/api/internal/sheet"
	"sheetapp/api/internal/store"
	"sheetapp/api/internal/util"
)

// Session is the authenticated caller behind a bearer token. The zero value
// is an anonymous caller.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	IsStaff      bool
	IsSuperuser  bool
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) Authenticated() bool {
	return s.UserID != ""
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByUsername(context.Context, string) (store.User, error)
	Actor(context.Context, string) (access.Actor, error)

	ListVisiblePages(context.Context, access.Actor) ([]store.Page, error)
	GetPageBySlug(context.Context, string) (store.Page, error)
	PageAccess(context.Context, string) (access.Page, error)
	CreatePage(context.Context, string, string) (store.Page, error)
	RenamePage(context.Context, string, string) (store.Page, error)
	DeletePage(context.Context, string) error
	PageState(context.Context, string) (sheet.State, error)
	SavePage(context.Context, string, string, sheet.Payload) (store.Version, error)
	UpdateColumnWidths(context.Context, string, []sheet.WidthUpdate) ([]sheet.Column, error)
	ListVersions(context.Context, string) ([]store.Version, error)
	SearchDocument(context.Context, string) (store.SearchDocument, error)

	ListPermissions(context.Context, string) ([]store.Permission, error)
	CreatePermission(context.Context, store.Permission) (store.Permission, error)
	DeletePermission(context.Context, string, int64) error

	CreateGroup(context.Context, string, string) (store.Group, error)
	GetGroup(context.Context, string) (store.Group, error)
	ListGroups(context.Context, string, bool) ([]store.Group, error)
	DeleteGroup(context.Context, string) error
	AddGroupMember(context.Context, string, string) error
	RemoveGroupMember(context.Context, string, string) error
	ListGroupMembers(context.Context, string) ([]store.GroupMember, error)

	CreateTodo(context.Context, string, string, string, bool) (store.Todo, error)
	GetTodo(context.Context, string) (store.Todo, error)
	ListTodos(context.Context, access.Actor) ([]store.Todo, error)
	UpdateTodo(context.Context, string, *string, *bool) (store.Todo, error)
	DeleteTodo(context.Context, string) error
	ListTodoStatuses(context.Context, string) ([]store.TodoStatus, error)
	RowBelongsToPage(context.Context, string, string) (bool, error)
	GetTodoStatus(context.Context, string, string) (store.TodoStatus, error)
	SetTodoStatus(context.Context, string, string, string) (store.TodoStatus, error)

	Ping(ctx context.Context) error
}

// sessionStore keeps refresh tokens and revoked access token ids. Postgres
// serves it by default; Redis replaces it when configured.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type passwordAuth interface {
	SignUp(context.Context, authpw.SignUpRequest) (store.User, error)
	SignIn(context.Context, string, string) (store.User, error)
	RequestPasswordReset(context.Context, string) (string, store.User, error)
	ResetPassword(context.Context, authpw.ResetPasswordRequest) error
}

// pageCache entries are keyed by page id and tagged with a revision; a Get
// for a different revision is a miss.
type pageCache interface {
	Get(context.Context, string, int64) (sheet.Snapshot, bool, error)
	Set(context.Context, string, int64, sheet.Snapshot) error
	Invalidate(context.Context, string) error
}

type pageSearch interface {
	Search(search.Query, func(search.Result) bool) search.Response
	IndexPage(search.PageRecord)
	DeletePage(string)
}

type versionMirror interface {
	CommitVersion(string, gitrepo.VersionCommit) (gitrepo.CommitInfo, error)
	History(string, int) ([]gitrepo.CommitInfo, error)
	SnapshotAt(string, string) (sheet.Snapshot, error)
	Remove(string) error
}

type exporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

type exportArchive interface {
	Archive(context.Context, string, *export.Result) (export.Archived, error)
	RemovePage(context.Context, string) error
}

type sheetPublisher interface {
	Publish(context.Context, string, sheet.Snapshot) (export.Published, error)
}

type mailer interface {
	IsConfigured() bool
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendPageSharedEmail(to string, data email.PageSharedData) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords passwordAuth

	cache pageCache
	loads singleflight.Group

	search    pageSearch
	git       versionMirror
	exporter  exporter
	archive   exportArchive
	publisher sheetPublisher
	mail      mailer

	// background runs fire-and-forget work; tests make it synchronous
	background func(func())
}

// New wires the service against Postgres. Optional integrations are
// attached with the With* methods; each one left unset is simply skipped.
func New(cfg config.Config, dataStore *store.PostgresStore) *Service {
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		sessions:   dataStore,
		passwords:  authpw.NewService(dataStore),
		exporter:   export.NewService(),
		background: func(fn func()) { go fn() },
	}
}

func (s *Service) WithSessionStore(sessions sessionStore) *Service {
	s.sessions = sessions
	return s
}

func (s *Service) WithPageCache(cache pageCache) *Service {
	s.cache = cache
	return s
}

func (s *Service) WithSearch(search pageSearch) *Service {
	s.search = search
	return s
}

func (s *Service) WithGit(git versionMirror) *Service {
	s.git = git
	return s
}

func (s *Service) WithArchive(archive exportArchive) *Service {
	s.archive = archive
	return s
}

func (s *Service) WithPublisher(publisher sheetPublisher) *Service {
	s.publisher = publisher
	return s
}

func (s *Service) WithMailer(mail mailer) *Service {
	s.mail = mail
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) mailConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

// actor loads the permission facts for the caller. Anonymous sessions map to
// the zero Actor.
func (s *Service) actor(ctx context.Context, session Session) (access.Actor, error) {
	if !session.Authenticated() {
		return access.Actor{}, nil
	}
	actor, err := s.store.Actor(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return access.Actor{}, unauthorized()
		}
		return access.Actor{}, fmt.Errorf("load actor: %w", err)
	}
	return actor, nil
}

// auth

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		return Session{}, authError(err)
	}
	log.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, login, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, login, password)
	if err != nil {
		return Session{}, authError(err)
	}
	return s.issueSession(ctx, user)
}

// RequestPasswordReset mails a reset link when SMTP is configured. Without
// SMTP the raw token is returned so development setups can finish the flow.
func (s *Service) RequestPasswordReset(ctx context.Context, address string) (string, error) {
	token, user, err := s.passwords.RequestPasswordReset(ctx, address)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	if !s.mailConfigured() {
		return token, nil
	}
	resetURL := strings.TrimRight(s.cfg.AppURL, "/") + "/reset-password?token=" + token
	s.background(func() {
		if err := s.mail.SendPasswordResetEmail(user.Email, user.Username, resetURL); err != nil {
			log.Error().Err(err).Str("user_id", user.ID).Msg("send password reset email")
		}
	})
	return "", nil
}

func (s *Service) ResetPassword(ctx context.Context, req authpw.ResetPasswordRequest) error {
	if err := s.passwords.ResetPassword(ctx, req); err != nil {
		return authError(err)
	}
	return nil
}

// authError turns password-auth failures into transport errors.
func authError(err error) error {
	var inputErr *authpw.InputError
	switch {
	case errors.As(err, &inputErr):
		return fieldError(inputErr.Field, inputErr.Message)
	case errors.Is(err, authpw.ErrEmailTaken):
		return domainError(http.StatusConflict, "EMAIL_EXISTS", "A user with that email already exists.", nil)
	case errors.Is(err, authpw.ErrUsernameTaken):
		return domainError(http.StatusConflict, "USERNAME_EXISTS", "A user with that username already exists.", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials.", nil)
	case errors.Is(err, authpw.ErrInvalidResetToken):
		return fieldError("token", "Invalid or expired reset token.")
	}
	return err
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL.Duration())
	jti := util.NewID()

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.Username,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL.Duration())
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Username,
		Email:        user.Email,
		IsStaff:      user.IsStaff,
		IsSuperuser:  user.IsSuperuser,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:       token,
		UserID:      user.ID,
		UserName:    user.Username,
		Email:       user.Email,
		IsStaff:     user.IsStaff,
		IsSuperuser: user.IsSuperuser,
		JTI:         claims.JTI,
		ExpiresAt:   claims.ExpiresAt(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func userPayload(id, username, address string) map[string]any {
	return map[string]any{"id": id, "username": username, "email": address}
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt.Unix(),
		"user": map[string]any{
			"id":           session.UserID,
			"username":     session.UserName,
			"email":        session.Email,
			"is_staff":     session.IsStaff,
			"is_superuser": session.IsSuperuser,
		},
	}
}
