package store

import (
	"encoding/json"
	"time"

	"sheetapp/api/internal/access"
)

type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	IsStaff      bool
	IsSuperuser  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Group struct {
	ID          string
	Name        string
	OwnerID     *string
	MemberCount int
	CreatedAt   time.Time
}

type GroupMember struct {
	UserID   string
	Username string
	Email    string
	JoinedAt time.Time
}

type Page struct {
	ID            string
	Name          string
	Slug          string
	OwnerID       string
	OwnerUsername string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Permission struct {
	ID              int64
	PageID          string
	Level           access.Level
	TargetType      access.TargetType
	TargetUserID    *string
	TargetGroupID   *string
	TargetUsername  string
	TargetGroupName string
	GrantedBy       *string
	GrantedAt       time.Time
}

// Version is an immutable snapshot taken after a successful save.
type Version struct {
	ID            int64
	PageID        string
	PageSlug      string
	UserID        *string
	Username      string
	UserEmail     string
	CommitMessage string
	Snapshot      json.RawMessage
	CreatedAt     time.Time
}

type Todo struct {
	ID              string
	SourcePageID    string
	SourcePageSlug  string
	SourcePageName  string
	CreatorID       string
	CreatorUsername string
	Name            string
	Slug            string
	IsPersonal      bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const (
	StatusNotStarted = "NOT_STARTED"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
)

func ValidTodoStatus(status string) bool {
	switch status {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

type TodoStatus struct {
	ID        int64
	TodoID    string
	RowID     string
	RowOrder  int
	Status    string
	UpdatedAt time.Time
}

// SearchDocument is the searchable text of one page.
type SearchDocument struct {
	PageID    string
	Slug      string
	Name      string
	Content   string
	UpdatedAt time.Time
}
