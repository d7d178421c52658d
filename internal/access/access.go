// Package access evaluates page permissions.
//
// Levels form a lattice: MANAGE implies EDIT implies VIEW. Owners and
// superusers hold every level on a page regardless of stored grants.
package access

type Level string

const (
	LevelView   Level = "VIEW"
	LevelEdit   Level = "EDIT"
	LevelManage Level = "MANAGE"
)

type TargetType string

const (
	TargetPublic TargetType = "PUBLIC"
	TargetUser   TargetType = "USER"
	TargetGroup  TargetType = "GROUP"
)

func (l Level) Valid() bool {
	switch l {
	case LevelView, LevelEdit, LevelManage:
		return true
	default:
		return false
	}
}

func (t TargetType) Valid() bool {
	switch t {
	case TargetPublic, TargetUser, TargetGroup:
		return true
	default:
		return false
	}
}

func rank(l Level) int {
	switch l {
	case LevelView:
		return 1
	case LevelEdit:
		return 2
	case LevelManage:
		return 3
	default:
		return 0
	}
}

// Implies reports whether a stored grant at held satisfies a request for required.
func Implies(held, required Level) bool {
	r := rank(required)
	return r > 0 && rank(held) >= r
}

// Satisfying lists the stored levels that satisfy a request for required.
func Satisfying(required Level) []Level {
	switch required {
	case LevelView:
		return []Level{LevelView, LevelEdit, LevelManage}
	case LevelEdit:
		return []Level{LevelEdit, LevelManage}
	case LevelManage:
		return []Level{LevelManage}
	default:
		return nil
	}
}

// Actor is the caller on whose behalf an operation runs. The zero value is anonymous.
type Actor struct {
	UserID      string
	IsStaff     bool
	IsSuperuser bool
	GroupIDs    []string
}

func (a Actor) Anonymous() bool {
	return a.UserID == ""
}

// Admin covers staff and superusers; used for todo ownership checks.
func (a Actor) Admin() bool {
	return a.IsStaff || a.IsSuperuser
}

type Grant struct {
	Level      Level
	TargetType TargetType
	UserID     string
	GroupID    string
}

// Page is the permission-relevant view of a page.
type Page struct {
	ID      string
	OwnerID string
	Grants  []Grant
}

// Resolve decides whether actor holds required on page. It never errors:
// a missing page or an unknown level is a denial.
func Resolve(actor Actor, page *Page, required Level) bool {
	if page == nil || page.ID == "" || !required.Valid() {
		return false
	}
	if actor.Anonymous() {
		return required == LevelView && hasPublicView(page)
	}
	if actor.IsSuperuser || actor.UserID == page.OwnerID {
		return true
	}

	for _, grant := range page.Grants {
		if grant.TargetType == TargetUser && grant.UserID == actor.UserID && Implies(grant.Level, required) {
			return true
		}
	}

	if len(actor.GroupIDs) > 0 {
		groups := make(map[string]struct{}, len(actor.GroupIDs))
		for _, id := range actor.GroupIDs {
			groups[id] = struct{}{}
		}
		for _, grant := range page.Grants {
			if grant.TargetType != TargetGroup || !Implies(grant.Level, required) {
				continue
			}
			if _, ok := groups[grant.GroupID]; ok {
				return true
			}
		}
	}

	return required == LevelView && hasPublicView(page)
}

func hasPublicView(page *Page) bool {
	for _, grant := range page.Grants {
		if grant.TargetType == TargetPublic && grant.Level == LevelView {
			return true
		}
	}
	return false
}

// ValidateGrant checks target consistency for a new grant. PUBLIC grants are
// only meaningful at VIEW.
func ValidateGrant(g Grant) map[string]string {
	problems := map[string]string{}
	if !g.Level.Valid() {
		problems["level"] = "Level must be one of VIEW, EDIT, MANAGE."
	}
	switch g.TargetType {
	case TargetPublic:
		if g.Level.Valid() && g.Level != LevelView {
			problems["level"] = "Public permissions can only be granted at VIEW level."
		}
		if g.UserID != "" || g.GroupID != "" {
			problems["target_type"] = "Public permissions cannot target a user or group."
		}
	case TargetUser:
		if g.UserID == "" {
			problems["target_user"] = "A target user is required for USER permissions."
		}
		if g.GroupID != "" {
			problems["target_group"] = "USER permissions cannot target a group."
		}
	case TargetGroup:
		if g.GroupID == "" {
			problems["target_group"] = "A target group is required for GROUP permissions."
		}
		if g.UserID != "" {
			problems["target_user"] = "GROUP permissions cannot target a user."
		}
	default:
		problems["target_type"] = "Target type must be one of PUBLIC, USER, GROUP."
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}
