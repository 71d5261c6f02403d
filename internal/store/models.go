package store

import (
	"strings"
	"time"
)

// Role enumerates membership roles.
type Role string

const (
	// RoleOwner is held by the creator of a group.
	RoleOwner Role = "owner"
	// RoleMember is granted on invite redemption.
	RoleMember Role = "member"
)

// Profile is the public display record of a user. ID equals the user id.
// DisplayNameSearch holds SearchKey(DisplayName); SQLite's LOWER() only folds
// ASCII, so the folded form is computed in Go on every write.
type Profile struct {
	ID                string    `gorm:"column:id;primaryKey;size:190;not null"`
	DisplayName       *string   `gorm:"column:display_name;size:320"`
	DisplayNameSearch *string   `gorm:"column:display_name_search;size:320;index"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Profile) TableName() string {
	return "profiles"
}

// SearchKey folds a display name or query for case-insensitive matching.
func SearchKey(value string) string {
	return strings.ToLower(value)
}

// WithSearchKey returns p with DisplayNameSearch derived from DisplayName.
func (p Profile) WithSearchKey() Profile {
	p.DisplayNameSearch = nil
	if p.DisplayName != nil {
		key := SearchKey(*p.DisplayName)
		p.DisplayNameSearch = &key
	}
	return p
}

// Group is a pool of players competing on the same tips.
type Group struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	Name      string    `gorm:"column:name;size:100;not null"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Group) TableName() string {
	return "groups"
}

// GroupMember associates a user with a group. The composite primary key makes
// (group_id, user_id) unique.
type GroupMember struct {
	GroupID  string    `gorm:"column:group_id;primaryKey;size:190;not null"`
	UserID   string    `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	Role     Role      `gorm:"column:role;size:16;not null;default:member"`
	JoinedAt time.Time `gorm:"column:joined_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (GroupMember) TableName() string {
	return "group_members"
}

// GroupInvite is a shareable token granting membership of a group.
type GroupInvite struct {
	ID        string     `gorm:"column:id;primaryKey;size:190;not null"`
	GroupID   string     `gorm:"column:group_id;size:190;not null;index"`
	Token     string     `gorm:"column:token;size:64;not null;uniqueIndex"`
	CreatedBy string     `gorm:"column:created_by;size:190;not null"`
	ExpiresAt *time.Time `gorm:"column:expires_at"`
	MaxUses   *int       `gorm:"column:max_uses"`
	Uses      int        `gorm:"column:uses;not null;default:0"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (GroupInvite) TableName() string {
	return "group_invites"
}

// Expired reports whether the invite can no longer be redeemed at now.
func (i GroupInvite) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !i.ExpiresAt.After(now)
}

// Exhausted reports whether the usage ceiling has been reached.
func (i GroupInvite) Exhausted() bool {
	return i.MaxUses != nil && i.Uses >= *i.MaxUses
}

// Usable reports whether the invite is neither expired nor exhausted.
func (i GroupInvite) Usable(now time.Time) bool {
	return !i.Expired(now) && !i.Exhausted()
}

// Models lists the records persisted by the relational store, in migration order.
func Models() []any {
	return []any{&Profile{}, &Group{}, &GroupMember{}, &GroupInvite{}}
}
