package users

import (
	"strings"
	"time"
)

// User is an account known to the identity provider. Password-less users signed in
// through OAuth only.
type User struct {
	ID           string     `gorm:"column:id;primaryKey;size:190;not null"`
	Email        string     `gorm:"column:email;size:320;not null;uniqueIndex"`
	DisplayName  string     `gorm:"column:display_name;size:320"`
	AvatarURL    string     `gorm:"column:avatar_url;size:512"`
	PasswordHash string     `gorm:"column:password_hash;size:255"`
	LastSignInAt *time.Time `gorm:"column:last_sign_in_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// Identity captures the mapping between a user id and a provider-specific login.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	AvatarURL   string    `gorm:"column:user_avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// Models lists the records owned by this package, in migration order.
func Models() []any {
	return []any{&User{}, &Identity{}}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
