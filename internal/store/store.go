// Package store defines the narrow repository boundary the services use to reach
// the relational store. Drivers live in subpackages: gormstore for SQL databases
// and memstore for an in-process fake used by tests.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. It exposes one sub-repository per table.
type Store interface {
	Profiles() Profiles
	Groups() Groups
	Members() Members
	Invites() Invites

	// WithTx runs fn inside a transaction. The Store handed to fn is scoped to the
	// transaction; fn returning an error rolls every write back.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

type Profiles interface {
	// GetProfile returns ErrNotFound when the user has never saved a profile.
	GetProfile(ctx context.Context, userID string) (Profile, error)

	// ListProfilesByIDs resolves many profiles in one round trip. Unknown ids are skipped.
	ListProfilesByIDs(ctx context.Context, userIDs []string) ([]Profile, error)

	// UpsertProfile inserts the profile or overwrites display_name when it exists.
	UpsertProfile(ctx context.Context, profile Profile) error

	// SearchProfiles matches display_name case-insensitively against a substring.
	SearchProfiles(ctx context.Context, substring string, limit int) ([]Profile, error)
}

type Groups interface {
	CreateGroup(ctx context.Context, group Group) error

	// GetGroup returns ErrNotFound when no group has the id.
	GetGroup(ctx context.Context, groupID string) (Group, error)

	// ListGroupsForUser returns every group the user has a membership row in.
	ListGroupsForUser(ctx context.Context, userID string) ([]Group, error)
}

type Members interface {
	// AddMember returns ErrAlreadyExists when (group_id, user_id) is already present.
	AddMember(ctx context.Context, member GroupMember) error

	ListMembers(ctx context.Context, groupID string) ([]GroupMember, error)

	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

type Invites interface {
	// CreateInvite returns ErrAlreadyExists when the token collides with an existing invite.
	CreateInvite(ctx context.Context, invite GroupInvite) error

	// GetInviteByToken returns ErrNotFound when no invite carries the token.
	GetInviteByToken(ctx context.Context, token string) (GroupInvite, error)

	// IncrementUses bumps uses by one only while uses < max_uses (or max_uses is unset)
	// and reports whether the row was updated.
	IncrementUses(ctx context.Context, inviteID string) (bool, error)
}
