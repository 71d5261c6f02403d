package gormstore

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	queryID             = "id = ?"
	queryIDIn           = "id IN ?"
	queryGroupID        = "group_id = ?"
	queryUserID         = "user_id = ?"
	queryGroupUser      = "group_id = ? AND user_id = ?"
	queryToken          = "token = ?"
	queryUnderCeiling   = "id = ? AND (max_uses IS NULL OR uses < max_uses)"
	queryDisplayNameILK = "display_name_search LIKE ? ESCAPE '!'"
	likeEscape          = "!"
)

var errMissingDatabase = errors.New("gormstore: database handle is required")

// Store implements store.Store on top of GORM. It works with the SQLite,
// PostgreSQL and MySQL dialects.
type Store struct {
	db *gorm.DB
}

// New wraps an open GORM handle.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: db}, nil
}

func (s *Store) Profiles() store.Profiles { return &profilesRepo{db: s.db} }
func (s *Store) Groups() store.Groups     { return &groupsRepo{db: s.db} }
func (s *Store) Members() store.Members   { return &membersRepo{db: s.db} }
func (s *Store) Invites() store.Invites   { return &invitesRepo{db: s.db} }

// WithTx runs fn inside a GORM transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

type profilesRepo struct {
	db *gorm.DB
}

func (r *profilesRepo) GetProfile(ctx context.Context, userID string) (store.Profile, error) {
	var profile store.Profile
	if err := r.db.WithContext(ctx).Where(queryID, userID).Take(&profile).Error; err != nil {
		return store.Profile{}, mapNotFound(err)
	}
	return profile, nil
}

func (r *profilesRepo) ListProfilesByIDs(ctx context.Context, userIDs []string) ([]store.Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var profiles []store.Profile
	if err := r.db.WithContext(ctx).Where(queryIDIn, userIDs).Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

func (r *profilesRepo) UpsertProfile(ctx context.Context, profile store.Profile) error {
	profile = profile.WithSearchKey()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "display_name_search", "updated_at"}),
		}).
		Create(&profile).Error
}

func (r *profilesRepo) SearchProfiles(ctx context.Context, substring string, limit int) ([]store.Profile, error) {
	pattern := "%" + escapeLike(store.SearchKey(substring)) + "%"
	var profiles []store.Profile
	err := r.db.WithContext(ctx).
		Where(queryDisplayNameILK, pattern).
		Order("display_name ASC").
		Limit(limit).
		Find(&profiles).Error
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

// escapeLike neutralises LIKE wildcards so user input only matches literally.
func escapeLike(value string) string {
	replacer := strings.NewReplacer(
		likeEscape, likeEscape+likeEscape,
		"%", likeEscape+"%",
		"_", likeEscape+"_",
	)
	return replacer.Replace(value)
}

type groupsRepo struct {
	db *gorm.DB
}

func (r *groupsRepo) CreateGroup(ctx context.Context, group store.Group) error {
	return r.db.WithContext(ctx).Create(&group).Error
}

func (r *groupsRepo) GetGroup(ctx context.Context, groupID string) (store.Group, error) {
	var group store.Group
	if err := r.db.WithContext(ctx).Where(queryID, groupID).Take(&group).Error; err != nil {
		return store.Group{}, mapNotFound(err)
	}
	return group, nil
}

func (r *groupsRepo) ListGroupsForUser(ctx context.Context, userID string) ([]store.Group, error) {
	db := r.db.WithContext(ctx)
	memberships := db.Model(&store.GroupMember{}).Select("group_id").Where(queryUserID, userID)

	var groups []store.Group
	if err := db.Where("id IN (?)", memberships).Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

type membersRepo struct {
	db *gorm.DB
}

func (r *membersRepo) AddMember(ctx context.Context, member store.GroupMember) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&member)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (r *membersRepo) ListMembers(ctx context.Context, groupID string) ([]store.GroupMember, error) {
	var members []store.GroupMember
	err := r.db.WithContext(ctx).
		Where(queryGroupID, groupID).
		Order("joined_at ASC").
		Order("user_id ASC").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *membersRepo) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&store.GroupMember{}).
		Where(queryGroupUser, groupID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type invitesRepo struct {
	db *gorm.DB
}

func (r *invitesRepo) CreateInvite(ctx context.Context, invite store.GroupInvite) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&invite)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (r *invitesRepo) GetInviteByToken(ctx context.Context, token string) (store.GroupInvite, error) {
	var invite store.GroupInvite
	if err := r.db.WithContext(ctx).Where(queryToken, token).Take(&invite).Error; err != nil {
		return store.GroupInvite{}, mapNotFound(err)
	}
	return invite, nil
}

func (r *invitesRepo) IncrementUses(ctx context.Context, inviteID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&store.GroupInvite{}).
		Where(queryUnderCeiling, inviteID).
		UpdateColumn("uses", gorm.Expr("uses + ?", 1))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
