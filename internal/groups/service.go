// Package groups manages prediction groups and their memberships.
package groups

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/apperr"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/ids"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/store"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	opServiceNew    = "groups.service.new"
	opCreateGroup   = "groups.create"
	opListMyGroups  = "groups.list_mine"
	opGetGroup      = "groups.get"
	opGetMembers    = "groups.members"
	opRequireMember = "groups.require_member"

	// MaxNameLength bounds group names in characters.
	MaxNameLength = 100
)

const (
	messageSignInRequired = "You must be signed in."
	messageNameRequired   = "Group name is required."
	messageNameTooLong    = "Group name is too long."
	messageGroupNotFound  = "Group not found."
	messageMembersOnly    = "Only group members can see this group."
)

var (
	errMissingStore      = errors.New("store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
	validate             = validator.New()
)

type ServiceConfig struct {
	Store      store.Store
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

type Service struct {
	store      store.Store
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, apperr.New(opServiceNew, "missing_store", apperr.ErrStore, "", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.New(opServiceNew, "missing_id_provider", apperr.ErrStore, "", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

type createGroupInput struct {
	Name    string `validate:"required,max=100"`
	OwnerID string `validate:"required"`
}

// CreateGroup stores the group and the owner's membership in one transaction.
func (s *Service) CreateGroup(ctx context.Context, name, ownerID string) (store.Group, error) {
	input := createGroupInput{Name: strings.TrimSpace(name), OwnerID: strings.TrimSpace(ownerID)}
	if input.OwnerID == "" {
		return store.Group{}, apperr.New(opCreateGroup, "not_authenticated", apperr.ErrNotAuthenticated, messageSignInRequired, nil)
	}
	if err := validate.Struct(input); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 && validationErrs[0].Tag() == "max" {
			return store.Group{}, apperr.New(opCreateGroup, "name_too_long", apperr.ErrValidation, messageNameTooLong, err)
		}
		return store.Group{}, apperr.New(opCreateGroup, "name_required", apperr.ErrValidation, messageNameRequired, err)
	}

	groupID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateGroup, "id_generation_failed", err)
		return store.Group{}, apperr.New(opCreateGroup, "id_generation_failed", apperr.ErrStore, "", err)
	}
	now := s.clock().UTC()
	group := store.Group{
		ID:        groupID,
		Name:      input.Name,
		OwnerID:   input.OwnerID,
		CreatedAt: now,
	}

	reason := "group_insert_failed"
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Groups().CreateGroup(ctx, group); err != nil {
			return err
		}
		reason = "owner_insert_failed"
		return tx.Members().AddMember(ctx, store.GroupMember{
			GroupID:  group.ID,
			UserID:   group.OwnerID,
			Role:     store.RoleOwner,
			JoinedAt: now,
		})
	})
	if err != nil {
		s.logError(opCreateGroup, reason, err, zap.String("owner_id", group.OwnerID))
		return store.Group{}, apperr.New(opCreateGroup, reason, apperr.ErrStore, "", err)
	}

	s.logger.Info("group created", zap.String("group_id", group.ID), zap.String("owner_id", group.OwnerID))
	return group, nil
}

// ListMyGroups returns the groups userID belongs to. It never returns nil.
func (s *Service) ListMyGroups(ctx context.Context, userID string) ([]store.Group, error) {
	if strings.TrimSpace(userID) == "" {
		return []store.Group{}, nil
	}
	groups, err := s.store.Groups().ListGroupsForUser(ctx, userID)
	if err != nil {
		s.logError(opListMyGroups, "query_failed", err, zap.String("user_id", userID))
		return nil, apperr.New(opListMyGroups, "query_failed", apperr.ErrStore, "", err)
	}
	if groups == nil {
		groups = []store.Group{}
	}
	return groups, nil
}

func (s *Service) GetGroup(ctx context.Context, groupID string) (store.Group, error) {
	group, err := s.store.Groups().GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Group{}, apperr.New(opGetGroup, "not_found", apperr.ErrNotFound, messageGroupNotFound, err)
		}
		s.logError(opGetGroup, "query_failed", err, zap.String("group_id", groupID))
		return store.Group{}, apperr.New(opGetGroup, "query_failed", apperr.ErrStore, "", err)
	}
	return group, nil
}

// RequireMember fails with a Forbidden error unless userID belongs to groupID.
func (s *Service) RequireMember(ctx context.Context, groupID, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperr.New(opRequireMember, "not_authenticated", apperr.ErrNotAuthenticated, messageSignInRequired, nil)
	}
	isMember, err := s.store.Members().IsMember(ctx, groupID, userID)
	if err != nil {
		s.logError(opRequireMember, "query_failed", err, zap.String("group_id", groupID))
		return apperr.New(opRequireMember, "query_failed", apperr.ErrStore, "", err)
	}
	if !isMember {
		return apperr.New(opRequireMember, "not_member", apperr.ErrForbidden, messageMembersOnly, nil)
	}
	return nil
}

// Member is a membership row merged with the member's profile. Profile is nil when
// the user never saved one.
type Member struct {
	UserID   string
	Role     store.Role
	JoinedAt time.Time
	Profile  *store.Profile
}

// GetGroupMembers lists the group's members with their profiles, resolved in a single batch.
func (s *Service) GetGroupMembers(ctx context.Context, groupID string) ([]Member, error) {
	rows, err := s.store.Members().ListMembers(ctx, groupID)
	if err != nil {
		s.logError(opGetMembers, "members_query_failed", err, zap.String("group_id", groupID))
		return nil, apperr.New(opGetMembers, "members_query_failed", apperr.ErrStore, "", err)
	}
	members := make([]Member, 0, len(rows))
	if len(rows) == 0 {
		return members, nil
	}

	userIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		userIDs = append(userIDs, row.UserID)
	}
	profiles, err := s.store.Profiles().ListProfilesByIDs(ctx, userIDs)
	if err != nil {
		s.logError(opGetMembers, "profiles_query_failed", err, zap.String("group_id", groupID))
		return nil, apperr.New(opGetMembers, "profiles_query_failed", apperr.ErrStore, "", err)
	}
	byID := make(map[string]store.Profile, len(profiles))
	for _, profile := range profiles {
		byID[profile.ID] = profile
	}

	for _, row := range rows {
		member := Member{UserID: row.UserID, Role: row.Role, JoinedAt: row.JoinedAt}
		if profile, ok := byID[row.UserID]; ok {
			member.Profile = &profile
		}
		members = append(members, member)
	}
	return members, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("group service error", attrs...)
}
