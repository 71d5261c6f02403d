// Package invites issues shareable group invite tokens and redeems them into memberships.
package invites

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/apperr"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/ids"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/store"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/tokens"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	opServiceNew = "invites.service.new"
	opCreate     = "invites.create"
	opRedeem     = "invites.redeem"
	opPreview    = "invites.preview"

	maxTokenAttempts = 3
	joinPathPrefix   = "/join/"
)

const (
	messageSignInRequired   = "You must be signed in."
	messageInvalidSettings  = "Invalid invite settings."
	messageExpiryInPast     = "The expiry must be in the future."
	messageGroupNotFound    = "Group not found."
	messageMembersOnly      = "Only group members can create invites."
	messageInvalidInvite    = "Invalid invite."
	messageInviteExpired    = "The invite has expired."
	messageInviteExhausted  = "The invite cannot be used any more."
	messageTokenUnavailable = "Could not create an invite, please try again."
)

// Redemption outcomes reported to the Observer.
const (
	OutcomeJoined        = "joined"
	OutcomeAlreadyMember = "already_member"
	OutcomeNotFound      = "not_found"
	OutcomeExpired       = "expired"
	OutcomeExhausted     = "exhausted"
	OutcomeFailed        = "failed"
)

var (
	errMissingStore      = errors.New("store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errUsageCeiling      = errors.New("usage ceiling reached")
	errTokenCollisions   = errors.New("token collided on every attempt")
	noOpLogger           = zap.NewNop()
	validate             = validator.New()
)

// TokenSource produces fresh invite tokens.
type TokenSource func() (string, error)

// Observer receives invite lifecycle events. Implemented by the metrics package.
type Observer interface {
	InviteCreated()
	InviteRedeemed(outcome string)
}

type noopObserver struct{}

func (noopObserver) InviteCreated()        {}
func (noopObserver) InviteRedeemed(string) {}

// ServiceConfig describes the dependencies of the invite service.
type ServiceConfig struct {
	Store       store.Store
	Clock       func() time.Time
	IDProvider  ids.Provider
	TokenSource TokenSource
	Observer    Observer
	Logger      *zap.Logger
}

// Service issues and redeems group invite tokens.
type Service struct {
	store      store.Store
	clock      func() time.Time
	idProvider ids.Provider
	newToken   TokenSource
	observer   Observer
	logger     *zap.Logger
}

// NewService validates the configuration and fills defaults for the optional parts.
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
	tokenSource := cfg.TokenSource
	if tokenSource == nil {
		tokenSource = func() (string, error) {
			return tokens.Generate(tokens.Size192)
		}
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		newToken:   tokenSource,
		observer:   observer,
		logger:     logger,
	}, nil
}

// CreateInviteRequest carries the parameters of a new invite. Nil limits mean unlimited.
type CreateInviteRequest struct {
	GroupID   string `validate:"required,max=190"`
	IssuerID  string
	ExpiresAt *time.Time
	MaxUses   *int `validate:"omitempty,min=1"`
}

// CreateInvite persists a new invite with uses = 0. Only members of the group may issue invites.
func (s *Service) CreateInvite(ctx context.Context, request CreateInviteRequest) (store.GroupInvite, error) {
	if strings.TrimSpace(request.IssuerID) == "" {
		return store.GroupInvite{}, apperr.New(opCreate, "not_authenticated", apperr.ErrNotAuthenticated, messageSignInRequired, nil)
	}
	if err := validate.Struct(request); err != nil {
		return store.GroupInvite{}, apperr.New(opCreate, "invalid_request", apperr.ErrValidation, messageInvalidSettings, err)
	}
	now := s.clock().UTC()
	if request.ExpiresAt != nil && !request.ExpiresAt.After(now) {
		return store.GroupInvite{}, apperr.New(opCreate, "expiry_in_past", apperr.ErrValidation, messageExpiryInPast, nil)
	}

	if _, err := s.store.Groups().GetGroup(ctx, request.GroupID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.GroupInvite{}, apperr.New(opCreate, "group_not_found", apperr.ErrNotFound, messageGroupNotFound, err)
		}
		s.logError(opCreate, "group_lookup_failed", err, zap.String("group_id", request.GroupID))
		return store.GroupInvite{}, apperr.New(opCreate, "group_lookup_failed", apperr.ErrStore, "", err)
	}
	isMember, err := s.store.Members().IsMember(ctx, request.GroupID, request.IssuerID)
	if err != nil {
		s.logError(opCreate, "membership_lookup_failed", err, zap.String("group_id", request.GroupID))
		return store.GroupInvite{}, apperr.New(opCreate, "membership_lookup_failed", apperr.ErrStore, "", err)
	}
	if !isMember {
		s.logger.Warn("invite issued by non-member rejected",
			zap.String("group_id", request.GroupID),
			zap.String("issuer_id", request.IssuerID))
		return store.GroupInvite{}, apperr.New(opCreate, "not_member", apperr.ErrForbidden, messageMembersOnly, nil)
	}

	var expiresAt *time.Time
	if request.ExpiresAt != nil {
		utc := request.ExpiresAt.UTC()
		expiresAt = &utc
	}

	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		token, err := s.newToken()
		if err != nil {
			s.logError(opCreate, "token_generation_failed", err)
			return store.GroupInvite{}, apperr.New(opCreate, "token_generation_failed", apperr.ErrStore, messageTokenUnavailable, err)
		}
		inviteID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreate, "id_generation_failed", err)
			return store.GroupInvite{}, apperr.New(opCreate, "id_generation_failed", apperr.ErrStore, messageTokenUnavailable, err)
		}
		invite := store.GroupInvite{
			ID:        inviteID,
			GroupID:   request.GroupID,
			Token:     token,
			CreatedBy: request.IssuerID,
			ExpiresAt: expiresAt,
			MaxUses:   request.MaxUses,
			Uses:      0,
			CreatedAt: now,
		}
		err = s.store.Invites().CreateInvite(ctx, invite)
		if errors.Is(err, store.ErrAlreadyExists) {
			s.logger.Warn("invite token collision, regenerating", zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			s.logError(opCreate, "insert_failed", err, zap.String("group_id", request.GroupID))
			return store.GroupInvite{}, apperr.New(opCreate, "insert_failed", apperr.ErrStore, "", err)
		}
		s.observer.InviteCreated()
		s.logger.Info("invite created",
			zap.String("invite_id", invite.ID),
			zap.String("group_id", invite.GroupID),
			zap.String("issuer_id", invite.CreatedBy))
		return invite, nil
	}

	s.logError(opCreate, "token_collision", errTokenCollisions, zap.String("group_id", request.GroupID))
	return store.GroupInvite{}, apperr.New(opCreate, "token_collision", apperr.ErrStore, messageTokenUnavailable, errTokenCollisions)
}

// JoinURL builds the shareable link for token under origin (scheme://host).
func JoinURL(origin, token string) string {
	return strings.TrimRight(origin, "/") + joinPathPrefix + token
}

// Redemption reports the group joined through an invite. AlreadyMember is set when the
// user belonged to the group before redeeming; such redemptions do not consume a use.
type Redemption struct {
	GroupID       string
	AlreadyMember bool
}

// RedeemInvite grants userID membership of the invite's group.
func (s *Service) RedeemInvite(ctx context.Context, token, userID string) (Redemption, error) {
	if strings.TrimSpace(userID) == "" {
		return Redemption{}, apperr.New(opRedeem, "not_authenticated", apperr.ErrNotAuthenticated, messageSignInRequired, nil)
	}

	invite, err := s.store.Invites().GetInviteByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.observer.InviteRedeemed(OutcomeNotFound)
			return Redemption{}, apperr.New(opRedeem, "not_found", apperr.ErrInviteNotFound, messageInvalidInvite, nil)
		}
		s.observer.InviteRedeemed(OutcomeFailed)
		s.logError(opRedeem, "invite_lookup_failed", err)
		return Redemption{}, apperr.New(opRedeem, "invite_lookup_failed", apperr.ErrStore, "", err)
	}

	now := s.clock().UTC()
	if invite.Expired(now) {
		s.observer.InviteRedeemed(OutcomeExpired)
		s.logger.Info("expired invite rejected", zap.String("invite_id", invite.ID), zap.String("user_id", userID))
		return Redemption{}, apperr.New(opRedeem, "expired", apperr.ErrInviteExpired, messageInviteExpired, nil)
	}

	redemption := Redemption{GroupID: invite.GroupID}
	isMember, err := s.store.Members().IsMember(ctx, invite.GroupID, userID)
	if err != nil {
		s.observer.InviteRedeemed(OutcomeFailed)
		s.logError(opRedeem, "membership_lookup_failed", err, zap.String("invite_id", invite.ID))
		return Redemption{}, apperr.New(opRedeem, "membership_lookup_failed", apperr.ErrStore, "", err)
	}
	if isMember {
		redemption.AlreadyMember = true
		s.observer.InviteRedeemed(OutcomeAlreadyMember)
		return redemption, nil
	}

	if invite.Exhausted() {
		s.observer.InviteRedeemed(OutcomeExhausted)
		s.logger.Info("exhausted invite rejected", zap.String("invite_id", invite.ID), zap.String("user_id", userID))
		return Redemption{}, apperr.New(opRedeem, "exhausted", apperr.ErrInviteExhausted, messageInviteExhausted, nil)
	}

	txErr := s.store.WithTx(ctx, func(tx store.Store) error {
		member := store.GroupMember{
			GroupID:  invite.GroupID,
			UserID:   userID,
			Role:     store.RoleMember,
			JoinedAt: now,
		}
		if err := tx.Members().AddMember(ctx, member); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				redemption.AlreadyMember = true
				return nil
			}
			return err
		}
		applied, err := tx.Invites().IncrementUses(ctx, invite.ID)
		if err != nil {
			return err
		}
		if !applied {
			return errUsageCeiling
		}
		return nil
	})
	if errors.Is(txErr, errUsageCeiling) {
		s.observer.InviteRedeemed(OutcomeExhausted)
		s.logger.Info("invite exhausted by concurrent redemption", zap.String("invite_id", invite.ID), zap.String("user_id", userID))
		return Redemption{}, apperr.New(opRedeem, "exhausted", apperr.ErrInviteExhausted, messageInviteExhausted, nil)
	}
	if txErr != nil {
		s.observer.InviteRedeemed(OutcomeFailed)
		s.logError(opRedeem, "membership_insert_failed", txErr, zap.String("invite_id", invite.ID), zap.String("user_id", userID))
		return Redemption{}, apperr.New(opRedeem, "membership_insert_failed", apperr.ErrStore, "", txErr)
	}

	if redemption.AlreadyMember {
		s.observer.InviteRedeemed(OutcomeAlreadyMember)
	} else {
		s.observer.InviteRedeemed(OutcomeJoined)
		s.logger.Info("invite redeemed",
			zap.String("invite_id", invite.ID),
			zap.String("group_id", invite.GroupID),
			zap.String("user_id", userID))
	}
	return redemption, nil
}

// InvitePreview is what an invitee sees before joining.
type InvitePreview struct {
	Token     string
	GroupID   string
	GroupName string
	Usable    bool
}

// PreviewInvite resolves the group behind a token without redeeming it.
func (s *Service) PreviewInvite(ctx context.Context, token string) (InvitePreview, error) {
	invite, err := s.store.Invites().GetInviteByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return InvitePreview{}, apperr.New(opPreview, "not_found", apperr.ErrInviteNotFound, messageInvalidInvite, nil)
		}
		s.logError(opPreview, "invite_lookup_failed", err)
		return InvitePreview{}, apperr.New(opPreview, "invite_lookup_failed", apperr.ErrStore, "", err)
	}
	group, err := s.store.Groups().GetGroup(ctx, invite.GroupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return InvitePreview{}, apperr.New(opPreview, "group_not_found", apperr.ErrInviteNotFound, messageInvalidInvite, err)
		}
		s.logError(opPreview, "group_lookup_failed", err, zap.String("group_id", invite.GroupID))
		return InvitePreview{}, apperr.New(opPreview, "group_lookup_failed", apperr.ErrStore, "", err)
	}
	return InvitePreview{
		Token:     invite.Token,
		GroupID:   group.ID,
		GroupName: group.Name,
		Usable:    invite.Usable(s.clock().UTC()),
	}, nil
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
	s.logger.Error("invite service error", attrs...)
}
