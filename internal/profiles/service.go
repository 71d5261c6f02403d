// Package profiles reads and writes the public display profile of a user and
// powers the user search.
package profiles

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/apperr"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/store"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	opServiceNew = "profiles.service.new"
	opGetProfile = "profiles.get"
	opSave       = "profiles.save"
	opSearch     = "profiles.search"

	// MinSearchLength is the shortest trimmed query that reaches the store.
	MinSearchLength = 2
	// MaxSearchResults caps the number of search hits.
	MaxSearchResults = 10
)

const (
	messageSignInRequired = "You must be signed in."
	messageNameTooLong    = "Display name is too long."
)

var (
	errMissingStore = errors.New("store is required")
	noOpLogger      = zap.NewNop()
	validate        = validator.New()
)

type ServiceConfig struct {
	Store  store.Store
	Clock  func() time.Time
	Logger *zap.Logger
}

type Service struct {
	store  store.Store
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, apperr.New(opServiceNew, "missing_store", apperr.ErrStore, "", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{store: cfg.Store, clock: clock, logger: logger}, nil
}

// GetOrInitProfile returns the stored profile, or an empty shell for users who never saved one.
func (s *Service) GetOrInitProfile(ctx context.Context, userID string) (store.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return store.Profile{}, apperr.New(opGetProfile, "not_authenticated", apperr.ErrNotAuthenticated, messageSignInRequired, nil)
	}
	profile, err := s.store.Profiles().GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Profile{ID: userID}, nil
	}
	if err != nil {
		s.logError(opGetProfile, "query_failed", err, zap.String("user_id", userID))
		return store.Profile{}, apperr.New(opGetProfile, "query_failed", apperr.ErrStore, "", err)
	}
	return profile, nil
}

type saveProfileInput struct {
	DisplayName string `validate:"max=80"`
}

// SaveProfile trims displayName and upserts it. A blank name clears the stored value.
func (s *Service) SaveProfile(ctx context.Context, userID, displayName string) (store.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return store.Profile{}, apperr.New(opSave, "not_authenticated", apperr.ErrNotAuthenticated, messageSignInRequired, nil)
	}
	input := saveProfileInput{DisplayName: strings.TrimSpace(displayName)}
	if err := validate.Struct(input); err != nil {
		return store.Profile{}, apperr.New(opSave, "name_too_long", apperr.ErrValidation, messageNameTooLong, err)
	}
	profile := store.Profile{ID: userID, UpdatedAt: s.clock().UTC()}
	if input.DisplayName != "" {
		profile.DisplayName = &input.DisplayName
	}
	if err := s.store.Profiles().UpsertProfile(ctx, profile); err != nil {
		s.logError(opSave, "upsert_failed", err, zap.String("user_id", userID))
		return store.Profile{}, apperr.New(opSave, "upsert_failed", apperr.ErrStore, "", err)
	}
	return profile, nil
}

// SearchProfiles matches display names containing query, ignoring case. Queries shorter
// than MinSearchLength return no results without touching the store.
func (s *Service) SearchProfiles(ctx context.Context, query string) ([]store.Profile, error) {
	trimmed := strings.TrimSpace(query)
	if utf8.RuneCountInString(trimmed) < MinSearchLength {
		return []store.Profile{}, nil
	}
	results, err := s.store.Profiles().SearchProfiles(ctx, trimmed, MaxSearchResults)
	if err != nil {
		s.logError(opSearch, "query_failed", err)
		return nil, apperr.New(opSearch, "query_failed", apperr.ErrStore, "", err)
	}
	if results == nil {
		results = []store.Profile{}
	}
	return results, nil
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
	s.logger.Error("profile service error", attrs...)
}
