// Package users owns accounts, password credentials and external login identities.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/apperr"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/auth"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/ids"
	"github.com/alexedwards/argon2id"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opSignUp       = "users.sign_up"
	opAuthenticate = "users.authenticate"
	opResolveOAuth = "users.resolve_oauth"
	opGetUser      = "users.get"
	opAvatarURLs   = "users.avatar_urls"
)

var (
	// ErrInvalidIdentity indicates the external identity did not contain a usable subject.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrInvalidCredentials indicates an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrEmailTaken indicates a sign up for an email that already has an account.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrUserNotFound indicates no account has the requested id.
	ErrUserNotFound = errors.New("users: user not found")

	noOpLogger = zap.NewNop()
	validate   = validator.New()
)

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	// PasswordParams tunes argon2id; nil uses argon2id.DefaultParams.
	PasswordParams *argon2id.Params
	Logger         *zap.Logger
}

// Service manages user accounts and provider-specific identities.
type Service struct {
	db             *gorm.DB
	now            func() time.Time
	idProvider     ids.Provider
	passwordParams *argon2id.Params
	logger         *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	params := cfg.PasswordParams
	if params == nil {
		params = argon2id.DefaultParams
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:             cfg.Database,
		now:            clock,
		idProvider:     cfg.IDProvider,
		passwordParams: params,
		logger:         logger,
	}, nil
}

// SignUpRequest carries the fields of a password registration.
type SignUpRequest struct {
	Email       string `validate:"required,email,max=320"`
	Password    string `validate:"required,min=8,max=256"`
	DisplayName string `validate:"max=80"`
}

// SignUp registers a password account.
func (s *Service) SignUp(ctx context.Context, request SignUpRequest) (User, error) {
	request.Email = normalizeEmail(request.Email)
	request.DisplayName = normalize(request.DisplayName)
	if err := validate.Struct(request); err != nil {
		return User{}, apperr.New(opSignUp, "invalid_request", apperr.ErrValidation, "Enter a valid email and a password of at least 8 characters.", err)
	}

	hash, err := argon2id.CreateHash(request.Password, s.passwordParams)
	if err != nil {
		s.logError(opSignUp, "hash_failed", err)
		return User{}, apperr.New(opSignUp, "hash_failed", apperr.ErrStore, "", err)
	}
	userID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSignUp, "id_generation_failed", err)
		return User{}, apperr.New(opSignUp, "id_generation_failed", apperr.ErrStore, "", err)
	}

	user := User{
		ID:           userID,
		Email:        request.Email,
		DisplayName:  request.DisplayName,
		PasswordHash: hash,
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&user)
	if result.Error != nil {
		s.logError(opSignUp, "insert_failed", result.Error)
		return User{}, apperr.New(opSignUp, "insert_failed", apperr.ErrStore, "", result.Error)
	}
	if result.RowsAffected == 0 {
		return User{}, apperr.New(opSignUp, "email_taken", apperr.ErrValidation, "An account with this email already exists.", ErrEmailTaken)
	}
	s.logger.Info("user signed up", zap.String("user_id", user.ID))
	return user, nil
}

// Authenticate checks an email and password pair and records the sign in.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	invalid := apperr.New(opAuthenticate, "invalid_credentials", apperr.ErrNotAuthenticated, "Invalid email or password.", ErrInvalidCredentials)

	var user User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, invalid
	}
	if err != nil {
		s.logError(opAuthenticate, "query_failed", err)
		return User{}, apperr.New(opAuthenticate, "query_failed", apperr.ErrStore, "", err)
	}
	if user.PasswordHash == "" {
		return User{}, invalid
	}

	match, err := argon2id.ComparePasswordAndHash(password, user.PasswordHash)
	if err != nil {
		s.logError(opAuthenticate, "hash_compare_failed", err, zap.String("user_id", user.ID))
		return User{}, invalid
	}
	if !match {
		s.logger.Info("password sign in rejected", zap.String("user_id", user.ID))
		return User{}, invalid
	}

	if err := s.touchSignIn(ctx, s.db, &user); err != nil {
		s.logger.Warn("failed to record sign in", zap.String("user_id", user.ID), zap.Error(err))
	}
	return user, nil
}

// ResolveOAuthUser returns the account linked to an external identity, linking by
// verified email or creating a new account when the identity is new.
func (s *Service) ResolveOAuthUser(ctx context.Context, external auth.ExternalIdentity) (User, error) {
	provider := normalize(external.Provider)
	subject := normalize(external.Subject)
	if provider == "" || subject == "" {
		return User{}, apperr.New(opResolveOAuth, "invalid_identity", apperr.ErrNotAuthenticated, "The sign in could not be completed.", ErrInvalidIdentity)
	}
	email := normalizeEmail(external.Email)
	now := s.now().UTC()

	var resolved User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var identity Identity
		err := tx.Where("provider = ? AND subject = ?", provider, subject).Take(&identity).Error
		switch {
		case err == nil:
			if err := tx.Where("id = ?", identity.UserID).Take(&resolved).Error; err != nil {
				return err
			}
			updates := map[string]interface{}{"last_seen_at": now}
			if email != "" && email != identity.Email {
				updates["user_email"] = email
			}
			if display := normalize(external.DisplayName); display != "" && display != identity.DisplayName {
				updates["user_display_name"] = display
			}
			if avatar := normalize(external.AvatarURL); avatar != "" && avatar != identity.AvatarURL {
				updates["user_avatar_url"] = avatar
			}
			return tx.Model(&Identity{}).
				Where("provider = ? AND subject = ?", provider, subject).
				Updates(updates).Error
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		linked := false
		if email != "" {
			err := tx.Where("email = ?", email).Take(&resolved).Error
			switch {
			case err == nil && external.EmailVerified:
				linked = true
			case err == nil:
				return ErrEmailTaken
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
		}
		if !linked {
			if email == "" {
				return ErrInvalidIdentity
			}
			userID, err := s.idProvider.NewID()
			if err != nil {
				return err
			}
			resolved = User{
				ID:          userID,
				Email:       email,
				DisplayName: normalize(external.DisplayName),
				AvatarURL:   normalize(external.AvatarURL),
			}
			if err := tx.Create(&resolved).Error; err != nil {
				return err
			}
		}

		return tx.Create(&Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      resolved.ID,
			Email:       email,
			DisplayName: normalize(external.DisplayName),
			AvatarURL:   normalize(external.AvatarURL),
			LastSeenAt:  now,
		}).Error
	})
	if errors.Is(err, ErrInvalidIdentity) {
		return User{}, apperr.New(opResolveOAuth, "missing_email", apperr.ErrNotAuthenticated, "The sign in could not be completed.", err)
	}
	if errors.Is(err, ErrEmailTaken) {
		return User{}, apperr.New(opResolveOAuth, "unverified_email_taken", apperr.ErrForbidden, "An account with this email already exists. Sign in with your password.", err)
	}
	if err != nil {
		s.logError(opResolveOAuth, "resolve_failed", err, zap.String("provider", provider))
		return User{}, apperr.New(opResolveOAuth, "resolve_failed", apperr.ErrStore, "", err)
	}

	if err := s.touchSignIn(ctx, s.db, &resolved); err != nil {
		s.logger.Warn("failed to record sign in", zap.String("user_id", resolved.ID), zap.Error(err))
	}
	return resolved, nil
}

// GetUser loads the account with id userID.
func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, apperr.New(opGetUser, "not_found", apperr.ErrNotFound, "User not found.", ErrUserNotFound)
	}
	if err != nil {
		s.logError(opGetUser, "query_failed", err, zap.String("user_id", userID))
		return User{}, apperr.New(opGetUser, "query_failed", apperr.ErrStore, "", err)
	}
	return user, nil
}

// AvatarURLs maps each of userIDs that has an avatar to its URL.
func (s *Service) AvatarURLs(ctx context.Context, userIDs []string) (map[string]string, error) {
	avatars := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return avatars, nil
	}
	var accounts []User
	err := s.db.WithContext(ctx).
		Select("id", "avatar_url").
		Where("id IN ? AND avatar_url <> ''", userIDs).
		Find(&accounts).Error
	if err != nil {
		s.logError(opAvatarURLs, "query_failed", err, zap.Int("user_count", len(userIDs)))
		return nil, apperr.New(opAvatarURLs, "query_failed", apperr.ErrStore, "", err)
	}
	for _, account := range accounts {
		avatars[account.ID] = account.AvatarURL
	}
	return avatars, nil
}

func (s *Service) touchSignIn(ctx context.Context, db *gorm.DB, user *User) error {
	now := s.now().UTC()
	if err := db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Update("last_sign_in_at", now).Error; err != nil {
		return err
	}
	user.LastSignInAt = &now
	return nil
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
	s.logger.Error("user service error", attrs...)
}
