package users

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/apperr"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/auth"
	"github.com/alexedwards/argon2id"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testPasswordParams = &argon2id.Params{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

type counterIDs struct {
	next int
}

func (p *counterIDs) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("user-%d", p.next), nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate user schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:       db,
		IDProvider:     &counterIDs{},
		PasswordParams: testPasswordParams,
		Clock: func() time.Time {
			return time.Unix(1_780_000_000, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func TestSignUpThenAuthenticate(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.SignUp(ctx, SignUpRequest{Email: " Fan@Example.com ", Password: "correct-horse", DisplayName: " Fan "})
	if err != nil {
		t.Fatalf("sign up failed: %v", err)
	}
	if created.Email != "fan@example.com" || created.DisplayName != "Fan" {
		t.Fatalf("expected normalized account, got %+v", created)
	}
	if created.PasswordHash == "" || created.PasswordHash == "correct-horse" {
		t.Fatalf("expected hashed password")
	}

	user, err := service.Authenticate(ctx, "FAN@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if user.ID != created.ID {
		t.Fatalf("expected %s, got %s", created.ID, user.ID)
	}
	if user.LastSignInAt == nil {
		t.Fatalf("expected sign in to be recorded")
	}
}

func TestAuthenticateRejectsWrongPasswordAndUnknownEmail(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	if _, err := service.SignUp(ctx, SignUpRequest{Email: "fan@example.com", Password: "correct-horse"}); err != nil {
		t.Fatalf("sign up failed: %v", err)
	}

	for _, attempt := range []struct{ email, password string }{
		{"fan@example.com", "wrong-password"},
		{"nobody@example.com", "correct-horse"},
	} {
		_, err := service.Authenticate(ctx, attempt.email, attempt.password)
		if !errors.Is(err, ErrInvalidCredentials) || !errors.Is(err, apperr.ErrNotAuthenticated) {
			t.Fatalf("expected invalid credentials for %s, got %v", attempt.email, err)
		}
		if apperr.MessageOf(err) != "Invalid email or password." {
			t.Fatalf("unexpected message %q", apperr.MessageOf(err))
		}
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	if _, err := service.SignUp(ctx, SignUpRequest{Email: "fan@example.com", Password: "correct-horse"}); err != nil {
		t.Fatalf("sign up failed: %v", err)
	}
	_, err := service.SignUp(ctx, SignUpRequest{Email: "FAN@example.com", Password: "another-pass"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}
}

func TestSignUpValidatesInput(t *testing.T) {
	service, _ := newTestService(t)
	for _, request := range []SignUpRequest{
		{Email: "not-an-email", Password: "correct-horse"},
		{Email: "fan@example.com", Password: "short"},
		{Email: "", Password: "correct-horse"},
	} {
		if _, err := service.SignUp(context.Background(), request); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", request, err)
		}
	}
}

func TestResolveOAuthUserCreatesAndReusesIdentity(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	external := auth.ExternalIdentity{
		Provider:      "google",
		Subject:       "12345",
		Email:         "fan@example.com",
		EmailVerified: true,
		DisplayName:   "Example User",
		AvatarURL:     "https://example.com/avatar.png",
	}

	first, err := service.ResolveOAuthUser(ctx, external)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if first.DisplayName != "Example User" || first.AvatarURL != "https://example.com/avatar.png" {
		t.Fatalf("unexpected account %+v", first)
	}

	external.DisplayName = "Renamed User"
	second, err := service.ResolveOAuthUser(ctx, external)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected stable user id, got %s and %s", first.ID, second.ID)
	}

	var identities []Identity
	if err := db.Find(&identities).Error; err != nil {
		t.Fatalf("failed to list identities: %v", err)
	}
	if len(identities) != 1 || identities[0].DisplayName != "Renamed User" {
		t.Fatalf("expected one refreshed identity, got %+v", identities)
	}
}

func TestResolveOAuthUserLinksVerifiedEmailToPasswordAccount(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	account, err := service.SignUp(ctx, SignUpRequest{Email: "fan@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("sign up failed: %v", err)
	}

	linked, err := service.ResolveOAuthUser(ctx, auth.ExternalIdentity{
		Provider:      "google",
		Subject:       "999",
		Email:         "Fan@Example.com",
		EmailVerified: true,
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if linked.ID != account.ID {
		t.Fatalf("expected link to %s, got %s", account.ID, linked.ID)
	}
}

func TestResolveOAuthUserRefusesUnverifiedEmailTakeover(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	if _, err := service.SignUp(ctx, SignUpRequest{Email: "fan@example.com", Password: "correct-horse"}); err != nil {
		t.Fatalf("sign up failed: %v", err)
	}

	_, err := service.ResolveOAuthUser(ctx, auth.ExternalIdentity{
		Provider: "google",
		Subject:  "999",
		Email:    "fan@example.com",
	})
	if !errors.Is(err, ErrEmailTaken) || !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected unverified email to be refused, got %v", err)
	}
}

func TestResolveOAuthUserRequiresSubject(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.ResolveOAuthUser(context.Background(), auth.ExternalIdentity{Provider: "google"})
	if !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity, got %v", err)
	}
}

func TestGetUser(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	created, err := service.SignUp(ctx, SignUpRequest{Email: "fan@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("sign up failed: %v", err)
	}

	loaded, err := service.GetUser(ctx, created.ID)
	if err != nil {
		t.Fatalf("get user failed: %v", err)
	}
	if loaded.Email != created.Email {
		t.Fatalf("unexpected user %+v", loaded)
	}

	if _, err := service.GetUser(ctx, "missing"); !errors.Is(err, ErrUserNotFound) || !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAvatarURLsReturnsOnlyUsersWithAvatars(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	withAvatar, err := service.ResolveOAuthUser(ctx, auth.ExternalIdentity{
		Provider:      "google",
		Subject:       "sub-avatar",
		Email:         "keeper@example.com",
		EmailVerified: true,
		AvatarURL:     "https://example.com/keeper.png",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	withoutAvatar, err := service.SignUp(ctx, SignUpRequest{Email: "striker@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("sign up failed: %v", err)
	}

	avatars, err := service.AvatarURLs(ctx, []string{withAvatar.ID, withoutAvatar.ID, "missing"})
	if err != nil {
		t.Fatalf("avatar lookup failed: %v", err)
	}
	if len(avatars) != 1 || avatars[withAvatar.ID] != "https://example.com/keeper.png" {
		t.Fatalf("unexpected avatars %v", avatars)
	}

	empty, err := service.AvatarURLs(ctx, nil)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty map for no ids, got %v (%v)", empty, err)
	}
}
