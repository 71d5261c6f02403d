package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestIssuerAndValidator(t *testing.T, clockNow time.Time) (*SessionIssuer, *SessionValidator) {
	t.Helper()
	clock := func() time.Time { return clockNow }
	issuer, err := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
		TTL:           time.Hour,
		SecureCookie:  true,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return issuer, validator
}

func TestSessionIssuerRoundTripsThroughValidator(t *testing.T) {
	clockNow := time.Date(2026, 6, 11, 12, 0, 0, 0, time.UTC)
	issuer, validator := newTestIssuerAndValidator(t, clockNow)

	token, expiresAt, err := issuer.Issue(SessionUser{
		ID:          testSessionUserID,
		Email:       testSessionUserEmail,
		DisplayName: "Example User",
		AvatarURL:   "https://example.com/avatar.png",
	})
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if !expiresAt.Equal(clockNow.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	request := httptest.NewRequest(http.MethodGet, "/auth/user", http.NoBody)
	request.AddCookie(issuer.SessionCookie(token, expiresAt))

	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.UserID != testSessionUserID || claims.Subject != testSessionUserID {
		t.Fatalf("unexpected subject %q / %q", claims.UserID, claims.Subject)
	}
	if claims.UserDisplayName != "Example User" {
		t.Fatalf("unexpected display name %q", claims.UserDisplayName)
	}
	if claims.Issuer != defaultSessionIssuer {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
}

func TestSessionIssuerCookieAttributes(t *testing.T) {
	clockNow := time.Date(2026, 6, 11, 12, 0, 0, 0, time.UTC)
	issuer, _ := newTestIssuerAndValidator(t, clockNow)

	cookie := issuer.SessionCookie("token", clockNow.Add(time.Hour))
	if cookie.Name != testSessionCookieName || !cookie.HttpOnly || !cookie.Secure {
		t.Fatalf("unexpected cookie %+v", cookie)
	}
	if cookie.MaxAge != 3600 {
		t.Fatalf("expected max age 3600, got %d", cookie.MaxAge)
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("expected lax same-site, got %v", cookie.SameSite)
	}

	cleared := issuer.ClearedCookie()
	if cleared.MaxAge >= 0 || cleared.Value != "" {
		t.Fatalf("expected an expiring cookie, got %+v", cleared)
	}
}

func TestSessionIssuerRejectsMissingConfiguration(t *testing.T) {
	if _, err := NewSessionIssuer(SessionIssuerConfig{CookieName: testSessionCookieName}); !errors.Is(err, errMissingSigningSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
	if _, err := NewSessionIssuer(SessionIssuerConfig{SigningSecret: []byte("secret")}); !errors.Is(err, errMissingCookieName) {
		t.Fatalf("expected missing cookie name error, got %v", err)
	}
}

func TestSessionIssuerRequiresUserID(t *testing.T) {
	issuer, _ := newTestIssuerAndValidator(t, time.Now())
	if _, _, err := issuer.Issue(SessionUser{Email: testSessionUserEmail}); !errors.Is(err, errMissingSubjectClaim) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}

func TestSessionValidatorRejectsForeignIssuer(t *testing.T) {
	clockNow := time.Date(2026, 6, 11, 12, 0, 0, 0, time.UTC)
	foreign, err := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
		Issuer:        "someone-else",
		Clock:         func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	_, validator := newTestIssuerAndValidator(t, clockNow)

	token, _, err := foreign.Issue(SessionUser{ID: testSessionUserID})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := validator.ValidateToken(token); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestSessionValidatorReportsExpiry(t *testing.T) {
	issuedAt := time.Date(2026, 6, 11, 12, 0, 0, 0, time.UTC)
	issuer, _ := newTestIssuerAndValidator(t, issuedAt)
	_, laterValidator := newTestIssuerAndValidator(t, issuedAt.Add(2*time.Hour))

	token, _, err := issuer.Issue(SessionUser{ID: testSessionUserID})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := laterValidator.ValidateToken(token); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}
