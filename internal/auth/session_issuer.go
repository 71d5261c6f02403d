package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionTTL = 7 * 24 * time.Hour

var (
	errMissingSigningSecret = errors.New("session issuer: signing secret must be provided")
	errMissingCookieName    = errors.New("session issuer: cookie name must be provided")
	errMissingSubjectClaim  = errors.New("session issuer: user id must be provided")
)

// SessionIssuerConfig configures the session JWT issuer.
type SessionIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	TTL           time.Duration
	SecureCookie  bool
	Clock         func() time.Time
}

// SessionUser is the identity embedded in a session token.
type SessionUser struct {
	ID          string
	Email       string
	DisplayName string
	AvatarURL   string
}

// SessionIssuer signs session JWTs and wraps them in cookies.
type SessionIssuer struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	ttl           time.Duration
	secure        bool
	clock         func() time.Time
}

// NewSessionIssuer constructs a SessionIssuer with sane defaults.
func NewSessionIssuer(cfg SessionIssuerConfig) (*SessionIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, errMissingCookieName
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultSessionIssuer
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		cookieName:    cookieName,
		ttl:           ttl,
		secure:        cfg.SecureCookie,
		clock:         clock,
	}, nil
}

// Issue produces a signed session JWT and its expiry.
func (i *SessionIssuer) Issue(user SessionUser) (string, time.Time, error) {
	if strings.TrimSpace(user.ID) == "" {
		return "", time.Time{}, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl).UTC()

	claims := SessionClaims{
		UserID:          user.ID,
		UserEmail:       user.Email,
		UserDisplayName: user.DisplayName,
		UserAvatarURL:   user.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// SessionCookie wraps a signed token into the session cookie.
func (i *SessionIssuer) SessionCookie(token string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     i.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(expiresAt.Sub(i.clock().UTC()).Seconds()),
		HttpOnly: true,
		Secure:   i.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearedCookie expires the session cookie on the client.
func (i *SessionIssuer) ClearedCookie() *http.Cookie {
	return &http.Cookie{
		Name:     i.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   i.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
