package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/tokens"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var (
	// ErrOIDCDisabled is returned when the provider has no client id configured.
	ErrOIDCDisabled = errors.New("oidc authentication is disabled")
	// ErrNoIDToken is returned when the token response carries no id_token.
	ErrNoIDToken = errors.New("oidc: token response has no id_token")
	// ErrMissingOIDCSubject is returned when the verified id token has no subject.
	ErrMissingOIDCSubject = errors.New("oidc: id token has no subject")
)

// OIDCConfig holds the OpenID Connect client settings of one provider.
type OIDCConfig struct {
	// Name is the provider key used in routes and identity rows, e.g. "google".
	Name         string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes default to openid, profile and email.
	Scopes []string
}

// ExternalIdentity is the verified identity returned by an OAuth login.
type ExternalIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	DisplayName   string
	AvatarURL     string
}

// OIDCProvider runs the authorization code flow against an OpenID provider.
type OIDCProvider struct {
	name     string
	verifier *oidc.IDTokenVerifier
	oauth2   oauth2.Config
}

// NewOIDCProvider discovers the provider metadata and prepares the OAuth2 client.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, ErrOIDCDisabled
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("oidc: provider name is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &OIDCProvider{
		name:     name,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
	}, nil
}

// Name returns the provider key.
func (p *OIDCProvider) Name() string {
	return p.name
}

// AuthCodeURL returns the provider's authorization URL carrying state.
func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauth2.AuthCodeURL(state)
}

// Exchange trades the authorization code for tokens and verifies the id token.
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (ExternalIdentity, error) {
	oauth2Token, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return ExternalIdentity{}, ErrNoIDToken
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return ExternalIdentity{}, fmt.Errorf("failed to parse claims: %w", err)
	}
	if strings.TrimSpace(claims.Sub) == "" {
		return ExternalIdentity{}, ErrMissingOIDCSubject
	}

	return ExternalIdentity{
		Provider:      p.name,
		Subject:       claims.Sub,
		Email:         strings.ToLower(strings.TrimSpace(claims.Email)),
		EmailVerified: claims.EmailVerified,
		DisplayName:   strings.TrimSpace(claims.Name),
		AvatarURL:     strings.TrimSpace(claims.Picture),
	}, nil
}

// GenerateStateToken returns a random state value for CSRF protection of the OAuth redirect.
func GenerateStateToken() (string, error) {
	return tokens.Generate(tokens.Size256)
}
