package server

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/apperr"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/auth"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	oauthStateCookieName = "tips_oauth_state"
	oauthNextCookieName  = "tips_oauth_next"
	oauthCookiePath      = "/auth"
	oauthCookieMaxAge    = 600

	opCurrentUser = "auth.current_user"
	opOAuthStart  = "auth.oauth_start"
	opOAuthReturn = "auth.oauth_callback"
	opSession     = "auth.session"
)

type signUpPayload struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type signInPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userPayload struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func newUserPayload(user users.User) userPayload {
	return userPayload{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
	}
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request signUpPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidBody(c)
		return
	}
	user, err := h.accounts.SignUp(c.Request.Context(), users.SignUpRequest{
		Email:       request.Email,
		Password:    request.Password,
		DisplayName: request.DisplayName,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.startSession(c, user); err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, gin.H{"user": newUserPayload(user)})
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request signInPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidBody(c)
		return
	}
	user, err := h.accounts.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.startSession(c, user); err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"user": newUserPayload(user)})
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	http.SetCookie(c.Writer, h.issuer.ClearedCookie())
	respondOK(c, http.StatusOK, nil)
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	user, err := h.accounts.GetUser(c.Request.Context(), currentUserID(c))
	if errors.Is(err, users.ErrUserNotFound) {
		http.SetCookie(c.Writer, h.issuer.ClearedCookie())
		h.respondError(c, apperr.New(opCurrentUser, "unknown_user", apperr.ErrNotAuthenticated, messageSignInRequired, err))
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"user": newUserPayload(user)})
}

func (h *httpHandler) handleOAuthStart(c *gin.Context) {
	providerName := c.Param("provider")
	provider, ok := h.providers[providerName]
	if !ok {
		h.respondError(c, apperr.New(opOAuthStart, "unknown_provider", apperr.ErrNotFound, "Sign in provider not available.", nil))
		return
	}
	state, err := auth.GenerateStateToken()
	if err != nil {
		h.respondError(c, apperr.New(opOAuthStart, "state_failed", apperr.ErrStore, "Could not start sign in.", err))
		return
	}

	next := base64.RawURLEncoding.EncodeToString([]byte(safeRedirectPath(c.Query("next"))))
	h.setOAuthCookie(c, oauthStateCookieName, providerName+"."+state, oauthCookieMaxAge)
	h.setOAuthCookie(c, oauthNextCookieName, next, oauthCookieMaxAge)
	c.Redirect(http.StatusFound, provider.AuthCodeURL(state))
}

func (h *httpHandler) handleOAuthCallback(c *gin.Context) {
	if denied := c.Query("error"); denied != "" {
		h.logger.Info("oauth sign in denied", zap.String("error", denied))
		h.respondError(c, apperr.New(opOAuthReturn, "denied", apperr.ErrNotAuthenticated, "Sign in was cancelled.", nil))
		return
	}

	stored, _ := c.Cookie(oauthStateCookieName)
	providerName, expectedState, found := strings.Cut(stored, ".")
	state := c.Query("state")
	if !found || state == "" || subtle.ConstantTimeCompare([]byte(expectedState), []byte(state)) != 1 {
		h.respondError(c, apperr.New(opOAuthReturn, "state_mismatch", apperr.ErrValidation, "The sign in link is invalid or has expired.", nil))
		return
	}
	provider, ok := h.providers[providerName]
	if !ok {
		h.respondError(c, apperr.New(opOAuthReturn, "unknown_provider", apperr.ErrNotFound, "Sign in provider not available.", nil))
		return
	}

	identity, err := provider.Exchange(c.Request.Context(), c.Query("code"))
	if err != nil {
		h.logger.Warn("oauth exchange failed", zap.String("provider", providerName), zap.Error(err))
		h.respondError(c, apperr.New(opOAuthReturn, "exchange_failed", apperr.ErrNotAuthenticated, "The sign in could not be completed.", err))
		return
	}
	user, err := h.accounts.ResolveOAuthUser(c.Request.Context(), identity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.startSession(c, user); err != nil {
		h.respondError(c, err)
		return
	}

	next := "/"
	if encoded, err := c.Cookie(oauthNextCookieName); err == nil {
		if decoded, err := base64.RawURLEncoding.DecodeString(encoded); err == nil {
			next = safeRedirectPath(string(decoded))
		}
	}
	h.setOAuthCookie(c, oauthStateCookieName, "", -1)
	h.setOAuthCookie(c, oauthNextCookieName, "", -1)
	c.Redirect(http.StatusFound, next)
}

func (h *httpHandler) startSession(c *gin.Context, user users.User) error {
	token, expiresAt, err := h.issuer.Issue(auth.SessionUser{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
	})
	if err != nil {
		return apperr.New(opSession, "issue_failed", apperr.ErrStore, "Could not start a session.", err)
	}
	http.SetCookie(c.Writer, h.issuer.SessionCookie(token, expiresAt))
	return nil
}

func (h *httpHandler) setOAuthCookie(c *gin.Context, name, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     oauthCookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
