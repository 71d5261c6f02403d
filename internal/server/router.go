package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/auth"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/groups"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/invites"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/metrics"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/profiles"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey       = "tips_user_id"
	defaultFallbackHost    = "localhost:3000"
	signInRatePerMinute    = 10
	defaultSearchPerMinute = 60
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingSessionIssuer    = errors.New("session issuer dependency required")
	errMissingAccounts         = errors.New("account service dependency required")
	errMissingInvites          = errors.New("invite service dependency required")
	errMissingGroups           = errors.New("group service dependency required")
	errMissingProfiles         = errors.New("profile service dependency required")
)

// SessionValidator resolves the session carried by a request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// SessionIssuer mints session cookies.
type SessionIssuer interface {
	Issue(user auth.SessionUser) (string, time.Time, error)
	SessionCookie(token string, expiresAt time.Time) *http.Cookie
	ClearedCookie() *http.Cookie
}

// AccountService manages user accounts.
type AccountService interface {
	SignUp(ctx context.Context, request users.SignUpRequest) (users.User, error)
	Authenticate(ctx context.Context, email, password string) (users.User, error)
	ResolveOAuthUser(ctx context.Context, external auth.ExternalIdentity) (users.User, error)
	GetUser(ctx context.Context, userID string) (users.User, error)
	AvatarURLs(ctx context.Context, userIDs []string) (map[string]string, error)
}

// OAuthProvider drives one OpenID Connect authorization-code login.
type OAuthProvider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (auth.ExternalIdentity, error)
}

// Dependencies lists everything the HTTP surface needs.
type Dependencies struct {
	Sessions       SessionValidator
	Issuer         SessionIssuer
	Accounts       AccountService
	OAuthProviders []OAuthProvider
	Invites        *invites.Service
	Groups         *groups.Service
	Profiles       *profiles.Service
	// Metrics is optional; when set, requests are measured and /metrics is served.
	Metrics *metrics.Metrics

	AllowedOrigins      []string
	FallbackHost        string
	SearchRatePerMinute int
	SecureCookies       bool
	Logger              *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingSessionValidator
	case deps.Issuer == nil:
		return nil, errMissingSessionIssuer
	case deps.Accounts == nil:
		return nil, errMissingAccounts
	case deps.Invites == nil:
		return nil, errMissingInvites
	case deps.Groups == nil:
		return nil, errMissingGroups
	case deps.Profiles == nil:
		return nil, errMissingProfiles
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fallbackHost := deps.FallbackHost
	if fallbackHost == "" {
		fallbackHost = defaultFallbackHost
	}
	searchRate := deps.SearchRatePerMinute
	if searchRate <= 0 {
		searchRate = defaultSearchPerMinute
	}

	providers := make(map[string]OAuthProvider, len(deps.OAuthProviders))
	for _, provider := range deps.OAuthProviders {
		if provider != nil {
			providers[provider.Name()] = provider
		}
	}

	handler := &httpHandler{
		sessions:      deps.Sessions,
		issuer:        deps.Issuer,
		accounts:      deps.Accounts,
		providers:     providers,
		invites:       deps.Invites,
		groups:        deps.Groups,
		profiles:      deps.Profiles,
		fallbackHost:  fallbackHost,
		secureCookies: deps.SecureCookies,
		logger:        logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observeRequests(logger, deps.Metrics))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	signInLimiter := newClientRateLimiter(signInRatePerMinute, logger)
	router.POST("/auth/signup", signInLimiter.middleware(), handler.handleSignUp)
	router.POST("/auth/signin", signInLimiter.middleware(), handler.handleSignIn)
	router.POST("/auth/signout", handler.handleSignOut)
	router.GET("/auth/oauth/:provider", handler.handleOAuthStart)
	router.GET("/auth/callback", handler.handleOAuthCallback)
	router.GET("/auth/user", handler.authorizeRequest, handler.handleCurrentUser)

	router.GET("/api/invites/:token", handler.handlePreviewInvite)
	router.GET("/api/users/search", newClientRateLimiter(searchRate, logger).middleware(), handler.handleSearchUsers)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.POST("/groups", handler.handleCreateGroup)
	protected.GET("/groups", handler.handleListGroups)
	protected.GET("/groups/:id", handler.handleGetGroup)
	protected.GET("/groups/:id/members", handler.handleGroupMembers)
	protected.POST("/groups/:id/invites", handler.handleCreateInvite)
	protected.POST("/invites/:token/redeem", handler.handleRedeemInvite)
	protected.GET("/profile", handler.handleGetProfile)
	protected.PUT("/profile", handler.handleSaveProfile)

	return router, nil
}

type httpHandler struct {
	sessions      SessionValidator
	issuer        SessionIssuer
	accounts      AccountService
	providers     map[string]OAuthProvider
	invites       *invites.Service
	groups        *groups.Service
	profiles      *profiles.Service
	fallbackHost  string
	secureCookies bool
	logger        *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if len(allowed) == 0 {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// authorizeRequest aborts with 401 unless the session cookie is valid.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	userID, ok := h.sessionUserID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(messageSignInRequired, codeSessionRequired))
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

// sessionUserID validates the session without aborting, for routes that gate
// on something else before authentication.
func (h *httpHandler) sessionUserID(c *gin.Context) (string, bool) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("token validation failed", zap.Error(err))
		default:
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		return "", false
	}
	return claims.UserID, true
}

func currentUserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}
