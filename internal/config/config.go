package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "TIPS"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabaseDriver = DriverSQLite
	defaultDatabasePath   = "tips.db"
	defaultLogLevel       = "info"
	defaultCookieName     = "tips_session"
	defaultSessionTTL     = 7 * 24 * 60
	defaultFallbackHost   = "localhost:3000"
	defaultOAuthIssuer    = "https://accounts.google.com"
	defaultSearchRate     = 60
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	LogLevel string
	LogFile  string

	SessionSigningSecret string
	SessionCookieName    string
	SessionTTL           time.Duration
	SessionSecureCookie  bool

	FallbackHost string

	GoogleOAuth OAuthConfig

	SearchRatePerMinute int
	CORSAllowedOrigins  []string
}

// OAuthConfig holds the client settings of one OpenID provider. An empty
// ClientID disables the provider.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	IssuerURL    string
}

// Enabled reports whether the provider is configured.
func (c OAuthConfig) Enabled() bool {
	return strings.TrimSpace(c.ClientID) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("session.signing_secret", "")
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTL)
	configViper.SetDefault("session.secure_cookie", false)
	configViper.SetDefault("app.fallback_host", defaultFallbackHost)
	configViper.SetDefault("oauth.google.client_id", "")
	configViper.SetDefault("oauth.google.client_secret", "")
	configViper.SetDefault("oauth.google.redirect_url", "")
	configViper.SetDefault("oauth.google.issuer_url", defaultOAuthIssuer)
	configViper.SetDefault("search.rate_per_minute", defaultSearchRate)
	configViper.SetDefault("cors.allowed_origins", []string{})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:         configViper.GetString("database.path"),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		LogLevel:             configViper.GetString("log.level"),
		LogFile:              configViper.GetString("log.file"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		SessionTTL:           time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
		SessionSecureCookie:  configViper.GetBool("session.secure_cookie"),
		FallbackHost:         configViper.GetString("app.fallback_host"),
		GoogleOAuth: OAuthConfig{
			ClientID:     configViper.GetString("oauth.google.client_id"),
			ClientSecret: configViper.GetString("oauth.google.client_secret"),
			RedirectURL:  configViper.GetString("oauth.google.redirect_url"),
			IssuerURL:    configViper.GetString("oauth.google.issuer_url"),
		},
		SearchRatePerMinute: configViper.GetInt("search.rate_per_minute"),
		CORSAllowedOrigins:  splitList(configViper.GetStringSlice("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl_minutes must be positive")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres, DriverMySQL:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the %s driver", c.DatabaseDriver)
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.GoogleOAuth.Enabled() {
		if strings.TrimSpace(c.GoogleOAuth.RedirectURL) == "" {
			return fmt.Errorf("oauth.google.redirect_url is required when oauth.google.client_id is set")
		}
		if strings.TrimSpace(c.GoogleOAuth.IssuerURL) == "" {
			return fmt.Errorf("oauth.google.issuer_url is required when oauth.google.client_id is set")
		}
	}
	if c.SearchRatePerMinute <= 0 {
		return fmt.Errorf("search.rate_per_minute must be positive")
	}
	return nil
}

// splitList accepts both repeated values and comma separated env strings.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
