package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("session.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.DatabaseDriver != DriverSQLite || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SessionTTL != 7*24*time.Hour {
		t.Fatalf("unexpected session ttl %s", cfg.SessionTTL)
	}
	if cfg.FallbackHost != "localhost:3000" || cfg.SearchRatePerMinute != 60 {
		t.Fatalf("unexpected app defaults %+v", cfg)
	}
	if cfg.GoogleOAuth.Enabled() {
		t.Fatalf("expected oauth to be disabled by default")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("TIPS_SESSION_SIGNING_SECRET", "from-env")
	t.Setenv("TIPS_DATABASE_DRIVER", "postgres")
	t.Setenv("TIPS_DATABASE_DSN", "host=localhost user=tips dbname=tips")
	t.Setenv("TIPS_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("TIPS_SESSION_TTL_MINUTES", "30")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.SessionSigningSecret != "from-env" || cfg.DatabaseDriver != DriverPostgres {
		t.Fatalf("expected env values, got %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins %#v", cfg.CORSAllowedOrigins)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("unexpected ttl %s", cfg.SessionTTL)
	}
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name      string
		overrides map[string]any
		expected  string
	}{
		{name: "missing secret", overrides: map[string]any{"session.signing_secret": ""}, expected: "session.signing_secret"},
		{name: "unknown driver", overrides: map[string]any{"database.driver": "oracle"}, expected: "not supported"},
		{name: "postgres without dsn", overrides: map[string]any{"database.driver": "postgres"}, expected: "database.dsn"},
		{name: "oauth without redirect", overrides: map[string]any{"oauth.google.client_id": "client"}, expected: "redirect_url"},
		{name: "zero search rate", overrides: map[string]any{"search.rate_per_minute": 0}, expected: "search.rate_per_minute"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set("session.signing_secret", "secret")
			for key, value := range testCase.overrides {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.expected) {
				t.Fatalf("expected error containing %q, got %v", testCase.expected, err)
			}
		})
	}
}
