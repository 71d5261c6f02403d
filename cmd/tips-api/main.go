package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/auth"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/config"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/database"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/groups"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/ids"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/invites"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/logging"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/metrics"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/profiles"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/server"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/store/gormstore"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/users"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const googleProviderName = "google"

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tips-api",
		Short: "World Cup tips backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file loaded before reading the environment")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres, mysql)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL or MySQL connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", defaults.GetString("log.file"), "Optional rotated log file")
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt("session.ttl_minutes"), "Session lifetime in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("fallback-host", defaults.GetString("app.fallback_host"), "Host used for invite links when the request carries none")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "session.ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "app.fallback_host", "fallback-host")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return err
		}
	} else {
		_ = godotenv.Load()
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	recorder := metrics.New()
	logger, err := logging.NewLogger(logging.Options{
		Level: appConfig.LogLevel,
		File:  appConfig.LogFile,
		Hooks: []func(zapcore.Entry) error{recorder.LogHook},
	})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	relational, err := gormstore.New(db)
	if err != nil {
		return err
	}
	idProvider := ids.NewUUIDProvider()

	sessionIssuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		CookieName:    appConfig.SessionCookieName,
		TTL:           appConfig.SessionTTL,
		SecureCookie:  appConfig.SessionSecureCookie,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	var oauthProviders []server.OAuthProvider
	if appConfig.GoogleOAuth.Enabled() {
		google, err := auth.NewOIDCProvider(ctx, auth.OIDCConfig{
			Name:         googleProviderName,
			IssuerURL:    appConfig.GoogleOAuth.IssuerURL,
			ClientID:     appConfig.GoogleOAuth.ClientID,
			ClientSecret: appConfig.GoogleOAuth.ClientSecret,
			RedirectURL:  appConfig.GoogleOAuth.RedirectURL,
		})
		if err != nil {
			return err
		}
		oauthProviders = append(oauthProviders, google)
	}

	accounts, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	groupService, err := groups.NewService(groups.ServiceConfig{
		Store:      relational,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	inviteService, err := invites.NewService(invites.ServiceConfig{
		Store:      relational,
		IDProvider: idProvider,
		Observer:   recorder,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	profileService, err := profiles.NewService(profiles.ServiceConfig{
		Store:  relational,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:            sessionValidator,
		Issuer:              sessionIssuer,
		Accounts:            accounts,
		OAuthProviders:      oauthProviders,
		Invites:             inviteService,
		Groups:              groupService,
		Profiles:            profileService,
		Metrics:             recorder,
		AllowedOrigins:      appConfig.CORSAllowedOrigins,
		FallbackHost:        appConfig.FallbackHost,
		SearchRatePerMinute: appConfig.SearchRatePerMinute,
		SecureCookies:       appConfig.SessionSecureCookie,
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
