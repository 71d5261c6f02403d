package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/store"
	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Options selects the backing database.
type Options struct {
	Driver string
	// Path is the SQLite file; ignored by the other drivers.
	Path string
	// DSN is the connection string for postgres and mysql.
	DSN    string
	Logger *zap.Logger
}

// Open establishes a connection and performs schema migrations.
func Open(options Options) (*gorm.DB, error) {
	dialector, err := dialectorFor(options)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, err
	}

	if options.Driver == DriverSQLite || options.Driver == "" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, options.Logger); err != nil {
		return nil, err
	}

	if options.Logger != nil {
		options.Logger.Info("database initialized", zap.String("driver", driverName(options.Driver)))
	}

	return db, nil
}

// Migrate creates or updates the schema and applies named data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	models := append(users.Models(), store.Models()...)
	models = append(models, &migrationRecord{})
	if err := db.AutoMigrate(models...); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func dialectorFor(options Options) (gorm.Dialector, error) {
	switch driverName(options.Driver) {
	case DriverSQLite:
		if strings.TrimSpace(options.Path) == "" {
			return nil, fmt.Errorf("database path is required")
		}
		return sqlite.Open(options.Path), nil
	case DriverPostgres:
		if strings.TrimSpace(options.DSN) == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		return postgres.Open(options.DSN), nil
	case DriverMySQL:
		if strings.TrimSpace(options.DSN) == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		return mysql.Open(options.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}
}

func driverName(driver string) string {
	if driver == "" {
		return DriverSQLite
	}
	return driver
}
