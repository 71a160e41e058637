package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Lapin-Blanc/electruc-portal/internal/models"
)

const sqlitePrefix = "sqlite://"

// Connect opens the database named by dsn and runs migrations. A dsn starting
// with "sqlite://" opens a SQLite file; anything else is handed to PostgreSQL.
func Connect(dsn string, log *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(dsn, log)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return conn, nil
}

// OpenSQLite opens and migrates a SQLite database file.
func OpenSQLite(path string) (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := Migrate(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// Migrate creates or updates every table used by the portal.
func Migrate(conn *gorm.DB) error {
	migrations := []interface{}{
		&models.User{},
		&models.MeterPoint{},
		&models.MeterPointHistory{},
		&models.Invitation{},
		&models.CustomerProfile{},
		&models.Contract{},
		&models.Invoice{},
		&models.MeterReading{},
		&models.SupportRequest{},
		&models.Attachment{},
		&models.Domiciliation{},
	}

	for _, migration := range migrations {
		if err := conn.AutoMigrate(migration); err != nil {
			return err
		}
	}

	return nil
}

func dialectorFor(dsn string, log *zap.Logger) (gorm.Dialector, error) {
	if strings.HasPrefix(dsn, sqlitePrefix) {
		return sqlite.Open(sqliteDSN(strings.TrimPrefix(dsn, sqlitePrefix))), nil
	}

	if err := ensureDatabase(dsn); err != nil {
		return nil, fmt.Errorf("failed to ensure database: %w", err)
	}

	conn, err := sql.Open("postgres", dsn)
	if err == nil {
		defer conn.Close()
		if _, err := conn.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`); err != nil {
			log.Warn("failed to ensure uuid-ossp extension", zap.Error(err))
		}
	}

	return postgres.Open(dsn), nil
}

func sqliteDSN(path string) string {
	return path + "?_busy_timeout=5000"
}

func ensureDatabase(dsn string) error {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return err
	}

	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return nil
	}

	parsed.Path = "/postgres"
	masterDSN := parsed.String()

	sqlDB, err := sql.Open("postgres", masterDSN)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return err
	}

	var exists bool
	if err := sqlDB.QueryRow("SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists); err != nil {
		return err
	}

	if exists {
		return nil
	}

	_, err = sqlDB.Exec("CREATE DATABASE " + pq.QuoteIdentifier(dbName))
	return err
}
