// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Lapin-Blanc/electruc-portal/internal/config"
	"github.com/Lapin-Blanc/electruc-portal/internal/database"
	"github.com/Lapin-Blanc/electruc-portal/internal/models"
)

// TestEAN is the demonstration meter point used across tests.
const TestEAN = "541234567890120001"

// DB opens a migrated SQLite database private to the test.
func DB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Config returns a configuration with the production defaults for tests.
func Config() *config.Config {
	return &config.Config{
		ServiceName:   "electruc-portal-test",
		AppPort:       "0",
		SiteURL:       "http://portal.test",
		JWTSecret:     "test-secret",
		TokenExpires:  time.Hour,
		ActivationTTL: 72 * time.Hour,
		Invitation: config.InvitationConfig{
			TTL:           30 * 24 * time.Hour,
			MaxAttempts:   5,
			LockWindow:    15 * time.Minute,
			HistoryMonths: 5,
		},
		Password: config.PasswordConfig{MinLength: 8},
		Mail:     config.MailConfig{From: "Electruc <no-reply@electruc.test>"},
	}
}

// MeterPoint inserts the Jean Martin meter point with the given EAN.
func MeterPoint(t *testing.T, db *gorm.DB, ean string) *models.MeterPoint {
	t.Helper()
	mp := &models.MeterPoint{
		EAN:             ean,
		HolderFirstName: "Jean",
		HolderLastName:  "Martin",
		AddressLine1:    "Rue de Test 1",
		PostalCode:      "1000",
		City:            "Bruxelles",
		Country:         "BE",
	}
	require.NoError(t, db.Create(mp).Error)
	return mp
}

// History appends months of history rows to the meter point, starting at from.
func History(t *testing.T, db *gorm.DB, mp *models.MeterPoint, from time.Time, months int) []models.MeterPointHistory {
	t.Helper()
	rows := make([]models.MeterPointHistory, 0, months)
	start := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < months; i++ {
		periodStart := start.AddDate(0, i, 0)
		periodEnd := periodStart.AddDate(0, 1, -1)
		rows = append(rows, models.MeterPointHistory{
			MeterPointID:   mp.ID,
			PeriodStart:    periodStart,
			PeriodEnd:      periodEnd,
			ReadingDate:    periodEnd,
			ConsumptionKWh: 1000 + 250*(i+1),
			AmountCents:    int64(8000 + 500*i),
		})
	}
	require.NoError(t, db.Create(&rows).Error)
	return rows
}

// User inserts an account with a cheap bcrypt password hash.
func User(t *testing.T, db *gorm.DB, email, password string, active bool) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{
		Email:        models.NormalizeEmail(email),
		FirstName:    "Jean",
		LastName:     "Martin",
		PasswordHash: string(hash),
		IsActive:     active,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now.UTC()}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
