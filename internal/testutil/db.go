// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/campusbridge/alumni-connect/internal/config"
	"github.com/campusbridge/alumni-connect/internal/database"
	"github.com/campusbridge/alumni-connect/internal/migrations"
	"github.com/campusbridge/alumni-connect/internal/models"
	"github.com/campusbridge/alumni-connect/pkg/utils"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const JWTSecret = "test_secret_key_12345"

// InitConfig installs a default config with a known JWT secret.
func InitConfig() *config.Config {
	cfg := config.Default()
	cfg.Env = "test"
	cfg.JWTSecret = JWTSecret
	config.AppConfig = cfg
	return cfg
}

// NewDB opens a private in-memory SQLite database with the chat schema applied.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	InitConfig()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the in-memory database alive and serialises writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migrations.NewMigrator(db, database.Models()...).Run())
	return db
}

// CreateUser inserts a verified user named after id.
func CreateUser(t testing.TB, db *gorm.DB, id string, userType models.UserType) models.User {
	t.Helper()
	u := models.User{
		ID:                 id,
		Name:               strings.ToUpper(id[:1]) + id[1:],
		Email:              id + "@example.edu",
		UserType:           userType,
		Department:         "Computer Science",
		VerificationStatus: models.VerificationVerified,
	}
	if userType == models.UserTypeAlumni {
		u.GraduationYear = 2019
		u.Company = "Initech"
	} else {
		u.CurrentYear = 3
	}
	require.NoError(t, db.Create(&u).Error)
	return u
}

// Token issues a bearer token for userID.
func Token(t testing.TB, userID string) string {
	t.Helper()
	token, err := utils.GenerateToken(userID)
	require.NoError(t, err)
	return token
}
