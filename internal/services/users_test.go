package services

import (
	"context"
	"testing"

	"github.com/campusbridge/alumni-connect/internal/models"
	"github.com/campusbridge/alumni-connect/internal/testutil"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPresence map[string]bool

func (p staticPresence) IsOnline(userID string) bool { return p[userID] }

func TestUserDirectory_AvailableUsers(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.CreateUser(t, db, "sam", models.UserTypeStudent)
	testutil.CreateUser(t, db, "zoe", models.UserTypeAlumni)
	testutil.CreateUser(t, db, "amir", models.UserTypeAlumni)
	testutil.CreateUser(t, db, "kim", models.UserTypeStudent)
	pending := models.User{ID: "pat", Name: "Pat", Email: "pat@example.edu", UserType: models.UserTypeAlumni, VerificationStatus: models.VerificationPending}
	require.NoError(t, db.Create(&pending).Error)

	dir := NewUserDirectory(db)
	dir.SetPresence(staticPresence{"zoe": true})
	ctx := context.Background()

	users, err := dir.AvailableUsers(ctx, "sam")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "amir", users[0].ID)
	assert.Equal(t, "zoe", users[1].ID)
	assert.False(t, users[0].IsOnline)
	assert.True(t, users[1].IsOnline)

	users, err = dir.AvailableUsers(ctx, "zoe")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, models.UserTypeStudent, users[0].UserType)

	_, err = dir.AvailableUsers(ctx, "nobody")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestUserDirectory_SearchUsers(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.CreateUser(t, db, "sam", models.UserTypeStudent)
	testutil.CreateUser(t, db, "zoe", models.UserTypeAlumni)
	mech := models.User{ID: "raj", Name: "Raj 100%", Email: "raj@example.edu", UserType: models.UserTypeAlumni,
		Department: "Mechanical", VerificationStatus: models.VerificationVerified}
	require.NoError(t, db.Create(&mech).Error)

	dir := NewUserDirectory(db)
	ctx := context.Background()

	users, err := dir.SearchUsers(ctx, "sam", "ZO")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "zoe", users[0].ID)

	users, err = dir.SearchUsers(ctx, "sam", "mechan")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "raj", users[0].ID)

	// wildcard characters match literally
	users, err = dir.SearchUsers(ctx, "sam", "%")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "raj", users[0].ID)

	users, err = dir.SearchUsers(ctx, "sam", "  ")
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestUserDirectory_Resolve(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.CreateUser(t, db, "sam", models.UserTypeStudent)
	admin := models.User{ID: "root", Name: "Root", Email: "root@example.edu", UserType: models.UserTypeAdmin}
	require.NoError(t, db.Create(&admin).Error)

	dir := NewUserDirectory(db)
	ctx := context.Background()

	u, err := dir.ResolveUser(ctx, "sam")
	require.NoError(t, err)
	assert.Equal(t, "Sam", u.Name)

	_, err = dir.ResolveUser(ctx, "ghost")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	assert.NoError(t, dir.RequireAll(ctx, "sam", "root", "sam"))
	assert.True(t, apperrors.Is(dir.RequireAll(ctx, "sam", "ghost"), apperrors.KindNotFound))

	_, err = dir.AvailableUsers(ctx, "root")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}
