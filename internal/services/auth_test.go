package services

import (
	"context"
	"testing"
	"time"

	"github.com/campusbridge/alumni-connect/internal/models"
	"github.com/campusbridge/alumni-connect/internal/testutil"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	"github.com/campusbridge/alumni-connect/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenAuthenticator(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.CreateUser(t, db, "sam", models.UserTypeStudent)
	auth := NewTokenAuthenticator(NewUserDirectory(db))
	ctx := context.Background()

	token := testutil.Token(t, "sam")

	userID, err := auth.AuthenticateCredential(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "sam", userID)

	userID, err = auth.AuthenticateCredential(ctx, "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, "sam", userID)

	expired, err := utils.GenerateTokenWithTTL("sam", -time.Minute)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"expired":      expired,
		"unknown user": testutil.Token(t, "ghost"),
	}
	for name, credential := range cases {
		_, err := auth.AuthenticateCredential(ctx, credential)
		assert.True(t, apperrors.Is(err, apperrors.KindUnauthorized), name)
	}
}
