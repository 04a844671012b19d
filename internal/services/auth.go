package services

import (
	"context"
	"strings"

	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	"github.com/campusbridge/alumni-connect/pkg/utils"
)

// TokenAuthenticator maps a bearer credential to a known user id.
type TokenAuthenticator struct {
	users *UserDirectory
}

func NewTokenAuthenticator(users *UserDirectory) *TokenAuthenticator {
	return &TokenAuthenticator{users: users}
}

// AuthenticateCredential validates the JWT and checks the user still exists.
func (a *TokenAuthenticator) AuthenticateCredential(ctx context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if credential == "" {
		return "", apperrors.Unauthorized("Authentication required")
	}

	claims, err := utils.ValidateToken(credential)
	if err != nil {
		return "", apperrors.Unauthorized("Invalid or expired token").Wrap(err)
	}

	if _, err := a.users.ResolveUser(ctx, claims.UserID); err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return "", apperrors.Unauthorized("User not found")
		}
		return "", err
	}
	return claims.UserID, nil
}
