package services

import (
	"context"
	"errors"
	"strings"

	"github.com/campusbridge/alumni-connect/internal/models"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	"github.com/campusbridge/alumni-connect/pkg/utils"
	"gorm.io/gorm"
)

// PresenceReader answers whether a user currently holds a live connection.
type PresenceReader interface {
	IsOnline(userID string) bool
}

// UserDirectory resolves identities against the users table.
type UserDirectory struct {
	db       *gorm.DB
	presence PresenceReader
}

func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

// SetPresence injects the broker's presence state; nil disables online flags.
func (d *UserDirectory) SetPresence(p PresenceReader) {
	d.presence = p
}

func (d *UserDirectory) summary(u models.User) models.UserSummary {
	s := u.Summary()
	if d.presence != nil {
		s.IsOnline = d.presence.IsOnline(u.ID)
	}
	return s
}

// ResolveUser returns the summary of id or a NotFound error.
func (d *UserDirectory) ResolveUser(ctx context.Context, id string) (models.UserSummary, error) {
	var u models.User
	if err := d.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.UserSummary{}, apperrors.NotFound("User not found")
		}
		return models.UserSummary{}, apperrors.Persistence("Failed to load user", err)
	}
	return d.summary(u), nil
}

// RequireAll fails with NotFound unless every id resolves to a user.
func (d *UserDirectory) RequireAll(ctx context.Context, ids ...string) error {
	unique := dedupe(ids)
	var count int64
	if err := d.db.WithContext(ctx).Model(&models.User{}).Where("id IN ?", unique).Count(&count).Error; err != nil {
		return apperrors.Persistence("Failed to load users", err)
	}
	if count != int64(len(unique)) {
		return apperrors.NotFound("One or more participants not found")
	}
	return nil
}

// Summaries loads summaries for ids keyed by id; unknown ids are skipped.
func (d *UserDirectory) Summaries(ctx context.Context, ids []string) (map[string]models.UserSummary, error) {
	out := make(map[string]models.UserSummary, len(ids))
	unique := dedupe(ids)
	if len(unique) == 0 {
		return out, nil
	}

	var users []models.User
	if err := d.db.WithContext(ctx).Where("id IN ?", unique).Find(&users).Error; err != nil {
		return nil, apperrors.Persistence("Failed to load users", err)
	}
	for _, u := range users {
		out[u.ID] = d.summary(u)
	}
	return out, nil
}

func (d *UserDirectory) counterpartQuery(ctx context.Context, requesterID string) (*gorm.DB, error) {
	var me models.User
	if err := d.db.WithContext(ctx).First(&me, "id = ?", requesterID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("User not found")
		}
		return nil, apperrors.Persistence("Failed to load user", err)
	}

	target, ok := me.UserType.Counterpart()
	if !ok {
		return nil, apperrors.Validation("Invalid user type for chat")
	}

	return d.db.WithContext(ctx).Model(&models.User{}).
		Where("user_type = ? AND verification_status = ? AND id <> ?", target, models.VerificationVerified, requesterID), nil
}

// AvailableUsers lists verified users of the requester's counterpart type
// (students see alumni and vice versa).
func (d *UserDirectory) AvailableUsers(ctx context.Context, requesterID string) ([]models.UserSummary, error) {
	q, err := d.counterpartQuery(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	var users []models.User
	if err := q.Order("name asc").Limit(100).Find(&users).Error; err != nil {
		return nil, apperrors.Persistence("Failed to load users", err)
	}
	return d.summaries(users), nil
}

// SearchUsers matches counterpart users by name or department.
func (d *UserDirectory) SearchUsers(ctx context.Context, requesterID, query string) ([]models.UserSummary, error) {
	if strings.TrimSpace(query) == "" {
		return d.AvailableUsers(ctx, requesterID)
	}

	q, err := d.counterpartQuery(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	term := utils.SanitizeSearchQuery(query)
	var users []models.User
	err = q.Where("(LOWER(name) LIKE ? ESCAPE '\\' OR LOWER(department) LIKE ? ESCAPE '\\')", term, term).
		Order("name asc").Limit(50).Find(&users).Error
	if err != nil {
		return nil, apperrors.Persistence("Failed to search users", err)
	}
	return d.summaries(users), nil
}

func (d *UserDirectory) summaries(users []models.User) []models.UserSummary {
	out := make([]models.UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, d.summary(u))
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
