package seeds

import (
	"context"
	"errors"
	"fmt"

	"github.com/campusbridge/alumni-connect/internal/models"
	"github.com/campusbridge/alumni-connect/internal/services"
	"github.com/campusbridge/alumni-connect/pkg/logger"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const DemoPassword = "AlumniConnect2024!"

// demoUsers are stable ids so repeated seeding is idempotent.
var demoUsers = []models.User{
	{ID: "seed-alumni-priya", Name: "Priya Raman", Email: "priya.raman@alumni.example.edu", UserType: models.UserTypeAlumni,
		Department: "Computer Science", GraduationYear: 2016, Company: "Globex", Skills: []string{"go", "distributed systems"}},
	{ID: "seed-alumni-marcus", Name: "Marcus Chen", Email: "marcus.chen@alumni.example.edu", UserType: models.UserTypeAlumni,
		Department: "Electrical Engineering", GraduationYear: 2012, Company: "Initech", Skills: []string{"embedded", "leadership"}},
	{ID: "seed-alumni-sofia", Name: "Sofia Alvarez", Email: "sofia.alvarez@alumni.example.edu", UserType: models.UserTypeAlumni,
		Department: "Mechanical Engineering", GraduationYear: 2019, Company: "Umbrella Robotics", Skills: []string{"cad", "robotics"}},
	{ID: "seed-student-noah", Name: "Noah Williams", Email: "noah.williams@example.edu", UserType: models.UserTypeStudent,
		Department: "Computer Science", CurrentYear: 3, Skills: []string{"python"}},
	{ID: "seed-student-aisha", Name: "Aisha Bello", Email: "aisha.bello@example.edu", UserType: models.UserTypeStudent,
		Department: "Electrical Engineering", CurrentYear: 2},
}

// SeedUsers creates the verified demo directory, skipping users that already exist.
func SeedUsers(db *gorm.DB) ([]models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash demo password: %w", err)
	}

	out := make([]models.User, 0, len(demoUsers))
	for _, u := range demoUsers {
		var existing models.User
		err := db.Where("id = ?", u.ID).First(&existing).Error
		if err == nil {
			out = append(out, existing)
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		u.Password = string(hash)
		u.VerificationStatus = models.VerificationVerified
		u.Image = "https://api.dicebear.com/7.x/initials/svg?seed=" + u.ID
		if err := db.Create(&u).Error; err != nil {
			return nil, fmt.Errorf("create %s: %w", u.Email, err)
		}
		logger.Info().Str("user_id", u.ID).Str("type", string(u.UserType)).Msg("Seeded user")
		out = append(out, u)
	}
	return out, nil
}

// SeedConversation opens a starter thread between the first student and the first alumnus.
func SeedConversation(ctx context.Context, chat *services.ConversationService) (*models.Conversation, error) {
	student, alumnus := demoUsers[3].ID, demoUsers[0].ID

	conv, err := chat.FindOrCreate(ctx, student, alumnus)
	if err != nil {
		return nil, err
	}
	if conv.LastMessageID != nil {
		return conv, nil
	}

	_, conv, err = chat.AppendMessage(ctx, services.AppendInput{
		ConversationID:  conv.ID,
		SenderID:        student,
		Content:         "Hi Priya, could I ask you about your path into backend engineering?",
		ClientMessageID: "seed-welcome",
	})
	return conv, err
}
