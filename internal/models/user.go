package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

type UserType string

const (
	UserTypeStudent UserType = "student"
	UserTypeAlumni  UserType = "alumni"
	UserTypeAdmin   UserType = "admin"
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// User is the directory record the chat core resolves identities against.
// Registration, verification and profile editing live outside this service.
type User struct {
	ID        string         `gorm:"primaryKey;type:text" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name     string   `gorm:"not null" json:"name"`
	Email    string   `gorm:"uniqueIndex" json:"email"`
	Password string   `json:"-"`
	Image    string   `json:"profilePicture"`
	UserType UserType `gorm:"type:text;index;default:'student'" json:"userType"`

	Department     string         `json:"department"`
	GraduationYear int            `json:"graduationYear,omitempty"`
	CurrentYear    int            `json:"currentYear,omitempty"`
	Company        string         `json:"company,omitempty"`
	Skills         pq.StringArray `gorm:"type:text[]" json:"skills,omitempty"`

	VerificationStatus VerificationStatus `gorm:"type:text;default:'pending';index" json:"verificationStatus"`
}

func (User) TableName() string {
	return "users"
}

// Counterpart returns the user type a user of type t may start chats with.
func (t UserType) Counterpart() (UserType, bool) {
	switch t {
	case UserTypeStudent:
		return UserTypeAlumni, true
	case UserTypeAlumni:
		return UserTypeStudent, true
	}
	return "", false
}

// UserSummary is the participant projection embedded in conversations and messages.
type UserSummary struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Image          string   `json:"profilePicture"`
	UserType       UserType `json:"userType"`
	Department     string   `json:"department,omitempty"`
	GraduationYear int      `json:"graduationYear,omitempty"`
	CurrentYear    int      `json:"currentYear,omitempty"`
	IsOnline       bool     `json:"isOnline"`
}

func (u User) Summary() UserSummary {
	return UserSummary{
		ID:             u.ID,
		Name:           u.Name,
		Image:          u.Image,
		UserType:       u.UserType,
		Department:     u.Department,
		GraduationYear: u.GraduationYear,
		CurrentYear:    u.CurrentYear,
	}
}
