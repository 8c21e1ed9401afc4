package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the eligibility record: one row per student/teacher/admin account.
// The dinner flags are the authoritative state the ticket workflow reads and
// mutates; everything else is identity.
type User struct {
	ID           string `gorm:"primaryKey;type:uuid" json:"id"`
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`

	Name     string `gorm:"not null" json:"name"`
	Grade    int    `json:"grade"`
	ClassNum int    `json:"class_num"`
	Role     Role   `gorm:"not null;default:student;index" json:"role"`

	DinnerApplied  bool `gorm:"default:false" json:"dinner_applied"`
	DinnerApproved bool `gorm:"default:false" json:"dinner_approved"`
	DinnerUsed     bool `gorm:"default:false" json:"dinner_used"`

	// LastUsedDate is the civil day (YYYY-MM-DD, UTC+9) DinnerUsed applies to.
	// A DinnerUsed=true with a prior LastUsedDate is stale and must be reset
	// before issuance or verification.
	LastUsedDate *string `json:"last_used_date"`

	LastLoginAt *time.Time `json:"last_login_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// ClassInfo renders the "<grade>-<class>" grouping string carried in ticket payloads.
func (u *User) ClassInfo() string {
	return fmt.Sprintf("%d-%d", u.Grade, u.ClassNum)
}

// UsedOn reports whether the record marks today's ticket as redeemed for the
// supplied civil date.
func (u *User) UsedOn(date string) bool {
	return u.DinnerUsed && u.LastUsedDate != nil && *u.LastUsedDate == date
}

// StaleUsage reports whether DinnerUsed refers to a day other than date.
func (u *User) StaleUsage(date string) bool {
	if !u.DinnerUsed {
		return false
	}
	return u.LastUsedDate == nil || *u.LastUsedDate != date
}
