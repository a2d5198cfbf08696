package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base contains common columns for all tables
type Base struct {
	ID        string    `gorm:"type:uuid;primary_key" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate will set a UUID rather than numeric ID
func (base *Base) BeforeCreate(tx *gorm.DB) error {
	if base.ID == "" {
		base.ID = uuid.New().String()
	}
	return nil
}

// EnrollmentStatus tracks a contact's progress through a sequence.
// completed and stopped are terminal; nothing transitions out of them.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusPaused    EnrollmentStatus = "paused"
	EnrollmentStatusStopped   EnrollmentStatus = "stopped"
)

// IsTerminal reports whether no further transitions may leave the status.
func (s EnrollmentStatus) IsTerminal() bool {
	return s == EnrollmentStatusCompleted || s == EnrollmentStatusStopped
}

// EmailStatus is the folder an email lives in.
type EmailStatus string

const (
	EmailStatusInbox    EmailStatus = "inbox"
	EmailStatusSent     EmailStatus = "sent"
	EmailStatusArchived EmailStatus = "archived"
)

// ValidEmailStatus reports whether s is one of the known folders.
func ValidEmailStatus(s EmailStatus) bool {
	switch s {
	case EmailStatusInbox, EmailStatusSent, EmailStatusArchived:
		return true
	default:
		return false
	}
}
