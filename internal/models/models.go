package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Sequence is an immutable follow-up sequence definition. There is no
// update path: once contacts are enrolled the steps a definition was
// created with are the steps it keeps.
type Sequence struct {
	Base
	Name        string         `gorm:"not null" json:"name" validate:"required,min=1"`
	Description string         `json:"description"`
	Steps       []SequenceStep `gorm:"foreignKey:SequenceID;references:ID;constraint:OnDelete:CASCADE" json:"steps,omitempty"`
}

// SequenceStep is one templated email in a sequence. DelayDays counts
// whole days from the previous step's send (or from enrollment for the
// first step).
type SequenceStep struct {
	Base
	SequenceID string `gorm:"type:uuid;not null;index" json:"sequence_id"`
	Order      int    `gorm:"column:step_order;not null" json:"order" validate:"required,min=1"`
	DelayDays  int    `gorm:"not null" json:"delay_days" validate:"min=0"`
	Subject    string `gorm:"not null" json:"subject" validate:"required"`
	Body       string `gorm:"not null" json:"body" validate:"required"`
}

// Contact is a known recipient. Metadata feeds {{variable}} templating
// in step subjects and bodies.
type Contact struct {
	Base
	Email     string         `gorm:"not null;uniqueIndex" json:"email" validate:"required,email"`
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
	Metadata  datatypes.JSON `gorm:"type:jsonb;default:'{}'" json:"metadata"`
}

// Enrollment records one contact's progress through one sequence. Rows
// are never deleted; terminal rows stay behind for audit. At most one
// non-terminal enrollment may exist per (sequence, contact) pair.
type Enrollment struct {
	Base
	SequenceID      string           `gorm:"type:uuid;not null;index:idx_enrollment_pair" json:"sequence_id"`
	Sequence        *Sequence        `json:"-"`
	ContactEmail    string           `gorm:"not null;index:idx_enrollment_pair" json:"contact_email"`
	ContactID       string           `gorm:"type:uuid;not null" json:"contact_id"`
	Contact         *Contact         `json:"-"`
	CurrentStep     int              `gorm:"not null;default:1" json:"current_step"`
	Status          EnrollmentStatus `gorm:"not null;default:'active';index:idx_enrollment_due" json:"status"`
	NextSendAt      *time.Time       `gorm:"index:idx_enrollment_due" json:"next_send_date"`
	LastInteraction *time.Time       `json:"last_interaction"`
	SendAttempts    int              `gorm:"not null;default:0" json:"-"`
	StopReason      string           `json:"-"`
}

// Email is a stored message. Status doubles as the folder it lives in.
type Email struct {
	Base
	Subject        string      `gorm:"not null" json:"subject"`
	Body           string      `json:"body"`
	SenderEmail    string      `gorm:"not null" json:"sender_email"`
	RecipientEmail string      `gorm:"not null" json:"recipient_email"`
	Status         EmailStatus `gorm:"not null;index" json:"status"`
	MessageID      string      `gorm:"index" json:"message_id,omitempty"`
	EnrollmentID   string      `gorm:"type:uuid;default:NULL" json:"enrollment_id,omitempty"`
	SentAt         *time.Time  `json:"sent_at,omitempty"`
}

// GetSequenceByID loads a sequence with its steps in send order.
func GetSequenceByID(id string, db *gorm.DB) (*Sequence, error) {
	var seq Sequence
	err := db.Where("id = ?", id).
		Preload("Steps", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("step_order ASC")
		}).
		First(&seq).Error
	if err != nil {
		return nil, err
	}
	return &seq, nil
}
