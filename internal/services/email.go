package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/badoux/checkmail"
	"gorm.io/gorm"

	"bison/internal/mailer"
	"bison/internal/models"
	"bison/internal/utils"
	"bison/internal/utils/logger"
)

// EmailService is the mail store: it lists stored messages by folder and
// owns the email rows produced by outbound sends and inbox sync.
type EmailService struct {
	db     *gorm.DB
	sender mailer.Sender
	from   string
	log    *logger.Logger
}

func NewEmailService(db *gorm.DB, sender mailer.Sender, from string) *EmailService {
	return &EmailService{
		db:     db,
		sender: sender,
		from:   from,
		log:    logger.New("EMAIL"),
	}
}

// List returns emails in the given folder, newest first.
func (s *EmailService) List(ctx context.Context, folder models.EmailStatus) ([]models.Email, error) {
	emails := []models.Email{}
	err := s.db.WithContext(ctx).
		Where("status = ?", folder).
		Order("created_at DESC").
		Find(&emails).Error
	return emails, err
}

// Send delivers one message through the transport and records it in the
// sent folder. Unlike sequence sends this is synchronous: the caller
// waits for the transport handoff.
func (s *EmailService) Send(ctx context.Context, to, subject, body string) (*models.Email, error) {
	if err := checkmail.ValidateFormat(to); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEmail, to)
	}

	result, err := s.sender.Send(ctx, to, subject, body)
	if err != nil {
		return nil, s.log.Error("failed to send email", err)
	}

	email := &models.Email{
		Subject:        subject,
		Body:           body,
		SenderEmail:    s.SenderAddress(),
		RecipientEmail: to,
		Status:         models.EmailStatusSent,
		MessageID:      result.MessageID,
		SentAt:         &result.SentAt,
	}
	if err := s.db.WithContext(ctx).Create(email).Error; err != nil {
		return nil, fmt.Errorf("failed to store sent email: %w", err)
	}
	return email, nil
}

// RecordSequenceSend stores the email produced by a sequence step send.
func (s *EmailService) RecordSequenceSend(ctx context.Context, enrollmentID, to, subject, body string, result *mailer.Result) error {
	email := &models.Email{
		Subject:        subject,
		Body:           body,
		SenderEmail:    s.SenderAddress(),
		RecipientEmail: to,
		Status:         models.EmailStatusSent,
		MessageID:      result.MessageID,
		EnrollmentID:   enrollmentID,
		SentAt:         &result.SentAt,
	}
	return s.db.WithContext(ctx).Create(email).Error
}

// StoreInbound files a fetched message into the inbox, deduplicated by
// Message-ID. Returns whether a new row was created.
func (s *EmailService) StoreInbound(ctx context.Context, m utils.FetchedMail) (bool, error) {
	if m.MessageID != "" {
		var existing models.Email
		err := s.db.WithContext(ctx).
			Where("message_id = ? AND status = ?", m.MessageID, models.EmailStatusInbox).
			First(&existing).Error
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, err
		}
	}

	body := m.BodyHTML
	if body == "" {
		body = m.BodyText
	}
	email := &models.Email{
		Subject:        m.Subject,
		Body:           body,
		SenderEmail:    m.From,
		RecipientEmail: m.To,
		Status:         models.EmailStatusInbox,
		MessageID:      m.MessageID,
	}
	if err := s.db.WithContext(ctx).Create(email).Error; err != nil {
		return false, fmt.Errorf("failed to store inbound email: %w", err)
	}
	return true, nil
}

// SenderAddress is the configured From address used for outbound mail.
func (s *EmailService) SenderAddress() string {
	return s.from
}
