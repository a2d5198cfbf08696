package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/badoux/checkmail"
	"gorm.io/gorm"

	"bison/internal/models"
	"bison/internal/utils/logger"
)

// EnrollmentService is the enrollment tracker. It exclusively owns
// enrollment lifecycle: every mutation goes through a per-pair lock so a
// scheduler-driven advance and an administrative pause/stop cannot race.
type EnrollmentService struct {
	db    *gorm.DB
	locks *keyMutex
	clock Clock
	log   *logger.Logger
}

func NewEnrollmentService(db *gorm.DB, clock Clock) *EnrollmentService {
	if clock == nil {
		clock = SystemClock()
	}
	return &EnrollmentService{
		db:    db,
		locks: newKeyMutex(64),
		clock: clock,
		log:   logger.New("ENROLLMENTS"),
	}
}

func pairKey(sequenceID, email string) string {
	return sequenceID + "|" + email
}

// delayDuration converts whole delay days to a duration. Step due times
// are computed from the actual send time of the previous step, so no
// drift accumulates across steps.
func delayDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

// Enroll adds a contact to a sequence at step 1. A contact may hold at
// most one non-terminal enrollment per sequence; terminal rows from
// earlier runs do not block re-enrollment.
func (s *EnrollmentService) Enroll(ctx context.Context, sequenceID, email string) (*models.Enrollment, error) {
	if err := checkmail.ValidateFormat(email); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEmail, email)
	}

	seq, err := models.GetSequenceByID(sequenceID, s.db.WithContext(ctx))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSequenceNotFound
		}
		return nil, err
	}
	if len(seq.Steps) == 0 {
		return nil, fmt.Errorf("%w: sequence %s has no steps", ErrInvalidSteps, sequenceID)
	}

	unlock := s.locks.Lock(pairKey(sequenceID, email))
	defer unlock()

	var existing models.Enrollment
	err = s.db.WithContext(ctx).
		Where("sequence_id = ? AND contact_email = ? AND status IN ?",
			sequenceID, email, []models.EnrollmentStatus{models.EnrollmentStatusActive, models.EnrollmentStatusPaused}).
		First(&existing).Error
	if err == nil {
		return nil, ErrAlreadyEnrolled
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	contact, err := s.getOrCreateContact(ctx, email)
	if err != nil {
		return nil, err
	}

	next := s.clock.Now().Add(delayDuration(seq.Steps[0].DelayDays))
	enrollment := &models.Enrollment{
		SequenceID:   sequenceID,
		ContactEmail: email,
		ContactID:    contact.ID,
		CurrentStep:  1,
		Status:       models.EnrollmentStatusActive,
		NextSendAt:   &next,
	}
	if err := s.db.WithContext(ctx).Create(enrollment).Error; err != nil {
		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}

	s.log.Info("enrolled %s in sequence %s, first send at %s", email, sequenceID, next.Format(time.RFC3339))
	return enrollment, nil
}

// GetStatus returns the most recent enrollment for the pair.
func (s *EnrollmentService) GetStatus(ctx context.Context, sequenceID, email string) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := s.db.WithContext(ctx).
		Where("sequence_id = ? AND contact_email = ?", sequenceID, email).
		Order("created_at DESC").
		First(&enrollment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, err
	}
	return &enrollment, nil
}

// DueEnrollments returns active enrollments whose next send time has
// elapsed, ordered by (next_send_at, created_at) so dispatch order is
// deterministic. Sequence steps and contact are preloaded for rendering.
func (s *EnrollmentService) DueEnrollments(ctx context.Context, now time.Time) ([]models.Enrollment, error) {
	var due []models.Enrollment
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_send_at <= ?", models.EnrollmentStatusActive, now).
		Order("next_send_at ASC, created_at ASC").
		Preload("Sequence.Steps", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("step_order ASC")
		}).
		Preload("Contact").
		Find(&due).Error
	return due, err
}

// Advance moves an enrollment forward after a successful send. Invoked
// only by the dispatcher. The status is re-checked under the pair lock:
// if a stop landed while the send was in flight the advance is discarded,
// terminal states are never overridden.
func (s *EnrollmentService) Advance(ctx context.Context, sequenceID, email string, sentAt time.Time) error {
	unlock := s.locks.Lock(pairKey(sequenceID, email))
	defer unlock()

	enrollment, err := s.GetStatus(ctx, sequenceID, email)
	if err != nil {
		return err
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		s.log.Debug("discarding advance for %s/%s: status is %s", sequenceID, email, enrollment.Status)
		return nil
	}

	seq, err := models.GetSequenceByID(sequenceID, s.db.WithContext(ctx))
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"last_interaction": sentAt,
		"send_attempts":    0,
	}
	if enrollment.CurrentStep >= len(seq.Steps) {
		updates["status"] = models.EnrollmentStatusCompleted
		updates["next_send_at"] = nil
		s.log.Info("enrollment %s completed sequence %s", email, sequenceID)
	} else {
		nextStep := seq.Steps[enrollment.CurrentStep] // zero-based: the step after CurrentStep
		next := sentAt.Add(delayDuration(nextStep.DelayDays))
		updates["current_step"] = enrollment.CurrentStep + 1
		updates["next_send_at"] = next
	}

	return s.db.WithContext(ctx).Model(enrollment).Updates(updates).Error
}

// Pause freezes an active enrollment. The frozen next send time is kept
// as-is and resumes verbatim.
func (s *EnrollmentService) Pause(ctx context.Context, sequenceID, email string) error {
	return s.transition(ctx, sequenceID, email, func(e *models.Enrollment) (map[string]interface{}, error) {
		switch e.Status {
		case models.EnrollmentStatusPaused:
			return nil, nil // idempotent
		case models.EnrollmentStatusActive:
			return map[string]interface{}{"status": models.EnrollmentStatusPaused}, nil
		default:
			return nil, fmt.Errorf("%w: cannot pause %s enrollment", ErrInvalidTransition, e.Status)
		}
	})
}

// Resume reactivates a paused enrollment. Policy: the next send time
// frozen at pause is preserved; if it elapsed during the pause the step
// is due on the next dispatch cycle.
func (s *EnrollmentService) Resume(ctx context.Context, sequenceID, email string) error {
	return s.transition(ctx, sequenceID, email, func(e *models.Enrollment) (map[string]interface{}, error) {
		switch e.Status {
		case models.EnrollmentStatusActive:
			return nil, nil // idempotent
		case models.EnrollmentStatusPaused:
			return map[string]interface{}{"status": models.EnrollmentStatusActive}, nil
		default:
			return nil, fmt.Errorf("%w: cannot resume %s enrollment", ErrInvalidTransition, e.Status)
		}
	})
}

// Stop terminates an enrollment. Idempotent, and a no-op on completed
// enrollments so a terminal status is never rewritten.
func (s *EnrollmentService) Stop(ctx context.Context, sequenceID, email, reason string) error {
	return s.transition(ctx, sequenceID, email, func(e *models.Enrollment) (map[string]interface{}, error) {
		if e.Status.IsTerminal() {
			return nil, nil
		}
		return map[string]interface{}{
			"status":       models.EnrollmentStatusStopped,
			"next_send_at": nil,
			"stop_reason":  reason,
		}, nil
	})
}

// MarkSendFailure records a failed send attempt. Permanent failures and
// retry exhaustion force the enrollment to stopped; transient failures
// leave it untouched apart from the attempt counter so the next polling
// cycle retries. Returns whether the enrollment was stopped.
func (s *EnrollmentService) MarkSendFailure(ctx context.Context, sequenceID, email, reason string, permanent bool, maxAttempts int) (bool, error) {
	stopped := false
	err := s.transition(ctx, sequenceID, email, func(e *models.Enrollment) (map[string]interface{}, error) {
		if e.Status != models.EnrollmentStatusActive {
			return nil, nil
		}
		attempts := e.SendAttempts + 1
		if permanent || attempts >= maxAttempts {
			stopped = true
			s.log.Warn("stopping enrollment %s/%s after send failure: %s", sequenceID, email, reason)
			return map[string]interface{}{
				"status":        models.EnrollmentStatusStopped,
				"next_send_at":  nil,
				"send_attempts": attempts,
				"stop_reason":   reason,
			}, nil
		}
		return map[string]interface{}{"send_attempts": attempts}, nil
	})
	return stopped, err
}

func (s *EnrollmentService) transition(ctx context.Context, sequenceID, email string, fn func(*models.Enrollment) (map[string]interface{}, error)) error {
	unlock := s.locks.Lock(pairKey(sequenceID, email))
	defer unlock()

	enrollment, err := s.GetStatus(ctx, sequenceID, email)
	if err != nil {
		return err
	}
	updates, err := fn(enrollment)
	if err != nil {
		return err
	}
	if updates == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(enrollment).Updates(updates).Error
}

func (s *EnrollmentService) getOrCreateContact(ctx context.Context, email string) (*models.Contact, error) {
	var contact models.Contact
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&contact).Error
	if err == nil {
		return &contact, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	contact = models.Contact{Email: email}
	if err := s.db.WithContext(ctx).Create(&contact).Error; err != nil {
		return nil, fmt.Errorf("failed to create contact: %w", err)
	}
	return &contact, nil
}
