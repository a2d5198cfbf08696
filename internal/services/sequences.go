package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"bison/internal/models"
)

// SequenceService owns sequence definitions. Definitions are immutable
// once created; there is no update path.
type SequenceService struct {
	db *gorm.DB
}

func NewSequenceService(db *gorm.DB) *SequenceService {
	return &SequenceService{db: db}
}

// StepInput is one step of a definition being created.
type StepInput struct {
	Order     int    `json:"order" validate:"required,min=1"`
	DelayDays int    `json:"delay_days" validate:"min=0"`
	Subject   string `json:"subject" validate:"required"`
	Body      string `json:"body" validate:"required"`
}

// Create validates and stores a new sequence definition.
func (s *SequenceService) Create(ctx context.Context, name, description string, steps []StepInput) (*models.Sequence, error) {
	if err := validateSteps(steps); err != nil {
		return nil, err
	}

	seq := &models.Sequence{
		Name:        name,
		Description: description,
	}
	for _, in := range steps {
		seq.Steps = append(seq.Steps, models.SequenceStep{
			Order:     in.Order,
			DelayDays: in.DelayDays,
			Subject:   in.Subject,
			Body:      in.Body,
		})
	}
	sort.Slice(seq.Steps, func(i, j int) bool { return seq.Steps[i].Order < seq.Steps[j].Order })

	if err := s.db.WithContext(ctx).Create(seq).Error; err != nil {
		return nil, fmt.Errorf("failed to create sequence: %w", err)
	}
	return seq, nil
}

// Get loads a definition with its steps in send order.
func (s *SequenceService) Get(ctx context.Context, id string) (*models.Sequence, error) {
	seq, err := models.GetSequenceByID(id, s.db.WithContext(ctx))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSequenceNotFound
		}
		return nil, err
	}
	return seq, nil
}

// validateSteps enforces the definition invariant: at least one step,
// unique orders forming a contiguous ascending run starting at 1, and
// non-negative delays.
func validateSteps(steps []StepInput) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: at least one step is required", ErrInvalidSteps)
	}

	seen := make(map[int]bool, len(steps))
	for _, step := range steps {
		if step.Order < 1 {
			return fmt.Errorf("%w: step order %d is below 1", ErrInvalidSteps, step.Order)
		}
		if seen[step.Order] {
			return fmt.Errorf("%w: duplicate step order %d", ErrInvalidSteps, step.Order)
		}
		seen[step.Order] = true
		if step.DelayDays < 0 {
			return fmt.Errorf("%w: step %d has negative delay", ErrInvalidSteps, step.Order)
		}
	}
	for i := 1; i <= len(steps); i++ {
		if !seen[i] {
			return fmt.Errorf("%w: step orders must be contiguous from 1, missing %d", ErrInvalidSteps, i)
		}
	}
	return nil
}
