package services

import "errors"

var (
	// ErrInvalidSteps is returned when a sequence definition has no steps,
	// duplicate orders, or orders that are not contiguous from 1.
	ErrInvalidSteps = errors.New("invalid sequence steps")

	// ErrInvalidEmail is returned for malformed contact addresses.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrSequenceNotFound is returned for unknown sequence ids.
	ErrSequenceNotFound = errors.New("sequence not found")

	// ErrEnrollmentNotFound is returned when no enrollment exists for a
	// (sequence, contact) pair.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrAlreadyEnrolled is returned when the pair already has a
	// non-terminal enrollment.
	ErrAlreadyEnrolled = errors.New("contact already enrolled in sequence")

	// ErrInvalidTransition is returned for transitions the enrollment
	// state machine does not allow, e.g. resuming a stopped enrollment.
	ErrInvalidTransition = errors.New("invalid enrollment state transition")
)
