package mailer

import (
	"context"
	"errors"
	"time"
)

// Result reports a successful delivery handoff.
type Result struct {
	MessageID string
	SentAt    time.Time
}

// Sender is the mail transport consumed by the dispatcher and the send
// endpoint. Implementations classify failures with Transient/Permanent
// so callers can decide between retrying and stopping.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) (*Result, error)
}

// SendError wraps a transport failure with its retry classification.
type SendError struct {
	Err       error
	Permanent bool
}

func (e *SendError) Error() string {
	if e.Permanent {
		return "permanent send failure: " + e.Err.Error()
	}
	return "transient send failure: " + e.Err.Error()
}

func (e *SendError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(err error) error {
	return &SendError{Err: err, Permanent: false}
}

// Permanent marks err as not retryable; the enrollment is stopped.
func Permanent(err error) error {
	return &SendError{Err: err, Permanent: true}
}

// IsPermanent reports whether err carries a permanent classification.
// Unclassified errors are treated as transient and retried.
func IsPermanent(err error) bool {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Permanent
	}
	return false
}
