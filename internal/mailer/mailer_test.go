package mailer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	base := errors.New("boom")

	assert.False(t, IsPermanent(Transient(base)))
	assert.True(t, IsPermanent(Permanent(base)))

	// Unclassified errors default to retryable.
	assert.False(t, IsPermanent(base))

	// Classification survives wrapping.
	assert.True(t, IsPermanent(fmt.Errorf("send failed: %w", Permanent(base))))
}

func TestSendErrorUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := Transient(base)

	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, Permanent(base).Error(), "permanent")
}

func TestSMTPClassify(t *testing.T) {
	rejected := &smtp.SMTPError{Code: 550, Message: "mailbox unavailable"}
	assert.True(t, IsPermanent(classify(rejected)))

	deferred := &smtp.SMTPError{Code: 451, Message: "try again later"}
	assert.False(t, IsPermanent(classify(deferred)))

	assert.False(t, IsPermanent(classify(errors.New("connection reset"))))
}
