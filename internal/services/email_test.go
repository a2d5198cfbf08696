package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bison/internal/mailer"
	"bison/internal/models"
	"bison/internal/testutil"
	"bison/internal/utils"
)

type recordingSender struct {
	sent []string
	err  error
}

func (r *recordingSender) Send(_ context.Context, to, _, _ string) (*mailer.Result, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.sent = append(r.sent, to)
	return &mailer.Result{MessageID: "<rec@bison>", SentAt: time.Now()}, nil
}

func TestEmailSendStoresSentRecord(t *testing.T) {
	db := testutil.OpenDB(t)
	sender := &recordingSender{}
	svc := NewEmailService(db, sender, "drip@bison.dev")

	email, err := svc.Send(context.Background(), "a@x.com", "hello", "body")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com"}, sender.sent)
	assert.Equal(t, models.EmailStatusSent, email.Status)
	assert.Equal(t, "drip@bison.dev", email.SenderEmail)
	assert.Equal(t, "<rec@bison>", email.MessageID)
	require.NotNil(t, email.SentAt)
}

func TestEmailSendRejectsMalformedAddress(t *testing.T) {
	db := testutil.OpenDB(t)
	sender := &recordingSender{}
	svc := NewEmailService(db, sender, "drip@bison.dev")

	_, err := svc.Send(context.Background(), "not-an-address", "s", "b")
	assert.ErrorIs(t, err, ErrInvalidEmail)
	assert.Empty(t, sender.sent)
}

func TestEmailSendTransportFailureNotStored(t *testing.T) {
	db := testutil.OpenDB(t)
	sender := &recordingSender{err: mailer.Transient(assert.AnError)}
	svc := NewEmailService(db, sender, "drip@bison.dev")

	_, err := svc.Send(context.Background(), "a@x.com", "s", "b")
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Email{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmailListFiltersByFolder(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := NewEmailService(db, &recordingSender{}, "drip@bison.dev")
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Email{Subject: "in", Status: models.EmailStatusInbox}).Error)
	require.NoError(t, db.Create(&models.Email{Subject: "out", Status: models.EmailStatusSent}).Error)

	inbox, err := svc.List(ctx, models.EmailStatusInbox)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "in", inbox[0].Subject)

	archived, err := svc.List(ctx, models.EmailStatusArchived)
	require.NoError(t, err)
	assert.Empty(t, archived)
}

func TestEmailUpdateRefreshesTimestamp(t *testing.T) {
	db := testutil.OpenDB(t)

	email := &models.Email{Subject: "s", SenderEmail: "a@x.com", RecipientEmail: "b@x.com", Status: models.EmailStatusInbox}
	require.NoError(t, db.Create(email).Error)
	created := email.UpdatedAt

	require.NoError(t, db.Model(email).Update("status", models.EmailStatusArchived).Error)

	var reloaded models.Email
	require.NoError(t, db.First(&reloaded, "id = ?", email.ID).Error)
	assert.Equal(t, models.EmailStatusArchived, reloaded.Status)
	assert.True(t, reloaded.UpdatedAt.After(created))
}

func TestStoreInboundDeduplicatesByMessageID(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := NewEmailService(db, &recordingSender{}, "drip@bison.dev")
	ctx := context.Background()

	mail := utils.FetchedMail{
		MessageID: "<abc@remote>",
		From:      "x@y.com",
		To:        "me@bison.dev",
		Subject:   "re: hello",
		BodyText:  "plain",
		BodyHTML:  "<p>rich</p>",
	}

	created, err := svc.StoreInbound(ctx, mail)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.StoreInbound(ctx, mail)
	require.NoError(t, err)
	assert.False(t, created)

	inbox, err := svc.List(ctx, models.EmailStatusInbox)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	// HTML body wins when both parts are present.
	assert.Equal(t, "<p>rich</p>", inbox[0].Body)
}
